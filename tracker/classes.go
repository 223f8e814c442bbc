package tracker

import (
	"context"
	"slices"

	"go.uber.org/zap"

	"github.com/stsysd/studyflow/model"
)

// Classes はすべてのクラスのコピーを返します。
func (t *Tracker) Classes() []*model.Class {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*model.Class, len(t.classes))
	for i, c := range t.classes {
		cc := *c
		out[i] = &cc
	}
	return out
}

// Class は指定されたIDのクラスのコピーを返します。
func (t *Tracker) Class(id string) (*model.Class, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	c, _, ok := t.findClass(id)
	if !ok {
		return nil, model.ErrClassNotFound
	}
	cc := *c
	return &cc, nil
}

// CreateClass は入力値を検証してクラスを追加し、一致する課題を紐付けます。
func (t *Tracker) CreateClass(ctx context.Context, in model.ClassInput) (*model.Class, error) {
	c, err := model.NewClass(in, t.now())
	if err != nil {
		return nil, err
	}

	render := true
	t.mu.Lock()
	defer t.unlock(&render)
	return t.createClassLocked(ctx, c)
}

func (t *Tracker) createClassLocked(ctx context.Context, c *model.Class) (*model.Class, error) {
	t.classes = append(t.classes, c)
	linked := t.linkLocked()
	err := t.persistClasses(ctx)
	if err == nil && linked {
		err = t.persistAssignments(ctx)
	}
	cc := *c
	return &cc, err
}

// CreateClassFromAssignment は課題の(courseName, subject)からクラスを作成して紐付けます。
// 課題にコース名か科目がない場合と、同じクラスがすでにある場合は検証エラーです。
func (t *Tracker) CreateClassFromAssignment(ctx context.Context, assignmentID string) (*model.Class, error) {
	render := false
	t.mu.Lock()
	defer t.unlock(&render)

	a, _, ok := t.findAssignment(assignmentID)
	if !ok {
		return nil, model.ErrAssignmentNotFound
	}
	if a.CourseName == "" || a.Subject == "" {
		return nil, model.NewValidationError("course_name", "assignment has no course name and subject")
	}
	for _, c := range t.classes {
		if c.Matches(a) {
			return nil, model.NewValidationError("course_name", "class already exists")
		}
	}
	c, err := model.NewClass(model.ClassInput{Name: a.CourseName, Subject: a.Subject, Teacher: a.Teacher, Color: a.CustomColor}, t.now())
	if err != nil {
		return nil, err
	}
	render = true
	return t.createClassLocked(ctx, c)
}

// DeleteClass はクラスを削除します。課題は削除せず、参照しているClassIDを空にします。
func (t *Tracker) DeleteClass(ctx context.Context, id string) error {
	render := false
	t.mu.Lock()
	defer t.unlock(&render)

	_, i, ok := t.findClass(id)
	if !ok {
		return model.ErrClassNotFound
	}
	t.classes = slices.Delete(t.classes, i, i+1)

	orphaned := 0
	for _, a := range t.assignments {
		if a.ClassID == id {
			a.ClassID = ""
			orphaned++
		}
	}
	t.logger.Info("deleted class", zap.String("id", id), zap.Int("orphaned", orphaned))

	render = true
	err := t.persistClasses(ctx)
	if err == nil && orphaned > 0 {
		err = t.persistAssignments(ctx)
	}
	return err
}

// LinkAssignmentsToClasses はClassIDを持たない課題を(courseName, subject)で一致するクラスに紐付けます。
// 変更があった場合だけ保存し、trueを返します。何度呼び出しても結果は同じです。
func (t *Tracker) LinkAssignmentsToClasses(ctx context.Context) (bool, error) {
	render := false
	t.mu.Lock()
	defer t.unlock(&render)

	if !t.linkLocked() {
		return false, nil
	}
	return true, t.persistAssignments(ctx)
}

func (t *Tracker) linkLocked() bool {
	updated := false
	for _, a := range t.assignments {
		if a.ClassID != "" {
			continue
		}
		for _, c := range t.classes {
			if c.Matches(a) {
				a.ClassID = c.ID
				updated = true
				t.logger.Debug("linked assignment to class",
					zap.String("assignment", a.ID),
					zap.String("class", c.ID),
				)
				break
			}
		}
	}
	return updated
}

// AutoDetectClasses はクラスが1つもない場合に、課題の(courseName, subject)の組ごとにクラスを作成します。
// 色と教員は最初に見つかった課題から取り、一致するすべての課題を新しいクラスに紐付けます。
// 既にクラスがある場合は何もしません。
func (t *Tracker) AutoDetectClasses(ctx context.Context) ([]*model.Class, error) {
	render := false
	t.mu.Lock()
	defer t.unlock(&render)

	if len(t.classes) > 0 {
		return nil, nil
	}
	detected, err := t.autoDetectLocked(ctx)
	render = len(detected) > 0

	out := make([]*model.Class, len(detected))
	for i, c := range detected {
		cc := *c
		out[i] = &cc
	}
	return out, err
}

func (t *Tracker) autoDetectLocked(ctx context.Context) ([]*model.Class, error) {
	detected := t.detectLocked()
	if len(detected) == 0 {
		return nil, nil
	}
	err := t.persistClasses(ctx)
	if err == nil {
		err = t.persistAssignments(ctx)
	}
	return detected, err
}

type courseKey struct {
	name, subject string
}

func (t *Tracker) detectLocked() []*model.Class {
	now := t.now()
	byKey := map[courseKey]*model.Class{}
	var detected []*model.Class
	for _, a := range t.assignments {
		if a.CourseName == "" || a.Subject == "" {
			continue
		}
		key := courseKey{a.CourseName, a.Subject}
		if _, ok := byKey[key]; ok {
			continue
		}
		c := &model.Class{
			ID:        model.NewID(),
			Name:      a.CourseName,
			Subject:   a.Subject,
			Teacher:   a.Teacher,
			Color:     a.CustomColor,
			CreatedAt: now,
		}
		if c.Teacher == "" {
			c.Teacher = model.UnknownTeacher
		}
		if c.Color == "" {
			c.Color = model.DefaultClassColor
		}
		byKey[key] = c
		detected = append(detected, c)
	}

	for _, a := range t.assignments {
		if c, ok := byKey[courseKey{a.CourseName, a.Subject}]; ok {
			a.ClassID = c.ID
		}
	}
	t.classes = append(t.classes, detected...)
	if len(detected) > 0 {
		t.logger.Info("auto-detected classes", zap.Int("count", len(detected)))
	}
	return detected
}

// ResolveClasses はクラスがなければ自動検出し、あれば未リンクの課題を紐付けます。
func (t *Tracker) ResolveClasses(ctx context.Context) error {
	render := false
	t.mu.Lock()
	defer t.unlock(&render)

	if len(t.classes) == 0 {
		detected, err := t.autoDetectLocked(ctx)
		render = len(detected) > 0
		return err
	}
	if !t.linkLocked() {
		return nil
	}
	return t.persistAssignments(ctx)
}

// AssignmentCount はクラスに属する課題の数を返します。
// ClassIDで一致する課題を数え、0件の場合だけ(name, subject)の一致で数えます。両方を足すことはしません。
func (t *Tracker) AssignmentCount(ctx context.Context, classID string) int {
	render := false
	t.mu.Lock()
	defer t.unlock(&render)
	c, _, ok := t.findClass(classID)
	if !ok {
		return 0
	}
	return len(t.assignmentsForClass(ctx, c))
}

// assignmentsForClass はクラスに属する課題を返します。t.muを保持して呼び出します。
// (name, subject)で一致した課題にはClassIDを補って保存します。
func (t *Tracker) assignmentsForClass(ctx context.Context, c *model.Class) []*model.Assignment {
	var byID []*model.Assignment
	for _, a := range t.assignments {
		if a.ClassID == c.ID {
			byID = append(byID, a)
		}
	}
	if len(byID) > 0 {
		return byID
	}
	var byPair []*model.Assignment
	for _, a := range t.assignments {
		if a.ClassID == "" && c.Matches(a) {
			byPair = append(byPair, a)
		}
	}
	if len(byPair) > 0 {
		for _, a := range byPair {
			a.ClassID = c.ID
		}
		t.logger.Debug("backfilled class id", zap.String("class", c.ID), zap.Int("count", len(byPair)))
		// 失敗はunlockで通知される
		_ = t.persistAssignments(ctx)
	}
	return byPair
}

// ClassForAssignment は課題が属するクラスを返します。
// ClassIDがあればそれで、なければ(courseName, subject)で探し、見つかった場合はaと保存済みの課題にClassIDを補います。
func (t *Tracker) ClassForAssignment(ctx context.Context, a *model.Assignment) (*model.Class, bool) {
	render := false
	t.mu.Lock()
	defer t.unlock(&render)

	if a.ClassID != "" {
		c, _, ok := t.findClass(a.ClassID)
		if !ok {
			return nil, false
		}
		cc := *c
		return &cc, true
	}
	for _, c := range t.classes {
		if !c.Matches(a) {
			continue
		}
		a.ClassID = c.ID
		if stored, _, ok := t.findAssignment(a.ID); ok && stored.ClassID == "" {
			stored.ClassID = c.ID
			t.logger.Debug("backfilled class id", zap.String("assignment", a.ID), zap.String("class", c.ID))
			_ = t.persistAssignments(ctx)
		}
		cc := *c
		return &cc, true
	}
	return nil, false
}

func (t *Tracker) findClass(id string) (*model.Class, int, bool) {
	for i, c := range t.classes {
		if c.ID == id {
			return c, i, true
		}
	}
	return nil, -1, false
}
