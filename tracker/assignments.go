package tracker

import (
	"context"
	"slices"
	"strings"

	"github.com/paul-mannino/go-fuzzywuzzy"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/stsysd/studyflow/model"
)

// DefaultSearchThreshold はSearchで一致とみなす既定のスコアです。
const DefaultSearchThreshold = 60

// Assignments はすべての課題のコピーを期限日順で返します。
func (t *Tracker) Assignments() []*model.Assignment {
	t.mu.Lock()
	defer t.mu.Unlock()
	return cloneAssignments(t.assignments)
}

// Assignment は指定されたIDの課題のコピーを返します。
func (t *Tracker) Assignment(id string) (*model.Assignment, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	a, _, ok := t.findAssignment(id)
	if !ok {
		return nil, model.ErrAssignmentNotFound
	}
	c := *a
	return &c, nil
}

// AssignmentsForClass はクラスに属する課題を返します。
// ClassIDで一致する課題があればそれを、なければ(name, subject)で一致する課題を返し、ClassIDを補います。
func (t *Tracker) AssignmentsForClass(ctx context.Context, classID string) ([]*model.Assignment, error) {
	render := false
	t.mu.Lock()
	defer t.unlock(&render)
	c, _, ok := t.findClass(classID)
	if !ok {
		return nil, model.ErrClassNotFound
	}
	return cloneAssignments(t.assignmentsForClass(ctx, c)), nil
}

// CreateAssignment は入力値を検証して手動の課題を追加します。
// 検証に失敗した場合はストアに何も書き込みません。
func (t *Tracker) CreateAssignment(ctx context.Context, in model.AssignmentInput) (*model.Assignment, error) {
	a, err := model.NewManualAssignment(in, t.now())
	if err != nil {
		return nil, err
	}

	render := false
	t.mu.Lock()
	defer t.unlock(&render)
	if a.ClassID != "" {
		if _, _, ok := t.findClass(a.ClassID); !ok {
			return nil, model.NewValidationError("class_id", "class does not exist")
		}
	}
	t.assignments = append(t.assignments, a)
	sortByDueDate(t.assignments)
	t.linkLocked()
	t.logger.Info("created assignment", zap.String("id", a.ID), zap.String("title", a.Title))

	render = true
	err = t.persistAssignments(ctx)
	c := *a
	return &c, err
}

// UpdateAssignment は手動の課題を編集します。
// 外部から同期された課題はmodel.ErrReadOnlyAssignmentを返し、変更しません。
func (t *Tracker) UpdateAssignment(ctx context.Context, id string, in model.AssignmentInput) (*model.Assignment, error) {
	render := false
	t.mu.Lock()
	defer t.unlock(&render)

	a, _, ok := t.findAssignment(id)
	if !ok {
		return nil, model.ErrAssignmentNotFound
	}
	if in.ClassID != "" {
		if _, _, ok := t.findClass(in.ClassID); !ok {
			return nil, model.NewValidationError("class_id", "class does not exist")
		}
	}
	if err := a.Apply(in); err != nil {
		return nil, err
	}
	sortByDueDate(t.assignments)
	t.linkLocked()

	render = true
	err := t.persistAssignments(ctx)
	c := *a
	return &c, err
}

// ToggleCompleted は課題の完了状態を切り替えます。取得元に関係なく切り替えられますが、
// 同期された課題の状態は次回の同期で取得元の状態に戻ります。
func (t *Tracker) ToggleCompleted(ctx context.Context, id string) (*model.Assignment, error) {
	render := false
	t.mu.Lock()
	defer t.unlock(&render)

	a, _, ok := t.findAssignment(id)
	if !ok {
		return nil, model.ErrAssignmentNotFound
	}
	a.Completed = !a.Completed

	render = true
	err := t.persistAssignments(ctx)
	c := *a
	return &c, err
}

// DeleteAssignment は手動の課題を削除します。
// 外部から同期された課題はmodel.ErrReadOnlyAssignmentを返し、ストアは変更しません。
func (t *Tracker) DeleteAssignment(ctx context.Context, id string) error {
	render := false
	t.mu.Lock()
	defer t.unlock(&render)

	a, i, ok := t.findAssignment(id)
	if !ok {
		return model.ErrAssignmentNotFound
	}
	if !a.Deletable() {
		return model.ErrReadOnlyAssignment
	}
	t.assignments = slices.Delete(t.assignments, i, i+1)

	render = true
	return t.persistAssignments(ctx)
}

// SearchResult は検索結果の1件です。
type SearchResult struct {
	Assignment *model.Assignment `json:"assignment"`
	Score      int               `json:"score"`
}

// Search はタイトルがqueryにあいまい一致する課題をスコアの高い順に返します。
// 部分文字列として含む場合は最高スコアです。
func (t *Tracker) Search(query string, threshold int) []SearchResult {
	q := strings.ToLower(strings.TrimSpace(query))
	if threshold <= 0 {
		threshold = DefaultSearchThreshold
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	var results []SearchResult
	for _, a := range t.assignments {
		title := strings.ToLower(a.Title)
		score := 100
		if q != "" && !strings.Contains(title, q) {
			score = fuzzy.Ratio(q, title)
		}
		if score >= threshold {
			c := *a
			results = append(results, SearchResult{Assignment: &c, Score: score})
		}
	}
	slices.SortStableFunc(results, func(a, b SearchResult) int {
		return b.Score - a.Score
	})
	return results
}

// Stats は課題の集計です。
type Stats struct {
	Total      int                    `json:"total"`
	Completed  int                    `json:"completed"`
	Pending    int                    `json:"pending"`
	Overdue    int                    `json:"overdue"`
	ByCategory map[model.Category]int `json:"by_category"`
	BySource   map[model.Source]int   `json:"by_source"`
}

// Stats は現在時刻を基準に課題を集計します。カテゴリ別の件数は未完了の課題だけを数えます。
func (t *Tracker) Stats() Stats {
	now := t.Now()

	t.mu.Lock()
	defer t.mu.Unlock()

	s := Stats{
		Total:      len(t.assignments),
		ByCategory: make(map[model.Category]int, len(model.Categories)),
		BySource:   lo.CountValuesBy(t.assignments, func(a *model.Assignment) model.Source { return a.Source }),
	}
	for _, c := range model.Categories {
		s.ByCategory[c] = 0
	}
	for _, a := range t.assignments {
		if a.Completed {
			s.Completed++
			continue
		}
		s.Pending++
		category := model.CategoryFor(a, now)
		s.ByCategory[category]++
		if category == model.CategoryOverdue {
			s.Overdue++
		}
	}
	return s
}

func (t *Tracker) findAssignment(id string) (*model.Assignment, int, bool) {
	for i, a := range t.assignments {
		if a.ID == id {
			return a, i, true
		}
	}
	return nil, -1, false
}

func cloneAssignments(in []*model.Assignment) []*model.Assignment {
	return lo.Map(in, func(a *model.Assignment, _ int) *model.Assignment {
		c := *a
		return &c
	})
}
