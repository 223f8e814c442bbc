// Package tracker は、課題とクラスの状態を管理し、外部から取得した課題を統合します。
package tracker

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/stsysd/studyflow/model"
	"github.com/stsysd/studyflow/store"
)

// Options はTrackerの設定です。
type Options struct {
	Notifier Notifier
	Renderer Renderer
	Logger   *zap.Logger
	// Now は現在時刻を返します。nilの場合はtime.Nowです。
	Now func() time.Time
	// Location は優先度の計算に使うタイムゾーンです。nilの場合はtime.Localです。
	Location *time.Location
	// PreserveCompletion がtrueの場合、再同期の際に完了済みの状態を引き継ぎます。
	// 既定では取得元の状態で完全に置き換えます。
	PreserveCompletion bool
}

// Tracker は課題とクラスのコレクションを保持します。
// メモリ上の状態が正で、変更のたびにストアへ全件を書き込みます。
// 書き込みに失敗してもメモリ上の状態は正しいまま残ります。
type Tracker struct {
	mu          sync.Mutex
	store       store.Store
	assignments []*model.Assignment
	classes     []*model.Class

	notifier Notifier
	renderer Renderer
	// pending はロック中に発生した通知で、unlockで送ります。
	pending  []notice
	logger   *zap.Logger
	now      func() time.Time
	loc      *time.Location
	preserve bool
}

// New はストアから状態を読み込んでTrackerを作成します。
func New(ctx context.Context, st store.Store, opts Options) (*Tracker, error) {
	t := &Tracker{
		store:    st,
		notifier: opts.Notifier,
		renderer: opts.Renderer,
		logger:   opts.Logger,
		now:      opts.Now,
		loc:      opts.Location,
		preserve: opts.PreserveCompletion,
	}
	if t.notifier == nil {
		t.notifier = Notifiers(nil)
	}
	if t.renderer == nil {
		t.renderer = nopRenderer{}
	}
	if t.logger == nil {
		t.logger = zap.NewNop()
	}
	if t.now == nil {
		t.now = time.Now
	}
	if t.loc == nil {
		t.loc = time.Local
	}
	if err := t.Reload(ctx); err != nil {
		return nil, err
	}
	return t, nil
}

// Reload はストアから状態を読み込み直します。
func (t *Tracker) Reload(ctx context.Context) error {
	assignments, err := t.store.GetAssignments(ctx)
	if err != nil {
		return fmt.Errorf("failed to load assignments: %w", err)
	}
	classes, err := t.store.GetClasses(ctx)
	if err != nil {
		return fmt.Errorf("failed to load classes: %w", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.assignments = lo.Filter(assignments, func(a *model.Assignment, _ int) bool { return a != nil })
	t.classes = lo.Filter(classes, func(c *model.Class, _ int) bool { return c != nil })
	return nil
}

// Now はTrackerの現在時刻をLocationで返します。
func (t *Tracker) Now() time.Time {
	return t.now().In(t.loc)
}

// Location は優先度の計算に使うタイムゾーンを返します。
func (t *Tracker) Location() *time.Location {
	return t.loc
}

// Notify は通知を送ります。
func (t *Tracker) Notify(message string, severity Severity) {
	t.notifier.Notify(message, severity)
}

// Reconcile は取得元srcの課題をすべてbatchで置き換えます。
//
// srcの既存の課題を取り除き、batchを追加し、期限日で安定ソートしてから保存します。
// 表示の更新はこの呼び出しにつき1回だけ通知します。
// 同じbatchで何度呼び出しても結果は変わりません。
// 他の取得元の課題と手動の課題には影響しません。
func (t *Tracker) Reconcile(ctx context.Context, src model.Source, batch []*model.Assignment) error {
	render := false
	t.mu.Lock()
	defer t.unlock(&render)

	var completed map[string]bool
	if t.preserve {
		completed = make(map[string]bool)
		for _, a := range t.assignments {
			if a.Source == src && a.Completed {
				completed[a.ID] = true
			}
		}
	}

	next := lo.Filter(t.assignments, func(a *model.Assignment, _ int) bool {
		return a.Source != src
	})
	seen := make(map[string]bool, len(batch))
	for _, item := range batch {
		if item == nil || seen[item.ID] {
			continue
		}
		seen[item.ID] = true
		a := *item
		a.Source = src
		if completed[a.ID] {
			a.Completed = true
		}
		next = append(next, &a)
	}
	sortByDueDate(next)
	t.assignments = next

	render = true
	t.logger.Debug("reconciled assignments",
		zap.String("source", string(src)),
		zap.Int("batch", len(batch)),
		zap.Int("total", len(next)),
	)
	return t.persistAssignments(ctx)
}

type notice struct {
	message  string
	severity Severity
}

// unlock はt.muを外してから、ロック中に溜めた通知を送ります。
// renderがtrueの場合は表示の更新も通知します。
// 通知を受けた側がTrackerを読み直せるように、ロックの外で呼び出します。
func (t *Tracker) unlock(render *bool) {
	pending := t.pending
	t.pending = nil
	t.mu.Unlock()

	for _, n := range pending {
		t.notifier.Notify(n.message, n.severity)
	}
	if *render {
		t.renderer.RenderNeeded()
	}
}

// sortByDueDate は期限日(YYYY-MM-DD)の昇順に安定ソートします。
func sortByDueDate(assignments []*model.Assignment) {
	sort.SliceStable(assignments, func(i, j int) bool {
		return assignments[i].DueDate < assignments[j].DueDate
	})
}

// persistAssignments は課題を全件保存します。t.muを保持して呼び出します。
// 失敗の通知はunlockで送ります。
func (t *Tracker) persistAssignments(ctx context.Context) error {
	if err := t.store.SetAssignments(ctx, t.assignments); err != nil {
		t.reportPersistError(err)
		return fmt.Errorf("failed to save assignments: %w", err)
	}
	return nil
}

// persistClasses はクラスを全件保存します。t.muを保持して呼び出します。
func (t *Tracker) persistClasses(ctx context.Context) error {
	if err := t.store.SetClasses(ctx, t.classes); err != nil {
		t.reportPersistError(err)
		return fmt.Errorf("failed to save classes: %w", err)
	}
	return nil
}

func (t *Tracker) reportPersistError(err error) {
	if errors.Is(err, model.ErrQuotaExceeded) {
		t.logger.Error("storage quota exceeded", zap.Error(err))
		t.pending = append(t.pending, notice{"Storage is full. Recent changes may not survive a restart.", SeverityError})
		return
	}
	t.logger.Error("failed to persist state", zap.Error(err))
	t.pending = append(t.pending, notice{"Failed to save changes.", SeverityError})
}

// RemoveSource は取得元srcの課題をすべて削除します。連携の解除に使います。
func (t *Tracker) RemoveSource(ctx context.Context, src model.Source) (int, error) {
	if !src.IsExternal() {
		return 0, model.NewValidationError("source", "only external sources can be removed")
	}
	render := true
	t.mu.Lock()
	defer t.unlock(&render)

	before := len(t.assignments)
	t.assignments = lo.Filter(t.assignments, func(a *model.Assignment, _ int) bool {
		return a.Source != src
	})
	removed := before - len(t.assignments)
	return removed, t.persistAssignments(ctx)
}
