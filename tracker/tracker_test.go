package tracker

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/zap/zaptest"

	"github.com/stsysd/studyflow/model"
	"github.com/stsysd/studyflow/store"
)

var testNow = time.Date(2025, 5, 21, 9, 0, 0, 0, time.UTC)

type recorder struct {
	mu       sync.Mutex
	messages []string
	severity []Severity
	renders  atomic.Int32
}

func (r *recorder) Notify(message string, severity Severity) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, message)
	r.severity = append(r.severity, severity)
}

func (r *recorder) RenderNeeded() {
	r.renders.Add(1)
}

func setupTestTracker(t *testing.T, st store.Store, opts Options) (*Tracker, *recorder) {
	t.Helper()
	if st == nil {
		st = store.NewMemoryStore()
	}
	rec := &recorder{}
	opts.Notifier = rec
	opts.Renderer = rec
	opts.Logger = zaptest.NewLogger(t)
	opts.Now = func() time.Time { return testNow }
	opts.Location = time.UTC
	tr, err := New(context.Background(), st, opts)
	if err != nil {
		t.Fatalf("Failed to create tracker: %v", err)
	}
	return tr, rec
}

func synced(src model.Source, id, due string) *model.Assignment {
	return &model.Assignment{
		ID:      model.ExternalID(src, id),
		Title:   fmt.Sprintf("%s %s", src, id),
		DueDate: due,
		Source:  src,
	}
}

func ids(assignments []*model.Assignment) []string {
	out := make([]string, len(assignments))
	for i, a := range assignments {
		out[i] = a.ID
	}
	return out
}

func TestReconcileIsIdempotent(t *testing.T) {
	ctx := context.Background()
	tr, _ := setupTestTracker(t, nil, Options{})
	batch := []*model.Assignment{
		synced(model.SourceCanvas, "1", "2025-05-25"),
		synced(model.SourceCanvas, "2", "2025-05-22"),
	}

	if err := tr.Reconcile(ctx, model.SourceCanvas, batch); err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}
	first := tr.Assignments()
	if err := tr.Reconcile(ctx, model.SourceCanvas, batch); err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}
	second := tr.Assignments()

	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("second reconcile changed the collection (-first +second):\n%s", diff)
	}
	if len(second) != 2 {
		t.Errorf("Expected 2 assignments, got %d", len(second))
	}
}

func TestReconcileIsolatesSources(t *testing.T) {
	ctx := context.Background()
	tr, _ := setupTestTracker(t, nil, Options{})

	manual, err := tr.CreateAssignment(ctx, model.AssignmentInput{Title: "Essay", DueDate: "2025-05-30"})
	if err != nil {
		t.Fatalf("CreateAssignment failed: %v", err)
	}
	google := []*model.Assignment{synced(model.SourceGoogle, "g1", "2025-05-23")}
	if err := tr.Reconcile(ctx, model.SourceGoogle, google); err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}
	before := tr.Assignments()

	canvas := []*model.Assignment{synced(model.SourceCanvas, "c1", "2025-05-24")}
	if err := tr.Reconcile(ctx, model.SourceCanvas, canvas); err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}

	after := tr.Assignments()
	for _, want := range before {
		i := slices.IndexFunc(after, func(a *model.Assignment) bool { return a.ID == want.ID })
		if i < 0 {
			t.Errorf("assignment %s disappeared", want.ID)
			continue
		}
		if diff := cmp.Diff(want, after[i]); diff != "" {
			t.Errorf("assignment %s changed (-want +got):\n%s", want.ID, diff)
		}
	}
	if _, err := tr.Assignment(manual.ID); err != nil {
		t.Errorf("manual assignment lost: %v", err)
	}
}

func TestReconcileReplacesFully(t *testing.T) {
	ctx := context.Background()
	tr, _ := setupTestTracker(t, nil, Options{})

	tr.Reconcile(ctx, model.SourceCanvas, []*model.Assignment{
		synced(model.SourceCanvas, "1", "2025-05-22"),
		synced(model.SourceCanvas, "2", "2025-05-23"),
		synced(model.SourceCanvas, "3", "2025-05-24"),
	})
	tr.Reconcile(ctx, model.SourceCanvas, []*model.Assignment{
		synced(model.SourceCanvas, "2", "2025-05-23"),
		synced(model.SourceCanvas, "4", "2025-05-26"),
	})

	got := ids(tr.Assignments())
	want := []string{"canvas_2", "canvas_4"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("unexpected ids (-want +got):\n%s", diff)
	}

	// 空のバッチは取得元の課題をすべて取り除く
	tr.Reconcile(ctx, model.SourceCanvas, nil)
	if n := len(tr.Assignments()); n != 0 {
		t.Errorf("Expected empty collection, got %d", n)
	}
}

func TestReconcileSortsByDueDate(t *testing.T) {
	ctx := context.Background()
	tr, rec := setupTestTracker(t, nil, Options{})

	tr.CreateAssignment(ctx, model.AssignmentInput{Title: "Manual late", DueDate: "2025-06-10"})
	tr.CreateAssignment(ctx, model.AssignmentInput{Title: "Manual early", DueDate: "2025-05-01"})
	tr.Reconcile(ctx, model.SourceGoogle, []*model.Assignment{
		synced(model.SourceGoogle, "a", "2025-05-30"),
		synced(model.SourceGoogle, "b", "2025-05-15"),
	})
	rendersBefore := rec.renders.Load()
	tr.Reconcile(ctx, model.SourceCanvas, []*model.Assignment{
		synced(model.SourceCanvas, "x", "2025-07-01"),
		synced(model.SourceCanvas, "y", "2025-05-15"),
		synced(model.SourceCanvas, "z", "2025-04-01"),
	})

	all := tr.Assignments()
	for i := 1; i < len(all); i++ {
		if all[i-1].DueDate > all[i].DueDate {
			t.Errorf("not sorted at %d: %s > %s", i, all[i-1].DueDate, all[i].DueDate)
		}
	}
	// 同じ期限日の場合は既存の課題が先（安定ソート）
	i := slices.IndexFunc(all, func(a *model.Assignment) bool { return a.ID == "google_b" })
	j := slices.IndexFunc(all, func(a *model.Assignment) bool { return a.ID == "canvas_y" })
	if i > j {
		t.Errorf("Expected stable order for equal due dates, got google_b at %d and canvas_y at %d", i, j)
	}
	// 1回の統合につき再描画は1回
	if got := rec.renders.Load() - rendersBefore; got != 1 {
		t.Errorf("Expected exactly one render signal, got %d", got)
	}
}

func TestReconcileDropsDuplicateIDs(t *testing.T) {
	ctx := context.Background()
	tr, _ := setupTestTracker(t, nil, Options{})

	tr.Reconcile(ctx, model.SourceCanvas, []*model.Assignment{
		synced(model.SourceCanvas, "1", "2025-05-22"),
		synced(model.SourceCanvas, "1", "2025-05-22"),
		nil,
	})
	if n := len(tr.Assignments()); n != 1 {
		t.Errorf("Expected 1 assignment per external id, got %d", n)
	}
}

func TestReconcileDiscardsLocalCompletionByDefault(t *testing.T) {
	ctx := context.Background()
	batch := []*model.Assignment{synced(model.SourceCanvas, "1", "2025-05-22")}

	tests := []struct {
		name     string
		preserve bool
		want     bool
	}{
		{name: "replace", preserve: false, want: false},
		{name: "preserve", preserve: true, want: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr, _ := setupTestTracker(t, nil, Options{PreserveCompletion: tt.preserve})
			tr.Reconcile(ctx, model.SourceCanvas, batch)
			if _, err := tr.ToggleCompleted(ctx, "canvas_1"); err != nil {
				t.Fatalf("ToggleCompleted failed: %v", err)
			}
			tr.Reconcile(ctx, model.SourceCanvas, batch)

			a, err := tr.Assignment("canvas_1")
			if err != nil {
				t.Fatalf("Assignment failed: %v", err)
			}
			if a.Completed != tt.want {
				t.Errorf("Expected completed=%v, got %v", tt.want, a.Completed)
			}
		})
	}
}

func TestReconcileDoesNotAliasBatch(t *testing.T) {
	ctx := context.Background()
	tr, _ := setupTestTracker(t, nil, Options{})
	item := synced(model.SourceGoogle, "1", "2025-05-22")
	tr.Reconcile(ctx, model.SourceGoogle, []*model.Assignment{item})

	item.Title = "mutated"
	a, _ := tr.Assignment("google_1")
	if a.Title == "mutated" {
		t.Error("tracker must copy batch items")
	}
}

func TestDeleteGuard(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	tr, _ := setupTestTracker(t, st, Options{})

	tr.Reconcile(ctx, model.SourceCanvas, []*model.Assignment{synced(model.SourceCanvas, "1", "2025-05-22")})
	tr.Reconcile(ctx, model.SourceGoogle, []*model.Assignment{synced(model.SourceGoogle, "1", "2025-05-22")})
	manual, _ := tr.CreateAssignment(ctx, model.AssignmentInput{Title: "Essay", DueDate: "2025-05-30"})

	before, _ := st.GetAssignments(ctx)
	for _, id := range []string{"canvas_1", "google_1"} {
		if err := tr.DeleteAssignment(ctx, id); !errors.Is(err, model.ErrReadOnlyAssignment) {
			t.Errorf("DeleteAssignment(%s) = %v, want ErrReadOnlyAssignment", id, err)
		}
	}
	after, _ := st.GetAssignments(ctx)
	if diff := cmp.Diff(before, after); diff != "" {
		t.Errorf("store changed after refused delete (-before +after):\n%s", diff)
	}

	if err := tr.DeleteAssignment(ctx, manual.ID); err != nil {
		t.Fatalf("DeleteAssignment(manual) failed: %v", err)
	}
	if _, err := tr.Assignment(manual.ID); !errors.Is(err, model.ErrAssignmentNotFound) {
		t.Errorf("Expected manual assignment to be deleted, got %v", err)
	}
	if err := tr.DeleteAssignment(ctx, "missing"); !errors.Is(err, model.ErrAssignmentNotFound) {
		t.Errorf("Expected ErrAssignmentNotFound, got %v", err)
	}
}

func TestUpdateAssignment(t *testing.T) {
	ctx := context.Background()
	tr, _ := setupTestTracker(t, nil, Options{})
	tr.Reconcile(ctx, model.SourceCanvas, []*model.Assignment{synced(model.SourceCanvas, "1", "2025-05-22")})
	manual, _ := tr.CreateAssignment(ctx, model.AssignmentInput{Title: "Essay", DueDate: "2025-05-30"})

	if _, err := tr.UpdateAssignment(ctx, "canvas_1", model.AssignmentInput{Title: "x", DueDate: "2025-05-30"}); !errors.Is(err, model.ErrReadOnlyAssignment) {
		t.Errorf("Expected ErrReadOnlyAssignment, got %v", err)
	}

	updated, err := tr.UpdateAssignment(ctx, manual.ID, model.AssignmentInput{Title: "Essay final", DueDate: "2025-05-01", Priority: "high"})
	if err != nil {
		t.Fatalf("UpdateAssignment failed: %v", err)
	}
	if updated.Title != "Essay final" || updated.Priority != model.PriorityHigh {
		t.Errorf("unexpected update result %+v", updated)
	}
	// 期限が変わると並び順も変わる
	if first := tr.Assignments()[0]; first.ID != manual.ID {
		t.Errorf("Expected updated assignment first, got %s", first.ID)
	}

	if _, err := tr.UpdateAssignment(ctx, manual.ID, model.AssignmentInput{Title: "x", DueDate: "2025-05-01", ClassID: "nope"}); !model.IsValidationError(err) {
		t.Errorf("Expected validation error for unknown class, got %v", err)
	}
}

func TestCreateAssignmentValidationLeavesStoreUntouched(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	tr, rec := setupTestTracker(t, st, Options{})

	if _, err := tr.CreateAssignment(ctx, model.AssignmentInput{Title: "", DueDate: "2025-05-30"}); !model.IsValidationError(err) {
		t.Fatalf("Expected validation error, got %v", err)
	}
	if _, err := tr.CreateAssignment(ctx, model.AssignmentInput{Title: "Essay"}); !model.IsValidationError(err) {
		t.Fatalf("Expected validation error, got %v", err)
	}
	stored, _ := st.GetAssignments(ctx)
	if len(stored) != 0 {
		t.Errorf("Expected nothing stored, got %d", len(stored))
	}
	if rec.renders.Load() != 0 {
		t.Errorf("Expected no render signal, got %d", rec.renders.Load())
	}
}

func TestQuotaExceededKeepsMemoryState(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore(store.WithQuota(400))
	tr, rec := setupTestTracker(t, st, Options{})

	batch := make([]*model.Assignment, 0, 20)
	for i := 0; i < 20; i++ {
		a := synced(model.SourceCanvas, fmt.Sprint(i), "2025-05-22")
		a.Description = strings.Repeat("long text ", 10)
		batch = append(batch, a)
	}
	err := tr.Reconcile(ctx, model.SourceCanvas, batch)
	if !errors.Is(err, model.ErrQuotaExceeded) {
		t.Fatalf("Expected ErrQuotaExceeded, got %v", err)
	}
	if n := len(tr.Assignments()); n != 20 {
		t.Errorf("Expected in-memory state to keep 20 assignments, got %d", n)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.severity) == 0 || rec.severity[len(rec.severity)-1] != SeverityError {
		t.Errorf("Expected an error notification, got %v", rec.messages)
	}
}

func TestStatePersistsAcrossTrackers(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	tr, _ := setupTestTracker(t, st, Options{})
	tr.CreateAssignment(ctx, model.AssignmentInput{Title: "Essay", DueDate: "2025-05-30"})
	tr.Reconcile(ctx, model.SourceCanvas, []*model.Assignment{synced(model.SourceCanvas, "1", "2025-05-22")})
	tr.CreateClass(ctx, model.ClassInput{Name: "Biology"})

	reloaded, _ := setupTestTracker(t, st, Options{})
	if diff := cmp.Diff(tr.Assignments(), reloaded.Assignments()); diff != "" {
		t.Errorf("assignments differ after reload (-want +got):\n%s", diff)
	}
	if len(reloaded.Classes()) != 1 {
		t.Errorf("Expected 1 class after reload, got %d", len(reloaded.Classes()))
	}
}

func TestRemoveSource(t *testing.T) {
	ctx := context.Background()
	tr, _ := setupTestTracker(t, nil, Options{})
	tr.CreateAssignment(ctx, model.AssignmentInput{Title: "Essay", DueDate: "2025-05-30"})
	tr.Reconcile(ctx, model.SourceCanvas, []*model.Assignment{
		synced(model.SourceCanvas, "1", "2025-05-22"),
		synced(model.SourceCanvas, "2", "2025-05-23"),
	})

	removed, err := tr.RemoveSource(ctx, model.SourceCanvas)
	if err != nil {
		t.Fatalf("RemoveSource failed: %v", err)
	}
	if removed != 2 || len(tr.Assignments()) != 1 {
		t.Errorf("Expected 2 removed and 1 left, got %d and %d", removed, len(tr.Assignments()))
	}
	if _, err := tr.RemoveSource(ctx, model.SourceManual); !model.IsValidationError(err) {
		t.Errorf("Expected validation error for manual source, got %v", err)
	}
}

func TestStats(t *testing.T) {
	ctx := context.Background()
	tr, _ := setupTestTracker(t, nil, Options{})
	inputs := []model.AssignmentInput{
		{Title: "overdue", DueDate: "2025-05-20"},
		{Title: "today", DueDate: "2025-05-21"},
		{Title: "next week", DueDate: "2025-05-28"},
		{Title: "next month", DueDate: "2025-06-21"},
	}
	for _, in := range inputs {
		if _, err := tr.CreateAssignment(ctx, in); err != nil {
			t.Fatalf("CreateAssignment failed: %v", err)
		}
	}
	done, _ := tr.CreateAssignment(ctx, model.AssignmentInput{Title: "done", DueDate: "2025-05-19"})
	tr.ToggleCompleted(ctx, done.ID)

	s := tr.Stats()
	if s.Total != 5 || s.Completed != 1 || s.Pending != 4 || s.Overdue != 1 {
		t.Errorf("unexpected totals %+v", s)
	}
	want := map[model.Category]int{
		model.CategoryOverdue:      1,
		model.CategoryHighPriority: 1,
		model.CategoryComingUp:     1,
		model.CategoryWorryLater:   1,
	}
	if diff := cmp.Diff(want, s.ByCategory); diff != "" {
		t.Errorf("unexpected categories (-want +got):\n%s", diff)
	}
	if s.BySource[model.SourceManual] != 5 {
		t.Errorf("Expected 5 manual, got %v", s.BySource)
	}
}

func TestSearch(t *testing.T) {
	ctx := context.Background()
	tr, _ := setupTestTracker(t, nil, Options{})
	for _, title := range []string{"Chemistry lab report", "Essay on Rome", "Algebra worksheet"} {
		tr.CreateAssignment(ctx, model.AssignmentInput{Title: title, DueDate: "2025-05-30"})
	}

	results := tr.Search("lab report", 0)
	if len(results) != 1 || results[0].Assignment.Title != "Chemistry lab report" {
		t.Errorf("unexpected substring search results %+v", results)
	}

	results = tr.Search("Esay on Rome", 0)
	if len(results) == 0 || results[0].Assignment.Title != "Essay on Rome" {
		t.Errorf("Expected fuzzy match for typo, got %+v", results)
	}

	if results := tr.Search("", 0); len(results) != 3 {
		t.Errorf("Expected empty query to match all, got %d", len(results))
	}
}

func TestConcurrentReconcilesDoNotInterleave(t *testing.T) {
	ctx := context.Background()
	tr, _ := setupTestTracker(t, nil, Options{})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			tr.Reconcile(ctx, model.SourceCanvas, []*model.Assignment{synced(model.SourceCanvas, "1", "2025-05-22")})
		}()
		go func() {
			defer wg.Done()
			tr.Reconcile(ctx, model.SourceGoogle, []*model.Assignment{
				synced(model.SourceGoogle, "1", "2025-05-23"),
				synced(model.SourceGoogle, "2", "2025-05-24"),
			})
		}()
	}
	wg.Wait()

	got := ids(tr.Assignments())
	want := []string{"canvas_1", "google_1", "google_2"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("unexpected final state (-want +got):\n%s", diff)
	}
}

func TestRendererCanReadBack(t *testing.T) {
	ctx := context.Background()
	var tr *Tracker
	var seen atomic.Int32
	renderer := RendererFunc(func() {
		seen.Store(int32(len(tr.Assignments())))
	})
	tr, err := New(ctx, store.NewMemoryStore(), Options{
		Renderer: renderer,
		Logger:   zaptest.NewLogger(t),
		Now:      func() time.Time { return testNow },
		Location: time.UTC,
	})
	if err != nil {
		t.Fatalf("Failed to create tracker: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		done <- tr.Reconcile(ctx, model.SourceCanvas, []*model.Assignment{
			synced(model.SourceCanvas, "1", "2025-05-22"),
			synced(model.SourceCanvas, "2", "2025-05-23"),
		})
	}()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Reconcile failed: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Reconcile did not return while the renderer read the tracker")
	}
	if got := seen.Load(); got != 2 {
		t.Errorf("Expected renderer to see 2 assignments, got %d", got)
	}

	// 保存の失敗の通知もロックの外で送る
	var notified atomic.Bool
	tr.notifier = NotifierFunc(func(string, Severity) {
		tr.Stats()
		notified.Store(true)
	})
	tr.store = store.NewMemoryStore(store.WithQuota(10))
	go func() {
		_, err := tr.ToggleCompleted(ctx, "canvas_1")
		done <- err
	}()
	select {
	case err := <-done:
		if !errors.Is(err, model.ErrQuotaExceeded) {
			t.Errorf("Expected ErrQuotaExceeded, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("ToggleCompleted did not return while the notifier read the tracker")
	}
	if !notified.Load() {
		t.Error("Expected a persist error notification")
	}
}
