// Package syncer は、外部の取得元との同期とオフラインキューの再実行を管理します。
package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/stsysd/studyflow/model"
	"github.com/stsysd/studyflow/source"
	"github.com/stsysd/studyflow/store"
	"github.com/stsysd/studyflow/tracker"
)

// DefaultInterval は自動同期の既定の間隔です。
const DefaultInterval = 30 * time.Minute

// ErrNotConfigured は取得元のアダプターが設定されていない場合のエラーです。
var ErrNotConfigured = errors.New("source is not configured")

// Result は1回の同期の結果です。
type Result struct {
	Source   model.Source           `json:"source"`
	Count    int                    `json:"count"`
	Courses  int                    `json:"courses"`
	Failures []source.CourseFailure `json:"failures,omitempty"`
	// Queued は一時的なエラーのため同期をオフラインキューに積んだことを表します。
	Queued   bool      `json:"queued"`
	SyncedAt time.Time `json:"synced_at"`
}

// Options はSyncerの設定です。
type Options struct {
	Logger *zap.Logger
	// Now は現在時刻を返します。nilの場合はtime.Nowです。
	Now func() time.Time
}

// Syncer はアダプターから課題を取得し、Trackerに統合します。
// 取得は取得元ごとに並行に実行でき、統合はTrackerの中で直列化されます。
type Syncer struct {
	tracker  *tracker.Tracker
	store    store.Store
	adapters map[model.Source]source.Adapter
	logger   *zap.Logger
	now      func() time.Time

	// queueMu はオフラインキューの読み書きを直列化します。
	queueMu sync.Mutex
}

// New は新しいSyncerを作成します。
func New(tr *tracker.Tracker, st store.Store, adapters []source.Adapter, opts Options) *Syncer {
	s := &Syncer{
		tracker:  tr,
		store:    st,
		adapters: make(map[model.Source]source.Adapter, len(adapters)),
		logger:   opts.Logger,
		now:      opts.Now,
	}
	for _, a := range adapters {
		if a != nil {
			s.adapters[a.Source()] = a
		}
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// Sources は設定されている取得元を返します。
func (s *Syncer) Sources() []model.Source {
	var out []model.Source
	for _, src := range model.ExternalSources {
		if _, ok := s.adapters[src]; ok {
			out = append(out, src)
		}
	}
	return out
}

// Sync は取得元srcの課題を取得し、統合します。
//
// 認証エラーは再試行せずに再接続を促し、既存の課題は変更しません。
// 一時的なエラーはオフラインキューに積み、接続が戻った後に再実行します。
// 一部のコースの失敗は結果に記録し、取得できた課題だけを統合します。
func (s *Syncer) Sync(ctx context.Context, src model.Source) (*Result, error) {
	adapter, ok := s.adapters[src]
	if !ok {
		return nil, fmt.Errorf("%s: %w", src, ErrNotConfigured)
	}
	name := displayName(src)
	logger := s.logger.With(zap.String("source", string(src)))

	s.tracker.Notify(fmt.Sprintf("Syncing %s assignments...", name), tracker.SeverityInfo)
	started := s.now()

	batch, err := adapter.Fetch(ctx)
	if err != nil {
		return s.handleFetchError(ctx, src, err, logger)
	}

	result := &Result{
		Source:   src,
		Count:    len(batch.Assignments),
		Courses:  batch.Courses,
		Failures: batch.Failures,
		SyncedAt: started,
	}
	if err := s.tracker.Reconcile(ctx, src, batch.Assignments); err != nil {
		// メモリ上の状態は更新済み。保存の失敗はTrackerが通知している
		logger.Error("failed to persist reconciled assignments", zap.Error(err))
		return result, err
	}
	if _, err := s.tracker.LinkAssignmentsToClasses(ctx); err != nil {
		logger.Warn("failed to link assignments to classes", zap.Error(err))
	}
	if err := s.store.SetPreference(ctx, LastSyncKey(src), started.UTC().Format(time.RFC3339)); err != nil {
		logger.Warn("failed to record last sync time", zap.Error(err))
	}

	logger.Info("synced assignments",
		zap.Int("count", result.Count),
		zap.Int("courses", result.Courses),
		zap.Int("failed_courses", len(result.Failures)),
		zap.Duration("elapsed", s.now().Sub(started)),
	)
	s.tracker.Notify(fmt.Sprintf("Synced %d assignments from %d %s courses", result.Count, result.Courses-len(result.Failures), name), tracker.SeveritySuccess)
	if len(result.Failures) > 0 {
		s.tracker.Notify(fmt.Sprintf("%d %s courses could not be synced", len(result.Failures), name), tracker.SeverityWarning)
	}
	return result, nil
}

func (s *Syncer) handleFetchError(ctx context.Context, src model.Source, err error, logger *zap.Logger) (*Result, error) {
	name := displayName(src)
	if ctx.Err() != nil {
		logger.Info("sync canceled", zap.Error(err))
		return nil, err
	}

	var serr *source.Error
	errors.As(err, &serr)

	switch source.KindOf(err) {
	case source.KindAuth:
		logger.Warn("authentication failed", zap.Error(err))
		message := "Please reconnect your account."
		if serr != nil && serr.Status == http.StatusForbidden {
			message = "Permission denied. Check your account permissions."
		}
		s.tracker.Notify(fmt.Sprintf("%s sync failed. %s", name, message), tracker.SeverityError)
		return nil, err

	case source.KindNotFound:
		logger.Warn("upstream resource not found", zap.Error(err))
		s.tracker.Notify(fmt.Sprintf("%s sync failed. The configured address was not found.", name), tracker.SeverityError)
		return nil, err

	case source.KindTransient:
		logger.Warn("upstream unavailable, postponing sync", zap.Error(err))
		if qerr := s.enqueueSync(ctx, src); qerr != nil {
			logger.Error("failed to queue sync", zap.Error(qerr))
			s.tracker.Notify(fmt.Sprintf("%s sync failed. Please check your connection and try again.", name), tracker.SeverityError)
			return nil, errors.Join(err, qerr)
		}
		message := "No connection. Will retry when online."
		if serr != nil && serr.Status == http.StatusTooManyRequests {
			message = "Rate limit exceeded. Will retry later."
		}
		s.tracker.Notify(fmt.Sprintf("%s sync postponed. %s", name, message), tracker.SeverityWarning)
		return &Result{Source: src, Queued: true}, err

	default:
		logger.Error("sync failed", zap.Error(err))
		s.tracker.Notify(fmt.Sprintf("%s sync failed. Please check your connection and try again.", name), tracker.SeverityError)
		return nil, err
	}
}

// SyncAll は設定されているすべての取得元を並行に同期します。
// 1つの取得元の失敗は他の取得元の同期を止めません。
func (s *Syncer) SyncAll(ctx context.Context) ([]*Result, error) {
	sources := s.Sources()
	results := make([]*Result, len(sources))
	errs := make([]error, len(sources))

	var g errgroup.Group
	for i, src := range sources {
		g.Go(func() error {
			results[i], errs[i] = s.Sync(ctx, src)
			return nil
		})
	}
	g.Wait()
	return results, errors.Join(errs...)
}

// Disconnect は取得元srcの課題をすべて削除し、最終同期時刻を消去します。
func (s *Syncer) Disconnect(ctx context.Context, src model.Source) (int, error) {
	removed, err := s.tracker.RemoveSource(ctx, src)
	if err != nil {
		return removed, err
	}
	if err := s.store.SetPreference(ctx, LastSyncKey(src), ""); err != nil {
		s.logger.Warn("failed to clear last sync time", zap.Error(err))
	}
	s.tracker.Notify(fmt.Sprintf("Disconnected %s and removed %d assignments", displayName(src), removed), tracker.SeverityInfo)
	return removed, nil
}

// LastSync は取得元srcの最終同期時刻を返します。
func (s *Syncer) LastSync(ctx context.Context, src model.Source) (time.Time, bool, error) {
	v, ok, err := s.store.GetPreference(ctx, LastSyncKey(src))
	if err != nil || !ok || v == "" {
		return time.Time{}, false, err
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("invalid last sync time %q: %w", v, err)
	}
	return t, true, nil
}

// LastSyncKey は最終同期時刻を保存する設定名です。
func LastSyncKey(src model.Source) string {
	return "lastSync:" + string(src)
}

func displayName(src model.Source) string {
	switch src {
	case model.SourceCanvas:
		return "Canvas"
	case model.SourceGoogle:
		return "Google Classroom"
	}
	return string(src)
}

func (s *Syncer) enqueueSync(ctx context.Context, src model.Source) error {
	action, ok := model.SyncAction(src)
	if !ok {
		return fmt.Errorf("no queued action for source %s", src)
	}
	return s.Enqueue(ctx, action, nil)
}

// Enqueue はオフラインキューに操作を追加します。
// 同じ操作がすでにキューにある場合は何もしません。
func (s *Syncer) Enqueue(ctx context.Context, action model.Action, data json.RawMessage) error {
	if _, ok := action.Source(); !ok {
		return model.NewValidationError("action", fmt.Sprintf("unknown action %q", action))
	}
	s.queueMu.Lock()
	defer s.queueMu.Unlock()

	queue, err := s.store.GetQueue(ctx)
	if err != nil {
		return err
	}
	for _, item := range queue {
		if item.Action == action {
			s.logger.Debug("action already queued", zap.String("action", string(action)))
			return nil
		}
	}
	queue = append(queue, model.QueuedAction{
		Action:    action,
		Data:      data,
		Timestamp: s.now(),
	})
	return s.store.SetQueue(ctx, queue)
}

// Queue はオフラインキューの内容を返します。
func (s *Syncer) Queue(ctx context.Context) ([]model.QueuedAction, error) {
	s.queueMu.Lock()
	defer s.queueMu.Unlock()
	return s.store.GetQueue(ctx)
}
