package syncer

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/stsysd/studyflow/model"
)

// ReplayResult はオフラインキューの再実行の結果です。
type ReplayResult struct {
	Replayed int       `json:"replayed"`
	Failed   int       `json:"failed"`
	Results  []*Result `json:"results"`
}

// Replay はオフラインキューの操作を追加された順に再実行します。
// 1回の再実行で同じ取得元を同期するのは1度だけです。
// 再実行した操作はキューから取り除き、再実行中に追加された操作は残します。
// 再実行が一時的なエラーで失敗した操作はキューに残ります。
// 統合は冪等なので、同じ操作を何度再実行しても結果は変わりません。
func (s *Syncer) Replay(ctx context.Context) (*ReplayResult, error) {
	s.queueMu.Lock()
	snapshot, err := s.store.GetQueue(ctx)
	s.queueMu.Unlock()
	if err != nil {
		return nil, err
	}

	out := &ReplayResult{}
	if len(snapshot) == 0 {
		return out, nil
	}
	s.logger.Info("replaying offline queue", zap.Int("count", len(snapshot)))

	synced := map[model.Source]bool{}
	requeued := map[model.Action]bool{}
	for _, item := range snapshot {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		src, ok := item.Action.Source()
		if !ok {
			s.logger.Warn("dropping unknown queued action", zap.String("action", string(item.Action)))
			out.Failed++
			continue
		}
		if synced[src] {
			continue
		}
		synced[src] = true

		result, err := s.Sync(ctx, src)
		out.Replayed++
		if err != nil {
			s.logger.Warn("failed to replay queued action",
				zap.String("action", string(item.Action)),
				zap.Time("queued_at", item.Timestamp),
				zap.Error(err),
			)
			out.Failed++
		}
		if result != nil {
			out.Results = append(out.Results, result)
			if result.Queued {
				requeued[item.Action] = true
			}
		}
	}

	return out, s.removeReplayed(ctx, snapshot, requeued)
}

// removeReplayed はsnapshotに含まれる操作をキューから取り除きます。
// キューは追加のみなので、先頭からsnapshotと一致する部分を取り除けばよい。
// requeuedに含まれる操作は、一致した部分の最初の1件を残します。
func (s *Syncer) removeReplayed(ctx context.Context, snapshot []model.QueuedAction, requeued map[model.Action]bool) error {
	s.queueMu.Lock()
	defer s.queueMu.Unlock()

	current, err := s.store.GetQueue(ctx)
	if err != nil {
		return err
	}
	n := 0
	for n < len(snapshot) && n < len(current) && sameAction(snapshot[n], current[n]) {
		n++
	}

	seen := map[model.Action]bool{}
	rest := make([]model.QueuedAction, 0, len(current)-n+len(requeued))
	for _, item := range current[:n] {
		if requeued[item.Action] && !seen[item.Action] {
			seen[item.Action] = true
			rest = append(rest, item)
		}
	}
	for _, item := range current[n:] {
		if seen[item.Action] {
			continue
		}
		seen[item.Action] = true
		rest = append(rest, item)
	}
	return s.store.SetQueue(ctx, rest)
}

func sameAction(a, b model.QueuedAction) bool {
	return a.Action == b.Action && a.Timestamp.Equal(b.Timestamp) && string(a.Data) == string(b.Data)
}

// Run はintervalごとにオフラインキューを再実行し、すべての取得元を同期します。
// 開始直後に1回実行し、ctxがキャンセルされるまで続けます。
func (s *Syncer) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = DefaultInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		s.runOnce(ctx)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (s *Syncer) runOnce(ctx context.Context) {
	if _, err := s.Replay(ctx); err != nil && ctx.Err() == nil {
		s.logger.Warn("failed to replay offline queue", zap.Error(err))
	}
	if _, err := s.SyncAll(ctx); err != nil && ctx.Err() == nil {
		s.logger.Warn("auto sync finished with errors", zap.Error(err))
	}
}
