package api

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/stsysd/studyflow/tracker"
)

// DefaultFeedSize はFeedが保持する通知の既定の件数です。
const DefaultFeedSize = 50

// Notification は通知フィードの1件です。
type Notification struct {
	ID        uint64           `json:"id"`
	Message   string           `json:"message"`
	Severity  tracker.Severity `json:"severity"`
	CreatedAt time.Time        `json:"created_at"`
}

// Feed は最近の通知と再描画の回数を保持します。
// tracker.Notifierとtracker.Rendererを実装し、クライアントはポーリングで変化を知ります。
type Feed struct {
	mu      sync.Mutex
	items   []Notification
	size    int
	nextID  uint64
	now     func() time.Time
	renders atomic.Uint64
}

// NewFeed は最大size件の通知を保持するFeedを作成します。
func NewFeed(size int, now func() time.Time) *Feed {
	if size <= 0 {
		size = DefaultFeedSize
	}
	if now == nil {
		now = time.Now
	}
	return &Feed{size: size, now: now}
}

// Notify は通知を追加します。古い通知から捨てられます。
func (f *Feed) Notify(message string, severity tracker.Severity) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	f.items = append(f.items, Notification{
		ID:        f.nextID,
		Message:   message,
		Severity:  severity,
		CreatedAt: f.now(),
	})
	if over := len(f.items) - f.size; over > 0 {
		f.items = append(f.items[:0:0], f.items[over:]...)
	}
}

// Since はIDがsinceより大きい通知を古い順に返します。
func (f *Feed) Since(since uint64) []Notification {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []Notification{}
	for _, n := range f.items {
		if n.ID > since {
			out = append(out, n)
		}
	}
	return out
}

// RenderNeeded は再描画の回数を1つ進めます。
func (f *Feed) RenderNeeded() {
	f.renders.Add(1)
}

// Revision は再描画の回数を返します。
func (f *Feed) Revision() uint64 {
	return f.renders.Load()
}
