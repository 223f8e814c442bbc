package runn

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/k1LoW/runn"
	"go.uber.org/zap/zaptest"

	"github.com/stsysd/studyflow/api"
	"github.com/stsysd/studyflow/config"
	"github.com/stsysd/studyflow/db"
	"github.com/stsysd/studyflow/store"
	"github.com/stsysd/studyflow/syncer"
	"github.com/stsysd/studyflow/tracker"
)

func TestRouter(t *testing.T) {
	t.Setenv("STUDYFLOW_API_KEY", "test-token")
	t.Setenv("STUDYFLOW_DATA_DIR", t.TempDir())
	t.Setenv("STUDYFLOW_TIMEZONE", "UTC")

	// 設定の読み込み
	cfg, err := config.NewConfig()
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	ctx := context.Background()
	logger := zaptest.NewLogger(t)

	// SQLiteストアの初期化（マイグレーション関数を渡す）
	backend, err := store.NewSQLiteBackend(ctx, cfg.DataDir, db.Migrate)
	if err != nil {
		t.Fatalf("Failed to initialize SQLite store: %v", err)
	}
	st := store.NewKVStore(backend, store.WithQuota(cfg.QuotaBytes))
	defer st.Close()

	feed := api.NewFeed(api.DefaultFeedSize, nil)
	tr, err := tracker.New(ctx, st, tracker.Options{
		Notifier: feed,
		Renderer: feed,
		Logger:   logger,
		Location: cfg.Location,
	})
	if err != nil {
		t.Fatalf("Failed to create tracker: %v", err)
	}
	sy := syncer.New(tr, st, nil, syncer.Options{Logger: logger})

	// サーバーインスタンスの作成
	server := api.NewServer(tr, sy, feed, cfg, logger)

	ts := httptest.NewServer(server)
	t.Cleanup(func() {
		ts.Close()
	})
	opts := []runn.Option{
		runn.T(t),
		runn.Runner("req", ts.URL),
		runn.Var("api_key", "test-token"),
	}
	o, err := runn.Load("./books/*.yml", opts...)
	if err != nil {
		t.Fatal(err)
	}
	if err := o.RunN(ctx); err != nil {
		t.Fatal(err)
	}
}
