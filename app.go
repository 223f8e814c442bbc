package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/stsysd/studyflow/api"
	"github.com/stsysd/studyflow/config"
	"github.com/stsysd/studyflow/db"
	"github.com/stsysd/studyflow/source"
	"github.com/stsysd/studyflow/source/canvas"
	"github.com/stsysd/studyflow/source/classroom"
	"github.com/stsysd/studyflow/store"
	"github.com/stsysd/studyflow/syncer"
	"github.com/stsysd/studyflow/tracker"
)

// app はコマンドが共有する依存関係です。
type app struct {
	config  *config.Config
	logger  *zap.Logger
	store   store.Store
	tracker *tracker.Tracker
	syncer  *syncer.Syncer
	feed    *api.Feed
	canvas  *canvas.Adapter
}

// newLogger はレベル名からロガーを作成します。debugの場合は開発用の出力形式です。
func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(strings.ToLower(level))
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	zcfg := zap.NewProductionConfig()
	if lvl == zapcore.DebugLevel {
		zcfg = zap.NewDevelopmentConfig()
	}
	zcfg.Level = zap.NewAtomicLevelAt(lvl)
	return zcfg.Build()
}

// openStore は設定されたバックエンドでストアを開きます。
func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	var backend store.Backend
	var err error
	switch cfg.Backend {
	case config.BackendSQLite:
		backend, err = store.NewSQLiteBackend(ctx, cfg.DataDir, db.Migrate)
	case config.BackendBolt:
		backend, err = store.NewBoltBackend(cfg.DataDir)
	case config.BackendMongo:
		backend, err = store.NewMongoBackend(ctx, cfg.MongoURI, cfg.MongoDatabase)
	case config.BackendMemory:
		backend = store.NewMemoryBackend()
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to initialize %s store: %w", cfg.Backend, err)
	}
	return store.NewKVStore(backend, store.WithQuota(cfg.QuotaBytes)), nil
}

// newApp は設定からストア、Tracker、アダプター、Syncerを組み立てます。
func newApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*app, error) {
	st, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	feed := api.NewFeed(api.DefaultFeedSize, nil)
	tr, err := tracker.New(ctx, st, tracker.Options{
		Notifier:           tracker.Notifiers{tracker.LogNotifier{Logger: logger}, feed},
		Renderer:           feed,
		Logger:             logger.Named("tracker"),
		Location:           cfg.Location,
		PreserveCompletion: cfg.PreserveCompletion,
	})
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("failed to load tracker state: %w", err)
	}

	a := &app{config: cfg, logger: logger, store: st, tracker: tr, feed: feed}
	adapters, err := a.buildAdapters(ctx)
	if err != nil {
		st.Close()
		return nil, err
	}
	a.syncer = syncer.New(tr, st, adapters, syncer.Options{Logger: logger.Named("syncer")})
	return a, nil
}

func (a *app) buildAdapters(ctx context.Context) ([]source.Adapter, error) {
	cfg := a.config
	client := source.NewHTTPClient(source.HTTPOptions{
		Timeout:   cfg.RequestTimeout,
		RateLimit: cfg.RateLimit,
	})

	var adapters []source.Adapter
	if cfg.CanvasConfigured() {
		c, err := canvas.New(canvas.Config{
			BaseURL:  cfg.CanvasURL,
			Token:    cfg.CanvasToken,
			Location: cfg.Location,
			Retry:    source.DefaultRetryPolicy(),
		}, client, a.logger.Named("canvas"))
		if err != nil {
			return nil, fmt.Errorf("failed to configure canvas: %w", err)
		}
		a.canvas = c
		adapters = append(adapters, c)
	}

	creds := classroom.Credentials{
		AccessToken:  cfg.GoogleAccessToken,
		ClientID:     cfg.GoogleClientID,
		ClientSecret: cfg.GoogleClientSecret,
		RefreshToken: cfg.GoogleRefreshToken,
	}
	if creds.Configured() {
		ts, err := classroom.TokenSource(ctx, creds)
		if err != nil {
			return nil, fmt.Errorf("failed to configure google classroom: %w", err)
		}
		g, err := classroom.New(ctx, classroom.Config{
			Endpoint: cfg.ClassroomEndpoint,
			Location: cfg.Location,
			Retry:    source.DefaultRetryPolicy(),
		}, classroom.NewHTTPClient(ts, client), a.logger.Named("classroom"))
		if err != nil {
			return nil, fmt.Errorf("failed to configure google classroom: %w", err)
		}
		adapters = append(adapters, g)
	}

	if len(adapters) == 0 {
		a.logger.Info("no external sources configured; only manual assignments are available")
	}
	return adapters, nil
}

func (a *app) Close() error {
	return errors.Join(a.store.Close(), a.logger.Sync())
}
