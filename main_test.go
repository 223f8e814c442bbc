package main

import (
	"context"
	"testing"

	"go.uber.org/zap/zaptest"

	"github.com/stsysd/studyflow/config"
	"github.com/stsysd/studyflow/model"
)

func TestNewLogger(t *testing.T) {
	for _, level := range []string{"debug", "info", "WARN", "error"} {
		if _, err := newLogger(level); err != nil {
			t.Errorf("Expected level %s to be accepted, got %v", level, err)
		}
	}
	if _, err := newLogger("chatty"); err == nil {
		t.Error("Expected error for unknown level")
	}
}

func TestOpenStoreBackends(t *testing.T) {
	for _, backend := range []string{config.BackendMemory, config.BackendSQLite, config.BackendBolt} {
		t.Run(backend, func(t *testing.T) {
			cfg := &config.Config{Backend: backend, DataDir: t.TempDir(), QuotaBytes: 1 << 20}
			st, err := openStore(context.Background(), cfg)
			if err != nil {
				t.Fatalf("Failed to open store: %v", err)
			}
			defer st.Close()

			if err := st.SetPreference(context.Background(), "theme", "dark"); err != nil {
				t.Fatalf("Failed to set preference: %v", err)
			}
			v, ok, err := st.GetPreference(context.Background(), "theme")
			if err != nil || !ok || v != "dark" {
				t.Errorf("Expected dark, got %q (ok=%v, err=%v)", v, ok, err)
			}
		})
	}
}

func TestNewAppWithoutSources(t *testing.T) {
	cfg := &config.Config{Backend: config.BackendMemory, QuotaBytes: 1 << 20}
	a, err := newApp(context.Background(), cfg, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("Failed to build app: %v", err)
	}
	defer a.store.Close()

	if got := a.syncer.Sources(); len(got) != 0 {
		t.Errorf("Expected no sources, got %v", got)
	}
	if _, err := a.syncer.Sync(context.Background(), model.SourceCanvas); err == nil {
		t.Error("Expected sync of an unconfigured source to fail")
	}
}

func TestNewAppWithSources(t *testing.T) {
	cfg := &config.Config{
		Backend:           config.BackendMemory,
		QuotaBytes:        1 << 20,
		CanvasURL:         "https://canvas.example.edu",
		CanvasToken:       "token",
		GoogleAccessToken: "access",
	}
	a, err := newApp(context.Background(), cfg, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("Failed to build app: %v", err)
	}
	defer a.store.Close()

	got := a.syncer.Sources()
	if len(got) != 2 || got[0] != model.SourceCanvas || got[1] != model.SourceGoogle {
		t.Errorf("Expected [canvas google], got %v", got)
	}
	if a.canvas == nil {
		t.Error("Expected canvas adapter to be kept for verify")
	}
}
