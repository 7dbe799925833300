package server

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/jzcodes/narrator/internal/home"
	"github.com/jzcodes/narrator/internal/jobstore"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	dir := t.TempDir()
	h, err := home.New(filepath.Join(dir, "home"))
	if err != nil {
		t.Fatalf("home: %v", err)
	}
	srv, err := New(Config{Home: h})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return srv
}

func TestNewAppliesDefaults(t *testing.T) {
	srv := newTestServer(t)
	if srv.Addr() != ":8282" {
		t.Fatalf("expected default listen addr :8282, got %s", srv.Addr())
	}
	if srv.IsRunning() {
		t.Fatal("expected new server to not be running")
	}
}

func TestWorkerConfigPrefersDynamicSettings(t *testing.T) {
	srv := newTestServer(t)

	store, err := jobstore.Open(filepath.Join(t.TempDir(), "jobs.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer store.Close()
	srv.store = store

	ctx := context.Background()

	// With no settings rows, the static config supplies the values.
	cfg := srv.workerConfig(ctx)
	if cfg.QuietHours.Start != "" || cfg.DelayBetweenBooks != 0 {
		t.Fatalf("expected empty static defaults, got %+v", cfg)
	}

	if err := store.Set(ctx, "queue.quiet_hours_start", "22:00", ""); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := store.Set(ctx, "queue.quiet_hours_end", "06:00", ""); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := store.Set(ctx, "queue.delay_between_books_seconds", 30, ""); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := store.Set(ctx, "tts.default_voice", "bf_emma", ""); err != nil {
		t.Fatalf("set: %v", err)
	}

	cfg = srv.workerConfig(ctx)
	if cfg.QuietHours.Start != "22:00" || cfg.QuietHours.End != "06:00" {
		t.Fatalf("expected quiet hours from settings, got %+v", cfg.QuietHours)
	}
	if cfg.DelayBetweenBooks != 30*time.Second {
		t.Fatalf("expected 30s delay from settings, got %s", cfg.DelayBetweenBooks)
	}
	if cfg.DefaultVoice != "bf_emma" {
		t.Fatalf("expected voice from settings, got %s", cfg.DefaultVoice)
	}
}
