package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// ErrNoDefault is returned when no default value exists for a config key.
var ErrNoDefault = errors.New("no default exists")

// Entry is one dynamic settings-table row: a key, its current value, and
// a human-readable description shown by `narrator api settings list`.
type Entry struct {
	Key         string `json:"key"`
	Value       any    `json:"value"`
	Description string `json:"description"`
}

// Store is the dynamic override layer backing the "settings" table.
// It is implemented by the job store, not by this package, to avoid
// config depending on the persistence layer; callers reach it through
// svcctx.
type Store interface {
	Get(ctx context.Context, key string) (*Entry, error)
	Set(ctx context.Context, key string, value any, description string) error
	List(ctx context.Context) ([]Entry, error)
}

// DefaultConfig returns the static configuration used when no YAML file
// and no environment overrides are present.
func DefaultConfig() *Config {
	return &Config{
		TTS: TTSConfig{
			BaseURL:        "http://localhost:8880",
			Voice:          "af_heart",
			StartupTimeout: 300,
			WarmupAttempts: 3,
			WarmupDelay:    15,
			MaxRetries:     5,
			RestInterval:   10,
			RestDuration:   5,
			Cooldown:       1.0,
			CrossfadeMS:    50,
		},
		Chunker: ChunkerConfig{
			TokenLimit:    250,
			TokenFloor:    80,
			CharsPerToken: 3.5,
		},
		M4B: M4BConfig{
			AACBitrate: "128k",
			Cleanup:    true,
		},
		Library: LibraryConfig{
			Root:      "",
			OutputDir: "",
		},
		Queue: QueueConfig{
			QuietHoursStart:   "",
			QuietHoursEnd:     "",
			DelayBetweenBooks: 0,
		},
		Server: ServerConfig{
			ListenAddr: ":8282",
		},
		APIKeys: map[string]string{},
	}
}

// DefaultEntries returns the default dynamic-settings rows. These are
// seeded into the job store's settings table on first run; unlike
// DefaultConfig, they're the knobs the HTTP API is allowed to mutate at
// runtime: quiet hours, delay between books, default voice.
func DefaultEntries() []Entry {
	d := DefaultConfig()
	return []Entry{
		{
			Key:         "queue.quiet_hours_start",
			Value:       d.Queue.QuietHoursStart,
			Description: "Wall-clock HH:MM the worker stops dequeueing new jobs",
		},
		{
			Key:         "queue.quiet_hours_end",
			Value:       d.Queue.QuietHoursEnd,
			Description: "Wall-clock HH:MM the worker resumes dequeueing",
		},
		{
			Key:         "queue.delay_between_books_seconds",
			Value:       d.Queue.DelayBetweenBooks,
			Description: "Pause inserted before processing each job",
		},
		{
			Key:         "tts.default_voice",
			Value:       d.TTS.Voice,
			Description: "Voice used for jobs that don't specify one",
		},
	}
}

// SeedDefaults seeds default configuration entries into the store. It is
// idempotent: existing entries are not overwritten.
func SeedDefaults(ctx context.Context, store Store, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}

	defaults := DefaultEntries()
	seeded, skipped := 0, 0

	for _, entry := range defaults {
		existing, err := store.Get(ctx, entry.Key)
		if err != nil {
			return fmt.Errorf("failed to check key %q: %w", entry.Key, err)
		}
		if existing != nil {
			skipped++
			continue
		}
		if err := store.Set(ctx, entry.Key, entry.Value, entry.Description); err != nil {
			return fmt.Errorf("failed to seed key %q: %w", entry.Key, err)
		}
		seeded++
	}

	if seeded > 0 {
		logger.Info("seeded default config entries", "seeded", seeded, "skipped", skipped)
	}
	return nil
}

// GetDefault returns the default value for a config key, or nil if none
// exists.
func GetDefault(key string) *Entry {
	for _, entry := range DefaultEntries() {
		if entry.Key == key {
			return &entry
		}
	}
	return nil
}

// ResetToDefault resets a config key to its default value.
func ResetToDefault(ctx context.Context, store Store, key string) error {
	def := GetDefault(key)
	if def == nil {
		return fmt.Errorf("%w for key %q", ErrNoDefault, key)
	}
	return store.Set(ctx, key, def.Value, def.Description)
}
