// Package config loads narrator's static configuration (YAML + environment)
// and hot-reloads it via fsnotify. A second, dynamic layer — key/value overrides
// persisted in the job store's settings table — lets the HTTP API mutate
// a handful of knobs (quiet hours, delay between books, default voice) at
// runtime without a restart; see Store and defaults.go.
package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// TTSConfig configures the remote neural TTS endpoint and the retry/warm-up
// semantics of the TTSClient.
type TTSConfig struct {
	BaseURL        string  `mapstructure:"base_url"`
	APIKey         string  `mapstructure:"api_key"`
	Voice          string  `mapstructure:"voice"`
	StartupTimeout int     `mapstructure:"startup_timeout_seconds"`
	WarmupAttempts int     `mapstructure:"warmup_attempts"`
	WarmupDelay    int     `mapstructure:"warmup_delay_seconds"`
	MaxRetries     int     `mapstructure:"max_retries"`
	RestInterval   int     `mapstructure:"rest_interval"`
	RestDuration   int     `mapstructure:"rest_duration_seconds"`
	Cooldown       float64 `mapstructure:"cooldown_seconds"`
	CrossfadeMS    int     `mapstructure:"crossfade_ms"`
}

// ChunkerConfig configures text chunking.
type ChunkerConfig struct {
	TokenLimit    int     `mapstructure:"token_limit"`
	TokenFloor    int     `mapstructure:"token_floor"`
	CharsPerToken float64 `mapstructure:"chars_per_token"`
}

// M4BConfig configures the transcode/mux pipeline.
type M4BConfig struct {
	AACBitrate string `mapstructure:"aac_bitrate"`
	Cleanup    bool   `mapstructure:"cleanup"`
}

// LibraryConfig locates source books and finished output.
type LibraryConfig struct {
	Root      string `mapstructure:"root"`
	OutputDir string `mapstructure:"output_dir"`
}

// QueueConfig configures scheduling behavior. These values are
// also seeded into the dynamic settings layer so the API can override them
// without a restart; the YAML value only supplies the initial default.
type QueueConfig struct {
	QuietHoursStart    string `mapstructure:"quiet_hours_start"`
	QuietHoursEnd      string `mapstructure:"quiet_hours_end"`
	DelayBetweenBooks  int    `mapstructure:"delay_between_books_seconds"`
}

// ServerConfig configures the HTTP/SSE surface.
type ServerConfig struct {
	ListenAddr string `mapstructure:"listen_addr"`
}

// Config is the full static configuration tree, loaded from YAML and
// NARRATOR_-prefixed environment variables.
type Config struct {
	TTS     TTSConfig     `mapstructure:"tts"`
	Chunker ChunkerConfig `mapstructure:"chunker"`
	M4B     M4BConfig     `mapstructure:"m4b"`
	Library LibraryConfig `mapstructure:"library"`
	Queue   QueueConfig   `mapstructure:"queue"`
	Server  ServerConfig  `mapstructure:"server"`

	// APIKeys holds named secrets, each possibly a ${ENV_VAR} reference,
	// resolved through ResolveAPIKey. Nothing outside the tests reads this
	// map yet: TTS.APIKey is a separate field, resolved with
	// ResolveEnvVars.
	APIKeys map[string]string `mapstructure:"api_keys"`
}

// ResolveAPIKey returns the named API key with any ${ENV_VAR} reference
// expanded.
func (c *Config) ResolveAPIKey(name string) string {
	if c == nil {
		return ""
	}
	return ResolveEnvVars(c.APIKeys[name])
}

// Manager handles loading and hot-reloading configuration.
type Manager struct {
	mu        sync.RWMutex
	config    *Config
	callbacks []func(*Config)
}

// NewManager creates a new config manager and loads initial config.
func NewManager(cfgFile string) (*Manager, error) {
	cm := &Manager{
		callbacks: make([]func(*Config), 0),
	}

	if err := cm.initViper(cfgFile); err != nil {
		return nil, err
	}

	cfg, err := cm.load()
	if err != nil {
		return nil, err
	}
	cm.config = cfg

	return cm, nil
}

// initViper sets up viper with defaults and config file.
func (cm *Manager) initViper(cfgFile string) error {
	defaults := DefaultConfig()
	viper.SetDefault("tts", defaults.TTS)
	viper.SetDefault("chunker", defaults.Chunker)
	viper.SetDefault("m4b", defaults.M4B)
	viper.SetDefault("library", defaults.Library)
	viper.SetDefault("queue", defaults.Queue)
	viper.SetDefault("server", defaults.Server)

	viper.SetEnvPrefix("NARRATOR")
	viper.AutomaticEnv()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME/.narrator")
	}

	if err := viper.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	return nil
}

// load parses the current viper state into a Config struct.
func (cm *Manager) load() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

// Get returns the current configuration (thread-safe).
func (cm *Manager) Get() *Config {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.config
}

// OnChange registers a callback for config changes.
func (cm *Manager) OnChange(fn func(*Config)) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.callbacks = append(cm.callbacks, fn)
}

// WatchConfig enables hot-reloading of configuration.
func (cm *Manager) WatchConfig() {
	viper.OnConfigChange(func(e fsnotify.Event) {
		cfg, err := cm.load()
		if err != nil {
			return
		}

		cm.mu.Lock()
		cm.config = cfg
		callbacks := make([]func(*Config), len(cm.callbacks))
		copy(callbacks, cm.callbacks)
		cm.mu.Unlock()

		for _, fn := range callbacks {
			fn(cfg)
		}
	})
	viper.WatchConfig()
}

// ResolveEnvVars expands ${ENV_VAR} references in a string.
func ResolveEnvVars(value string) string {
	if value == "" {
		return value
	}
	pattern := regexp.MustCompile(`\$\{([^}]+)\}`)
	return pattern.ReplaceAllStringFunc(value, func(match string) string {
		varName := match[2 : len(match)-1]
		return os.Getenv(varName)
	})
}

// WriteDefault writes the default configuration to the specified path.
func WriteDefault(path string) error {
	cfg := DefaultConfig()
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := []byte(`# narrator configuration
# tts.api_key uses ${ENV_VAR} syntax to reference environment variables, e.g.
# export NARRATOR_TTS_API_KEY=xxx

`)
	return os.WriteFile(path, append(header, data...), 0o644)
}
