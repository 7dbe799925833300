// Package server hosts the narrator HTTP/SSE surface and the conversion
// worker under one lifecycle: Start opens the job store, seeds runtime
// settings, launches the worker goroutine, and serves the API until the
// context is cancelled.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/jzcodes/narrator/internal/api"
	"github.com/jzcodes/narrator/internal/chunker"
	"github.com/jzcodes/narrator/internal/config"
	"github.com/jzcodes/narrator/internal/eventbus"
	"github.com/jzcodes/narrator/internal/home"
	"github.com/jzcodes/narrator/internal/jobstore"
	"github.com/jzcodes/narrator/internal/library"
	"github.com/jzcodes/narrator/internal/m4b"
	"github.com/jzcodes/narrator/internal/output"
	"github.com/jzcodes/narrator/internal/queuestate"
	"github.com/jzcodes/narrator/internal/server/endpoints"
	"github.com/jzcodes/narrator/internal/svcctx"
	"github.com/jzcodes/narrator/internal/ttsclient"
	"github.com/jzcodes/narrator/internal/worker"
)

// Config holds server configuration.
type Config struct {
	// ListenAddr is the host:port to bind to (default: ":8282").
	ListenAddr string
	// ConfigManager provides configuration with hot-reload support.
	ConfigManager *config.Manager
	// Logger is the structured logger to use.
	Logger *slog.Logger
	// Home is the narrator home directory.
	Home *home.Dir
}

// Server is the main narrator HTTP server. It owns the job store, event
// bus, queue state, and worker lifecycle.
type Server struct {
	httpServer *http.Server
	configMgr  *config.Manager
	logger     *slog.Logger
	home       *home.Dir

	store *jobstore.Store
	bus   *eventbus.Bus
	state *queuestate.State
	wrk   *worker.Worker

	// services holds all core services for context enrichment
	services *svcctx.Services

	// endpoints registry for HTTP routes
	endpointRegistry *api.Registry

	mu      sync.RWMutex
	running bool
}

// New creates a new Server with the given configuration.
func New(cfg Config) (*Server, error) {
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8282"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Home == nil {
		h, err := home.New("")
		if err != nil {
			return nil, fmt.Errorf("resolve home directory: %w", err)
		}
		cfg.Home = h
	}

	s := &Server{
		configMgr: cfg.ConfigManager,
		logger:    cfg.Logger,
		home:      cfg.Home,
		bus:       eventbus.New(),
		state:     queuestate.New(),
	}

	s.endpointRegistry = api.NewRegistry()
	for _, ep := range endpoints.All() {
		s.endpointRegistry.Register(ep)
	}

	mux := http.NewServeMux()
	s.endpointRegistry.RegisterRoutes(mux, s.requireInit)

	s.httpServer = &http.Server{
		Addr:        cfg.ListenAddr,
		Handler:     s.withLogging(s.withServices(mux)),
		ReadTimeout: 30 * time.Second,
		// WriteTimeout would sever long-lived SSE streams, so it is left
		// unset; the event stream is the only unbounded response.
		IdleTimeout: 120 * time.Second,
	}

	return s, nil
}

// Start starts the job store, worker, and HTTP server. It blocks until
// the context is cancelled or a startup error occurs.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New("server already running")
	}
	s.running = true
	s.mu.Unlock()

	if err := s.home.EnsureExists(); err != nil {
		s.setNotRunning()
		return fmt.Errorf("prepare home directory: %w", err)
	}

	store, err := jobstore.Open(s.home.DBPath())
	if err != nil {
		s.setNotRunning()
		return fmt.Errorf("open job store: %w", err)
	}
	s.store = store

	if err := config.SeedDefaults(ctx, store, s.logger); err != nil {
		store.Close()
		s.setNotRunning()
		return fmt.Errorf("seed settings: %w", err)
	}

	cfg := s.currentConfig()

	libraryRoot := cfg.Library.Root
	if libraryRoot == "" {
		libraryRoot = s.home.Path()
	}
	lib := library.NewFolderReader(libraryRoot)

	outputRoot := cfg.Library.OutputDir
	if outputRoot == "" {
		outputRoot = s.home.OutputPath()
	}
	out := output.New(outputRoot)

	tts := ttsclient.New(ttsConfig(cfg, s.logger))

	s.wrk = worker.New(store, s.bus, s.state, tts, out,
		m4b.Options{AACBitrate: cfg.M4B.AACBitrate, Cleanup: cfg.M4B.Cleanup},
		worker.Config{
			QuietHours:        worker.QuietHours{Start: cfg.Queue.QuietHoursStart, End: cfg.Queue.QuietHoursEnd},
			DelayBetweenBooks: time.Duration(cfg.Queue.DelayBetweenBooks) * time.Second,
			DefaultVoice:      cfg.TTS.Voice,
		},
		s.logger,
	)
	s.wrk.SetConfigFunc(s.workerConfig)

	s.services = &svcctx.Services{
		JobStore:    store,
		EventBus:    s.bus,
		QueueState:  s.state,
		Library:     lib,
		Output:      out,
		ConfigStore: store,
		ConfigMgr:   s.configMgr,
		Logger:      s.logger,
		Home:        s.home,
	}

	workerCtx, stopWorker := context.WithCancel(ctx)
	defer stopWorker()

	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		if err := s.wrk.Run(workerCtx); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error("worker stopped", "error", err)
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting HTTP server", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			stopWorker()
			<-workerDone
			_ = s.shutdown()
			return fmt.Errorf("HTTP server error: %w", err)
		}
	}

	stopWorker()
	<-workerDone
	return s.shutdown()
}

// shutdown performs graceful shutdown of the HTTP server and job store.
func (s *Server) shutdown() error {
	s.logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("HTTP server shutdown error", "error", err)
	}

	if s.store != nil {
		if err := s.store.Close(); err != nil {
			s.logger.Error("job store close error", "error", err)
		}
	}

	s.setNotRunning()
	s.logger.Info("server stopped")
	return nil
}

func (s *Server) setNotRunning() {
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
}

// IsRunning returns whether the server is currently running.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// Addr returns the server's listen address.
func (s *Server) Addr() string {
	return s.httpServer.Addr
}

func (s *Server) currentConfig() *config.Config {
	if s.configMgr != nil {
		return s.configMgr.Get()
	}
	return config.DefaultConfig()
}

// workerConfig resolves the scheduling config the worker consults on
// every loop iteration: the dynamic settings layer first, then the
// static config as fallback. Nothing is cached across iterations, so a
// settings change through the API takes effect within one sleep cycle.
func (s *Server) workerConfig(ctx context.Context) worker.Config {
	cfg := s.currentConfig()
	out := worker.Config{
		QuietHours:        worker.QuietHours{Start: cfg.Queue.QuietHoursStart, End: cfg.Queue.QuietHoursEnd},
		DelayBetweenBooks: time.Duration(cfg.Queue.DelayBetweenBooks) * time.Second,
		DefaultVoice:      cfg.TTS.Voice,
	}

	if v, ok := s.settingString(ctx, "queue.quiet_hours_start"); ok {
		out.QuietHours.Start = v
	}
	if v, ok := s.settingString(ctx, "queue.quiet_hours_end"); ok {
		out.QuietHours.End = v
	}
	if v, ok := s.settingInt(ctx, "queue.delay_between_books_seconds"); ok {
		out.DelayBetweenBooks = time.Duration(v) * time.Second
	}
	if v, ok := s.settingString(ctx, "tts.default_voice"); ok && v != "" {
		out.DefaultVoice = v
	}
	return out
}

func (s *Server) settingString(ctx context.Context, key string) (string, bool) {
	entry, err := s.store.Get(ctx, key)
	if err != nil || entry == nil {
		return "", false
	}
	v, ok := entry.Value.(string)
	return v, ok
}

func (s *Server) settingInt(ctx context.Context, key string) (int, bool) {
	entry, err := s.store.Get(ctx, key)
	if err != nil || entry == nil {
		return 0, false
	}
	switch v := entry.Value.(type) {
	case float64: // JSON numbers decode as float64
		return int(v), true
	case int:
		return v, true
	case string:
		if n, err := strconv.Atoi(v); err == nil {
			return n, true
		}
	}
	return 0, false
}

// ttsConfig maps the static configuration onto the TTS client config.
func ttsConfig(cfg *config.Config, logger *slog.Logger) ttsclient.Config {
	return ttsclient.Config{
		BaseURL:        cfg.TTS.BaseURL,
		APIKey:         config.ResolveEnvVars(cfg.TTS.APIKey),
		StartupTimeout: time.Duration(cfg.TTS.StartupTimeout) * time.Second,
		WarmupAttempts: cfg.TTS.WarmupAttempts,
		WarmupDelay:    time.Duration(cfg.TTS.WarmupDelay) * time.Second,
		MaxRetries:     cfg.TTS.MaxRetries,
		RestInterval:   cfg.TTS.RestInterval,
		RestDuration:   time.Duration(cfg.TTS.RestDuration) * time.Second,
		Cooldown:       time.Duration(cfg.TTS.Cooldown * float64(time.Second)),
		CrossfadeMS:    cfg.TTS.CrossfadeMS,
		DefaultVoice:   cfg.TTS.Voice,
		Chunker: chunker.Options{
			TokenLimit:    cfg.Chunker.TokenLimit,
			TokenFloor:    cfg.Chunker.TokenFloor,
			CharsPerToken: cfg.Chunker.CharsPerToken,
		},
		Logger: logger,
	}
}

// withServices wraps a handler to enrich the request context with services.
func (s *Server) withServices(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if s.services != nil {
			ctx = svcctx.WithServices(ctx, s.services)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// withLogging wraps a handler to log requests.
func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapped := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		s.logger.Info("request completed",
			"method", r.Method,
			"path", r.URL.Path,
			"status", wrapped.status,
			"duration", time.Since(start).String(),
		)
	})
}

// statusWriter wraps http.ResponseWriter to capture the status code while
// still exposing Flush for SSE handlers.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// requireInit is middleware that ensures the server is fully initialized.
// Returns 503 Service Unavailable if the job store or worker aren't ready.
func (s *Server) requireInit(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.store == nil || s.wrk == nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"error":"server not fully initialized"}`))
			return
		}
		next(w, r)
	}
}
