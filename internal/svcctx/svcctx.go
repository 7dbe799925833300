// Package svcctx provides service context for dependency injection via
// context. This package is separate from server to avoid import cycles
// with endpoints.
package svcctx

import (
	"context"
	"log/slog"

	"github.com/jzcodes/narrator/internal/config"
	"github.com/jzcodes/narrator/internal/eventbus"
	"github.com/jzcodes/narrator/internal/home"
	"github.com/jzcodes/narrator/internal/jobstore"
	"github.com/jzcodes/narrator/internal/library"
	"github.com/jzcodes/narrator/internal/output"
	"github.com/jzcodes/narrator/internal/queuestate"
)

// Services holds all core services that flow through context. Components
// extract what they need via the individual extractors.
type Services struct {
	JobStore    *jobstore.Store
	EventBus    *eventbus.Bus
	QueueState  *queuestate.State
	Library     library.Reader
	Output      *output.Writer
	ConfigStore config.Store
	ConfigMgr   *config.Manager
	Logger      *slog.Logger
	Home        *home.Dir
}

type servicesKey struct{}

// WithServices returns a new context with services attached.
func WithServices(ctx context.Context, s *Services) context.Context {
	return context.WithValue(ctx, servicesKey{}, s)
}

// ServicesFrom extracts the full Services struct from context. Returns
// nil if not present.
func ServicesFrom(ctx context.Context) *Services {
	s, _ := ctx.Value(servicesKey{}).(*Services)
	return s
}

// JobStoreFrom extracts the job store from context.
func JobStoreFrom(ctx context.Context) *jobstore.Store {
	if s := ServicesFrom(ctx); s != nil {
		return s.JobStore
	}
	return nil
}

// EventBusFrom extracts the event bus from context.
func EventBusFrom(ctx context.Context) *eventbus.Bus {
	if s := ServicesFrom(ctx); s != nil {
		return s.EventBus
	}
	return nil
}

// QueueStateFrom extracts the queue state from context.
func QueueStateFrom(ctx context.Context) *queuestate.State {
	if s := ServicesFrom(ctx); s != nil {
		return s.QueueState
	}
	return nil
}

// LibraryFrom extracts the library reader from context.
func LibraryFrom(ctx context.Context) library.Reader {
	if s := ServicesFrom(ctx); s != nil {
		return s.Library
	}
	return nil
}

// OutputFrom extracts the output writer from context.
func OutputFrom(ctx context.Context) *output.Writer {
	if s := ServicesFrom(ctx); s != nil {
		return s.Output
	}
	return nil
}

// LoggerFrom extracts the logger from context.
func LoggerFrom(ctx context.Context) *slog.Logger {
	if s := ServicesFrom(ctx); s != nil && s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

// HomeFrom extracts the home directory from context.
func HomeFrom(ctx context.Context) *home.Dir {
	if s := ServicesFrom(ctx); s != nil {
		return s.Home
	}
	return nil
}

// ConfigStoreFrom extracts the dynamic settings store from context.
func ConfigStoreFrom(ctx context.Context) config.Store {
	if s := ServicesFrom(ctx); s != nil {
		return s.ConfigStore
	}
	return nil
}

// ConfigFrom extracts the current static configuration from context.
func ConfigFrom(ctx context.Context) *config.Config {
	if s := ServicesFrom(ctx); s != nil && s.ConfigMgr != nil {
		return s.ConfigMgr.Get()
	}
	return nil
}
