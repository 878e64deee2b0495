package runtime

import (
	"fmt"
	"log/slog"

	"github.com/tjfontaine/storefront-studio/internal/config"
	"github.com/tjfontaine/storefront-studio/internal/creation"
	"github.com/tjfontaine/storefront-studio/internal/session"
	"github.com/tjfontaine/storefront-studio/internal/storage"
	"github.com/tjfontaine/storefront-studio/internal/storage/memory"
	"github.com/tjfontaine/storefront-studio/internal/storage/sqlite"
)

// Option is a functional option for configuring a Studio.
type Option func(*Studio) error

// WithFileConfig loads configuration from a config.yaml file plus STUDIO_
// environment overrides. A missing file leaves defaults and environment.
func WithFileConfig(path string) Option {
	return func(st *Studio) error {
		cfg, err := config.LoadFile(path)
		if err != nil {
			return fmt.Errorf("load config %s: %w", path, err)
		}
		st.cfg = cfg
		return nil
	}
}

// WithConfig uses an already loaded configuration.
func WithConfig(cfg *config.Config) Option {
	return func(st *Studio) error {
		if cfg == nil {
			return fmt.Errorf("config cannot be nil")
		}
		st.cfg = cfg
		return nil
	}
}

// WithSQLite uses SQLite storage at path (default for single-instance
// deployments).
func WithSQLite(path string) Option {
	return func(st *Studio) error {
		store, err := sqlite.New(path)
		if err != nil {
			return fmt.Errorf("create sqlite storage: %w", err)
		}
		st.store = store
		return nil
	}
}

// WithMemoryStorage keeps everything in memory. Nothing survives a restart.
func WithMemoryStorage() Option {
	return func(st *Studio) error {
		st.store = memory.New()
		return nil
	}
}

// WithStorage sets a custom storage backend.
func WithStorage(store storage.Store) Option {
	return func(st *Studio) error {
		st.store = store
		return nil
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(st *Studio) error {
		st.logger = logger
		return nil
	}
}

// WithAssistant replaces the assistant client built from configuration.
func WithAssistant(a session.Exchanger) Option {
	return func(st *Studio) error {
		st.assistant = a
		return nil
	}
}

// WithShopBackend replaces the backend client built from configuration.
func WithShopBackend(creator creation.Creator, saver session.TemplateSaver) Option {
	return func(st *Studio) error {
		st.creator = creator
		st.saver = saver
		return nil
	}
}

// WithCompletionHandler receives every session completion event.
func WithCompletionHandler(fn session.CompletionFunc) Option {
	return func(st *Studio) error {
		st.completion = fn
		return nil
	}
}
