// Package runtime assembles the studio service from configuration and
// manages its lifecycle.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/tjfontaine/storefront-studio/internal/assistant"
	"github.com/tjfontaine/storefront-studio/internal/auth"
	"github.com/tjfontaine/storefront-studio/internal/backend/shop"
	"github.com/tjfontaine/storefront-studio/internal/config"
	"github.com/tjfontaine/storefront-studio/internal/conversation"
	"github.com/tjfontaine/storefront-studio/internal/creation"
	"github.com/tjfontaine/storefront-studio/internal/interview"
	"github.com/tjfontaine/storefront-studio/internal/interview/scriptfile"
	"github.com/tjfontaine/storefront-studio/internal/metrics"
	"github.com/tjfontaine/storefront-studio/internal/preview"
	"github.com/tjfontaine/storefront-studio/internal/server"
	"github.com/tjfontaine/storefront-studio/internal/session"
	"github.com/tjfontaine/storefront-studio/internal/storage"
	"github.com/tjfontaine/storefront-studio/internal/storage/memory"
	"github.com/tjfontaine/storefront-studio/internal/storage/sqlite"
)

// Studio is the assembled service: storage, the assistant and backend
// clients, the session manager and the HTTP server. It can be embedded in a
// larger application or run standalone.
type Studio struct {
	// Dependencies (injected via options)
	cfg        *config.Config
	store      storage.Store
	assistant  session.Exchanger
	creator    creation.Creator
	saver      session.TemplateSaver
	completion session.CompletionFunc
	logger     *slog.Logger

	// Assembled in New
	script  *scriptfile.Provider
	hub     *preview.Hub
	manager *session.Manager
	server  *server.Server

	// Lifecycle management
	ctx     context.Context
	cancel  context.CancelFunc
	mu      sync.Mutex
	serveCh chan error
}

// New creates a Studio with the given options. Configuration is required;
// storage defaults to what the configuration names.
func New(opts ...Option) (*Studio, error) {
	st := &Studio{logger: slog.Default()}

	// Apply options
	for _, opt := range opts {
		if err := opt(st); err != nil {
			return nil, fmt.Errorf("apply option: %w", err)
		}
	}

	// Validate required dependencies
	if st.cfg == nil {
		return nil, fmt.Errorf("config required (use WithFileConfig or WithConfig)")
	}
	if st.store == nil {
		store, err := openStorage(st.cfg.Storage)
		if err != nil {
			return nil, fmt.Errorf("open storage: %w", err)
		}
		st.store = store
	}

	if err := st.assemble(); err != nil {
		st.store.Close()
		return nil, err
	}
	return st, nil
}

func openStorage(cfg config.StorageConfig) (storage.Store, error) {
	switch cfg.Type {
	case "", "sqlite":
		return sqlite.New(cfg.SQLite.Path)
	case "memory":
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unknown storage type %q", cfg.Type)
	}
}

// assemble builds the clients, the session manager and the HTTP server.
func (st *Studio) assemble() error {
	cfg := st.cfg

	if st.assistant == nil {
		if cfg.Assistant.BaseURL == "" {
			return fmt.Errorf("assistant.base_url is required")
		}
		st.assistant = assistant.NewClient(cfg.Assistant.BaseURL,
			assistant.WithAPIKey(cfg.Assistant.APIKey),
			assistant.WithModel(cfg.Assistant.Model),
			assistant.WithMaxContextTokens(cfg.Assistant.MaxContextTokens),
			assistant.WithHTTPClient(instrumentedClient(cfg.Assistant.Timeout)),
		)
	}

	if cfg.Backend.BaseURL != "" && (st.creator == nil || st.saver == nil) {
		backend := shop.NewClient(cfg.Backend.BaseURL,
			shop.WithAPIKey(cfg.Backend.APIKey),
			shop.WithHTTPClient(instrumentedClient(cfg.Backend.Timeout)),
		)
		if st.creator == nil {
			st.creator = creation.CreatorFunc(func(ctx context.Context, payload map[string]any) (string, error) {
				s, err := backend.CreateShop(ctx, payload)
				if err != nil {
					return "", err
				}
				return s.ID, nil
			})
		}
		if st.saver == nil {
			st.saver = backend
		}
	}
	if st.creator == nil {
		st.logger.Warn("backend.base_url not set, shops cannot be created")
	}

	var recorder *conversation.Recorder
	if cfg.Session.RecordTranscripts {
		recorder = conversation.NewRecorder(st.store, st.logger)
	}

	studioMetrics, err := metrics.New()
	if err != nil {
		return fmt.Errorf("create metrics: %w", err)
	}

	scriptSource := session.ScriptSource(interview.DefaultScript)
	if cfg.Interview.ScriptPath != "" {
		provider, err := scriptfile.NewProvider(cfg.Interview.ScriptPath, st.logger)
		if err != nil {
			return fmt.Errorf("create script provider: %w", err)
		}
		if _, err := provider.Load(context.Background()); err != nil {
			return fmt.Errorf("load interview script: %w", err)
		}
		st.script = provider
		scriptSource = provider.Current
	}

	st.hub = preview.NewHub(st.logger)
	st.manager = session.NewManager(session.Options{
		Assistant:  st.assistant,
		Creator:    st.creator,
		Persister:  &session.TemplatePersister{Drafts: st.store, Backend: st.saver},
		Sessions:   st.store,
		Recorder:   recorder,
		Metrics:    studioMetrics,
		Script:     scriptSource,
		Preview:    st.hub.Publish,
		Completion: st.onCompletion,
		Logger:     st.logger,
	})

	handlerOpts := server.HandlerOptions{
		Sessions:  st.manager,
		Records:   st.store,
		Templates: st.store,
		Preview:   st.hub,
		Logger:    st.logger,
	}
	if recorder != nil {
		handlerOpts.Transcripts = st.store
	}

	st.server = server.New(cfg.Server.Port, st.logger, auth.NewAuthenticator(cfg.Server.APIKeys), cfg.Server.RequestTimeout)
	st.server.Mount(server.NewHandler(handlerOpts))
	return nil
}

func instrumentedClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Transport: otelhttp.NewTransport(http.DefaultTransport),
		Timeout:   timeout,
	}
}

func (st *Studio) onCompletion(sessionID string, c session.Completion) {
	st.logger.Info("session completion",
		slog.String("session_id", sessionID),
		slog.String("kind", string(c.Kind)),
		slog.Bool("success", c.Success),
		slog.String("shop_id", c.ShopID),
	)
	if st.completion != nil {
		st.completion(sessionID, c)
	}
}

// Start starts the script watcher and the HTTP server.
func (st *Studio) Start(ctx context.Context) error {
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.serveCh != nil {
		return fmt.Errorf("studio already started")
	}
	st.ctx, st.cancel = context.WithCancel(ctx)

	if st.script != nil {
		if err := st.script.Watch(st.ctx, nil); err != nil {
			st.logger.Warn("interview script watch failed", slog.String("error", err.Error()))
		}
	}

	st.serveCh = make(chan error, 1)
	go func() {
		st.serveCh <- st.server.Start()
	}()

	st.logger.Info("studio started",
		slog.Int("port", st.cfg.Server.Port),
		slog.String("storage", st.cfg.Storage.Type),
	)
	return nil
}

// Wait blocks until the HTTP server stops and returns its error.
func (st *Studio) Wait() error {
	st.mu.Lock()
	ch := st.serveCh
	st.mu.Unlock()
	if ch == nil {
		return fmt.Errorf("studio not started")
	}
	return <-ch
}

// Shutdown gracefully stops the server, ends every session and closes
// storage.
func (st *Studio) Shutdown(ctx context.Context) error {
	st.mu.Lock()
	defer st.mu.Unlock()

	st.logger.Info("shutting down studio")

	if st.cancel != nil {
		st.cancel()
	}

	var errs []error
	if err := st.server.Shutdown(ctx); err != nil {
		st.logger.Error("failed to shutdown server", slog.String("error", err.Error()))
		errs = append(errs, err)
	}

	for _, id := range st.manager.List() {
		st.hub.CloseSession(id)
	}
	st.manager.Close(ctx)

	if st.script != nil {
		if err := st.script.Close(); err != nil {
			st.logger.Error("failed to close script watcher", slog.String("error", err.Error()))
		}
	}

	if err := st.store.Close(); err != nil {
		st.logger.Error("failed to close storage", slog.String("error", err.Error()))
		errs = append(errs, err)
	}

	st.logger.Info("studio shutdown complete")
	return errors.Join(errs...)
}

// Handler returns the HTTP handler, for embedding or tests.
func (st *Studio) Handler() http.Handler {
	return st.server.Router
}

// Sessions returns the session manager.
func (st *Studio) Sessions() *session.Manager {
	return st.manager
}
