package session

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/tjfontaine/storefront-studio/internal/conversation"
	"github.com/tjfontaine/storefront-studio/internal/creation"
	"github.com/tjfontaine/storefront-studio/internal/interview"
	"github.com/tjfontaine/storefront-studio/internal/metrics"
	"github.com/tjfontaine/storefront-studio/internal/storage"
	"github.com/tjfontaine/storefront-studio/internal/storefront"
)

// ScriptSource returns the interview script for a new session.
type ScriptSource func() interview.Script

// Options configures a Manager.
type Options struct {
	Assistant Exchanger
	Creator   creation.Creator
	Persister Persister

	// Sessions indexes sessions and their shop IDs. Optional.
	Sessions storage.SessionStore
	// Recorder persists transcripts. Optional.
	Recorder *conversation.Recorder
	Metrics  *metrics.Studio

	Script     ScriptSource
	Preview    PreviewFunc
	Completion CompletionFunc
	Logger     *slog.Logger
}

// Manager creates, looks up and ends sessions.
type Manager struct {
	opts   Options
	logger *slog.Logger

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewManager creates a session manager.
func NewManager(opts Options) *Manager {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Script == nil {
		opts.Script = interview.DefaultScript
	}
	if opts.Creator == nil {
		opts.Creator = creation.CreatorFunc(func(context.Context, map[string]any) (string, error) {
			return "", fmt.Errorf("no shop backend configured")
		})
	}
	return &Manager{
		opts:     opts,
		logger:   logger,
		sessions: make(map[string]*Session),
	}
}

// Create starts a session. A non-empty shopID resumes an existing shop: the
// interview starts in free-form mode and no shop is created again.
func (m *Manager) Create(ctx context.Context, shopID string) (*Session, error) {
	id := "sess_" + uuid.New().String()

	if m.opts.Sessions != nil {
		rec := &storage.SessionRecord{ID: id, ShopID: shopID, Status: storage.StatusActive}
		if err := m.opts.Sessions.CreateSession(ctx, rec); err != nil {
			return nil, fmt.Errorf("create session record: %w", err)
		}
	}

	s := newSession(id, shopID, m.opts.Script(), storefront.Default(), deps{
		assistant: m.opts.Assistant,
		creator:   m.opts.Creator,
		persister: m.opts.Persister,
		recorder:  m.opts.Recorder,
		metrics:   m.opts.Metrics,
		preview:   m.opts.Preview,
		onDone:    m.completion,
		logger:    m.logger,
	})

	m.mu.Lock()
	m.sessions[id] = s
	m.mu.Unlock()

	m.opts.Metrics.SessionOpened(ctx)
	m.opts.Recorder.Record(ctx, id, s.State().Transcript...)
	m.logger.Info("session created",
		slog.String("session_id", id),
		slog.String("shop_id", shopID),
	)
	return s, nil
}

// Get returns the session with the given ID.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return s, nil
}

// List returns the IDs of open sessions, sorted.
func (m *Manager) List() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// End tears a session down: the transcript and any unconfirmed patch are
// discarded and the session is removed.
func (m *Manager) End(ctx context.Context, id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	shopID, _ := s.gate.ShopID()
	s.end()
	m.opts.Metrics.SessionClosed(ctx)

	if m.opts.Sessions != nil {
		rec := &storage.SessionRecord{ID: id, ShopID: shopID, Status: storage.StatusEnded}
		if err := m.opts.Sessions.UpdateSession(ctx, rec); err != nil {
			m.logger.Error("failed to mark session ended",
				slog.String("session_id", id),
				slog.String("error", err.Error()),
			)
		}
	}

	m.logger.Info("session ended", slog.String("session_id", id))
	return nil
}

// Close ends every open session.
func (m *Manager) Close(ctx context.Context) {
	for _, id := range m.List() {
		_ = m.End(ctx, id)
	}
}

// completion records the shop ID of newly created shops before passing the
// event on.
func (m *Manager) completion(sessionID string, c Completion) {
	if c.Kind == CompletionShopCreated && c.Success && m.opts.Sessions != nil {
		ctx := context.Background()
		rec := &storage.SessionRecord{ID: sessionID, ShopID: c.ShopID, Status: storage.StatusActive}
		if err := m.opts.Sessions.UpdateSession(ctx, rec); err != nil {
			m.logger.Error("failed to record shop id",
				slog.String("session_id", sessionID),
				slog.String("shop_id", c.ShopID),
				slog.String("error", err.Error()),
			)
		}
	}
	if m.opts.Completion != nil {
		m.opts.Completion(sessionID, c)
	}
}
