package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/tjfontaine/storefront-studio/internal/storage"
	"github.com/tjfontaine/storefront-studio/internal/storefront"
	"github.com/tjfontaine/storefront-studio/internal/transcript"
)

// Store is an in-memory implementation of storage.Store
type Store struct {
	mu          sync.RWMutex
	sessions    map[string]*storage.SessionRecord
	templates   map[string]storefront.Configuration
	transcripts map[string][]transcript.Entry
}

var _ storage.Store = (*Store)(nil)

// New creates a new in-memory store
func New() *Store {
	return &Store{
		sessions:    make(map[string]*storage.SessionRecord),
		templates:   make(map[string]storefront.Configuration),
		transcripts: make(map[string][]transcript.Entry),
	}
}

func (s *Store) CreateSession(ctx context.Context, rec *storage.SessionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.sessions[rec.ID]; exists {
		return fmt.Errorf("session %s already exists", rec.ID)
	}

	rec.CreatedAt = time.Now()
	rec.UpdatedAt = rec.CreatedAt
	if rec.Status == "" {
		rec.Status = storage.StatusActive
	}

	cp := *rec
	s.sessions[rec.ID] = &cp
	return nil
}

func (s *Store) GetSession(ctx context.Context, id string) (*storage.SessionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, exists := s.sessions[id]
	if !exists {
		return nil, fmt.Errorf("session %s: %w", id, storage.ErrNotFound)
	}

	cp := *rec
	return &cp, nil
}

func (s *Store) UpdateSession(ctx context.Context, rec *storage.SessionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.sessions[rec.ID]
	if !exists {
		return fmt.Errorf("session %s: %w", rec.ID, storage.ErrNotFound)
	}

	existing.ShopID = rec.ShopID
	existing.Status = rec.Status
	existing.UpdatedAt = time.Now()
	rec.UpdatedAt = existing.UpdatedAt
	return nil
}

func (s *Store) ListSessions(ctx context.Context, opts storage.ListOptions) ([]*storage.SessionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*storage.SessionRecord
	for _, rec := range s.sessions {
		if opts.Status != "" && rec.Status != opts.Status {
			continue
		}
		cp := *rec
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})

	// Simple pagination
	start := opts.Offset
	if start >= len(result) {
		return []*storage.SessionRecord{}, nil
	}

	end := start + opts.Limit
	if opts.Limit == 0 || end > len(result) {
		end = len(result)
	}

	return result[start:end], nil
}

func (s *Store) SaveTemplatePatch(ctx context.Context, sessionID string, patch storefront.Configuration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.sessions[sessionID]; !exists {
		return fmt.Errorf("session %s: %w", sessionID, storage.ErrNotFound)
	}

	s.templates[sessionID] = storefront.Merge(s.templates[sessionID], patch)
	return nil
}

func (s *Store) GetTemplate(ctx context.Context, sessionID string) (storefront.Configuration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, exists := s.sessions[sessionID]; !exists {
		return nil, fmt.Errorf("session %s: %w", sessionID, storage.ErrNotFound)
	}

	tpl := s.templates[sessionID].Clone()
	if tpl == nil {
		tpl = storefront.Configuration{}
	}
	return tpl, nil
}

func (s *Store) AppendEntries(ctx context.Context, sessionID string, entries ...transcript.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.sessions[sessionID]; !exists {
		return fmt.Errorf("session %s: %w", sessionID, storage.ErrNotFound)
	}

	s.transcripts[sessionID] = append(s.transcripts[sessionID], entries...)
	return nil
}

func (s *Store) ListEntries(ctx context.Context, sessionID string) ([]transcript.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, exists := s.sessions[sessionID]; !exists {
		return nil, fmt.Errorf("session %s: %w", sessionID, storage.ErrNotFound)
	}

	return append([]transcript.Entry(nil), s.transcripts[sessionID]...), nil
}

func (s *Store) Close() error {
	return nil
}
