package storefront

import "sync"

// Store holds the live configuration. Readers get clones; only the staging
// engine writes to it.
type Store struct {
	mu  sync.RWMutex
	cfg Configuration
}

// NewStore creates a store seeded with initial (cloned). A nil initial seeds Default().
func NewStore(initial Configuration) *Store {
	if initial == nil {
		initial = Default()
	}
	return &Store{cfg: initial.Clone()}
}

// Get returns a copy of the live configuration.
func (s *Store) Get() Configuration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg.Clone()
}

// Replace swaps the whole live configuration.
func (s *Store) Replace(cfg Configuration) Configuration {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = cfg.Clone()
	if s.cfg == nil {
		s.cfg = Configuration{}
	}
	return s.cfg.Clone()
}

// Merge applies patch with Merge semantics and returns the result.
func (s *Store) Merge(patch Configuration) Configuration {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = Merge(s.cfg, patch)
	return s.cfg.Clone()
}

// Set writes one attribute as-is.
func (s *Store) Set(key string, value any) Configuration {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg[key] = cloneValue(value)
	return s.cfg.Clone()
}

// Delete removes one attribute.
func (s *Store) Delete(key string) Configuration {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.cfg, key)
	return s.cfg.Clone()
}
