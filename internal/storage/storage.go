// Package storage defines persistence for studio sessions: the session index,
// the confirmed draft template of each session and optionally its transcript.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/tjfontaine/storefront-studio/internal/storefront"
	"github.com/tjfontaine/storefront-studio/internal/transcript"
)

// ErrNotFound is returned when a session does not exist.
var ErrNotFound = errors.New("not found")

// Session status values.
const (
	StatusActive = "active"
	StatusEnded  = "ended"
)

// SessionRecord is the stored view of a studio session.
type SessionRecord struct {
	ID        string    `json:"id"`
	ShopID    string    `json:"shop_id,omitempty"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ListOptions defines options for listing sessions
type ListOptions struct {
	Status string
	Limit  int
	Offset int
}

// SessionStore indexes sessions.
type SessionStore interface {
	// CreateSession stores a new session record
	CreateSession(ctx context.Context, rec *SessionRecord) error

	// GetSession retrieves a session by ID
	GetSession(ctx context.Context, id string) (*SessionRecord, error)

	// UpdateSession updates shop ID and status
	UpdateSession(ctx context.Context, rec *SessionRecord) error

	// ListSessions lists sessions, newest first
	ListSessions(ctx context.Context, opts ListOptions) ([]*SessionRecord, error)
}

// TemplateStore holds the confirmed template of each session.
type TemplateStore interface {
	// SaveTemplatePatch merges patch into the stored template. Saving the
	// same patch twice leaves the same result.
	SaveTemplatePatch(ctx context.Context, sessionID string, patch storefront.Configuration) error

	// GetTemplate returns the stored template, empty when nothing was confirmed
	GetTemplate(ctx context.Context, sessionID string) (storefront.Configuration, error)
}

// TranscriptStore records transcript entries.
type TranscriptStore interface {
	// AppendEntries adds entries in order
	AppendEntries(ctx context.Context, sessionID string, entries ...transcript.Entry) error

	// ListEntries returns entries in insertion order
	ListEntries(ctx context.Context, sessionID string) ([]transcript.Entry, error)
}

// Store is the full storage backend.
type Store interface {
	SessionStore
	TemplateStore
	TranscriptStore

	// Close closes the storage connection
	Close() error
}
