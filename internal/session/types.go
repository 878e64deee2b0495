// Package session owns the per-conversation state of the studio: transcript,
// interview position, staged configuration and shop creation. Every exchange
// with the assistant runs through Session.Send.
package session

import (
	"context"
	"errors"

	"github.com/tjfontaine/storefront-studio/internal/assistant"
	"github.com/tjfontaine/storefront-studio/internal/interview"
	"github.com/tjfontaine/storefront-studio/internal/staging"
	"github.com/tjfontaine/storefront-studio/internal/storefront"
	"github.com/tjfontaine/storefront-studio/internal/transcript"
)

var (
	// ErrEmptyInput is returned by Send for empty or whitespace-only input.
	ErrEmptyInput = errors.New("empty input")

	// ErrExchangeInFlight is returned by Send while another exchange is outstanding.
	ErrExchangeInFlight = errors.New("exchange already in flight")

	// ErrEnded is returned by operations on a session that was ended.
	ErrEnded = errors.New("session ended")

	// ErrNotFound is returned by the Manager for unknown session IDs.
	ErrNotFound = errors.New("session not found")
)

// Exchanger sends the transcript and current configuration to the assistant.
// *assistant.Client implements it.
type Exchanger interface {
	Exchange(ctx context.Context, entries []transcript.Entry, current storefront.Configuration) (*assistant.Result, error)
}

// Persister stores a confirmed patch for a session. shopID is empty until the
// shop exists. Implementations must be idempotent.
type Persister interface {
	PersistTemplate(ctx context.Context, sessionID, shopID string, patch storefront.Configuration) error
}

// PersisterFunc adapts a function to Persister.
type PersisterFunc func(ctx context.Context, sessionID, shopID string, patch storefront.Configuration) error

// PersistTemplate calls f.
func (f PersisterFunc) PersistTemplate(ctx context.Context, sessionID, shopID string, patch storefront.Configuration) error {
	return f(ctx, sessionID, shopID, patch)
}

// CompletionKind distinguishes completion events.
type CompletionKind string

const (
	CompletionShopCreated        CompletionKind = "shop_created"
	CompletionInterviewCompleted CompletionKind = "interview_completed"
)

// Completion is delivered to the completion callback.
type Completion struct {
	Kind    CompletionKind `json:"kind"`
	Success bool           `json:"success"`
	ShopID  string         `json:"shop_id,omitempty"`
	Message string         `json:"message,omitempty"`
}

// PreviewFunc receives every change to a session's live configuration.
type PreviewFunc func(sessionID string, c staging.Change)

// CompletionFunc receives completion events.
type CompletionFunc func(sessionID string, c Completion)

// Result describes what one Send did.
type Result struct {
	Appended       []transcript.Entry `json:"appended"`
	Staged         bool               `json:"staged"`
	CreationRan    bool               `json:"creation_ran"`
	ShopID         string             `json:"shop_id,omitempty"`
	ExchangeFailed bool               `json:"exchange_failed"`
	Interview      interview.State    `json:"interview"`

	// StageRejected is set when the assistant proposed a patch that could
	// not be staged because a confirm was in flight.
	StageRejected bool `json:"stage_rejected,omitempty"`
}

// State is a point-in-time view of a session.
type State struct {
	ID         string                   `json:"id"`
	ShopID     string                   `json:"shop_id,omitempty"`
	Live       storefront.Configuration `json:"live"`
	Pending    storefront.Configuration `json:"pending,omitempty"`
	Transcript []transcript.Entry       `json:"transcript"`
	Interview  interview.State          `json:"interview"`
	InFlight   bool                     `json:"in_flight"`
	Ended      bool                     `json:"ended"`
}
