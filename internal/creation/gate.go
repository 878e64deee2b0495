// Package creation gates creation of the backing shop so it happens at most
// once per conversation, with retries allowed after a failure.
package creation

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrAlreadyCreated is returned once a shop exists for the conversation.
	ErrAlreadyCreated = errors.New("shop already created")

	// ErrCreationInFlight is returned while a creation call is outstanding.
	ErrCreationInFlight = errors.New("shop creation in progress")

	// ErrEmptyPayload is returned when there is no shop data to create from.
	ErrEmptyPayload = errors.New("empty shop payload")
)

// Creator creates the backing shop and returns its identifier.
type Creator interface {
	CreateShop(ctx context.Context, payload map[string]any) (string, error)
}

// CreatorFunc adapts a function to Creator.
type CreatorFunc func(ctx context.Context, payload map[string]any) (string, error)

// CreateShop calls f.
func (f CreatorFunc) CreateShop(ctx context.Context, payload map[string]any) (string, error) {
	return f(ctx, payload)
}

// Outcome describes a successful creation.
type Outcome struct {
	ShopID string
}

// Error wraps a creator failure. The gate stays open for a retry.
type Error struct {
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("create shop: %v", e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Gate invokes the creator at most once successfully.
type Gate struct {
	mu       sync.Mutex
	creator  Creator
	shopID   string
	inFlight bool
}

// NewGate creates a gate. A non-empty existingShopID means the shop was
// created before this conversation and the gate starts closed.
func NewGate(creator Creator, existingShopID string) *Gate {
	return &Gate{creator: creator, shopID: existingShopID}
}

// ShopID returns the created shop's ID, if any.
func (g *Gate) ShopID() (string, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.shopID, g.shopID != ""
}

// MaybeCreate creates the shop from payload unless one already exists or a
// creation is in flight.
func (g *Gate) MaybeCreate(ctx context.Context, payload map[string]any) (Outcome, error) {
	g.mu.Lock()
	switch {
	case g.shopID != "":
		g.mu.Unlock()
		return Outcome{}, ErrAlreadyCreated
	case g.inFlight:
		g.mu.Unlock()
		return Outcome{}, ErrCreationInFlight
	case len(payload) == 0:
		g.mu.Unlock()
		return Outcome{}, ErrEmptyPayload
	}
	g.inFlight = true
	g.mu.Unlock()

	id, err := g.creator.CreateShop(ctx, payload)

	g.mu.Lock()
	defer g.mu.Unlock()
	g.inFlight = false
	if err != nil {
		return Outcome{}, &Error{Err: err}
	}
	if id == "" {
		return Outcome{}, &Error{Err: errors.New("creator returned empty shop id")}
	}
	g.shopID = id
	return Outcome{ShopID: id}, nil
}
