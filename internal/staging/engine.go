// Package staging applies proposed template patches to the live preview and
// reconciles them with persistence once the user confirms or rejects them.
//
// At most one pending patch exists at a time. It is created together with a
// snapshot of the live configuration taken just before the first patch of the
// batch, and both are dropped together on confirm or cancel.
package staging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/tjfontaine/storefront-studio/internal/storefront"
)

var (
	// ErrConfirmInFlight is returned when the pending patch is being persisted.
	ErrConfirmInFlight = errors.New("confirm in progress")

	// ErrNoPendingPatch is returned by RemoveField when nothing is staged.
	ErrNoPendingPatch = errors.New("no pending patch")

	// ErrFieldNotPending is returned by RemoveField for keys outside the pending patch.
	ErrFieldNotPending = errors.New("field not in pending patch")
)

// PersistError wraps a sink failure during Confirm. The pending patch is kept
// so the caller can retry or cancel.
type PersistError struct {
	Err error
}

func (e *PersistError) Error() string {
	return fmt.Sprintf("persist pending patch: %v", e.Err)
}

func (e *PersistError) Unwrap() error {
	return e.Err
}

// Sink persists a confirmed patch. Implementations must be idempotent.
type Sink interface {
	Persist(ctx context.Context, patch storefront.Configuration) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, patch storefront.Configuration) error

// Persist calls f.
func (f SinkFunc) Persist(ctx context.Context, patch storefront.Configuration) error {
	return f(ctx, patch)
}

// ChangeKind names the operation that produced a Change.
type ChangeKind string

const (
	ChangeStaged       ChangeKind = "staged"
	ChangePrefilled    ChangeKind = "prefilled"
	ChangeConfirmed    ChangeKind = "confirmed"
	ChangeCancelled    ChangeKind = "cancelled"
	ChangeFieldRemoved ChangeKind = "field_removed"
)

// Change is passed to the preview callback after every state transition.
type Change struct {
	Kind    ChangeKind               `json:"kind"`
	Live    storefront.Configuration `json:"live"`
	Pending storefront.Configuration `json:"pending,omitempty"`
	Field   string                   `json:"field,omitempty"`
	// Dropped lists pending keys a prefill overwrote and removed from the batch.
	Dropped []string `json:"dropped,omitempty"`
}

// PreviewFunc receives the resulting live configuration for rendering.
type PreviewFunc func(Change)

// Options configures an Engine.
type Options struct {
	Initial storefront.Configuration
	Preview PreviewFunc
	Logger  *slog.Logger
}

// Engine owns the live configuration together with the snapshot/pending pair.
type Engine struct {
	mu         sync.Mutex
	live       *storefront.Store
	snapshot   storefront.Configuration
	pending    storefront.Configuration
	confirming bool

	preview PreviewFunc
	logger  *slog.Logger
}

// New creates an engine whose live configuration starts at opts.Initial
// (storefront.Default() when nil).
func New(opts Options) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		live:    storefront.NewStore(opts.Initial),
		preview: opts.Preview,
		logger:  logger,
	}
}

// Live returns a copy of the live configuration.
func (e *Engine) Live() storefront.Configuration {
	return e.live.Get()
}

// Pending returns a copy of the pending patch and whether one exists.
func (e *Engine) Pending() (storefront.Configuration, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.pending == nil {
		return nil, false
	}
	return e.pending.Clone(), true
}

// Snapshot returns a copy of the pre-batch configuration and whether one exists.
func (e *Engine) Snapshot() (storefront.Configuration, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.snapshot == nil {
		return nil, false
	}
	return e.snapshot.Clone(), true
}

// Stage applies patch to the live configuration and records it as pending.
// A patch staged while another is pending joins the same batch and keeps the
// original snapshot.
func (e *Engine) Stage(patch storefront.Configuration) error {
	if len(patch) == 0 {
		return nil
	}

	e.mu.Lock()
	if e.confirming {
		e.mu.Unlock()
		return ErrConfirmInFlight
	}
	if e.pending == nil {
		e.snapshot = e.live.Get()
		e.pending = patch.Clone()
	} else {
		e.pending = storefront.Merge(e.pending, patch)
	}
	live := e.live.Merge(patch)
	change := Change{Kind: ChangeStaged, Live: live, Pending: e.pending.Clone()}
	e.mu.Unlock()

	e.logger.Debug("patch staged", slog.Any("keys", patch.Keys()))
	e.notify(change)
	return nil
}

// Prefill writes interview answers straight into the live configuration
// without creating a pending patch. When a batch is pending, the snapshot is
// updated as well so cancelling the batch keeps the answers, and pending keys
// overwritten by the answer leave the batch. The change event names the
// dropped keys.
func (e *Engine) Prefill(patch storefront.Configuration) {
	if len(patch) == 0 {
		return
	}

	e.mu.Lock()
	live := e.live.Merge(patch)
	var dropped []string
	if e.snapshot != nil {
		e.snapshot = storefront.Merge(e.snapshot, patch)
		if !e.confirming {
			for _, k := range patch.Keys() {
				if _, ok := e.pending[k]; ok {
					delete(e.pending, k)
					dropped = append(dropped, k)
				}
			}
			if len(e.pending) == 0 {
				e.snapshot = nil
				e.pending = nil
			}
		}
	}
	change := Change{Kind: ChangePrefilled, Live: live, Pending: e.pending.Clone(), Dropped: dropped}
	e.mu.Unlock()

	if len(dropped) > 0 {
		e.logger.Info("prefill replaced pending fields", slog.Any("keys", dropped))
	}

	e.notify(change)
}

// Confirm persists the pending patch through sink. On success the snapshot
// and pending patch are dropped and the live configuration is left as-is. On
// failure nothing changes and a *PersistError is returned. Confirm without a
// pending patch is a no-op.
func (e *Engine) Confirm(ctx context.Context, sink Sink) error {
	e.mu.Lock()
	if e.pending == nil {
		e.mu.Unlock()
		return nil
	}
	if e.confirming {
		e.mu.Unlock()
		return ErrConfirmInFlight
	}
	e.confirming = true
	patch := e.pending.Clone()
	e.mu.Unlock()

	err := sink.Persist(ctx, patch)

	e.mu.Lock()
	e.confirming = false
	if err != nil {
		e.mu.Unlock()
		e.logger.Warn("pending patch not persisted", slog.String("error", err.Error()))
		return &PersistError{Err: err}
	}
	e.snapshot = nil
	e.pending = nil
	change := Change{Kind: ChangeConfirmed, Live: e.live.Get()}
	e.mu.Unlock()

	e.logger.Debug("patch confirmed", slog.Any("keys", patch.Keys()))
	e.notify(change)
	return nil
}

// Cancel restores the snapshot and drops the pending patch. Cancel without a
// pending patch is a no-op.
func (e *Engine) Cancel() error {
	e.mu.Lock()
	if e.confirming {
		e.mu.Unlock()
		return ErrConfirmInFlight
	}
	if e.pending == nil {
		e.mu.Unlock()
		return nil
	}
	change := e.cancelLocked()
	e.mu.Unlock()

	e.notify(change)
	return nil
}

func (e *Engine) cancelLocked() Change {
	live := e.live.Replace(e.snapshot)
	e.snapshot = nil
	e.pending = nil
	return Change{Kind: ChangeCancelled, Live: live}
}

// RemoveField drops key from the pending patch and reverts only that field in
// the live configuration: to its snapshot value, or out of the configuration
// when the batch introduced it. Removing the last pending field cancels.
func (e *Engine) RemoveField(key string) error {
	e.mu.Lock()
	if e.confirming {
		e.mu.Unlock()
		return ErrConfirmInFlight
	}
	if e.pending == nil {
		e.mu.Unlock()
		return ErrNoPendingPatch
	}
	if _, ok := e.pending[key]; !ok {
		e.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrFieldNotPending, key)
	}

	delete(e.pending, key)
	var change Change
	if len(e.pending) == 0 {
		change = e.cancelLocked()
	} else {
		var live storefront.Configuration
		if prev, ok := e.snapshot[key]; ok {
			live = e.live.Set(key, prev)
		} else {
			live = e.live.Delete(key)
		}
		change = Change{Kind: ChangeFieldRemoved, Live: live, Pending: e.pending.Clone(), Field: key}
	}
	e.mu.Unlock()

	e.notify(change)
	return nil
}

// Discard drops any pending patch without touching the live configuration.
// It is used at session teardown.
func (e *Engine) Discard() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.snapshot = nil
	e.pending = nil
}

func (e *Engine) notify(c Change) {
	if e.preview != nil {
		e.preview(c)
	}
}
