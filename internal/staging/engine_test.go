package staging

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"

	"github.com/tjfontaine/storefront-studio/internal/storefront"
)

// recordingSink captures every persisted patch.
type recordingSink struct {
	mu      sync.Mutex
	patches []storefront.Configuration
	err     error
}

func (s *recordingSink) Persist(ctx context.Context, patch storefront.Configuration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.patches = append(s.patches, patch.Clone())
	return nil
}

func newEngine(t *testing.T, initial storefront.Configuration) (*Engine, *[]Change) {
	t.Helper()
	var changes []Change
	e := New(Options{
		Initial: initial,
		Preview: func(c Change) { changes = append(changes, c) },
	})
	return e, &changes
}

func TestEngine_StageTwiceKeepsFirstSnapshot(t *testing.T) {
	initial := storefront.Configuration{"primaryColor": "#000", "name": "Shop"}
	e, _ := newEngine(t, initial)

	if err := e.Stage(storefront.Configuration{"primaryColor": "#111"}); err != nil {
		t.Fatalf("Stage() error = %v", err)
	}
	if err := e.Stage(storefront.Configuration{"primaryColor": "#222", "logoUrl": "logo.png"}); err != nil {
		t.Fatalf("Stage() error = %v", err)
	}

	snap, ok := e.Snapshot()
	if !ok {
		t.Fatal("Snapshot() missing while patch pending")
	}
	if !reflect.DeepEqual(snap, initial) {
		t.Errorf("Snapshot() = %v, want %v", snap, initial)
	}

	pending, _ := e.Pending()
	wantPending := storefront.Configuration{"primaryColor": "#222", "logoUrl": "logo.png"}
	if !reflect.DeepEqual(pending, wantPending) {
		t.Errorf("Pending() = %v, want %v", pending, wantPending)
	}

	if err := e.Cancel(); err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}
	if !reflect.DeepEqual(e.Live(), initial) {
		t.Errorf("Live() after Cancel = %v, want %v", e.Live(), initial)
	}
	if _, ok := e.Pending(); ok {
		t.Error("Pending() still present after Cancel")
	}
	if _, ok := e.Snapshot(); ok {
		t.Error("Snapshot() still present after Cancel")
	}
}

func TestEngine_StageAppliesImmediately(t *testing.T) {
	e, changes := newEngine(t, storefront.Configuration{"primaryColor": "#000"})

	if err := e.Stage(storefront.Configuration{"primaryColor": "#111"}); err != nil {
		t.Fatalf("Stage() error = %v", err)
	}

	if got := e.Live()["primaryColor"]; got != "#111" {
		t.Errorf("live primaryColor = %v, want #111", got)
	}
	if len(*changes) != 1 || (*changes)[0].Kind != ChangeStaged {
		t.Fatalf("preview changes = %+v, want one staged change", *changes)
	}
	if (*changes)[0].Live["primaryColor"] != "#111" {
		t.Errorf("preview live primaryColor = %v, want #111", (*changes)[0].Live["primaryColor"])
	}
}

func TestEngine_StageEmptyPatchIsNoop(t *testing.T) {
	e, changes := newEngine(t, nil)

	if err := e.Stage(storefront.Configuration{}); err != nil {
		t.Fatalf("Stage() error = %v", err)
	}
	if _, ok := e.Pending(); ok {
		t.Error("empty patch created a pending batch")
	}
	if len(*changes) != 0 {
		t.Errorf("preview called %d times, want 0", len(*changes))
	}
}

func TestEngine_StageMergesFilterOptions(t *testing.T) {
	initial := storefront.Default()
	e, _ := newEngine(t, initial)

	e.Stage(storefront.Configuration{storefront.FilterOptionsKey: map[string]any{
		storefront.FilterCategories: []any{"Ropa"},
	}})
	e.Stage(storefront.Configuration{storefront.FilterOptionsKey: map[string]any{
		storefront.FilterSortOptions: []any{"newest"},
	}})

	fo := e.Live()[storefront.FilterOptionsKey].(map[string]any)
	if !reflect.DeepEqual(fo[storefront.FilterCategories], []any{"Ropa"}) {
		t.Errorf("categories = %v, want [Ropa]", fo[storefront.FilterCategories])
	}
	if !reflect.DeepEqual(fo[storefront.FilterSortOptions], []any{"newest"}) {
		t.Errorf("sortOptions = %v, want [newest]", fo[storefront.FilterSortOptions])
	}
	if !reflect.DeepEqual(fo[storefront.FilterPriceRanges], []any{}) {
		t.Errorf("priceRanges = %v, want []", fo[storefront.FilterPriceRanges])
	}
}

func TestEngine_ConfirmPersistsAndKeepsLive(t *testing.T) {
	e, changes := newEngine(t, storefront.Configuration{"primaryColor": "#000"})
	sink := &recordingSink{}

	e.Stage(storefront.Configuration{"primaryColor": "#111"})
	before := e.Live()

	if err := e.Confirm(context.Background(), sink); err != nil {
		t.Fatalf("Confirm() error = %v", err)
	}

	if !reflect.DeepEqual(e.Live(), before) {
		t.Errorf("Live() changed on Confirm: %v, want %v", e.Live(), before)
	}
	if len(sink.patches) != 1 || !reflect.DeepEqual(sink.patches[0], storefront.Configuration{"primaryColor": "#111"}) {
		t.Errorf("persisted patches = %v", sink.patches)
	}
	if _, ok := e.Pending(); ok {
		t.Error("Pending() present after Confirm")
	}
	if _, ok := e.Snapshot(); ok {
		t.Error("Snapshot() present after Confirm")
	}
	if last := (*changes)[len(*changes)-1]; last.Kind != ChangeConfirmed {
		t.Errorf("last change = %s, want confirmed", last.Kind)
	}
}

func TestEngine_ConfirmWithoutPendingIsNoop(t *testing.T) {
	e, _ := newEngine(t, nil)
	sink := &recordingSink{}

	if err := e.Confirm(context.Background(), sink); err != nil {
		t.Fatalf("Confirm() error = %v", err)
	}
	if len(sink.patches) != 0 {
		t.Errorf("sink called %d times, want 0", len(sink.patches))
	}
}

func TestEngine_ConfirmFailureKeepsPending(t *testing.T) {
	initial := storefront.Configuration{"primaryColor": "#000"}
	e, _ := newEngine(t, initial)
	sinkErr := errors.New("backend unavailable")
	sink := &recordingSink{err: sinkErr}

	e.Stage(storefront.Configuration{"primaryColor": "#111"})

	err := e.Confirm(context.Background(), sink)
	var persistErr *PersistError
	if !errors.As(err, &persistErr) {
		t.Fatalf("Confirm() error = %v, want *PersistError", err)
	}
	if !errors.Is(err, sinkErr) {
		t.Errorf("Confirm() error does not wrap sink error: %v", err)
	}

	if got := e.Live()["primaryColor"]; got != "#111" {
		t.Errorf("live primaryColor = %v, want #111 (no rollback)", got)
	}
	pending, ok := e.Pending()
	if !ok || pending["primaryColor"] != "#111" {
		t.Errorf("Pending() = %v, %v; want preserved", pending, ok)
	}

	// Retry succeeds.
	sink.err = nil
	if err := e.Confirm(context.Background(), sink); err != nil {
		t.Fatalf("retry Confirm() error = %v", err)
	}
	if _, ok := e.Pending(); ok {
		t.Error("Pending() present after successful retry")
	}
}

func TestEngine_CancelWithoutPendingIsNoop(t *testing.T) {
	initial := storefront.Configuration{"name": "Shop"}
	e, changes := newEngine(t, initial)

	if err := e.Cancel(); err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}
	if !reflect.DeepEqual(e.Live(), initial) {
		t.Errorf("Live() = %v, want %v", e.Live(), initial)
	}
	if len(*changes) != 0 {
		t.Errorf("preview called %d times, want 0", len(*changes))
	}
}

func TestEngine_RemoveFieldRestoresSnapshotValue(t *testing.T) {
	e, _ := newEngine(t, storefront.Configuration{"primaryColor": "#000", "name": "Shop"})

	e.Stage(storefront.Configuration{"primaryColor": "#111", "secondaryColor": "#fff"})

	if err := e.RemoveField("primaryColor"); err != nil {
		t.Fatalf("RemoveField() error = %v", err)
	}

	live := e.Live()
	if live["primaryColor"] != "#000" {
		t.Errorf("live primaryColor = %v, want #000", live["primaryColor"])
	}
	if live["secondaryColor"] != "#fff" {
		t.Errorf("live secondaryColor = %v, want #fff (still staged)", live["secondaryColor"])
	}
	pending, ok := e.Pending()
	if !ok {
		t.Fatal("Pending() missing after partial removal")
	}
	if !reflect.DeepEqual(pending, storefront.Configuration{"secondaryColor": "#fff"}) {
		t.Errorf("Pending() = %v", pending)
	}
}

func TestEngine_RemoveFieldDeletesNewKey(t *testing.T) {
	e, _ := newEngine(t, storefront.Configuration{"name": "Shop"})

	e.Stage(storefront.Configuration{"logoUrl": "logo.png", "primaryColor": "#111"})

	if err := e.RemoveField("logoUrl"); err != nil {
		t.Fatalf("RemoveField() error = %v", err)
	}
	if _, ok := e.Live()["logoUrl"]; ok {
		t.Error("logoUrl still in live configuration")
	}
}

func TestEngine_RemoveLastFieldCancels(t *testing.T) {
	initial := storefront.Configuration{"primaryColor": "#000"}
	e, changes := newEngine(t, initial)

	e.Stage(storefront.Configuration{"primaryColor": "#111"})
	if err := e.RemoveField("primaryColor"); err != nil {
		t.Fatalf("RemoveField() error = %v", err)
	}

	if !reflect.DeepEqual(e.Live(), initial) {
		t.Errorf("Live() = %v, want %v", e.Live(), initial)
	}
	if _, ok := e.Pending(); ok {
		t.Error("Pending() present after removing last field")
	}
	if _, ok := e.Snapshot(); ok {
		t.Error("Snapshot() present after removing last field")
	}
	if last := (*changes)[len(*changes)-1]; last.Kind != ChangeCancelled {
		t.Errorf("last change = %s, want cancelled", last.Kind)
	}
}

func TestEngine_RemovedFieldNeverPersisted(t *testing.T) {
	keys := []string{"primaryColor", "secondaryColor", "logoUrl"}

	for _, k := range keys {
		t.Run(k, func(t *testing.T) {
			e, _ := newEngine(t, storefront.Configuration{"primaryColor": "#000"})
			sink := &recordingSink{}

			e.Stage(storefront.Configuration{"primaryColor": "#111", "secondaryColor": "#222"})
			e.Stage(storefront.Configuration{"logoUrl": "logo.png"})

			if err := e.RemoveField(k); err != nil {
				t.Fatalf("RemoveField() error = %v", err)
			}
			if err := e.Confirm(context.Background(), sink); err != nil {
				t.Fatalf("Confirm() error = %v", err)
			}

			for _, p := range sink.patches {
				if _, ok := p[k]; ok {
					t.Errorf("persisted patch %v contains removed key %s", p, k)
				}
			}
		})
	}
}

func TestEngine_RemoveFieldErrors(t *testing.T) {
	e, _ := newEngine(t, nil)

	if err := e.RemoveField("primaryColor"); !errors.Is(err, ErrNoPendingPatch) {
		t.Errorf("RemoveField() without pending error = %v, want ErrNoPendingPatch", err)
	}

	e.Stage(storefront.Configuration{"primaryColor": "#111"})
	if err := e.RemoveField("logoUrl"); !errors.Is(err, ErrFieldNotPending) {
		t.Errorf("RemoveField() unknown key error = %v, want ErrFieldNotPending", err)
	}
}

func TestEngine_PrefillDoesNotStage(t *testing.T) {
	e, _ := newEngine(t, nil)

	e.Prefill(storefront.Configuration{"name": "Mi Tienda"})

	if e.Live()["name"] != "Mi Tienda" {
		t.Errorf("live name = %v, want Mi Tienda", e.Live()["name"])
	}
	if _, ok := e.Pending(); ok {
		t.Error("Prefill created a pending patch")
	}
}

func TestEngine_PrefillSurvivesCancel(t *testing.T) {
	e, _ := newEngine(t, storefront.Configuration{"primaryColor": "#000"})

	e.Stage(storefront.Configuration{"primaryColor": "#111"})
	e.Prefill(storefront.Configuration{"name": "Mi Tienda"})
	e.Cancel()

	live := e.Live()
	if live["name"] != "Mi Tienda" {
		t.Errorf("live name = %v, want Mi Tienda", live["name"])
	}
	if live["primaryColor"] != "#000" {
		t.Errorf("live primaryColor = %v, want #000", live["primaryColor"])
	}
}

func TestEngine_PrefillReportsDroppedPendingKeys(t *testing.T) {
	e, changes := newEngine(t, storefront.Configuration{"name": "Shop"})

	e.Stage(storefront.Configuration{"name": "Propuesta", "primaryColor": "#111"})
	e.Prefill(storefront.Configuration{"name": "Mi Tienda"})

	last := (*changes)[len(*changes)-1]
	if last.Kind != ChangePrefilled {
		t.Fatalf("last change kind = %s, want %s", last.Kind, ChangePrefilled)
	}
	if !reflect.DeepEqual(last.Dropped, []string{"name"}) {
		t.Errorf("Dropped = %v, want [name]", last.Dropped)
	}
	if !reflect.DeepEqual(last.Pending, storefront.Configuration{"primaryColor": "#111"}) {
		t.Errorf("Pending = %v, want primaryColor only", last.Pending)
	}

	// A prefill that touches no pending key drops nothing.
	e.Prefill(storefront.Configuration{"description": "Ropa"})
	if last := (*changes)[len(*changes)-1]; last.Dropped != nil {
		t.Errorf("Dropped = %v, want none", last.Dropped)
	}
}

// blockingSink holds Persist until release is closed.
type blockingSink struct {
	started chan struct{}
	release chan struct{}
}

func (s *blockingSink) Persist(ctx context.Context, patch storefront.Configuration) error {
	close(s.started)
	<-s.release
	return nil
}

func TestEngine_ConfirmInFlightBlocksMutations(t *testing.T) {
	e := New(Options{Initial: storefront.Configuration{"primaryColor": "#000"}})
	e.Stage(storefront.Configuration{"primaryColor": "#111"})

	sink := &blockingSink{started: make(chan struct{}), release: make(chan struct{})}
	done := make(chan error, 1)
	go func() { done <- e.Confirm(context.Background(), sink) }()
	<-sink.started

	if err := e.Stage(storefront.Configuration{"logoUrl": "x"}); !errors.Is(err, ErrConfirmInFlight) {
		t.Errorf("Stage() during confirm error = %v, want ErrConfirmInFlight", err)
	}
	if err := e.Cancel(); !errors.Is(err, ErrConfirmInFlight) {
		t.Errorf("Cancel() during confirm error = %v, want ErrConfirmInFlight", err)
	}
	if err := e.RemoveField("primaryColor"); !errors.Is(err, ErrConfirmInFlight) {
		t.Errorf("RemoveField() during confirm error = %v, want ErrConfirmInFlight", err)
	}
	if err := e.Confirm(context.Background(), sink); !errors.Is(err, ErrConfirmInFlight) {
		t.Errorf("second Confirm() error = %v, want ErrConfirmInFlight", err)
	}

	close(sink.release)
	if err := <-done; err != nil {
		t.Fatalf("Confirm() error = %v", err)
	}
	if _, ok := e.Pending(); ok {
		t.Error("Pending() present after confirm")
	}
}

func TestEngine_Discard(t *testing.T) {
	e, _ := newEngine(t, nil)
	e.Stage(storefront.Configuration{"primaryColor": "#111"})
	e.Discard()

	if _, ok := e.Pending(); ok {
		t.Error("Pending() present after Discard")
	}
}
