package metrics

import (
	"context"
	"testing"
	"time"
)

func TestNew(t *testing.T) {
	m, err := New()
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if m.exchanges == nil || m.exchangeDuration == nil || m.patchesStaged == nil ||
		m.reconciliations == nil || m.shopCreations == nil || m.sessionsActive == nil {
		t.Errorf("New() left instruments unset: %+v", m)
	}
}

func TestStudio_Record(t *testing.T) {
	m, err := New()
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	ctx := context.Background()

	// Recording on the default provider must not panic.
	m.RecordExchange(ctx, OutcomeOK, 150*time.Millisecond)
	m.RecordExchange(ctx, OutcomeFailed, time.Second)
	m.RecordStaged(ctx, 3)
	m.RecordReconciled(ctx, "confirm", "ok")
	m.RecordShopCreation(ctx, false)
	m.SessionOpened(ctx)
	m.SessionClosed(ctx)
}

func TestStudio_NilReceiver(t *testing.T) {
	var m *Studio
	ctx := context.Background()

	m.RecordExchange(ctx, OutcomeOK, time.Second)
	m.RecordStaged(ctx, 1)
	m.RecordReconciled(ctx, "cancel", "ok")
	m.RecordShopCreation(ctx, true)
	m.SessionOpened(ctx)
	m.SessionClosed(ctx)
}
