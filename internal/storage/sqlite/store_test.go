package sqlite

import (
	"context"
	"errors"
	"os"
	"reflect"
	"testing"

	"github.com/tjfontaine/storefront-studio/internal/storage"
	"github.com/tjfontaine/storefront-studio/internal/storefront"
	"github.com/tjfontaine/storefront-studio/internal/transcript"
)

func newTestStore(t *testing.T, name string) *Store {
	t.Helper()
	// Use in-memory SQLite with shared cache for testing
	store, err := New("file:" + name + "?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSQLiteStore_CreateSession(t *testing.T) {
	store := newTestStore(t, "memdb1")

	rec := &storage.SessionRecord{ID: "sess-1"}
	if err := store.CreateSession(context.Background(), rec); err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}

	retrieved, err := store.GetSession(context.Background(), "sess-1")
	if err != nil {
		t.Fatalf("GetSession() error = %v", err)
	}
	if retrieved.ID != rec.ID {
		t.Errorf("ID = %v, want %v", retrieved.ID, rec.ID)
	}
	if retrieved.Status != storage.StatusActive {
		t.Errorf("Status = %v, want %v", retrieved.Status, storage.StatusActive)
	}
	if retrieved.ShopID != "" {
		t.Errorf("ShopID = %q, want empty", retrieved.ShopID)
	}
}

func TestSQLiteStore_GetSessionNotFound(t *testing.T) {
	store := newTestStore(t, "memdb2")

	_, err := store.GetSession(context.Background(), "missing")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("GetSession() error = %v, want ErrNotFound", err)
	}
}

func TestSQLiteStore_UpdateSession(t *testing.T) {
	store := newTestStore(t, "memdb3")
	ctx := context.Background()

	if err := store.CreateSession(ctx, &storage.SessionRecord{ID: "sess-1"}); err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}

	rec := &storage.SessionRecord{ID: "sess-1", ShopID: "shop_42", Status: storage.StatusEnded}
	if err := store.UpdateSession(ctx, rec); err != nil {
		t.Fatalf("UpdateSession() error = %v", err)
	}

	retrieved, err := store.GetSession(ctx, "sess-1")
	if err != nil {
		t.Fatalf("GetSession() error = %v", err)
	}
	if retrieved.ShopID != "shop_42" || retrieved.Status != storage.StatusEnded {
		t.Errorf("session = %+v", retrieved)
	}

	err = store.UpdateSession(ctx, &storage.SessionRecord{ID: "missing", Status: storage.StatusEnded})
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("UpdateSession() error = %v, want ErrNotFound", err)
	}
}

func TestSQLiteStore_SaveTemplatePatch(t *testing.T) {
	store := newTestStore(t, "memdb4")
	ctx := context.Background()

	if err := store.CreateSession(ctx, &storage.SessionRecord{ID: "sess-1"}); err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}

	empty, err := store.GetTemplate(ctx, "sess-1")
	if err != nil {
		t.Fatalf("GetTemplate() error = %v", err)
	}
	if len(empty) != 0 {
		t.Errorf("GetTemplate() = %v, want empty", empty)
	}

	patch := storefront.Configuration{
		"primaryColor": "#FF4F41",
		storefront.FilterOptionsKey: map[string]any{
			storefront.FilterCategories: []any{"Novedades"},
		},
	}
	for i := 0; i < 2; i++ {
		if err := store.SaveTemplatePatch(ctx, "sess-1", patch); err != nil {
			t.Fatalf("SaveTemplatePatch() error = %v", err)
		}
	}
	if err := store.SaveTemplatePatch(ctx, "sess-1", storefront.Configuration{
		"showPrices": true,
		storefront.FilterOptionsKey: map[string]any{
			storefront.FilterSortOptions: []any{"precio"},
		},
	}); err != nil {
		t.Fatalf("SaveTemplatePatch() error = %v", err)
	}

	got, err := store.GetTemplate(ctx, "sess-1")
	if err != nil {
		t.Fatalf("GetTemplate() error = %v", err)
	}
	want := storefront.Configuration{
		"primaryColor": "#FF4F41",
		"showPrices":   true,
		storefront.FilterOptionsKey: map[string]any{
			storefront.FilterCategories:  []any{"Novedades"},
			storefront.FilterSortOptions: []any{"precio"},
		},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("GetTemplate() = %v, want %v", got, want)
	}

	if err := store.SaveTemplatePatch(ctx, "missing", patch); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("SaveTemplatePatch() unknown session error = %v", err)
	}
}

func TestSQLiteStore_Transcript(t *testing.T) {
	store := newTestStore(t, "memdb5")
	ctx := context.Background()

	if err := store.CreateSession(ctx, &storage.SessionRecord{ID: "sess-1"}); err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}

	entries := []transcript.Entry{
		transcript.NewEntry(transcript.OriginAssistant, "¿Cómo se llamará tu tienda?"),
		transcript.NewEntry(transcript.OriginUser, "Mi Tienda"),
		transcript.NewEntry(transcript.OriginAssistant, "¿Qué productos vas a vender?"),
	}
	if err := store.AppendEntries(ctx, "sess-1", entries[:2]...); err != nil {
		t.Fatalf("AppendEntries() error = %v", err)
	}
	if err := store.AppendEntries(ctx, "sess-1", entries[2]); err != nil {
		t.Fatalf("AppendEntries() error = %v", err)
	}

	got, err := store.ListEntries(ctx, "sess-1")
	if err != nil {
		t.Fatalf("ListEntries() error = %v", err)
	}
	if len(got) != len(entries) {
		t.Fatalf("ListEntries() count = %d, want %d", len(got), len(entries))
	}
	for i := range entries {
		if got[i].ID != entries[i].ID || got[i].Origin != entries[i].Origin || got[i].Text != entries[i].Text {
			t.Errorf("entry %d = %+v, want %+v", i, got[i], entries[i])
		}
	}
}

func TestSQLiteStore_ListSessions(t *testing.T) {
	store := newTestStore(t, "memdb6")
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		if err := store.CreateSession(ctx, &storage.SessionRecord{ID: id}); err != nil {
			t.Fatalf("CreateSession() error = %v", err)
		}
	}
	store.UpdateSession(ctx, &storage.SessionRecord{ID: "b", Status: storage.StatusEnded})

	all, err := store.ListSessions(ctx, storage.ListOptions{})
	if err != nil {
		t.Fatalf("ListSessions() error = %v", err)
	}
	if len(all) != 3 {
		t.Errorf("ListSessions() count = %d, want 3", len(all))
	}

	active, err := store.ListSessions(ctx, storage.ListOptions{Status: storage.StatusActive})
	if err != nil {
		t.Fatalf("ListSessions() error = %v", err)
	}
	if len(active) != 2 {
		t.Errorf("ListSessions(active) count = %d, want 2", len(active))
	}

	page, _ := store.ListSessions(ctx, storage.ListOptions{Limit: 1, Offset: 1})
	if len(page) != 1 {
		t.Errorf("ListSessions(page) count = %d, want 1", len(page))
	}
}

func TestSQLiteStore_FileDatabase(t *testing.T) {
	tmpFile, err := os.CreateTemp("", "studio-test-*.db")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	tmpFile.Close()
	defer os.Remove(tmpFile.Name())

	store, err := New(tmpFile.Name())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	ctx := context.Background()
	store.CreateSession(ctx, &storage.SessionRecord{ID: "sess-1"})
	store.SaveTemplatePatch(ctx, "sess-1", storefront.Configuration{"name": "Mi Tienda"})
	store.Close()

	// Reopen and verify the template survived.
	store, err = New(tmpFile.Name())
	if err != nil {
		t.Fatalf("New() reopen error = %v", err)
	}
	defer store.Close()

	got, err := store.GetTemplate(ctx, "sess-1")
	if err != nil {
		t.Fatalf("GetTemplate() error = %v", err)
	}
	if got["name"] != "Mi Tienda" {
		t.Errorf("GetTemplate() = %v", got)
	}
}
