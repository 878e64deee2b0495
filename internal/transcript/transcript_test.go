package transcript

import (
	"strings"
	"testing"
)

func TestAppend_PreservesOrderAndImmutability(t *testing.T) {
	var empty Transcript
	a := empty.Append(NewEntry(OriginAssistant, "¿Cómo se llamará tu tienda?"))
	b := a.Append(NewEntry(OriginUser, "Mi Tienda"))
	c := a.Append(NewEntry(OriginUser, "Otra"))

	if empty.Len() != 0 {
		t.Errorf("empty.Len() = %d, want 0", empty.Len())
	}
	if a.Len() != 1 {
		t.Errorf("a.Len() = %d, want 1", a.Len())
	}
	if b.Entries()[1].Text != "Mi Tienda" {
		t.Errorf("b[1] = %q, want Mi Tienda", b.Entries()[1].Text)
	}
	// Appending to the same parent twice must not clobber the sibling.
	if c.Entries()[1].Text != "Otra" || b.Entries()[1].Text != "Mi Tienda" {
		t.Errorf("sibling transcripts share storage: b=%v c=%v", b.Entries(), c.Entries())
	}
}

func TestEntries_ReturnsCopy(t *testing.T) {
	tr := New(NewEntry(OriginUser, "hola"))
	entries := tr.Entries()
	entries[0].Text = "changed"

	if tr.Entries()[0].Text != "hola" {
		t.Error("Entries() exposed internal storage")
	}
}

func TestFindLastByOrigin(t *testing.T) {
	tr := New(
		NewEntry(OriginAssistant, "first question"),
		NewEntry(OriginUser, "answer"),
		NewEntry(OriginAssistant, "second question"),
		NewEntry(OriginUser, "another answer"),
	)

	tests := []struct {
		origin Origin
		want   string
	}{
		{OriginAssistant, "second question"},
		{OriginUser, "another answer"},
	}
	for _, tt := range tests {
		t.Run(string(tt.origin), func(t *testing.T) {
			got, ok := tr.FindLastByOrigin(tt.origin)
			if !ok {
				t.Fatal("FindLastByOrigin() found nothing")
			}
			if got.Text != tt.want {
				t.Errorf("FindLastByOrigin() = %q, want %q", got.Text, tt.want)
			}
		})
	}

	if _, ok := (Transcript{}).FindLastByOrigin(OriginUser); ok {
		t.Error("FindLastByOrigin() on empty transcript found an entry")
	}
}

func TestNewEntry_UniqueIDs(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		e := NewEntry(OriginUser, "x")
		if !strings.HasPrefix(e.ID, "msg_") {
			t.Fatalf("ID = %q, want msg_ prefix", e.ID)
		}
		if seen[e.ID] {
			t.Fatalf("duplicate ID %q", e.ID)
		}
		seen[e.ID] = true
	}
}

func TestSince(t *testing.T) {
	tr := New(NewEntry(OriginUser, "a"), NewEntry(OriginAssistant, "b"), NewEntry(OriginAssistant, "c"))

	if got := tr.Since(1); len(got) != 2 || got[0].Text != "b" {
		t.Errorf("Since(1) = %v", got)
	}
	if got := tr.Since(3); got != nil {
		t.Errorf("Since(3) = %v, want nil", got)
	}
}
