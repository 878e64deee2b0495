// Package transcript models the append-only conversation between the user and
// the assistant.
package transcript

import (
	"time"

	"github.com/google/uuid"
)

// Origin identifies who produced an entry.
type Origin string

const (
	OriginUser      Origin = "user"
	OriginAssistant Origin = "assistant"
)

// Entry is a single conversation turn. Entries are never mutated.
type Entry struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	Origin    Origin    `json:"origin"`
	Timestamp time.Time `json:"timestamp"`
}

// NewEntry creates an entry with a fresh ID and the current time.
func NewEntry(origin Origin, text string) Entry {
	return Entry{
		ID:        "msg_" + uuid.New().String(),
		Text:      text,
		Origin:    origin,
		Timestamp: time.Now().UTC(),
	}
}

// Transcript is an ordered, append-only sequence of entries. The zero value is
// an empty transcript. Values are immutable: Append returns a new Transcript.
type Transcript struct {
	entries []Entry
}

// New builds a transcript from existing entries (copied).
func New(entries ...Entry) Transcript {
	return Transcript{entries: append([]Entry(nil), entries...)}
}

// Append returns a transcript with e added at the end.
func (t Transcript) Append(e Entry) Transcript {
	next := make([]Entry, len(t.entries), len(t.entries)+1)
	copy(next, t.entries)
	return Transcript{entries: append(next, e)}
}

// FindLastByOrigin returns the most recent entry with the given origin.
func (t Transcript) FindLastByOrigin(origin Origin) (Entry, bool) {
	for i := len(t.entries) - 1; i >= 0; i-- {
		if t.entries[i].Origin == origin {
			return t.entries[i], true
		}
	}
	return Entry{}, false
}

// Entries returns a copy of the entries in insertion order.
func (t Transcript) Entries() []Entry {
	return append([]Entry(nil), t.entries...)
}

// Len returns the number of entries.
func (t Transcript) Len() int {
	return len(t.entries)
}

// Since returns the entries appended after the first n.
func (t Transcript) Since(n int) []Entry {
	if n >= len(t.entries) {
		return nil
	}
	if n < 0 {
		n = 0
	}
	return append([]Entry(nil), t.entries[n:]...)
}
