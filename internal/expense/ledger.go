package expense

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrNoEntry is returned for ledger indexes that do not exist
var ErrNoEntry = errors.New("no such ledger entry")

// Line is one expense item. An amount of 0 is a placeholder for a row the
// user has not filled in yet.
type Line struct {
	Name   string  `json:"name"`
	Amount float64 `json:"amount"`
}

// Entry is a titled group of expense lines
type Entry struct {
	Title string
	Lines []Line
}

// Total sums the entry's lines. It is always derived, never stored.
func (e Entry) Total() float64 {
	var sum float64
	for _, l := range e.Lines {
		sum += l.Amount
	}
	return sum
}

type entryJSON struct {
	Title   string  `json:"title"`
	Total   float64 `json:"total"`
	Details []Line  `json:"details"`
}

// MarshalJSON writes the entry with its recomputed total
func (e Entry) MarshalJSON() ([]byte, error) {
	details := e.Lines
	if details == nil {
		details = []Line{}
	}
	return json.Marshal(entryJSON{Title: e.Title, Total: e.Total(), Details: details})
}

// UnmarshalJSON reads an entry, discarding any stored total
func (e *Entry) UnmarshalJSON(data []byte) error {
	var raw entryJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	e.Title = raw.Title
	e.Lines = raw.Details
	return nil
}

func (e Entry) clone() Entry {
	e.Lines = append([]Line(nil), e.Lines...)
	return e
}

// Ledger is the ordered list of expense entries for a trip
type Ledger struct {
	entries []Entry
}

// NewLedger creates a ledger holding copies of the given entries
func NewLedger(entries ...Entry) *Ledger {
	l := &Ledger{}
	for _, e := range entries {
		l.Append(e)
	}
	return l
}

// Append adds an entry at the end
func (l *Ledger) Append(e Entry) {
	l.entries = append(l.entries, e.clone())
}

// Replace swaps the entry at index i
func (l *Ledger) Replace(i int, e Entry) error {
	if i < 0 || i >= len(l.entries) {
		return fmt.Errorf("replacing entry %d: %w", i, ErrNoEntry)
	}
	l.entries[i] = e.clone()
	return nil
}

// Remove deletes the entry at index i
func (l *Ledger) Remove(i int) error {
	if i < 0 || i >= len(l.entries) {
		return fmt.Errorf("removing entry %d: %w", i, ErrNoEntry)
	}
	l.entries = append(l.entries[:i:i], l.entries[i+1:]...)
	return nil
}

// Reset empties the ledger
func (l *Ledger) Reset() {
	l.entries = nil
}

// Entry returns a copy of the entry at index i
func (l *Ledger) Entry(i int) (Entry, error) {
	if i < 0 || i >= len(l.entries) {
		return Entry{}, fmt.Errorf("reading entry %d: %w", i, ErrNoEntry)
	}
	return l.entries[i].clone(), nil
}

// Entries returns copies of all entries in order
func (l *Ledger) Entries() []Entry {
	out := make([]Entry, 0, len(l.entries))
	for _, e := range l.entries {
		out = append(out, e.clone())
	}
	return out
}

// Len is the number of entries
func (l *Ledger) Len() int {
	return len(l.entries)
}

// Total sums every entry
func (l *Ledger) Total() float64 {
	var sum float64
	for _, e := range l.entries {
		sum += e.Total()
	}
	return sum
}
