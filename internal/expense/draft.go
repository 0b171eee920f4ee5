package expense

import (
	"errors"
	"math"
	"strings"
)

// ReceiptRowName labels the single row created when a receipt only yields a total
const ReceiptRowName = "レシート"

var (
	// ErrNoTitle is returned when saving a draft without a title
	ErrNoTitle = errors.New("entry title is required")
	// ErrTotalTooSmall is returned when saving a draft whose total is below 1
	ErrTotalTooSmall = errors.New("entry total must be at least 1")
)

// Draft is an entry being edited before it is saved into a Ledger
type Draft struct {
	Title   string
	rows    []Line
	editing int
}

// NewDraft starts an empty draft for a new entry
func NewDraft() *Draft {
	return &Draft{rows: []Line{{}}, editing: -1}
}

// EditDraft starts a draft that will replace entry i of the ledger on save
func EditDraft(l *Ledger, i int) (*Draft, error) {
	e, err := l.Entry(i)
	if err != nil {
		return nil, err
	}
	d := &Draft{Title: e.Title, rows: e.Lines, editing: i}
	if len(d.rows) == 0 {
		d.rows = []Line{{}}
	}
	return d, nil
}

// Editing returns the ledger index being edited, or -1 for a new entry
func (d *Draft) Editing() int {
	return d.editing
}

// Rows returns a copy of the draft rows
func (d *Draft) Rows() []Line {
	return append([]Line(nil), d.rows...)
}

// AddRow appends an empty row
func (d *Draft) AddRow() {
	d.rows = append(d.rows, Line{})
}

// RemoveRow deletes row i. The last remaining row is never removed.
func (d *Draft) RemoveRow(i int) bool {
	if len(d.rows) <= 1 || i < 0 || i >= len(d.rows) {
		return false
	}
	d.rows = append(d.rows[:i:i], d.rows[i+1:]...)
	return true
}

// SetName sets the item name of row i
func (d *Draft) SetName(i int, name string) bool {
	if i < 0 || i >= len(d.rows) {
		return false
	}
	d.rows[i].Name = name
	return true
}

// SetAmount sets the amount of row i. Negative or non-finite amounts become 0.
func (d *Draft) SetAmount(i int, amount float64) bool {
	if i < 0 || i >= len(d.rows) {
		return false
	}
	if amount < 0 || math.IsNaN(amount) || math.IsInf(amount, 0) {
		amount = 0
	}
	d.rows[i].Amount = amount
	return true
}

// Total sums the draft rows
func (d *Draft) Total() float64 {
	return Entry{Lines: d.rows}.Total()
}

// Validate reports why the draft cannot be saved, if it cannot
func (d *Draft) Validate() error {
	if strings.TrimSpace(d.Title) == "" {
		return ErrNoTitle
	}
	if d.Total() < 1 {
		return ErrTotalTooSmall
	}
	return nil
}

// CanSave reports whether Save would succeed
func (d *Draft) CanSave() bool {
	return d.Validate() == nil
}

// Prefill replaces the rows with lines read from a receipt. When no line
// could be read but a total was, a single receipt row carries the total. The
// title hint is used only if the draft has no title yet.
func (d *Draft) Prefill(lines []Line, total *float64, titleHint string) {
	switch {
	case len(lines) > 0:
		d.rows = append([]Line(nil), lines...)
	case total != nil && *total > 0:
		d.rows = []Line{{Name: ReceiptRowName, Amount: *total}}
	}
	if strings.TrimSpace(d.Title) == "" {
		d.Title = strings.TrimSpace(titleHint)
	}
}

// Entry builds the entry the draft would save. Names are trimmed and
// placeholder rows dropped.
func (d *Draft) Entry() Entry {
	e := Entry{Title: strings.TrimSpace(d.Title)}
	for _, r := range d.rows {
		if r.Amount == 0 {
			continue
		}
		e.Lines = append(e.Lines, Line{Name: strings.TrimSpace(r.Name), Amount: r.Amount})
	}
	return e
}

// Save writes the draft into the ledger, replacing the edited entry if there
// is one, and clears the draft
func (d *Draft) Save(l *Ledger) error {
	if err := d.Validate(); err != nil {
		return err
	}
	if d.editing >= 0 {
		if err := l.Replace(d.editing, d.Entry()); err != nil {
			return err
		}
	} else {
		l.Append(d.Entry())
	}
	d.clear()
	return nil
}

// SaveAndContinue always appends the draft as a new entry and clears it for
// the next one
func (d *Draft) SaveAndContinue(l *Ledger) error {
	if err := d.Validate(); err != nil {
		return err
	}
	l.Append(d.Entry())
	d.clear()
	return nil
}

func (d *Draft) clear() {
	d.Title = ""
	d.rows = []Line{{}}
	d.editing = -1
}
