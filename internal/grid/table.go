package grid

import (
	"sync"

	"github.com/JakeFAU/course-enricher/internal/catalog"
)

// Update is one result to merge into the table: the mapped fields of a
// successful record, or its error and details.
type Update struct {
	ID     string
	Fields catalog.Record
}

// Table holds the current rows and the column registry derived from them.
type Table struct {
	registry *Registry
	layout   LayoutFunc

	mu    sync.RWMutex
	rows  []catalog.Record
	index map[string]int
}

// NewTable returns an empty table. layout may be nil.
func NewTable(layout LayoutFunc) *Table {
	return &Table{
		registry: NewRegistry(),
		layout:   layout,
		index:    make(map[string]int),
	}
}

// Load replaces the rows, discovering columns from every row. Columns found
// earlier are kept.
func (t *Table) Load(rows []catalog.Record) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rows = make([]catalog.Record, 0, len(rows))
	t.index = make(map[string]int, len(rows))
	for _, row := range rows {
		t.registry.Observe(row.Keys()...)
		t.insertLocked(row.Clone())
	}
}

// Apply merges batch results into the matching rows and returns how many rows
// changed. Fields of every update are registered even when no row matches.
func (t *Table) Apply(updates []Update) int {
	for _, u := range updates {
		t.registry.Observe(u.Fields.Keys()...)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	merged := 0
	for _, u := range updates {
		i, ok := t.index[u.ID]
		if !ok {
			continue
		}
		t.rows[i] = MergeRow(t.rows[i], u.Fields)
		merged++
	}
	return merged
}

// ApplyUpdate replaces the row of a store-pushed record, appending it when
// new.
func (t *Table) ApplyUpdate(rec catalog.Record) {
	t.registry.Observe(rec.Keys()...)
	t.mu.Lock()
	defer t.mu.Unlock()
	if i, ok := t.index[rec.ID()]; ok {
		t.rows[i] = rec.Clone()
		return
	}
	t.insertLocked(rec.Clone())
}

func (t *Table) insertLocked(row catalog.Record) {
	if id := row.ID(); id != "" {
		if i, dup := t.index[id]; dup {
			t.rows[i] = row
			return
		}
		t.index[id] = len(t.rows)
	}
	t.rows = append(t.rows, row)
}

// Columns returns the sorted descriptors with the saved layout applied.
func (t *Table) Columns() []Column {
	cols := t.registry.Columns()
	if t.layout != nil {
		cols = t.layout(cols)
	}
	return cols
}

// Rows returns copies of the rows in load order.
func (t *Table) Rows() []catalog.Record {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]catalog.Record, len(t.rows))
	for i, r := range t.rows {
		out[i] = r.Clone()
	}
	return out
}

// Select returns copies of the rows whose id is in ids, in table order.
func (t *Table) Select(ids ...string) []catalog.Record {
	want := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		want[id] = struct{}{}
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []catalog.Record
	for _, r := range t.rows {
		if _, ok := want[r.ID()]; ok {
			out = append(out, r.Clone())
		}
	}
	return out
}

// Registry exposes the column registry.
func (t *Table) Registry() *Registry {
	return t.registry
}

// MergeRow overwrites fields of row with update. When update carries an
// error, error, details and smartId move to the front; every other field
// keeps its value and order.
func MergeRow(row, update catalog.Record) catalog.Record {
	merged := row.Clone()
	merged.Merge(update)
	if v, _ := update.Get(catalog.FieldError); catalog.Truthy(v) {
		merged.Reorder(catalog.FieldError, catalog.FieldDetails, catalog.FieldSmartID)
	}
	return merged
}
