// Package store persists descriptor records and feature vectors as CSV
// tables keyed by model identifier.
//
// Records are held in a B-tree ordered by identifier, so every snapshot of a
// table iterates in the same order regardless of how rows were inserted.
package store

import (
	"github.com/tidwall/btree"

	"github.com/sanonone/shaperet/pkg/descriptor"
)

func recordLess(a, b *descriptor.Record) bool {
	return a.ID < b.ID
}

// Table is an identifier-ordered set of descriptor records. It is safe for
// concurrent use.
type Table struct {
	rows *btree.BTreeG[*descriptor.Record]
}

// NewTable creates an empty table.
func NewTable() *Table {
	return &Table{rows: btree.NewBTreeG[*descriptor.Record](recordLess)}
}

// Put inserts r, replacing any record with the same identifier. It reports
// whether a record was replaced.
func (t *Table) Put(r *descriptor.Record) bool {
	_, replaced := t.rows.Set(r)
	return replaced
}

// Get returns the record stored under id.
func (t *Table) Get(id int) (*descriptor.Record, bool) {
	return t.rows.Get(&descriptor.Record{ID: id})
}

// Delete removes the record stored under id.
func (t *Table) Delete(id int) bool {
	_, ok := t.rows.Delete(&descriptor.Record{ID: id})
	return ok
}

// Len returns the number of records.
func (t *Table) Len() int {
	return t.rows.Len()
}

// Ascend calls fn for every record with an identifier of at least from, in
// identifier order, until fn returns false.
func (t *Table) Ascend(from int, fn func(*descriptor.Record) bool) {
	t.rows.Ascend(&descriptor.Record{ID: from}, fn)
}

// Records returns every record in identifier order.
func (t *Table) Records() []*descriptor.Record {
	out := make([]*descriptor.Record, 0, t.rows.Len())
	t.rows.Scan(func(r *descriptor.Record) bool {
		out = append(out, r)
		return true
	})
	return out
}
