package table

import (
	"github.com/bsm/blitstore"
	"github.com/bsm/blitstore/pager"
	"github.com/bsm/blitstore/snapshot"
)

// Dump appends all rows to w in primary key order, keyed by sequence
// numbers starting at 1. The schema is stored as snapshot metadata. The
// writer is not closed.
func (t *Table) Dump(w *snapshot.Writer) error {
	meta, err := marshal(&t.schema)
	if err != nil {
		return err
	}
	w.SetMeta(meta)

	var seq uint64
	it := t.SeekByPrimaryKey(nil, false)
	for it.Next() {
		seq++
		if err := w.Append(seq, it.Record().Row.Bytes()); err != nil {
			return err
		}
	}
	return it.Err()
}

// Restore creates the named table with the schema of a snapshot written by
// Dump and stores all of its rows. Rows with existing primary keys are
// replaced.
func Restore(tx *pager.Tx, name string, r *snapshot.Reader, o *Options) (*Table, error) {
	var schema Schema
	if err := unmarshal(r.Meta(), &schema); err != nil {
		return nil, blitstore.Corruptf("table: bad snapshot schema: %v", err)
	}

	t, err := Create(tx, name, schema, o)
	if err != nil {
		return nil, err
	}

	iter, err := r.Seek(0)
	if err != nil {
		return nil, err
	}
	defer iter.Release()

	for iter.Next() {
		if _, err := t.Set(iter.Value()); err != nil {
			return nil, err
		}
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return t, nil
}
