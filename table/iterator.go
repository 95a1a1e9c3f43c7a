package table

import (
	"github.com/bsm/blitstore/tree"
	"github.com/cockroachdb/errors"
)

// SeekByPrimaryKey returns an iterator over the rows in primary key order,
// starting at key. With startsWith, only keys with the prefix key are
// visited.
func (t *Table) SeekByPrimaryKey(key []byte, startsWith bool) *RowIterator {
	var prefix []byte
	if startsWith {
		prefix = key
	}
	return &RowIterator{t: t, it: t.pk.Iterate(prefix), start: append([]byte(nil), key...)}
}

// SeekForwardFrom returns an iterator over the keys of the named index,
// starting at value. With startsWith, only keys with the prefix value are
// visited. Each key groups all rows sharing it.
func (t *Table) SeekForwardFrom(index string, value []byte, startsWith bool) (*IndexIterator, error) {
	idx, ok := t.idx[index]
	if !ok {
		return nil, errors.Newf("table: %q has no index %q", t.name, index)
	}

	var prefix []byte
	if startsWith {
		prefix = value
	}
	return &IndexIterator{t: t, idx: idx, it: idx.Iterate(prefix), start: append([]byte(nil), value...)}, nil
}

// SeekByFixedIndex returns an iterator over the rows of the named fixed
// index in key order, starting at value.
func (t *Table) SeekByFixedIndex(index string, value int64) (*FixedIndexIterator, error) {
	f, ok := t.fixed[index]
	if !ok {
		return nil, errors.Newf("table: %q has no fixed index %q", t.name, index)
	}
	return &FixedIndexIterator{t: t, it: f.Iterate(), start: value}, nil
}

// --------------------------------------------------------------------

// RowIterator iterates over rows in primary key order.
type RowIterator struct {
	t       *Table
	it      *tree.Iterator
	start   []byte
	started bool

	rec Record
	err error
}

// Next advances the cursor to the next row and returns true if successful.
func (i *RowIterator) Next() bool {
	if i.err != nil {
		return false
	}

	var ok bool
	if !i.started {
		i.started = true
		if len(i.start) == 0 {
			ok = i.it.SeekTo(tree.BeforeAllKeys)
		} else {
			ok = i.it.Seek(i.start)
		}
	} else {
		ok = i.it.Next()
	}
	if !ok {
		i.err = i.it.Err()
		return false
	}

	val, err := i.it.Value()
	if err != nil {
		i.err = err
		return false
	}
	id, err := decodeID(val)
	if err != nil {
		i.err = err
		return false
	}
	row, err := i.t.mustRead(id)
	if err != nil {
		i.err = err
		return false
	}
	i.rec = Record{ID: id, Row: row}
	return true
}

// Key returns the primary key of the current row. The key is only valid
// until the cursor moves.
func (i *RowIterator) Key() []byte { return i.it.Key() }

// Record returns the current row.
func (i *RowIterator) Record() Record { return i.rec }

// Err exposes iterator errors, if any.
func (i *RowIterator) Err() error { return i.err }

// --------------------------------------------------------------------

// IndexIterator iterates over the keys of a secondary index.
type IndexIterator struct {
	t       *Table
	idx     *tree.Tree
	it      *tree.Iterator
	start   []byte
	started bool

	err error
}

// Next advances the cursor to the next key and returns true if successful.
func (i *IndexIterator) Next() bool {
	if i.err != nil {
		return false
	}

	var ok bool
	if !i.started {
		i.started = true
		if len(i.start) == 0 {
			ok = i.it.SeekTo(tree.BeforeAllKeys)
		} else {
			ok = i.it.Seek(i.start)
		}
	} else {
		ok = i.it.Next()
	}
	if !ok {
		i.err = i.it.Err()
	}
	return ok
}

// Key returns the current index key. The key is only valid until the
// cursor moves.
func (i *IndexIterator) Key() []byte { return i.it.Key() }

// IDs returns the ids of all rows sharing the current key, in ascending
// order.
func (i *IndexIterator) IDs() ([]int64, error) {
	ids, err := i.idx.FixedTreeFor(i.it.Key(), 0)
	if err != nil {
		return nil, err
	}

	res := make([]int64, 0, ids.NumberOfEntries())
	it := ids.Iterate()
	for ok := it.First(); ok; ok = it.Next() {
		res = append(res, it.Key())
	}
	return res, it.Err()
}

// Records returns all rows sharing the current key, in id order.
func (i *IndexIterator) Records() ([]Record, error) {
	ids, err := i.IDs()
	if err != nil {
		return nil, err
	}

	res := make([]Record, 0, len(ids))
	for _, id := range ids {
		row, err := i.t.mustRead(id)
		if err != nil {
			return nil, err
		}
		res = append(res, Record{ID: id, Row: row})
	}
	return res, nil
}

// Err exposes iterator errors, if any.
func (i *IndexIterator) Err() error { return i.err }

// --------------------------------------------------------------------

// FixedIndexIterator iterates over the rows of a fixed index.
type FixedIndexIterator struct {
	t       *Table
	it      *tree.FixedIterator
	start   int64
	started bool

	rec Record
	err error
}

// Next advances the cursor to the next row and returns true if successful.
func (i *FixedIndexIterator) Next() bool {
	if i.err != nil {
		return false
	}

	var ok bool
	if !i.started {
		i.started = true
		ok = i.it.SeekTo(i.start)
	} else {
		ok = i.it.Next()
	}
	if !ok {
		i.err = i.it.Err()
		return false
	}

	id, err := decodeID(i.it.Value())
	if err != nil {
		i.err = err
		return false
	}
	row, err := i.t.mustRead(id)
	if err != nil {
		i.err = err
		return false
	}
	i.rec = Record{ID: id, Row: row}
	return true
}

// Key returns the current index key.
func (i *FixedIndexIterator) Key() int64 { return i.it.Key() }

// Record returns the current row.
func (i *FixedIndexIterator) Record() Record { return i.rec }

// Err exposes iterator errors, if any.
func (i *FixedIndexIterator) Err() error { return i.err }
