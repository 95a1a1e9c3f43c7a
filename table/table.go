package table

import (
	"bytes"
	"encoding/binary"

	"github.com/bsm/blitstore"
	"github.com/bsm/blitstore/pager"
	"github.com/bsm/blitstore/tree"
	"github.com/cockroachdb/errors"
)

var (
	// ErrNotFound is returned when a table or a row id does not exist.
	ErrNotFound = errors.New("table: not found")

	// ErrDuplicateKey is returned when a primary or a fixed index key is
	// already taken by another row.
	ErrDuplicateKey = errors.New("table: duplicate key")
)

var (
	metaSchemaKey = []byte("schema")
	metaRawKey    = []byte("raw")
)

type tableKey string

// Table is a table bound to a transaction.
type Table struct {
	tx     *pager.Tx
	name   string
	schema Schema
	o      *Options

	meta  *tree.Tree
	pk    *tree.Tree
	idx   map[string]*tree.Tree
	fixed map[string]*tree.FixedSizeTree
	raw   *rawData
}

// Record is a row with its id.
type Record struct {
	ID  int64
	Row Row
}

// Create opens the named table, creating it if it does not exist. An
// existing table must have the same schema.
func Create(tx *pager.Tx, name string, schema Schema, o *Options) (*Table, error) {
	if err := schema.Validate(); err != nil {
		return nil, err
	}
	enc, err := marshal(&schema)
	if err != nil {
		return nil, err
	}

	t, err := Open(tx, name, o)
	if err == nil {
		have, err := marshal(&t.schema)
		if err != nil {
			return nil, err
		}
		if !bytes.Equal(have, enc) {
			return nil, errors.Newf("table: %q exists with a different schema", name)
		}
		return t, nil
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	if !tx.Writable() {
		return nil, blitstore.ErrReadOnly
	}

	meta, err := tree.Create(tx, name, 0)
	if err != nil {
		return nil, err
	}
	if err := meta.Add(metaSchemaKey, enc); err != nil {
		return nil, err
	}
	if _, err := tree.Create(tx, pkTreeName(name), 0); err != nil {
		return nil, err
	}
	for _, d := range schema.Indexes {
		if _, err := tree.Create(tx, indexTreeName(name, d.Name), 0); err != nil {
			return nil, err
		}
	}
	return Open(tx, name, o)
}

// Open opens the named table. It returns ErrNotFound if the table does not
// exist. Tables are cached per transaction, options only apply to the first
// Open within a transaction.
func Open(tx *pager.Tx, name string, o *Options) (*Table, error) {
	if t, ok := tx.Value(tableKey(name)).(*Table); ok {
		return t, nil
	}

	meta, err := tree.Open(tx, name)
	if errors.Is(err, tree.ErrNotFound) {
		return nil, errors.Wrapf(ErrNotFound, "table %q", name)
	} else if err != nil {
		return nil, err
	}

	t := &Table{
		tx:    tx,
		name:  name,
		o:     o.norm(tx.PageSize()),
		meta:  meta,
		idx:   make(map[string]*tree.Tree),
		fixed: make(map[string]*tree.FixedSizeTree),
	}

	enc, ok, err := meta.Read(metaSchemaKey)
	if err != nil {
		return nil, err
	} else if !ok {
		return nil, errors.Wrapf(ErrNotFound, "table %q has no schema", name)
	}
	if err := unmarshal(enc, &t.schema); err != nil {
		return nil, blitstore.Corruptf("table: bad schema of %q: %v", name, err)
	}

	var st rawState
	if enc, ok, err := meta.Read(metaRawKey); err != nil {
		return nil, err
	} else if ok {
		if err := unmarshal(enc, &st); err != nil {
			return nil, blitstore.Corruptf("table: bad raw data state of %q: %v", name, err)
		}
	}
	t.raw = newRawData(tx, t.o, st)

	if t.pk, err = tree.Open(tx, pkTreeName(name)); err != nil {
		return nil, err
	}
	for _, d := range t.schema.Indexes {
		if t.idx[d.Name], err = tree.Open(tx, indexTreeName(name, d.Name)); err != nil {
			return nil, err
		}
	}
	for _, d := range t.schema.FixedIndexes {
		if t.fixed[d.Name], err = tree.OpenFixedTree(tx, fixedTreeName(name, d.Name), 8); err != nil {
			return nil, err
		}
	}

	if tx.Writable() {
		tx.BeforeCommit(t.flush)
	}
	tx.SetValue(tableKey(name), t)
	return t, nil
}

func pkTreeName(name string) string          { return name + "/pk" }
func indexTreeName(name, index string) string { return name + "/idx/" + index }
func fixedTreeName(name, index string) string { return name + "/fixed/" + index }

// flush stores the raw data state.
func (t *Table) flush(_ *pager.Tx) error {
	if !t.raw.dirty {
		return nil
	}
	t.raw.dirty = false

	enc, err := marshal(&t.raw.state)
	if err != nil {
		return err
	}
	return t.meta.Add(metaRawKey, enc)
}

// Name returns the table name.
func (t *Table) Name() string { return t.name }

// Tx returns the transaction the table is bound to.
func (t *Table) Tx() *pager.Tx { return t.tx }

// Schema returns the table schema.
func (t *Table) Schema() Schema { return t.schema }

// NumberOfEntries returns the number of rows.
func (t *Table) NumberOfEntries() int64 { return t.pk.State().NumberOfEntries }

// Insert stores a new row and returns its id. It fails with ErrDuplicateKey
// if the primary key or a fixed index key is taken.
func (t *Table) Insert(data []byte) (int64, error) {
	row, err := ParseRow(data)
	if err != nil {
		return 0, err
	}
	pk, err := t.schema.PrimaryKey.Key(row)
	if err != nil {
		return 0, err
	}
	if err := t.checkKeySizes(pk, row); err != nil {
		return 0, err
	}
	if _, ok, err := t.pk.Read(pk); err != nil {
		return 0, err
	} else if ok {
		return 0, errors.Wrapf(ErrDuplicateKey, "table: primary key %q", pk)
	}
	if err := t.checkKeys(row, nil); err != nil {
		return 0, err
	}

	id, err := t.raw.insert(data)
	if err != nil {
		return 0, err
	}
	if err := t.pk.Add(pk, encodeID(id)); err != nil {
		return 0, err
	}
	return id, t.insertIndexes(id, row)
}

// Update replaces the row at id. The row may move, the returned id is the
// current one. It fails with ErrNotFound if id is not a live row.
func (t *Table) Update(id int64, data []byte) (int64, error) {
	row, err := ParseRow(data)
	if err != nil {
		return 0, err
	}
	newPK, err := t.schema.PrimaryKey.Key(row)
	if err != nil {
		return 0, err
	}
	if err := t.checkKeySizes(newPK, row); err != nil {
		return 0, err
	}

	old, ok, err := t.Read(id)
	if err != nil {
		return 0, err
	} else if !ok {
		return 0, errors.Wrapf(ErrNotFound, "table: row %d", id)
	}
	oldPK, err := t.schema.PrimaryKey.Key(old)
	if err != nil {
		return 0, err
	}
	oldPK = append([]byte(nil), oldPK...)

	samePK := bytes.Equal(oldPK, newPK)
	if !samePK {
		if _, ok, err := t.pk.Read(newPK); err != nil {
			return 0, err
		} else if ok {
			return 0, errors.Wrapf(ErrDuplicateKey, "table: primary key %q", newPK)
		}
	}
	if err := t.checkKeys(row, &id); err != nil {
		return 0, err
	}

	if err := t.deleteIndexes(id, old); err != nil {
		return 0, err
	}
	newID, err := t.raw.update(id, data, t.relocate)
	if err != nil {
		return 0, err
	}
	if !samePK {
		if _, err := t.pk.Delete(oldPK); err != nil {
			return 0, err
		}
	}
	if !samePK || newID != id {
		if err := t.pk.Add(newPK, encodeID(newID)); err != nil {
			return 0, err
		}
	}
	return newID, t.insertIndexes(newID, row)
}

// Set inserts the row or updates the row with the same primary key.
func (t *Table) Set(data []byte) (int64, error) {
	row, err := ParseRow(data)
	if err != nil {
		return 0, err
	}
	pk, err := t.schema.PrimaryKey.Key(row)
	if err != nil {
		return 0, err
	}

	id, ok, err := t.lookup(pk)
	if err != nil {
		return 0, err
	} else if !ok {
		return t.Insert(data)
	}
	return t.Update(id, data)
}

// Delete removes the row at id. It fails with ErrNotFound if id is not a
// live row.
func (t *Table) Delete(id int64) error {
	row, ok, err := t.Read(id)
	if err != nil {
		return err
	} else if !ok {
		return errors.Wrapf(ErrNotFound, "table: row %d", id)
	}
	return t.delete(id, row)
}

// DeleteByKey removes the row with the primary key. It reports whether the
// row existed.
func (t *Table) DeleteByKey(key []byte) (bool, error) {
	rec, ok, err := t.ReadByKey(key)
	if err != nil || !ok {
		return false, err
	}
	return true, t.delete(rec.ID, rec.Row)
}

// Read returns the row at id. Ids of deleted or moved rows are reported as
// missing.
func (t *Table) Read(id int64) (Row, bool, error) {
	data, ok, err := t.raw.read(id)
	if err != nil || !ok {
		return Row{}, false, err
	}
	row, err := ParseRow(data)
	if err != nil {
		return Row{}, false, nil
	}

	pk, err := t.schema.PrimaryKey.Key(row)
	if err != nil {
		return Row{}, false, nil
	}
	cur, ok, err := t.lookup(pk)
	if err != nil || !ok || cur != id {
		return Row{}, false, err
	}
	return row, true, nil
}

// ReadByKey returns the row with the primary key.
func (t *Table) ReadByKey(key []byte) (Record, bool, error) {
	id, ok, err := t.lookup(key)
	if err != nil || !ok {
		return Record{}, false, err
	}
	row, err := t.mustRead(id)
	if err != nil {
		return Record{}, false, err
	}
	return Record{ID: id, Row: row}, true, nil
}

// --------------------------------------------------------------------

func (t *Table) lookup(pk []byte) (int64, bool, error) {
	val, ok, err := t.pk.Read(pk)
	if err != nil || !ok {
		return 0, false, err
	}
	id, err := decodeID(val)
	return id, err == nil, err
}

// mustRead reads a row referenced by a key or an index.
func (t *Table) mustRead(id int64) (Row, error) {
	data, err := t.mustReadRaw(id)
	if err != nil {
		return Row{}, err
	}
	return ParseRow(data)
}

func (t *Table) mustReadRaw(id int64) ([]byte, error) {
	data, ok, err := t.raw.read(id)
	if err != nil {
		return nil, err
	} else if !ok {
		return nil, blitstore.Corruptf("table: %q references missing row %d", t.name, id)
	}
	return data, nil
}

func (t *Table) delete(id int64, row Row) error {
	pk, err := t.schema.PrimaryKey.Key(row)
	if err != nil {
		return err
	}
	if err := t.deleteIndexes(id, row); err != nil {
		return err
	}
	if _, err := t.pk.Delete(pk); err != nil {
		return err
	}
	return t.raw.delete(id, t.relocate)
}

// relocate moves the keys of a row moved out of an evacuated section.
func (t *Table) relocate(oldID, newID int64, data []byte) error {
	row, err := ParseRow(data)
	if err != nil {
		return err
	}
	pk, err := t.schema.PrimaryKey.Key(row)
	if err != nil {
		return err
	}
	if err := t.pk.Add(pk, encodeID(newID)); err != nil {
		return err
	}
	if err := t.deleteIndexes(oldID, row); err != nil {
		return err
	}
	return t.insertIndexes(newID, row)
}

// checkKeySizes fails if the primary key or a variable index key is empty or
// too long to be stored. Nothing is written before keys are checked.
func (t *Table) checkKeySizes(pk []byte, row Row) error {
	ps := t.tx.PageSize()
	if len(pk) == 0 {
		return errors.New("table: empty primary key")
	} else if max := tree.MaxKeySize(ps); len(pk) > max {
		return blitstore.Capacityf("table: primary key of %d bytes exceeds the maximum of %d", len(pk), max)
	}

	max := tree.MaxFixedTreeKeySize(ps)
	for _, d := range t.schema.Indexes {
		key, err := d.Key(row)
		if err != nil {
			return err
		}
		if len(key) == 0 {
			return errors.Newf("table: empty key for index %q", d.Name)
		} else if len(key) > max {
			return blitstore.Capacityf("table: key of %d bytes for index %q exceeds the maximum of %d", len(key), d.Name, max)
		}
	}
	return nil
}

// checkKeys fails if an index key cannot be derived from row or if a fixed
// index key belongs to a row other than self.
func (t *Table) checkKeys(row Row, self *int64) error {
	for _, d := range t.schema.Indexes {
		if _, err := d.Key(row); err != nil {
			return err
		}
	}
	for _, d := range t.schema.FixedIndexes {
		key, err := d.Key(row)
		if err != nil {
			return err
		}
		val, ok, err := t.fixed[d.Name].Read(key)
		if err != nil {
			return err
		} else if !ok {
			continue
		}
		if owner, err := decodeID(val); err != nil {
			return err
		} else if self == nil || owner != *self {
			return errors.Wrapf(ErrDuplicateKey, "table: key %d of index %q", key, d.Name)
		}
	}
	return nil
}

func (t *Table) insertIndexes(id int64, row Row) error {
	for _, d := range t.schema.Indexes {
		key, err := d.Key(row)
		if err != nil {
			return err
		}
		ids, err := t.idx[d.Name].FixedTreeFor(key, 0)
		if err != nil {
			return err
		}
		if _, err := ids.Add(id, nil); err != nil {
			return err
		}
	}
	for _, d := range t.schema.FixedIndexes {
		key, err := d.Key(row)
		if err != nil {
			return err
		}
		if _, err := t.fixed[d.Name].Add(key, encodeID(id)); err != nil {
			return err
		}
	}
	return nil
}

func (t *Table) deleteIndexes(id int64, row Row) error {
	for _, d := range t.schema.Indexes {
		key, err := d.Key(row)
		if err != nil {
			return err
		}
		ids, err := t.idx[d.Name].FixedTreeFor(key, 0)
		if err != nil {
			return err
		}
		if _, err := ids.Delete(id); err != nil {
			return err
		}
		if ids.NumberOfEntries() == 0 {
			if _, err := t.idx[d.Name].DeleteFixedTree(key); err != nil {
				return err
			}
		}
	}
	for _, d := range t.schema.FixedIndexes {
		key, err := d.Key(row)
		if err != nil {
			return err
		}
		f := t.fixed[d.Name]
		val, ok, err := f.Read(key)
		if err != nil || !ok {
			return err
		}
		if owner, err := decodeID(val); err != nil {
			return err
		} else if owner == id {
			if _, err := f.Delete(key); err != nil {
				return err
			}
		}
	}
	return nil
}

func encodeID(id int64) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, uint64(id))
	return b
}

func decodeID(b []byte) (int64, error) {
	if len(b) != 8 {
		return 0, blitstore.Corruptf("table: row id of %d bytes", len(b))
	}
	return int64(binary.LittleEndian.Uint64(b)), nil
}
