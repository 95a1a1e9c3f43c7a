package table

import (
	"github.com/cockroachdb/errors"
	"github.com/fxamacker/cbor/v2"
)

// Schema describes the keys of a table.
type Schema struct {
	// PrimaryKey defines the unique key of each row.
	PrimaryKey IndexDef `cbor:"1,keyasint"`
	// Indexes are variable size secondary indexes. Many rows may share a
	// value.
	Indexes []IndexDef `cbor:"2,keyasint,omitempty"`
	// FixedIndexes are unique int64 indexes.
	FixedIndexes []FixedIndexDef `cbor:"3,keyasint,omitempty"`
}

// IndexDef defines a key made of Count adjacent columns, starting at
// Column.
type IndexDef struct {
	Name   string `cbor:"1,keyasint"`
	Column int    `cbor:"2,keyasint"`
	Count  int    `cbor:"3,keyasint"`
}

// FixedIndexDef defines a unique index over an int64 column.
type FixedIndexDef struct {
	Name   string `cbor:"1,keyasint"`
	Column int    `cbor:"2,keyasint"`
}

// Key extracts the key from a row.
func (d IndexDef) Key(r Row) ([]byte, error) {
	count := d.Count
	if count < 1 {
		count = 1
	}
	return r.columns(d.Column, count)
}

// Key extracts the key from a row.
func (d FixedIndexDef) Key(r Row) (int64, error) { return r.Int64(d.Column) }

// Validate validates the schema.
func (s *Schema) Validate() error {
	if s.PrimaryKey.Column < 0 {
		return errors.Newf("table: invalid primary key column %d", s.PrimaryKey.Column)
	}

	names := make(map[string]struct{}, len(s.Indexes)+len(s.FixedIndexes))
	check := func(name string, col int) error {
		if name == "" {
			return errors.New("table: index name must not be empty")
		}
		if _, ok := names[name]; ok {
			return errors.Newf("table: duplicate index %q", name)
		}
		if col < 0 {
			return errors.Newf("table: invalid column %d of index %q", col, name)
		}
		names[name] = struct{}{}
		return nil
	}
	for _, d := range s.Indexes {
		if err := check(d.Name, d.Column); err != nil {
			return err
		}
	}
	for _, d := range s.FixedIndexes {
		if err := check(d.Name, d.Column); err != nil {
			return err
		}
	}
	return nil
}

func (s *Schema) index(name string) (IndexDef, bool) {
	for _, d := range s.Indexes {
		if d.Name == name {
			return d, true
		}
	}
	return IndexDef{}, false
}

func (s *Schema) fixedIndex(name string) (FixedIndexDef, bool) {
	for _, d := range s.FixedIndexes {
		if d.Name == name {
			return d, true
		}
	}
	return FixedIndexDef{}, false
}

// --------------------------------------------------------------------

var cborEnc cbor.EncMode

func init() {
	var err error
	if cborEnc, err = cbor.CoreDetEncOptions().EncMode(); err != nil {
		panic(err)
	}
}

func marshal(v interface{}) ([]byte, error) { return cborEnc.Marshal(v) }

func unmarshal(data []byte, v interface{}) error { return cbor.Unmarshal(data, v) }
