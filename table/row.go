package table

import (
	"encoding/binary"

	"github.com/bsm/blitstore"
	"github.com/cockroachdb/errors"
)

// Row is a decoded row. The encoding starts with the number of columns and
// the size of each column as uvarints, followed by the column data.
type Row struct {
	data []byte
	offs []int // column boundaries, len = columns + 1
}

// ParseRow decodes a row. The row references data.
func ParseRow(data []byte) (Row, error) {
	n, pos := binary.Uvarint(data)
	if pos <= 0 || n > uint64(len(data)) {
		return Row{}, blitstore.Corruptf("table: bad row header")
	}

	sizes := make([]int, n)
	total := 0
	for i := range sizes {
		sz, m := binary.Uvarint(data[pos:])
		if m <= 0 || sz > uint64(len(data)) {
			return Row{}, blitstore.Corruptf("table: bad size of column %d", i)
		}
		pos += m
		sizes[i] = int(sz)
		total += int(sz)
	}
	if pos+total != len(data) {
		return Row{}, blitstore.Corruptf("table: row of %d bytes, columns need %d", len(data), pos+total)
	}

	offs := make([]int, n+1)
	offs[0] = pos
	for i, sz := range sizes {
		offs[i+1] = offs[i] + sz
	}
	return Row{data: data, offs: offs}, nil
}

// Bytes returns the encoded row.
func (r Row) Bytes() []byte { return r.data }

// NumColumns returns the number of columns.
func (r Row) NumColumns() int {
	if len(r.offs) == 0 {
		return 0
	}
	return len(r.offs) - 1
}

// Column returns column i, nil if out of range.
func (r Row) Column(i int) []byte {
	if i < 0 || i >= r.NumColumns() {
		return nil
	}
	return r.data[r.offs[i]:r.offs[i+1]]
}

// String returns column i as a string.
func (r Row) String(i int) string { return string(r.Column(i)) }

// Int64 returns column i as a little-endian int64.
func (r Row) Int64(i int) (int64, error) {
	col := r.Column(i)
	if len(col) != 8 {
		return 0, errors.Newf("table: column %d has %d bytes, not an int64", i, len(col))
	}
	return int64(binary.LittleEndian.Uint64(col)), nil
}

// columns returns the concatenation of count columns starting at col.
func (r Row) columns(col, count int) ([]byte, error) {
	if col < 0 || col+count > r.NumColumns() {
		return nil, errors.Newf("table: row has %d columns, need %d", r.NumColumns(), col+count)
	}
	return r.data[r.offs[col]:r.offs[col+count]], nil
}

// --------------------------------------------------------------------

// RowBuilder encodes rows.
type RowBuilder struct {
	cols [][]byte
	tmp  [binary.MaxVarintLen64]byte
}

// Add appends a column.
func (b *RowBuilder) Add(v []byte) *RowBuilder {
	b.cols = append(b.cols, v)
	return b
}

// AddString appends a string column.
func (b *RowBuilder) AddString(s string) *RowBuilder { return b.Add([]byte(s)) }

// AddInt64 appends an int64 column.
func (b *RowBuilder) AddInt64(v int64) *RowBuilder {
	col := make([]byte, 8)
	binary.LittleEndian.PutUint64(col, uint64(v))
	return b.Add(col)
}

// Reset removes all columns.
func (b *RowBuilder) Reset() { b.cols = b.cols[:0] }

// Bytes returns the encoded row.
func (b *RowBuilder) Bytes() []byte {
	return b.AppendTo(nil)
}

// AppendTo appends the encoded row to dst.
func (b *RowBuilder) AppendTo(dst []byte) []byte {
	n := binary.PutUvarint(b.tmp[:], uint64(len(b.cols)))
	dst = append(dst, b.tmp[:n]...)
	for _, col := range b.cols {
		n = binary.PutUvarint(b.tmp[:], uint64(len(col)))
		dst = append(dst, b.tmp[:n]...)
	}
	for _, col := range b.cols {
		dst = append(dst, col...)
	}
	return dst
}
