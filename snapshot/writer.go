package snapshot

import (
	"encoding/binary"
	"io"

	"github.com/cockroachdb/errors"
	"github.com/golang/snappy"
	"github.com/pierrec/lz4/v4"
)

// WriterOptions define writer specific options.
type WriterOptions struct {
	// BlockSize is the minimum uncompressed size in bytes of each block.
	// Default: 16KiB.
	BlockSize int

	// BlockRestartInterval is the number of keys between restart points
	// for delta encoding of keys.
	//
	// Default: 16.
	BlockRestartInterval int

	// The compression codec to use.
	// Default: SnappyCompression.
	Compression Compression
}

func (o *WriterOptions) norm() *WriterOptions {
	var oo WriterOptions
	if o != nil {
		oo = *o
	}

	if oo.BlockSize < 1 {
		oo.BlockSize = 16 << 10
	}
	if oo.BlockRestartInterval < 1 {
		oo.BlockRestartInterval = 16
	}
	if !oo.Compression.isValid() {
		oo.Compression = SnappyCompression
	}

	return &oo
}

// Writer instances write a snapshot.
type Writer struct {
	w io.Writer
	o *WriterOptions

	block blockInfo // the current block info
	blen  int       // the number of entries in the current block
	soffs []int     // section offsets in the current block
	count uint64    // the total number of entries
	meta  []byte

	buf []byte // plain buffer
	cmp []byte // compressed buffer
	tmp []byte // scratch buffer
	lz4 lz4.Compressor

	index []blockInfo
}

// NewWriter wraps a writer and returns a Writer.
func NewWriter(w io.Writer, o *WriterOptions) *Writer {
	return &Writer{
		w:   w,
		o:   o.norm(),
		tmp: make([]byte, 2*binary.MaxVarintLen64),
	}
}

// SetMeta sets the metadata block, written on Close.
func (w *Writer) SetMeta(p []byte) {
	w.meta = append(w.meta[:0], p...)
}

// Append appends an entry. Keys must be strictly increasing.
func (w *Writer) Append(key uint64, value []byte) error {
	if w.tmp == nil {
		return errClosed
	}

	if key <= w.block.MaxKey && (w.blen != 0 || len(w.index) != 0) {
		return errors.Newf("snapshot: attempted an out-of-order append, %d must be > %d", key, w.block.MaxKey)
	}

	if len(w.buf) != 0 && len(w.buf)+len(value)+2*binary.MaxVarintLen64 > w.o.BlockSize {
		if err := w.flush(); err != nil {
			return err
		}
	}

	skey := key
	if w.blen%w.o.BlockRestartInterval == 0 { // new section?
		w.soffs = append(w.soffs, len(w.buf))
	} else {
		skey -= w.block.MaxKey // apply delta-encoding
	}

	n := binary.PutUvarint(w.tmp[0:], skey)
	n += binary.PutUvarint(w.tmp[n:], uint64(len(value)))
	w.buf = append(w.buf, w.tmp[:n]...)
	w.buf = append(w.buf, value...)

	w.blen++
	w.count++
	w.block.MaxKey = key

	return nil
}

// Count returns the number of appended entries.
func (w *Writer) Count() uint64 { return w.count }

// Close flushes the last block and writes the index, the metadata and the
// footer. It does not close the underlying writer.
func (w *Writer) Close() error {
	if w.tmp == nil {
		return errClosed
	}
	if err := w.flush(); err != nil {
		return err
	}

	indexOffset := w.block.Offset
	if err := w.writeIndex(); err != nil {
		return err
	}

	metaOffset := w.block.Offset
	if err := w.writeRaw(w.meta); err != nil {
		return err
	}

	if err := w.writeFooter(metaOffset, indexOffset); err != nil {
		return err
	}
	w.tmp = nil
	return nil
}

func (w *Writer) writeIndex() error {
	var prev blockInfo

	for i, ent := range w.index {
		key := ent.MaxKey
		off := ent.Offset
		if i != 0 { // delta-encode
			key -= prev.MaxKey
			off -= prev.Offset
		}
		prev = ent

		n := binary.PutUvarint(w.tmp[0:], key)
		n += binary.PutUvarint(w.tmp[n:], uint64(off))

		if err := w.writeRaw(w.tmp[:n]); err != nil {
			return err
		}
	}
	return nil
}

func (w *Writer) writeFooter(metaOffset, indexOffset int64) error {
	var footer [footerSize]byte
	binary.LittleEndian.PutUint64(footer[0:], uint64(metaOffset))
	binary.LittleEndian.PutUint64(footer[8:], uint64(indexOffset))
	binary.LittleEndian.PutUint64(footer[16:], w.count)
	copy(footer[24:], magic)
	return w.writeRaw(footer[:])
}

func (w *Writer) writeRaw(p []byte) error {
	n, err := w.w.Write(p)
	w.block.Offset += int64(n)
	return err
}

func (w *Writer) flush() error {
	if len(w.buf) == 0 {
		return nil
	}

	for _, o := range w.soffs {
		if o > 0 {
			binary.LittleEndian.PutUint32(w.tmp, uint32(o))
			w.buf = append(w.buf, w.tmp[:4]...)
		}
	}
	binary.LittleEndian.PutUint32(w.tmp, uint32(len(w.soffs)))
	w.buf = append(w.buf, w.tmp[:4]...)

	block := w.compress()
	if block == nil {
		block = append(w.buf, blockNoCompression)
	}
	binary.LittleEndian.PutUint32(w.tmp, checksum(block))
	block = append(block, w.tmp[:4]...)

	w.index = append(w.index, w.block)
	w.buf = w.buf[:0]
	w.soffs = w.soffs[:0]
	w.blen = 0

	return w.writeRaw(block)
}

// compress returns the compressed block including the codec byte, or nil
// unless compression saves at least a quarter.
func (w *Writer) compress() []byte {
	limit := len(w.buf) - len(w.buf)/4

	switch w.o.Compression {
	case SnappyCompression:
		w.cmp = snappy.Encode(w.cmp[:cap(w.cmp)], w.buf)
		if len(w.cmp) < limit {
			return append(w.cmp, blockSnappyCompression)
		}
	case LZ4Compression:
		n := binary.PutUvarint(w.tmp, uint64(len(w.buf)))
		if bound := n + lz4.CompressBlockBound(len(w.buf)) + 1; cap(w.cmp) < bound {
			w.cmp = make([]byte, bound)
		}
		w.cmp = w.cmp[:cap(w.cmp)]
		copy(w.cmp, w.tmp[:n])

		m, err := w.lz4.CompressBlock(w.buf, w.cmp[n:])
		if err == nil && m != 0 && n+m < limit {
			return append(w.cmp[:n+m], blockLZ4Compression)
		}
	}
	return nil
}
