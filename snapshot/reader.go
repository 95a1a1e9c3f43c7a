package snapshot

import (
	"bytes"
	"encoding/binary"
	"io"
	"sort"
	"sync"

	"github.com/golang/snappy"
	"github.com/pierrec/lz4/v4"
)

// Reader instances can seek and iterate across the entries of a snapshot.
type Reader struct {
	r io.ReaderAt

	index     []blockInfo
	maxOffset int64
	meta      []byte
	count     uint64
}

// NewReader opens a reader.
func NewReader(r io.ReaderAt, size int64) (*Reader, error) {
	if size < footerSize {
		return nil, corruptf("file of %d bytes is too small", size)
	}

	// read footer
	footerOffset := size - footerSize
	footer := make([]byte, footerSize)
	if _, err := r.ReadAt(footer, footerOffset); err != nil {
		return nil, err
	}

	// parse footer
	if !bytes.Equal(footer[24:], magic) {
		return nil, corruptf("bad magic byte sequence")
	}
	metaOffset := int64(binary.LittleEndian.Uint64(footer[0:]))
	indexOffset := int64(binary.LittleEndian.Uint64(footer[8:]))
	count := binary.LittleEndian.Uint64(footer[16:])
	if indexOffset < 0 || indexOffset > metaOffset || metaOffset > footerOffset {
		return nil, corruptf("bad footer offsets %d, %d", indexOffset, metaOffset)
	}

	// read meta
	meta := make([]byte, footerOffset-metaOffset)
	if _, err := r.ReadAt(meta, metaOffset); err != nil {
		return nil, err
	}

	// read index
	var index []blockInfo
	var info blockInfo

	tmp := make([]byte, 2*binary.MaxVarintLen64)
	for pos := indexOffset; pos < metaOffset; {
		tmp = tmp[:cap(tmp)]
		if x := metaOffset - pos; x < int64(len(tmp)) {
			tmp = tmp[:int(x)]
		}

		if _, err := r.ReadAt(tmp, pos); err != nil {
			return nil, err
		}

		u1, n1 := binary.Uvarint(tmp[0:])
		if n1 <= 0 {
			return nil, corruptf("bad index entry at %d", pos)
		}
		u2, n2 := binary.Uvarint(tmp[n1:])
		if n2 <= 0 {
			return nil, corruptf("bad index entry at %d", pos)
		}
		pos += int64(n1 + n2)

		info.MaxKey += u1
		info.Offset += int64(u2)
		if info.Offset >= indexOffset {
			return nil, corruptf("block offset %d beyond index at %d", info.Offset, indexOffset)
		}
		index = append(index, info)
	}

	return &Reader{
		r: r,

		index:     index, // block offsets
		maxOffset: indexOffset,
		meta:      meta,
		count:     count,
	}, nil
}

// Meta returns the metadata block.
func (r *Reader) Meta() []byte { return r.meta }

// NumEntries returns the number of stored entries.
func (r *Reader) NumEntries() uint64 { return r.count }

// NumBlocks returns the number of stored blocks.
func (r *Reader) NumBlocks() int {
	return len(r.index)
}

// Append retrieves a single value for a key and appends it to dst.
// It may return an ErrNotFound error.
func (r *Reader) Append(dst []byte, key uint64) ([]byte, error) {
	iter, err := r.Seek(key)
	if err != nil {
		return dst, err
	}
	defer iter.Release()

	if !iter.Next() || iter.Key() != key {
		if err := iter.Err(); err != nil {
			return dst, err
		}
		return dst, ErrNotFound
	}
	return append(dst, iter.Value()...), nil
}

// Get is a shortcut for Append(nil, key).
// It may return an ErrNotFound error.
func (r *Reader) Get(key uint64) ([]byte, error) {
	return r.Append(nil, key)
}

// Seek returns an iterator starting at the position >= key.
func (r *Reader) Seek(key uint64) (*Iterator, error) {
	b, err := r.SeekBlock(key)
	if err != nil {
		return nil, err
	}

	s := b.SeekSection(key)
	s.Seek(key)
	return &Iterator{r: r, b: b, s: s}, nil
}

// GetBlock returns a reader for the n-th block.
func (r *Reader) GetBlock(bpos int) (*BlockReader, error) {
	if len(r.index) == 0 {
		return &BlockReader{}, nil
	}
	if bpos < 0 {
		bpos = 0
	}
	if bpos >= len(r.index) {
		return &BlockReader{
			bpos: len(r.index),
		}, nil
	}
	return r.readBlock(bpos)
}

// SeekBlock seeks the block containing the key.
func (r *Reader) SeekBlock(key uint64) (*BlockReader, error) {
	bpos := sort.Search(len(r.index), func(i int) bool {
		return r.index[i].MaxKey >= key
	})
	return r.GetBlock(bpos)
}

func (r *Reader) readBlock(bpos int) (*BlockReader, error) {
	min := r.index[bpos].Offset
	max := r.maxOffset
	if next := bpos + 1; next < len(r.index) {
		max = r.index[next].Offset
	}
	if max-min < blockTrailerSize+4 {
		return nil, corruptf("block %d has %d bytes", bpos, max-min)
	}

	raw := fetchBuffer(int(max - min))
	if _, err := r.r.ReadAt(raw, min); err != nil {
		releaseBuffer(raw)
		return nil, err
	}

	body := raw[:len(raw)-4]
	if sum := binary.LittleEndian.Uint32(raw[len(body):]); checksum(body) != sum {
		releaseBuffer(raw)
		return nil, corruptf("checksum mismatch in block %d", bpos)
	}

	block, err := decodeBlock(raw, body)
	if err != nil {
		return nil, err
	}

	scnt := int(binary.LittleEndian.Uint32(block[len(block)-4:]))
	if scnt < 1 || scnt*4 > len(block) {
		releaseBuffer(block)
		return nil, corruptf("block %d has a bad section count %d", bpos, scnt)
	}

	return &BlockReader{
		block:  block,
		bpos:   bpos,
		scnt:   scnt,
		maxKey: r.index[bpos].MaxKey,
	}, nil
}

// decodeBlock returns the plain block. Raw is released unless the block
// references it.
func decodeBlock(raw, body []byte) ([]byte, error) {
	cpos := len(body) - 1
	payload := body[:cpos]

	var block []byte
	switch body[cpos] {
	case blockNoCompression:
		block = payload
	case blockSnappyCompression:
		defer releaseBuffer(raw)

		sz, err := snappy.DecodedLen(payload)
		if err != nil {
			return nil, corruptf("bad snappy block: %v", err)
		}

		plain := fetchBuffer(sz)
		if block, err = snappy.Decode(plain, payload); err != nil {
			releaseBuffer(plain)
			return nil, corruptf("bad snappy block: %v", err)
		}
	case blockLZ4Compression:
		defer releaseBuffer(raw)

		sz, n := binary.Uvarint(payload)
		if n <= 0 || sz > uint64(len(payload))*255 {
			return nil, corruptf("bad lz4 block header")
		}

		plain := fetchBuffer(int(sz))
		m, err := lz4.UncompressBlock(payload[n:], plain)
		if err != nil || m != int(sz) {
			releaseBuffer(plain)
			return nil, corruptf("bad lz4 block: %d of %d bytes, %v", m, sz, err)
		}
		block = plain
	default:
		releaseBuffer(raw)
		return nil, corruptf("bad compression codec %d", body[cpos])
	}

	if len(block) < 4 {
		releaseBuffer(block)
		return nil, corruptf("block of %d bytes", len(block))
	}
	return block, nil
}

// --------------------------------------------------------------------

// BlockReader reads a single block.
type BlockReader struct {
	block  []byte
	bpos   int // the current block position
	scnt   int // the section count
	maxKey uint64
}

// NumSections returns the number of sections in this block.
func (r *BlockReader) NumSections() int { return r.scnt }

// Pos returns the index position the current block within the snapshot.
func (r *BlockReader) Pos() int { return r.bpos }

// GetSection gets a single section.
func (r *BlockReader) GetSection(spos int) *SectionReader {
	if spos < 0 {
		spos = 0
	}
	if spos >= r.scnt {
		return &SectionReader{spos: r.scnt}
	}

	min := r.sectionOffset(spos)
	max := r.sectionOffset(spos + 1)
	if min > max || max > len(r.block) {
		return &SectionReader{spos: spos, err: corruptf("bad offset of section %d in block %d", spos, r.bpos)}
	}
	return &SectionReader{section: r.block[min:max], spos: spos}
}

// SeekSection seeks the section for a key.
func (r *BlockReader) SeekSection(key uint64) *SectionReader {
	if key > r.maxKey {
		return r.GetSection(r.scnt)
	}

	spos := sort.Search(r.scnt, func(i int) bool {
		off := r.sectionOffset(i)
		if off >= len(r.block) {
			return true
		}
		first, _ := binary.Uvarint(r.block[off:]) // first key of the section
		return first > key
	}) - 1
	return r.GetSection(spos)
}

// Release releases the block reader and frees up resources. The reader must not be used
// after this method is called.
func (r *BlockReader) Release() {
	releaseBuffer(r.block)
	r.block = nil
}

// The starting offset of the section within the block.
func (r *BlockReader) sectionOffset(spos int) int {
	if spos < 1 {
		return 0
	} else if spos >= r.scnt {
		return len(r.block) - r.scnt*4
	} else {
		nn := len(r.block) - r.scnt*4 + (spos-1)*4
		return int(binary.LittleEndian.Uint32(r.block[nn:]))
	}
}

// SectionReader reads an individual section within a block.
type SectionReader struct {
	section []byte

	spos int // the section
	read int // bytes read

	key uint64 // current key
	val []byte // current value
	err error
}

// Seek positions the cursor before the key.
func (r *SectionReader) Seek(key uint64) bool {
	for r.More() {
		inc, n := binary.Uvarint(r.section[r.read:])
		if n <= 0 {
			r.fail()
			return false
		}
		if r.key+inc >= key {
			return true
		}
		r.read += n
		r.key += inc

		if !r.readValue() {
			return false
		}
	}
	return false
}

// Pos returns the index position the current section within the block.
func (r *SectionReader) Pos() int { return r.spos }

// Key returns the key if the current entry.
func (r *SectionReader) Key() uint64 { return r.key }

// Value returns the value of the current entry. Please note that values
// are temporary buffers and must be copied if used beyond the next cursor move.
func (r *SectionReader) Value() []byte { return r.val }

// More returns true if more data can be read in the section.
func (r *SectionReader) More() bool { return r.err == nil && r.read < len(r.section) }

// Err returns the error of a malformed section, if any.
func (r *SectionReader) Err() error { return r.err }

// Next advances the cursor to the next entry within the section and
// returns true if successful.
func (r *SectionReader) Next() bool {
	if !r.More() {
		return false
	}

	inc, n := binary.Uvarint(r.section[r.read:])
	if n <= 0 {
		r.fail()
		return false
	}
	r.read += n
	r.key += inc

	return r.readValue()
}

func (r *SectionReader) readValue() bool {
	if !r.More() {
		r.fail()
		return false
	}

	vln, n := binary.Uvarint(r.section[r.read:])
	if n <= 0 || vln > uint64(len(r.section)-r.read-n) {
		r.fail()
		return false
	}
	r.read += n
	r.val = r.section[r.read : r.read+int(vln)]
	r.read += int(vln)
	return true
}

func (r *SectionReader) fail() {
	r.err = corruptf("truncated entry in section %d at %d", r.spos, r.read)
}

// --------------------------------------------------------------------

// Iterator is a convenience wrapper around BlockReader and SectionReader
// which can (forward-) iterate over keys across block and section boundaries.
type Iterator struct {
	r *Reader
	b *BlockReader
	s *SectionReader

	err error
}

// Key returns the key if the current entry.
func (i *Iterator) Key() uint64 { return i.s.Key() }

// Value returns the value of the current entry. Please note that values
// are temporary buffers and must be copied if used beyond the next cursor move.
func (i *Iterator) Value() []byte { return i.s.Value() }

// More returns true if more data can be read.
func (i *Iterator) More() bool {
	if i.err != nil || i.s.Err() != nil {
		return false
	}

	return i.s.More() || i.s.Pos()+1 < i.b.NumSections() || i.b.Pos()+1 < i.r.NumBlocks()
}

// Next advances the cursor to the next entry and returns true if successful.
func (i *Iterator) Next() bool {
	for i.err == nil {
		if err := i.s.Err(); err != nil {
			i.err = err
			return false
		}

		// more entries in the section
		if i.s.More() {
			return i.s.Next()
		}

		// more sections in the block
		if n := i.s.Pos() + 1; n < i.b.NumSections() {
			i.s = i.b.GetSection(n)
			continue
		}

		// more blocks
		if n := i.b.Pos() + 1; n < i.r.NumBlocks() {
			b, err := i.r.GetBlock(n)
			if err != nil {
				i.err = err
				return false
			}
			i.b.Release()
			i.b = b
			i.s = b.GetSection(0)
			continue
		}

		return false
	}
	return false
}

// Err exposes iterator errors, if any.
func (i *Iterator) Err() error {
	if i.err == errReleased {
		return nil
	}
	if i.err == nil {
		return i.s.Err()
	}
	return i.err
}

// Release releases the iterator and frees up resources. The iterator must not be used
// after this method is called.
func (i *Iterator) Release() {
	i.b.Release()
	i.err = errReleased
}

// --------------------------------------------------------------------

var bufPool sync.Pool

func fetchBuffer(sz int) []byte {
	if v := bufPool.Get(); v != nil {
		if p := v.([]byte); sz <= cap(p) {
			return p[:sz]
		}
	}
	return make([]byte, sz)
}

func releaseBuffer(p []byte) {
	if cap(p) != 0 {
		bufPool.Put(p)
	}
}
