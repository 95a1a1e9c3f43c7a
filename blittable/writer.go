package blittable

import (
	"encoding/binary"
	"math"
	"sort"
	"strconv"

	"github.com/bsm/blitstore/arena"
	"github.com/cockroachdb/errors"
)

const initialWriterSize = 1024

// PropertyTag is a written property value pending its object metadata.
type PropertyTag struct {
	ID       int // document-local property id
	Position int
	Token    Token
}

// ArrayItem is a written array element pending its array metadata.
type ArrayItem struct {
	Position int
	Token    Token
}

// Writer appends values, object and array metadata and the document trailer
// to an arena-backed buffer. Values are written before the containers that
// refer to them.
type Writer struct {
	ctx   *Context
	mode  UsageMode
	alloc *arena.Allocation
	buf   []byte
	pos   int

	local map[int]int // global property id -> document-local id
	names []string    // document-local id -> name

	small []byte
	done  bool
}

func newWriter(ctx *Context, mode UsageMode) *Writer {
	return &Writer{
		ctx:   ctx,
		mode:  mode,
		local: make(map[int]int),
	}
}

// Mode returns the usage mode.
func (w *Writer) Mode() UsageMode { return w.mode }

// Position returns the number of bytes written so far.
func (w *Writer) Position() int { return w.pos }

// Reset discards written data and prepares for a new document.
func (w *Writer) Reset(mode UsageMode) {
	w.Release()
	w.mode = mode
}

// Release returns the buffer to the arena. Documents already created from
// the writer keep their memory.
func (w *Writer) Release() {
	if w.alloc != nil && !w.done {
		w.ctx.arena.Return(w.alloc)
	}
	w.alloc = nil
	w.buf = nil
	w.pos = 0
	w.done = false
	clear(w.local)
	w.names = w.names[:0]
}

// PropertyID returns the document-local id of name.
func (w *Writer) PropertyID(name string) int {
	global := w.ctx.props.ID(name)
	if id, ok := w.local[global]; ok {
		return id
	}
	id := len(w.names)
	w.local[global] = id
	w.names = append(w.names, name)
	return id
}

func (w *Writer) ensure(n int) error {
	if w.done {
		return errors.AssertionFailedf("blittable: writer already completed a document")
	}
	if w.pos+n <= len(w.buf) {
		return nil
	}

	if w.alloc == nil {
		size := initialWriterSize
		if n > size {
			size = n
		}
		al, err := w.ctx.arena.Allocate(size)
		if err != nil {
			return err
		}
		w.alloc, w.buf = al, al.Bytes()
		return nil
	}

	extra := w.alloc.Size
	if need := w.pos + n - len(w.buf); need > extra {
		extra = need
	}
	if w.ctx.arena.GrowAllocation(w.alloc, extra) {
		w.buf = w.alloc.Bytes()
		return nil
	}

	al, err := w.ctx.arena.Allocate(w.alloc.Size + extra)
	if err != nil {
		return err
	}
	nb := al.Bytes()
	copy(nb, w.buf[:w.pos])
	w.ctx.arena.Return(w.alloc)
	w.alloc, w.buf = al, nb
	return nil
}

func (w *Writer) writeByte(b byte) {
	w.buf[w.pos] = b
	w.pos++
}

func (w *Writer) writeBytes(p []byte) {
	w.pos += copy(w.buf[w.pos:], p)
}

func (w *Writer) writeString(s string) {
	w.pos += copy(w.buf[w.pos:], s)
}

func (w *Writer) writeUvarint(v uint64) {
	w.pos += binary.PutUvarint(w.buf[w.pos:], v)
}

func (w *Writer) writeFixed(v uint64, size int) {
	switch size {
	case 1:
		w.buf[w.pos] = byte(v)
	case 2:
		binary.LittleEndian.PutUint16(w.buf[w.pos:], uint16(v))
	case 4:
		binary.LittleEndian.PutUint32(w.buf[w.pos:], uint32(v))
	}
	w.pos += size
}

// writeReversedUvarint writes the varint bytes last to first, so the value
// can be decoded reading backwards from the end of the buffer.
func (w *Writer) writeReversedUvarint(v uint64) {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], v)
	for i := n - 1; i >= 0; i-- {
		w.writeByte(tmp[i])
	}
}

// WriteInteger writes a zig-zag varint.
func (w *Writer) WriteInteger(v int64) (int, Token, error) {
	if err := w.ensure(binary.MaxVarintLen64); err != nil {
		return 0, 0, err
	}
	start := w.pos
	w.pos += binary.PutVarint(w.buf[w.pos:], v)
	return start, TokenInteger, nil
}

// WriteDouble writes v as its shortest round-trip decimal text.
func (w *Writer) WriteDouble(v float64) (int, Token, error) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, 0, errors.Newf("blittable: cannot store %v", v)
	}
	return w.writeNumber(strconv.FormatFloat(v, 'g', -1, 64))
}

// WriteNumberText writes decimal text as read from the input. With
// ModeValidateDouble the text must parse as a double.
func (w *Writer) WriteNumberText(text string) (int, Token, error) {
	if w.mode&ModeValidateDouble != 0 {
		if _, err := strconv.ParseFloat(text, 64); err != nil {
			return 0, 0, errors.Wrapf(err, "blittable: invalid number %q", text)
		}
	}
	return w.writeNumber(text)
}

func (w *Writer) writeNumber(text string) (int, Token, error) {
	if err := w.ensure(binary.MaxVarintLen64 + len(text)); err != nil {
		return 0, 0, err
	}
	start := w.pos
	w.writeUvarint(uint64(len(text)))
	w.writeString(text)
	return start, TokenLazyNumber, nil
}

// WriteBool writes a boolean.
func (w *Writer) WriteBool(v bool) (int, Token, error) {
	if err := w.ensure(1); err != nil {
		return 0, 0, err
	}
	start := w.pos
	if v {
		w.writeByte(1)
	} else {
		w.writeByte(0)
	}
	return start, TokenBoolean, nil
}

// WriteNull writes a null marker byte. Keeping nulls at distinct positions
// lets readers recover insertion order from value positions.
func (w *Writer) WriteNull() (int, Token, error) {
	if err := w.ensure(1); err != nil {
		return 0, 0, err
	}
	start := w.pos
	w.writeByte(0)
	return start, TokenNull, nil
}

// WriteString writes s, compressing it when the mode allows and the result
// is smaller.
func (w *Writer) WriteString(s string) (int, Token, error) {
	escapes := findEscapes(s)

	var (
		tok   = TokenString
		coded []byte
	)
	if len(s) >= compressionThreshold && w.mode&ModeCompressStrings != 0 {
		if coded = w.ctx.compressLarge([]byte(s)); coded != nil {
			tok = TokenCompressedString
		}
	} else if len(s) >= smallMinLength && len(s) < compressionThreshold && w.mode&ModeCompressSmallStrings != 0 {
		if c := compressSmall(w.small, s); c != nil {
			w.small = c
			coded, tok = c, TokenCompressedSmallString
		}
	}

	size := 2*binary.MaxVarintLen64 + (len(escapes)+1)*binary.MaxVarintLen32
	if coded != nil {
		size += len(coded)
	} else {
		size += len(s)
	}
	if err := w.ensure(size); err != nil {
		return 0, 0, err
	}

	start := w.pos
	w.writeUvarint(uint64(len(s)))
	if coded != nil {
		w.writeUvarint(uint64(len(coded)))
		w.writeBytes(coded)
	} else {
		w.writeString(s)
	}
	w.writeUvarint(uint64(len(escapes)))
	prev := 0
	for _, at := range escapes {
		w.writeUvarint(uint64(at - prev))
		prev = at
	}
	return start, tok, nil
}

// WriteObjectMetadata writes an object over props. firstWrite is the
// position of the earliest value written for the object. When a name occurs
// more than once the last value wins.
func (w *Writer) WriteObjectMetadata(props []PropertyTag, firstWrite int) (int, Token, error) {
	sort.SliceStable(props, func(i, j int) bool {
		return w.names[props[i].ID] < w.names[props[j].ID]
	})
	props = dedupProperties(props)

	start := w.pos
	maxID := 0
	for _, p := range props {
		if p.ID > maxID {
			maxID = p.ID
		}
		if p.Position < firstWrite || p.Position >= start {
			return 0, 0, errors.AssertionFailedf("blittable: property position %d outside [%d, %d)", p.Position, firstWrite, start)
		}
	}

	offFlag, offSize := offsetSizeFlag(start - firstWrite)
	idFlag, idSize := propertyIDSizeFlag(maxID)
	if err := w.ensure(binary.MaxVarintLen64 + len(props)*(offSize+idSize+1)); err != nil {
		return 0, 0, err
	}

	w.writeUvarint(uint64(len(props)))
	for _, p := range props {
		w.writeFixed(uint64(start-p.Position), offSize)
		w.writeFixed(uint64(p.ID), idSize)
		w.writeByte(byte(p.Token))
	}
	return start, TokenStartObject | offFlag | idFlag, nil
}

// WriteArrayMetadata writes an array over items.
func (w *Writer) WriteArrayMetadata(items []ArrayItem, firstWrite int) (int, Token, error) {
	start := w.pos
	for _, it := range items {
		if it.Position < firstWrite || it.Position >= start {
			return 0, 0, errors.AssertionFailedf("blittable: element position %d outside [%d, %d)", it.Position, firstWrite, start)
		}
	}

	offFlag, offSize := offsetSizeFlag(start - firstWrite)
	if err := w.ensure(binary.MaxVarintLen64 + len(items)*(offSize+1)); err != nil {
		return 0, 0, err
	}

	w.writeUvarint(uint64(len(items)))
	for _, it := range items {
		w.writeFixed(uint64(start-it.Position), offSize)
		w.writeByte(byte(it.Token))
	}
	return start, TokenStartArray | offFlag, nil
}

// WriteDocumentMetadata writes the property names table and the trailer.
// The writer is complete afterwards.
func (w *Writer) WriteDocumentMetadata(rootPos int, rootToken Token) error {
	if rootToken.Type() != TokenStartObject {
		return errors.AssertionFailedf("blittable: document root must be an object, got %s", rootToken)
	}

	size := 0
	for _, name := range w.names {
		size += binary.MaxVarintLen32 + len(name)
	}
	if err := w.ensure(size); err != nil {
		return err
	}

	positions := make([]int, len(w.names))
	for i, name := range w.names {
		positions[i] = w.pos
		w.writeUvarint(uint64(len(name)))
		w.writeString(name)
	}

	tableOffset := w.pos
	maxDist := 0
	if len(positions) != 0 {
		maxDist = tableOffset - positions[0]
	}
	_, width := offsetSizeFlag(maxDist)
	if err := w.ensure(1 + len(positions)*width + 2*binary.MaxVarintLen64 + 1); err != nil {
		return err
	}
	w.writeByte(byte(width))
	for _, p := range positions {
		w.writeFixed(uint64(tableOffset-p), width)
	}
	w.writeReversedUvarint(uint64(tableOffset))
	w.writeReversedUvarint(uint64(rootPos))
	w.writeByte(byte(rootToken))
	return nil
}

// CreateDocument hands the written buffer over to a Document. The writer
// must be reset before reuse.
func (w *Writer) CreateDocument() (*Document, error) {
	if w.alloc == nil {
		return nil, errors.AssertionFailedf("blittable: writer is empty")
	}
	doc, err := newDocument(w.ctx, w.buf[:w.pos:w.pos], w.alloc)
	if err != nil {
		return nil, err
	}
	w.done = true
	return doc, nil
}

func dedupProperties(props []PropertyTag) []PropertyTag {
	if len(props) < 2 {
		return props
	}
	out := props[:0]
	for i, p := range props {
		if i+1 < len(props) && props[i+1].ID == p.ID {
			continue
		}
		out = append(out, p)
	}
	return out
}

// findEscapes returns the byte positions of characters that need escaping
// in JSON output.
func findEscapes(s string) []int {
	var escapes []int
	for i := 0; i < len(s); i++ {
		if needsEscape(s[i]) {
			escapes = append(escapes, i)
		}
	}
	return escapes
}

func needsEscape(c byte) bool {
	return c == '"' || c == '\\' || c < 0x20
}
