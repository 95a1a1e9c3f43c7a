package blittable

import (
	"encoding/binary"
	"math"
	"sort"
	"strconv"

	"github.com/bsm/blitstore"
	"github.com/bsm/blitstore/arena"
	"github.com/cockroachdb/errors"
)

// ErrWrongType is returned when a value is read as a type it does not have.
var ErrWrongType = errors.New("blittable: wrong value type")

func wrongType(tok Token, want string) error {
	return errors.Mark(errors.Newf("blittable: %s value is not %s", tok, want), ErrWrongType)
}

// Document is a read view over a document buffer.
type Document struct {
	ctx   *Context
	buf   []byte
	alloc *arena.Allocation

	rootPos     int
	rootToken   Token
	tableOffset int // position of the name offset width byte
	nameWidth   int
	nameCount   int

	names  []string
	loaded []bool
	root   *Object
}

func newDocument(ctx *Context, buf []byte, alloc *arena.Allocation) (*Document, error) {
	n := len(buf)
	if n < 3 {
		return nil, blitstore.Corruptf("blittable: document of %d bytes is too short", n)
	}

	d := &Document{ctx: ctx, buf: buf, alloc: alloc}
	d.rootToken = Token(buf[n-1])
	if d.rootToken.Type() != TokenStartObject || !d.rootToken.isValid() {
		return nil, blitstore.Corruptf("blittable: invalid root token %#x", byte(d.rootToken))
	}

	rootPos, end, err := readReversedUvarint(buf, n-1)
	if err != nil {
		return nil, err
	}
	tableOffset, end, err := readReversedUvarint(buf, end)
	if err != nil {
		return nil, err
	}
	if tableOffset >= end {
		return nil, blitstore.Corruptf("blittable: property table offset %d out of range", tableOffset)
	}
	if rootPos >= tableOffset {
		return nil, blitstore.Corruptf("blittable: root offset %d out of range", rootPos)
	}

	width := int(buf[tableOffset])
	if width != 1 && width != 2 && width != 4 {
		return nil, blitstore.Corruptf("blittable: invalid property offset width %d", width)
	}
	span := end - tableOffset - 1
	if span%width != 0 {
		return nil, blitstore.Corruptf("blittable: property table of %d bytes does not align to width %d", span, width)
	}

	d.rootPos = rootPos
	d.tableOffset = tableOffset
	d.nameWidth = width
	d.nameCount = span / width
	d.names = make([]string, d.nameCount)
	d.loaded = make([]bool, d.nameCount)

	if d.root, err = newObject(d, rootPos, d.rootToken); err != nil {
		return nil, err
	}
	return d, nil
}

// Size returns the document size in bytes.
func (d *Document) Size() int { return len(d.buf) }

// Bytes returns the document buffer. It must not be modified.
func (d *Document) Bytes() []byte { return d.buf }

// Root returns the root object.
func (d *Document) Root() *Object { return d.root }

// RootArray unwraps a document built from an array. It reports false for
// documents built from objects.
func (d *Document) RootArray() (*Array, bool, error) {
	if d.root.Len() != 1 {
		return nil, false, nil
	}
	v, ok, err := d.root.TryGet(ArrayDocumentProperty)
	if err != nil || !ok || v.Type() != TokenStartArray {
		return nil, false, err
	}
	a, err := v.AsArray()
	if err != nil {
		return nil, false, err
	}
	return a, true, nil
}

// TryGet looks up a root property.
func (d *Document) TryGet(name string) (Value, bool, error) { return d.root.TryGet(name) }

// Interface converts the document to Go values.
func (d *Document) Interface() (map[string]interface{}, error) { return d.root.Interface() }

// Release returns the document memory to its context arena. The document
// must not be used afterwards.
func (d *Document) Release() {
	if d.alloc != nil && d.ctx != nil {
		d.ctx.arena.Return(d.alloc)
		d.alloc = nil
	}
}

// Clone copies the document into a buffer owned by the garbage collector.
func (d *Document) Clone() *Document {
	buf := make([]byte, len(d.buf))
	copy(buf, d.buf)
	c := *d
	c.buf = buf
	c.alloc = nil
	c.names = append([]string(nil), d.names...)
	c.loaded = append([]bool(nil), d.loaded...)
	c.root, _ = newObject(&c, d.rootPos, d.rootToken)
	return &c
}

// Equal compares documents structurally: sizes first, then the root objects.
func (d *Document) Equal(other *Document) bool {
	if d == nil || other == nil {
		return d == other
	}
	if len(d.buf) != len(other.buf) {
		return false
	}
	return d.root.Equal(other.root)
}

// NumProperties returns the number of distinct property names.
func (d *Document) NumProperties() int { return d.nameCount }

// PropertyName returns the name of a document-local property id.
func (d *Document) PropertyName(id int) (string, error) {
	if id < 0 || id >= d.nameCount {
		return "", blitstore.Corruptf("blittable: property id %d out of range", id)
	}
	if d.loaded[id] {
		return d.names[id], nil
	}

	at := d.tableOffset + 1 + id*d.nameWidth
	dist := int(readFixed(d.buf[at:], d.nameWidth))
	pos := d.tableOffset - dist
	if dist <= 0 || pos < 0 {
		return "", blitstore.Corruptf("blittable: property name offset %d out of range", dist)
	}
	size, n := binary.Uvarint(d.buf[pos:d.tableOffset])
	if n <= 0 || size > uint64(d.tableOffset-pos-n) {
		return "", blitstore.Corruptf("blittable: invalid property name at %d", pos)
	}
	name := string(d.buf[pos+n : pos+n+int(size)])
	d.names[id], d.loaded[id] = name, true
	return name, nil
}

func (d *Document) comparer(name string) *nameComparer {
	if d.ctx == nil {
		return nil
	}
	return d.ctx.comparer(name)
}

// --------------------------------------------------------------------

// Object is a read view over an object.
type Object struct {
	doc       *Document
	pos       int
	token     Token
	count     int
	entries   int
	offSize   int
	idSize    int
	entrySize int

	objects map[string]*Object
	arrays  map[string]*Array
}

func newObject(d *Document, pos int, tok Token) (*Object, error) {
	if tok.Type() != TokenStartObject || !tok.isValid() {
		return nil, blitstore.Corruptf("blittable: invalid object token %#x", byte(tok))
	}
	if pos < 0 || pos >= d.tableOffset {
		return nil, blitstore.Corruptf("blittable: object offset %d out of range", pos)
	}
	count, n := binary.Uvarint(d.buf[pos:d.tableOffset])
	if n <= 0 {
		return nil, blitstore.Corruptf("blittable: invalid property count at %d", pos)
	}

	o := &Object{
		doc:     d,
		pos:     pos,
		token:   tok,
		entries: pos + n,
		offSize: tok.offsetSize(),
		idSize:  tok.propertyIDSize(),
	}
	o.entrySize = o.offSize + o.idSize + 1
	if count > uint64((d.tableOffset-o.entries)/o.entrySize) {
		return nil, blitstore.Corruptf("blittable: object at %d with %d properties exceeds the document", pos, count)
	}
	o.count = int(count)
	return o, nil
}

// Len returns the number of properties.
func (o *Object) Len() int { return o.count }

// entry decodes the i-th entry, in name order.
func (o *Object) entry(i int) (pos, id int, tok Token, err error) {
	at := o.entries + i*o.entrySize
	buf := o.doc.buf[at : at+o.entrySize]

	dist := int(readFixed(buf, o.offSize))
	id = int(readFixed(buf[o.offSize:], o.idSize))
	tok = Token(buf[o.offSize+o.idSize])

	if dist <= 0 || dist > o.pos {
		return 0, 0, 0, blitstore.Corruptf("blittable: property distance %d out of range at %d", dist, at)
	}
	if id >= o.doc.nameCount {
		return 0, 0, 0, blitstore.Corruptf("blittable: property id %d out of range at %d", id, at)
	}
	if !tok.isValid() {
		return 0, 0, 0, blitstore.Corruptf("blittable: invalid token %#x at %d", byte(tok), at)
	}
	return o.pos - dist, id, tok, nil
}

func (o *Object) nameAt(i int) (string, error) {
	_, id, _, err := o.entry(i)
	if err != nil {
		return "", err
	}
	return o.doc.PropertyName(id)
}

// PropertyAt returns the i-th property in name order.
func (o *Object) PropertyAt(i int) (string, Value, error) {
	if i < 0 || i >= o.count {
		return "", Value{}, errors.Newf("blittable: property index %d out of range", i)
	}
	pos, id, tok, err := o.entry(i)
	if err != nil {
		return "", Value{}, err
	}
	name, err := o.doc.PropertyName(id)
	if err != nil {
		return "", Value{}, err
	}
	return name, o.value(name, pos, tok), nil
}

// TryGet looks up a property by name. The position of the last match for the
// same name is tried first, then entries are binary searched.
func (o *Object) TryGet(name string) (Value, bool, error) {
	cmp := o.doc.comparer(name)
	if cmp != nil && cmp.hint >= 0 && cmp.hint < o.count {
		if n, err := o.nameAt(cmp.hint); err != nil {
			return Value{}, false, err
		} else if n == name {
			return o.valueAt(cmp.hint, name)
		}
	}

	lo, hi := 0, o.count-1
	for lo <= hi {
		mid := int(uint(lo+hi) >> 1)
		n, err := o.nameAt(mid)
		if err != nil {
			return Value{}, false, err
		}
		switch {
		case n == name:
			if cmp != nil {
				cmp.hint = mid
			}
			return o.valueAt(mid, name)
		case n < name:
			lo = mid + 1
		default:
			hi = mid - 1
		}
	}
	return Value{}, false, nil
}

func (o *Object) valueAt(i int, name string) (Value, bool, error) {
	pos, _, tok, err := o.entry(i)
	if err != nil {
		return Value{}, false, err
	}
	return o.value(name, pos, tok), true, nil
}

// value builds a Value, memoizing nested containers by property name.
func (o *Object) value(name string, pos int, tok Token) Value {
	v := Value{doc: o.doc, pos: pos, token: tok}
	switch tok.Type() {
	case TokenStartObject:
		if child, ok := o.objects[name]; ok {
			v.obj = child
		} else if child, err := newObject(o.doc, pos, tok); err == nil {
			if o.objects == nil {
				o.objects = make(map[string]*Object)
			}
			o.objects[name], v.obj = child, child
		}
	case TokenStartArray:
		if child, ok := o.arrays[name]; ok {
			v.arr = child
		} else if child, err := newArray(o.doc, pos, tok); err == nil {
			if o.arrays == nil {
				o.arrays = make(map[string]*Array)
			}
			o.arrays[name], v.arr = child, child
		}
	}
	return v
}

// GetPropertyNames returns the property names in insertion order.
func (o *Object) GetPropertyNames() ([]string, error) {
	type named struct {
		pos  int
		name string
	}
	props := make([]named, 0, o.count)
	for i := 0; i < o.count; i++ {
		pos, id, _, err := o.entry(i)
		if err != nil {
			return nil, err
		}
		name, err := o.doc.PropertyName(id)
		if err != nil {
			return nil, err
		}
		props = append(props, named{pos: pos, name: name})
	}
	sort.Slice(props, func(i, j int) bool { return props[i].pos < props[j].pos })

	names := make([]string, len(props))
	for i, p := range props {
		names[i] = p.name
	}
	return names, nil
}

// Equal compares objects structurally.
func (o *Object) Equal(other *Object) bool {
	if o == nil || other == nil {
		return o == other
	}
	if o.count != other.count {
		return false
	}
	for i := 0; i < o.count; i++ {
		name, v, err := o.PropertyAt(i)
		if err != nil {
			return false
		}
		ov, ok, err := other.TryGet(name)
		if err != nil || !ok || !v.Equal(ov) {
			return false
		}
	}
	return true
}

// Interface converts the object to Go values.
func (o *Object) Interface() (map[string]interface{}, error) {
	m := make(map[string]interface{}, o.count)
	for i := 0; i < o.count; i++ {
		name, v, err := o.PropertyAt(i)
		if err != nil {
			return nil, err
		}
		if m[name], err = v.Interface(); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// --------------------------------------------------------------------

// Array is a read view over an array.
type Array struct {
	doc       *Document
	pos       int
	token     Token
	count     int
	entries   int
	offSize   int
	entrySize int

	objects map[int]*Object
	arrays  map[int]*Array
}

func newArray(d *Document, pos int, tok Token) (*Array, error) {
	if tok.Type() != TokenStartArray || !tok.isValid() {
		return nil, blitstore.Corruptf("blittable: invalid array token %#x", byte(tok))
	}
	if pos < 0 || pos >= d.tableOffset {
		return nil, blitstore.Corruptf("blittable: array offset %d out of range", pos)
	}
	count, n := binary.Uvarint(d.buf[pos:d.tableOffset])
	if n <= 0 {
		return nil, blitstore.Corruptf("blittable: invalid element count at %d", pos)
	}

	a := &Array{
		doc:     d,
		pos:     pos,
		token:   tok,
		entries: pos + n,
		offSize: tok.offsetSize(),
	}
	a.entrySize = a.offSize + 1
	if count > uint64((d.tableOffset-a.entries)/a.entrySize) {
		return nil, blitstore.Corruptf("blittable: array at %d with %d elements exceeds the document", pos, count)
	}
	a.count = int(count)
	return a, nil
}

// Len returns the number of elements.
func (a *Array) Len() int { return a.count }

// Get returns the i-th element.
func (a *Array) Get(i int) (Value, error) {
	if i < 0 || i >= a.count {
		return Value{}, errors.Newf("blittable: array index %d out of range", i)
	}
	at := a.entries + i*a.entrySize
	dist := int(readFixed(a.doc.buf[at:], a.offSize))
	tok := Token(a.doc.buf[at+a.offSize])
	if dist <= 0 || dist > a.pos {
		return Value{}, blitstore.Corruptf("blittable: element distance %d out of range at %d", dist, at)
	}
	if !tok.isValid() {
		return Value{}, blitstore.Corruptf("blittable: invalid token %#x at %d", byte(tok), at)
	}

	pos := a.pos - dist
	v := Value{doc: a.doc, pos: pos, token: tok}
	switch tok.Type() {
	case TokenStartObject:
		if child, ok := a.objects[i]; ok {
			v.obj = child
		} else if child, err := newObject(a.doc, pos, tok); err == nil {
			if a.objects == nil {
				a.objects = make(map[int]*Object)
			}
			a.objects[i], v.obj = child, child
		}
	case TokenStartArray:
		if child, ok := a.arrays[i]; ok {
			v.arr = child
		} else if child, err := newArray(a.doc, pos, tok); err == nil {
			if a.arrays == nil {
				a.arrays = make(map[int]*Array)
			}
			a.arrays[i], v.arr = child, child
		}
	}
	return v, nil
}

// Equal compares arrays element by element.
func (a *Array) Equal(other *Array) bool {
	if a == nil || other == nil {
		return a == other
	}
	if a.count != other.count {
		return false
	}
	for i := 0; i < a.count; i++ {
		v, err := a.Get(i)
		if err != nil {
			return false
		}
		ov, err := other.Get(i)
		if err != nil || !v.Equal(ov) {
			return false
		}
	}
	return true
}

// Interface converts the array to Go values.
func (a *Array) Interface() ([]interface{}, error) {
	s := make([]interface{}, a.count)
	for i := range s {
		v, err := a.Get(i)
		if err != nil {
			return nil, err
		}
		if s[i], err = v.Interface(); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// --------------------------------------------------------------------

// Value is a typed view over a single stored value.
type Value struct {
	doc   *Document
	pos   int
	token Token

	obj *Object
	arr *Array
}

// Type returns the value type.
func (v Value) Type() Token { return v.token.Type() }

// IsNull reports whether the value is null.
func (v Value) IsNull() bool { return v.token.Type() == TokenNull }

// AsInt returns an integer value. Numbers stored as text are parsed.
func (v Value) AsInt() (int64, error) {
	switch v.token.Type() {
	case TokenInteger:
		n, _, err := v.doc.readInteger(v.pos, v.doc.tableOffset)
		return n, err
	case TokenLazyNumber:
		text, _, err := v.doc.readNumber(v.pos, v.doc.tableOffset)
		if err != nil {
			return 0, err
		}
		if n, err := strconv.ParseInt(text, 10, 64); err == nil {
			return n, nil
		}
		f, err := strconv.ParseFloat(text, 64)
		if err != nil || f != math.Trunc(f) || f < math.MinInt64 || f >= math.MaxInt64 {
			return 0, wrongType(v.token, "an integer")
		}
		return int64(f), nil
	}
	return 0, wrongType(v.token, "an integer")
}

// AsFloat returns a numeric value as a double.
func (v Value) AsFloat() (float64, error) {
	switch v.token.Type() {
	case TokenInteger:
		n, _, err := v.doc.readInteger(v.pos, v.doc.tableOffset)
		return float64(n), err
	case TokenLazyNumber:
		text, _, err := v.doc.readNumber(v.pos, v.doc.tableOffset)
		if err != nil {
			return 0, err
		}
		f, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return 0, errors.Wrapf(err, "blittable: parsing number %q", text)
		}
		return f, nil
	}
	return 0, wrongType(v.token, "a number")
}

// AsNumberText returns the stored text of a lazy number.
func (v Value) AsNumberText() (string, error) {
	switch v.token.Type() {
	case TokenInteger:
		n, _, err := v.doc.readInteger(v.pos, v.doc.tableOffset)
		return strconv.FormatInt(n, 10), err
	case TokenLazyNumber:
		text, _, err := v.doc.readNumber(v.pos, v.doc.tableOffset)
		return text, err
	}
	return "", wrongType(v.token, "a number")
}

// AsString returns a string value, decompressing when needed.
func (v Value) AsString() (string, error) {
	switch v.token.Type() {
	case TokenString, TokenCompressedString, TokenCompressedSmallString:
		s, _, _, err := v.doc.readString(v.pos, v.token, v.doc.tableOffset)
		return s, err
	}
	return "", wrongType(v.token, "a string")
}

// AsBool returns a boolean value.
func (v Value) AsBool() (bool, error) {
	if v.token.Type() != TokenBoolean {
		return false, wrongType(v.token, "a boolean")
	}
	if v.pos >= v.doc.tableOffset {
		return false, blitstore.Corruptf("blittable: boolean at %d out of range", v.pos)
	}
	return v.doc.buf[v.pos] != 0, nil
}

// AsObject returns a nested object.
func (v Value) AsObject() (*Object, error) {
	if v.token.Type() != TokenStartObject {
		return nil, wrongType(v.token, "an object")
	}
	if v.obj != nil {
		return v.obj, nil
	}
	return newObject(v.doc, v.pos, v.token)
}

// AsArray returns a nested array.
func (v Value) AsArray() (*Array, error) {
	if v.token.Type() != TokenStartArray {
		return nil, wrongType(v.token, "an array")
	}
	if v.arr != nil {
		return v.arr, nil
	}
	return newArray(v.doc, v.pos, v.token)
}

// Interface converts the value to Go values: map[string]interface{},
// []interface{}, string, int64, float64, bool or nil.
func (v Value) Interface() (interface{}, error) {
	switch v.token.Type() {
	case TokenStartObject:
		o, err := v.AsObject()
		if err != nil {
			return nil, err
		}
		return o.Interface()
	case TokenStartArray:
		a, err := v.AsArray()
		if err != nil {
			return nil, err
		}
		return a.Interface()
	case TokenInteger:
		return v.AsInt()
	case TokenLazyNumber:
		return v.AsFloat()
	case TokenString, TokenCompressedString, TokenCompressedSmallString:
		return v.AsString()
	case TokenBoolean:
		return v.AsBool()
	case TokenNull:
		return nil, nil
	}
	return nil, blitstore.Corruptf("blittable: invalid token %#x", byte(v.token))
}

// Equal compares values structurally. Strings compare by content regardless
// of compression, numbers by their stored representation.
func (v Value) Equal(o Value) bool {
	a, b := v.token.Type(), o.token.Type()
	switch a {
	case TokenString, TokenCompressedString, TokenCompressedSmallString:
		switch b {
		case TokenString, TokenCompressedString, TokenCompressedSmallString:
		default:
			return false
		}
		s1, err1 := v.AsString()
		s2, err2 := o.AsString()
		return err1 == nil && err2 == nil && s1 == s2
	}
	if a != b {
		return false
	}

	switch a {
	case TokenStartObject:
		x, err1 := v.AsObject()
		y, err2 := o.AsObject()
		return err1 == nil && err2 == nil && x.Equal(y)
	case TokenStartArray:
		x, err1 := v.AsArray()
		y, err2 := o.AsArray()
		return err1 == nil && err2 == nil && x.Equal(y)
	case TokenInteger:
		x, err1 := v.AsInt()
		y, err2 := o.AsInt()
		return err1 == nil && err2 == nil && x == y
	case TokenLazyNumber:
		x, err1 := v.AsNumberText()
		y, err2 := o.AsNumberText()
		return err1 == nil && err2 == nil && x == y
	case TokenBoolean:
		x, err1 := v.AsBool()
		y, err2 := o.AsBool()
		return err1 == nil && err2 == nil && x == y
	case TokenNull:
		return true
	}
	return false
}

// --------------------------------------------------------------------

func (d *Document) readInteger(pos, limit int) (int64, int, error) {
	if pos >= limit {
		return 0, 0, blitstore.Corruptf("blittable: integer at %d out of range", pos)
	}
	n, sz := binary.Varint(d.buf[pos:limit])
	if sz <= 0 {
		return 0, 0, blitstore.Corruptf("blittable: invalid integer at %d", pos)
	}
	return n, pos + sz, nil
}

func (d *Document) readNumber(pos, limit int) (string, int, error) {
	data, end, err := d.readSized(pos, limit)
	if err != nil {
		return "", 0, err
	}
	return string(data), end, nil
}

// readSized reads a uvarint length followed by that many bytes.
func (d *Document) readSized(pos, limit int) ([]byte, int, error) {
	if pos >= limit {
		return nil, 0, blitstore.Corruptf("blittable: value at %d out of range", pos)
	}
	size, n := binary.Uvarint(d.buf[pos:limit])
	if n <= 0 || size > uint64(limit-pos-n) {
		return nil, 0, blitstore.Corruptf("blittable: invalid length at %d", pos)
	}
	start := pos + n
	return d.buf[start : start+int(size)], start + int(size), nil
}

// readString decodes a string value and its escape table. It returns the
// string, the escape positions and the end of the value.
func (d *Document) readString(pos int, tok Token, limit int) (string, []int, int, error) {
	var (
		s   string
		end int
	)
	switch tok.Type() {
	case TokenString:
		data, e, err := d.readSized(pos, limit)
		if err != nil {
			return "", nil, 0, err
		}
		s, end = string(data), e
	case TokenCompressedString, TokenCompressedSmallString:
		if pos >= limit {
			return "", nil, 0, blitstore.Corruptf("blittable: string at %d out of range", pos)
		}
		plain, n := binary.Uvarint(d.buf[pos:limit])
		if n <= 0 || plain > math.MaxInt32 {
			return "", nil, 0, blitstore.Corruptf("blittable: invalid string length at %d", pos)
		}
		data, e, err := d.readSized(pos+n, limit)
		if err != nil {
			return "", nil, 0, err
		}
		if tok.Type() == TokenCompressedString {
			if plain > uint64(255*len(data)+16) {
				return "", nil, 0, blitstore.Corruptf("blittable: compressed string at %d claims %d bytes", pos, plain)
			}
			dst := make([]byte, int(plain))
			if err := decompressLarge(dst, data); err != nil {
				return "", nil, 0, err
			}
			s = string(dst)
		} else {
			if s, err = decompressSmall(data, int(plain)); err != nil {
				return "", nil, 0, err
			}
		}
		end = e
	default:
		return "", nil, 0, wrongType(tok, "a string")
	}

	if end >= limit {
		return "", nil, 0, blitstore.Corruptf("blittable: missing escape table at %d", end)
	}
	count, n := binary.Uvarint(d.buf[end:limit])
	if n <= 0 || count > uint64(len(s)) {
		return "", nil, 0, blitstore.Corruptf("blittable: invalid escape count at %d", end)
	}
	end += n

	var escapes []int
	if count != 0 {
		escapes = make([]int, 0, int(count))
	}
	at := 0
	for i := uint64(0); i < count; i++ {
		if end >= limit {
			return "", nil, 0, blitstore.Corruptf("blittable: truncated escape table at %d", end)
		}
		delta, n := binary.Uvarint(d.buf[end:limit])
		if n <= 0 || delta > uint64(len(s)) {
			return "", nil, 0, blitstore.Corruptf("blittable: invalid escape position at %d", end)
		}
		end += n
		at += int(delta)
		escapes = append(escapes, at)
	}
	return s, escapes, end, nil
}

func readFixed(buf []byte, size int) uint64 {
	switch size {
	case 1:
		return uint64(buf[0])
	case 2:
		return uint64(binary.LittleEndian.Uint16(buf))
	case 4:
		return uint64(binary.LittleEndian.Uint32(buf))
	}
	return 0
}

// readReversedUvarint decodes a varint written last byte first, ending right
// before end. It returns the value and the position of its first byte.
func readReversedUvarint(buf []byte, end int) (int, int, error) {
	var (
		v     uint64
		shift uint
	)
	for i := end - 1; i >= 0 && end-i <= binary.MaxVarintLen64; i-- {
		b := buf[i]
		v |= uint64(b&0x7f) << shift
		if b < 0x80 {
			if v > uint64(len(buf)) {
				return 0, 0, blitstore.Corruptf("blittable: trailer offset %d out of range", v)
			}
			return int(v), i, nil
		}
		shift += 7
	}
	return 0, 0, blitstore.Corruptf("blittable: invalid trailer varint before %d", end)
}
