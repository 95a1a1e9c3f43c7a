package blittable

import (
	"io"
	"math"
	"reflect"
	"sort"

	"github.com/cockroachdb/errors"
)

// Field is a named value of an ordered object.
type Field struct {
	Name  string
	Value interface{}
}

// Fields is an object with explicit property order. Maps are written with
// sorted keys instead.
type Fields []Field

// ValueSource produces tokens from Go values. Supported values are nil, bool,
// strings, integer and float types, Fields, string-keyed maps, slices, and
// the read views *Document, *Object, *Array and Value.
type ValueSource struct {
	root    interface{}
	stack   []valueFrame
	cur     TokenInfo
	started bool
}

type valueFrame struct {
	object bool
	named  bool
	names  []string
	values []interface{}
	i      int
}

// NewValueSource creates a source walking v.
func NewValueSource(v interface{}) *ValueSource {
	return &ValueSource{root: v}
}

// Current implements TokenSource.
func (s *ValueSource) Current() TokenInfo { return s.cur }

// Read implements TokenSource.
func (s *ValueSource) Read() (bool, error) {
	if !s.started {
		s.started = true
		return true, s.emit(s.root)
	}
	if len(s.stack) == 0 {
		return false, errors.Wrap(io.ErrUnexpectedEOF, "blittable: value source exhausted")
	}

	top := &s.stack[len(s.stack)-1]
	if top.i >= len(top.values) {
		if top.object {
			s.cur = TokenInfo{Kind: KindEndObject}
		} else {
			s.cur = TokenInfo{Kind: KindEndArray}
		}
		s.stack = s.stack[:len(s.stack)-1]
		return true, nil
	}
	if top.object && !top.named {
		top.named = true
		s.cur = TokenInfo{Kind: KindString, Str: top.names[top.i]}
		return true, nil
	}

	v := top.values[top.i]
	top.i++
	top.named = false
	return true, s.emit(v)
}

func (s *ValueSource) pushObject(names []string, values []interface{}) {
	s.stack = append(s.stack, valueFrame{object: true, names: names, values: values})
	s.cur = TokenInfo{Kind: KindStartObject}
}

func (s *ValueSource) pushArray(values []interface{}) {
	s.stack = append(s.stack, valueFrame{values: values})
	s.cur = TokenInfo{Kind: KindStartArray}
}

func (s *ValueSource) emit(v interface{}) error {
	switch x := v.(type) {
	case nil:
		s.cur = TokenInfo{Kind: KindNull}
	case bool:
		if x {
			s.cur = TokenInfo{Kind: KindTrue}
		} else {
			s.cur = TokenInfo{Kind: KindFalse}
		}
	case string:
		s.cur = TokenInfo{Kind: KindString, Str: x}
	case int:
		s.cur = TokenInfo{Kind: KindInteger, Int: int64(x)}
	case int8:
		s.cur = TokenInfo{Kind: KindInteger, Int: int64(x)}
	case int16:
		s.cur = TokenInfo{Kind: KindInteger, Int: int64(x)}
	case int32:
		s.cur = TokenInfo{Kind: KindInteger, Int: int64(x)}
	case int64:
		s.cur = TokenInfo{Kind: KindInteger, Int: x}
	case uint8:
		s.cur = TokenInfo{Kind: KindInteger, Int: int64(x)}
	case uint16:
		s.cur = TokenInfo{Kind: KindInteger, Int: int64(x)}
	case uint32:
		s.cur = TokenInfo{Kind: KindInteger, Int: int64(x)}
	case uint:
		s.emitUint(uint64(x))
	case uint64:
		s.emitUint(x)
	case float32:
		s.cur = TokenInfo{Kind: KindFloat, Num: float64(x)}
	case float64:
		s.cur = TokenInfo{Kind: KindFloat, Num: x}
	case Fields:
		names := make([]string, len(x))
		values := make([]interface{}, len(x))
		for i, f := range x {
			names[i], values[i] = f.Name, f.Value
		}
		s.pushObject(names, values)
	case map[string]interface{}:
		names := make([]string, 0, len(x))
		for k := range x {
			names = append(names, k)
		}
		sort.Strings(names)
		values := make([]interface{}, len(names))
		for i, k := range names {
			values[i] = x[k]
		}
		s.pushObject(names, values)
	case []interface{}:
		s.pushArray(x)
	case *Document:
		return s.emitObject(x.root)
	case *Object:
		return s.emitObject(x)
	case *Array:
		return s.emitArray(x)
	case Value:
		return s.emitValue(x)
	default:
		return s.emitReflect(v)
	}
	return nil
}

func (s *ValueSource) emitUint(x uint64) {
	if x > math.MaxInt64 {
		s.cur = TokenInfo{Kind: KindFloat, Num: float64(x)}
	} else {
		s.cur = TokenInfo{Kind: KindInteger, Int: int64(x)}
	}
}

func (s *ValueSource) emitReflect(v interface{}) error {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		values := make([]interface{}, rv.Len())
		for i := range values {
			values[i] = rv.Index(i).Interface()
		}
		s.pushArray(values)
		return nil
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			break
		}
		names := make([]string, 0, rv.Len())
		for _, k := range rv.MapKeys() {
			names = append(names, k.String())
		}
		sort.Strings(names)
		values := make([]interface{}, len(names))
		for i, k := range names {
			values[i] = rv.MapIndex(reflect.ValueOf(k).Convert(rv.Type().Key())).Interface()
		}
		s.pushObject(names, values)
		return nil
	case reflect.Ptr:
		if rv.IsNil() {
			s.cur = TokenInfo{Kind: KindNull}
			return nil
		}
		return s.emit(rv.Elem().Interface())
	}
	return errors.Newf("blittable: unsupported value type %T", v)
}

func (s *ValueSource) emitObject(o *Object) error {
	names, err := o.GetPropertyNames()
	if err != nil {
		return err
	}
	values := make([]interface{}, len(names))
	for i, name := range names {
		v, _, err := o.TryGet(name)
		if err != nil {
			return err
		}
		values[i] = v
	}
	s.pushObject(names, values)
	return nil
}

func (s *ValueSource) emitArray(a *Array) error {
	values := make([]interface{}, a.Len())
	for i := range values {
		v, err := a.Get(i)
		if err != nil {
			return err
		}
		values[i] = v
	}
	s.pushArray(values)
	return nil
}

func (s *ValueSource) emitValue(v Value) error {
	switch v.Type() {
	case TokenStartObject:
		o, err := v.AsObject()
		if err != nil {
			return err
		}
		return s.emitObject(o)
	case TokenStartArray:
		a, err := v.AsArray()
		if err != nil {
			return err
		}
		return s.emitArray(a)
	case TokenInteger:
		n, err := v.AsInt()
		if err != nil {
			return err
		}
		s.cur = TokenInfo{Kind: KindInteger, Int: n}
	case TokenLazyNumber:
		text, err := v.AsNumberText()
		if err != nil {
			return err
		}
		s.cur = TokenInfo{Kind: KindFloat, Text: text}
	case TokenString, TokenCompressedString, TokenCompressedSmallString:
		str, err := v.AsString()
		if err != nil {
			return err
		}
		s.cur = TokenInfo{Kind: KindString, Str: str}
	case TokenBoolean:
		b, err := v.AsBool()
		if err != nil {
			return err
		}
		return s.emit(b)
	case TokenNull:
		s.cur = TokenInfo{Kind: KindNull}
	default:
		return errors.Newf("blittable: cannot walk %s value", v.token)
	}
	return nil
}

// --------------------------------------------------------------------

// Modifications describe changes to the root properties of a document.
// Applying them rebuilds the document; the original stays untouched.
type Modifications struct {
	order   []string
	sets    map[string]interface{}
	removed map[string]struct{}
}

// NewModifications creates an empty set of changes.
func NewModifications() *Modifications {
	return &Modifications{
		sets:    make(map[string]interface{}),
		removed: make(map[string]struct{}),
	}
}

// Set replaces or adds a property. Existing properties keep their position,
// new ones are appended.
func (m *Modifications) Set(name string, v interface{}) *Modifications {
	delete(m.removed, name)
	if _, ok := m.sets[name]; !ok {
		m.order = append(m.order, name)
	}
	m.sets[name] = v
	return m
}

// Remove drops a property.
func (m *Modifications) Remove(name string) *Modifications {
	if _, ok := m.sets[name]; ok {
		delete(m.sets, name)
		for i, n := range m.order {
			if n == name {
				m.order = append(m.order[:i], m.order[i+1:]...)
				break
			}
		}
	}
	m.removed[name] = struct{}{}
	return m
}

// fields merges the changes with the properties of o.
func (m *Modifications) fields(o *Object) (Fields, error) {
	names, err := o.GetPropertyNames()
	if err != nil {
		return nil, err
	}

	used := make(map[string]bool, len(m.sets))
	out := make(Fields, 0, len(names)+len(m.order))
	for _, name := range names {
		if _, ok := m.removed[name]; ok {
			continue
		}
		if v, ok := m.sets[name]; ok {
			used[name] = true
			out = append(out, Field{Name: name, Value: v})
			continue
		}
		v, _, err := o.TryGet(name)
		if err != nil {
			return nil, err
		}
		out = append(out, Field{Name: name, Value: v})
	}
	for _, name := range m.order {
		if !used[name] {
			out = append(out, Field{Name: name, Value: m.sets[name]})
		}
	}
	return out, nil
}

// Modify builds a new document from doc with m applied.
func (c *Context) Modify(doc *Document, m *Modifications, mode UsageMode) (*Document, error) {
	fields, err := m.fields(doc.Root())
	if err != nil {
		return nil, err
	}
	return c.ReadObject(fields, mode)
}
