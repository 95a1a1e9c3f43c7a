package blittable

import (
	"strconv"
	"unicode/utf8"

	"github.com/bsm/blitstore"
)

// Validate checks the whole document structure: every offset in range,
// every token known, property names sorted, string escape tables consistent.
// All failures are marked with blitstore.ErrCorrupted.
func (d *Document) Validate() error {
	namesStart := d.tableOffset
	for id := 0; id < d.nameCount; id++ {
		name, err := d.PropertyName(id)
		if err != nil {
			return err
		}
		if !utf8.ValidString(name) {
			return blitstore.Corruptf("blittable: property name %d is not valid UTF-8", id)
		}
		at := d.tableOffset + 1 + id*d.nameWidth
		if pos := d.tableOffset - int(readFixed(d.buf[at:], d.nameWidth)); pos < namesStart {
			namesStart = pos
		}
	}

	v := validator{doc: d, depth: 0}
	end, err := v.object(d.rootPos, d.rootToken, namesStart)
	if err != nil {
		return err
	}
	if end > namesStart {
		return blitstore.Corruptf("blittable: root object overlaps the property names at %d", namesStart)
	}
	return nil
}

const maxValidationDepth = 1024

type validator struct {
	doc   *Document
	depth int
}

// object validates an object whose metadata starts at pos and must end at or
// before limit. It returns the end of the metadata.
func (v *validator) object(pos int, tok Token, limit int) (int, error) {
	o, err := newObject(v.doc, pos, tok)
	if err != nil {
		return 0, err
	}
	end := o.entries + o.count*o.entrySize
	if end > limit {
		return 0, blitstore.Corruptf("blittable: object at %d exceeds its bounds", pos)
	}
	if v.depth++; v.depth > maxValidationDepth {
		return 0, blitstore.Corruptf("blittable: nesting deeper than %d", maxValidationDepth)
	}
	defer func() { v.depth-- }()

	prev := ""
	for i := 0; i < o.count; i++ {
		valuePos, id, vt, err := o.entry(i)
		if err != nil {
			return 0, err
		}
		name, err := v.doc.PropertyName(id)
		if err != nil {
			return 0, err
		}
		if i > 0 && name <= prev {
			return 0, blitstore.Corruptf("blittable: properties of object at %d are not sorted", pos)
		}
		prev = name

		if err := v.value(valuePos, vt, pos); err != nil {
			return 0, err
		}
	}
	return end, nil
}

func (v *validator) array(pos int, tok Token, limit int) (int, error) {
	a, err := newArray(v.doc, pos, tok)
	if err != nil {
		return 0, err
	}
	end := a.entries + a.count*a.entrySize
	if end > limit {
		return 0, blitstore.Corruptf("blittable: array at %d exceeds its bounds", pos)
	}
	if v.depth++; v.depth > maxValidationDepth {
		return 0, blitstore.Corruptf("blittable: nesting deeper than %d", maxValidationDepth)
	}
	defer func() { v.depth-- }()

	for i := 0; i < a.count; i++ {
		at := a.entries + i*a.entrySize
		dist := int(readFixed(v.doc.buf[at:], a.offSize))
		vt := Token(v.doc.buf[at+a.offSize])
		if dist <= 0 || dist > pos {
			return 0, blitstore.Corruptf("blittable: element distance %d out of range at %d", dist, at)
		}
		if !vt.isValid() {
			return 0, blitstore.Corruptf("blittable: invalid token %#x at %d", byte(vt), at)
		}
		if err := v.value(pos-dist, vt, pos); err != nil {
			return 0, err
		}
	}
	return end, nil
}

// value validates a value that must end at or before limit.
func (v *validator) value(pos int, tok Token, limit int) error {
	d := v.doc
	if pos < 0 || pos >= limit {
		return blitstore.Corruptf("blittable: value at %d out of range", pos)
	}

	switch tok.Type() {
	case TokenStartObject:
		_, err := v.object(pos, tok, limit)
		return err
	case TokenStartArray:
		_, err := v.array(pos, tok, limit)
		return err
	case TokenInteger:
		_, _, err := d.readInteger(pos, limit)
		return err
	case TokenLazyNumber:
		text, _, err := d.readNumber(pos, limit)
		if err != nil {
			return err
		}
		if _, err := strconv.ParseFloat(text, 64); err != nil && !isRangeError(err) {
			return blitstore.Corruptf("blittable: invalid number %q at %d", text, pos)
		}
		return nil
	case TokenString, TokenCompressedString, TokenCompressedSmallString:
		s, escapes, _, err := d.readString(pos, tok, limit)
		if err != nil {
			return err
		}
		last := -1
		for _, at := range escapes {
			if at <= last || at >= len(s) {
				return blitstore.Corruptf("blittable: invalid escape position %d in string at %d", at, pos)
			}
			if !needsEscape(s[at]) {
				return blitstore.Corruptf("blittable: escape position %d does not point to an escapable byte in string at %d", at, pos)
			}
			last = at
		}
		return nil
	case TokenBoolean:
		if b := d.buf[pos]; b > 1 {
			return blitstore.Corruptf("blittable: invalid boolean %#x at %d", b, pos)
		}
		return nil
	case TokenNull:
		if d.buf[pos] != 0 {
			return blitstore.Corruptf("blittable: invalid null marker at %d", pos)
		}
		return nil
	}
	return blitstore.Corruptf("blittable: invalid token %#x at %d", byte(tok), pos)
}

func isRangeError(err error) bool {
	ne, ok := err.(*strconv.NumError)
	return ok && ne.Err == strconv.ErrRange
}
