package blittable

import (
	"bytes"
	"io"

	jsoniter "github.com/json-iterator/go"
)

var jsonConfig = jsoniter.Config{EscapeHTML: false}.Froze()

// WriteJSONTo writes the document as JSON. Properties appear in insertion
// order.
func (d *Document) WriteJSONTo(w io.Writer) error {
	stream := jsonConfig.BorrowStream(w)
	defer jsonConfig.ReturnStream(stream)

	if err := writeObjectJSON(stream, d.root); err != nil {
		return err
	}
	if stream.Error != nil {
		return stream.Error
	}
	return stream.Flush()
}

// MarshalJSON implements json.Marshaler.
func (d *Document) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	if err := d.WriteJSONTo(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeObjectJSON(stream *jsoniter.Stream, o *Object) error {
	names, err := o.GetPropertyNames()
	if err != nil {
		return err
	}

	stream.WriteObjectStart()
	for i, name := range names {
		if i > 0 {
			stream.WriteMore()
		}
		stream.WriteObjectField(name)

		v, _, err := o.TryGet(name)
		if err != nil {
			return err
		}
		if err := writeValueJSON(stream, v); err != nil {
			return err
		}
	}
	stream.WriteObjectEnd()
	return nil
}

func writeArrayJSON(stream *jsoniter.Stream, a *Array) error {
	stream.WriteArrayStart()
	for i := 0; i < a.Len(); i++ {
		if i > 0 {
			stream.WriteMore()
		}
		v, err := a.Get(i)
		if err != nil {
			return err
		}
		if err := writeValueJSON(stream, v); err != nil {
			return err
		}
	}
	stream.WriteArrayEnd()
	return nil
}

func writeValueJSON(stream *jsoniter.Stream, v Value) error {
	switch v.Type() {
	case TokenStartObject:
		o, err := v.AsObject()
		if err != nil {
			return err
		}
		return writeObjectJSON(stream, o)
	case TokenStartArray:
		a, err := v.AsArray()
		if err != nil {
			return err
		}
		return writeArrayJSON(stream, a)
	case TokenInteger:
		n, err := v.AsInt()
		if err != nil {
			return err
		}
		stream.WriteInt64(n)
	case TokenLazyNumber:
		text, err := v.AsNumberText()
		if err != nil {
			return err
		}
		stream.WriteRaw(text)
	case TokenString, TokenCompressedString, TokenCompressedSmallString:
		s, escapes, _, err := v.doc.readString(v.pos, v.token, v.doc.tableOffset)
		if err != nil {
			return err
		}
		if len(escapes) == 0 {
			stream.WriteRaw(`"`)
			stream.WriteRaw(s)
			stream.WriteRaw(`"`)
		} else {
			stream.WriteString(s)
		}
	case TokenBoolean:
		b, err := v.AsBool()
		if err != nil {
			return err
		}
		stream.WriteBool(b)
	case TokenNull:
		stream.WriteNil()
	}
	return nil
}
