package blittable

import (
	"io"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
)

// TokenKind is the kind of an input token.
type TokenKind uint8

// Input token kinds.
const (
	KindNone TokenKind = iota
	KindStartObject
	KindEndObject
	KindStartArray
	KindEndArray
	KindString
	KindInteger
	KindFloat
	KindTrue
	KindFalse
	KindNull
)

func (k TokenKind) String() string {
	switch k {
	case KindStartObject:
		return "start-object"
	case KindEndObject:
		return "end-object"
	case KindStartArray:
		return "start-array"
	case KindEndArray:
		return "end-array"
	case KindString:
		return "string"
	case KindInteger:
		return "integer"
	case KindFloat:
		return "float"
	case KindTrue:
		return "true"
	case KindFalse:
		return "false"
	case KindNull:
		return "null"
	}
	return "none"
}

// TokenInfo is the current token of a source.
type TokenInfo struct {
	Kind TokenKind
	Str  string  // KindString
	Int  int64   // KindInteger
	Text string  // KindFloat, decimal text when known
	Num  float64 // KindFloat, when Text is empty
}

// TokenSource produces input tokens for a Builder.
type TokenSource interface {
	// Read advances to the next token. It returns false when the token is
	// not yet available, for example because more input must be supplied.
	Read() (bool, error)
	// Current returns the token read by the last successful Read.
	Current() TokenInfo
}

// --------------------------------------------------------------------

type buildState uint8

const (
	stateReadObjectDocument buildState = iota + 1
	stateReadArrayDocument
	stateReadObject
	stateReadPropertyName
	stateReadPropertyValue
	stateReadValue
	stateCompleteReadingPropertyValue
	stateReadArray
	stateReadArrayValue
	stateCompleteArrayValue
	stateCompleteArray
	stateCompleteArrayDocument
	stateCompleteDocument
)

type buildFrame struct {
	state      buildState
	firstWrite int
	property   int
	props      []PropertyTag
	items      []ArrayItem
}

// ArrayDocumentProperty is the property name wrapping array roots.
const ArrayDocumentProperty = "_"

// Builder turns a token stream into a document with an explicit stack of
// frames, so it can suspend whenever the source runs dry and resume later.
type Builder struct {
	ctx    *Context
	src    TokenSource
	writer *Writer
	log    *zap.Logger

	stack   []buildFrame
	started bool
	done    bool

	// result of the last completed value
	lastPos   int
	lastToken Token

	spare [][]PropertyTag
}

func newBuilder(ctx *Context, mode UsageMode, src TokenSource) *Builder {
	return &Builder{
		ctx:    ctx,
		src:    src,
		writer: newWriter(ctx, mode),
		log:    ctx.o.Logger,
	}
}

// ReadObjectDocument expects the input to be a single object.
func (b *Builder) ReadObjectDocument() {
	b.start(stateReadObjectDocument)
}

// ReadArrayDocument expects the input to be a single array.
func (b *Builder) ReadArrayDocument() {
	b.start(stateReadArrayDocument)
}

func (b *Builder) start(s buildState) {
	b.stack = append(b.stack[:0], buildFrame{state: stateCompleteDocument}, buildFrame{state: s})
	b.started = true
	b.done = false
}

// Done reports whether the document is complete.
func (b *Builder) Done() bool { return b.done }

// Read drives the state machine as far as the source allows. It returns true
// once the document is complete and false when the source needs more input.
func (b *Builder) Read() (bool, error) {
	if !b.started || b.done {
		return b.done, nil
	}

	for len(b.stack) != 0 {
		top := &b.stack[len(b.stack)-1]

		switch top.state {
		case stateReadObjectDocument:
			if ok, err := b.src.Read(); err != nil || !ok {
				return false, err
			}
			if kind := b.src.Current().Kind; kind != KindStartObject {
				return false, errors.Newf("blittable: expected start of object, got %s", kind)
			}
			top.state = stateReadObject

		case stateReadArrayDocument:
			if ok, err := b.src.Read(); err != nil || !ok {
				return false, err
			}
			if kind := b.src.Current().Kind; kind != KindStartArray {
				return false, errors.Newf("blittable: expected start of array, got %s", kind)
			}
			*top = buildFrame{
				state:      stateCompleteArrayDocument,
				firstWrite: b.writer.Position(),
				property:   b.writer.PropertyID(ArrayDocumentProperty),
			}
			b.push(buildFrame{state: stateReadArray})

		case stateReadObject:
			top.firstWrite = b.writer.Position()
			top.props = b.takeProps()
			top.state = stateReadPropertyName

		case stateReadPropertyName:
			if ok, err := b.src.Read(); err != nil || !ok {
				return false, err
			}
			tok := b.src.Current()
			switch tok.Kind {
			case KindEndObject:
				pos, t, err := b.writer.WriteObjectMetadata(top.props, top.firstWrite)
				if err != nil {
					return false, err
				}
				b.spare = append(b.spare, top.props[:0])
				b.pop(pos, t)
			case KindString:
				top.property = b.writer.PropertyID(tok.Str)
				top.state = stateReadPropertyValue
			default:
				return false, errors.Newf("blittable: expected property name, got %s", tok.Kind)
			}

		case stateReadPropertyValue:
			if ok, err := b.src.Read(); err != nil || !ok {
				return false, err
			}
			top.state = stateCompleteReadingPropertyValue
			b.push(buildFrame{state: stateReadValue})

		case stateCompleteReadingPropertyValue:
			top.props = append(top.props, PropertyTag{ID: top.property, Position: b.lastPos, Token: b.lastToken})
			top.state = stateReadPropertyName

		case stateCompleteArrayDocument:
			props := []PropertyTag{{ID: top.property, Position: b.lastPos, Token: b.lastToken}}
			pos, t, err := b.writer.WriteObjectMetadata(props, top.firstWrite)
			if err != nil {
				return false, err
			}
			b.pop(pos, t)

		case stateReadValue:
			if err := b.readValue(top); err != nil {
				return false, err
			}

		case stateReadArray:
			top.firstWrite = b.writer.Position()
			top.state = stateReadArrayValue

		case stateReadArrayValue:
			if ok, err := b.src.Read(); err != nil || !ok {
				return false, err
			}
			if b.src.Current().Kind == KindEndArray {
				top.state = stateCompleteArray
				continue
			}
			top.state = stateCompleteArrayValue
			b.push(buildFrame{state: stateReadValue})

		case stateCompleteArrayValue:
			top.items = append(top.items, ArrayItem{Position: b.lastPos, Token: b.lastToken})
			top.state = stateReadArrayValue

		case stateCompleteArray:
			pos, t, err := b.writer.WriteArrayMetadata(top.items, top.firstWrite)
			if err != nil {
				return false, err
			}
			b.pop(pos, t)

		case stateCompleteDocument:
			if err := b.writer.WriteDocumentMetadata(b.lastPos, b.lastToken); err != nil {
				return false, err
			}
			b.stack = b.stack[:0]
			b.done = true
			b.log.Debug("blittable: document built", zap.Int("size", b.writer.Position()))
			return true, nil

		default:
			return false, errors.AssertionFailedf("blittable: invalid builder state %d", top.state)
		}
	}
	return b.done, nil
}

// readValue writes the current scalar token or replaces the frame with a
// container frame.
func (b *Builder) readValue(top *buildFrame) error {
	var (
		pos int
		t   Token
		err error
	)

	tok := b.src.Current()
	switch tok.Kind {
	case KindStartObject:
		*top = buildFrame{state: stateReadObject}
		return nil
	case KindStartArray:
		*top = buildFrame{state: stateReadArray}
		return nil
	case KindString:
		pos, t, err = b.writer.WriteString(tok.Str)
	case KindInteger:
		pos, t, err = b.writer.WriteInteger(tok.Int)
	case KindFloat:
		if tok.Text != "" {
			pos, t, err = b.writer.WriteNumberText(tok.Text)
		} else {
			pos, t, err = b.writer.WriteDouble(tok.Num)
		}
	case KindTrue:
		pos, t, err = b.writer.WriteBool(true)
	case KindFalse:
		pos, t, err = b.writer.WriteBool(false)
	case KindNull:
		pos, t, err = b.writer.WriteNull()
	default:
		return errors.Newf("blittable: unexpected %s in value position", tok.Kind)
	}
	if err != nil {
		return err
	}
	b.pop(pos, t)
	return nil
}

func (b *Builder) push(f buildFrame) {
	b.stack = append(b.stack, f)
}

func (b *Builder) pop(pos int, t Token) {
	b.stack = b.stack[:len(b.stack)-1]
	b.lastPos, b.lastToken = pos, t
}

func (b *Builder) takeProps() []PropertyTag {
	if n := len(b.spare); n != 0 {
		p := b.spare[n-1]
		b.spare = b.spare[:n-1]
		return p
	}
	return make([]PropertyTag, 0, 8)
}

// CreateDocument returns the built document. It fails unless Read reported
// completion.
func (b *Builder) CreateDocument() (*Document, error) {
	if !b.done {
		return nil, errors.AssertionFailedf("blittable: document is incomplete")
	}
	return b.writer.CreateDocument()
}

// Release frees the builder buffers that were not handed to a document.
func (b *Builder) Release() {
	b.writer.Release()
	b.stack = b.stack[:0]
	b.started = false
	b.done = false
}

func (b *Builder) run() (*Document, error) {
	done, err := b.Read()
	if err != nil {
		return nil, err
	}
	if !done {
		return nil, errors.Wrap(io.ErrUnexpectedEOF, "blittable: incomplete input")
	}
	return b.CreateDocument()
}
