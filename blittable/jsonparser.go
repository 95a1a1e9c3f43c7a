package blittable

import (
	"io"
	"strconv"
	"unicode/utf16"
	"unicode/utf8"

	"github.com/cockroachdb/errors"
)

type expect uint8

const (
	expectValue expect = iota
	expectKeyOrEnd
	expectKey
	expectValueOrEnd
	expectColon
	expectCommaOrEnd
	expectEOF
)

// JSONParser is an incremental JSON tokenizer. Input is supplied in chunks
// with Write; Read reports false while a token is incomplete and can be
// retried once more input arrived.
type JSONParser struct {
	buf      []byte
	pos      int
	finished bool

	expect expect
	stack  []byte // open containers, '{' or '['
	cur    TokenInfo
}

// NewJSONParser creates a parser.
func NewJSONParser() *JSONParser {
	return &JSONParser{}
}

// Write appends input.
func (p *JSONParser) Write(chunk []byte) {
	if p.pos > 0 && p.pos >= len(p.buf)/2 {
		n := copy(p.buf, p.buf[p.pos:])
		p.buf = p.buf[:n]
		p.pos = 0
	}
	p.buf = append(p.buf, chunk...)
}

// Finish marks the end of input.
func (p *JSONParser) Finish() { p.finished = true }

// Current implements TokenSource.
func (p *JSONParser) Current() TokenInfo { return p.cur }

// Read implements TokenSource.
func (p *JSONParser) Read() (bool, error) {
	for {
		p.skipWhitespace()
		if p.pos == len(p.buf) {
			if p.finished {
				return false, errors.Wrap(io.ErrUnexpectedEOF, "blittable: parsing JSON")
			}
			return false, nil
		}

		c := p.buf[p.pos]
		switch p.expect {
		case expectColon:
			if c != ':' {
				return false, p.syntaxError("expected ':'")
			}
			p.pos++
			p.expect = expectValue
			continue
		case expectCommaOrEnd:
			switch {
			case c == ',':
				p.pos++
				if p.top() == '{' {
					p.expect = expectKey
				} else {
					p.expect = expectValue
				}
				continue
			case c == '}' && p.top() == '{', c == ']' && p.top() == '[':
				return p.closeContainer(c), nil
			}
			return false, p.syntaxError("expected ',' or end of container")
		case expectKeyOrEnd, expectKey:
			if c == '}' && p.expect == expectKeyOrEnd {
				return p.closeContainer(c), nil
			}
			if c != '"' {
				return false, p.syntaxError("expected property name")
			}
			ok, err := p.readString()
			if err != nil || !ok {
				return false, err
			}
			p.expect = expectColon
			return true, nil
		case expectValueOrEnd:
			if c == ']' {
				return p.closeContainer(c), nil
			}
		case expectEOF:
			return false, p.syntaxError("unexpected data after document")
		}
		return p.readValue(c)
	}
}

// CheckEOF fails unless the remaining input is whitespace.
func (p *JSONParser) CheckEOF() error {
	p.skipWhitespace()
	if p.pos != len(p.buf) {
		return p.syntaxError("unexpected data after document")
	}
	return nil
}

func (p *JSONParser) readValue(c byte) (bool, error) {
	switch c {
	case '{':
		p.pos++
		p.stack = append(p.stack, '{')
		p.expect = expectKeyOrEnd
		p.cur = TokenInfo{Kind: KindStartObject}
		return true, nil
	case '[':
		p.pos++
		p.stack = append(p.stack, '[')
		p.expect = expectValueOrEnd
		p.cur = TokenInfo{Kind: KindStartArray}
		return true, nil
	case '"':
		ok, err := p.readString()
		if err != nil || !ok {
			return false, err
		}
	case 't':
		ok, err := p.readLiteral("true", TokenInfo{Kind: KindTrue})
		if err != nil || !ok {
			return false, err
		}
	case 'f':
		ok, err := p.readLiteral("false", TokenInfo{Kind: KindFalse})
		if err != nil || !ok {
			return false, err
		}
	case 'n':
		ok, err := p.readLiteral("null", TokenInfo{Kind: KindNull})
		if err != nil || !ok {
			return false, err
		}
	default:
		if c != '-' && (c < '0' || c > '9') {
			return false, p.syntaxError("invalid character")
		}
		ok, err := p.readNumber()
		if err != nil || !ok {
			return false, err
		}
	}
	p.valueDone()
	return true, nil
}

func (p *JSONParser) valueDone() {
	if len(p.stack) == 0 {
		p.expect = expectEOF
	} else {
		p.expect = expectCommaOrEnd
	}
}

func (p *JSONParser) closeContainer(c byte) bool {
	p.pos++
	p.stack = p.stack[:len(p.stack)-1]
	if c == '}' {
		p.cur = TokenInfo{Kind: KindEndObject}
	} else {
		p.cur = TokenInfo{Kind: KindEndArray}
	}
	p.valueDone()
	return true
}

func (p *JSONParser) top() byte {
	if len(p.stack) == 0 {
		return 0
	}
	return p.stack[len(p.stack)-1]
}

func (p *JSONParser) skipWhitespace() {
	for p.pos < len(p.buf) {
		switch p.buf[p.pos] {
		case ' ', '\t', '\r', '\n':
			p.pos++
		default:
			return
		}
	}
}

func (p *JSONParser) readLiteral(lit string, tok TokenInfo) (bool, error) {
	rest := p.buf[p.pos:]
	if len(rest) < len(lit) {
		if string(rest) != lit[:len(rest)] {
			return false, p.syntaxError("invalid literal")
		}
		if p.finished {
			return false, errors.Wrap(io.ErrUnexpectedEOF, "blittable: truncated literal")
		}
		return false, nil
	}
	if string(rest[:len(lit)]) != lit {
		return false, p.syntaxError("invalid literal")
	}
	p.pos += len(lit)
	p.cur = tok
	return true, nil
}

func (p *JSONParser) readNumber() (bool, error) {
	end := p.pos
	isFloat := false
	for end < len(p.buf) {
		c := p.buf[end]
		if c >= '0' && c <= '9' || c == '-' || c == '+' {
			end++
		} else if c == '.' || c == 'e' || c == 'E' {
			isFloat = true
			end++
		} else {
			break
		}
	}
	if end == len(p.buf) && !p.finished {
		return false, nil
	}

	text := string(p.buf[p.pos:end])
	if !isFloat {
		if v, err := strconv.ParseInt(text, 10, 64); err == nil {
			p.pos = end
			p.cur = TokenInfo{Kind: KindInteger, Int: v}
			return true, nil
		}
	}
	if _, err := strconv.ParseFloat(text, 64); err != nil && !errors.Is(err, strconv.ErrRange) {
		return false, p.syntaxError("invalid number")
	}
	p.pos = end
	p.cur = TokenInfo{Kind: KindFloat, Text: text}
	return true, nil
}

// readString reads a quoted string starting at pos. Nothing is consumed
// unless the closing quote is in the buffer.
func (p *JSONParser) readString() (bool, error) {
	i := p.pos + 1
	plain := true
	for ; i < len(p.buf); i++ {
		c := p.buf[i]
		if c == '"' {
			break
		}
		if c == '\\' {
			plain = false
			i++
		} else if c < 0x20 {
			return false, p.syntaxError("control character in string")
		}
	}
	if i >= len(p.buf) {
		if p.finished {
			return false, errors.Wrap(io.ErrUnexpectedEOF, "blittable: unterminated string")
		}
		return false, nil
	}

	raw := p.buf[p.pos+1 : i]
	var s string
	if plain {
		s = string(raw)
	} else {
		var err error
		if s, err = unescape(raw); err != nil {
			return false, p.syntaxError(err.Error())
		}
	}
	if !utf8.ValidString(s) {
		return false, p.syntaxError("invalid UTF-8 in string")
	}
	p.pos = i + 1
	p.cur = TokenInfo{Kind: KindString, Str: s}
	return true, nil
}

func unescape(raw []byte) (string, error) {
	out := make([]byte, 0, len(raw))
	for i := 0; i < len(raw); i++ {
		c := raw[i]
		if c != '\\' {
			out = append(out, c)
			continue
		}
		i++
		if i >= len(raw) {
			return "", errors.New("truncated escape")
		}
		switch raw[i] {
		case '"', '\\', '/':
			out = append(out, raw[i])
		case 'b':
			out = append(out, '\b')
		case 'f':
			out = append(out, '\f')
		case 'n':
			out = append(out, '\n')
		case 'r':
			out = append(out, '\r')
		case 't':
			out = append(out, '\t')
		case 'u':
			r, n, err := readRune(raw[i+1:])
			if err != nil {
				return "", err
			}
			i += n
			out = utf8.AppendRune(out, r)
		default:
			return "", errors.Newf("invalid escape '\\%c'", raw[i])
		}
	}
	return string(out), nil
}

// readRune decodes the hex digits after \u, joining surrogate pairs. It
// returns the number of bytes consumed.
func readRune(b []byte) (rune, int, error) {
	r1, ok := hex4(b)
	if !ok {
		return 0, 0, errors.New("invalid unicode escape")
	}
	if !utf16.IsSurrogate(r1) {
		return r1, 4, nil
	}
	if len(b) >= 10 && b[4] == '\\' && b[5] == 'u' {
		if r2, ok := hex4(b[6:]); ok {
			if r := utf16.DecodeRune(r1, r2); r != utf8.RuneError {
				return r, 10, nil
			}
		}
	}
	return utf8.RuneError, 4, nil
}

func hex4(b []byte) (rune, bool) {
	if len(b) < 4 {
		return 0, false
	}
	v, err := strconv.ParseUint(string(b[:4]), 16, 32)
	if err != nil {
		return 0, false
	}
	return rune(v), true
}

func (p *JSONParser) syntaxError(msg string) error {
	return errors.Newf("blittable: invalid JSON at offset %d: %s", p.pos, msg)
}
