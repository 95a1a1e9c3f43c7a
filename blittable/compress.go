package blittable

import (
	"strings"

	"github.com/bsm/blitstore"
	"github.com/pierrec/lz4/v4"
)

// compressLarge compresses src with LZ4 into the context scratch buffer. It
// returns nil unless the result is smaller than src.
func (c *Context) compressLarge(src []byte) []byte {
	dst := c.scratchBuf(lz4.CompressBlockBound(len(src)))
	n, err := c.compressor().CompressBlock(src, dst)
	if err != nil || n == 0 || n >= len(src) {
		return nil
	}
	return dst[:n]
}

func decompressLarge(dst, src []byte) error {
	n, err := lz4.UncompressBlock(src, dst)
	if err != nil {
		return blitstore.Corruptf("blittable: invalid compressed string: %v", err)
	}
	if n != len(dst) {
		return blitstore.Corruptf("blittable: compressed string decodes to %d bytes, expected %d", n, len(dst))
	}
	return nil
}

// --------------------------------------------------------------------

// The small string codec replaces frequent fragments with single byte codes.
// Bytes not covered by the codebook are emitted as literals:
//
//	code < len(codebook)   codebook entry
//	0xFE b                 single literal byte
//	0xFF n b0..bn          run of n+1 literal bytes
const (
	smallLiteral    = 0xFE
	smallLiteralRun = 0xFF
	smallMinLength  = 4
)

var codebook = [...]string{
	" ", "e", "t", "a", "o", "i", "n", "s", "r", "h", "l", "d", "c", "u", "m", "p",
	"the", "ing", "and", "ion", "tion", "er", "re", "on", "at", "en", "es", "ed",
	"or", "te", "ti", "is", "it", "ar", "st", "to", "nt", "ng", "se", "ha", "as",
	"ou", "io", "le", "ve", "co", "me", "de", "hi", "ri", "ro", "ic", "ne", "ea",
	"ra", "ce", "li", "ch", "ll", "be", "ma", "si", "om", "ur", "http://", "https://",
	"www.", ".com", ".org", ".net", "@gmail.com", "@", ".", ",", "-", "_", "/", ":",
	"0", "1", "2", "3", "4", "5", "6", "7", "8", "9", "00", "20", "19",
	"A", "B", "C", "D", "E", "F", "G", "H", "I", "J", "K", "L", "M", "N", "O",
	"P", "Q", "R", "S", "T", "U", "V", "W", "X", "Y", "Z",
	"b", "f", "g", "j", "k", "q", "v", "w", "x", "y", "z",
	"of ", "in ", "to ", "is ", "for ", "with ", "that ", "this ", "from ",
	"user", "name", "id", "admin", "test", "info", "mail", "data", "order",
	"'", "\"", "(", ")", "#", "+", "=", "?", "&", "!",
}

var (
	codebookIndex  map[string]byte
	codebookMaxLen int
)

func init() {
	if len(codebook) >= smallLiteral {
		panic("blittable: codebook too large")
	}
	codebookIndex = make(map[string]byte, len(codebook))
	for i, s := range codebook {
		if _, ok := codebookIndex[s]; ok {
			panic("blittable: duplicate codebook entry " + s)
		}
		codebookIndex[s] = byte(i)
		if len(s) > codebookMaxLen {
			codebookMaxLen = len(s)
		}
	}
}

// compressSmall encodes s with the codebook. It returns nil unless the result
// is smaller than s.
func compressSmall(dst []byte, s string) []byte {
	dst = dst[:0]
	var lit []byte

	flush := func() {
		for len(lit) != 0 {
			n := len(lit)
			if n > 256 {
				n = 256
			}
			if n == 1 {
				dst = append(dst, smallLiteral, lit[0])
			} else {
				dst = append(dst, smallLiteralRun, byte(n-1))
				dst = append(dst, lit[:n]...)
			}
			lit = lit[n:]
		}
	}

	for i := 0; i < len(s); {
		matched := 0
		for n := codebookMaxLen; n > 0; n-- {
			if i+n > len(s) {
				continue
			}
			if code, ok := codebookIndex[s[i:i+n]]; ok {
				flush()
				dst = append(dst, code)
				matched = n
				break
			}
		}
		if matched == 0 {
			lit = append(lit, s[i])
			matched = 1
		}
		i += matched

		if len(dst)+len(lit) >= len(s) {
			return nil
		}
	}
	flush()

	if len(dst) >= len(s) {
		return nil
	}
	return dst
}

// decompressSmall decodes src, which must expand to exactly n bytes.
func decompressSmall(src []byte, n int) (string, error) {
	var sb strings.Builder
	sb.Grow(n)

	for i := 0; i < len(src); {
		code := src[i]
		i++

		switch {
		case int(code) < len(codebook):
			sb.WriteString(codebook[code])
		case code == smallLiteral:
			if i >= len(src) {
				return "", blitstore.Corruptf("blittable: truncated literal in small compressed string")
			}
			sb.WriteByte(src[i])
			i++
		case code == smallLiteralRun:
			if i >= len(src) {
				return "", blitstore.Corruptf("blittable: truncated literal run in small compressed string")
			}
			run := int(src[i]) + 1
			i++
			if i+run > len(src) {
				return "", blitstore.Corruptf("blittable: truncated literal run in small compressed string")
			}
			sb.Write(src[i : i+run])
			i += run
		default:
			return "", blitstore.Corruptf("blittable: invalid small string code %#x", code)
		}

		if sb.Len() > n {
			return "", blitstore.Corruptf("blittable: small compressed string exceeds %d bytes", n)
		}
	}

	if sb.Len() != n {
		return "", blitstore.Corruptf("blittable: small compressed string decodes to %d bytes, expected %d", sb.Len(), n)
	}
	return sb.String(), nil
}
