package blittable

import "fmt"

// Token identifies the type of a stored value. The low nibble holds the type,
// the high bits encode the entry widths used by object and array metadata.
type Token byte

// Value types.
const (
	TokenStartObject           Token = 1
	TokenStartArray            Token = 2
	TokenInteger               Token = 3
	TokenLazyNumber            Token = 4
	TokenString                Token = 5
	TokenCompressedString      Token = 6
	TokenBoolean               Token = 7
	TokenNull                  Token = 8
	TokenCompressedSmallString Token = 9

	typeMask Token = 0x0F
)

// Offset width flags of object and array entries.
const (
	OffsetSizeByte  Token = 0x10
	OffsetSizeShort Token = 0x20
	OffsetSizeInt   Token = 0x30

	offsetSizeMask Token = 0x30
)

// Property id width flags of object entries.
const (
	PropertyIDSizeByte  Token = 0x40
	PropertyIDSizeShort Token = 0x80
	PropertyIDSizeInt   Token = 0xC0

	propertyIDSizeMask Token = 0xC0
)

// Type returns the value type without width flags.
func (t Token) Type() Token { return t & typeMask }

func (t Token) isValid() bool {
	switch t.Type() {
	case TokenStartObject:
		return t.offsetSize() != 0 && t.propertyIDSize() != 0
	case TokenStartArray:
		return t.offsetSize() != 0 && t&propertyIDSizeMask == 0
	case TokenInteger, TokenLazyNumber, TokenString, TokenCompressedString,
		TokenBoolean, TokenNull, TokenCompressedSmallString:
		return t&^typeMask == 0
	}
	return false
}

func (t Token) offsetSize() int {
	switch t & offsetSizeMask {
	case OffsetSizeByte:
		return 1
	case OffsetSizeShort:
		return 2
	case OffsetSizeInt:
		return 4
	}
	return 0
}

func (t Token) propertyIDSize() int {
	switch t & propertyIDSizeMask {
	case PropertyIDSizeByte:
		return 1
	case PropertyIDSizeShort:
		return 2
	case PropertyIDSizeInt:
		return 4
	}
	return 0
}

func (t Token) String() string {
	switch t.Type() {
	case TokenStartObject:
		return "object"
	case TokenStartArray:
		return "array"
	case TokenInteger:
		return "integer"
	case TokenLazyNumber:
		return "number"
	case TokenString:
		return "string"
	case TokenCompressedString:
		return "compressed-string"
	case TokenCompressedSmallString:
		return "compressed-small-string"
	case TokenBoolean:
		return "boolean"
	case TokenNull:
		return "null"
	}
	return fmt.Sprintf("token(%#x)", byte(t))
}

func offsetSizeFlag(max int) (Token, int) {
	switch {
	case max <= 0xFF:
		return OffsetSizeByte, 1
	case max <= 0xFFFF:
		return OffsetSizeShort, 2
	default:
		return OffsetSizeInt, 4
	}
}

func propertyIDSizeFlag(max int) (Token, int) {
	switch {
	case max <= 0xFF:
		return PropertyIDSizeByte, 1
	case max <= 0xFFFF:
		return PropertyIDSizeShort, 2
	default:
		return PropertyIDSizeInt, 4
	}
}

// --------------------------------------------------------------------

// UsageMode controls how values are written.
type UsageMode uint8

// Usage modes.
const (
	ModeNone UsageMode = 0

	// ModeValidateDouble rejects number text that does not parse as a double.
	ModeValidateDouble UsageMode = 1 << 0

	// ModeCompressStrings compresses strings of 128 bytes or more with LZ4.
	ModeCompressStrings UsageMode = 1 << 1

	// ModeCompressSmallStrings compresses strings below 128 bytes with a
	// static dictionary.
	ModeCompressSmallStrings UsageMode = 1 << 2

	// ModeToDisk is the mode for documents headed to storage.
	ModeToDisk = ModeValidateDouble | ModeCompressStrings
)

// compressionThreshold splits the LZ4 path from the small string path.
const compressionThreshold = 128
