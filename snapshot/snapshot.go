// Package snapshot implements an immutable, block based file format for table
// dumps. Entries are keyed by strictly increasing uint64 sequence numbers and
// grouped into blocks which are optionally compressed. Keys within a block are
// delta encoded in sections, each section starting with a full key.
//
//	File:
//	+---------+-----+---------+-------+------+------------------------------------------+
//	| block 0 | ... | block n | index | meta | footer (meta off, index off, count, magic) |
//	+---------+-----+---------+-------+------+------------------------------------------+
//
//	Block:
//	+---------+-------------------------+----------------+-----------+--------------+
//	| entries | section offsets (4 x n) | sections (4)   | codec (1) | checksum (4) |
//	+---------+-------------------------+----------------+-----------+--------------+
//
// The checksum is the low half of the xxhash of the block up to and including
// the codec byte.
package snapshot

import (
	"github.com/bsm/blitstore"
	"github.com/cespare/xxhash/v2"
	"github.com/cockroachdb/errors"
)

var magic = []byte{0x42, 0x4c, 0x53, 0x4e, 0x50, 0x01, 0x9d, 0xe7}

const (
	footerSize       = 32
	blockTrailerSize = 5
)

const (
	blockNoCompression     = 0
	blockSnappyCompression = 1
	blockLZ4Compression    = 2
)

// ErrNotFound is returned by the reader when a key cannot be found.
var ErrNotFound = errors.New("snapshot: not found")

var (
	errClosed   = errors.New("snapshot: writer is closed")
	errReleased = errors.New("snapshot: iterator was released")
)

type blockInfo struct {
	MaxKey uint64 // maximum key in the block
	Offset int64  // block offset position
}

func checksum(p []byte) uint32 { return uint32(xxhash.Sum64(p)) }

func corruptf(format string, args ...interface{}) error {
	return blitstore.Corruptf("snapshot: "+format, args...)
}

// --------------------------------------------------------------------

// Compression is the compression codec
type Compression byte

func (c Compression) isValid() bool {
	return c >= SnappyCompression && c < unknownCompression
}

// Supported compression codecs
const (
	SnappyCompression Compression = iota
	NoCompression
	LZ4Compression
	unknownCompression
)

func (c Compression) String() string {
	switch c {
	case SnappyCompression:
		return "snappy"
	case NoCompression:
		return "none"
	case LZ4Compression:
		return "lz4"
	}
	return "unknown"
}

// ParseCompression parses a codec name.
func ParseCompression(s string) (Compression, error) {
	for c := SnappyCompression; c < unknownCompression; c++ {
		if c.String() == s {
			return c, nil
		}
	}
	return 0, errors.Newf("snapshot: unknown compression %q", s)
}
