package blitstore

import "github.com/cockroachdb/errors"

// Error classes shared by all packages. Concrete errors carry their own
// message and are marked with one of these, so callers can test with
// errors.Is.
var (
	// ErrCorrupted marks structural damage: offsets out of range, invalid
	// tokens, bad checksums. Never repaired automatically.
	ErrCorrupted = errors.New("blitstore: data corrupted")

	// ErrReadOnly is returned when a write is attempted in a read-only
	// transaction.
	ErrReadOnly = errors.New("blitstore: transaction is read-only")

	// ErrTxClosed is returned when a transaction is used after commit or rollback.
	ErrTxClosed = errors.New("blitstore: transaction is closed")

	// ErrCapacity marks requests exceeding a hard limit, like the maximum
	// arena size or the maximum key size.
	ErrCapacity = errors.New("blitstore: capacity exceeded")

	// ErrMustDecompress is returned when nodes of a compressed page are
	// accessed directly. Decompress the page and retry.
	ErrMustDecompress = errors.New("blitstore: page must be decompressed first")
)

// Corruptf returns a new error marked as ErrCorrupted.
func Corruptf(format string, args ...interface{}) error {
	return errors.Mark(errors.Newf(format, args...), ErrCorrupted)
}

// Capacityf returns a new error marked as ErrCapacity.
func Capacityf(format string, args ...interface{}) error {
	return errors.Mark(errors.Newf(format, args...), ErrCapacity)
}

// IsCorrupted reports whether err is (or wraps) a corruption error.
func IsCorrupted(err error) bool { return errors.Is(err, ErrCorrupted) }
