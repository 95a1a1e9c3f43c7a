// Package pager implements a paged store with a single writer and many
// concurrent readers. Writers see a private, copy-on-write view of the pages
// and readers always see the snapshot that was committed when they started.
//
// Pages 0 and 1 hold alternating meta pages; data pages start at 2. The file
// backend journals every commit before it is applied to the data file, so a
// store reopened after a crash always resumes at the last committed
// transaction.
package pager

import "go.uber.org/zap"

// Page size limits.
const (
	MinPageSize     = 4096
	MaxPageSize     = 32768
	DefaultPageSize = 4096
)

// Observer receives page level events from write transactions.
type Observer interface {
	// PageModified is called when a page is first made dirty, or allocated,
	// within a transaction.
	PageModified(pageNumber uint64)
	// PageFreed is called for every page released by a transaction.
	PageFreed(pageNumber uint64)
}

// Options define store specific options.
type Options struct {
	// PageSize must be a power of two between MinPageSize and MaxPageSize.
	// Existing files keep the page size they were created with.
	// Default: 4096.
	PageSize int

	// Observer receives page events. Default: none.
	Observer Observer

	// Logger receives debug events. Default: no-op.
	Logger *zap.Logger

	// JournalMaxSize is the size at which the journal of a file store is
	// checkpointed into the data file and truncated.
	// Default: 16MiB.
	JournalMaxSize int64

	// CachePages is the number of pages a file store keeps in memory.
	// Default: 8192.
	CachePages int

	// NoSync skips fsync calls. Faster, but a crash may lose commits.
	NoSync bool
}

func (o *Options) norm() *Options {
	var oo Options
	if o != nil {
		oo = *o
	}

	if oo.PageSize == 0 {
		oo.PageSize = DefaultPageSize
	}
	if oo.JournalMaxSize < 1 {
		oo.JournalMaxSize = 16 << 20
	}
	if oo.CachePages < 1 {
		oo.CachePages = 8192
	}
	if oo.Logger == nil {
		oo.Logger = zap.NewNop()
	}
	return &oo
}

type noopObserver struct{}

func (noopObserver) PageModified(uint64) {}
func (noopObserver) PageFreed(uint64)    {}

func (o *Options) observer() Observer {
	if o.Observer == nil {
		return noopObserver{}
	}
	return o.Observer
}
