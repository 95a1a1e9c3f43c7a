// Package arena implements a bump-pointer allocator that batches many small
// allocations into large buffers and releases them in bulk.
//
// An Arena is owned by a single goroutine at a time. Use a Pool to hand one
// arena to each worker.
package arena

import (
	"runtime"

	"github.com/bsm/blitstore"
	"github.com/cockroachdb/errors"
	"github.com/google/btree"
	"go.uber.org/zap"
)

// Options define arena specific options.
type Options struct {
	// InitialSize is the size of the first region in bytes.
	// Default: 64KiB.
	InitialSize int

	// MaxArenaSize caps the size of a single region. Requests larger than
	// this fail with blitstore.ErrCapacity.
	// Default: 1GiB.
	MaxArenaSize int

	// Logger receives a warning when an arena is collected without Close.
	// Default: no-op.
	Logger *zap.Logger
}

func (o *Options) norm() *Options {
	var oo Options
	if o != nil {
		oo = *o
	}

	if oo.MaxArenaSize < 1 {
		oo.MaxArenaSize = 1 << 30
	}
	if oo.InitialSize < 1 {
		oo.InitialSize = 64 * 1024
	}
	if oo.InitialSize > oo.MaxArenaSize {
		oo.InitialSize = oo.MaxArenaSize
	}
	if oo.Logger == nil {
		oo.Logger = zap.NewNop()
	}
	return &oo
}

var errClosed = errors.New("arena: is closed")

// Allocation is a handle to a region of arena memory. It stays valid until
// it is returned or the arena is reset.
type Allocation struct {
	arena  *Arena
	gen    uint64
	region uint64
	buf    []byte

	// Offset is the position of the allocation within its region.
	Offset int
	// Size is the number of usable bytes.
	Size int

	returned bool
}

// Bytes returns the allocated memory.
func (a *Allocation) Bytes() []byte {
	return a.buf[a.Offset : a.Offset+a.Size : a.Offset+a.Size]
}

type fragment struct {
	offset, size int
}

func fragmentLess(a, b fragment) bool { return a.offset < b.offset }

// Arena is a bump allocator over a chain of buffers.
type Arena struct {
	o *Options

	current  []byte // active region
	used     int    // bump cursor within current
	regionID uint64 // id of current, bumped on growth

	older     [][]byte // regions replaced by growth, released on reset
	olderUsed int      // cursor positions of older regions, summed

	fragments *btree.BTreeG[fragment] // out-of-order returns, keyed by offset

	gen       uint64 // bumped on reset; stale handles are ignored
	inUse     int    // allocated minus returned
	highWater int    // peak of olderUsed+used since the last reset

	pooled bool
	closed bool
}

// New creates an arena.
func New(o *Options) *Arena {
	o = o.norm()
	a := &Arena{
		o:         o,
		current:   make([]byte, o.InitialSize),
		fragments: btree.NewG[fragment](8, fragmentLess),
	}
	runtime.SetFinalizer(a, finalize)
	return a
}

func finalize(a *Arena) {
	if a.closed || a.pooled {
		return
	}
	a.o.Logger.Warn("arena: collected without Close",
		zap.Int("allocated", a.Allocated()),
		zap.Int("in_use", a.inUse),
	)
}

// Allocated returns the capacity held by the arena in bytes.
func (a *Arena) Allocated() int {
	n := len(a.current)
	for _, b := range a.older {
		n += len(b)
	}
	return n
}

// Used returns the number of bytes allocated and not yet returned.
func (a *Arena) Used() int { return a.inUse }

// HighWater returns the peak number of bytes consumed since the last reset.
func (a *Arena) HighWater() int { return a.highWater }

// Allocate reserves size bytes.
func (a *Arena) Allocate(size int) (*Allocation, error) {
	if a.closed {
		return nil, errClosed
	}
	if size < 0 {
		return nil, errors.AssertionFailedf("arena: negative allocation size %d", size)
	}
	if size > a.o.MaxArenaSize {
		return nil, blitstore.Capacityf("arena: requested %d bytes, maximum arena size is %d", size, a.o.MaxArenaSize)
	}

	if a.used+size > len(a.current) {
		a.grow(size)
	}

	al := &Allocation{
		arena:  a,
		gen:    a.gen,
		region: a.regionID,
		buf:    a.current,
		Offset: a.used,
		Size:   size,
	}
	a.used += size
	a.inUse += size
	a.trackHighWater()
	return al, nil
}

// GrowAllocation extends al by extra bytes in place. It only succeeds when
// al is the most recent allocation and the region has room.
func (a *Arena) GrowAllocation(al *Allocation, extra int) bool {
	if al == nil || al.arena != a || al.gen != a.gen || al.returned || al.region != a.regionID {
		return false
	}
	if al.Offset+al.Size != a.used || a.used+extra > len(a.current) {
		return false
	}

	a.used += extra
	a.inUse += extra
	al.Size += extra
	a.trackHighWater()
	return true
}

// Return releases al. Memory is reclaimed only when al ends at the cursor;
// other returns are kept as fragments and healed once the cursor reaches
// them.
func (a *Arena) Return(al *Allocation) {
	if al == nil || al.arena != a || al.gen != a.gen || al.returned {
		return
	}
	al.returned = true
	a.inUse -= al.Size

	if al.region != a.regionID {
		return // older region, released on reset
	}
	if al.Offset+al.Size != a.used {
		a.fragments.ReplaceOrInsert(fragment{offset: al.Offset, size: al.Size})
		return
	}

	a.used = al.Offset
	a.heal()
}

func (a *Arena) heal() {
	for {
		f, ok := a.fragments.Max()
		if !ok || f.offset+f.size != a.used {
			return
		}
		a.fragments.DeleteMax()
		a.used = f.offset
	}
}

// ResetArena invalidates all outstanding allocations, releases regions
// created by growth and rewinds the cursor. When the last cycle needed more
// than the retained region, the region is enlarged so the next cycle does
// not have to grow.
func (a *Arena) ResetArena() {
	if a.closed {
		return
	}

	if a.highWater > len(a.current) {
		size := nextPowerOfTwo(a.highWater)
		if size > a.o.MaxArenaSize {
			size = a.o.MaxArenaSize
		}
		a.current = make([]byte, size)
		a.regionID++
	}

	a.older = nil
	a.olderUsed = 0
	a.used = 0
	a.inUse = 0
	a.highWater = 0
	a.fragments.Clear(false)
	a.gen++
}

// Close releases all memory. The arena must not be used afterwards.
func (a *Arena) Close() {
	if a.closed {
		return
	}
	a.closed = true
	a.current = nil
	a.older = nil
	a.fragments = nil
	runtime.SetFinalizer(a, nil)
}

func (a *Arena) grow(size int) {
	next := 2 * len(a.current)
	if n := 3 * size; n > next {
		next = n
	}
	if next > a.o.MaxArenaSize {
		next = a.o.MaxArenaSize
	}
	if next < size {
		next = size
	}

	a.o.Logger.Debug("arena: growing",
		zap.Int("from", len(a.current)),
		zap.Int("to", next),
		zap.Int("requested", size),
	)

	a.older = append(a.older, a.current)
	a.olderUsed += a.used
	a.current = make([]byte, next)
	a.used = 0
	a.regionID++
	a.fragments.Clear(false)
}

func (a *Arena) trackHighWater() {
	if n := a.olderUsed + a.used; n > a.highWater {
		a.highWater = n
	}
}

func nextPowerOfTwo(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}
