package tree

import "bytes"

// Slots of the recently found pages cache. Reads benefit more from range
// locality, writes invalidate the cache quickly.
const (
	readCacheSlots  = 8
	writeCacheSlots = 2
)

// cursor is the path from the root to a leaf. idx[i] is the position of
// path[i+1] within path[i].
type cursor struct {
	path      []uint64
	idx       []int
	rightmost bool
}

func (c *cursor) leaf() uint64 { return c.path[len(c.path)-1] }

// foundPage remembers a leaf and the key range it is known to cover.
type foundPage struct {
	first, last           []byte
	firstIsMin, lastIsMax bool
	cursor                cursor
}

func (f *foundPage) covers(key []byte) bool {
	return (f.firstIsMin || bytes.Compare(key, f.first) >= 0) &&
		(f.lastIsMax || bytes.Compare(key, f.last) <= 0)
}

// recentlyFound caches the last leaves found, most recent first. It is
// scoped to a tree within a transaction and cleared on any structural change.
type recentlyFound struct {
	slots        []*foundPage
	hits, misses int
}

func newRecentlyFound(size int) *recentlyFound {
	return &recentlyFound{slots: make([]*foundPage, 0, size)}
}

func (c *recentlyFound) find(key []byte) *foundPage {
	for i, f := range c.slots {
		if f.covers(key) {
			copy(c.slots[1:i+1], c.slots[:i])
			c.slots[0] = f
			c.hits++
			return f
		}
	}
	c.misses++
	return nil
}

func (c *recentlyFound) add(f *foundPage) {
	if len(c.slots) < cap(c.slots) {
		c.slots = append(c.slots, nil)
	}
	copy(c.slots[1:], c.slots)
	c.slots[0] = f
}

func (c *recentlyFound) clear() {
	for i := range c.slots {
		c.slots[i] = nil
	}
	c.slots = c.slots[:0]
}
