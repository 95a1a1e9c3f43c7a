package pager

import "github.com/bsm/blitstore"

// backend persists committed pages. Buffers returned by read are immutable
// and span the whole run when the page heads an overflow run. All calls are
// made under the store lock.
type backend interface {
	read(n uint64) ([]byte, error)
	write(txID uint64, pages []pageWrite) error
	close() error
}

type pageWrite struct {
	n    uint64
	data []byte
}

func (w pageWrite) count(pageSize int) int { return len(w.data) / pageSize }

// --------------------------------------------------------------------

type memoryBackend struct {
	pageSize int
	table    map[uint64][]byte
}

func newMemoryBackend(pageSize int) *memoryBackend {
	return &memoryBackend{pageSize: pageSize, table: make(map[uint64][]byte)}
}

func (b *memoryBackend) read(n uint64) ([]byte, error) {
	if data, ok := b.table[n]; ok {
		return data, nil
	}
	return nil, blitstore.Corruptf("pager: page %d does not exist", n)
}

func (b *memoryBackend) write(_ uint64, pages []pageWrite) error {
	for _, w := range pages {
		b.table[w.n] = w.data
		for i := 1; i < w.count(b.pageSize); i++ {
			delete(b.table, w.n+uint64(i))
		}
	}
	return nil
}

func (b *memoryBackend) close() error {
	b.table = nil
	return nil
}
