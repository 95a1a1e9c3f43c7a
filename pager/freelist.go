package pager

import (
	"encoding/binary"

	"github.com/bsm/blitstore"
	"github.com/google/btree"
)

// findRun returns the first page of a run of count contiguous free pages.
func findRun(free *btree.BTreeG[uint64], count int) (uint64, bool) {
	var start, prev uint64
	size := 0
	free.Ascend(func(n uint64) bool {
		if size == 0 || n != prev+1 {
			start, size = n, 0
		}
		prev = n
		size++
		return size < count
	})
	return start, size >= count
}

// takeRun removes a run of count contiguous pages from free and returns the
// first page number.
func takeRun(free *btree.BTreeG[uint64], count int) (uint64, bool) {
	start, ok := findRun(free, count)
	if !ok {
		return 0, false
	}
	for i := 0; i < count; i++ {
		free.Delete(start + uint64(i))
	}
	return start, true
}

// writeFreeList stores free into a run of free pages, growing the store
// when no run is large enough. The free list is only read when a store is
// opened, so its own pages stay free and are listed too. It updates tx.meta
// and returns the page writes.
func (s *Store) writeFreeList(tx *Tx, free *btree.BTreeG[uint64]) []pageWrite {
	tx.meta.freeListPage, tx.meta.freeListPages, tx.meta.freeListCount = 0, 0, 0
	if free.Len() == 0 {
		return nil
	}

	ps := s.o.PageSize
	count := OverflowPages(8*free.Len(), ps)
	start, ok := findRun(free, count)
	if !ok {
		for OverflowPages(8*(free.Len()+count), ps) > count {
			count++
		}
		start = tx.meta.nextPage
		tx.meta.nextPage += uint64(count)
		for i := 0; i < count; i++ {
			free.ReplaceOrInsert(start + uint64(i))
		}
	}

	p := newPage(start, make([]byte, count*ps))
	p.SetFlags(FlagFreeList)
	if count > 1 {
		p.SetFlags(FlagFreeList | FlagOverflow)
	}
	p.SetOverflowSize(uint32(8 * free.Len()))

	body := p.Body()
	free.Ascend(func(n uint64) bool {
		binary.LittleEndian.PutUint64(body, n)
		body = body[8:]
		return true
	})

	tx.meta.freeListPage = start
	tx.meta.freeListPages = uint32(count)
	tx.meta.freeListCount = uint32(free.Len())
	return []pageWrite{{n: start, data: p.Data}}
}

// loadFreeList reads the free list of m into the store.
func (s *Store) loadFreeList(m *meta) error {
	if m.freeListPage == 0 {
		return nil
	}

	data, err := s.backend.read(m.freeListPage)
	if err != nil {
		return err
	}
	p := &Page{Number: m.freeListPage, Data: data}
	if p.Flags()&FlagFreeList == 0 {
		return blitstore.Corruptf("pager: page %d is not a free list page", p.Number)
	}

	size := int(p.OverflowSize())
	if size != 8*int(m.freeListCount) || size > len(p.Body()) {
		return blitstore.Corruptf("pager: free list of %d bytes does not match %d entries", size, m.freeListCount)
	}
	for body := p.Body()[:size]; len(body) != 0; body = body[8:] {
		n := binary.LittleEndian.Uint64(body)
		if n < metaPages || n >= m.nextPage {
			return blitstore.Corruptf("pager: free list holds invalid page %d", n)
		}
		s.free.ReplaceOrInsert(n)
	}
	return nil
}
