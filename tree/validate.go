package tree

import (
	"bytes"
	"sort"

	"github.com/bsm/blitstore"
)

// AllPages returns the numbers of all pages owned by the tree, including
// overflow runs and nested trees, in ascending order.
func (t *Tree) AllPages() ([]uint64, error) {
	var pages []uint64
	if err := t.collectPages(&pages); err != nil {
		return nil, err
	}
	sort.Slice(pages, func(i, j int) bool { return pages[i] < pages[j] })
	return pages, nil
}

func (t *Tree) collectPages(pages *[]uint64) error {
	if t.state.RootPage == 0 {
		return nil
	}
	ps := t.pageSize()
	return t.walk(t.state.RootPage, t.state.Depth-1, func(p *TreePage) error {
		*pages = append(*pages, p.Number)
		if p.IsBranch() {
			return nil
		}

		view, err := p.Decompress()
		if err != nil {
			return err
		}
		for i, cnt := 0, view.NumberOfEntries(); i < cnt; i++ {
			nd := view.node(i)
			switch {
			case nd.flags()&NodeOverflow != 0:
				op, err := t.tx.GetPage(nd.pageNumber())
				if err != nil {
					return err
				}
				for j := 0; j < op.PageCount(ps); j++ {
					*pages = append(*pages, op.Number+uint64(j))
				}

			case nd.flags()&NodeFixedTree != 0:
				f := &FixedSizeTree{parent: t}
				if err := f.decode(nd.data()); err != nil {
					return err
				}
				if err := f.walk(func(fp *fixedPage) error {
					*pages = append(*pages, fp.Number)
					return nil
				}); err != nil {
					return err
				}

			case nd.flags()&NodeTree != 0:
				nested, err := t.nested(nd)
				if err != nil {
					return err
				}
				if err := nested.collectPages(pages); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

// nested returns the tree stored in node nd, preferring a handle already
// bound to the transaction.
func (t *Tree) nested(nd node) (*Tree, error) {
	if h, ok := t.tx.Value(treeKey(nd.key())).(*Tree); ok {
		return h, nil
	}
	st, err := decodeState(nd.data())
	if err != nil {
		return nil, err
	}
	return &Tree{tx: t.tx, name: string(nd.key()), state: st, cache: newRecentlyFound(0)}, nil
}

// Validate checks the structure of the tree: key order, separators, depth,
// page ownership and the counters of the state.
func (t *Tree) Validate() error {
	if t.state.RootPage == 0 {
		if t.state.NumberOfEntries != 0 || t.state.PageCount() != 0 {
			return blitstore.Corruptf("tree: empty tree %q with non-zero counters", t.name)
		}
		return nil
	}

	v := &validator{t: t, seen: make(map[uint64]struct{})}
	if err := v.check(t.state.RootPage, t.state.Depth-1, nil, nil); err != nil {
		return err
	}

	st := t.state
	switch {
	case v.entries != st.NumberOfEntries:
		return blitstore.Corruptf("tree: %q has %d entries, state says %d", t.name, v.entries, st.NumberOfEntries)
	case v.branches != st.BranchPages:
		return blitstore.Corruptf("tree: %q has %d branch pages, state says %d", t.name, v.branches, st.BranchPages)
	case v.leaves != st.LeafPages:
		return blitstore.Corruptf("tree: %q has %d leaf pages, state says %d", t.name, v.leaves, st.LeafPages)
	case v.overflows != st.OverflowPages:
		return blitstore.Corruptf("tree: %q has %d overflow pages, state says %d", t.name, v.overflows, st.OverflowPages)
	}
	return nil
}

type validator struct {
	t    *Tree
	seen map[uint64]struct{}

	entries, branches, leaves, overflows int64
}

func (v *validator) visit(n uint64) error {
	if _, ok := v.seen[n]; ok {
		return blitstore.Corruptf("tree: page %d referenced twice", n)
	}
	v.seen[n] = struct{}{}
	return nil
}

// check validates the subtree at page n, whose keys must be within [lo, hi).
// Nil bounds are open.
func (v *validator) check(n uint64, height int, lo, hi []byte) error {
	if err := v.visit(n); err != nil {
		return err
	}
	p, err := v.t.readPage(n)
	if err != nil {
		return err
	}

	if p.IsBranch() {
		if height == 0 {
			return blitstore.Corruptf("tree: branch page %d at leaf level", n)
		}
		v.branches++

		cnt := p.NumberOfEntries()
		if cnt == 0 {
			return errCorruptBranch(n)
		}
		if len(p.keyAt(0)) != 0 {
			return blitstore.Corruptf("tree: first key of branch page %d is not empty", n)
		}
		for i := 0; i < cnt; i++ {
			if p.node(i).flags()&NodePageRef == 0 {
				return blitstore.Corruptf("tree: node %d of branch page %d is not a page reference", i, n)
			}
			clo, chi := lo, hi
			if i > 0 {
				clo = p.keyAt(i)
				if i > 1 && bytes.Compare(p.keyAt(i-1), clo) >= 0 {
					return blitstore.Corruptf("tree: keys out of order on branch page %d", n)
				}
				if !inRange(clo, lo, hi) {
					return blitstore.Corruptf("tree: separator %d of branch page %d out of range", i, n)
				}
			}
			if i+1 < cnt {
				chi = p.keyAt(i + 1)
			}
			if err := v.check(p.child(i), height-1, clo, chi); err != nil {
				return err
			}
		}
		return nil
	}

	if height != 0 {
		return blitstore.Corruptf("tree: leaf page %d above leaf level", n)
	}
	v.leaves++

	view, err := p.Decompress()
	if err != nil {
		return err
	}
	cnt := view.NumberOfEntries()
	v.entries += int64(cnt)
	for i := 0; i < cnt; i++ {
		nd := view.node(i)
		key := nd.key()
		if len(key) == 0 || !inRange(key, lo, hi) {
			return blitstore.Corruptf("tree: key %d of leaf page %d out of range", i, n)
		}
		if i > 0 && bytes.Compare(view.keyAt(i-1), key) >= 0 {
			return blitstore.Corruptf("tree: keys out of order on leaf page %d", n)
		}
		if nd.flags()&NodePageRef != 0 {
			return blitstore.Corruptf("tree: page reference on leaf page %d", n)
		}
		if nd.flags()&NodeOverflow != 0 {
			if err := v.checkOverflow(nd.pageNumber()); err != nil {
				return err
			}
		}
	}
	return nil
}

func (v *validator) checkOverflow(n uint64) error {
	p, err := v.t.tx.GetPage(n)
	if err != nil {
		return err
	}
	if !p.IsOverflow() || int(p.OverflowSize()) > len(p.Body()) {
		return blitstore.Corruptf("tree: bad overflow page %d", n)
	}
	cnt := p.PageCount(v.t.pageSize())
	for i := 0; i < cnt; i++ {
		if err := v.visit(n + uint64(i)); err != nil {
			return err
		}
	}
	v.overflows += int64(cnt)
	return nil
}

func inRange(key, lo, hi []byte) bool {
	return (lo == nil || bytes.Compare(key, lo) >= 0) && (hi == nil || bytes.Compare(key, hi) < 0)
}
