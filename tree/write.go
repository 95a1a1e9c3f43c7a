package tree

import (
	"github.com/bsm/blitstore"
	"github.com/bsm/blitstore/pager"
	"github.com/cockroachdb/errors"
)

// add stores a value of size bytes at key, copying val when given. It
// returns the value bytes for the caller to fill. When val is given and the
// node ends up in a compressed leaf, nil is returned.
func (t *Tree) add(key []byte, size int, val []byte, flags NodeFlags) ([]byte, error) {
	if err := t.checkWritable(); err != nil {
		return nil, err
	}
	if len(key) == 0 {
		return nil, errors.New("tree: empty key")
	}
	if max := MaxKeySize(t.pageSize()); len(key) > max {
		return nil, blitstore.Capacityf("tree: key of %d bytes exceeds the maximum of %d", len(key), max)
	}
	if size < 0 || (val != nil && len(val) != size) {
		return nil, errors.AssertionFailedf("tree: bad value size %d", size)
	}
	if err := t.ensureRoot(); err != nil {
		return nil, err
	}

	c, leaf, err := t.findPageFor(key)
	if err != nil {
		return nil, err
	}
	view, err := leaf.Decompress()
	if err != nil {
		return nil, err
	}
	i, exact := view.search(key)
	overflow := NodeHeaderSize+len(key)+size > NodeMaxSize(t.pageSize())
	if overflow && flags != 0 {
		return nil, errors.AssertionFailedf("tree: nested state at %q does not fit inline", key)
	}
	t.dirty = true

	if exact {
		if !leaf.IsCompressed() {
			data, ok, err := t.overwrite(c.leaf(), i, size, val, flags, overflow)
			if err != nil || ok {
				return data, err
			}
		}
		// nested states are rewritten by their owner, which keeps its pages
		if old := view.node(i); flags == 0 || old.flags()&^NodeData != flags {
			if err := t.releaseValue(old); err != nil {
				return nil, err
			}
		}
	} else {
		t.state.NumberOfEntries++
	}

	var nd node
	var data []byte
	if overflow {
		p, err := t.allocateOverflow(size)
		if err != nil {
			return nil, err
		}
		data = p.Body()[:size]
		copy(data, val)
		nd = newRefNode(NodeOverflow, key, p.Number)
	} else {
		nd = newDataNode(flags, key, size, val)
	}

	var nodes []node
	if !leaf.IsCompressed() {
		page, err := t.modifyPage(c.leaf())
		if err != nil {
			return nil, err
		}
		if exact {
			page.remove(i)
		}
		if page.fits(len(nd)) {
			stored := page.insert(i, nd)
			if !overflow {
				data = stored.data()
			}
			return data, nil
		}
		nodes = page.nodes()
	} else {
		nodes = view.nodes()
		if exact {
			nodes = append(nodes[:i], nodes[i+1:]...)
		}
	}
	nodes = append(nodes, nil)
	copy(nodes[i+1:], nodes[i:])
	nodes[i] = nd

	// nodes reserved for the caller to fill must not end up compressed
	compress := t.state.Flags&LeafsCompressed != 0 && (val != nil || overflow || size == 0)
	seq := !exact && c.rightmost && i == len(nodes)-1
	if err := t.writeNodes(c.leaf(), nodes, 0, compress, seq); err != nil {
		return nil, err
	}
	if overflow || val != nil {
		return data, nil
	}

	c, _, err = t.findPageFor(key)
	if err != nil {
		return nil, err
	}
	page, err := t.modifyPage(c.leaf())
	if err != nil {
		return nil, err
	}
	if i, ok := page.search(key); ok && !page.IsCompressed() {
		return page.node(i).data(), nil
	}
	return nil, errors.AssertionFailedf("tree: lost node %q after split", key)
}

// overwrite replaces the value of node i in place when the storage class
// stays the same. The leaf is only modified for inline values.
func (t *Tree) overwrite(leafNo uint64, i, size int, val []byte, flags NodeFlags, overflow bool) ([]byte, bool, error) {
	leaf, err := t.readPage(leafNo)
	if err != nil {
		return nil, false, err
	}
	old := leaf.node(i)

	switch {
	case old.inline() && !overflow:
		if old.flags() != flags|NodeData || old.dataSize() != size {
			return nil, false, nil
		}
		if leaf, err = t.modifyPage(leafNo); err != nil {
			return nil, false, err
		}
		data := leaf.node(i).data()
		copy(data, val)
		return data, true, nil

	case !old.inline() && overflow:
		ps := t.pageSize()
		op, err := t.tx.GetPage(old.pageNumber())
		if err != nil {
			return nil, false, err
		}
		have, need := op.PageCount(ps), pager.OverflowPages(size, ps)

		var p *pager.Page
		switch {
		case need == have:
			if p, err = t.tx.ModifyPage(op.Number); err != nil {
				return nil, false, err
			}
			p.SetOverflowSize(uint32(size))
		case need < have:
			if p, err = t.tx.ShrinkOverflow(op.Number, size); err != nil {
				return nil, false, err
			}
			t.state.OverflowPages -= int64(have - need)
		default:
			return nil, false, nil
		}

		data := p.Body()[:size]
		copy(data, val)
		return data, true, nil
	}
	return nil, false, nil
}

func (t *Tree) allocateOverflow(size int) (*pager.Page, error) {
	count := pager.OverflowPages(size, t.pageSize())
	p, err := t.tx.AllocatePage(count)
	if err != nil {
		return nil, err
	}
	p.SetFlags(pager.FlagOverflow)
	p.SetOverflowSize(uint32(size))
	t.state.OverflowPages += int64(count)
	return p, nil
}

// releaseValue frees the pages owned by the value of a leaf node.
func (t *Tree) releaseValue(n node) error {
	switch {
	case n.flags()&NodeOverflow != 0:
		p, err := t.tx.GetPage(n.pageNumber())
		if err != nil {
			return err
		}
		t.state.OverflowPages -= int64(p.PageCount(t.pageSize()))
		return t.tx.FreePage(p.Number)

	case n.flags()&NodeFixedTree != 0:
		return dropFixedState(t.tx, n.data())

	case n.flags()&NodeTree != 0:
		if h, ok := t.tx.Value(treeKey(n.key())).(*Tree); ok {
			h.dirty = false
			t.tx.SetValue(treeKey(n.key()), nil)
		}
		st, err := decodeState(n.data())
		if err != nil {
			return err
		}
		nested := &Tree{tx: t.tx, state: st, cache: newRecentlyFound(0)}
		return nested.drop()
	}
	return nil
}

// drop frees all pages of the tree.
func (t *Tree) drop() error {
	if t.state.RootPage == 0 {
		return nil
	}
	return t.walk(t.state.RootPage, t.state.Depth-1, func(p *TreePage) error {
		if p.IsLeaf() {
			view, err := p.Decompress()
			if err != nil {
				return err
			}
			for i, n := 0, view.NumberOfEntries(); i < n; i++ {
				if err := t.releaseValue(view.node(i)); err != nil {
					return err
				}
			}
		}
		return t.tx.FreePage(p.Number)
	})
}

// walk visits all pages below n, children first.
func (t *Tree) walk(n uint64, height int, fn func(*TreePage) error) error {
	p, err := t.readPage(n)
	if err != nil {
		return err
	}
	if p.IsBranch() {
		if height == 0 {
			return blitstore.Corruptf("tree: branch page %d below leaf level", n)
		}
		for i, cnt := 0, p.NumberOfEntries(); i < cnt; i++ {
			if err := t.walk(p.child(i), height-1, fn); err != nil {
				return err
			}
		}
	}
	return fn(p)
}

// --------------------------------------------------------------------

type group struct {
	nodes []node
	block []byte // compressed image, if any
	size  int    // uncompressed image size
}

// layout splits nodes into groups that each fit into a page.
func layout(nodes []node, pageSize int, compress, seq bool) []group {
	if bodyFits(nodes, pageSize) {
		return []group{{nodes: nodes}}
	}
	if compress {
		if block, size, ok := compressNodes(nodes, pageSize); ok {
			return []group{{nodes: nodes, block: block, size: size}}
		}
	}
	if seq && len(nodes) > 1 && bodyFits(nodes[:len(nodes)-1], pageSize) {
		return []group{{nodes: nodes[:len(nodes)-1]}, {nodes: nodes[len(nodes)-1:]}}
	}

	s := splitPoint(nodes)
	return append(layout(nodes[:s], pageSize, compress, false), layout(nodes[s:], pageSize, compress, false)...)
}

// splitPoint returns the position that splits nodes into two halves of
// roughly equal size.
func splitPoint(nodes []node) int {
	half, acc := nodesSize(nodes)/2, 0
	for i, n := range nodes {
		if acc += len(n) + 2; acc >= half {
			switch {
			case i+1 >= len(nodes):
				return len(nodes) - 1
			case i == 0:
				return 1
			}
			return i + 1
		}
	}
	return len(nodes) / 2
}

// writeNodes replaces the content of page n at the given height with nodes,
// splitting into new siblings as needed.
func (t *Tree) writeNodes(n uint64, nodes []node, height int, compress, seq bool) error {
	groups := layout(nodes, t.pageSize(), compress, seq)

	page, err := t.modifyPage(n)
	if err != nil {
		return err
	}
	store(page, groups[0])
	if len(groups) == 1 {
		return nil
	}

	t.cache.clear()
	kind := page.TreeFlags() &^ pageCompressed
	for _, g := range groups[1:] {
		sibling, err := t.allocatePage(kind)
		if err != nil {
			return err
		}
		sep := append([]byte(nil), g.nodes[0].key()...)
		if kind == pageBranch {
			g.nodes[0] = g.nodes[0].withKey(nil)
		}
		store(sibling, g)

		if err := t.insertBranchEntry(sep, sibling.Number, height+1); err != nil {
			return err
		}
	}
	return nil
}

func store(p *TreePage, g group) {
	if g.block != nil {
		p.storeCompressed(len(g.nodes), g.block, g.size)
	} else {
		p.rebuild(g.nodes)
	}
}

// insertBranchEntry adds a separator pointing to child into the branch at
// the given height, growing a new root if needed.
func (t *Tree) insertBranchEntry(key []byte, child uint64, height int) error {
	if height >= t.state.Depth {
		root, err := t.allocatePage(pageBranch)
		if err != nil {
			return err
		}
		root.insert(0, newRefNode(NodePageRef, nil, t.state.RootPage))
		t.state.RootPage = root.Number
		t.state.Depth++
	}

	n := t.state.RootPage
	for h := t.state.Depth - 1; h > height; h-- {
		p, err := t.readPage(n)
		if err != nil {
			return err
		}
		n = p.child(p.childIndex(key))
	}

	page, err := t.modifyPage(n)
	if err != nil {
		return err
	}
	i := page.childIndex(key) + 1
	nd := newRefNode(NodePageRef, key, child)
	if page.fits(len(nd)) {
		page.insert(i, nd)
		return nil
	}

	nodes := append(page.nodes(), nil)
	copy(nodes[i+1:], nodes[i:])
	nodes[i] = nd
	return t.writeNodes(n, nodes, height, false, false)
}

// --------------------------------------------------------------------

func (t *Tree) minFill() int { return (t.pageSize() - pager.HeaderSize) / 4 }

// rebalance removes empty pages and merges underfull pages with a sibling,
// from the leaf of c upwards.
func (t *Tree) rebalance(c *cursor) error {
	for level := len(c.path) - 1; level > 0; level-- {
		p, err := t.readPage(c.path[level])
		if err != nil {
			return err
		}
		if p.NumberOfEntries() != 0 && (p.IsCompressed() || p.sizeUsed() >= t.minFill()) {
			break
		}

		changed, err := t.rebalancePage(c, level, p)
		if err != nil {
			return err
		} else if !changed {
			break
		}
	}
	return t.collapseRoot()
}

func (t *Tree) rebalancePage(c *cursor, level int, p *TreePage) (bool, error) {
	parent, err := t.modifyPage(c.path[level-1])
	if err != nil {
		return false, err
	}
	idx := c.idx[level-1]

	if p.NumberOfEntries() == 0 {
		t.cache.clear()
		t.removeChild(parent, idx)
		return true, t.freePage(p)
	}
	if parent.NumberOfEntries() < 2 {
		return false, nil
	}

	li, ri := idx, idx+1
	if ri >= parent.NumberOfEntries() {
		li, ri = idx-1, idx
	}
	left, err := t.readPage(parent.child(li))
	if err != nil {
		return false, err
	}
	right, err := t.readPage(parent.child(ri))
	if err != nil {
		return false, err
	}
	if left.IsCompressed() || right.IsCompressed() {
		return false, nil
	}

	rn := right.nodes()
	if right.IsBranch() {
		rn[0] = rn[0].withKey(parent.keyAt(ri))
	}
	nodes := append(left.nodes(), rn...)
	if !bodyFits(nodes, t.pageSize()) {
		return false, nil
	}

	t.cache.clear()
	merged, err := t.modifyPage(left.Number)
	if err != nil {
		return false, err
	}
	merged.rebuild(nodes)
	t.removeChild(parent, ri)
	return true, t.freePage(right)
}

// removeChild removes entry i of a branch, keeping the first key empty.
func (t *Tree) removeChild(parent *TreePage, i int) {
	parent.remove(i)
	if i != 0 || parent.NumberOfEntries() == 0 {
		return
	}
	nodes := parent.nodes()
	nodes[0] = nodes[0].withKey(nil)
	parent.rebuild(nodes)
}

// collapseRoot shrinks the tree while the root branch has a single child.
func (t *Tree) collapseRoot() error {
	for t.state.Depth > 1 {
		root, err := t.readPage(t.state.RootPage)
		if err != nil {
			return err
		}

		switch root.NumberOfEntries() {
		case 0:
			page, err := t.modifyPage(root.Number)
			if err != nil {
				return err
			}
			page.init(pageLeaf)
			t.state.Depth = 1
			t.state.BranchPages--
			t.state.LeafPages++
		case 1:
			child := root.child(0)
			if err := t.freePage(root); err != nil {
				return err
			}
			t.state.RootPage = child
			t.state.Depth--
		default:
			return nil
		}
		t.cache.clear()
		t.dirty = true
	}
	return nil
}
