// Package tree implements a copy-on-write B+Tree over pager transactions.
//
// Trees are kept in the pages of a pager.Store. The root tree lives in the
// store meta page, named trees and fixed-size trees are stored by name in
// the root tree. Pages are modified in place within a write transaction,
// readers keep seeing the last committed version.
package tree

import (
	"encoding/binary"

	"github.com/bsm/blitstore"
	"github.com/bsm/blitstore/pager"
	"github.com/cockroachdb/errors"
)

// ErrNotFound is returned when opening a tree that does not exist.
var ErrNotFound = errors.New("tree: not found")

type treeKey string

// Tree is a B+Tree bound to a transaction.
type Tree struct {
	tx     *pager.Tx
	name   string
	parent *Tree
	state  State
	dirty  bool
	cache  *recentlyFound
}

// Root returns the root tree of the store.
func Root(tx *pager.Tx) (*Tree, error) {
	if t, ok := tx.Value(treeKey("")).(*Tree); ok {
		return t, nil
	}

	rs := tx.RootState()
	st, err := decodeState(rs[:])
	if err != nil {
		return nil, err
	}
	return bind(tx, "", nil, st), nil
}

// Create opens the named tree, creating it with flags if it does not exist.
func Create(tx *pager.Tx, name string, flags Flags) (*Tree, error) {
	t, err := Open(tx, name)
	if !errors.Is(err, ErrNotFound) {
		return t, err
	}
	if !tx.Writable() {
		return nil, blitstore.ErrReadOnly
	}

	root, err := Root(tx)
	if err != nil {
		return nil, err
	}
	t = bind(tx, name, root, State{Flags: flags})
	if err := t.ensureRoot(); err != nil {
		return nil, err
	}
	return t, t.flush(tx)
}

// Open opens the named tree. It returns ErrNotFound if the tree does not
// exist.
func Open(tx *pager.Tx, name string) (*Tree, error) {
	if name == "" {
		return nil, errors.New("tree: name must not be empty")
	}
	if t, ok := tx.Value(treeKey(name)).(*Tree); ok {
		return t, nil
	}

	root, err := Root(tx)
	if err != nil {
		return nil, err
	}
	nd, ok, err := root.readNode([]byte(name))
	if err != nil {
		return nil, err
	} else if !ok {
		return nil, ErrNotFound
	} else if nd.Flags&NodeTree == 0 {
		return nil, errors.Newf("tree: %q is not a tree", name)
	}

	st, err := decodeState(nd.Data)
	if err != nil {
		return nil, err
	}
	return bind(tx, name, root, st), nil
}

func bind(tx *pager.Tx, name string, parent *Tree, st State) *Tree {
	t := &Tree{tx: tx, name: name, parent: parent, state: st}
	if tx.Writable() {
		t.cache = newRecentlyFound(writeCacheSlots)
		tx.BeforeCommit(t.flush)
	} else {
		t.cache = newRecentlyFound(readCacheSlots)
	}
	tx.SetValue(treeKey(name), t)
	return t
}

// flush stores the tree state in its parent.
func (t *Tree) flush(tx *pager.Tx) error {
	if !t.dirty {
		return nil
	}
	t.dirty = false

	st := t.state.encode()
	if t.parent == nil {
		return tx.SetRootState(st)
	}
	_, err := t.parent.add([]byte(t.name), StateSize, st[:], NodeTree)
	return err
}

// Name returns the tree name, empty for the root tree.
func (t *Tree) Name() string { return t.name }

// State returns the current tree state.
func (t *Tree) State() State { return t.state }

// Tx returns the transaction the tree is bound to.
func (t *Tree) Tx() *pager.Tx { return t.tx }

// Page returns tree page n.
func (t *Tree) Page(n uint64) (*TreePage, error) { return t.readPage(n) }

// Read returns the value stored at key. The returned slice is only valid
// until the tree is modified.
func (t *Tree) Read(key []byte) ([]byte, bool, error) {
	nd, ok, err := t.readNode(key)
	if err != nil || !ok {
		return nil, false, err
	}
	val, err := t.value(nd)
	if err != nil {
		return nil, false, err
	}
	return val, true, nil
}

// Add stores value at key, replacing any existing value.
func (t *Tree) Add(key, value []byte) error {
	_, err := t.add(key, len(value), value, 0)
	return err
}

// DirectAdd reserves size bytes for the value at key and returns them for
// the caller to fill. The slice is only valid until the tree is modified.
func (t *Tree) DirectAdd(key []byte, size int) ([]byte, error) {
	return t.add(key, size, nil, 0)
}

// Delete removes key. It reports whether the key existed.
func (t *Tree) Delete(key []byte) (bool, error) {
	if err := t.checkWritable(); err != nil {
		return false, err
	}
	if t.state.RootPage == 0 {
		return false, nil
	}

	c, leaf, err := t.findPageFor(key)
	if err != nil {
		return false, err
	}
	view, err := leaf.Decompress()
	if err != nil {
		return false, err
	}
	i, ok := view.search(key)
	if !ok {
		return false, nil
	}

	if err := t.releaseValue(view.node(i)); err != nil {
		return false, err
	}
	if leaf.IsCompressed() {
		nodes := view.nodes()
		nodes = append(nodes[:i], nodes[i+1:]...)
		if err := t.writeNodes(c.leaf(), nodes, 0, true, false); err != nil {
			return false, err
		}
	} else {
		page, err := t.modifyPage(c.leaf())
		if err != nil {
			return false, err
		}
		page.remove(i)
	}

	t.state.NumberOfEntries--
	t.dirty = true
	return true, t.rebalance(c)
}

// Increment adds delta to the 8 byte counter at key and returns the new
// value. Missing counters start at zero.
func (t *Tree) Increment(key []byte, delta int64) (int64, error) {
	cur, _, err := t.readInt64(key)
	if err != nil {
		return 0, err
	}
	cur += delta

	buf, err := t.DirectAdd(key, 8)
	if err != nil {
		return 0, err
	}
	binary.LittleEndian.PutUint64(buf, uint64(cur))
	return cur, nil
}

// AddMax stores value at key unless a larger or equal value is already
// stored. It reports whether the value was stored.
func (t *Tree) AddMax(key []byte, value int64) (bool, error) {
	cur, ok, err := t.readInt64(key)
	if err != nil || (ok && cur >= value) {
		return false, err
	}

	buf, err := t.DirectAdd(key, 8)
	if err != nil {
		return false, err
	}
	binary.LittleEndian.PutUint64(buf, uint64(value))
	return true, nil
}

func (t *Tree) readInt64(key []byte) (int64, bool, error) {
	val, ok, err := t.Read(key)
	if err != nil || !ok {
		return 0, false, err
	}
	if len(val) != 8 {
		return 0, false, errors.Newf("tree: value at %q is %d bytes, not a counter", key, len(val))
	}
	return int64(binary.LittleEndian.Uint64(val)), true, nil
}

// --------------------------------------------------------------------

func (t *Tree) pageSize() int { return t.tx.PageSize() }

func (t *Tree) checkWritable() error {
	if !t.tx.Writable() {
		return errors.Mark(errors.AssertionFailedf("tree: modification in read-only transaction"), blitstore.ErrReadOnly)
	}
	return nil
}

func (t *Tree) readPage(n uint64) (*TreePage, error) {
	p, err := t.tx.GetPage(n)
	if err != nil {
		return nil, err
	}
	return wrapPage(p)
}

func (t *Tree) modifyPage(n uint64) (*TreePage, error) {
	p, err := t.tx.ModifyPage(n)
	if err != nil {
		return nil, err
	}
	return wrapPage(p)
}

func (t *Tree) allocatePage(kind uint8) (*TreePage, error) {
	p, err := t.tx.AllocatePage(1)
	if err != nil {
		return nil, err
	}
	tp := &TreePage{Page: p}
	tp.init(kind)

	if kind == pageBranch {
		t.state.BranchPages++
	} else {
		t.state.LeafPages++
	}
	t.dirty = true
	return tp, nil
}

func (t *Tree) freePage(p *TreePage) error {
	if p.IsBranch() {
		t.state.BranchPages--
	} else {
		t.state.LeafPages--
	}
	t.dirty = true
	return t.tx.FreePage(p.Number)
}

func (t *Tree) ensureRoot() error {
	if t.state.RootPage != 0 {
		return nil
	}
	p, err := t.allocatePage(pageLeaf)
	if err != nil {
		return err
	}
	t.state.RootPage, t.state.Depth = p.Number, 1
	return nil
}

// findPageFor returns the path to the leaf covering key.
func (t *Tree) findPageFor(key []byte) (*cursor, *TreePage, error) {
	if f := t.cache.find(key); f != nil {
		c := f.cursor
		leaf, err := t.readPage(c.leaf())
		return &c, leaf, err
	}

	c := &cursor{rightmost: true}
	firstIsMin := true
	n := t.state.RootPage
	for {
		p, err := t.readPage(n)
		if err != nil {
			return nil, nil, err
		}
		c.path = append(c.path, n)

		if p.IsLeaf() {
			if len(c.path) != t.state.Depth {
				return nil, nil, blitstore.Corruptf("tree: leaf %d at depth %d, expected %d", n, len(c.path), t.state.Depth)
			}
			t.remember(c, p, firstIsMin)
			return c, p, nil
		}
		if p.NumberOfEntries() == 0 || len(c.path) >= t.state.Depth {
			return nil, nil, blitstore.Corruptf("tree: bad branch page %d", n)
		}

		i := p.childIndex(key)
		c.idx = append(c.idx, i)
		firstIsMin = firstIsMin && i == 0
		c.rightmost = c.rightmost && i == p.NumberOfEntries()-1
		n = p.child(i)
	}
}

func (t *Tree) remember(c *cursor, leaf *TreePage, firstIsMin bool) {
	if leaf.IsCompressed() || leaf.NumberOfEntries() == 0 {
		return
	}
	t.cache.add(&foundPage{
		first:      append([]byte(nil), leaf.keyAt(0)...),
		last:       append([]byte(nil), leaf.keyAt(leaf.NumberOfEntries()-1)...),
		firstIsMin: firstIsMin,
		lastIsMax:  c.rightmost,
		cursor: cursor{
			path:      append([]uint64(nil), c.path...),
			idx:       append([]int(nil), c.idx...),
			rightmost: c.rightmost,
		},
	})
}

func (t *Tree) readNode(key []byte) (Node, bool, error) {
	if t.state.RootPage == 0 {
		return Node{}, false, nil
	}
	_, leaf, err := t.findPageFor(key)
	if err != nil {
		return Node{}, false, err
	}
	view, err := leaf.Decompress()
	if err != nil {
		return Node{}, false, err
	}
	i, ok := view.search(key)
	if !ok {
		return Node{}, false, nil
	}
	return view.node(i).decode(), true, nil
}

// value returns the value of a leaf node.
func (t *Tree) value(nd Node) ([]byte, error) {
	if !nd.IsOverflow() {
		return nd.Data, nil
	}
	p, err := t.tx.GetPage(nd.PageNumber)
	if err != nil {
		return nil, err
	}
	if !p.IsOverflow() || int(p.OverflowSize()) > len(p.Body()) {
		return nil, blitstore.Corruptf("tree: bad overflow page %d", nd.PageNumber)
	}
	return p.Body()[:p.OverflowSize()], nil
}
