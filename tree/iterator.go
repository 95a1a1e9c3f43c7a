package tree

import (
	"bytes"

	"github.com/bsm/blitstore"
)

func errCorruptBranch(n uint64) error {
	return blitstore.Corruptf("tree: empty branch page %d", n)
}

// Position is an absolute iterator position.
type Position int

// Absolute positions.
const (
	BeforeAllKeys Position = iota
	AfterAllKeys
)

// Iterator walks the keys of a tree in order. It is invalidated by any
// modification of the tree.
type Iterator struct {
	t      *Tree
	prefix []byte

	path []uint64
	idx  []int
	leaf *TreePage // uncompressed view
	pos  int

	valid bool
	err   error
}

// Iterate returns a new iterator. When prefix is not empty, only keys
// starting with prefix are visited.
func (t *Tree) Iterate(prefix []byte) *Iterator {
	return &Iterator{t: t, prefix: append([]byte(nil), prefix...)}
}

// Seek positions the iterator on the first key greater or equal to key.
func (it *Iterator) Seek(key []byte) bool {
	if bytes.Compare(key, it.prefix) < 0 {
		key = it.prefix
	}
	if !it.reset() {
		return false
	}

	n := it.t.state.RootPage
	for {
		p, err := it.t.readPage(n)
		if err != nil {
			return it.fail(err)
		}
		it.path = append(it.path, n)
		if p.IsLeaf() {
			if !it.setLeaf(p) {
				return false
			}
			break
		}
		if p.NumberOfEntries() == 0 {
			return it.fail(errCorruptBranch(n))
		}
		i := p.childIndex(key)
		it.idx = append(it.idx, i)
		n = p.child(i)
	}

	it.pos, _ = it.leaf.search(key)
	if it.pos >= it.leaf.NumberOfEntries() {
		return it.moveLeaf(true)
	}
	return it.check()
}

// SeekTo positions the iterator on the first or the last key.
func (it *Iterator) SeekTo(pos Position) bool {
	if len(it.prefix) != 0 {
		if pos == BeforeAllKeys {
			return it.Seek(it.prefix)
		}
		return it.seekLast()
	}
	if !it.reset() {
		return false
	}
	return it.descend(it.t.state.RootPage, pos == BeforeAllKeys)
}

// Next moves to the next key.
func (it *Iterator) Next() bool {
	if !it.valid {
		return false
	}
	if it.pos++; it.pos < it.leaf.NumberOfEntries() {
		return it.check()
	}
	return it.moveLeaf(true)
}

// Prev moves to the previous key.
func (it *Iterator) Prev() bool {
	if !it.valid {
		return false
	}
	if it.pos--; it.pos >= 0 {
		return it.check()
	}
	return it.moveLeaf(false)
}

// Valid reports whether the iterator is positioned on a key.
func (it *Iterator) Valid() bool { return it.valid }

// Key returns the current key.
func (it *Iterator) Key() []byte { return it.leaf.keyAt(it.pos) }

// Node returns the current node.
func (it *Iterator) Node() Node { return it.leaf.node(it.pos).decode() }

// Value returns the current value, reading overflow pages as needed.
func (it *Iterator) Value() ([]byte, error) { return it.t.value(it.Node()) }

// Err returns the first error encountered.
func (it *Iterator) Err() error { return it.err }

// --------------------------------------------------------------------

func (it *Iterator) reset() bool {
	it.path, it.idx, it.leaf = it.path[:0], it.idx[:0], nil
	it.valid, it.err = false, nil
	return it.t.state.RootPage != 0
}

func (it *Iterator) fail(err error) bool {
	it.valid, it.err = false, err
	return false
}

// seekLast positions the iterator on the last key with the prefix.
func (it *Iterator) seekLast() bool {
	prefix := it.prefix
	it.prefix = nil
	defer func() { it.prefix = prefix }()

	var ok bool
	if next := prefixSuccessor(prefix); next != nil && it.Seek(next) {
		ok = it.Prev()
	} else if it.err == nil {
		ok = it.SeekTo(AfterAllKeys)
	}
	if !ok {
		return false
	}

	it.prefix = prefix
	return it.check()
}

func (it *Iterator) setLeaf(p *TreePage) bool {
	view, err := p.Decompress()
	if err != nil {
		return it.fail(err)
	}
	it.leaf = view
	return true
}

// descend walks from page n down to the first or last key below it.
func (it *Iterator) descend(n uint64, first bool) bool {
	for {
		p, err := it.t.readPage(n)
		if err != nil {
			return it.fail(err)
		}
		it.path = append(it.path, n)
		if p.IsLeaf() {
			if !it.setLeaf(p) {
				return false
			}
			break
		}
		cnt := p.NumberOfEntries()
		if cnt == 0 {
			return it.fail(errCorruptBranch(n))
		}
		i := 0
		if !first {
			i = cnt - 1
		}
		it.idx = append(it.idx, i)
		n = p.child(i)
	}

	cnt := it.leaf.NumberOfEntries()
	if cnt == 0 {
		return it.moveLeaf(first)
	}
	it.pos = 0
	if !first {
		it.pos = cnt - 1
	}
	return it.check()
}

// moveLeaf moves to the next or previous leaf.
func (it *Iterator) moveLeaf(forward bool) bool {
	it.valid = false

	for level := len(it.idx) - 1; level >= 0; level-- {
		p, err := it.t.readPage(it.path[level])
		if err != nil {
			return it.fail(err)
		}

		i := it.idx[level]
		if forward && i+1 < p.NumberOfEntries() {
			i++
		} else if !forward && i > 0 {
			i--
		} else {
			continue
		}

		it.idx = append(it.idx[:level], i)
		it.path = it.path[:level+1]
		return it.descend(p.child(i), forward)
	}
	return false
}

// check validates the current key against the prefix.
func (it *Iterator) check() bool {
	it.valid = len(it.prefix) == 0 || bytes.HasPrefix(it.Key(), it.prefix)
	return it.valid
}

// prefixSuccessor returns the smallest key greater than all keys with the
// given prefix, nil if there is none.
func prefixSuccessor(prefix []byte) []byte {
	next := append([]byte(nil), prefix...)
	for i := len(next) - 1; i >= 0; i-- {
		if next[i] != 0xff {
			next[i]++
			return next[:i+1]
		}
	}
	return nil
}
