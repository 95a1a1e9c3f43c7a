package tree

import (
	"encoding/binary"
	"math"
	"sort"

	"github.com/bsm/blitstore"
	"github.com/bsm/blitstore/pager"
	"github.com/cockroachdb/errors"
)

// Fixed-size tree states, stored as the value of a NodeFixedTree node.
//
//	embedded: [0] 1, [1:3] value size, then sorted entries
//	large:    [0] 2, [1:3] value size, [3:11] root, [11:19] entries,
//	          [19:27] pages, [27] depth
const (
	fixedEmbedded  = 1
	fixedLarge     = 2
	fixedLargeSize = 28

	maxEmbeddedEntries = 64

	// minKeyBits is math.MinInt64 as stored in branch separators.
	minKeyBits = uint64(1 << 63)
)

// FixedSizeTree maps int64 keys to values of a fixed size. Small trees are
// embedded in the node of their parent, larger ones use their own pages.
type FixedSizeTree struct {
	parent  *Tree
	key     []byte
	valSize int

	large   bool
	entries []byte // embedded entries
	root    uint64
	count   int64
	pages   int64
	depth   int
}

// OpenFixedTree opens the named fixed-size tree stored in the root tree.
func OpenFixedTree(tx *pager.Tx, name string, valSize int) (*FixedSizeTree, error) {
	if name == "" {
		return nil, errors.New("tree: name must not be empty")
	}
	root, err := Root(tx)
	if err != nil {
		return nil, err
	}
	return root.FixedTreeFor([]byte(name), valSize)
}

// MaxFixedTreeKeySize returns the longest key a fixed-size tree can be
// stored under.
func MaxFixedTreeKeySize(pageSize int) int {
	return NodeMaxSize(pageSize) - NodeHeaderSize - fixedLargeSize
}

// FixedTreeFor returns the fixed-size tree stored at key. A missing tree is
// empty and only stored on the first Add.
func (t *Tree) FixedTreeFor(key []byte, valSize int) (*FixedSizeTree, error) {
	ps := t.pageSize()
	if valSize < 0 || 8+valSize > (ps-pager.HeaderSize)/2 {
		return nil, blitstore.Capacityf("tree: fixed value size %d out of range", valSize)
	}
	if max := MaxFixedTreeKeySize(ps); len(key) == 0 || len(key) > max {
		return nil, blitstore.Capacityf("tree: fixed tree key of %d bytes out of range", len(key))
	}

	f := &FixedSizeTree{parent: t, key: append([]byte(nil), key...), valSize: valSize}
	nd, ok, err := t.readNode(key)
	if err != nil || !ok {
		return f, err
	}
	if nd.Flags&NodeFixedTree == 0 {
		return nil, errors.Newf("tree: %q is not a fixed-size tree", key)
	}
	if err := f.decode(nd.Data); err != nil {
		return nil, err
	}
	if f.valSize != valSize {
		return nil, errors.Newf("tree: fixed tree %q has values of %d bytes, not %d", key, f.valSize, valSize)
	}
	return f, nil
}

// DeleteFixedTree removes the fixed-size tree at key with all its pages.
func (t *Tree) DeleteFixedTree(key []byte) (bool, error) {
	nd, ok, err := t.readNode(key)
	if err != nil || !ok {
		return false, err
	}
	if nd.Flags&NodeFixedTree == 0 {
		return false, errors.Newf("tree: %q is not a fixed-size tree", key)
	}
	return t.Delete(key)
}

// ValueSize returns the size of the values.
func (f *FixedSizeTree) ValueSize() int { return f.valSize }

// NumberOfEntries returns the number of entries.
func (f *FixedSizeTree) NumberOfEntries() int64 {
	if f.large {
		return f.count
	}
	return int64(len(f.entries) / f.entrySize())
}

// IsEmbedded reports whether the entries are stored inside the parent node.
func (f *FixedSizeTree) IsEmbedded() bool { return !f.large }

// PageCount returns the number of pages of a large tree.
func (f *FixedSizeTree) PageCount() int64 { return f.pages }

// Depth returns the depth of a large tree, 0 if embedded.
func (f *FixedSizeTree) Depth() int { return f.depth }

// Contains reports whether key exists.
func (f *FixedSizeTree) Contains(key int64) (bool, error) {
	_, ok, err := f.Read(key)
	return ok, err
}

// Read returns the value stored at key.
func (f *FixedSizeTree) Read(key int64) ([]byte, bool, error) {
	if !f.large {
		i, ok := f.searchEmbedded(key)
		if !ok {
			return nil, false, nil
		}
		return fixedValue(f.entries, f.entrySize(), i), true, nil
	}

	path, err := f.descend(key)
	if err != nil {
		return nil, false, err
	}
	leaf, err := f.readPage(path[len(path)-1].page)
	if err != nil {
		return nil, false, err
	}
	i, ok := leaf.search(key)
	if !ok {
		return nil, false, nil
	}
	return leaf.value(i), true, nil
}

// Add stores val at key. It reports whether the key is new.
func (f *FixedSizeTree) Add(key int64, val []byte) (bool, error) {
	if err := f.parent.checkWritable(); err != nil {
		return false, err
	}
	if len(val) != f.valSize {
		return false, errors.Newf("tree: value of %d bytes, fixed tree expects %d", len(val), f.valSize)
	}

	var added bool
	var err error
	if f.large {
		added, err = f.addLarge(key, val)
	} else {
		added, err = f.addEmbedded(key, val)
	}
	if err != nil {
		return false, err
	}
	return added, f.flush()
}

// Delete removes key. It reports whether the key existed.
func (f *FixedSizeTree) Delete(key int64) (bool, error) {
	if err := f.parent.checkWritable(); err != nil {
		return false, err
	}

	if !f.large {
		i, ok := f.searchEmbedded(key)
		if !ok {
			return false, nil
		}
		es := f.entrySize()
		f.entries = append(f.entries[:i*es], f.entries[(i+1)*es:]...)
		return true, f.flush()
	}

	ok, err := f.deleteLarge(key)
	if err != nil || !ok {
		return false, err
	}
	if f.count <= int64(f.embeddedMax()/2) {
		if err := f.toEmbedded(); err != nil {
			return false, err
		}
	}
	return true, f.flush()
}

// Iterate returns an iterator over the entries in key order.
func (f *FixedSizeTree) Iterate() *FixedIterator { return &FixedIterator{f: f} }

// AllPages returns the pages of a large tree in ascending order.
func (f *FixedSizeTree) AllPages() ([]uint64, error) {
	var pages []uint64
	if err := f.walk(func(p *fixedPage) error {
		pages = append(pages, p.Number)
		return nil
	}); err != nil {
		return nil, err
	}
	sort.Slice(pages, func(i, j int) bool { return pages[i] < pages[j] })
	return pages, nil
}

// --------------------------------------------------------------------

func (f *FixedSizeTree) entrySize() int { return 8 + f.valSize }

func (f *FixedSizeTree) embeddedMax() int {
	n := (NodeMaxSize(f.parent.pageSize()) - NodeHeaderSize - len(f.key) - 3) / f.entrySize()
	if n > maxEmbeddedEntries {
		n = maxEmbeddedEntries
	}
	return n
}

func (f *FixedSizeTree) leafCap() int {
	return (f.parent.pageSize() - pager.HeaderSize) / f.entrySize()
}

func (f *FixedSizeTree) branchCap() int {
	return (f.parent.pageSize() - pager.HeaderSize) / 16
}

func (f *FixedSizeTree) decode(b []byte) error {
	if len(b) < 3 {
		return blitstore.Corruptf("tree: fixed tree state of %d bytes", len(b))
	}
	f.valSize = int(binary.LittleEndian.Uint16(b[1:]))

	switch b[0] {
	case fixedEmbedded:
		if (len(b)-3)%f.entrySize() != 0 {
			return blitstore.Corruptf("tree: bad embedded fixed tree %q", f.key)
		}
		f.entries = append([]byte(nil), b[3:]...)
	case fixedLarge:
		if len(b) != fixedLargeSize {
			return blitstore.Corruptf("tree: bad fixed tree state %q", f.key)
		}
		f.large = true
		f.root = binary.LittleEndian.Uint64(b[3:])
		f.count = int64(binary.LittleEndian.Uint64(b[11:]))
		f.pages = int64(binary.LittleEndian.Uint64(b[19:]))
		f.depth = int(b[27])
		if f.root == 0 || f.depth == 0 {
			return blitstore.Corruptf("tree: bad fixed tree state %q", f.key)
		}
	default:
		return blitstore.Corruptf("tree: bad fixed tree marker %x", b[0])
	}
	return nil
}

func (f *FixedSizeTree) encode() []byte {
	if !f.large {
		b := make([]byte, 3+len(f.entries))
		b[0] = fixedEmbedded
		binary.LittleEndian.PutUint16(b[1:], uint16(f.valSize))
		copy(b[3:], f.entries)
		return b
	}

	b := make([]byte, fixedLargeSize)
	b[0] = fixedLarge
	binary.LittleEndian.PutUint16(b[1:], uint16(f.valSize))
	binary.LittleEndian.PutUint64(b[3:], f.root)
	binary.LittleEndian.PutUint64(b[11:], uint64(f.count))
	binary.LittleEndian.PutUint64(b[19:], uint64(f.pages))
	b[27] = byte(f.depth)
	return b
}

func (f *FixedSizeTree) flush() error {
	st := f.encode()
	_, err := f.parent.add(f.key, len(st), st, NodeFixedTree)
	return err
}

func (f *FixedSizeTree) searchEmbedded(key int64) (int, bool) {
	es := f.entrySize()
	n := len(f.entries) / es
	i := sort.Search(n, func(i int) bool { return fixedKey(f.entries, es, i) >= key })
	return i, i < n && fixedKey(f.entries, es, i) == key
}

func (f *FixedSizeTree) addEmbedded(key int64, val []byte) (bool, error) {
	es := f.entrySize()
	i, ok := f.searchEmbedded(key)
	if ok {
		copy(fixedValue(f.entries, es, i), val)
		return false, nil
	}

	entry := make([]byte, es)
	binary.LittleEndian.PutUint64(entry, uint64(key))
	copy(entry[8:], val)

	entries := make([]byte, 0, len(f.entries)+es)
	entries = append(entries, f.entries[:i*es]...)
	entries = append(entries, entry...)
	entries = append(entries, f.entries[i*es:]...)

	if len(entries)/es <= f.embeddedMax() {
		f.entries = entries
		return true, nil
	}

	// convert into a large tree
	leaf, err := f.allocatePage(pageFixedLeaf)
	if err != nil {
		return false, err
	}
	leaf.setEntries(entries)
	f.large, f.entries = true, nil
	f.root, f.depth = leaf.Number, 1
	f.count = int64(len(entries) / es)
	return true, nil
}

type fixedStep struct {
	page uint64
	idx  int
}

// descend returns the path to the leaf covering key.
func (f *FixedSizeTree) descend(key int64) ([]fixedStep, error) {
	path := make([]fixedStep, 0, f.depth)
	n := f.root
	for {
		p, err := f.readPage(n)
		if err != nil {
			return nil, err
		}
		if p.isLeaf() {
			if len(path)+1 != f.depth {
				return nil, blitstore.Corruptf("tree: fixed leaf %d at depth %d, expected %d", n, len(path)+1, f.depth)
			}
			return append(path, fixedStep{page: n}), nil
		}
		if p.count() == 0 || len(path)+1 >= f.depth {
			return nil, blitstore.Corruptf("tree: bad fixed branch page %d", n)
		}
		i := p.childIndex(key)
		path = append(path, fixedStep{page: n, idx: i})
		n = p.child(i)
	}
}

func (f *FixedSizeTree) addLarge(key int64, val []byte) (bool, error) {
	path, err := f.descend(key)
	if err != nil {
		return false, err
	}
	leaf, err := f.modifyPage(path[len(path)-1].page)
	if err != nil {
		return false, err
	}

	i, ok := leaf.search(key)
	if ok {
		copy(leaf.value(i), val)
		return false, nil
	}
	f.count++

	entry := make([]byte, f.entrySize())
	binary.LittleEndian.PutUint64(entry, uint64(key))
	copy(entry[8:], val)
	if leaf.count() < f.leafCap() {
		leaf.insertEntry(i, entry)
		return true, nil
	}

	entries := leaf.entriesWith(i, entry)
	sep, right, err := f.split(leaf, entries, pageFixedLeaf)
	if err != nil {
		return false, err
	}
	return true, f.insertSeparator(path, len(path)-2, sep, right)
}

// split keeps the first half of entries in p and moves the rest to a new
// page. It returns the first key and number of the new page.
func (f *FixedSizeTree) split(p *fixedPage, entries []byte, kind uint8) (int64, uint64, error) {
	es := p.entrySize
	half := len(entries) / es / 2

	right, err := f.allocatePage(kind)
	if err != nil {
		return 0, 0, err
	}
	p.setEntries(entries[:half*es])
	right.setEntries(entries[half*es:])
	return right.key(0), right.Number, nil
}

// insertSeparator adds a child to the branch at path[level], growing a new
// root when level is negative.
func (f *FixedSizeTree) insertSeparator(path []fixedStep, level int, key int64, child uint64) error {
	entry := make([]byte, 16)
	binary.LittleEndian.PutUint64(entry, uint64(key))
	binary.LittleEndian.PutUint64(entry[8:], child)

	if level < 0 {
		root, err := f.allocatePage(pageFixedBranch)
		if err != nil {
			return err
		}
		first := make([]byte, 16)
		binary.LittleEndian.PutUint64(first, minKeyBits)
		binary.LittleEndian.PutUint64(first[8:], f.root)
		root.setEntries(append(first, entry...))
		f.root = root.Number
		f.depth++
		return nil
	}

	branch, err := f.modifyPage(path[level].page)
	if err != nil {
		return err
	}
	i := path[level].idx + 1
	if branch.count() < f.branchCap() {
		branch.insertEntry(i, entry)
		return nil
	}

	entries := branch.entriesWith(i, entry)
	sep, right, err := f.split(branch, entries, pageFixedBranch)
	if err != nil {
		return err
	}
	return f.insertSeparator(path, level-1, sep, right)
}

func (f *FixedSizeTree) deleteLarge(key int64) (bool, error) {
	path, err := f.descend(key)
	if err != nil {
		return false, err
	}
	leafNo := path[len(path)-1].page
	leaf, err := f.readPage(leafNo)
	if err != nil {
		return false, err
	}
	i, ok := leaf.search(key)
	if !ok {
		return false, nil
	}
	if leaf, err = f.modifyPage(leafNo); err != nil {
		return false, err
	}
	leaf.removeEntry(i)
	f.count--

	// unlink empty pages bottom-up
	for level := len(path) - 1; level > 0; level-- {
		p, err := f.readPage(path[level].page)
		if err != nil {
			return false, err
		}
		if p.count() != 0 {
			break
		}
		if err := f.freePage(p.Number); err != nil {
			return false, err
		}
		parent, err := f.modifyPage(path[level-1].page)
		if err != nil {
			return false, err
		}
		parent.removeEntry(path[level-1].idx)
		if parent.count() != 0 {
			binary.LittleEndian.PutUint64(parent.entry(0), minKeyBits)
		}
	}

	for f.depth > 1 {
		root, err := f.readPage(f.root)
		if err != nil {
			return false, err
		}
		if root.count() != 1 {
			break
		}
		child := root.child(0)
		if err := f.freePage(root.Number); err != nil {
			return false, err
		}
		f.root = child
		f.depth--
	}
	return true, nil
}

// toEmbedded moves all entries of a large tree back into the parent node.
func (f *FixedSizeTree) toEmbedded() error {
	var entries []byte
	if f.count != 0 {
		it := f.Iterate()
		for ok := it.First(); ok; ok = it.Next() {
			entries = append(entries, it.entry()...)
		}
		if err := it.Err(); err != nil {
			return err
		}
	}
	if err := dropFixedPages(f.parent.tx, f.root, f.depth); err != nil {
		return err
	}
	f.large, f.entries = false, entries
	f.root, f.count, f.pages, f.depth = 0, 0, 0, 0
	return nil
}

// walk visits all pages of a large tree, children first.
func (f *FixedSizeTree) walk(fn func(*fixedPage) error) error {
	if !f.large {
		return nil
	}
	return walkFixed(f.parent.tx, f.root, f.depth-1, fn)
}

func walkFixed(tx *pager.Tx, n uint64, height int, fn func(*fixedPage) error) error {
	p, err := readFixedPage(tx, n)
	if err != nil {
		return err
	}
	if !p.isLeaf() {
		if height == 0 {
			return blitstore.Corruptf("tree: fixed branch page %d below leaf level", n)
		}
		for i, cnt := 0, p.count(); i < cnt; i++ {
			if err := walkFixed(tx, p.child(i), height-1, fn); err != nil {
				return err
			}
		}
	}
	return fn(p)
}

func dropFixedPages(tx *pager.Tx, root uint64, depth int) error {
	return walkFixed(tx, root, depth-1, func(p *fixedPage) error {
		return tx.FreePage(p.Number)
	})
}

// dropFixedState frees the pages of the fixed-size tree encoded in b.
func dropFixedState(tx *pager.Tx, b []byte) error {
	f := &FixedSizeTree{}
	if err := f.decode(b); err != nil {
		return err
	}
	if !f.large {
		return nil
	}
	return dropFixedPages(tx, f.root, f.depth)
}

func (f *FixedSizeTree) readPage(n uint64) (*fixedPage, error) {
	p, err := readFixedPage(f.parent.tx, n)
	if err != nil {
		return nil, err
	}
	if p.entrySize != f.entrySize() && p.isLeaf() {
		return nil, blitstore.Corruptf("tree: fixed page %d has entries of %d bytes", n, p.entrySize)
	}
	return p, nil
}

func (f *FixedSizeTree) modifyPage(n uint64) (*fixedPage, error) {
	p, err := f.parent.tx.ModifyPage(n)
	if err != nil {
		return nil, err
	}
	return wrapFixedPage(p)
}

func (f *FixedSizeTree) allocatePage(kind uint8) (*fixedPage, error) {
	p, err := f.parent.tx.AllocatePage(1)
	if err != nil {
		return nil, err
	}
	p.SetFlags(pager.FlagFixedTree)
	p.SetTreeFlags(kind)
	p.SetAux(0)
	es := 16
	if kind == pageFixedLeaf {
		es = f.entrySize()
	}
	binary.LittleEndian.PutUint16(p.Extra(), uint16(es))
	f.pages++
	return &fixedPage{Page: p, entrySize: es}, nil
}

func (f *FixedSizeTree) freePage(n uint64) error {
	f.pages--
	return f.parent.tx.FreePage(n)
}

// --------------------------------------------------------------------

// fixedPage is a page of a large fixed-size tree. Entries are stored back to
// back after the header, Aux holds their count and Extra[0:2] their size.
// Branch entries hold a key and a child page, the first key is the minimum.
type fixedPage struct {
	*pager.Page
	entrySize int
}

func readFixedPage(tx *pager.Tx, n uint64) (*fixedPage, error) {
	p, err := tx.GetPage(n)
	if err != nil {
		return nil, err
	}
	return wrapFixedPage(p)
}

func wrapFixedPage(p *pager.Page) (*fixedPage, error) {
	fp := &fixedPage{Page: p, entrySize: int(binary.LittleEndian.Uint16(p.Extra()))}
	kind := p.TreeFlags()
	if p.Flags()&pager.FlagFixedTree == 0 || (kind != pageFixedLeaf && kind != pageFixedBranch) {
		return nil, blitstore.Corruptf("tree: page %d is not a fixed tree page", p.Number)
	}
	if fp.entrySize < 8 || (kind == pageFixedBranch && fp.entrySize != 16) ||
		pager.HeaderSize+fp.count()*fp.entrySize > len(p.Data) {
		return nil, blitstore.Corruptf("tree: bad fixed tree page %d", p.Number)
	}
	return fp, nil
}

func (p *fixedPage) isLeaf() bool       { return p.TreeFlags() == pageFixedLeaf }
func (p *fixedPage) count() int         { return int(p.Aux()) }
func (p *fixedPage) key(i int) int64    { return fixedKey(p.Body(), p.entrySize, i) }
func (p *fixedPage) value(i int) []byte { return fixedValue(p.Body(), p.entrySize, i) }
func (p *fixedPage) child(i int) uint64 { return binary.LittleEndian.Uint64(p.value(i)) }
func (p *fixedPage) entry(i int) []byte { return p.Body()[i*p.entrySize : (i+1)*p.entrySize] }
func (p *fixedPage) entriesSize() int   { return p.count() * p.entrySize }
func (p *fixedPage) setCount(n int)     { p.SetAux(uint16(n)) }
func (p *fixedPage) allEntries() []byte { return p.Body()[:p.entriesSize()] }

func (p *fixedPage) setEntries(b []byte) {
	copy(p.Body(), b)
	p.setCount(len(b) / p.entrySize)
}

func (p *fixedPage) search(key int64) (int, bool) {
	n := p.count()
	i := sort.Search(n, func(i int) bool { return p.key(i) >= key })
	return i, i < n && p.key(i) == key
}

func (p *fixedPage) childIndex(key int64) int {
	n := p.count()
	return sort.Search(n-1, func(i int) bool { return p.key(i+1) > key })
}

func (p *fixedPage) insertEntry(i int, entry []byte) {
	body, es, n := p.Body(), p.entrySize, p.count()
	copy(body[(i+1)*es:(n+1)*es], body[i*es:n*es])
	copy(body[i*es:], entry)
	p.setCount(n + 1)
}

func (p *fixedPage) removeEntry(i int) {
	body, es, n := p.Body(), p.entrySize, p.count()
	copy(body[i*es:], body[(i+1)*es:n*es])
	p.setCount(n - 1)
}

// entriesWith returns a copy of all entries with entry inserted at i.
func (p *fixedPage) entriesWith(i int, entry []byte) []byte {
	es := p.entrySize
	all := p.allEntries()
	b := make([]byte, 0, len(all)+es)
	b = append(b, all[:i*es]...)
	b = append(b, entry...)
	return append(b, all[i*es:]...)
}

func fixedKey(b []byte, es, i int) int64 {
	return int64(binary.LittleEndian.Uint64(b[i*es:]))
}

func fixedValue(b []byte, es, i int) []byte {
	return b[i*es+8 : (i+1)*es]
}

// --------------------------------------------------------------------

// FixedIterator iterates over the entries of a fixed-size tree.
type FixedIterator struct {
	f *FixedSizeTree

	// embedded
	pos int

	// large
	path []fixedStep
	leaf *fixedPage

	valid bool
	err   error
}

// First positions the iterator on the smallest key.
func (it *FixedIterator) First() bool { return it.SeekTo(math.MinInt64) }

// SeekTo positions the iterator on the first key greater or equal to key.
func (it *FixedIterator) SeekTo(key int64) bool {
	it.valid, it.err = false, nil

	if !it.f.large {
		it.pos, _ = it.f.searchEmbedded(key)
		it.valid = it.pos < len(it.f.entries)/it.f.entrySize()
		return it.valid
	}

	path, err := it.f.descend(key)
	if err != nil {
		it.err = err
		return false
	}
	leaf, err := it.f.readPage(path[len(path)-1].page)
	if err != nil {
		it.err = err
		return false
	}
	it.path, it.leaf = path, leaf
	it.pos, _ = leaf.search(key)
	if it.pos < leaf.count() {
		it.valid = true
		return true
	}
	return it.nextLeaf()
}

// Next advances to the next key.
func (it *FixedIterator) Next() bool {
	if !it.valid {
		return false
	}
	it.pos++
	if !it.f.large {
		it.valid = it.pos < len(it.f.entries)/it.f.entrySize()
		return it.valid
	}
	if it.pos < it.leaf.count() {
		return true
	}
	return it.nextLeaf()
}

// nextLeaf moves to the first entry of the next non-empty leaf.
func (it *FixedIterator) nextLeaf() bool {
	it.valid = false

	level := len(it.path) - 2
	for ; level >= 0; level-- {
		p, err := it.f.readPage(it.path[level].page)
		if err != nil {
			it.err = err
			return false
		}
		if it.path[level].idx+1 < p.count() {
			it.path[level].idx++
			break
		}
	}
	if level < 0 {
		return false
	}

	for ; level < len(it.path)-1; level++ {
		p, err := it.f.readPage(it.path[level].page)
		if err != nil {
			it.err = err
			return false
		}
		it.path[level+1] = fixedStep{page: p.child(it.path[level].idx)}
	}
	leaf, err := it.f.readPage(it.path[len(it.path)-1].page)
	if err != nil {
		it.err = err
		return false
	}
	it.leaf, it.pos = leaf, 0
	if leaf.count() == 0 {
		return it.nextLeaf()
	}
	it.valid = true
	return true
}

// Key returns the current key.
func (it *FixedIterator) Key() int64 {
	if !it.f.large {
		return fixedKey(it.f.entries, it.f.entrySize(), it.pos)
	}
	return it.leaf.key(it.pos)
}

// Value returns the current value.
func (it *FixedIterator) Value() []byte {
	if !it.f.large {
		return fixedValue(it.f.entries, it.f.entrySize(), it.pos)
	}
	return it.leaf.value(it.pos)
}

// Err returns the first error encountered.
func (it *FixedIterator) Err() error { return it.err }

func (it *FixedIterator) entry() []byte {
	es := it.f.entrySize()
	if !it.f.large {
		return it.f.entries[it.pos*es : (it.pos+1)*es]
	}
	return it.leaf.entry(it.pos)
}
