package tree

import (
	"bytes"
	"encoding/binary"
	"sort"

	"github.com/bsm/blitstore"
	"github.com/bsm/blitstore/pager"
	"github.com/golang/snappy"
)

// Page kinds, stored in the tree flags of the page header.
const (
	pageLeaf        uint8 = 1 << 0
	pageBranch      uint8 = 1 << 1
	pageCompressed  uint8 = 1 << 2
	pageFixedLeaf   uint8 = 1 << 3
	pageFixedBranch uint8 = 1 << 4
)

// maxVirtualSize bounds the decompressed image of a compressed leaf, node
// offsets are 16 bits wide.
const maxVirtualSize = 1<<16 - 1

// TreePage is a slotted page. A sorted array of 16 bit node offsets grows
// up from the header, nodes grow down from the end of the page.
//
// Compressed leaves hold a snappy block of the slot array and nodes instead.
// Their nodes can only be accessed after Decompress.
type TreePage struct {
	*pager.Page
}

func wrapPage(p *pager.Page) (*TreePage, error) {
	tp := &TreePage{Page: p}
	if err := tp.check(); err != nil {
		return nil, err
	}
	return tp, nil
}

// IsLeaf reports whether p is a leaf page.
func (p *TreePage) IsLeaf() bool { return p.TreeFlags()&pageLeaf != 0 }

// IsBranch reports whether p is a branch page.
func (p *TreePage) IsBranch() bool { return p.TreeFlags()&pageBranch != 0 }

// IsCompressed reports whether p is a compressed leaf.
func (p *TreePage) IsCompressed() bool { return p.TreeFlags()&pageCompressed != 0 }

// NumberOfEntries returns the number of nodes.
func (p *TreePage) NumberOfEntries() int {
	if p.IsCompressed() {
		return int(p.Aux())
	}
	return (int(p.Lower()) - pager.HeaderSize) / 2
}

// SizeLeft returns the contiguous free space between slots and nodes.
func (p *TreePage) SizeLeft() int { return int(p.Upper()) - int(p.Lower()) }

// Node returns node i. It fails with blitstore.ErrMustDecompress on
// compressed pages.
func (p *TreePage) Node(i int) (Node, error) {
	if p.IsCompressed() {
		return Node{}, blitstore.ErrMustDecompress
	}
	if i < 0 || i >= p.NumberOfEntries() {
		return Node{}, blitstore.Corruptf("tree: node %d out of range on page %d", i, p.Number)
	}
	return p.node(i).decode(), nil
}

// Decompress returns an uncompressed, read-only view of a compressed page.
// Uncompressed pages are returned as they are.
func (p *TreePage) Decompress() (*TreePage, error) {
	if !p.IsCompressed() {
		return p, nil
	}

	size := int(binary.LittleEndian.Uint32(p.Extra()))
	clen := int(p.OverflowSize())
	if size < pager.HeaderSize || size > maxVirtualSize || clen > len(p.Body()) {
		return nil, blitstore.Corruptf("tree: bad compressed page %d", p.Number)
	}
	if n, err := snappy.DecodedLen(p.Body()[:clen]); err != nil || n != size-pager.HeaderSize {
		return nil, blitstore.Corruptf("tree: bad compressed page %d", p.Number)
	}

	data := make([]byte, size)
	copy(data, p.Data[:pager.HeaderSize])
	if _, err := snappy.Decode(data[pager.HeaderSize:], p.Body()[:clen]); err != nil {
		return nil, blitstore.Corruptf("tree: decompress page %d: %v", p.Number, err)
	}

	vp := &TreePage{Page: &pager.Page{Number: p.Number, Data: data}}
	vp.SetTreeFlags(p.TreeFlags() &^ pageCompressed)
	vp.SetLower(uint16(pager.HeaderSize + 2*int(p.Aux())))
	vp.SetUpper(uint16(pager.HeaderSize + 2*int(p.Aux())))
	vp.SetAux(0)
	if err := vp.check(); err != nil {
		return nil, err
	}
	return vp, nil
}

// --------------------------------------------------------------------

// check verifies that all slots and nodes are within bounds.
func (p *TreePage) check() error {
	if p.Flags()&(pager.FlagTree) == 0 || p.TreeFlags()&(pageLeaf|pageBranch) == 0 {
		return blitstore.Corruptf("tree: page %d is not a tree page", p.Number)
	}
	if p.IsCompressed() {
		return nil
	}

	lower, upper := int(p.Lower()), int(p.Upper())
	if lower < pager.HeaderSize || lower > upper || upper > len(p.Data) || (lower-pager.HeaderSize)%2 != 0 {
		return blitstore.Corruptf("tree: bad bounds on page %d", p.Number)
	}
	for i, n := 0, p.NumberOfEntries(); i < n; i++ {
		off := p.slot(i)
		if off < upper || off+NodeHeaderSize > len(p.Data) {
			return blitstore.Corruptf("tree: node %d out of bounds on page %d", i, p.Number)
		}
		nd := node(p.Data[off:])
		if off+nd.size() > len(p.Data) || nd.flags() == 0 {
			return blitstore.Corruptf("tree: node %d out of bounds on page %d", i, p.Number)
		}
	}
	return nil
}

func (p *TreePage) init(kind uint8) {
	p.SetFlags(pager.FlagTree)
	p.SetTreeFlags(kind)
	p.SetLower(pager.HeaderSize)
	p.SetUpper(uint16(len(p.Data)))
	p.SetAux(0)
	p.SetOverflowSize(0)
	for i := range p.Extra() {
		p.Extra()[i] = 0
	}
}

func (p *TreePage) slot(i int) int {
	return int(binary.LittleEndian.Uint16(p.Data[pager.HeaderSize+2*i:]))
}

func (p *TreePage) node(i int) node {
	off := p.slot(i)
	n := node(p.Data[off:])
	return n[:n.size()]
}

func (p *TreePage) keyAt(i int) []byte { return p.node(i).key() }

// search returns the position of key in a leaf, and whether it was found.
func (p *TreePage) search(key []byte) (int, bool) {
	n := p.NumberOfEntries()
	i := sort.Search(n, func(i int) bool { return bytes.Compare(p.keyAt(i), key) >= 0 })
	return i, i < n && bytes.Equal(p.keyAt(i), key)
}

// childIndex returns the position of the child of a branch covering key. The
// first key of a branch is treated as lower than any key.
func (p *TreePage) childIndex(key []byte) int {
	n := p.NumberOfEntries()
	i := sort.Search(n-1, func(i int) bool { return bytes.Compare(p.keyAt(i+1), key) > 0 })
	return i
}

func (p *TreePage) child(i int) uint64 { return p.node(i).pageNumber() }

// sizeUsed returns the bytes taken by nodes and slots.
func (p *TreePage) sizeUsed() int {
	sz := 0
	for i, n := 0, p.NumberOfEntries(); i < n; i++ {
		sz += len(p.node(i)) + 2
	}
	return sz
}

// fits reports whether a node of size bytes can be inserted right away.
func (p *TreePage) fits(size int) bool { return p.SizeLeft() >= size+2 }

// insert stores n at position i. The caller must ensure it fits.
func (p *TreePage) insert(i int, n node) node {
	upper := int(p.Upper()) - len(n)
	copy(p.Data[upper:], n)

	lower := int(p.Lower())
	pos := pager.HeaderSize + 2*i
	copy(p.Data[pos+2:lower+2], p.Data[pos:lower])
	binary.LittleEndian.PutUint16(p.Data[pos:], uint16(upper))

	p.SetLower(uint16(lower + 2))
	p.SetUpper(uint16(upper))
	return node(p.Data[upper : upper+len(n)])
}

// remove drops node i. The space it took is reclaimed by the next rebuild.
func (p *TreePage) remove(i int) {
	lower := int(p.Lower())
	pos := pager.HeaderSize + 2*i
	copy(p.Data[pos:], p.Data[pos+2:lower])
	p.SetLower(uint16(lower - 2))
	if p.NumberOfEntries() == 0 {
		p.SetUpper(uint16(len(p.Data)))
	}
}

// nodes returns copies of all nodes.
func (p *TreePage) nodes() []node {
	n := p.NumberOfEntries()
	nodes := make([]node, 0, n+1)
	for i := 0; i < n; i++ {
		nodes = append(nodes, append(node(nil), p.node(i)...))
	}
	return nodes
}

// rebuild replaces the content of p with nodes, stored uncompressed.
func (p *TreePage) rebuild(nodes []node) {
	kind := p.TreeFlags() &^ pageCompressed
	p.init(kind)
	for i, n := range nodes {
		p.insert(i, n)
	}
}

// compressNodes encodes nodes as the snappy block of a compressed leaf. It
// returns false when the block does not fit into a page.
func compressNodes(nodes []node, pageSize int) ([]byte, int, bool) {
	size := pager.HeaderSize + nodesSize(nodes)
	if size > maxVirtualSize || len(nodes) > maxVirtualSize {
		return nil, 0, false
	}

	vp := &TreePage{Page: &pager.Page{Data: make([]byte, size)}}
	vp.init(pageLeaf)
	for i, n := range nodes {
		vp.insert(i, n)
	}

	block := snappy.Encode(nil, vp.Data[pager.HeaderSize:])
	if len(block) > pageSize-pager.HeaderSize {
		return nil, 0, false
	}
	return block, size, true
}

// storeCompressed replaces the content of p with a compressed block of count
// nodes and a decompressed image of size bytes.
func (p *TreePage) storeCompressed(count int, block []byte, size int) {
	p.init(pageLeaf | pageCompressed)
	p.SetAux(uint16(count))
	p.SetOverflowSize(uint32(len(block)))
	binary.LittleEndian.PutUint32(p.Extra(), uint32(size))
	copy(p.Body(), block)
	p.SetLower(uint16(pager.HeaderSize + len(block)))
}

func bodyFits(nodes []node, pageSize int) bool {
	return nodesSize(nodes) <= pageSize-pager.HeaderSize
}
