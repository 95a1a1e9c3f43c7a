package tree

import (
	"encoding/binary"

	"github.com/bsm/blitstore/pager"
)

// NodeHeaderSize is the size of the header in front of every node.
const NodeHeaderSize = 12

// NodeFlags describe how a node stores its value.
type NodeFlags uint8

// Node flags.
const (
	// NodeData nodes carry their value inline.
	NodeData NodeFlags = 1 << 0
	// NodeOverflow nodes point to an overflow run holding the value.
	NodeOverflow NodeFlags = 1 << 1
	// NodePageRef nodes point to a child page of a branch.
	NodePageRef NodeFlags = 1 << 2
	// NodeFixedTree nodes hold the state of a nested fixed-size tree.
	NodeFixedTree NodeFlags = 1 << 3
	// NodeTree nodes hold the state of a named tree.
	NodeTree NodeFlags = 1 << 4
)

// NodeMaxSize returns the largest node stored inline for the given page size.
// Larger values go to overflow pages.
func NodeMaxSize(pageSize int) int { return (pageSize - pager.HeaderSize) / 4 }

// MaxKeySize returns the longest supported key for the given page size.
func MaxKeySize(pageSize int) int { return NodeMaxSize(pageSize) - NodeHeaderSize }

// Node is a decoded tree node.
type Node struct {
	Flags NodeFlags
	Key   []byte
	// Data is the inline value of NodeData nodes.
	Data []byte
	// PageNumber is the child page of a branch node, or the first page of the
	// overflow run of a NodeOverflow node.
	PageNumber uint64
}

// IsOverflow reports whether the value lives in an overflow run.
func (n Node) IsOverflow() bool { return n.Flags&NodeOverflow != 0 }

// --------------------------------------------------------------------

// node is the raw encoding of a node:
//
//	[0]      flags
//	[1]      reserved
//	[2:4]    key size
//	[4:8]    value size (inline)
//	[4:12]   page number (overflow, branch)
//	[12:]    key, then the inline value
type node []byte

func (n node) flags() NodeFlags { return NodeFlags(n[0]) }
func (n node) keySize() int     { return int(binary.LittleEndian.Uint16(n[2:])) }
func (n node) key() []byte      { return n[NodeHeaderSize : NodeHeaderSize+n.keySize()] }
func (n node) inline() bool     { return n.flags()&(NodeOverflow|NodePageRef) == 0 }
func (n node) dataSize() int    { return int(binary.LittleEndian.Uint32(n[4:])) }
func (n node) pageNumber() uint64 {
	return binary.LittleEndian.Uint64(n[4:])
}

func (n node) data() []byte {
	off := NodeHeaderSize + n.keySize()
	return n[off : off+n.dataSize()]
}

func (n node) size() int {
	if n.inline() {
		return NodeHeaderSize + n.keySize() + n.dataSize()
	}
	return NodeHeaderSize + n.keySize()
}

func (n node) decode() Node {
	nd := Node{Flags: n.flags(), Key: n.key()}
	if n.inline() {
		nd.Data = n.data()
	} else {
		nd.PageNumber = n.pageNumber()
	}
	return nd
}

// newDataNode encodes a node with an inline value of size bytes. The value
// is copied from val when given.
func newDataNode(flags NodeFlags, key []byte, size int, val []byte) node {
	n := make(node, NodeHeaderSize+len(key)+size)
	n[0] = byte(flags | NodeData)
	binary.LittleEndian.PutUint16(n[2:], uint16(len(key)))
	binary.LittleEndian.PutUint32(n[4:], uint32(size))
	copy(n[NodeHeaderSize:], key)
	copy(n[NodeHeaderSize+len(key):], val)
	return n
}

// newRefNode encodes a node pointing to a page.
func newRefNode(flags NodeFlags, key []byte, pageNumber uint64) node {
	n := make(node, NodeHeaderSize+len(key))
	n[0] = byte(flags)
	binary.LittleEndian.PutUint16(n[2:], uint16(len(key)))
	binary.LittleEndian.PutUint64(n[4:], pageNumber)
	copy(n[NodeHeaderSize:], key)
	return n
}

// withKey returns a copy of n with a different key.
func (n node) withKey(key []byte) node {
	if n.inline() {
		return newDataNode(n.flags()&^NodeData, key, n.dataSize(), n.data())
	}
	return newRefNode(n.flags(), key, n.pageNumber())
}

func nodesSize(nodes []node) int {
	sz := 0
	for _, n := range nodes {
		sz += len(n) + 2
	}
	return sz
}
