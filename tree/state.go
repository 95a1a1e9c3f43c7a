package tree

import (
	"encoding/binary"

	"github.com/bsm/blitstore"
	"github.com/bsm/blitstore/pager"
)

// StateSize is the encoded size of a tree state.
const StateSize = pager.RootStateSize

const stateMarker = 'T'

// Flags configure a tree.
type Flags uint8

// Tree flags.
const (
	// LeafsCompressed allows full leaves to be compressed before they are
	// split.
	LeafsCompressed Flags = 1 << 0
)

// State is the persisted state of a tree.
type State struct {
	RootPage        uint64
	Flags           Flags
	Depth           int
	NumberOfEntries int64
	BranchPages     int64
	LeafPages       int64
	OverflowPages   int64
}

// PageCount returns the total number of pages used by the tree, not
// counting nested fixed-size trees.
func (s State) PageCount() int64 { return s.BranchPages + s.LeafPages + s.OverflowPages }

func (s *State) encode() [StateSize]byte {
	var b [StateSize]byte
	b[0] = stateMarker
	b[1] = byte(s.Flags)
	binary.LittleEndian.PutUint32(b[2:], uint32(s.Depth))
	binary.LittleEndian.PutUint64(b[8:], s.RootPage)
	binary.LittleEndian.PutUint64(b[16:], uint64(s.NumberOfEntries))
	binary.LittleEndian.PutUint64(b[24:], uint64(s.BranchPages))
	binary.LittleEndian.PutUint64(b[32:], uint64(s.LeafPages))
	binary.LittleEndian.PutUint64(b[40:], uint64(s.OverflowPages))
	return b
}

// decodeState decodes a state. An all-zero buffer is an empty tree.
func decodeState(b []byte) (State, error) {
	if len(b) != StateSize {
		return State{}, blitstore.Corruptf("tree: state of %d bytes", len(b))
	}
	switch b[0] {
	case 0:
		return State{}, nil
	case stateMarker:
	default:
		return State{}, blitstore.Corruptf("tree: bad state marker %x", b[0])
	}

	s := State{
		Flags:           Flags(b[1]),
		Depth:           int(binary.LittleEndian.Uint32(b[2:])),
		RootPage:        binary.LittleEndian.Uint64(b[8:]),
		NumberOfEntries: int64(binary.LittleEndian.Uint64(b[16:])),
		BranchPages:     int64(binary.LittleEndian.Uint64(b[24:])),
		LeafPages:       int64(binary.LittleEndian.Uint64(b[32:])),
		OverflowPages:   int64(binary.LittleEndian.Uint64(b[40:])),
	}
	if (s.RootPage == 0) != (s.Depth == 0) {
		return State{}, blitstore.Corruptf("tree: root page %d at depth %d", s.RootPage, s.Depth)
	}
	return s, nil
}
