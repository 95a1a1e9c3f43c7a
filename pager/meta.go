package pager

import (
	"bytes"
	"encoding/binary"

	"github.com/bsm/blitstore"
	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
)

// RootStateSize is the size of the root tree state kept in the meta page.
const RootStateSize = 64

const (
	metaVersion = 1
	metaPages   = 2 // pages 0 and 1

	offMagic         = HeaderSize
	offVersion       = offMagic + 8
	offPageSize      = offVersion + 4
	offTxID          = offPageSize + 4
	offNextPage      = offTxID + 8
	offFreeListPage  = offNextPage + 8
	offFreeListPages = offFreeListPage + 8
	offFreeListCount = offFreeListPages + 4
	offStoreID       = offFreeListCount + 4
	offRootState     = offStoreID + 16
	offChecksum      = offRootState + RootStateSize
	metaSize         = offChecksum + 8
)

var metaMagic = []byte("BLITSTOR")

// meta is the decoded state of a meta page.
type meta struct {
	pageSize      int
	txID          uint64
	nextPage      uint64
	freeListPage  uint64
	freeListPages uint32
	freeListCount uint32
	storeID       uuid.UUID
	root          [RootStateSize]byte
}

func (m *meta) slot() uint64 { return m.txID % metaPages }

// encode writes m into the meta page buffer data, stamped with page number n.
func (m *meta) encode(data []byte, n uint64) {
	for i := range data[:metaSize] {
		data[i] = 0
	}
	p := newPage(n, data)
	p.SetFlags(FlagMeta)

	copy(data[offMagic:], metaMagic)
	binary.LittleEndian.PutUint32(data[offVersion:], metaVersion)
	binary.LittleEndian.PutUint32(data[offPageSize:], uint32(m.pageSize))
	binary.LittleEndian.PutUint64(data[offTxID:], m.txID)
	binary.LittleEndian.PutUint64(data[offNextPage:], m.nextPage)
	binary.LittleEndian.PutUint64(data[offFreeListPage:], m.freeListPage)
	binary.LittleEndian.PutUint32(data[offFreeListPages:], m.freeListPages)
	binary.LittleEndian.PutUint32(data[offFreeListCount:], m.freeListCount)
	copy(data[offStoreID:], m.storeID[:])
	copy(data[offRootState:], m.root[:])
	binary.LittleEndian.PutUint64(data[offChecksum:], xxhash.Sum64(data[:offChecksum]))
}

func decodeMeta(data []byte) (*meta, error) {
	if len(data) < metaSize {
		return nil, blitstore.Corruptf("pager: meta page of %d bytes is too short", len(data))
	}
	if !bytes.Equal(data[offMagic:offMagic+8], metaMagic) {
		return nil, blitstore.Corruptf("pager: bad meta page magic")
	}
	if sum := binary.LittleEndian.Uint64(data[offChecksum:]); sum != xxhash.Sum64(data[:offChecksum]) {
		return nil, blitstore.Corruptf("pager: meta page checksum mismatch")
	}
	if v := binary.LittleEndian.Uint32(data[offVersion:]); v != metaVersion {
		return nil, blitstore.Corruptf("pager: unsupported format version %d", v)
	}

	m := &meta{
		pageSize:      int(binary.LittleEndian.Uint32(data[offPageSize:])),
		txID:          binary.LittleEndian.Uint64(data[offTxID:]),
		nextPage:      binary.LittleEndian.Uint64(data[offNextPage:]),
		freeListPage:  binary.LittleEndian.Uint64(data[offFreeListPage:]),
		freeListPages: binary.LittleEndian.Uint32(data[offFreeListPages:]),
		freeListCount: binary.LittleEndian.Uint32(data[offFreeListCount:]),
	}
	copy(m.storeID[:], data[offStoreID:])
	copy(m.root[:], data[offRootState:])

	if !validPageSize(m.pageSize) {
		return nil, blitstore.Corruptf("pager: invalid page size %d", m.pageSize)
	}
	if m.nextPage < metaPages {
		return nil, blitstore.Corruptf("pager: invalid next page %d", m.nextPage)
	}
	return m, nil
}

// pickMeta returns the valid meta page with the highest transaction id.
func pickMeta(a, b []byte) (*meta, error) {
	m0, err0 := decodeMeta(a)
	m1, err1 := decodeMeta(b)
	switch {
	case err0 != nil && err1 != nil:
		return nil, err0
	case err0 != nil:
		return m1, nil
	case err1 != nil:
		return m0, nil
	case m1.txID > m0.txID:
		return m1, nil
	default:
		return m0, nil
	}
}

func validPageSize(n int) bool {
	return n >= MinPageSize && n <= MaxPageSize && n&(n-1) == 0
}
