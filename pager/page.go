package pager

import "encoding/binary"

// HeaderSize is the size of the header at the start of every page.
const HeaderSize = 32

// PageFlags describe the page type.
type PageFlags uint8

// Page types.
const (
	FlagSingle    PageFlags = 1 << 0
	FlagOverflow  PageFlags = 1 << 1
	FlagTree      PageFlags = 1 << 2
	FlagFixedTree PageFlags = 1 << 3
	FlagRawData   PageFlags = 1 << 4
	FlagMeta      PageFlags = 1 << 5
	FlagFreeList  PageFlags = 1 << 6
)

// Header offsets.
const (
	offNumber       = 0
	offFlags        = 8
	offTreeFlags    = 9
	offLower        = 10
	offUpper        = 12
	offAux          = 14
	offOverflowSize = 16
	offExtra        = 20
)

// Page is a single page or the head of an overflow run. Data spans all pages
// of the run.
type Page struct {
	Number uint64
	Data   []byte
}

func newPage(n uint64, data []byte) *Page {
	p := &Page{Number: n, Data: data}
	binary.LittleEndian.PutUint64(data[offNumber:], n)
	return p
}

// Flags returns the page type flags.
func (p *Page) Flags() PageFlags { return PageFlags(p.Data[offFlags]) }

// SetFlags sets the page type flags.
func (p *Page) SetFlags(f PageFlags) { p.Data[offFlags] = byte(f) }

// IsOverflow reports whether the page heads an overflow run.
func (p *Page) IsOverflow() bool { return p.Flags()&FlagOverflow != 0 }

// TreeFlags returns the flags owned by the tree layer.
func (p *Page) TreeFlags() uint8 { return p.Data[offTreeFlags] }

// SetTreeFlags sets the flags owned by the tree layer.
func (p *Page) SetTreeFlags(f uint8) { p.Data[offTreeFlags] = f }

// Lower returns the end of the slot array.
func (p *Page) Lower() uint16 { return binary.LittleEndian.Uint16(p.Data[offLower:]) }

// SetLower sets the end of the slot array.
func (p *Page) SetLower(v uint16) { binary.LittleEndian.PutUint16(p.Data[offLower:], v) }

// Upper returns the start of the node data area.
func (p *Page) Upper() uint16 { return binary.LittleEndian.Uint16(p.Data[offUpper:]) }

// SetUpper sets the start of the node data area.
func (p *Page) SetUpper(v uint16) { binary.LittleEndian.PutUint16(p.Data[offUpper:], v) }

// Aux returns the auxiliary header field.
func (p *Page) Aux() uint16 { return binary.LittleEndian.Uint16(p.Data[offAux:]) }

// SetAux sets the auxiliary header field.
func (p *Page) SetAux(v uint16) { binary.LittleEndian.PutUint16(p.Data[offAux:], v) }

// OverflowSize returns the number of value bytes of an overflow run.
func (p *Page) OverflowSize() uint32 { return binary.LittleEndian.Uint32(p.Data[offOverflowSize:]) }

// SetOverflowSize sets the number of value bytes of an overflow run.
func (p *Page) SetOverflowSize(v uint32) {
	binary.LittleEndian.PutUint32(p.Data[offOverflowSize:], v)
}

// Extra returns the 12 spare header bytes available to the layer above.
func (p *Page) Extra() []byte { return p.Data[offExtra:HeaderSize] }

// Body returns everything after the header.
func (p *Page) Body() []byte { return p.Data[HeaderSize:] }

// PageCount returns the number of pages spanned by p.
func (p *Page) PageCount(pageSize int) int { return len(p.Data) / pageSize }

// OverflowPages returns the number of pages needed to hold size bytes behind
// a page header.
func OverflowPages(size, pageSize int) int {
	return (HeaderSize + size + pageSize - 1) / pageSize
}

func readNumber(data []byte) uint64 { return binary.LittleEndian.Uint64(data[offNumber:]) }
