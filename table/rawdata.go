package table

import (
	"encoding/binary"

	"github.com/bsm/blitstore"
	"github.com/bsm/blitstore/pager"
	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
)

// Raw data page kinds, stored in the tree flags of pager.FlagRawData pages.
//
//	section header: Aux = data pages, Extra[0:8] = live bytes,
//	                body = data page numbers
//	data page:      Lower = bump cursor, Upper = live bytes, Aux = live rows,
//	                Extra[0:8] = section header, body = entries
//	large value:    overflow run, OverflowSize = row size
//
// Entries of data pages are [u16 allocated][u16 live flag | size] followed
// by the allocated bytes.
const (
	rawSectionHeader uint8 = 1
	rawDataPage      uint8 = 2
	rawLargeValue    uint8 = 3

	rawEntryHeader = 4
	rawLive        = 0x8000
	rawMinSplit    = rawEntryHeader + 8
)

// relocateFunc is called for every row moved out of an evacuated section.
type relocateFunc func(oldID, newID int64, data []byte) error

// rawState is the persisted allocator state.
type rawState struct {
	Active      uint64   `cbor:"1,keyasint,omitempty"`
	Sections    []uint64 `cbor:"2,keyasint,omitempty"`
	Candidates  []uint64 `cbor:"3,keyasint,omitempty"`
	NextSection int      `cbor:"4,keyasint,omitempty"`
	SmallRows   int64    `cbor:"5,keyasint,omitempty"`
	LargeRows   int64    `cbor:"6,keyasint,omitempty"`
	LargePages  int64    `cbor:"7,keyasint,omitempty"`
}

// rawData stores rows. Small rows are packed into the data pages of
// sections, new rows only go to the active section. Rows larger than
// MaxItemSize get their own overflow run.
type rawData struct {
	tx    *pager.Tx
	o     *Options
	log   *zap.Logger
	state rawState
	dirty bool
	hint  int // data page of the active section tried first
}

func newRawData(tx *pager.Tx, o *Options, st rawState) *rawData {
	return &rawData{tx: tx, o: o, log: o.Logger, state: st}
}

func (r *rawData) pageSize() int { return r.tx.PageSize() }

func (r *rawData) split(id int64) (uint64, int) {
	ps := int64(r.pageSize())
	return uint64(id / ps), int(id % ps)
}

// read returns the data stored at id. Ids which do not point at a live entry
// are reported as missing.
func (r *rawData) read(id int64) ([]byte, bool, error) {
	if id <= 0 {
		return nil, false, nil
	}
	n, off := r.split(id)
	if !r.tx.HasPage(n) {
		return nil, false, nil
	}
	p, err := r.tx.GetPage(n)
	if err != nil {
		return nil, false, err
	}

	if off == 0 {
		if p.Flags() != pager.FlagRawData|pager.FlagOverflow || p.TreeFlags() != rawLargeValue {
			return nil, false, nil
		}
		size := int(p.OverflowSize())
		if size > len(p.Body()) {
			return nil, false, blitstore.Corruptf("table: large row at page %d has %d bytes", n, size)
		}
		return p.Body()[:size], true, nil
	}

	dp, ok := asDataPage(p)
	if !ok {
		return nil, false, nil
	}
	e, ok := dp.entry(off)
	if !ok || !e.live {
		return nil, false, nil
	}
	return dp.Data[off+rawEntryHeader : off+rawEntryHeader+e.size], true, nil
}

// insert stores data and returns its id.
func (r *rawData) insert(data []byte) (int64, error) {
	if len(data) > r.o.MaxItemSize {
		return r.insertLarge(data)
	}

	if r.state.Active != 0 {
		if id, ok, err := r.allocateIn(r.state.Active, data); err != nil || ok {
			return id, err
		}
	}
	for i, sec := range r.state.Candidates {
		id, ok, err := r.allocateIn(sec, data)
		if err != nil {
			return 0, err
		}
		if ok {
			r.state.Candidates = append(r.state.Candidates[:i], r.state.Candidates[i+1:]...)
			if err := r.activate(sec); err != nil {
				return 0, err
			}
			return id, nil
		}
	}

	sec, err := r.newSection()
	if err != nil {
		return 0, err
	}
	if err := r.activate(sec); err != nil {
		return 0, err
	}
	id, ok, err := r.allocateIn(sec, data)
	if err != nil {
		return 0, err
	} else if !ok {
		return 0, errors.AssertionFailedf("table: row of %d bytes does not fit into new section %d", len(data), sec)
	}
	return id, nil
}

// update stores data at id if it still fits, otherwise the row moves and the
// new id is returned.
func (r *rawData) update(id int64, data []byte, relocate relocateFunc) (int64, error) {
	n, off := r.split(id)
	large := len(data) > r.o.MaxItemSize

	if off == 0 && large {
		p, err := r.tx.GetPage(n)
		if err != nil {
			return 0, err
		}
		ps := r.pageSize()
		if pager.OverflowPages(len(data), ps) == p.PageCount(ps) {
			if p, err = r.tx.ModifyPage(n); err != nil {
				return 0, err
			}
			copy(p.Body(), data)
			p.SetOverflowSize(uint32(len(data)))
			return id, nil
		}
	} else if off != 0 && !large {
		p, err := r.tx.ModifyPage(n)
		if err != nil {
			return 0, err
		}
		dp, ok := asDataPage(p)
		if !ok {
			return 0, errors.AssertionFailedf("table: row %d is not on a data page", id)
		}
		if e, ok := dp.entry(off); ok && e.live && len(data) <= e.alloc {
			copy(dp.Data[off+rawEntryHeader:], data)
			e.size = len(data)
			dp.setEntry(e)
			return id, nil
		}
	}

	newID, err := r.insert(data)
	if err != nil {
		return 0, err
	}
	return newID, r.delete(id, relocate)
}

// delete frees id. Sections dropping below CompactionDensity are evacuated.
func (r *rawData) delete(id int64, relocate relocateFunc) error {
	n, off := r.split(id)
	if off == 0 {
		return r.deleteLarge(n)
	}

	p, err := r.tx.ModifyPage(n)
	if err != nil {
		return err
	}
	dp, ok := asDataPage(p)
	if !ok {
		return errors.AssertionFailedf("table: row %d is not on a data page", id)
	}
	e, ok := dp.entry(off)
	if !ok || !e.live {
		return errors.AssertionFailedf("table: row %d is not live", id)
	}
	dp.release(e)

	sec := dp.section()
	h, err := r.modifyHeader(sec)
	if err != nil {
		return err
	}
	h.addLive(-int64(rawEntryHeader + e.alloc))
	r.state.SmallRows--
	r.dirty = true

	if sec == r.state.Active {
		return nil
	}
	switch density := h.density(r.pageSize()); {
	case density < r.o.CompactionDensity:
		return r.evacuate(sec, relocate)
	case density < r.o.ReuseDensity && !r.isCandidate(sec):
		r.state.Candidates = append(r.state.Candidates, sec)
	}
	return nil
}

// pages calls fn for every section page.
func (r *rawData) pages(fn func(n uint64) error) error {
	for _, sec := range r.state.Sections {
		h, err := r.header(sec)
		if err != nil {
			return err
		}
		if err := fn(sec); err != nil {
			return err
		}
		for i := 0; i < h.pageCount(); i++ {
			if err := fn(h.dataPage(i)); err != nil {
				return err
			}
		}
	}
	return nil
}

// each calls fn for every small row.
func (r *rawData) each(fn func(id int64, data []byte) error) error {
	for _, sec := range r.state.Sections {
		if err := r.eachIn(sec, fn); err != nil {
			return err
		}
	}
	return nil
}

// --------------------------------------------------------------------

func (r *rawData) insertLarge(data []byte) (int64, error) {
	ps := r.pageSize()
	count := pager.OverflowPages(len(data), ps)
	p, err := r.tx.AllocatePage(count)
	if err != nil {
		return 0, err
	}
	p.SetFlags(pager.FlagRawData | pager.FlagOverflow)
	p.SetTreeFlags(rawLargeValue)
	p.SetOverflowSize(uint32(len(data)))
	copy(p.Body(), data)

	r.state.LargeRows++
	r.state.LargePages += int64(count)
	r.dirty = true
	return int64(p.Number) * int64(ps), nil
}

func (r *rawData) deleteLarge(n uint64) error {
	p, err := r.tx.GetPage(n)
	if err != nil {
		return err
	}
	if p.TreeFlags() != rawLargeValue {
		return errors.AssertionFailedf("table: page %d is not a large row", n)
	}

	r.state.LargeRows--
	r.state.LargePages -= int64(p.PageCount(r.pageSize()))
	r.dirty = true
	return r.tx.FreePage(n)
}

func (r *rawData) allocateIn(sec uint64, data []byte) (int64, bool, error) {
	h, err := r.header(sec)
	if err != nil {
		return 0, false, err
	}

	start, count := 0, h.pageCount()
	if sec == r.state.Active {
		start = r.hint
	}
	for j := 0; j < count; j++ {
		i := (start + j) % count
		n := h.dataPage(i)

		p, err := r.tx.GetPage(n)
		if err != nil {
			return 0, false, err
		}
		if dp, ok := asDataPage(p); !ok {
			return 0, false, blitstore.Corruptf("table: page %d of section %d is not a data page", n, sec)
		} else if dp.spaceLeft() < rawEntryHeader+len(data) {
			continue
		}

		if p, err = r.tx.ModifyPage(n); err != nil {
			return 0, false, err
		}
		dp, _ := asDataPage(p)
		e, ok := dp.allocate(len(data))
		if !ok {
			continue
		}
		copy(dp.Data[e.off+rawEntryHeader:], data)

		mh, err := r.modifyHeader(sec)
		if err != nil {
			return 0, false, err
		}
		mh.addLive(int64(rawEntryHeader + e.alloc))

		if sec == r.state.Active {
			r.hint = i
		}
		r.state.SmallRows++
		r.dirty = true
		return int64(n)*int64(r.pageSize()) + int64(e.off), true, nil
	}
	return 0, false, nil
}

// activate makes sec the active section. The previous active section becomes
// a reuse candidate if it is sparse enough.
func (r *rawData) activate(sec uint64) error {
	if prev := r.state.Active; prev != 0 && prev != sec {
		h, err := r.header(prev)
		if err != nil {
			return err
		}
		if h.density(r.pageSize()) < r.o.ReuseDensity && !r.isCandidate(prev) {
			r.state.Candidates = append(r.state.Candidates, prev)
		}
	}
	r.state.Active = sec
	r.hint = 0
	r.dirty = true
	return nil
}

func (r *rawData) newSection() (uint64, error) {
	pages := r.state.NextSection
	if pages < r.o.InitialSectionPages {
		pages = r.o.InitialSectionPages
	}
	if pages > r.o.MaxSectionPages {
		pages = r.o.MaxSectionPages
	}

	hp, err := r.tx.AllocatePage(1)
	if err != nil {
		return 0, err
	}
	hp.SetFlags(pager.FlagRawData)
	hp.SetTreeFlags(rawSectionHeader)
	hp.SetAux(uint16(pages))

	for i := 0; i < pages; i++ {
		p, err := r.tx.AllocatePage(1)
		if err != nil {
			return 0, err
		}
		p.SetFlags(pager.FlagRawData)
		p.SetTreeFlags(rawDataPage)
		p.SetLower(pager.HeaderSize)
		binary.LittleEndian.PutUint64(p.Extra(), hp.Number)
		binary.LittleEndian.PutUint64(hp.Body()[i*8:], p.Number)
	}

	r.state.Sections = append(r.state.Sections, hp.Number)
	r.state.NextSection = 2 * pages
	r.dirty = true
	r.log.Debug("allocated raw data section",
		zap.Uint64("section", hp.Number),
		zap.Int("pages", pages))
	return hp.Number, nil
}

// evacuate moves all rows out of sec and frees its pages.
func (r *rawData) evacuate(sec uint64, relocate relocateFunc) error {
	r.removeCandidate(sec)

	var moved int
	err := r.eachIn(sec, func(id int64, data []byte) error {
		data = append([]byte(nil), data...)
		newID, err := r.insert(data)
		if err != nil {
			return err
		}
		r.state.SmallRows--
		moved++
		return relocate(id, newID, data)
	})
	if err != nil {
		return err
	}

	h, err := r.header(sec)
	if err != nil {
		return err
	}
	for i := 0; i < h.pageCount(); i++ {
		if err := r.tx.FreePage(h.dataPage(i)); err != nil {
			return err
		}
	}
	if err := r.tx.FreePage(sec); err != nil {
		return err
	}

	for i, n := range r.state.Sections {
		if n == sec {
			r.state.Sections = append(r.state.Sections[:i], r.state.Sections[i+1:]...)
			break
		}
	}
	r.dirty = true
	r.log.Debug("evacuated raw data section",
		zap.Uint64("section", sec),
		zap.Int("moved", moved))
	return nil
}

func (r *rawData) eachIn(sec uint64, fn func(id int64, data []byte) error) error {
	h, err := r.header(sec)
	if err != nil {
		return err
	}

	ps := int64(r.pageSize())
	for i := 0; i < h.pageCount(); i++ {
		p, err := r.tx.GetPage(h.dataPage(i))
		if err != nil {
			return err
		}
		dp, ok := asDataPage(p)
		if !ok {
			return blitstore.Corruptf("table: page %d of section %d is not a data page", p.Number, sec)
		}
		err = dp.each(func(e rawEntry) error {
			if !e.live {
				return nil
			}
			return fn(int64(p.Number)*ps+int64(e.off), dp.Data[e.off+rawEntryHeader:e.off+rawEntryHeader+e.size])
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *rawData) isCandidate(sec uint64) bool {
	for _, n := range r.state.Candidates {
		if n == sec {
			return true
		}
	}
	return false
}

func (r *rawData) removeCandidate(sec uint64) {
	for i, n := range r.state.Candidates {
		if n == sec {
			r.state.Candidates = append(r.state.Candidates[:i], r.state.Candidates[i+1:]...)
			return
		}
	}
}

func (r *rawData) header(sec uint64) (sectionHeader, error) {
	p, err := r.tx.GetPage(sec)
	if err != nil {
		return sectionHeader{}, err
	}
	return asSectionHeader(p, r.pageSize())
}

func (r *rawData) modifyHeader(sec uint64) (sectionHeader, error) {
	p, err := r.tx.ModifyPage(sec)
	if err != nil {
		return sectionHeader{}, err
	}
	return asSectionHeader(p, r.pageSize())
}

// --------------------------------------------------------------------

type sectionHeader struct{ *pager.Page }

func asSectionHeader(p *pager.Page, pageSize int) (sectionHeader, error) {
	h := sectionHeader{Page: p}
	if p.Flags() != pager.FlagRawData || p.TreeFlags() != rawSectionHeader {
		return h, blitstore.Corruptf("table: page %d is not a section header", p.Number)
	}
	if h.pageCount() < 1 || h.pageCount()*8 > len(p.Body()) {
		return h, blitstore.Corruptf("table: section %d has %d pages", p.Number, h.pageCount())
	}
	return h, nil
}

func (h sectionHeader) pageCount() int        { return int(h.Aux()) }
func (h sectionHeader) dataPage(i int) uint64 { return binary.LittleEndian.Uint64(h.Body()[i*8:]) }
func (h sectionHeader) liveBytes() int64       { return int64(binary.LittleEndian.Uint64(h.Extra())) }

func (h sectionHeader) addLive(delta int64) {
	binary.LittleEndian.PutUint64(h.Extra(), uint64(h.liveBytes()+delta))
}

func (h sectionHeader) capacity(pageSize int) int64 {
	return int64(h.pageCount()) * int64(pageSize-pager.HeaderSize)
}

func (h sectionHeader) density(pageSize int) float64 {
	return float64(h.liveBytes()) / float64(h.capacity(pageSize))
}

// --------------------------------------------------------------------

type dataPage struct{ *pager.Page }

type rawEntry struct {
	off, alloc, size int
	live             bool
}

func asDataPage(p *pager.Page) (dataPage, bool) {
	dp := dataPage{Page: p}
	ok := p.Flags() == pager.FlagRawData && p.TreeFlags() == rawDataPage &&
		int(p.Lower()) >= pager.HeaderSize && int(p.Lower()) <= len(p.Data)
	return dp, ok
}

func (p dataPage) section() uint64 { return binary.LittleEndian.Uint64(p.Extra()) }
func (p dataPage) cursor() int     { return int(p.Lower()) }
func (p dataPage) liveBytes() int  { return int(p.Upper()) }
func (p dataPage) liveRows() int   { return int(p.Aux()) }
func (p dataPage) spaceLeft() int  { return len(p.Data) - pager.HeaderSize - p.liveBytes() }

// entry decodes the entry at off.
func (p dataPage) entry(off int) (rawEntry, bool) {
	end := p.cursor()
	if off < pager.HeaderSize || off+rawEntryHeader > end {
		return rawEntry{}, false
	}
	v := binary.LittleEndian.Uint16(p.Data[off+2:])
	e := rawEntry{
		off:   off,
		alloc: int(binary.LittleEndian.Uint16(p.Data[off:])),
		size:  int(v &^ rawLive),
		live:  v&rawLive != 0,
	}
	if e.size > e.alloc || off+rawEntryHeader+e.alloc > end {
		return rawEntry{}, false
	}
	return e, true
}

func (p dataPage) setEntry(e rawEntry) {
	v := uint16(e.size)
	if e.live {
		v |= rawLive
	}
	binary.LittleEndian.PutUint16(p.Data[e.off:], uint16(e.alloc))
	binary.LittleEndian.PutUint16(p.Data[e.off+2:], v)
}

// each calls fn for every entry below the cursor.
func (p dataPage) each(fn func(rawEntry) error) error {
	for off := pager.HeaderSize; off < p.cursor(); {
		e, ok := p.entry(off)
		if !ok {
			return blitstore.Corruptf("table: bad entry at offset %d of page %d", off, p.Number)
		}
		if err := fn(e); err != nil {
			return err
		}
		off += rawEntryHeader + e.alloc
	}
	return nil
}

// allocate reserves size bytes, reusing the first free entry large enough
// before bumping the cursor.
func (p dataPage) allocate(size int) (rawEntry, bool) {
	for off := pager.HeaderSize; off < p.cursor(); {
		e, ok := p.entry(off)
		if !ok {
			break
		}
		if !e.live && e.alloc >= size {
			if rest := e.alloc - size; rest >= rawMinSplit {
				p.setEntry(rawEntry{off: off + rawEntryHeader + size, alloc: rest - rawEntryHeader})
				e.alloc = size
			}
			e.size, e.live = size, true
			p.setEntry(e)
			p.use(e, 1)
			return e, true
		}
		off += rawEntryHeader + e.alloc
	}

	off := p.cursor()
	if off+rawEntryHeader+size > len(p.Data) {
		return rawEntry{}, false
	}
	e := rawEntry{off: off, alloc: size, size: size, live: true}
	p.SetLower(uint16(off + rawEntryHeader + size))
	p.setEntry(e)
	p.use(e, 1)
	return e, true
}

// release frees an entry and merges adjacent free entries.
func (p dataPage) release(e rawEntry) {
	p.use(e, -1)
	e.size, e.live = 0, false
	p.setEntry(e)
	p.coalesce()
}

func (p dataPage) use(e rawEntry, sign int) {
	p.SetAux(uint16(p.liveRows() + sign))
	p.SetUpper(uint16(p.liveBytes() + sign*(rawEntryHeader+e.alloc)))
}

// coalesce merges runs of free entries and moves the cursor back over a
// trailing free run.
func (p dataPage) coalesce() {
	run := -1
	for off := pager.HeaderSize; off < p.cursor(); {
		e, ok := p.entry(off)
		if !ok {
			return
		}
		next := off + rawEntryHeader + e.alloc

		switch {
		case e.live:
			run = -1
		case run < 0:
			run = off
		default:
			head, _ := p.entry(run)
			head.alloc += rawEntryHeader + e.alloc
			p.setEntry(head)
		}
		off = next
	}
	if run >= 0 {
		p.SetLower(uint16(run))
	}
}
