package pager

import (
	"encoding/binary"
	"io"
	"os"

	"github.com/bsm/blitstore"
	"github.com/cespare/xxhash/v2"
	"github.com/cockroachdb/errors"
	"github.com/edsrzf/mmap-go"
	"github.com/golang/snappy"
	"go.uber.org/zap"
)

const (
	journalSuffix     = "-journal"
	journalHeaderSize = 24
)

var journalMagic = []byte("BLJ1")

var errCrashed = errors.New("pager: simulated crash")

// fileBackend keeps pages in a data file. Commits are appended to a redo
// journal and synced before they are applied to the data file. Reads go
// through a read-only memory map into a bounded page cache.
type fileBackend struct {
	log      *zap.Logger
	pageSize int
	noSync   bool

	f    *os.File
	size int64
	mm   mmap.MMap

	j          *os.File
	jsize      int64
	jmax       int64
	journalBuf []byte

	cache    map[uint64][]byte
	cacheMax int

	// crashAfterJournal makes the next write stop right after the journal
	// record was synced and leave the store unusable.
	crashAfterJournal bool
}

// openFileBackend opens the data file and its journal. It returns the last
// committed meta, or nil when the file is new.
func openFileBackend(path string, o *Options) (*fileBackend, *meta, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, nil, err
	}
	j, err := os.OpenFile(path+journalSuffix, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		_ = f.Close()
		return nil, nil, err
	}

	b := &fileBackend{
		log:      o.Logger,
		pageSize: o.PageSize,
		noSync:   o.NoSync,
		f:        f,
		j:        j,
		jmax:     o.JournalMaxSize,
		cache:    make(map[uint64][]byte),
		cacheMax: o.CachePages,
	}

	m, err := b.open()
	if err != nil {
		_ = b.close()
		return nil, nil, err
	}
	return b, m, nil
}

func (b *fileBackend) open() (*meta, error) {
	fi, err := b.f.Stat()
	if err != nil {
		return nil, err
	}
	b.size = fi.Size()
	if b.size == 0 {
		return nil, nil
	}

	m, err := b.readMeta()
	if err != nil {
		return nil, err
	}
	b.pageSize = m.pageSize

	replayed, err := b.replay(m.txID)
	if err != nil {
		return nil, err
	}
	if replayed != 0 {
		if m, err = b.readMeta(); err != nil {
			return nil, err
		}
		b.log.Debug("pager: replayed journal", zap.Int("records", replayed), zap.Uint64("tx", m.txID))
	}
	return m, nil
}

// init writes the initial meta pages of a new file.
func (b *fileBackend) init(pageSize int, pages []pageWrite) error {
	b.pageSize = pageSize
	for _, w := range pages {
		if _, err := b.f.WriteAt(w.data, int64(w.n)*int64(pageSize)); err != nil {
			return err
		}
	}
	b.size = int64(len(pages) * pageSize)
	return b.sync(b.f)
}

func (b *fileBackend) readMeta() (*meta, error) {
	readAt := func(off int64) []byte {
		buf := make([]byte, metaSize)
		if _, err := b.f.ReadAt(buf, off); err != nil {
			return nil
		}
		return buf
	}

	m0, err := decodeMeta(readAt(0))
	if err == nil {
		return pickMeta(readAt(0), readAt(int64(m0.pageSize)))
	}

	// page 0 is damaged, try the possible positions of page 1
	for ps := MinPageSize; ps <= MaxPageSize; ps *= 2 {
		if m1, err1 := decodeMeta(readAt(int64(ps))); err1 == nil && m1.pageSize == ps {
			return m1, nil
		}
	}
	return nil, err
}

func (b *fileBackend) read(n uint64) ([]byte, error) {
	if data, ok := b.cache[n]; ok {
		return data, nil
	}

	ps := int64(b.pageSize)
	off := int64(n) * ps
	if off+ps > b.size {
		return nil, blitstore.Corruptf("pager: page %d is beyond the end of the file", n)
	}
	if off+ps > int64(len(b.mm)) {
		if err := b.remap(); err != nil {
			return nil, err
		}
	}

	count := 1
	if hdr := b.mm[off : off+HeaderSize]; PageFlags(hdr[offFlags])&FlagOverflow != 0 {
		count = OverflowPages(int(binary.LittleEndian.Uint32(hdr[offOverflowSize:])), b.pageSize)
	}
	end := off + int64(count)*ps
	if end > b.size {
		return nil, blitstore.Corruptf("pager: overflow run at page %d exceeds the file", n)
	}

	data := make([]byte, end-off)
	copy(data, b.mm[off:end])
	if num := readNumber(data); num != n {
		return nil, blitstore.Corruptf("pager: page %d holds header of page %d", n, num)
	}

	b.cachePut(n, data)
	return data, nil
}

func (b *fileBackend) write(txID uint64, pages []pageWrite) error {
	rec := b.encodeRecord(txID, pages)
	if _, err := b.j.WriteAt(rec, b.jsize); err != nil {
		return errors.Wrap(err, "pager: write journal")
	}
	if err := b.sync(b.j); err != nil {
		return errors.Wrap(err, "pager: sync journal")
	}
	b.jsize += int64(len(rec))

	if b.crashAfterJournal {
		_ = b.closeFiles()
		return errCrashed
	}

	if err := b.apply(pages); err != nil {
		return err
	}
	if b.jsize >= b.jmax {
		return b.checkpoint()
	}
	return nil
}

func (b *fileBackend) apply(pages []pageWrite) error {
	ps := int64(b.pageSize)
	for _, w := range pages {
		off := int64(w.n) * ps
		if _, err := b.f.WriteAt(w.data, off); err != nil {
			return errors.Wrapf(err, "pager: write page %d", w.n)
		}
		if end := off + int64(len(w.data)); end > b.size {
			b.size = end
		}

		for i := 1; i < w.count(b.pageSize); i++ {
			delete(b.cache, w.n+uint64(i))
		}
		if w.n < metaPages {
			delete(b.cache, w.n)
		} else {
			b.cachePut(w.n, w.data)
		}
	}
	return nil
}

// checkpoint syncs the data file and truncates the journal.
func (b *fileBackend) checkpoint() error {
	if err := b.sync(b.f); err != nil {
		return errors.Wrap(err, "pager: sync data file")
	}
	if err := b.j.Truncate(0); err != nil {
		return errors.Wrap(err, "pager: truncate journal")
	}
	b.log.Debug("pager: checkpoint", zap.Int64("journal", b.jsize))
	b.jsize = 0
	return nil
}

func (b *fileBackend) encodeRecord(txID uint64, pages []pageWrite) []byte {
	raw := b.journalBuf[:0]
	raw = binary.AppendUvarint(raw, uint64(len(pages)))
	for _, w := range pages {
		raw = binary.AppendUvarint(raw, w.n)
		raw = binary.AppendUvarint(raw, uint64(w.count(b.pageSize)))
		raw = append(raw, w.data...)
	}
	b.journalBuf = raw

	payload := snappy.Encode(nil, raw)
	rec := make([]byte, journalHeaderSize, journalHeaderSize+len(payload))
	copy(rec, journalMagic)
	binary.LittleEndian.PutUint64(rec[4:], txID)
	binary.LittleEndian.PutUint32(rec[12:], uint32(len(payload)))
	binary.LittleEndian.PutUint64(rec[16:], xxhash.Sum64(payload))
	return append(rec, payload...)
}

// replay applies all intact journal records newer than txID and truncates
// the journal. A torn record ends the journal.
func (b *fileBackend) replay(txID uint64) (int, error) {
	var (
		off     int64
		applied int
		hdr     = make([]byte, journalHeaderSize)
	)
	for {
		if _, err := b.j.ReadAt(hdr, off); err != nil {
			if err == io.EOF {
				break
			}
			return applied, err
		}
		if string(hdr[:4]) != string(journalMagic) {
			break
		}

		recTx := binary.LittleEndian.Uint64(hdr[4:])
		payload := make([]byte, binary.LittleEndian.Uint32(hdr[12:]))
		if _, err := b.j.ReadAt(payload, off+journalHeaderSize); err != nil {
			break
		}
		if xxhash.Sum64(payload) != binary.LittleEndian.Uint64(hdr[16:]) {
			break
		}
		off += journalHeaderSize + int64(len(payload))

		if recTx <= txID {
			continue
		}
		raw, err := snappy.Decode(nil, payload)
		if err != nil {
			return applied, blitstore.Corruptf("pager: journal record of tx %d: %v", recTx, err)
		}
		pages, err := b.decodeRecord(raw)
		if err != nil {
			return applied, err
		}
		if err := b.apply(pages); err != nil {
			return applied, err
		}
		applied++
	}

	if applied != 0 {
		if err := b.sync(b.f); err != nil {
			return applied, err
		}
	}
	return applied, b.j.Truncate(0)
}

func (b *fileBackend) decodeRecord(raw []byte) ([]pageWrite, error) {
	next := func() (uint64, bool) {
		v, n := binary.Uvarint(raw)
		if n <= 0 {
			return 0, false
		}
		raw = raw[n:]
		return v, true
	}

	num, ok := next()
	if !ok {
		return nil, blitstore.Corruptf("pager: bad journal record")
	}
	pages := make([]pageWrite, 0, num)
	for i := uint64(0); i < num; i++ {
		n, ok1 := next()
		count, ok2 := next()
		size := count * uint64(b.pageSize)
		if !ok1 || !ok2 || count == 0 || size > uint64(len(raw)) {
			return nil, blitstore.Corruptf("pager: bad journal entry %d", i)
		}
		pages = append(pages, pageWrite{n: n, data: raw[:size:size]})
		raw = raw[size:]
	}
	return pages, nil
}

func (b *fileBackend) remap() error {
	if b.mm != nil {
		if err := b.mm.Unmap(); err != nil {
			return err
		}
		b.mm = nil
	}
	mm, err := mmap.MapRegion(b.f, int(b.size), mmap.RDONLY, 0, 0)
	if err != nil {
		return errors.Wrap(err, "pager: mmap")
	}
	b.mm = mm
	b.log.Debug("pager: remapped", zap.Int64("size", b.size))
	return nil
}

func (b *fileBackend) cachePut(n uint64, data []byte) {
	if len(b.cache) >= b.cacheMax {
		drop := len(b.cache)/4 + 1
		for k := range b.cache {
			if drop--; drop < 0 {
				break
			}
			delete(b.cache, k)
		}
	}
	b.cache[n] = data
}

func (b *fileBackend) sync(f *os.File) error {
	if b.noSync {
		return nil
	}
	return f.Sync()
}

func (b *fileBackend) close() error {
	if b.f == nil {
		return nil
	}
	err := b.checkpoint()
	if e := b.closeFiles(); err == nil {
		err = e
	}
	return err
}

func (b *fileBackend) closeFiles() error {
	var err error
	if b.mm != nil {
		err = b.mm.Unmap()
		b.mm = nil
	}
	if e := b.j.Close(); err == nil {
		err = e
	}
	if e := b.f.Close(); err == nil {
		err = e
	}
	b.f, b.j, b.cache = nil, nil, nil
	return err
}
