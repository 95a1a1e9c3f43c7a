package pager

import (
	"sort"
	"sync"

	"github.com/bsm/blitstore"
	"github.com/cockroachdb/errors"
	"github.com/google/btree"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var errClosed = errors.New("pager: store is closed")

// version is a page image that was replaced by the commit of transaction
// validUntil. Readers with an older snapshot still see it.
type version struct {
	validUntil uint64
	data       []byte
}

// Store is a paged store. It supports one write transaction and any number
// of concurrent read transactions.
type Store struct {
	o   *Options
	log *zap.Logger
	obs Observer

	wmu sync.Mutex // held by the active write transaction

	mu      sync.Mutex
	backend backend
	meta    *meta
	free    *btree.BTreeG[uint64]
	chains  map[uint64][]version
	readers map[uint64]int
	err     error
	closed  bool
}

// NewMemoryStore creates a store that keeps all pages in memory.
func NewMemoryStore(o *Options) (*Store, error) {
	o = o.norm()
	if !validPageSize(o.PageSize) {
		return nil, errors.Newf("pager: invalid page size %d", o.PageSize)
	}

	s := newStore(o, newMemoryBackend(o.PageSize))
	m := s.initMeta()
	if err := s.backend.write(0, s.metaWrites(m)); err != nil {
		return nil, err
	}
	s.meta = m
	return s, nil
}

// OpenFile opens a file backed store at path, creating it if it does not
// exist. A journal is kept next to it, at path + "-journal".
func OpenFile(path string, o *Options) (*Store, error) {
	o = o.norm()
	if !validPageSize(o.PageSize) {
		return nil, errors.Newf("pager: invalid page size %d", o.PageSize)
	}

	b, m, err := openFileBackend(path, o)
	if err != nil {
		return nil, err
	}

	if m != nil && m.pageSize != o.PageSize {
		o.Logger.Debug("pager: using page size of existing file", zap.Int("page_size", m.pageSize))
		o.PageSize = m.pageSize
	}

	s := newStore(o, b)
	if m == nil {
		m = s.initMeta()
		if err := b.init(o.PageSize, s.metaWrites(m)); err != nil {
			_ = b.close()
			return nil, err
		}
	} else if err := s.loadFreeList(m); err != nil {
		_ = b.close()
		return nil, err
	}
	s.meta = m

	s.log.Debug("pager: opened",
		zap.String("path", path),
		zap.Stringer("id", m.storeID),
		zap.Uint64("tx", m.txID),
		zap.Uint64("pages", m.nextPage),
	)
	return s, nil
}

func newStore(o *Options, b backend) *Store {
	return &Store{
		o:       o,
		log:     o.Logger,
		obs:     o.observer(),
		backend: b,
		free:    btree.NewOrderedG[uint64](16),
		chains:  make(map[uint64][]version),
		readers: make(map[uint64]int),
	}
}

func (s *Store) initMeta() *meta {
	return &meta{
		pageSize: s.o.PageSize,
		nextPage: metaPages,
		storeID:  uuid.New(),
	}
}

// metaWrites returns both meta pages holding m.
func (s *Store) metaWrites(m *meta) []pageWrite {
	writes := make([]pageWrite, 0, metaPages)
	for n := uint64(0); n < metaPages; n++ {
		data := make([]byte, s.o.PageSize)
		m.encode(data, n)
		writes = append(writes, pageWrite{n: n, data: data})
	}
	return writes
}

// ID returns the unique id of the store.
func (s *Store) ID() uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.meta.storeID
}

// PageSize returns the page size.
func (s *Store) PageSize() int { return s.o.PageSize }

// BeginRead starts a read transaction on the last committed snapshot.
func (s *Store) BeginRead() (*Tx, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, errClosed
	}
	m := *s.meta
	s.readers[m.txID]++
	return &Tx{s: s, id: m.txID, meta: m}, nil
}

// BeginWrite starts the write transaction. It blocks while another write
// transaction is active.
func (s *Store) BeginWrite() (*Tx, error) {
	s.wmu.Lock()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		s.wmu.Unlock()
		return nil, errClosed
	}
	if s.err != nil {
		s.wmu.Unlock()
		return nil, s.err
	}

	m := *s.meta
	return &Tx{
		s:        s,
		id:       m.txID + 1,
		meta:     m,
		writable: true,
		dirty:    make(map[uint64]*Page),
		free:     s.free.Clone(),
	}, nil
}

// View runs fn in a read transaction.
func (s *Store) View(fn func(*Tx) error) error {
	tx, err := s.BeginRead()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	return fn(tx)
}

// Update runs fn in a write transaction and commits it if fn succeeds.
func (s *Store) Update(fn func(*Tx) error) error {
	tx, err := s.BeginWrite()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// Close closes the store. Open transactions must be finished first.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	s.chains = nil
	return s.backend.close()
}

// Stats contain store statistics.
type Stats struct {
	TxID           uint64 // last committed transaction
	PageSize       int
	NextPage       uint64 // first page number never allocated
	FreePages      int    // pages available for reuse
	Readers        int    // active read transactions
	VersionedPages int    // pages with images kept for older readers
}

// Stats returns current statistics.
func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Stats{
		TxID:           s.meta.txID,
		PageSize:       s.o.PageSize,
		NextPage:       s.meta.nextPage,
		FreePages:      s.free.Len(),
		VersionedPages: len(s.chains),
	}
	for _, n := range s.readers {
		st.Readers += n
	}
	return st
}

// --------------------------------------------------------------------

// readPage returns the image of page n as seen by snapshot txID.
func (s *Store) readPage(n, txID uint64) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, errClosed
	}
	for _, v := range s.chains[n] {
		if v.validUntil > txID {
			if v.data == nil {
				return nil, blitstore.Corruptf("pager: page %d did not exist in snapshot %d", n, txID)
			}
			return v.data, nil
		}
	}
	return s.backend.read(n)
}

func (s *Store) releaseReader(txID uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.readers[txID]--; s.readers[txID] <= 0 {
		delete(s.readers, txID)
	}
	s.pruneVersions()
}

// pruneVersions drops page images no reader can see any more. Must be called
// under lock.
func (s *Store) pruneVersions() {
	if len(s.readers) == 0 {
		for n := range s.chains {
			delete(s.chains, n)
		}
		return
	}

	oldest := ^uint64(0)
	for txID := range s.readers {
		if txID < oldest {
			oldest = txID
		}
	}
	for n, chain := range s.chains {
		i := sort.Search(len(chain), func(i int) bool { return chain[i].validUntil > oldest })
		if i == len(chain) {
			delete(s.chains, n)
		} else if i > 0 {
			s.chains[n] = chain[i:]
		}
	}
}

// commit persists the pages of a write transaction.
func (s *Store) commit(tx *Tx) error {
	free := tx.free
	for _, n := range tx.freed {
		free.ReplaceOrInsert(n)
	}

	writes := s.writeFreeList(tx, free)
	for n, p := range tx.dirty {
		writes = append(writes, pageWrite{n: n, data: p.Data})
	}
	sort.Slice(writes, func(i, j int) bool { return writes[i].n < writes[j].n })

	m := tx.meta
	m.txID = tx.id
	metaData := make([]byte, s.o.PageSize)
	m.encode(metaData, m.slot())
	writes = append(writes, pageWrite{n: m.slot(), data: metaData})

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errClosed
	}
	if len(s.readers) != 0 {
		s.preserveVersions(tx.id, writes)
	}
	if err := s.backend.write(tx.id, writes); err != nil {
		s.err = err
		return err
	}

	s.meta = &m
	s.free = free
	s.pruneVersions()

	s.log.Debug("pager: committed",
		zap.Uint64("tx", m.txID),
		zap.Int("pages", len(writes)),
		zap.Int("freed", len(tx.freed)),
	)
	return nil
}

// preserveVersions keeps the current images of all pages overwritten by
// transaction txID. Must be called under lock.
func (s *Store) preserveVersions(txID uint64, writes []pageWrite) {
	for _, w := range writes {
		if w.n < metaPages {
			continue
		}
		for i := 0; i < w.count(s.o.PageSize); i++ {
			n := w.n + uint64(i)
			if n >= s.meta.nextPage {
				break
			}

			// interior pages of old runs cannot be read on their own
			data, _ := s.backend.read(n)
			s.chains[n] = append(s.chains[n], version{validUntil: txID, data: data})
		}
	}
}
