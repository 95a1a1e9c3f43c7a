package pager

import (
	"github.com/bsm/blitstore"
	"github.com/cockroachdb/errors"
	"github.com/google/btree"
)

// Tx is a transaction. Read transactions may be used concurrently with
// each other, a Tx itself is not safe for concurrent use.
type Tx struct {
	s        *Store
	id       uint64
	meta     meta
	writable bool
	closed   bool

	dirty  map[uint64]*Page
	free   *btree.BTreeG[uint64]
	freed  []uint64
	values map[interface{}]interface{}
	hooks  []func(*Tx) error
}

// ID returns the transaction id. Read transactions return the id of the
// snapshot they see.
func (tx *Tx) ID() uint64 { return tx.id }

// Writable reports whether tx is a write transaction.
func (tx *Tx) Writable() bool { return tx.writable }

// PageSize returns the page size of the store.
func (tx *Tx) PageSize() int { return tx.s.o.PageSize }

// Store returns the store tx belongs to.
func (tx *Tx) Store() *Store { return tx.s }

// HasPage reports whether page n is a data page allocated in the view of
// the transaction.
func (tx *Tx) HasPage(n uint64) bool { return n >= metaPages && n < tx.meta.nextPage }

// GetPage returns page n for reading. The page must not be modified, use
// ModifyPage instead.
func (tx *Tx) GetPage(n uint64) (*Page, error) {
	if tx.closed {
		return nil, blitstore.ErrTxClosed
	}
	if p, ok := tx.dirty[n]; ok {
		return p, nil
	}
	if n < metaPages || n >= tx.meta.nextPage {
		return nil, blitstore.Corruptf("pager: page %d is out of range [%d, %d)", n, metaPages, tx.meta.nextPage)
	}

	data, err := tx.s.readPage(n, tx.id)
	if err != nil {
		return nil, err
	}
	return &Page{Number: n, Data: data}, nil
}

// ModifyPage returns a writable copy of page n. The copy is made once per
// transaction, further calls return the same page.
func (tx *Tx) ModifyPage(n uint64) (*Page, error) {
	if err := tx.checkWritable(); err != nil {
		return nil, err
	}
	if p, ok := tx.dirty[n]; ok {
		return p, nil
	}

	orig, err := tx.GetPage(n)
	if err != nil {
		return nil, err
	}
	data := make([]byte, len(orig.Data))
	copy(data, orig.Data)

	p := &Page{Number: n, Data: data}
	tx.dirty[n] = p
	tx.s.obs.PageModified(n)
	return p, nil
}

// AllocatePage allocates a run of count contiguous pages, reusing free
// pages when possible. Runs of more than one page are flagged as overflow
// pages, covering the whole run.
func (tx *Tx) AllocatePage(count int) (*Page, error) {
	if err := tx.checkWritable(); err != nil {
		return nil, err
	}
	if count < 1 {
		return nil, errors.AssertionFailedf("pager: cannot allocate %d pages", count)
	}

	n, ok := takeRun(tx.free, count)
	if !ok {
		n = tx.meta.nextPage
		tx.meta.nextPage += uint64(count)
	}

	ps := tx.PageSize()
	p := newPage(n, make([]byte, count*ps))
	if count > 1 {
		p.SetFlags(FlagOverflow)
		p.SetOverflowSize(uint32(count*ps - HeaderSize))
	} else {
		p.SetFlags(FlagSingle)
	}

	tx.dirty[n] = p
	tx.s.obs.PageModified(n)
	return p, nil
}

// FreePage releases page n, or the whole run when n heads an overflow run.
// Freed pages can be reused by the next transaction.
func (tx *Tx) FreePage(n uint64) error {
	if err := tx.checkWritable(); err != nil {
		return err
	}

	p, err := tx.GetPage(n)
	if err != nil {
		return err
	}
	count := 1
	if p.IsOverflow() {
		count = p.PageCount(tx.PageSize())
	}

	delete(tx.dirty, n)
	for i := 0; i < count; i++ {
		tx.freed = append(tx.freed, n+uint64(i))
		tx.s.obs.PageFreed(n + uint64(i))
	}
	return nil
}

// ShrinkOverflow shrinks the overflow run headed by page n to hold size
// bytes, freeing trailing pages no longer needed. It returns the modified
// head page.
func (tx *Tx) ShrinkOverflow(n uint64, size int) (*Page, error) {
	p, err := tx.ModifyPage(n)
	if err != nil {
		return nil, err
	}
	if !p.IsOverflow() {
		return nil, errors.AssertionFailedf("pager: page %d is not an overflow page", n)
	}

	ps := tx.PageSize()
	have, need := p.PageCount(ps), OverflowPages(size, ps)
	if need > have {
		return nil, errors.AssertionFailedf("pager: cannot grow overflow run of page %d from %d to %d pages", n, have, need)
	}
	for i := need; i < have; i++ {
		tx.freed = append(tx.freed, n+uint64(i))
		tx.s.obs.PageFreed(n + uint64(i))
	}

	p.Data = p.Data[:need*ps:need*ps]
	p.SetOverflowSize(uint32(size))
	return p, nil
}

// RootState returns the root state stored in the meta page.
func (tx *Tx) RootState() [RootStateSize]byte { return tx.meta.root }

// SetRootState sets the root state to persist with the commit.
func (tx *Tx) SetRootState(state [RootStateSize]byte) error {
	if err := tx.checkWritable(); err != nil {
		return err
	}
	tx.meta.root = state
	return nil
}

// Value returns a value cached within the transaction.
func (tx *Tx) Value(key interface{}) interface{} {
	return tx.values[key]
}

// SetValue caches a value within the transaction.
func (tx *Tx) SetValue(key, value interface{}) {
	if tx.values == nil {
		tx.values = make(map[interface{}]interface{})
	}
	tx.values[key] = value
}

// BeforeCommit registers fn to run on commit, before any page is written.
// Hooks run in reverse order of registration, hooks registered by other
// hooks run too.
func (tx *Tx) BeforeCommit(fn func(*Tx) error) {
	tx.hooks = append(tx.hooks, fn)
}

// Commit commits the transaction. Committing a read transaction releases it.
func (tx *Tx) Commit() error {
	if tx.closed {
		return blitstore.ErrTxClosed
	}
	if !tx.writable {
		tx.close()
		return nil
	}

	for len(tx.hooks) != 0 {
		fn := tx.hooks[len(tx.hooks)-1]
		tx.hooks = tx.hooks[:len(tx.hooks)-1]
		if err := fn(tx); err != nil {
			tx.close()
			return err
		}
	}

	err := tx.s.commit(tx)
	tx.close()
	return err
}

// Rollback discards the transaction. It is a no-op on closed transactions.
func (tx *Tx) Rollback() error {
	if tx.closed {
		return nil
	}
	tx.close()
	return nil
}

func (tx *Tx) close() {
	tx.closed = true
	tx.dirty, tx.free, tx.freed, tx.values, tx.hooks = nil, nil, nil, nil, nil

	if tx.writable {
		tx.s.wmu.Unlock()
	} else {
		tx.s.releaseReader(tx.id)
	}
}

func (tx *Tx) checkWritable() error {
	if tx.closed {
		return blitstore.ErrTxClosed
	}
	if !tx.writable {
		return blitstore.ErrReadOnly
	}
	return nil
}
