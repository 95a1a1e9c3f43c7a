package pager_test

import (
	"bytes"
	"os"
	"path/filepath"
	"sync"

	"github.com/bsm/blitstore"
	"github.com/bsm/blitstore/pager"
	"github.com/cockroachdb/errors"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var _ = Describe("Store", func() {
	var subject *pager.Store
	var observer *recordingObserver

	BeforeEach(func() {
		observer = new(recordingObserver)

		var err error
		subject, err = pager.NewMemoryStore(&pager.Options{Observer: observer})
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		Expect(subject.Close()).To(Succeed())
	})

	It("should validate options", func() {
		_, err := pager.NewMemoryStore(&pager.Options{PageSize: 1000})
		Expect(err).To(MatchError(ContainSubstring("invalid page size")))

		_, err = pager.NewMemoryStore(&pager.Options{PageSize: 65536})
		Expect(err).To(HaveOccurred())
	})

	It("should commit pages", func() {
		var n uint64
		Expect(subject.Update(func(tx *pager.Tx) error {
			n = writePage(tx, "hello")
			return nil
		})).To(Succeed())
		Expect(n).To(Equal(uint64(2)))

		Expect(subject.View(func(tx *pager.Tx) error {
			Expect(tx.Writable()).To(BeFalse())
			Expect(readPage(tx, n, 5)).To(Equal("hello"))
			return nil
		})).To(Succeed())

		Expect(subject.Stats()).To(Equal(pager.Stats{
			TxID:     1,
			PageSize: 4096,
			NextPage: 3,
		}))
	})

	It("should isolate snapshots", func() {
		var n uint64
		Expect(subject.Update(func(tx *pager.Tx) error {
			n = writePage(tx, "v1")
			return nil
		})).To(Succeed())

		old, err := subject.BeginRead()
		Expect(err).NotTo(HaveOccurred())

		var added uint64
		Expect(subject.Update(func(tx *pager.Tx) error {
			p, err := tx.ModifyPage(n)
			Expect(err).NotTo(HaveOccurred())
			copy(p.Body(), "v2")
			Expect(readPage(tx, n, 2)).To(Equal("v2"))

			added = writePage(tx, "new")
			return nil
		})).To(Succeed())

		Expect(readPage(old, n, 2)).To(Equal("v1"))
		_, err = old.GetPage(added)
		Expect(blitstore.IsCorrupted(err)).To(BeTrue())
		Expect(subject.Stats().VersionedPages).To(Equal(1))

		cur, err := subject.BeginRead()
		Expect(err).NotTo(HaveOccurred())
		Expect(readPage(cur, n, 2)).To(Equal("v2"))
		Expect(readPage(cur, added, 3)).To(Equal("new"))
		Expect(subject.Stats().Readers).To(Equal(2))

		Expect(old.Rollback()).To(Succeed())
		Expect(subject.Stats().VersionedPages).To(Equal(0))
		Expect(cur.Commit()).To(Succeed())
		Expect(subject.Stats().Readers).To(Equal(0))
	})

	It("should keep page images for every open snapshot", func() {
		var n uint64
		Expect(subject.Update(func(tx *pager.Tx) error {
			n = writePage(tx, "a")
			return nil
		})).To(Succeed())

		var readers []*pager.Tx
		for _, s := range []string{"b", "c", "d"} {
			tx, err := subject.BeginRead()
			Expect(err).NotTo(HaveOccurred())
			readers = append(readers, tx)

			s := s
			Expect(subject.Update(func(tx *pager.Tx) error {
				p, err := tx.ModifyPage(n)
				Expect(err).NotTo(HaveOccurred())
				copy(p.Body(), s)
				return nil
			})).To(Succeed())
		}

		for i, want := range []string{"a", "b", "c"} {
			Expect(readPage(readers[i], n, 1)).To(Equal(want))
		}
		Expect(readers[1].Rollback()).To(Succeed())
		Expect(readPage(readers[0], n, 1)).To(Equal("a"))
		Expect(readPage(readers[2], n, 1)).To(Equal("c"))
		Expect(readers[0].Rollback()).To(Succeed())
		Expect(readPage(readers[2], n, 1)).To(Equal("c"))
		Expect(readers[2].Rollback()).To(Succeed())
		Expect(subject.Stats().VersionedPages).To(Equal(0))
	})

	It("should enforce transaction discipline", func() {
		tx, err := subject.BeginRead()
		Expect(err).NotTo(HaveOccurred())

		_, err = tx.ModifyPage(2)
		Expect(errors.Is(err, blitstore.ErrReadOnly)).To(BeTrue())
		_, err = tx.AllocatePage(1)
		Expect(errors.Is(err, blitstore.ErrReadOnly)).To(BeTrue())
		Expect(errors.Is(tx.FreePage(2), blitstore.ErrReadOnly)).To(BeTrue())
		Expect(errors.Is(tx.SetRootState([pager.RootStateSize]byte{}), blitstore.ErrReadOnly)).To(BeTrue())

		Expect(tx.Commit()).To(Succeed())
		_, err = tx.GetPage(2)
		Expect(errors.Is(err, blitstore.ErrTxClosed)).To(BeTrue())
		Expect(errors.Is(tx.Commit(), blitstore.ErrTxClosed)).To(BeTrue())
		Expect(tx.Rollback()).To(Succeed())

		wtx, err := subject.BeginWrite()
		Expect(err).NotTo(HaveOccurred())
		Expect(wtx.Rollback()).To(Succeed())
		_, err = wtx.AllocatePage(1)
		Expect(errors.Is(err, blitstore.ErrTxClosed)).To(BeTrue())
	})

	It("should discard rolled back changes", func() {
		tx, err := subject.BeginWrite()
		Expect(err).NotTo(HaveOccurred())
		n := writePage(tx, "gone")
		Expect(tx.SetRootState([pager.RootStateSize]byte{1})).To(Succeed())
		Expect(tx.Rollback()).To(Succeed())

		Expect(subject.View(func(tx *pager.Tx) error {
			_, err := tx.GetPage(n)
			Expect(blitstore.IsCorrupted(err)).To(BeTrue())
			Expect(tx.RootState()).To(Equal([pager.RootStateSize]byte{}))
			return nil
		})).To(Succeed())
		Expect(subject.Stats().TxID).To(Equal(uint64(0)))
	})

	It("should reuse freed pages in later transactions", func() {
		var a, b, c uint64
		Expect(subject.Update(func(tx *pager.Tx) error {
			a, b, c = writePage(tx, "a"), writePage(tx, "b"), writePage(tx, "c")
			return nil
		})).To(Succeed())
		Expect([]uint64{a, b, c}).To(Equal([]uint64{2, 3, 4}))

		Expect(subject.Update(func(tx *pager.Tx) error {
			Expect(tx.FreePage(b)).To(Succeed())

			n := writePage(tx, "d")
			Expect(n).To(Equal(uint64(5)))
			return nil
		})).To(Succeed())
		Expect(subject.Stats().FreePages).To(Equal(1))

		Expect(subject.Update(func(tx *pager.Tx) error {
			Expect(writePage(tx, "e")).To(Equal(b))
			return nil
		})).To(Succeed())
		Expect(subject.Stats().FreePages).To(Equal(0))
		Expect(observer.freed).To(Equal([]uint64{b}))
	})

	It("should allocate and shrink overflow runs", func() {
		var n uint64
		Expect(subject.Update(func(tx *pager.Tx) error {
			p, err := tx.AllocatePage(3)
			Expect(err).NotTo(HaveOccurred())
			Expect(p.IsOverflow()).To(BeTrue())
			Expect(p.Data).To(HaveLen(3 * 4096))
			Expect(p.OverflowSize()).To(Equal(uint32(3*4096 - pager.HeaderSize)))

			p.SetOverflowSize(9000)
			copy(p.Body()[8000:], "tail")
			n = p.Number
			return nil
		})).To(Succeed())

		Expect(subject.View(func(tx *pager.Tx) error {
			p, err := tx.GetPage(n)
			Expect(err).NotTo(HaveOccurred())
			Expect(p.PageCount(4096)).To(Equal(3))
			Expect(string(p.Body()[8000:8004])).To(Equal("tail"))
			return nil
		})).To(Succeed())

		Expect(subject.Update(func(tx *pager.Tx) error {
			p, err := tx.ShrinkOverflow(n, 100)
			Expect(err).NotTo(HaveOccurred())
			Expect(p.PageCount(4096)).To(Equal(1))
			Expect(p.OverflowSize()).To(Equal(uint32(100)))

			_, err = tx.ShrinkOverflow(n, 9000)
			Expect(err).To(HaveOccurred())
			return nil
		})).To(Succeed())
		Expect(subject.Stats().FreePages).To(Equal(2))

		Expect(subject.Update(func(tx *pager.Tx) error {
			p, err := tx.AllocatePage(2)
			Expect(err).NotTo(HaveOccurred())
			Expect(p.Number).To(Equal(n + 1))
			return nil
		})).To(Succeed())
	})

	It("should free whole overflow runs", func() {
		var n uint64
		Expect(subject.Update(func(tx *pager.Tx) error {
			p, err := tx.AllocatePage(4)
			n = p.Number
			return err
		})).To(Succeed())

		Expect(subject.Update(func(tx *pager.Tx) error {
			return tx.FreePage(n)
		})).To(Succeed())
		Expect(subject.Stats().FreePages).To(Equal(4))
		Expect(observer.freed).To(Equal([]uint64{n, n + 1, n + 2, n + 3}))
	})

	It("should run commit hooks in reverse order", func() {
		var order []string
		tx, err := subject.BeginWrite()
		Expect(err).NotTo(HaveOccurred())

		tx.BeforeCommit(func(*pager.Tx) error {
			order = append(order, "a")
			return nil
		})
		tx.BeforeCommit(func(tx *pager.Tx) error {
			order = append(order, "b")
			tx.BeforeCommit(func(*pager.Tx) error {
				order = append(order, "c")
				return nil
			})
			return nil
		})
		Expect(tx.Commit()).To(Succeed())
		Expect(order).To(Equal([]string{"b", "c", "a"}))
	})

	It("should abort commits when hooks fail", func() {
		err := subject.Update(func(tx *pager.Tx) error {
			writePage(tx, "x")
			tx.BeforeCommit(func(*pager.Tx) error { return errors.New("boom") })
			return nil
		})
		Expect(err).To(MatchError("boom"))
		Expect(subject.Stats().TxID).To(Equal(uint64(0)))

		// the write lock is released
		Expect(subject.Update(func(*pager.Tx) error { return nil })).To(Succeed())
	})

	It("should persist root state and cache values", func() {
		state := [pager.RootStateSize]byte{1, 2, 3}
		Expect(subject.Update(func(tx *pager.Tx) error {
			tx.SetValue("key", 42)
			Expect(tx.Value("key")).To(Equal(42))
			Expect(tx.Value("missing")).To(BeNil())
			return tx.SetRootState(state)
		})).To(Succeed())

		Expect(subject.View(func(tx *pager.Tx) error {
			Expect(tx.RootState()).To(Equal(state))
			Expect(tx.Value("key")).To(BeNil())
			return nil
		})).To(Succeed())
	})

	It("should notify observers", func() {
		var n uint64
		Expect(subject.Update(func(tx *pager.Tx) error {
			n = writePage(tx, "x")
			_, err := tx.ModifyPage(n) // already dirty
			return err
		})).To(Succeed())
		Expect(observer.modified).To(Equal([]uint64{n}))

		Expect(subject.Update(func(tx *pager.Tx) error {
			if _, err := tx.ModifyPage(n); err != nil {
				return err
			}
			return tx.FreePage(n)
		})).To(Succeed())
		Expect(observer.modified).To(Equal([]uint64{n, n}))
		Expect(observer.freed).To(Equal([]uint64{n}))
	})

	It("should never expose partial writes to readers", func() {
		var n uint64
		Expect(subject.Update(func(tx *pager.Tx) error {
			n = writePage(tx, "")
			return nil
		})).To(Succeed())

		var wg sync.WaitGroup
		for i := 0; i < 4; i++ {
			wg.Add(1)
			go func() {
				defer GinkgoRecover()
				defer wg.Done()

				for j := 0; j < 100; j++ {
					Expect(subject.View(func(tx *pager.Tx) error {
						p, err := tx.GetPage(n)
						if err != nil {
							return err
						}
						body := p.Body()
						Expect(bytes.Count(body, body[:1])).To(Equal(len(body)))
						return nil
					})).To(Succeed())
				}
			}()
		}

		for j := 1; j <= 100; j++ {
			Expect(subject.Update(func(tx *pager.Tx) error {
				p, err := tx.ModifyPage(n)
				if err != nil {
					return err
				}
				body := p.Body()
				for k := range body {
					body[k] = byte(j)
				}
				return nil
			})).To(Succeed())
		}
		wg.Wait()
	})
})

var _ = Describe("Store (file)", func() {
	var dir, path string

	BeforeEach(func() {
		var err error
		dir, err = os.MkdirTemp("", "blitstore-pager")
		Expect(err).NotTo(HaveOccurred())
		path = filepath.Join(dir, "data.db")
	})

	AfterEach(func() {
		Expect(os.RemoveAll(dir)).To(Succeed())
	})

	open := func(o *pager.Options) *pager.Store {
		s, err := pager.OpenFile(path, o)
		Expect(err).NotTo(HaveOccurred())
		return s
	}

	It("should persist commits", func() {
		s := open(nil)
		id := s.ID()

		var a, b uint64
		state := [pager.RootStateSize]byte{7}
		Expect(s.Update(func(tx *pager.Tx) error {
			a, b = writePage(tx, "alpha"), writePage(tx, "beta")
			return tx.SetRootState(state)
		})).To(Succeed())
		Expect(s.Update(func(tx *pager.Tx) error {
			return tx.FreePage(a)
		})).To(Succeed())
		Expect(s.Close()).To(Succeed())

		s = open(nil)
		defer s.Close()

		Expect(s.ID()).To(Equal(id))
		Expect(s.Stats().TxID).To(Equal(uint64(2)))
		Expect(s.Stats().FreePages).To(Equal(1))
		Expect(s.View(func(tx *pager.Tx) error {
			Expect(readPage(tx, b, 4)).To(Equal("beta"))
			Expect(tx.RootState()).To(Equal(state))
			return nil
		})).To(Succeed())

		Expect(s.Update(func(tx *pager.Tx) error {
			Expect(writePage(tx, "again")).To(Equal(a))
			return nil
		})).To(Succeed())
	})

	It("should keep the page size of existing files", func() {
		s := open(&pager.Options{PageSize: 8192})
		Expect(s.Close()).To(Succeed())

		s = open(nil)
		defer s.Close()
		Expect(s.PageSize()).To(Equal(8192))
	})

	It("should read large runs after remapping", func() {
		s := open(&pager.Options{CachePages: 2})
		defer s.Close()

		var runs []uint64
		for i := 0; i < 10; i++ {
			i := i
			Expect(s.Update(func(tx *pager.Tx) error {
				p, err := tx.AllocatePage(i%3 + 1)
				if err != nil {
					return err
				}
				p.Body()[0] = byte(i)
				runs = append(runs, p.Number)
				return nil
			})).To(Succeed())
		}

		Expect(s.View(func(tx *pager.Tx) error {
			for i, n := range runs {
				p, err := tx.GetPage(n)
				Expect(err).NotTo(HaveOccurred())
				Expect(p.PageCount(4096)).To(Equal(i%3 + 1))
				Expect(p.Body()[0]).To(Equal(byte(i)))
			}
			return nil
		})).To(Succeed())
	})

	It("should checkpoint the journal", func() {
		s := open(&pager.Options{JournalMaxSize: 1})
		defer s.Close()

		Expect(s.Update(func(tx *pager.Tx) error {
			writePage(tx, "x")
			return nil
		})).To(Succeed())

		fi, err := os.Stat(path + "-journal")
		Expect(err).NotTo(HaveOccurred())
		Expect(fi.Size()).To(BeZero())
	})

	It("should recover commits from the journal", func() {
		s := open(nil)
		var n uint64
		Expect(s.Update(func(tx *pager.Tx) error {
			n = writePage(tx, "before")
			return nil
		})).To(Succeed())

		s.CrashAfterJournal()
		err := s.Update(func(tx *pager.Tx) error {
			p, err := tx.ModifyPage(n)
			if err != nil {
				return err
			}
			copy(p.Body(), "after!")
			return nil
		})
		Expect(err).To(MatchError(ContainSubstring("simulated crash")))
		Expect(s.Close()).To(Succeed())

		fi, err := os.Stat(path + "-journal")
		Expect(err).NotTo(HaveOccurred())
		Expect(fi.Size()).To(BeNumerically(">", 0))

		s = open(nil)
		defer s.Close()
		Expect(s.Stats().TxID).To(Equal(uint64(2)))
		Expect(s.View(func(tx *pager.Tx) error {
			Expect(readPage(tx, n, 6)).To(Equal("after!"))
			return nil
		})).To(Succeed())
	})

	It("should ignore torn journal records", func() {
		s := open(nil)
		var n uint64
		Expect(s.Update(func(tx *pager.Tx) error {
			n = writePage(tx, "kept")
			return nil
		})).To(Succeed())
		Expect(s.Close()).To(Succeed())

		Expect(os.WriteFile(path+"-journal", []byte("BLJ1garbage"), 0o644)).To(Succeed())

		s = open(nil)
		defer s.Close()
		Expect(s.View(func(tx *pager.Tx) error {
			Expect(readPage(tx, n, 4)).To(Equal("kept"))
			return nil
		})).To(Succeed())
	})

	It("should fall back to the other meta page", func() {
		s := open(nil)
		for i := 0; i < 2; i++ {
			Expect(s.Update(func(tx *pager.Tx) error {
				writePage(tx, "x")
				return nil
			})).To(Succeed())
		}
		Expect(s.Close()).To(Succeed())

		// tx 2 lives in meta page 0
		f, err := os.OpenFile(path, os.O_RDWR, 0)
		Expect(err).NotTo(HaveOccurred())
		_, err = f.WriteAt([]byte("XXXX"), pager.HeaderSize)
		Expect(err).NotTo(HaveOccurred())
		Expect(f.Close()).To(Succeed())

		s = open(nil)
		Expect(s.Stats().TxID).To(Equal(uint64(1)))
		Expect(s.Close()).To(Succeed())

		// damage page 1 too
		f, err = os.OpenFile(path, os.O_RDWR, 0)
		Expect(err).NotTo(HaveOccurred())
		_, err = f.WriteAt([]byte("XXXX"), 4096+pager.HeaderSize)
		Expect(err).NotTo(HaveOccurred())
		Expect(f.Close()).To(Succeed())

		_, err = pager.OpenFile(path, nil)
		Expect(blitstore.IsCorrupted(err)).To(BeTrue())
	})
})
