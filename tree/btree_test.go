package tree_test

import (
	"bytes"
	"encoding/binary"
	"strings"

	"github.com/bsm/blitstore"
	"github.com/bsm/blitstore/pager"
	"github.com/bsm/blitstore/tree"
	"github.com/cockroachdb/errors"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var _ = Describe("Tree", func() {
	var store *pager.Store

	BeforeEach(func() {
		store = newStore()
	})

	AfterEach(func() {
		Expect(store.Close()).To(Succeed())
	})

	It("should add, read and delete", func() {
		update(store, func(root *tree.Tree) {
			Expect(root.Add([]byte("foo"), []byte("bar"))).To(Succeed())
			Expect(root.Add([]byte("baz"), []byte("qux"))).To(Succeed())
			Expect(read(root, []byte("foo"))).To(Equal("bar"))
		})

		view(store, func(root *tree.Tree) {
			Expect(read(root, []byte("baz"))).To(Equal("qux"))
			Expect(root.State().NumberOfEntries).To(Equal(int64(2)))
			Expect(root.State().Depth).To(Equal(1))

			_, ok, err := root.Read([]byte("missing"))
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeFalse())
		})

		update(store, func(root *tree.Tree) {
			Expect(root.Add([]byte("foo"), []byte("longer value"))).To(Succeed())
			Expect(root.Delete([]byte("baz"))).To(BeTrue())
			Expect(root.Delete([]byte("baz"))).To(BeFalse())
		})

		view(store, func(root *tree.Tree) {
			Expect(read(root, []byte("foo"))).To(Equal("longer value"))
			Expect(root.State().NumberOfEntries).To(Equal(int64(1)))
		})
		expectAccounted(store)
	})

	It("should reject bad keys", func() {
		update(store, func(root *tree.Tree) {
			Expect(root.Add(nil, []byte("x"))).To(MatchError(ContainSubstring("empty key")))

			long := bytes.Repeat([]byte("k"), tree.MaxKeySize(store.PageSize())+1)
			err := root.Add(long, []byte("x"))
			Expect(errors.Is(err, blitstore.ErrCapacity)).To(BeTrue())

			long = long[:tree.MaxKeySize(store.PageSize())]
			Expect(root.Add(long, []byte("x"))).To(Succeed())
			Expect(read(root, long)).To(Equal("x"))
		})
	})

	It("should refuse modifications in read-only transactions", func() {
		view(store, func(root *tree.Tree) {
			err := root.Add([]byte("foo"), []byte("bar"))
			Expect(errors.Is(err, blitstore.ErrReadOnly)).To(BeTrue())
			Expect(errors.HasAssertionFailure(err)).To(BeTrue())

			_, err = root.Delete([]byte("foo"))
			Expect(errors.Is(err, blitstore.ErrReadOnly)).To(BeTrue())
		})
	})

	It("should fill values in place", func() {
		update(store, func(root *tree.Tree) {
			buf, err := root.DirectAdd([]byte("direct"), 5)
			Expect(err).NotTo(HaveOccurred())
			Expect(buf).To(HaveLen(5))
			copy(buf, "hello")
		})
		view(store, func(root *tree.Tree) {
			Expect(read(root, []byte("direct"))).To(Equal("hello"))
		})
	})

	It("should maintain counters", func() {
		update(store, func(root *tree.Tree) {
			Expect(root.Increment([]byte("n"), 5)).To(Equal(int64(5)))
			Expect(root.Increment([]byte("n"), -2)).To(Equal(int64(3)))

			Expect(root.AddMax([]byte("max"), 10)).To(BeTrue())
			Expect(root.AddMax([]byte("max"), 7)).To(BeFalse())
			Expect(root.AddMax([]byte("max"), 12)).To(BeTrue())

			Expect(root.Add([]byte("str"), []byte("abc"))).To(Succeed())
			_, err := root.Increment([]byte("str"), 1)
			Expect(err).To(MatchError(ContainSubstring("not a counter")))
		})

		view(store, func(root *tree.Tree) {
			Expect(binary.LittleEndian.Uint64([]byte(read(root, []byte("n"))))).To(Equal(uint64(3)))
			Expect(binary.LittleEndian.Uint64([]byte(read(root, []byte("max"))))).To(Equal(uint64(12)))
		})
	})

	It("should split and rebalance", func() {
		value := strings.Repeat("v", 100)
		update(store, func(root *tree.Tree) {
			for i := 0; i < 2000; i++ {
				Expect(root.Add(key(i), []byte(value))).To(Succeed())
			}
		})

		view(store, func(root *tree.Tree) {
			st := root.State()
			Expect(st.NumberOfEntries).To(Equal(int64(2000)))
			Expect(st.Depth).To(BeNumerically(">=", 2))
			Expect(st.BranchPages).To(BeNumerically(">=", 1))
			Expect(st.LeafPages).To(BeNumerically(">", 40))
			Expect(root.Validate()).To(Succeed())

			for i := 0; i < 2000; i += 97 {
				Expect(read(root, key(i))).To(Equal(value))
			}
		})
		expectAccounted(store)

		update(store, func(root *tree.Tree) {
			for i := 0; i < 2000; i += 2 {
				Expect(root.Delete(key(i))).To(BeTrue())
			}
		})
		view(store, func(root *tree.Tree) {
			Expect(root.State().NumberOfEntries).To(Equal(int64(1000)))
			Expect(root.Validate()).To(Succeed())
			Expect(read(root, key(1999))).To(Equal(value))
		})
		expectAccounted(store)

		update(store, func(root *tree.Tree) {
			for i := 1; i < 2000; i += 2 {
				Expect(root.Delete(key(i))).To(BeTrue())
			}
		})
		view(store, func(root *tree.Tree) {
			Expect(root.State()).To(Equal(tree.State{
				RootPage:  root.State().RootPage,
				Depth:     1,
				LeafPages: 1,
			}))
			Expect(root.Validate()).To(Succeed())
		})
		expectAccounted(store)
	})

	It("should insert in random order", func() {
		update(store, func(root *tree.Tree) {
			for i := 0; i < 3000; i++ {
				n := (i * 7919) % 3000
				Expect(root.Add(key(n), []byte(strings.Repeat("x", n%200)))).To(Succeed())
			}
		})
		view(store, func(root *tree.Tree) {
			Expect(root.State().NumberOfEntries).To(Equal(int64(3000)))
			Expect(root.Validate()).To(Succeed())
			Expect(read(root, key(1234))).To(Equal(strings.Repeat("x", 1234%200)))
		})
		expectAccounted(store)
	})

	It("should store large values in overflow pages", func() {
		large := strings.Repeat("L", 10000)
		update(store, func(root *tree.Tree) {
			Expect(root.Add([]byte("big"), []byte(large))).To(Succeed())
			Expect(root.State().OverflowPages).To(Equal(int64(3)))
		})
		view(store, func(root *tree.Tree) {
			Expect(read(root, []byte("big"))).To(Equal(large))
		})
		expectAccounted(store)

		update(store, func(root *tree.Tree) {
			Expect(root.Add([]byte("big"), []byte(large[:5000]))).To(Succeed())
			Expect(root.State().OverflowPages).To(Equal(int64(2)))
			Expect(read(root, []byte("big"))).To(Equal(large[:5000]))
		})
		expectAccounted(store)

		update(store, func(root *tree.Tree) {
			Expect(root.Add([]byte("big"), []byte(large))).To(Succeed())
			Expect(root.State().OverflowPages).To(Equal(int64(3)))
		})
		expectAccounted(store)

		update(store, func(root *tree.Tree) {
			Expect(root.Add([]byte("big"), []byte("small"))).To(Succeed())
			Expect(root.State().OverflowPages).To(BeZero())
			Expect(read(root, []byte("big"))).To(Equal("small"))
		})
		expectAccounted(store)

		update(store, func(root *tree.Tree) {
			Expect(root.Add([]byte("big"), []byte(large))).To(Succeed())
			Expect(root.Delete([]byte("big"))).To(BeTrue())
			Expect(root.State().OverflowPages).To(BeZero())
		})
		expectAccounted(store)
	})

	It("should overwrite overflow values without touching the leaf", func() {
		rec := &pageRecorder{modified: make(map[uint64]bool)}
		store, err := pager.NewMemoryStore(&pager.Options{Observer: rec})
		Expect(err).NotTo(HaveOccurred())
		defer store.Close()

		large := strings.Repeat("L", 6000)
		update(store, func(root *tree.Tree) {
			Expect(root.Add([]byte("big"), []byte(large))).To(Succeed())
			Expect(root.Add([]byte("tiny"), []byte("abc"))).To(Succeed())
		})

		var leaf uint64
		view(store, func(root *tree.Tree) { leaf = root.State().RootPage })

		rec.reset()
		update(store, func(root *tree.Tree) {
			Expect(root.Add([]byte("big"), []byte(large+"xyz"))).To(Succeed())
			Expect(root.Add([]byte("big"), []byte(large[:3000]))).To(Succeed())
			Expect(read(root, []byte("big"))).To(Equal(large[:3000]))
			Expect(root.State().OverflowPages).To(Equal(int64(1)))
		})
		Expect(rec.modified).NotTo(BeEmpty())
		Expect(rec.modified).NotTo(HaveKey(leaf))
		expectAccounted(store)

		rec.reset()
		update(store, func(root *tree.Tree) {
			Expect(root.Add([]byte("tiny"), []byte("xyz"))).To(Succeed())
		})
		Expect(rec.modified).To(HaveKey(leaf))
		view(store, func(root *tree.Tree) {
			Expect(read(root, []byte("tiny"))).To(Equal("xyz"))
		})
	})

	It("should isolate readers", func() {
		update(store, func(root *tree.Tree) {
			Expect(root.Add([]byte("k"), []byte("v1"))).To(Succeed())
		})

		tx, err := store.BeginRead()
		Expect(err).NotTo(HaveOccurred())
		defer tx.Rollback()

		update(store, func(root *tree.Tree) {
			Expect(root.Add([]byte("k"), []byte("v2"))).To(Succeed())
			for i := 0; i < 500; i++ {
				Expect(root.Add(key(i), []byte("x"))).To(Succeed())
			}
		})

		old, err := tree.Root(tx)
		Expect(err).NotTo(HaveOccurred())
		Expect(read(old, []byte("k"))).To(Equal("v1"))
		Expect(old.State().NumberOfEntries).To(Equal(int64(1)))

		view(store, func(root *tree.Tree) {
			Expect(read(root, []byte("k"))).To(Equal("v2"))
			Expect(root.State().NumberOfEntries).To(Equal(int64(501)))
		})
	})

	It("should manage named trees", func() {
		Expect(store.View(func(tx *pager.Tx) error {
			_, err := tree.Open(tx, "users")
			Expect(err).To(MatchError(tree.ErrNotFound))

			_, err = tree.Create(tx, "users", 0)
			Expect(err).To(MatchError(blitstore.ErrReadOnly))
			return nil
		})).To(Succeed())

		Expect(store.Update(func(tx *pager.Tx) error {
			users, err := tree.Create(tx, "users", 0)
			Expect(err).NotTo(HaveOccurred())
			Expect(users.Name()).To(Equal("users"))

			for i := 0; i < 300; i++ {
				Expect(users.Add(key(i), bytes.Repeat([]byte("u"), 50))).To(Succeed())
			}

			again, err := tree.Create(tx, "users", 0)
			Expect(err).NotTo(HaveOccurred())
			Expect(again).To(BeIdenticalTo(users))
			return nil
		})).To(Succeed())

		Expect(store.View(func(tx *pager.Tx) error {
			users, err := tree.Open(tx, "users")
			Expect(err).NotTo(HaveOccurred())
			Expect(users.State().NumberOfEntries).To(Equal(int64(300)))
			Expect(users.State().Depth).To(Equal(2))
			Expect(users.Validate()).To(Succeed())

			root, err := tree.Root(tx)
			Expect(err).NotTo(HaveOccurred())
			Expect(root.State().NumberOfEntries).To(Equal(int64(1)))

			_, err = tree.Open(tx, "missing")
			Expect(err).To(MatchError(tree.ErrNotFound))
			return nil
		})).To(Succeed())
		expectAccounted(store)

		update(store, func(root *tree.Tree) {
			Expect(root.Delete([]byte("users"))).To(BeTrue())
		})
		expectAccounted(store)
		view(store, func(root *tree.Tree) {
			pages, err := root.AllPages()
			Expect(err).NotTo(HaveOccurred())
			Expect(pages).To(HaveLen(1))
		})
	})

	It("should compress leaves", func() {
		value := bytes.Repeat([]byte("abcd"), 50)
		Expect(store.Update(func(tx *pager.Tx) error {
			docs, err := tree.Create(tx, "docs", tree.LeafsCompressed)
			Expect(err).NotTo(HaveOccurred())
			for i := 0; i < 1000; i++ {
				Expect(docs.Add(key(i), value)).To(Succeed())
			}
			return nil
		})).To(Succeed())

		Expect(store.View(func(tx *pager.Tx) error {
			docs, err := tree.Open(tx, "docs")
			Expect(err).NotTo(HaveOccurred())
			Expect(docs.Validate()).To(Succeed())
			Expect(docs.State().LeafPages).To(BeNumerically("<", 25))

			pages, err := docs.AllPages()
			Expect(err).NotTo(HaveOccurred())

			var compressed *tree.TreePage
			for _, n := range pages {
				p, err := docs.Page(n)
				Expect(err).NotTo(HaveOccurred())
				if p.IsCompressed() {
					compressed = p
					break
				}
			}
			Expect(compressed).NotTo(BeNil())
			Expect(compressed.IsLeaf()).To(BeTrue())

			_, err = compressed.Node(0)
			Expect(err).To(MatchError(blitstore.ErrMustDecompress))

			plain, err := compressed.Decompress()
			Expect(err).NotTo(HaveOccurred())
			Expect(plain.NumberOfEntries()).To(Equal(compressed.NumberOfEntries()))
			nd, err := plain.Node(0)
			Expect(err).NotTo(HaveOccurred())
			Expect(nd.Data).To(Equal(value))

			for i := 0; i < 1000; i += 37 {
				Expect(read(docs, key(i))).To(Equal(string(value)))
			}
			return nil
		})).To(Succeed())
		expectAccounted(store)

		Expect(store.Update(func(tx *pager.Tx) error {
			docs, err := tree.Open(tx, "docs")
			Expect(err).NotTo(HaveOccurred())
			for i := 0; i < 1000; i += 3 {
				Expect(docs.Delete(key(i))).To(BeTrue())
			}
			return docs.Validate()
		})).To(Succeed())
		expectAccounted(store)
	})

	It("should cache recently found pages", func() {
		update(store, func(root *tree.Tree) {
			for i := 0; i < 500; i++ {
				Expect(root.Add(key(i), []byte("v"))).To(Succeed())
			}
		})

		view(store, func(root *tree.Tree) {
			for i := 100; i < 110; i++ {
				Expect(read(root, key(i))).To(Equal("v"))
			}
			hits, misses := root.CacheStats()
			Expect(hits).To(BeNumerically(">=", 8))
			Expect(misses).To(BeNumerically("<=", 2))
		})
	})

	It("should walk all pages", func() {
		update(store, func(root *tree.Tree) {
			for i := 0; i < 200; i++ {
				Expect(root.Add(key(i), bytes.Repeat([]byte("p"), 60))).To(Succeed())
			}
			Expect(root.Add([]byte("big"), bytes.Repeat([]byte("b"), 9000))).To(Succeed())

			pages, err := root.AllPages()
			Expect(err).NotTo(HaveOccurred())
			Expect(int64(len(pages))).To(Equal(root.State().PageCount()))
			for i := 1; i < len(pages); i++ {
				Expect(pages[i]).To(BeNumerically(">", pages[i-1]))
			}
		})
	})
})

type pageRecorder struct{ modified map[uint64]bool }

func (r *pageRecorder) PageModified(n uint64) { r.modified[n] = true }
func (r *pageRecorder) PageFreed(uint64)      {}
func (r *pageRecorder) reset()                { clear(r.modified) }
