package tree_test

import (
	"encoding/binary"

	"github.com/bsm/blitstore/pager"
	"github.com/bsm/blitstore/tree"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var _ = Describe("FixedSizeTree", func() {
	var store *pager.Store

	val := func(n int64) []byte {
		b := make([]byte, 8)
		binary.LittleEndian.PutUint64(b, uint64(n*10))
		return b
	}

	fixed := func(root *tree.Tree) *tree.FixedSizeTree {
		f, err := root.FixedTreeFor([]byte("ids"), 8)
		Expect(err).NotTo(HaveOccurred())
		return f
	}

	readFixed := func(f *tree.FixedSizeTree, k int64) []byte {
		v, ok, err := f.Read(k)
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeTrue())
		return v
	}

	keysOf := func(f *tree.FixedSizeTree) []int64 {
		var res []int64
		it := f.Iterate()
		for ok := it.First(); ok; ok = it.Next() {
			res = append(res, it.Key())
		}
		Expect(it.Err()).NotTo(HaveOccurred())
		return res
	}

	BeforeEach(func() {
		store = newStore()
	})

	AfterEach(func() {
		Expect(store.Close()).To(Succeed())
	})

	It("should embed small trees", func() {
		update(store, func(root *tree.Tree) {
			f := fixed(root)
			Expect(f.NumberOfEntries()).To(BeZero())
			Expect(f.Add(3, val(3))).To(BeTrue())
			Expect(f.Add(-100, val(-100))).To(BeTrue())
			Expect(f.Add(-5, val(-5))).To(BeTrue())
			Expect(f.Add(3, val(4))).To(BeFalse())
		})

		view(store, func(root *tree.Tree) {
			f := fixed(root)
			Expect(f.IsEmbedded()).To(BeTrue())
			Expect(f.NumberOfEntries()).To(Equal(int64(3)))
			Expect(keysOf(f)).To(Equal([]int64{-100, -5, 3}))
			Expect(readFixed(f, 3)).To(Equal(val(4)))
			Expect(f.Contains(7)).To(BeFalse())

			it := f.Iterate()
			Expect(it.SeekTo(-6)).To(BeTrue())
			Expect(it.Key()).To(Equal(int64(-5)))
			Expect(it.Value()).To(Equal(val(-5)))
		})

		update(store, func(root *tree.Tree) {
			f := fixed(root)
			Expect(f.Delete(-5)).To(BeTrue())
			Expect(f.Delete(-5)).To(BeFalse())
		})
		view(store, func(root *tree.Tree) {
			Expect(keysOf(fixed(root))).To(Equal([]int64{-100, 3}))
		})
		expectAccounted(store)
	})

	It("should reject mismatching value sizes", func() {
		update(store, func(root *tree.Tree) {
			_, err := fixed(root).Add(1, []byte("x"))
			Expect(err).To(MatchError(ContainSubstring("fixed tree expects 8")))

			Expect(fixed(root).Add(1, val(1))).To(BeTrue())
			_, err = root.FixedTreeFor([]byte("ids"), 4)
			Expect(err).To(MatchError(ContainSubstring("not 4")))

			Expect(root.Add([]byte("plain"), []byte("x"))).To(Succeed())
			_, err = root.FixedTreeFor([]byte("plain"), 8)
			Expect(err).To(MatchError(ContainSubstring("not a fixed-size tree")))
		})
	})

	It("should grow into pages and shrink back", func() {
		update(store, func(root *tree.Tree) {
			f := fixed(root)
			for i := int64(0); i < 1000; i++ {
				Expect(f.Add(i, val(i))).To(BeTrue())
			}
			Expect(f.IsEmbedded()).To(BeFalse())
			Expect(f.Depth()).To(Equal(2))
		})

		view(store, func(root *tree.Tree) {
			f := fixed(root)
			Expect(f.NumberOfEntries()).To(Equal(int64(1000)))
			Expect(f.PageCount()).To(BeNumerically(">", 2))
			Expect(readFixed(f, 500)).To(Equal(val(500)))

			ks := keysOf(f)
			Expect(ks).To(HaveLen(1000))
			Expect(ks[0]).To(Equal(int64(0)))
			Expect(ks[999]).To(Equal(int64(999)))

			it := f.Iterate()
			Expect(it.SeekTo(998)).To(BeTrue())
			Expect(it.Next()).To(BeTrue())
			Expect(it.Key()).To(Equal(int64(999)))
			Expect(it.Next()).To(BeFalse())
		})
		expectAccounted(store)

		update(store, func(root *tree.Tree) {
			f := fixed(root)
			for i := int64(0); i < 970; i++ {
				Expect(f.Delete(i)).To(BeTrue())
			}
			Expect(f.IsEmbedded()).To(BeTrue())
			Expect(f.PageCount()).To(BeZero())
		})

		view(store, func(root *tree.Tree) {
			f := fixed(root)
			Expect(f.NumberOfEntries()).To(Equal(int64(30)))
			Expect(keysOf(f)[0]).To(Equal(int64(970)))
		})
		expectAccounted(store)
	})

	It("should order negative keys in paged trees", func() {
		update(store, func(root *tree.Tree) {
			f := fixed(root)
			for i := int64(-600); i < 600; i++ {
				Expect(f.Add(i, val(i))).To(BeTrue())
			}
			Expect(f.Depth()).To(Equal(2))
			Expect(readFixed(f, -600)).To(Equal(val(-600)))
			Expect(keysOf(f)[0]).To(Equal(int64(-600)))
		})
		expectAccounted(store)

		update(store, func(root *tree.Tree) {
			f := fixed(root)
			for i := int64(-600); i < -300; i++ {
				Expect(f.Delete(i)).To(BeTrue())
			}
			Expect(f.IsEmbedded()).To(BeFalse())
			Expect(f.Add(-5000, val(-5000))).To(BeTrue())
		})

		view(store, func(root *tree.Tree) {
			f := fixed(root)
			Expect(f.NumberOfEntries()).To(Equal(int64(901)))
			ks := keysOf(f)
			Expect(ks[0]).To(Equal(int64(-5000)))
			Expect(ks[1]).To(Equal(int64(-300)))
			Expect(readFixed(f, -5000)).To(Equal(val(-5000)))
			Expect(readFixed(f, -300)).To(Equal(val(-300)))

			it := f.Iterate()
			Expect(it.SeekTo(-4000)).To(BeTrue())
			Expect(it.Key()).To(Equal(int64(-300)))
		})
		expectAccounted(store)
	})

	It("should drop trees", func() {
		update(store, func(root *tree.Tree) {
			f := fixed(root)
			for i := int64(0); i < 600; i++ {
				Expect(f.Add(i*3, val(i))).To(BeTrue())
			}
		})
		expectAccounted(store)

		update(store, func(root *tree.Tree) {
			Expect(root.DeleteFixedTree([]byte("ids"))).To(BeTrue())
			Expect(root.DeleteFixedTree([]byte("ids"))).To(BeFalse())
		})
		expectAccounted(store)

		view(store, func(root *tree.Tree) {
			Expect(fixed(root).NumberOfEntries()).To(BeZero())
		})
	})

	It("should open standalone trees", func() {
		Expect(store.Update(func(tx *pager.Tx) error {
			f, err := tree.OpenFixedTree(tx, "counters", 0)
			Expect(err).NotTo(HaveOccurred())
			for i := int64(0); i < 5000; i++ {
				Expect(f.Add(i, nil)).To(BeTrue())
			}
			return nil
		})).To(Succeed())

		Expect(store.View(func(tx *pager.Tx) error {
			f, err := tree.OpenFixedTree(tx, "counters", 0)
			Expect(err).NotTo(HaveOccurred())
			Expect(f.NumberOfEntries()).To(Equal(int64(5000)))
			Expect(f.Depth()).To(BeNumerically(">=", 2))
			Expect(f.Contains(4999)).To(BeTrue())
			Expect(f.Contains(5000)).To(BeFalse())
			return nil
		})).To(Succeed())
		expectAccounted(store)
	})
})
