package tree_test

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/bsm/blitstore/pager"
	"github.com/bsm/blitstore/tree"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var _ = Describe("Iterator", func() {
	var store *pager.Store

	BeforeEach(func() {
		store = newStore()
		update(store, func(root *tree.Tree) {
			for _, k := range []string{"a1", "a2", "b1", "b2", "c1"} {
				Expect(root.Add([]byte(k), []byte("v-"+k))).To(Succeed())
			}
		})
	})

	AfterEach(func() {
		Expect(store.Close()).To(Succeed())
	})

	It("should iterate in order", func() {
		view(store, func(root *tree.Tree) {
			it := root.Iterate(nil)
			Expect(collect(it, it.SeekTo(tree.BeforeAllKeys), true)).To(Equal([]string{"a1", "a2", "b1", "b2", "c1"}))
			Expect(collect(it, it.SeekTo(tree.AfterAllKeys), false)).To(Equal([]string{"c1", "b2", "b1", "a2", "a1"}))
			Expect(collect(it, it.Seek([]byte("b15")), true)).To(Equal([]string{"b2", "c1"}))
			Expect(it.Seek([]byte("d"))).To(BeFalse())
			Expect(it.Valid()).To(BeFalse())

			Expect(it.Seek([]byte("a2"))).To(BeTrue())
			Expect(it.Value()).To(Equal([]byte("v-a2")))
			Expect(it.Node().Key).To(Equal([]byte("a2")))
		})
	})

	It("should respect prefixes", func() {
		view(store, func(root *tree.Tree) {
			it := root.Iterate([]byte("b"))
			Expect(collect(it, it.SeekTo(tree.BeforeAllKeys), true)).To(Equal([]string{"b1", "b2"}))
			Expect(collect(it, it.SeekTo(tree.AfterAllKeys), false)).To(Equal([]string{"b2", "b1"}))
			Expect(collect(it, it.Seek([]byte("a")), true)).To(Equal([]string{"b1", "b2"}))

			it = root.Iterate([]byte("c"))
			Expect(collect(it, it.SeekTo(tree.AfterAllKeys), false)).To(Equal([]string{"c1"}))

			it = root.Iterate([]byte("x"))
			Expect(it.SeekTo(tree.BeforeAllKeys)).To(BeFalse())
			Expect(it.SeekTo(tree.AfterAllKeys)).To(BeFalse())
		})
	})

	It("should cross pages", func() {
		update(store, func(root *tree.Tree) {
			for i := 0; i < 1000; i++ {
				Expect(root.Add(key(i), bytes.Repeat([]byte("z"), 40))).To(Succeed())
			}
		})

		view(store, func(root *tree.Tree) {
			Expect(root.State().Depth).To(Equal(2))

			it := root.Iterate([]byte("key-"))
			fwd := collect(it, it.SeekTo(tree.BeforeAllKeys), true)
			Expect(fwd).To(HaveLen(1000))
			Expect(sort.StringsAreSorted(fwd)).To(BeTrue())

			bwd := collect(it, it.SeekTo(tree.AfterAllKeys), false)
			Expect(bwd).To(HaveLen(1000))
			Expect(bwd[0]).To(Equal("key-00999"))
			Expect(bwd[999]).To(Equal("key-00000"))

			Expect(collect(it, it.Seek(key(995)), true)).To(Equal([]string{"key-00995", "key-00996", "key-00997", "key-00998", "key-00999"}))
		})
	})

	It("should iterate empty trees", func() {
		Expect(store.Update(func(tx *pager.Tx) error {
			empty, err := tree.Create(tx, "empty", 0)
			Expect(err).NotTo(HaveOccurred())

			it := empty.Iterate(nil)
			Expect(it.SeekTo(tree.BeforeAllKeys)).To(BeFalse())
			Expect(it.SeekTo(tree.AfterAllKeys)).To(BeFalse())
			Expect(it.Next()).To(BeFalse())
			return it.Err()
		})).To(Succeed())
	})

	It("should match a sorted map", func() {
		params := gopter.DefaultTestParameters()
		params.MinSuccessfulTests = 25
		props := gopter.NewProperties(params)

		props.Property("adds and deletes", prop.ForAll(
			func(adds []int, dels []int) bool {
				s := newStore()
				defer s.Close()

				expected := make(map[string]int)
				err := s.Update(func(tx *pager.Tx) error {
					t, err := tree.Create(tx, "prop", 0)
					if err != nil {
						return err
					}
					for _, n := range adds {
						k := fmt.Sprintf("k%06d", n)
						if err := t.Add([]byte(k), bytes.Repeat([]byte{'v'}, valueSize(n))); err != nil {
							return err
						}
						expected[k] = n
					}
					for _, n := range dels {
						k := fmt.Sprintf("k%06d", n)
						if _, err := t.Delete([]byte(k)); err != nil {
							return err
						}
						delete(expected, k)
					}
					return nil
				})
				if err != nil {
					return false
				}

				want := make([]string, 0, len(expected))
				for k := range expected {
					want = append(want, k)
				}
				sort.Strings(want)

				var got []string
				err = s.View(func(tx *pager.Tx) error {
					t, err := tree.Open(tx, "prop")
					if err != nil {
						return err
					}
					if err := t.Validate(); err != nil {
						return err
					}
					if t.State().NumberOfEntries != int64(len(want)) {
						return fmt.Errorf("bad count %d", t.State().NumberOfEntries)
					}

					it := t.Iterate(nil)
					for ok := it.SeekTo(tree.BeforeAllKeys); ok; ok = it.Next() {
						val, err := it.Value()
						if err != nil {
							return err
						}
						if len(val) != valueSize(expected[string(it.Key())]) {
							return fmt.Errorf("bad value at %q", it.Key())
						}
						got = append(got, string(it.Key()))
					}
					return it.Err()
				})
				if err != nil {
					return false
				}
				return fmt.Sprint(got) == fmt.Sprint(want)
			},
			gen.SliceOf(gen.IntRange(0, 4000)),
			gen.SliceOf(gen.IntRange(0, 4000)),
		))

		Expect(props.Run(gopter.NewFormatedReporter(false, 80, GinkgoWriter))).To(BeTrue())
	})
})

// valueSize derives a value size from a key, some values overflow.
func valueSize(n int) int {
	if n%97 == 0 {
		return 3000 + n
	}
	return n % 150
}
