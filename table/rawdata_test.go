package table_test

import (
	"fmt"

	"github.com/bsm/blitstore/pager"
	"github.com/bsm/blitstore/table"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var _ = Describe("raw data", func() {
	var store *pager.Store

	// single page sections, rows of 109 bytes
	opts := &table.Options{InitialSectionPages: 1, MaxSectionPages: 1}
	key := func(i int) string { return fmt.Sprintf("users/%04d", i) }

	BeforeEach(func() {
		store = newStore()
	})

	AfterEach(func() {
		Expect(store.Close()).To(Succeed())
	})

	It("should persist sections across transactions", func() {
		update(store, nil, func(t *table.Table) {
			_, err := t.Insert(user(key(1), "Berlin", 1, 80))
			Expect(err).NotTo(HaveOccurred())
			Expect(t.NumSections()).To(Equal(1))
		})
		update(store, nil, func(t *table.Table) {
			Expect(t.NumSections()).To(Equal(1))
			_, err := t.Insert(user(key(2), "Berlin", 2, 80))
			Expect(err).NotTo(HaveOccurred())
			Expect(t.NumSections()).To(Equal(1))
		})
		view(store, func(t *table.Table) {
			Expect(t.NumSections()).To(Equal(1))
			Expect(t.NumberOfEntries()).To(Equal(int64(2)))
		})
		expectAccounted(store)
	})

	It("should discard changes on rollback", func() {
		update(store, nil, func(t *table.Table) {
			_, err := t.Insert(user(key(1), "Berlin", 1, 80))
			Expect(err).NotTo(HaveOccurred())
		})

		Expect(store.Update(func(tx *pager.Tx) error {
			t, err := table.Open(tx, "users", nil)
			Expect(err).NotTo(HaveOccurred())
			for i := 2; i < 100; i++ {
				_, err := t.Insert(user(key(i), "Berlin", int64(i), 80))
				Expect(err).NotTo(HaveOccurred())
			}
			return fmt.Errorf("abort")
		})).To(MatchError("abort"))

		view(store, func(t *table.Table) {
			Expect(t.NumSections()).To(Equal(1))
			Expect(t.NumberOfEntries()).To(Equal(int64(1)))
		})
		expectAccounted(store)
	})

	It("should grow sections", func() {
		update(store, nil, func(t *table.Table) {
			for i := 0; i < 1000; i++ {
				_, err := t.Insert(user(key(i), "Berlin", int64(i), 80))
				Expect(err).NotTo(HaveOccurred())
			}
			Expect(t.NumSections()).To(BeNumerically("<", 8))
		})
		expectAccounted(store)
	})

	It("should evacuate sparse sections", func() {
		var before int
		update(store, opts, func(t *table.Table) {
			for i := 0; i < 360; i++ {
				_, err := t.Insert(user(key(i), "Berlin", int64(i), 80))
				Expect(err).NotTo(HaveOccurred())
			}
			before = t.NumSections()
			Expect(before).To(BeNumerically(">", 8))
		})
		expectAccounted(store)

		update(store, opts, func(t *table.Table) {
			for i := 0; i < 360; i++ {
				if i%10 == 0 {
					continue
				}
				Expect(t.DeleteByKey([]byte(key(i)))).To(BeTrue())
			}
			Expect(t.NumSections()).To(BeNumerically("<", before))
		})

		view(store, func(t *table.Table) {
			Expect(t.NumberOfEntries()).To(Equal(int64(36)))
			for i := 0; i < 360; i += 10 {
				rec := readKey(t, key(i))
				Expect(rec.Row.Int64(2)).To(Equal(int64(i)))
				Expect(cityIDs(t, "Berlin")).To(ContainElement(rec.ID))

				fit, err := t.SeekByFixedIndex("seq", int64(i))
				Expect(err).NotTo(HaveOccurred())
				Expect(fit.Next()).To(BeTrue())
				Expect(fit.Record().ID).To(Equal(rec.ID))
			}
		})
		expectAccounted(store)
	})

	It("should reuse sparse sections", func() {
		update(store, opts, func(t *table.Table) {
			for i := 0; i < 100; i++ {
				_, err := t.Insert(user(key(i), "Berlin", int64(i), 80))
				Expect(err).NotTo(HaveOccurred())
			}
			// empty half of the first section
			for i := 0; i < 35; i += 2 {
				Expect(t.DeleteByKey([]byte(key(i)))).To(BeTrue())
			}
			Expect(t.NumCandidates()).To(Equal(1))
		})

		var sections int
		update(store, opts, func(t *table.Table) {
			sections = t.NumSections()
			for i := 100; i < 140; i++ {
				_, err := t.Insert(user(key(i), "Berlin", int64(i), 80))
				Expect(err).NotTo(HaveOccurred())
			}
			Expect(t.NumCandidates()).To(BeZero())
			Expect(t.NumSections()).To(BeNumerically("<=", sections+1))
		})
		expectAccounted(store)
	})

	It("should drop all pages with the last row", func() {
		update(store, opts, func(t *table.Table) {
			for i := 0; i < 100; i++ {
				_, err := t.Insert(user(key(i), "Berlin", int64(i), 80))
				Expect(err).NotTo(HaveOccurred())
			}
		})
		update(store, opts, func(t *table.Table) {
			for i := 0; i < 100; i++ {
				Expect(t.DeleteByKey([]byte(key(i)))).To(BeTrue())
			}
			Expect(t.NumberOfEntries()).To(BeZero())
			Expect(t.NumSections()).To(BeNumerically("<=", 1))
		})
		expectAccounted(store)
	})
})
