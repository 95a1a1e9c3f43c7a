package table_test

import (
	"github.com/bsm/blitstore/pager"
	"github.com/bsm/blitstore/table"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

var _ = Describe("Report", func() {
	var store *pager.Store

	BeforeEach(func() {
		store = newStore()
		update(store, nil, func(t *table.Table) {
			for i := 0; i < 10; i++ {
				_, err := t.Insert(user(userKey(i), "Berlin", int64(i), 20))
				Expect(err).NotTo(HaveOccurred())
			}
			for i := 10; i < 12; i++ {
				_, err := t.Insert(user(userKey(i), "Berlin", int64(i), 2000))
				Expect(err).NotTo(HaveOccurred())
			}
		})
	})

	AfterEach(func() {
		Expect(store.Close()).To(Succeed())
	})

	structure := func(rep table.TableReport, typ string) table.StructureReport {
		for _, s := range rep.Structures {
			if s.Type == typ {
				return s
			}
		}
		Fail("missing structure " + typ)
		return table.StructureReport{}
	}

	It("should estimate", func() {
		view(store, func(t *table.Table) {
			rep, err := t.GetReport(false)
			Expect(err).NotTo(HaveOccurred())
			Expect(rep.Name).To(Equal("users"))
			Expect(rep.NumberOfEntries).To(Equal(int64(12)))
			Expect(rep.Exact).To(BeFalse())
			Expect(rep.Structures).To(HaveLen(6))

			sections := structure(rep, table.StructureSections)
			Expect(sections.NumberOfEntries).To(Equal(int64(10)))
			Expect(sections.Pages).To(Equal(int64(5)))
			Expect(sections.AllocatedBytes).To(Equal(int64(5 * 4096)))
			Expect(sections.UsedBytes).To(BeNumerically("<", 4096))

			large := structure(rep, table.StructureLargeRows)
			Expect(large.NumberOfEntries).To(Equal(int64(2)))
			Expect(large.Pages).To(Equal(int64(2)))
			Expect(large.UsedBytes).To(Equal(large.AllocatedBytes))

			fixed := structure(rep, table.StructureFixedIndex)
			Expect(fixed.Name).To(Equal("users/fixed/seq"))
			Expect(fixed.NumberOfEntries).To(Equal(int64(12)))
			Expect(fixed.Pages).To(BeZero())
			Expect(fixed.UsedBytes).To(Equal(int64(12 * 16)))
			Expect(fixed.AllocatedBytes).To(Equal(fixed.UsedBytes))

			var allocated, used int64
			for _, s := range rep.Structures {
				allocated += s.AllocatedBytes
				used += s.UsedBytes
			}
			Expect(rep.AllocatedBytes).To(Equal(allocated))
			Expect(rep.UsedBytes).To(Equal(used))
		})
	})

	It("should measure exactly", func() {
		view(store, func(t *table.Table) {
			rep, err := t.GetReport(true)
			Expect(err).NotTo(HaveOccurred())
			Expect(rep.Exact).To(BeTrue())

			for _, s := range rep.Structures {
				Expect(s.UsedBytes).To(BeNumerically(">", 0), "for %s", s.Name)
				Expect(s.UsedBytes).To(BeNumerically("<=", s.AllocatedBytes), "for %s", s.Name)
			}

			large := structure(rep, table.StructureLargeRows)
			Expect(large.UsedBytes).To(BeNumerically(">", 4000))
			Expect(large.UsedBytes).To(BeNumerically("<", large.AllocatedBytes))

			pages, err := t.AllPages()
			Expect(err).NotTo(HaveOccurred())
			var total int64
			for _, s := range rep.Structures {
				total += s.Pages
			}
			Expect(total).To(Equal(int64(len(pages))))
		})
	})

	It("should report paged fixed indexes", func() {
		update(store, nil, func(t *table.Table) {
			for i := 12; i < 100; i++ {
				_, err := t.Insert(user(userKey(i), "Berlin", int64(i), 20))
				Expect(err).NotTo(HaveOccurred())
			}
		})

		view(store, func(t *table.Table) {
			for _, exact := range []bool{false, true} {
				rep, err := t.GetReport(exact)
				Expect(err).NotTo(HaveOccurred())

				fixed := structure(rep, table.StructureFixedIndex)
				Expect(fixed.NumberOfEntries).To(Equal(int64(100)))
				Expect(fixed.Pages).To(BeNumerically(">", 0))
				Expect(fixed.AllocatedBytes).To(Equal(fixed.Pages * 4096))
				Expect(fixed.UsedBytes).To(Equal(100*16 + fixed.Pages*pager.HeaderSize))
				Expect(fixed.UsedBytes).To(BeNumerically("<=", fixed.AllocatedBytes))
			}
		})
	})

	It("should collect metrics", func() {
		c := table.NewCollector(store, false, "users")
		Expect(testutil.CollectAndCount(c)).To(Equal(4 + 6*4))
		Expect(testutil.CollectAndCount(c, "blitstore_table_entries")).To(Equal(6))
		Expect(testutil.CollectAndCount(c, "blitstore_store_readers")).To(Equal(1))

		c = table.NewCollector(store, true, "users")
		Expect(testutil.CollectAndCount(c, "blitstore_table_used_bytes")).To(Equal(6))
	})
})
