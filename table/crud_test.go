package table_test

import (
	"strings"

	"github.com/bsm/blitstore"
	"github.com/bsm/blitstore/pager"
	"github.com/bsm/blitstore/table"
	"github.com/cockroachdb/errors"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var _ = Describe("Table", func() {
	var store *pager.Store

	BeforeEach(func() {
		store = newStore()
	})

	AfterEach(func() {
		Expect(store.Close()).To(Succeed())
	})

	It("should insert and read rows", func() {
		var ids []int64
		update(store, nil, func(t *table.Table) {
			for i := 1; i <= 3; i++ {
				id, err := t.Insert(user(userKey(i), "Berlin", int64(i), 10))
				Expect(err).NotTo(HaveOccurred())
				Expect(id % 4096).NotTo(BeZero())
				ids = append(ids, id)
			}
			Expect(t.NumberOfEntries()).To(Equal(int64(3)))
		})

		view(store, func(t *table.Table) {
			Expect(t.NumberOfEntries()).To(Equal(int64(3)))

			row, ok, err := t.Read(ids[1])
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeTrue())
			Expect(row.String(0)).To(Equal("users/2"))
			Expect(row.String(1)).To(Equal("Berlin"))
			Expect(row.Int64(2)).To(Equal(int64(2)))
			Expect(row.Column(3)).To(HaveLen(10))

			rec := readKey(t, "users/3")
			Expect(rec.ID).To(Equal(ids[2]))

			_, ok, err = t.ReadByKey([]byte("users/4"))
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeFalse())

			_, ok, err = t.Read(ids[0] + 1)
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeFalse())

			_, ok, err = t.Read(1 << 40)
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeFalse())
		})
		expectAccounted(store)
	})

	It("should move rows between storage classes", func() {
		var id, moved int64
		update(store, nil, func(t *table.Table) {
			var err error
			id, err = t.Insert(user("users/1", "London", 1, 0))
			Expect(err).NotTo(HaveOccurred())
			Expect(id % 4096).NotTo(BeZero())
		})

		update(store, nil, func(t *table.Table) {
			var err error
			moved, err = t.Update(id, user("users/1", "London", 1, 2000))
			Expect(err).NotTo(HaveOccurred())
			Expect(moved).NotTo(Equal(id))
			Expect(moved % 4096).To(BeZero())
		})

		view(store, func(t *table.Table) {
			_, ok, err := t.Read(id)
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeFalse())

			rec := readKey(t, "users/1")
			Expect(rec.ID).To(Equal(moved))
			Expect(rec.Row.Column(3)).To(HaveLen(2000))
			Expect(cityIDs(t, "London")).To(Equal([]int64{moved}))

			it, err := t.SeekByFixedIndex("seq", 1)
			Expect(err).NotTo(HaveOccurred())
			Expect(it.Next()).To(BeTrue())
			Expect(it.Record().ID).To(Equal(moved))
		})
		expectAccounted(store)

		update(store, nil, func(t *table.Table) {
			Expect(t.Delete(moved)).To(Succeed())
			Expect(errors.Is(t.Delete(moved), table.ErrNotFound)).To(BeTrue())
		})

		view(store, func(t *table.Table) {
			_, ok, err := t.ReadByKey([]byte("users/1"))
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeFalse())

			it := t.SeekByPrimaryKey([]byte("users/"), true)
			Expect(it.Next()).To(BeFalse())
			Expect(it.Err()).NotTo(HaveOccurred())
			Expect(cityIDs(t, "London")).To(BeEmpty())

			fit, err := t.SeekByFixedIndex("seq", 0)
			Expect(err).NotTo(HaveOccurred())
			Expect(fit.Next()).To(BeFalse())
			Expect(t.NumberOfEntries()).To(BeZero())
		})
		expectAccounted(store)
	})

	It("should update rows in place when they fit", func() {
		update(store, nil, func(t *table.Table) {
			id, err := t.Insert(user("users/2", "Paris", 2, 50))
			Expect(err).NotTo(HaveOccurred())

			Expect(t.Update(id, user("users/2", "Paris", 2, 20))).To(Equal(id))
			Expect(t.Update(id, user("users/2", "Rome", 2, 50))).To(Equal(id))
			Expect(cityIDs(t, "Paris")).To(BeEmpty())
			Expect(cityIDs(t, "Rome")).To(Equal([]int64{id}))

			grown, err := t.Update(id, user("users/2", "Rome", 2, 60))
			Expect(err).NotTo(HaveOccurred())
			Expect(grown).NotTo(Equal(id))
			Expect(grown % 4096).NotTo(BeZero())

			large, err := t.Update(grown, user("users/2", "Rome", 2, 3000))
			Expect(err).NotTo(HaveOccurred())
			Expect(large % 4096).To(BeZero())
			Expect(t.Update(large, user("users/2", "Rome", 2, 3500))).To(Equal(large))

			small, err := t.Update(large, user("users/2", "Rome", 2, 5))
			Expect(err).NotTo(HaveOccurred())
			Expect(small % 4096).NotTo(BeZero())
			Expect(readKey(t, "users/2").ID).To(Equal(small))
		})
		expectAccounted(store)
	})

	It("should change primary keys", func() {
		update(store, nil, func(t *table.Table) {
			id, err := t.Insert(user("users/2", "Paris", 2, 5))
			Expect(err).NotTo(HaveOccurred())
			_, err = t.Insert(user("users/3", "Paris", 3, 5))
			Expect(err).NotTo(HaveOccurred())

			_, err = t.Update(id, user("users/3", "Paris", 2, 5))
			Expect(errors.Is(err, table.ErrDuplicateKey)).To(BeTrue())

			id, err = t.Update(id, user("users/9", "Paris", 2, 5))
			Expect(err).NotTo(HaveOccurred())
			Expect(readKey(t, "users/9").ID).To(Equal(id))

			_, ok, err := t.ReadByKey([]byte("users/2"))
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeFalse())
			Expect(t.NumberOfEntries()).To(Equal(int64(2)))
		})
		expectAccounted(store)
	})

	It("should upsert rows", func() {
		update(store, nil, func(t *table.Table) {
			_, err := t.Set(user("users/4", "Oslo", 4, 5))
			Expect(err).NotTo(HaveOccurred())
			id, err := t.Set(user("users/4", "Bergen", 4, 5))
			Expect(err).NotTo(HaveOccurred())
			Expect(readKey(t, "users/4").ID).To(Equal(id))

			Expect(t.NumberOfEntries()).To(Equal(int64(1)))
			Expect(cityIDs(t, "Oslo")).To(BeEmpty())
			Expect(cityIDs(t, "Bergen")).To(Equal([]int64{id}))
		})
		expectAccounted(store)
	})

	It("should reject duplicate keys", func() {
		update(store, nil, func(t *table.Table) {
			id, err := t.Insert(user("users/1", "Berlin", 1, 5))
			Expect(err).NotTo(HaveOccurred())
			_, err = t.Insert(user("users/2", "Berlin", 2, 5))
			Expect(err).NotTo(HaveOccurred())

			_, err = t.Insert(user("users/1", "Paris", 7, 5))
			Expect(errors.Is(err, table.ErrDuplicateKey)).To(BeTrue())

			_, err = t.Insert(user("users/5", "Paris", 1, 5))
			Expect(errors.Is(err, table.ErrDuplicateKey)).To(BeTrue())

			_, err = t.Update(id, user("users/1", "Paris", 2, 5))
			Expect(errors.Is(err, table.ErrDuplicateKey)).To(BeTrue())

			Expect(t.Update(id, user("users/1", "Paris", 1, 5))).To(Equal(id))
			Expect(t.NumberOfEntries()).To(Equal(int64(2)))
		})
		expectAccounted(store)
	})

	It("should delete rows by key", func() {
		update(store, nil, func(t *table.Table) {
			_, err := t.Insert(user("users/1", "Berlin", 1, 5))
			Expect(err).NotTo(HaveOccurred())

			Expect(t.DeleteByKey([]byte("users/1"))).To(BeTrue())
			Expect(t.DeleteByKey([]byte("users/1"))).To(BeFalse())
			Expect(errors.Is(t.Delete(12345), table.ErrNotFound)).To(BeTrue())

			_, err = t.Update(12345, user("users/1", "Berlin", 1, 5))
			Expect(errors.Is(err, table.ErrNotFound)).To(BeTrue())
		})
		expectAccounted(store)
	})

	It("should reject bad rows", func() {
		update(store, nil, func(t *table.Table) {
			_, err := t.Insert([]byte{5})
			Expect(blitstore.IsCorrupted(err)).To(BeTrue())

			var b table.RowBuilder
			_, err = t.Insert(b.AddString("users/1").Bytes())
			Expect(err).To(MatchError(ContainSubstring("row has 1 columns")))

			b.Reset()
			_, err = t.Insert(b.AddString("users/1").AddString("Berlin").AddString("x").Bytes())
			Expect(err).To(MatchError(ContainSubstring("not an int64")))
			Expect(t.NumberOfEntries()).To(BeZero())
		})
	})

	It("should reject keys that cannot be stored", func() {
		update(store, nil, func(t *table.Table) {
			id, err := t.Insert(user("users/1", "Berlin", 1, 5))
			Expect(err).NotTo(HaveOccurred())

			_, err = t.Insert(user("users/2", "", 2, 5))
			Expect(err).To(MatchError(`table: empty key for index "city"`))

			_, err = t.Insert(user(strings.Repeat("k", 5000), "Berlin", 3, 5))
			Expect(errors.Is(err, blitstore.ErrCapacity)).To(BeTrue())

			_, err = t.Insert(user("users/4", strings.Repeat("c", 2000), 4, 5))
			Expect(errors.Is(err, blitstore.ErrCapacity)).To(BeTrue())

			_, err = t.Update(id, user("users/1", "", 1, 5))
			Expect(err).To(MatchError(`table: empty key for index "city"`))

			_, err = t.Set(user("", "Berlin", 5, 5))
			Expect(err).To(MatchError("table: empty primary key"))

			Expect(t.NumberOfEntries()).To(Equal(int64(1)))
			Expect(cityIDs(t, "Berlin")).To(Equal([]int64{id}))
			Expect(t.Validate()).To(Succeed())
		})
		expectAccounted(store)
	})

	It("should be read-only in read transactions", func() {
		update(store, nil, func(t *table.Table) {})

		Expect(store.View(func(tx *pager.Tx) error {
			_, err := table.Create(tx, "other", usersSchema, nil)
			Expect(errors.Is(err, blitstore.ErrReadOnly)).To(BeTrue())

			_, err = table.Open(tx, "other", nil)
			Expect(errors.Is(err, table.ErrNotFound)).To(BeTrue())

			t, err := table.Open(tx, "users", nil)
			Expect(err).NotTo(HaveOccurred())
			_, err = t.Insert(user("users/1", "Berlin", 1, 5))
			Expect(errors.Is(err, blitstore.ErrReadOnly)).To(BeTrue())
			return nil
		})).To(Succeed())
	})

	It("should check schemas", func() {
		update(store, nil, func(t *table.Table) {})

		Expect(store.Update(func(tx *pager.Tx) error {
			_, err := table.Create(tx, "users", table.Schema{}, nil)
			Expect(err).To(MatchError(ContainSubstring("different schema")))

			_, err = table.Create(tx, "bad", table.Schema{
				Indexes:      []table.IndexDef{{Name: "x", Column: 1}},
				FixedIndexes: []table.FixedIndexDef{{Name: "x", Column: 2}},
			}, nil)
			Expect(err).To(MatchError(ContainSubstring("duplicate index")))
			return nil
		})).To(Succeed())
	})

	It("should seek rows", func() {
		cities := []string{"Berlin", "London", "Paris"}
		update(store, nil, func(t *table.Table) {
			for i := 1; i <= 20; i++ {
				_, err := t.Insert(user(userKey(i), cities[i%3], int64(i), 10))
				Expect(err).NotTo(HaveOccurred())
			}
		})

		view(store, func(t *table.Table) {
			var keys []string
			it := t.SeekByPrimaryKey([]byte("users/1"), true)
			for it.Next() {
				keys = append(keys, string(it.Key()))
				Expect(it.Record().Row.String(0)).To(Equal(string(it.Key())))
			}
			Expect(it.Err()).NotTo(HaveOccurred())
			Expect(keys).To(HaveLen(11))
			Expect(keys[0]).To(Equal("users/1"))
			Expect(keys[1]).To(Equal("users/10"))

			keys = keys[:0]
			it = t.SeekByPrimaryKey([]byte("users/5"), false)
			for it.Next() {
				keys = append(keys, string(it.Key()))
			}
			Expect(keys).To(Equal([]string{"users/5", "users/6", "users/7", "users/8", "users/9"}))

			var groups []string
			var total int
			ix, err := t.SeekForwardFrom("city", []byte("L"), false)
			Expect(err).NotTo(HaveOccurred())
			for ix.Next() {
				groups = append(groups, string(ix.Key()))
				recs, err := ix.Records()
				Expect(err).NotTo(HaveOccurred())
				for _, rec := range recs {
					Expect(rec.Row.String(1)).To(Equal(string(ix.Key())))
				}
				total += len(recs)
			}
			Expect(ix.Err()).NotTo(HaveOccurred())
			Expect(groups).To(Equal([]string{"London", "Paris"}))
			Expect(total).To(Equal(14))

			ix, err = t.SeekForwardFrom("city", []byte("B"), true)
			Expect(err).NotTo(HaveOccurred())
			Expect(ix.Next()).To(BeTrue())
			Expect(ix.Key()).To(Equal([]byte("Berlin")))
			Expect(ix.Next()).To(BeFalse())

			var seqs []int64
			fit, err := t.SeekByFixedIndex("seq", 15)
			Expect(err).NotTo(HaveOccurred())
			for fit.Next() {
				seqs = append(seqs, fit.Key())
				Expect(fit.Record().Row.Int64(2)).To(Equal(fit.Key()))
			}
			Expect(fit.Err()).NotTo(HaveOccurred())
			Expect(seqs).To(Equal([]int64{15, 16, 17, 18, 19, 20}))

			_, err = t.SeekForwardFrom("age", nil, false)
			Expect(err).To(MatchError(ContainSubstring(`no index "age"`)))
			_, err = t.SeekByFixedIndex("city", 0)
			Expect(err).To(MatchError(ContainSubstring(`no fixed index "city"`)))
		})
	})
})
