package table_test

import (
	"github.com/bsm/blitstore"
	"github.com/bsm/blitstore/table"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var _ = Describe("Row", func() {
	var b table.RowBuilder

	BeforeEach(func() {
		b.Reset()
	})

	It("should encode and parse", func() {
		data := b.AddString("users/1").AddInt64(-42).Add(nil).Add([]byte{1, 2, 3}).Bytes()
		Expect(data).To(HaveLen(1 + 4 + 7 + 8 + 3))

		row, err := table.ParseRow(data)
		Expect(err).NotTo(HaveOccurred())
		Expect(row.Bytes()).To(Equal(data))
		Expect(row.NumColumns()).To(Equal(4))
		Expect(row.String(0)).To(Equal("users/1"))
		Expect(row.Int64(1)).To(Equal(int64(-42)))
		Expect(row.Column(2)).To(BeEmpty())
		Expect(row.Column(3)).To(Equal([]byte{1, 2, 3}))
		Expect(row.Column(4)).To(BeNil())
		Expect(row.Column(-1)).To(BeNil())

		_, err = row.Int64(0)
		Expect(err).To(MatchError(`table: column 0 has 7 bytes, not an int64`))
	})

	It("should append", func() {
		dst := b.AddString("a").AppendTo([]byte("prefix"))
		Expect(dst).To(Equal([]byte("prefix\x01\x01a")))
	})

	It("should parse empty rows", func() {
		row, err := table.ParseRow(b.Bytes())
		Expect(err).NotTo(HaveOccurred())
		Expect(row.NumColumns()).To(BeZero())
		Expect(row.Column(0)).To(BeNil())
	})

	It("should reject corrupt rows", func() {
		data := b.AddString("users/1").AddString("Berlin").Bytes()

		for _, bad := range [][]byte{
			nil,
			{0x80},
			data[:1],
			data[:len(data)-1],
			append(data, 'x'),
		} {
			_, err := table.ParseRow(bad)
			Expect(blitstore.IsCorrupted(err)).To(BeTrue(), "for %q", bad)
		}
	})
})

var _ = Describe("Schema", func() {
	var b table.RowBuilder

	It("should derive keys", func() {
		row, err := table.ParseRow(b.AddString("a").AddString("b").AddInt64(7).Bytes())
		Expect(err).NotTo(HaveOccurred())

		Expect(table.IndexDef{Column: 1}.Key(row)).To(Equal([]byte("b")))
		Expect(table.IndexDef{Column: 0, Count: 2}.Key(row)).To(Equal([]byte("ab")))
		Expect(table.FixedIndexDef{Column: 2}.Key(row)).To(Equal(int64(7)))

		_, err = table.IndexDef{Column: 2, Count: 2}.Key(row)
		Expect(err).To(MatchError(`table: row has 3 columns, need 4`))
	})

	It("should validate", func() {
		Expect(usersSchema.Validate()).To(Succeed())

		s := usersSchema
		s.PrimaryKey.Column = -1
		Expect(s.Validate()).To(MatchError(`table: invalid primary key column -1`))

		s = usersSchema
		s.FixedIndexes = []table.FixedIndexDef{{Name: "city", Column: 2}}
		Expect(s.Validate()).To(MatchError(`table: duplicate index "city"`))
	})
})
