package table_test

import (
	"fmt"
	"sort"

	"github.com/bsm/blitstore/pager"
	"github.com/bsm/blitstore/table"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var _ = Describe("Table properties", func() {
	cities := []string{"Berlin", "London", "Paris"}

	It("should match a model", func() {
		params := gopter.DefaultTestParameters()
		params.MinSuccessfulTests = 20
		props := gopter.NewProperties(params)

		props.Property("sets and deletes", prop.ForAll(
			func(ops []int) bool {
				s := newStore()
				defer s.Close()

				o := &table.Options{InitialSectionPages: 1, MaxSectionPages: 2}
				if err := s.Update(func(tx *pager.Tx) error {
					_, err := table.Create(tx, "users", usersSchema, o)
					return err
				}); err != nil {
					return false
				}

				expected := make(map[string]int)
				for len(ops) > 0 {
					batch := ops
					if len(batch) > 50 {
						batch = batch[:50]
					}
					ops = ops[len(batch):]

					err := s.Update(func(tx *pager.Tx) error {
						t, err := table.Create(tx, "users", usersSchema, o)
						if err != nil {
							return err
						}
						for _, op := range batch {
							n := op % 60
							k := userKey(n)
							if op%7 == 0 {
								if _, err := t.DeleteByKey([]byte(k)); err != nil {
									return err
								}
								delete(expected, k)
								continue
							}
							if _, err := t.Set(user(k, cities[op%3], int64(n), payloadSize(op))); err != nil {
								return err
							}
							expected[k] = op
						}
						return t.Validate()
					})
					if err != nil {
						return false
					}
				}

				want := make([]string, 0, len(expected))
				for k := range expected {
					want = append(want, k)
				}
				sort.Strings(want)

				var got []string
				err := s.View(func(tx *pager.Tx) error {
					t, err := table.Open(tx, "users", nil)
					if err != nil {
						return err
					}
					if err := t.Validate(); err != nil {
						return err
					}

					it := t.SeekByPrimaryKey(nil, false)
					for it.Next() {
						k := string(it.Key())
						row := it.Record().Row
						if len(row.Column(3)) != payloadSize(expected[k]) {
							return fmt.Errorf("bad payload at %q", k)
						}
						if row.String(1) != cities[expected[k]%3] {
							return fmt.Errorf("bad city at %q", k)
						}
						got = append(got, k)
					}
					return it.Err()
				})
				if err != nil {
					return false
				}
				return fmt.Sprint(got) == fmt.Sprint(want)
			},
			gen.SliceOf(gen.IntRange(0, 100000)),
		))

		Expect(props.Run(gopter.NewFormatedReporter(false, 80, GinkgoWriter))).To(BeTrue())
	})
})

// payloadSize derives a payload size from an operation, some rows are large.
func payloadSize(op int) int {
	if op%13 == 0 {
		return 1500 + op%2000
	}
	return op % 300
}
