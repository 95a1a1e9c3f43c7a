package table

import (
	"bytes"
	"math"
	"sort"

	"github.com/bsm/blitstore"
	"github.com/bsm/blitstore/pager"
	"github.com/bsm/blitstore/tree"
)

// AllPages returns the numbers of all pages owned by the table in ascending
// order.
func (t *Table) AllPages() ([]uint64, error) {
	var pages []uint64

	trees := []*tree.Tree{t.meta, t.pk}
	for _, d := range t.schema.Indexes {
		trees = append(trees, t.idx[d.Name])
	}
	for _, tt := range trees {
		ps, err := tt.AllPages()
		if err != nil {
			return nil, err
		}
		pages = append(pages, ps...)
	}
	for _, d := range t.schema.FixedIndexes {
		ps, err := t.fixed[d.Name].AllPages()
		if err != nil {
			return nil, err
		}
		pages = append(pages, ps...)
	}

	if err := t.raw.pages(func(n uint64) error {
		pages = append(pages, n)
		return nil
	}); err != nil {
		return nil, err
	}

	ps := t.tx.PageSize()
	if err := t.eachLargeRow(func(id int64, data []byte) error {
		n := uint64(id / int64(ps))
		for i := 0; i < pager.OverflowPages(len(data), ps); i++ {
			pages = append(pages, n+uint64(i))
		}
		return nil
	}); err != nil {
		return nil, err
	}

	sort.Slice(pages, func(i, j int) bool { return pages[i] < pages[j] })
	return pages, nil
}

// Validate checks the trees of the table, the raw data sections and that
// every key and index entry references a live row deriving that key.
func (t *Table) Validate() error {
	for _, tt := range []*tree.Tree{t.meta, t.pk} {
		if err := tt.Validate(); err != nil {
			return err
		}
	}
	for _, d := range t.schema.Indexes {
		if err := t.idx[d.Name].Validate(); err != nil {
			return err
		}
	}

	if err := t.validateSections(); err != nil {
		return err
	}
	if err := t.validatePrimaryKey(); err != nil {
		return err
	}
	for _, d := range t.schema.Indexes {
		if err := t.validateIndex(d); err != nil {
			return err
		}
	}
	for _, d := range t.schema.FixedIndexes {
		if err := t.validateFixedIndex(d); err != nil {
			return err
		}
	}
	return nil
}

func (t *Table) validateSections() error {
	var rows int64
	for _, sec := range t.raw.state.Sections {
		h, err := t.raw.header(sec)
		if err != nil {
			return err
		}

		var live int64
		for i := 0; i < h.pageCount(); i++ {
			p, err := t.tx.GetPage(h.dataPage(i))
			if err != nil {
				return err
			}
			dp, ok := asDataPage(p)
			if !ok {
				return blitstore.Corruptf("table: page %d of section %d is not a data page", p.Number, sec)
			}
			if dp.section() != sec {
				return blitstore.Corruptf("table: page %d belongs to section %d, not %d", p.Number, dp.section(), sec)
			}

			var used, count int
			if err := dp.each(func(e rawEntry) error {
				if e.live {
					used += rawEntryHeader + e.alloc
					count++
				}
				return nil
			}); err != nil {
				return err
			}
			if used != dp.liveBytes() || count != dp.liveRows() {
				return blitstore.Corruptf("table: page %d has %d live rows in %d bytes, header says %d in %d",
					p.Number, count, used, dp.liveRows(), dp.liveBytes())
			}
			live += int64(used)
			rows += int64(count)
		}
		if live != h.liveBytes() {
			return blitstore.Corruptf("table: section %d has %d live bytes, header says %d", sec, live, h.liveBytes())
		}
	}
	if rows != t.raw.state.SmallRows {
		return blitstore.Corruptf("table: %q has %d small rows, state says %d", t.name, rows, t.raw.state.SmallRows)
	}
	return nil
}

func (t *Table) validatePrimaryKey() error {
	var small, large int64
	ps := int64(t.tx.PageSize())

	it := t.SeekByPrimaryKey(nil, false)
	for it.Next() {
		rec := it.Record()
		pk, err := t.schema.PrimaryKey.Key(rec.Row)
		if err != nil {
			return err
		}
		if !bytes.Equal(pk, it.Key()) {
			return blitstore.Corruptf("table: key %q references row %d with key %q", it.Key(), rec.ID, pk)
		}
		if rec.ID%ps == 0 {
			large++
		} else {
			small++
		}
	}
	if err := it.Err(); err != nil {
		return err
	}

	st := t.raw.state
	if small != st.SmallRows || large != st.LargeRows {
		return blitstore.Corruptf("table: %q references %d small and %d large rows, state says %d and %d",
			t.name, small, large, st.SmallRows, st.LargeRows)
	}
	return nil
}

func (t *Table) validateIndex(d IndexDef) error {
	it, err := t.SeekForwardFrom(d.Name, nil, false)
	if err != nil {
		return err
	}

	var total int64
	for it.Next() {
		recs, err := it.Records()
		if err != nil {
			return err
		}
		if len(recs) == 0 {
			return blitstore.Corruptf("table: empty key %q in index %q", it.Key(), d.Name)
		}
		for _, rec := range recs {
			if err := t.checkLive(rec); err != nil {
				return err
			}
			key, err := d.Key(rec.Row)
			if err != nil {
				return err
			}
			if !bytes.Equal(key, it.Key()) {
				return blitstore.Corruptf("table: index %q maps %q to row %d with key %q", d.Name, it.Key(), rec.ID, key)
			}
		}
		total += int64(len(recs))
	}
	if err := it.Err(); err != nil {
		return err
	}
	if total != t.NumberOfEntries() {
		return blitstore.Corruptf("table: index %q has %d entries for %d rows", d.Name, total, t.NumberOfEntries())
	}
	return nil
}

func (t *Table) validateFixedIndex(d FixedIndexDef) error {
	it, err := t.SeekByFixedIndex(d.Name, math.MinInt64)
	if err != nil {
		return err
	}

	var total int64
	for it.Next() {
		rec := it.Record()
		if err := t.checkLive(rec); err != nil {
			return err
		}
		key, err := d.Key(rec.Row)
		if err != nil {
			return err
		}
		if key != it.Key() {
			return blitstore.Corruptf("table: fixed index %q maps %d to row %d with key %d", d.Name, it.Key(), rec.ID, key)
		}
		total++
	}
	if err := it.Err(); err != nil {
		return err
	}
	if total != t.NumberOfEntries() {
		return blitstore.Corruptf("table: fixed index %q has %d entries for %d rows", d.Name, total, t.NumberOfEntries())
	}
	return nil
}

// checkLive fails unless the primary key of rec maps back to its id.
func (t *Table) checkLive(rec Record) error {
	pk, err := t.schema.PrimaryKey.Key(rec.Row)
	if err != nil {
		return err
	}
	id, ok, err := t.lookup(pk)
	if err != nil {
		return err
	}
	if !ok || id != rec.ID {
		return blitstore.Corruptf("table: %q references stale row %d", t.name, rec.ID)
	}
	return nil
}
