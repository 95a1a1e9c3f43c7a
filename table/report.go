package table

import (
	"github.com/bsm/blitstore/pager"
	"github.com/bsm/blitstore/tree"
)

// Structure types of a report.
const (
	StructureTree       = "tree"
	StructureFixedIndex = "fixed_index"
	StructureSections   = "sections"
	StructureLargeRows  = "large_rows"
)

// StructureReport describes the space taken by one structure of a table.
type StructureReport struct {
	Name            string
	Type            string
	NumberOfEntries int64
	Pages           int64
	AllocatedBytes  int64
	UsedBytes       int64
}

// TableReport describes the space taken by a table.
type TableReport struct {
	Name            string
	NumberOfEntries int64
	Exact           bool
	Structures      []StructureReport
	AllocatedBytes  int64
	UsedBytes       int64
}

// GetReport reports the space taken by the table. Without exact, trees are
// assumed to use all of their pages and nested index trees are not walked.
func (t *Table) GetReport(exact bool) (TableReport, error) {
	rep := TableReport{
		Name:            t.name,
		NumberOfEntries: t.NumberOfEntries(),
		Exact:           exact,
	}

	trees := []*tree.Tree{t.meta, t.pk}
	for _, d := range t.schema.Indexes {
		trees = append(trees, t.idx[d.Name])
	}
	for _, tt := range trees {
		s, err := t.treeReport(tt, exact)
		if err != nil {
			return rep, err
		}
		rep.add(s)
	}

	for _, d := range t.schema.FixedIndexes {
		rep.add(t.fixedReport(d))
	}

	sections, err := t.sectionsReport()
	if err != nil {
		return rep, err
	}
	rep.add(sections)

	large, err := t.largeRowsReport(exact)
	if err != nil {
		return rep, err
	}
	rep.add(large)
	return rep, nil
}

func (r *TableReport) add(s StructureReport) {
	r.Structures = append(r.Structures, s)
	r.AllocatedBytes += s.AllocatedBytes
	r.UsedBytes += s.UsedBytes
}

func (t *Table) treeReport(tt *tree.Tree, exact bool) (StructureReport, error) {
	ps := int64(t.tx.PageSize())
	st := tt.State()
	s := StructureReport{
		Name:            tt.Name(),
		Type:            StructureTree,
		NumberOfEntries: st.NumberOfEntries,
		Pages:           st.PageCount(),
	}
	if !exact {
		s.AllocatedBytes = s.Pages * ps
		s.UsedBytes = s.AllocatedBytes
		return s, nil
	}

	u, err := tt.Usage()
	if err != nil {
		return s, err
	}
	s.Pages = u.Pages
	s.AllocatedBytes = u.Pages * ps
	s.UsedBytes = u.UsedBytes
	return s, nil
}

// fixedReport reports a fixed index. An embedded tree lives inside a node of
// the root tree, its bytes are counted as allocated and used without pages.
func (t *Table) fixedReport(d FixedIndexDef) StructureReport {
	f := t.fixed[d.Name]
	s := StructureReport{
		Name:            fixedTreeName(t.name, d.Name),
		Type:            StructureFixedIndex,
		NumberOfEntries: f.NumberOfEntries(),
		Pages:           f.PageCount(),
		UsedBytes:       f.NumberOfEntries() * int64(8+f.ValueSize()),
	}
	if f.IsEmbedded() {
		s.AllocatedBytes = s.UsedBytes
		return s
	}
	s.AllocatedBytes = s.Pages * int64(t.tx.PageSize())
	s.UsedBytes += s.Pages * pager.HeaderSize
	return s
}

func (t *Table) sectionsReport() (StructureReport, error) {
	ps := t.tx.PageSize()
	s := StructureReport{
		Name:            t.name + "/sections",
		Type:            StructureSections,
		NumberOfEntries: t.raw.state.SmallRows,
	}
	for _, sec := range t.raw.state.Sections {
		h, err := t.raw.header(sec)
		if err != nil {
			return s, err
		}
		s.Pages += int64(1 + h.pageCount())
		s.UsedBytes += h.liveBytes()
	}
	s.AllocatedBytes = s.Pages * int64(ps)
	return s, nil
}

func (t *Table) largeRowsReport(exact bool) (StructureReport, error) {
	ps := int64(t.tx.PageSize())
	st := t.raw.state
	s := StructureReport{
		Name:            t.name + "/large",
		Type:            StructureLargeRows,
		NumberOfEntries: st.LargeRows,
		Pages:           st.LargePages,
		AllocatedBytes:  st.LargePages * ps,
	}
	if !exact {
		s.UsedBytes = s.AllocatedBytes
		return s, nil
	}

	err := t.eachLargeRow(func(_ int64, data []byte) error {
		s.UsedBytes += int64(pager.HeaderSize + len(data))
		return nil
	})
	return s, err
}

// eachLargeRow calls fn for every row stored in its own pages.
func (t *Table) eachLargeRow(fn func(id int64, data []byte) error) error {
	ps := int64(t.tx.PageSize())
	it := t.pk.Iterate(nil)
	for ok := it.SeekTo(tree.BeforeAllKeys); ok; ok = it.Next() {
		val, err := it.Value()
		if err != nil {
			return err
		}
		id, err := decodeID(val)
		if err != nil {
			return err
		}
		if id%ps != 0 {
			continue
		}
		data, err := t.mustReadRaw(id)
		if err != nil {
			return err
		}
		if err := fn(id, data); err != nil {
			return err
		}
	}
	return it.Err()
}
