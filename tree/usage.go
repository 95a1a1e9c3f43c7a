package tree

import "github.com/bsm/blitstore/pager"

// Usage summarizes the space taken by a tree.
type Usage struct {
	Pages     int64 // tree pages, overflow runs and pages of nested fixed-size trees
	UsedBytes int64 // headers, slots, nodes, overflow values and fixed entries
}

// Usage walks all pages of the tree and its nested fixed-size trees. Nested
// named trees are not included.
func (t *Tree) Usage() (Usage, error) {
	var u Usage
	if t.state.RootPage == 0 {
		return u, nil
	}

	ps := t.pageSize()
	err := t.walk(t.state.RootPage, t.state.Depth-1, func(p *TreePage) error {
		u.Pages++
		if p.IsCompressed() {
			u.UsedBytes += int64(pager.HeaderSize) + int64(p.OverflowSize())
		} else {
			u.UsedBytes += int64(pager.HeaderSize + p.sizeUsed())
		}
		if p.IsBranch() {
			return nil
		}

		view, err := p.Decompress()
		if err != nil {
			return err
		}
		for i, cnt := 0, view.NumberOfEntries(); i < cnt; i++ {
			nd := view.node(i)
			switch {
			case nd.flags()&NodeOverflow != 0:
				op, err := t.tx.GetPage(nd.pageNumber())
				if err != nil {
					return err
				}
				u.Pages += int64(op.PageCount(ps))
				u.UsedBytes += int64(pager.HeaderSize) + int64(op.OverflowSize())

			case nd.flags()&NodeFixedTree != 0:
				f := &FixedSizeTree{parent: t}
				if err := f.decode(nd.data()); err != nil {
					return err
				}
				if err := f.walk(func(fp *fixedPage) error {
					u.Pages++
					u.UsedBytes += int64(pager.HeaderSize + fp.entriesSize())
					return nil
				}); err != nil {
					return err
				}
			}
		}
		return nil
	})
	return u, err
}
