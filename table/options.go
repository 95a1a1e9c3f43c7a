// Package table implements tables of rows on top of the tree package.
//
// A table keeps its rows in raw data sections: small rows are packed into
// the pages of a section, large rows get their own page runs. The primary
// key maps to the row id, secondary indexes map derived keys to sets of row
// ids. Row ids are stable until a row moves to a different storage class or
// its section is evacuated.
package table

import (
	"github.com/bsm/blitstore/pager"
	"go.uber.org/zap"
)

// Options define table specific options.
type Options struct {
	// MaxItemSize is the largest row packed into a raw data section. Larger
	// rows are stored in dedicated pages.
	// Default: (pageSize - pager.HeaderSize) / 4.
	MaxItemSize int

	// ReuseDensity is the section density below which a section becomes a
	// candidate to receive new rows again.
	// Default: 0.5.
	ReuseDensity float64

	// CompactionDensity is the section density below which the remaining
	// rows of a section are moved out and the section is freed.
	// Default: 0.15.
	CompactionDensity float64

	// InitialSectionPages is the number of data pages of the first section.
	// Each further section doubles in size.
	// Default: 4.
	InitialSectionPages int

	// MaxSectionPages caps the number of data pages of a section.
	// Default: 64.
	MaxSectionPages int

	// Logger receives section allocation and evacuation events.
	// Default: no-op.
	Logger *zap.Logger
}

func (o *Options) norm(pageSize int) *Options {
	var oo Options
	if o != nil {
		oo = *o
	}

	if max := (pageSize - pager.HeaderSize) / 4; oo.MaxItemSize < 1 || oo.MaxItemSize > max {
		oo.MaxItemSize = max
	}
	if oo.ReuseDensity <= 0 || oo.ReuseDensity > 1 {
		oo.ReuseDensity = 0.5
	}
	if oo.CompactionDensity <= 0 || oo.CompactionDensity > oo.ReuseDensity {
		oo.CompactionDensity = 0.15
		if oo.CompactionDensity > oo.ReuseDensity {
			oo.CompactionDensity = oo.ReuseDensity
		}
	}
	if oo.MaxSectionPages < 1 {
		oo.MaxSectionPages = 64
	}
	if max := (pageSize - pager.HeaderSize) / 8; oo.MaxSectionPages > max {
		oo.MaxSectionPages = max
	}
	if oo.InitialSectionPages < 1 {
		oo.InitialSectionPages = 4
	}
	if oo.InitialSectionPages > oo.MaxSectionPages {
		oo.InitialSectionPages = oo.MaxSectionPages
	}
	if oo.Logger == nil {
		oo.Logger = zap.NewNop()
	}
	return &oo
}
