package table

// NumSections returns the number of raw data sections.
func (t *Table) NumSections() int { return len(t.raw.state.Sections) }

// NumCandidates returns the number of sections marked for reuse.
func (t *Table) NumCandidates() int { return len(t.raw.state.Candidates) }
