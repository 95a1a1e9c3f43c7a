package pager

// CrashAfterJournal makes the next commit of a file store stop right after
// its journal record was synced.
func (s *Store) CrashAfterJournal() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.backend.(*fileBackend).crashAfterJournal = true
}
