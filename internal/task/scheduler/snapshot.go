package scheduler

// Snapshot returns the current scheduler state.
func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		Interval:  s.interval,
		Running:   s.running,
		Pending:   len(s.trigger) > 0,
		NextRun:   s.next,
		LastStart: s.lastStart,
		LastEnd:   s.lastEnd,
		Cycles:    s.cycles,
	}
}
