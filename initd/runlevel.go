package initd

// Switch changes the runlevel to target. Services that do not belong to target
// are stopped, then every table entry that does is started in declaration
// order. Entries that are already running are started again unless SkipActive
// is set.
func (s *Supervisor) Switch(target Runlevel) {
	prev := s.runlevel
	s.runlevel = target

	s.j.Write(&EventRunlevelSwitched{From: prev, To: target})

	for _, id := range s.ActiveIDs() {
		entry, ok := s.entryFor(id, s.table)
		if ok && entry.Runlevels.Has(target) {
			continue
		}
		// Stop journals its own failure.
		s.stopID(id)
	}

	for _, entry := range s.table.Entries() {
		if !entry.Runlevels.Has(target) {
			continue
		}
		if s.SkipActive && s.running(entry) {
			continue
		}
		s.Start(entry)
	}
}

// Replace swaps in a new service table. If a runlevel is set, services that
// were removed, changed or no longer belong to the runlevel are stopped, and
// services that are new or changed are started. Unchanged services are left
// alone.
func (s *Supervisor) Replace(table *Table) {
	old := s.table
	s.table = table

	if s.runlevel == NoRunlevel {
		return
	}

	for _, id := range s.ActiveIDs() {
		prev, hadPrev := s.entryFor(id, old)

		next, ok := table.Lookup(id)
		if ok && next.Runlevels.Has(s.runlevel) && (!hadPrev || prev.Same(next)) {
			continue
		}

		s.stopID(id)
	}

	for _, entry := range table.Entries() {
		if !entry.Runlevels.Has(s.runlevel) {
			continue
		}
		if prev, ok := old.Lookup(entry.ID); ok && prev.Same(entry) {
			continue
		}
		s.Start(entry)
	}
}
