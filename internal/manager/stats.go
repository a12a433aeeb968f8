package manager

// Stats is the §6 statistics surface returned by GetStats.
type Stats struct {
	LiveCount        int
	TotalDocuments   int
	NamespaceCounts  map[string]int
	MonitoringEnabled bool
	DefaultTimeoutMS  int64
	ActiveTimers      int
	OffloadDirectory  string
}

// GetStats computes a point-in-time snapshot of the manager's live
// state (§4.4.4 "Other operations" / §6 "Statistics surface").
func (m *Manager) GetStats() Stats {
	m.mu.Lock()
	entries := make([]*liveIndex, 0, len(m.live))
	for _, li := range m.live {
		entries = append(entries, li)
	}
	monitoring := m.monitoringEnabled
	m.mu.Unlock()

	st := Stats{
		NamespaceCounts:   make(map[string]int),
		MonitoringEnabled: monitoring,
		DefaultTimeoutMS:  m.cfg.DefaultInactivityTimeout.Milliseconds(),
		OffloadDirectory:  m.cfg.OffloadDir,
	}

	for _, li := range entries {
		li.mu.Lock()
		st.LiveCount++
		st.TotalDocuments += li.documentCount
		st.NamespaceCounts[namespaceOf(li.id)]++
		if li.timer != nil {
			st.ActiveTimers++
		}
		li.mu.Unlock()
	}

	return st
}
