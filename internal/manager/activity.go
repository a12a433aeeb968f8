package manager

import (
	"time"
)

// rearmTimerLocked cancels any existing timer on li and arms a new one
// if monitoring is enabled globally and on li, and the effective
// timeout is positive (§4.4.2, I6). Caller must hold li.mu.
func (m *Manager) rearmTimerLocked(li *liveIndex) {
	if li.timer != nil {
		li.timer.Stop()
		li.timer = nil
	}

	if !m.monitoringEnabled || li.opts.DisableActivityMonitoring {
		return
	}
	timeout := m.effectiveTimeout(li)
	if timeout <= 0 {
		return
	}

	id := li.id
	li.timer = time.AfterFunc(timeout, func() {
		if err := m.offload(id, "inactivity"); err != nil {
			m.logBackgroundError(id, "inactivity-offload", err)
		}
	})
}

// cancelTimerLocked stops li's timer without rearming. Caller must hold li.mu.
func cancelTimerLocked(li *liveIndex) {
	if li.timer != nil {
		li.timer.Stop()
		li.timer = nil
	}
}

// SetActivityMonitoring is the global toggle (§4.4.2): turning it off
// cancels every inactivity timer but leaves each index's own
// DisableActivityMonitoring flag untouched; turning it back on re-arms
// timers per each index's setting.
func (m *Manager) SetActivityMonitoring(enabled bool) {
	m.mu.Lock()
	all := make([]*liveIndex, 0, len(m.live))
	for _, li := range m.live {
		all = append(all, li)
	}
	m.monitoringEnabled = enabled
	m.mu.Unlock()

	for _, li := range all {
		li.mu.Lock()
		if enabled {
			m.rearmTimerLocked(li)
		} else {
			cancelTimerLocked(li)
		}
		li.mu.Unlock()
	}
}

// SetInactivityTimeout updates id's per-index timeout (in milliseconds),
// cancels any current timer, and arms a new one if monitoring permits.
func (m *Manager) SetInactivityTimeout(id string, ms int64) error {
	li, err := m.lookupReady(id)
	if err != nil {
		return err
	}
	li.mu.Lock()
	defer li.mu.Unlock()
	li.opts.InactivityTimeoutMS = ms
	m.rearmTimerLocked(li)
	return nil
}

// GetTimeUntilOffload reports max(0, timeout-(now-lastActivity)) in
// milliseconds, or (0, false) when monitoring is disabled for id.
func (m *Manager) GetTimeUntilOffload(id string) (int64, bool, error) {
	li, err := m.lookupReady(id)
	if err != nil {
		return 0, false, err
	}
	li.mu.Lock()
	defer li.mu.Unlock()

	if !m.monitoringEnabled || li.opts.DisableActivityMonitoring {
		return 0, false, nil
	}
	timeout := m.effectiveTimeout(li)
	if timeout <= 0 {
		return 0, false, nil
	}

	remaining := timeout - time.Since(li.lastActivity)
	if remaining < 0 {
		remaining = 0
	}
	return remaining.Milliseconds(), true, nil
}

// PingInstance updates activity for id and reports whether it is live.
func (m *Manager) PingInstance(id string) bool {
	li, err := m.lookupReady(id)
	if err != nil {
		return false
	}
	li.mu.Lock()
	m.bumpActivity(li)
	li.mu.Unlock()
	return true
}
