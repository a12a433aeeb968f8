package manager

import (
	"sync"
	"time"

	"github.com/fyrsmithlabs/indexmanager/internal/sandbox"
)

// liveIndex is M's in-memory record for one live index (§3 "Live
// index"). All mutation of its fields happens under mu, which also
// serializes every sandbox RPC round-trip for this id (§5): two
// operations against different ids run in parallel, but operations
// against the same id queue behind this lock.
type liveIndex struct {
	mu sync.Mutex

	id      string
	sandbox sandbox.Sandbox
	created time.Time
	opts    CreationOptions

	documentCount      int
	embeddingDimension int
	fromOffload        bool

	lastActivity time.Time
	timer        *time.Timer
	ready        chan struct{} // closed once initialization completes
	initErr      error
}

// bumpActivity updates lastActivity and, if monitoring permits, re-arms
// the inactivity timer (§4.4.2). Caller must hold li.mu.
func (m *Manager) bumpActivity(li *liveIndex) {
	li.lastActivity = time.Now()
	m.rearmTimerLocked(li)
}

// effectiveTimeout returns the per-index timeout, falling back to the
// manager default when unset.
func (m *Manager) effectiveTimeout(li *liveIndex) time.Duration {
	if li.opts.InactivityTimeoutMS > 0 {
		return time.Duration(li.opts.InactivityTimeoutMS) * time.Millisecond
	}
	return m.cfg.DefaultInactivityTimeout
}
