// Package accnt tracks per-environment CPU time accounting. Grounded on
// biscuit/src/accnt/accnt.go, keeping its Userns/Sysns atomic-counter
// structure and Add/Fetch merge-under-lock pattern, but dropping
// To_rusage's POSIX rusage byte encoding: this spec has no POSIX surface
// (Non-goals, §1), so Fetch returns the two durations directly instead of
// a serialized struct meant to be copied into a user buffer.
package accnt

import (
	"sync"
	"sync/atomic"
	"time"
)

// Accnt accumulates nanoseconds of user and system time for one environment.
type Accnt struct {
	Userns int64
	Sysns  int64
	mu     sync.Mutex
}

// Utadd adds delta nanoseconds of user time.
func (a *Accnt) Utadd(delta time.Duration) {
	atomic.AddInt64(&a.Userns, int64(delta))
}

// Systadd adds delta nanoseconds of system time.
func (a *Accnt) Systadd(delta time.Duration) {
	atomic.AddInt64(&a.Sysns, int64(delta))
}

// Add merges n's accounting into a under a's lock, for when an environment's
// resources are reclaimed into a parent or aggregate total.
func (a *Accnt) Add(n *Accnt) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.Userns += atomic.LoadInt64(&n.Userns)
	a.Sysns += atomic.LoadInt64(&n.Sysns)
}

// Fetch returns a consistent snapshot of accumulated user and system time.
func (a *Accnt) Fetch() (user, sys time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return time.Duration(a.Userns), time.Duration(a.Sysns)
}
