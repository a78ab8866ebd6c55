// Package sched implements the cooperative, priority-aware round-robin
// scheduling decision of §4.5 as a pure function over the environment
// table, independent of whatever mechanism actually hands control to the
// chosen environment (that mechanism lives in internal/kernel). Grounded on
// spec.md §4.5 directly and on original_source/kern/syscall.c's
// sys_set_prio/ENV_PRIO_LOW naming for the priority-class vocabulary.
package sched

import (
	"exok/internal/defs"
	"exok/internal/envtab"
)

// Scheduler holds the round-robin cursor and the current-environment cell.
// Per §9 this is "process-wide state ... all accesses are on the single
// kernel stack of the active CPU, so no synchronization is required" — it
// is a plain mutable cell, adapted from the teacher's tinfo.Current/
// SetCurrent pattern. The teacher's version reads a per-goroutine slot
// installed via a modified Go runtime (runtime.Gptr/Setgptr) that has no
// equivalent in a hosted binary, so here it is simply a struct field.
type Scheduler struct {
	cursor  int
	cur     defs.EnvId
	haveCur bool // distinguishes "no current environment yet" from cur == 0
}

// New returns a scheduler with no current environment and the cursor
// positioned so the first Pick begins at slot 0.
func New() *Scheduler {
	return &Scheduler{cursor: -1}
}

// Current returns the environment the scheduler last resumed.
func (s *Scheduler) Current() defs.EnvId {
	return s.cur
}

// SetCurrent installs id as the current environment, called by the
// dispatch mechanism immediately before resuming it.
func (s *Scheduler) SetCurrent(id defs.EnvId) {
	s.cur = id
	s.haveCur = true
}

// Pick selects the next environment to run. It sweeps priority classes from
// highest (N_PRIOS-1) to lowest, and within a class sweeps the table
// starting just after the shared cursor — the same cursor is reused across
// every class (see DESIGN.md open-question resolution), so priority never
// starves a lower class's liveness once higher classes run dry. If no slot
// is RUNNABLE, the previously current environment is re-run if it is still
// RUNNABLE; otherwise Pick reports ok=false, meaning halt until the next
// external event.
func (s *Scheduler) Pick(t *envtab.Table) (id defs.EnvId, ok bool) {
	n := t.Len()
	for prio := defs.N_PRIOS - 1; prio >= 0; prio-- {
		for i := 0; i < n; i++ {
			idx := (s.cursor + 1 + i) % n
			e := t.Get(idx)
			if e.Status == defs.StatusRunnable && e.Priority == prio {
				s.cursor = idx
				return e.ID, true
			}
		}
	}
	if s.haveCur {
		if prev, err := t.Envid2env(s.cur, s.cur, false); err == 0 && prev.Status == defs.StatusRunnable {
			return prev.ID, true
		}
	}
	return 0, false
}
