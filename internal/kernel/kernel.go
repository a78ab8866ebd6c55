// Package kernel provides the trap-dispatch mechanism: handing control to
// one environment at a time and reclaiming it on yield, IPC block, or
// destruction (§5). No teacher file covers this — the real trap entry/exit
// assembly is explicitly out of scope (§1) — so it is modeled the
// idiomatic Go way: every syscall runs to completion on the calling
// goroutine (giving exactly the "runs to completion before any other
// environment observes its effects" guarantee §5 requires), and control
// only ever passes to a different environment at the points spec.md names
// — yield, IPC receive block, or destruction — decided by Syscall here and
// internal/sched.Scheduler.Pick.
package kernel

import (
	"time"

	"github.com/sirupsen/logrus"

	"exok/internal/console"
	"exok/internal/defs"
	"exok/internal/envtab"
	"exok/internal/mem"
	"exok/internal/pagetable"
	"exok/internal/sched"
	"exok/internal/stats"
	"exok/internal/syscall"
)

// Kernel is the wired-up simulator: allocator, environment table,
// scheduler, console, and the syscall dispatch table built over them.
type Kernel struct {
	Mem     *mem.Allocator
	Table   *envtab.Table
	Sched   *sched.Scheduler
	Console *console.Ring
	Stats   *stats.Kernel
	Sys     *syscall.Kernel
	Log     *logrus.Entry
}

// New builds a Kernel with an nframes-frame physical arena and a console
// buffer of the given capacity.
func New(nframes, consoleCap int, log *logrus.Entry) (*Kernel, error) {
	m, err := mem.NewAllocator(nframes)
	if err != nil {
		return nil, err
	}
	st := &stats.Kernel{}
	table := envtab.NewTable(log)
	s := sched.New()
	c := console.NewRing(consoleCap)
	sys := syscall.New(m, table, s, c, st, log)
	pagetable.SetInvalidateHook(func(uint32) { st.TLBInvls.Inc() })
	return &Kernel{Mem: m, Table: table, Sched: s, Console: c, Stats: st, Sys: sys, Log: log}, nil
}

// Close releases the physical arena.
func (k *Kernel) Close() error {
	return k.Mem.Close()
}

// Syscall dispatches one syscall on behalf of caller and applies its effect
// on scheduling: a destroyed, yielded, or IPC-blocked caller gives up the
// CPU to Pick; anyone else keeps running uninterrupted. It returns the
// return-register value (meaningless if the caller was destroyed) and the
// id of the environment that should run next (0 means halt — nothing is
// runnable).
func (k *Kernel) Syscall(caller defs.EnvId, no int, a1, a2, a3, a4, a5 uint32) (rc int32, next defs.EnvId) {
	start := time.Now()
	res := k.Sys.Dispatch(caller, no, a1, a2, a3, a4, a5)
	// Every cycle spent in Dispatch is spent on caller's behalf, in the
	// kernel, so it charges as system time against caller's own account —
	// mirrors the teacher's Systadd-at-the-trap-boundary placement. Skipped
	// if caller was destroyed by its own syscall (e.g. a bad cputs buffer);
	// there is no slot left to charge.
	if env, err := k.Table.Envid2env(caller, caller, false); err == 0 {
		env.Acct.Systadd(time.Since(start))
	}
	if res.Fatal || res.Yield {
		return res.RC, k.reschedule()
	}
	if env, err := k.Table.Envid2env(caller, caller, false); err == 0 && env.Status == defs.StatusRunnable {
		k.Sched.SetCurrent(caller)
		return res.RC, caller
	}
	return res.RC, k.reschedule()
}

func (k *Kernel) reschedule() defs.EnvId {
	id, ok := k.Sched.Pick(k.Table)
	if !ok {
		return 0
	}
	k.Sched.SetCurrent(id)
	return id
}

// Boot allocates the first environment (parented on the sentinel id 0,
// i.e. parentless), gives it a fresh page directory, marks it RUNNABLE, and
// makes it current. Every demo (forktree, the monitor's target program)
// starts from here.
func (k *Kernel) Boot() (defs.EnvId, defs.Err_t) {
	id, err := k.Table.Alloc(0)
	if err != 0 {
		return 0, err
	}
	env := k.Table.Get(id.Index())
	dir, derr := pagetable.New(k.Mem)
	if derr != 0 {
		k.Table.Destroy(env)
		return 0, derr
	}
	env.Dir = dir
	env.Status = defs.StatusRunnable
	k.Sched.SetCurrent(id)
	if k.Log != nil {
		k.Log.WithField("env", id).Info("kernel booted root environment")
	}
	return id, 0
}
