// Package syscall implements the 15-row system-call surface of §4.4: a
// Kernel struct wired to the physical allocator, environment table,
// console, and scheduler, dispatching a syscall number plus five
// word-sized arguments to the matching handler. Every handler is grounded
// function-for-function on original_source/kern/syscall.c's sys_* routines,
// translated from the five-fixed-register C ABI into a Go method taking
// (no int, a1..a5 uint32).
package syscall

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
	"exok/internal/util"
)

// Kernel bundles every subsystem a syscall handler needs to touch.
type Kernel struct {
	Mem     *mem.Allocator
	Table   *envtab.Table
	Sched   *sched.Scheduler
	Console *console.Ring
	Stats   *stats.Kernel
	Log     *logrus.Entry
}

// New wires a Kernel over the given subsystems.
func New(m *mem.Allocator, t *envtab.Table, s *sched.Scheduler, c *console.Ring, st *stats.Kernel, log *logrus.Entry) *Kernel {
	return &Kernel{Mem: m, Table: t, Sched: s, Console: c, Stats: st, Log: log}
}

// Result is the outcome of dispatching one syscall.
type Result struct {
	RC     int32 // the value to place in the caller's return register
	Yield  bool  // the dispatcher must invoke the scheduler before resuming anyone
	Fatal  bool  // the caller was destroyed as a side effect; it must not be resumed
}

// Dispatch routes syscall number no with arguments a1..a5, executed on
// behalf of caller. This is the single entry point trap dispatch (internal/
// kernel) calls on every system-call trap.
func (k *Kernel) Dispatch(caller defs.EnvId, no int, a1, a2, a3, a4, a5 uint32) Result {
	start := time.Now()
	defer k.Stats.Dispatch.Add(start)
	k.Stats.Syscalls.Inc()
	switch no {
	case defs.SYS_CPUTS:
		return k.sysCputs(caller, a1, a2)
	case defs.SYS_CGETC:
		return Result{RC: int32(k.sysCgetc())}
	case defs.SYS_GETENVID:
		return Result{RC: int32(caller)}
	case defs.SYS_ENV_DESTROY:
		return k.sysEnvDestroy(caller, defs.EnvId(a1))
	case defs.SYS_YIELD:
		return Result{RC: 0, Yield: true}
	case defs.SYS_EXOFORK:
		return k.sysExofork(caller)
	case defs.SYS_ENV_SET_STATUS:
		return k.sysEnvSetStatus(caller, defs.EnvId(a1), defs.EnvStatus(a2))
	case defs.SYS_ENV_SET_PGFAULT_UPCALL:
		return k.sysEnvSetPgfaultUpcall(caller, defs.EnvId(a1), a2)
	case defs.SYS_PAGE_ALLOC:
		return k.sysPageAlloc(caller, defs.EnvId(a1), a2, defs.Perm_t(a3))
	case defs.SYS_PAGE_MAP:
		return k.sysPageMap(caller, defs.EnvId(a1), a2, defs.EnvId(a3), a4, defs.Perm_t(a5))
	case defs.SYS_PAGE_UNMAP:
		return k.sysPageUnmap(caller, defs.EnvId(a1), a2)
	case defs.SYS_IPC_TRY_SEND:
		return k.sysIpcTrySend(caller, defs.EnvId(a1), a2, a3, defs.Perm_t(a4))
	case defs.SYS_IPC_RECV:
		return k.sysIpcRecv(caller, a1)
	case defs.SYS_ENV_SET_TRAPFRAME:
		return k.sysEnvSetTrapframe(caller, defs.EnvId(a1), a2)
	case defs.SYS_SET_PRIORITY:
		return k.sysSetPriority(caller, defs.EnvId(a1), int(a2))
	default:
		return Result{RC: defs.INVAL.Rc()}
	}
}

// checkUserRange reports whether every page covering [va, va+length) is
// mapped Present+User (and Writable, if wantWrite) in env's directory.
func checkUserRange(env *envtab.Env, va, length uint32, wantWrite bool) bool {
	if length == 0 {
		return true
	}
	start := util.Rounddown(va, uint32(defs.PGSIZE))
	end := va + length - 1
	for p := start; p <= end; p += defs.PGSIZE {
		_, perm, ok := env.Dir.Lookup(p)
		if !ok || perm&defs.PTE_U == 0 {
			return false
		}
		if wantWrite && perm&defs.PTE_W == 0 {
			return false
		}
		if p+defs.PGSIZE < p {
			break // overflow guard
		}
	}
	return true
}

// sysCputs is syscall 1: cputs(buf, len). A failed user-memory check
// destroys the caller outright (§4.4 row 1, §7 Propagation) rather than
// returning an error code to it.
func (k *Kernel) sysCputs(caller defs.EnvId, buf, length uint32) Result {
	env, err := k.Table.Envid2env(caller, caller, false)
	if err != 0 {
		return Result{RC: err.Rc()}
	}
	if !checkUserRange(env, buf, length, false) {
		k.Table.Destroy(env)
		return Result{Fatal: true}
	}
	remaining := int(length)
	va := buf
	written := 0
	for remaining > 0 {
		pa, _, _ := env.Dir.Lookup(util.Rounddown(va, uint32(defs.PGSIZE)))
		off := int(va) & defs.PGOFFSET
		chunk := defs.PGSIZE - off
		if chunk > remaining {
			chunk = remaining
		}
		page := k.Mem.Bytes(pa)
		written += k.Console.Write(page[off : off+chunk])
		va += uint32(chunk)
		remaining -= chunk
	}
	return Result{RC: int32(written)}
}

// sysCgetc is syscall 2: non-blocking read, 0 if no input is queued.
func (k *Kernel) sysCgetc() int {
	b, ok := k.Console.ReadByte()
	if !ok {
		return 0
	}
	return int(b)
}

// sysEnvDestroy is syscall 4.
func (k *Kernel) sysEnvDestroy(caller, target defs.EnvId) Result {
	env, err := k.Table.Envid2env(target, caller, true)
	if err != 0 {
		return Result{RC: err.Rc()}
	}
	k.Table.Destroy(env)
	k.Stats.EnvsDestroyd.Inc()
	return Result{RC: 0, Yield: target == caller || target == 0}
}

// sysExofork is syscall 6.
func (k *Kernel) sysExofork(caller defs.EnvId) Result {
	parent, err := k.Table.Envid2env(caller, caller, false)
	if err != 0 {
		return Result{RC: err.Rc()}
	}
	childID, err := k.Table.Alloc(caller)
	if err != 0 {
		return Result{RC: err.Rc()}
	}
	child := k.Table.Get(childID.Index())
	dir, derr := pagetable.New(k.Mem)
	if derr != 0 {
		k.Table.Destroy(child)
		return Result{RC: derr.Rc()}
	}
	child.Dir = dir
	child.TF = parent.TF
	child.TF.Regs[0] = 0
	child.Status = defs.StatusNotRunnable
	child.Priority = parent.Priority
	k.Stats.EnvsCreated.Inc()
	return Result{RC: int32(childID)}
}

// sysEnvSetStatus is syscall 7.
func (k *Kernel) sysEnvSetStatus(caller, target defs.EnvId, status defs.EnvStatus) Result {
	if status != defs.StatusRunnable && status != defs.StatusNotRunnable {
		return Result{RC: defs.INVAL.Rc()}
	}
	env, err := k.Table.Envid2env(target, caller, true)
	if err != 0 {
		return Result{RC: err.Rc()}
	}
	env.Status = status
	return Result{RC: 0}
}

// sysEnvSetPgfaultUpcall is syscall 8.
func (k *Kernel) sysEnvSetPgfaultUpcall(caller, target defs.EnvId, upcall uint32) Result {
	env, err := k.Table.Envid2env(target, caller, true)
	if err != 0 {
		return Result{RC: err.Rc()}
	}
	env.PgFaultUpcall = upcall
	return Result{RC: 0}
}

// validatePerm enforces SYSCALL_MASK: Present and User must be set, and no
// bit outside {Present, Writable, User, AVAIL} may be set (§3 invariant).
func validatePerm(perm defs.Perm_t) defs.Err_t {
	if perm&^defs.SYSCALL_MASK != 0 {
		return defs.INVAL
	}
	if perm&defs.PTE_P == 0 || perm&defs.PTE_U == 0 {
		return defs.INVAL
	}
	return 0
}

// sysPageAlloc is syscall 9. Validation order is normative: address range,
// then permission mask, then environment resolution, then page-level
// checks (§4.4).
func (k *Kernel) sysPageAlloc(caller, target defs.EnvId, va uint32, perm defs.Perm_t) Result {
	if va >= defs.USER_TOP || !util.PageAligned(va, uint32(defs.PGSIZE)) {
		return Result{RC: defs.INVAL.Rc()}
	}
	if err := validatePerm(perm); err != 0 {
		return Result{RC: err.Rc()}
	}
	env, err := k.Table.Envid2env(target, caller, true)
	if err != 0 {
		return Result{RC: err.Rc()}
	}
	pa, err := k.Mem.Alloc(true)
	if err != 0 {
		return Result{RC: err.Rc()}
	}
	k.Stats.PageAllocs.Inc()
	if ierr := env.Dir.Insert(pa, va, perm); ierr != 0 {
		k.Mem.Free(pa)
		return Result{RC: ierr.Rc()}
	}
	return Result{RC: 0}
}

// sysPageMap is syscall 10, same normative validation order as syscall 9.
func (k *Kernel) sysPageMap(caller, srcID defs.EnvId, srcVA uint32, dstID defs.EnvId, dstVA uint32, perm defs.Perm_t) Result {
	if srcVA >= defs.USER_TOP || !util.PageAligned(srcVA, uint32(defs.PGSIZE)) ||
		dstVA >= defs.USER_TOP || !util.PageAligned(dstVA, uint32(defs.PGSIZE)) {
		return Result{RC: defs.INVAL.Rc()}
	}
	if err := validatePerm(perm); err != 0 {
		return Result{RC: err.Rc()}
	}
	srcEnv, err := k.Table.Envid2env(srcID, caller, true)
	if err != 0 {
		return Result{RC: err.Rc()}
	}
	dstEnv, err := k.Table.Envid2env(dstID, caller, true)
	if err != 0 {
		return Result{RC: err.Rc()}
	}
	pa, srcPerm, ok := srcEnv.Dir.Lookup(srcVA)
	if !ok {
		return Result{RC: defs.INVAL.Rc()}
	}
	if perm&defs.PTE_W != 0 && srcPerm&defs.PTE_W == 0 {
		return Result{RC: defs.INVAL.Rc()}
	}
	if ierr := dstEnv.Dir.Insert(pa, dstVA, perm); ierr != 0 {
		return Result{RC: ierr.Rc()}
	}
	return Result{RC: 0}
}

// sysPageUnmap is syscall 11. Unmapping an already-unmapped page is not an
// error (boundary behavior, §8).
func (k *Kernel) sysPageUnmap(caller, target defs.EnvId, va uint32) Result {
	if va >= defs.USER_TOP || !util.PageAligned(va, uint32(defs.PGSIZE)) {
		return Result{RC: defs.INVAL.Rc()}
	}
	env, err := k.Table.Envid2env(target, caller, true)
	if err != 0 {
		return Result{RC: err.Rc()}
	}
	env.Dir.Remove(va)
	k.Stats.PageFrees.Inc()
	k.Stats.TLBInvls.Inc()
	return Result{RC: 0}
}

// sysIpcTrySend is syscall 12 (§4.6). Resolves target without permission
// (any environment may attempt to send to any other). All send-side
// validation happens before any mutation of the target, so a failure
// leaves no partial state visible (§4.6 Atomicity).
func (k *Kernel) sysIpcTrySend(caller, target defs.EnvId, value, srcVA uint32, perm defs.Perm_t) Result {
	dst, err := k.Table.Envid2env(target, caller, false)
	if err != 0 {
		return Result{RC: err.Rc()}
	}
	if !dst.IPC.Recving {
		return Result{RC: defs.IPC_NOT_RECV.Rc()}
	}

	transferring := srcVA < defs.USER_TOP
	var pa defs.Pa_t
	var srcEnv *envtab.Env
	if transferring {
		if !util.PageAligned(srcVA, uint32(defs.PGSIZE)) {
			return Result{RC: defs.INVAL.Rc()}
		}
		if err := validatePerm(perm); err != 0 {
			return Result{RC: err.Rc()}
		}
		srcEnv, err = k.Table.Envid2env(caller, caller, false)
		if err != 0 {
			return Result{RC: err.Rc()}
		}
		var srcPerm defs.Perm_t
		var ok bool
		pa, srcPerm, ok = srcEnv.Dir.Lookup(srcVA)
		if !ok {
			return Result{RC: defs.INVAL.Rc()}
		}
		if perm&defs.PTE_W != 0 && srcPerm&defs.PTE_W == 0 {
			return Result{RC: defs.INVAL.Rc()}
		}
	}

	// Only the page insertion can still fail (NO_MEM for a new page table),
	// and it fails before changing the target; after it, mutate the target.
	if transferring && dst.IPC.DstVA < defs.USER_TOP {
		if ierr := dst.Dir.Insert(pa, dst.IPC.DstVA, perm); ierr != 0 {
			return Result{RC: ierr.Rc()}
		}
		dst.IPC.Perm = perm
	} else {
		dst.IPC.Perm = 0
	}
	dst.IPC.From = caller
	dst.IPC.Value = value
	dst.TF.Regs[0] = 0
	dst.IPC.Recving = false
	dst.Status = defs.StatusRunnable
	k.Stats.IPCSends.Inc()
	return Result{RC: 0}
}

// sysIpcRecv is syscall 13 (§4.6). It does not return a value in the usual
// sense: the caller's return register is pre-staged to 0 here so that when
// a matching send unblocks it, it observes success, and the syscall always
// requests a reschedule.
func (k *Kernel) sysIpcRecv(caller defs.EnvId, dstVA uint32) Result {
	env, err := k.Table.Envid2env(caller, caller, false)
	if err != 0 {
		return Result{RC: err.Rc()}
	}
	if dstVA < defs.USER_TOP && !util.PageAligned(dstVA, uint32(defs.PGSIZE)) {
		return Result{RC: defs.INVAL.Rc()}
	}
	env.IPC.Recving = true
	env.IPC.DstVA = dstVA
	env.Status = defs.StatusNotRunnable
	env.TF.Regs[0] = 0
	k.Stats.IPCBlocks.Inc()
	return Result{RC: 0, Yield: true}
}

// sysEnvSetTrapframe is syscall 14. It does not read a trap frame from
// tfAddr: the target's saved registers stay as they are, and only its code
// and data selectors are forced to user privilege, interrupts enabled, and
// I/O privilege zeroed. SetTrapframe installs a supplied frame.
func (k *Kernel) sysEnvSetTrapframe(caller, target defs.EnvId, tfAddr uint32) Result {
	env, err := k.Table.Envid2env(target, caller, true)
	if err != 0 {
		return Result{RC: err.Rc()}
	}
	env.TF.Cs = userCS
	env.TF.Ds = userDS
	env.TF.Eflags |= EFLAGS_IF
	env.TF.Eflags &^= EFLAGS_IOPL
	return Result{RC: 0}
}

// SetTrapframe is the test/tool-facing equivalent of syscall 14 that
// actually supplies the new register snapshot — env_set_trapframe's real
// ABI takes a pointer to a trapframe the kernel copies in, which this
// simulator models by taking the struct directly instead of a user
// virtual address it would otherwise have to fault in.
func (k *Kernel) SetTrapframe(caller, target defs.EnvId, tf Trapframe) Result {
	env, err := k.Table.Envid2env(target, caller, true)
	if err != 0 {
		return Result{RC: err.Rc()}
	}
	env.TF = tf
	env.TF.Cs = userCS
	env.TF.Ds = userDS
	env.TF.Eflags |= EFLAGS_IF
	env.TF.Eflags &^= EFLAGS_IOPL
	return Result{RC: 0}
}

// Trapframe mirrors envtab.Trapframe for callers of SetTrapframe that do
// not want to import envtab directly.
type Trapframe = envtab.Trapframe

const (
	userCS      uint16 = 0x1b // ring-3 code selector, low 2 bits = RPL 3
	userDS      uint16 = 0x23 // ring-3 data selector
	EFLAGS_IF          = 1 << 9
	EFLAGS_IOPL        = 3 << 12
)

// sysSetPriority is syscall 15 (SPEC_FULL supplemented feature 1):
// bounds-checked against [0, N_PRIOS), permission-checked exactly like
// every other target-taking syscall.
func (k *Kernel) sysSetPriority(caller, target defs.EnvId, prio int) Result {
	if prio < 0 || prio >= defs.N_PRIOS {
		return Result{RC: defs.INVAL.Rc()}
	}
	env, err := k.Table.Envid2env(target, caller, true)
	if err != 0 {
		return Result{RC: err.Rc()}
	}
	env.Priority = prio
	return Result{RC: 0}
}
