// Package ulib is the user-level library layer of §4.7: copy-on-write
// fork built on syscalls 6, 8, 9, 10, 11, plus the IPC wrappers of §4.6.
// Grounded function-for-function on original_source/lib/fork.c
// (duppage, fork, pgfault) and lib/ipc.c (ipc_recv, ipc_send,
// ipc_find_env).
//
// This simulator has no real CPU trap, so a "user program" is simply a Go
// value holding its own environment id and a handle to the kernel, issuing
// syscalls via Kernel.Syscall the same way a real one would via a trap
// instruction. Per the self-map open question (DESIGN.md), Env reads its
// own page-table permissions with direct method calls into its
// *pagetable.Directory rather than through the recursive uvpd/uvpt virtual
// addresses real JOS user code would dereference — there is no MMU here to
// alias through, and this preserves the real contract (no syscall needed
// to inspect one's own mappings).
package ulib

import (
	"exok/internal/defs"
	"exok/internal/envtab"
	"exok/internal/kernel"
	"exok/internal/util"
)

// Env is one simulated user-level program: an environment id plus the
// kernel handle it issues syscalls against.
type Env struct {
	K    *kernel.Kernel
	Self defs.EnvId
}

func (e *Env) self() *envtab.Env {
	return e.K.Table.Get(e.Self.Index())
}

// ensurePgfaultUpcall registers the COW trampoline once, idempotently
// (fork.c's "thisenv->env_pgfault_upcall == 0" check).
func (e *Env) ensurePgfaultUpcall() defs.Err_t {
	self := e.self()
	if self.PgFaultUpcall != 0 {
		return 0
	}
	rc, _ := e.K.Syscall(e.Self, defs.SYS_ENV_SET_PGFAULT_UPCALL, uint32(e.Self), defs.PFTEMP, 0, 0, 0)
	if rc < 0 {
		return defs.Err_t(-rc)
	}
	return 0
}

// duppage implements the decision table of §4.7: how a page at virtual
// address va currently mapped in the parent is installed in the child, and
// whether the parent's own mapping is rewritten to match.
func (e *Env) duppage(child defs.EnvId, va uint32) defs.Err_t {
	self := e.self()
	_, perm, ok := self.Dir.Lookup(va)
	if !ok {
		return 0
	}
	switch {
	case perm&defs.PTE_SHARE != 0:
		// Copy permission verbatim; parent mapping is unchanged.
		rc, _ := e.K.Syscall(e.Self, defs.SYS_PAGE_MAP, uint32(e.Self), va, uint32(child), va, uint32(perm))
		if rc < 0 {
			return defs.Err_t(-rc)
		}
	case perm&(defs.PTE_W|defs.PTE_COW) != 0:
		newperm := defs.PTE_P | defs.PTE_U | defs.PTE_COW
		// Child first, then parent (normative order, §4.7): if the parent
		// were remarked COW first and a fault raced in, the child could
		// observe the private copy instead of the shared original.
		if rc, _ := e.K.Syscall(e.Self, defs.SYS_PAGE_MAP, uint32(e.Self), va, uint32(child), va, uint32(newperm)); rc < 0 {
			return defs.Err_t(-rc)
		}
		if rc, _ := e.K.Syscall(e.Self, defs.SYS_PAGE_MAP, uint32(e.Self), va, uint32(e.Self), va, uint32(newperm)); rc < 0 {
			return defs.Err_t(-rc)
		}
	default:
		// Read-only, non-COW: shared verbatim, parent unchanged.
		newperm := defs.PTE_P | defs.PTE_U
		if rc, _ := e.K.Syscall(e.Self, defs.SYS_PAGE_MAP, uint32(e.Self), va, uint32(child), va, uint32(newperm)); rc < 0 {
			return defs.Err_t(-rc)
		}
	}
	return 0
}

// Fork creates a child environment sharing the parent's writable pages
// copy-on-write. Unlike a POSIX fork(2), there is only one execution
// context here — Fork returns the new child's id to the caller, which
// simulates "the child's turn" by constructing a new *Env with Self set to
// that id and continuing from there (see cmd/forktree), since the simulator
// has no process duplication primitive of its own.
func (e *Env) Fork() (child defs.EnvId, err defs.Err_t) {
	if err := e.ensurePgfaultUpcall(); err != 0 {
		return 0, err
	}
	rc, _ := e.K.Syscall(e.Self, defs.SYS_EXOFORK, 0, 0, 0, 0, 0)
	if rc < 0 {
		return 0, defs.Err_t(-rc)
	}
	child = defs.EnvId(rc)

	for va := uint32(0); va < defs.USTACKTOP; va += defs.PGSIZE {
		if err := e.duppage(child, va); err != 0 {
			e.K.Table.Destroy(e.K.Table.Get(child.Index()))
			return 0, err
		}
	}

	if rc, _ := e.K.Syscall(e.Self, defs.SYS_PAGE_ALLOC, uint32(child), defs.UXSTACKTOP-defs.PGSIZE, uint32(defs.PTE_P|defs.PTE_U|defs.PTE_W), 0, 0); rc < 0 {
		e.K.Table.Destroy(e.K.Table.Get(child.Index()))
		return 0, defs.Err_t(-rc)
	}

	self := e.self()
	if rc, _ := e.K.Syscall(e.Self, defs.SYS_ENV_SET_PGFAULT_UPCALL, uint32(child), self.PgFaultUpcall, 0, 0, 0); rc < 0 {
		e.K.Table.Destroy(e.K.Table.Get(child.Index()))
		return 0, defs.Err_t(-rc)
	}

	if rc, _ := e.K.Syscall(e.Self, defs.SYS_ENV_SET_STATUS, uint32(child), uint32(defs.StatusRunnable), 0, 0, 0); rc < 0 {
		e.K.Table.Destroy(e.K.Table.Get(child.Index()))
		return 0, defs.Err_t(-rc)
	}
	return child, 0
}

// WriteByte simulates a user-mode store to va: if the mapping is already
// writable it writes directly; if it is COW it runs the page-fault upcall
// (PageFault below) to resolve the fault first. Any other case is a
// protection violation.
func (e *Env) WriteByte(va uint32, b byte) defs.Err_t {
	self := e.self()
	pa, perm, ok := self.Dir.Lookup(va)
	if !ok {
		return defs.INVAL
	}
	if perm&defs.PTE_W == 0 {
		if perm&defs.PTE_COW == 0 {
			return defs.INVAL
		}
		if err := e.PageFault(va); err != 0 {
			return err
		}
		pa, _, _ = self.Dir.Lookup(util.Rounddown(va, uint32(defs.PGSIZE)))
	}
	off := int(va - util.Rounddown(va, uint32(defs.PGSIZE)))
	e.K.Mem.Bytes(pa)[off] = b
	return 0
}

// ReadByte returns the byte currently mapped at va.
func (e *Env) ReadByte(va uint32) (byte, defs.Err_t) {
	self := e.self()
	pa, _, ok := self.Dir.Lookup(util.Rounddown(va, uint32(defs.PGSIZE)))
	if !ok {
		return 0, defs.INVAL
	}
	off := int(va - util.Rounddown(va, uint32(defs.PGSIZE)))
	return e.K.Mem.Bytes(pa)[off], 0
}

// PageFault is the page-fault upcall of §4.7: it asserts the fault was
// against a COW page, allocates a fresh writable page, copies the
// contents, remaps it over the fault, and returns. Steps 1-6 of the spec's
// procedure collapse here since this simulator delivers the fault as a
// direct call rather than a hardware trap onto a dedicated exception
// stack — there is no separate trampoline return to model.
func (e *Env) PageFault(va uint32) defs.Err_t {
	self := e.self()
	base := util.Rounddown(va, uint32(defs.PGSIZE))
	oldpa, perm, ok := self.Dir.Lookup(base)
	if !ok || perm&defs.PTE_COW == 0 {
		panic("ulib: page fault on non-COW page")
	}
	if rc, _ := e.K.Syscall(e.Self, defs.SYS_PAGE_ALLOC, uint32(e.Self), defs.PFTEMP, uint32(defs.PTE_P|defs.PTE_U|defs.PTE_W), 0, 0); rc < 0 {
		return defs.Err_t(-rc)
	}
	scratchPA, _, _ := self.Dir.Lookup(defs.PFTEMP)
	copy(e.K.Mem.Bytes(scratchPA), e.K.Mem.Bytes(oldpa))
	if rc, _ := e.K.Syscall(e.Self, defs.SYS_PAGE_MAP, uint32(e.Self), defs.PFTEMP, uint32(e.Self), base, uint32(defs.PTE_P|defs.PTE_U|defs.PTE_W)); rc < 0 {
		return defs.Err_t(-rc)
	}
	if rc, _ := e.K.Syscall(e.Self, defs.SYS_PAGE_UNMAP, uint32(e.Self), defs.PFTEMP, 0, 0, 0); rc < 0 {
		return defs.Err_t(-rc)
	}
	return 0
}
