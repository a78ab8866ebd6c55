// Package envtab implements the environment table (§3, §4.3): a fixed pool
// of environment records, id allocation with generation-based reuse
// detection, and envid2env resolution. There is no teacher source for this
// exact structure — biscuit's own process package was filtered out of the
// retrieval pack (an empty internal/proc, go.mod only, no source) — so this
// package is grounded directly on spec.md §3/§4.3, with permission-check and
// exofork/destroy semantics cross-checked against
// original_source/kern/syscall.c.
package envtab

import (
	"github.com/sirupsen/logrus"

	"exok/internal/accnt"
	"exok/internal/defs"
	"exok/internal/pagetable"
)

// Trapframe is the saved register state of an environment, pushed/restored
// on every trap in a real kernel; here it is simply the struct env_set_trapframe
// installs and exofork copies.
type Trapframe struct {
	Regs   [8]uint32 // general-purpose registers, index 0 is the return-value register
	Eip    uint32     // instruction pointer
	Esp    uint32     // stack pointer
	Cs     uint16     // code segment selector
	Ds     uint16     // data segment selector
	Eflags uint32     // processor flags
	Trap   bool       // Trap flag, toggled by monitor step/continue (§6)
}

// IPCState is the per-environment rendezvous state of §4.6.
type IPCState struct {
	Recving bool
	DstVA   uint32
	Value   uint32
	From    defs.EnvId
	Perm    defs.Perm_t
}

// Env is one environment record.
type Env struct {
	ID       defs.EnvId
	ParentID defs.EnvId
	Status   defs.EnvStatus
	Type     defs.EnvType
	Priority int
	TF       Trapframe
	Dir      *pagetable.Directory
	IPC      IPCState
	// PgFaultUpcall is the user-mode virtual address the kernel branches to
	// on a page fault in this environment (§4.7); 0 means none registered.
	PgFaultUpcall uint32
	Acct          accnt.Accnt
}

// slot bundles an Env with the generation counter that survives across
// reallocation of the same table index, giving freed-and-reused slots a
// distinct id (§3 invariant).
type slot struct {
	env        Env
	generation uint32
}

// Table is the fixed-size pool of environment slots.
type Table struct {
	slots    [defs.N_ENV]slot
	freeHead int // set to 0 by NewTable and not updated; Alloc scans with findFree
	log      *logrus.Entry
}

// NewTable builds an empty table with every slot FREE and threaded onto an
// implicit free list by index order. Index 0 is never handed out by Alloc
// (see findFree): MakeEnvId(0, 0) == 0, the sentinel id envid2env treats as
// "the current environment" (§4.3), so slot 0 must stay permanently
// unallocatable or its own live environment could never address itself.
func NewTable(log *logrus.Entry) *Table {
	t := &Table{log: log}
	for i := range t.slots {
		t.slots[i].env.Status = defs.StatusFree
	}
	t.freeHead = 0
	return t
}

// findFree returns the first FREE slot at index 1 or above. Index 0 is
// skipped permanently — it is reserved so no live environment ever collides
// with the id-0 "current environment" sentinel.
func (t *Table) findFree() int {
	for i := 1; i < len(t.slots); i++ {
		if t.slots[i].env.Status == defs.StatusFree {
			return i
		}
	}
	return -1
}

// Alloc reserves the first FREE slot, parents it on parent, and returns the
// new environment's id. Fails NO_FREE_ENV if the table is full (§4.3).
func (t *Table) Alloc(parent defs.EnvId) (defs.EnvId, defs.Err_t) {
	idx := t.findFree()
	if idx < 0 {
		return 0, defs.NO_FREE_ENV
	}
	s := &t.slots[idx]
	id := defs.MakeEnvId(s.generation, idx)
	s.env = Env{
		ID:       id,
		ParentID: parent,
		Status:   defs.StatusDormant,
		Type:     defs.EnvTypeUser,
	}
	if t.log != nil {
		t.log.WithFields(logrus.Fields{"env": id, "parent": parent}).Info("environment allocated")
	}
	return id, 0
}

// Get returns the slot's Env by raw index, regardless of generation or
// status — used internally once an id has already been resolved.
func (t *Table) Get(idx int) *Env {
	return &t.slots[idx].env
}

// Envid2env resolves id to its environment record. Per §4.3: the slot must
// not be FREE, the generation must match, and — only when requirePerm is
// true — the caller must either be the target or the target's parent. Id 0
// is the sentinel "current environment" (§6), resolved as cur regardless of
// requirePerm.
func (t *Table) Envid2env(id defs.EnvId, cur defs.EnvId, requirePerm bool) (*Env, defs.Err_t) {
	if id == 0 {
		return t.Envid2env(cur, cur, false)
	}
	idx := id.Index()
	s := &t.slots[idx]
	if s.env.Status == defs.StatusFree || s.generation != id.Generation() {
		return nil, defs.BAD_ENV
	}
	if requirePerm && id != cur && s.env.ParentID != cur {
		return nil, defs.BAD_ENV
	}
	return &s.env, 0
}

// Destroy frees env's address space and returns its slot to FREE, bumping
// the slot's generation so a future Alloc of the same index yields a
// distinct id (§3 invariant, scenario 1). Its accumulated accounting is
// folded into its parent's, the way accnt.Add is used whenever a teacher
// process's resources are reclaimed into its parent.
func (t *Table) Destroy(env *Env) {
	idx := env.ID.Index()
	s := &t.slots[idx]
	if env.Dir != nil {
		env.Dir.Teardown()
	}
	if env.ParentID != 0 {
		if parent, err := t.Envid2env(env.ParentID, env.ParentID, false); err == 0 {
			parent.Acct.Add(&env.Acct)
		}
	}
	s.generation++
	s.env = Env{Status: defs.StatusFree}
	if t.log != nil {
		t.log.WithField("env", env.ID).Info("environment destroyed")
	}
}

// FindByType performs a linear scan for the first live environment of the
// given type — ipc_find_env in the original source, used to discover
// well-known service environments (§3, SPEC_FULL supplemented feature 2).
func (t *Table) FindByType(typ defs.EnvType) (*Env, bool) {
	for i := range t.slots {
		e := &t.slots[i].env
		if e.Status != defs.StatusFree && e.Type == typ {
			return e, true
		}
	}
	return nil, false
}

// Len returns the fixed table size, N_ENV.
func (t *Table) Len() int {
	return len(t.slots)
}
