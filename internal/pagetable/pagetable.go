// Package pagetable implements the two-level (page directory / page table)
// address-space primitives of §4.2: walk, lookup, insert, remove. It is
// grounded on the teacher's biscuit/src/vm/as.go address-space locking and
// walking pattern, generalized from biscuit's 4-level amd64 tables down to
// the 2-level, 32-bit scheme this spec describes, with the exact
// insert/remove contract taken from original_source/kern/syscall.c's
// sys_page_map and friends.
package pagetable

import (
	"exok/internal/defs"
	"exok/internal/mem"
	"exok/internal/util"
)

// Directory is one environment's page directory: a physical frame holding
// NPDENTRIES entries, each either empty or pointing at a page-table frame.
type Directory struct {
	PD  defs.Pa_t
	mem *mem.Allocator
}

// PDX returns the page-directory index bits of a virtual address.
func PDX(va uint32) int {
	return int(va>>22) & (defs.NPDENTRIES - 1)
}

// PTX returns the page-table index bits of a virtual address.
func PTX(va uint32) int {
	return int(va>>12) & (defs.NPDENTRIES - 1)
}

// PGOFF returns the in-page byte offset of a virtual address.
func PGOFF(va uint32) int {
	return int(va - util.Rounddown(va, uint32(defs.PGSIZE)))
}

// New allocates a fresh, zeroed page directory frame.
func New(a *mem.Allocator) (*Directory, defs.Err_t) {
	pd, err := a.Alloc(true)
	if err != 0 {
		return nil, err
	}
	a.Incref(pd)
	return &Directory{PD: pd, mem: a}, 0
}

// entryPresent reports whether entry e has the Present bit set.
func entryPresent(e uint32) bool {
	return defs.Perm_t(e)&defs.PTE_P != 0
}

// Walk returns the page-table-entry address (index into the page table's
// PTEView array, plus the table's frame) for va. If the page table is
// absent and create is false, ok is false. If create is true and the table
// is absent, a fresh page-table frame is allocated and wired into the
// directory (refcounted), failing with NO_MEM if that allocation fails.
func (d *Directory) Walk(va uint32, create bool) (table *[defs.NPDENTRIES]uint32, index int, ok bool, err defs.Err_t) {
	pdv := d.mem.PTEView(d.PD)
	pdx := PDX(va)
	pde := pdv[pdx]
	if !entryPresent(pde) {
		if !create {
			return nil, 0, false, 0
		}
		ptpa, aerr := d.mem.Alloc(true)
		if aerr != 0 {
			return nil, 0, false, defs.NO_MEM
		}
		d.mem.Incref(ptpa)
		pdv[pdx] = uint32(ptpa) | uint32(defs.PTE_P|defs.PTE_W|defs.PTE_U)
		pde = pdv[pdx]
	}
	ptpa := defs.Pa_t(pde) &^ defs.Pa_t(defs.PGOFFSET)
	pt := d.mem.PTEView(ptpa)
	return pt, PTX(va), true, 0
}

// Lookup returns the physical page mapped at va and its current permission
// bits. ok is false if any level of the translation is absent.
func (d *Directory) Lookup(va uint32) (pa defs.Pa_t, perm defs.Perm_t, ok bool) {
	pt, ptx, present, _ := d.Walk(va, false)
	if !present {
		return 0, 0, false
	}
	pte := pt[ptx]
	if !entryPresent(pte) {
		return 0, 0, false
	}
	pa = defs.Pa_t(pte) &^ defs.Pa_t(defs.PGOFFSET)
	perm = defs.Perm_t(pte) & defs.Perm_t(defs.PGOFFSET)
	return pa, perm, true
}

// Insert maps pa at va with perm|Present, refcounting the frame. If another
// page is already mapped at va, it is removed first — but per §4.2, if the
// same page is being remapped the refcount is incremented before the old
// mapping is removed, so a remap of the identical frame never transiently
// drops to zero. Fails with NO_MEM only if a new page-table allocation was
// required and failed.
func (d *Directory) Insert(pa defs.Pa_t, va uint32, perm defs.Perm_t) defs.Err_t {
	pt, ptx, _, err := d.Walk(va, true)
	if err != 0 {
		return err
	}
	d.mem.Incref(pa)
	old := pt[ptx]
	if entryPresent(old) {
		oldpa := defs.Pa_t(old) &^ defs.Pa_t(defs.PGOFFSET)
		d.mem.Decref(oldpa)
		invalidate(va)
	}
	pt[ptx] = uint32(pa) | uint32(perm|defs.PTE_P)
	return 0
}

// Remove clears whatever is mapped at va, decrementing its refcount and
// invalidating the TLB entry for va. No-op if nothing is mapped.
func (d *Directory) Remove(va uint32) {
	pt, ptx, present, _ := d.Walk(va, false)
	if !present {
		return
	}
	pte := pt[ptx]
	if !entryPresent(pte) {
		return
	}
	pa := defs.Pa_t(pte) &^ defs.Pa_t(defs.PGOFFSET)
	pt[ptx] = 0
	d.mem.Decref(pa)
	invalidate(va)
}

// SetPerm rewrites the permission bits of an existing, present mapping at
// va, preserving its physical frame and Present bit. Used by the monitor's
// chprm/clrprm commands (§6).
func (d *Directory) SetPerm(va uint32, perm defs.Perm_t) bool {
	pt, ptx, present, _ := d.Walk(va, false)
	if !present || !entryPresent(pt[ptx]) {
		return false
	}
	pa := defs.Pa_t(pt[ptx]) &^ defs.Pa_t(defs.PGOFFSET)
	pt[ptx] = uint32(pa) | uint32(perm|defs.PTE_P)
	invalidate(va)
	return true
}

// Teardown unmaps every present user page in the directory and releases the
// directory frame and any page-table frames it owns, decrementing refcounts
// throughout. Called on environment destruction (§3 Lifecycle).
func (d *Directory) Teardown() {
	pdv := d.mem.PTEView(d.PD)
	for pdx := 0; pdx < defs.NPDENTRIES; pdx++ {
		pde := pdv[pdx]
		if !entryPresent(pde) {
			continue
		}
		ptpa := defs.Pa_t(pde) &^ defs.Pa_t(defs.PGOFFSET)
		pt := d.mem.PTEView(ptpa)
		for ptx := 0; ptx < defs.NPDENTRIES; ptx++ {
			pte := pt[ptx]
			if !entryPresent(pte) {
				continue
			}
			upa := defs.Pa_t(pte) &^ defs.Pa_t(defs.PGOFFSET)
			pt[ptx] = 0
			d.mem.Decref(upa)
		}
		pdv[pdx] = 0
		d.mem.Decref(ptpa)
	}
	d.mem.Decref(d.PD)
}

// invalidate models the per-§5 requirement that the kernel invalidate the
// affected virtual address on the current CPU after any unmap or
// permission reduction. There is no real TLB in this simulator, so this
// only feeds the stats counter; see internal/stats.
var invalidateHook func(va uint32)

// SetInvalidateHook installs the callback invoked on every TLB
// invalidation point, used to wire internal/stats without this package
// depending on it.
func SetInvalidateHook(f func(va uint32)) {
	invalidateHook = f
}

func invalidate(va uint32) {
	if invalidateHook != nil {
		invalidateHook(va)
	}
}
