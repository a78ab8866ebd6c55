// Package mem implements the physical page allocator: a free list over a
// flat, mmap-backed byte arena, with per-frame reference counting. It is
// grounded on the teacher's biscuit/src/mem/mem.go (Physmem_t, Refup/Refdown,
// the refcount-zero-means-on-freelist invariant) and biscuit/src/mem/dmap.go
// (the Dmaplen/Pg2bytes unsafe-pointer-cast-over-one-arena idiom), adapted
// from biscuit's real-hardware direct map to a single process-local arena
// obtained with golang.org/x/sys/unix.Mmap.
package mem

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"

	"exok/internal/defs"
)

// page is one bookkeeping record per physical frame.
type page struct {
	refcnt int32
	nexti  int32 // index of next page on the free list, -1 if none
}

// Allocator owns one flat arena of nframes physical pages and a free list
// threaded through the page records. It is not safe for concurrent use
// without external synchronization; per §5 all kernel data structures are
// only ever touched by the single running environment's syscall, so none is
// provided here.
type Allocator struct {
	arena   []byte
	pages   []page
	freeHd  int32
	nframes int
}

// NewAllocator mmaps an anonymous, page-aligned arena of nframes frames and
// returns an Allocator with every frame on the free list.
func NewAllocator(nframes int) (*Allocator, error) {
	size := nframes * defs.PGSIZE
	arena, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, fmt.Errorf("mem: mmap arena: %w", err)
	}
	a := &Allocator{
		arena:   arena,
		pages:   make([]page, nframes),
		nframes: nframes,
	}
	for i := 0; i < nframes; i++ {
		next := int32(i + 1)
		if i == nframes-1 {
			next = -1
		}
		a.pages[i] = page{refcnt: 0, nexti: next}
	}
	a.freeHd = 0
	return a, nil
}

// Close releases the backing arena.
func (a *Allocator) Close() error {
	return unix.Munmap(a.arena)
}

func (a *Allocator) frameOf(p defs.Pa_t) int {
	return int(p) / defs.PGSIZE
}

// Alloc removes a frame from the free list, sets its refcount to 0 (the
// caller must Incref once it installs a mapping), and, if zero is true,
// clears its contents. Returns NO_MEM if the free list is exhausted.
func (a *Allocator) Alloc(zero bool) (defs.Pa_t, defs.Err_t) {
	if a.freeHd == -1 {
		return 0, defs.NO_MEM
	}
	idx := a.freeHd
	a.freeHd = a.pages[idx].nexti
	a.pages[idx].nexti = 0
	pa := defs.Pa_t(idx) * defs.PGSIZE
	if zero {
		b := a.Bytes(pa)
		for i := range b {
			b[i] = 0
		}
	}
	return pa, 0
}

// Free returns a frame to the free list. It is a programming error to free a
// page whose refcount is not zero; per §4.1 this must be caught, so Free
// panics rather than silently leaking the invariant violation.
func (a *Allocator) Free(pa defs.Pa_t) {
	idx := a.frameOf(pa)
	if a.pages[idx].refcnt != 0 {
		panic("mem: freeing page with nonzero refcount")
	}
	a.pages[idx].nexti = a.freeHd
	a.freeHd = int32(idx)
}

// Refcnt returns the current reference count of the frame at pa.
func (a *Allocator) Refcnt(pa defs.Pa_t) int {
	return int(a.pages[a.frameOf(pa)].refcnt)
}

// Incref increments the frame's refcount. Call paired with every mapping
// insertion (pagetable.Insert).
func (a *Allocator) Incref(pa defs.Pa_t) {
	a.pages[a.frameOf(pa)].refcnt++
}

// Decref decrements the frame's refcount and, if it reaches zero, returns
// the frame to the free list automatically. Reports whether the frame was
// freed.
func (a *Allocator) Decref(pa defs.Pa_t) bool {
	idx := a.frameOf(pa)
	a.pages[idx].refcnt--
	if a.pages[idx].refcnt < 0 {
		panic("mem: refcount underflow")
	}
	if a.pages[idx].refcnt == 0 {
		a.Free(pa)
		return true
	}
	return false
}

// Bytes returns a byte view of the frame at pa, aliasing the backing arena
// directly (no copy) — the Dmaplen/Pg2bytes idiom from the teacher, reduced
// to a single contiguous arena instead of a direct-mapped address range.
func (a *Allocator) Bytes(pa defs.Pa_t) []byte {
	off := int(pa)
	return a.arena[off : off+defs.PGSIZE]
}

// PTEView returns the frame at pa reinterpreted as an array of NPDENTRIES
// 32-bit page-table entries, for use as a page directory or page table.
// Like Bytes, this aliases the arena in place via unsafe.Pointer, mirroring
// the teacher's Pg2bytes/Bytepg2pg casts.
func (a *Allocator) PTEView(pa defs.Pa_t) *[defs.NPDENTRIES]uint32 {
	b := a.Bytes(pa)
	return (*[defs.NPDENTRIES]uint32)(unsafe.Pointer(&b[0]))
}

// Nframes returns the total number of frames managed by the allocator.
func (a *Allocator) Nframes() int {
	return a.nframes
}
