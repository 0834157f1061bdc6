package pagestore

import (
	"os"
	"path/filepath"

	"github.com/dbathon/pagestore/spill"
)

// scratchAllocator hands out page-sized scratch buffers for a transaction's
// copy-on-write pages and the commit planner's materialized pages (§9
// "Scratch buffers for tree pages during commit planning"). With no
// SpillDir configured it is a thin wrapper around plain heap allocation;
// with one configured, buffers come from an mmap-backed spill.Buffer
// instead, keeping large transactions off the Go heap.
type scratchAllocator struct {
	buf      *spill.Buffer
	pageSize uint32
	bySlice  map[*byte]*spill.Slot
}

// newScratchAllocator creates a scratchAllocator for pageSize-byte buffers.
// dir == "" selects plain heap allocation; otherwise dir is created if it
// does not exist.
func newScratchAllocator(dir string, pageSize uint32) (*scratchAllocator, error) {
	if dir == "" {
		return &scratchAllocator{pageSize: pageSize}, nil
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, err
	}
	buf, err := spill.New(filepath.Join(dir, "pagestore-scratch"), pageSize, spill.DefaultInitialCap)
	if err != nil {
		return nil, err
	}
	return &scratchAllocator{buf: buf, pageSize: pageSize, bySlice: make(map[*byte]*spill.Slot)}, nil
}

// alloc returns a fresh, zeroed pageSize-byte buffer for pageNumber (the
// logical page the buffer will hold dirty or materialized bytes for). The
// page number is tagged onto the underlying spill.Slot so a segment dump
// can be read back against the page it served, rather than carrying an
// always-zero Pgno as dead weight.
func (a *scratchAllocator) alloc(pageNumber uint32) []byte {
	if a.buf == nil {
		return make([]byte, a.pageSize)
	}
	data, slot, err := a.buf.Allocate()
	if err != nil {
		// Segment pool exhausted; fall back to the heap rather than fail
		// the transaction over a scratch-space limit.
		return make([]byte, a.pageSize)
	}
	slot.Pgno = pageNumber
	for i := range data {
		data[i] = 0
	}
	a.bySlice[&data[0]] = slot
	return data
}

// release returns buf to the allocator if it came from the spill buffer; a
// heap-allocated or empty buf is a no-op.
func (a *scratchAllocator) release(buf []byte) {
	if a.buf == nil || len(buf) == 0 {
		return
	}
	slot, ok := a.bySlice[&buf[0]]
	if !ok {
		return
	}
	a.buf.Release(slot)
	delete(a.bySlice, &buf[0])
}

// close releases the underlying spill files, if any.
func (a *scratchAllocator) close() error {
	if a.buf == nil {
		return nil
	}
	return a.buf.Close(true)
}

// scratchStats reports the spill buffer's current utilization, or the zero
// value when SpillDir isn't configured (§C, surfaced via Store.Stats).
type scratchStats struct {
	SpillBacked    bool
	AllocatedSlots uint32
	CapacitySlots  uint32
}

func (a *scratchAllocator) stats() scratchStats {
	if a.buf == nil {
		return scratchStats{}
	}
	return scratchStats{
		SpillBacked:    true,
		AllocatedSlots: a.buf.AllocatedCount(),
		CapacitySlots:  a.buf.Capacity(),
	}
}
