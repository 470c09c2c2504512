// Package pmm implements the Physical Frame Manager: a bitmap-backed,
// thread-safe frame allocator derived once from the bootloader memory map.
package pmm

import (
	"sync"

	"github.com/zdivelbiss/vellum/kernel"
	"github.com/zdivelbiss/vellum/kernel/kfmt"
	"github.com/zdivelbiss/vellum/kernel/mem"
)

var (
	ErrNoneFree         = &kernel.Error{Module: "pmm", Message: "no free frames available"}
	ErrInvalidAlignment = &kernel.Error{Module: "pmm", Message: "alignment must be a non-zero power of two"}
	ErrOutOfBounds      = &kernel.Error{Module: "pmm", Message: "frame address is out of bounds"}
	ErrNotFree          = &kernel.Error{Module: "pmm", Message: "frame is already locked"}
	ErrNotLocked        = &kernel.Error{Module: "pmm", Message: "frame is already free"}
)

// Manager is the single, process-wide frame allocator. Exactly one Manager
// is constructed, via New, during init orchestration.
type Manager struct {
	mu          sync.RWMutex
	bm          *bitmap
	totalFrames int
}

// New derives a Manager from memMap. translate converts a physical backing
// address (chosen from inside a USABLE entry, to host the bitmap itself)
// into a writable address; production callers pass hhdm.Offset, tests pass
// the identity function over host-allocated memory.
func New(memMap []MemoryMapEntry, translate func(phys uintptr) uintptr) (*Manager, *kernel.Error) {
	if len(memMap) == 0 {
		return nil, &kernel.Error{Module: "pmm", Message: "memory map is empty"}
	}

	var highestEnd uintptr
	for _, e := range memMap {
		if end := e.End(); end > highestEnd {
			highestEnd = end
		}
	}

	totalFrames := int((uintptr(highestEnd) + uintptr(mem.PageSize) - 1) >> mem.PageShift)
	bitmapBytes := uintptr(bitmapWords(totalFrames)) * 8
	bitmapFrames := int((bitmapBytes + uintptr(mem.PageSize) - 1) >> mem.PageShift)

	bitmapPhys, ok := claimRegion(memMap, bitmapFrames)
	if !ok {
		return nil, &kernel.Error{Module: "pmm", Message: "no USABLE region large enough to host the frame bitmap"}
	}

	backingAddr := translate(bitmapPhys)
	bm := initBitmap(backingAddr, totalFrames)
	for i := range bm.words {
		bm.words[i] = 0
	}

	m := &Manager{bm: bm, totalFrames: totalFrames}
	m.construct(memMap, bitmapPhys, bitmapFrames)

	kfmt.Printf("[pmm] %d total frames (%d MiB), bitmap at 0x%x (%d frames)\n",
		totalFrames, uint64(m.TotalMemory()/mem.Mb), bitmapPhys, bitmapFrames)

	return m, nil
}

// NewHostBacked builds a Manager identically to New, except the bitmap is
// backed by ordinary Go-managed memory instead of a raw address supplied by
// the boot-time memory map. Used by tests and by host-side tooling that
// exercises frame-management logic without real physical memory underneath
// it.
func NewHostBacked(memMap []MemoryMapEntry) (*Manager, *kernel.Error) {
	var highestEnd uintptr
	for _, e := range memMap {
		if end := e.End(); end > highestEnd {
			highestEnd = end
		}
	}

	totalFrames := int((uintptr(highestEnd) + uintptr(mem.PageSize) - 1) >> mem.PageShift)
	bitmapBytes := uintptr(bitmapWords(totalFrames)) * 8
	bitmapFrames := int((bitmapBytes + uintptr(mem.PageSize) - 1) >> mem.PageShift)

	bitmapPhys, ok := claimRegion(memMap, bitmapFrames)
	if !ok {
		return nil, &kernel.Error{Module: "pmm", Message: "no USABLE region large enough to host the frame bitmap"}
	}

	m := &Manager{bm: newHostBitmap(totalFrames), totalFrames: totalFrames}
	m.construct(memMap, bitmapPhys, bitmapFrames)

	kfmt.Printf("[pmm] %d total frames (%d MiB), bitmap at 0x%x (%d frames)\n",
		totalFrames, uint64(m.TotalMemory()/mem.Mb), bitmapPhys, bitmapFrames)

	return m, nil
}

// claimRegion finds the first USABLE entry with at least frameCount
// page-aligned frames and returns its (rounded-up) starting physical
// address.
func claimRegion(memMap []MemoryMapEntry, frameCount int) (uintptr, bool) {
	need := uintptr(frameCount) << mem.PageShift
	for _, e := range memMap {
		if e.Type != Usable {
			continue
		}
		start := alignUp(e.Base, uintptr(mem.PageSize))
		end := alignDown(e.End(), uintptr(mem.PageSize))
		if end <= start {
			continue
		}
		if end-start >= need {
			return start, true
		}
	}
	return 0, false
}

// construct marks the initial bitmap state: everything locked, then every
// USABLE entry's frames freed, then the bitmap's own backing frames
// re-locked (they fall inside a USABLE entry but are not actually free).
func (m *Manager) construct(memMap []MemoryMapEntry, bitmapPhys uintptr, bitmapFrames int) {
	m.bm.setRange(0, m.totalFrames)

	for _, e := range memMap {
		if e.Type != Usable {
			continue
		}
		start := alignUp(e.Base, uintptr(mem.PageSize)) >> mem.PageShift
		end := alignDown(e.End(), uintptr(mem.PageSize)) >> mem.PageShift
		if end <= start {
			continue
		}
		for f := int(start); f < int(end) && f < m.totalFrames; f++ {
			m.bm.clear(f)
		}
	}

	bitmapStartFrame := int(bitmapPhys >> mem.PageShift)
	m.bm.setRange(bitmapStartFrame, bitmapFrames)
}

func alignUp(v, align uintptr) uintptr   { return (v + align - 1) &^ (align - 1) }
func alignDown(v, align uintptr) uintptr { return v &^ (align - 1) }

// NextFrame scans for the lowest-index clear bit, locks it, and returns the
// corresponding frame address.
func (m *Manager) NextFrame() (mem.Addr[mem.Frame], *kernel.Error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	idx, ok := m.bm.findClearBit()
	if !ok {
		return mem.Addr[mem.Frame]{}, ErrNoneFree
	}
	m.bm.set(idx)
	return mem.AddrOf[mem.Frame](uintptr(idx) << mem.PageShift), nil
}

// NextFrames scans for a run of count consecutive clear bits whose starting
// byte address is aligned to alignBytes (which must be a non-zero power of
// two), locks them all, and returns the starting frame address.
func (m *Manager) NextFrames(count int, alignBytes uintptr) (mem.Addr[mem.Frame], *kernel.Error) {
	if alignBytes == 0 || alignBytes&(alignBytes-1) != 0 {
		return mem.Addr[mem.Frame]{}, ErrInvalidAlignment
	}

	stride := int(alignBytes >> mem.PageShift)
	if stride < 1 {
		stride = 1
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	idx, ok := m.bm.findClearRun(count, stride)
	if !ok {
		return mem.Addr[mem.Frame]{}, ErrNoneFree
	}
	m.bm.setRange(idx, count)
	return mem.AddrOf[mem.Frame](uintptr(idx) << mem.PageShift), nil
}

// LockFrame marks frame as locked. Fails if frame is out of bounds or
// already locked.
func (m *Manager) LockFrame(frame mem.Addr[mem.Frame]) *kernel.Error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	idx := int(frame.Value() >> mem.PageShift)
	if idx < 0 || idx >= m.totalFrames {
		return ErrOutOfBounds
	}
	if !m.bm.set(idx) {
		return ErrNotFree
	}
	return nil
}

// FreeFrame marks frame as free. Fails if frame is out of bounds or already
// free.
func (m *Manager) FreeFrame(frame mem.Addr[mem.Frame]) *kernel.Error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	idx := int(frame.Value() >> mem.PageShift)
	if idx < 0 || idx >= m.totalFrames {
		return ErrOutOfBounds
	}
	if !m.bm.clear(idx) {
		return ErrNotLocked
	}
	return nil
}

// IsLocked reports whether frame is currently locked. Out-of-bounds frames
// are reported as locked, matching the padding invariant.
func (m *Manager) IsLocked(frame mem.Addr[mem.Frame]) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	idx := int(frame.Value() >> mem.PageShift)
	if idx < 0 || idx >= m.totalFrames {
		return true
	}
	return m.bm.test(idx)
}

// TotalFrames returns the number of frames covered by the bitmap.
func (m *Manager) TotalFrames() int { return m.totalFrames }

// TotalMemory returns the total physical memory covered by the bitmap.
func (m *Manager) TotalMemory() mem.Size { return mem.Size(m.totalFrames) * mem.PageSize }
