// Package kalloc implements the kernel's frame-granular general allocator:
// every request, regardless of the size requested, is rounded up to whole
// frames taken from the Physical Frame Manager and handed back as a slice
// aliased into the HHDM.
package kalloc

import (
	"sync"
	"unsafe"

	"github.com/zdivelbiss/vellum/kernel"
	"github.com/zdivelbiss/vellum/kernel/mem"
	"github.com/zdivelbiss/vellum/kernel/mem/hhdm"
	"github.com/zdivelbiss/vellum/kernel/mem/pmm"
)

var (
	once sync.Once
	mgr  *pmm.Manager
	set  bool
)

// Init binds the allocator to the process-wide frame manager. Called once
// during init orchestration, after the PFM has been constructed.
func Init(m *pmm.Manager) {
	if set {
		kernel.Panic(&kernel.Error{Module: "kalloc", Message: "Init called more than once"})
	}
	once.Do(func() {
		mgr = m
		set = true
	})
}

// resetForTest clears the write-once guard so tests can rebind the
// allocator to a fresh Manager between cases.
func resetForTest() {
	once = sync.Once{}
	mgr = nil
	set = false
}

func requireInit() {
	if !set {
		kernel.Panic(&kernel.Error{Module: "kalloc", Message: "allocation requested before Init"})
	}
}

func frameCount(size mem.Size) int {
	return int((size + mem.PageSize - 1) / mem.PageSize)
}

// Allocate satisfies a size/alignment request with ceil(size/pageSize)
// consecutive frames. Alignment greater than the page size is a programmer
// error and panics; a zero alignment is treated as page-aligned.
func Allocate(size mem.Size, align uintptr) ([]byte, *kernel.Error) {
	requireInit()
	if align > uintptr(mem.PageSize) {
		kernel.Panic(&kernel.Error{Module: "kalloc", Message: "alignment greater than page size is not supported"})
	}
	if align == 0 {
		align = uintptr(mem.PageSize)
	}

	count := frameCount(size)
	if count == 0 {
		count = 1
	}

	start, err := mgr.NextFrames(count, align)
	if err != nil {
		return nil, err
	}

	page := hhdm.OffsetFrame(start)
	length := count * int(mem.PageSize)
	return unsafe.Slice((*byte)(unsafe.Pointer(page.Value())), length), nil
}

// AllocateZeroed behaves like Allocate but zeroes the returned region before
// handing it back.
func AllocateZeroed(size mem.Size, align uintptr) ([]byte, *kernel.Error) {
	buf, err := Allocate(size, align)
	if err != nil {
		return nil, err
	}
	kernel.Memset(uintptr(unsafe.Pointer(&buf[0])), 0, uintptr(len(buf)))
	return buf, nil
}

// Deallocate returns every frame backing buf to the Physical Frame Manager.
// buf must be a slice previously returned by Allocate or AllocateZeroed,
// unmodified in length.
func Deallocate(buf []byte) *kernel.Error {
	requireInit()
	if len(buf) == 0 {
		return nil
	}

	virt := mem.AddrOf[mem.Virtual](uintptr(unsafe.Pointer(&buf[0])))
	page := mem.AddrOf[mem.Page](virt.Value())
	frame := hhdm.NegativeOffsetPage(page)

	count := (len(buf) + int(mem.PageSize) - 1) / int(mem.PageSize)
	for i := 0; i < count; i++ {
		f := mem.AddrOf[mem.Frame](frame.Value() + uintptr(i)*uintptr(mem.PageSize))
		if err := mgr.FreeFrame(f); err != nil {
			return err
		}
	}
	return nil
}
