// Package paging implements the kernel's page-table Mapper: a radix
// address-translation structure of 4 or 5 levels, as chosen by the caller
// of New (kernel/boot always uses 4; there is no LA57 detection).
package paging

import (
	"github.com/zdivelbiss/vellum/kernel"
	"github.com/zdivelbiss/vellum/kernel/cpu"
	"github.com/zdivelbiss/vellum/kernel/mem"
	"github.com/zdivelbiss/vellum/kernel/mem/pmm"
)

var (
	ErrAllocationFailure = &kernel.Error{Module: "paging", Message: "failed to allocate a page table frame"}
	ErrAlreadyMapped     = &kernel.Error{Module: "paging", Message: "page is already mapped"}
	ErrHugeMisaligned    = &kernel.Error{Module: "paging", Message: "huge page request is misaligned or the depth is not a huge-page depth"}
)

// flushTLBEntryFn is mocked by tests to avoid issuing a real invlpg.
var (
	flushTLBEntryFn = cpu.FlushTLBEntry
	switchPDTFn     = cpu.SwitchPDT
)

// ErrNotMapped reports that page has no mapping at the requested depth.
type ErrNotMapped struct {
	Page mem.Addr[mem.Page]
}

func (e *ErrNotMapped) Error() string {
	return "page is not mapped"
}

// AttrMode selects how SetPageAttributes combines new flags with existing
// ones.
type AttrMode int

const (
	Set AttrMode = iota
	Insert
	Remove
	Toggle
)

// Mapper owns one radix page table rooted at a single frame.
type Mapper struct {
	root  mem.Addr[mem.Frame]
	depth int
	frame *pmm.Manager
}

// New allocates a fresh, zeroed root frame and returns a Mapper of the
// requested depth (4 or 5).
func New(frames *pmm.Manager, depth int) (*Mapper, *kernel.Error) {
	if depth != 4 && depth != 5 {
		kernel.Panic(&kernel.Error{Module: "paging", Message: "depth must be 4 or 5"})
	}

	root, err := frames.NextFrame()
	if err != nil {
		return nil, err
	}
	zeroTable(root)

	return &Mapper{root: root, depth: depth, frame: frames}, nil
}

// fromRoot wraps an already-populated root frame, used to build a Mapper
// over the kernel's half without allocating a new root (see NewUserHalf).
func fromRoot(frames *pmm.Manager, depth int, root mem.Addr[mem.Frame]) *Mapper {
	return &Mapper{root: root, depth: depth, frame: frames}
}

func zeroTable(frame mem.Addr[mem.Frame]) {
	tbl := table(frame)
	for i := range tbl {
		tbl[i] = 0
	}
}

// huge-page depth: 1 maps a 2 MiB entry at the PD level, 2 maps a 1 GiB
// entry at the PDPT level. Depth 0 is always a 4 KiB leaf.
func isHugeDepth(depth int) bool { return depth == 1 || depth == 2 }

func hugeAlignment(depth int) uintptr {
	switch depth {
	case 1:
		return 2 * uintptr(mem.Mb)
	case 2:
		return 1 * uintptr(mem.Gb)
	default:
		return uintptr(mem.PageSize)
	}
}

// Map installs a leaf PTE for page at the given depth, allocating and
// zeroing any missing intermediate tables along the way.
func (m *Mapper) Map(page mem.Addr[mem.Page], depth int, frame mem.Addr[mem.Frame], lockFrame bool, flags Flags) *kernel.Error {
	if isHugeDepth(depth) && frame.Value()%hugeAlignment(depth) != 0 {
		return ErrHugeMisaligned
	}

	if lockFrame {
		if err := m.frame.LockFrame(frame); err != nil {
			return err
		}
	}

	cur := m.root
	for level := m.depth - 1; level > depth; level-- {
		tbl := table(cur)
		idx := index(page, level)
		pte := &tbl[idx]

		if pte.HasFlags(FlagHuge) {
			return ErrHugeMisaligned
		}

		if !pte.HasFlags(FlagPresent) {
			newFrame, err := m.frame.NextFrame()
			if err != nil {
				return ErrAllocationFailure
			}
			zeroTable(newFrame)
			*pte = 0
			pte.SetFrame(newFrame)
			pte.SetFlags(FlagPresent | FlagUser | FlagWrite)
		}

		cur = pte.Frame()
	}

	tbl := table(cur)
	idx := index(page, depth)
	pte := &tbl[idx]
	if pte.HasFlags(FlagPresent) {
		return ErrAlreadyMapped
	}

	*pte = 0
	pte.SetFrame(frame)
	leafFlags := flags | FlagPresent
	if isHugeDepth(depth) {
		leafFlags |= FlagHuge
	}
	pte.SetFlags(leafFlags)

	flushTLBEntryFn(page.Value())
	return nil
}

// Unmap clears the leaf PTE for page at toDepth, optionally returning its
// frame to the Physical Frame Manager.
func (m *Mapper) Unmap(page mem.Addr[mem.Page], toDepth int, freeFrame bool) *kernel.Error {
	cur := m.root
	for level := m.depth - 1; level > toDepth; level-- {
		tbl := table(cur)
		pte := &tbl[index(page, level)]
		if !pte.HasFlags(FlagPresent) {
			return &ErrNotMapped{Page: page}
		}
		cur = pte.Frame()
	}

	tbl := table(cur)
	pte := &tbl[index(page, toDepth)]
	if !pte.HasFlags(FlagPresent) {
		return &ErrNotMapped{Page: page}
	}

	frame := pte.Frame()
	pte.ClearFlags(FlagPresent)

	if freeFrame {
		if err := m.frame.FreeFrame(frame); err != nil {
			return err
		}
	}

	flushTLBEntryFn(page.Value())
	return nil
}

// AutoMap allocates a fresh frame from the Physical Frame Manager and maps
// it at page as a 4 KiB leaf.
func (m *Mapper) AutoMap(page mem.Addr[mem.Page], flags Flags) *kernel.Error {
	frame, err := m.frame.NextFrame()
	if err != nil {
		return err
	}
	if err := m.Map(page, 0, frame, false, flags); err != nil {
		m.frame.FreeFrame(frame)
		return err
	}
	return nil
}

func (m *Mapper) leaf(page mem.Addr[mem.Page]) (*PTE, bool) {
	cur := m.root
	for level := m.depth - 1; level > 0; level-- {
		tbl := table(cur)
		pte := &tbl[index(page, level)]
		if !pte.HasFlags(FlagPresent) {
			return nil, false
		}
		if pte.HasFlags(FlagHuge) {
			return pte, true
		}
		cur = pte.Frame()
	}
	tbl := table(cur)
	pte := &tbl[index(page, 0)]
	return pte, pte.HasFlags(FlagPresent)
}

// IsMapped reports whether page has a present leaf entry. depth is accepted
// for API symmetry with Map/Unmap but the walk always resolves to whichever
// depth actually holds a huge or 4 KiB leaf.
func (m *Mapper) IsMapped(page mem.Addr[mem.Page], depth int) bool {
	_, ok := m.leaf(page)
	return ok
}

// IsMappedTo reports whether page is currently mapped to frame.
func (m *Mapper) IsMappedTo(page mem.Addr[mem.Page], frame mem.Addr[mem.Frame]) bool {
	pte, ok := m.leaf(page)
	return ok && pte.Frame().Value() == frame.Value()
}

// GetMappedTo returns the frame page is mapped to, if any.
func (m *Mapper) GetMappedTo(page mem.Addr[mem.Page]) (mem.Addr[mem.Frame], bool) {
	pte, ok := m.leaf(page)
	if !ok {
		return mem.Addr[mem.Frame]{}, false
	}
	return pte.Frame(), true
}

// GetPageAttributes returns the flags on page's leaf entry, if mapped.
func (m *Mapper) GetPageAttributes(page mem.Addr[mem.Page]) (Flags, bool) {
	pte, ok := m.leaf(page)
	if !ok {
		return 0, false
	}
	return pte.Flags(), true
}

// SetPageAttributes mutates page's leaf entry flags at depth according to
// mode.
func (m *Mapper) SetPageAttributes(page mem.Addr[mem.Page], depth int, flags Flags, mode AttrMode) *kernel.Error {
	cur := m.root
	for level := m.depth - 1; level > depth; level-- {
		tbl := table(cur)
		pte := &tbl[index(page, level)]
		if !pte.HasFlags(FlagPresent) {
			return &ErrNotMapped{Page: page}
		}
		cur = pte.Frame()
	}

	tbl := table(cur)
	pte := &tbl[index(page, depth)]
	if !pte.HasFlags(FlagPresent) {
		return &ErrNotMapped{Page: page}
	}

	switch mode {
	case Set:
		preserved := pte.Frame()
		*pte = 0
		pte.SetFrame(preserved)
		pte.SetFlags(flags)
	case Insert:
		pte.SetFlags(flags)
	case Remove:
		pte.ClearFlags(flags)
	case Toggle:
		for bit := Flags(1); bit != 0; bit <<= 1 {
			if flags&bit != 0 {
				if pte.HasFlags(bit) {
					pte.ClearFlags(bit)
				} else {
					pte.SetFlags(bit)
				}
			}
		}
	}

	flushTLBEntryFn(page.Value())
	return nil
}

// SwapInto installs this Mapper's root frame as the active address space.
func (m *Mapper) SwapInto() {
	switchPDTFn(m.root.Value())
}

// ViewPageTable returns a read-only view of the root table's 512 entries.
func (m *Mapper) ViewPageTable() []PTE {
	return table(m.root)
}

// Root returns the Mapper's root frame, used when constructing a user
// address space's kernel-half duplication.
func (m *Mapper) Root() mem.Addr[mem.Frame] { return m.root }

// Depth returns the Mapper's radix depth (4 or 5).
func (m *Mapper) Depth() int { return m.depth }

// NewUserHalf allocates a fresh root frame, copies the kernel Mapper's root
// entries into it verbatim, and leaves the lower (user) half empty. The
// kernel half is always resident and shared; it must never be modified
// through the returned Mapper.
func NewUserHalf(kernelMapper *Mapper) (*Mapper, *kernel.Error) {
	root, err := kernelMapper.frame.NextFrame()
	if err != nil {
		return nil, err
	}

	src := table(kernelMapper.root)
	dst := table(root)
	half := entriesPerTable / 2
	for i := 0; i < half; i++ {
		dst[i] = 0
	}
	for i := half; i < entriesPerTable; i++ {
		dst[i] = src[i]
	}

	return fromRoot(kernelMapper.frame, kernelMapper.depth, root), nil
}
