package paging

import "github.com/zdivelbiss/vellum/kernel/mem"

// Walker performs a read-only traversal of a Mapper's radix table, yielding
// every leaf entry at a target depth including absent ones. It is used to
// search for runs of unmapped virtual address space (see addrspace.Mmap's
// any-free-range path) without mutating anything.
type Walker struct {
	m *Mapper
}

// NewWalker returns a Walker bound to m.
func NewWalker(m *Mapper) *Walker { return &Walker{m: m} }

// Leaf reports the entry at page's targetDepth and whether it is present.
// Branches that are absent above targetDepth are reported as an absent leaf
// rather than an error, so callers counting free ranges don't need to
// special-case missing intermediate tables.
func (w *Walker) Leaf(page mem.Addr[mem.Page], targetDepth int) (*PTE, bool) {
	cur := w.m.root
	for level := w.m.depth - 1; level > targetDepth; level-- {
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
	pte := &tbl[index(page, targetDepth)]
	return pte, pte.HasFlags(FlagPresent)
}

// CountAbsentRun walks pages [start, start+maxCount) at targetDepth and
// returns the length of the run of consecutive absent leaves starting at
// start, stopping early at the first present leaf.
func (w *Walker) CountAbsentRun(start mem.Addr[mem.Page], maxCount int, targetDepth int) int {
	count := 0
	for i := 0; i < maxCount; i++ {
		page := mem.AddrOf[mem.Page](start.Value() + uintptr(i)*uintptr(mem.PageSize))
		if _, present := w.Leaf(page, targetDepth); present {
			break
		}
		count++
	}
	return count
}
