package vmm

import (
	"unsafe"

	"incroos/kernel/mm"
)

// pageTableWalker is a function that can be passed to the walk method. The
// function receives the current page level and page table entry as its
// arguments.  If the function returns false, then the page walk is aborted.
type pageTableWalker func(pteLevel uint8, pte *pageTableEntry) bool

// walk performs a page table walk for the given virtual address starting at
// the root table. It calls the supplied walkFn with the page table entry that
// corresponds to each page table level. Tables are accessed through the
// physical memory window at physMapOffset; the table for the next level is
// located using the frame stored in the current entry, so walkFn must either
// abort the walk or leave a present entry behind.
func (ptm *PageTableManager) walk(virtAddr mm.VirtAddr, walkFn pageTableWalker) {
	var (
		level                            uint8
		tableAddr, entryAddr, entryIndex uintptr
	)

	for level, tableAddr = uint8(0), uintptr(ptm.root); level < pageLevels; level++ {
		// Extract the bits from virtual address that correspond to the
		// index in this level's page table
		entryIndex = (uintptr(virtAddr) >> pageLevelShifts[level]) & ((1 << pageLevelBits[level]) - 1)
		entryAddr = ptm.physMapOffset + tableAddr + (entryIndex << mm.PointerShift)

		pte := (*pageTableEntry)(unsafe.Pointer(entryAddr))
		if !walkFn(level, pte) {
			return
		}

		tableAddr = uintptr(pte.Frame().Address())
	}
}
