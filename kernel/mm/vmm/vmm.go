// Package vmm implements the page table manager which maintains the 4-level
// amd64 page table hierarchy that translates virtual addresses to physical
// ones.
//
// The page table manager is not reentrant. The kernel owns a single instance
// and must not invoke its methods concurrently or from interrupt handlers.
package vmm

import (
	"incroos/kernel"
	"incroos/kernel/kfmt"
	"incroos/kernel/mm"
)

var (
	errMisalignedAddress = &kernel.Error{Module: "vmm", Message: "virtual and physical addresses must be page-aligned"}
	errNoHugePageSupport = &kernel.Error{Module: "vmm", Message: "huge pages are not supported"}

	log = kfmt.Logger{Module: "vmm"}
)

// FrameAllocator is implemented by physical frame allocators that can supply
// frames for new page tables.
type FrameAllocator interface {
	AllocFrame() (mm.Frame, *kernel.Error)
}

// PageTableManager maps, unmaps and translates virtual addresses using the
// page table hierarchy that is active when Init is invoked.
type PageTableManager struct {
	frames FrameAllocator
	mmu    MMU

	// physMapOffset is the virtual address at which physical address 0 is
	// accessible. Page tables are read and written through this window.
	physMapOffset uintptr

	// root is the physical address of the top-level page table.
	root mm.PhysAddr

	tablesCreated uint64
	mappedPages   uint64
}

// Init captures the physical address of the currently active top-level page
// table. New intermediate tables are allocated from frames. A nil mmu selects
// HardwareMMU.
//
// Init assumes that a bootstrap page table hierarchy has already been set up
// by the boot loader and that physical memory is accessible at
// physMapOffset.
func (ptm *PageTableManager) Init(frames FrameAllocator, mmu MMU, physMapOffset uintptr) {
	if mmu == nil {
		mmu = HardwareMMU{}
	}

	ptm.frames = frames
	ptm.mmu = mmu
	ptm.physMapOffset = physMapOffset
	ptm.root = mm.PhysAddr(mmu.ActivePDT() & ptePhysPageMask)
	ptm.tablesCreated = 0
	ptm.mappedPages = 0

	log.Infof("active page table at 0x%16x", uintptr(ptm.root))
}

// RootTable returns the physical address of the top-level page table.
func (ptm *PageTableManager) RootTable() mm.PhysAddr {
	return ptm.root
}

// TablesCreated returns the number of intermediate tables allocated by Map.
func (ptm *PageTableManager) TablesCreated() uint64 {
	return ptm.tablesCreated
}

// MappedPages returns the number of pages mapped by Map that have not been
// unmapped yet.
func (ptm *PageTableManager) MappedPages() uint64 {
	return ptm.mappedPages
}

// PrintStats logs the page table manager counters.
func (ptm *PageTableManager) PrintStats() {
	log.Infof("root table: 0x%x, tables created: %d, mapped pages: %d",
		uintptr(ptm.root), ptm.tablesCreated, ptm.mappedPages)
}
