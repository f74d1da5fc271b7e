// Package kmem brings up the kernel memory subsystem: the physical frame
// allocator, the page table manager and the kernel heap, in that order.
package kmem

import (
	"incroos/kernel"
	"incroos/kernel/kfmt"
	"incroos/kernel/mm"
	"incroos/kernel/mm/heap"
	"incroos/kernel/mm/pmm"
	"incroos/kernel/mm/vmm"
)

var log = kfmt.Logger{Module: "kmem"}

// Region describes a range of physical memory.
type Region struct {
	Start mm.PhysAddr
	Size  mm.Size
}

// Config contains the boot-time parameters for the memory subsystem.
type Config struct {
	// TotalMemory is the amount of physical memory in bytes.
	TotalMemory mm.Size

	// KernelEnd is the physical address past the end of the kernel image.
	KernelEnd mm.PhysAddr

	// ReservedRegions lists firmware regions below TotalMemory that must
	// never be handed out by the frame allocator.
	ReservedRegions []Region

	// MMU provides access to the paging hardware. A nil value selects
	// vmm.HardwareMMU.
	MMU vmm.MMU

	// PhysMapOffset is the virtual address where physical memory is
	// accessible.
	PhysMapOffset uintptr

	// Heap defines the heap window.
	Heap heap.Config
}

// Subsystem owns the three memory managers. Each layer only talks to the
// layers below it: the page table manager obtains frames for new tables from
// Frames and the heap obtains frames from Frames and maps them via Pages.
//
// None of the managers is reentrant; the kernel keeps a single Subsystem and
// must serialize all calls into it.
type Subsystem struct {
	Frames pmm.BitmapAllocator
	Pages  vmm.PageTableManager
	Heap   heap.Allocator
}

// Init initializes the memory managers in dependency order.
func (s *Subsystem) Init(cfg Config) *kernel.Error {
	s.Frames.Init(cfg.TotalMemory, cfg.KernelEnd)
	for _, region := range cfg.ReservedRegions {
		log.Debugf("reserving [0x%x - 0x%x)", uintptr(region.Start), uintptr(region.Start)+uintptr(region.Size))
		s.Frames.ReserveRegion(region.Start, region.Size)
	}

	s.Pages.Init(&s.Frames, cfg.MMU, cfg.PhysMapOffset)

	if err := s.Heap.Init(&s.Frames, &s.Pages, cfg.Heap); err != nil {
		log.Errorf("heap initialization failed: %s", err.Message)
		return err
	}

	log.Infof("memory subsystem ready")
	return nil
}

// PrintStats logs the usage counters of all three layers.
func (s *Subsystem) PrintStats() {
	s.Frames.PrintStats()
	s.Pages.PrintStats()
	s.Heap.PrintStats()
}
