// Package kmain contains the kernel entry point invoked by the rt0 code.
package kmain

import (
	"incroos/kernel"
	"incroos/kernel/kfmt"
	"incroos/kernel/mm"
	"incroos/kernel/mm/heap"
	"incroos/kernel/mm/kmem"
	"incroos/kernel/mm/vmm"
	"incroos/multiboot"
)

// maxMemRegions bounds the number of available memory regions that are
// considered when locating firmware holes.
const maxMemRegions = 32

// memory is the kernel memory subsystem. It is not reentrant; only the boot
// CPU may call into it and never from an interrupt handler.
var memory kmem.Subsystem

var (
	// The following are overridden by tests.
	panicFn            = kfmt.Panic
	mmu        vmm.MMU = vmm.HardwareMMU{}
	heapConfig         = heap.DefaultConfig

	// physMapOffset is 0 as the rt0 code identity-maps physical memory.
	physMapOffset uintptr
)

var (
	availRegions [maxMemRegions]kmem.Region
	holes        [maxMemRegions + 1]kmem.Region

	errKmainReturned = &kernel.Error{Module: "kmain", Message: "Kmain returned"}
	errNoMemoryMap   = &kernel.Error{Module: "kmain", Message: "boot loader did not report any available memory"}

	log = kfmt.Logger{Module: "kmain"}
)

// Kmain is the only Go symbol that is visible (exported) from the rt0 initialization
// code. This function is invoked by the rt0 assembly code after setting up the GDT
// and setting up a a minimal g0 struct that allows Go code using the 4K stack
// allocated by the assembly code.
//
// The rt0 code passes the address of the multiboot info payload provided by the
// bootloader as well as the physical addresses for the kernel start/end.
//
// Kmain is not expected to return. If it does, the rt0 code will halt the CPU.
//
//go:noinline
func Kmain(multibootInfoPtr, kernelStart, kernelEnd uintptr) {
	multiboot.SetInfoPtr(multibootInfoPtr)
	log.Infof("kernel image at [0x%x - 0x%x)", kernelStart, kernelEnd)

	totalMemory := multiboot.TotalMemory()
	if totalMemory == 0 {
		panicFn(errNoMemoryMap)
		return
	}

	cfg := kmem.Config{
		TotalMemory:     totalMemory,
		KernelEnd:       mm.PhysAddr(kernelEnd),
		ReservedRegions: firmwareHoles(totalMemory),
		MMU:             mmu,
		PhysMapOffset:   physMapOffset,
		Heap:            heapConfig,
	}

	if err := memory.Init(cfg); err != nil {
		panicFn(err)
		return
	}
	memory.PrintStats()

	// Use kfmt.Panic instead of panic to prevent the compiler from
	// treating kfmt.Panic as dead-code and eliminating it.
	panicFn(errKmainReturned)
}

// firmwareHoles returns the ranges below totalMemory that are not covered by
// an available region of the boot loader memory map.
func firmwareHoles(totalMemory mm.Size) []kmem.Region {
	var count int

	multiboot.VisitMemRegions(func(entry *multiboot.MemoryMapEntry) bool {
		if entry.Type != multiboot.MemAvailable || entry.Length == 0 {
			return true
		}

		if count == maxMemRegions {
			log.Warnf("ignoring available memory at 0x%x", entry.PhysAddress)
			return true
		}

		// Keep the regions sorted by start address
		region := kmem.Region{Start: mm.PhysAddr(entry.PhysAddress), Size: mm.Size(entry.Length)}
		index := count
		for ; index > 0 && availRegions[index-1].Start > region.Start; index-- {
			availRegions[index] = availRegions[index-1]
		}
		availRegions[index] = region
		count++

		return true
	})

	var (
		holeCount int
		cursor    mm.PhysAddr
		limit     = mm.PhysAddr(totalMemory)
	)

	for _, region := range availRegions[:count] {
		if region.Start > cursor {
			holes[holeCount] = kmem.Region{Start: cursor, Size: mm.Size(region.Start - cursor)}
			holeCount++
		}

		if end := region.Start + mm.PhysAddr(region.Size); end > cursor {
			cursor = end
		}
	}

	if cursor < limit {
		holes[holeCount] = kmem.Region{Start: cursor, Size: mm.Size(limit - cursor)}
		holeCount++
	}

	return holes[:holeCount]
}
