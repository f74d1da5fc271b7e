package vmm

import "incroos/kernel/cpu"

var (
	// the following functions are mocked by tests and are automatically
	// inlined by the compiler.
	activePDTFn     = cpu.ActivePDT
	flushTLBEntryFn = cpu.FlushTLBEntry
)

// MMU abstracts the two pieces of paging hardware that the page table manager
// talks to: the register holding the active top-level table and the
// translation lookaside buffer.
type MMU interface {
	// ActivePDT returns the physical address of the active top-level
	// page table.
	ActivePDT() uintptr

	// FlushTLBEntry invalidates the cached translation for the page that
	// contains virtAddr.
	FlushTLBEntry(virtAddr uintptr)
}

// HardwareMMU drives the CPU paging registers directly.
type HardwareMMU struct{}

// ActivePDT returns the value of the CR3 register.
func (HardwareMMU) ActivePDT() uintptr {
	return activePDTFn()
}

// FlushTLBEntry executes INVLPG for virtAddr.
func (HardwareMMU) FlushTLBEntry(virtAddr uintptr) {
	flushTLBEntryFn(virtAddr)
}
