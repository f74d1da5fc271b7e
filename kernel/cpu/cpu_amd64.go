// Package cpu exposes the amd64 instructions the memory subsystem needs to
// drive the paging hardware. The functions are implemented in assembly and
// fault if invoked from user-mode.
package cpu

// Halt disables interrupts and stops instruction execution.
func Halt()

// FlushTLBEntry invalidates the TLB entry for a particular virtual address.
func FlushTLBEntry(virtAddr uintptr)

// ActivePDT returns the physical address of the currently active page table
// (the contents of the CR3 register).
func ActivePDT() uintptr
