// Package mm defines the address and index types shared by the physical frame
// allocator, the page table manager and the kernel heap. Physical addresses,
// virtual addresses, frame indices and page indices are distinct types so the
// compiler rejects accidental mix-ups; converting between them always goes
// through one of the helpers below.
package mm

import "math"

// PhysAddr is an address in the physical address space.
type PhysAddr uintptr

// Aligned returns true if addr is aligned to a frame boundary.
func (addr PhysAddr) Aligned() bool {
	return uintptr(addr)&(PageSize-1) == 0
}

// VirtAddr is an address in the virtual address space.
type VirtAddr uintptr

// Aligned returns true if addr is aligned to a page boundary.
func (addr VirtAddr) Aligned() bool {
	return uintptr(addr)&(PageSize-1) == 0
}

// PageOffset returns the offset of addr within the page that contains it.
func (addr VirtAddr) PageOffset() uintptr {
	return uintptr(addr) & (PageSize - 1)
}

// Frame describes a physical memory page index.
type Frame uintptr

const (
	// InvalidFrame is returned by frame allocators when
	// they fail to reserve the requested frame.
	InvalidFrame = Frame(math.MaxUint64)
)

// Valid returns true if this is a valid frame.
func (f Frame) Valid() bool {
	return f != InvalidFrame
}

// Address returns the physical address of the first byte in this frame.
func (f Frame) Address() PhysAddr {
	return PhysAddr(f << PageShift)
}

// FrameFromAddress returns the Frame that contains the given physical
// address. Addresses that are not frame-aligned are rounded down.
func FrameFromAddress(physAddr PhysAddr) Frame {
	return Frame((uintptr(physAddr) &^ (PageSize - 1)) >> PageShift)
}

// Page describes a virtual memory page index.
type Page uintptr

// Address returns the virtual address of the first byte in this page.
func (p Page) Address() VirtAddr {
	return VirtAddr(p << PageShift)
}

// PageFromAddress returns the Page that contains the given virtual address.
// Addresses that are not page-aligned are rounded down.
func PageFromAddress(virtAddr VirtAddr) Page {
	return Page((uintptr(virtAddr) &^ (PageSize - 1)) >> PageShift)
}
