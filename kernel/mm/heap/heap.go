// Package heap implements the kernel heap: a first-fit allocator for
// variable-sized byte blocks backed by pages that are obtained from the
// physical frame allocator and mapped by the page table manager.
//
// Blocks are kept in an address-ordered singly linked list. Every block
// starts with a header that is followed by the block payload; together the
// blocks always cover the entire mapped heap region. Free blocks are merged
// with their free neighbours as soon as they are released.
//
// The allocator is not reentrant. Callers must ensure that no two calls on
// the same Allocator overlap, including calls made from interrupt handlers.
package heap

import (
	"incroos/kernel"
	"incroos/kernel/kfmt"
	"incroos/kernel/mm"
	"incroos/kernel/mm/vmm"
)

var (
	errZeroSize           = &kernel.Error{Module: "heap", Message: "zero-sized allocation"}
	errHeapLimit          = &kernel.Error{Module: "heap", Message: "allocation exceeds the maximum heap size"}
	errInvalidPointer     = &kernel.Error{Module: "heap", Message: "pointer does not refer to an allocated heap block"}
	errInvalidConfig      = &kernel.Error{Module: "heap", Message: "heap base must be page-aligned and its initial size must be in (0, max size]"}
	errHeapNotInitialized = &kernel.Error{Module: "heap", Message: "heap is not initialized"}

	log = kfmt.Logger{Module: "heap"}
)

// DefaultConfig describes the kernel heap layout: a 1M heap at the 256M mark
// that may grow up to 16M.
var DefaultConfig = Config{
	Base:        0x10000000,
	InitialSize: 1 * mm.Mb,
	MaxSize:     16 * mm.Mb,
}

// Config defines the virtual memory window used by the heap.
type Config struct {
	// Base is the page-aligned virtual address where the heap starts.
	Base mm.VirtAddr

	// InitialSize is the number of bytes mapped by Init. It is rounded up
	// to a multiple of the page size.
	InitialSize mm.Size

	// MaxSize is the upper limit for the mapped heap size.
	MaxSize mm.Size
}

// FrameAllocator is implemented by physical frame allocators that can supply
// and take back frames for the heap.
type FrameAllocator interface {
	AllocFrame() (mm.Frame, *kernel.Error)
	FreeFrame(mm.Frame)
}

// PageMapper is implemented by page table managers that can map the heap
// frames into the heap's virtual window.
type PageMapper interface {
	Map(mm.VirtAddr, mm.PhysAddr, vmm.PageTableEntryFlag) *kernel.Error
	Unmap(mm.VirtAddr)
	Translate(mm.VirtAddr) (mm.PhysAddr, *kernel.Error)
}

// Allocator manages the kernel heap.
type Allocator struct {
	frames FrameAllocator
	pages  PageMapper

	// base and end delimit the mapped heap region [base, end). The first
	// block header is always located at base.
	base uintptr
	end  uintptr

	maxSize uintptr
}

// Init maps cfg.InitialSize bytes at cfg.Base and sets up a single free block
// that spans the mapped region. If any frame cannot be allocated or mapped,
// every frame obtained so far is released and the error is returned.
func (a *Allocator) Init(frames FrameAllocator, pages PageMapper, cfg Config) *kernel.Error {
	var (
		base        = uintptr(cfg.Base)
		initialSize = uintptr(cfg.InitialSize.PageAlign())
	)

	if !cfg.Base.Aligned() || base == 0 || initialSize == 0 || initialSize > uintptr(cfg.MaxSize) {
		return errInvalidConfig
	}

	a.frames = frames
	a.pages = pages
	a.base = 0
	a.end = 0
	a.maxSize = uintptr(cfg.MaxSize)

	if err := a.mapPages(base, initialSize>>mm.PageShift); err != nil {
		return err
	}

	a.base = base
	a.end = base + initialSize
	*blockAt(base) = blockHeader{
		size:  initialSize - headerSize,
		magic: blockMagic,
		free:  true,
	}

	log.Infof("mapped %dKb at 0x%x (max %dKb)", initialSize>>10, base, a.maxSize>>10)
	return nil
}

// mapPages maps count pages starting at virtual address start to newly
// allocated frames. On failure, all pages mapped by this call are unmapped
// and their frames are released.
func (a *Allocator) mapPages(start, count uintptr) *kernel.Error {
	for i := uintptr(0); i < count; i++ {
		frame, err := a.frames.AllocFrame()
		if err != nil {
			a.unmapPages(start, i)
			return err
		}

		if err = a.pages.Map(mm.VirtAddr(start+(i<<mm.PageShift)), frame.Address(), vmm.FlagRW); err != nil {
			a.frames.FreeFrame(frame)
			a.unmapPages(start, i)
			return err
		}
	}

	return nil
}

// unmapPages removes the mappings for count pages starting at start and
// returns the backing frames to the frame allocator.
func (a *Allocator) unmapPages(start, count uintptr) {
	for i := uintptr(0); i < count; i++ {
		page := mm.VirtAddr(start + (i << mm.PageShift))
		physAddr, err := a.pages.Translate(page)
		a.pages.Unmap(page)
		if err == nil {
			a.frames.FreeFrame(mm.FrameFromAddress(physAddr))
		}
	}
}

// grow extends the heap so that a block with a payload of at least reqSize
// bytes can be carved from its tail. The new pages either extend a trailing
// free block or form a new free block.
func (a *Allocator) grow(reqSize uintptr) *kernel.Error {
	growth := (reqSize + headerSize + mm.PageSize - 1) &^ (mm.PageSize - 1)
	if growth < reqSize || a.end-a.base+growth > a.maxSize {
		return errHeapLimit
	}

	if err := a.mapPages(a.end, growth>>mm.PageShift); err != nil {
		log.Warnf("unable to grow heap by %d bytes: %s", growth, err.Message)
		return err
	}

	lastAddr := a.base
	for blockAt(lastAddr).next != 0 {
		lastAddr = blockAt(lastAddr).next
	}

	if last := blockAt(lastAddr); last.free {
		last.size += growth
	} else {
		*blockAt(a.end) = blockHeader{
			size:  growth - headerSize,
			magic: blockMagic,
			free:  true,
		}
		last.next = a.end
	}

	a.end += growth
	log.Debugf("grew heap by %d bytes to %dKb", growth, (a.end-a.base)>>10)
	return nil
}
