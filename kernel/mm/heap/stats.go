package heap

import (
	"incroos/kernel"
	"incroos/kernel/mm"
)

var (
	errCorruptHeader      = &kernel.Error{Module: "heap", Message: "block header is corrupted"}
	errBlockOrder         = &kernel.Error{Module: "heap", Message: "blocks are not contiguous"}
	errExtentMismatch     = &kernel.Error{Module: "heap", Message: "blocks do not cover the mapped heap region"}
	errAdjacentFreeBlocks = &kernel.Error{Module: "heap", Message: "adjacent free blocks were not coalesced"}
)

// Stats contains a snapshot of the heap usage.
type Stats struct {
	// Used and Free are the payload bytes of the allocated and free blocks.
	Used mm.Size
	Free mm.Size

	// Mapped is the size of the mapped heap region.
	Mapped mm.Size

	Blocks      uint64
	FreeBlocks  uint64
	LargestFree mm.Size
}

// Stats traverses the block list and returns the current heap usage.
func (a *Allocator) Stats() Stats {
	var stats Stats
	if a.base == 0 {
		return stats
	}

	stats.Mapped = mm.Size(a.end - a.base)
	for addr := a.base; addr != 0; addr = blockAt(addr).next {
		hdr := blockAt(addr)
		stats.Blocks++

		if !hdr.free {
			stats.Used += mm.Size(hdr.size)
			continue
		}

		stats.FreeBlocks++
		stats.Free += mm.Size(hdr.size)
		if mm.Size(hdr.size) > stats.LargestFree {
			stats.LargestFree = mm.Size(hdr.size)
		}
	}

	return stats
}

// UsedBytes returns the total payload size of all allocated blocks.
func (a *Allocator) UsedBytes() mm.Size {
	return a.Stats().Used
}

// FreeBytes returns the total payload size of all free blocks.
func (a *Allocator) FreeBytes() mm.Size {
	return a.Stats().Free
}

// Size returns the size of the mapped heap region.
func (a *Allocator) Size() mm.Size {
	return mm.Size(a.end - a.base)
}

// Check validates the block list: every header must be intact, blocks must
// follow each other without gaps, their extents must add up to the mapped
// region size and no two neighbouring blocks may both be free.
func (a *Allocator) Check() *kernel.Error {
	if a.base == 0 {
		return errHeapNotInitialized
	}

	var (
		extent   uintptr
		prevFree bool
	)

	for addr := a.base; addr != 0; addr = blockAt(addr).next {
		hdr := blockAt(addr)
		switch {
		case hdr.magic != blockMagic:
			return errCorruptHeader
		case addr != a.base+extent:
			return errBlockOrder
		case hdr.end(addr) > a.end:
			return errExtentMismatch
		case prevFree && hdr.free:
			return errAdjacentFreeBlocks
		}

		extent += headerSize + hdr.size
		prevFree = hdr.free
	}

	if a.base+extent != a.end {
		return errExtentMismatch
	}

	return nil
}

// PrintStats logs the heap usage.
func (a *Allocator) PrintStats() {
	stats := a.Stats()
	log.Infof("mapped: %dKb, used: %d bytes, free: %d bytes", uint64(stats.Mapped)>>10, uint64(stats.Used), uint64(stats.Free))
	log.Infof("blocks: %d, free blocks: %d, largest free block: %d bytes", stats.Blocks, stats.FreeBlocks, uint64(stats.LargestFree))
}
