// Package pmm implements the physical frame allocator. Frame state is tracked
// in a fixed-capacity bitmap with one bit per frame; a set bit marks the frame
// as allocated.
//
// The allocator is not reentrant. Callers must guarantee that no two
// operations on the same BitmapAllocator run concurrently (including from
// interrupt handlers); adding a lock held for each scan-and-mutate sequence is
// a prerequisite for any multi-core use.
package pmm

import (
	"math"
	"math/bits"

	"incroos/kernel"
	"incroos/kernel/kfmt"
	"incroos/kernel/mm"
)

const (
	// LowMemoryEnd marks the end of the low memory area used by the BIOS,
	// the VGA buffer and the boot loader. Frames below it are never handed
	// out.
	LowMemoryEnd = mm.PhysAddr(0x100000)

	// MaxFrames is the capacity of the frame bitmap. Memory beyond
	// MaxFrames * mm.PageSize (4 GiB) is ignored.
	MaxFrames = 1 << 20

	bitmapBlocks = MaxFrames / 64

	// maxReservedRegions is the number of firmware regions that are
	// protected against FreeFrame calls.
	maxReservedRegions = 32
)

type markAs bool

const (
	markFree     markAs = false
	markReserved markAs = true
)

var (
	errBitmapAllocOutOfMemory = &kernel.Error{Module: "pmm", Message: "out of memory"}

	log = kfmt.Logger{Module: "pmm"}
)

// frameRange describes the half-open frame interval [start, end).
type frameRange struct {
	start, end mm.Frame
}

// BitmapAllocator implements a physical frame allocator that tracks frame
// reservations using a bitmap. Allocations always return the lowest free
// frame above the reserved low memory and kernel image region.
type BitmapAllocator struct {
	// totalFrames is the number of frames managed by the allocator.
	totalFrames uint64

	// usedFrames is the number of frames whose bitmap bit is set.
	usedFrames uint64

	// reservedFrames counts the frames reserved by Init and ReserveRegion.
	reservedFrames uint64

	// firstUsableFrame is the first frame above the low memory area and
	// the kernel image. Frames below it are permanently reserved.
	firstUsableFrame mm.Frame

	reservedRegions     [maxReservedRegions]frameRange
	reservedRegionCount int

	bitmap [bitmapBlocks]uint64
}

// Init resets the allocator so it manages totalMemory bytes of physical
// memory. Memory beyond the bitmap capacity is silently ignored. The frames
// in [0, LowMemoryEnd) and [LowMemoryEnd, kernelEnd) are marked as
// permanently allocated.
func (alloc *BitmapAllocator) Init(totalMemory mm.Size, kernelEnd mm.PhysAddr) {
	alloc.totalFrames = uint64(totalMemory) >> mm.PageShift
	if alloc.totalFrames > MaxFrames {
		alloc.totalFrames = MaxFrames
	}

	alloc.usedFrames = 0
	alloc.reservedFrames = 0
	alloc.reservedRegionCount = 0
	for i := range alloc.bitmap {
		alloc.bitmap[i] = 0
	}

	reservedEnd := LowMemoryEnd
	if kernelEnd > reservedEnd {
		reservedEnd = mm.PhysAddr((uintptr(kernelEnd) + mm.PageSize - 1) &^ (mm.PageSize - 1))
	}

	alloc.firstUsableFrame = mm.FrameFromAddress(reservedEnd)
	if uint64(alloc.firstUsableFrame) > alloc.totalFrames {
		alloc.firstUsableFrame = mm.Frame(alloc.totalFrames)
	}

	for frame := mm.Frame(0); frame < alloc.firstUsableFrame; frame++ {
		if alloc.markFrame(frame, markReserved) {
			alloc.reservedFrames++
		}
	}

	log.Infof("managing %d frames (%dKb); %d frames below 0x%x reserved",
		alloc.totalFrames,
		alloc.totalFrames<<(mm.PageShift-10),
		alloc.reservedFrames,
		uintptr(alloc.firstUsableFrame.Address()),
	)
}

// ReserveRegion permanently marks the frames that overlap the physical
// region [start, start+size) as allocated. It is used for firmware holes
// reported by the boot loader. Frames outside the managed range are ignored.
func (alloc *BitmapAllocator) ReserveRegion(start mm.PhysAddr, size mm.Size) {
	if size == 0 {
		return
	}

	startFrame := mm.FrameFromAddress(start)
	endFrame := mm.FrameFromAddress(start+mm.PhysAddr(size)-1) + 1
	if uint64(endFrame) > alloc.totalFrames {
		endFrame = mm.Frame(alloc.totalFrames)
	}
	if startFrame >= endFrame {
		return
	}

	for frame := startFrame; frame < endFrame; frame++ {
		if alloc.markFrame(frame, markReserved) {
			alloc.reservedFrames++
		}
	}

	if startFrame < alloc.firstUsableFrame && endFrame <= alloc.firstUsableFrame {
		return
	}

	if alloc.reservedRegionCount == maxReservedRegions {
		log.Warnf("too many reserved regions; [0x%x - 0x%x) is not protected against frees",
			uintptr(startFrame.Address()), uintptr(endFrame.Address()))
		return
	}

	alloc.reservedRegions[alloc.reservedRegionCount] = frameRange{start: startFrame, end: endFrame}
	alloc.reservedRegionCount++
}

// AllocFrame reserves the lowest-addressed free frame above the reserved
// region. It returns mm.InvalidFrame and an error if no free frame exists.
func (alloc *BitmapAllocator) AllocFrame() (mm.Frame, *kernel.Error) {
	var (
		startBlock = uint64(alloc.firstUsableFrame) >> 6
		endBlock   = (alloc.totalFrames + 63) >> 6
	)

	for block := startBlock; block < endBlock; block++ {
		// Skip blocks where all 64 frames are allocated
		if alloc.bitmap[block] == math.MaxUint64 {
			continue
		}

		// Frames below firstUsableFrame are always marked as reserved so
		// the first clear bit is guaranteed to be usable.
		frame := mm.Frame(block<<6 + uint64(bits.TrailingZeros64(^alloc.bitmap[block])))
		if uint64(frame) >= alloc.totalFrames {
			break
		}

		alloc.markFrame(frame, markReserved)
		return frame, nil
	}

	return mm.InvalidFrame, errBitmapAllocOutOfMemory
}

// FreeFrame releases a frame previously obtained via AllocFrame. Calls for
// frames outside the managed range, frames in a reserved region and frames
// that are already free are ignored.
func (alloc *BitmapAllocator) FreeFrame(frame mm.Frame) {
	if frame < alloc.firstUsableFrame || uint64(frame) >= alloc.totalFrames {
		return
	}

	for i := 0; i < alloc.reservedRegionCount; i++ {
		if frame >= alloc.reservedRegions[i].start && frame < alloc.reservedRegions[i].end {
			return
		}
	}

	alloc.markFrame(frame, markFree)
}

// FreeAddress releases the frame that starts at the physical address addr.
// Calls with an address that is not frame-aligned are ignored; otherwise it
// behaves like FreeFrame.
func (alloc *BitmapAllocator) FreeAddress(addr mm.PhysAddr) {
	if !addr.Aligned() {
		return
	}

	alloc.FreeFrame(mm.FrameFromAddress(addr))
}

// IsAllocated returns true if frame is marked as allocated. Frames outside the
// managed range are reported as allocated.
func (alloc *BitmapAllocator) IsAllocated(frame mm.Frame) bool {
	if uint64(frame) >= alloc.totalFrames {
		return true
	}

	return alloc.bitmap[frame>>6]&(1<<(frame&63)) != 0
}

// TotalFrames returns the number of frames managed by the allocator.
func (alloc *BitmapAllocator) TotalFrames() uint64 { return alloc.totalFrames }

// UsedFrames returns the number of allocated frames, including reserved ones.
func (alloc *BitmapAllocator) UsedFrames() uint64 { return alloc.usedFrames }

// FreeFrames returns the number of frames available for allocation.
func (alloc *BitmapAllocator) FreeFrames() uint64 { return alloc.totalFrames - alloc.usedFrames }

// ReservedFrames returns the number of permanently reserved frames.
func (alloc *BitmapAllocator) ReservedFrames() uint64 { return alloc.reservedFrames }

// PrintStats logs the allocator usage counters.
func (alloc *BitmapAllocator) PrintStats() {
	log.Infof("frames total: %d, used: %d, free: %d, reserved: %d",
		alloc.totalFrames, alloc.usedFrames, alloc.FreeFrames(), alloc.reservedFrames)
	log.Infof("memory total: %dKb, free: %dKb",
		alloc.totalFrames<<(mm.PageShift-10), alloc.FreeFrames()<<(mm.PageShift-10))
}

// markFrame updates the bitmap bit for frame and keeps the used frame counter
// in sync. It returns false if the bit already had the requested state.
func (alloc *BitmapAllocator) markFrame(frame mm.Frame, flag markAs) bool {
	var (
		block = frame >> 6
		mask  = uint64(1) << (frame & 63)
		isSet = alloc.bitmap[block]&mask != 0
	)

	switch {
	case flag == markReserved && !isSet:
		alloc.bitmap[block] |= mask
		alloc.usedFrames++
		return true
	case flag == markFree && isSet:
		alloc.bitmap[block] &^= mask
		alloc.usedFrames--
		return true
	}

	return false
}
