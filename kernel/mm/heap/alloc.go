package heap

import (
	"incroos/kernel"
	"incroos/kernel/mm"
)

// Allocate reserves a block with a payload of at least size bytes and
// returns the payload address. The size is rounded up to a multiple of 16
// bytes. If no free block is large enough, the heap is grown; Allocate fails
// if growing would exceed the maximum heap size or if the required frames
// cannot be obtained, in which case the heap is left unchanged.
func (a *Allocator) Allocate(size mm.Size) (mm.VirtAddr, *kernel.Error) {
	switch {
	case size == 0:
		return 0, errZeroSize
	case a.base == 0:
		return 0, errHeapNotInitialized
	case uint64(size) > uint64(a.maxSize):
		return 0, errHeapLimit
	}

	reqSize := alignUp(uintptr(size))
	if addr := a.firstFit(reqSize); addr != 0 {
		return mm.VirtAddr(addr), nil
	}

	if err := a.grow(reqSize); err != nil {
		return 0, err
	}

	if addr := a.firstFit(reqSize); addr != 0 {
		return mm.VirtAddr(addr), nil
	}

	return 0, errHeapLimit
}

// firstFit reserves the first free block with a payload of at least reqSize
// bytes and returns its payload address or 0 if no such block exists. Blocks
// with enough excess capacity are split and the tail becomes a new free
// block.
func (a *Allocator) firstFit(reqSize uintptr) uintptr {
	for addr := a.base; addr != 0; addr = blockAt(addr).next {
		hdr := blockAt(addr)
		if !hdr.free || hdr.size < reqSize {
			continue
		}

		if hdr.size-reqSize >= headerSize+minSplitPayload {
			splitAddr := payload(addr) + reqSize
			*blockAt(splitAddr) = blockHeader{
				size:  hdr.size - reqSize - headerSize,
				next:  hdr.next,
				magic: blockMagic,
				free:  true,
			}

			hdr.size = reqSize
			hdr.next = splitAddr
		}

		hdr.free = false
		return payload(addr)
	}

	return 0
}

// Free releases a block previously returned by Allocate. Pointers that do
// not refer to the payload of a heap block and blocks that are already free
// are ignored. The released block is merged with a free successor and a free
// predecessor.
func (a *Allocator) Free(ptr mm.VirtAddr) {
	addr, prevAddr, ok := a.lookup(ptr)
	if !ok {
		return
	}

	hdr := blockAt(addr)
	if hdr.free {
		return
	}
	hdr.free = true

	if hdr.next != 0 {
		if next := blockAt(hdr.next); next.free {
			hdr.size += headerSize + next.size
			hdr.next = next.next
			next.magic = 0
		}
	}

	if prevAddr != 0 {
		if prev := blockAt(prevAddr); prev.free {
			prev.size += headerSize + hdr.size
			prev.next = hdr.next
			hdr.magic = 0
		}
	}
}

// lookup scans the block list for the block whose payload starts at ptr and
// returns its header address together with the header address of its
// predecessor (0 for the first block).
func (a *Allocator) lookup(ptr mm.VirtAddr) (addr, prevAddr uintptr, ok bool) {
	hdrAddr := uintptr(ptr) - headerSize
	if a.base == 0 || uintptr(ptr) < a.base+headerSize || uintptr(ptr) >= a.end || hdrAddr&(allocAlign-1) != 0 {
		return 0, 0, false
	}

	if blockAt(hdrAddr).magic != blockMagic {
		return 0, 0, false
	}

	for addr = a.base; addr != 0 && addr <= hdrAddr; prevAddr, addr = addr, blockAt(addr).next {
		if addr == hdrAddr {
			return addr, prevAddr, true
		}
	}

	return 0, 0, false
}

// AllocateZeroed behaves like Allocate and clears the payload of the
// returned block.
func (a *Allocator) AllocateZeroed(size mm.Size) (mm.VirtAddr, *kernel.Error) {
	ptr, err := a.Allocate(size)
	if err != nil {
		return 0, err
	}

	kernel.Memset(uintptr(ptr), 0, blockAt(uintptr(ptr)-headerSize).size)
	return ptr, nil
}

// Reallocate resizes the block at ptr so that it can hold newSize bytes. If
// the block is already large enough, ptr is returned unchanged. Otherwise a
// new block is allocated, the old contents are copied over and the old block
// is released. On failure the original block is left intact.
//
// A zero ptr makes Reallocate behave like Allocate.
func (a *Allocator) Reallocate(ptr mm.VirtAddr, newSize mm.Size) (mm.VirtAddr, *kernel.Error) {
	if ptr == 0 {
		return a.Allocate(newSize)
	}

	if newSize == 0 {
		return 0, errZeroSize
	}

	addr, _, ok := a.lookup(ptr)
	if !ok || blockAt(addr).free {
		return 0, errInvalidPointer
	}

	oldSize := blockAt(addr).size
	if uint64(oldSize) >= uint64(newSize) {
		return ptr, nil
	}

	newPtr, err := a.Allocate(newSize)
	if err != nil {
		return 0, err
	}

	kernel.Memcopy(uintptr(ptr), uintptr(newPtr), oldSize)
	a.Free(ptr)
	return newPtr, nil
}
