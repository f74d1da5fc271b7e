package main

import (
	"fmt"
	"unsafe"

	"incroos/kernel/mm"
	"incroos/kernel/mm/vmm"

	"golang.org/x/sys/unix"
)

// rootTableAddr is the physical address of the bootstrap top-level page
// table. It lives in low memory which the frame allocator never hands out.
const rootTableAddr = 0x1000

// machine emulates the hardware that the memory subsystem drives. Physical
// memory is a memfd that is mapped into the process; the memory subsystem
// accesses page tables through that mapping. The heap window is a PROT_NONE
// reservation whose pages are backed by the memfd page that the page tables
// point to each time a TLB entry is flushed, so heap code only ever touches
// memory through translations installed by the page table manager.
type machine struct {
	memfd      int
	physMem    []byte
	heapWindow []byte

	// pages is consulted when a TLB entry for the heap window is flushed.
	pages *vmm.PageTableManager

	flushes uint64
	err     error
}

func newMachine(memSize, heapMaxSize mm.Size) (*machine, error) {
	if memSize < 2*mm.Mb || memSize.PageAlign() != memSize {
		return nil, fmt.Errorf("physical memory size must be a multiple of the page size and at least 2M; got %d", memSize)
	}
	if heapMaxSize == 0 || heapMaxSize.PageAlign() != heapMaxSize {
		return nil, fmt.Errorf("max heap size must be a non-zero multiple of the page size; got %d", heapMaxSize)
	}

	fd, err := unix.MemfdCreate("memsim-phys", unix.MFD_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("failed to create physical memory: %w", err)
	}

	m := &machine{memfd: fd}
	if err = unix.Ftruncate(fd, int64(memSize)); err != nil {
		m.Close()
		return nil, fmt.Errorf("failed to size physical memory: %w", err)
	}

	if m.physMem, err = unix.Mmap(fd, 0, int(memSize), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED); err != nil {
		m.Close()
		return nil, fmt.Errorf("failed to map physical memory: %w", err)
	}

	if m.heapWindow, err = unix.Mmap(-1, 0, int(heapMaxSize), unix.PROT_NONE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS|unix.MAP_NORESERVE); err != nil {
		m.Close()
		return nil, fmt.Errorf("failed to reserve heap window: %w", err)
	}

	return m, nil
}

// PhysMapOffset returns the address at which physical memory is mapped.
func (m *machine) PhysMapOffset() uintptr {
	return uintptr(unsafe.Pointer(&m.physMem[0]))
}

// HeapBase returns the start of the heap window.
func (m *machine) HeapBase() mm.VirtAddr {
	return mm.VirtAddr(uintptr(unsafe.Pointer(&m.heapWindow[0])))
}

// ActivePDT implements vmm.MMU.
func (m *machine) ActivePDT() uintptr {
	return rootTableAddr
}

// FlushTLBEntry implements vmm.MMU. Pages inside the heap window are
// re-materialized according to the current translation.
func (m *machine) FlushTLBEntry(virtAddr uintptr) {
	m.flushes++

	var (
		page       = virtAddr &^ (mm.PageSize - 1)
		windowBase = uintptr(m.HeapBase())
	)
	if m.pages == nil || page < windowBase || page >= windowBase+uintptr(len(m.heapWindow)) {
		return
	}

	var err error
	if physAddr, tErr := m.pages.Translate(mm.VirtAddr(page)); tErr == nil {
		_, err = unix.MmapPtr(m.memfd, int64(physAddr), unsafe.Pointer(page), mm.PageSize,
			unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED|unix.MAP_FIXED)
	} else {
		_, err = unix.MmapPtr(-1, 0, unsafe.Pointer(page), mm.PageSize,
			unix.PROT_NONE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS|unix.MAP_FIXED|unix.MAP_NORESERVE)
	}

	if err != nil && m.err == nil {
		m.err = fmt.Errorf("failed to update mapping for page 0x%x: %w", page, err)
	}
}

// Err returns the first error encountered while updating host mappings.
func (m *machine) Err() error {
	return m.err
}

// Close releases the host resources used by the machine.
func (m *machine) Close() {
	if m.heapWindow != nil {
		_ = unix.Munmap(m.heapWindow)
		m.heapWindow = nil
	}
	if m.physMem != nil {
		_ = unix.Munmap(m.physMem)
		m.physMem = nil
	}
	_ = unix.Close(m.memfd)
}
