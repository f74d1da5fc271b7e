package vmm

import (
	"incroos/kernel"
	"incroos/kernel/mm"
)

// Map establishes a mapping between a virtual page and a physical memory
// frame using the page table hierarchy captured by Init. Missing page tables
// at each paging level are allocated from the frame allocator and cleared.
//
// Intermediate tables are always installed as present and writable; the
// user-accessible flag is propagated to them when requested for the leaf so
// that the access is not blocked higher up in the hierarchy. If a frame for
// a new table cannot be allocated, Map returns the allocator error and the
// tables installed so far are left in place.
//
// The cached translation for virtAddr is flushed before Map returns whenever
// a page table was modified.
func (ptm *PageTableManager) Map(virtAddr mm.VirtAddr, physAddr mm.PhysAddr, flags PageTableEntryFlag) *kernel.Error {
	if !virtAddr.Aligned() || !physAddr.Aligned() {
		return errMisalignedAddress
	}

	var (
		err      *kernel.Error
		modified bool
	)

	ptm.walk(virtAddr, func(pteLevel uint8, pte *pageTableEntry) bool {
		// If we reached the last level all we need to do is to map the
		// frame in place and flag it as present
		if pteLevel == pageLevels-1 {
			if !pte.HasFlags(FlagPresent) {
				ptm.mappedPages++
			}

			*pte = 0
			pte.SetFrame(mm.FrameFromAddress(physAddr))
			pte.SetFlags(flags | FlagPresent)
			modified = true
			return true
		}

		// Next table does not yet exist; we need to allocate a
		// physical frame for it and clear its contents.
		if !pte.HasFlags(FlagPresent) {
			newTableFrame, allocErr := ptm.frames.AllocFrame()
			if allocErr != nil {
				err = allocErr
				return false
			}

			kernel.Memset(ptm.physMapOffset+uintptr(newTableFrame.Address()), 0, mm.PageSize)

			*pte = 0
			pte.SetFrame(newTableFrame)
			pte.SetFlags(FlagPresent | FlagRW | (flags & FlagUserAccessible))
			ptm.tablesCreated++
			modified = true
			return true
		}

		if pte.HasFlags(FlagHugePage) {
			err = errNoHugePageSupport
			return false
		}

		if flags&FlagUserAccessible != 0 && !pte.HasFlags(FlagUserAccessible) {
			pte.SetFlags(FlagUserAccessible)
			modified = true
		}

		return true
	})

	if modified {
		ptm.mmu.FlushTLBEntry(uintptr(virtAddr))
	}

	return err
}

// Unmap removes a mapping previously installed via a call to Map. Unmapping
// an address that is not mapped is a no-op. Neither the frame that backed
// the page nor any page tables that become empty are released.
func (ptm *PageTableManager) Unmap(virtAddr mm.VirtAddr) {
	ptm.walk(virtAddr, func(pteLevel uint8, pte *pageTableEntry) bool {
		if !pte.HasFlags(FlagPresent) {
			return false
		}

		// If we reached the last level all we need to do is to clear
		// the entry and flush its TLB entry
		if pteLevel == pageLevels-1 {
			*pte = 0
			if ptm.mappedPages > 0 {
				ptm.mappedPages--
			}
			ptm.mmu.FlushTLBEntry(uintptr(virtAddr))
			return true
		}

		// Huge pages are set up by the boot loader and are left alone
		return !pte.HasFlags(FlagHugePage)
	})
}

// Translate returns the physical address that corresponds to the supplied
// virtual address or ErrInvalidMapping if the virtual address does not
// correspond to a mapped physical address. Huge page entries are resolved
// using the offset width of the level they appear at.
func (ptm *PageTableManager) Translate(virtAddr mm.VirtAddr) (mm.PhysAddr, *kernel.Error) {
	var (
		physAddr mm.PhysAddr
		err      = ErrInvalidMapping
	)

	ptm.walk(virtAddr, func(pteLevel uint8, pte *pageTableEntry) bool {
		if !pte.HasFlags(FlagPresent) {
			return false
		}

		if pteLevel == pageLevels-1 || (pteLevel > 0 && pte.HasFlags(FlagHugePage)) {
			// Calculate the physical address by taking the physical frame
			// address and appending the offset from the virtual address
			offsetMask := (uintptr(1) << pageLevelShifts[pteLevel]) - 1
			physAddr = mm.PhysAddr((uintptr(*pte) & ptePhysPageMask &^ offsetMask) | (uintptr(virtAddr) & offsetMask))
			err = nil
			return false
		}

		return true
	})

	return physAddr, err
}

// IsMapped returns true if virtAddr translates to a physical address.
func (ptm *PageTableManager) IsMapped(virtAddr mm.VirtAddr) bool {
	_, err := ptm.Translate(virtAddr)
	return err == nil
}

// PageOffset returns the offset within the page specified by a virtual
// address.
func PageOffset(virtAddr mm.VirtAddr) uintptr {
	return uintptr(virtAddr) & ((1 << pageLevelShifts[pageLevels-1]) - 1)
}
