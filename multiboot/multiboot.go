// Package multiboot provides access to the boot information that a
// multiboot2-compliant boot loader passes to the kernel. Only the memory map
// tag is interpreted; it describes the physical memory installed in the
// system.
package multiboot

import (
	"unsafe"

	"incroos/kernel/mm"
)

var infoData uintptr

type tagType uint32

// Tag types that precede the memory map. Only tagMemoryMap is interpreted.
const (
	tagMbSectionEnd tagType = iota
	tagBootCmdLine
	tagBootLoaderName
	tagModules
	tagBasicMemoryInfo
	tagBiosBootDevice
	tagMemoryMap
)

// tagHeader precedes every tag in the info block. Tags start at 8-byte
// aligned addresses; size covers the header and the tag contents but not the
// padding that follows them.
type tagHeader struct {
	tagType tagType
	size    uint32
}

// mmapHeader is located at the start of the memory map tag contents.
type mmapHeader struct {
	entrySize    uint32
	entryVersion uint32
}

// MemoryEntryType defines the type of a MemoryMapEntry.
type MemoryEntryType uint32

const (
	// MemAvailable indicates that the memory region is available for use.
	MemAvailable MemoryEntryType = iota + 1

	// MemReserved indicates that the memory region is not available for use.
	MemReserved

	// MemAcpiReclaimable indicates a memory region that holds ACPI info that
	// can be reused by the OS.
	MemAcpiReclaimable

	// MemNvs indicates memory that must be preserved when hibernating.
	MemNvs

	// Any value >= memUnknown will be mapped to MemReserved.
	memUnknown
)

// String implements fmt.Stringer for MemoryEntryType.
func (t MemoryEntryType) String() string {
	switch t {
	case MemAvailable:
		return "available"
	case MemReserved:
		return "reserved"
	case MemAcpiReclaimable:
		return "ACPI (reclaimable)"
	case MemNvs:
		return "NVS"
	default:
		return "unknown"
	}
}

// MemRegionVisitor is invoked by VisitMemRegions for each entry of the boot
// loader memory map. Returning false stops the scan.
type MemRegionVisitor func(*MemoryMapEntry) bool

// MemoryMapEntry describes a physical memory region reported by the boot
// loader.
type MemoryMapEntry struct {
	PhysAddress uint64
	Length      uint64
	Type        MemoryEntryType
}

// SetInfoPtr installs the address of the info block passed in by the boot
// loader. A zero pointer makes the package report an empty memory map.
func SetInfoPtr(ptr uintptr) {
	infoData = ptr
}

// VisitMemRegions invokes visitor for each memory map entry. Entries with a
// type that the kernel does not recognize are reported as MemReserved.
func VisitMemRegions(visitor MemRegionVisitor) {
	curPtr, size := findTagByType(tagMemoryMap)
	if size == 0 {
		return
	}

	var (
		hdr      = (*mmapHeader)(unsafe.Pointer(curPtr))
		endPtr   = curPtr + uintptr(size)
		entryPtr = curPtr + unsafe.Sizeof(mmapHeader{})
	)

	for ; entryPtr < endPtr && hdr.entrySize != 0; entryPtr += uintptr(hdr.entrySize) {
		entry := (*MemoryMapEntry)(unsafe.Pointer(entryPtr))
		if entry.Type == 0 || entry.Type >= memUnknown {
			entry.Type = MemReserved
		}

		if !visitor(entry) {
			return
		}
	}
}

// TotalMemory returns the end address of the highest available memory region
// reported by the boot loader. Holes and reserved regions below that address
// are included in the returned size; callers need to reserve them separately.
func TotalMemory() mm.Size {
	var total uint64

	VisitMemRegions(func(entry *MemoryMapEntry) bool {
		if entry.Type == MemAvailable && entry.PhysAddress+entry.Length > total {
			total = entry.PhysAddress + entry.Length
		}
		return true
	})

	return mm.Size(total)
}

// findTagByType returns the address and length of the contents of the first
// tag of the requested type or (0, 0) if the info block does not contain it.
func findTagByType(tagType tagType) (uintptr, uint32) {
	if infoData == 0 {
		return 0, 0
	}

	// The info block starts with its total size and a reserved dword.
	for tagPtr := infoData + 8; ; {
		hdr := (*tagHeader)(unsafe.Pointer(tagPtr))
		switch {
		case hdr.tagType == tagMbSectionEnd || hdr.size < 8:
			return 0, 0
		case hdr.tagType == tagType:
			return tagPtr + 8, hdr.size - 8
		}

		tagPtr += (uintptr(hdr.size) + 7) &^ 7
	}
}
