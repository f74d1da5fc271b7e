package heap

import "unsafe"

const (
	// allocAlign is the alignment of all payload sizes and addresses.
	allocAlign = uintptr(16)

	// minSplitPayload is the smallest payload that a block split may
	// leave behind.
	minSplitPayload = allocAlign

	// blockMagic marks valid block headers.
	blockMagic = uint64(0x6b686561705f626b)

	headerSize = unsafe.Sizeof(blockHeader{})
)

// blockHeader precedes each heap block payload. Its size is a multiple of
// allocAlign so payloads stay aligned.
type blockHeader struct {
	// size is the payload size in bytes.
	size uintptr

	// next is the address of the following block header or 0 for the
	// last block.
	next uintptr

	magic uint64
	free  bool
	_     [7]byte
}

// blockAt returns the block header stored at addr.
func blockAt(addr uintptr) *blockHeader {
	return (*blockHeader)(unsafe.Pointer(addr))
}

// payload returns the address of the first payload byte of the block whose
// header is stored at addr.
func payload(addr uintptr) uintptr {
	return addr + headerSize
}

// end returns the address past the last payload byte of the block whose
// header is stored at addr.
func (hdr *blockHeader) end(addr uintptr) uintptr {
	return addr + headerSize + hdr.size
}

func alignUp(size uintptr) uintptr {
	return (size + allocAlign - 1) &^ (allocAlign - 1)
}
