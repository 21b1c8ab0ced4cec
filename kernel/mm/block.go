package mm

import "unsafe"

// Block is one page worth of Go heap memory aligned to a page boundary. The
// kernel runs on top of the firmware's memory map so page tables, stacks and
// AP heaps are all carved out of Blocks instead of a dedicated frame pool.
type Block struct {
	mem []byte

	// Frame is the physical frame backing the block. It is filled in by the
	// frame allocator that produced the block.
	Frame Frame
}

// NewBlock allocates a zeroed, page-aligned Block.
func NewBlock() *Block {
	unaligned := make([]byte, (2*PageSize)-1)
	offset := uintptr(unsafe.Pointer(&unaligned[0])) & (PageSize - 1)
	if offset != 0 {
		offset = PageSize - offset
	}

	return &Block{
		mem:   unaligned[offset : offset+PageSize],
		Frame: InvalidFrame,
	}
}

// Address returns the virtual address of the first byte in the block.
func (b *Block) Address() uintptr {
	return uintptr(unsafe.Pointer(&b.mem[0]))
}

// Pointer returns an unsafe pointer to the block contents.
func (b *Block) Pointer() unsafe.Pointer {
	return unsafe.Pointer(&b.mem[0])
}

// Bytes returns the block contents.
func (b *Block) Bytes() []byte {
	return b.mem
}
