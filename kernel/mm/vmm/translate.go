package vmm

import (
	"mpkernel/kernel"
	"mpkernel/kernel/mm"
)

var (
	// translateFn is mocked by tests and is automatically inlined by the compiler.
	translateFn = Translate
)

// Translate returns the physical address that corresponds to the supplied
// virtual address in the address space that is active on the calling core,
// or ErrInvalidMapping if the virtual address is not mapped.
func Translate(virtAddr uintptr) (uintptr, *kernel.Error) {
	table := tableAtFn(mm.FrameFromAddress(activePDTFn()))
	for level := uint8(0); ; level++ {
		pte := table[pteIndex(virtAddr, level)]
		if !pte.HasFlags(FlagPresent) {
			return 0, ErrInvalidMapping
		}

		if level == pageLevels-1 || (level > 0 && pte.HasFlags(FlagHugePage)) {
			return leafAddress(pte, level, virtAddr), nil
		}

		table = tableAtFn(pte.Frame())
	}
}

// HeapFrameAllocator is an mm.FrameAllocatorFn that hands out Go heap blocks
// and finds their physical frame by translating the block address through
// the active page tables.
func HeapFrameAllocator() (*mm.Block, *kernel.Error) {
	block := mm.NewBlock()

	physAddr, err := translateFn(block.Address())
	if err != nil {
		return nil, err
	}

	block.Frame = mm.FrameFromAddress(physAddr)
	return block, nil
}
