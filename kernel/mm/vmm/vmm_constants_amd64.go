package vmm

// Paging geometry for 4-level amd64 tables.
const (
	pageLevels      = 4
	entriesPerTable = 512

	// ptePhysPageMask selects bits 12-51 of an entry: the frame address.
	ptePhysPageMask = uintptr(0x000ffffffffff000)

	// PML4 slots 256-511 cover [higherHalfStart, higherHalfEnd].
	higherHalfStart = uintptr(0xffff800000000000)
	higherHalfEnd   = uintptr(0xfffffffffffff000)
)

// pageLevelShifts holds, per level starting at the PML4, the shift that
// moves that level's 9-bit index to the low bits of a virtual address.
var pageLevelShifts = [pageLevels]uint8{39, 30, 21, 12}

// Page table entry flags. Bits 0-8 follow the hardware layout.
const (
	FlagPresent PageTableEntryFlag = 1 << iota
	FlagRW
	FlagUserAccessible
	FlagWriteThroughCaching
	FlagDoNotCache
	FlagAccessed
	FlagDirty

	// FlagHugePage marks a 1GiB (PDPT) or 2MiB (PD) leaf.
	FlagHugePage

	// FlagGlobal keeps the translation in the TLB across CR3 reloads.
	FlagGlobal

	// FlagNoExecute is honored only once EFER.NXE is set.
	FlagNoExecute = 1 << 63
)
