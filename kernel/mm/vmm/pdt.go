package vmm

import (
	"mpkernel/kernel"
	"mpkernel/kernel/cpu"
	"mpkernel/kernel/mm"
	"unsafe"
)

var (
	// activePDTFn is used by tests to override calls to activePDT which
	// will cause a fault if called in user-mode.
	activePDTFn = cpu.ActivePDT

	// switchPDTFn is used by tests to override calls to switchPDT which
	// will cause a fault if called in user-mode.
	switchPDTFn = cpu.SwitchPDT

	// flushTLBEntryFn is used by tests to override calls to flushTLBEntry
	// which will cause a fault if called in user-mode.
	flushTLBEntryFn = cpu.FlushTLBEntry

	// noExecute is set once EFER.NXE has been enabled. Until then the NX
	// bit is reserved and must not be set in any entry.
	noExecute bool

	// ErrInvalidMapping is returned when trying to lookup a virtual memory address that is not yet mapped.
	ErrInvalidMapping = &kernel.Error{Module: "vmm", Message: "virtual address does not point to a mapped physical page"}

	errNoHugePageSupport = &kernel.Error{Module: "vmm", Message: "huge pages are not supported"}
)

// SetNoExecute controls whether SetPage marks non-executable mappings with
// the NX bit.
func SetNoExecute(enabled bool) {
	noExecute = enabled
}

// NoExecute reports whether new mappings may carry the NX bit.
func NoExecute() bool {
	return noExecute
}

// PageDirectoryTable describes the top-most table of a 4-level translation
// hierarchy and represents one address space. Its tables live in an Arena
// that may be shared with other (cloned) page directory tables.
type PageDirectoryTable struct {
	arena *Arena
	root  TableHandle

	// active is set while this address space is loaded on the calling
	// core; only then do mapping changes need TLB invalidation.
	active bool
}

// New allocates an empty page directory table in arena.
func New(arena *Arena) (*PageDirectoryTable, *kernel.Error) {
	arena.lock.Acquire()
	defer arena.lock.Release()

	root, err := arena.alloc(0)
	if err != nil {
		return nil, err
	}

	return &PageDirectoryTable{arena: arena, root: root}, nil
}

// Get wraps the already-active hierarchy whose root table is at cr3. Tables
// reachable from it are adopted by arena as they are visited.
func Get(arena *Arena, cr3 uintptr) *PageDirectoryTable {
	arena.lock.Acquire()
	defer arena.lock.Release()

	return &PageDirectoryTable{
		arena:  arena,
		root:   arena.adopt(mm.FrameFromAddress(cr3), 0),
		active: true,
	}
}

// Clone returns a new page directory table with a private root table whose
// entries point at the same lower-level tables as pdt. The lower-level
// tables become shared and are copied on the first SetPage call that needs
// to modify them.
func (pdt *PageDirectoryTable) Clone() (*PageDirectoryTable, *kernel.Error) {
	pdt.arena.lock.Acquire()
	defer pdt.arena.lock.Release()

	root, err := pdt.arena.duplicate(pdt.root)
	if err != nil {
		return nil, err
	}

	return &PageDirectoryTable{arena: pdt.arena, root: root}, nil
}

// SetPage maps virtAddr to physAddr. Missing intermediate tables are
// allocated and shared ones are copied first so the change never leaks into
// another address space. The leaf entry is overwritten with the requested
// permissions; executable is the inverse of the NX bit.
func (pdt *PageDirectoryTable) SetPage(virtAddr, physAddr uintptr, present, writable, executable bool) *kernel.Error {
	pdt.arena.lock.Acquire()
	defer pdt.arena.lock.Release()

	leafHandle, err := pdt.walkForUpdate(virtAddr)
	if err != nil {
		return err
	}

	var flags PageTableEntryFlag
	if present {
		flags |= FlagPresent
	}
	if writable {
		flags |= FlagRW
	}
	if !executable && noExecute {
		flags |= FlagNoExecute
	}

	pte := &pdt.arena.nodes[leafHandle].table[pteIndex(virtAddr, pageLevels-1)]
	*pte = 0
	pte.SetFrame(mm.FrameFromAddress(physAddr))
	pte.SetFlags(flags)

	pdt.flush(virtAddr)
	return nil
}

// ClearPage removes the leaf mapping for virtAddr.
func (pdt *PageDirectoryTable) ClearPage(virtAddr uintptr) *kernel.Error {
	pdt.arena.lock.Acquire()
	defer pdt.arena.lock.Release()

	if _, err := pdt.lookup(virtAddr); err != nil {
		return err
	}

	leafHandle, err := pdt.walkForUpdate(virtAddr)
	if err != nil {
		return err
	}

	pdt.arena.nodes[leafHandle].table[pteIndex(virtAddr, pageLevels-1)] = 0
	pdt.flush(virtAddr)
	return nil
}

// walkForUpdate returns the handle of the private last-level table that
// maps virtAddr, allocating or copying intermediate tables as needed. The
// arena lock must be held.
func (pdt *PageDirectoryTable) walkForUpdate(virtAddr uintptr) (TableHandle, *kernel.Error) {
	var (
		a   = pdt.arena
		h   = pdt.root
		err *kernel.Error
	)

	for level := uint8(0); level < pageLevels-1; level++ {
		idx := pteIndex(virtAddr, level)
		pte := a.nodes[h].table[idx]

		var next TableHandle
		switch {
		case !pte.HasFlags(FlagPresent):
			if next, err = a.alloc(level + 1); err != nil {
				return 0, err
			}
			n := a.nodes[h]
			n.children[idx] = next
			n.table[idx] = 0
			n.table[idx].SetFrame(a.nodes[next].frame)
			n.table[idx].SetFlags(FlagPresent | FlagRW)
		case pte.HasFlags(FlagHugePage):
			return 0, errNoHugePageSupport
		default:
			if next, err = a.copyOnWrite(h, idx); err != nil {
				return 0, err
			}

			// permissions are decided by the leaf entry
			if entry := &a.nodes[h].table[idx]; !entry.HasFlags(FlagRW) || entry.HasFlags(FlagNoExecute) {
				entry.SetFlags(FlagRW)
				entry.ClearFlags(FlagNoExecute)
			}
		}

		h = next
	}

	return h, nil
}

// Translate returns the physical address that virtAddr maps to in this
// address space or ErrInvalidMapping if any level is not present.
func (pdt *PageDirectoryTable) Translate(virtAddr uintptr) (uintptr, *kernel.Error) {
	pdt.arena.lock.Acquire()
	defer pdt.arena.lock.Release()
	return pdt.lookup(virtAddr)
}

func (pdt *PageDirectoryTable) lookup(virtAddr uintptr) (uintptr, *kernel.Error) {
	h := pdt.root
	for level := uint8(0); ; level++ {
		pte := pdt.arena.nodes[h].table[pteIndex(virtAddr, level)]
		if !pte.HasFlags(FlagPresent) {
			return 0, ErrInvalidMapping
		}

		if level == pageLevels-1 || (level > 0 && pte.HasFlags(FlagHugePage)) {
			return leafAddress(pte, level, virtAddr), nil
		}

		h = pdt.arena.child(h, pteIndex(virtAddr, level))
	}
}

// Root returns the handle of the top-level table.
func (pdt *PageDirectoryTable) Root() TableHandle {
	return pdt.root
}

// Arena returns the arena holding the tables of this address space.
func (pdt *PageDirectoryTable) Arena() *Arena {
	return pdt.arena
}

// CR3 returns a value that can be loaded into the CR3 register to activate
// this address space.
func (pdt *PageDirectoryTable) CR3() uintptr {
	pdt.arena.lock.Acquire()
	defer pdt.arena.lock.Release()
	return pdt.arena.nodes[pdt.root].frame.Address()
}

// Table returns the top-level table.
func (pdt *PageDirectoryTable) Table() *Table {
	pdt.arena.lock.Acquire()
	defer pdt.arena.lock.Release()
	return pdt.arena.nodes[pdt.root].table
}

// Bytes returns the raw contents of the top-level table.
func (pdt *PageDirectoryTable) Bytes() []byte {
	return (*[mm.PageSize]byte)(unsafe.Pointer(pdt.Table()))[:]
}

// HigherHalfRange returns the virtual range translated by the upper 256
// entries of the top-level table.
func (pdt *PageDirectoryTable) HigherHalfRange() mm.Range {
	return mm.Range{Start: higherHalfStart, End: higherHalfEnd}
}

// Activate loads this address space on the calling core.
func (pdt *PageDirectoryTable) Activate() {
	pdt.active = true
	switchPDTFn(pdt.CR3())
}

func (pdt *PageDirectoryTable) flush(virtAddr uintptr) {
	if pdt.active {
		flushTLBEntryFn(virtAddr)
	}
}
