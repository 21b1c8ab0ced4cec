package vmm

import (
	"mpkernel/kernel"
	"mpkernel/kernel/mm"
	"mpkernel/kernel/sync"
	"unsafe"
)

// Table is a single 4KiB page table at any level of the hierarchy.
type Table [entriesPerTable]pageTableEntry

// TableHandle identifies a table owned by an Arena. The zero value never
// refers to a table.
type TableHandle uint32

// tableNode tracks one page table together with the handles of the tables
// its entries point to. refs counts the parent entries (or root owners)
// referencing the node; a node with refs > 1 must be copied before it is
// modified.
type tableNode struct {
	table *Table
	frame mm.Frame
	level uint8
	refs  int

	// block is nil for tables adopted from firmware-built hierarchies.
	block *mm.Block

	// children caches the handles for entries 0-511. A zero handle means
	// the entry has not been resolved yet.
	children [entriesPerTable]TableHandle
}

// Arena owns every page table reachable from a set of related page
// directory tables (the BSP tables and all their clones). Sharing between
// clones is tracked per table so that modifications go through CopyOnWrite.
type Arena struct {
	lock    sync.Spinlock
	nodes   []*tableNode
	byFrame map[mm.Frame]TableHandle
}

var (
	// tableAtFn returns a pointer to the table stored at the given
	// physical frame. The firmware identity-maps physical memory so the
	// default implementation is a plain conversion. Tests override it.
	tableAtFn = func(frame mm.Frame) *Table {
		return (*Table)(unsafe.Pointer(frame.Address()))
	}

	errInvalidHandle = &kernel.Error{Module: "vmm", Message: "invalid table handle"}
)

// NewArena returns an empty table arena.
func NewArena() *Arena {
	return &Arena{
		// slot 0 is reserved for the invalid handle
		nodes:   make([]*tableNode, 1, 64),
		byFrame: make(map[mm.Frame]TableHandle),
	}
}

// Len returns the number of tables tracked by the arena.
func (a *Arena) Len() int {
	a.lock.Acquire()
	defer a.lock.Release()
	return len(a.nodes) - 1
}

// Refs returns the number of references to the table identified by h.
func (a *Arena) Refs(h TableHandle) int {
	a.lock.Acquire()
	defer a.lock.Release()
	if n := a.node(h); n != nil {
		return n.refs
	}
	return 0
}

// CopyOnWrite makes the table referenced by entry idx of parent private to
// parent and returns its handle. If parent is the only holder the existing
// handle is returned. Otherwise the table is duplicated, the parent entry is
// re-pointed at the copy and the shared original loses one reference.
func (a *Arena) CopyOnWrite(parent TableHandle, idx int) (TableHandle, *kernel.Error) {
	a.lock.Acquire()
	defer a.lock.Release()
	return a.copyOnWrite(parent, idx)
}

func (a *Arena) node(h TableHandle) *tableNode {
	if h == 0 || int(h) >= len(a.nodes) {
		return nil
	}
	return a.nodes[h]
}

func (a *Arena) insert(n *tableNode) TableHandle {
	a.nodes = append(a.nodes, n)
	h := TableHandle(len(a.nodes) - 1)
	a.byFrame[n.frame] = h
	return h
}

// alloc creates a zeroed table for the given level.
func (a *Arena) alloc(level uint8) (TableHandle, *kernel.Error) {
	block, err := mm.AllocFrame()
	if err != nil {
		return 0, err
	}

	for i := range block.Bytes() {
		block.Bytes()[i] = 0
	}

	return a.insert(&tableNode{
		table: (*Table)(block.Pointer()),
		frame: block.Frame,
		level: level,
		refs:  1,
		block: block,
	}), nil
}

// adopt returns a handle for an existing table at frame, counting one more
// reference to it.
func (a *Arena) adopt(frame mm.Frame, level uint8) TableHandle {
	if h, ok := a.byFrame[frame]; ok {
		a.nodes[h].refs++
		return h
	}

	return a.insert(&tableNode{
		table: tableAtFn(frame),
		frame: frame,
		level: level,
		refs:  1,
	})
}

// child returns the handle for the table referenced by the present, non-huge
// entry idx of h.
func (a *Arena) child(h TableHandle, idx int) TableHandle {
	n := a.nodes[h]
	if c := n.children[idx]; c != 0 {
		return c
	}

	c := a.adopt(n.table[idx].Frame(), n.level+1)
	n.children[idx] = c
	return c
}

// resolveChildren makes sure that every table referenced by h has a handle,
// so that its reference count includes h.
func (a *Arena) resolveChildren(h TableHandle) {
	n := a.nodes[h]
	if n.level == pageLevels-1 {
		return
	}

	for idx, pte := range n.table {
		if pte.HasFlags(FlagPresent) && !pte.HasFlags(FlagHugePage) {
			a.child(h, idx)
		}
	}
}

// duplicate returns a private copy of h whose entries point at the same
// child tables as h.
func (a *Arena) duplicate(h TableHandle) (TableHandle, *kernel.Error) {
	src := a.node(h)
	if src == nil {
		return 0, errInvalidHandle
	}
	a.resolveChildren(h)

	dupHandle, err := a.alloc(src.level)
	if err != nil {
		return 0, err
	}

	// alloc may grow a.nodes; reload src via its handle
	src, dst := a.nodes[h], a.nodes[dupHandle]
	*dst.table = *src.table
	dst.children = src.children
	for _, c := range dst.children {
		if c != 0 {
			a.nodes[c].refs++
		}
	}

	return dupHandle, nil
}

func (a *Arena) copyOnWrite(parent TableHandle, idx int) (TableHandle, *kernel.Error) {
	p := a.node(parent)
	if p == nil || p.level == pageLevels-1 {
		return 0, errInvalidHandle
	}

	pte := p.table[idx]
	if !pte.HasFlags(FlagPresent) || pte.HasFlags(FlagHugePage) {
		return 0, ErrInvalidMapping
	}

	shared := a.child(parent, idx)
	if a.nodes[shared].refs == 1 {
		return shared, nil
	}

	private, err := a.duplicate(shared)
	if err != nil {
		return 0, err
	}

	a.nodes[shared].refs--
	p = a.nodes[parent]
	p.children[idx] = private
	p.table[idx].SetFrame(a.nodes[private].frame)

	return private, nil
}
