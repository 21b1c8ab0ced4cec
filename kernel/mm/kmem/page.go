// Package kmem provides kernel memory that is owned page by page: every page
// is a heap block installed into exactly one address space.
package kmem

import (
	"mpkernel/kernel"
	"mpkernel/kernel/mm"
	"mpkernel/kernel/mm/vmm"
)

var (
	// The following functions are mocked by tests and are automatically
	// inlined by the compiler.
	translateFn = vmm.Translate
	clearPageFn = (*vmm.PageDirectoryTable).ClearPage

	errUnalignedAddress = &kernel.Error{Module: "kmem", Message: "address is not page aligned"}
	errInvalidRange     = &kernel.Error{Module: "kmem", Message: "range is empty or not page aligned"}
)

// Page owns one heap-backed frame mapped at a fixed virtual address.
//
// The frame is located by translating the block address through the address
// space that is active on the calling core, so the active tables must map
// the Go heap when NewPage runs. A Page must not be dropped while a mapping
// to its frame is still live; use Free.
type Page struct {
	block    *mm.Block
	virtAddr uintptr
	physAddr uintptr
}

// NewPage allocates a frame and maps it at virtAddr in pdt.
func NewPage(pdt *vmm.PageDirectoryTable, virtAddr uintptr, writable, executable bool) (*Page, *kernel.Error) {
	if virtAddr&(mm.PageSize-1) != 0 {
		return nil, errUnalignedAddress
	}

	block := mm.NewBlock()
	physAddr, err := translateFn(block.Address())
	if err != nil {
		return nil, err
	}

	if err = pdt.SetPage(virtAddr, physAddr, true, writable, executable); err != nil {
		return nil, err
	}

	return &Page{block: block, virtAddr: virtAddr, physAddr: physAddr}, nil
}

// VirtualAddress returns the address the page is mapped at.
func (p *Page) VirtualAddress() uintptr { return p.virtAddr }

// PhysicalAddress returns the address of the backing frame.
func (p *Page) PhysicalAddress() uintptr { return p.physAddr }

// Bytes returns the page contents through the heap mapping of its frame.
func (p *Page) Bytes() []byte { return p.block.Bytes() }

// Free removes the page mapping from pdt and releases the frame.
func (p *Page) Free(pdt *vmm.PageDirectoryTable) *kernel.Error {
	if p.block == nil {
		return nil
	}

	if err := clearPageFn(pdt, p.virtAddr); err != nil {
		return err
	}

	p.block = nil
	return nil
}
