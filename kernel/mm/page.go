// Package mm describes physical frames, virtual pages and address ranges and
// hands out page-sized blocks of backing memory.
package mm

import (
	"math"
	"mpkernel/kernel"
)

const (
	// PageShift is log2(PageSize).
	PageShift = uintptr(12)

	// PageSize is the size of a 4KiB page. Larger pages are only ever
	// found in tables adopted from the firmware.
	PageSize = uintptr(1 << PageShift)
)

// Frame describes a physical memory page index.
type Frame uintptr

const (
	// InvalidFrame is returned by page allocators when
	// they fail to reserve the requested frame.
	InvalidFrame = Frame(math.MaxUint64)
)

// Valid returns true if this is a valid frame.
func (f Frame) Valid() bool {
	return f != InvalidFrame
}

// Address returns the physical memory address pointed to by this Frame.
func (f Frame) Address() uintptr {
	return uintptr(f << PageShift)
}

// FrameFromAddress returns the Frame that contains the given physical
// address. Unaligned addresses are rounded down.
func FrameFromAddress(physAddr uintptr) Frame {
	return Frame((physAddr & ^(uintptr(PageSize - 1))) >> PageShift)
}

var (
	// frameAllocator points to a frame allocator function registered using
	// SetFrameAllocator.
	frameAllocator FrameAllocatorFn

	errNoFrameAllocator = &kernel.Error{Module: "mm", Message: "no frame allocator registered"}
)

// FrameAllocatorFn is a function that returns a zeroed, page-aligned Block
// whose Frame field identifies the physical frame backing it.
type FrameAllocatorFn func() (*Block, *kernel.Error)

// SetFrameAllocator registers a frame allocator function that will be used by
// the vmm code when new page tables need to be allocated.
func SetFrameAllocator(allocFn FrameAllocatorFn) { frameAllocator = allocFn }

// AllocFrame allocates a new physical frame using the currently active
// frame allocator.
func AllocFrame() (*Block, *kernel.Error) {
	if frameAllocator == nil {
		return nil, errNoFrameAllocator
	}
	return frameAllocator()
}

// IdentityFrameAllocator allocates heap blocks and reports their virtual
// address as the physical one. It is valid while the firmware identity map is
// active and is what the host-side tests use.
func IdentityFrameAllocator() (*Block, *kernel.Error) {
	b := NewBlock()
	b.Frame = FrameFromAddress(b.Address())
	return b, nil
}

// Page describes a virtual memory page index.
type Page uintptr

// Address returns the virtual memory address pointed to by this Page.
func (p Page) Address() uintptr {
	return uintptr(p << PageShift)
}

// PageFromAddress returns the Page that contains the given virtual address.
// Unaligned addresses are rounded down.
func PageFromAddress(virtAddr uintptr) Page {
	return Page((virtAddr & ^(uintptr(PageSize - 1))) >> PageShift)
}
