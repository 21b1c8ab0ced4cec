package gate

import (
	"mpkernel/kernel/irq"
	"mpkernel/kernel/sync"
	"unsafe"
)

const (
	gateTypeInterrupt = uint64(0xe)
	gateTypeTrap      = uint64(0xf)
)

// Handler describes an interrupt entry point. Entry is the address of the
// assembly stub that saves the registers and calls irq.Dispatch.
type Handler struct {
	Entry uintptr

	// IST selects an interrupt stack (1-7); 0 keeps the current stack.
	IST uint8

	// DPL is the highest privilege level allowed to raise the vector
	// with INT n.
	DPL uint8

	// Trap leaves interrupts enabled while the handler runs.
	Trap bool
}

// Handlers maps each vector to its entry point. A zero Entry leaves the
// vector not present.
type Handlers [256]Handler

var (
	registryLock sync.Spinlock
	registry     Handlers
)

// Register installs h for vector num in the handler set copied into every
// IDT built by a subsequent Table.Initialize call.
func Register(num irq.InterruptNumber, h Handler) {
	registryLock.Acquire()
	registry[num] = h
	registryLock.Release()
}

// Registered returns a copy of the current handler set.
func Registered() Handlers {
	registryLock.Acquire()
	defer registryLock.Release()
	return registry
}

// Descriptor is a 16-byte IDT gate descriptor.
type Descriptor [2]uint64

// NewDescriptor encodes h as a gate that switches to the code segment
// selector.
func NewDescriptor(h Handler, selector uint16) Descriptor {
	if h.Entry == 0 {
		return Descriptor{}
	}

	gateType := gateTypeInterrupt
	if h.Trap {
		gateType = gateTypeTrap
	}

	offset := uint64(h.Entry)
	return Descriptor{
		offset&0xffff |
			uint64(selector)<<16 |
			uint64(h.IST&0x7)<<32 |
			gateType<<40 |
			uint64(h.DPL&0x3)<<45 |
			descriptorPresent |
			(offset>>16&0xffff)<<48,
		offset >> 32,
	}
}

// Present returns true if the descriptor is marked present.
func (d Descriptor) Present() bool {
	return d[0]&descriptorPresent != 0
}

// Offset returns the handler address encoded in the descriptor.
func (d Descriptor) Offset() uintptr {
	return uintptr(d[0]&0xffff | (d[0]>>48)<<16 | d[1]<<32)
}

// IST returns the interrupt stack index encoded in the descriptor.
func (d Descriptor) IST() uint8 {
	return uint8(d[0]>>32) & 0x7
}

// IDT is an interrupt descriptor table covering all 256 vectors.
type IDT [256]Descriptor

// Address returns the linear address of the table.
func (t *IDT) Address() uintptr {
	return uintptr(unsafe.Pointer(t))
}

// Limit returns the table size in bytes minus one.
func (t *IDT) Limit() uint16 {
	return uint16(unsafe.Sizeof(*t) - 1)
}
