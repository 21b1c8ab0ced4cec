package gate

import "unsafe"

const (
	// KernelCodeSelector selects the 64-bit ring 0 code segment.
	KernelCodeSelector = uint16(1 << 3)

	// KernelDataSelector selects the ring 0 data segment.
	KernelDataSelector = uint16(2 << 3)

	// TaskStateSelector selects the 16-byte TSS system descriptor.
	TaskStateSelector = uint16(3 << 3)

	gdtEntries = 5

	// flat long mode segments; base and limit are ignored by the CPU
	codeSegmentDescriptor = uint64(0x00af9a000000ffff)
	dataSegmentDescriptor = uint64(0x00cf92000000ffff)

	// available 64-bit TSS
	tssDescriptorType = uint64(0x9)
	descriptorPresent = uint64(1) << 47
)

// GDT is a long mode global descriptor table holding the kernel segments and
// the descriptor for one task state segment.
type GDT [gdtEntries]uint64

// NewGDT returns a GDT whose system descriptor points at tss.
func NewGDT(tss *TaskState) GDT {
	var gdt GDT
	gdt[KernelCodeSelector>>3] = codeSegmentDescriptor
	gdt[KernelDataSelector>>3] = dataSegmentDescriptor
	gdt[TaskStateSelector>>3], gdt[TaskStateSelector>>3+1] = taskStateDescriptor(tss.Address(), uint32(tss.Size()-1))
	return gdt
}

// taskStateDescriptor encodes the two GDT slots for a TSS at base.
func taskStateDescriptor(base uintptr, limit uint32) (uint64, uint64) {
	b := uint64(base)
	low := uint64(limit&0xffff) |
		(b&0xffffff)<<16 |
		tssDescriptorType<<40 |
		descriptorPresent |
		uint64((limit>>16)&0xf)<<48 |
		((b>>24)&0xff)<<56

	return low, b >> 32
}

// Address returns the linear address of the table.
func (g *GDT) Address() uintptr {
	return uintptr(unsafe.Pointer(g))
}

// Limit returns the table size in bytes minus one.
func (g *GDT) Limit() uint16 {
	return uint16(unsafe.Sizeof(*g) - 1)
}
