// Package gate builds the per-core descriptor tables: a GDT with a task state
// segment, the interrupt stacks it references and the IDT.
package gate

import (
	"encoding/binary"
	"mpkernel/kernel"
	"mpkernel/kernel/cpu"
	"mpkernel/kernel/mm"
	"mpkernel/kernel/mm/kmem"
	"mpkernel/kernel/mm/vmm"
	"unsafe"
)

// StackPages is the size in pages of every interrupt and privilege stack.
const StackPages = 4

const numStacks = NumberOfInterruptStacks + NumberOfStackPointers

var (
	// The following functions are mocked by tests and are automatically
	// inlined by the compiler.
	newStackFn         = kmem.NewStack
	loadGDTFn          = cpu.LoadGDT
	loadIDTFn          = cpu.LoadIDT
	loadTaskRegisterFn = cpu.LoadTaskRegister
	reloadSegmentsFn   = cpu.ReloadSegments

	errHeapStartTooLow = &kernel.Error{Module: "gate", Message: "no room for interrupt stacks below the heap"}
)

// StackFloor returns the floor of stack index when stacks are anchored below
// heapStart. Every other slot is left unmapped so that an overflowing stack
// faults instead of running into its neighbor.
func StackFloor(heapStart uintptr, index int) uintptr {
	return heapStart - uintptr(2*index+1)*StackPages*mm.PageSize - 1
}

// Table holds the descriptor tables and stacks of one core. It must stay
// reachable for as long as the core uses them.
type Table struct {
	gdt    GDT
	idt    IDT
	tss    *TaskState
	stacks [numStacks]*kmem.Stack
	floors [numStacks]uintptr

	gdtr [10]byte
	idtr [10]byte
}

// Initialize maps the interrupt stacks below heapStart in pdt, builds the TSS,
// GDT and IDT from the registered handlers and loads them on the calling
// core. Stacks 0-6 back IST1-IST7 and stacks 7-9 back RSP0-RSP2.
func (t *Table) Initialize(pdt *vmm.PageDirectoryTable, heapStart uintptr) *kernel.Error {
	if heapStart < uintptr(2*numStacks)*StackPages*mm.PageSize {
		return errHeapStartTooLow
	}

	t.tss = NewTaskState()
	for i := 0; i < numStacks; i++ {
		floor := StackFloor(heapStart, i)
		stack, err := newStackFn(pdt, floor, StackPages)
		if err != nil {
			return err
		}

		t.stacks[i], t.floors[i] = stack, floor
		if i < NumberOfInterruptStacks {
			t.tss.SetIST(i+1, floor)
		} else {
			t.tss.SetRSP(i-NumberOfInterruptStacks, floor)
		}
	}

	t.gdt = NewGDT(t.tss)
	handlers := Registered()
	for vector := range handlers {
		t.idt[vector] = NewDescriptor(handlers[vector], KernelCodeSelector)
	}

	putPseudoDescriptor(&t.gdtr, t.gdt.Address(), t.gdt.Limit())
	putPseudoDescriptor(&t.idtr, t.idt.Address(), t.idt.Limit())

	loadGDTFn(uintptr(unsafe.Pointer(&t.gdtr)))
	reloadSegmentsFn(KernelCodeSelector, KernelDataSelector)
	loadTaskRegisterFn(TaskStateSelector)
	loadIDTFn(uintptr(unsafe.Pointer(&t.idtr)))

	return nil
}

// putPseudoDescriptor writes the 10-byte operand of LGDT/LIDT: a 16-bit
// limit followed by the 64-bit base address.
func putPseudoDescriptor(dst *[10]byte, base uintptr, limit uint16) {
	binary.LittleEndian.PutUint16(dst[:2], limit)
	binary.LittleEndian.PutUint64(dst[2:], uint64(base))
}

// Stack returns stack i as allocated by Initialize.
func (t *Table) Stack(i int) *kmem.Stack { return t.stacks[i] }

// StackRange returns the virtual range reserved for stack i.
func (t *Table) StackRange(i int) mm.Range {
	top := t.floors[i] + 1
	return mm.Range{Start: top - StackPages*mm.PageSize, End: top}
}

// TaskState returns the task state segment of the core.
func (t *Table) TaskState() *TaskState { return t.tss }

// GDT returns the global descriptor table of the core.
func (t *Table) GDT() *GDT { return &t.gdt }

// IDT returns the interrupt descriptor table of the core.
func (t *Table) IDT() *IDT { return &t.idt }
