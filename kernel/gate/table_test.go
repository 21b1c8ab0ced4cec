package gate

import (
	"encoding/binary"
	"mpkernel/kernel"
	"mpkernel/kernel/irq"
	"mpkernel/kernel/mm"
	"mpkernel/kernel/mm/kmem"
	"mpkernel/kernel/mm/vmm"
	"testing"
	"unsafe"
)

func TestTaskState(t *testing.T) {
	tss := NewTaskState()

	if exp := uintptr(taskStateSize + ioBitmapSize + 1); tss.Size() != exp {
		t.Fatalf("expected TSS size %d; got %d", exp, tss.Size())
	}

	if tss.IOMapBase() != taskStateSize {
		t.Fatalf("expected I/O map at offset %d; got %d", taskStateSize, tss.IOMapBase())
	}

	for _, port := range []uint16{0, 0x3f8, 0xcf8, 0xffff} {
		if tss.PortAllowed(port) {
			t.Errorf("expected port 0x%x to be denied", port)
		}
	}

	for i := 1; i <= NumberOfInterruptStacks; i++ {
		tss.SetIST(i, uintptr(i)<<32|0xfff)
	}
	for i := 0; i < NumberOfStackPointers; i++ {
		tss.SetRSP(i, uintptr(0x100+i))
	}

	for i := 1; i <= NumberOfInterruptStacks; i++ {
		if got := tss.IST(i); got != uintptr(i)<<32|0xfff {
			t.Errorf("IST%d: got 0x%x", i, got)
		}
	}
	for i := 0; i < NumberOfStackPointers; i++ {
		if got := tss.RSP(i); got != uintptr(0x100+i) {
			t.Errorf("RSP%d: got 0x%x", i, got)
		}
	}

	// raw layout: RSP0 at offset 4, IST1 at offset 36
	if got := binary.LittleEndian.Uint64(tss.raw[4:]); got != 0x100 {
		t.Fatalf("expected RSP0 at offset 4; got 0x%x", got)
	}
	if got := binary.LittleEndian.Uint64(tss.raw[36:]); got != 1<<32|0xfff {
		t.Fatalf("expected IST1 at offset 36; got 0x%x", got)
	}
}

func TestGDT(t *testing.T) {
	tss := NewTaskState()
	gdt := NewGDT(tss)

	if gdt[0] != 0 {
		t.Fatal("expected the first GDT entry to be null")
	}

	low, high := gdt[TaskStateSelector>>3], gdt[TaskStateSelector>>3+1]
	base := uintptr(low>>16&0xffffff) | uintptr(low>>56)<<24 | uintptr(high)<<32
	if base != tss.Address() {
		t.Fatalf("expected TSS descriptor base 0x%x; got 0x%x", tss.Address(), base)
	}

	limit := uint32(low&0xffff) | uint32(low>>48&0xf)<<16
	if uintptr(limit) != tss.Size()-1 {
		t.Fatalf("expected TSS descriptor limit %d; got %d", tss.Size()-1, limit)
	}

	if typ := low >> 40 & 0xf; typ != 0x9 {
		t.Fatalf("expected available 64-bit TSS type; got 0x%x", typ)
	}

	if gdt.Limit() != gdtEntries*8-1 {
		t.Fatalf("expected GDT limit %d; got %d", gdtEntries*8-1, gdt.Limit())
	}
}

func TestDescriptor(t *testing.T) {
	specs := []struct {
		handler    Handler
		expPresent bool
		expType    uint64
	}{
		{Handler{}, false, 0},
		{Handler{Entry: 0xffff800012345678, IST: 2}, true, gateTypeInterrupt},
		{Handler{Entry: 0x1000, DPL: 3, Trap: true}, true, gateTypeTrap},
	}

	for specIndex, spec := range specs {
		d := NewDescriptor(spec.handler, KernelCodeSelector)

		if d.Present() != spec.expPresent {
			t.Errorf("[spec %d] expected Present() to be %t", specIndex, spec.expPresent)
			continue
		}
		if !spec.expPresent {
			continue
		}

		if d.Offset() != spec.handler.Entry {
			t.Errorf("[spec %d] expected offset 0x%x; got 0x%x", specIndex, spec.handler.Entry, d.Offset())
		}
		if d.IST() != spec.handler.IST {
			t.Errorf("[spec %d] expected IST %d; got %d", specIndex, spec.handler.IST, d.IST())
		}
		if got := d[0] >> 40 & 0xf; got != spec.expType {
			t.Errorf("[spec %d] expected gate type 0x%x; got 0x%x", specIndex, spec.expType, got)
		}
		if got := uint8(d[0]>>45) & 0x3; got != spec.handler.DPL {
			t.Errorf("[spec %d] expected DPL %d; got %d", specIndex, spec.handler.DPL, got)
		}
		if got := uint16(d[0] >> 16); got != KernelCodeSelector {
			t.Errorf("[spec %d] expected selector 0x%x; got 0x%x", specIndex, KernelCodeSelector, got)
		}
	}
}

func TestTableInitialize(t *testing.T) {
	defer func(
		origNewStack func(*vmm.PageDirectoryTable, uintptr, uintptr) (*kmem.Stack, *kernel.Error),
		origLoadGDT, origLoadIDT func(uintptr),
		origLoadTR func(uint16),
		origReload func(uint16, uint16),
	) {
		newStackFn = origNewStack
		loadGDTFn = origLoadGDT
		loadIDTFn = origLoadIDT
		loadTaskRegisterFn = origLoadTR
		reloadSegmentsFn = origReload
		Register(irq.PageFaultException, Handler{})
		Register(irq.DoubleFault, Handler{})
	}(newStackFn, loadGDTFn, loadIDTFn, loadTaskRegisterFn, reloadSegmentsFn)

	var (
		stackFloors        []uintptr
		gdtrAddr, idtrAddr uintptr
		trSelector         uint16
		codeSel, dataSel   uint16
	)

	newStackFn = func(_ *vmm.PageDirectoryTable, floor uintptr, pages uintptr) (*kmem.Stack, *kernel.Error) {
		if pages != StackPages {
			t.Errorf("expected stacks of %d pages; got %d", StackPages, pages)
		}
		stackFloors = append(stackFloors, floor)
		return &kmem.Stack{}, nil
	}
	loadGDTFn = func(addr uintptr) { gdtrAddr = addr }
	loadIDTFn = func(addr uintptr) { idtrAddr = addr }
	loadTaskRegisterFn = func(sel uint16) { trSelector = sel }
	reloadSegmentsFn = func(code, data uint16) { codeSel, dataSel = code, data }

	Register(irq.PageFaultException, Handler{Entry: 0xffff800000001000, IST: 1})
	Register(irq.DoubleFault, Handler{Entry: 0xffff800000002000, IST: 2})

	heapStart := uintptr(0x40000000)
	var table Table
	if err := table.Initialize(nil, heapStart); err != nil {
		t.Fatal(err)
	}

	if len(stackFloors) != numStacks {
		t.Fatalf("expected %d stacks; got %d", numStacks, len(stackFloors))
	}

	t.Run("stack placement", func(t *testing.T) {
		for i, floor := range stackFloors {
			if exp := heapStart - uintptr(2*i+1)*StackPages*mm.PageSize - 1; floor != exp {
				t.Errorf("stack %d: expected floor 0x%x; got 0x%x", i, exp, floor)
			}

			if !table.StackRange(i).Contains(floor) {
				t.Errorf("stack %d: expected range %v to contain its floor", i, table.StackRange(i))
			}

			if table.StackRange(i).End > heapStart {
				t.Errorf("stack %d: expected stack to end below the heap", i)
			}
		}
	})

	t.Run("non-aliasing", func(t *testing.T) {
		for i := 0; i < numStacks; i++ {
			for j := 0; j < numStacks; j++ {
				if i == j {
					continue
				}

				if table.StackRange(i).Overlaps(table.StackRange(j)) {
					t.Errorf("stacks %d and %d overlap: %v %v", i, j, table.StackRange(i), table.StackRange(j))
				}

				distance := stackFloors[i] - stackFloors[j]
				if stackFloors[j] > stackFloors[i] {
					distance = stackFloors[j] - stackFloors[i]
				}
				if distance < StackPages*mm.PageSize {
					t.Errorf("stacks %d and %d floors are %d bytes apart", i, j, distance)
				}
			}
		}
	})

	t.Run("task state", func(t *testing.T) {
		tss := table.TaskState()
		for i := 0; i < NumberOfInterruptStacks; i++ {
			if tss.IST(i+1) != stackFloors[i] {
				t.Errorf("expected IST%d to be 0x%x; got 0x%x", i+1, stackFloors[i], tss.IST(i+1))
			}
		}
		for i := 0; i < NumberOfStackPointers; i++ {
			if tss.RSP(i) != stackFloors[NumberOfInterruptStacks+i] {
				t.Errorf("expected RSP%d to be 0x%x; got 0x%x", i, stackFloors[NumberOfInterruptStacks+i], tss.RSP(i))
			}
		}
	})

	t.Run("descriptor tables", func(t *testing.T) {
		gdtr := (*[10]byte)(unsafe.Pointer(gdtrAddr))
		if got := uintptr(binary.LittleEndian.Uint64(gdtr[2:])); got != table.GDT().Address() {
			t.Errorf("expected GDTR base 0x%x; got 0x%x", table.GDT().Address(), got)
		}
		if got := binary.LittleEndian.Uint16(gdtr[:2]); got != table.GDT().Limit() {
			t.Errorf("expected GDTR limit %d; got %d", table.GDT().Limit(), got)
		}

		idtr := (*[10]byte)(unsafe.Pointer(idtrAddr))
		if got := uintptr(binary.LittleEndian.Uint64(idtr[2:])); got != table.IDT().Address() {
			t.Errorf("expected IDTR base 0x%x; got 0x%x", table.IDT().Address(), got)
		}
		if got := binary.LittleEndian.Uint16(idtr[:2]); got != 256*16-1 {
			t.Errorf("expected IDTR limit %d; got %d", 256*16-1, got)
		}

		if trSelector != TaskStateSelector || codeSel != KernelCodeSelector || dataSel != KernelDataSelector {
			t.Errorf("unexpected selectors: tr=0x%x cs=0x%x ds=0x%x", trSelector, codeSel, dataSel)
		}

		idt := table.IDT()
		for vector := range idt {
			switch irq.InterruptNumber(vector) {
			case irq.PageFaultException:
				if !idt[vector].Present() || idt[vector].IST() != 1 {
					t.Errorf("expected page fault gate to be present with IST1")
				}
			case irq.DoubleFault:
				if !idt[vector].Present() || idt[vector].Offset() != 0xffff800000002000 {
					t.Errorf("expected double fault gate to point at its handler")
				}
			default:
				if idt[vector].Present() {
					t.Errorf("expected vector %d without a handler to be absent", vector)
				}
			}
		}
	})
}

func TestTableInitializeErrors(t *testing.T) {
	defer func(origNewStack func(*vmm.PageDirectoryTable, uintptr, uintptr) (*kmem.Stack, *kernel.Error)) {
		newStackFn = origNewStack
	}(newStackFn)

	var table Table
	if err := table.Initialize(nil, 0x1000); err != errHeapStartTooLow {
		t.Fatalf("expected errHeapStartTooLow; got %v", err)
	}

	expErr := &kernel.Error{Module: "test", Message: "out of memory"}
	newStackFn = func(_ *vmm.PageDirectoryTable, _ uintptr, _ uintptr) (*kmem.Stack, *kernel.Error) {
		return nil, expErr
	}
	if err := table.Initialize(nil, 0x40000000); err != expErr {
		t.Fatalf("expected stack allocation error; got %v", err)
	}
}
