// Package kmain contains the kernel entry points for the bootstrap processor
// and the application processors.
package kmain

import (
	"mpkernel/device/acpi"
	"mpkernel/kernel"
	"mpkernel/kernel/apic"
	"mpkernel/kernel/cpu"
	"mpkernel/kernel/gate"
	"mpkernel/kernel/hal"
	"mpkernel/kernel/irq"
	"mpkernel/kernel/kfmt"
	"mpkernel/kernel/mm"
	"mpkernel/kernel/mm/vmm"
	"mpkernel/kernel/mp"
	"unsafe"

	// drivers register themselves with the device package
	_ "mpkernel/device/serial"
	_ "mpkernel/device/timer"
)

var (
	errKmainReturned = &kernel.Error{Module: "kmain", Message: "Kmain returned"}
	errNoTimer       = &kernel.Error{Module: "kmain", Message: "no timer available for the INIT/SIPI delays"}
	errAPReturned    = &kernel.Error{Module: "kmain", Message: "application processor left its message loop"}
)

// BootInfo is filled in by the UEFI boot stage before it jumps to Kmain.
type BootInfo struct {
	// RSDP is the physical address of the ACPI root pointer. Zero makes
	// the ACPI driver scan the BIOS area.
	RSDP uintptr

	// Trampoline is the real-mode AP startup image. It must set EFER.NXE
	// along with EFER.LME when the CPU supports NX, because the AP kernel
	// stack is mapped non-executable.
	Trampoline []byte

	// APEntry is the address the trampoline jumps to in long mode. It
	// calls ApplicationProcessorMain with the address of the Arguments.
	APEntry uintptr

	// HeapStart is the start of the BSP heap; the BSP interrupt stacks
	// are placed below it.
	HeapStart uintptr

	// BootTimeout and SendTimeout override the mp defaults when set.
	BootTimeout uint64
	SendTimeout uint64
}

// Kmain is the only Go symbol that is visible (exported) from the boot stage.
// It detects the hardware, adopts the firmware page tables, loads the BSP
// descriptor tables and brings up every application processor listed in the
// MADT one at a time.
//
// Kmain is not expected to return. If it does, the boot stage will halt the CPU.
//
//go:noinline
func Kmain(info *BootInfo) {
	acpi.SetRootPointer(info.RSDP)
	hal.DetectHardware()

	if cpu.EnableNX() {
		vmm.SetNoExecute(true)
	}

	mm.SetFrameAllocator(vmm.HeapFrameAllocator)
	bspPDT := vmm.Get(vmm.NewArena(), cpu.ActivePDT())

	installGates()
	vmm.InstallFaultHandlers()

	var bspTables gate.Table
	if err := bspTables.Initialize(bspPDT, info.HeapStart); err != nil {
		kfmt.Panic(err)
	}

	topo, err := hal.Topology()
	if err != nil {
		kfmt.Panic(err)
	}

	timer := hal.ActiveTimer()
	if timer == nil {
		kfmt.Panic(errNoTimer)
	}

	lapic := apic.NewMMIO(topo.LocalAPICAddress, timer)
	lapic.Enable(uint8(irq.Spurious))

	manager := mp.NewManager(mpConfig(info), bspPDT, lapic, lapic.ID())
	irq.HandleInterrupt(irq.MailboxNotify, acknowledge(lapic))
	irq.HandleInterrupt(irq.Spurious, func(_ *irq.Registers) {})

	if err = manager.Initialize(processorsFrom(topo)); err != nil {
		kfmt.Panic(err)
	}

	manager.Finalize(kfmt.ActiveSink())
	kfmt.Printf("[kmain] %d of %d application processors online\n",
		len(manager.Controllers())-len(manager.Failed()), len(manager.Controllers()))

	if err = manager.Shutdown(); err != nil {
		kfmt.Panic(err)
	}

	// Use kfmt.Panic instead of panic to prevent the compiler from
	// treating it as dead-code and eliminating it.
	kfmt.Panic(errKmainReturned)
}

// ApplicationProcessorMain is jumped to by the trampoline on every AP once
// long mode is enabled. argsAddr points at the Arguments record at the end
// of the trampoline range.
//
// AP output goes through the mailbox rather than kfmt so that an AP never
// holds the formatting lock while waiting for the BSP.
//
//go:noinline
func ApplicationProcessorMain(argsAddr uintptr) {
	args := mp.DecodeArguments((*[mp.ArgumentsSize]byte)(unsafe.Pointer(argsAddr))[:])

	lapic := apic.NewMMIO(apic.BaseAddress(), nil)
	lapic.Enable(uint8(irq.Spurious))

	ap, err := mp.EnterApplicationProcessor(args, lapic.ID(), lapic)
	if err != nil {
		kfmt.Panic(err)
	}

	if err = ap.Initialize(); err != nil {
		kfmt.Panic(err)
	}

	ap.Write([]byte("waiting for requests\n"))
	if err = ap.Serve(); err != nil {
		kfmt.Panic(err)
	}

	cpu.Halt()
	kfmt.Panic(errAPReturned)
}

type endOfInterrupter interface {
	EndOfInterrupt()
}

// acknowledge returns the MailboxNotify handler. The IPI is only a wakeup
// hint: mailboxes are drained by polling loops that hold the mailbox locks,
// so the handler must not touch them.
func acknowledge(lapic endOfInterrupter) irq.Handler {
	return func(_ *irq.Registers) {
		lapic.EndOfInterrupt()
	}
}

// installGates registers an entry stub for every vector that has one. Faults
// that may occur on a broken stack get a dedicated interrupt stack.
func installGates() {
	for _, num := range irq.Vectors() {
		h := gate.Handler{Entry: irq.EntryPoint(num)}

		switch num {
		case irq.DoubleFault:
			h.IST = 1
		case irq.NMI:
			h.IST = 2
		case irq.MachineCheck:
			h.IST = 3
		case irq.PageFaultException, irq.StackSegmentFault:
			h.IST = 4
		}

		gate.Register(num, h)
	}
}

// processorsFrom converts the MADT processor records to the list handed to
// the mp manager. Processors that can be brought online later are treated
// as enabled.
func processorsFrom(topo *acpi.Topology) []mp.Processor {
	processors := make([]mp.Processor, 0, len(topo.Processors))
	for _, p := range topo.Processors {
		processors = append(processors, mp.Processor{
			APICID:  p.APICID,
			Enabled: p.Enabled || p.OnlineCapable,
		})
	}
	return processors
}

// mpConfig builds the AP bring-up configuration from the boot information.
func mpConfig(info *BootInfo) mp.Config {
	cfg := mp.DefaultConfig()
	cfg.Trampoline = info.Trampoline
	cfg.KernelEntry = info.APEntry
	cfg.BSPHeapStart = info.HeapStart

	if info.BootTimeout != 0 {
		cfg.BootTimeout = info.BootTimeout
	}
	if info.SendTimeout != 0 {
		cfg.SendTimeout = info.SendTimeout
	}

	return cfg
}
