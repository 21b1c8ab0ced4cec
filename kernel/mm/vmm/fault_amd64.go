package vmm

import (
	"mpkernel/kernel"
	"mpkernel/kernel/cpu"
	"mpkernel/kernel/irq"
	"mpkernel/kernel/kfmt"
)

var (
	// the following functions are mocked by tests and are automatically
	// inlined by the compiler.
	readCR2Fn         = cpu.ReadCR2
	handleInterruptFn = irq.HandleInterrupt
	panicFn           = kfmt.Panic

	errUnrecoverableFault = &kernel.Error{Module: "vmm", Message: "page/gpf fault"}
)

// InstallFaultHandlers registers the page fault and general protection
// fault handlers. Both are fatal: the tables are built once at boot and
// nothing maps pages lazily.
func InstallFaultHandlers() {
	handleInterruptFn(irq.PageFaultException, pageFaultHandler)
	handleInterruptFn(irq.GPFException, generalProtectionFaultHandler)
}

func pageFaultHandler(regs *irq.Registers) {
	kfmt.Printf("\nPage fault while accessing address: 0x%16x\nReason: ", readCR2Fn())
	switch {
	case regs.Info == 0:
		kfmt.Printf("read from non-present page")
	case regs.Info == 1:
		kfmt.Printf("page protection violation (read)")
	case regs.Info == 2:
		kfmt.Printf("write to non-present page")
	case regs.Info == 3:
		kfmt.Printf("page protection violation (write)")
	case regs.Info == 4:
		kfmt.Printf("page-fault in user-mode")
	case regs.Info == 8:
		kfmt.Printf("page table has reserved bit set")
	case regs.Info&16 != 0:
		kfmt.Printf("instruction fetch")
	default:
		kfmt.Printf("unknown")
	}

	kfmt.Printf("\n\nRegisters:\n")
	regs.DumpTo(kfmt.OutputSink())

	panicFn(errUnrecoverableFault)
}

// generalProtectionFaultHandler is invoked for various reasons:
// - segment errors (privilege, type or limit violations)
// - executing privileged instructions outside ring-0
// - attempts to access reserved or unimplemented CPU registers
func generalProtectionFaultHandler(regs *irq.Registers) {
	kfmt.Printf("\nGeneral protection fault (selector error code 0x%x)\n", regs.Info)
	kfmt.Printf("Registers:\n")
	regs.DumpTo(kfmt.OutputSink())

	panicFn(errUnrecoverableFault)
}
