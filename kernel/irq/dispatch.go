// Package irq routes interrupts delivered through the IDT entry stubs to Go
// handlers.
package irq

import (
	"mpkernel/kernel"
	"mpkernel/kernel/kfmt"
	"mpkernel/kernel/sync"
)

// Handler is invoked with a pointer to the saved register state. If the
// handler returns, changes to the registers are restored by IRETQ.
type Handler func(*Registers)

var (
	handlerLock sync.Spinlock
	handlers    [256]Handler

	// panicFn is mocked by tests and is automatically inlined by the compiler.
	panicFn = kfmt.Panic

	errUnhandledInterrupt = &kernel.Error{Module: "irq", Message: "unhandled interrupt"}
)

// HandleInterrupt ensures that handler will be invoked when the num vector is
// raised on any core. Registering a nil handler removes the current one.
func HandleInterrupt(num InterruptNumber, handler Handler) {
	handlerLock.Acquire()
	handlers[num] = handler
	handlerLock.Release()
}

// Registered returns true if a handler is installed for num.
func Registered(num InterruptNumber) bool {
	handlerLock.Acquire()
	defer handlerLock.Release()
	return handlers[num] != nil
}

// Dispatch is called by the common entry stub code with the registers saved
// for the interrupted context. Interrupts without a handler are fatal.
func Dispatch(regs *Registers) {
	handlerLock.Acquire()
	handler := handlers[uint8(regs.Vector)]
	handlerLock.Release()

	if handler == nil {
		kfmt.Printf("\n[irq] unhandled vector %d", regs.Vector)
		if pushesErrorCode(InterruptNumber(regs.Vector)) {
			kfmt.Printf(" (error code 0x%x)", regs.Info)
		}
		kfmt.Printf("; registers:\n")
		regs.DumpTo(kfmt.OutputSink())
		panicFn(errUnhandledInterrupt)
		return
	}

	handler(regs)
}
