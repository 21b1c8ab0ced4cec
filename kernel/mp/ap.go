package mp

import (
	"mpkernel/kernel"
	"mpkernel/kernel/cpu"
	"mpkernel/kernel/gate"
	"mpkernel/kernel/mm/vmm"
	"unicode/utf8"
)

var (
	// The following functions are mocked by tests and are automatically
	// inlined by the compiler.
	enableNXFn   = cpu.EnableNX
	activateFn   = func(pdt *vmm.PageDirectoryTable) { pdt.Activate() }
	initTablesFn = func(t *gate.Table, pdt *vmm.PageDirectoryTable, heapStart uintptr) *kernel.Error {
		return t.Initialize(pdt, heapStart)
	}

	errUnknownProcessor     = &kernel.Error{Module: "mp", Message: "no controller registered for this local APIC id"}
	errNoExecuteUnsupported = &kernel.Error{Module: "mp", Message: "AP tables use the NX bit but this core cannot enable it"}
)

// ApplicationProcessor is the AP-side view of a core: the mailbox ends found
// in its Arguments and the descriptor tables it loaded.
type ApplicationProcessor struct {
	ctrl   *Controller
	args   Arguments
	inbox  *Receiver
	outbox *Sender
	ipi    Interrupter
	tables gate.Table
}

// EnterApplicationProcessor is called on an AP by the kernel entry point
// with the Arguments left by the trampoline. ipi is used to notify the BSP
// after each message and may be nil.
func EnterApplicationProcessor(args Arguments, apicID uint8, ipi Interrupter) (*ApplicationProcessor, *kernel.Error) {
	ctrl := Current(apicID)
	if ctrl == nil {
		return nil, errUnknownProcessor
	}
	ctrl.setState(RunningUninitialized)

	return &ApplicationProcessor{
		ctrl:   ctrl,
		args:   args,
		inbox:  ReceiverAt(uintptr(args.Receiver)),
		outbox: SenderAt(uintptr(args.Sender)),
		ipi:    ipi,
	}, nil
}

// Initialize switches to the AP's own address space, builds its descriptor
// tables below its heap and reports BootCompleted to the BSP.
//
// EFER.NXE is per core. While it is clear the NX bit in the AP tables is a
// reserved bit, so it is confirmed here before any of them is loaded.
func (ap *ApplicationProcessor) Initialize() *kernel.Error {
	if vmm.NoExecute() && !enableNXFn() {
		return errNoExecuteUnsupported
	}

	activateFn(ap.ctrl.pdt)

	if err := initTablesFn(&ap.tables, ap.ctrl.pdt, uintptr(ap.args.HeapStart)); err != nil {
		return err
	}

	if err := ap.puts("descriptor tables loaded\n"); err != nil {
		return err
	}

	return ap.send(Message{Kind: KindBootCompleted})
}

// Write sends p to the BSP as a sequence of Char messages so that the text
// ends up in the controller log. It implements io.Writer and can be passed
// to kfmt.Fprintf.
func (ap *ApplicationProcessor) Write(p []byte) (int, error) {
	for written := 0; written < len(p); {
		r, size := utf8.DecodeRune(p[written:])
		if err := ap.send(Char(r)); err != nil {
			return written, err
		}
		written += size
	}

	return len(p), nil
}

func (ap *ApplicationProcessor) puts(s string) *kernel.Error {
	for _, r := range s {
		if err := ap.send(Char(r)); err != nil {
			return err
		}
	}
	return nil
}

// Serve handles BSP requests until a Halt message arrives.
func (ap *ApplicationProcessor) Serve() *kernel.Error {
	for {
		msg, err := ap.inbox.Receive(0)
		if err != nil {
			return err
		}

		switch msg.Kind {
		case KindPing:
			if err = ap.send(Message{Kind: KindPong, Value: msg.Value}); err != nil {
				return err
			}
		case KindHalt:
			return nil
		}
	}
}

// Tables returns the descriptor tables of the AP.
func (ap *ApplicationProcessor) Tables() *gate.Table {
	return &ap.tables
}

func (ap *ApplicationProcessor) send(msg Message) *kernel.Error {
	if err := ap.outbox.Send(msg, 0); err != nil {
		return err
	}

	if ap.ipi == nil {
		return nil
	}
	return ap.ipi.SendInterrupt(ap.args.BSPLocalAPICID, ap.ctrl.notifyVector)
}
