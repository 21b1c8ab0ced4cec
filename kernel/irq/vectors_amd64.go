package irq

// InterruptNumber is an IDT slot.
type InterruptNumber uint8

// CPU exceptions with a dedicated entry stub.
const (
	DivideByZero       = InterruptNumber(0)
	NMI                = InterruptNumber(2)
	InvalidOpcode      = InterruptNumber(6)
	DoubleFault        = InterruptNumber(8)
	InvalidTSS         = InterruptNumber(10)
	StackSegmentFault  = InterruptNumber(12)
	GPFException       = InterruptNumber(13)
	PageFaultException = InterruptNumber(14)
	MachineCheck       = InterruptNumber(18)
)

// Vectors programmed into the local APIC.
const (
	// MailboxNotify tells a core that a mailbox it reads holds a message.
	MailboxNotify = InterruptNumber(0x40)

	// Spurious is the local APIC spurious interrupt vector. Its handler
	// must not signal an EOI.
	Spurious = InterruptNumber(0xff)
)

// pushesErrorCode reports whether the CPU pushes an error code before
// entering the handler for num.
func pushesErrorCode(num InterruptNumber) bool {
	switch num {
	case DoubleFault, InvalidTSS, StackSegmentFault, GPFException, PageFaultException:
		return true
	}
	return false
}
