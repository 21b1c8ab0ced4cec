package mp

import (
	"mpkernel/kernel"
	"mpkernel/kernel/cpu"
	"mpkernel/kernel/sync"
	"unsafe"
)

var (
	// pauseFn is mocked by tests and is automatically inlined by the compiler.
	pauseFn = cpu.Pause

	errSendTimeout    = &kernel.Error{Module: "mp", Message: "timed out waiting for an empty mailbox slot"}
	errReceiveTimeout = &kernel.Error{Module: "mp", Message: "timed out waiting for a message"}
)

// Mailbox is a single-slot message cell shared between two cores. It holds
// at most one unread message; writers never overwrite an occupied slot.
type Mailbox struct {
	lock    sync.Spinlock
	full    bool
	message Message
}

// Sender is the exclusive write end of a Mailbox.
type Sender struct {
	box *Mailbox
}

// Receiver is the exclusive read end of a Mailbox.
type Receiver struct {
	box *Mailbox
}

// NewMailbox allocates an empty mailbox and returns its two ends.
func NewMailbox() (*Sender, *Receiver) {
	box := new(Mailbox)
	return &Sender{box: box}, &Receiver{box: box}
}

// SenderAt returns the write end of the mailbox at addr. It is used by APs to
// rebuild their mailbox ends from the addresses found in Arguments.
func SenderAt(addr uintptr) *Sender {
	return &Sender{box: (*Mailbox)(unsafe.Pointer(addr))}
}

// ReceiverAt returns the read end of the mailbox at addr.
func ReceiverAt(addr uintptr) *Receiver {
	return &Receiver{box: (*Mailbox)(unsafe.Pointer(addr))}
}

// Address returns the address of the underlying mailbox.
func (s *Sender) Address() uintptr {
	return uintptr(unsafe.Pointer(s.box))
}

// TrySend stores msg if the slot is empty and reports whether it did.
func (s *Sender) TrySend(msg Message) bool {
	s.box.lock.Acquire()
	defer s.box.lock.Release()

	if s.box.full {
		return false
	}

	s.box.message, s.box.full = msg, true
	return true
}

// Send spins until the slot is empty and stores msg. A non-zero timeout
// bounds the number of attempts.
func (s *Sender) Send(msg Message, timeout uint64) *kernel.Error {
	for spins := uint64(0); !s.TrySend(msg); spins++ {
		if timeout != 0 && spins >= timeout {
			return errSendTimeout
		}
		pauseFn()
	}

	return nil
}

// Address returns the address of the underlying mailbox.
func (r *Receiver) Address() uintptr {
	return uintptr(unsafe.Pointer(r.box))
}

// Pending returns true if the slot holds an unread message.
func (r *Receiver) Pending() bool {
	r.box.lock.Acquire()
	defer r.box.lock.Release()
	return r.box.full
}

// TryReceive takes the message out of the slot if there is one.
func (r *Receiver) TryReceive() (Message, bool) {
	r.box.lock.Acquire()
	defer r.box.lock.Release()

	if !r.box.full {
		return Message{}, false
	}

	msg := r.box.message
	r.box.message, r.box.full = Message{}, false
	return msg, true
}

// Receive spins until a message arrives. A non-zero timeout bounds the
// number of attempts.
func (r *Receiver) Receive(timeout uint64) (Message, *kernel.Error) {
	for spins := uint64(0); ; spins++ {
		if msg, ok := r.TryReceive(); ok {
			return msg, nil
		}

		if timeout != 0 && spins >= timeout {
			return Message{}, errReceiveTimeout
		}
		pauseFn()
	}
}
