package mp

import (
	"mpkernel/kernel"
	"mpkernel/kernel/mm"
	"mpkernel/kernel/mm/kmem"
	"mpkernel/kernel/mm/vmm"
	"mpkernel/kernel/sync"
	"sync/atomic"
	"unicode/utf8"
)

// State describes the bring-up progress of an AP as observed by the BSP.
type State uint32

const (
	// NotStarted is the state of a controller before any IPI was sent.
	NotStarted State = iota

	// AwaitingSipi is set right before INIT/SIPI are sent.
	AwaitingSipi

	// RunningUninitialized is set by the AP when it reaches the kernel
	// entry point.
	RunningUninitialized

	// Initialized is set once the AP reported BootCompleted.
	Initialized

	// Failed is set when the AP did not complete its boot in time.
	Failed
)

// Interrupter sends the IPIs needed to start and notify APs.
type Interrupter interface {
	SendInit(apicID uint8) *kernel.Error
	SendStartup(apicID uint8, entry uintptr) *kernel.Error
	SendInterrupt(apicID uint8, vector uint8) *kernel.Error
}

// Controller holds the BSP-side state of one AP: its address space, heap,
// kernel stack, mailboxes and the text it logged. Controllers live for the
// whole uptime of the system.
type Controller struct {
	apicID uint8
	state  uint32

	pdt         *vmm.PageDirectoryTable
	heap        *kmem.ContinuousPages
	heapRange   mm.Range
	kernelStack *kmem.Stack
	stackFloor  uintptr

	// toAP/fromAP are the BSP ends; apInbox/apOutbox are handed to the AP
	// through Arguments.
	toAP     *Sender
	fromAP   *Receiver
	apInbox  *Receiver
	apOutbox *Sender

	notifier     Interrupter
	notifyVector uint8
	sendTimeout  uint64
	kernelEntry  uintptr
	ss           uint16

	logLock       sync.Spinlock
	log           []byte
	trampolineLog string
}

// APICID returns the local APIC id of the AP.
func (c *Controller) APICID() uint8 { return c.apicID }

// State returns the current bring-up state.
func (c *Controller) State() State {
	return State(atomic.LoadUint32(&c.state))
}

func (c *Controller) setState(s State) {
	atomic.StoreUint32(&c.state, uint32(s))
}

// PageTable returns the address space of the AP.
func (c *Controller) PageTable() *vmm.PageDirectoryTable { return c.pdt }

// Heap returns the virtual range of the AP heap.
func (c *Controller) Heap() mm.Range { return c.heapRange }

// KernelStackFloor returns the initial stack pointer of the AP.
func (c *Controller) KernelStackFloor() uintptr { return c.stackFloor }

// Send waits for the AP mailbox to become empty, stores msg and raises the
// notification IPI on the AP.
func (c *Controller) Send(msg Message) *kernel.Error {
	if err := c.toAP.Send(msg, c.sendTimeout); err != nil {
		return err
	}
	return c.notify()
}

// TrySend stores msg only if the AP mailbox is empty.
func (c *Controller) TrySend(msg Message) (bool, *kernel.Error) {
	if !c.toAP.TrySend(msg) {
		return false, nil
	}
	return true, c.notify()
}

func (c *Controller) notify() *kernel.Error {
	if c.notifier == nil {
		return nil
	}
	return c.notifier.SendInterrupt(c.apicID, c.notifyVector)
}

// BootComplete marks the AP as initialized unless its boot was already
// declared failed.
func (c *Controller) BootComplete() {
	for {
		cur := atomic.LoadUint32(&c.state)
		if State(cur) == Failed {
			return
		}
		if atomic.CompareAndSwapUint32(&c.state, cur, uint32(Initialized)) {
			return
		}
	}
}

// ReceiveCharacter appends r to the AP log.
func (c *Controller) ReceiveCharacter(r rune) {
	var buf [utf8.UTFMax]byte
	n := utf8.EncodeRune(buf[:], r)

	c.logLock.Acquire()
	c.log = append(c.log, buf[:n]...)
	c.logLock.Release()
}

// Log returns the text received from the AP so far.
func (c *Controller) Log() string {
	c.logLock.Acquire()
	defer c.logLock.Release()
	return string(c.log)
}

// TrampolineLog returns the text the trampoline left in its scratch stack
// during the successful boot attempt.
func (c *Controller) TrampolineLog() string {
	c.logLock.Acquire()
	defer c.logLock.Release()
	return c.trampolineLog
}

// arguments builds the record passed to the AP through the trampoline. CR3
// is filled in by the Loader.
func (c *Controller) arguments(bspHeapStart uintptr, bspLocalAPICID uint8) Arguments {
	return Arguments{
		KernelEntry:      uint64(c.kernelEntry),
		KernelStackFloor: uint64(c.stackFloor),
		BSPHeapStart:     uint64(bspHeapStart),
		HeapStart:        uint64(c.heapRange.Start),
		HeapSize:         uint64(c.heapRange.Size()),
		Receiver:         uint64(c.apInbox.Address()),
		Sender:           uint64(c.apOutbox.Address()),
		SS:               c.ss,
		BSPLocalAPICID:   bspLocalAPICID,
	}
}
