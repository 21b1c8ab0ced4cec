// Package mp brings up the application processors and connects them to the
// bootstrap processor through single-slot mailboxes.
package mp

import (
	"io"
	"mpkernel/kernel"
	"mpkernel/kernel/gate"
	"mpkernel/kernel/irq"
	"mpkernel/kernel/kfmt"
	"mpkernel/kernel/mm"
	"mpkernel/kernel/mm/kmem"
	"mpkernel/kernel/mm/vmm"
	"strconv"
)

var (
	// The following functions are mocked by tests and are automatically
	// inlined by the compiler.
	newPagesFn = kmem.NewContinuousPages
	newStackFn = kmem.NewStack
	panicFn    = kfmt.Panic

	errBootTimeout  = &kernel.Error{Module: "mp", Message: "timed out waiting for AP to boot"}
	errNoTrampoline = &kernel.Error{Module: "mp", Message: "no trampoline binary configured"}
)

// Config controls AP bring-up.
type Config struct {
	// Trampoline is the real-mode startup code copied to TrampolineBase.
	// When vmm.NoExecute is set the AP tables mark the kernel stack NX, so
	// the trampoline must set EFER.NXE together with EFER.LME whenever
	// CPUID 0x80000001 reports NX, before it first pushes to that stack.
	Trampoline []byte

	// TrampolineBase and TrampolineStackFloor bound the low-memory range
	// used by the Loader.
	TrampolineBase       uintptr
	TrampolineStackFloor uintptr

	// KernelEntry is the 64-bit entry point the trampoline jumps to.
	KernelEntry uintptr

	// KernelStackPages is the size of each AP kernel stack.
	KernelStackPages uintptr

	// HeapBase is the virtual address below which the per-AP regions are
	// laid out; every AP gets HeapSize bytes of heap plus its stacks.
	HeapBase uintptr
	HeapSize uintptr

	// BSPHeapStart is passed to every AP in its Arguments.
	BSPHeapStart uintptr

	// NotifyVector is the fixed IPI raised after a mailbox write.
	NotifyVector uint8

	// BootTimeout bounds the number of polls while waiting for an AP to
	// complete its boot. Zero waits forever.
	BootTimeout uint64

	// SendTimeout bounds the number of polls while waiting for an empty
	// mailbox slot. Zero waits forever.
	SendTimeout uint64

	// BootRetries is the number of additional INIT/SIPI sequences issued
	// when an AP times out.
	BootRetries int

	// EventSink receives every AP message that is not handled by the
	// controller itself.
	EventSink func(apicID uint8, msg Message)
}

// DefaultConfig returns the configuration used when the boot stage does not
// override it.
func DefaultConfig() Config {
	return Config{
		TrampolineBase:       TrampolineBase,
		TrampolineStackFloor: TrampolineBase + 4*mm.PageSize - 1,
		KernelStackPages:     16,
		HeapBase:             uintptr(0xffff900000000000),
		HeapSize:             64 * mm.PageSize,
		NotifyVector:         uint8(irq.MailboxNotify),
	}
}

// Processor describes one logical CPU reported by the platform.
type Processor struct {
	APICID  uint8
	Enabled bool
}

// Manager owns the controllers of every AP and drives their bring-up from
// the BSP.
type Manager struct {
	cfg         Config
	bspPDT      *vmm.PageDirectoryTable
	ipi         Interrupter
	bspID       uint8
	controllers []*Controller
}

// NewManager returns a manager that clones bspPDT for every AP and sends
// IPIs through ipi.
func NewManager(cfg Config, bspPDT *vmm.PageDirectoryTable, ipi Interrupter, bspLocalAPICID uint8) *Manager {
	return &Manager{
		cfg:    cfg,
		bspPDT: bspPDT,
		ipi:    ipi,
		bspID:  bspLocalAPICID,
	}
}

// Controllers returns the controllers created by Initialize.
func (m *Manager) Controllers() []*Controller {
	return m.controllers
}

// Initialize creates a controller for every enabled AP in processors and
// boots them one at a time. APs that do not respond are marked Failed and
// reported by Failed; only setup errors are returned.
func (m *Manager) Initialize(processors []Processor) *kernel.Error {
	if len(m.cfg.Trampoline) == 0 {
		return errNoTrampoline
	}

	for _, p := range processors {
		if !p.Enabled || p.APICID == m.bspID {
			continue
		}

		ctrl, err := m.newController(p.APICID, len(m.controllers))
		if err != nil {
			return err
		}
		m.controllers = append(m.controllers, ctrl)
		register(ctrl)
	}

	kfmt.Printf("[mp] starting %d application processors\n", len(m.controllers))
	for _, ctrl := range m.controllers {
		if err := m.Boot(ctrl); err != nil {
			kfmt.Printf("[mp] ap %d: %s\n", ctrl.apicID, err.Message)
			continue
		}
	}

	return nil
}

// regionSize is the virtual space reserved per AP: heap, descriptor table
// stacks with their guard slots, kernel stack and a guard page.
func (m *Manager) regionSize() uintptr {
	gateStacks := uintptr(2*(gate.NumberOfInterruptStacks+gate.NumberOfStackPointers)+1) * gate.StackPages * mm.PageSize
	size := m.cfg.HeapSize + gateStacks + m.cfg.KernelStackPages*mm.PageSize + mm.PageSize
	return (size + mm.PageSize - 1) &^ (mm.PageSize - 1)
}

// newController clones the BSP address space and maps the private heap and
// kernel stack of the index-th AP into it.
func (m *Manager) newController(apicID uint8, index int) (*Controller, *kernel.Error) {
	pdt, err := m.bspPDT.Clone()
	if err != nil {
		return nil, err
	}

	regionSize := m.regionSize()
	heapStart := m.cfg.HeapBase + uintptr(index+1)*regionSize - m.cfg.HeapSize
	heapRange := mm.RangeOf(heapStart, m.cfg.HeapSize)

	heap, err := newPagesFn(pdt, heapRange, true, false)
	if err != nil {
		return nil, err
	}

	stackFloor := gate.StackFloor(heapStart, gate.NumberOfInterruptStacks+gate.NumberOfStackPointers)
	kernelStack, err := newStackFn(pdt, stackFloor, m.cfg.KernelStackPages)
	if err != nil {
		return nil, err
	}

	// The trampoline keeps running from low memory after it enables
	// paging so its range must be identity mapped.
	for addr := m.cfg.TrampolineBase; addr <= m.cfg.TrampolineStackFloor; addr += mm.PageSize {
		if physAddr, err := pdt.Translate(addr); err == nil && physAddr == addr {
			continue
		}
		if err = pdt.SetPage(addr, addr, true, true, true); err != nil {
			return nil, err
		}
	}

	toAP, apInbox := NewMailbox()
	apOutbox, fromAP := NewMailbox()

	return &Controller{
		apicID:       apicID,
		pdt:          pdt,
		heap:         heap,
		heapRange:    heapRange,
		kernelStack:  kernelStack,
		stackFloor:   stackFloor,
		toAP:         toAP,
		fromAP:       fromAP,
		apInbox:      apInbox,
		apOutbox:     apOutbox,
		notifier:     m.ipi,
		notifyVector: m.cfg.NotifyVector,
		sendTimeout:  m.cfg.SendTimeout,
		kernelEntry:  m.cfg.KernelEntry,
		ss:           gate.KernelDataSelector,
	}, nil
}

// Boot starts the AP managed by ctrl and waits until it reports
// BootCompleted. Only one AP is started at a time. If the AP does not
// respond within BootTimeout polls the sequence is retried BootRetries times
// before the controller is marked Failed.
func (m *Manager) Boot(ctrl *Controller) *kernel.Error {
	var err *kernel.Error
	for attempt := 0; attempt <= m.cfg.BootRetries; attempt++ {
		if err = m.bootOnce(ctrl); err != errBootTimeout {
			break
		}
	}

	if err != nil {
		ctrl.setState(Failed)
		return err
	}

	return nil
}

func (m *Manager) bootOnce(ctrl *Controller) *kernel.Error {
	region, err := AllocatePages(m.cfg.TrampolineBase, m.cfg.TrampolineStackFloor)
	if err != nil {
		return err
	}

	loader, err := NewLoader(m.cfg.Trampoline, region)
	if err != nil {
		return err
	}

	if err = loader.Initialize(ctrl, m.cfg.BSPHeapStart, m.bspID); err != nil {
		return err
	}

	ctrl.setState(AwaitingSipi)
	if err = m.ipi.SendInit(ctrl.apicID); err != nil {
		return err
	}
	if err = m.ipi.SendStartup(ctrl.apicID, loader.EntryPoint()); err != nil {
		return err
	}

	for spins := uint64(0); ctrl.State() != Initialized; spins++ {
		m.SaveReceivedMessages()
		if ctrl.State() == Initialized {
			break
		}

		if m.cfg.BootTimeout != 0 && spins >= m.cfg.BootTimeout {
			return errBootTimeout
		}
		pauseFn()
	}

	trampolineLog, err := loader.Log()
	if err != nil {
		panicFn(err)
		return err
	}

	ctrl.logLock.Acquire()
	ctrl.trampolineLog = trampolineLog
	ctrl.logLock.Release()
	return nil
}

// SaveReceivedMessages drains the BSP-side mailbox of every controller.
// BootCompleted and Char messages update the controller; everything else is
// forwarded to the configured EventSink.
func (m *Manager) SaveReceivedMessages() {
	for _, ctrl := range m.controllers {
		for {
			msg, ok := ctrl.fromAP.TryReceive()
			if !ok {
				break
			}

			switch msg.Kind {
			case KindBootCompleted:
				ctrl.BootComplete()
			case KindChar:
				ctrl.ReceiveCharacter(msg.Rune())
			default:
				if m.cfg.EventSink != nil {
					m.cfg.EventSink(ctrl.apicID, msg)
				}
			}
		}
	}
}

// DeleteReceivedMessages drains the BSP-side mailbox of every controller
// and discards the messages.
func (m *Manager) DeleteReceivedMessages() {
	for _, ctrl := range m.controllers {
		for {
			if _, ok := ctrl.fromAP.TryReceive(); !ok {
				break
			}
		}
	}
}

// Broadcast sends msg to every initialized AP.
func (m *Manager) Broadcast(msg Message) *kernel.Error {
	for _, ctrl := range m.controllers {
		if ctrl.State() != Initialized {
			continue
		}

		if err := ctrl.Send(msg); err != nil {
			return err
		}
	}
	return nil
}

// Shutdown asks every initialized AP to halt.
func (m *Manager) Shutdown() *kernel.Error {
	return m.Broadcast(Message{Kind: KindHalt})
}

// Failed returns the controllers whose AP did not complete its boot.
func (m *Manager) Failed() []*Controller {
	var failed []*Controller
	for _, ctrl := range m.controllers {
		if ctrl.State() == Failed {
			failed = append(failed, ctrl)
		}
	}
	return failed
}

// Finalize writes the log of every AP to w, prefixing each line with the
// local APIC id of the AP.
func (m *Manager) Finalize(w io.Writer) {
	for _, ctrl := range m.controllers {
		log := ctrl.TrampolineLog() + ctrl.Log()
		if len(log) == 0 {
			continue
		}

		prefix := strconv.AppendUint([]byte("[ap "), uint64(ctrl.apicID), 10)
		pw := kfmt.PrefixWriter{Sink: w, Prefix: append(prefix, "] "...)}
		pw.Write([]byte(log))
		if !pw.Terminated() {
			pw.Write([]byte{'\n'})
		}
	}
}
