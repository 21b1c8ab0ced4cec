// Package apic drives the local APIC of the calling core: identification,
// end-of-interrupt signalling and inter-processor interrupts.
package apic

import (
	"mpkernel/kernel"
	"mpkernel/kernel/cpu"
	"mpkernel/kernel/sync"
	"unsafe"
)

const (
	// DefaultBase is the physical address of the local APIC register page
	// unless relocated through IA32_APIC_BASE.
	DefaultBase = uintptr(0xfee00000)

	regID       = 0x20
	regEOI      = 0xb0
	regSpurious = 0xf0
	regICRLow   = 0x300
	regICRHigh  = 0x310

	spuriousEnable = 1 << 8

	// startupAddressLimit is the first address a SIPI vector cannot encode.
	startupAddressLimit = 1 << 20

	msrAPICBase      = 0x1b
	apicBaseAddrMask = 0x000ffffffffff000
)

var (
	// The following functions are mocked by tests and are automatically
	// inlined by the compiler.
	pauseFn   = cpu.Pause
	readMSRFn = cpu.ReadMSR

	errDeliveryTimeout       = &kernel.Error{Module: "apic", Message: "timed out waiting for IPI delivery"}
	errInvalidStartupAddress = &kernel.Error{Module: "apic", Message: "startup address must be page aligned and below 1MiB"}
)

// Registers provides access to the 32-bit local APIC registers.
type Registers interface {
	Read(offset uint32) uint32
	Write(offset uint32, value uint32)
}

// Timer provides the coarse delays required by the INIT/SIPI sequence.
type Timer interface {
	Wait(microseconds uint64)
}

// BaseAddress returns the physical address of the register page of the
// calling core's local APIC as programmed in IA32_APIC_BASE.
func BaseAddress() uintptr {
	return uintptr(readMSRFn(msrAPICBase) & apicBaseAddrMask)
}

type mmioRegisters struct {
	base uintptr
}

func (r mmioRegisters) Read(offset uint32) uint32 {
	return *(*uint32)(unsafe.Pointer(r.base + uintptr(offset)))
}

func (r mmioRegisters) Write(offset uint32, value uint32) {
	*(*uint32)(unsafe.Pointer(r.base + uintptr(offset))) = value
}

// LocalAPIC issues IPIs through the interrupt command register. Sends are
// serialized so ICR writes never overlap.
type LocalAPIC struct {
	regs  Registers
	timer Timer
	lock  sync.Spinlock

	// InitDelay is the settle time after INIT in microseconds.
	InitDelay uint64

	// StartupDelay is the pause between SIPIs in microseconds.
	StartupDelay uint64

	// StartupAttempts is the number of SIPIs sent per SendStartup call.
	StartupAttempts int

	// DeliveryTimeout bounds the number of delivery-status polls. Zero
	// polls until the IPI is accepted.
	DeliveryTimeout uint64
}

// New returns a LocalAPIC that accesses its registers through regs and
// waits using timer.
func New(regs Registers, timer Timer) *LocalAPIC {
	return &LocalAPIC{
		regs:            regs,
		timer:           timer,
		InitDelay:       10000,
		StartupDelay:    200,
		StartupAttempts: 2,
	}
}

// NewMMIO returns a LocalAPIC for the register page mapped at base.
func NewMMIO(base uintptr, timer Timer) *LocalAPIC {
	return New(mmioRegisters{base: base}, timer)
}

// ID returns the local APIC id of the calling core.
func (l *LocalAPIC) ID() uint8 {
	return uint8(l.regs.Read(regID) >> 24)
}

// Enable software-enables the local APIC and sets the spurious vector.
func (l *LocalAPIC) Enable(spuriousVector uint8) {
	l.regs.Write(regSpurious, spuriousEnable|uint32(spuriousVector))
}

// EndOfInterrupt acknowledges the interrupt currently being serviced.
func (l *LocalAPIC) EndOfInterrupt() {
	l.regs.Write(regEOI, 0)
}

// Send writes cmd to the ICR and waits until the APIC reports the IPI as
// delivered.
func (l *LocalAPIC) Send(cmd InterruptCommand) *kernel.Error {
	l.lock.Acquire()
	defer l.lock.Release()

	// Writing the low dword triggers the IPI so it goes last.
	l.regs.Write(regICRHigh, cmd.High())
	l.regs.Write(regICRLow, cmd.Low())

	for spins := uint64(0); l.regs.Read(regICRLow)&icrDeliveryPending != 0; spins++ {
		if l.DeliveryTimeout != 0 && spins >= l.DeliveryTimeout {
			return errDeliveryTimeout
		}
		pauseFn()
	}

	return nil
}

// SendInit sends an INIT IPI to apicID and waits for InitDelay.
func (l *LocalAPIC) SendInit(apicID uint8) *kernel.Error {
	err := l.Send(InterruptCommand{
		DeliveryMode:   DeliveryInit,
		Assert:         true,
		LevelTriggered: true,
		Shorthand:      ShorthandNone,
		Destination:    apicID,
	})
	if err != nil {
		return err
	}

	l.timer.Wait(l.InitDelay)
	return nil
}

// SendStartup sends StartupAttempts SIPIs pointing at entry to apicID,
// waiting StartupDelay between them. entry must be page aligned and below
// 1MiB.
func (l *LocalAPIC) SendStartup(apicID uint8, entry uintptr) *kernel.Error {
	if entry&0xfff != 0 || entry >= startupAddressLimit {
		return errInvalidStartupAddress
	}

	for attempt := 0; attempt < l.StartupAttempts; attempt++ {
		if attempt != 0 {
			l.timer.Wait(l.StartupDelay)
		}

		err := l.Send(InterruptCommand{
			Vector:       uint8(entry >> 12),
			DeliveryMode: DeliveryStartup,
			Assert:       true,
			Destination:  apicID,
		})
		if err != nil {
			return err
		}
	}

	return nil
}

// SendInterrupt sends a fixed IPI with the given vector to apicID.
func (l *LocalAPIC) SendInterrupt(apicID uint8, vector uint8) *kernel.Error {
	return l.Send(InterruptCommand{
		Vector:       vector,
		DeliveryMode: DeliveryFixed,
		Assert:       true,
		Destination:  apicID,
	})
}
