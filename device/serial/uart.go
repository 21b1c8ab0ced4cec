// Package serial implements a driver for the 16550-compatible UART used as
// the BSP console. All output, including the tagged AP logs, ends up here.
package serial

import (
	"io"
	"mpkernel/device"
	"mpkernel/kernel"
	"mpkernel/kernel/cpu"
	"mpkernel/kernel/kfmt"
	"mpkernel/kernel/sync"
)

// COM1 is the I/O port base of the first serial port.
const COM1 = uint16(0x3f8)

// Register offsets relative to the port base.
const (
	regData         = 0
	regIntEnable    = 1
	regFIFOControl  = 2
	regLineControl  = 3
	regModemControl = 4
	regLineStatus   = 5
	regScratch      = 7

	lineControlDLAB = 1 << 7
	lineControl8N1  = 0x03
	fifoEnableClear = 0xc7
	modemDTRRTSOut2 = 0x0b
	lineStatusTHRE  = 1 << 5

	// 115200 / divisor baud
	defaultDivisor = 1

	scratchPattern = 0xae
)

var (
	// The following functions are mocked by tests and are automatically
	// inlined by the compiler.
	portWriteByteFn = cpu.PortWriteByte
	portReadByteFn  = cpu.PortReadByte

	errTransmitTimeout = &kernel.Error{Module: "serial", Message: "timed out waiting for the transmit holding register"}
)

// UART drives a single serial port. Writes from several cores are
// serialized with a spinlock so lines are never interleaved mid-byte.
type UART struct {
	base uint16
	lock sync.Spinlock

	// SpinLimit bounds the wait for the transmit holding register. Zero
	// waits forever.
	SpinLimit uint32
}

// NewUART returns a driver for the port at base.
func NewUART(base uint16) *UART {
	return &UART{base: base, SpinLimit: 1 << 16}
}

// DriverName returns the name of this driver.
func (*UART) DriverName() string {
	return "uart16550"
}

// DriverVersion returns the version of this driver.
func (*UART) DriverVersion() (uint16, uint16, uint16) {
	return 0, 0, 1
}

// DriverInit programs the port for 115200 8N1 with FIFOs enabled.
func (u *UART) DriverInit(w io.Writer) *kernel.Error {
	portWriteByteFn(u.base+regIntEnable, 0)
	portWriteByteFn(u.base+regLineControl, lineControlDLAB)
	portWriteByteFn(u.base+regData, defaultDivisor&0xff)
	portWriteByteFn(u.base+regIntEnable, defaultDivisor>>8)
	portWriteByteFn(u.base+regLineControl, lineControl8N1)
	portWriteByteFn(u.base+regFIFOControl, fifoEnableClear)
	portWriteByteFn(u.base+regModemControl, modemDTRRTSOut2)

	kfmt.Fprintf(w, "port 0x%x, 115200 8N1\n", u.base)
	return nil
}

// Write sends p to the port translating "\n" to "\r\n".
func (u *UART) Write(p []byte) (int, error) {
	u.lock.Acquire()
	defer u.lock.Release()

	for i, b := range p {
		if b == '\n' {
			if err := u.putByte('\r'); err != nil {
				return i, err
			}
		}
		if err := u.putByte(b); err != nil {
			return i, err
		}
	}

	return len(p), nil
}

func (u *UART) putByte(b byte) *kernel.Error {
	for spins := uint32(0); portReadByteFn(u.base+regLineStatus)&lineStatusTHRE == 0; spins++ {
		if u.SpinLimit != 0 && spins >= u.SpinLimit {
			return errTransmitTimeout
		}
	}

	portWriteByteFn(u.base+regData, b)
	return nil
}

// present checks for a UART at base using its scratch register.
func present(base uint16) bool {
	portWriteByteFn(base+regScratch, scratchPattern)
	return portReadByteFn(base+regScratch) == scratchPattern
}

func probeForUART() device.Driver {
	if !present(COM1) {
		return nil
	}
	return NewUART(COM1)
}

func init() {
	device.RegisterDriver(&device.DriverInfo{
		Order: device.DetectOrderEarly,
		Probe: probeForUART,
	})
}
