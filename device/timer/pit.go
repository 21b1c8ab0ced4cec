// Package timer provides coarse busy-wait delays using channel 2 of the
// 8254 programmable interval timer. It is the time source for the INIT/SIPI
// sequence, before any local APIC timer is calibrated.
package timer

import (
	"io"
	"mpkernel/device"
	"mpkernel/kernel"
	"mpkernel/kernel/cpu"
	"mpkernel/kernel/kfmt"
)

const (
	// Frequency is the PIT input clock in Hz.
	Frequency = 1193182

	portChannel2 = uint16(0x42)
	portCommand  = uint16(0x43)
	portControl  = uint16(0x61)

	// channel 2, lobyte/hibyte access, mode 0 (interrupt on terminal count)
	cmdChannel2OneShot = 0xb0

	controlGate2   = 1 << 0
	controlSpeaker = 1 << 1
	controlOut2    = 1 << 5

	maxCount = 0xffff
)

var (
	// The following functions are mocked by tests and are automatically
	// inlined by the compiler.
	portWriteByteFn = cpu.PortWriteByte
	portReadByteFn  = cpu.PortReadByte
)

// PIT implements busy-wait delays on PIT channel 2.
type PIT struct{}

// DriverName returns the name of this driver.
func (*PIT) DriverName() string {
	return "pit8254"
}

// DriverVersion returns the version of this driver.
func (*PIT) DriverVersion() (uint16, uint16, uint16) {
	return 0, 0, 1
}

// DriverInit disconnects channel 2 from the speaker and stops it.
func (*PIT) DriverInit(w io.Writer) *kernel.Error {
	ctrl := portReadByteFn(portControl)
	portWriteByteFn(portControl, ctrl&^(controlGate2|controlSpeaker))
	kfmt.Fprintf(w, "channel 2 at %d Hz\n", Frequency)
	return nil
}

// Wait blocks for at least the given number of microseconds.
func (*PIT) Wait(microseconds uint64) {
	ticks := Ticks(microseconds)
	for ticks > 0 {
		count := ticks
		if count > maxCount {
			count = maxCount
		}
		oneShot(uint16(count))
		ticks -= count
	}
}

// Ticks converts microseconds to PIT ticks, rounding up.
func Ticks(microseconds uint64) uint64 {
	return (microseconds*Frequency + 999999) / 1000000
}

// oneShot counts down from count and spins until OUT2 goes high.
func oneShot(count uint16) {
	ctrl := portReadByteFn(portControl) &^ (controlGate2 | controlSpeaker)
	portWriteByteFn(portControl, ctrl)

	portWriteByteFn(portCommand, cmdChannel2OneShot)
	portWriteByteFn(portChannel2, uint8(count))
	portWriteByteFn(portChannel2, uint8(count>>8))

	// a rising gate edge starts the count
	portWriteByteFn(portControl, ctrl|controlGate2)
	for portReadByteFn(portControl)&controlOut2 == 0 {
	}
}

func probeForPIT() device.Driver {
	return &PIT{}
}

func init() {
	device.RegisterDriver(&device.DriverInfo{
		Order: device.DetectOrderBeforeACPI,
		Probe: probeForPIT,
	})
}
