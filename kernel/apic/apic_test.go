package apic

import (
	"fmt"
	"runtime"
	"testing"
)

// fakeRegisters records ICR writes as events and reports IPIs as pending
// for a configurable number of polls.
type fakeRegisters struct {
	regs        map[uint32]uint32
	events      *[]string
	pendingFor  int
	pendingLeft int
}

func newFakeRegisters(events *[]string) *fakeRegisters {
	return &fakeRegisters{regs: make(map[uint32]uint32), events: events}
}

func (r *fakeRegisters) Read(offset uint32) uint32 {
	v := r.regs[offset]
	if offset == regICRLow {
		if r.pendingLeft > 0 {
			r.pendingLeft--
			return v | icrDeliveryPending
		}
		if r.pendingFor < 0 {
			return v | icrDeliveryPending
		}
	}
	return v
}

func (r *fakeRegisters) Write(offset uint32, value uint32) {
	r.regs[offset] = value
	if offset == regICRLow {
		cmd := DecodeInterruptCommand(value, r.regs[regICRHigh])
		*r.events = append(*r.events, fmt.Sprintf("ipi mode=%d vec=0x%x dst=%d", cmd.DeliveryMode, cmd.Vector, cmd.Destination))
		r.pendingLeft = r.pendingFor
	}
}

type fakeTimer struct {
	events *[]string
}

func (t fakeTimer) Wait(us uint64) {
	*t.events = append(*t.events, fmt.Sprintf("wait %d", us))
}

func TestInterruptCommand(t *testing.T) {
	specs := []struct {
		cmd     InterruptCommand
		expLow  uint32
		expHigh uint32
	}{
		{
			InterruptCommand{DeliveryMode: DeliveryInit, Assert: true, LevelTriggered: true, Destination: 3},
			0x0000c500,
			0x03000000,
		},
		{
			InterruptCommand{Vector: 0x08, DeliveryMode: DeliveryStartup, Assert: true, Destination: 1},
			0x00004608,
			0x01000000,
		},
		{
			InterruptCommand{Vector: 0x40, Assert: true, Shorthand: ShorthandAllExcludingSelf},
			0x000c4040,
			0,
		},
		{
			InterruptCommand{Vector: 0x20, LogicalDestination: true, Destination: 0xff},
			0x00000820,
			0xff000000,
		},
	}

	for specIndex, spec := range specs {
		if got := spec.cmd.Low(); got != spec.expLow {
			t.Errorf("[spec %d] expected low dword 0x%08x; got 0x%08x", specIndex, spec.expLow, got)
		}
		if got := spec.cmd.High(); got != spec.expHigh {
			t.Errorf("[spec %d] expected high dword 0x%08x; got 0x%08x", specIndex, spec.expHigh, got)
		}
		if got := DecodeInterruptCommand(spec.cmd.Low(), spec.cmd.High()); got != spec.cmd {
			t.Errorf("[spec %d] expected decoded command %+v; got %+v", specIndex, spec.cmd, got)
		}
	}
}

func TestStartupSequence(t *testing.T) {
	defer func(origPause func()) { pauseFn = origPause }(pauseFn)
	pauseFn = runtime.Gosched

	var events []string
	regs := newFakeRegisters(&events)
	regs.pendingFor = 3
	lapic := New(regs, fakeTimer{&events})

	if err := lapic.SendInit(2); err != nil {
		t.Fatal(err)
	}
	if err := lapic.SendStartup(2, 0x8000); err != nil {
		t.Fatal(err)
	}

	exp := []string{
		"ipi mode=5 vec=0x0 dst=2",
		"wait 10000",
		"ipi mode=6 vec=0x8 dst=2",
		"wait 200",
		"ipi mode=6 vec=0x8 dst=2",
	}

	if len(events) != len(exp) {
		t.Fatalf("expected events:\n%v\ngot:\n%v", exp, events)
	}
	for i := range exp {
		if events[i] != exp[i] {
			t.Errorf("event %d: expected %q; got %q", i, exp[i], events[i])
		}
	}

	if regs.pendingLeft != 0 {
		t.Fatal("expected Send to poll until the IPI was delivered")
	}
}

func TestSendStartupValidation(t *testing.T) {
	var events []string
	lapic := New(newFakeRegisters(&events), fakeTimer{&events})

	for specIndex, entry := range []uintptr{0x8010, 0x100000, 0x200000} {
		if err := lapic.SendStartup(1, entry); err != errInvalidStartupAddress {
			t.Errorf("[spec %d] expected errInvalidStartupAddress; got %v", specIndex, err)
		}
	}

	if len(events) != 0 {
		t.Fatalf("expected no IPIs to be sent; got %v", events)
	}
}

func TestSendDeliveryTimeout(t *testing.T) {
	defer func(origPause func()) { pauseFn = origPause }(pauseFn)
	pauseFn = runtime.Gosched

	var events []string
	regs := newFakeRegisters(&events)
	regs.pendingFor = -1
	lapic := New(regs, fakeTimer{&events})
	lapic.DeliveryTimeout = 16

	if err := lapic.SendInterrupt(1, 0x40); err != errDeliveryTimeout {
		t.Fatalf("expected errDeliveryTimeout; got %v", err)
	}
}

func TestIDAndEOI(t *testing.T) {
	var events []string
	regs := newFakeRegisters(&events)
	regs.regs[regID] = 5 << 24
	regs.regs[regEOI] = 0xdead
	lapic := New(regs, fakeTimer{&events})

	if got := lapic.ID(); got != 5 {
		t.Fatalf("expected APIC id 5; got %d", got)
	}

	lapic.EndOfInterrupt()
	if regs.regs[regEOI] != 0 {
		t.Fatal("expected EOI register to be written with 0")
	}

	lapic.Enable(0xff)
	if got := regs.regs[regSpurious]; got != 0x1ff {
		t.Fatalf("expected spurious register 0x1ff; got 0x%x", got)
	}
}

func TestBaseAddress(t *testing.T) {
	defer func(origReadMSR func(uint32) uint64) { readMSRFn = origReadMSR }(readMSRFn)

	readMSRFn = func(msr uint32) uint64 {
		if msr != msrAPICBase {
			t.Fatalf("unexpected MSR 0x%x", msr)
		}
		// enabled, BSP
		return uint64(DefaultBase) | 1<<11 | 1<<8
	}

	if got := BaseAddress(); got != DefaultBase {
		t.Fatalf("expected base 0x%x; got 0x%x", DefaultBase, got)
	}
}
