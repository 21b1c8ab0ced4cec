package irq

import (
	"io"
	"mpkernel/kernel/kfmt"
)

// Registers contains a snapshot of all register values when an exception or
// interrupt occurs. The entry stubs push the general purpose registers, the
// vector and the error code (or 0) on top of the frame pushed by the CPU.
type Registers struct {
	RAX uint64
	RBX uint64
	RCX uint64
	RDX uint64
	RSI uint64
	RDI uint64
	RBP uint64
	R8  uint64
	R9  uint64
	R10 uint64
	R11 uint64
	R12 uint64
	R13 uint64
	R14 uint64
	R15 uint64

	// Vector is the IDT slot that was triggered.
	Vector uint64

	// Info contains the exception code for exceptions that push one.
	Info uint64

	// The return frame used by IRETQ
	RIP    uint64
	CS     uint64
	RFlags uint64
	RSP    uint64
	SS     uint64
}

type namedReg struct {
	name string
	val  uint64
}

// DumpTo outputs the register contents to w, two registers per line. A nil row
// emits an empty line between the general purpose registers and the frame.
func (r *Registers) DumpTo(w io.Writer) {
	rows := [][]namedReg{
		{{"RAX", r.RAX}, {"RBX", r.RBX}},
		{{"RCX", r.RCX}, {"RDX", r.RDX}},
		{{"RSI", r.RSI}, {"RDI", r.RDI}},
		{{"RBP", r.RBP}},
		{{"R8 ", r.R8}, {"R9 ", r.R9}},
		{{"R10", r.R10}, {"R11", r.R11}},
		{{"R12", r.R12}, {"R13", r.R13}},
		{{"R14", r.R14}, {"R15", r.R15}},
		nil,
		{{"RIP", r.RIP}, {"CS ", r.CS}},
		{{"RSP", r.RSP}, {"SS ", r.SS}},
		{{"RFL", r.RFlags}},
	}

	for _, row := range rows {
		for i, reg := range row {
			if i != 0 {
				kfmt.Fprintf(w, " ")
			}
			kfmt.Fprintf(w, "%s = %16x", reg.name, reg.val)
		}
		kfmt.Fprintf(w, "\n")
	}
}
