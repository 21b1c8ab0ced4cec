package irq

import "unsafe"

// Entry stubs implemented in assembly. Each one saves the registers of the
// interrupted context and calls Dispatch.
func entryDivideByZero()
func entryNMI()
func entryInvalidOpcode()
func entryDoubleFault()
func entryInvalidTSS()
func entryStackSegmentFault()
func entryGPF()
func entryPageFault()
func entryMachineCheck()
func entryMailboxNotify()
func entrySpurious()

// commonEntry is the shared register save/restore path jumped to by every
// entry stub.
func commonEntry()

var entryStubs = map[InterruptNumber]func(){
	DivideByZero:       entryDivideByZero,
	NMI:                entryNMI,
	InvalidOpcode:      entryInvalidOpcode,
	DoubleFault:        entryDoubleFault,
	InvalidTSS:         entryInvalidTSS,
	StackSegmentFault:  entryStackSegmentFault,
	GPFException:       entryGPF,
	PageFaultException: entryPageFault,
	MachineCheck:       entryMachineCheck,
	MailboxNotify:      entryMailboxNotify,
	Spurious:           entrySpurious,
}

// Vectors returns the interrupt numbers that have an entry stub.
func Vectors() []InterruptNumber {
	vectors := make([]InterruptNumber, 0, len(entryStubs))
	for num := 0; num < 256; num++ {
		if _, ok := entryStubs[InterruptNumber(num)]; ok {
			vectors = append(vectors, InterruptNumber(num))
		}
	}
	return vectors
}

// EntryPoint returns the address of the entry stub for num or 0 if the
// vector has none.
func EntryPoint(num InterruptNumber) uintptr {
	fn, ok := entryStubs[num]
	if !ok {
		return 0
	}

	// A func value points to a word holding the code address.
	return **(**uintptr)(unsafe.Pointer(&fn))
}
