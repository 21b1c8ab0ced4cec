package mp

import (
	"mpkernel/kernel"
	"mpkernel/kernel/mm"
	"unicode/utf8"
	"unsafe"
)

const (
	// TrampolineBase is the default physical address of the trampoline.
	// SIPI vectors can only encode page-aligned addresses below 1MiB.
	TrampolineBase = uintptr(0x8000)

	// TableOffset is the offset inside the trampoline range where the
	// top-level page table copy is placed. The trampoline binary must fit
	// below it.
	TableOffset = uintptr(0x1000)

	// realModeLimit is the first address not reachable by a SIPI.
	realModeLimit = uintptr(1 << 20)

	// minScratchStack is the smallest scratch stack AllocatePages accepts.
	minScratchStack = uintptr(512)
)

var (
	// physMemFn returns a writable view of a physical range. Low memory is
	// identity mapped by the firmware.
	physMemFn = func(r mm.Range) []byte {
		return (*[realModeLimit]byte)(unsafe.Pointer(r.Start))[:r.Size():r.Size()]
	}

	errInvalidTrampolineRange = &kernel.Error{Module: "mp", Message: "trampoline range must be page aligned, below 1MiB and large enough for the table copy"}
	errTrampolineTooLarge     = &kernel.Error{Module: "mp", Message: "trampoline binary overlaps the page table copy"}
	errMalformedLog           = &kernel.Error{Module: "mp", Message: "trampoline log is not valid UTF-8"}
)

// AllocatePages reserves the physical range [base, stackFloor+1) for the
// trampoline, the page table copy and the scratch stack.
func AllocatePages(base, stackFloor uintptr) (mm.Range, *kernel.Error) {
	r := mm.Range{Start: base, End: stackFloor + 1}
	if !r.PageAligned() || r.End > realModeLimit || r.End <= r.Start ||
		r.Size() < TableOffset+mm.PageSize+minScratchStack+ArgumentsSize {
		return mm.Range{}, errInvalidTrampolineRange
	}

	return r, nil
}

// Loader stages the trampoline for one AP bring-up attempt. The range is
// laid out as follows:
//
//	[Start, Start+TableOffset)          trampoline binary
//	[Start+TableOffset, +PageSize)      copy of the AP's top-level table
//	[..., End-ArgumentsSize)            scratch stack; its base holds the log
//	[End-ArgumentsSize, End)            Arguments
type Loader struct {
	region mm.Range
	mem    []byte
}

// NewLoader copies binary to the start of region and zeroes the rest.
func NewLoader(binary []byte, region mm.Range) (*Loader, *kernel.Error) {
	if uintptr(len(binary)) > TableOffset {
		return nil, errTrampolineTooLarge
	}

	l := &Loader{region: region, mem: physMemFn(region)}
	copy(l.mem, binary)
	for i := len(binary); i < len(l.mem); i++ {
		l.mem[i] = 0
	}

	return l, nil
}

// Initialize prepares the loader for starting the AP managed by ctrl. The
// scratch stack is cleared, the controller's top-level table is copied into
// the range and the Arguments are written with CR3 pointing at that copy.
// Calling Initialize again re-arms the loader.
func (l *Loader) Initialize(ctrl *Controller, bspHeapStart uintptr, bspLocalAPICID uint8) *kernel.Error {
	stack := l.stack()
	for i := range stack {
		stack[i] = 0
	}

	copy(l.mem[TableOffset:TableOffset+mm.PageSize], ctrl.PageTable().Bytes())

	args := ctrl.arguments(bspHeapStart, bspLocalAPICID)
	args.CR3 = uint64(l.region.Start + TableOffset)
	args.Encode(l.mem[len(l.mem)-ArgumentsSize:])

	return nil
}

// EntryPoint returns the physical address the SIPI must target.
func (l *Loader) EntryPoint() uintptr {
	return l.region.Start
}

// Vector returns the SIPI vector for EntryPoint.
func (l *Loader) Vector() uint8 {
	return uint8(l.region.Start >> 12)
}

// Range returns the physical range used by the loader.
func (l *Loader) Range() mm.Range {
	return l.region
}

// Arguments decodes the record currently stored in the range.
func (l *Loader) Arguments() Arguments {
	return DecodeArguments(l.mem[len(l.mem)-ArgumentsSize:])
}

// Log returns the NUL-terminated text the trampoline wrote at the base of
// the scratch stack.
func (l *Loader) Log() (string, *kernel.Error) {
	stack := l.stack()

	n := 0
	for n < len(stack) && stack[n] != 0 {
		n++
	}

	if !utf8.Valid(stack[:n]) {
		return "", errMalformedLog
	}
	return string(stack[:n]), nil
}

func (l *Loader) stack() []byte {
	return l.mem[TableOffset+mm.PageSize : len(l.mem)-ArgumentsSize]
}
