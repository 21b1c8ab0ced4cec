package kmem

import (
	"mpkernel/kernel"
	"mpkernel/kernel/mm"
	"mpkernel/kernel/mm/vmm"
)

// Stack is a writable, non-executable ContinuousPages used as a kernel or
// interrupt stack. Stacks grow down from Floor.
type Stack struct {
	ContinuousPages
	floor uintptr
}

// NewStack maps pages pages ending right above floor so that floor is the
// highest address of the stack and its initial stack pointer. floor+1 must
// be page aligned.
func NewStack(pdt *vmm.PageDirectoryTable, floor uintptr, pages uintptr) (*Stack, *kernel.Error) {
	top := floor + 1
	if pages == 0 || top&(mm.PageSize-1) != 0 || top < pages*mm.PageSize {
		return nil, errInvalidRange
	}

	cp, err := NewContinuousPages(pdt, mm.Range{Start: top - pages*mm.PageSize, End: top}, true, false)
	if err != nil {
		return nil, err
	}

	return &Stack{ContinuousPages: *cp, floor: floor}, nil
}

// Floor returns the initial stack pointer value.
func (s *Stack) Floor() uintptr { return s.floor }
