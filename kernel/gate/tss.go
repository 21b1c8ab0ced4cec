package gate

import (
	"encoding/binary"
	"unsafe"
)

const (
	// NumberOfInterruptStacks is the number of IST slots in a TSS.
	NumberOfInterruptStacks = 7

	// NumberOfStackPointers is the number of privilege-level stack
	// pointers (RSP0-RSP2) in a TSS.
	NumberOfStackPointers = 3

	tssRSPOffset   = 4
	tssISTOffset   = 36
	tssIOMapOffset = 102

	// taskStateSize is the size of the 64-bit TSS without the I/O map.
	taskStateSize = 104

	// ioBitmapSize covers all 65536 ports. A trailing 0xff byte is
	// required by the CPU.
	ioBitmapSize = 65536 / 8
)

// TaskState is a 64-bit task state segment followed by an I/O permission
// bitmap that denies access to every port from rings other than 0.
type TaskState struct {
	raw [taskStateSize + ioBitmapSize + 1]byte
}

// NewTaskState returns a TaskState with every I/O port denied.
func NewTaskState() *TaskState {
	tss := new(TaskState)
	binary.LittleEndian.PutUint16(tss.raw[tssIOMapOffset:], taskStateSize)
	for i := taskStateSize; i < len(tss.raw); i++ {
		tss.raw[i] = 0xff
	}
	return tss
}

// SetRSP sets the stack pointer loaded on a transition to privilege level
// idx (0-2).
func (t *TaskState) SetRSP(idx int, rsp uintptr) {
	binary.LittleEndian.PutUint64(t.raw[tssRSPOffset+8*idx:], uint64(rsp))
}

// RSP returns the stack pointer for privilege level idx.
func (t *TaskState) RSP(idx int) uintptr {
	return uintptr(binary.LittleEndian.Uint64(t.raw[tssRSPOffset+8*idx:]))
}

// SetIST sets interrupt stack table entry idx (1-7). IDT entries refer to
// these slots by index; 0 means "no IST".
func (t *TaskState) SetIST(idx int, rsp uintptr) {
	binary.LittleEndian.PutUint64(t.raw[tssISTOffset+8*(idx-1):], uint64(rsp))
}

// IST returns interrupt stack table entry idx (1-7).
func (t *TaskState) IST(idx int) uintptr {
	return uintptr(binary.LittleEndian.Uint64(t.raw[tssISTOffset+8*(idx-1):]))
}

// IOMapBase returns the offset of the I/O permission bitmap.
func (t *TaskState) IOMapBase() uint16 {
	return binary.LittleEndian.Uint16(t.raw[tssIOMapOffset:])
}

// PortAllowed reports whether the bitmap grants access to port.
func (t *TaskState) PortAllowed(port uint16) bool {
	return t.raw[taskStateSize+int(port>>3)]&(1<<(port&7)) == 0
}

// Address returns the linear address of the segment.
func (t *TaskState) Address() uintptr {
	return uintptr(unsafe.Pointer(&t.raw[0]))
}

// Size returns the segment size including the I/O bitmap.
func (t *TaskState) Size() uintptr {
	return uintptr(len(t.raw))
}
