package mp

import "encoding/binary"

// ArgumentsSize is the packed size of Arguments.
const ArgumentsSize = 8*8 + 2 + 1

// Arguments is the record the trampoline hands to the kernel entry point of
// an AP. It is stored packed and little-endian in the last ArgumentsSize
// bytes of the trampoline range.
type Arguments struct {
	// CR3 points at the low-memory copy of the AP's top-level table.
	CR3 uint64

	KernelEntry      uint64
	KernelStackFloor uint64
	BSPHeapStart     uint64
	HeapStart        uint64
	HeapSize         uint64

	// Receiver is the address of the mailbox the AP reads from.
	Receiver uint64

	// Sender is the address of the mailbox the AP writes to.
	Sender uint64

	SS             uint16
	BSPLocalAPICID uint8
}

// Encode writes the packed record to b, which must hold at least
// ArgumentsSize bytes.
func (a *Arguments) Encode(b []byte) {
	_ = b[ArgumentsSize-1]

	le := binary.LittleEndian
	le.PutUint64(b[0:], a.CR3)
	le.PutUint64(b[8:], a.KernelEntry)
	le.PutUint64(b[16:], a.KernelStackFloor)
	le.PutUint64(b[24:], a.BSPHeapStart)
	le.PutUint64(b[32:], a.HeapStart)
	le.PutUint64(b[40:], a.HeapSize)
	le.PutUint64(b[48:], a.Receiver)
	le.PutUint64(b[56:], a.Sender)
	le.PutUint16(b[64:], a.SS)
	b[66] = a.BSPLocalAPICID
}

// DecodeArguments reads a packed record from b.
func DecodeArguments(b []byte) Arguments {
	_ = b[ArgumentsSize-1]

	le := binary.LittleEndian
	return Arguments{
		CR3:              le.Uint64(b[0:]),
		KernelEntry:      le.Uint64(b[8:]),
		KernelStackFloor: le.Uint64(b[16:]),
		BSPHeapStart:     le.Uint64(b[24:]),
		HeapStart:        le.Uint64(b[32:]),
		HeapSize:         le.Uint64(b[40:]),
		Receiver:         le.Uint64(b[48:]),
		Sender:           le.Uint64(b[56:]),
		SS:               le.Uint16(b[64:]),
		BSPLocalAPICID:   b[66],
	}
}
