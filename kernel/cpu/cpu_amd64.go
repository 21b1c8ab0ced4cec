package cpu

const (
	// msrEFER is the extended feature enable register.
	msrEFER = uint32(0xc0000080)

	// eferNXE enables the no-execute page protection bit.
	eferNXE = uint64(1 << 11)

	// extendedLeafBase is the CPUID leaf reporting the highest supported
	// extended leaf.
	extendedLeafBase = uint32(0x80000000)

	// extendedFeatureLeaf reports, among others, NX support in EDX bit 20.
	extendedFeatureLeaf = uint32(0x80000001)
	edxNX               = uint32(1 << 20)
)

var (
	// The following functions are mocked by tests and are automatically
	// inlined by the compiler.
	cpuidFn    = ID
	readMSRFn  = ReadMSR
	writeMSRFn = WriteMSR
)

// EnableInterrupts enables interrupt handling.
func EnableInterrupts()

// DisableInterrupts disables interrupt handling.
func DisableInterrupts()

// Halt stops instruction execution.
func Halt()

// Pause hints the CPU that the caller is running a spin-wait loop.
func Pause()

// FlushTLBEntry flushes a TLB entry for a particular virtual address.
func FlushTLBEntry(virtAddr uintptr)

// SwitchPDT sets the root page table directory to point to the specified
// physical address and flushes the TLB.
func SwitchPDT(pdtPhysAddr uintptr)

// ActivePDT returns the physical address of the currently active page table.
func ActivePDT() uintptr

// ReadCR2 returns the value stored in the CR2 register.
func ReadCR2() uint64

// ID returns information about the CPU and its features. It is implemented
// as a CPUID instruction with EAX=leaf and ECX=0 and returns the values in
// EAX, EBX, ECX and EDX.
func ID(leaf uint32) (uint32, uint32, uint32, uint32)

// ReadMSR returns the value of a model specific register.
func ReadMSR(msr uint32) uint64

// WriteMSR stores value into a model specific register.
func WriteMSR(msr uint32, value uint64)

// LoadGDT loads the global descriptor table register from the 10-byte
// pseudo-descriptor stored at descriptorAddr.
func LoadGDT(descriptorAddr uintptr)

// LoadIDT loads the interrupt descriptor table register from the 10-byte
// pseudo-descriptor stored at descriptorAddr.
func LoadIDT(descriptorAddr uintptr)

// LoadTaskRegister loads the task register with a TSS selector.
func LoadTaskRegister(selector uint16)

// ReloadSegments reloads CS with code and DS, ES and SS with data. FS and
// GS are left untouched.
func ReloadSegments(code, data uint16)

// segmentsReloaded is the far-return target used by ReloadSegments.
func segmentsReloaded()

// IsIntel returns true if the code is running on an Intel processor.
func IsIntel() bool {
	_, ebx, ecx, edx := cpuidFn(0)
	return ebx == 0x756e6547 && // "Genu"
		edx == 0x49656e69 && // "ineI"
		ecx == 0x6c65746e // "ntel"
}

// HasNX returns true if the CPU supports no-execute page protection.
func HasNX() bool {
	if maxLeaf, _, _, _ := cpuidFn(extendedLeafBase); maxLeaf < extendedFeatureLeaf {
		return false
	}

	_, _, _, edx := cpuidFn(extendedFeatureLeaf)
	return edx&edxNX != 0
}

// EnableNX sets EFER.NXE if the CPU supports it and reports whether page
// table entries may use the no-execute bit.
func EnableNX() bool {
	if !HasNX() {
		return false
	}

	if efer := readMSRFn(msrEFER); efer&eferNXE == 0 {
		writeMSRFn(msrEFER, efer|eferNXE)
	}
	return true
}

// PortWriteByte writes a uint8 value to the requested port.
func PortWriteByte(port uint16, val uint8)

// PortReadByte reads a uint8 value from the requested port.
func PortReadByte(port uint16) uint8
