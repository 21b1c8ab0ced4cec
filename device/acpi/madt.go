package acpi

import (
	"encoding/binary"
	"mpkernel/device/acpi/table"
	"mpkernel/kernel"
	"unsafe"
)

// Processor describes a local APIC record of the MADT.
type Processor struct {
	ProcessorID uint8
	APICID      uint8

	// Enabled is set if the processor is ready for use.
	Enabled bool

	// OnlineCapable is set if a disabled processor can be brought online
	// later.
	OnlineCapable bool
}

// Topology lists the processors and the local APIC base reported by the
// MADT.
type Topology struct {
	LocalAPICAddress uintptr
	Processors       []Processor
}

// Topology walks the MADT.
func (drv *Driver) Topology() (*Topology, *kernel.Error) {
	header := drv.LookupTable(madtSignature)
	if header == nil {
		return nil, errMissingMADT
	}

	return ParseMADT(tableBytes(header))
}

// tableBytes returns the contents of the table starting at header.
func tableBytes(header *table.SDTHeader) []byte {
	length := int(header.Length)
	return (*[1 << 20]byte)(unsafe.Pointer(header))[:length:length]
}

// ParseMADT decodes the processor records of a raw MADT. A 64-bit local
// APIC address override replaces the 32-bit address from the table header.
func ParseMADT(raw []byte) (*Topology, *kernel.Error) {
	sizeofMADT := int(unsafe.Sizeof(table.MADT{}))
	if len(raw) < sizeofMADT {
		return nil, errMalformedSDT
	}

	le := binary.LittleEndian
	madtLength := int(le.Uint32(raw[4:]))
	if madtLength < sizeofMADT || madtLength > len(raw) {
		return nil, errMalformedSDT
	}
	raw = raw[:madtLength]

	topo := &Topology{
		LocalAPICAddress: uintptr(le.Uint32(raw[unsafe.Offsetof(table.MADT{}.LocalControllerAddress):])),
	}

	for offset := sizeofMADT; offset < len(raw); {
		if offset+2 > len(raw) {
			return nil, errMalformedMADT
		}

		entryType, entryLen := table.MADTEntryType(raw[offset]), int(raw[offset+1])
		if entryLen < 2 || offset+entryLen > len(raw) {
			return nil, errMalformedMADT
		}
		entry := raw[offset : offset+entryLen]

		switch entryType {
		case table.MADTEntryTypeLocalAPIC:
			if entryLen < table.MADTEntryLocalAPICSize {
				return nil, errMalformedMADT
			}
			flags := le.Uint32(entry[4:])
			topo.Processors = append(topo.Processors, Processor{
				ProcessorID:   entry[2],
				APICID:        entry[3],
				Enabled:       flags&table.LocalAPICEnabled != 0,
				OnlineCapable: flags&table.LocalAPICOnlineCapable != 0,
			})
		case table.MADTEntryTypeLocalAPICAddrOverride:
			if entryLen < table.MADTEntryLocalAPICAddrOverrideSize {
				return nil, errMalformedMADT
			}
			topo.LocalAPICAddress = uintptr(le.Uint64(entry[4:]))
		}

		offset += entryLen
	}

	return topo, nil
}
