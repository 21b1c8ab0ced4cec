// Package acpi locates the ACPI tables handed over by the firmware and
// extracts the processor topology from the MADT.
package acpi

import (
	"io"
	"mpkernel/device"
	"mpkernel/device/acpi/table"
	"mpkernel/kernel"
	"mpkernel/kernel/kfmt"
	"unsafe"
)

const (
	acpiRev1 uint8 = 0
)

var (
	errMissingRSDP   = &kernel.Error{Module: "acpi", Message: "could not locate ACPI RSDP"}
	errInvalidRSDP   = &kernel.Error{Module: "acpi", Message: "root pointer does not carry the RSDP signature"}
	errMalformedSDT  = &kernel.Error{Module: "acpi", Message: "system descriptor table is shorter than its header"}
	errMissingMADT   = &kernel.Error{Module: "acpi", Message: "no MADT found"}
	errMalformedMADT = &kernel.Error{Module: "acpi", Message: "MADT record extends past the end of the table"}

	// RDSP must be located in the physical memory region 0xe0000 to 0xfffff
	// unless the boot stage passes its address.
	rsdpLocationLow uintptr = 0xe0000
	rsdpLocationHi  uintptr = 0xfffff
	rsdpAlignment   uintptr = 16

	// rootPointer is the RSDP address reported by the boot stage.
	rootPointer uintptr

	rsdpSignature = [8]byte{'R', 'S', 'D', ' ', 'P', 'T', 'R', ' '}
	madtSignature = "APIC"
)

// SetRootPointer records the RSDP address reported by the firmware. When it
// is not set, the probe scans the BIOS area.
func SetRootPointer(addr uintptr) {
	rootPointer = addr
}

// Driver exposes the ACPI tables. The firmware identity maps them so they
// are accessed in place.
type Driver struct {
	// rsdtAddr holds the address to the root system descriptor table.
	rsdtAddr uintptr

	// useXSDT specifies if the driver must use the XSDT or the RSDT table.
	useXSDT bool

	// tableMap allows the driver to lookup an ACPI table header by the
	// table name.
	tableMap map[string]*table.SDTHeader
}

// DriverInit initializes this driver.
func (drv *Driver) DriverInit(w io.Writer) *kernel.Error {
	if err := drv.enumerateTables(); err != nil {
		return err
	}

	drv.printTableInfo(w)

	return nil
}

// DriverName returns the name of this driver.
func (*Driver) DriverName() string {
	return "ACPI"
}

// DriverVersion returns the version of this driver.
func (*Driver) DriverVersion() (uint16, uint16, uint16) {
	return 0, 1, 0
}

// LookupTable returns the header of the table with the given signature or
// nil if the firmware did not provide one.
func (drv *Driver) LookupTable(name string) *table.SDTHeader {
	return drv.tableMap[name]
}

func (drv *Driver) printTableInfo(w io.Writer) {
	for name, header := range drv.tableMap {
		kfmt.Fprintf(w, "%s at 0x%16x %6x (%6s %8s)\n",
			name,
			uintptr(unsafe.Pointer(header)),
			header.Length,
			string(header.OEMID[:]),
			string(header.OEMTableID[:]),
		)
	}
}

// enumerateTables records the header of every table listed by the RSDT or
// XSDT.
func (drv *Driver) enumerateTables() *kernel.Error {
	header := (*table.SDTHeader)(unsafe.Pointer(drv.rsdtAddr))
	sizeofHeader := unsafe.Sizeof(table.SDTHeader{})
	if uintptr(header.Length) < sizeofHeader {
		return errMalformedSDT
	}

	drv.tableMap = make(map[string]*table.SDTHeader)

	var (
		payloadLen   = uintptr(header.Length) - sizeofHeader
		sdtAddresses []uintptr
	)

	// RSDT uses 4-byte long pointers whereas the XSDT uses 8-byte long.
	switch drv.useXSDT {
	case true:
		sdtAddresses = make([]uintptr, payloadLen>>3)
		for curPtr, i := drv.rsdtAddr+sizeofHeader, 0; i < len(sdtAddresses); curPtr, i = curPtr+8, i+1 {
			sdtAddresses[i] = uintptr(*(*uint64)(unsafe.Pointer(curPtr)))
		}
	default:
		sdtAddresses = make([]uintptr, payloadLen>>2)
		for curPtr, i := drv.rsdtAddr+sizeofHeader, 0; i < len(sdtAddresses); curPtr, i = curPtr+4, i+1 {
			sdtAddresses[i] = uintptr(*(*uint32)(unsafe.Pointer(curPtr)))
		}
	}

	for _, addr := range sdtAddresses {
		if addr == 0 {
			continue
		}

		header = (*table.SDTHeader)(unsafe.Pointer(addr))
		drv.tableMap[string(header.Signature[:])] = header
	}

	return nil
}

// locateRSDT returns the physical address of the RSDT, or of the XSDT if the
// system supports ACPI 2.0+. It uses the root pointer reported by the
// firmware and falls back to scanning [rsdpLocationLow, rsdpLocationHi].
func locateRSDT() (uintptr, bool, *kernel.Error) {
	if rootPointer != 0 {
		if !hasRSDPSignature(rootPointer) {
			return 0, false, errInvalidRSDP
		}
		rsdtAddr, useXSDT := readRSDP(rootPointer)
		return rsdtAddr, useXSDT, nil
	}

	// The RSDP should be aligned on a 16-byte boundary
	for curPtr := rsdpLocationLow; curPtr < rsdpLocationHi; curPtr += rsdpAlignment {
		if hasRSDPSignature(curPtr) {
			rsdtAddr, useXSDT := readRSDP(curPtr)
			return rsdtAddr, useXSDT, nil
		}
	}

	return 0, false, errMissingRSDP
}

func hasRSDPSignature(addr uintptr) bool {
	rsdp := (*table.RSDPDescriptor)(unsafe.Pointer(addr))
	return rsdp.Signature == rsdpSignature
}

func readRSDP(addr uintptr) (uintptr, bool) {
	rsdp := (*table.RSDPDescriptor)(unsafe.Pointer(addr))
	if rsdp.Revision == acpiRev1 {
		return uintptr(rsdp.RSDTAddr), false
	}

	// System uses ACPI revision > 1 and provides an extended RSDP
	// which can be accessed at the same place.
	rsdp2 := (*table.ExtRSDPDescriptor)(unsafe.Pointer(addr))
	return uintptr(rsdp2.XSDTAddr), true
}

func probeForACPI() device.Driver {
	if rsdtAddr, useXSDT, err := locateRSDT(); err == nil {
		return &Driver{
			rsdtAddr: rsdtAddr,
			useXSDT:  useXSDT,
		}
	}

	return nil
}

func init() {
	device.RegisterDriver(&device.DriverInfo{
		Order: device.DetectOrderACPI,
		Probe: probeForACPI,
	})
}
