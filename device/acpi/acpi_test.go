package acpi

import (
	"bytes"
	"encoding/binary"
	"mpkernel/device/acpi/table"
	"strings"
	"testing"
	"unsafe"
)

// buildMADT returns a MADT with three local APIC records, an I/O APIC record
// and optionally a local APIC address override.
func buildMADT(withOverride bool) []byte {
	var entries []byte
	for _, rec := range []struct{ procID, apicID, flags uint8 }{
		{0, 0, table.LocalAPICEnabled},
		{1, 1, table.LocalAPICEnabled},
		{2, 4, table.LocalAPICOnlineCapable},
	} {
		entries = append(entries, byte(table.MADTEntryTypeLocalAPIC), table.MADTEntryLocalAPICSize, rec.procID, rec.apicID, rec.flags, 0, 0, 0)
	}

	ioapic := make([]byte, 12)
	ioapic[0], ioapic[1] = byte(table.MADTEntryTypeIOAPIC), 12
	entries = append(entries, ioapic...)

	if withOverride {
		override := make([]byte, table.MADTEntryLocalAPICAddrOverrideSize)
		override[0], override[1] = byte(table.MADTEntryTypeLocalAPICAddrOverride), table.MADTEntryLocalAPICAddrOverrideSize
		binary.LittleEndian.PutUint64(override[4:], 0xfee10000)
		entries = append(entries, override...)
	}

	sizeofMADT := int(unsafe.Sizeof(table.MADT{}))
	buf := make([]byte, sizeofMADT+len(entries))
	copy(buf[sizeofMADT:], entries)

	madt := (*table.MADT)(unsafe.Pointer(&buf[0]))
	copy(madt.Signature[:], madtSignature)
	copy(madt.OEMID[:], "MPKERN")
	madt.Length = uint32(len(buf))
	madt.LocalControllerAddress = 0xfee00000
	return buf
}

// buildSDT returns an RSDT or XSDT pointing at the supplied tables.
func buildSDT(useXSDT bool, tables ...[]byte) []byte {
	sizeofHeader := int(unsafe.Sizeof(table.SDTHeader{}))
	ptrSize := 4
	if useXSDT {
		ptrSize = 8
	}

	buf := make([]byte, sizeofHeader+ptrSize*len(tables))
	for i, tbl := range tables {
		addr := uint64(uintptr(unsafe.Pointer(&tbl[0])))
		if useXSDT {
			binary.LittleEndian.PutUint64(buf[sizeofHeader+8*i:], addr)
		} else {
			binary.LittleEndian.PutUint32(buf[sizeofHeader+4*i:], uint32(addr))
		}
	}

	header := (*table.SDTHeader)(unsafe.Pointer(&buf[0]))
	copy(header.Signature[:], "XSDT")
	header.Length = uint32(len(buf))
	return buf
}

func TestProbe(t *testing.T) {
	defer func(rsdpLow, rsdpHi, rsdpAlign uintptr) {
		rsdpLocationLow = rsdpLow
		rsdpLocationHi = rsdpHi
		rsdpAlignment = rsdpAlign
		rootPointer = 0
	}(rsdpLocationLow, rsdpLocationHi, rsdpAlignment)

	t.Run("ACPI1 scan", func(t *testing.T) {
		// Leave the first slot blank to test that the scan skips it
		sizeofRSDP := unsafe.Sizeof(table.RSDPDescriptor{})
		buf := make([]byte, 2*sizeofRSDP)
		rsdp := (*table.RSDPDescriptor)(unsafe.Pointer(&buf[sizeofRSDP]))
		rsdp.Signature = rsdpSignature
		rsdp.Revision = acpiRev1
		rsdp.RSDTAddr = 0xbadf00

		rsdpLocationLow = uintptr(unsafe.Pointer(&buf[0]))
		rsdpLocationHi = uintptr(unsafe.Pointer(&buf[2*sizeofRSDP-1]))
		// As we cannot ensure 16-byte alignment for our buffer we need
		// to scan all bytes in the buffer for the descriptor signature
		rsdpAlignment = 1

		drv, ok := probeForACPI().(*Driver)
		if !ok {
			t.Fatal("ACPI probe failed")
		}
		if drv.rsdtAddr != 0xbadf00 || drv.useXSDT {
			t.Fatalf("expected the RSDT at 0xbadf00; got 0x%x (xsdt: %t)", drv.rsdtAddr, drv.useXSDT)
		}
	})

	t.Run("ACPI2+ root pointer", func(t *testing.T) {
		buf := make([]byte, unsafe.Sizeof(table.ExtRSDPDescriptor{}))
		rsdp := (*table.ExtRSDPDescriptor)(unsafe.Pointer(&buf[0]))
		rsdp.Signature = rsdpSignature
		rsdp.Revision = 2
		rsdp.XSDTAddr = 0xc0ffee000

		SetRootPointer(uintptr(unsafe.Pointer(&buf[0])))
		defer SetRootPointer(0)

		drv, ok := probeForACPI().(*Driver)
		if !ok {
			t.Fatal("ACPI probe failed")
		}
		if drv.rsdtAddr != 0xc0ffee000 || !drv.useXSDT {
			t.Fatalf("expected the XSDT at 0xc0ffee000; got 0x%x (xsdt: %t)", drv.rsdtAddr, drv.useXSDT)
		}
	})

	t.Run("errors", func(t *testing.T) {
		buf := make([]byte, 64)
		rsdpLocationLow = uintptr(unsafe.Pointer(&buf[0]))
		rsdpLocationHi = uintptr(unsafe.Pointer(&buf[63]))
		rsdpAlignment = 1

		if _, _, err := locateRSDT(); err != errMissingRSDP {
			t.Fatalf("expected errMissingRSDP; got %v", err)
		}
		if probeForACPI() != nil {
			t.Fatal("expected the probe to fail without an RSDP")
		}

		SetRootPointer(uintptr(unsafe.Pointer(&buf[0])))
		defer SetRootPointer(0)
		if _, _, err := locateRSDT(); err != errInvalidRSDP {
			t.Fatalf("expected errInvalidRSDP; got %v", err)
		}
	})
}

func TestDriverInit(t *testing.T) {
	for _, useXSDT := range []bool{false, true} {
		madt := buildMADT(false)
		sdt := buildSDT(useXSDT, madt)

		if !useXSDT && uintptr(unsafe.Pointer(&madt[0])) > 0xffffffff {
			// RSDT entries cannot reach tables allocated above 4GiB
			continue
		}

		drv := &Driver{rsdtAddr: uintptr(unsafe.Pointer(&sdt[0])), useXSDT: useXSDT}

		var buf bytes.Buffer
		if err := drv.DriverInit(&buf); err != nil {
			t.Fatal(err)
		}

		if !strings.HasPrefix(buf.String(), "APIC at 0x") || !strings.Contains(buf.String(), "MPKERN") {
			t.Fatalf("unexpected table listing %q", buf.String())
		}

		if header := drv.LookupTable("APIC"); header == nil || uintptr(unsafe.Pointer(header)) != uintptr(unsafe.Pointer(&madt[0])) {
			t.Fatal("expected LookupTable to return the MADT")
		}
		if drv.LookupTable("FACP") != nil {
			t.Fatal("expected LookupTable to return nil for a missing table")
		}

		topo, err := drv.Topology()
		if err != nil {
			t.Fatal(err)
		}
		if len(topo.Processors) != 3 {
			t.Fatalf("expected 3 processors; got %d", len(topo.Processors))
		}
	}
}

func TestTopologyWithoutMADT(t *testing.T) {
	other := make([]byte, unsafe.Sizeof(table.SDTHeader{}))
	header := (*table.SDTHeader)(unsafe.Pointer(&other[0]))
	copy(header.Signature[:], "HPET")
	header.Length = uint32(len(other))

	sdt := buildSDT(true, other)
	drv := &Driver{rsdtAddr: uintptr(unsafe.Pointer(&sdt[0])), useXSDT: true}
	if err := drv.enumerateTables(); err != nil {
		t.Fatal(err)
	}

	if _, err := drv.Topology(); err != errMissingMADT {
		t.Fatalf("expected errMissingMADT; got %v", err)
	}

	short := make([]byte, 8)
	drv = &Driver{rsdtAddr: uintptr(unsafe.Pointer(&short[0]))}
	if err := drv.enumerateTables(); err != errMalformedSDT {
		t.Fatalf("expected errMalformedSDT; got %v", err)
	}
}

func TestParseMADT(t *testing.T) {
	topo, err := ParseMADT(buildMADT(false))
	if err != nil {
		t.Fatal(err)
	}

	exp := []Processor{
		{ProcessorID: 0, APICID: 0, Enabled: true},
		{ProcessorID: 1, APICID: 1, Enabled: true},
		{ProcessorID: 2, APICID: 4, OnlineCapable: true},
	}
	for i, p := range exp {
		if topo.Processors[i] != p {
			t.Errorf("[spec %d] expected %+v; got %+v", i, p, topo.Processors[i])
		}
	}
	if topo.LocalAPICAddress != 0xfee00000 {
		t.Fatalf("expected local APIC at 0xfee00000; got 0x%x", topo.LocalAPICAddress)
	}

	if topo, err = ParseMADT(buildMADT(true)); err != nil || topo.LocalAPICAddress != 0xfee10000 {
		t.Fatalf("expected the override to relocate the local APIC; got %v", err)
	}
}

func TestParseMADTErrors(t *testing.T) {
	sizeofMADT := int(unsafe.Sizeof(table.MADT{}))

	specs := []struct {
		mutate func([]byte) []byte
		expErr error
	}{
		// shorter than the MADT header
		{func(b []byte) []byte { return b[:sizeofMADT-1] }, errMalformedSDT},
		// length field past the buffer
		{func(b []byte) []byte { binary.LittleEndian.PutUint32(b[4:], uint32(len(b)+1)); return b }, errMalformedSDT},
		// zero-length record
		{func(b []byte) []byte { b[sizeofMADT+1] = 0; return b }, errMalformedMADT},
		// record running past the table
		{func(b []byte) []byte { b[sizeofMADT+1] = 0xff; return b }, errMalformedMADT},
		// truncated local APIC record
		{func(b []byte) []byte { b[sizeofMADT+1] = 4; return b }, errMalformedMADT},
		// dangling byte after the last record
		{func(b []byte) []byte {
			b = append(b, 0)
			binary.LittleEndian.PutUint32(b[4:], uint32(len(b)))
			return b
		}, errMalformedMADT},
	}

	for specIndex, spec := range specs {
		if _, err := ParseMADT(spec.mutate(buildMADT(false))); err != spec.expErr {
			t.Errorf("[spec %d] expected error %v; got %v", specIndex, spec.expErr, err)
		}
	}
}
