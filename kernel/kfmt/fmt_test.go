package kfmt

import (
	"bytes"
	"io"
	"io/ioutil"
	"testing"
)

func TestPrintf(t *testing.T) {
	defer func() {
		outputSink = nil
	}()

	// mute vet warnings about malformed printf formatting strings
	printfn := Printf

	specs := []struct {
		fn        func()
		expOutput string
	}{
		{
			func() { printfn("no args") },
			"no args",
		},
		// bool values
		{
			func() { printfn("%t", true) },
			"true",
		},
		{
			func() { printfn("%t", false) },
			"false",
		},
		// strings and byte slices
		{
			func() { printfn("%s arg", "STRING") },
			"STRING arg",
		},
		{
			func() { printfn("%s arg", []byte("BYTE SLICE")) },
			"BYTE SLICE arg",
		},
		{
			func() { printfn("'%4s' arg with padding", "ABC") },
			"' ABC' arg with padding",
		},
		{
			func() { printfn("'%4s' arg longer than padding", "ABCDE") },
			"'ABCDE' arg longer than padding",
		},
		// characters
		{
			func() { printfn("char %c%c", 'X', byte('y')) },
			"char Xy",
		},
		{
			func() { printfn("rune %c", 'λ') },
			"rune λ",
		},
		// unsigned integers
		{
			func() { printfn("uint arg: %d", uint8(10)) },
			"uint arg: 10",
		},
		{
			func() { printfn("uint arg: %o", uint16(0777)) },
			"uint arg: 777",
		},
		{
			func() { printfn("uint arg: 0x%x", uint32(0xbadf00d)) },
			"uint arg: 0xbadf00d",
		},
		{
			func() { printfn("uint arg with padding: '%10d'", uint64(123)) },
			"uint arg with padding: '       123'",
		},
		{
			func() { printfn("uint arg with padding: '0x%10x'", uint64(0xbadf00d)) },
			"uint arg with padding: '0x000badf00d'",
		},
		{
			func() { printfn("cr3 0x%16x", uintptr(0x9000)) },
			"cr3 0x0000000000009000",
		},
		{
			func() { printfn("zero %d", 0) },
			"zero 0",
		},
		// signed integers
		{
			func() { printfn("int arg: %d", int8(-10)) },
			"int arg: -10",
		},
		{
			func() { printfn("int arg: %x", int32(-0xbadf00d)) },
			"int arg: -badf00d",
		},
		{
			func() { printfn("int arg with padding: '%10d'", int64(-12345678)) },
			"int arg with padding: ' -12345678'",
		},
		{
			func() { printfn("int arg with zero padding: '%5x'", -1) },
			"int arg with zero padding: '-0001'",
		},
		// multiple arguments
		{
			func() { printfn("%%%s%d%t", "foo", 123, true) },
			`%foo123true`,
		},
		// errors
		{
			func() { printfn("more args", "foo", "bar") },
			`more args%!(EXTRA)%!(EXTRA)`,
		},
		{
			func() { printfn("missing args %s") },
			`missing args %!(MISSING)`,
		},
		{
			func() { printfn("bad verb %Q", 1) },
			`bad verb %!(NOVERB)`,
		},
		{
			func() { printfn("trailing %") },
			`trailing %!(NOVERB)`,
		},
		{
			func() { printfn("not bool %t", "foo") },
			`not bool %!(WRONGTYPE)`,
		},
		{
			func() { printfn("not int %d", "foo") },
			`not int %!(WRONGTYPE)`,
		},
		{
			func() { printfn("not string %s", 123) },
			`not string %!(WRONGTYPE)`,
		},
		{
			func() { printfn("not char %c", "x") },
			`not char %!(WRONGTYPE)`,
		},
	}

	var buf bytes.Buffer
	SetOutputSink(&buf)

	for specIndex, spec := range specs {
		buf.Reset()
		spec.fn()

		if got := buf.String(); got != spec.expOutput {
			t.Errorf("[spec %d] expected to get\n%q\ngot:\n%q", specIndex, spec.expOutput, got)
		}
	}
}

func TestPrintfToEarlyBuffer(t *testing.T) {
	defer func() {
		outputSink = nil
	}()

	outputSink = nil
	io.Copy(ioutil.Discard, &earlyBuffer)

	exp := "[mp] booting 2 application processors\n"
	Printf("[mp] booting %d application processors\n", 2)

	var buf bytes.Buffer
	SetOutputSink(&buf)

	if got := buf.String(); got != exp {
		t.Fatalf("expected to get:\n%q\ngot:\n%q", exp, got)
	}

	if OutputSink() != &buf {
		t.Fatal("expected OutputSink to return the attached writer")
	}
}

func TestFprintf(t *testing.T) {
	var buf bytes.Buffer

	exp := "[ap 1] hello"
	Fprintf(&buf, "[ap %d] %s", uint8(1), "hello")

	if got := buf.String(); got != exp {
		t.Fatalf("expected to get:\n%q\ngot:\n%q", exp, got)
	}
}

func TestActiveSink(t *testing.T) {
	defer func() {
		outputSink = nil
	}()

	outputSink = nil
	io.Copy(ioutil.Discard, &earlyBuffer)

	w := ActiveSink()
	w.Write([]byte("early "))

	var buf bytes.Buffer
	SetOutputSink(&buf)
	w.Write([]byte("late\n"))

	if exp := "early late\n"; buf.String() != exp {
		t.Fatalf("expected to get:\n%q\ngot:\n%q", exp, buf.String())
	}
}
