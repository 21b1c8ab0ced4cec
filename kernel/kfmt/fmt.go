// Package kfmt implements the allocation-free formatted output used by the
// kernel before and after the serial console is attached.
package kfmt

import (
	"io"
	"mpkernel/kernel/sync"
	"unicode/utf8"
	"unsafe"
)

// numBufSize fits a 64-bit value printed in base 8 plus a sign and padding.
const numBufSize = 32

var (
	errMissingArg = []byte("%!(MISSING)")
	errWrongType  = []byte("%!(WRONGTYPE)")
	errNoVerb     = []byte("%!(NOVERB)")
	errExtraArg   = []byte("%!(EXTRA)")
	trueValue     = []byte("true")
	falseValue    = []byte("false")

	numBuf  [numBufSize]byte
	charBuf [utf8.UTFMax]byte

	// oneByte is used as a shared buffer for passing single characters
	// to doWrite.
	oneByte = []byte{0}

	// earlyBuffer captures Printf output until a sink is attached.
	earlyBuffer ringBuffer

	// outputSink receives Printf output. If nil, output is kept in
	// earlyBuffer.
	outputSink io.Writer

	// fmtLock serializes formatting; the shared buffers above are not
	// reentrant and APs may print through the BSP concurrently.
	fmtLock sync.Spinlock
)

// SetOutputSink sets the default target for calls to Printf to w and replays
// any output accumulated before a sink was available.
func SetOutputSink(w io.Writer) {
	outputSink = w
	if w != nil {
		io.Copy(w, &earlyBuffer)
	}
}

// OutputSink returns the writer that currently receives Printf output.
func OutputSink() io.Writer {
	return outputSink
}

// ActiveSink returns a writer that forwards to whatever sink is attached at
// the time of each write, falling back to the early buffer.
func ActiveSink() io.Writer {
	return activeSink{}
}

type activeSink struct{}

func (activeSink) Write(p []byte) (int, error) {
	if outputSink != nil {
		return outputSink.Write(p)
	}
	return earlyBuffer.Write(p)
}

// Printf writes formatted output to the active sink. It supports the
// following subset of the fmt verbs:
//
//	%s  string or []byte
//	%d  integer, base 10 (left-padded with spaces)
//	%x  integer, base 16 (left-padded with zeroes)
//	%o  integer, base 8 (left-padded with zeroes)
//	%c  rune or byte
//	%t  bool
//	%%  a literal percent sign
//
// A decimal width may precede the verb. Printf does not allocate and does
// not look at io.Stringer implementations.
func Printf(format string, args ...interface{}) {
	Fprintf(outputSink, format, args...)
}

// Fprintf behaves like Printf but writes the formatted output to w. A nil w
// selects the early buffer.
func Fprintf(w io.Writer, format string, args ...interface{}) {
	fmtLock.Acquire()
	defer fmtLock.Release()

	var (
		argIndex int
		width    int
	)

	for i := 0; i < len(format); i++ {
		if format[i] != '%' {
			writeByte(w, format[i])
			continue
		}

		width = 0
		for i+1 < len(format) && format[i+1] >= '0' && format[i+1] <= '9' {
			width = width*10 + int(format[i+1]-'0')
			i++
		}

		if i+1 >= len(format) {
			doWrite(w, errNoVerb)
			break
		}
		i++

		verb := format[i]
		if verb == '%' {
			writeByte(w, '%')
			continue
		}

		if argIndex >= len(args) {
			doWrite(w, errMissingArg)
			continue
		}
		arg := args[argIndex]
		argIndex++

		switch verb {
		case 's':
			fmtString(w, arg, width)
		case 'd':
			fmtInt(w, arg, 10, width)
		case 'x':
			fmtInt(w, arg, 16, width)
		case 'o':
			fmtInt(w, arg, 8, width)
		case 'c':
			fmtChar(w, arg)
		case 't':
			fmtBool(w, arg)
		default:
			doWrite(w, errNoVerb)
		}
	}

	for ; argIndex < len(args); argIndex++ {
		doWrite(w, errExtraArg)
	}
}

func fmtBool(w io.Writer, v interface{}) {
	b, ok := v.(bool)
	switch {
	case !ok:
		doWrite(w, errWrongType)
	case b:
		doWrite(w, trueValue)
	default:
		doWrite(w, falseValue)
	}
}

func fmtChar(w io.Writer, v interface{}) {
	var r rune
	switch c := v.(type) {
	case rune:
		r = c
	case byte:
		r = rune(c)
	default:
		doWrite(w, errWrongType)
		return
	}

	n := utf8.EncodeRune(charBuf[:], r)
	doWrite(w, charBuf[:n])
}

func fmtString(w io.Writer, v interface{}, width int) {
	switch s := v.(type) {
	case string:
		pad(w, ' ', width-len(s))
		// converting s to a []byte allocates
		for i := 0; i < len(s); i++ {
			writeByte(w, s[i])
		}
	case []byte:
		pad(w, ' ', width-len(s))
		doWrite(w, s)
	default:
		doWrite(w, errWrongType)
	}
}

func pad(w io.Writer, ch byte, count int) {
	for ; count > 0; count-- {
		writeByte(w, ch)
	}
}

// fmtInt prints v in the requested base. Base 10 values are padded with
// spaces and other bases with zeroes; a negative sign is placed right before
// the first digit.
func fmtInt(w io.Writer, v interface{}, base uint64, width int) {
	var (
		val      uint64
		negative bool
	)

	switch n := v.(type) {
	case uint8:
		val = uint64(n)
	case uint16:
		val = uint64(n)
	case uint32:
		val = uint64(n)
	case uint64:
		val = n
	case uint:
		val = uint64(n)
	case uintptr:
		val = uint64(n)
	case int8:
		val, negative = abs(int64(n))
	case int16:
		val, negative = abs(int64(n))
	case int32:
		val, negative = abs(int64(n))
	case int64:
		val, negative = abs(n)
	case int:
		val, negative = abs(int64(n))
	default:
		doWrite(w, errWrongType)
		return
	}

	if width > numBufSize-1 {
		width = numBufSize - 1
	}

	// Digits are emitted right to left
	pos := numBufSize
	for {
		pos--
		digit := byte(val % base)
		if digit < 10 {
			numBuf[pos] = '0' + digit
		} else {
			numBuf[pos] = 'a' + digit - 10
		}

		if val /= base; val == 0 {
			break
		}
	}

	padCh := byte('0')
	if base == 10 {
		padCh = ' '
	}

	if padCh == '0' && negative {
		// zero padding goes between the sign and the digits
		for ; numBufSize-pos < width-1; pos-- {
			numBuf[pos-1] = '0'
		}
		pos--
		numBuf[pos] = '-'
	} else {
		if negative {
			pos--
			numBuf[pos] = '-'
		}
		for ; numBufSize-pos < width; pos-- {
			numBuf[pos-1] = padCh
		}
	}

	doWrite(w, numBuf[pos:])
}

func abs(v int64) (uint64, bool) {
	if v < 0 {
		return uint64(-v), true
	}
	return uint64(v), false
}

func writeByte(w io.Writer, b byte) {
	oneByte[0] = b
	doWrite(w, oneByte)
}

// doWrite hides p from escape analysis; otherwise the call through the
// io.Writer interface makes every Printf argument slice escape to the heap.
func doWrite(w io.Writer, p []byte) {
	doRealWrite(w, noEscape(unsafe.Pointer(&p)))
}

func doRealWrite(w io.Writer, bufPtr unsafe.Pointer) {
	p := *(*[]byte)(bufPtr)
	if w != nil {
		w.Write(p)
	} else {
		earlyBuffer.Write(p)
	}
}

// noEscape hides a pointer from escape analysis. This function is copied over
// from runtime/stubs.go
//
//go:nosplit
func noEscape(p unsafe.Pointer) unsafe.Pointer {
	x := uintptr(p)
	return unsafe.Pointer(x ^ 0)
}
