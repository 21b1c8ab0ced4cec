package kfmt

import (
	"mpkernel/kernel"
	"mpkernel/kernel/cpu"
)

const panicRule = "\n-----------------------------------\n"

var (
	// cpuHaltFn is mocked by tests and is automatically inlined by the compiler.
	cpuHaltFn = cpu.Halt

	errRuntimePanic = &kernel.Error{Module: "rt", Message: "unknown cause"}
)

// Panic prints the supplied error (if not nil) between two rules on the
// active sink and halts the calling core. Calls to Panic never return on
// real hardware. Boot failures that leave the system unusable, such as a
// malformed trampoline log, end up here.
func Panic(e interface{}) {
	Printf(panicRule)
	if err := asKernelError(e); err != nil {
		Printf("[%s] unrecoverable error: %s\n", err.Module, err.Message)
	}
	Printf("*** kernel panic: system halted ***" + panicRule)

	cpuHaltFn()
}

// asKernelError maps the values accepted by Panic to a *kernel.Error.
// Strings and foreign errors are reported under the "rt" module.
func asKernelError(e interface{}) *kernel.Error {
	switch t := e.(type) {
	case *kernel.Error:
		return t
	case string:
		errRuntimePanic.Message = t
	case error:
		errRuntimePanic.Message = t.Error()
	default:
		return nil
	}
	return errRuntimePanic
}
