package main

import "mpkernel/kernel/kmain"

var (
	bootInfo   kmain.BootInfo
	apArgsAddr uintptr
)

// main makes dummy calls to the actual kernel entrypoints. It is
// intentionally defined to prevent the Go compiler from optimizing away the
// real kernel code.
//
// Global variables are passed as arguments to prevent the compiler from
// inlining the calls and removing the entrypoints from the generated .o file.
func main() {
	kmain.Kmain(&bootInfo)
	kmain.ApplicationProcessorMain(apArgsAddr)
}
