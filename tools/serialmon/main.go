// Command serialmon reads the kernel console from a serial pty (for example
// the one QEMU creates with -serial pty) and demultiplexes the per-AP logs
// replayed by the BSP.
package main

import (
	"flag"
	"io"
	"log"
	"os"

	"github.com/mattn/go-tty"
)

var (
	ptyFlag = flag.String("p", "", "serial pty to read the kernel console from (default: stdin)")
	apFlag  = flag.Int("ap", allSources, "only show lines from this local APIC id (-1 for the BSP)")
	sumFlag = flag.Bool("s", true, "print a per-core line count when the stream ends")
)

func openConsole(path string) (io.Reader, func()) {
	if path == "" {
		return os.Stdin, func() {}
	}

	ttyObj, err := tty.OpenDevice(path)
	if err != nil {
		log.Fatalf("unable to open %s: %v", path, err)
	}
	restore := ttyObj.MustRaw()

	return ttyObj.Input(), func() {
		restore()
		ttyObj.Close()
	}
}

func main() {
	flag.Parse()
	log.SetFlags(0)
	log.SetPrefix("[serialmon] ")

	r, closeFn := openConsole(*ptyFlag)
	defer closeFn()

	sum, err := demux(r, os.Stdout, *apFlag)
	if err != nil {
		log.Printf("read error: %v", err)
	}

	if *sumFlag {
		sum.writeTo(os.Stderr)
	}
	if sum.panicked {
		closeFn()
		os.Exit(2)
	}
}
