package kfmt

import "io"

// PrefixWriter is an io.Writer that injects Prefix at the start of every
// line written to Sink. It is used to tag output that originates from
// application processors with the core's local APIC id.
type PrefixWriter struct {
	// A writer where all writes get sent to.
	Sink io.Writer

	// The prefix injected at the beginning of each line.
	Prefix []byte

	// midLine is set while the last write did not end with a newline.
	midLine bool
}

// Write sends p to the sink, prefixing every line. The returned count does not
// include the injected prefixes.
func (w *PrefixWriter) Write(p []byte) (int, error) {
	var written int

	for len(p) != 0 {
		if !w.midLine {
			if _, err := w.Sink.Write(w.Prefix); err != nil {
				return written, err
			}
			w.midLine = true
		}

		lineLen := len(p)
		for i, b := range p {
			if b == '\n' {
				lineLen = i + 1
				w.midLine = false
				break
			}
		}

		n, err := w.Sink.Write(p[:lineLen])
		written += n
		if err != nil {
			return written, err
		}
		p = p[lineLen:]
	}

	return written, nil
}

// Terminated reports whether the last byte written completed a line.
func (w *PrefixWriter) Terminated() bool {
	return !w.midLine
}
