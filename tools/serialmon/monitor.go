package main

import (
	"bufio"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
)

const (
	apPrefix     = "[ap "
	panicMarker  = "*** kernel panic"
	bspSource    = -1
	allSources   = -2
	maxLineBytes = 64 * 1024
)

// line is a single console line attributed to the core that produced it.
type line struct {
	source int
	module string
	text   string
}

// parseLine splits the "[ap N] " tag added by the kernel when it replays AP
// logs. Untagged lines come from the BSP. The module is taken from a
// leading "[name] " tag of the remaining text.
func parseLine(raw string) line {
	raw = strings.TrimRight(raw, "\r")
	l := line{source: bspSource, text: raw}

	if strings.HasPrefix(raw, apPrefix) {
		if end := strings.Index(raw, "] "); end > len(apPrefix) {
			if id, err := strconv.ParseUint(raw[len(apPrefix):end], 10, 8); err == nil {
				l.source = int(id)
				l.text = raw[end+2:]
			}
		}
	}

	if strings.HasPrefix(l.text, "[") {
		if end := strings.Index(l.text, "] "); end > 1 {
			l.module = l.text[1:end]
		}
	}

	return l
}

func sourceName(source int) string {
	if source == bspSource {
		return "bsp"
	}
	return "ap" + strconv.Itoa(source)
}

// summary counts the lines seen per core and whether the kernel panicked.
type summary struct {
	lines    map[int]int
	panicked bool
}

// demux copies the console stream from r to w, one line at a time, tagging
// each line with its source core. Only lines from filter are written unless
// filter is allSources.
func demux(r io.Reader, w io.Writer, filter int) (*summary, error) {
	sum := &summary{lines: make(map[int]int)}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 4096), maxLineBytes)
	for scanner.Scan() {
		l := parseLine(scanner.Text())
		if l.text == "" {
			continue
		}

		sum.lines[l.source]++
		if strings.HasPrefix(l.text, panicMarker) {
			sum.panicked = true
		}

		if filter != allSources && filter != l.source {
			continue
		}
		if _, err := fmt.Fprintf(w, "%-4s | %s\n", sourceName(l.source), l.text); err != nil {
			return sum, err
		}
	}

	return sum, scanner.Err()
}

// writeTo prints the per-core line counts in source order.
func (s *summary) writeTo(w io.Writer) {
	sources := make([]int, 0, len(s.lines))
	for source := range s.lines {
		sources = append(sources, source)
	}
	sort.Ints(sources)

	for _, source := range sources {
		fmt.Fprintf(w, "%-4s %d lines\n", sourceName(source), s.lines[source])
	}
	if s.panicked {
		fmt.Fprintln(w, "kernel panicked")
	}
}
