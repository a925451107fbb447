package kfmt

import (
	"bytes"
	"io"
)

// PrefixWriter is an io.Writer that wraps another io.Writer and injects a
// prefix at the beginning of each line. Subsystem init code uses it so every
// line it emits is tagged with the subsystem name.
type PrefixWriter struct {
	// Sink receives all writes. A nil Sink falls back to the early print
	// buffer, the same way Printf does before a sink is attached.
	Sink io.Writer

	// Prefix is injected at the beginning of each line.
	Prefix []byte

	// atLineStart tracks whether the next write begins a new line.
	atLineStart bool

	started bool
}

// Write writes len(p) bytes from p to the underlying sink, injecting the
// configured prefix after every newline. The injected prefix bytes are not
// counted in the returned length.
func (w *PrefixWriter) Write(p []byte) (int, error) {
	var written int

	sink := w.Sink
	if sink == nil {
		sink = &earlyPrintBuffer
	}

	if !w.started {
		w.started = true
		w.atLineStart = true
	}

	for len(p) > 0 {
		if w.atLineStart {
			if _, err := sink.Write(w.Prefix); err != nil {
				return written, err
			}
			w.atLineStart = false
		}

		chunk := p
		if nl := bytes.IndexByte(p, '\n'); nl != -1 {
			chunk = p[:nl+1]
			w.atLineStart = true
		}

		n, err := sink.Write(chunk)
		written += n
		if err != nil {
			return written, err
		}

		p = p[len(chunk):]
	}

	return written, nil
}
