// Package kfmt provides formatted kernel output. Until an output sink is
// attached, everything written via Printf accumulates in a ring buffer so
// that early boot diagnostics survive until a console or log writer becomes
// available.
package kfmt

import (
	"fmt"
	"io"
)

var (
	// earlyPrintBuffer stores Printf output generated before an output
	// sink is attached.
	earlyPrintBuffer ringBuffer

	// outputSink is the io.Writer where Printf sends its output. While it
	// is nil, output is redirected to the earlyPrintBuffer.
	outputSink io.Writer
)

// SetOutputSink sets the target for calls to Printf to w and copies any data
// accumulated in the early print buffer to it. Passing nil reverts output
// to the early print buffer.
func SetOutputSink(w io.Writer) {
	outputSink = w
	if w != nil {
		io.Copy(w, &earlyPrintBuffer)
	}
}

// GetOutputSink returns the currently active output sink, or nil if output
// is still buffered.
func GetOutputSink() io.Writer {
	return outputSink
}

// Printf formats according to format and writes the result to the active
// output sink or, if no sink is attached yet, to the early print buffer.
func Printf(format string, args ...interface{}) {
	if outputSink == nil {
		fmt.Fprintf(&earlyPrintBuffer, format, args...)
		return
	}
	fmt.Fprintf(outputSink, format, args...)
}

// Fprintf behaves exactly like Printf but writes the formatted output to w.
func Fprintf(w io.Writer, format string, args ...interface{}) {
	if w == nil {
		w = &earlyPrintBuffer
	}
	fmt.Fprintf(w, format, args...)
}

// Flush drains any buffered early output into the active sink. It is invoked
// by the panic path so diagnostics emitted before sink attachment are not
// lost when the system halts.
func Flush() {
	if outputSink == nil {
		return
	}
	io.Copy(outputSink, &earlyPrintBuffer)
}
