package kfmt

import (
	"bytes"
	"testing"
)

func TestPrefixWriter(t *testing.T) {
	specs := []struct {
		name   string
		writes []string
		exp    string
	}{
		{
			name:   "single line",
			writes: []string{"initialized\n"},
			exp:    "[timer] initialized\n",
		},
		{
			name:   "multiple lines in one write",
			writes: []string{"line1\nline2\n"},
			exp:    "[timer] line1\n[timer] line2\n",
		},
		{
			name:   "line split across writes",
			writes: []string{"par", "tial\nnext"},
			exp:    "[timer] partial\n[timer] next",
		},
	}

	for _, spec := range specs {
		t.Run(spec.name, func(t *testing.T) {
			var buf bytes.Buffer
			w := &PrefixWriter{Sink: &buf, Prefix: []byte("[timer] ")}

			var total int
			for _, chunk := range spec.writes {
				n, err := w.Write([]byte(chunk))
				if err != nil {
					t.Fatal(err)
				}
				total += n
			}

			var expPayload int
			for _, chunk := range spec.writes {
				expPayload += len(chunk)
			}
			if total != expPayload {
				t.Fatalf("expected reported length %d to exclude prefixes; got %d", expPayload, total)
			}

			if got := buf.String(); got != spec.exp {
				t.Fatalf("expected output %q; got %q", spec.exp, got)
			}
		})
	}
}

func TestPrefixWriterNilSink(t *testing.T) {
	defer SetOutputSink(nil)

	// Drain anything earlier tests left in the early print buffer.
	SetOutputSink(new(bytes.Buffer))
	SetOutputSink(nil)

	w := &PrefixWriter{Prefix: []byte("[mock0] ")}
	if _, err := w.Write([]byte("initialized\n")); err != nil {
		t.Fatal(err)
	}

	// The write landed in the early print buffer and surfaces once a
	// sink is attached.
	var buf bytes.Buffer
	SetOutputSink(&buf)
	if got := buf.String(); got != "[mock0] initialized\n" {
		t.Fatalf("expected buffered output %q after sink attachment; got %q", "[mock0] initialized\n", got)
	}
}
