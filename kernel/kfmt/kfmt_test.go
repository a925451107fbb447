package kfmt

import (
	"bytes"
	"testing"
)

func TestPrintfBuffersUntilSinkAttached(t *testing.T) {
	defer func() {
		SetOutputSink(nil)
		earlyPrintBuffer = ringBuffer{}
	}()

	Printf("booting on %s with %d MB\n", "x86_64", 128)

	if GetOutputSink() != nil {
		t.Fatal("expected no sink to be attached yet")
	}

	var buf bytes.Buffer
	SetOutputSink(&buf)

	exp := "booting on x86_64 with 128 MB\n"
	if got := buf.String(); got != exp {
		t.Fatalf("expected attaching a sink to drain the early buffer;\nexp: %q\ngot: %q", exp, got)
	}

	// Output after sink attachment goes straight through.
	Printf("frame allocator ready\n")
	if got := buf.String(); got != exp+"frame allocator ready\n" {
		t.Fatalf("unexpected sink contents: %q", got)
	}
}

func TestFprintfNilWriterUsesEarlyBuffer(t *testing.T) {
	defer func() {
		earlyPrintBuffer = ringBuffer{}
	}()

	Fprintf(nil, "to the void")

	p := make([]byte, 16)
	n, _ := earlyPrintBuffer.Read(p)
	if got := string(p[:n]); got != "to the void" {
		t.Fatalf("expected early buffer to capture the write; got %q", got)
	}
}
