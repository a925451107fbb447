package kernel

import "github.com/southwarridev/kewveOs/kernel/kfmt"

var (
	// haltFn parks the machine after a panic. It defaults to a spin that
	// never returns and is replaced at boot with the active platform's
	// halt primitive. Tests mock it to observe the halt.
	haltFn = defaultHalt

	errRuntimePanic = &Error{Module: "rt", Message: "unknown cause"}
)

func defaultHalt() {
	select {}
}

// SetHaltFn installs the platform halt primitive invoked after panic
// diagnostics have been flushed. Passing nil restores the default spin.
func SetHaltFn(fn func()) {
	if fn == nil {
		fn = defaultHalt
	}
	haltFn = fn
}

// Panic outputs the supplied error (if not nil) to the active output sink and
// halts the machine. Kernel-mode corruption cannot be safely continued past,
// so calls to Panic never return.
func Panic(e interface{}) {
	var err *Error

	switch t := e.(type) {
	case *Error:
		err = t
	case string:
		errRuntimePanic.Message = t
		err = errRuntimePanic
	case error:
		errRuntimePanic.Message = t.Error()
		err = errRuntimePanic
	}

	kfmt.Printf("\n-----------------------------------\n")
	if err != nil {
		kfmt.Printf("[%s] unrecoverable error: %s\n", err.Module, err.Message)
	}
	kfmt.Printf("*** kernel panic: system halted ***")
	kfmt.Printf("\n-----------------------------------\n")
	kfmt.Flush()

	haltFn()
}
