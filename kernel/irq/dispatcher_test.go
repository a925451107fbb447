package irq

import (
	"testing"

	"github.com/southwarridev/kewveOs/kernel"
	"github.com/southwarridev/kewveOs/kernel/hal"
)

func TestRegisterDuplicateVector(t *testing.T) {
	d := NewDispatcher(hal.NewX86Platform())

	handler := func(_ *hal.Context) Disposition { return Resume }

	if err := d.Register(VectorTimer, handler); err != nil {
		t.Fatal(err)
	}

	if err := d.Register(VectorTimer, handler); err != ErrDuplicateVector {
		t.Fatalf("expected ErrDuplicateVector; got %v", err)
	}
}

func TestDispatchInvokesHandler(t *testing.T) {
	plat := hal.NewX86Platform()
	d := NewDispatcher(plat)

	var gotVector uint64
	err := d.Register(VectorKeyboard, func(ctx *hal.Context) Disposition {
		gotVector = ctx.Vector
		if plat.InterruptsEnabled() {
			t.Error("expected interrupts to be masked while the handler runs")
		}
		return Resume
	})
	if err != nil {
		t.Fatal(err)
	}

	plat.EnableInterrupts()
	d.Dispatch(VectorKeyboard, &hal.Context{Priv: hal.PrivKernel})

	if gotVector != uint64(VectorKeyboard) {
		t.Fatalf("expected handler to see vector %d; got %d", VectorKeyboard, gotVector)
	}
	if got := d.HandlerCount(VectorKeyboard); got != 1 {
		t.Fatalf("expected handler count 1; got %d", got)
	}
	if !plat.InterruptsEnabled() {
		t.Fatal("expected interrupt state to be restored after dispatch")
	}
}

func TestKernelModeTrapIsFatal(t *testing.T) {
	var halted bool
	kernel.SetHaltFn(func() { halted = true })
	defer kernel.SetHaltFn(nil)

	d := NewDispatcher(hal.NewX86Platform())
	d.SetTerminateFn(func(_ *hal.Context) {
		t.Error("kernel-mode trap must never reach the task terminator")
	})

	d.Dispatch(VectorGeneralProtection, &hal.Context{Priv: hal.PrivKernel})

	if !halted {
		t.Fatal("expected an unregistered kernel-mode exception to halt the system")
	}
}

func TestUserModeTrapTerminatesTask(t *testing.T) {
	kernel.SetHaltFn(func() {
		t.Error("user-mode trap must not halt the system")
	})
	defer kernel.SetHaltFn(nil)

	d := NewDispatcher(hal.NewX86Platform())

	var terminated bool
	d.SetTerminateFn(func(_ *hal.Context) { terminated = true })

	if err := d.Register(VectorInvalidOpcode, func(_ *hal.Context) Disposition {
		return TerminateTask
	}); err != nil {
		t.Fatal(err)
	}

	d.Dispatch(VectorInvalidOpcode, &hal.Context{Priv: hal.PrivUser})

	if !terminated {
		t.Fatal("expected the task terminator to run for a user-mode trap")
	}
}

func TestSpuriousInterruptIsIgnored(t *testing.T) {
	kernel.SetHaltFn(func() {
		t.Error("spurious hardware interrupt must not halt the system")
	})
	defer kernel.SetHaltFn(nil)

	d := NewDispatcher(hal.NewX86Platform())
	d.Dispatch(Vector(200), &hal.Context{Priv: hal.PrivKernel})
}

func TestDispatchPendingPreservesArrivalOrder(t *testing.T) {
	d := NewDispatcher(hal.NewX86Platform())

	var order []Vector
	record := func(ctx *hal.Context) Disposition {
		order = append(order, Vector(ctx.Vector))
		return Resume
	}

	for _, v := range []Vector{VectorTimer, VectorKeyboard} {
		if err := d.Register(v, record); err != nil {
			t.Fatal(err)
		}
	}

	d.Raise(VectorKeyboard, &hal.Context{})
	d.Raise(VectorTimer, &hal.Context{})
	d.Raise(VectorKeyboard, &hal.Context{})
	d.DispatchPending()

	exp := []Vector{VectorKeyboard, VectorTimer, VectorKeyboard}
	if len(order) != len(exp) {
		t.Fatalf("expected %d dispatches; got %d", len(exp), len(order))
	}
	for i, v := range exp {
		if order[i] != v {
			t.Fatalf("expected dispatch %d to be vector %d; got %d", i, v, order[i])
		}
	}
}

func TestVectorProperties(t *testing.T) {
	if VectorPageFault.Maskable() {
		t.Fatal("expected exception vectors to be non-maskable")
	}
	if !VectorTimer.Maskable() {
		t.Fatal("expected hardware interrupt vectors to be maskable")
	}
	if !VectorPageFault.IsException() || VectorSyscall.IsException() {
		t.Fatal("unexpected exception classification")
	}
	if got := VectorPageFault.String(); got != "page fault" {
		t.Fatalf("unexpected vector name %q", got)
	}
}
