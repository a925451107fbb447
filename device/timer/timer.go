// Package timer implements the system tick source. On x86-64 the
// underlying hardware is the 8253/8254 PIT; on ARM64 it is the generic
// timer. Both program a fixed periodic rate and raise the timer vector,
// which drives scheduler preemption.
package timer

import (
	"io"

	"github.com/southwarridev/kewveOs/device"
	"github.com/southwarridev/kewveOs/kernel"
	"github.com/southwarridev/kewveOs/kernel/cap"
	"github.com/southwarridev/kewveOs/kernel/hal"
	"github.com/southwarridev/kewveOs/kernel/irq"
	"github.com/southwarridev/kewveOs/kernel/kfmt"
)

// DefaultFrequency is the tick rate in Hz.
const DefaultFrequency = 100

// Device is the system tick source.
type Device struct {
	frequency uint32
	ticks     uint64

	// onTick is invoked from the interrupt handler on every tick. The
	// boot sequence points it at the scheduler.
	onTick func()
}

// NewDevice returns a timer programmed at hz ticks per second.
func NewDevice(hz uint32) *Device {
	if hz == 0 {
		hz = DefaultFrequency
	}
	return &Device{frequency: hz}
}

// DriverName returns the name of the driver.
func (d *Device) DriverName() string { return "system-timer" }

// DriverVersion returns the driver version.
func (d *Device) DriverVersion() (uint16, uint16, uint16) { return 0, 2, 0 }

// DriverInit initializes the tick source.
func (d *Device) DriverInit(w io.Writer) *kernel.Error {
	kfmt.Fprintf(w, "periodic rate %d Hz\n", d.frequency)
	return nil
}

// Registration binds the tick handler to the timer vector. The initial
// task may query the tick counter.
func (d *Device) Registration() device.Registration {
	return device.Registration{
		Vector:   irq.VectorTimer,
		Handler:  d.handleTick,
		Resource: cap.Resource{Kind: cap.KindDevice, ID: uint32(irq.VectorTimer)},
		Rights:   cap.RightQuery,
	}
}

// SetTickFn installs the callback invoked on every tick.
func (d *Device) SetTickFn(fn func()) {
	d.onTick = fn
}

// Ticks returns the number of ticks since boot.
func (d *Device) Ticks() uint64 {
	return d.ticks
}

// Frequency returns the programmed tick rate in Hz.
func (d *Device) Frequency() uint32 {
	return d.frequency
}

func (d *Device) handleTick(_ *hal.Context) irq.Disposition {
	d.ticks++
	if d.onTick != nil {
		d.onTick()
	}
	return irq.Resume
}

func probeForDevice() device.Driver {
	// Every supported platform carries a programmable tick source.
	return NewDevice(DefaultFrequency)
}

func init() {
	device.RegisterDriver(&device.DriverInfo{
		Order: device.DetectOrderEarly,
		Probe: probeForDevice,
	})
}
