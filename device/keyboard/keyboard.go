// Package keyboard implements the keyboard input driver. The controller
// raises the keyboard vector with the scancode latched in the trap
// context's error-code slot; the handler buffers scancodes until a
// consumer drains them.
package keyboard

import (
	"io"

	"github.com/southwarridev/kewveOs/device"
	"github.com/southwarridev/kewveOs/kernel"
	"github.com/southwarridev/kewveOs/kernel/cap"
	"github.com/southwarridev/kewveOs/kernel/hal"
	"github.com/southwarridev/kewveOs/kernel/irq"
	"github.com/southwarridev/kewveOs/kernel/kfmt"
)

// bufferSize is the scancode ring capacity. Must be a power of 2.
const bufferSize = 16

// Device is the keyboard controller driver.
type Device struct {
	buffer [bufferSize]uint8
	rIndex uint32
	wIndex uint32

	dropped uint64
}

// NewDevice returns a keyboard driver with an empty scancode buffer.
func NewDevice() *Device {
	return &Device{}
}

// DriverName returns the name of the driver.
func (d *Device) DriverName() string { return "keyboard" }

// DriverVersion returns the driver version.
func (d *Device) DriverVersion() (uint16, uint16, uint16) { return 0, 1, 0 }

// DriverInit initializes the keyboard controller.
func (d *Device) DriverInit(w io.Writer) *kernel.Error {
	kfmt.Fprintf(w, "scancode buffer %d entries\n", bufferSize)
	return nil
}

// Registration binds the scancode handler to the keyboard vector. Holders
// of the device resource may receive input from it.
func (d *Device) Registration() device.Registration {
	return device.Registration{
		Vector:   irq.VectorKeyboard,
		Handler:  d.handleScancode,
		Resource: cap.Resource{Kind: cap.KindDevice, ID: uint32(irq.VectorKeyboard)},
		Rights:   cap.RightReceive | cap.RightQuery,
	}
}

// ReadScancode pops the oldest buffered scancode. The second return value
// is false when the buffer is empty.
func (d *Device) ReadScancode() (uint8, bool) {
	if d.rIndex == d.wIndex {
		return 0, false
	}

	code := d.buffer[d.rIndex%bufferSize]
	d.rIndex++
	return code, true
}

// Dropped returns the number of scancodes discarded because the buffer
// was full.
func (d *Device) Dropped() uint64 {
	return d.dropped
}

func (d *Device) handleScancode(ctx *hal.Context) irq.Disposition {
	if d.wIndex-d.rIndex == bufferSize {
		d.dropped++
		return irq.Resume
	}

	d.buffer[d.wIndex%bufferSize] = uint8(ctx.ErrCode)
	d.wIndex++
	return irq.Resume
}

func probeForDevice() device.Driver {
	return NewDevice()
}

func init() {
	device.RegisterDriver(&device.DriverInfo{
		Order: device.DetectOrderNormal,
		Probe: probeForDevice,
	})
}
