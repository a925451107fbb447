// Package device defines the contract between the kernel and device
// drivers. A driver declares the interrupt vector it services and the
// capability-gated resource it exposes; the kernel binds both during the
// probe pass and exposes no other entry point into driver code.
package device

import (
	"io"

	"github.com/southwarridev/kewveOs/kernel"
	"github.com/southwarridev/kewveOs/kernel/cap"
	"github.com/southwarridev/kewveOs/kernel/irq"
)

// Registration names everything the kernel must bind for a driver: the
// vector its interrupt handler serves, the handler itself, and the
// resource under which processes address the device, together with the
// rights the initial task receives on it.
type Registration struct {
	Vector  irq.Vector
	Handler irq.HandlerFn

	Resource cap.Resource
	Rights   cap.Rights
}

// Driver is an interface implemented by all drivers.
type Driver interface {
	// DriverName returns the name of the driver.
	DriverName() string

	// DriverVersion returns the driver version.
	DriverVersion() (major uint16, minor uint16, patch uint16)

	// DriverInit initializes the device driver. If the driver init code
	// needs to log some output, it can use the supplied io.Writer in
	// conjunction with a call to kfmt.Fprintf.
	DriverInit(io.Writer) *kernel.Error

	// Registration returns the vector and resource bindings the kernel
	// installs for this driver.
	Registration() Registration
}

// ProbeFn is a function that scans for the presence of a particular piece
// of hardware and returns a driver for it.
type ProbeFn func() Driver

// DetectOrder controls the order in which drivers are probed.
type DetectOrder int8

const (
	// DetectOrderEarly probes before the default group. Timer hardware
	// uses it so preemption works as soon as possible.
	DetectOrderEarly DetectOrder = -64

	// DetectOrderNormal is the default detection order.
	DetectOrderNormal DetectOrder = 0

	// DetectOrderLast probes after every other group.
	DetectOrderLast DetectOrder = 64
)

// DriverInfo describes a driver to the probe pass.
type DriverInfo struct {
	Order DetectOrder
	Probe ProbeFn
}

// DriverInfoList is a list of registered drivers supporting sorting by
// detection order.
type DriverInfoList []*DriverInfo

func (l DriverInfoList) Len() int           { return len(l) }
func (l DriverInfoList) Swap(i, j int)      { l[i], l[j] = l[j], l[i] }
func (l DriverInfoList) Less(i, j int) bool { return l[i].Order < l[j].Order }

var registeredDrivers DriverInfoList

// RegisterDriver adds info to the list of drivers the probe pass scans.
// Drivers call it from their package init.
func RegisterDriver(info *DriverInfo) {
	registeredDrivers = append(registeredDrivers, info)
}

// DriverList returns the list of registered drivers.
func DriverList() DriverInfoList {
	return registeredDrivers
}
