// Package device defines the driver model used by the BSP to detect and
// initialize the hardware it needs before bringing up the other cores.
package device

import (
	"io"
	"mpkernel/kernel"
)

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
}

// ProbeFn is a function that scans for the presence of a particular
// piece of hardware and returns a driver for it.
type ProbeFn func() Driver

// DetectOrder specifies when a driver is probed relative to the others.
type DetectOrder int8

const (
	// DetectOrderEarly drivers are probed first. Output devices use it so
	// that later drivers can log through them.
	DetectOrderEarly DetectOrder = -128

	// DetectOrderBeforeACPI drivers are probed before the ACPI tables
	// are parsed.
	DetectOrderBeforeACPI DetectOrder = -127

	// DetectOrderACPI drivers depend on the ACPI tables.
	DetectOrderACPI DetectOrder = 0

	// DetectOrderLast drivers are probed after everything else.
	DetectOrderLast DetectOrder = 127
)

// DriverInfo describes a registered driver.
type DriverInfo struct {
	// Order controls when the driver is probed.
	Order DetectOrder

	// Probe returns a driver for the device or nil if it is absent.
	Probe ProbeFn
}

// DriverInfoList is a list of registered drivers that can be sorted by
// detection order.
type DriverInfoList []*DriverInfo

// Len returns the length of the driver info list.
func (l DriverInfoList) Len() int { return len(l) }

// Swap exchanges 2 elements in the driver info list.
func (l DriverInfoList) Swap(i, j int) { l[i], l[j] = l[j], l[i] }

// Less compares 2 elements of the driver info list.
func (l DriverInfoList) Less(i, j int) bool { return l[i].Order < l[j].Order }

var registeredDrivers DriverInfoList

// RegisterDriver adds the supplied driver info to the list of drivers that
// are probed during hardware detection. It is meant to be called from the
// init() function of driver packages.
func RegisterDriver(info *DriverInfo) {
	registeredDrivers = append(registeredDrivers, info)
}

// DriverList returns the list of registered drivers.
func DriverList() DriverInfoList {
	return registeredDrivers
}
