// Package hal probes the registered device drivers and keeps track of the
// devices the rest of the kernel needs: the console, a delay timer and the
// ACPI processor topology.
package hal

import (
	"bytes"
	"io"
	"mpkernel/device"
	"mpkernel/device/acpi"
	"mpkernel/kernel"
	"mpkernel/kernel/kfmt"
	"sort"
)

// Timer is implemented by drivers that can busy-wait for a number of
// microseconds.
type Timer interface {
	Wait(microseconds uint64)
}

// TopologySource is implemented by drivers that can enumerate processors.
type TopologySource interface {
	Topology() (*acpi.Topology, *kernel.Error)
}

// managedDevices contains the devices discovered by the HAL.
type managedDevices struct {
	activeConsole  io.Writer
	activeTimer    Timer
	activeTopology TopologySource

	// activeDrivers tracks all initialized device drivers.
	activeDrivers []device.Driver
}

var (
	devices managedDevices
	strBuf  bytes.Buffer

	errNoTopology = &kernel.Error{Module: "hal", Message: "no driver can enumerate processors"}
)

// ActiveConsole returns the console that receives kernel output or nil.
func ActiveConsole() io.Writer {
	return devices.activeConsole
}

// ActiveTimer returns the timer used for coarse delays or nil.
func ActiveTimer() Timer {
	return devices.activeTimer
}

// ActiveDrivers returns the drivers that were successfully initialized.
func ActiveDrivers() []device.Driver {
	return devices.activeDrivers
}

// Topology returns the processors reported by the platform.
func Topology() (*acpi.Topology, *kernel.Error) {
	if devices.activeTopology == nil {
		return nil, errNoTopology
	}
	return devices.activeTopology.Topology()
}

// DetectHardware probes for hardware devices and initializes the appropriate
// drivers.
func DetectHardware() {
	// Get driver list and sort by detection priority
	drivers := device.DriverList()
	sort.Stable(drivers)

	probe(drivers)
}

// probe executes the probe function for each driver and invokes
// onDriverInit for each successfully initialized driver.
func probe(driverInfoList device.DriverInfoList) {
	var w = kfmt.PrefixWriter{Sink: kfmt.ActiveSink()}

	for _, info := range driverInfoList {
		drv := info.Probe()
		if drv == nil {
			continue
		}

		strBuf.Reset()
		major, minor, patch := drv.DriverVersion()
		kfmt.Fprintf(&strBuf, "[hal] %s(%d.%d.%d): ", drv.DriverName(), major, minor, patch)
		w.Prefix = strBuf.Bytes()

		if err := drv.DriverInit(&w); err != nil {
			kfmt.Fprintf(&w, "init failed: %s\n", err.Message)
			continue
		}

		kfmt.Fprintf(&w, "initialized\n")
		onDriverInit(drv)
		devices.activeDrivers = append(devices.activeDrivers, drv)
	}
}

// onDriverInit is invoked by probe() whenever a piece of hardware is detected
// and successfully initialized. The first driver of each kind wins.
func onDriverInit(drv device.Driver) {
	switch drvImpl := drv.(type) {
	case Timer:
		if devices.activeTimer == nil {
			devices.activeTimer = drvImpl
		}
	case TopologySource:
		if devices.activeTopology == nil {
			devices.activeTopology = drvImpl
		}
	case io.Writer:
		if devices.activeConsole == nil {
			devices.activeConsole = drvImpl
			kfmt.SetOutputSink(drvImpl)
		}
	}
}
