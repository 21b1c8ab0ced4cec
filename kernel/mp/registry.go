package mp

import (
	"sync/atomic"
	"unsafe"
)

// cores maps local APIC ids to controllers. Each slot is written once by the
// BSP before the AP is started and only read afterwards.
var cores [256]unsafe.Pointer

func register(c *Controller) {
	atomic.StorePointer(&cores[c.apicID], unsafe.Pointer(c))
}

func unregister(apicID uint8) {
	atomic.StorePointer(&cores[apicID], nil)
}

// Current returns the controller registered for the core with the given
// local APIC id or nil.
func Current(apicID uint8) *Controller {
	return (*Controller)(atomic.LoadPointer(&cores[apicID]))
}
