package apic

// DeliveryMode selects how the target core treats an IPI.
type DeliveryMode uint8

const (
	DeliveryFixed          DeliveryMode = 0
	DeliveryLowestPriority DeliveryMode = 1
	DeliverySMI            DeliveryMode = 2
	DeliveryNMI            DeliveryMode = 4
	DeliveryInit           DeliveryMode = 5
	DeliveryStartup        DeliveryMode = 6
)

// Shorthand selects a destination group without using the destination field.
type Shorthand uint8

const (
	ShorthandNone Shorthand = iota
	ShorthandSelf
	ShorthandAllIncludingSelf
	ShorthandAllExcludingSelf
)

// InterruptCommand describes the contents of the interrupt command register.
//
// Low dword layout:
//
//	bits 0-7    vector
//	bits 8-10   delivery mode
//	bit  11     destination mode (0 = physical, 1 = logical)
//	bit  12     delivery status (read-only)
//	bit  14     level (0 = de-assert, 1 = assert)
//	bit  15     trigger mode (0 = edge, 1 = level)
//	bits 18-19  destination shorthand
//
// High dword layout:
//
//	bits 24-31  destination
type InterruptCommand struct {
	Vector             uint8
	DeliveryMode       DeliveryMode
	LogicalDestination bool
	Assert             bool
	LevelTriggered     bool
	Shorthand          Shorthand
	Destination        uint8
}

const (
	icrDeliveryModeShift = 8
	icrLogicalBit        = 1 << 11
	icrDeliveryPending   = 1 << 12
	icrAssertBit         = 1 << 14
	icrLevelTriggerBit   = 1 << 15
	icrShorthandShift    = 18
	icrDestinationShift  = 24
)

// Low returns the value for the low ICR dword. Writing it sends the IPI.
func (c InterruptCommand) Low() uint32 {
	v := uint32(c.Vector) |
		uint32(c.DeliveryMode&0x7)<<icrDeliveryModeShift |
		uint32(c.Shorthand&0x3)<<icrShorthandShift

	if c.LogicalDestination {
		v |= icrLogicalBit
	}
	if c.Assert {
		v |= icrAssertBit
	}
	if c.LevelTriggered {
		v |= icrLevelTriggerBit
	}
	return v
}

// High returns the value for the high ICR dword.
func (c InterruptCommand) High() uint32 {
	return uint32(c.Destination) << icrDestinationShift
}

// DecodeInterruptCommand rebuilds an InterruptCommand from raw ICR dwords.
func DecodeInterruptCommand(low, high uint32) InterruptCommand {
	return InterruptCommand{
		Vector:             uint8(low),
		DeliveryMode:       DeliveryMode(low>>icrDeliveryModeShift) & 0x7,
		LogicalDestination: low&icrLogicalBit != 0,
		Assert:             low&icrAssertBit != 0,
		LevelTriggered:     low&icrLevelTriggerBit != 0,
		Shorthand:          Shorthand(low>>icrShorthandShift) & 0x3,
		Destination:        uint8(high >> icrDestinationShift),
	}
}
