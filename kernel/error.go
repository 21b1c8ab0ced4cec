package kernel

// Error describes a kernel error. Kernel errors are declared as package-level
// pointers to Error values and compared by identity; boot code runs before the
// allocator is trustworthy so errors.New is never called at runtime.
type Error struct {
	// The module where the error occurred.
	Module string

	// The error message
	Message string
}

// Error implements the error interface.
func (e *Error) Error() string {
	return e.Message
}
