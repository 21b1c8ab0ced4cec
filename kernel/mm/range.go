package mm

// Range describes the half-open address range [Start, End).
type Range struct {
	Start uintptr
	End   uintptr
}

// RangeOf returns the range of size bytes starting at start.
func RangeOf(start, size uintptr) Range {
	return Range{Start: start, End: start + size}
}

// Size returns the range length in bytes.
func (r Range) Size() uintptr {
	return r.End - r.Start
}

// Contains returns true if addr lies inside the range.
func (r Range) Contains(addr uintptr) bool {
	return addr >= r.Start && addr < r.End
}

// Overlaps returns true if the two ranges share at least one address.
func (r Range) Overlaps(other Range) bool {
	return r.Start < other.End && other.Start < r.End
}

// PageAligned returns true if both range bounds fall on a page boundary.
func (r Range) PageAligned() bool {
	return r.Start&(PageSize-1) == 0 && r.End&(PageSize-1) == 0
}

// Pages returns the number of pages spanned by a page-aligned range.
func (r Range) Pages() uintptr {
	return r.Size() >> PageShift
}
