package kmem

import (
	"mpkernel/kernel"
	"mpkernel/kernel/mm"
	"mpkernel/kernel/mm/vmm"
)

// ContinuousPages is a set of Pages covering a contiguous, page-aligned
// virtual range. The backing frames are not contiguous.
type ContinuousPages struct {
	region mm.Range
	pages  []*Page
}

// NewContinuousPages maps one new page for every 4KiB of region. Either every
// page ends up mapped or, on error, every page installed by the call is
// unmapped again before the error is returned. If unmapping fails the range
// is left partially mapped and the unmap error is returned instead.
func NewContinuousPages(pdt *vmm.PageDirectoryTable, region mm.Range, writable, executable bool) (*ContinuousPages, *kernel.Error) {
	if region.End <= region.Start || !region.PageAligned() {
		return nil, errInvalidRange
	}

	cp := &ContinuousPages{
		region: region,
		pages:  make([]*Page, 0, region.Pages()),
	}

	for addr := region.Start; addr < region.End; addr += mm.PageSize {
		page, err := NewPage(pdt, addr, writable, executable)
		if err != nil {
			if freeErr := cp.Free(pdt); freeErr != nil {
				return nil, freeErr
			}
			return nil, err
		}
		cp.pages = append(cp.pages, page)
	}

	return cp, nil
}

// Range returns the virtual range spanned by the pages.
func (cp *ContinuousPages) Range() mm.Range { return cp.region }

// Len returns the number of pages.
func (cp *ContinuousPages) Len() int { return len(cp.pages) }

// Page returns the i-th page of the range.
func (cp *ContinuousPages) Page(i int) *Page { return cp.pages[i] }

// Free unmaps and releases every page.
func (cp *ContinuousPages) Free(pdt *vmm.PageDirectoryTable) *kernel.Error {
	var firstErr *kernel.Error
	for _, page := range cp.pages {
		if err := page.Free(pdt); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	cp.pages = cp.pages[:0]
	return firstErr
}
