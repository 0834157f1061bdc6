package pagestore

import (
	"unsafe"

	"github.com/dbathon/pagestore/internal/fastmap"
)

// entryCache is a typed wrapper around the teacher's fastmap.Uint32Map,
// giving the Page Store a page-number-keyed cache of *pageEntry without
// scattering unsafe.Pointer conversions through store.go (§4.4, C5/C9).
type entryCache struct {
	m fastmap.Uint32Map
}

func (c *entryCache) get(pageNumber uint32) *pageEntry {
	p := c.m.Get(pageNumber)
	if p == nil {
		return nil
	}
	return (*pageEntry)(p)
}

func (c *entryCache) set(pageNumber uint32, e *pageEntry) {
	c.m.Set(pageNumber, unsafe.Pointer(e))
}

func (c *entryCache) forEach(fn func(pageNumber uint32, e *pageEntry)) {
	c.m.ForEach(func(pn uint32, p unsafe.Pointer) {
		fn(pn, (*pageEntry)(p))
	})
}

func (c *entryCache) len() int {
	return c.m.Len()
}
