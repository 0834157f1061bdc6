package pagestore

import (
	"context"
	"sync"
)

// MemBackend is the reference Backend implementation: an in-memory index
// page plus a map of backend pages, guarded by a single mutex and
// compare-and-swapped on the index's TxId (§4.8, C8). It is the minimum
// contract a real backend must provide, and is what the Store's tests
// (S1-S6) run against.
type MemBackend struct {
	maxPageSize uint32

	mu         sync.Mutex
	indexTxID  uint64
	indexBytes []byte
	pages      map[uint32]memPage
}

type memPage struct {
	txID  uint64
	bytes []byte
}

// NewMemBackend creates an empty in-memory backend willing to store pages
// up to maxPageSize bytes.
func NewMemBackend(maxPageSize uint32) *MemBackend {
	return &MemBackend{
		maxPageSize: maxPageSize,
		pages:       make(map[uint32]memPage),
	}
}

func (b *MemBackend) MaxPageSize() uint32 {
	return b.maxPageSize
}

func (b *MemBackend) ReadPages(ctx context.Context, includeIndex bool, ids []BackendPageID) (ReadResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var result ReadResult
	if includeIndex {
		result.Index = &IndexRead{TxID: b.indexTxID, Bytes: append([]byte(nil), b.indexBytes...)}
	}
	for _, id := range ids {
		p, ok := b.pages[id.PageNumber]
		if !ok || p.txID != id.TxID {
			continue
		}
		result.Pages = append(result.Pages, PageRead{ID: id, Bytes: append([]byte(nil), p.bytes...)})
	}
	return result, nil
}

func (b *MemBackend) WritePages(ctx context.Context, newIndex IndexWrite, prevTxID uint64, pages []PageWrite) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.indexTxID != prevTxID {
		return false, nil
	}

	b.indexTxID = newIndex.TxID
	b.indexBytes = append([]byte(nil), newIndex.Bytes...)
	for _, pw := range pages {
		b.pages[pw.ID.PageNumber] = memPage{txID: pw.ID.TxID, bytes: append([]byte(nil), pw.Bytes...)}
	}
	return true, nil
}

// PageCount returns the number of distinct backend pages stored, for test
// assertions (S4 checks that small commits materialize zero pages; S5/S6
// check that large ones materialize some).
func (b *MemBackend) PageCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pages)
}
