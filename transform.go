package pagestore

import "context"

// TransformFunc is a pure byte-to-byte function used by TransformBackend.
type TransformFunc func(pageNumber uint32, in []byte) ([]byte, error)

// TransformBackend wraps an inner Backend with a pair of pure byte-level
// transforms (§4.7, C7): Transform runs before bytes are handed to the inner
// backend on a write, ReverseTransform runs after bytes come back from a
// read. Page identifiers (page number, TxId) pass through unchanged; only
// the stored bytes are affected. MaxPageSizeOverhead bounds how much larger
// Transform is allowed to make a buffer, so callers can size Config.PageSize
// against the inner backend's MaxPageSize.
//
// The Index Page is transformed like any other page, except that an empty
// Index Page read from the inner backend is passed through as-is instead of
// going through ReverseTransform.
type TransformBackend struct {
	inner               Backend
	transform           TransformFunc
	reverseTransform    TransformFunc
	maxPageSizeOverhead uint32
}

// NewTransformBackend wraps inner with transform/reverseTransform, declaring
// that transform never grows a buffer by more than maxPageSizeOverhead bytes.
func NewTransformBackend(inner Backend, transform, reverseTransform TransformFunc, maxPageSizeOverhead uint32) *TransformBackend {
	return &TransformBackend{
		inner:               inner,
		transform:           transform,
		reverseTransform:    reverseTransform,
		maxPageSizeOverhead: maxPageSizeOverhead,
	}
}

// MaxPageSize is the inner backend's limit minus the overhead transform may
// add, so a Store configured against this value never produces a transformed
// buffer the inner backend would reject.
func (b *TransformBackend) MaxPageSize() uint32 {
	inner := b.inner.MaxPageSize()
	if inner <= b.maxPageSizeOverhead {
		return 0
	}
	return inner - b.maxPageSizeOverhead
}

func (b *TransformBackend) ReadPages(ctx context.Context, includeIndex bool, ids []BackendPageID) (ReadResult, error) {
	raw, err := b.inner.ReadPages(ctx, includeIndex, ids)
	if err != nil {
		return ReadResult{}, err
	}

	var result ReadResult
	if raw.Index != nil {
		// An empty Index is the §4.3 sentinel for "nothing committed yet",
		// not a transformed value; reverseTransform never produced it and
		// must not be asked to invert it (mirrors DeserializeIndex's own
		// empty-slice special case).
		if len(raw.Index.Bytes) == 0 {
			result.Index = &IndexRead{TxID: raw.Index.TxID, Bytes: nil}
		} else {
			bytes, err := b.reverseTransform(indexPseudoPageNumber, raw.Index.Bytes)
			if err != nil {
				return ReadResult{}, WrapError(ErrFormat, err)
			}
			result.Index = &IndexRead{TxID: raw.Index.TxID, Bytes: bytes}
		}
	}
	result.Pages = make([]PageRead, 0, len(raw.Pages))
	for _, p := range raw.Pages {
		bytes, err := b.reverseTransform(p.ID.PageNumber, p.Bytes)
		if err != nil {
			return ReadResult{}, WrapError(ErrFormat, err)
		}
		result.Pages = append(result.Pages, PageRead{ID: p.ID, Bytes: bytes})
	}
	return result, nil
}

func (b *TransformBackend) WritePages(ctx context.Context, newIndex IndexWrite, prevTxID uint64, pages []PageWrite) (bool, error) {
	indexBytes, err := b.transform(indexPseudoPageNumber, newIndex.Bytes)
	if err != nil {
		return false, WrapError(ErrFormat, err)
	}
	transformedIndex := IndexWrite{TxID: newIndex.TxID, Bytes: indexBytes}

	transformedPages := make([]PageWrite, 0, len(pages))
	for _, p := range pages {
		bytes, err := b.transform(p.ID.PageNumber, p.Bytes)
		if err != nil {
			return false, WrapError(ErrFormat, err)
		}
		transformedPages = append(transformedPages, PageWrite{ID: p.ID, Bytes: bytes})
	}

	return b.inner.WritePages(ctx, transformedIndex, prevTxID, transformedPages)
}

// indexPseudoPageNumber is passed to transform/reverseTransform for the
// Index Page, which has no real page number of its own (§3).
const indexPseudoPageNumber = 0xFFFFFFFF
