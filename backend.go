package pagestore

import "context"

// BackendPageID identifies one version of one backend page: the pair
// (page number, transaction id) described in §3. A backend only returns a
// page for an id whose TxId still matches what it has stored.
type BackendPageID struct {
	PageNumber uint32
	TxID       uint64
}

// IndexRead is the Index Page returned by a read, together with the TxId
// the backend currently associates with it (the Index Page's TxId is not
// stored inside its own bytes, §3).
type IndexRead struct {
	TxID  uint64
	Bytes []byte
}

// PageRead is one backend page returned by a read.
type PageRead struct {
	ID    BackendPageID
	Bytes []byte
}

// ReadResult is the result of Backend.ReadPages. Index is nil iff the
// caller did not request it. Pages omits any requested id whose
// (page_number, tx_id) no longer matches what the backend holds (§6).
type ReadResult struct {
	Index *IndexRead
	Pages []PageRead
}

// IndexWrite is the new Index Page a commit installs.
type IndexWrite struct {
	TxID  uint64
	Bytes []byte
}

// PageWrite is one backend page a commit installs or overwrites.
type PageWrite struct {
	ID    BackendPageID
	Bytes []byte
}

// Backend is the pluggable block layer beneath the Page Store (§6). An
// in-memory reference implementation is provided by NewMemBackend; a
// file-backed implementation is provided by NewFileBackend. Backends may
// additionally be wrapped with a TransformBackend (§4.7) for compression
// or encryption.
//
// Implementations must be safe for concurrent use by independent Store
// instances, coordinating through WritePages' compare-and-swap contract;
// the Page Store itself serializes all access to a single Backend value
// from one goroutine at a time ("single-threaded cooperative", §5) except
// for the Backend calls themselves, which may run concurrently with calls
// from other Store instances sharing the same Backend.
type Backend interface {
	// MaxPageSize returns the largest page size (in bytes) this backend
	// is willing to store. NewStore rejects a Config.PageSize or
	// Config.MaxIndexPageSize larger than this.
	MaxPageSize() uint32

	// ReadPages fetches the Index Page (if includeIndex) and every page
	// in ids whose stored version still matches. It never returns an
	// error for a version mismatch; a mismatched id is simply omitted
	// from the result.
	ReadPages(ctx context.Context, includeIndex bool, ids []BackendPageID) (ReadResult, error)

	// WritePages atomically replaces the Index Page and installs every
	// page in pages, iff prevTxID equals the tx id the backend currently
	// associates with its Index Page. Returns false (not an error) on a
	// compare-and-swap mismatch. Any other failure is returned as a
	// non-nil error (RunTransaction surfaces it wrapped as a BackendError);
	// callers must not retry it automatically (§7).
	WritePages(ctx context.Context, newIndex IndexWrite, prevTxID uint64, pages []PageWrite) (bool, error)
}
