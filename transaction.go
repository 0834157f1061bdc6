package pagestore

import "context"

// Txn is the transaction-scoped page-access interface passed to a
// RunTransaction callback (§6 "Page-access interface offered to higher
// layers"). A Txn must not be retained past the callback's return.
type Txn struct {
	store *Store
	dirty map[uint32][]byte
}

// Get returns page n's bytes: the transaction's own dirty copy if n was
// already written through GetForUpdate, otherwise the store's current
// cached view. It raises retryRequired if n is not loaded.
func (tx *Txn) Get(n uint32) ([]byte, error) {
	if buf, ok := tx.dirty[n]; ok {
		return buf, nil
	}
	if n > tx.store.MaxPageNumber() {
		return nil, NewError(ErrInvalidArgument, "page_number out of range")
	}
	b, ok := tx.store.GetPage(n)
	if !ok {
		return nil, retryRequired
	}
	return b, nil
}

// GetForUpdate returns a mutable, per-transaction copy of page n's bytes.
// The first call for a given n copies the current logical bytes; later
// calls (for the same n, within the same transaction) return the same
// buffer, so mutations accumulate (§4.5). It raises retryRequired if n is
// not loaded.
func (tx *Txn) GetForUpdate(n uint32) ([]byte, error) {
	if buf, ok := tx.dirty[n]; ok {
		return buf, nil
	}
	if n > tx.store.MaxPageNumber() {
		return nil, NewError(ErrInvalidArgument, "page_number out of range")
	}
	b, ok := tx.store.GetPage(n)
	if !ok {
		return nil, retryRequired
	}
	cp := tx.store.scratch.alloc(n)
	copy(cp, b)
	tx.dirty[n] = cp
	return cp, nil
}

// TxResult is the outcome of RunTransaction: either a committed result or
// NotCommitted (retries exhausted against CAS conflicts), matching
// `Committed<R> | NotCommitted` from §4.4's run_transaction contract.
type TxResult struct {
	Committed bool
	Result    any
}

// RunTransaction runs fn against store in the attempt loop described by
// §4.5's state machine: it awaits outstanding loads, invokes fn with a
// fresh Txn, plans a commit from whatever fn dirtied, and writes it to the
// backend, retrying on a lost CAS or a RetryRequired signal from fn. retries
// bounds the number of retries after the first attempt; nil means
// unbounded. Only one RunTransaction may be active on a given store at a
// time (§4.5 "Serial execution"); an overlapping call fails immediately
// with ErrConcurrentTransaction.
func (s *Store) RunTransaction(ctx context.Context, fn func(*Txn) (any, error), retries *int) (TxResult, error) {
	s.mu.Lock()
	if s.txActive {
		s.mu.Unlock()
		return TxResult{}, NewError(ErrConcurrentTransaction, "")
	}
	s.txActive = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.txActive = false
		s.mu.Unlock()
	}()

	tried := map[uint64]struct{}{}

	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			s.Refresh()
		}
		if s.Loading() {
			if err := s.LoadingFinished(ctx); err != nil {
				return TxResult{}, err
			}
		}

		tx := &Txn{store: s, dirty: make(map[uint32][]byte)}
		result, err := fn(tx)
		if isRetryRequired(err) {
			s.releaseDirty(tx.dirty)
			if exhausted(retries, attempt) {
				return TxResult{}, nil
			}
			continue
		}
		if err != nil {
			s.releaseDirty(tx.dirty)
			return TxResult{}, err
		}

		commit, err := s.planCommit(tx.dirty, tried)
		s.releaseDirty(tx.dirty)
		if isRetryRequired(err) {
			if exhausted(retries, attempt) {
				return TxResult{}, nil
			}
			continue
		}
		if err != nil {
			return TxResult{}, err
		}
		if commit == nil {
			return TxResult{Committed: true, Result: result}, nil
		}

		ok, err := s.backend.WritePages(ctx, commit.newIndex, commit.prevTxID, commit.pages)
		if err != nil {
			s.releaseMaterialized(commit)
			return TxResult{}, WrapError(ErrBackend, err)
		}
		if !ok {
			s.releaseMaterialized(commit)
			tried[commit.newIndex.TxID] = struct{}{}
			if exhausted(retries, attempt) {
				return TxResult{}, nil
			}
			continue
		}

		// applyCommitLocally copies commit.pages' bytes into the cache
		// before the scratch buffers backing them are released below.
		s.applyCommitLocally(commit)
		s.releaseMaterialized(commit)
		return TxResult{Committed: true, Result: result}, nil
	}
}

// exhausted reports whether retries are exhausted after attempt (0-based).
// A nil retries bound means unbounded retries.
func exhausted(retries *int, attempt int) bool {
	return retries != nil && attempt >= *retries
}

// releaseDirty returns every per-transaction copy-on-write buffer to the
// scratch allocator once the attempt that produced them is done with them
// (DiffPatches in planCommit only ever reads them, never retains them).
func (s *Store) releaseDirty(dirty map[uint32][]byte) {
	for _, buf := range dirty {
		s.scratch.release(buf)
	}
}

// releaseMaterialized returns a planned commit's materialized page
// buffers to the scratch allocator once WritePages (and, on success,
// applyCommitLocally's copy into the cache) no longer need them.
func (s *Store) releaseMaterialized(commit *plannedCommit) {
	for _, pw := range commit.pages {
		s.scratch.release(pw.Bytes)
	}
}

// applyCommitLocally installs a just-written commit as if it had come back
// from a ReadPages call (§4.5 step 4: "apply the commit locally... installs
// the new Index Page and backend pages, propagates change callbacks").
func (s *Store) applyCommitLocally(commit *plannedCommit) {
	s.mu.Lock()
	result := ReadResult{
		Index: &IndexRead{TxID: commit.newIndex.TxID, Bytes: commit.newIndex.Bytes},
	}
	for _, pw := range commit.pages {
		// Copy out of the (possibly scratch-allocated) write buffer: the
		// cache entry installed below must outlive releaseMaterialized.
		bytes := make([]byte, len(pw.Bytes))
		copy(bytes, pw.Bytes)
		result.Pages = append(result.Pages, PageRead{ID: pw.ID, Bytes: bytes})
	}
	s.applyReadResultLocked(result)

	needRead, changed := s.resolveRoundLocked()
	for pn := range needRead {
		// Not resolvable purely from the commit just applied (e.g. an
		// unrelated page still waiting on its own backend read); leave it
		// pending for the next LoadingFinished call rather than issuing a
		// read here.
		s.pending[pn] = struct{}{}
	}
	fired := s.collectCallbacksLocked(changed)
	s.mu.Unlock()

	for _, cb := range fired {
		cb()
	}
}
