package pagestore

import "sort"

// plannedCommit is the output of planCommit: a ready-to-write Index Page
// plus zero or more materialized backend pages (§4.6).
type plannedCommit struct {
	newIndex IndexWrite
	prevTxID uint64
	pages    []PageWrite
}

// planCommit builds a commit from dirty (the pages a transaction wrote
// through GetForUpdate) against the store's current Index Page, skipping
// any TxId already in tried (§4.6). It returns (nil, nil) if the commit
// would be a no-op (nothing actually changed), and retryRequired if a page
// needed to decide or build the commit isn't loaded yet.
func (s *Store) planCommit(dirty map[uint32][]byte, tried map[uint64]struct{}) (*plannedCommit, error) {
	if len(dirty) == 0 {
		return nil, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	working := s.index.clone()
	changedAny := false

	dirtyPages := make([]uint32, 0, len(dirty))
	for p := range dirty {
		dirtyPages = append(dirtyPages, p)
	}
	sort.Slice(dirtyPages, func(i, j int) bool { return dirtyPages[i] < dirtyPages[j] })

	for _, p := range dirtyPages {
		base, ok := s.baseBytesLocked(p)
		if !ok {
			return nil, retryRequired
		}
		newPatches, err := DiffPatches(base, dirty[p])
		if err != nil {
			return nil, err
		}
		old := working.PatchesByPage[p]
		if patchesEqual(old, newPatches) {
			continue
		}
		changedAny = true
		if len(newPatches) == 0 {
			delete(working.PatchesByPage, p)
		} else {
			working.PatchesByPage[p] = newPatches
		}
	}

	if !changedAny {
		return nil, nil
	}

	nextTxID := s.indexTxID + 1
	for {
		if _, bad := tried[nextTxID]; bad {
			nextTxID++
			continue
		}
		break
	}

	materialized := map[uint32][]byte{}
	treeRoot := s.index.TxTreeRootTxID

	for {
		working.TxTreeRootTxID = treeRoot
		if working.SerializedLen() <= int(s.maxIndexPageSize) {
			return s.finishCommitLocked(working, nextTxID, materialized), nil
		}

		q, ok := largestPatchedPage(working)
		if !ok {
			return nil, NewError(ErrInvalidArgument, "index page header exceeds max_index_page_size")
		}

		qBuf, err := s.currentBufferLocked(q, working, materialized)
		if err != nil {
			return nil, err
		}
		materialized[q] = qBuf
		delete(working.PatchesByPage, q)

		parentPage, offset, hasParent := s.tree.TxIDLocation(q)
		if !hasParent {
			treeRoot = nextTxID
			continue
		}

		if buf, already := materialized[parentPage]; already {
			putUint48(buf[offset:offset+6], nextTxID)
			continue
		}

		base, ok := s.baseBytesLocked(parentPage)
		if !ok {
			return nil, retryRequired
		}
		cur, err := ApplyPatches(base, working.PatchesByPage[parentPage])
		if err != nil {
			return nil, err
		}
		putUint48(cur[offset:offset+6], nextTxID)
		newPatches, err := DiffPatches(base, cur)
		if err != nil {
			return nil, err
		}
		if len(newPatches) == 0 {
			delete(working.PatchesByPage, parentPage)
		} else {
			working.PatchesByPage[parentPage] = newPatches
		}
	}
}

// finishCommitLocked assembles the final plannedCommit once working fits
// under the Index Page size budget.
func (s *Store) finishCommitLocked(working *Index, nextTxID uint64, materialized map[uint32][]byte) *plannedCommit {
	pns := make([]uint32, 0, len(materialized))
	for pn := range materialized {
		pns = append(pns, pn)
	}
	sort.Slice(pns, func(i, j int) bool { return pns[i] < pns[j] })

	pages := make([]PageWrite, 0, len(pns))
	for _, pn := range pns {
		pages = append(pages, PageWrite{ID: BackendPageID{PageNumber: pn, TxID: nextTxID}, Bytes: materialized[pn]})
	}

	return &plannedCommit{
		newIndex: IndexWrite{TxID: nextTxID, Bytes: SerializeIndex(working, s.pageSize)},
		prevTxID: s.indexTxID,
		pages:    pages,
	}
}

// baseBytesLocked returns page pn's base bytes (pre-commit, unpatched) if
// already cached and ready, and false otherwise — triggering a load (via
// getPageLocked's pending side effect) for the caller to retry after.
func (s *Store) baseBytesLocked(pn uint32) ([]byte, bool) {
	if e := s.entries.get(pn); e != nil && e.ready {
		return e.baseBytes, true
	}
	s.getPageLocked(pn)
	return nil, false
}

// currentBufferLocked returns page pn's full content under the in-progress
// commit plan: the buffer already materialized this commit if pn was
// spilled earlier in the same loop (so callers can mutate it in place, §4.6
// step c(ii)), otherwise base bytes with working's current patch list for
// pn applied.
func (s *Store) currentBufferLocked(pn uint32, working *Index, materialized map[uint32][]byte) ([]byte, error) {
	if buf, ok := materialized[pn]; ok {
		return buf, nil
	}
	base, ok := s.baseBytesLocked(pn)
	if !ok {
		return nil, retryRequired
	}
	applied, err := ApplyPatches(base, working.PatchesByPage[pn])
	if err != nil {
		return nil, err
	}
	buf := s.scratch.alloc(pn)
	copy(buf, applied)
	return buf, nil
}

// largestPatchedPage returns the page number with the largest serialized
// patch-list total in idx (§4.6 step b), breaking ties by lower page number
// for deterministic commit planning.
func largestPatchedPage(idx *Index) (uint32, bool) {
	var best uint32
	bestSize := -1
	found := false
	for p, patches := range idx.PatchesByPage {
		if len(patches) == 0 {
			continue
		}
		size := patchListTotalBytes(patches)
		if size > bestSize || (size == bestSize && (!found || p < best)) {
			best = p
			bestSize = size
			found = true
		}
	}
	return best, found
}
