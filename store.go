package pagestore

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Config configures a Store (§4.4, §6 "Configuration").
type Config struct {
	// PageSize is the fixed page size in bytes, in [MinPageSize, MaxPageSize].
	// It cannot change after the first commit against a given backend.
	PageSize uint32

	// MaxIndexPageSize bounds the serialized size of the Index Page the
	// commit planner (§4.6) will produce. It may change across runs;
	// existing larger Index Pages remain readable.
	MaxIndexPageSize uint32

	// Logger receives structured diagnostic events. The only event logged
	// is a failure to apply a page's Index Page patches while resolving it;
	// page loads, commits and retries are not logged. The zero value is a
	// safe no-op, matching zerolog's usual convention.
	Logger zerolog.Logger

	// SpillDir, if non-empty, backs commit-planning scratch buffers with an
	// mmap-backed allocator instead of plain heap allocations (§9 "Scratch
	// buffers for tree pages during commit planning").
	SpillDir string
}

// pageFingerprint is PageEntryKey from §4.4: two equal fingerprints imply
// byte-equal logical content for that page. patchGen is a per-store
// monotonic counter bumped whenever a page's patch list actually changes
// content, standing in for the "replace the fingerprint object so stale
// patch lists can be reclaimed" requirement without relying on slice
// reference identity (§9 "generation numbers rather than reference
// equality").
type pageFingerprint struct {
	effTxID  uint64
	patchGen uint64
}

// pageEntry is one logical page's cache entry (§3 "Page cache entries").
type pageEntry struct {
	pageNumber   uint32
	ready        bool
	fp           pageFingerprint
	baseBytes    []byte // backend bytes (or all-zero) at fp.effTxID
	logicalBytes []byte // baseBytes with patches_by_page[pageNumber] applied
}

// recorder is one get_page_reads_recorder registration (§4.4, §9 "Callback
// set keyed by a wrapped closure identity"): a unique integer handle rather
// than closure identity, so deregistration doesn't depend on comparing
// function values.
type recorder struct {
	onChange func()
	pages    map[uint32]pageFingerprint
}

// Store is the Page Store cache (C5): an in-memory map of logical pages,
// coordinated page loads against a Backend, reader-recorded change
// notification, and the entry point for RunTransaction (C6).
type Store struct {
	backend          Backend
	pageSize         uint32
	maxIndexPageSize uint32
	tree             *TreeCalc
	logger           zerolog.Logger
	instanceID       uuid.UUID
	spillDir         string
	scratch          *scratchAllocator

	mu              sync.Mutex
	entries         entryCache
	index           *Index
	indexTxID       uint64
	patchGen        map[uint32]uint64
	patchGenCounter uint64

	pending     map[uint32]struct{}
	refresh     bool
	indexLoaded bool

	recorders  map[int]*recorder
	nextHandle int

	txActive bool
}

// NewStore creates a Store over backend, validating cfg against the limits
// in §4.4 and §6.
func NewStore(backend Backend, cfg Config) (*Store, error) {
	if cfg.PageSize < MinPageSize || cfg.PageSize > MaxPageSize {
		return nil, NewError(ErrInvalidArgument, "page_size out of range")
	}
	if backendMax := backend.MaxPageSize(); cfg.PageSize > backendMax || cfg.MaxIndexPageSize > backendMax {
		return nil, NewError(ErrInvalidArgument, "page_size or max_index_page_size exceeds backend's max_page_size")
	}
	if cfg.MaxIndexPageSize == 0 {
		return nil, NewError(ErrInvalidArgument, "max_index_page_size must be positive")
	}

	scratch, err := newScratchAllocator(cfg.SpillDir, cfg.PageSize)
	if err != nil {
		return nil, WrapError(ErrInvalidArgument, err)
	}

	s := &Store{
		backend:          backend,
		pageSize:         cfg.PageSize,
		maxIndexPageSize: cfg.MaxIndexPageSize,
		tree:             NewTreeCalc(cfg.PageSize),
		logger:           cfg.Logger,
		instanceID:       uuid.New(),
		spillDir:         cfg.SpillDir,
		scratch:          scratch,
		index:            emptyIndex(),
		patchGen:         make(map[uint32]uint64),
		pending:          make(map[uint32]struct{}),
		recorders:        make(map[int]*recorder),
	}
	s.logger = s.logger.With().Str("instance_id", s.instanceID.String()).Logger()
	return s, nil
}

// Close releases any scratch files allocated for SpillDir. It does not
// close the backend, which the caller owns.
func (s *Store) Close() error {
	return s.scratch.close()
}

// StoreStats summarizes a Store's current cache state (§C), useful for
// tests and operators that want visibility into how much a Store has
// loaded without reaching into its internals.
type StoreStats struct {
	// CachedEntries is the number of page entries with ready, immediately
	// usable logical bytes.
	CachedEntries int
	// LoadingEntries is the number of page entries created (e.g. by a
	// GetPage miss) but not yet resolved.
	LoadingEntries int
	// PendingLoads is the number of page numbers a future LoadingFinished
	// call will attempt to resolve or fetch.
	PendingLoads int
	// Recorders is the number of currently registered read recorders.
	Recorders int
	// SpillBacked reports whether Config.SpillDir is in effect for this
	// store's scratch buffers.
	SpillBacked bool
	// SpillAllocatedSlots and SpillCapacitySlots report the mmap-backed
	// scratch allocator's current utilization; both are 0 when SpillBacked
	// is false.
	SpillAllocatedSlots uint32
	SpillCapacitySlots  uint32
}

// Stats reports StoreStats for the store's current state.
func (s *Store) Stats() StoreStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	stats := StoreStats{
		PendingLoads: len(s.pending),
		Recorders:    len(s.recorders),
	}
	total := s.entries.len()
	s.entries.forEach(func(pn uint32, e *pageEntry) {
		if e.ready {
			stats.CachedEntries++
		}
	})
	stats.LoadingEntries = total - stats.CachedEntries

	ss := s.scratch.stats()
	stats.SpillBacked = ss.SpillBacked
	stats.SpillAllocatedSlots = ss.AllocatedSlots
	stats.SpillCapacitySlots = ss.CapacitySlots
	return stats
}

// MaxPageNumber returns the highest normal page number a caller may address.
func (s *Store) MaxPageNumber() uint32 {
	return s.tree.MaxNormalPageNumber()
}

// PageSize returns the store's fixed page size.
func (s *Store) PageSize() uint32 {
	return s.pageSize
}

// Loading reports whether any page load is currently outstanding.
func (s *Store) Loading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending) > 0 || s.refresh || !s.indexLoaded
}

// Refresh schedules a check for a newer Index Page version in the backend;
// the check itself happens on the next LoadingFinished call (§4.4).
func (s *Store) Refresh() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refresh = true
}

// GetPage returns the current logical bytes of page n, or (nil, false) if
// the cache entry is not yet usable; a load is scheduled as a side effect.
// The caller must not mutate the returned slice (§4.4).
func (s *Store) GetPage(n uint32) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getPageLocked(n)
}

func (s *Store) getPageLocked(n uint32) ([]byte, bool) {
	e := s.entries.get(n)
	if e != nil && e.ready {
		return e.logicalBytes, true
	}
	if e == nil {
		e = &pageEntry{pageNumber: n}
		s.entries.set(n, e)
	}
	s.pending[n] = struct{}{}
	return nil, false
}

// ReadRecorder is returned by GetPageReadsRecorder; each Run invocation
// records which pages were touched via the GetPageFunc passed to fn.
type ReadRecorder struct {
	store  *Store
	handle int
}

// GetPageFunc reads a page while recording it against the enclosing
// ReadRecorder invocation, for later change notification.
type GetPageFunc func(pageNumber uint32) ([]byte, bool)

// GetPageReadsRecorder registers onChange to be invoked (at most once per
// invalidation event) whenever a page read through the returned recorder's
// most recent Run call changes observable content (§4.4, P6). Calling Run
// with a fn that performs no reads deregisters onChange.
func (s *Store) GetPageReadsRecorder(onChange func()) *ReadRecorder {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := s.nextHandle
	s.nextHandle++
	s.recorders[h] = &recorder{onChange: onChange, pages: map[uint32]pageFingerprint{}}
	return &ReadRecorder{store: s, handle: h}
}

// Run executes fn, giving it a GetPageFunc that records every page it
// reads. The recorded set replaces whatever this recorder tracked before;
// an empty set (fn performs no reads) deregisters the recorder entirely.
func (r *ReadRecorder) Run(fn func(get GetPageFunc)) {
	s := r.store
	touched := map[uint32]pageFingerprint{}
	get := func(pn uint32) ([]byte, bool) {
		s.mu.Lock()
		defer s.mu.Unlock()
		b, ok := s.getPageLocked(pn)
		// A miss is recorded too, so onChange fires once the page loads.
		if e := s.entries.get(pn); e != nil {
			touched[pn] = e.fp
		}
		return b, ok
	}

	fn(get)

	s.mu.Lock()
	defer s.mu.Unlock()
	if len(touched) == 0 {
		delete(s.recorders, r.handle)
		return
	}
	if rec, ok := s.recorders[r.handle]; ok {
		rec.pages = touched
	}
}

// LoadingFinished drives pending page loads to completion, issuing coalesced
// backend.ReadPages calls and re-evaluating cache entries (§4.4) until no
// load remains outstanding. It blocks (suspends, in the spec's scheduling
// model) on backend I/O only; every other step runs synchronously.
func (s *Store) LoadingFinished(ctx context.Context) error {
	for {
		s.mu.Lock()
		if !s.indexLoaded {
			// The Index Page's real content (in particular, whether the
			// backend already holds committed data) can't be inferred from
			// the empty index NewStore starts with, so the first round
			// always fetches it before any page resolves to "implicitly
			// zero" (§4.4 step 1, P4).
			s.mu.Unlock()
			result, err := s.backend.ReadPages(ctx, true, nil)
			if err != nil {
				return WrapError(ErrBackend, err)
			}
			s.mu.Lock()
			s.indexLoaded = true
			s.applyReadResultLocked(result)
			s.mu.Unlock()
			continue
		}
		if len(s.pending) == 0 && !s.refresh {
			s.mu.Unlock()
			return nil
		}

		needRead, changed := s.resolveRoundLocked()

		root := s.tree.RootPageNumber()
		if re := s.entries.get(root); re == nil || !re.ready {
			if s.index.TxTreeRootTxID != 0 {
				needRead[root] = s.index.TxTreeRootTxID
			}
		}

		refreshing := s.refresh
		s.refresh = false

		if len(needRead) == 0 && !refreshing {
			fired := s.collectCallbacksLocked(changed)
			s.mu.Unlock()
			for _, cb := range fired {
				cb()
			}
			continue
		}

		ids := make([]BackendPageID, 0, len(needRead))
		for pn, txID := range needRead {
			ids = append(ids, BackendPageID{PageNumber: pn, TxID: txID})
		}
		s.mu.Unlock()

		result, err := s.backend.ReadPages(ctx, true, ids)
		if err != nil {
			return WrapError(ErrBackend, err)
		}

		s.mu.Lock()
		s.applyReadResultLocked(result)
		fired := s.collectCallbacksLocked(changed)
		s.mu.Unlock()

		for _, cb := range fired {
			cb()
		}
	}
}

// resolveRoundLocked drains the current pending set, attempting to resolve
// each page (and, recursively, its ancestor chain) from already-cached
// data. It returns the backend reads still needed and the set of pages
// whose observable content just changed, for the caller to act on.
func (s *Store) resolveRoundLocked() (needRead map[uint32]uint64, changed map[uint32]struct{}) {
	pendingSnapshot := make([]uint32, 0, len(s.pending))
	for pn := range s.pending {
		pendingSnapshot = append(pendingSnapshot, pn)
	}
	s.pending = make(map[uint32]struct{})
	needRead = map[uint32]uint64{}
	changed = map[uint32]struct{}{}
	for _, pn := range pendingSnapshot {
		s.resolveLocked(pn, needRead, changed)
	}
	return needRead, changed
}

// resolveLocked attempts to fully resolve pn (root, tree page, or normal
// page), creating its cache entry if necessary, recursing up the
// transaction-tree chain as needed (§4.4 step 3: a page's TxId comes from
// its parent's level, so parents resolve first). If resolution needs a
// backend page not yet cached, it records the id to fetch in needRead and
// leaves pn pending for the next round. Pages whose TxId (as read from the
// parent's logical bytes) turns out to be 0 resolve immediately against an
// all-zero base, without any backend read.
func (s *Store) resolveLocked(pn uint32, needRead map[uint32]uint64, changed map[uint32]struct{}) bool {
	e := s.entries.get(pn)
	if e == nil {
		e = &pageEntry{pageNumber: pn}
		s.entries.set(pn, e)
	}
	if e.ready {
		return true
	}

	var txID uint64
	root := s.tree.RootPageNumber()
	if pn == root {
		txID = s.index.TxTreeRootTxID
	} else {
		parentPage, offset, hasParent := s.tree.TxIDLocation(pn)
		if !hasParent {
			txID = s.index.TxTreeRootTxID
		} else {
			if !s.resolveLocked(parentPage, needRead, changed) {
				s.pending[pn] = struct{}{}
				return false
			}
			// The parent's logical bytes (base plus whatever patches the
			// Index Page carries for it) are authoritative even when the
			// parent itself was never materialized to the backend: a small
			// tree-page update can live purely as an inline patch (§4.6),
			// so a zero base effTxID does not imply a zero child TxId.
			parentEntry := s.entries.get(parentPage)
			txID = getUint48(parentEntry.logicalBytes[offset : offset+6])
		}
	}

	var base []byte
	switch {
	case txID == 0:
		base = zeroBytes(int(s.pageSize))
	case e.baseBytes != nil && e.fp.effTxID == txID:
		base = e.baseBytes
	default:
		needRead[pn] = txID
		s.pending[pn] = struct{}{}
		return false
	}

	patches := s.index.PatchesByPage[pn]
	logical, err := ApplyPatches(base, patches)
	if err != nil {
		s.logger.Error().Uint32("page_number", pn).Err(err).Msg("failed to apply patches")
		s.pending[pn] = struct{}{}
		return false
	}

	newFP := pageFingerprint{effTxID: txID, patchGen: s.patchGen[pn]}
	if !e.ready || newFP != e.fp {
		changed[pn] = struct{}{}
	}
	e.baseBytes = base
	e.logicalBytes = logical
	e.fp = newFP
	e.ready = true
	delete(s.pending, pn)
	return true
}

// applyReadResultLocked installs a ReadPages result: a changed Index Page
// invalidates every entry's readiness (§4.4 step 1); each returned page's
// bytes are stored against the entry it was requested for, ready to be
// finalized by resolveLocked on the next round (§4.4 step 2).
func (s *Store) applyReadResultLocked(result ReadResult) {
	if result.Index != nil && result.Index.TxID != s.indexTxID {
		newIndex, err := DeserializeIndex(result.Index.Bytes, s.pageSize)
		if err == nil {
			s.installIndexLocked(newIndex, result.Index.TxID)
		}
	}
	for _, pr := range result.Pages {
		e := s.entries.get(pr.ID.PageNumber)
		if e == nil {
			e = &pageEntry{pageNumber: pr.ID.PageNumber}
			s.entries.set(pr.ID.PageNumber, e)
		}
		e.baseBytes = pr.Bytes
		e.ready = false
		e.fp.effTxID = pr.ID.TxID
		s.pending[pr.ID.PageNumber] = struct{}{}
	}
}

// installIndexLocked replaces the cached Index Page, bumping patchGen for
// every page whose patch list actually changed (§9 "generation numbers
// rather than reference equality"), and marks every known entry not-ready
// and pending so the next resolveLocked pass recomputes it against the new
// Index (§4.4 step 1: "invalidate every entry's cached TxId").
func (s *Store) installIndexLocked(newIndex *Index, newTxID uint64) {
	old := s.index
	touched := map[uint32]struct{}{}
	for p := range old.PatchesByPage {
		touched[p] = struct{}{}
	}
	for p := range newIndex.PatchesByPage {
		touched[p] = struct{}{}
	}
	for p := range touched {
		if !patchesEqual(old.PatchesByPage[p], newIndex.PatchesByPage[p]) {
			s.patchGenCounter++
			s.patchGen[p] = s.patchGenCounter
		}
	}
	s.index = newIndex
	s.indexTxID = newTxID
	s.entries.forEach(func(pn uint32, e *pageEntry) {
		e.ready = false
		s.pending[pn] = struct{}{}
	})
}

// collectCallbacksLocked returns, for every recorder with at least one
// recorded page in changedPages, its onChange callback (at most once per
// recorder per call, per §5's ordering guarantee).
func (s *Store) collectCallbacksLocked(changedPages map[uint32]struct{}) []func() {
	var fired []func()
	for _, rec := range s.recorders {
		for pn := range rec.pages {
			if _, ok := changedPages[pn]; ok {
				fired = append(fired, rec.onChange)
				break
			}
		}
	}
	return fired
}
