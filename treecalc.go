package pagestore

// TreeCalc computes the static, arithmetically addressed layout of the
// transaction tree (§4.2, the "Tree calculator", C2): given a page size,
// it determines where in the backend page-number space the tree's levels
// live, and where within those levels any given page's TxId is recorded.
//
// A TreeCalc is pure and stateless once built: all of its answers are a
// function of page size alone, so one instance can be shared by every
// Store using the same page size.
type TreeCalc struct {
	pageSize            uint32
	fanout              uint32
	maxNormalPageNumber uint32

	// levelStarts[0] is the first page number of the leaf tree level
	// (the level whose entries are indexed directly by normal page
	// number). levelStarts[len-1] is the transaction-tree root page
	// number. Levels are laid out contiguously and in increasing page
	// number order, reserved top-down from math.MaxUint32 so that the
	// root always lands exactly on math.MaxUint32.
	levelStarts []uint32
	levelCounts []uint32
}

// NewTreeCalc builds the tree layout for the given page size. pageSize
// must already have been validated by the caller (§4.4: 4 KiB..64 KiB).
func NewTreeCalc(pageSize uint32) *TreeCalc {
	fanout := pageSize / txIDEntrySize

	// Fixed-point iteration: the number of reserved tree pages depends on
	// how many normal pages need covering, which depends on how many
	// pages are reserved for the tree. Starting from "no tree pages
	// reserved" converges in a handful of steps (§4.2).
	maxNormal := uint32(0xFFFFFFFF)
	var counts []uint32
	for i := 0; i < 16; i++ {
		numNormal := uint64(maxNormal) + 1
		counts = treeLevelCounts(numNormal, uint64(fanout))

		var totalTree uint64
		for _, c := range counts {
			totalTree += uint64(c)
		}
		newMaxNormal := uint32(0xFFFFFFFF - totalTree)
		if newMaxNormal == maxNormal {
			break
		}
		maxNormal = newMaxNormal
	}

	starts := make([]uint32, len(counts))
	starts[0] = maxNormal + 1
	for i := 1; i < len(counts); i++ {
		starts[i] = starts[i-1] + counts[i-1]
	}

	return &TreeCalc{
		pageSize:            pageSize,
		fanout:              fanout,
		maxNormalPageNumber: maxNormal,
		levelStarts:         starts,
		levelCounts:         counts,
	}
}

// treeLevelCounts returns, bottom-up, the number of tree pages needed at
// each level to cover numEntries leaf entries, stopping once a level
// needs only a single page (the root).
func treeLevelCounts(numEntries, fanout uint64) []uint32 {
	var counts []uint32
	count := ceilDivUint64(numEntries, fanout)
	counts = append(counts, uint32(count))
	for count > 1 {
		count = ceilDivUint64(count, fanout)
		counts = append(counts, uint32(count))
	}
	return counts
}

func ceilDivUint64(a, b uint64) uint64 {
	return (a + b - 1) / b
}

// MaxNormalPageNumber returns the highest page number a caller may address
// directly; every greater page number belongs to the transaction tree.
func (t *TreeCalc) MaxNormalPageNumber() uint32 {
	return t.maxNormalPageNumber
}

// Fanout returns the number of TxId entries that fit on one tree page.
func (t *TreeCalc) Fanout() uint32 {
	return t.fanout
}

// RootPageNumber returns the page number of the transaction tree's root.
func (t *TreeCalc) RootPageNumber() uint32 {
	return t.levelStarts[len(t.levelStarts)-1]
}

// TxIDLocation returns the tree page number and byte offset that stores
// pageNumber's TxId, and true if such a location exists. It returns
// (0, 0, false) iff pageNumber is the transaction tree root (§4.2).
func (t *TreeCalc) TxIDLocation(pageNumber uint32) (treePage uint32, byteOffset uint32, ok bool) {
	if pageNumber == t.RootPageNumber() {
		return 0, 0, false
	}

	if pageNumber <= t.maxNormalPageNumber {
		idx := uint64(pageNumber)
		parentIdx := idx / uint64(t.fanout)
		offset := (idx % uint64(t.fanout)) * txIDEntrySize
		return t.levelStarts[0] + uint32(parentIdx), uint32(offset), true
	}

	// pageNumber is itself a tree page; find its level.
	for li := 0; li < len(t.levelStarts); li++ {
		levelEnd := t.levelStarts[li] + t.levelCounts[li]
		if pageNumber >= t.levelStarts[li] && pageNumber < levelEnd {
			idx := uint64(pageNumber - t.levelStarts[li])
			parentIdx := idx / uint64(t.fanout)
			offset := (idx % uint64(t.fanout)) * txIDEntrySize
			return t.levelStarts[li+1] + uint32(parentIdx), uint32(offset), true
		}
	}

	// Unreachable for any pageNumber actually produced by this TreeCalc.
	return 0, 0, false
}

// IsTreePage reports whether pageNumber belongs to the transaction tree
// (including the root) rather than being a normal, caller-addressable page.
func (t *TreeCalc) IsTreePage(pageNumber uint32) bool {
	return pageNumber > t.maxNormalPageNumber
}

// Level returns pageNumber's position in the transaction tree: -1 for a
// normal page, 0 for the leaf tree level, increasing toward the root.
func (t *TreeCalc) Level(pageNumber uint32) int {
	if pageNumber <= t.maxNormalPageNumber {
		return -1
	}
	for li := 0; li < len(t.levelStarts); li++ {
		levelEnd := t.levelStarts[li] + t.levelCounts[li]
		if pageNumber >= t.levelStarts[li] && pageNumber < levelEnd {
			return li
		}
	}
	return -1
}

// NumLevels returns the number of transaction-tree levels, including the root.
func (t *TreeCalc) NumLevels() int {
	return len(t.levelStarts)
}
