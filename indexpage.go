package pagestore

import (
	"encoding/binary"
	"sort"
)

// Index is the single logical "root of store" page: the transaction
// tree's current root TxId plus every outstanding patch list, keyed by
// the logical page number it patches (§3, §4.3, C3).
type Index struct {
	TxTreeRootTxID uint64 // 48-bit
	PatchesByPage  map[uint32][]Patch
}

// emptyIndex is the sentinel value an empty byte slice deserializes to:
// the initial state of any fresh store (§4.3).
func emptyIndex() *Index {
	return &Index{PatchesByPage: map[uint32][]Patch{}}
}

// indexHeaderSize is the fixed prefix before the per-page patch entries:
// u16 version + u32 page_size + u48 tx_tree_root_txid + u16 page count.
const indexHeaderSize = 2 + 4 + 6 + 2

// sortedPatchedPages returns the page numbers with a non-empty patch list,
// in ascending order, for deterministic serialization.
func (idx *Index) sortedPatchedPages() []uint32 {
	pages := make([]uint32, 0, len(idx.PatchesByPage))
	for p, patches := range idx.PatchesByPage {
		if len(patches) > 0 {
			pages = append(pages, p)
		}
	}
	sort.Slice(pages, func(i, j int) bool { return pages[i] < pages[j] })
	return pages
}

// SerializedLen returns the exact number of bytes SerializeIndex will
// write for idx (the page size field has a fixed width, so the length does
// not depend on it), without allocating the buffer.
// The commit planner (§4.6) uses this to test candidate commits against
// MaxIndexPageSize cheaply.
func (idx *Index) SerializedLen() int {
	total := indexHeaderSize
	for _, page := range idx.sortedPatchedPages() {
		total += 4 + 2 // page_number + count_patches
		total += patchListPayloadLen(idx.PatchesByPage[page])
	}
	return total
}

func patchListPayloadLen(patches []Patch) int {
	total := 0
	for _, p := range patches {
		total += p.serializedLen()
	}
	return total
}

// SerializeIndex writes idx's wire form for the given page size (§4.3).
// The caller must already have validated idx against store invariants;
// SerializeIndex itself only encodes.
func SerializeIndex(idx *Index, pageSize uint32) []byte {
	expectedLen := idx.SerializedLen()
	buf := make([]byte, 0, expectedLen)

	var hdr [indexHeaderSize]byte
	binary.BigEndian.PutUint16(hdr[0:2], indexPageVersion)
	binary.BigEndian.PutUint32(hdr[2:6], pageSize)
	putUint48(hdr[6:12], idx.TxTreeRootTxID)
	pages := idx.sortedPatchedPages()
	binary.BigEndian.PutUint16(hdr[12:14], uint16(len(pages)))
	buf = append(buf, hdr[:]...)

	for _, page := range pages {
		patches := idx.PatchesByPage[page]
		var entryHdr [6]byte
		binary.BigEndian.PutUint32(entryHdr[0:4], page)
		binary.BigEndian.PutUint16(entryHdr[4:6], uint16(len(patches)))
		buf = append(buf, entryHdr[:]...)
		for _, p := range patches {
			buf = p.serialize(buf)
		}
	}

	if len(buf) != expectedLen {
		panic("pagestore: index page serialization length mismatch")
	}
	return buf
}

// DeserializeIndex reads an Index from its wire form. An empty slice
// deserializes to the sentinel empty index (§4.3: the initial state of a
// fresh store). Any other input must carry the expected version and
// pageSize, or DeserializeIndex returns a FormatError.
func DeserializeIndex(data []byte, pageSize uint32) (*Index, error) {
	if len(data) == 0 {
		return emptyIndex(), nil
	}
	if len(data) < indexHeaderSize {
		return nil, NewError(ErrFormat, "truncated index page header")
	}

	version := binary.BigEndian.Uint16(data[0:2])
	if version != indexPageVersion {
		return nil, NewError(ErrFormat, "unexpected index page version")
	}
	storedPageSize := binary.BigEndian.Uint32(data[2:6])
	if storedPageSize != pageSize {
		return nil, NewError(ErrFormat, "unexpected index page page_size")
	}
	txTreeRoot := getUint48(data[6:12])
	count := binary.BigEndian.Uint16(data[12:14])

	idx := &Index{TxTreeRootTxID: txTreeRoot, PatchesByPage: make(map[uint32][]Patch, count)}
	pos := indexHeaderSize
	for i := 0; i < int(count); i++ {
		if len(data)-pos < 6 {
			return nil, NewError(ErrFormat, "truncated index page entry header")
		}
		page := binary.BigEndian.Uint32(data[pos : pos+4])
		numPatches := binary.BigEndian.Uint16(data[pos+4 : pos+6])
		pos += 6

		patches := make([]Patch, 0, numPatches)
		for j := 0; j < int(numPatches); j++ {
			p, n, err := deserializePatch(data[pos:])
			if err != nil {
				return nil, err
			}
			patches = append(patches, p)
			pos += n
		}
		idx.PatchesByPage[page] = patches
	}

	return idx, nil
}

// Equal reports whether idx and other carry the same transaction tree
// root and the same patches for every page (P2: round-trip equality).
func (idx *Index) Equal(other *Index) bool {
	if idx.TxTreeRootTxID != other.TxTreeRootTxID {
		return false
	}
	if len(idx.sortedPatchedPages()) != len(other.sortedPatchedPages()) {
		return false
	}
	for page, patches := range idx.PatchesByPage {
		if len(patches) == 0 {
			continue
		}
		otherPatches, ok := other.PatchesByPage[page]
		if !ok || !patchesEqual(patches, otherPatches) {
			return false
		}
	}
	return true
}

// clone returns a deep copy of idx, used by the commit planner so it can
// mutate a working copy without disturbing the cached Index (§4.6).
func (idx *Index) clone() *Index {
	out := &Index{
		TxTreeRootTxID: idx.TxTreeRootTxID,
		PatchesByPage:  make(map[uint32][]Patch, len(idx.PatchesByPage)),
	}
	for page, patches := range idx.PatchesByPage {
		cp := make([]Patch, len(patches))
		for i, p := range patches {
			p.Bytes = append([]byte(nil), p.Bytes...)
			cp[i] = p
		}
		out.PatchesByPage[page] = cp
	}
	return out
}
