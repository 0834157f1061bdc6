package pagestore

// Page size constraints (§4.4: "validates 4 KiB ≤ page_size ≤ 64 KiB").
const (
	// MinPageSize is the minimum allowed page size.
	MinPageSize = 4096

	// MaxPageSize is the maximum allowed page size.
	MaxPageSize = 65536
)

// indexPageVersion is the only Index Page wire format version this package
// understands; any other value on read is a FormatError (§4.3).
const indexPageVersion uint16 = 1

// txIDEntrySize is the serialized width, in bytes, of one 48-bit TxId entry
// in a transaction-tree page (§4.2: "entry_size = 6").
const txIDEntrySize = 6

// maxPatchLength is the largest byte range a single Patch can cover; the
// length field is an unsigned byte interpreted as 1..=255 (§3).
const maxPatchLength = 255

// patchHeaderSize is the serialized size, in bytes, of a Patch's header:
// u16 offset + u8 length (§4.1).
const patchHeaderSize = 3

// equalRunBreakEven is the length of a run of identical bytes inside a
// patch that is exactly as expensive to keep as closing the patch and
// opening a new one (§4.1: 3 header bytes + 1 differing byte == 4).
const equalRunBreakEven = 4
