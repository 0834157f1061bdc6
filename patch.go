package pagestore

import "encoding/binary"

// Patch describes a contiguous byte range of a page to overwrite (§3).
// Patch lists for one page are kept sorted by Offset and non-overlapping;
// Length is never zero.
type Patch struct {
	Offset uint16
	Length uint8 // interpreted as 1..=255
	Bytes  []byte
}

// serializedLen returns the number of bytes Patch.serialize writes:
// a 3-byte header (u16 offset, u8 length) plus the raw bytes (§4.1).
func (p Patch) serializedLen() int {
	return patchHeaderSize + int(p.Length)
}

// serialize appends the wire form of p to dst and returns the result.
func (p Patch) serialize(dst []byte) []byte {
	var hdr [patchHeaderSize]byte
	binary.BigEndian.PutUint16(hdr[0:2], p.Offset)
	hdr[2] = p.Length
	dst = append(dst, hdr[:]...)
	dst = append(dst, p.Bytes...)
	return dst
}

// deserializePatch reads one patch from the front of src and returns it
// along with the number of bytes consumed. A truncated frame is a
// FormatError.
func deserializePatch(src []byte) (Patch, int, error) {
	if len(src) < patchHeaderSize {
		return Patch{}, 0, NewError(ErrFormat, "truncated patch header")
	}
	offset := binary.BigEndian.Uint16(src[0:2])
	length := src[2]
	if length == 0 {
		return Patch{}, 0, NewError(ErrFormat, "patch with zero length")
	}
	total := patchHeaderSize + int(length)
	if len(src) < total {
		return Patch{}, 0, NewError(ErrFormat, "truncated patch body")
	}
	bytesCopy := make([]byte, length)
	copy(bytesCopy, src[patchHeaderSize:total])
	return Patch{Offset: offset, Length: length, Bytes: bytesCopy}, total, nil
}

// DiffPatches computes the minimal set of patches (per §4.1's cost model)
// that turns base into next. base and next must have equal length, or
// DiffPatches returns an InvalidArgument error (P1, P8).
//
// The algorithm is a single linear pass: when bytes differ, a patch is
// opened and extended through differing bytes and through runs of equal
// bytes shorter than the break-even gap (equalRunBreakEven), because
// closing one patch and opening another costs exactly as much as bridging
// four identical bytes inside one patch. A patch also closes when its
// length would exceed 255 or the buffer ends.
func DiffPatches(base, next []byte) ([]Patch, error) {
	if len(base) != len(next) {
		return nil, NewError(ErrInvalidArgument, "base and new buffers have different lengths")
	}
	n := len(base)
	var patches []Patch
	i := 0
	for i < n {
		if base[i] == next[i] {
			i++
			continue
		}

		start := i
		lastDiff := i
		equalRun := 0
		pos := i + 1
		for pos < n {
			// Taking pos into the patch would make it pos-start+1 bytes long.
			if pos-start >= maxPatchLength {
				break
			}
			if base[pos] == next[pos] {
				equalRun++
				if equalRun >= equalRunBreakEven {
					break
				}
				pos++
				continue
			}
			equalRun = 0
			lastDiff = pos
			pos++
		}

		length := lastDiff - start + 1
		patchBytes := make([]byte, length)
		copy(patchBytes, next[start:start+length])
		patches = append(patches, Patch{
			Offset: uint16(start),
			Length: uint8(length),
			Bytes:  patchBytes,
		})
		i = lastDiff + 1
	}
	return patches, nil
}

// ApplyPatches returns a copy of base with every patch in patches applied
// in order. A patch whose range falls outside base is an InvalidArgument
// error (patches are expected to have been validated against the page size
// they were diffed against; this only guards against corrupt input).
func ApplyPatches(base []byte, patches []Patch) ([]byte, error) {
	out := make([]byte, len(base))
	copy(out, base)
	for _, p := range patches {
		end := int(p.Offset) + int(p.Length)
		if end > len(out) {
			return nil, NewError(ErrInvalidArgument, "patch range outside buffer")
		}
		copy(out[p.Offset:end], p.Bytes)
	}
	return out, nil
}

// patchListSerializedLen returns the total serialized size of a patch
// list: a u16 patch count plus each patch's serializedLen (§4.3).
func patchListSerializedLen(patches []Patch) int {
	total := 2
	for _, p := range patches {
		total += p.serializedLen()
	}
	return total
}

// patchListTotalBytes returns the sum of the patches' serialized sizes
// (header plus payload), used by
// the commit planner to find the page with the largest patch list to
// spill (§4.6 step b).
func patchListTotalBytes(patches []Patch) int {
	total := 0
	for _, p := range patches {
		total += p.serializedLen()
	}
	return total
}

// patchesEqual reports whether two patch lists are identical in content
// (used by the commit planner to detect a no-op re-diff, §4.6 step 2).
func patchesEqual(a, b []Patch) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Offset != b[i].Offset || a[i].Length != b[i].Length {
			return false
		}
		if !bytesEqual(a[i].Bytes, b[i].Bytes) {
			return false
		}
	}
	return true
}
