package pagestore

// Small big-endian read/write helpers and buffer utilities (C9), in the
// teacher's style of hand-written fixed-width codecs (formerly
// endian_be.go/endian_le.go) rather than reflection-based encoding.

// putUint48 writes v (which must fit in 48 bits) to b[0:6], big-endian.
func putUint48(b []byte, v uint64) {
	_ = b[5]
	b[0] = byte(v >> 40)
	b[1] = byte(v >> 32)
	b[2] = byte(v >> 24)
	b[3] = byte(v >> 16)
	b[4] = byte(v >> 8)
	b[5] = byte(v)
}

// getUint48 reads a 48-bit big-endian unsigned integer from b[0:6].
func getUint48(b []byte) uint64 {
	_ = b[5]
	return uint64(b[0])<<40 | uint64(b[1])<<32 | uint64(b[2])<<24 |
		uint64(b[3])<<16 | uint64(b[4])<<8 | uint64(b[5])
}

// putUint32 writes v to b[0:4], big-endian.
func putUint32(b []byte, v uint32) {
	_ = b[3]
	b[0] = byte(v >> 24)
	b[1] = byte(v >> 16)
	b[2] = byte(v >> 8)
	b[3] = byte(v)
}

// zeroBytes returns a freshly allocated all-zero buffer of length n. Used
// as the base content of any page whose recorded TxId is 0 (§3: "never
// written; page content is implicit all-zero bytes").
func zeroBytes(n int) []byte {
	return make([]byte, n)
}

// bytesEqual reports whether a and b have the same length and contents.
// patchesEqual uses it to compare patch payloads.
func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
