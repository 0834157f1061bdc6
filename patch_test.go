package pagestore

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDiffApplyRoundTrip(t *testing.T) {
	base := make([]byte, 256)
	rand.New(rand.NewSource(1)).Read(base)

	next := append([]byte(nil), base...)
	next[10] = next[10] + 1
	next[11] = next[11] + 1
	next[20] = next[20] + 1
	next[200] = next[200] + 1

	patches, err := DiffPatches(base, next)
	require.NoError(t, err)
	require.NotEmpty(t, patches)

	got, err := ApplyPatches(base, patches)
	require.NoError(t, err)
	require.Equal(t, next, got)
}

// TestDiffApplyRoundTripRandom is P1/P8: for random base/next buffer pairs
// at a range of sizes, diffing then applying always reproduces next
// exactly, matching the teacher's own property-style round-trip tests
// (gdbx_test.go, spill_test.go).
func TestDiffApplyRoundTripRandom(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for iter := 0; iter < 200; iter++ {
		n := rng.Intn(2000) + 1
		base := make([]byte, n)
		rng.Read(base)
		next := append([]byte(nil), base...)

		changes := rng.Intn(n/2 + 1)
		for i := 0; i < changes; i++ {
			next[rng.Intn(n)] = byte(rng.Intn(256))
		}

		patches, err := DiffPatches(base, next)
		require.NoError(t, err)

		got, err := ApplyPatches(base, patches)
		require.NoError(t, err)
		require.Equal(t, next, got, "iteration %d, n=%d", iter, n)
	}
}

func TestDiffPatchesNoChange(t *testing.T) {
	base := []byte{1, 2, 3, 4}
	patches, err := DiffPatches(base, base)
	require.NoError(t, err)
	require.Empty(t, patches)
}

func TestDiffPatchesLengthMismatch(t *testing.T) {
	_, err := DiffPatches([]byte{1, 2}, []byte{1, 2, 3})
	require.Error(t, err)
	require.Equal(t, ErrInvalidArgument, Code(err))
}

// TestDiffPatchesBreakEvenGap exercises §4.1's cost model directly: a gap
// of equal bytes shorter than equalRunBreakEven is bridged into one patch,
// while a gap exactly equalRunBreakEven long is cheaper to split into two.
func TestDiffPatchesBreakEvenGap(t *testing.T) {
	base := make([]byte, 20)

	bridged := make([]byte, 20)
	bridged[5] = 0xFF
	bridged[9] = 0xFF // 3-byte equal gap (6,7,8) is cheaper to bridge
	patches, err := DiffPatches(base, bridged)
	require.NoError(t, err)
	require.Len(t, patches, 1)
	require.Equal(t, uint16(5), patches[0].Offset)
	require.Equal(t, uint8(5), patches[0].Length)

	split := make([]byte, 20)
	split[5] = 0xFF
	split[10] = 0xFF // 4-byte equal gap (6,7,8,9) is exactly break-even
	patches, err = DiffPatches(base, split)
	require.NoError(t, err)
	require.Len(t, patches, 2)
}

func TestPatchSerializeDeserializeRoundTrip(t *testing.T) {
	p := Patch{Offset: 42, Length: 3, Bytes: []byte{1, 2, 3}}
	buf := p.serialize(nil)
	got, n, err := deserializePatch(buf)
	require.NoError(t, err)
	require.Equal(t, len(buf), n)
	require.Equal(t, p, got)
}

func TestDeserializePatchTruncated(t *testing.T) {
	_, _, err := deserializePatch([]byte{0, 1})
	require.Error(t, err)
	require.Equal(t, ErrFormat, Code(err))
}

func TestApplyPatchesOutOfRange(t *testing.T) {
	base := make([]byte, 4)
	_, err := ApplyPatches(base, []Patch{{Offset: 2, Length: 5, Bytes: make([]byte, 5)}})
	require.Error(t, err)
	require.Equal(t, ErrInvalidArgument, Code(err))
}
