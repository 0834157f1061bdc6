package pagestore

import (
	"context"
	"math/rand"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestScratchAllocatorSpillBacked checks the SpillDir-backed allocator path
// directly: buffers round-trip through the mmap-backed spill.Buffer rather
// than the heap, and repeated alloc/release cycles don't leak slots.
func TestScratchAllocatorSpillBacked(t *testing.T) {
	dir := t.TempDir()
	a, err := newScratchAllocator(dir, 4096)
	require.NoError(t, err)
	require.NotNil(t, a.buf)
	defer a.close()

	bufs := make([][]byte, 0, 8)
	for i := 0; i < 8; i++ {
		b := a.alloc(uint32(i))
		require.Len(t, b, 4096)
		for _, v := range b {
			require.Equal(t, byte(0), v)
		}
		b[0] = byte(i + 1)
		bufs = append(bufs, b)
	}
	for i, b := range bufs {
		require.Equal(t, byte(i+1), b[0])
	}
	stats := a.stats()
	require.True(t, stats.SpillBacked)
	require.Equal(t, uint32(8), stats.AllocatedSlots)
	seen := map[uint32]bool{}
	for _, slot := range a.bySlice {
		require.Less(t, slot.Pgno, uint32(8), "alloc must tag each slot with its caller-supplied page number")
		seen[slot.Pgno] = true
	}
	require.Len(t, seen, 8, "alloc must tag each slot with its caller-supplied page number")
	for _, b := range bufs {
		a.release(b)
	}
	require.Equal(t, uint32(0), a.stats().AllocatedSlots)

	// Allocating again after releasing everything must reuse freed slots
	// rather than growing without bound, and must hand back zeroed memory.
	reused := a.alloc(99)
	require.Len(t, reused, 4096)
	require.Equal(t, byte(0), reused[0])
	require.Equal(t, stats.CapacitySlots, a.stats().CapacitySlots)
	a.release(reused)
}

// TestStoreWithSpillDirCommitsLargeTransaction runs a spill-forcing
// transaction through a real Store configured with SpillDir set, checking
// that commit planning's scratch buffers (materialized tree pages and
// per-transaction dirty pages alike) work end to end against the
// mmap-backed allocator instead of only the heap fallback.
func TestStoreWithSpillDirCommitsLargeTransaction(t *testing.T) {
	ctx := context.Background()
	backend := NewMemBackend(8192)
	s, err := NewStore(backend, Config{
		PageSize:         8192,
		MaxIndexPageSize: 4096,
		SpillDir:         filepath.Join(t.TempDir(), "scratch"),
	})
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.LoadingFinished(ctx))

	_, err = s.RunTransaction(ctx, func(tx *Txn) (any, error) {
		for _, pn := range []uint32{0, 1, 2} {
			buf, err := tx.GetForUpdate(pn)
			if err != nil {
				return nil, err
			}
			rand.New(rand.NewSource(int64(pn) + 100)).Read(buf)
		}
		return nil, nil
	}, nil)
	require.NoError(t, err)
	require.Greater(t, backend.PageCount(), 0)

	for _, pn := range []uint32{0, 1, 2} {
		buf, ok := s.GetPage(pn)
		require.True(t, ok)
		require.Len(t, buf, 8192)
	}

	stats := s.Stats()
	require.True(t, stats.SpillBacked)
	require.Greater(t, stats.SpillCapacitySlots, uint32(0))
}
