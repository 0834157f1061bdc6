package pagestore

import (
	"context"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/chacha20poly1305"
)

func TestCompressBackendRoundTrip(t *testing.T) {
	inner := NewMemBackend(8192)
	b := NewCompressBackend(inner)
	ctx := context.Background()

	page := make([]byte, 100)
	ok, err := b.WritePages(ctx, IndexWrite{TxID: 1, Bytes: []byte("idx")}, 0, []PageWrite{
		{ID: BackendPageID{PageNumber: 0, TxID: 1}, Bytes: page},
	})
	require.NoError(t, err)
	require.True(t, ok)

	// A uniformly zero page must compress away to much less than its
	// original size on the inner backend.
	res, err := inner.ReadPages(ctx, false, []BackendPageID{{PageNumber: 0, TxID: 1}})
	require.NoError(t, err)
	require.Less(t, len(res.Pages[0].Bytes), len(page))

	out, err := b.ReadPages(ctx, true, []BackendPageID{{PageNumber: 0, TxID: 1}})
	require.NoError(t, err)
	require.Equal(t, page, out.Pages[0].Bytes)
	require.Equal(t, []byte("idx"), out.Index.Bytes)
}

func TestCompressBackendIncompressibleFallsBackToRaw(t *testing.T) {
	inner := NewMemBackend(8192)
	b := NewCompressBackend(inner)
	ctx := context.Background()

	page := make([]byte, 256)
	rand.New(rand.NewSource(5)).Read(page)
	_, err := b.WritePages(ctx, IndexWrite{TxID: 1}, 0, []PageWrite{
		{ID: BackendPageID{PageNumber: 0, TxID: 1}, Bytes: page},
	})
	require.NoError(t, err)

	out, err := b.ReadPages(ctx, false, []BackendPageID{{PageNumber: 0, TxID: 1}})
	require.NoError(t, err)
	require.Equal(t, page, out.Pages[0].Bytes)
}

func TestEncryptBackendRoundTrip(t *testing.T) {
	inner := NewMemBackend(8192)
	key := make([]byte, chacha20poly1305.KeySize)
	rand.New(rand.NewSource(1)).Read(key)
	b, err := NewEncryptBackend(inner, key)
	require.NoError(t, err)
	ctx := context.Background()

	page := []byte("super secret page content")
	_, err = b.WritePages(ctx, IndexWrite{TxID: 1, Bytes: []byte("idx")}, 0, []PageWrite{
		{ID: BackendPageID{PageNumber: 7, TxID: 1}, Bytes: append([]byte(nil), page...)},
	})
	require.NoError(t, err)

	// The inner backend must never see the plaintext.
	raw, err := inner.ReadPages(ctx, false, []BackendPageID{{PageNumber: 7, TxID: 1}})
	require.NoError(t, err)
	require.NotEqual(t, page, raw.Pages[0].Bytes)

	out, err := b.ReadPages(ctx, true, []BackendPageID{{PageNumber: 7, TxID: 1}})
	require.NoError(t, err)
	require.Equal(t, page, out.Pages[0].Bytes)
}

func TestEncryptBackendRejectsTamperedCiphertext(t *testing.T) {
	inner := NewMemBackend(8192)
	key := make([]byte, chacha20poly1305.KeySize)
	b, err := NewEncryptBackend(inner, key)
	require.NoError(t, err)
	ctx := context.Background()

	_, err = b.WritePages(ctx, IndexWrite{TxID: 1}, 0, []PageWrite{
		{ID: BackendPageID{PageNumber: 0, TxID: 1}, Bytes: []byte("hello")},
	})
	require.NoError(t, err)

	raw, err := inner.ReadPages(ctx, false, []BackendPageID{{PageNumber: 0, TxID: 1}})
	require.NoError(t, err)
	tampered := append([]byte(nil), raw.Pages[0].Bytes...)
	tampered[len(tampered)-1] ^= 0xFF
	_, err = inner.WritePages(ctx, IndexWrite{TxID: 2}, 1, []PageWrite{
		{ID: BackendPageID{PageNumber: 0, TxID: 2}, Bytes: tampered},
	})
	require.NoError(t, err)

	_, err = b.ReadPages(ctx, false, []BackendPageID{{PageNumber: 0, TxID: 2}})
	require.Error(t, err)
	require.Equal(t, ErrFormat, Code(err))
}

// TestCompressThenEncryptStoreRoundTrip is S6: a Store layered on top of
// compress(encrypt(backend)) -- encrypting closest to the backend,
// compressing the plaintext closest to the Store -- commits and
// reads back correctly, and a fresh store sharing the same (doubly
// transformed) backend observes the same content, with the raw backend
// never holding plaintext.
func TestCompressThenEncryptStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	mem := NewMemBackend(8192)
	key := make([]byte, chacha20poly1305.KeySize)
	rand.New(rand.NewSource(2)).Read(key)
	encrypted, err := NewEncryptBackend(mem, key)
	require.NoError(t, err)
	stacked := NewCompressBackend(encrypted)

	// The transform stack's overhead (nonce+tag for encrypt, 1 byte for
	// compress) shrinks the usable page size below mem's max_page_size.
	s, err := NewStore(stacked, Config{PageSize: 4096, MaxIndexPageSize: 2048})
	require.NoError(t, err)
	require.NoError(t, s.LoadingFinished(ctx))

	_, err = s.RunTransaction(ctx, func(tx *Txn) (any, error) {
		buf, err := tx.GetForUpdate(2)
		if err != nil {
			return nil, err
		}
		// Randomize the whole page first so the diff against the all-zero
		// base overflows max_index_page_size and forces materialization.
		rand.New(rand.NewSource(3)).Read(buf)
		copy(buf, []byte("plaintext page payload"))
		return nil, nil
	}, nil)
	require.NoError(t, err)
	require.Greater(t, mem.PageCount(), 0)

	for _, mp := range rawMemPages(mem) {
		require.NotContains(t, string(mp), "plaintext page payload")
	}

	fresh, err := NewStore(stacked, Config{PageSize: 4096, MaxIndexPageSize: 2048})
	require.NoError(t, err)
	require.NoError(t, fresh.LoadingFinished(ctx))
	_, ok := fresh.GetPage(2)
	require.False(t, ok)
	require.NoError(t, fresh.LoadingFinished(ctx))
	got, ok := fresh.GetPage(2)
	require.True(t, ok)
	require.Equal(t, "plaintext page payload", string(got[:len("plaintext page payload")]))
}

func rawMemPages(b *MemBackend) [][]byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([][]byte, 0, len(b.pages))
	for _, p := range b.pages {
		out = append(out, p.bytes)
	}
	return out
}
