package index

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bitfsorg/libblocks-go/block"
)

var baseTime = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func tempIndex(t *testing.T) *Index {
	t.Helper()
	idx, err := Open(filepath.Join(t.TempDir(), "index.db"), Options{})
	require.NoError(t, err)
	t.Cleanup(func() { idx.Close() })
	return idx
}

func testEntry(seed string, size int64, tier block.Tier, at time.Time) Entry {
	return Entry{
		Hash:           block.Sum([]byte(seed)),
		Size:           size,
		Tier:           tier,
		CreatedAt:      at,
		LastAccessedAt: at,
		Meta:           block.Meta{MimeType: "text/plain"},
	}
}

// ---------------------------------------------------------------------------
// Rows
// ---------------------------------------------------------------------------

func TestIndex_InsertAndGet(t *testing.T) {
	idx := tempIndex(t)
	e := testEntry("a", 100, block.P2, baseTime)

	inserted, err := idx.Insert(e)
	require.NoError(t, err)
	assert.True(t, inserted)

	got, err := idx.Get(e.Hash)
	require.NoError(t, err)
	assert.Equal(t, e.Hash, got.Hash)
	assert.Equal(t, int64(100), got.Size)
	assert.Equal(t, block.P2, got.Tier)
	assert.True(t, got.CreatedAt.Equal(baseTime))
	assert.Equal(t, "text/plain", got.Meta.MimeType)
}

func TestIndex_GetMissing(t *testing.T) {
	idx := tempIndex(t)
	_, err := idx.Get(block.Sum([]byte("nope")))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestIndex_InsertInvalidTier(t *testing.T) {
	idx := tempIndex(t)
	_, err := idx.Insert(testEntry("a", 1, block.Tier(9), baseTime))
	assert.ErrorIs(t, err, ErrInvalidTier)
}

func TestIndex_InsertExistingKeepsTier(t *testing.T) {
	idx := tempIndex(t)
	e := testEntry("a", 100, block.P1NeverEvict, baseTime)
	_, err := idx.Insert(e)
	require.NoError(t, err)

	again := testEntry("a", 100, block.P4, baseTime.Add(time.Hour))
	inserted, err := idx.Insert(again)
	require.NoError(t, err)
	assert.False(t, inserted)

	got, err := idx.Get(e.Hash)
	require.NoError(t, err)
	assert.Equal(t, block.P1NeverEvict, got.Tier)
	assert.True(t, got.LastAccessedAt.Equal(baseTime.Add(time.Hour)))

	u, err := idx.AggregateUsage()
	require.NoError(t, err)
	assert.Equal(t, int64(100), u.TotalBytes)
	assert.Equal(t, int64(1), u.TotalBlocks)
}

func TestIndex_InsertDefaultsTimestamps(t *testing.T) {
	idx := tempIndex(t)
	e := Entry{Hash: block.Sum([]byte("x")), Size: 1, Tier: block.P3}
	_, err := idx.Insert(e)
	require.NoError(t, err)

	got, err := idx.Get(e.Hash)
	require.NoError(t, err)
	assert.False(t, got.CreatedAt.IsZero())
	assert.True(t, got.LastAccessedAt.Equal(got.CreatedAt))
}

func TestIndex_Has(t *testing.T) {
	idx := tempIndex(t)
	e := testEntry("a", 1, block.P3, baseTime)

	ok, err := idx.Has(e.Hash)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = idx.Insert(e)
	require.NoError(t, err)

	ok, err = idx.Has(e.Hash)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestIndex_HasAfterDelete(t *testing.T) {
	idx := tempIndex(t)
	e := testEntry("a", 1, block.P3, baseTime)
	_, err := idx.Insert(e)
	require.NoError(t, err)

	existed, err := idx.Delete(e.Hash)
	require.NoError(t, err)
	assert.True(t, existed)

	// The filter still has the hash; the database answers.
	ok, err := idx.Has(e.Hash)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestIndex_DeleteIdempotent(t *testing.T) {
	idx := tempIndex(t)
	existed, err := idx.Delete(block.Sum([]byte("never")))
	require.NoError(t, err)
	assert.False(t, existed)
}

func TestIndex_TouchAccessMovesLRU(t *testing.T) {
	idx := tempIndex(t)
	a := testEntry("a", 1, block.P3, baseTime)
	b := testEntry("b", 1, block.P3, baseTime.Add(time.Minute))
	_, err := idx.Insert(a)
	require.NoError(t, err)
	_, err = idx.Insert(b)
	require.NoError(t, err)

	list, err := idx.ListByTierLRU(block.P3, 0)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, a.Hash, list[0].Hash)

	require.NoError(t, idx.TouchAccess(a.Hash, baseTime.Add(time.Hour)))

	list, err = idx.ListByTierLRU(block.P3, 0)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, b.Hash, list[0].Hash)
	assert.Equal(t, a.Hash, list[1].Hash)
}

func TestIndex_TouchAccessNeverMovesBackwards(t *testing.T) {
	idx := tempIndex(t)
	e := testEntry("a", 1, block.P3, baseTime)
	_, err := idx.Insert(e)
	require.NoError(t, err)

	require.NoError(t, idx.TouchAccess(e.Hash, baseTime.Add(-time.Hour)))
	got, err := idx.Get(e.Hash)
	require.NoError(t, err)
	assert.True(t, got.LastAccessedAt.Equal(baseTime))
}

func TestIndex_TouchAccessMissing(t *testing.T) {
	idx := tempIndex(t)
	assert.NoError(t, idx.TouchAccess(block.Sum([]byte("gone")), baseTime))
}

// ---------------------------------------------------------------------------
// Queries
// ---------------------------------------------------------------------------

func TestIndex_ListByTierLRU_SeparatesTiers(t *testing.T) {
	idx := tempIndex(t)
	for i, tier := range []block.Tier{block.P1NeverEvict, block.P2, block.P3, block.P4, block.P4} {
		_, err := idx.Insert(testEntry(string(rune('a'+i)), 10, tier, baseTime.Add(time.Duration(i)*time.Second)))
		require.NoError(t, err)
	}

	p4, err := idx.ListByTierLRU(block.P4, 0)
	require.NoError(t, err)
	assert.Len(t, p4, 2)
	for _, e := range p4 {
		assert.Equal(t, block.P4, e.Tier)
	}

	p1, err := idx.ListByTierLRU(block.P1NeverEvict, 0)
	require.NoError(t, err)
	assert.Len(t, p1, 1)

	limited, err := idx.ListByTierLRU(block.P4, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	_, err = idx.ListByTierLRU(block.Tier(0), 0)
	assert.ErrorIs(t, err, ErrInvalidTier)
}

func TestIndex_ListExpired(t *testing.T) {
	idx := tempIndex(t)
	old := testEntry("old", 1, block.P3, baseTime)
	fresh := testEntry("fresh", 1, block.P3, baseTime.Add(48*time.Hour))
	_, err := idx.Insert(old)
	require.NoError(t, err)
	_, err = idx.Insert(fresh)
	require.NoError(t, err)

	expired, err := idx.ListExpired(block.P3, baseTime.Add(24*time.Hour), 0)
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, old.Hash, expired[0].Hash)
}

func TestIndex_AggregateUsage(t *testing.T) {
	idx := tempIndex(t)
	_, err := idx.Insert(testEntry("a", 100, block.P1NeverEvict, baseTime))
	require.NoError(t, err)
	_, err = idx.Insert(testEntry("b", 200, block.P4, baseTime))
	require.NoError(t, err)
	_, err = idx.Insert(testEntry("c", 300, block.P4, baseTime))
	require.NoError(t, err)

	u, err := idx.AggregateUsage()
	require.NoError(t, err)
	assert.Equal(t, int64(600), u.TotalBytes)
	assert.Equal(t, int64(3), u.TotalBlocks)
	assert.Equal(t, TierUsage{Bytes: 100, Blocks: 1}, u.ByTier[block.P1NeverEvict])
	assert.Equal(t, TierUsage{Bytes: 500, Blocks: 2}, u.ByTier[block.P4])
	assert.Equal(t, TierUsage{}, u.ByTier[block.P2])

	_, err = idx.Delete(block.Sum([]byte("b")))
	require.NoError(t, err)
	u, err = idx.AggregateUsage()
	require.NoError(t, err)
	assert.Equal(t, int64(400), u.TotalBytes)
	assert.Equal(t, TierUsage{Bytes: 300, Blocks: 1}, u.ByTier[block.P4])
}

func TestIndex_ForEachAndCount(t *testing.T) {
	idx := tempIndex(t)
	for _, s := range []string{"a", "b", "c"} {
		_, err := idx.Insert(testEntry(s, 1, block.P2, baseTime))
		require.NoError(t, err)
	}

	n, err := idx.Count()
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	var seen int
	require.NoError(t, idx.ForEach(func(Entry) error {
		seen++
		return nil
	}))
	assert.Equal(t, 3, seen)
}

// ---------------------------------------------------------------------------
// Metadata and persistence
// ---------------------------------------------------------------------------

func TestIndex_Salt(t *testing.T) {
	idx := tempIndex(t)

	salt, err := idx.Salt()
	require.NoError(t, err)
	assert.Nil(t, salt)

	require.NoError(t, idx.SetSalt([]byte("0123456789abcdef")))
	require.NoError(t, idx.SetSalt([]byte("0123456789abcdef")))
	assert.ErrorIs(t, idx.SetSalt([]byte("fedcba9876543210")), ErrSaltExists)

	salt, err = idx.Salt()
	require.NoError(t, err)
	assert.Equal(t, []byte("0123456789abcdef"), salt)
}

func TestIndex_Canary(t *testing.T) {
	idx := tempIndex(t)
	v, err := idx.Canary()
	require.NoError(t, err)
	assert.Nil(t, v)

	require.NoError(t, idx.SetCanary([]byte{1, 2, 3}))
	v, err = idx.Canary()
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, v)
}

func TestIndex_ReopenPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.db")
	idx, err := Open(path, Options{})
	require.NoError(t, err)

	e := testEntry("persist", 42, block.P2, baseTime)
	_, err = idx.Insert(e)
	require.NoError(t, err)
	require.NoError(t, idx.Close())

	idx, err = Open(path, Options{})
	require.NoError(t, err)
	defer idx.Close()

	ok, err := idx.Has(e.Hash)
	require.NoError(t, err)
	assert.True(t, ok)

	u, err := idx.AggregateUsage()
	require.NoError(t, err)
	assert.Equal(t, int64(42), u.TotalBytes)
}

func TestIndex_BloomGrows(t *testing.T) {
	idx, err := Open(filepath.Join(t.TempDir(), "index.db"), Options{BloomCapacity: 4})
	require.NoError(t, err)
	defer idx.Close()

	var hashes []block.Hash
	for i := 0; i < 20; i++ {
		e := testEntry(string(rune('A'+i)), 1, block.P3, baseTime)
		_, err := idx.Insert(e)
		require.NoError(t, err)
		hashes = append(hashes, e.Hash)
	}
	for _, h := range hashes {
		ok, err := idx.Has(h)
		require.NoError(t, err)
		assert.True(t, ok)
	}
}
