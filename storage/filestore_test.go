package storage

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bitfsorg/libblocks-go/block"
)

// --- Helper functions ---

// makeHash creates a deterministic block hash from a seed.
func makeHash(seed byte) block.Hash {
	return block.Sum([]byte{seed})
}

// newTestFileStore creates a FileStore in a temporary directory.
func newTestFileStore(t *testing.T) *FileStore {
	t.Helper()
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	return store
}

// --- NewFileStore tests ---

func TestNewFileStore_CreatesDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "blocks")
	store, err := NewFileStore(dir)
	require.NoError(t, err)
	assert.Equal(t, dir, store.BaseDir())

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestNewFileStore_EmptyDir(t *testing.T) {
	_, err := NewFileStore("")
	assert.ErrorIs(t, err, ErrInvalidBaseDir)
}

func TestNewFileStore_PathIsFile(t *testing.T) {
	file := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0600))

	_, err := NewFileStore(file)
	assert.ErrorIs(t, err, ErrIOFailure)
}

func TestHashToPath(t *testing.T) {
	h := block.Sum([]byte("hello"))
	path := HashToPath("/base", h)
	assert.Equal(t, filepath.Join("/base", "2c", h.String()), path)
}

// --- Put / Get / Has ---

func TestFileStore_PutGet(t *testing.T) {
	store := newTestFileStore(t)
	h := makeHash(1)

	require.NoError(t, store.Put(h, []byte("ciphertext")))

	got, err := store.Get(h)
	require.NoError(t, err)
	assert.Equal(t, []byte("ciphertext"), got)

	info, err := os.Stat(HashToPath(store.BaseDir(), h))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}

func TestFileStore_PutEmpty(t *testing.T) {
	store := newTestFileStore(t)
	assert.ErrorIs(t, store.Put(makeHash(1), nil), ErrEmptyContent)
	assert.ErrorIs(t, store.Put(makeHash(1), []byte{}), ErrEmptyContent)
}

func TestFileStore_PutOverwrite(t *testing.T) {
	store := newTestFileStore(t)
	h := makeHash(1)
	require.NoError(t, store.Put(h, []byte("first")))
	require.NoError(t, store.Put(h, []byte("second, longer")))

	got, err := store.Get(h)
	require.NoError(t, err)
	assert.Equal(t, []byte("second, longer"), got)

	size, err := store.Size(h)
	require.NoError(t, err)
	assert.Equal(t, int64(len("second, longer")), size)
}

func TestFileStore_PutLeavesNoTempFiles(t *testing.T) {
	store := newTestFileStore(t)
	h := makeHash(7)
	require.NoError(t, store.Put(h, bytes.Repeat([]byte{0xAB}, 1<<16)))

	entries, err := os.ReadDir(filepath.Dir(HashToPath(store.BaseDir(), h)))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, h.String(), entries[0].Name())
}

func TestFileStore_GetNotFound(t *testing.T) {
	store := newTestFileStore(t)
	_, err := store.Get(makeHash(9))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFileStore_Has(t *testing.T) {
	store := newTestFileStore(t)
	h := makeHash(1)

	ok, err := store.Has(h)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.Put(h, []byte("x")))
	ok, err = store.Has(h)
	require.NoError(t, err)
	assert.True(t, ok)
}

// --- Delete / Size ---

func TestFileStore_Delete(t *testing.T) {
	store := newTestFileStore(t)
	h := makeHash(1)
	require.NoError(t, store.Put(h, []byte("x")))

	require.NoError(t, store.Delete(h))
	_, err := store.Get(h)
	assert.ErrorIs(t, err, ErrNotFound)

	assert.ErrorIs(t, store.Delete(h), ErrNotFound)
}

func TestFileStore_Quarantine(t *testing.T) {
	store := newTestFileStore(t)
	h := makeHash(1)
	require.NoError(t, store.Put(h, []byte("bad envelope")))

	dst, err := store.Quarantine(h)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(store.BaseDir(), QuarantineDir, h.String()), dst)

	moved, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, []byte("bad envelope"), moved)

	ok, err := store.Has(h)
	require.NoError(t, err)
	assert.False(t, ok)

	// Quarantined files are not block files.
	hashes, err := store.List()
	require.NoError(t, err)
	assert.Empty(t, hashes)

	_, err = store.Quarantine(h)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFileStore_SizeNotFound(t *testing.T) {
	store := newTestFileStore(t)
	_, err := store.Size(makeHash(1))
	assert.ErrorIs(t, err, ErrNotFound)
}

// --- List ---

func TestFileStore_ListEmpty(t *testing.T) {
	store := newTestFileStore(t)
	list, err := store.List()
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestFileStore_ListMultiple(t *testing.T) {
	store := newTestFileStore(t)
	want := map[block.Hash]bool{}
	for i := byte(0); i < 10; i++ {
		h := makeHash(i)
		want[h] = true
		require.NoError(t, store.Put(h, []byte{i + 1}))
	}

	list, err := store.List()
	require.NoError(t, err)
	assert.Len(t, list, 10)
	for _, h := range list {
		assert.True(t, want[h])
	}
}

func TestFileStore_ListSkipsForeignAndTempFiles(t *testing.T) {
	store := newTestFileStore(t)
	h := makeHash(1)
	require.NoError(t, store.Put(h, []byte("x")))

	shard := filepath.Dir(HashToPath(store.BaseDir(), h))
	tmp := filepath.Join(shard, tempPrefix+"123")
	require.NoError(t, os.WriteFile(tmp, []byte("partial"), 0600))
	require.NoError(t, os.WriteFile(filepath.Join(shard, "README"), []byte("x"), 0600))
	require.NoError(t, os.WriteFile(filepath.Join(store.BaseDir(), "stray"), []byte("x"), 0600))
	require.NoError(t, os.MkdirAll(filepath.Join(store.BaseDir(), "notashard"), 0700))

	list, err := store.List()
	require.NoError(t, err)
	assert.Equal(t, []block.Hash{h}, list)

	_, err = os.Stat(tmp)
	assert.True(t, os.IsNotExist(err), "temp file should be cleaned up")
}

func TestFileStore_ListAcceptsUppercaseNames(t *testing.T) {
	store := newTestFileStore(t)
	h := makeHash(3)
	shard := filepath.Join(store.BaseDir(), h.String()[:2])
	require.NoError(t, os.MkdirAll(shard, 0700))
	require.NoError(t, os.WriteFile(filepath.Join(shard, strings.ToUpper(h.String())), []byte("x"), 0600))

	list, err := store.List()
	require.NoError(t, err)
	assert.Equal(t, []block.Hash{h}, list)
}

// --- Concurrency ---

func TestFileStore_ConcurrentPutGet(t *testing.T) {
	store := newTestFileStore(t)
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(seed byte) {
			defer wg.Done()
			h := makeHash(seed)
			data := bytes.Repeat([]byte{seed}, 128)
			assert.NoError(t, store.Put(h, data))
			got, err := store.Get(h)
			assert.NoError(t, err)
			assert.Equal(t, data, got)
		}(byte(i))
	}
	wg.Wait()

	list, err := store.List()
	require.NoError(t, err)
	assert.Len(t, list, 32)
}

func TestFileStore_PutReadOnlyShard(t *testing.T) {
	if os.Getuid() == 0 {
		t.Skip("root ignores directory permissions")
	}
	store := newTestFileStore(t)
	h := makeHash(1)
	shard := filepath.Dir(HashToPath(store.BaseDir(), h))
	require.NoError(t, os.MkdirAll(shard, 0500))
	t.Cleanup(func() { os.Chmod(shard, 0700) })

	assert.ErrorIs(t, store.Put(h, []byte("x")), ErrIOFailure)
}
