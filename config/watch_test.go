package config

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type configSink struct {
	mu   sync.Mutex
	seen []StoreConfig
}

func (s *configSink) add(cfg StoreConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seen = append(s.seen, cfg)
}

func (s *configSink) last() (StoreConfig, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.seen) == 0 {
		return StoreConfig{}, 0
	}
	return s.seen[len(s.seen)-1], len(s.seen)
}

func TestWatcher_ReloadsOnWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	require.NoError(t, SaveConfig(path, DefaultConfig()))

	logger, _ := test.NewNullLogger()
	sink := &configSink{}
	w, err := Watch(path, sink.add, WatchOptions{Debounce: 20 * time.Millisecond, Logger: logger})
	require.NoError(t, err)
	defer w.Close()

	cfg := DefaultConfig()
	cfg.BudgetBytes = 12345
	require.NoError(t, SaveConfig(path, cfg))

	require.Eventually(t, func() bool {
		got, n := sink.last()
		return n > 0 && got.BudgetBytes == 12345
	}, 5*time.Second, 10*time.Millisecond)
}

func TestWatcher_SkipsInvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	require.NoError(t, SaveConfig(path, DefaultConfig()))

	logger, hook := test.NewNullLogger()
	sink := &configSink{}
	w, err := Watch(path, sink.add, WatchOptions{Debounce: 20 * time.Millisecond, Logger: logger})
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, os.WriteFile(path, []byte("budget_bytes: 0\n"), 0600))

	require.Eventually(t, func() bool {
		for _, e := range hook.AllEntries() {
			if e.Message == "config: reloaded file is invalid, keeping current settings" {
				return true
			}
		}
		return false
	}, 5*time.Second, 10*time.Millisecond)
	_, n := sink.last()
	assert.Equal(t, 0, n)
}

func TestWatcher_IgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, FileName)
	require.NoError(t, SaveConfig(path, DefaultConfig()))

	logger, _ := test.NewNullLogger()
	sink := &configSink{}
	w, err := Watch(path, sink.add, WatchOptions{Debounce: 10 * time.Millisecond, Logger: logger})
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.yaml"), []byte("x: 1\n"), 0600))
	time.Sleep(100 * time.Millisecond)
	_, n := sink.last()
	assert.Equal(t, 0, n)
}

func TestWatcher_CloseIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	w, err := Watch(path, func(StoreConfig) {}, WatchOptions{})
	require.NoError(t, err)
	require.NoError(t, w.Close())
	assert.NoError(t, w.Close())
}

func TestWatch_NilCallback(t *testing.T) {
	_, err := Watch(filepath.Join(t.TempDir(), FileName), nil, WatchOptions{})
	assert.Error(t, err)
}
