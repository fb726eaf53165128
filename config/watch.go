package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// DefaultDebounce is how long the watcher waits for writes to settle.
const DefaultDebounce = 250 * time.Millisecond

// Watcher reloads a config file when it changes on disk and hands every
// valid new version to a callback. Invalid files are logged and skipped.
type Watcher struct {
	path     string
	debounce time.Duration
	onChange func(StoreConfig)
	log      *logrus.Logger

	fs    *fsnotify.Watcher
	done  chan struct{}
	wg    sync.WaitGroup
	once  sync.Once
	mu    sync.Mutex
	timer *time.Timer
}

// WatchOptions configures a Watcher.
type WatchOptions struct {
	Debounce time.Duration
	Logger   *logrus.Logger
}

// Watch starts watching path. The parent directory is watched so that
// editors which replace the file by rename are seen too.
func Watch(path string, onChange func(StoreConfig), opts WatchOptions) (*Watcher, error) {
	if onChange == nil {
		return nil, errors.New("config: watch: nil callback")
	}
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config: watch: %w", err)
	}
	if err := fsw.Add(filepath.Dir(path)); err != nil {
		_ = fsw.Close()
		return nil, fmt.Errorf("config: watch %s: %w", path, err)
	}

	w := &Watcher{
		path:     filepath.Clean(path),
		debounce: opts.Debounce,
		onChange: onChange,
		log:      opts.Logger,
		fs:       fsw,
		done:     make(chan struct{}),
	}
	w.wg.Add(1)
	go w.loop()
	return w, nil
}

// Close stops the watcher. Safe to call more than once.
func (w *Watcher) Close() error {
	var err error
	w.once.Do(func() {
		close(w.done)
		err = w.fs.Close()
		w.wg.Wait()
		w.mu.Lock()
		if w.timer != nil {
			w.timer.Stop()
		}
		w.mu.Unlock()
	})
	return err
}

func (w *Watcher) loop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.done:
			return
		case ev, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.schedule()
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.log.WithError(err).Warn("config: watch error")
		}
	}
}

func (w *Watcher) schedule() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.reload)
}

func (w *Watcher) reload() {
	select {
	case <-w.done:
		return
	default:
	}

	cfg, err := LoadConfig(w.path)
	if err != nil {
		// A rename-away leaves nothing to read until the new file lands.
		if !errors.Is(err, ErrConfigNotFound) {
			w.log.WithError(err).Warn("config: reload failed")
		}
		return
	}
	if err := ValidateConfig(cfg); err != nil {
		w.log.WithError(err).Warn("config: reloaded file is invalid, keeping current settings")
		return
	}
	w.log.WithFields(logrus.Fields{"path": w.path}).Info("config: reloaded")
	w.onChange(cfg)
}
