package client

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

const dropDebounce = 500 * time.Millisecond

// DropHandler is called once for each file dropped into the folder.
type DropHandler func(ctx context.Context, path string) error

// DropWatcher watches a folder and hands each new file to a handler, one at
// a time, as if it had been dropped onto the client.
type DropWatcher struct {
	dir      string
	handle   DropHandler
	debounce time.Duration
	log      zerolog.Logger

	queue chan string
	done  chan struct{}

	// Debounce: coalesce Create+Write bursts while a file is being copied in.
	debounceMu     sync.Mutex
	debounceTimers map[string]*time.Timer
	seen           map[string]bool

	filesSubmitted atomic.Int64
	filesFailed    atomic.Int64
}

func NewDropWatcher(dir string, handle DropHandler, log zerolog.Logger) *DropWatcher {
	return &DropWatcher{
		dir:            dir,
		handle:         handle,
		debounce:       dropDebounce,
		log:            log.With().Str("component", "dropwatcher").Logger(),
		queue:          make(chan string, 64),
		done:           make(chan struct{}),
		debounceTimers: make(map[string]*time.Timer),
		seen:           make(map[string]bool),
	}
}

// Run watches until ctx is cancelled. Files already in the folder are left
// alone; only files that appear after Run starts are submitted.
func (dw *DropWatcher) Run(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	if err := w.Add(dw.dir); err != nil {
		return err
	}
	dw.log.Info().Str("dir", dw.dir).Msg("watching drop folder")

	go dw.worker(ctx)
	defer func() {
		dw.stopTimers()
		close(dw.queue)
		<-dw.done
		dw.log.Info().
			Int64("files_submitted", dw.filesSubmitted.Load()).
			Int64("files_failed", dw.filesFailed.Load()).
			Msg("drop watcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			base := filepath.Base(event.Name)
			if strings.HasPrefix(base, ".") || strings.HasPrefix(base, "transcription-") {
				continue
			}
			if info, err := os.Stat(event.Name); err != nil || info.IsDir() {
				continue
			}
			dw.schedule(event.Name)

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			dw.log.Error().Err(err).Msg("fsnotify error")
		}
	}
}

// schedule debounces a path and queues it once the writes settle. A path
// is queued at most once per watcher.
func (dw *DropWatcher) schedule(path string) {
	dw.debounceMu.Lock()
	defer dw.debounceMu.Unlock()

	if dw.seen[path] {
		return
	}
	if t, ok := dw.debounceTimers[path]; ok {
		t.Reset(dw.debounce)
		return
	}
	dw.debounceTimers[path] = time.AfterFunc(dw.debounce, func() {
		dw.debounceMu.Lock()
		if _, pending := dw.debounceTimers[path]; !pending {
			dw.debounceMu.Unlock()
			return
		}
		delete(dw.debounceTimers, path)
		dw.seen[path] = true
		dw.queue <- path
		dw.debounceMu.Unlock()
	})
}

func (dw *DropWatcher) stopTimers() {
	dw.debounceMu.Lock()
	defer dw.debounceMu.Unlock()
	for path, t := range dw.debounceTimers {
		t.Stop()
		delete(dw.debounceTimers, path)
	}
}

func (dw *DropWatcher) worker(ctx context.Context) {
	defer close(dw.done)
	for path := range dw.queue {
		if ctx.Err() != nil {
			continue
		}
		if err := dw.handle(ctx, path); err != nil {
			dw.filesFailed.Add(1)
			dw.log.Warn().Err(err).Str("file", filepath.Base(path)).Msg("drop failed")
			continue
		}
		dw.filesSubmitted.Add(1)
		dw.log.Debug().Str("file", filepath.Base(path)).Msg("drop submitted")
	}
}
