package storage

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// OrphanSweeper removes temp uploads left behind by a crash or kill between
// accept and cleanup. Requests always delete their own file, so anything
// older than maxAge has no owner.
type OrphanSweeper struct {
	dir      string
	maxAge   time.Duration
	interval time.Duration
	log      zerolog.Logger
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// NewOrphanSweeper creates a sweeper for the given upload directory.
// maxAge 0 disables sweeping.
func NewOrphanSweeper(dir string, maxAge time.Duration, log zerolog.Logger) *OrphanSweeper {
	return &OrphanSweeper{
		dir:      dir,
		maxAge:   maxAge,
		interval: 15 * time.Minute,
		log:      log.With().Str("component", "orphan-sweeper").Logger(),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

func (s *OrphanSweeper) Start() {
	go s.loop()
}

func (s *OrphanSweeper) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
	<-s.done
}

func (s *OrphanSweeper) loop() {
	defer close(s.done)
	if s.maxAge <= 0 {
		return
	}

	// Run once on startup to clear leftovers from the previous process
	s.Sweep(time.Now())

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case now := <-ticker.C:
			s.Sweep(now)
		case <-s.stop:
			return
		}
	}
}

// Sweep removes temp uploads last modified before now-maxAge and returns how
// many were removed.
func (s *OrphanSweeper) Sweep(now time.Time) int {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		s.log.Warn().Err(err).Msg("read upload dir failed")
		return 0
	}

	cutoff := now.Add(-s.maxAge)
	removed := 0
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), tempPrefix) {
			continue
		}
		info, err := e.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		path := filepath.Join(s.dir, e.Name())
		if err := os.Remove(path); err != nil {
			s.log.Warn().Err(err).Str("path", path).Msg("remove orphaned upload failed")
			continue
		}
		removed++
	}

	if removed > 0 {
		s.log.Info().Int("removed", removed).Msg("orphaned uploads removed")
	}
	return removed
}
