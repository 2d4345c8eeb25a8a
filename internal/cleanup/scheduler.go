// Package cleanup sweeps the scratch area where converted audio and
// extracted archives accumulate. Job inputs and artifacts live in the
// per-user layout and are never touched here.
package cleanup

import (
	"log"
	"os"
	"path/filepath"
	"time"
)

// Scheduler periodically removes old scratch files.
type Scheduler struct {
	scratchDir      string
	intervalMinutes int
	maxAgeHours     int
	stopChan        chan struct{}
}

// NewScheduler creates a scratch-area sweeper.
func NewScheduler(scratchDir string, intervalMinutes, maxAgeHours int) *Scheduler {
	return &Scheduler{
		scratchDir:      scratchDir,
		intervalMinutes: intervalMinutes,
		maxAgeHours:     maxAgeHours,
		stopChan:        make(chan struct{}),
	}
}

// Start runs an initial sweep and then sweeps on a ticker.
func (s *Scheduler) Start() {
	s.sweep()

	ticker := time.NewTicker(time.Duration(s.intervalMinutes) * time.Minute)
	go func() {
		for {
			select {
			case <-ticker.C:
				s.sweep()
			case <-s.stopChan:
				ticker.Stop()
				return
			}
		}
	}()

	log.Printf("Cleanup scheduler started (interval: %dm, max age: %dh)",
		s.intervalMinutes, s.maxAgeHours)
}

// Stop stops the scheduler.
func (s *Scheduler) Stop() {
	close(s.stopChan)
}

// sweep removes scratch entries older than the retention window. Batch
// scratch directories are removed whole once their mtime ages out.
func (s *Scheduler) sweep() {
	maxAge := time.Duration(s.maxAgeHours) * time.Hour
	now := time.Now()

	entries, err := os.ReadDir(s.scratchDir)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Printf("Cleanup: scan scratch dir: %v", err)
		}
		return
	}

	removed := 0
	for _, entry := range entries {
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if now.Sub(info.ModTime()) <= maxAge {
			continue
		}
		path := filepath.Join(s.scratchDir, entry.Name())
		if err := os.RemoveAll(path); err != nil {
			log.Printf("Cleanup: remove %s: %v", path, err)
			continue
		}
		removed++
	}
	if removed > 0 {
		log.Printf("Cleanup: removed %d stale scratch entries", removed)
	}
}

// EnsureScratchDir creates the scratch directory if it doesn't exist.
func EnsureScratchDir(scratchDir string) error {
	return os.MkdirAll(scratchDir, 0o755)
}
