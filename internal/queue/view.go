// Package queue builds the user-facing queue listing: per-file status,
// progress and wait estimates, ordered so attention-needing items surface
// first.
package queue

import (
	"context"
	"log"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/tonwerk/abschrift/internal/estimate"
	"github.com/tonwerk/abschrift/internal/marker"
	"github.com/tonwerk/abschrift/internal/store"
	"github.com/tonwerk/abschrift/internal/types"
	"github.com/tonwerk/abschrift/internal/workspace"
)

// FileStatus is one row of the queue view.
type FileStatus struct {
	Name                      string    `json:"name"`
	StatusText                string    `json:"status"`
	ProgressPercent           float64   `json:"progress_percent"`
	EstimatedSecondsRemaining float64   `json:"estimated_seconds_remaining"`
	MTime                     time.Time `json:"mtime"`
}

// View derives queue listings from the job store and the per-user layout.
type View struct {
	store     *store.Store
	layout    *workspace.Layout
	estimator *estimate.Estimator
	now       func() time.Time

	mu         sync.Mutex
	seenErrors map[string]struct{}
}

// NewView creates a queue view.
func NewView(jobStore *store.Store, layout *workspace.Layout, estimator *estimate.Estimator) *View {
	return &View{
		store:      jobStore,
		layout:     layout,
		estimator:  estimator,
		now:        time.Now,
		seenErrors: make(map[string]struct{}),
	}
}

// List returns the user's queue rows sorted for display. The bool reports
// whether an error not seen before in this session was observed, which the
// UI uses to force a refresh.
func (v *View) List(ctx context.Context, userID string) ([]FileStatus, bool, error) {
	unfinished, err := v.store.ListUnfinished(ctx)
	if err != nil {
		return nil, false, err
	}
	v.fillEstimates(ctx, unfinished)

	jobs, err := v.store.ListUser(ctx, userID)
	if err != nil {
		return nil, false, err
	}

	now := v.now()
	var rows []FileStatus
	for _, job := range jobs {
		switch job.Status {
		case types.StatusDone:
			rows = append(rows, FileStatus{
				Name:            job.FileName,
				StatusText:      "done",
				ProgressPercent: 100,
				MTime:           job.CreatedAt,
			})
		case types.StatusProcessing:
			rows = append(rows, v.processingRow(job, now))
		case types.StatusQueued:
			rows = append(rows, FileStatus{
				Name:                      job.FileName,
				StatusText:                "queued",
				ProgressPercent:           0,
				EstimatedSecondsRemaining: waitEstimate(job, unfinished),
				MTime:                     job.CreatedAt,
			})
		}
		// Failed rows are rendered from the error directory below, where
		// the user-facing message lives; rows whose input never made it
		// there fall back to the stored message afterwards.
	}

	errorRows, sawNew := v.errorRows(userID)
	rows = append(rows, errorRows...)

	onDisk := make(map[string]struct{}, len(errorRows))
	for _, row := range errorRows {
		onDisk[row.Name] = struct{}{}
	}
	for _, job := range jobs {
		if job.Status != types.StatusFailed {
			continue
		}
		if _, ok := onDisk[job.FileName]; ok {
			continue
		}
		message := job.ErrorMessage
		if message == "" {
			message = workspace.GenericErrorMessage
		}
		rows = append(rows, FileStatus{
			Name:            job.FileName,
			StatusText:      message,
			ProgressPercent: -1,
			MTime:           job.CreatedAt,
		})
	}

	// Errored files (progress -1) first, then by ascending progress; within
	// equal progress newest first, then by name. The UI depends on this
	// exact ordering.
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].ProgressPercent != rows[j].ProgressPercent {
			return rows[i].ProgressPercent < rows[j].ProgressPercent
		}
		if !rows[i].MTime.Equal(rows[j].MTime) {
			return rows[i].MTime.After(rows[j].MTime)
		}
		return rows[i].Name < rows[j].Name
	})

	return rows, sawNew, nil
}

func (v *View) processingRow(job *store.Job, now time.Time) FileStatus {
	started := job.CreatedAt
	if job.StartedAt != nil {
		started = *job.StartedAt
	}
	m := marker.Marker{
		EstimatedSeconds: job.EstimatedSeconds,
		StartedAt:        started,
		FileName:         job.FileName,
	}
	remaining := job.EstimatedSeconds - now.Sub(started).Seconds()
	if remaining < 0 {
		remaining = 0
	}
	return FileStatus{
		Name:                      job.FileName,
		StatusText:                "processing",
		ProgressPercent:           m.Progress(now),
		EstimatedSecondsRemaining: remaining,
		MTime:                     job.CreatedAt,
	}
}

// waitEstimate sums the estimates of every unfinished job, any user, that
// entered the queue strictly before this one. The worker processes strictly
// oldest-first, so this is the time ahead of the file.
func waitEstimate(job *store.Job, unfinished []*store.Job) float64 {
	var wait float64
	for _, other := range unfinished {
		if other.ID == job.ID {
			continue
		}
		if other.CreatedAt.Before(job.CreatedAt) {
			wait += other.EstimatedSeconds
		}
	}
	return wait
}

// fillEstimates probes unfinished jobs that have no cached estimate yet.
// A probe failure contributes zero to wait sums rather than poisoning them.
func (v *View) fillEstimates(ctx context.Context, jobs []*store.Job) {
	for _, job := range jobs {
		if job.EstimatedSeconds > 0 {
			continue
		}
		est, err := v.estimator.ForFile(ctx, job.SourcePath)
		if err != nil {
			log.Printf("Queue view: cannot estimate %s: %v", job.FileName, err)
			continue
		}
		job.EstimatedSeconds = est.Seconds
		job.MediaSeconds = est.MediaSeconds
		if err := v.store.SetEstimate(ctx, job.ID, est.Seconds, est.MediaSeconds); err != nil {
			log.Printf("Queue view: cache estimate for %s: %v", job.FileName, err)
		}
	}
}

// errorRows lists failed inputs from the user's error directory, with the
// recorded message, and tracks which errors this session has already shown.
func (v *View) errorRows(userID string) ([]FileStatus, bool) {
	entries, err := os.ReadDir(v.layout.ErrorDir(userID))
	if err != nil {
		return nil, false
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	var rows []FileStatus
	sawNew := false
	for _, entry := range entries {
		if entry.IsDir() || workspace.IsErrorMeta(entry.Name()) {
			continue
		}
		mtime := time.Time{}
		if info, err := entry.Info(); err == nil {
			mtime = info.ModTime()
		}
		rows = append(rows, FileStatus{
			Name:            entry.Name(),
			StatusText:      v.layout.ErrorMessage(userID, entry.Name()),
			ProgressPercent: -1,
			MTime:           mtime,
		})
		key := userID + "/" + entry.Name()
		if _, seen := v.seenErrors[key]; !seen {
			v.seenErrors[key] = struct{}{}
			sawNew = true
		}
	}
	return rows, sawNew
}

// Reconcile adopts files that appeared in the user's in/ directory without
// going through the upload endpoint. The directory stays a valid ingress
// even though the store is authoritative.
func (v *View) Reconcile(ctx context.Context, userID string) error {
	entries, err := os.ReadDir(v.layout.InDir(userID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	for _, entry := range entries {
		if entry.IsDir() || workspace.IsControlFile(entry.Name()) {
			continue
		}
		if v.layout.HasArtifacts(userID, entry.Name()) {
			continue
		}
		existing, err := v.store.FindActive(ctx, userID, entry.Name())
		if err != nil {
			return err
		}
		if existing != nil {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		job := &store.Job{
			UserID:     userID,
			FileName:   entry.Name(),
			SourcePath: filepath.Join(v.layout.InDir(userID), entry.Name()),
			Language:   v.layout.Language(userID),
			CreatedAt:  info.ModTime(),
		}
		if err := v.store.Insert(ctx, job); err != nil {
			return err
		}
		log.Printf("Queue view: adopted %s for user %s", entry.Name(), userID)
	}
	return nil
}
