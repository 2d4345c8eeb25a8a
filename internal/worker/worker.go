// Package worker runs the single processing loop: claim the globally oldest
// queued file, run it through probe → convert → transcribe → write outputs,
// report failures, repeat. There is deliberately exactly one worker per
// deployment; all user-visible concurrency is queued files plus wait
// estimates.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/tonwerk/abschrift/internal/batch"
	"github.com/tonwerk/abschrift/internal/config"
	"github.com/tonwerk/abschrift/internal/estimate"
	"github.com/tonwerk/abschrift/internal/marker"
	"github.com/tonwerk/abschrift/internal/media"
	"github.com/tonwerk/abschrift/internal/queue"
	"github.com/tonwerk/abschrift/internal/srt"
	"github.com/tonwerk/abschrift/internal/store"
	"github.com/tonwerk/abschrift/internal/transcription"
	"github.com/tonwerk/abschrift/internal/types"
	"github.com/tonwerk/abschrift/internal/workspace"
)

// Worker owns the processing loop.
type Worker struct {
	cfg         *config.Config
	store       *store.Store
	layout      *workspace.Layout
	view        *queue.View
	estimator   *estimate.Estimator
	transcriber transcription.Transcriber
	merger      *batch.Merger
}

// New creates a worker.
func New(
	cfg *config.Config,
	jobStore *store.Store,
	layout *workspace.Layout,
	view *queue.View,
	estimator *estimate.Estimator,
	transcriber transcription.Transcriber,
) *Worker {
	return &Worker{
		cfg:         cfg,
		store:       jobStore,
		layout:      layout,
		view:        view,
		estimator:   estimator,
		transcriber: transcriber,
		merger:      batch.NewMerger(transcriber, estimator, cfg.Storage.ScratchDir),
	}
}

// Run polls the queue until the context is canceled. On a low-power device
// it returns ErrRecycleRequested after one successfully completed file; the
// supervisor replaces the worker rather than the process exiting.
func (w *Worker) Run(ctx context.Context) error {
	pollInterval := time.Duration(w.cfg.Worker.PollIntervalSeconds) * time.Second
	log.Printf("Worker started (poll interval: %s, low power: %v)", pollInterval, w.cfg.Worker.LowPowerDevice)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		w.reconcileAll(ctx)

		job, err := w.store.Claim(ctx, time.Now())
		if err != nil {
			log.Printf("Worker: claim failed: %v", err)
		}
		if job == nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(pollInterval):
			}
			continue
		}

		succeeded := w.process(ctx, job)
		if succeeded && w.cfg.Worker.LowPowerDevice {
			log.Printf("Worker: low-power mode, requesting recycle after %s", job.FileName)
			return ErrRecycleRequested
		}
	}
}

// reconcileAll adopts files dropped directly into any user's in/ directory.
func (w *Worker) reconcileAll(ctx context.Context) {
	users, err := w.layout.Users()
	if err != nil {
		log.Printf("Worker: scan users: %v", err)
		return
	}
	for _, user := range users {
		if err := w.view.Reconcile(ctx, user); err != nil {
			log.Printf("Worker: reconcile %s: %v", user, err)
		}
	}
}

// process runs one claimed job to completion or failure. Returns true only
// on success.
func (w *Worker) process(ctx context.Context, job *store.Job) bool {
	log.Printf("Worker: processing %s for user %s", job.FileName, job.UserID)

	if err := w.layout.ClearWorker(job.UserID); err != nil {
		log.Printf("Worker: clear worker dir for %s: %v", job.UserID, err)
	}

	var result *types.TranscriptionResult
	var est estimate.Estimate
	var err error
	if estimate.IsArchive(job.SourcePath) {
		result, est, err = w.processArchive(ctx, job)
	} else {
		result, est, err = w.processSingle(ctx, job)
	}
	if err != nil {
		w.fail(ctx, job, err)
		return false
	}

	if err := w.writeOutputs(job, result); err != nil {
		w.fail(ctx, job, wrap(ErrTranscription, "write outputs", "saving artifacts", err))
		return false
	}

	w.clearMarker(job, est)
	if err := w.store.MarkDone(ctx, job.ID); err != nil {
		log.Printf("Worker: mark done %s: %v", job.FileName, err)
	}
	log.Printf("Worker: completed %s (%.1fs of audio)", job.FileName, result.Duration)
	return true
}

// processSingle handles a plain media file: stream check, estimate, marker,
// filtered conversion with fallbacks, transcription.
func (w *Worker) processSingle(ctx context.Context, job *store.Job) (*types.TranscriptionResult, estimate.Estimate, error) {
	hasAudio, err := media.HasAudioStream(ctx, job.SourcePath)
	if err != nil || !hasAudio {
		return nil, estimate.Estimate{}, wrap(ErrUnreadableMedia, "probe", "no readable audio stream", err)
	}

	est := estimate.Estimate{Seconds: job.EstimatedSeconds, MediaSeconds: job.MediaSeconds}
	if est.Seconds <= 0 {
		est, err = w.estimator.ForFile(ctx, job.SourcePath)
		if err != nil {
			return nil, estimate.Estimate{}, wrap(ErrUnreadableMedia, "estimate", "cannot read duration", err)
		}
		if err := w.store.SetEstimate(ctx, job.ID, est.Seconds, est.MediaSeconds); err != nil {
			log.Printf("Worker: store estimate for %s: %v", job.FileName, err)
		}
	}
	w.writeMarker(job, est)

	audioPath := w.convert(ctx, job)
	segments, err := w.transcriber.Transcribe(ctx, audioPath, job.Language, w.layout.Hotwords(job.UserID), "")
	w.removeScratch(audioPath, job.SourcePath)
	if err != nil {
		return nil, est, wrap(ErrTranscription, "transcribe", job.FileName, err)
	}

	return &types.TranscriptionResult{
		Language: job.Language,
		Duration: est.MediaSeconds,
		Segments: segments,
	}, est, nil
}

// processArchive handles a multi-track ZIP batch.
func (w *Worker) processArchive(ctx context.Context, job *store.Job) (*types.TranscriptionResult, estimate.Estimate, error) {
	archive, err := w.merger.Extract(job.SourcePath)
	if err != nil {
		return nil, estimate.Estimate{}, wrap(ErrArchive, "extract", job.FileName, err)
	}
	defer archive.Cleanup()

	est, err := w.merger.Estimate(ctx, archive)
	if err != nil {
		return nil, estimate.Estimate{}, wrap(ErrArchive, "estimate", "cannot read track durations", err)
	}
	if err := w.store.SetEstimate(ctx, job.ID, est.Seconds, est.MediaSeconds); err != nil {
		log.Printf("Worker: store estimate for %s: %v", job.FileName, err)
	}
	// One marker for the whole archive, not one per track.
	w.writeMarker(job, est)

	mixedPath := w.layout.MixedAudioPath(job.UserID, job.FileName)
	segments, err := w.merger.Process(ctx, archive, job.Language, w.layout.Hotwords(job.UserID), mixedPath)
	if err != nil {
		return nil, est, wrap(ErrArchive, "batch", job.FileName, err)
	}

	return &types.TranscriptionResult{
		Language: job.Language,
		Duration: est.MediaSeconds,
		Segments: segments,
	}, est, nil
}

// convert produces the audio actually handed to the recognizer: filtered
// re-encode, falling back to a stream copy, falling back to the original
// file. Conversion problems never stop processing.
func (w *Worker) convert(ctx context.Context, job *store.Job) string {
	converted := filepath.Join(w.cfg.Storage.ScratchDir, fmt.Sprintf("convert_%s.m4a", uuid.New().String()))
	if err := media.FilteredEncode(ctx, job.SourcePath, converted); err == nil {
		return converted
	} else {
		log.Printf("Worker: %v", wrap(ErrConversion, "convert", "filtered encode failed, trying stream copy", err))
	}
	if err := media.StreamCopy(ctx, job.SourcePath, converted); err == nil {
		return converted
	} else {
		log.Printf("Worker: %v", wrap(ErrConversion, "convert", "stream copy failed, using original", err))
	}
	return job.SourcePath
}

// removeScratch deletes the converted temp file unless conversion fell back
// to the original upload.
func (w *Worker) removeScratch(audioPath, originalPath string) {
	if audioPath == originalPath {
		return
	}
	if err := os.Remove(audioPath); err != nil && !os.IsNotExist(err) {
		log.Printf("Worker: cleanup %s: %v", audioPath, err)
	}
}

func (w *Worker) writeMarker(job *store.Job, est estimate.Estimate) {
	m := marker.Marker{EstimatedSeconds: est.Seconds, StartedAt: time.Now(), FileName: job.FileName}
	if job.StartedAt != nil {
		m.StartedAt = *job.StartedAt
	}
	if err := m.Write(w.layout.WorkerDir(job.UserID)); err != nil {
		log.Printf("Worker: %v", err)
	}
}

func (w *Worker) clearMarker(job *store.Job, est estimate.Estimate) {
	m := marker.Marker{EstimatedSeconds: est.Seconds, StartedAt: time.Now(), FileName: job.FileName}
	if job.StartedAt != nil {
		m.StartedAt = *job.StartedAt
	}
	if err := m.Remove(w.layout.WorkerDir(job.UserID)); err != nil {
		log.Printf("Worker: %v", err)
	}
	if err := w.layout.ClearWorker(job.UserID); err != nil {
		log.Printf("Worker: %v", err)
	}
}

// fail moves the input aside with a user-facing message and records the
// failure. No automatic retry: recovery is always a re-upload.
func (w *Worker) fail(ctx context.Context, job *store.Job, cause error) {
	log.Printf("Worker: job %s failed: %v", job.FileName, cause)
	message := userMessage(cause)
	if err := w.layout.MoveToError(job.UserID, job.SourcePath, message); err != nil {
		log.Printf("Worker: move %s to error dir: %v", job.FileName, err)
	}
	if err := w.store.MarkFailed(ctx, job.ID, message); err != nil {
		log.Printf("Worker: mark failed %s: %v", job.FileName, err)
	}
	if err := w.layout.ClearWorker(job.UserID); err != nil {
		log.Printf("Worker: %v", err)
	}
}

// writeOutputs renders and saves the SRT, the plain transcript and the
// metadata JSON. Artifact presence is the durable completion signal.
func (w *Worker) writeOutputs(job *store.Job, result *types.TranscriptionResult) error {
	if err := w.layout.EnsureUser(job.UserID); err != nil {
		return err
	}
	if err := os.WriteFile(w.layout.SRTPath(job.UserID, job.FileName), []byte(srt.ToSRT(result.Segments)), 0o644); err != nil {
		return fmt.Errorf("write srt: %w", err)
	}
	if err := os.WriteFile(w.layout.TranscriptPath(job.UserID, job.FileName), []byte(result.PlainText()), 0o644); err != nil {
		return fmt.Errorf("write transcript: %w", err)
	}
	meta, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	if err := os.WriteFile(w.layout.MetaPath(job.UserID, job.FileName), meta, 0o644); err != nil {
		return fmt.Errorf("write metadata: %w", err)
	}
	return nil
}
