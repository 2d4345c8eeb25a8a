// Package batch processes multi-track ZIP uploads: one audio file per
// speaker, recorded in parallel. Tracks are cross-talk suppressed and
// transcribed independently with a fixed per-track speaker label; the
// per-track segment streams are merged into one chronological stream.
//
// Diarization is skipped on purpose here: track index is trusted as speaker
// identity, which is only correct when every track is a single-speaker
// recording. That is a product assumption, not a detection result.
package batch

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/tonwerk/abschrift/internal/estimate"
	"github.com/tonwerk/abschrift/internal/isolate"
	"github.com/tonwerk/abschrift/internal/media"
	"github.com/tonwerk/abschrift/internal/transcription"
	"github.com/tonwerk/abschrift/internal/types"
)

// SpeakerLabel returns the permanent label for a track index.
func SpeakerLabel(index int) string {
	return fmt.Sprintf("SPEAKER_%02d", index)
}

// Archive is an extracted multi-track upload. Track order (and therefore
// speaker numbering) is the lexicographic order of the entry names.
type Archive struct {
	Dir    string
	Tracks []string
}

// Merger runs the multi-track pipeline.
type Merger struct {
	transcriber transcription.Transcriber
	estimator   *estimate.Estimator
	scratchDir  string
}

// NewMerger creates a batch merger writing intermediate files under scratchDir.
func NewMerger(transcriber transcription.Transcriber, estimator *estimate.Estimator, scratchDir string) *Merger {
	return &Merger{transcriber: transcriber, estimator: estimator, scratchDir: scratchDir}
}

// Extract unpacks a ZIP upload into a fresh scratch directory.
func (m *Merger) Extract(zipPath string) (*Archive, error) {
	reader, err := zip.OpenReader(zipPath)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	defer reader.Close()

	dir := filepath.Join(m.scratchDir, "batch_"+uuid.New().String())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create scratch dir: %w", err)
	}

	archive := &Archive{Dir: dir}
	// Entries are flattened to their base names; the same base name in two
	// archive subdirectories must not overwrite a track.
	taken := make(map[string]bool)
	for _, entry := range reader.File {
		base := filepath.Base(entry.Name)
		if entry.FileInfo().IsDir() || strings.HasPrefix(base, ".") || strings.HasPrefix(entry.Name, "__MACOSX") {
			continue
		}
		name := base
		ext := filepath.Ext(base)
		for i := 1; taken[name]; i++ {
			name = fmt.Sprintf("%s_%d%s", strings.TrimSuffix(base, ext), i, ext)
		}
		taken[name] = true
		dest := filepath.Join(dir, name)
		if err := extractEntry(entry, dest); err != nil {
			archive.Cleanup()
			return nil, fmt.Errorf("extract %s: %w", entry.Name, err)
		}
		archive.Tracks = append(archive.Tracks, dest)
	}
	if len(archive.Tracks) == 0 {
		archive.Cleanup()
		return nil, fmt.Errorf("archive contains no audio files")
	}
	sort.Strings(archive.Tracks)
	return archive, nil
}

func extractEntry(entry *zip.File, dest string) error {
	src, err := entry.Open()
	if err != nil {
		return err
	}
	defer src.Close()
	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	defer out.Close()
	_, err = io.Copy(out, src)
	return err
}

// Cleanup removes the scratch directory.
func (a *Archive) Cleanup() {
	if a.Dir != "" {
		os.RemoveAll(a.Dir)
	}
}

// Estimate sums the per-track processing estimates. The archive gets one
// progress marker for the whole batch, so the sum is what it encodes.
func (m *Merger) Estimate(ctx context.Context, archive *Archive) (estimate.Estimate, error) {
	var total estimate.Estimate
	for _, trackPath := range archive.Tracks {
		est, err := m.estimator.ForFile(ctx, trackPath)
		if err != nil {
			return estimate.Estimate{}, err
		}
		total.Seconds += est.Seconds
		total.MediaSeconds += est.MediaSeconds
	}
	return total, nil
}

// Process isolates, transcribes and merges the archive's tracks, then mixes
// the original audio into mixedOutputPath. Any single-track failure aborts
// the whole batch.
func (m *Merger) Process(ctx context.Context, archive *Archive, language string, hotwords []string, mixedOutputPath string) ([]types.Segment, error) {
	// Normalize every track to the PCM layout the isolator and the
	// recognizer share.
	wavPaths := make([]string, len(archive.Tracks))
	for i, trackPath := range archive.Tracks {
		wavPath := filepath.Join(archive.Dir, fmt.Sprintf("track_%02d.wav", i))
		if err := media.NormalizeToWAV(ctx, trackPath, wavPath); err != nil {
			return nil, fmt.Errorf("normalize track %d: %w", i, err)
		}
		wavPaths[i] = wavPath
	}

	if err := isolate.Tracks(wavPaths); err != nil {
		return nil, err
	}

	trackSegments := make([][]types.Segment, len(wavPaths))
	for i, wavPath := range wavPaths {
		segments, err := m.transcriber.Transcribe(ctx, wavPath, language, hotwords, SpeakerLabel(i))
		if err != nil {
			return nil, fmt.Errorf("transcribe track %d: %w", i, err)
		}
		trackSegments[i] = segments
	}

	merged := MergeSegments(trackSegments)

	if err := m.mixTracks(ctx, archive, mixedOutputPath); err != nil {
		return nil, err
	}
	return merged, nil
}

// MergeSegments performs a k-way merge of per-track segment lists, each
// already sorted by start time. At every step the globally earliest-start
// head is taken; ties keep the lowest track index. The result is one
// chronological stream containing every input segment exactly once.
func MergeSegments(trackSegments [][]types.Segment) []types.Segment {
	heads := make([]int, len(trackSegments))
	total := 0
	for _, segments := range trackSegments {
		total += len(segments)
	}

	merged := make([]types.Segment, 0, total)
	for len(merged) < total {
		earliest := -1
		for i, segments := range trackSegments {
			if heads[i] >= len(segments) {
				continue
			}
			if earliest == -1 || segments[heads[i]].Start < trackSegments[earliest][heads[earliest]].Start {
				earliest = i
			}
		}
		merged = append(merged, trackSegments[earliest][heads[earliest]])
		heads[earliest]++
	}
	return merged
}

// mixTracks combines the original (unisolated) tracks into one listenable
// file: filtered re-encode preferred, stream copy as fallback, the raw mix
// if both fail. A mixing failure is fatal; a re-encode failure never is.
func (m *Merger) mixTracks(ctx context.Context, archive *Archive, outputPath string) error {
	rawMix := filepath.Join(archive.Dir, "mix_raw"+filepath.Ext(outputPath))
	if err := media.MixTracks(ctx, archive.Tracks, rawMix); err != nil {
		return fmt.Errorf("mix tracks: %w", err)
	}
	if err := media.FilteredEncode(ctx, rawMix, outputPath); err == nil {
		return nil
	} else {
		log.Printf("Batch: filtered encode of mix failed, trying stream copy: %v", err)
	}
	if err := media.StreamCopy(ctx, rawMix, outputPath); err == nil {
		return nil
	} else {
		log.Printf("Batch: stream copy of mix failed, keeping raw mix: %v", err)
	}
	return copyFile(rawMix, outputPath)
}

func copyFile(src, dest string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return fmt.Errorf("read mix: %w", err)
	}
	if err := os.WriteFile(dest, data, 0o644); err != nil {
		return fmt.Errorf("write mix: %w", err)
	}
	return nil
}
