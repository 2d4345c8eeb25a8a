package worker

import (
	"errors"
	"fmt"
	"strings"

	"github.com/tonwerk/abschrift/internal/workspace"
)

// Failure classification. Wrapped into stage errors so the loop can decide
// what the user sees; internal detail is only logged.
var (
	// ErrUnreadableMedia: the probe or stream check failed before any
	// heavy work. Terminal; the user must re-upload.
	ErrUnreadableMedia = errors.New("unreadable media")
	// ErrConversion: the filtered re-encode failed. Soft; the pipeline
	// falls back and the user never sees it.
	ErrConversion = errors.New("conversion failure")
	// ErrTranscription: the recognizer failed. Terminal for the file.
	ErrTranscription = errors.New("transcription failure")
	// ErrArchive: any track of a batch failed. Terminal for the batch.
	ErrArchive = errors.New("archive failure")
)

// ErrRecycleRequested is returned by Run after a successful file on a
// low-power device: the supervisor should build a fresh worker to reclaim
// the recognizer's memory instead of the process killing itself.
var ErrRecycleRequested = errors.New("worker recycle requested")

// wrap tags an error with a classification marker and stage context.
func wrap(marker error, stage, message string, err error) error {
	parts := make([]string, 0, 2)
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	detail := strings.Join(parts, ": ")
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// userMessage maps a classified failure to the short message stored next to
// the failed input.
func userMessage(err error) string {
	switch {
	case errors.Is(err, ErrUnreadableMedia):
		return "The file could not be read as audio or video. Please upload it in a different format."
	case errors.Is(err, ErrArchive):
		return "A file inside the archive could not be processed, so the whole batch was stopped."
	case errors.Is(err, ErrTranscription):
		return "Transcription failed for this file. Please upload it again."
	default:
		return workspace.GenericErrorMessage
	}
}
