// Package marker maintains the per-user progress marker file. The job store
// is authoritative for state; the marker mirrors it on disk in the encoding
// the downloadable viewer reads.
package marker

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// ProgressCeiling caps the displayed percent while a file is processing.
// True completion is detected only by artifact presence, so the marker must
// never imply 100%.
const ProgressCeiling = 97.5

// Marker is the ephemeral in-progress record for one file.
type Marker struct {
	EstimatedSeconds float64
	StartedAt        time.Time
	FileName         string
}

// Encode renders the marker file name as
// "{estimated_seconds}_{unix_start_time}_{original_file_name}".
// The first two fields are parsed positionally, so the original file name
// may itself contain underscores.
func (m Marker) Encode() string {
	return fmt.Sprintf("%s_%d_%s",
		strconv.FormatFloat(m.EstimatedSeconds, 'f', -1, 64),
		m.StartedAt.Unix(),
		m.FileName,
	)
}

// Parse decodes a marker file name. The server itself reconstructs markers
// from job rows and never reads them back from disk; Parse is the reading
// side of the Encode contract, kept for the external viewers that consume
// the worker directory.
func Parse(name string) (Marker, error) {
	parts := strings.SplitN(name, "_", 3)
	if len(parts) != 3 {
		return Marker{}, fmt.Errorf("malformed marker name %q", name)
	}
	estimated, err := strconv.ParseFloat(parts[0], 64)
	if err != nil {
		return Marker{}, fmt.Errorf("malformed marker estimate in %q: %w", name, err)
	}
	startUnix, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return Marker{}, fmt.Errorf("malformed marker start time in %q: %w", name, err)
	}
	return Marker{
		EstimatedSeconds: estimated,
		StartedAt:        time.Unix(startUnix, 0),
		FileName:         parts[2],
	}, nil
}

// Progress returns the implied percent at now, capped at ProgressCeiling.
func (m Marker) Progress(now time.Time) float64 {
	if m.EstimatedSeconds <= 0 {
		return ProgressCeiling
	}
	percent := now.Sub(m.StartedAt).Seconds() / m.EstimatedSeconds * 100
	if percent > ProgressCeiling {
		return ProgressCeiling
	}
	if percent < 0 {
		return 0
	}
	return percent
}

// Write creates the marker file in the user's worker directory.
func (m Marker) Write(workerDir string) error {
	path := filepath.Join(workerDir, m.Encode())
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		return fmt.Errorf("write progress marker: %w", err)
	}
	return nil
}

// Remove deletes the marker file; a missing file is not an error.
func (m Marker) Remove(workerDir string) error {
	err := os.Remove(filepath.Join(workerDir, m.Encode()))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove progress marker: %w", err)
	}
	return nil
}
