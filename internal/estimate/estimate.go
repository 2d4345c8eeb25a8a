package estimate

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
)

// Prober reads the true media duration in seconds. Wired to
// media.ProbeDuration in production; tests substitute a stub.
type Prober func(ctx context.Context, path string) (float64, error)

// Estimate is a predicted processing time together with the raw media
// duration it was derived from.
type Estimate struct {
	Seconds      float64
	MediaSeconds float64
}

// Estimator predicts how long a file will take to process on this host.
type Estimator struct {
	probe     Prober
	networked bool
	lowPower  bool
}

// New creates an estimator for the given environment flags.
func New(probe Prober, networked, lowPower bool) *Estimator {
	return &Estimator{probe: probe, networked: networked, lowPower: lowPower}
}

// ForFile estimates processing time for a single media file. Archives are
// not probed: they get a constant placeholder and the batch merger sums the
// per-track estimates itself. A probe failure is returned as an error;
// callers that need a numeric value decide the fallback at the call site.
func (e *Estimator) ForFile(ctx context.Context, path string) (Estimate, error) {
	if IsArchive(path) {
		return Estimate{Seconds: 1, MediaSeconds: 1}, nil
	}
	duration, err := e.probe(ctx, path)
	if err != nil {
		return Estimate{}, fmt.Errorf("estimate %s: %w", filepath.Base(path), err)
	}
	return Estimate{Seconds: duration / e.divisor(), MediaSeconds: duration}, nil
}

// ForDuration estimates processing time for an already-known media duration.
func (e *Estimator) ForDuration(seconds float64) Estimate {
	return Estimate{Seconds: seconds / e.divisor(), MediaSeconds: seconds}
}

// divisor is the empirical realtime factor of the recognizer on this host
// class. The values were hand-calibrated on one hardware profile apiece and
// are deliberately not runtime-tunable.
func (e *Estimator) divisor() float64 {
	switch {
	case e.networked && e.lowPower:
		return 5
	case e.networked:
		return 10
	case e.lowPower:
		return 3
	default:
		return 6
	}
}

// IsArchive reports whether the file is a multi-track batch upload.
func IsArchive(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".zip")
}
