package media

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// Default voice-band filter applied to everything handed to the recognizer.
const voiceFilter = "highpass=f=100,lowpass=f=8000"

// probeResult matches the parts of ffprobe's JSON output we read.
type probeResult struct {
	Streams []struct {
		CodecType string `json:"codec_type"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

// ProbeDuration returns the container duration of a media file in seconds.
func ProbeDuration(ctx context.Context, path string) (float64, error) {
	result, err := inspect(ctx, path)
	if err != nil {
		return 0, err
	}
	duration, err := strconv.ParseFloat(strings.TrimSpace(result.Format.Duration), 64)
	if err != nil {
		return 0, fmt.Errorf("ffprobe duration for %s: %w", path, err)
	}
	return duration, nil
}

// HasAudioStream reports whether the file contains at least one audio stream.
// A probe failure is returned as an error so callers can fail the job before
// any heavy work starts.
func HasAudioStream(ctx context.Context, path string) (bool, error) {
	result, err := inspect(ctx, path)
	if err != nil {
		return false, err
	}
	for _, stream := range result.Streams {
		if stream.CodecType == "audio" {
			return true, nil
		}
	}
	return false, nil
}

func inspect(ctx context.Context, path string) (probeResult, error) {
	cmd := exec.CommandContext(ctx, "ffprobe",
		"-v", "error",
		"-show_format",
		"-show_streams",
		"-of", "json",
		"--", path,
	)
	output, err := cmd.Output()
	if err != nil {
		return probeResult{}, fmt.Errorf("ffprobe %s: %w", path, err)
	}
	var result probeResult
	if err := json.Unmarshal(output, &result); err != nil {
		return probeResult{}, fmt.Errorf("parse ffprobe output for %s: %w", path, err)
	}
	return result, nil
}

// FilteredEncode re-encodes the input with the voice-band filter applied.
func FilteredEncode(ctx context.Context, inputPath, outputPath string) error {
	return run(ctx, "ffmpeg",
		"-y",
		"-i", inputPath,
		"-af", voiceFilter,
		outputPath,
	)
}

// StreamCopy remuxes the input without re-encoding.
func StreamCopy(ctx context.Context, inputPath, outputPath string) error {
	return run(ctx, "ffmpeg",
		"-y",
		"-i", inputPath,
		"-c", "copy",
		outputPath,
	)
}

// NormalizeToWAV converts any input to 16kHz mono 16-bit PCM WAV, the format
// the recognizer and the voice isolator both expect.
func NormalizeToWAV(ctx context.Context, inputPath, outputPath string) error {
	return run(ctx, "ffmpeg",
		"-y",
		"-i", inputPath,
		"-ar", "16000",
		"-ac", "1",
		"-c:a", "pcm_s16le",
		outputPath,
	)
}

// MixTracks mixes all inputs into one file with equal weighting. Output
// duration follows the longest input.
func MixTracks(ctx context.Context, inputPaths []string, outputPath string) error {
	if len(inputPaths) == 0 {
		return fmt.Errorf("mix: no input tracks")
	}
	args := []string{"-y"}
	for _, input := range inputPaths {
		args = append(args, "-i", input)
	}
	args = append(args,
		"-filter_complex", fmt.Sprintf("amix=inputs=%d:duration=longest", len(inputPaths)),
		outputPath,
	)
	return run(ctx, "ffmpeg", args...)
}

// run executes an external binary and folds its combined output into the error.
func run(ctx context.Context, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s failed: %w\nOutput: %s", name, err, string(output))
	}
	return nil
}
