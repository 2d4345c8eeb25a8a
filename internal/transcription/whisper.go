package transcription

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/tonwerk/abschrift/internal/types"
)

// Transcriber is the external speech-to-text collaborator. Implementations
// must return segments ordered by start time with start <= end. When
// speakerOverride is non-empty every produced segment carries exactly that
// speaker label and no diarization runs.
type Transcriber interface {
	Transcribe(ctx context.Context, audioPath, language string, hotwords []string, speakerOverride string) ([]types.Segment, error)
}

// WhisperTranscriber wraps Python's OpenAI Whisper for transcription
type WhisperTranscriber struct {
	modelName string
	device    string
	threads   int
	mu        sync.Mutex // the model cannot run twice concurrently
}

// NewWhisperTranscriber creates a new transcriber using Python Whisper
func NewWhisperTranscriber(modelName, device string, threads int) *WhisperTranscriber {
	if modelName == "" {
		modelName = "small"
	}
	log.Printf("Initializing Python Whisper with model: %s (device: %s)", modelName, device)
	return &WhisperTranscriber{
		modelName: modelName,
		device:    device,
		threads:   threads,
	}
}

// Transcribe processes an audio file and returns speaker-attributed,
// word-timestamped segments.
func (wt *WhisperTranscriber) Transcribe(ctx context.Context, audioPath, language string, hotwords []string, speakerOverride string) ([]types.Segment, error) {
	wt.mu.Lock()
	defer wt.mu.Unlock()

	log.Printf("Transcribing with Python Whisper: %s (language: %s)", audioPath, language)

	tempDir, err := os.MkdirTemp("", "whisper_output")
	if err != nil {
		return nil, fmt.Errorf("create whisper output dir: %w", err)
	}
	defer os.RemoveAll(tempDir)

	absAudioPath, err := filepath.Abs(audioPath)
	if err != nil {
		return nil, fmt.Errorf("failed to get absolute path: %w", err)
	}

	args := []string{
		"-m", "whisper",
		absAudioPath,
		"--model", wt.modelName,
		"--device", wt.device,
		"--output_dir", tempDir,
		"--output_format", "json",
		"--word_timestamps", "True",
		"--fp16", "False",
	}
	if language != "" {
		args = append(args, "--language", language)
	}
	if len(hotwords) > 0 {
		// Whisper has no hotword list; vocabulary hints go in as prompt text.
		args = append(args, "--initial_prompt", strings.Join(hotwords, ", "))
	}
	if wt.threads > 0 {
		args = append(args, "--threads", fmt.Sprintf("%d", wt.threads))
	}

	cmd := exec.CommandContext(ctx, "python", args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return nil, fmt.Errorf("whisper transcription failed: %w\nOutput: %s", err, string(output))
	}

	baseName := strings.TrimSuffix(filepath.Base(audioPath), filepath.Ext(audioPath))
	jsonPath := filepath.Join(tempDir, baseName+".json")
	jsonData, err := os.ReadFile(jsonPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read whisper output: %w", err)
	}

	var whisperOutput whisperJSON
	if err := json.Unmarshal(jsonData, &whisperOutput); err != nil {
		return nil, fmt.Errorf("failed to parse whisper JSON: %w", err)
	}

	segments := make([]types.Segment, 0, len(whisperOutput.Segments))
	for _, seg := range whisperOutput.Segments {
		words := make([]types.Word, 0, len(seg.Words))
		for _, w := range seg.Words {
			words = append(words, types.Word{Word: strings.TrimSpace(w.Word), Start: w.Start, End: w.End})
		}
		segments = append(segments, types.Segment{
			Start:    seg.Start,
			End:      seg.End,
			Text:     strings.TrimSpace(seg.Text),
			Words:    words,
			Speaker:  speakerOverride,
			Language: whisperOutput.Language,
		})
	}

	// The model very occasionally emits out-of-order segments around
	// silence; the single-track ordering guarantee is ours to keep.
	sort.SliceStable(segments, func(i, j int) bool {
		return segments[i].Start < segments[j].Start
	})

	log.Printf("Transcription completed: %d segments", len(segments))
	return segments, nil
}

// whisperJSON matches Python Whisper's JSON output format.
type whisperJSON struct {
	Text     string `json:"text"`
	Language string `json:"language"`
	Segments []struct {
		ID    int     `json:"id"`
		Start float64 `json:"start"`
		End   float64 `json:"end"`
		Text  string  `json:"text"`
		Words []struct {
			Word  string   `json:"word"`
			Start *float64 `json:"start"`
			End   *float64 `json:"end"`
		} `json:"words"`
	} `json:"segments"`
}
