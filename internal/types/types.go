package types

// Job status constants
const (
	StatusQueued     = "QUEUED"
	StatusProcessing = "PROCESSING"
	StatusDone       = "DONE"
	StatusFailed     = "FAILED"
)

// DefaultLanguage is used when a user has no language.txt control file.
const DefaultLanguage = "de"

// Word is a single recognized token with optional timestamps. Start and End
// may be nil at segment boundaries where the aligner produced no timing.
type Word struct {
	Word  string   `json:"word"`
	Start *float64 `json:"start,omitempty"`
	End   *float64 `json:"end,omitempty"`
}

// Segment is a time-bounded, speaker-attributed piece of transcript text
// with word-level timestamps.
type Segment struct {
	Start    float64 `json:"start"`
	End      float64 `json:"end"`
	Text     string  `json:"text"`
	Words    []Word  `json:"words"`
	Speaker  string  `json:"speaker"`
	Language string  `json:"language,omitempty"`
}

// Cue is one displayable subtitle unit derived from consecutive words of a
// single segment. Cues never span a speaker change.
type Cue struct {
	Index int     `json:"index"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
	Words []Word  `json:"words"`
}

// TranscriptionResult bundles everything the worker writes out for one file.
type TranscriptionResult struct {
	Text     string    `json:"text"`
	Language string    `json:"language"`
	Duration float64   `json:"duration"`
	Segments []Segment `json:"segments"`
}

// PlainText joins segment texts into a readable transcript, one speaker
// turn per line.
func (r *TranscriptionResult) PlainText() string {
	out := ""
	lastSpeaker := ""
	for _, seg := range r.Segments {
		if seg.Speaker != lastSpeaker && seg.Speaker != "" {
			if out != "" {
				out += "\n"
			}
			out += seg.Speaker + ": "
			lastSpeaker = seg.Speaker
		} else if out != "" {
			out += " "
		}
		out += seg.Text
	}
	return out
}
