// Package srt turns finished transcript segments into SubRip captions:
// long segments are split into readable pieces, too-brief pieces get their
// display time extended, and long lines are soft-wrapped.
//
// The character budgets and the reading rate were calibrated for
// German-language subtitles; they are named here but not configurable.
package srt

import (
	"fmt"
	"math"
	"strings"
	"unicode"

	"github.com/tonwerk/abschrift/internal/types"
)

const (
	// softSplitChars is the non-space length below which a segment is
	// kept whole.
	softSplitChars = 60
	// hardCapChars is the non-space length a caption may never exceed.
	hardCapChars = 80
	// wrapThresholdChars is the rendered length above which a caption is
	// wrapped onto two lines.
	wrapThresholdChars = 40
	// readingRate is the assumed comfortable reading speed in non-space
	// characters per second.
	readingRate = 13.0
	// minTailWords prevents orphan final pieces: no cut leaves fewer
	// words than this behind.
	minTailWords = 2
	// earlyCutFraction of the target length must be reached before the
	// punctuation/conjunction heuristics may cut.
	earlyCutFraction = 0.5
)

// German guillemets: »quote« — cuts read better after a closing quote or
// before an opening one.
const (
	openingGuillemet = "»"
	closingGuillemet = "«"
)

// conjunctions that read well at the start of a caption.
var cutBeforeWords = map[string]bool{"und": true, "oder": true}

// ToSRT renders segments as a complete SubRip document.
func ToSRT(segments []types.Segment) string {
	var cues []types.Cue
	for _, segment := range segments {
		cues = append(cues, SplitSegment(segment)...)
	}
	ExtendDurations(cues)

	var b strings.Builder
	for i, cue := range cues {
		fmt.Fprintf(&b, "%d\n", i+1)
		fmt.Fprintf(&b, "%s --> %s\n", FormatTimestamp(cue.Start), FormatTimestamp(cue.End))
		b.WriteString(renderText(cue.Text))
		b.WriteString("\n\n")
	}
	return b.String()
}

// SplitSegment breaks one segment into caption-sized cues. The concatenation
// of the produced cues' words is exactly the segment's word list, and no cue
// exceeds hardCapChars non-space characters.
func SplitSegment(segment types.Segment) []types.Cue {
	words := segment.Words
	if len(words) == 0 {
		words = wordsFromText(segment.Text)
	}
	totalLen := nonSpaceLen(segment.Text)
	if totalLen < softSplitChars || len(words) == 1 {
		return cuesFromGroups(segment, [][]types.Word{words})
	}

	targetSplits := totalLen/softSplitChars + 1
	targetLen := float64(totalLen) / float64(targetSplits)

	var groups [][]types.Word
	var current []types.Word
	currentLen := 0

	for i, word := range words {
		current = append(current, word)
		currentLen += nonSpaceLen(word.Word)

		if i == len(words)-1 {
			groups = append(groups, current)
			break
		}

		next := words[i+1]
		nextLen := nonSpaceLen(next.Word)
		remaining := len(words) - (i + 1)

		cut := false
		switch {
		case currentLen+nextLen > hardCapChars:
			cut = true
		case remaining < minTailWords:
			cut = false
		case float64(currentLen) > earlyCutFraction*targetLen &&
			(strings.HasSuffix(word.Word, ",") ||
				strings.HasSuffix(word.Word, closingGuillemet) ||
				strings.HasPrefix(next.Word, openingGuillemet) ||
				cutBeforeWords[strings.ToLower(next.Word)]):
			cut = true
		default:
			// Cut at whichever side of the word boundary lands closer
			// to the target length.
			cut = math.Abs(targetLen-float64(currentLen)) <= math.Abs(targetLen-float64(currentLen+nextLen))
		}

		if cut {
			groups = append(groups, current)
			current = nil
			currentLen = 0
		}
	}

	return cuesFromGroups(segment, groups)
}

// cuesFromGroups assigns timing to word groups. Boundary words may lack
// timestamps; missing times fall back to the neighboring cue, then to the
// segment bounds, and end times never precede start times.
func cuesFromGroups(segment types.Segment, groups [][]types.Word) []types.Cue {
	cues := make([]types.Cue, 0, len(groups))
	previousEnd := segment.Start
	for _, group := range groups {
		start := firstTimestamp(group)
		if start < 0 {
			start = previousEnd
		}
		end := lastTimestamp(group)
		if end < 0 {
			end = segment.End
		}
		if end < start {
			end = start
		}
		cues = append(cues, types.Cue{
			Start: start,
			End:   end,
			Text:  joinWords(group),
			Words: group,
		})
		previousEnd = end
	}
	return cues
}

// ExtendDurations lengthens the display time of cues that would flash by
// faster than the reading rate, never past the next cue's start. The last
// cue is left alone.
func ExtendDurations(cues []types.Cue) {
	for i := 0; i < len(cues)-1; i++ {
		length := float64(nonSpaceLen(cues[i].Text))
		displayTime := length / readingRate
		if cues[i].End-cues[i].Start >= displayTime {
			continue
		}
		extended := cues[i].Start + displayTime
		if extended > cues[i+1].Start {
			extended = cues[i+1].Start
		}
		if extended > cues[i].End {
			cues[i].End = extended
		}
	}
}

// FormatTimestamp renders seconds as the SubRip HH:MM:SS,mmm form.
func FormatTimestamp(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	totalMillis := int64(math.Round(seconds * 1000))
	millis := totalMillis % 1000
	totalSeconds := totalMillis / 1000
	return fmt.Sprintf("%02d:%02d:%02d,%03d",
		totalSeconds/3600, totalSeconds/60%60, totalSeconds%60, millis)
}

// renderText applies target-audience orthography (ß → ss) and wraps long
// captions onto exactly two lines at the most balanced word boundary.
func renderText(text string) string {
	text = strings.ReplaceAll(text, "ß", "ss")
	if nonSpaceLen(text) <= wrapThresholdChars {
		return text
	}
	tokens := strings.Fields(text)
	if len(tokens) < 2 {
		return text
	}

	bestSplit := 1
	bestImbalance := math.MaxFloat64
	for split := 1; split < len(tokens); split++ {
		first := nonSpaceLen(strings.Join(tokens[:split], ""))
		second := nonSpaceLen(strings.Join(tokens[split:], ""))
		imbalance := math.Abs(float64(first - second))
		if imbalance < bestImbalance {
			bestImbalance = imbalance
			bestSplit = split
		}
	}
	return strings.Join(tokens[:bestSplit], " ") + "\n" + strings.Join(tokens[bestSplit:], " ")
}

func nonSpaceLen(s string) int {
	count := 0
	for _, r := range s {
		if !unicode.IsSpace(r) {
			count++
		}
	}
	return count
}

func joinWords(words []types.Word) string {
	parts := make([]string, 0, len(words))
	for _, w := range words {
		parts = append(parts, w.Word)
	}
	return strings.Join(parts, " ")
}

func firstTimestamp(words []types.Word) float64 {
	for _, w := range words {
		if w.Start != nil {
			return *w.Start
		}
	}
	return -1
}

func lastTimestamp(words []types.Word) float64 {
	for i := len(words) - 1; i >= 0; i-- {
		if words[i].End != nil {
			return *words[i].End
		}
	}
	return -1
}

// wordsFromText synthesizes untimed words when an upstream collaborator
// returned text only.
func wordsFromText(text string) []types.Word {
	fields := strings.Fields(text)
	words := make([]types.Word, 0, len(fields))
	for _, f := range fields {
		words = append(words, types.Word{Word: f})
	}
	return words
}
