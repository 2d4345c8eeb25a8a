// Package isolate suppresses cross-talk between parallel microphone tracks:
// per 100 ms chunk only the loudest track keeps its signal, every other
// track is attenuated to silence. It operates on the 16-bit PCM WAV files
// produced by media.NormalizeToWAV.
package isolate

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
)

// ChunkDuration is the gating resolution.
const chunkMilliseconds = 100

// attenuationDB is applied to non-dominant tracks. At -100 dB a 16-bit
// sample rounds to zero.
const attenuationDB = -100.0

var attenuationFactor = math.Pow(10, attenuationDB/20)

// track is a loaded PCM WAV file with direct access to its sample data.
type track struct {
	path       string
	raw        []byte
	dataOffset int
	sampleRate int
	samples    int
}

// Tracks rewrites the given WAV files in place so that for every 100 ms
// chunk only the loudest track (by RMS dBFS) keeps its audio. Loudness ties
// keep the first track in argument order.
func Tracks(paths []string) error {
	if len(paths) < 2 {
		return nil
	}
	tracks := make([]*track, 0, len(paths))
	for _, path := range paths {
		t, err := loadTrack(path)
		if err != nil {
			return fmt.Errorf("isolate %s: %w", path, err)
		}
		tracks = append(tracks, t)
	}

	chunkSamples := tracks[0].sampleRate * chunkMilliseconds / 1000
	maxSamples := 0
	for _, t := range tracks {
		if t.sampleRate != tracks[0].sampleRate {
			return fmt.Errorf("isolate: sample rate mismatch between %s and %s", tracks[0].path, t.path)
		}
		if t.samples > maxSamples {
			maxSamples = t.samples
		}
	}

	for offset := 0; offset < maxSamples; offset += chunkSamples {
		loudest := 0
		loudestLevel := math.Inf(-1)
		for i, t := range tracks {
			level := t.chunkDBFS(offset, chunkSamples)
			if level > loudestLevel {
				loudestLevel = level
				loudest = i
			}
		}
		for i, t := range tracks {
			if i == loudest {
				continue
			}
			t.attenuateChunk(offset, chunkSamples)
		}
	}

	for _, t := range tracks {
		if err := os.WriteFile(t.path, t.raw, 0o644); err != nil {
			return fmt.Errorf("isolate: write %s: %w", t.path, err)
		}
	}
	return nil
}

// chunkDBFS computes the RMS level of one chunk relative to full scale.
// A chunk past the end of the track, or a digitally silent one, is -Inf.
func (t *track) chunkDBFS(offset, chunkSamples int) float64 {
	end := offset + chunkSamples
	if end > t.samples {
		end = t.samples
	}
	if offset >= end {
		return math.Inf(-1)
	}
	var sum float64
	for i := offset; i < end; i++ {
		s := float64(t.sampleAt(i))
		sum += s * s
	}
	rms := math.Sqrt(sum / float64(end-offset))
	if rms == 0 {
		return math.Inf(-1)
	}
	return 20 * math.Log10(rms/32768)
}

func (t *track) attenuateChunk(offset, chunkSamples int) {
	end := offset + chunkSamples
	if end > t.samples {
		end = t.samples
	}
	for i := offset; i < end; i++ {
		t.setSampleAt(i, int16(float64(t.sampleAt(i))*attenuationFactor))
	}
}

func (t *track) sampleAt(i int) int16 {
	pos := t.dataOffset + i*2
	return int16(binary.LittleEndian.Uint16(t.raw[pos : pos+2]))
}

func (t *track) setSampleAt(i int, value int16) {
	pos := t.dataOffset + i*2
	binary.LittleEndian.PutUint16(t.raw[pos:pos+2], uint16(value))
}

// loadTrack reads a mono 16-bit PCM WAV and locates its data chunk.
func loadTrack(path string) (*track, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(raw) < 12 || string(raw[0:4]) != "RIFF" || string(raw[8:12]) != "WAVE" {
		return nil, errors.New("not a WAV file")
	}

	t := &track{path: path, raw: raw}
	pos := 12
	var haveFmt, haveData bool
	for pos+8 <= len(raw) {
		chunkID := string(raw[pos : pos+4])
		chunkSize := int(binary.LittleEndian.Uint32(raw[pos+4 : pos+8]))
		body := pos + 8
		if body+chunkSize > len(raw) {
			return nil, errors.New("truncated WAV chunk")
		}
		switch chunkID {
		case "fmt ":
			if chunkSize < 16 {
				return nil, errors.New("short fmt chunk")
			}
			format := binary.LittleEndian.Uint16(raw[body : body+2])
			channels := binary.LittleEndian.Uint16(raw[body+2 : body+4])
			bits := binary.LittleEndian.Uint16(raw[body+14 : body+16])
			if format != 1 || channels != 1 || bits != 16 {
				return nil, fmt.Errorf("unsupported WAV layout (format=%d channels=%d bits=%d)", format, channels, bits)
			}
			t.sampleRate = int(binary.LittleEndian.Uint32(raw[body+4 : body+8]))
			haveFmt = true
		case "data":
			t.dataOffset = body
			t.samples = chunkSize / 2
			haveData = true
		}
		// Chunks are word-aligned.
		if chunkSize%2 == 1 {
			chunkSize++
		}
		pos = body + chunkSize
	}
	if !haveFmt || !haveData {
		return nil, errors.New("missing fmt or data chunk")
	}
	return t, nil
}
