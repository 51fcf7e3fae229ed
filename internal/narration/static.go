package narration

import (
	"context"
	"encoding/binary"
	"os"
	"strings"
)

// StaticSynthesizer is a deterministic engine for tests and dry runs: it
// writes real silent WAV files and derives the duration from the word
// count alone, so reruns on an unchanged deck always measure the same.
type StaticSynthesizer struct {
	// SecondsPerWord defaults to 0.4 (150 words per minute).
	SecondsPerWord float64
	// FixedDuration, when set, wins over the word-count estimate.
	FixedDuration float64
}

func (s *StaticSynthesizer) Synthesize(ctx context.Context, req Request) (Clip, error) {
	if strings.TrimSpace(req.Text) == "" {
		return Clip{}, &SynthesisError{SlideIndex: req.SlideIndex, Reason: "empty narration text"}
	}

	duration := s.FixedDuration
	if duration <= 0 {
		perWord := s.SecondsPerWord
		if perWord <= 0 {
			perWord = 0.4
		}
		duration = float64(len(strings.Fields(req.Text))) * perWord
	}

	if err := writeSilentWAV(req.OutputPath, duration); err != nil {
		return Clip{}, &SynthesisError{SlideIndex: req.SlideIndex, Reason: err.Error()}
	}

	return Clip{SlideIndex: req.SlideIndex, AudioPath: req.OutputPath, Duration: duration}, nil
}

// writeSilentWAV emits a 16-bit mono 8 kHz PCM file of the given length.
func writeSilentWAV(path string, seconds float64) error {
	const sampleRate = 8000
	samples := int(seconds * sampleRate)
	dataLen := samples * 2

	header := make([]byte, 44)
	copy(header[0:], "RIFF")
	binary.LittleEndian.PutUint32(header[4:], uint32(36+dataLen))
	copy(header[8:], "WAVE")
	copy(header[12:], "fmt ")
	binary.LittleEndian.PutUint32(header[16:], 16)
	binary.LittleEndian.PutUint16(header[20:], 1) // PCM
	binary.LittleEndian.PutUint16(header[22:], 1) // mono
	binary.LittleEndian.PutUint32(header[24:], sampleRate)
	binary.LittleEndian.PutUint32(header[28:], sampleRate*2)
	binary.LittleEndian.PutUint16(header[32:], 2)
	binary.LittleEndian.PutUint16(header[34:], 16)
	copy(header[36:], "data")
	binary.LittleEndian.PutUint32(header[40:], uint32(dataLen))

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := f.Write(header); err != nil {
		return err
	}
	_, err = f.Write(make([]byte, dataLen))
	return err
}
