package narration

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/ivlev/deck2video/internal/system"
)

// Voice selects the synthesis voice. Name wins over Language when both
// are set; Language alone picks the engine's default voice for it.
type Voice struct {
	Name     string
	Language string
	RateWPM  int
}

// Clip is one synthesized narration track. Duration is measured exactly
// once, at synthesis time, and is the single source of truth for the
// slide's timeline; nothing downstream re-measures the file.
type Clip struct {
	SlideIndex int
	AudioPath  string
	Duration   float64
}

// Request is one synthesis job.
type Request struct {
	SlideIndex int
	Text       string
	Voice      Voice
	OutputPath string
}

// Synthesizer is the external collaborator contract: narration text in,
// audio artifact plus measured duration out. Implementations must fail
// loudly on empty text or an unsupported voice and must never hand back
// zero-length audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, req Request) (Clip, error)
}

// SynthesisError is a fatal per-slide synthesis failure.
type SynthesisError struct {
	SlideIndex int
	Reason     string
}

func (e *SynthesisError) Error() string {
	return fmt.Sprintf("narration synthesis failed for slide %d: %s", e.SlideIndex, e.Reason)
}

// CommandSynthesizer shells out to a local TTS tool (espeak-ng, espeak or
// macOS say) and converts the result to WAV with ffmpeg when needed.
type CommandSynthesizer struct {
	Tool string
}

// NewCommandSynthesizer probes PATH for a supported TTS tool.
func NewCommandSynthesizer() (*CommandSynthesizer, error) {
	tool, err := system.FindTTSTool()
	if err != nil {
		return nil, err
	}
	return &CommandSynthesizer{Tool: tool}, nil
}

func (s *CommandSynthesizer) Synthesize(ctx context.Context, req Request) (Clip, error) {
	if strings.TrimSpace(req.Text) == "" {
		return Clip{}, &SynthesisError{SlideIndex: req.SlideIndex, Reason: "empty narration text"}
	}

	var err error
	switch s.Tool {
	case "say":
		err = s.runSay(ctx, req)
	default:
		err = s.runESpeak(ctx, req)
	}
	if err != nil {
		return Clip{}, &SynthesisError{SlideIndex: req.SlideIndex, Reason: err.Error()}
	}

	duration, err := system.GetAudioDuration(req.OutputPath)
	if err != nil {
		return Clip{}, &SynthesisError{SlideIndex: req.SlideIndex, Reason: fmt.Sprintf("cannot measure audio: %v", err)}
	}
	if duration <= 0 {
		return Clip{}, &SynthesisError{SlideIndex: req.SlideIndex, Reason: "synthesizer produced zero-length audio"}
	}

	return Clip{SlideIndex: req.SlideIndex, AudioPath: req.OutputPath, Duration: duration}, nil
}

func (s *CommandSynthesizer) runESpeak(ctx context.Context, req Request) error {
	voice := req.Voice.Name
	if voice == "" {
		voice = req.Voice.Language
	}
	args := []string{"-w", req.OutputPath}
	if voice != "" {
		args = append(args, "-v", voice)
	}
	if req.Voice.RateWPM > 0 {
		args = append(args, "-s", fmt.Sprintf("%d", req.Voice.RateWPM))
	}
	args = append(args, "--", req.Text)

	cmd := exec.CommandContext(ctx, s.Tool, args...)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("%s: %v: %s", s.Tool, err, strings.TrimSpace(string(out)))
	}
	return nil
}

func (s *CommandSynthesizer) runSay(ctx context.Context, req Request) error {
	aiff := strings.TrimSuffix(req.OutputPath, filepath.Ext(req.OutputPath)) + ".aiff"
	defer os.Remove(aiff)

	args := []string{"-o", aiff}
	if req.Voice.Name != "" {
		args = append(args, "-v", req.Voice.Name)
	}
	if req.Voice.RateWPM > 0 {
		args = append(args, "-r", fmt.Sprintf("%d", req.Voice.RateWPM))
	}
	args = append(args, req.Text)

	cmd := exec.CommandContext(ctx, "say", args...)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("say: %v: %s", err, strings.TrimSpace(string(out)))
	}

	conv := exec.CommandContext(ctx, "ffmpeg", "-y", "-i", aiff, "-ar", "44100", req.OutputPath)
	if out, err := conv.CombinedOutput(); err != nil {
		return fmt.Errorf("ffmpeg convert: %v: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}
