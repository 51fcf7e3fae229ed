package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"testing"

	"github.com/ivlev/deck2video/internal/assembler"
	"github.com/ivlev/deck2video/internal/config"
	"github.com/ivlev/deck2video/internal/deck"
	"github.com/ivlev/deck2video/internal/layout"
	"github.com/ivlev/deck2video/internal/narration"
)

// fakeBuilder записывает вызовы вместо запуска ffmpeg.
type fakeBuilder struct {
	mu          sync.Mutex
	built       []assembler.Segment
	concatSegs  []assembler.Segment
	concatCalls int
	failIndex   int // индекс слайда, на котором сборка "падает"; 0 — нет
}

func (f *fakeBuilder) BuildSegment(ctx context.Context, rs *layout.RenderedSlide, clip narration.Clip, explicitDuration float64, outPath string) (assembler.Segment, error) {
	if f.failIndex != 0 && rs.SlideIndex == f.failIndex {
		return assembler.Segment{}, &assembler.AssemblyError{SlideIndex: rs.SlideIndex, Reason: "forced failure"}
	}
	seg := assembler.Segment{
		SlideIndex: rs.SlideIndex,
		Path:       outPath,
		Duration:   assembler.EffectiveDuration(explicitDuration, clip.Duration),
	}
	f.mu.Lock()
	f.built = append(f.built, seg)
	f.mu.Unlock()
	return seg, nil
}

func (f *fakeBuilder) Concatenate(ctx context.Context, segments []assembler.Segment, finalPath, tmpDir string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.concatCalls++
	f.concatSegs = append([]assembler.Segment(nil), segments...)
	return nil
}

func testPipeline(t *testing.T, cfg config.Config, synth narration.Synthesizer, builder assembler.Builder) *Pipeline {
	t.Helper()
	layoutEngine, err := layout.NewEngine(cfg)
	if err != nil {
		t.Fatalf("layout.NewEngine failed: %v", err)
	}
	return &Pipeline{Cfg: cfg, Layout: layoutEngine, Synth: synth, Builder: builder}
}

func testCfg() config.Config {
	cfg := config.Default()
	cfg.Width = 320
	cfg.Height = 180
	cfg.PaddingPx = 16
	cfg.MinFontSize = 8
	cfg.MaxFontSize = 16
	cfg.Workers = 3
	cfg.OutputVideo = "out.mp4"
	return cfg
}

func deckOf(n int) []byte {
	var b strings.Builder
	for i := 1; i <= n; i++ {
		fmt.Fprintf(&b, "## Slide %d: Part %d\n### Visual\nContent %d\n### Narration\nSpoken text for part %d\n\n", i, i, i, i)
	}
	return []byte(b.String())
}

func TestRunSingleSlideUsesNarrationDuration(t *testing.T) {
	// Один слайд, клип ровно 3.0s, без override.
	cfg := testCfg()
	builder := &fakeBuilder{}
	p := testPipeline(t, cfg, &narration.StaticSynthesizer{FixedDuration: 3.0}, builder)

	src := []byte("## Slide 1: Intro\n### Visual\nHello\n### Narration\nWelcome\n")
	report, err := p.Run(context.Background(), src)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if report.Segments != 1 {
		t.Fatalf("Expected 1 segment, got %d", report.Segments)
	}
	if math.Abs(report.TotalDuration-3.0) > 1e-9 {
		t.Errorf("Expected total duration 3.0, got %f", report.TotalDuration)
	}
	if builder.concatCalls != 1 {
		t.Errorf("Expected exactly one concatenation, got %d", builder.concatCalls)
	}
}

func TestRunExplicitDurationOverridesNarration(t *testing.T) {
	// Override 5s при дорожке 8s: сегмент ровно 5s.
	cfg := testCfg()
	builder := &fakeBuilder{}
	p := testPipeline(t, cfg, &narration.StaticSynthesizer{FixedDuration: 8.0}, builder)

	src := []byte("## Slide 1: Long\n### Visual\nHello\n### Narration\nWelcome\n### Duration\n5\n")
	report, err := p.Run(context.Background(), src)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if math.Abs(report.TotalDuration-5.0) > 1e-9 {
		t.Errorf("Expected total duration 5.0, got %f", report.TotalDuration)
	}
}

func TestRunProducesSegmentPerSlideInOrder(t *testing.T) {
	cfg := testCfg()
	builder := &fakeBuilder{}
	p := testPipeline(t, cfg, &narration.StaticSynthesizer{FixedDuration: 1.0}, builder)

	const n = 7
	report, err := p.Run(context.Background(), deckOf(n))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if report.Slides != n || report.Segments != n {
		t.Errorf("Expected %d slides and segments, got %d/%d", n, report.Slides, report.Segments)
	}
	if len(builder.concatSegs) != n {
		t.Fatalf("Concatenate got %d segments, want %d", len(builder.concatSegs), n)
	}
	for i, seg := range builder.concatSegs {
		if seg.SlideIndex != i+1 {
			t.Errorf("Position %d holds slide %d: deck order not preserved", i, seg.SlideIndex)
		}
	}

	sum := 0.0
	for _, seg := range builder.concatSegs {
		sum += seg.Duration
	}
	if math.Abs(report.TotalDuration-sum) > 1e-9 {
		t.Errorf("Report duration %f != sum of segments %f", report.TotalDuration, sum)
	}
}

func TestRunParseErrorAbortsBeforeAnyRendering(t *testing.T) {
	// У второго слайда нет Narration: ни один слайд не должен дойти
	// до рендера и сборки.
	cfg := testCfg()
	builder := &fakeBuilder{}
	p := testPipeline(t, cfg, &narration.StaticSynthesizer{FixedDuration: 1.0}, builder)

	src := []byte("## Slide 1: Ok\n### Visual\nv\n### Narration\nn\n\n## Slide 2: Broken\n### Visual\nv\n")
	_, err := p.Run(context.Background(), src)

	var pe *deck.ParseError
	if !errors.As(err, &pe) {
		t.Fatalf("Expected *deck.ParseError, got %v", err)
	}
	if pe.SlideIndex != 2 {
		t.Errorf("Expected slide index 2, got %d", pe.SlideIndex)
	}
	if len(builder.built) != 0 || builder.concatCalls != 0 {
		t.Errorf("Nothing may be built after a parse error: built=%d concat=%d", len(builder.built), builder.concatCalls)
	}
}

func TestRunFailFastAbortsWithoutConcatenation(t *testing.T) {
	cfg := testCfg()
	builder := &fakeBuilder{failIndex: 2}
	p := testPipeline(t, cfg, &narration.StaticSynthesizer{FixedDuration: 1.0}, builder)

	_, err := p.Run(context.Background(), deckOf(3))
	if err == nil {
		t.Fatal("Expected an error in fail-fast mode")
	}
	var ae *assembler.AssemblyError
	if !errors.As(err, &ae) {
		t.Fatalf("Expected *assembler.AssemblyError, got %v", err)
	}
	if !strings.Contains(err.Error(), "Part 2") {
		t.Errorf("Error should carry the slide title: %v", err)
	}
	if builder.concatCalls != 0 {
		t.Errorf("Concatenation must not run after a fatal error, got %d calls", builder.concatCalls)
	}
}

func TestRunBestEffortSkipsFailedSlide(t *testing.T) {
	cfg := testCfg()
	cfg.KeepGoing = true
	builder := &fakeBuilder{failIndex: 2}
	p := testPipeline(t, cfg, &narration.StaticSynthesizer{FixedDuration: 1.0}, builder)

	report, err := p.Run(context.Background(), deckOf(3))
	if err != nil {
		t.Fatalf("Run failed in best-effort mode: %v", err)
	}

	if report.Segments != 2 {
		t.Errorf("Expected 2 surviving segments, got %d", report.Segments)
	}
	if len(report.Skipped) != 1 || report.Skipped[0].Index != 2 {
		t.Errorf("Expected slide 2 in the skipped list, got %+v", report.Skipped)
	}
	for _, seg := range builder.concatSegs {
		if seg.SlideIndex == 2 {
			t.Error("Failed slide leaked into concatenation")
		}
	}
}

func TestRunSynthesisErrorNamesSlide(t *testing.T) {
	cfg := testCfg()
	builder := &fakeBuilder{}
	p := testPipeline(t, cfg, &failingSynth{failIndex: 3}, builder)

	_, err := p.Run(context.Background(), deckOf(3))
	var se *narration.SynthesisError
	if !errors.As(err, &se) {
		t.Fatalf("Expected *narration.SynthesisError, got %v", err)
	}
	if se.SlideIndex != 3 {
		t.Errorf("Expected slide index 3, got %d", se.SlideIndex)
	}
	if !strings.Contains(err.Error(), "Part 3") {
		t.Errorf("Error should carry the slide title: %v", err)
	}
	if builder.concatCalls != 0 {
		t.Error("Concatenation must not run after a synthesis failure")
	}
}

// failingSynth падает на одном слайде, остальные отдает StaticSynthesizer.
type failingSynth struct {
	failIndex int
	inner     narration.StaticSynthesizer
}

func (f *failingSynth) Synthesize(ctx context.Context, req narration.Request) (narration.Clip, error) {
	if req.SlideIndex == f.failIndex {
		return narration.Clip{}, &narration.SynthesisError{SlideIndex: req.SlideIndex, Reason: "unsupported voice"}
	}
	return f.inner.Synthesize(ctx, req)
}

func TestRunIdempotentWithDeterministicSynthesizer(t *testing.T) {
	cfg := testCfg()
	src := deckOf(4)

	var totals []float64
	var counts []int
	for run := 0; run < 2; run++ {
		builder := &fakeBuilder{}
		p := testPipeline(t, cfg, &narration.StaticSynthesizer{SecondsPerWord: 0.5}, builder)
		report, err := p.Run(context.Background(), src)
		if err != nil {
			t.Fatalf("Run %d failed: %v", run, err)
		}
		totals = append(totals, report.TotalDuration)
		counts = append(counts, report.Segments)
	}

	if counts[0] != counts[1] {
		t.Errorf("Segment count changed between runs: %d vs %d", counts[0], counts[1])
	}
	if math.Abs(totals[0]-totals[1]) > 1e-9 {
		t.Errorf("Total duration changed between runs: %f vs %f", totals[0], totals[1])
	}
}
