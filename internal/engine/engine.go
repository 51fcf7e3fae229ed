package engine

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ivlev/deck2video/internal/assembler"
	"github.com/ivlev/deck2video/internal/config"
	"github.com/ivlev/deck2video/internal/deck"
	"github.com/ivlev/deck2video/internal/layout"
	"github.com/ivlev/deck2video/internal/narration"
	"github.com/ivlev/deck2video/internal/system"
)

// Pipeline — конвейер дека→видео: парсинг, затем независимая обработка
// слайдов (рендер + синтез + сегмент) и финальная склейка.
type Pipeline struct {
	Cfg     config.Config
	Layout  *layout.Engine
	Synth   narration.Synthesizer
	Builder assembler.Builder
}

// SkippedSlide — слайд, пропущенный в режиме best-effort.
type SkippedSlide struct {
	Index  int
	Title  string
	Reason string
}

// Report — итог успешной сборки.
type Report struct {
	Slides        int
	Segments      int
	TotalDuration float64
	Warnings      []layout.OverflowWarning
	Skipped       []SkippedSlide
	Output        string
}

// Run выполняет полный цикл. По умолчанию работает fail-fast: первая
// фатальная ошибка слайда отменяет контекст группы и сборка прерывается
// без частичного результата. При Cfg.KeepGoing ошибочные слайды
// пропускаются и попадают в Report.Skipped.
func (p *Pipeline) Run(ctx context.Context, deckSource []byte) (*Report, error) {
	startTime := time.Now()

	// Парсинг — один последовательный проход: дека валидируется целиком
	// до того, как начнется любой рендер.
	d, err := deck.Parse(deckSource)
	if err != nil {
		return nil, err
	}
	total := len(d.Slides)

	tmpDir, err := os.MkdirTemp("", "deck2video_")
	if err != nil {
		return nil, err
	}
	if p.Cfg.KeepArtifacts {
		fmt.Printf("[*] Промежуточные файлы: %s\n", tmpDir)
	} else {
		defer os.RemoveAll(tmpDir)
	}

	fmt.Println("--- [DECK2VIDEO] ---")
	fmt.Printf("[*] Слайдов: %d | Разрешение: %dx%d @ %d FPS\n", total, p.Cfg.Width, p.Cfg.Height, p.Cfg.FPS)
	fmt.Println("--------------------")

	workers := p.Cfg.Workers
	if workers < 1 {
		workers = 1
	}
	if workers > total {
		workers = total
	}

	// Слайды независимы: каждый владеет своим кадром, клипом и сегментом.
	// Общий у воркеров только Cfg (read-only) и tmpDir с индексными
	// именами файлов, поэтому гонок по путям нет.
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	var (
		mu       sync.Mutex
		warnings []layout.OverflowWarning
		skipped  []SkippedSlide
		done     atomic.Int64
	)
	segments := make([]*assembler.Segment, total)

	for i, spec := range d.Slides {
		i, spec := i, spec
		g.Go(func() error {
			seg, warning, err := p.processSlide(gctx, spec, total, tmpDir)
			if err != nil {
				if p.Cfg.KeepGoing {
					log.Printf("[!] Слайд %d (%q) пропущен: %v", spec.Index, spec.Title, err)
					mu.Lock()
					skipped = append(skipped, SkippedSlide{Index: spec.Index, Title: spec.Title, Reason: err.Error()})
					mu.Unlock()
					return nil
				}
				return fmt.Errorf("слайд %d (%q): %w", spec.Index, spec.Title, err)
			}
			mu.Lock()
			segments[i] = &seg
			if warning != nil {
				warnings = append(warnings, *warning)
			}
			mu.Unlock()
			fmt.Printf("[>] Готово: %d/%d\n", done.Add(1), int64(total))
			return nil
		})
	}

	// Барьер: склейка не начинается, пока не завершены все сегменты
	// (или конвейер не прерван первой фатальной ошибкой).
	if err := g.Wait(); err != nil {
		return nil, err
	}

	ordered := make([]assembler.Segment, 0, total)
	for _, seg := range segments {
		if seg != nil {
			ordered = append(ordered, *seg)
		}
	}
	if len(ordered) == 0 {
		return nil, fmt.Errorf("все %d слайдов пропущены, склеивать нечего", total)
	}

	fmt.Println("[*] Сборка финального видео...")
	concatStart := time.Now()
	if err := p.Builder.Concatenate(ctx, ordered, p.Cfg.OutputVideo, tmpDir); err != nil {
		return nil, err
	}

	totalDuration := 0.0
	for _, seg := range ordered {
		totalDuration += seg.Duration
	}

	report := &Report{
		Slides:        total,
		Segments:      len(ordered),
		TotalDuration: totalDuration,
		Warnings:      warnings,
		Skipped:       skipped,
		Output:        p.Cfg.OutputVideo,
	}

	p.printSummary(report)
	if p.Cfg.ShowStats {
		p.printStats(total, time.Since(startTime), time.Since(concatStart))
	}

	return report, nil
}

// processSlide — обработка одного слайда: рендер кадра, синтез дикторской
// дорожки, кодирование сегмента. Пути артефактов выводятся из индекса
// слайда, так что параллельные воркеры не пересекаются.
func (p *Pipeline) processSlide(ctx context.Context, spec deck.SlideSpec, total int, tmpDir string) (assembler.Segment, *layout.OverflowWarning, error) {
	rs, warning, err := p.Layout.Render(spec, total)
	if err != nil {
		return assembler.Segment{}, nil, err
	}
	defer p.Layout.Release(rs)
	if warning != nil {
		log.Printf("[!] Переполнение: %s", warning)
	}

	clip, err := p.Synth.Synthesize(ctx, narration.Request{
		SlideIndex: spec.Index,
		Text:       spec.Narration,
		Voice: narration.Voice{
			Name:     p.Cfg.Voice,
			Language: p.Cfg.Language,
			RateWPM:  p.Cfg.RateWPM,
		},
		OutputPath: filepath.Join(tmpDir, fmt.Sprintf("narr_%03d.wav", spec.Index)),
	})
	if err != nil {
		return assembler.Segment{}, nil, err
	}

	segPath := filepath.Join(tmpDir, fmt.Sprintf("seg_%03d.mp4", spec.Index))
	seg, err := p.Builder.BuildSegment(ctx, rs, clip, spec.ExplicitDuration, segPath)
	if err != nil {
		return assembler.Segment{}, nil, err
	}
	return seg, warning, nil
}

func (p *Pipeline) printSummary(r *Report) {
	fmt.Printf("[*] Обработано слайдов: %d | Сегментов: %d | Длительность: %.2fs\n", r.Slides, r.Segments, r.TotalDuration)
	for _, w := range r.Warnings {
		fmt.Printf("[!] Переполнение: %s\n", w)
	}
	for _, s := range r.Skipped {
		fmt.Printf("[!] Пропущен слайд %d (%s): %s\n", s.Index, s.Title, s.Reason)
	}
}

func (p *Pipeline) printStats(slides int, totalTime, concatTime time.Duration) {
	fmt.Printf(
		"--- [PERFORMANCE REPORT] ---\n"+
			"Build: %s\n"+
			"Host: %s\n"+
			"Total Time: %.2fs\n"+
			"Concatenation: %.2fs\n"+
			"Slides/sec: %.2f\n"+
			"----------------------------\n",
		p.Cfg.BuildVersion, system.HostSummary(), totalTime.Seconds(), concatTime.Seconds(),
		float64(slides)/totalTime.Seconds(),
	)

	logEntry := fmt.Sprintf("[%s] Build: %s | Input: %s | Slides: %d | Total: %.2fs\n",
		time.Now().Format("2006-01-02 15:04:05"),
		p.Cfg.BuildVersion,
		filepath.Base(p.Cfg.InputPath),
		slides,
		totalTime.Seconds(),
	)
	f, err := os.OpenFile("benchmark.log", os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err == nil {
		f.WriteString(logEntry)
		f.Close()
	} else {
		fmt.Printf("[!] Не удалось записать benchmark.log: %v\n", err)
	}
}
