package assembler

import (
	"context"
	"fmt"
	"image"
	"image/draw"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/ivlev/deck2video/internal/config"
	"github.com/ivlev/deck2video/internal/layout"
	"github.com/ivlev/deck2video/internal/narration"
)

// Segment — готовый видеосегмент одного слайда.
type Segment struct {
	SlideIndex int
	Path       string
	Duration   float64
}

// Builder строит сегменты и склеивает их в финальный ролик. За интерфейсом
// прячется ffmpeg, чтобы конвейер тестировался без внешних процессов.
type Builder interface {
	BuildSegment(ctx context.Context, rs *layout.RenderedSlide, clip narration.Clip, explicitDuration float64, outPath string) (Segment, error)
	Concatenate(ctx context.Context, segments []Segment, finalPath, tmpDir string) error
}

// AssemblyError — фатальная ошибка сборки. SlideIndex равен -1 для
// финальной склейки.
type AssemblyError struct {
	SlideIndex int
	Reason     string
}

func (e *AssemblyError) Error() string {
	if e.SlideIndex < 0 {
		return fmt.Sprintf("final assembly failed: %s", e.Reason)
	}
	return fmt.Sprintf("segment assembly failed for slide %d: %s", e.SlideIndex, e.Reason)
}

// EffectiveDuration — правило длительности сегмента: явный override из
// деки главнее измеренной длительности дикторской дорожки.
func EffectiveDuration(explicit, narrationDuration float64) float64 {
	if explicit > 0 {
		return explicit
	}
	return narrationDuration
}

// FFmpegAssembler реализует Builder через системный FFmpeg.
type FFmpegAssembler struct {
	Cfg config.Config
}

// BuildSegment кодирует один сегмент: кадр передается как raw RGBA через
// stdin (без I/O на диск), аудио подрезается или дополняется тишиной до
// эффективной длительности.
func (a *FFmpegAssembler) BuildSegment(ctx context.Context, rs *layout.RenderedSlide, clip narration.Clip, explicitDuration float64, outPath string) (Segment, error) {
	duration := EffectiveDuration(explicitDuration, clip.Duration)
	fade := a.clampedFade(duration)

	params := config.SegmentParams{
		Width:        a.Cfg.Width,
		Height:       a.Cfg.Height,
		FPS:          a.Cfg.FPS,
		Duration:     duration,
		FadeDuration: fade,
		SlideIndex:   rs.SlideIndex,
		Encoder:      a.Cfg.VideoEncoder,
		Quality:      a.Cfg.Quality,
	}

	args := buildSegmentArgs(clip.AudioPath, outPath, params)
	cmd := exec.CommandContext(ctx, "ffmpeg", args...)
	var out strings.Builder
	cmd.Stdout = &out
	cmd.Stderr = &out

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return Segment{}, &AssemblyError{SlideIndex: rs.SlideIndex, Reason: fmt.Sprintf("stdin pipe: %v", err)}
	}
	if err := cmd.Start(); err != nil {
		return Segment{}, &AssemblyError{SlideIndex: rs.SlideIndex, Reason: fmt.Sprintf("ffmpeg start: %v", err)}
	}

	// Один кадр raw-данных; фильтр loop размножит его на всю длительность.
	if err := writeRawRGBA(stdin, rs.Image); err != nil {
		stdin.Close()
		cmd.Wait()
		return Segment{}, &AssemblyError{SlideIndex: rs.SlideIndex, Reason: fmt.Sprintf("write raw frame: %v", err)}
	}
	stdin.Close()

	if err := cmd.Wait(); err != nil {
		return Segment{}, &AssemblyError{SlideIndex: rs.SlideIndex, Reason: fmt.Sprintf("ffmpeg: %v: %s", err, tail(out.String()))}
	}

	return Segment{SlideIndex: rs.SlideIndex, Path: outPath, Duration: duration}, nil
}

// clampedFade — длительность fade-in для сегмента. Переход не может быть
// длиннее самого сегмента.
func (a *FFmpegAssembler) clampedFade(segmentDuration float64) float64 {
	if !a.Cfg.TransitionsEnabled {
		return 0
	}
	fade := a.Cfg.TransitionDuration
	if fade > segmentDuration {
		fade = segmentDuration
	}
	return fade
}

func buildSegmentArgs(audioPath, videoPath string, p config.SegmentParams) []string {
	args := []string{
		"-y",
		"-f", "rawvideo",
		"-pixel_format", "rgba",
		"-video_size", fmt.Sprintf("%dx%d", p.Width, p.Height),
		"-framerate", "1",
		"-i", "-",
		"-i", audioPath,
	}

	// Видео: единственный кадр зацикливается, аудио дополняется тишиной
	// (apad); общий -t одновременно режет слишком длинную дорожку и
	// ограничивает тишину — обе ветви правила длительности в одном месте.
	videoChain := fmt.Sprintf("loop=loop=-1:size=1:start=0,fps=%d,format=yuv420p", p.FPS)
	if p.FadeDuration > 0 {
		videoChain += fmt.Sprintf(",fade=t=in:st=0:d=%.3f", p.FadeDuration)
	}
	filter := fmt.Sprintf("[0:v]%s[v];[1:a]apad[a]", videoChain)

	args = append(args,
		"-filter_complex", filter,
		"-map", "[v]",
		"-map", "[a]",
		"-t", fmt.Sprintf("%.3f", p.Duration),
		"-c:v", p.Encoder,
	)
	args = append(args, qualityArgs(p.Encoder, p.Quality)...)
	args = append(args, "-c:a", "aac", "-b:a", "192k", videoPath)
	return args
}

// qualityArgs — настройка качества в зависимости от энкодера (как и для
// сегментов, так и для финальной склейки с музыкой).
func qualityArgs(encoder string, quality int) []string {
	switch encoder {
	case "h264_videotoolbox":
		// VideoToolbox не везде поддерживает -q:v. Используем битрейт.
		return []string{"-b:v", fmt.Sprintf("%dk", quality*100)}
	case "h264_nvenc":
		return []string{"-cq", fmt.Sprintf("%d", quality)}
	default: // libx264
		return []string{"-crf", fmt.Sprintf("%d", quality), "-preset", "medium"}
	}
}

// Concatenate склеивает сегменты в исходном порядке деки: без зазоров,
// без наложений, итоговая длительность — точная сумма сегментов.
func (a *FFmpegAssembler) Concatenate(ctx context.Context, segments []Segment, finalPath, tmpDir string) error {
	if len(segments) == 0 {
		return &AssemblyError{SlideIndex: -1, Reason: "no segments to concatenate"}
	}

	listPath := filepath.Join(tmpDir, "inputs.txt")
	f, err := os.Create(listPath)
	if err != nil {
		return &AssemblyError{SlideIndex: -1, Reason: err.Error()}
	}
	for _, seg := range segments {
		absPath, _ := filepath.Abs(seg.Path)
		fmt.Fprintf(f, "file '%s'\n", absPath)
	}
	f.Close()

	if a.Cfg.MusicPath == "" {
		cmd := exec.CommandContext(ctx, "ffmpeg", "-y",
			"-f", "concat", "-safe", "0", "-i", listPath,
			"-c", "copy", finalPath,
		)
		if out, err := cmd.CombinedOutput(); err != nil {
			return &AssemblyError{SlideIndex: -1, Reason: fmt.Sprintf("ffmpeg concat: %v: %s", err, tail(string(out)))}
		}
		return nil
	}

	// Фоновая музыка: микшируем под дикторскую дорожку с плавным входом
	// и выходом; видеоряд при этом копируется без перекодирования.
	total := 0.0
	for _, seg := range segments {
		total += seg.Duration
	}

	fadeIn, fadeOut := 5.0, 5.0
	if total < fadeIn+fadeOut {
		fadeIn = total * 0.1
		fadeOut = total * 0.1
	}
	volExpr := fmt.Sprintf("volume='%f*(if(lte(t,%f), 0.1 + 0.9*(t/%f), if(gte(t, %f), (%f-t)/%f, 1.0)))':eval=frame",
		a.Cfg.MusicVolume, fadeIn, fadeIn, total-fadeOut, total, fadeOut)
	filter := fmt.Sprintf("[1:a]%s[bg];[0:a]volume=1.0[main];[main][bg]amix=inputs=2:duration=first:dropout_transition=3[aout]", volExpr)

	cmd := exec.CommandContext(ctx, "ffmpeg", "-y",
		"-f", "concat", "-safe", "0", "-i", listPath,
		"-stream_loop", "-1", "-i", a.Cfg.MusicPath,
		"-filter_complex", filter,
		"-map", "0:v", "-map", "[aout]",
		"-c:v", "copy",
		"-c:a", "aac", "-b:a", "192k",
		"-t", fmt.Sprintf("%.3f", total),
		finalPath,
	)
	if out, err := cmd.CombinedOutput(); err != nil {
		return &AssemblyError{SlideIndex: -1, Reason: fmt.Sprintf("ffmpeg mix: %v: %s", err, tail(string(out)))}
	}
	return nil
}

func writeRawRGBA(w io.Writer, img image.Image) error {
	bounds := img.Bounds()
	rgba, ok := img.(*image.RGBA)
	if !ok || rgba.Stride != bounds.Dx()*4 || rgba.Rect.Min.X != 0 || rgba.Rect.Min.Y != 0 {
		rgba = image.NewRGBA(bounds)
		draw.Draw(rgba, bounds, img, bounds.Min, draw.Src)
	}
	_, err := w.Write(rgba.Pix)
	return err
}

// tail обрезает лог ffmpeg до последних строк — в ошибке важен хвост.
func tail(s string) string {
	s = strings.TrimSpace(s)
	lines := strings.Split(s, "\n")
	if len(lines) <= 6 {
		return s
	}
	return strings.Join(lines[len(lines)-6:], "\n")
}
