package layout

import (
	"fmt"
	"image"
	"image/color"
	stddraw "image/draw"
	"strings"

	qrcode "github.com/skip2/go-qrcode"
	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"

	"github.com/ivlev/deck2video/internal/config"
	"github.com/ivlev/deck2video/internal/deck"
	"github.com/ivlev/deck2video/internal/source"
	"github.com/ivlev/deck2video/internal/system"
)

const (
	fontStep     = 2    // adaptive search step, px
	lineLeading  = 2    // extra px between lines
	titleGap     = 18   // gap between title block and body, px
	footerBand   = 40   // reserved for the slide counter, px
	counterSize  = 18   // counter label font size
	qrImageSize  = 104  // QR overlay edge, px
	edgeMargin   = 20   // overlay distance from canvas edges, px
	templateDPI  = 150  // raster density for PDF templates
	templateVeil = 0xd2 // alpha of the background veil over a template
)

// RenderedSlide is one rasterized slide. The image is always exactly
// Width x Height from the Config, no matter how long the content is.
type RenderedSlide struct {
	SlideIndex int
	Image      *image.RGBA
	FontSize   int
}

// OverflowWarning reports content truncated at the minimum font size.
// It is a logged condition, never an error.
type OverflowWarning struct {
	SlideIndex   int
	Title        string
	DroppedLines int
	FontSize     int
}

func (w OverflowWarning) String() string {
	return fmt.Sprintf("slide %d (%s): %d line(s) dropped at minimum font size %d",
		w.SlideIndex, w.Title, w.DroppedLines, w.FontSize)
}

// Engine rasterizes SlideSpecs. Safe for concurrent Render calls: the
// parsed fonts are read-only and every call derives its own faces.
type Engine struct {
	cfg        config.Config
	fonts      *fontSet
	pool       *system.CanvasPool
	background *image.RGBA // scaled to the canvas, nil when unset
	qr         image.Image // pre-rendered QR overlay, nil when unset
}

func NewEngine(cfg config.Config) (*Engine, error) {
	fonts, err := loadFonts()
	if err != nil {
		return nil, err
	}
	e := &Engine{
		cfg:   cfg,
		fonts: fonts,
		pool:  system.NewCanvasPool(cfg.Width, cfg.Height),
	}

	if cfg.BackgroundTemplate != "" {
		tpl, err := source.Load(cfg.BackgroundTemplate)
		if err != nil {
			return nil, err
		}
		defer tpl.Close()
		img, err := tpl.Render(templateDPI)
		if err != nil {
			return nil, err
		}
		scaled := image.NewRGBA(image.Rect(0, 0, cfg.Width, cfg.Height))
		xdraw.ApproxBiLinear.Scale(scaled, scaled.Bounds(), img, img.Bounds(), xdraw.Src, nil)
		e.background = scaled
	}

	if cfg.QRLink != "" {
		qr, err := qrcode.New(cfg.QRLink, qrcode.Medium)
		if err != nil {
			return nil, fmt.Errorf("qr overlay: %w", err)
		}
		e.qr = qr.Image(qrImageSize)
	}

	return e, nil
}

// Render rasterizes one slide. Deterministic for identical inputs: no
// randomness, no clock. total is the deck length for the counter overlay.
func (e *Engine) Render(spec deck.SlideSpec, total int) (*RenderedSlide, *OverflowWarning, error) {
	cfg := e.cfg
	canvas := e.pool.Get()
	bounds := canvas.Bounds()

	bg := color.NRGBA{R: cfg.BackgroundColor.R, G: cfg.BackgroundColor.G, B: cfg.BackgroundColor.B, A: 0xff}
	stddraw.Draw(canvas, bounds, image.NewUniform(bg), image.Point{}, stddraw.Src)
	if e.background != nil {
		stddraw.Draw(canvas, bounds, e.background, image.Point{}, stddraw.Src)
		// Veil keeps the text readable on top of an arbitrary template.
		veil := color.NRGBA{R: cfg.BackgroundColor.R, G: cfg.BackgroundColor.G, B: cfg.BackgroundColor.B, A: templateVeil}
		stddraw.Draw(canvas, bounds, image.NewUniform(veil), image.Point{}, stddraw.Over)
	}

	textCol := color.NRGBA{R: cfg.TextColor.R, G: cfg.TextColor.G, B: cfg.TextColor.B, A: 0xff}
	contentX := cfg.PaddingPx
	contentW := cfg.Width - 2*cfg.PaddingPx
	y := cfg.PaddingPx

	// Title band: bold face one step above the body maximum.
	titleFace, err := newFace(e.fonts.bold, cfg.MaxFontSize+8)
	if err != nil {
		return nil, nil, err
	}
	defer titleFace.Close()

	titleMetrics := titleFace.Metrics()
	titleLineH := titleMetrics.Height.Ceil() + lineLeading
	for _, line := range wrapLine(titleFace, spec.Title, contentW) {
		drawText(canvas, titleFace, contentX, y+titleMetrics.Ascent.Ceil(), line, textCol)
		y += titleLineH
	}
	// Accent rule under the title.
	rule := image.Rect(contentX, y+4, contentX+contentW/3, y+7)
	stddraw.Draw(canvas, rule, image.NewUniform(color.NRGBA{R: textCol.R, G: textCol.G, B: textCol.B, A: 0x66}), image.Point{}, stddraw.Over)
	y += titleGap

	// Body box: everything below the title minus padding and the footer
	// band reserved for the counter.
	footer := 0
	if cfg.CounterEnabled {
		footer = footerBand
	}
	bodyH := cfg.Height - cfg.PaddingPx - footer - y
	if bodyH < 0 {
		bodyH = 0
	}

	bodyFont := e.fonts.regular
	lines := proseLines(spec.Visual.Text)
	if spec.Visual.Code {
		bodyFont = e.fonts.mono
		lines = codeLines(spec.Visual.Text)
	}

	face, wrapped, chosen, err := e.fitBody(bodyFont, lines, contentW, bodyH)
	if err != nil {
		return nil, nil, err
	}
	defer face.Close()

	metrics := face.Metrics()
	lineH := metrics.Height.Ceil() + lineLeading

	// Only as many wrapped lines as fit the box are drawn. A box shorter
	// than one line height draws nothing: text never bleeds into the
	// footer band.
	var warning *OverflowWarning
	visible := wrapped
	if maxLines := bodyH / lineH; len(wrapped) > maxLines {
		visible = wrapped[:maxLines]
		warning = &OverflowWarning{
			SlideIndex:   spec.Index,
			Title:        spec.Title,
			DroppedLines: len(wrapped) - maxLines,
			FontSize:     chosen,
		}
	}

	baseline := y + metrics.Ascent.Ceil()
	for _, line := range visible {
		col := textCol
		if spec.Visual.Code {
			col = lineColor(line, textCol)
		}
		drawText(canvas, face, contentX, baseline, line, col)
		baseline += lineH
	}

	if e.qr != nil {
		qrBounds := e.qr.Bounds()
		at := image.Rect(edgeMargin, cfg.Height-edgeMargin-qrBounds.Dy(),
			edgeMargin+qrBounds.Dx(), cfg.Height-edgeMargin)
		stddraw.Draw(canvas, at, e.qr, qrBounds.Min, stddraw.Over)
	}

	// Counter goes last so nothing ever occludes it. 1-based.
	if cfg.CounterEnabled {
		if err := e.drawCounter(canvas, spec.Index, total); err != nil {
			return nil, nil, err
		}
	}

	return &RenderedSlide{SlideIndex: spec.Index, Image: canvas, FontSize: chosen}, warning, nil
}

// Release hands the slide's canvas back to the pool once the encoder has
// consumed the pixels.
func (e *Engine) Release(rs *RenderedSlide) {
	if rs == nil {
		return
	}
	e.pool.Put(rs.Image)
	rs.Image = nil
}

// fitBody searches font sizes downward from MaxFontSize in fixed steps and
// keeps the largest size whose wrapped height fits the box. When even
// MinFontSize overflows, the minimum size is returned and the caller
// truncates.
func (e *Engine) fitBody(f *opentype.Font, lines []string, boxW, boxH int) (font.Face, []string, int, error) {
	for size := e.cfg.MaxFontSize; size >= e.cfg.MinFontSize; size -= fontStep {
		face, err := newFace(f, size)
		if err != nil {
			return nil, nil, 0, err
		}
		wrapped := wrapAll(face, lines, boxW)
		lineH := face.Metrics().Height.Ceil() + lineLeading
		if len(wrapped)*lineH <= boxH || size == e.cfg.MinFontSize {
			return face, wrapped, size, nil
		}
		face.Close()
	}

	// MaxFontSize below MinFontSize after stepping: fall back to the minimum.
	face, err := newFace(f, e.cfg.MinFontSize)
	if err != nil {
		return nil, nil, 0, err
	}
	return face, wrapAll(face, lines, boxW), e.cfg.MinFontSize, nil
}

func (e *Engine) drawCounter(canvas *image.RGBA, index, total int) error {
	face, err := newFace(e.fonts.regular, counterSize)
	if err != nil {
		return err
	}
	defer face.Close()

	label := fmt.Sprintf("%d/%d", index, total)
	w := textWidth(face, label)
	metrics := face.Metrics()
	x := e.cfg.Width - edgeMargin - w
	baseline := e.cfg.Height - edgeMargin - metrics.Descent.Ceil()

	plate := image.Rect(x-8, baseline-metrics.Ascent.Ceil()-4, x+w+8, baseline+metrics.Descent.Ceil()+4)
	stddraw.Draw(canvas, plate, image.NewUniform(color.NRGBA{A: 0x6e}), image.Point{}, stddraw.Over)

	col := color.NRGBA{R: e.cfg.TextColor.R, G: e.cfg.TextColor.G, B: e.cfg.TextColor.B, A: 0xdc}
	drawText(canvas, face, x, baseline, label, col)
	return nil
}

func drawText(dst *image.RGBA, face font.Face, x, baseline int, s string, col color.NRGBA) {
	d := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(col),
		Face: face,
		Dot:  fixed.P(x, baseline),
	}
	d.DrawString(s)
}

func textWidth(face font.Face, s string) int {
	d := &font.Drawer{Face: face}
	return d.MeasureString(s).Ceil()
}

// proseLines prepares prose content: list markers become bullet glyphs,
// indentation of the marker is preserved.
func proseLines(text string) []string {
	lines := strings.Split(text, "\n")
	out := make([]string, len(lines))
	for i, line := range lines {
		trimmed := strings.TrimLeft(line, " \t")
		if strings.HasPrefix(trimmed, "- ") || strings.HasPrefix(trimmed, "* ") {
			indent := line[:len(line)-len(trimmed)]
			out[i] = indent + "• " + trimmed[2:]
			continue
		}
		out[i] = line
	}
	return out
}

// codeLines prepares code content: tabs become four spaces so the mono
// face renders them predictably.
func codeLines(text string) []string {
	lines := strings.Split(text, "\n")
	out := make([]string, len(lines))
	for i, line := range lines {
		out[i] = strings.ReplaceAll(line, "\t", "    ")
	}
	return out
}

func wrapAll(face font.Face, lines []string, maxW int) []string {
	var out []string
	for _, line := range lines {
		out = append(out, wrapLine(face, line, maxW)...)
	}
	return out
}

// wrapLine greedily word-wraps one source line to maxW. A single token
// wider than the box is placed alone on its own line, never split.
// Leading indentation is kept on every wrapped line.
func wrapLine(face font.Face, line string, maxW int) []string {
	trimmed := strings.TrimLeft(line, " ")
	indent := line[:len(line)-len(trimmed)]
	words := strings.Fields(trimmed)
	if len(words) == 0 {
		return []string{""}
	}

	var out []string
	cur := indent + words[0]
	for _, w := range words[1:] {
		candidate := cur + " " + w
		if textWidth(face, candidate) <= maxW {
			cur = candidate
			continue
		}
		out = append(out, cur)
		cur = indent + w
	}
	return append(out, cur)
}
