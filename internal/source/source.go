package source

import (
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"strings"

	"github.com/gen2brain/go-fitz"
)

// Template is a background image drawn under every slide's text.
// It comes either from an image file or from the first page of a PDF
// (brand templates are usually exported as single-page PDFs).
type Template interface {
	Render(dpi int) (image.Image, error)
	Close() error
}

// Load picks the implementation by file extension.
func Load(path string) (Template, error) {
	switch {
	case strings.HasSuffix(strings.ToLower(path), ".pdf"):
		return newPDFTemplate(path)
	default:
		return newImageTemplate(path)
	}
}

type pdfTemplate struct {
	doc *fitz.Document
}

func newPDFTemplate(path string) (*pdfTemplate, error) {
	doc, err := fitz.New(path)
	if err != nil {
		return nil, fmt.Errorf("cannot open template %s: %w", path, err)
	}
	if doc.NumPage() == 0 {
		doc.Close()
		return nil, fmt.Errorf("template %s has no pages", path)
	}
	return &pdfTemplate{doc: doc}, nil
}

func (t *pdfTemplate) Render(dpi int) (image.Image, error) {
	return t.doc.ImageDPI(0, float64(dpi))
}

func (t *pdfTemplate) Close() error {
	return t.doc.Close()
}

type imageTemplate struct {
	path string
}

func newImageTemplate(path string) (*imageTemplate, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	return &imageTemplate{path: path}, nil
}

func (t *imageTemplate) Render(dpi int) (image.Image, error) {
	f, err := os.Open(t.path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("cannot decode template %s: %w", t.path, err)
	}
	return img, nil
}

func (t *imageTemplate) Close() error {
	return nil
}
