package deck

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	gtext "github.com/yuin/goldmark/text"
)

// Deck markup grammar, line oriented:
//
//	## Slide <N>: <title>
//	### Visual
//	<prose, or one fenced code block>
//	### Narration
//	<free text>
//	### Duration        (optional)
//	<positive integer seconds>
//
// Slides are delimited by the next "## Slide" heading or a thematic break.
// Parsing goes through the goldmark AST instead of scanning lines: a fenced
// block inside the Visual section is a single AST node, so delimiter-looking
// text inside it can never be mistaken for a section boundary.

var slideHeadingRe = regexp.MustCompile(`^[Ss]lide\s+(\d+)\s*[:.]\s*(.*)$`)

// Parse validates the whole document and returns the ordered deck.
// It never returns a partially valid deck: the first malformed slide
// aborts with a ParseError before any rendering can start.
func Parse(source []byte) (*Deck, error) {
	md := goldmark.New()
	doc := md.Parser().Parse(gtext.NewReader(source))

	var (
		deck    Deck
		current *slideBuilder
	)

	finalize := func() error {
		if current == nil {
			return nil
		}
		spec, err := current.build(source)
		if err != nil {
			return err
		}
		deck.Slides = append(deck.Slides, spec)
		current = nil
		return nil
	}

	for n := doc.FirstChild(); n != nil; n = n.NextSibling() {
		switch node := n.(type) {
		case *ast.Heading:
			switch node.Level {
			case 2:
				// The open slide is finalized first, so errors in the new
				// heading are counted against the new slide, not the one
				// before it.
				if err := finalize(); err != nil {
					return nil, err
				}
				m := slideHeadingRe.FindStringSubmatch(headingText(node, source))
				if m == nil {
					return nil, &ParseError{
						SlideIndex: len(deck.Slides) + 1,
						Reason:     fmt.Sprintf("malformed slide heading %q", headingText(node, source)),
					}
				}
				title := strings.TrimSpace(m[2])
				if title == "" {
					return nil, &ParseError{
						SlideIndex: len(deck.Slides) + 1,
						Reason:     "slide heading has no title",
					}
				}
				current = &slideBuilder{index: len(deck.Slides) + 1, title: title}
			case 3:
				name := strings.TrimSpace(headingText(node, source))
				if current == nil {
					return nil, &ParseError{
						SlideIndex: len(deck.Slides) + 1,
						Reason:     fmt.Sprintf("section %q appears before the first slide heading", name),
					}
				}
				if err := current.openSection(name); err != nil {
					return nil, err
				}
			default:
				// Level 1 headings are a document preamble, deeper
				// levels are plain slide content.
				if current != nil {
					current.addContent(n)
				}
			}
		case *ast.ThematicBreak:
			if err := finalize(); err != nil {
				return nil, err
			}
		default:
			if current != nil {
				current.addContent(n)
			}
			// Content before the first slide heading is ignored.
		}
	}
	if err := finalize(); err != nil {
		return nil, err
	}

	if len(deck.Slides) == 0 {
		return nil, ErrEmptyDeck
	}
	return &deck, nil
}

type sectionKind int

const (
	secNone sectionKind = iota
	secVisual
	secNarration
	secDuration
)

type slideBuilder struct {
	index     int
	title     string
	section   sectionKind
	visual    []ast.Node
	narration []ast.Node
	duration  []ast.Node
}

func (b *slideBuilder) openSection(name string) error {
	switch strings.ToLower(name) {
	case "visual":
		b.section = secVisual
	case "narration":
		b.section = secNarration
	case "duration":
		b.section = secDuration
	default:
		return &ParseError{
			SlideIndex: b.index,
			Title:      b.title,
			Reason:     fmt.Sprintf("unknown section %q (expected Visual, Narration or Duration)", name),
		}
	}
	return nil
}

func (b *slideBuilder) addContent(n ast.Node) {
	switch b.section {
	case secVisual:
		b.visual = append(b.visual, n)
	case secNarration:
		b.narration = append(b.narration, n)
	case secDuration:
		b.duration = append(b.duration, n)
	}
	// Content outside any section (directly under the slide heading)
	// is ignored, matching the grammar.
}

func (b *slideBuilder) build(source []byte) (SlideSpec, error) {
	spec := SlideSpec{Index: b.index, Title: b.title}

	visual, err := buildVisual(b.visual, source)
	if err != nil {
		return SlideSpec{}, &ParseError{SlideIndex: b.index, Title: b.title, Reason: err.Error()}
	}
	spec.Visual = visual

	narration := strings.TrimSpace(nodesText(b.narration, source))
	if narration == "" {
		return SlideSpec{}, &ParseError{SlideIndex: b.index, Title: b.title, Reason: "missing Narration section"}
	}
	spec.Narration = narration

	if len(b.duration) > 0 {
		raw := strings.TrimSpace(nodesText(b.duration, source))
		seconds, err := strconv.Atoi(raw)
		if err != nil || seconds <= 0 {
			return SlideSpec{}, &ParseError{
				SlideIndex: b.index,
				Title:      b.title,
				Reason:     fmt.Sprintf("Duration must be a positive integer number of seconds, got %q", raw),
			}
		}
		spec.ExplicitDuration = float64(seconds)
	}

	return spec, nil
}

func buildVisual(nodes []ast.Node, source []byte) (Visual, error) {
	blocks := nonEmptyNodes(nodes, source)
	if len(blocks) == 0 {
		return Visual{}, fmt.Errorf("missing Visual section")
	}

	// A Visual that is exactly one fenced block renders in code mode.
	// Anything else is prose; fenced blocks mixed into prose stay verbatim.
	if len(blocks) == 1 {
		if fence, ok := blocks[0].(*ast.FencedCodeBlock); ok {
			code := strings.TrimRight(blockText(fence, source), "\n")
			if strings.TrimSpace(code) == "" {
				return Visual{}, fmt.Errorf("missing Visual section")
			}
			return Visual{
				Text:     code,
				Code:     true,
				Language: string(fence.Language(source)),
			}, nil
		}
	}

	text := strings.TrimSpace(nodesText(blocks, source))
	if text == "" {
		return Visual{}, fmt.Errorf("missing Visual section")
	}
	return Visual{Text: text}, nil
}

func nonEmptyNodes(nodes []ast.Node, source []byte) []ast.Node {
	var out []ast.Node
	for _, n := range nodes {
		if strings.TrimSpace(blockText(n, source)) == "" {
			continue
		}
		out = append(out, n)
	}
	return out
}

func nodesText(nodes []ast.Node, source []byte) string {
	parts := make([]string, 0, len(nodes))
	for _, n := range nodes {
		t := strings.TrimRight(blockText(n, source), "\n")
		if t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, "\n")
}

// blockText reconstructs the raw source text of a block node.
func blockText(n ast.Node, source []byte) string {
	switch node := n.(type) {
	case *ast.List:
		var b strings.Builder
		num := node.Start
		for item := node.FirstChild(); item != nil; item = item.NextSibling() {
			line := strings.TrimSpace(blockText(item, source))
			if node.IsOrdered() {
				fmt.Fprintf(&b, "%d%c %s\n", num, node.Marker, line)
				num++
			} else {
				fmt.Fprintf(&b, "%c %s\n", node.Marker, line)
			}
		}
		return b.String()
	case *ast.ListItem:
		var b strings.Builder
		for c := node.FirstChild(); c != nil; c = c.NextSibling() {
			b.WriteString(blockText(c, source))
		}
		return b.String()
	default:
		var b strings.Builder
		lines := n.Lines()
		for i := 0; i < lines.Len(); i++ {
			seg := lines.At(i)
			b.Write(seg.Value(source))
		}
		return b.String()
	}
}

func headingText(n *ast.Heading, source []byte) string {
	var b strings.Builder
	lines := n.Lines()
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		b.Write(seg.Value(source))
	}
	return strings.TrimSpace(b.String())
}
