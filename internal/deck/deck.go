package deck

import (
	"errors"
	"fmt"
)

// SlideSpec is a single slide as declared in the deck document.
// Immutable after parsing; Index is the 1-based position in the deck,
// independent of the number written in the heading.
type SlideSpec struct {
	Index     int
	Title     string
	Visual    Visual
	Narration string

	// ExplicitDuration overrides the narration-driven segment duration.
	// 0 means "no override".
	ExplicitDuration float64
}

// Visual is the slide body: either prose or a fenced code block.
type Visual struct {
	Text     string
	Code     bool
	Language string
}

// Deck is the ordered slide list parsed from one document.
// Order is significant and preserved end-to-end.
type Deck struct {
	Slides []SlideSpec
}

// ErrEmptyDeck is returned when the document contains no slides at all.
var ErrEmptyDeck = errors.New("deck contains no slides")

// ParseError describes one malformed slide. SlideIndex is 1-based;
// Title may be empty when the heading itself is broken.
type ParseError struct {
	SlideIndex int
	Title      string
	Reason     string
}

func (e *ParseError) Error() string {
	if e.Title != "" {
		return fmt.Sprintf("slide %d (%s): %s", e.SlideIndex, e.Title, e.Reason)
	}
	return fmt.Sprintf("slide %d: %s", e.SlideIndex, e.Reason)
}
