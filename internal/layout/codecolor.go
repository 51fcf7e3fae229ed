package layout

import (
	"image/color"
	"strings"
)

// Heuristic, non-tokenizing code coloring: each line gets a single color
// from a substring check. A real lexer can replace lineColor without
// touching the engine contract.

var (
	keywordColor = color.NRGBA{R: 0x56, G: 0x9c, B: 0xd6, A: 0xff}
	commentColor = color.NRGBA{R: 0x6a, G: 0x99, B: 0x55, A: 0xff}
	stringColor  = color.NRGBA{R: 0xce, G: 0x91, B: 0x78, A: 0xff}
)

var commentMarkers = []string{"//", "#", "--", ";;"}

var declarationKeywords = []string{
	"func ", "def ", "class ", "import ", "package ", "from ",
	"var ", "const ", "let ", "type ", "return", "fn ", "struct ",
}

// lineColor classifies one code line. Comment markers win over keywords:
// a commented-out import is still a comment.
func lineColor(line string, fallback color.NRGBA) color.NRGBA {
	trimmed := strings.TrimSpace(line)
	for _, m := range commentMarkers {
		if strings.HasPrefix(trimmed, m) {
			return commentColor
		}
	}
	for _, kw := range declarationKeywords {
		if strings.Contains(line, kw) {
			return keywordColor
		}
	}
	if strings.ContainsAny(line, "\"'`") {
		return stringColor
	}
	return fallback
}
