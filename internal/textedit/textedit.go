// Package textedit maps LSP (line, UTF-16 code unit) positions to UTF-8
// byte offsets and applies incremental or full-sync text edits (spec.md
// §4.6, §8). Grounded on original_source/src/text_edit.rs's incremental
// change application, reimplemented directly against the standard
// library since no pack dependency offers UTF-16-aware text mapping.
package textedit

import (
	"unicode/utf8"

	"github.com/venvmux/venvmux/internal/errs"
)

// Position is an LSP position: a zero-based line and a zero-based
// character offset counted in UTF-16 code units.
type Position struct {
	Line      int
	Character int
}

// Range is an LSP range: Start inclusive, End exclusive.
type Range struct {
	Start Position
	End   Position
}

// Less reports whether p precedes o in document order.
func (p Position) Less(o Position) bool {
	if p.Line != o.Line {
		return p.Line < o.Line
	}
	return p.Character < o.Character
}

// Offset computes the UTF-8 byte offset of pos within text. character
// beyond end-of-line clamps to end-of-line; line beyond the last line
// (the implicit trailing empty line counts) is a ProtocolSemantic error.
// The returned offset always lands on a rune boundary, even when pos
// falls inside a surrogate pair's two UTF-16 code units.
func Offset(text string, pos Position) (int, error) {
	if pos.Line < 0 || pos.Character < 0 {
		return 0, errs.New(errs.KindProtocolSemantic, "negative line or character")
	}

	start, end, err := lineBounds(text, pos.Line)
	if err != nil {
		return 0, err
	}

	i := start
	units := 0
	for i < end {
		if units >= pos.Character {
			break
		}
		r, size := utf8.DecodeRuneInString(text[i:])
		n := 1
		if r > 0xFFFF {
			n = 2
		}
		if units+n > pos.Character {
			break
		}
		units += n
		i += size
	}
	return i, nil
}

// lineBounds returns the [start, end) byte range of the given zero-based
// line, excluding its trailing newline. A text ending in a newline has
// one additional, empty implicit line after the final newline byte.
func lineBounds(text string, line int) (int, int, error) {
	start := 0
	cur := 0
	for {
		nl := indexByte(text[start:], '\n')
		if cur == line {
			if nl < 0 {
				return start, len(text), nil
			}
			return start, start + nl, nil
		}
		if nl < 0 {
			return 0, 0, errs.New(errs.KindProtocolSemantic, "line out of range")
		}
		start += nl + 1
		cur++
	}
}

func indexByte(s string, b byte) int {
	for i := 0; i < len(s); i++ {
		if s[i] == b {
			return i
		}
	}
	return -1
}

// ApplyIncremental replaces the text within rng with newText. start >
// end (in (line, character) order) is a ProtocolSemantic error, per
// spec.md §8.
func ApplyIncremental(text string, rng Range, newText string) (string, error) {
	if rng.End.Less(rng.Start) {
		return "", errs.New(errs.KindProtocolSemantic, "invalid range: start beyond end")
	}

	startOffset, err := Offset(text, rng.Start)
	if err != nil {
		return "", err
	}
	endOffset, err := Offset(text, rng.End)
	if err != nil {
		return "", err
	}

	return text[:startOffset] + newText + text[endOffset:], nil
}

// ApplyFull replaces the whole document text (full-sync didChange).
func ApplyFull(newText string) string {
	return newText
}
