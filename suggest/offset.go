package suggest

import (
	"strings"
	"unicode/utf8"

	protocol "github.com/tliron/glsp/protocol_3_16"
)

// OffsetAt converts an LSP position to a byte offset in text. Character
// counts UTF-16 code units. Out-of-range lines and characters clamp to the
// nearest valid position.
func OffsetAt(text string, pos protocol.Position) int {
	lineStart := 0
	for line := protocol.UInteger(0); line < pos.Line; line++ {
		nl := strings.IndexByte(text[lineStart:], '\n')
		if nl < 0 {
			// past the last line: clamp to document end
			return len(text)
		}
		lineStart += nl + 1
	}

	lineEnd := len(text)
	if nl := strings.IndexByte(text[lineStart:], '\n'); nl >= 0 {
		lineEnd = lineStart + nl
	}
	if lineEnd > lineStart && text[lineEnd-1] == '\r' {
		lineEnd--
	}

	offset := lineStart
	units := protocol.UInteger(0)
	for offset < lineEnd && units < pos.Character {
		r, size := utf8.DecodeRuneInString(text[offset:])
		n := protocol.UInteger(1)
		if r >= 0x10000 {
			n = 2
		}
		if units+n > pos.Character {
			// inside a surrogate pair; stay before the rune
			break
		}
		units += n
		offset += size
	}
	return offset
}

// PositionAt converts a byte offset to an LSP position. Offsets are clamped
// to [0, len(text)] and snapped back to a rune boundary.
func PositionAt(text string, offset int) protocol.Position {
	offset = clamp(offset, 0, len(text))
	for offset > 0 && offset < len(text) && !utf8.RuneStart(text[offset]) {
		offset--
	}

	lineStart := strings.LastIndexByte(text[:offset], '\n') + 1
	line := strings.Count(text[:lineStart], "\n")

	units := 0
	for _, r := range text[lineStart:offset] {
		if r >= 0x10000 {
			units += 2
		} else {
			units++
		}
	}
	return protocol.Position{Line: protocol.UInteger(line), Character: protocol.UInteger(units)}
}

// RangeOffsets converts r to a byte range [from, to) in text, clamping
// both ends and swapping them if start falls after end.
func RangeOffsets(text string, r protocol.Range) (from, to int) {
	from = OffsetAt(text, r.Start)
	to = OffsetAt(text, r.End)
	if from > to {
		from, to = to, from
	}
	return from, to
}

func clamp(v, lo, hi int) int {
	return max(lo, min(v, hi))
}
