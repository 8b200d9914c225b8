package game

import (
	"strings"
	"unicode"
)

// sanitizeInput strips control and non-printable runes from client text and
// collapses exotic whitespace to plain spaces. Framing already guarantees
// valid UTF-8, so this only has to police what JSON legally carries.
func sanitizeInput(s string) string {
	if s == "" {
		return ""
	}
	var builder strings.Builder
	builder.Grow(len(s))
	changed := false
	for _, r := range s {
		sanitized, ok := sanitizeRune(r)
		if !ok || sanitized != r {
			changed = true
		}
		if !ok {
			continue
		}
		builder.WriteRune(sanitized)
	}
	if !changed {
		return s
	}
	return builder.String()
}

func sanitizeRune(r rune) (rune, bool) {
	switch {
	case r == ' ':
		return r, true
	case unicode.IsSpace(r):
		return ' ', true
	case r < 0x20 || r == 0x7f:
		return 0, false
	case unicode.Is(unicode.Cf, r):
		return 0, false
	case !unicode.IsPrint(r):
		return 0, false
	default:
		return r, true
	}
}
