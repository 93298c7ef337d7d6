package utils

import (
	"strings"
	"unicode"
)

// maxFilenameComponent caps sanitized compare keys used in artifact filenames.
const maxFilenameComponent = 80

func isFilenameSafe(r rune) bool {
	switch r {
	case '<', '>', ':', '"', '/', '\\', '|', '?', '*', ' ':
		return false
	}
	return !unicode.IsControl(r)
}

// SanitizeFilename turns a compare key into a filename component that is safe
// on both Unix and Windows. Each run of unsafe runes or spaces becomes a
// single underscore, the result is capped at maxFilenameComponent runes, and
// a key with nothing left after cleaning comes back as "compare".
func SanitizeFilename(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	pendingSep := false
	for _, r := range name {
		if !isFilenameSafe(r) {
			pendingSep = b.Len() > 0
			continue
		}
		if pendingSep {
			b.WriteByte('_')
			pendingSep = false
		}
		b.WriteRune(r)
	}

	out := strings.Trim(b.String(), "_")
	if runes := []rune(out); len(runes) > maxFilenameComponent {
		out = strings.Trim(string(runes[:maxFilenameComponent]), "_")
	}
	if out == "" {
		return "compare"
	}
	return out
}
