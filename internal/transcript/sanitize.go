package transcript

import (
	"strings"
	"unicode"
)

const maxNameRunes = 100

// SanitizeFilename makes a conversation name safe for use as a directory name.
// Distinct names can sanitize to the same result; callers that write into
// the directory do not de-duplicate.
func SanitizeFilename(name string) string {
	if name == "" {
		return "Unknown"
	}

	var b strings.Builder
	b.Grow(len(name))
	pendingSpace := false
	for _, r := range name {
		if isForbiddenFilenameRune(r) {
			r = '_'
		}
		// Collapse runs of underscores and whitespace into a single space
		if r == '_' || unicode.IsSpace(r) {
			pendingSpace = true
			continue
		}
		if pendingSpace && b.Len() > 0 {
			b.WriteByte(' ')
		}
		pendingSpace = false
		b.WriteRune(r)
	}
	sanitized := b.String()

	if runes := []rune(sanitized); len(runes) > maxNameRunes {
		sanitized = strings.TrimSpace(string(runes[:maxNameRunes]))
	}
	// "." and ".." would resolve to the current or parent directory
	if strings.Trim(sanitized, ".") == "" {
		return "Unknown"
	}
	return sanitized
}

func isForbiddenFilenameRune(r rune) bool {
	if r <= 0x1f {
		return true
	}
	switch r {
	case '<', '>', ':', '"', '/', '\\', '|', '?', '*':
		return true
	default:
		return false
	}
}
