package finalizer

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// MaxTitleLength caps sanitized titles, in characters.
const MaxTitleLength = 200

// DefaultTitle is used when both the title and the fallback sanitize to nothing.
const DefaultTitle = "video"

const reservedChars = `\/*?:"<>|`

// SanitizeTitle turns a human title into a filesystem-safe base name.
// Reserved and control characters are removed, whitespace is collapsed,
// leading and trailing spaces and dots are trimmed, and the result is capped at MaxTitleLength.
// An empty result falls back to fallback, then to DefaultTitle.
func SanitizeTitle(title, fallback string) string {
	if s := sanitize(title); s != "" {
		return s
	}

	if s := sanitize(fallback); s != "" {
		return s
	}

	return DefaultTitle
}

func sanitize(s string) string {
	s = strings.ToValidUTF8(s, "")

	s = strings.Map(func(r rune) rune {
		switch {
		case strings.ContainsRune(reservedChars, r):
			return -1
		case unicode.IsControl(r):
			return ' '
		default:
			return r
		}
	}, s)

	s = strings.Join(strings.Fields(s), " ")
	s = strings.Trim(s, " .")

	if utf8.RuneCountInString(s) > MaxTitleLength {
		s = string([]rune(s)[:MaxTitleLength])
		s = strings.Trim(s, " .")
	}

	return s
}

// fitName shortens s to at most n bytes without splitting a character.
func fitName(s string, n int) string {
	if len(s) <= n {
		return s
	}

	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}

	if t := strings.Trim(s[:n], " ."); t != "" {
		return t
	}

	return DefaultTitle
}
