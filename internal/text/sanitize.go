package text

import (
	"strings"
	"unicode/utf16"
	"unicode/utf8"
)

// Sanitize normalizes text before it is stored or sent for embedding.
// Well-formed supplementary-plane characters (surrogate pairs in UTF-16
// sources) are preserved. Unpaired surrogate code points and bytes that do
// not decode as UTF-8 are dropped entirely. ASCII control characters below
// 32, except tab, LF and CR, become a single space so word boundaries
// survive the cleanup.
func Sanitize(s string) string {
	if isClean(s) {
		return s
	}

	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		switch {
		case r == utf8.RuneError && size == 1:
			// invalid byte sequence, usually a lone surrogate smuggled
			// through a lossy transcoding step
		case utf16.IsSurrogate(r):
			// surrogate code point outside a pair
		case r < 32 && r != '\t' && r != '\n' && r != '\r':
			b.WriteByte(' ')
		default:
			b.WriteRune(r)
		}
		i += size
	}
	return b.String()
}

// isClean is the common-case fast path: most extracted text needs no work.
func isClean(s string) bool {
	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		if r == utf8.RuneError && size == 1 {
			return false
		}
		if utf16.IsSurrogate(r) {
			return false
		}
		if r < 32 && r != '\t' && r != '\n' && r != '\r' {
			return false
		}
		i += size
	}
	return true
}

// Truncate returns at most limit code points of s, always cutting on a
// rune boundary so a supplementary-plane character is never split in half.
func Truncate(s string, limit int) string {
	if limit <= 0 {
		return ""
	}
	n := 0
	for i := range s {
		if n == limit {
			return s[:i]
		}
		n++
	}
	return s
}
