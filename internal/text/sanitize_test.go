package text

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestSanitize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain ascii untouched", "hello world", "hello world"},
		{"emoji preserved", "ok \U0001F600 done", "ok \U0001F600 done"},
		{"bell becomes space", "ding\x07dong", "ding dong"},
		{"null becomes space", "a\x00b", "a b"},
		{"tab newline cr kept", "a\tb\nc\rd", "a\tb\nc\rd"},
		{"lone high surrogate dropped", "x\xed\xa0\x80y", "xy"},
		{"lone low surrogate dropped", "x\xed\xb0\x80y", "xy"},
		{"invalid byte dropped", "a\xffb", "ab"},
		{"mixed cleanup", "a\x07\xed\xa0\x80\U0001F680", "a \U0001F680"},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Sanitize(tt.in)
			assert.Equal(t, tt.want, got)
			assert.True(t, utf8.ValidString(got))
		})
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		name  string
		in    string
		limit int
		want  string
	}{
		{"under limit", "abc", 10, "abc"},
		{"exact limit", "abc", 3, "abc"},
		{"over limit", "abcdef", 3, "abc"},
		{"zero limit", "abc", 0, ""},
		{"negative limit", "abc", -1, ""},
		{"emoji counts as one code point", "\U0001F600\U0001F600\U0001F600", 2, "\U0001F600\U0001F600"},
		{"cut lands before emoji", "ab\U0001F600cd", 2, "ab"},
		{"multibyte text", "héllo", 2, "hé"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Truncate(tt.in, tt.limit)
			assert.Equal(t, tt.want, got)
			assert.True(t, utf8.ValidString(got))
		})
	}
}

func TestTruncate_NeverSplitsRune(t *testing.T) {
	s := strings.Repeat("\U0001F4D6", 50)
	for limit := 0; limit <= 50; limit++ {
		got := Truncate(s, limit)
		assert.True(t, utf8.ValidString(got), "limit %d", limit)
		assert.LessOrEqual(t, utf8.RuneCountInString(got), limit, "limit %d", limit)
	}
}
