package extract

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func words(n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = "word"
	}
	return strings.Join(parts, " ")
}

func TestExtract_UnsupportedFormat(t *testing.T) {
	e := New(0)
	_, err := e.Extract([]byte("data"), "report.xlsx")
	assert.ErrorIs(t, err, ErrUnsupportedFormat)

	_, err = e.Extract([]byte("data"), "noextension")
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestExtract_TxtPagination(t *testing.T) {
	e := New(500)
	res, err := e.Extract([]byte(words(1200)), "notes.txt")
	require.NoError(t, err)

	require.Equal(t, 3, res.TotalPages)
	assert.Equal(t, 500, res.Pages[0].WordCount)
	assert.Equal(t, 500, res.Pages[1].WordCount)
	assert.Equal(t, 200, res.Pages[2].WordCount)
	assert.Equal(t, 1, res.Pages[0].Number)
	assert.Equal(t, 3, res.Pages[2].Number)
	assert.Equal(t, "notes", res.Metadata.Title)
}

func TestExtract_TxtExactWindow(t *testing.T) {
	e := New(500)
	res, err := e.Extract([]byte(words(500)), "exact.md")
	require.NoError(t, err)
	require.Equal(t, 1, res.TotalPages)
	assert.Equal(t, 500, res.Pages[0].WordCount)
}

func TestExtract_EmptyDocument(t *testing.T) {
	e := New(500)
	_, err := e.Extract([]byte("   \n\t  "), "empty.txt")
	assert.True(t, errors.Is(err, ErrEmptyDocument))
}

func TestExtract_SanitizesControlChars(t *testing.T) {
	e := New(500)
	res, err := e.Extract([]byte("hello\x07world again"), "x.txt")
	require.NoError(t, err)
	assert.Equal(t, "hello world again", res.Pages[0].Text)
	assert.Equal(t, 3, res.Pages[0].WordCount)
}

func TestSplitFormFeeds(t *testing.T) {
	t.Run("trailing form feed dropped", func(t *testing.T) {
		parts := splitFormFeeds("one\ftwo\f", 2)
		require.Len(t, parts, 2)
		assert.Equal(t, "one", parts[0])
		assert.Equal(t, "two", parts[1])
	})

	t.Run("image-only pages padded", func(t *testing.T) {
		parts := splitFormFeeds("one", 3)
		require.Len(t, parts, 3)
		assert.Equal(t, "", parts[1])
		assert.Equal(t, "", parts[2])
	})

	t.Run("overflow merged into last page", func(t *testing.T) {
		parts := splitFormFeeds("a\fb\fc\fd", 2)
		require.Len(t, parts, 2)
		assert.Equal(t, "a", parts[0])
		assert.Equal(t, "b\nc\nd", parts[1])
	})
}

func TestLooksTabular(t *testing.T) {
	table := "| name | age |\n| bob | 31 |"
	assert.True(t, looksTabular(table))
	assert.True(t, looksTabular("a\tb\tc\nd\te\tf"))
	assert.False(t, looksTabular("plain prose with one | pipe"))
	assert.False(t, looksTabular("| single row | only |"))
}

func TestLooksMathematical(t *testing.T) {
	assert.True(t, looksMathematical("the integral ∫ f(x) dx converges"))
	assert.True(t, looksMathematical("let y = mx + b"))
	assert.False(t, looksMathematical("nothing numeric in this prose"))
}

func TestMetadataFromFilename(t *testing.T) {
	m := metadataFromFilename("/tmp/uploads/Thesis Draft.docx")
	assert.Equal(t, "Thesis Draft", m.Title)
}
