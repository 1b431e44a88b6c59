package render

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTableAlignsWideCharacters(t *testing.T) {
	table := NewTable("#", "日付", "内容")
	table.AddRow("1", "2024-05-15", "カレー")
	table.AddRow("12", "2024-05-16", "pasta\nwith sauce")

	lines := table.Lines()
	require.Len(t, lines, 4)
	assert.Equal(t, "#   日付        内容", lines[0])
	assert.Equal(t, "--  ----------  ----------------", lines[1])
	assert.Equal(t, "1   2024-05-15  カレー", lines[2])
	assert.Equal(t, "12  2024-05-16  pasta with sauce", lines[3])

	rendered := table.String()
	assert.True(t, strings.HasPrefix(rendered, "```\n"))
	assert.True(t, strings.HasSuffix(rendered, "\n```"))
	assert.Equal(t, 2, table.Len())
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", Truncate("short", 10))
	truncated := Truncate("ながいながいテキスト", 9)
	assert.LessOrEqual(t, Width(truncated), 9)
	assert.True(t, strings.HasSuffix(truncated, "…"))

	table := NewTable("a").SetMaxWidth(4)
	table.AddRow("abcdefgh")
	cell := table.Lines()[2]
	assert.True(t, strings.HasPrefix(cell, "ab"))
	assert.True(t, strings.HasSuffix(cell, "…"))
	assert.LessOrEqual(t, Width(cell), 4)
}

func TestChunkShortText(t *testing.T) {
	assert.Equal(t, []string{"hello"}, Chunk("hello", 2000))
}

func TestChunkSplitsOnLines(t *testing.T) {
	var lines []string
	for i := 0; i < 50; i++ {
		lines = append(lines, strings.Repeat("あ", 9))
	}
	text := strings.Join(lines, "\n")

	chunks := Chunk(text, 100)
	require.Greater(t, len(chunks), 1)
	for _, chunk := range chunks {
		assert.LessOrEqual(t, utf8.RuneCountInString(chunk), 100)
	}
	assert.Equal(t, text, strings.Join(chunks, "\n"))
}

func TestChunkReopensCodeBlock(t *testing.T) {
	var lines []string
	for i := 0; i < 40; i++ {
		lines = append(lines, "row row row")
	}
	text := "表:\n" + CodeBlock(strings.Join(lines, "\n"))

	chunks := Chunk(text, 120)
	require.Greater(t, len(chunks), 1)
	for _, chunk := range chunks {
		assert.LessOrEqual(t, utf8.RuneCountInString(chunk), 120)
		assert.Equal(t, 0, strings.Count(chunk, fence)%2, "unbalanced fence in %q", chunk)
	}
}

func TestChunkHardSplitsLongLine(t *testing.T) {
	text := strings.Repeat("x", 250)
	chunks := Chunk(text, 100)
	require.Len(t, chunks, 3)
	assert.Equal(t, text, strings.Join(chunks, ""))
}
