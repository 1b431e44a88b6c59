// Package render formats agent replies for chat: column-aligned tables
// measured in display cells (CJK characters count as two) and splitting of
// long replies into chunks that respect the chat message size limit.
package render

import (
	"strings"

	"github.com/mattn/go-runewidth"
)

const (
	fence = "```"
	// DefaultColumnWidth 是单元格的默认最大显示宽度。
	DefaultColumnWidth = 32
	ellipsis           = "…"
)

// Table 是按显示宽度对齐的文本表格。
type Table struct {
	headers  []string
	rows     [][]string
	maxWidth int
}

// NewTable 创建表格。
func NewTable(headers ...string) *Table {
	return &Table{headers: headers, maxWidth: DefaultColumnWidth}
}

// SetMaxWidth 设置单元格最大显示宽度，超出部分以「…」截断。
func (t *Table) SetMaxWidth(width int) *Table {
	if width > 1 {
		t.maxWidth = width
	}
	return t
}

// AddRow 追加一行；单元格中的换行会被替换为空格。
func (t *Table) AddRow(cells ...string) {
	row := make([]string, len(t.headers))
	for i := range row {
		if i < len(cells) {
			row[i] = Truncate(strings.Join(strings.Fields(cells[i]), " "), t.maxWidth)
		}
	}
	t.rows = append(t.rows, row)
}

// Len 返回数据行数。
func (t *Table) Len() int {
	return len(t.rows)
}

// Lines 返回对齐后的各行（不含代码块标记）。
func (t *Table) Lines() []string {
	widths := make([]int, len(t.headers))
	for i, header := range t.headers {
		widths[i] = runewidth.StringWidth(header)
	}
	for _, row := range t.rows {
		for i, cell := range row {
			if w := runewidth.StringWidth(cell); w > widths[i] {
				widths[i] = w
			}
		}
	}

	lines := make([]string, 0, len(t.rows)+2)
	lines = append(lines, joinRow(t.headers, widths))
	separators := make([]string, len(widths))
	for i, w := range widths {
		separators[i] = strings.Repeat("-", w)
	}
	lines = append(lines, joinRow(separators, widths))
	for _, row := range t.rows {
		lines = append(lines, joinRow(row, widths))
	}
	return lines
}

func joinRow(cells []string, widths []int) string {
	padded := make([]string, len(cells))
	for i, cell := range cells {
		if i == len(cells)-1 {
			padded[i] = cell
			continue
		}
		padded[i] = runewidth.FillRight(cell, widths[i])
	}
	return strings.TrimRight(strings.Join(padded, "  "), " ")
}

// String 返回包裹在代码块中的表格。
func (t *Table) String() string {
	return CodeBlock(strings.Join(t.Lines(), "\n"))
}

// CodeBlock 用代码块包裹文本。
func CodeBlock(text string) string {
	return fence + "\n" + text + "\n" + fence
}

// Truncate 将文本截断到指定显示宽度。
func Truncate(text string, width int) string {
	if runewidth.StringWidth(text) <= width {
		return text
	}
	return runewidth.Truncate(text, width, ellipsis)
}

// Width 返回文本的显示宽度。
func Width(text string) int {
	return runewidth.StringWidth(text)
}
