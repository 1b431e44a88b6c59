package render

import (
	"strings"
	"unicode/utf8"
)

// Chunk 按行把文本切分为不超过 limit 个字符的片段。
//
// 片段在代码块内部被切断时，会在末尾补上闭合标记并在下一段重新打开；单行超长时按字符硬切。
func Chunk(text string, limit int) []string {
	if limit < 16 {
		limit = 2000
	}
	if utf8.RuneCountInString(text) <= limit {
		return []string{text}
	}

	// 预留闭合代码块所需的 "\n```"。
	reserve := len(fence) + 1

	var (
		chunks  []string
		current []string
		size    int
		inFence bool
	)
	flush := func() {
		if inFence {
			current = append(current, fence)
		}
		chunks = append(chunks, strings.Join(current, "\n"))
		current, size = nil, 0
		if inFence {
			current, size = []string{fence}, len(fence)
		}
	}

	for _, line := range splitLong(text, limit-2*reserve) {
		n := utf8.RuneCountInString(line)
		if len(current) > 0 && size+1+n+reserve > limit {
			flush()
		}
		if len(current) > 0 {
			size++
		}
		current = append(current, line)
		size += n
		if strings.HasPrefix(strings.TrimSpace(line), fence) {
			inFence = !inFence
		}
	}
	if len(current) > 0 {
		chunks = append(chunks, strings.Join(current, "\n"))
	}
	return chunks
}

func splitLong(text string, limit int) []string {
	var lines []string
	for _, line := range strings.Split(text, "\n") {
		for utf8.RuneCountInString(line) > limit {
			runes := []rune(line)
			lines = append(lines, string(runes[:limit]))
			line = string(runes[limit:])
		}
		lines = append(lines, line)
	}
	return lines
}
