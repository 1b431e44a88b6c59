package intent

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"
	"unicode/utf8"
)

// Table 将别名映射到规范值，匹配时大小写不敏感。
type Table struct {
	name       string
	index      map[string]string
	labels     map[string]string
	canonicals []string
	source     string
	pattern    *regexp.Regexp
}

// Entry 描述一个规范值：第一个别名同时作为展示用标签。
type Entry struct {
	Canonical string
	Aliases   []string
}

// NewTable 根据条目构建映射表。条目顺序决定 Canonicals 的返回顺序。
func NewTable(name string, entries ...Entry) *Table {
	t := &Table{
		name:   name,
		index:  make(map[string]string),
		labels: make(map[string]string),
	}
	var aliases []string
	for _, entry := range entries {
		t.canonicals = append(t.canonicals, entry.Canonical)
		label := entry.Canonical
		if len(entry.Aliases) > 0 {
			label = entry.Aliases[0]
		}
		t.labels[entry.Canonical] = label
		for _, alias := range append([]string{entry.Canonical}, entry.Aliases...) {
			key := strings.ToLower(alias)
			if _, exists := t.index[key]; exists {
				continue
			}
			t.index[key] = entry.Canonical
			aliases = append(aliases, alias)
		}
	}

	// 长别名优先，保证「お風呂」先于「風呂」被尝试。
	sort.SliceStable(aliases, func(i, j int) bool {
		return utf8.RuneCountInString(aliases[i]) > utf8.RuneCountInString(aliases[j])
	})
	parts := make([]string, 0, len(aliases))
	for _, alias := range aliases {
		quoted := regexp.QuoteMeta(alias)
		if isASCIIWord(alias) {
			quoted = `\b` + quoted + `\b`
		}
		parts = append(parts, quoted)
	}
	if len(parts) > 0 {
		t.source = `(?:` + strings.Join(parts, "|") + `)`
		t.pattern = regexp.MustCompile(`(?i)` + t.source)
	}
	return t
}

func isASCIIWord(s string) bool {
	for _, r := range s {
		if r >= utf8.RuneSelf {
			return false
		}
	}
	return true
}

// Name 返回映射表名称。
func (t *Table) Name() string {
	return t.name
}

// Lookup 精确查找别名。
func (t *Table) Lookup(alias string) (string, bool) {
	canonical, ok := t.index[strings.ToLower(strings.TrimSpace(alias))]
	return canonical, ok
}

// Find 在文本中查找最靠前的别名。
func (t *Table) Find(text string) (string, []int, bool) {
	if t.pattern == nil {
		return "", nil, false
	}
	loc := t.pattern.FindStringIndex(text)
	if loc == nil {
		return "", nil, false
	}
	canonical, ok := t.Lookup(text[loc[0]:loc[1]])
	return canonical, loc, ok
}

// Pattern 返回匹配任一别名的正则片段（不含大小写标志），用于拼接前缀规则。
func (t *Table) Pattern() string {
	return t.source
}

// Label 返回规范值的展示标签。
func (t *Table) Label(canonical string) string {
	if label, ok := t.labels[canonical]; ok {
		return label
	}
	return canonical
}

// Canonicals 返回全部规范值。
func (t *Table) Canonicals() []string {
	return append([]string(nil), t.canonicals...)
}

// Labels 以「、」连接全部展示标签，用于帮助与错误提示。
func (t *Table) Labels() string {
	labels := make([]string, 0, len(t.canonicals))
	for _, canonical := range t.canonicals {
		labels = append(labels, t.labels[canonical])
	}
	return strings.Join(labels, "・")
}

// EnumField 通过 Table 提取枚举值。
//
// 设置 Prefix 时只接受带标记的写法（如「気分:良い」「#good」），Prefix 的第一个非空捕获组为取值。
type EnumField struct {
	Table  *Table
	Prefix *regexp.Regexp
}

// Extract 实现 Extractor。
func (f EnumField) Extract(text string, _ time.Time) (any, []int, error) {
	if f.Prefix == nil {
		canonical, loc, ok := f.Table.Find(text)
		if !ok {
			return nil, nil, nil
		}
		return canonical, loc, nil
	}

	loc := f.Prefix.FindStringSubmatchIndex(text)
	if loc == nil {
		return nil, nil, nil
	}
	for i := 2; i+1 < len(loc); i += 2 {
		if loc[i] < 0 {
			continue
		}
		token := text[loc[i]:loc[i+1]]
		canonical, ok := f.Table.Lookup(token)
		if !ok {
			return nil, nil, Rejectf(f.Table.Name(), fmt.Sprintf("「%s」は使えません。%sから選んでください。", token, f.Table.Labels()))
		}
		return canonical, loc[:2], nil
	}
	return nil, nil, nil
}
