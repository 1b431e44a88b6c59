package generic

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"Kurashi-Agents/internal/intent"
)

var pairPattern = regexp.MustCompile(`([a-zA-Z][a-zA-Z0-9_]*)\s*[=:]\s*("[^"]*"|'[^']*'|「[^」]*」|\S+)`)

// parseArgs 解析 key=value 参数；无键文本归入 TextColumn。
// 键不是已定义的列时（如 URL 或「Note: …」），整段保留为无键文本。
//
// 返回的错误均为 *intent.UserError。
func parseArgs(def Definition, text string, ref time.Time) (map[string]any, error) {
	values := make(map[string]any)
	var rest strings.Builder
	var unknown string
	last := 0
	for _, loc := range pairPattern.FindAllStringSubmatchIndex(text, -1) {
		key := strings.ToLower(text[loc[2]:loc[3]])
		col, ok := def.Column(key)
		if !ok {
			if unknown == "" {
				unknown = key
			}
			continue
		}
		rest.WriteString(text[last:loc[0]])
		rest.WriteString(" ")
		last = loc[1]

		if _, dup := values[col.Name]; dup {
			return nil, intent.Rejectf(col.Name, fmt.Sprintf("%sが2回指定されています。", col.DisplayName()))
		}
		value, err := convert(col, unquote(text[loc[4]:loc[5]]), ref)
		if err != nil {
			return nil, err
		}
		values[col.Name] = value
	}
	rest.WriteString(text[last:])

	if free := intent.CleanText(rest.String()); free != "" {
		col, ok := def.TextColumn()
		if _, dup := values[col.Name]; unknown != "" && (!ok || dup) {
			return nil, intent.Rejectf(unknown, fmt.Sprintf("「%s」という項目はありません。使える項目: %s", unknown, columnNames(def)))
		}
		if !ok {
			return nil, intent.Rejectf("", fmt.Sprintf("「%s」をどの項目に入れるか分かりません。`項目=値` の形で指定してください。", free))
		}
		if _, dup := values[col.Name]; dup {
			return nil, intent.Rejectf(col.Name, fmt.Sprintf("%sが2回指定されています。", col.DisplayName()))
		}
		value, err := convert(col, free, ref)
		if err != nil {
			return nil, err
		}
		values[col.Name] = value
	}
	return values, nil
}

func unquote(value string) string {
	for _, pair := range [][2]string{{`"`, `"`}, {`'`, `'`}, {"「", "」"}} {
		if len(value) >= len(pair[0])+len(pair[1]) && strings.HasPrefix(value, pair[0]) && strings.HasSuffix(value, pair[1]) {
			return strings.TrimSpace(value[len(pair[0]) : len(value)-len(pair[1])])
		}
	}
	return value
}

func columnNames(def Definition) string {
	names := make([]string, 0, len(def.Columns))
	for _, col := range def.Columns {
		names = append(names, col.Name)
	}
	return strings.Join(names, ", ")
}

// convert 按列类型转换并校验取值。
func convert(col Column, raw string, ref time.Time) (any, error) {
	label := col.DisplayName()
	switch col.Type {
	case TypeInt:
		n, err := strconv.ParseInt(strings.ReplaceAll(raw, ",", ""), 10, 64)
		if err != nil {
			return nil, intent.Rejectf(col.Name, fmt.Sprintf("%sは整数で指定してください。", label))
		}
		if err := checkRange(col, float64(n)); err != nil {
			return nil, err
		}
		return n, nil
	case TypeReal:
		f, err := strconv.ParseFloat(strings.ReplaceAll(raw, ",", ""), 64)
		if err != nil {
			return nil, intent.Rejectf(col.Name, fmt.Sprintf("%sは数値で指定してください。", label))
		}
		if err := checkRange(col, f); err != nil {
			return nil, err
		}
		return f, nil
	case TypeDate:
		value, loc, _ := intent.DateField{}.Extract(raw, ref)
		if loc == nil || loc[0] != 0 || loc[1] != len(raw) {
			return nil, intent.Rejectf(col.Name, fmt.Sprintf("%sは日付（例: 2024-05-15、昨日）で指定してください。", label))
		}
		return intent.FormatDate(value.(time.Time)), nil
	default:
		if err := checkLength(col, utf8.RuneCountInString(raw)); err != nil {
			return nil, err
		}
		return raw, nil
	}
}

func formatBound(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func checkRange(col Column, v float64) error {
	label := col.DisplayName()
	switch {
	case col.Min != nil && col.Max != nil && (v < *col.Min || v > *col.Max):
		return intent.Rejectf(col.Name, fmt.Sprintf("%sは%s〜%sの範囲で指定してください。", label, formatBound(*col.Min), formatBound(*col.Max)))
	case col.Min != nil && v < *col.Min:
		return intent.Rejectf(col.Name, fmt.Sprintf("%sは%s以上で指定してください。", label, formatBound(*col.Min)))
	case col.Max != nil && v > *col.Max:
		return intent.Rejectf(col.Name, fmt.Sprintf("%sは%s以下で指定してください。", label, formatBound(*col.Max)))
	}
	return nil
}

func checkLength(col Column, n int) error {
	label := col.DisplayName()
	if col.Min != nil && float64(n) < *col.Min {
		return intent.Rejectf(col.Name, fmt.Sprintf("%sは%s文字以上で入力してください。", label, formatBound(*col.Min)))
	}
	if col.Max != nil && float64(n) > *col.Max {
		return intent.Rejectf(col.Name, fmt.Sprintf("%sは%s文字以内で入力してください。", label, formatBound(*col.Max)))
	}
	return nil
}
