package intent

import (
	"errors"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"
)

// Extractor 从文本中提取一个字段。
//
// loc 为 nil 表示未匹配；err 仅用于需要反馈给用户的校验错误（*UserError）。
type Extractor interface {
	Extract(text string, ref time.Time) (value any, loc []int, err error)
}

// UserError 是直接展示给用户的解析错误，不代表系统故障。
type UserError struct {
	Field   string
	Message string
}

func (e *UserError) Error() string {
	return e.Message
}

// Rejectf 构造 UserError。
func Rejectf(field, message string) *UserError {
	return &UserError{Field: field, Message: message}
}

// IsUserError 判断错误是否为用户可见的解析错误。
func IsUserError(err error) bool {
	var target *UserError
	return errors.As(err, &target)
}

// UserMessage 返回用户可见的错误描述。
func UserMessage(err error) string {
	var target *UserError
	if errors.As(err, &target) {
		return target.Message
	}
	return ""
}

// FieldSpec 描述一个待提取字段。
type FieldSpec struct {
	Name      string
	Extractor Extractor
	Required  bool
	Missing   string
}

// Schema 描述某个动作的二级解析：按顺序提取字段，剩余文本作为自由文本。
type Schema struct {
	Fields       []FieldSpec
	Text         string
	TextRequired bool
	TextMissing  string
}

// Extract 依次执行各字段的提取器。
func (s Schema) Extract(text string, ref time.Time) (Values, error) {
	values := Values{fields: make(map[string]any, len(s.Fields)+1)}
	rest := text
	for _, field := range s.Fields {
		value, loc, err := field.Extractor.Extract(rest, ref)
		if err != nil {
			return values, err
		}
		if loc == nil {
			if field.Required {
				return values, Rejectf(field.Name, field.Missing)
			}
			continue
		}
		values.fields[field.Name] = value
		rest = rest[:loc[0]] + " " + trimParticle(rest[loc[1]:])
	}

	free := CleanText(rest)
	if s.Text != "" {
		if free == "" && s.TextRequired {
			return values, Rejectf(s.Text, s.TextMissing)
		}
		if free != "" {
			values.fields[s.Text] = free
		}
	}
	return values, nil
}

var particles = map[string]struct{}{
	"の": {}, "に": {}, "は": {}, "を": {}, "で": {}, "が": {}, "と": {}, "も": {}, "から": {}, "まで": {},
}

const separators = " 、,。.・:;-/|"

// CleanText 去除提取字段后残留的分隔符与孤立助词。
func CleanText(text string) string {
	var kept []string
	for _, token := range strings.Fields(text) {
		if token = strings.Trim(token, separators); token != "" {
			kept = append(kept, token)
		}
	}
	// 只去掉首尾孤立的助词，中间的「と」「も」保留原意。
	for len(kept) > 0 && isParticle(kept[0]) {
		kept = kept[1:]
	}
	for len(kept) > 0 && isParticle(kept[len(kept)-1]) {
		kept = kept[:len(kept)-1]
	}
	return strings.Join(kept, " ")
}

func isParticle(token string) bool {
	_, ok := particles[token]
	return ok
}

// trimParticle 去掉紧跟在已提取字段后的助词，例如「昨日の」「キッチンを」。
// 助词后紧接平假名时可能是下一个词的开头（「朝にんじん」），此时保留原文；
// 「を」不会出现在词首，总是去掉。
func trimParticle(text string) string {
	for _, particle := range []string{"の", "は", "を", "に"} {
		trimmed, ok := strings.CutPrefix(text, particle)
		if !ok {
			continue
		}
		if particle == "を" || !startsWithHiragana(trimmed) {
			return trimmed
		}
		return text
	}
	return text
}

func startsWithHiragana(text string) bool {
	r, _ := utf8.DecodeRuneInString(text)
	return unicode.Is(unicode.Hiragana, r)
}

// Values 保存提取出的字段。
type Values struct {
	fields map[string]any
}

// Has 判断字段是否被提取。
func (v Values) Has(name string) bool {
	_, ok := v.fields[name]
	return ok
}

// Date 返回日期字段。
func (v Values) Date(name string) (time.Time, bool) {
	value, ok := v.fields[name].(time.Time)
	return value, ok
}

// DateOr 返回日期字段，缺省时返回 fallback 所在日的零点。
func (v Values) DateOr(name string, fallback time.Time) time.Time {
	if value, ok := v.Date(name); ok {
		return value
	}
	return StartOfDay(fallback)
}

// Period 返回区间字段。
func (v Values) Period(name string) (Period, bool) {
	value, ok := v.fields[name].(Period)
	return value, ok
}

// Int 返回整数字段。
func (v Values) Int(name string) (int, bool) {
	value, ok := v.fields[name].(int)
	return value, ok
}

// Float 返回小数字段。
func (v Values) Float(name string) (float64, bool) {
	value, ok := v.fields[name].(float64)
	return value, ok
}

// String 返回字符串字段（枚举与自由文本）。
func (v Values) String(name string) string {
	value, _ := v.fields[name].(string)
	return value
}
