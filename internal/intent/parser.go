package intent

import (
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/text/width"
)

// Rule 是级联中的一步：匹配成功即确定动作。
type Rule struct {
	Action  string
	Pattern *regexp.Regexp
}

// NewRule 编译正则并构造规则，正则非法时 panic（规则均在包初始化时声明）。
func NewRule(action, pattern string) Rule {
	return Rule{Action: action, Pattern: regexp.MustCompile(pattern)}
}

// Intent 描述一次匹配的结果。
type Intent struct {
	Action string
	Text   string
	Groups map[string]string
}

// Group 返回命名捕获组的内容，不存在时返回空字符串。
func (i Intent) Group(name string) string {
	return i.Groups[name]
}

// Body 返回 body 捕获组；规则未声明 body 时返回整段文本。
func (i Intent) Body() string {
	if body, ok := i.Groups["body"]; ok {
		return body
	}
	return i.Text
}

// ID 解析 id 捕获组。
func (i Intent) ID() (int64, bool) {
	raw := i.Groups["id"]
	if raw == "" {
		return 0, false
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// Parser 按顺序尝试规则，第一个匹配的规则胜出。
type Parser struct {
	rules []Rule
}

// New 创建解析器。
func New(rules ...Rule) *Parser {
	return &Parser{rules: append([]Rule(nil), rules...)}
}

// Actions 返回规则声明的动作列表（按级联顺序）。
func (p *Parser) Actions() []string {
	actions := make([]string, 0, len(p.rules))
	for _, rule := range p.rules {
		actions = append(actions, rule.Action)
	}
	return actions
}

// Parse 归一化文本并返回第一个匹配规则对应的 Intent。
func (p *Parser) Parse(text string) (Intent, bool) {
	normalized := Normalize(text)
	if normalized == "" {
		return Intent{}, false
	}
	for _, rule := range p.rules {
		match := rule.Pattern.FindStringSubmatch(normalized)
		if match == nil {
			continue
		}
		groups := make(map[string]string)
		for idx, name := range rule.Pattern.SubexpNames() {
			if idx == 0 || name == "" {
				continue
			}
			value := strings.TrimSpace(match[idx])
			if value == "" {
				continue
			}
			// 同名分组以最左侧非空的为准。
			if _, exists := groups[name]; !exists {
				groups[name] = value
			}
		}
		return Intent{Action: rule.Action, Text: normalized, Groups: groups}, true
	}
	return Intent{Text: normalized}, false
}

// Normalize 将全角字母数字与符号折叠为半角，并压缩空白。
func Normalize(text string) string {
	folded := width.Fold.String(text)
	return strings.Join(strings.Fields(folded), " ")
}
