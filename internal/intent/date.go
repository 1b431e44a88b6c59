package intent

import (
	"regexp"
	"strconv"
	"time"
)

// DateLayout 是日期在存储与展示中使用的格式。
const DateLayout = "2006-01-02"

// StartOfDay 返回 t 所在日（按 t 的时区）的零点。
func StartOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// FormatDate 以 YYYY-MM-DD 格式化日期。
func FormatDate(t time.Time) string {
	return t.Format(DateLayout)
}

// ParseStoredDate 解析存储中的 YYYY-MM-DD 字符串。
func ParseStoredDate(value string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.Local
	}
	return time.ParseInLocation(DateLayout, value, loc)
}

type dateRule struct {
	pattern *regexp.Regexp
	resolve func(m []string, ref time.Time) (any, bool)
}

// findEarliest 在所有规则中选择起始位置最靠前的匹配，起点相同则取更长者。
func findEarliest(text string, rules []dateRule, ref time.Time, leading bool) (any, []int) {
	var (
		best    any
		bestLoc []int
	)
	for _, rule := range rules {
		loc := rule.pattern.FindStringSubmatchIndex(text)
		if loc == nil {
			continue
		}
		if leading && loc[0] != 0 {
			continue
		}
		if loc[0] > 0 && isDigit(text[loc[0]-1]) {
			continue
		}
		if bestLoc != nil {
			if loc[0] > bestLoc[0] || (loc[0] == bestLoc[0] && loc[1] <= bestLoc[1]) {
				continue
			}
		}
		match := make([]string, len(loc)/2)
		for i := range match {
			if loc[2*i] >= 0 {
				match[i] = text[loc[2*i]:loc[2*i+1]]
			}
		}
		value, ok := rule.resolve(match, ref)
		if !ok {
			continue
		}
		best = value
		bestLoc = []int{loc[0], loc[1]}
	}
	return best, bestLoc
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

func calendarDate(year, month, day int, loc *time.Location) (time.Time, bool) {
	if year < 1900 || year > 2999 || month < 1 || month > 12 || day < 1 || day > 31 {
		return time.Time{}, false
	}
	t := time.Date(year, time.Month(month), day, 0, 0, 0, 0, loc)
	if t.Month() != time.Month(month) || t.Day() != day {
		return time.Time{}, false
	}
	return t, true
}

func offsetDays(days int) func([]string, time.Time) (any, bool) {
	return func(_ []string, ref time.Time) (any, bool) {
		return StartOfDay(ref).AddDate(0, 0, days), true
	}
}

func relativeDays(sign int) func([]string, time.Time) (any, bool) {
	return func(m []string, ref time.Time) (any, bool) {
		n, err := strconv.Atoi(m[1])
		if err != nil || n > 366 {
			return nil, false
		}
		return StartOfDay(ref).AddDate(0, 0, sign*n), true
	}
}

func absoluteDate(m []string, ref time.Time) (any, bool) {
	return calendarDate(atoi(m[1]), atoi(m[2]), atoi(m[3]), ref.Location())
}

func monthDay(m []string, ref time.Time) (any, bool) {
	return calendarDate(ref.Year(), atoi(m[1]), atoi(m[2]), ref.Location())
}

var dateRules = []dateRule{
	{regexp.MustCompile(`(\d{4})[-/.](\d{1,2})[-/.](\d{1,2})`), absoluteDate},
	{regexp.MustCompile(`(\d{4})年\s*(\d{1,2})月\s*(\d{1,2})日`), absoluteDate},
	{regexp.MustCompile(`(\d{1,2})月\s*(\d{1,2})日`), monthDay},
	{regexp.MustCompile(`\b(\d{1,2})/(\d{1,2})\b`), monthDay},
	{regexp.MustCompile(`(\d+)\s*日前`), relativeDays(-1)},
	{regexp.MustCompile(`(?i)\b(\d+)\s*days?\s+ago\b`), relativeDays(-1)},
	{regexp.MustCompile(`(\d+)\s*日後`), relativeDays(1)},
	{regexp.MustCompile(`(?i)\bin\s+(\d+)\s*days?\b`), relativeDays(1)},
	{regexp.MustCompile(`一昨日|おととい|(?i:\bthe\s+day\s+before\s+yesterday\b)`), offsetDays(-2)},
	{regexp.MustCompile(`明後日|あさって|(?i:\bthe\s+day\s+after\s+tomorrow\b)`), offsetDays(2)},
	{regexp.MustCompile(`昨日|きのう|(?i:\byesterday\b)`), offsetDays(-1)},
	{regexp.MustCompile(`今日|きょう|本日|(?i:\btoday\b)`), offsetDays(0)},
	{regexp.MustCompile(`明日|あした|あす|(?i:\btomorrow\b)`), offsetDays(1)},
}

// DateField 提取单个日期（字面日期或相对日期），值为当日零点的 time.Time。
type DateField struct {
	// Leading 为真时只接受位于文本开头的日期。
	Leading bool
}

// Extract 实现 Extractor。
func (f DateField) Extract(text string, ref time.Time) (any, []int, error) {
	value, loc := findEarliest(text, dateRules, ref, f.Leading)
	return value, loc, nil
}

// Period 表示半开区间 [Start, End)。
type Period struct {
	Start time.Time
	End   time.Time
}

// Day 返回覆盖单日的区间。
func Day(t time.Time) Period {
	start := StartOfDay(t)
	return Period{Start: start, End: start.AddDate(0, 0, 1)}
}

// Contains 判断时间是否落在区间内。
func (p Period) Contains(t time.Time) bool {
	return !t.Before(p.Start) && t.Before(p.End)
}

// Days 返回区间覆盖的天数。
func (p Period) Days() int {
	return int(p.End.Sub(p.Start).Hours()/24 + 0.5)
}

// Last 返回区间内的最后一天。
func (p Period) Last() time.Time {
	return p.End.AddDate(0, 0, -1)
}

// String 以「開始〜終了」形式展示区间。
func (p Period) String() string {
	if p.Days() <= 1 {
		return FormatDate(p.Start)
	}
	return FormatDate(p.Start) + "〜" + FormatDate(p.Last())
}

// Week 返回 ref 所在的一周（周一开始）。
func Week(ref time.Time) Period {
	start := startOfWeek(ref)
	return Period{Start: start, End: start.AddDate(0, 0, 7)}
}

// Month 返回 ref 所在的自然月。
func Month(ref time.Time) Period {
	start := startOfMonth(ref)
	return Period{Start: start, End: start.AddDate(0, 1, 0)}
}

func startOfWeek(ref time.Time) time.Time {
	day := StartOfDay(ref)
	offset := (int(day.Weekday()) + 6) % 7
	return day.AddDate(0, 0, -offset)
}

func startOfMonth(ref time.Time) time.Time {
	return time.Date(ref.Year(), ref.Month(), 1, 0, 0, 0, 0, ref.Location())
}

func weekPeriod(weeks int) func([]string, time.Time) (any, bool) {
	return func(_ []string, ref time.Time) (any, bool) {
		start := startOfWeek(ref).AddDate(0, 0, 7*weeks)
		return Period{Start: start, End: start.AddDate(0, 0, 7)}, true
	}
}

func monthPeriod(months int) func([]string, time.Time) (any, bool) {
	return func(_ []string, ref time.Time) (any, bool) {
		start := startOfMonth(ref).AddDate(0, months, 0)
		return Period{Start: start, End: start.AddDate(0, 1, 0)}, true
	}
}

func lastNDays(m []string, ref time.Time) (any, bool) {
	n, err := strconv.Atoi(m[1])
	if err != nil || n < 1 || n > 366 {
		return nil, false
	}
	end := StartOfDay(ref).AddDate(0, 0, 1)
	return Period{Start: end.AddDate(0, 0, -n), End: end}, true
}

func thisYear(_ []string, ref time.Time) (any, bool) {
	start := time.Date(ref.Year(), 1, 1, 0, 0, 0, 0, ref.Location())
	return Period{Start: start, End: start.AddDate(1, 0, 0)}, true
}

var periodRules = []dateRule{
	{regexp.MustCompile(`今週|(?i:\bthis\s+week\b)`), weekPeriod(0)},
	{regexp.MustCompile(`先週|(?i:\blast\s+week\b)`), weekPeriod(-1)},
	{regexp.MustCompile(`今月|(?i:\bthis\s+month\b)`), monthPeriod(0)},
	{regexp.MustCompile(`先月|(?i:\blast\s+month\b)`), monthPeriod(-1)},
	{regexp.MustCompile(`今年|(?i:\bthis\s+year\b)`), thisYear},
	{regexp.MustCompile(`(?:直近|過去|最近)\s*(\d+)\s*日(?:間)?`), lastNDays},
	{regexp.MustCompile(`(?i)\b(?:last|past)\s+(\d+)\s*days?\b`), lastNDays},
}

func init() {
	for _, rule := range dateRules {
		resolve := rule.resolve
		periodRules = append(periodRules, dateRule{
			pattern: rule.pattern,
			resolve: func(m []string, ref time.Time) (any, bool) {
				value, ok := resolve(m, ref)
				if !ok {
					return nil, false
				}
				return Day(value.(time.Time)), true
			},
		})
	}
}

// PeriodField 提取日期区间（今週、先月、直近7日……），也接受单个日期。
type PeriodField struct{}

// Extract 实现 Extractor。
func (PeriodField) Extract(text string, ref time.Time) (any, []int, error) {
	value, loc := findEarliest(text, periodRules, ref, false)
	return value, loc, nil
}
