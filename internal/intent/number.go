package intent

import (
	"fmt"
	"regexp"
	"strconv"
	"time"
)

// findNumber 返回第一个数字捕获组前后都不紧邻数字（或小数点）的匹配，
// 避免从较长数字的中间截取出一个看似合法的值。
func findNumber(pattern *regexp.Regexp, text string) []int {
	for _, loc := range pattern.FindAllStringSubmatchIndex(text, -1) {
		if len(loc) < 4 || loc[2] < 0 {
			continue
		}
		if loc[2] > 0 && isNumberByte(text[loc[2]-1]) {
			continue
		}
		if rest := text[loc[3]:]; rest != "" && (isDigit(rest[0]) || (rest[0] == '.' && len(rest) > 1 && isDigit(rest[1]))) {
			continue
		}
		return loc
	}
	return nil
}

func isNumberByte(b byte) bool {
	return isDigit(b) || b == '.'
}

func isDigit(b byte) bool {
	return b >= '0' && b <= '9'
}

// IntField 通过带捕获组的正则提取有界整数，第一个捕获组为数字部分。
// 模式中的数字部分应写成 \d+，超出范围的输入由 Min/Max 拒绝。
type IntField struct {
	Pattern *regexp.Regexp
	Min     int
	Max     int
	Label   string
}

// Extract 实现 Extractor。
func (f IntField) Extract(text string, _ time.Time) (any, []int, error) {
	loc := findNumber(f.Pattern, text)
	if loc == nil {
		return nil, nil, nil
	}
	n, err := strconv.Atoi(text[loc[2]:loc[3]])
	if err != nil || n < f.Min || n > f.Max {
		return nil, nil, Rejectf(f.Label, fmt.Sprintf("%sは%d〜%dの範囲で指定してください。", f.Label, f.Min, f.Max))
	}
	return n, loc[:2], nil
}

// DecimalField 提取有界小数，第一个捕获组为数字部分。
type DecimalField struct {
	Pattern *regexp.Regexp
	Min     float64
	Max     float64
	Label   string
}

// Extract 实现 Extractor。
func (f DecimalField) Extract(text string, _ time.Time) (any, []int, error) {
	loc := findNumber(f.Pattern, text)
	if loc == nil {
		return nil, nil, nil
	}
	value, err := strconv.ParseFloat(text[loc[2]:loc[3]], 64)
	if err != nil || value < f.Min || value > f.Max {
		return nil, nil, Rejectf(f.Label, fmt.Sprintf("%sは%g〜%gの範囲で指定してください。", f.Label, f.Min, f.Max))
	}
	return value, loc[:2], nil
}

var (
	hoursPattern   = regexp.MustCompile(`(?i)(\d+(?:\.\d+)?)(?:\s*(?:時間|hours?|hrs?)|h)(半)?(?:\s*(\d{1,2})\s*(?:分|minutes?\b|mins?\b))?`)
	minutesPattern = regexp.MustCompile(`(?i)(\d+)\s*(?:分間?|minutes?\b|mins?\b)`)
)

// DurationField 提取时长，值为分钟数（int）。支持「1時間半」「90分」「1.5h」「2 hours 10 min」。
type DurationField struct {
	Max int
}

// Extract 实现 Extractor。
func (f DurationField) Extract(text string, _ time.Time) (any, []int, error) {
	limit := f.Max
	if limit <= 0 {
		limit = 24 * 60
	}

	hoursLoc := findNumber(hoursPattern, text)
	minutesLoc := findNumber(minutesPattern, text)

	var (
		minutes int
		loc     []int
	)
	switch {
	case hoursLoc != nil && (minutesLoc == nil || hoursLoc[0] <= minutesLoc[0]):
		hours, err := strconv.ParseFloat(text[hoursLoc[2]:hoursLoc[3]], 64)
		if err != nil {
			return nil, nil, nil
		}
		minutes = int(hours*60 + 0.5)
		if hoursLoc[4] >= 0 {
			minutes += 30
		}
		if hoursLoc[6] >= 0 {
			minutes += atoi(text[hoursLoc[6]:hoursLoc[7]])
		}
		loc = hoursLoc[:2]
	case minutesLoc != nil:
		minutes = atoi(text[minutesLoc[2]:minutesLoc[3]])
		loc = minutesLoc[:2]
	default:
		return nil, nil, nil
	}

	if minutes < 1 || minutes > limit {
		return nil, nil, Rejectf("duration", fmt.Sprintf("時間は1〜%d分の範囲で指定してください。", limit))
	}
	return minutes, loc, nil
}

// FormatMinutes 将分钟数格式化为「1時間30分」。
func FormatMinutes(minutes int) string {
	switch {
	case minutes <= 0:
		return "-"
	case minutes < 60:
		return fmt.Sprintf("%d分", minutes)
	case minutes%60 == 0:
		return fmt.Sprintf("%d時間", minutes/60)
	default:
		return fmt.Sprintf("%d時間%d分", minutes/60, minutes%60)
	}
}
