package intent

import (
	"regexp"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	jst = time.FixedZone("JST", 9*60*60)
	// 2024-05-15 是星期三。
	ref = time.Date(2024, 5, 15, 10, 30, 0, 0, jst)
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, jst)
}

func TestNormalize(t *testing.T) {
	cases := map[string]string{
		"６５．２ｋｇ　体重":     "65.2kg 体重",
		"  朝食   パン  ":    "朝食 パン",
		"ＡＢＣ＃ｇｏｏｄ":      "ABC#good",
		"":               "",
		"気分：良い　　今日は晴れ": "気分:良い 今日は晴れ",
	}
	for in, want := range cases {
		assert.Equal(t, want, Normalize(in), "Normalize(%q)", in)
	}
}

func TestParserFirstMatchWins(t *testing.T) {
	p := New(
		NewRule("help", `^(?i:help|ヘルプ)$`),
		NewRule("delete", `^(?:削除|(?i:delete))\s*#?(?P<id>\d+)`),
		NewRule("list", `^(?:一覧|(?i:list))(?P<body>.*)$`),
		NewRule("record", `^(?P<body>.+)$`),
	)

	cases := []struct {
		in     string
		action string
		groups map[string]string
	}{
		{"help", "help", map[string]string{}},
		{"ＨＥＬＰ", "help", map[string]string{}},
		{"削除 #12", "delete", map[string]string{"id": "12"}},
		{"一覧 今週", "list", map[string]string{"body": "今週"}},
		{"一覧", "list", map[string]string{}},
		{"削除してね", "record", map[string]string{"body": "削除してね"}},
	}
	for _, tc := range cases {
		got, ok := p.Parse(tc.in)
		require.True(t, ok, tc.in)
		assert.Equal(t, tc.action, got.Action, tc.in)
		if diff := cmp.Diff(tc.groups, got.Groups); diff != "" {
			t.Fatalf("groups mismatch for %q (-want +got):\n%s", tc.in, diff)
		}
	}

	id, ok := mustParse(t, p, "delete 7").ID()
	assert.True(t, ok)
	assert.Equal(t, int64(7), id)

	_, ok = p.Parse("   ")
	assert.False(t, ok, "blank text must not match")
	assert.Equal(t, []string{"help", "delete", "list", "record"}, p.Actions())
}

func mustParse(t *testing.T, p *Parser, text string) Intent {
	t.Helper()
	in, ok := p.Parse(text)
	require.True(t, ok, text)
	return in
}

func TestDateField(t *testing.T) {
	cases := []struct {
		in   string
		want time.Time
		span string
	}{
		{"今日", day(2024, 5, 15), "今日"},
		{"昨日の朝食", day(2024, 5, 14), "昨日"},
		{"一昨日", day(2024, 5, 13), "一昨日"},
		{"おととい カレー", day(2024, 5, 13), "おととい"},
		{"明後日", day(2024, 5, 17), "明後日"},
		{"tomorrow lunch", day(2024, 5, 16), "tomorrow"},
		{"3日前", day(2024, 5, 12), "3日前"},
		{"ran 2 days ago", day(2024, 5, 13), "2 days ago"},
		{"in 10 days", day(2024, 5, 25), "in 10 days"},
		{"5/3 の夕食", day(2024, 5, 3), "5/3"},
		{"12月31日", day(2024, 12, 31), "12月31日"},
		{"2023-02-28 memo", day(2023, 2, 28), "2023-02-28"},
		{"2023年1月2日", day(2023, 1, 2), "2023年1月2日"},
	}
	for _, tc := range cases {
		value, loc, err := DateField{}.Extract(tc.in, ref)
		require.NoError(t, err)
		require.NotNil(t, loc, tc.in)
		assert.True(t, tc.want.Equal(value.(time.Time)), "%s: got %v", tc.in, value)
		assert.Equal(t, tc.span, tc.in[loc[0]:loc[1]], tc.in)
	}
}

func TestDateFieldRejectsInvalidAndLeading(t *testing.T) {
	for _, in := range []string{"2023/02/30", "13月1日", "カレー", "todays"} {
		_, loc, err := DateField{}.Extract(in, ref)
		require.NoError(t, err)
		assert.Nil(t, loc, in)
	}

	// 超出范围的相对天数整体不匹配，不能截取尾部数字。
	for _, in := range []string{"1000日前", "1000 days ago", "in 1000 days", "10000日後"} {
		value, loc, err := DateField{}.Extract(in, ref)
		require.NoError(t, err)
		assert.Nil(t, value, in)
		assert.Nil(t, loc, in)
	}
	_, loc, _ := PeriodField{}.Extract("直近1000日", ref)
	assert.Nil(t, loc)

	_, loc, _ = DateField{Leading: true}.Extract("メモ 今日", ref)
	assert.Nil(t, loc)
	value, loc, _ := DateField{Leading: true}.Extract("今日は晴れ", ref)
	require.NotNil(t, loc)
	assert.True(t, day(2024, 5, 15).Equal(value.(time.Time)))
}

func TestPeriodField(t *testing.T) {
	cases := []struct {
		in    string
		start time.Time
		end   time.Time
	}{
		{"今週", day(2024, 5, 13), day(2024, 5, 20)},
		{"last week", day(2024, 5, 6), day(2024, 5, 13)},
		{"今月の記録", day(2024, 5, 1), day(2024, 6, 1)},
		{"先月", day(2024, 4, 1), day(2024, 5, 1)},
		{"直近7日", day(2024, 5, 9), day(2024, 5, 16)},
		{"past 3 days", day(2024, 5, 13), day(2024, 5, 16)},
		{"昨日", day(2024, 5, 14), day(2024, 5, 15)},
		{"今年", day(2024, 1, 1), day(2025, 1, 1)},
	}
	for _, tc := range cases {
		value, loc, err := PeriodField{}.Extract(tc.in, ref)
		require.NoError(t, err)
		require.NotNil(t, loc, tc.in)
		period := value.(Period)
		assert.True(t, tc.start.Equal(period.Start), "%s start: %v", tc.in, period.Start)
		assert.True(t, tc.end.Equal(period.End), "%s end: %v", tc.in, period.End)
	}

	week := Period{Start: day(2024, 5, 13), End: day(2024, 5, 20)}
	assert.Equal(t, 7, week.Days())
	assert.Equal(t, "2024-05-13〜2024-05-19", week.String())
	assert.Equal(t, "2024-05-15", Day(ref).String())
	assert.True(t, week.Contains(ref))
}

func TestDurationField(t *testing.T) {
	cases := map[string]int{
		"1時間半":           90,
		"45分":            45,
		"1.5h":           90,
		"2 hours 10 min": 130,
		"1時間15分 キッチン":    75,
		"30 minutes":     30,
	}
	for in, want := range cases {
		value, loc, err := DurationField{}.Extract(in, ref)
		require.NoError(t, err, in)
		require.NotNil(t, loc, in)
		assert.Equal(t, want, value, in)
	}

	_, _, err := DurationField{}.Extract("3000分", ref)
	require.Error(t, err)
	assert.True(t, IsUserError(err))

	_, loc, err := DurationField{}.Extract("3 hamburgers", ref)
	require.NoError(t, err)
	assert.Nil(t, loc)

	assert.Equal(t, "1時間30分", FormatMinutes(90))
	assert.Equal(t, "2時間", FormatMinutes(120))
	assert.Equal(t, "5分", FormatMinutes(5))
}

var meals = NewTable("meal",
	Entry{"breakfast", []string{"朝食", "朝ごはん", "breakfast"}},
	Entry{"dinner", []string{"夕食", "晩ごはん", "dinner"}},
)

func TestTable(t *testing.T) {
	canonical, loc, ok := meals.Find("今日の晩ごはん")
	require.True(t, ok)
	assert.Equal(t, "dinner", canonical)
	assert.Equal(t, "晩ごはん", "今日の晩ごはん"[loc[0]:loc[1]])

	canonical, ok = meals.Lookup(" Breakfast ")
	assert.True(t, ok)
	assert.Equal(t, "breakfast", canonical)

	_, _, ok = meals.Find("breakfasts")
	assert.False(t, ok, "ascii aliases need word boundaries")

	assert.Equal(t, "朝食", meals.Label("breakfast"))
	assert.Equal(t, "朝食・夕食", meals.Labels())
	assert.Equal(t, []string{"breakfast", "dinner"}, meals.Canonicals())
}

func TestEnumFieldPrefix(t *testing.T) {
	moods := NewTable("気分", Entry{"good", []string{"良い", "good"}}, Entry{"bad", []string{"悪い", "bad"}})
	field := EnumField{Table: moods, Prefix: regexp.MustCompile(`(?i)(?:気分|mood)\s*[:=]\s*(\S+)|#(\S+)`)}

	value, loc, err := field.Extract("散歩した #good", ref)
	require.NoError(t, err)
	assert.Equal(t, "good", value)
	assert.Equal(t, "#good", "散歩した #good"[loc[0]:loc[1]])

	value, _, err = field.Extract("気分:悪い 雨", ref)
	require.NoError(t, err)
	assert.Equal(t, "bad", value)

	_, _, err = field.Extract("mood: sleepy", ref)
	require.Error(t, err)
	assert.Contains(t, UserMessage(err), "sleepy")

	_, loc, err = field.Extract("良い天気", ref)
	require.NoError(t, err)
	assert.Nil(t, loc, "untagged words are free text when a prefix is required")
}

var mealSchema = Schema{
	Fields: []FieldSpec{
		{Name: "date", Extractor: DateField{}},
		{Name: "meal", Extractor: EnumField{Table: meals}, Required: true, Missing: "食事の種類を指定してください。"},
		{Name: "calories", Extractor: IntField{Pattern: regexp.MustCompile(`(?i)(\d+)\s*kcal`), Min: 0, Max: 10000, Label: "カロリー"}},
	},
	Text:         "food",
	TextRequired: true,
	TextMissing:  "食べたものを書いてください。",
}

func TestSchemaExtract(t *testing.T) {
	values, err := mealSchema.Extract("昨日の夕食 カレー 800kcal", ref)
	require.NoError(t, err)

	date, ok := values.Date("date")
	require.True(t, ok)
	assert.True(t, day(2024, 5, 14).Equal(date))
	assert.Equal(t, "dinner", values.String("meal"))
	calories, ok := values.Int("calories")
	require.True(t, ok)
	assert.Equal(t, 800, calories)
	assert.Equal(t, "カレー", values.String("food"))

	values, err = mealSchema.Extract("朝食のトースト", ref)
	require.NoError(t, err)
	assert.Equal(t, "トースト", values.String("food"))
	assert.False(t, values.Has("calories"))
	assert.True(t, day(2024, 5, 15).Equal(values.DateOr("date", ref)))
}

func TestSchemaUserErrors(t *testing.T) {
	_, err := mealSchema.Extract("カレー", ref)
	require.Error(t, err)
	assert.Equal(t, "食事の種類を指定してください。", UserMessage(err))

	_, err = mealSchema.Extract("朝食 パン 20000kcal", ref)
	require.Error(t, err)
	assert.Contains(t, UserMessage(err), "カロリー")

	_, err = mealSchema.Extract("昨日 朝食", ref)
	require.Error(t, err)
	assert.Equal(t, "食べたものを書いてください。", UserMessage(err))
}

func TestSchemaKeepsWordInitialKana(t *testing.T) {
	cases := map[string]string{
		"朝食にんじん":     "にんじん",
		"夕食はるさめ":     "はるさめ",
		"朝食をおにぎり":    "おにぎり",
		"夕食にカレー":     "カレー",
		"昨日の朝食 トースト": "トースト",
	}
	for in, want := range cases {
		values, err := mealSchema.Extract(in, ref)
		require.NoError(t, err, in)
		assert.Equal(t, want, values.String("food"), in)
	}
}

func TestIntFieldRejectsLongNumbers(t *testing.T) {
	_, err := mealSchema.Extract("朝食 パン 100000kcal", ref)
	require.Error(t, err)
	assert.Contains(t, UserMessage(err), "カロリーは0〜10000")

	field := DecimalField{Pattern: regexp.MustCompile(`(\d+(?:\.\d+)?)\s*kg`), Min: 20, Max: 300, Label: "体重"}
	_, _, err = field.Extract("1000kg", ref)
	require.Error(t, err)
	value, loc, err := field.Extract("65.5kg", ref)
	require.NoError(t, err)
	require.NotNil(t, loc)
	assert.InDelta(t, 65.5, value, 0.001)
}

func TestCleanText(t *testing.T) {
	assert.Equal(t, "カレー", CleanText(" の カレー 、"))
	assert.Equal(t, "C.C.Lemon と パン", CleanText("C.C.Lemon と パン"))
	assert.Equal(t, "", CleanText(" - : "))
}
