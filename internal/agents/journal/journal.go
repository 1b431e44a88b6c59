// Package journal is the diary agent: one-line entries with an optional
// date and mood tag, keyword search, period listings and mood statistics.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strings"
	"time"

	"Kurashi-Agents/internal/agent"
	xerrors "Kurashi-Agents/internal/errors"
	"Kurashi-Agents/internal/intent"
	"Kurashi-Agents/internal/render"
	"Kurashi-Agents/pkg/logger"
)

// Name 是智能体名称，同时用作迁移命名空间。
const Name = "journal"

const (
	ActionHelp   = "help"
	ActionDelete = "delete"
	ActionSearch = "search"
	ActionMood   = "mood"
	ActionRead   = "read"
	ActionWrite  = "write"

	searchLimit  = 10
	previewWidth = 60
)

// Moods 是心情映射表。
var Moods = intent.NewTable("気分",
	intent.Entry{Canonical: "great", Aliases: []string{"最高", "絶好調", "great", "excellent"}},
	intent.Entry{Canonical: "good", Aliases: []string{"良い", "よい", "いい", "好調", "good"}},
	intent.Entry{Canonical: "okay", Aliases: []string{"普通", "ふつう", "まあまあ", "okay", "ok", "so-so"}},
	intent.Entry{Canonical: "bad", Aliases: []string{"悪い", "わるい", "いまいち", "微妙", "bad"}},
	intent.Entry{Canonical: "awful", Aliases: []string{"最悪", "最低", "つらい", "awful", "terrible"}},
)

var parser = intent.New(
	intent.NewRule(ActionHelp, `(?i)^(?:help|ヘルプ|使い方|\?)$`),
	intent.NewRule(ActionDelete, `(?i)^(?:削除|消して|delete|del|rm)\s*#?(?P<id>\d+)$`),
	intent.NewRule(ActionDelete, `^#?(?P<id>\d+)\s*(?:を|の日記を)?\s*(?:削除|消して)$`),
	intent.NewRule(ActionSearch, `(?i)^(?:検索|search|find)\s*:?\s*(?P<q>.+)$`),
	intent.NewRule(ActionSearch, `^(?P<q>.+?)\s*(?:を|で)?検索$`),
	intent.NewRule(ActionMood, `(?i)^(?:気分(?:集計|の集計|の推移|統計)?|mood(?:\s*stats)?)(?:\s+(?P<body>.*))?$`),
	intent.NewRule(ActionRead, `(?i)^(?:一覧|リスト|list|read|show)(?:\s+(?P<body>.*))?$`),
	intent.NewRule(ActionRead, `(?P<body>.*?)の?日記(?:を見せて|を読む|一覧|は)?\??$`),
	intent.NewRule(ActionWrite, `^(?:日記\s*:\s*)?(?P<body>.+)$`),
)

var (
	moodPrefix = regexp.MustCompile(`(?i)(?:気分|mood)\s*:\s*([^\s、,。]+)|#(` + Moods.Pattern() + `)`)

	periodSchema = intent.Schema{Fields: []intent.FieldSpec{
		{Name: "period", Extractor: intent.PeriodField{}},
	}}

	writeSchema = intent.Schema{
		Fields: []intent.FieldSpec{
			{Name: "date", Extractor: intent.DateField{Leading: true}},
			{Name: "mood", Extractor: intent.EnumField{Table: Moods, Prefix: moodPrefix}},
		},
		Text:         "body",
		TextRequired: true,
		TextMissing:  "日記の本文を入力してください。例: 「今日は公園を散歩した 気分:良い」",
	}
)

// Agent 是日记智能体。
type Agent struct {
	agent.Meta
	store *Store
	now   func() time.Time
}

// New 执行迁移并创建智能体。
func New(ctx context.Context, db *sql.DB, loc *time.Location) (*Agent, error) {
	if err := Migrate(ctx, db); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "日记智能体迁移失败")
	}
	return &Agent{
		Meta:  agent.NewMeta(Name, "日記と気分の記録", "日記", "diary"),
		store: NewStore(db, loc),
		now:   time.Now,
	}, nil
}

// Handle 实现 agent.Agent。
func (a *Agent) Handle(ctx context.Context, req agent.Request) (*agent.Result, error) {
	ref := req.ReceivedAt
	if ref.IsZero() {
		ref = a.now()
	}

	in, ok := parser.Parse(req.Text)
	if !ok {
		return a.Reject(ActionHelp, usage), nil
	}

	switch in.Action {
	case ActionHelp:
		return a.Reply(ActionHelp, usage), nil
	case ActionDelete:
		return a.deleteEntry(ctx, req, in)
	case ActionSearch:
		return a.search(ctx, req, in)
	case ActionMood:
		return a.moodStats(ctx, req, in, ref)
	case ActionRead:
		return a.read(ctx, req, in, ref)
	default:
		return a.write(ctx, req, in, ref)
	}
}

func (a *Agent) deleteEntry(ctx context.Context, req agent.Request, in intent.Intent) (*agent.Result, error) {
	id, ok := in.ID()
	if !ok {
		return a.Reject(ActionDelete, "削除する日記の番号を「削除 #12」のように指定してください。"), nil
	}
	found, err := a.store.Delete(ctx, req.UserID, id)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "删除日记失败")
	}
	if !found {
		return a.Reject(ActionDelete, fmt.Sprintf("#%d の日記は見つかりませんでした。", id)), nil
	}
	logger.Audit().Info("agent record deleted", "agent", Name, "table", "entries", "id", id, "user_id", req.UserID)
	return a.Reply(ActionDelete, fmt.Sprintf("#%d の日記を削除しました。", id)), nil
}

func (a *Agent) search(ctx context.Context, req agent.Request, in intent.Intent) (*agent.Result, error) {
	keyword := intent.CleanText(in.Group("q"))
	if keyword == "" {
		return a.Reject(ActionSearch, "検索する言葉を入力してください。例: 「検索 公園」"), nil
	}
	entries, err := a.store.Search(ctx, req.UserID, keyword, searchLimit)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "搜索日记失败")
	}
	if len(entries) == 0 {
		return a.Reply(ActionSearch, fmt.Sprintf("「%s」を含む日記は見つかりませんでした。", keyword)), nil
	}
	header := fmt.Sprintf("「%s」を含む日記（新しい順・%d件）:", keyword, len(entries))
	return a.Reply(ActionSearch, header+"\n"+formatEntries(entries)), nil
}

func (a *Agent) moodStats(ctx context.Context, req agent.Request, in intent.Intent, ref time.Time) (*agent.Result, error) {
	period := resolvePeriod(in.Body(), ref, intent.Month(ref))
	counts, err := a.store.MoodCounts(ctx, req.UserID, period)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "统计心情失败")
	}
	if len(counts) == 0 {
		return a.Reply(ActionMood, fmt.Sprintf("%s の日記はありません。", period)), nil
	}

	byMood := make(map[string]int, len(counts))
	total := 0
	for _, c := range counts {
		byMood[c.Mood] = c.Count
		total += c.Count
	}

	table := render.NewTable("気分", "件数", "")
	for _, canonical := range Moods.Canonicals() {
		n := byMood[canonical]
		table.AddRow(Moods.Label(canonical), fmt.Sprint(n), strings.Repeat("■", n))
	}
	if n := byMood[""]; n > 0 {
		table.AddRow("未設定", fmt.Sprint(n), "")
	}
	return a.Reply(ActionMood, fmt.Sprintf("%s の気分（%d件）:\n%s", period, total, table)), nil
}

func (a *Agent) read(ctx context.Context, req agent.Request, in intent.Intent, ref time.Time) (*agent.Result, error) {
	period := resolvePeriod(in.Body(), ref, intent.Week(ref))
	entries, err := a.store.List(ctx, req.UserID, period)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询日记失败")
	}
	if len(entries) == 0 {
		return a.Reply(ActionRead, fmt.Sprintf("%s の日記はありません。", period)), nil
	}
	return a.Reply(ActionRead, fmt.Sprintf("%s の日記（%d件）:\n%s", period, len(entries), formatEntries(entries))), nil
}

func (a *Agent) write(ctx context.Context, req agent.Request, in intent.Intent, ref time.Time) (*agent.Result, error) {
	values, err := writeSchema.Extract(in.Body(), ref)
	if err != nil {
		return a.Reject(ActionWrite, intent.UserMessage(err)), nil
	}

	now := a.now().Unix()
	entry := Entry{
		UserID:    req.UserID,
		EntryDate: values.DateOr("date", ref),
		Body:      values.String("body"),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if mood := values.String("mood"); mood != "" {
		entry.Mood = sql.NullString{String: mood, Valid: true}
	}

	id, err := a.store.Add(ctx, entry)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "保存日记失败")
	}
	logger.Audit().Info("agent record created", "agent", Name, "table", "entries", "id", id, "user_id", req.UserID)

	reply := fmt.Sprintf("#%d %s の日記を記録しました", id, intent.FormatDate(entry.EntryDate))
	if entry.Mood.Valid {
		reply += fmt.Sprintf("（気分: %s）", Moods.Label(entry.Mood.String))
	}
	return a.Reply(ActionWrite, reply+"。"), nil
}

func resolvePeriod(text string, ref time.Time, fallback intent.Period) intent.Period {
	values, _ := periodSchema.Extract(text, ref)
	if period, ok := values.Period("period"); ok {
		return period
	}
	return fallback
}

func formatEntries(entries []Entry) string {
	lines := make([]string, 0, len(entries))
	for _, e := range entries {
		line := fmt.Sprintf("#%d %s", e.ID, intent.FormatDate(e.EntryDate))
		if e.Mood.Valid {
			line += " [" + Moods.Label(e.Mood.String) + "]"
		}
		lines = append(lines, line+" "+render.Truncate(e.Body, previewWidth))
	}
	return strings.Join(lines, "\n")
}

const usage = "日記エージェントの使い方:\n" +
	"• 書く: `今日は公園を散歩した 気分:良い` / `昨日 映画を観た #great`\n" +
	"• 読む: `今週の日記` / `一覧 先月` / `昨日の日記`\n" +
	"• 検索: `検索 公園`\n" +
	"• 気分の集計: `気分集計` / `気分集計 先月`\n" +
	"• 削除: `削除 #12`"
