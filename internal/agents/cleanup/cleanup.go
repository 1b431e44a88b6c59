// Package cleanup tracks household cleaning: which area was cleaned when and
// for how long, a per-area target interval, and the list of areas that are
// due again.
package cleanup

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"Kurashi-Agents/internal/agent"
	xerrors "Kurashi-Agents/internal/errors"
	"Kurashi-Agents/internal/intent"
	"Kurashi-Agents/internal/render"
	"Kurashi-Agents/pkg/logger"
)

// Name 是智能体名称，同时用作迁移命名空间。
const Name = "cleanup"

const (
	ActionHelp     = "help"
	ActionDelete   = "delete"
	ActionInterval = "interval"
	ActionDue      = "due"
	ActionHistory  = "history"
	ActionRecord   = "record"

	// DefaultIntervalDays 是未设置间隔时的默认天数。
	DefaultIntervalDays = 7
	maxIntervalDays     = 365
)

// Areas 是清扫区域映射表。
var Areas = intent.NewTable("場所",
	intent.Entry{Canonical: "kitchen", Aliases: []string{"キッチン", "台所", "コンロ", "シンク", "kitchen"}},
	intent.Entry{Canonical: "bathroom", Aliases: []string{"お風呂", "風呂", "風呂場", "浴室", "バスルーム", "bathroom", "bath"}},
	intent.Entry{Canonical: "toilet", Aliases: []string{"トイレ", "便所", "toilet"}},
	intent.Entry{Canonical: "living", Aliases: []string{"リビング", "居間", "living"}},
	intent.Entry{Canonical: "bedroom", Aliases: []string{"寝室", "ベッドルーム", "bedroom"}},
	intent.Entry{Canonical: "entrance", Aliases: []string{"玄関", "entrance"}},
	intent.Entry{Canonical: "laundry", Aliases: []string{"洗濯機", "ランドリー", "laundry"}},
	intent.Entry{Canonical: "windows", Aliases: []string{"窓", "窓ガラス", "窓拭き", "windows", "window"}},
	intent.Entry{Canonical: "fridge", Aliases: []string{"冷蔵庫", "fridge"}},
)

var parser = intent.New(
	intent.NewRule(ActionHelp, `(?i)^(?:help|ヘルプ|使い方|\?)$`),
	intent.NewRule(ActionDelete, `(?i)^(?:削除|消して|delete|del|rm)\s*#?(?P<id>\d+)$`),
	intent.NewRule(ActionDelete, `^#?(?P<id>\d+)\s*(?:を|の記録を)?\s*(?:削除|消して)$`),
	intent.NewRule(ActionInterval, `(?i)(?:(?P<days>\d+)\s*日(?:ごと|おき|毎|に1回)|(?P<weeks>\d+)\s*週間?(?:ごと|おき|毎|に1回)|\bevery\s+(?P<days>\d+)\s*days?\b|\bevery\s+(?P<weeks>\d+)\s*weeks?\b|(?P<unit>毎日|毎週|毎月|\bdaily\b|\bweekly\b|\bmonthly\b))`),
	intent.NewRule(ActionDue, `(?i)^(?:次|予定|やること|due|next|todo)(?:は)?\??(?:\s|$)`),
	intent.NewRule(ActionDue, `(?:掃除|そうじ)(?:する|すべき)?(?:場所|ところ)?(?:は|を教えて)\??$`),
	intent.NewRule(ActionHistory, `(?i)^(?:履歴|一覧|list|history)`),
	intent.NewRule(ActionRecord, `^(?P<body>.+)$`),
)

var (
	areaRequired = "掃除した場所（" + Areas.Labels() + "）を入れてください。例: 「キッチン 30分」"

	intervalSchema = intent.Schema{Fields: []intent.FieldSpec{
		{Name: "area", Extractor: intent.EnumField{Table: Areas}, Required: true,
			Missing: "場所（" + Areas.Labels() + "）を入れてください。例: 「お風呂 3日ごと」"},
	}}

	historySchema = intent.Schema{Fields: []intent.FieldSpec{
		{Name: "period", Extractor: intent.PeriodField{}},
		{Name: "area", Extractor: intent.EnumField{Table: Areas}},
	}}

	recordSchema = intent.Schema{
		Fields: []intent.FieldSpec{
			{Name: "date", Extractor: intent.DateField{}},
			{Name: "area", Extractor: intent.EnumField{Table: Areas}, Required: true, Missing: areaRequired},
			{Name: "minutes", Extractor: intent.DurationField{}},
		},
		Text: "note",
	}
)

// Agent 是清扫记录智能体。
type Agent struct {
	agent.Meta
	store *Store
	now   func() time.Time
}

// New 执行迁移并创建智能体。
func New(ctx context.Context, db *sql.DB, loc *time.Location) (*Agent, error) {
	if err := Migrate(ctx, db); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "清扫智能体迁移失败")
	}
	return &Agent{
		Meta:  agent.NewMeta(Name, "掃除の記録と次にやる場所の管理", "掃除", "そうじ", "clean"),
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
		return a.deleteCleaning(ctx, req, in)
	case ActionInterval:
		return a.setInterval(ctx, req, in, ref)
	case ActionDue:
		return a.due(ctx, req, ref)
	case ActionHistory:
		return a.history(ctx, req, in, ref)
	default:
		return a.record(ctx, req, in, ref)
	}
}

func (a *Agent) deleteCleaning(ctx context.Context, req agent.Request, in intent.Intent) (*agent.Result, error) {
	id, ok := in.ID()
	if !ok {
		return a.Reject(ActionDelete, "削除する記録の番号を「削除 #12」のように指定してください。"), nil
	}
	found, err := a.store.DeleteCleaning(ctx, req.UserID, id)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "删除清扫记录失败")
	}
	if !found {
		return a.Reject(ActionDelete, fmt.Sprintf("#%d の記録は見つかりませんでした。", id)), nil
	}
	logger.Audit().Info("agent record deleted", "agent", Name, "table", "cleanings", "id", id, "user_id", req.UserID)
	return a.Reply(ActionDelete, fmt.Sprintf("#%d の記録を削除しました。", id)), nil
}

// intervalDays 根据捕获组换算间隔天数。
func intervalDays(in intent.Intent) int {
	switch strings.ToLower(in.Group("unit")) {
	case "毎日", "daily":
		return 1
	case "毎週", "weekly":
		return 7
	case "毎月", "monthly":
		return 30
	}
	if raw := in.Group("weeks"); raw != "" {
		weeks, err := strconv.Atoi(raw)
		if err != nil || weeks > maxIntervalDays {
			return 0
		}
		return weeks * 7
	}
	days, _ := strconv.Atoi(in.Group("days"))
	return days
}

func (a *Agent) setInterval(ctx context.Context, req agent.Request, in intent.Intent, ref time.Time) (*agent.Result, error) {
	days := intervalDays(in)
	if days < 1 || days > maxIntervalDays {
		return a.Reject(ActionInterval, fmt.Sprintf("間隔は1〜%d日の範囲で指定してください。", maxIntervalDays)), nil
	}
	values, err := intervalSchema.Extract(in.Text, ref)
	if err != nil {
		return a.Reject(ActionInterval, intent.UserMessage(err)), nil
	}
	area := values.String("area")

	if err := a.store.SetInterval(ctx, req.UserID, area, days); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "保存清扫间隔失败")
	}
	logger.Audit().Info("agent record created", "agent", Name, "table", "areas", "area", area, "interval_days", days, "user_id", req.UserID)
	return a.Reply(ActionInterval, fmt.Sprintf("%sの掃除間隔を%d日ごとに設定しました。", Areas.Label(area), days)), nil
}

type dueItem struct {
	state   AreaState
	next    time.Time
	overdue int
}

func (a *Agent) due(ctx context.Context, req agent.Request, ref time.Time) (*agent.Result, error) {
	states, err := a.store.States(ctx, req.UserID, DefaultIntervalDays)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询清扫状态失败")
	}
	if len(states) == 0 {
		return a.Reply(ActionDue, "まだ掃除の記録も間隔の設定もありません。「お風呂 3日ごと」のように間隔を設定できます。"), nil
	}

	today := intent.StartOfDay(ref)
	var dueItems, upcoming []dueItem
	for _, state := range states {
		item := dueItem{state: state}
		if !state.HasLast {
			item.overdue = maxIntervalDays + 1
			dueItems = append(dueItems, item)
			continue
		}
		item.next = state.LastDone.AddDate(0, 0, state.IntervalDays)
		item.overdue = daysBetween(item.next, today)
		if item.overdue >= 0 {
			dueItems = append(dueItems, item)
		} else {
			upcoming = append(upcoming, item)
		}
	}

	sort.Slice(dueItems, func(i, j int) bool {
		if dueItems[i].overdue != dueItems[j].overdue {
			return dueItems[i].overdue > dueItems[j].overdue
		}
		return dueItems[i].state.Area < dueItems[j].state.Area
	})
	sort.Slice(upcoming, func(i, j int) bool {
		if !upcoming[i].next.Equal(upcoming[j].next) {
			return upcoming[i].next.Before(upcoming[j].next)
		}
		return upcoming[i].state.Area < upcoming[j].state.Area
	})

	if len(dueItems) == 0 {
		next := upcoming[0]
		return a.Reply(ActionDue, fmt.Sprintf("今日やるべき掃除はありません。次は%s（%s）です。",
			Areas.Label(next.state.Area), intent.FormatDate(next.next))), nil
	}

	table := render.NewTable("場所", "前回", "間隔", "状態")
	for _, item := range dueItems {
		last, status := "未実施", "未実施"
		if item.state.HasLast {
			last = intent.FormatDate(item.state.LastDone)
			status = "今日"
			if item.overdue > 0 {
				status = fmt.Sprintf("%d日超過", item.overdue)
			}
		}
		table.AddRow(Areas.Label(item.state.Area), last, fmt.Sprintf("%d日", item.state.IntervalDays), status)
	}
	return a.Reply(ActionDue, fmt.Sprintf("掃除が必要な場所（%d件）:\n%s", len(dueItems), table)), nil
}

func (a *Agent) history(ctx context.Context, req agent.Request, in intent.Intent, ref time.Time) (*agent.Result, error) {
	values, _ := historySchema.Extract(in.Text, ref)
	period, ok := values.Period("period")
	if !ok {
		period = intent.Week(ref)
	}
	area := values.String("area")

	cleanings, err := a.store.ListCleanings(ctx, req.UserID, area, period)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询清扫记录失败")
	}
	scope := period.String()
	if area != "" {
		scope += " " + Areas.Label(area)
	}
	if len(cleanings) == 0 {
		return a.Reply(ActionHistory, fmt.Sprintf("%s の掃除記録はありません。", scope)), nil
	}

	table := render.NewTable("#", "日付", "場所", "時間", "メモ")
	total := 0
	for _, c := range cleanings {
		minutes := 0
		if c.Minutes.Valid {
			minutes = int(c.Minutes.Int64)
			total += minutes
		}
		table.AddRow(fmt.Sprint(c.ID), intent.FormatDate(c.DoneOn)[5:], Areas.Label(c.Area), intent.FormatMinutes(minutes), c.Note)
	}
	reply := fmt.Sprintf("%s の掃除（%d件", scope, len(cleanings))
	if total > 0 {
		reply += "・合計 " + intent.FormatMinutes(total)
	}
	return a.Reply(ActionHistory, reply+"）:\n"+table.String()), nil
}

func (a *Agent) record(ctx context.Context, req agent.Request, in intent.Intent, ref time.Time) (*agent.Result, error) {
	values, err := recordSchema.Extract(in.Body(), ref)
	if err != nil {
		return a.Reject(ActionRecord, intent.UserMessage(err)), nil
	}

	cleaning := Cleaning{
		UserID:    req.UserID,
		Area:      values.String("area"),
		DoneOn:    values.DateOr("date", ref),
		Note:      stripCleaningVerb(values.String("note")),
		CreatedAt: a.now().Unix(),
	}
	if minutes, ok := values.Int("minutes"); ok {
		cleaning.Minutes = sql.NullInt64{Int64: int64(minutes), Valid: true}
	}

	// 先读后写：写入之后的失败会让任务重试并重复插入。
	interval, err := a.store.Interval(ctx, req.UserID, cleaning.Area, DefaultIntervalDays)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询清扫间隔失败")
	}

	id, err := a.store.AddCleaning(ctx, cleaning)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "保存清扫记录失败")
	}
	logger.Audit().Info("agent record created", "agent", Name, "table", "cleanings", "id", id, "user_id", req.UserID)

	var b strings.Builder
	fmt.Fprintf(&b, "#%d %s %s", id, intent.FormatDate(cleaning.DoneOn), Areas.Label(cleaning.Area))
	if cleaning.Minutes.Valid {
		fmt.Fprintf(&b, "（%s）", intent.FormatMinutes(int(cleaning.Minutes.Int64)))
	}
	if cleaning.Note != "" {
		fmt.Fprintf(&b, "「%s」", cleaning.Note)
	}
	fmt.Fprintf(&b, "を記録しました。次回の目安: %s", intent.FormatDate(cleaning.DoneOn.AddDate(0, 0, interval)))
	return a.Reply(ActionRecord, b.String()), nil
}

var cleaningVerbs = []string{"掃除した", "そうじした", "掃除", "そうじ", "cleaned", "clean"}

// stripCleaningVerb 去掉备注中单独出现的「掃除した」之类的动词。
func stripCleaningVerb(note string) string {
	fields := strings.Fields(note)
	kept := fields[:0]
	for _, field := range fields {
		verb := false
		for _, v := range cleaningVerbs {
			if strings.EqualFold(field, v) {
				verb = true
				break
			}
		}
		if !verb {
			kept = append(kept, field)
		}
	}
	return intent.CleanText(strings.Join(kept, " "))
}

func daysBetween(from, to time.Time) int {
	return int(math.Round(intent.StartOfDay(to).Sub(intent.StartOfDay(from)).Hours() / 24))
}

const usage = "掃除エージェントの使い方:\n" +
	"• 記録: `キッチン 30分` / `昨日 お風呂 1時間 カビ取り`\n" +
	"• 間隔の設定: `お風呂 3日ごと` / `トイレ 毎週`\n" +
	"• 次にやる場所: `次` / `やること`\n" +
	"• 履歴: `履歴` / `履歴 先週 トイレ`\n" +
	"• 削除: `削除 #12`"
