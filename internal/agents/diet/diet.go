// Package diet implements the meal and body-weight log: free-text messages
// such as "朝食 トースト 300kcal" or "体重 65.2kg" are parsed into records,
// and lists, summaries and weight history are rendered back as tables.
package diet

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
const Name = "diet"

const (
	ActionHelp    = "help"
	ActionDelete  = "delete"
	ActionWeights = "weights"
	ActionWeight  = "weight"
	ActionSummary = "summary"
	ActionList    = "list"
	ActionRecord  = "record"

	weightHistoryLimit = 14
)

// MealTypes 是餐别映射表。
var MealTypes = intent.NewTable("食事の種類",
	intent.Entry{Canonical: "breakfast", Aliases: []string{"朝食", "朝ごはん", "朝ご飯", "朝飯", "モーニング", "朝", "breakfast"}},
	intent.Entry{Canonical: "lunch", Aliases: []string{"昼食", "昼ごはん", "昼ご飯", "昼飯", "ランチ", "昼", "lunch"}},
	intent.Entry{Canonical: "dinner", Aliases: []string{"夕食", "晩ごはん", "晩ご飯", "夜ごはん", "夜ご飯", "夕飯", "晩飯", "ディナー", "夜", "dinner", "supper"}},
	intent.Entry{Canonical: "snack", Aliases: []string{"間食", "おやつ", "夜食", "スナック", "snack"}},
)

var parser = intent.New(
	intent.NewRule(ActionHelp, `(?i)^(?:help|ヘルプ|使い方|\?)$`),
	intent.NewRule(ActionDelete, `(?i)^(?:削除|消して|delete|del|rm)\s*#?(?P<id>\d+)$`),
	intent.NewRule(ActionDelete, `^#?(?P<id>\d+)\s*(?:を|の記録を)?\s*(?:削除|消して)$`),
	intent.NewRule(ActionWeights, `(?i)^(?:体重(?:の)?(?:履歴|推移|グラフ|一覧)|weight\s+(?:history|log))`),
	intent.NewRule(ActionWeight, `(?i)(?:体重|\bweight\b)`),
	intent.NewRule(ActionSummary, `(?i)(?:集計|合計|サマリー|まとめ|\bsummary\b|\btotal\b)`),
	intent.NewRule(ActionList, `(?i)^(?:一覧|リスト|履歴|list\b|show\b)`),
	intent.NewRule(ActionList, `の(?:食事|ごはん|ご飯)(?:は|を見せて|一覧)?\??$`),
	intent.NewRule(ActionRecord, `^(?P<body>.+)$`),
)

var (
	weightSchema = intent.Schema{Fields: []intent.FieldSpec{
		{Name: "date", Extractor: intent.DateField{}},
		{Name: "weight", Extractor: intent.DecimalField{
			Pattern: regexp.MustCompile(`(?i)(\d+(?:\.\d+)?)\s*(?:kg|キロ(?:グラム)?)?`),
			Min:     20, Max: 300, Label: "体重",
		}, Required: true, Missing: "体重を数値で入力してください。例: 「体重 65.2kg」"},
	}}

	periodSchema = intent.Schema{Fields: []intent.FieldSpec{
		{Name: "period", Extractor: intent.PeriodField{}},
	}}

	recordSchema = intent.Schema{
		Fields: []intent.FieldSpec{
			{Name: "date", Extractor: intent.DateField{}},
			{Name: "meal", Extractor: intent.EnumField{Table: MealTypes}, Required: true,
				Missing: "食事の種類（" + MealTypes.Labels() + "）を入れてください。例: 「朝食 トースト 300kcal」"},
			{Name: "calories", Extractor: intent.IntField{
				Pattern: regexp.MustCompile(`(?i)(\d+)\s*(?:kcal|キロカロリー|カロリー|cal\b)`),
				Min:     0, Max: 10000, Label: "カロリー",
			}},
		},
		Text:         "food",
		TextRequired: true,
		TextMissing:  "食べたものを入力してください。例: 「昼食 親子丼 650kcal」",
	}
)

// Agent 是饮食与体重记录智能体。
type Agent struct {
	agent.Meta
	store *Store
	now   func() time.Time
}

// New 执行迁移并创建智能体。
func New(ctx context.Context, db *sql.DB, loc *time.Location) (*Agent, error) {
	if err := Migrate(ctx, db); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "饮食智能体迁移失败")
	}
	return &Agent{
		Meta:  agent.NewMeta(Name, "食事と体重の記録", "食事", "ごはん", "meal"),
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
		return a.deleteMeal(ctx, req, in)
	case ActionWeights:
		return a.weightHistory(ctx, req)
	case ActionWeight:
		return a.recordWeight(ctx, req, in, ref)
	case ActionSummary:
		return a.summary(ctx, req, in, ref)
	case ActionList:
		return a.list(ctx, req, in, ref)
	default:
		return a.recordMeal(ctx, req, in, ref)
	}
}

func (a *Agent) deleteMeal(ctx context.Context, req agent.Request, in intent.Intent) (*agent.Result, error) {
	id, ok := in.ID()
	if !ok {
		return a.Reject(ActionDelete, "削除する記録の番号を「削除 #12」のように指定してください。"), nil
	}
	found, err := a.store.DeleteMeal(ctx, req.UserID, id)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "删除饮食记录失败")
	}
	if !found {
		return a.Reject(ActionDelete, fmt.Sprintf("#%d の記録は見つかりませんでした。", id)), nil
	}
	logger.Audit().Info("agent record deleted", "agent", Name, "table", "meals", "id", id, "user_id", req.UserID)
	return a.Reply(ActionDelete, fmt.Sprintf("#%d の記録を削除しました。", id)), nil
}

func (a *Agent) recordWeight(ctx context.Context, req agent.Request, in intent.Intent, ref time.Time) (*agent.Result, error) {
	values, err := weightSchema.Extract(in.Text, ref)
	if err != nil {
		return a.Reject(ActionWeight, intent.UserMessage(err)), nil
	}
	kg, _ := values.Float("weight")
	day := values.DateOr("date", ref)

	previous, err := a.store.SaveWeight(ctx, Weight{
		UserID:     req.UserID,
		MeasuredOn: day,
		WeightKg:   kg,
		CreatedAt:  a.now().Unix(),
	})
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "保存体重失败")
	}
	logger.Audit().Info("agent record created", "agent", Name, "table", "weights", "date", intent.FormatDate(day), "user_id", req.UserID)

	reply := fmt.Sprintf("%s の体重を %.1fkg で記録しました。", intent.FormatDate(day), kg)
	if previous != nil {
		reply += fmt.Sprintf("（%s から %s）", intent.FormatDate(previous.MeasuredOn), formatDelta(kg-previous.WeightKg))
	}
	return a.Reply(ActionWeight, reply), nil
}

func (a *Agent) weightHistory(ctx context.Context, req agent.Request) (*agent.Result, error) {
	weights, err := a.store.RecentWeights(ctx, req.UserID, weightHistoryLimit)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询体重记录失败")
	}
	if len(weights) == 0 {
		return a.Reply(ActionWeights, "体重の記録はまだありません。「体重 65.2kg」で記録できます。"), nil
	}

	table := render.NewTable("日付", "体重", "前回比")
	for i, w := range weights {
		delta := "-"
		if i > 0 {
			delta = formatDelta(w.WeightKg - weights[i-1].WeightKg)
		}
		table.AddRow(intent.FormatDate(w.MeasuredOn), fmt.Sprintf("%.1fkg", w.WeightKg), delta)
	}
	reply := fmt.Sprintf("直近%d件の体重:\n%s", len(weights), table)
	if len(weights) > 1 {
		reply += "\n期間の変化: " + formatDelta(weights[len(weights)-1].WeightKg-weights[0].WeightKg)
	}
	return a.Reply(ActionWeights, reply), nil
}

func (a *Agent) summary(ctx context.Context, req agent.Request, in intent.Intent, ref time.Time) (*agent.Result, error) {
	period := resolvePeriod(in.Text, ref)
	totals, err := a.store.Totals(ctx, req.UserID, period)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "汇总饮食记录失败")
	}
	if len(totals) == 0 {
		return a.Reply(ActionSummary, fmt.Sprintf("%s の食事記録はありません。", period)), nil
	}

	byType := make(map[string]MealTotal, len(totals))
	for _, total := range totals {
		byType[total.MealType] = total
	}

	table := render.NewTable("種類", "回数", "kcal")
	var (
		sum     int64
		count   int
		unknown int
	)
	for _, canonical := range MealTypes.Canonicals() {
		total, ok := byType[canonical]
		if !ok {
			continue
		}
		table.AddRow(MealTypes.Label(canonical), fmt.Sprint(total.Count), fmt.Sprint(total.Calories))
		sum += total.Calories
		count += total.Count
		unknown += total.Unknown
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s の集計（%d件）:\n%s\n合計: %dkcal", period, count, table, sum)
	if days := period.Days(); days > 1 {
		fmt.Fprintf(&b, "（1日平均 %dkcal）", sum/int64(days))
	}
	if unknown > 0 {
		fmt.Fprintf(&b, "\nカロリー未入力: %d件", unknown)
	}
	return a.Reply(ActionSummary, b.String()), nil
}

func (a *Agent) list(ctx context.Context, req agent.Request, in intent.Intent, ref time.Time) (*agent.Result, error) {
	period := resolvePeriod(in.Text, ref)
	meals, err := a.store.ListMeals(ctx, req.UserID, period)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询饮食记录失败")
	}
	if len(meals) == 0 {
		return a.Reply(ActionList, fmt.Sprintf("%s の食事記録はありません。", period)), nil
	}

	table := render.NewTable("#", "日付", "種類", "kcal", "内容")
	var sum int64
	for _, meal := range meals {
		calories := "-"
		if meal.Calories.Valid {
			calories = fmt.Sprint(meal.Calories.Int64)
			sum += meal.Calories.Int64
		}
		table.AddRow(fmt.Sprint(meal.ID), intent.FormatDate(meal.EatenOn)[5:], MealTypes.Label(meal.MealType), calories, meal.Description)
	}
	return a.Reply(ActionList, fmt.Sprintf("%s の食事（%d件・合計 %dkcal）:\n%s", period, len(meals), sum, table)), nil
}

func (a *Agent) recordMeal(ctx context.Context, req agent.Request, in intent.Intent, ref time.Time) (*agent.Result, error) {
	values, err := recordSchema.Extract(in.Body(), ref)
	if err != nil {
		return a.Reject(ActionRecord, intent.UserMessage(err)), nil
	}

	meal := Meal{
		UserID:      req.UserID,
		EatenOn:     values.DateOr("date", ref),
		MealType:    values.String("meal"),
		Description: values.String("food"),
		CreatedAt:   a.now().Unix(),
	}
	if calories, ok := values.Int("calories"); ok {
		meal.Calories = sql.NullInt64{Int64: int64(calories), Valid: true}
	}

	id, err := a.store.AddMeal(ctx, meal)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "保存饮食记录失败")
	}
	logger.Audit().Info("agent record created", "agent", Name, "table", "meals", "id", id, "user_id", req.UserID)

	reply := fmt.Sprintf("#%d %s の%s「%s」", id, intent.FormatDate(meal.EatenOn), MealTypes.Label(meal.MealType), meal.Description)
	if meal.Calories.Valid {
		reply += fmt.Sprintf("（%dkcal）", meal.Calories.Int64)
	}
	return a.Reply(ActionRecord, reply+"を記録しました。"), nil
}

// resolvePeriod 从文本中提取区间，缺省为参考时间当天。
func resolvePeriod(text string, ref time.Time) intent.Period {
	values, _ := periodSchema.Extract(text, ref)
	if period, ok := values.Period("period"); ok {
		return period
	}
	return intent.Day(ref)
}

func formatDelta(delta float64) string {
	switch {
	case delta > 0.05:
		return fmt.Sprintf("+%.1fkg", delta)
	case delta < -0.05:
		return fmt.Sprintf("%.1fkg", delta)
	default:
		return "±0.0kg"
	}
}

const usage = "食事・体重エージェントの使い方:\n" +
	"• 記録: `朝食 トースト 300kcal` / `昨日の夕食 カレー` / `5/3 ランチ そば`\n" +
	"• 一覧: `一覧` / `昨日の食事` / `一覧 今週`\n" +
	"• 集計: `集計` / `集計 今月`\n" +
	"• 体重: `体重 65.2kg` / `体重 昨日 65.0`\n" +
	"• 体重の推移: `体重履歴`\n" +
	"• 削除: `削除 #12`"
