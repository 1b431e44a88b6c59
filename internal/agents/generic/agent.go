package generic

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"Kurashi-Agents/internal/agent"
	xerrors "Kurashi-Agents/internal/errors"
	"Kurashi-Agents/internal/intent"
	"Kurashi-Agents/internal/render"
	"Kurashi-Agents/pkg/logger"
)

const (
	ActionHelp   = "help"
	ActionAdd    = "add"
	ActionList   = "list"
	ActionShow   = "show"
	ActionUpdate = "update"
	ActionDelete = "delete"

	defaultListLimit = 10
	maxListLimit     = 50
)

var parser = intent.New(
	intent.NewRule(ActionHelp, `(?i)^(?:help|ヘルプ|使い方|\?)$`),
	intent.NewRule(ActionList, `(?i)^(?:list|一覧|リスト)(?:\s+(?P<n>\d+))?$`),
	intent.NewRule(ActionShow, `(?i)^(?:show|表示|詳細)\s*#?(?P<id>\d+)$`),
	intent.NewRule(ActionUpdate, `(?i)^(?:update|edit|更新|編集)\s*#?(?P<id>\d+)(?:\s+(?P<args>.*))?$`),
	intent.NewRule(ActionDelete, `(?i)^(?:delete|del|削除)\s*#?(?P<id>\d+)$`),
	intent.NewRule(ActionAdd, `(?i)^(?:(?:add|追加|登録)(?:\s+|$))?(?P<args>.*)$`),
)

// Agent 是由 Definition 生成的增删改查智能体。
type Agent struct {
	agent.Meta
	def   Definition
	store *Store
	loc   *time.Location
	now   func() time.Time
	usage string
}

// New 确保数据表存在并创建智能体。
func New(ctx context.Context, db *sql.DB, def Definition, loc *time.Location) (*Agent, error) {
	if err := def.Validate(); err != nil {
		return nil, err
	}
	if err := EnsureTable(ctx, db, def); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "初始化数据表失败",
			xerrors.WithMetadata("agent", def.Name))
	}
	if loc == nil {
		loc = time.Local
	}
	description := def.Description
	if description == "" {
		description = def.Name + " の記録"
	}
	return &Agent{
		Meta:  agent.NewMeta(def.Name, description, def.Aliases...),
		def:   def,
		store: NewStore(db, def),
		loc:   loc,
		now:   time.Now,
		usage: usageFor(def),
	}, nil
}

// Definition 返回智能体的定义。
func (a *Agent) Definition() Definition {
	return a.def
}

// Handle 实现 agent.Agent。
func (a *Agent) Handle(ctx context.Context, req agent.Request) (*agent.Result, error) {
	ref := req.ReceivedAt
	if ref.IsZero() {
		ref = a.now()
	}
	ref = ref.In(a.loc)

	in, ok := parser.Parse(req.Text)
	if !ok {
		return a.Reject(ActionHelp, a.usage), nil
	}

	switch in.Action {
	case ActionHelp:
		return a.Reply(ActionHelp, a.usage), nil
	case ActionList:
		return a.list(ctx, req, in)
	case ActionShow:
		return a.show(ctx, req, in)
	case ActionUpdate:
		return a.update(ctx, req, in, ref)
	case ActionDelete:
		return a.delete(ctx, req, in)
	default:
		return a.add(ctx, req, in, ref)
	}
}

func (a *Agent) add(ctx context.Context, req agent.Request, in intent.Intent, ref time.Time) (*agent.Result, error) {
	args := in.Group("args")
	if args == "" {
		return a.Reject(ActionAdd, a.usage), nil
	}
	values, err := parseArgs(a.def, args, ref)
	if err != nil {
		return a.Reject(ActionAdd, intent.UserMessage(err)), nil
	}
	for _, col := range a.def.Columns {
		if _, ok := values[col.Name]; col.Required && !ok {
			return a.Reject(ActionAdd, fmt.Sprintf("%sを入力してください。\n%s", col.DisplayName(), a.example())), nil
		}
	}

	id, err := a.store.Insert(ctx, req.UserID, values, a.now().Unix())
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "保存记录失败", xerrors.WithMetadata("agent", a.Name()))
	}
	logger.Audit().Info("agent record created", "agent", a.Name(), "table", a.def.Table, "id", id, "user_id", req.UserID)
	return a.Reply(ActionAdd, fmt.Sprintf("#%d を登録しました: %s", id, a.summary(stringify(values)))), nil
}

func (a *Agent) list(ctx context.Context, req agent.Request, in intent.Intent) (*agent.Result, error) {
	limit := defaultListLimit
	if raw := in.Group("n"); raw != "" {
		n, _ := strconv.Atoi(raw)
		limit = min(max(n, 1), maxListLimit)
	}
	records, err := a.store.Recent(ctx, req.UserID, limit)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询记录失败", xerrors.WithMetadata("agent", a.Name()))
	}
	if len(records) == 0 {
		return a.Reply(ActionList, "まだ記録がありません。\n"+a.example()), nil
	}
	total, err := a.store.Count(ctx, req.UserID)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "统计记录失败", xerrors.WithMetadata("agent", a.Name()))
	}

	headers := []string{"#"}
	for _, col := range a.def.Columns {
		headers = append(headers, col.DisplayName())
	}
	table := render.NewTable(headers...)
	for _, record := range records {
		row := []string{strconv.FormatInt(record.ID, 10)}
		for _, col := range a.def.Columns {
			row = append(row, record.Fields[col.Name])
		}
		table.AddRow(row...)
	}
	return a.Reply(ActionList, fmt.Sprintf("直近%d件（全%d件）:\n%s", len(records), total, table)), nil
}

func (a *Agent) show(ctx context.Context, req agent.Request, in intent.Intent) (*agent.Result, error) {
	id, _ := in.ID()
	record, err := a.store.Get(ctx, req.UserID, id)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询记录失败", xerrors.WithMetadata("agent", a.Name()))
	}
	if record == nil {
		return a.Reject(ActionShow, fmt.Sprintf("#%d の記録は見つかりませんでした。", id)), nil
	}

	lines := []string{fmt.Sprintf("#%d", record.ID)}
	for _, col := range a.def.Columns {
		value, ok := record.Fields[col.Name]
		if !ok {
			value = "-"
		}
		lines = append(lines, fmt.Sprintf("%s: %s", col.DisplayName(), value))
	}
	lines = append(lines, "登録: "+time.Unix(record.CreatedAt, 0).In(a.loc).Format("2006-01-02 15:04"))
	if record.UpdatedAt != record.CreatedAt {
		lines = append(lines, "更新: "+time.Unix(record.UpdatedAt, 0).In(a.loc).Format("2006-01-02 15:04"))
	}
	return a.Reply(ActionShow, strings.Join(lines, "\n")), nil
}

func (a *Agent) update(ctx context.Context, req agent.Request, in intent.Intent, ref time.Time) (*agent.Result, error) {
	id, _ := in.ID()
	args := in.Group("args")
	if args == "" {
		return a.Reject(ActionUpdate, fmt.Sprintf("変更する項目を「更新 #%d 項目=値」のように指定してください。", id)), nil
	}
	values, err := parseArgs(a.def, args, ref)
	if err != nil {
		return a.Reject(ActionUpdate, intent.UserMessage(err)), nil
	}

	found, err := a.store.Update(ctx, req.UserID, id, values, a.now().Unix())
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "更新记录失败", xerrors.WithMetadata("agent", a.Name()))
	}
	if !found {
		return a.Reject(ActionUpdate, fmt.Sprintf("#%d の記録は見つかりませんでした。", id)), nil
	}
	logger.Audit().Info("agent record updated", "agent", a.Name(), "table", a.def.Table, "id", id, "user_id", req.UserID)
	return a.Reply(ActionUpdate, fmt.Sprintf("#%d を更新しました: %s", id, a.summary(stringify(values)))), nil
}

func (a *Agent) delete(ctx context.Context, req agent.Request, in intent.Intent) (*agent.Result, error) {
	id, _ := in.ID()
	found, err := a.store.Delete(ctx, req.UserID, id)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "删除记录失败", xerrors.WithMetadata("agent", a.Name()))
	}
	if !found {
		return a.Reject(ActionDelete, fmt.Sprintf("#%d の記録は見つかりませんでした。", id)), nil
	}
	logger.Audit().Info("agent record deleted", "agent", a.Name(), "table", a.def.Table, "id", id, "user_id", req.UserID)
	return a.Reply(ActionDelete, fmt.Sprintf("#%d を削除しました。", id)), nil
}

// summary 按列顺序拼接 "label=value"。
func (a *Agent) summary(values map[string]string) string {
	parts := make([]string, 0, len(values))
	for _, col := range a.def.Columns {
		if value, ok := values[col.Name]; ok {
			parts = append(parts, col.DisplayName()+"="+value)
		}
	}
	return strings.Join(parts, " ")
}

func stringify(values map[string]any) map[string]string {
	out := make(map[string]string, len(values))
	for name, value := range values {
		switch v := value.(type) {
		case float64:
			out[name] = strconv.FormatFloat(v, 'f', -1, 64)
		default:
			out[name] = fmt.Sprint(v)
		}
	}
	return out
}

func (a *Agent) example() string {
	parts := []string{"例: `追加"}
	for _, col := range a.def.Columns {
		if col.Required {
			parts = append(parts, col.Name+"=…")
		}
	}
	if len(parts) == 1 {
		parts = append(parts, a.def.Columns[0].Name+"=…")
	}
	return strings.Join(parts, " ") + "`"
}

func usageFor(def Definition) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s エージェントの使い方:\n", def.Name)
	b.WriteString("• 追加: `追加 項目=値 …`（値に空白を含む場合は \"…\" か「…」で囲む）\n")
	b.WriteString("• 一覧: `一覧` / `一覧 20`\n")
	b.WriteString("• 表示: `表示 #3`\n")
	b.WriteString("• 更新: `更新 #3 項目=値 …`\n")
	b.WriteString("• 削除: `削除 #3`\n")
	b.WriteString("項目:")
	for _, col := range def.Columns {
		fmt.Fprintf(&b, "\n  %s (%s", col.Name, col.Type)
		if col.Label != "" {
			fmt.Fprintf(&b, "・%s", col.Label)
		}
		if col.Required {
			b.WriteString("・必須")
		}
		b.WriteString(")")
	}
	return b.String()
}
