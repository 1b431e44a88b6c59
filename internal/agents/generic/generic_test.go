package generic

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"Kurashi-Agents/internal/agent"
	xerrors "Kurashi-Agents/internal/errors"
	"Kurashi-Agents/internal/storage/sqlite"
)

var (
	jst = time.FixedZone("JST", 9*3600)
	ref = time.Date(2024, 5, 15, 12, 0, 0, 0, jst)
)

const booksYAML = `
agents:
  - name: books
    description: 読書記録
    aliases: [本, 読書]
    columns:
      - name: title
        label: タイトル
        required: true
        max: 20
      - name: pages
        type: int
        min: 1
        max: 5000
      - name: rating
        type: real
        min: 0
        max: 5
      - name: finished_on
        type: date
`

func openDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sqlite.Open(context.Background(), sqlite.Config{Path: filepath.Join(t.TempDir(), "generic.db")})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func newBooks(t *testing.T) *Agent {
	t.Helper()
	defs, err := ParseDefinitions([]byte(booksYAML))
	require.NoError(t, err)
	require.Len(t, defs, 1)

	ag, err := New(context.Background(), openDB(t), defs[0], jst)
	require.NoError(t, err)
	ag.now = func() time.Time { return ref }
	return ag
}

func send(t *testing.T, ag *Agent, user, text string) *agent.Result {
	t.Helper()
	result, err := ag.Handle(context.Background(), agent.Request{UserID: user, Text: text, ReceivedAt: ref})
	require.NoError(t, err)
	require.NotNil(t, result)
	return result
}

func TestParseDefinitionsDefaults(t *testing.T) {
	defs, err := ParseDefinitions([]byte(booksYAML))
	require.NoError(t, err)

	def := defs[0]
	assert.Equal(t, "books", def.Table)
	assert.Equal(t, TypeText, def.Columns[0].Type)
	assert.Equal(t, "タイトル", def.Columns[0].DisplayName())
	assert.Equal(t, "pages", def.Columns[1].DisplayName())

	col, ok := def.TextColumn()
	require.True(t, ok)
	assert.Equal(t, "title", col.Name)
}

func TestParseDefinitionsRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"bad name":        "agents:\n  - name: Books\n    columns: [{name: title}]\n",
		"reserved column": "agents:\n  - name: books\n    columns: [{name: user_id}]\n",
		"reserved table":  "agents:\n  - name: books\n    table: meals\n    columns: [{name: title}]\n",
		"no columns":      "agents:\n  - name: books\n",
		"duplicate":       "agents:\n  - name: books\n    columns: [{name: title}]\n  - name: books\n    table: other\n    columns: [{name: title}]\n",
		"shared table":    "agents:\n  - name: a\n    table: t\n    columns: [{name: x}]\n  - name: b\n    table: t\n    columns: [{name: x}]\n",
		"bad type":        "agents:\n  - name: books\n    columns: [{name: title, type: blob}]\n",
		"min over max":    "agents:\n  - name: books\n    columns: [{name: n, type: int, min: 5, max: 1}]\n",
		"yaml":            "agents: [",
	}
	for name, content := range cases {
		_, err := ParseDefinitions([]byte(content))
		require.Error(t, err, name)
		assert.True(t, xerrors.HasCode(err, xerrors.CodeInvalidArgument), name)
	}
}

func TestEnsureTableAddsColumns(t *testing.T) {
	ctx := context.Background()
	db := openDB(t)

	v1 := Definition{Name: "plants", Table: "plants", Columns: []Column{{Name: "name", Type: TypeText, Required: true}}}
	require.NoError(t, EnsureTable(ctx, db, v1))
	id, err := NewStore(db, v1).Insert(ctx, "u1", map[string]any{"name": "モンステラ"}, ref.Unix())
	require.NoError(t, err)

	v2 := v1
	v2.Columns = append(append([]Column(nil), v1.Columns...), Column{Name: "watered_on", Type: TypeDate})
	require.NoError(t, EnsureTable(ctx, db, v2))
	require.NoError(t, EnsureTable(ctx, db, v2))

	columns, err := tableColumns(ctx, db, "plants")
	require.NoError(t, err)
	assert.Contains(t, columns, "watered_on")

	record, err := NewStore(db, v2).Get(ctx, "u1", id)
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.Equal(t, map[string]string{"name": "モンステラ"}, record.Fields)
}

func TestAddAndShow(t *testing.T) {
	ag := newBooks(t)

	result := send(t, ag, "u1", `追加 title="星の王子さま" pages=120 rating=4.5 finished_on=昨日`)
	assert.False(t, result.Rejected, result.Reply)
	assert.Equal(t, ActionAdd, result.Action)
	assert.Equal(t, "#1 を登録しました: タイトル=星の王子さま pages=120 rating=4.5 finished_on=2024-05-14", result.Reply)

	result = send(t, ag, "u1", "ノルウェイの森 pages:300")
	assert.Equal(t, "#2 を登録しました: タイトル=ノルウェイの森 pages=300", result.Reply)

	result = send(t, ag, "u1", "add title=「こころ」")
	assert.Equal(t, "#3 を登録しました: タイトル=こころ", result.Reply)

	result = send(t, ag, "u1", "表示 #1")
	assert.Equal(t, ActionShow, result.Action)
	assert.Contains(t, result.Reply, "タイトル: 星の王子さま")
	assert.Contains(t, result.Reply, "rating: 4.5")
	assert.Contains(t, result.Reply, "finished_on: 2024-05-14")
	assert.Contains(t, result.Reply, "登録: 2024-05-15 12:00")

	result = send(t, ag, "u1", "show 2")
	assert.Contains(t, result.Reply, "rating: -")

	result = send(t, ag, "u2", "表示 #1")
	assert.True(t, result.Rejected)
}

func TestAddRejections(t *testing.T) {
	ag := newBooks(t)

	cases := map[string]string{
		"登録 title=x pages=abc":          "pagesは整数で指定してください",
		"add title=x pages=0":           "pagesは1〜5000の範囲で指定してください",
		"add title=x rating=9.5":        "ratingは0〜5の範囲で指定してください",
		"add title=x color=red":         "「color」という項目はありません",
		"add pages=10":                  "タイトルを入力してください",
		"add title=x finished_on=いつか":   "finished_onは日付",
		"add title=x title=y":           "タイトルが2回指定されています",
		"add 吾輩は猫である・夏目漱石の代表作として名高い長編小説": "タイトルは20文字以内",
		"追加":                            "books エージェントの使い方",
	}
	for text, want := range cases {
		result := send(t, ag, "u1", text)
		assert.True(t, result.Rejected, text)
		assert.Contains(t, result.Reply, want, text)
	}

	records, err := ag.store.Recent(context.Background(), "u1", 10)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestAddKeepsProseWithColons(t *testing.T) {
	ag := newBooks(t)

	result := send(t, ag, "u1", "add https://go.dev/doc")
	assert.False(t, result.Rejected, result.Reply)
	assert.Equal(t, "#1 を登録しました: タイトル=https://go.dev/doc", result.Reply)

	result = send(t, ag, "u1", "add Note: 牛乳 pages=2")
	assert.False(t, result.Rejected, result.Reply)
	assert.Equal(t, "#2 を登録しました: タイトル=Note 牛乳 pages=2", result.Reply)
}

func TestListUpdateDelete(t *testing.T) {
	ag := newBooks(t)
	for _, title := range []string{"一", "二", "三"} {
		send(t, ag, "u1", "add title="+title)
	}
	send(t, ag, "u2", "add title=他人の本")

	result := send(t, ag, "u1", "一覧")
	assert.Equal(t, ActionList, result.Action)
	assert.Contains(t, result.Reply, "直近3件（全3件）")
	assert.NotContains(t, result.Reply, "他人の本")

	result = send(t, ag, "u1", "list 2")
	assert.Contains(t, result.Reply, "直近2件（全3件）")

	result = send(t, ag, "u1", "更新 #1 rating=5 pages=10")
	assert.False(t, result.Rejected, result.Reply)
	assert.Equal(t, "#1 を更新しました: pages=10 rating=5", result.Reply)

	result = send(t, ag, "u1", "更新 #1")
	assert.True(t, result.Rejected)
	result = send(t, ag, "u2", "更新 #1 rating=1")
	assert.True(t, result.Rejected)
	assert.Contains(t, result.Reply, "#1 の記録は見つかりませんでした")

	result = send(t, ag, "u1", "表示 #1")
	assert.Contains(t, result.Reply, "rating: 5")
	assert.Contains(t, result.Reply, "pages: 10")

	result = send(t, ag, "u2", "削除 #1")
	assert.True(t, result.Rejected)
	result = send(t, ag, "u1", "削除 #1")
	assert.False(t, result.Rejected)
	assert.Equal(t, "#1 を削除しました。", result.Reply)

	result = send(t, ag, "u3", "一覧")
	assert.Contains(t, result.Reply, "まだ記録がありません")
}

type stubAgent struct {
	agent.Meta
}

func (stubAgent) Handle(context.Context, agent.Request) (*agent.Result, error) {
	return &agent.Result{}, nil
}

func TestLoaderReload(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "agents.yaml")
	require.NoError(t, os.WriteFile(path, []byte(booksYAML), 0o644))

	registry := agent.NewRegistry()
	require.NoError(t, registry.Register(stubAgent{Meta: agent.NewMeta("diet", "食事", "食事")}))

	loader := NewLoader(path, openDB(t), jst, registry)
	require.NoError(t, loader.Reload(ctx))

	ag, ok := registry.Lookup("本")
	require.True(t, ok)
	assert.Equal(t, "books", ag.Name())
	assert.Equal(t, 2, registry.Len())

	// 解析失败时保留已加载的智能体。
	require.NoError(t, os.WriteFile(path, []byte("agents: ["), 0o644))
	require.Error(t, loader.Reload(ctx))
	_, ok = registry.Lookup("books")
	assert.True(t, ok)

	// 与内置智能体同名时整体失败。
	clash := "agents:\n  - name: plants\n    columns: [{name: name}]\n  - name: diet\n    table: diet_log\n    columns: [{name: food}]\n"
	require.NoError(t, os.WriteFile(path, []byte(clash), 0o644))
	err := loader.Reload(ctx)
	require.Error(t, err)
	assert.True(t, xerrors.HasCode(err, xerrors.CodeConflict))
	_, ok = registry.Lookup("plants")
	assert.False(t, ok)

	plants := "agents:\n  - name: plants\n    aliases: [植物]\n    columns: [{name: name, required: true}]\n"
	require.NoError(t, os.WriteFile(path, []byte(plants), 0o644))
	require.NoError(t, loader.Reload(ctx))
	_, ok = registry.Lookup("books")
	assert.False(t, ok)
	_, ok = registry.Lookup("植物")
	assert.True(t, ok)
	_, ok = registry.Lookup("食事")
	assert.True(t, ok)
}
