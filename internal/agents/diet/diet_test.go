package diet

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"Kurashi-Agents/internal/agent"
	"Kurashi-Agents/internal/intent"
	"Kurashi-Agents/internal/storage/sqlite"
)

var jst = time.FixedZone("JST", 9*3600)

// 2024-05-15 是星期三。
var ref = time.Date(2024, 5, 15, 12, 0, 0, 0, jst)

func newTestAgent(t *testing.T) *Agent {
	t.Helper()
	ctx := context.Background()
	db, err := sqlite.Open(ctx, sqlite.Config{Path: filepath.Join(t.TempDir(), "diet.db")})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	ag, err := New(ctx, db, jst)
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

func TestRecordMeal(t *testing.T) {
	ag := newTestAgent(t)

	result := send(t, ag, "u1", "朝食 トースト 300kcal")
	assert.False(t, result.Rejected, result.Reply)
	assert.Equal(t, ActionRecord, result.Action)
	assert.Equal(t, "#1 2024-05-15 の朝食「トースト」（300kcal）を記録しました。", result.Reply)

	result = send(t, ag, "u1", "昨日の夕食 カレーライス")
	assert.False(t, result.Rejected, result.Reply)
	assert.Equal(t, "#2 2024-05-14 の夕食「カレーライス」を記録しました。", result.Reply)

	meals, err := ag.store.ListMeals(context.Background(), "u1", periodOf(t, "今週"))
	require.NoError(t, err)
	require.Len(t, meals, 2)
	assert.Equal(t, "dinner", meals[0].MealType)
	assert.False(t, meals[0].Calories.Valid)
	assert.Equal(t, int64(300), meals[1].Calories.Int64)
}

func TestRecordMealRejections(t *testing.T) {
	ag := newTestAgent(t)

	cases := map[string]string{
		"トースト 300kcal":       "食事の種類",
		"朝食 300kcal":          "食べたもの",
		"ランチ ラーメン 20000kcal": "カロリーは0〜10000",
		"ランチ ケーキ 100000kcal": "カロリーは0〜10000",
	}
	for text, want := range cases {
		result := send(t, ag, "u1", text)
		assert.True(t, result.Rejected, text)
		assert.Contains(t, result.Reply, want, text)
	}
}

func TestRecordFoodStartingWithKana(t *testing.T) {
	ag := newTestAgent(t)

	result := send(t, ag, "u1", "朝にんじん")
	assert.False(t, result.Rejected, result.Reply)
	assert.Contains(t, result.Reply, "「にんじん」")
}

func TestListAndSummary(t *testing.T) {
	ag := newTestAgent(t)
	send(t, ag, "u1", "朝食 トースト 300kcal")
	send(t, ag, "u1", "ランチ そば 450kcal")
	send(t, ag, "u1", "おやつ せんべい")
	send(t, ag, "u1", "昨日 夕食 寿司 800kcal")
	send(t, ag, "u2", "夕食 他人の記録 999kcal")

	result := send(t, ag, "u1", "一覧")
	assert.Equal(t, ActionList, result.Action)
	assert.Contains(t, result.Reply, "2024-05-15 の食事（3件・合計 750kcal）")
	assert.Contains(t, result.Reply, "せんべい")
	assert.NotContains(t, result.Reply, "寿司")
	assert.NotContains(t, result.Reply, "他人の記録")

	result = send(t, ag, "u1", "昨日の食事")
	assert.Equal(t, ActionList, result.Action)
	assert.Contains(t, result.Reply, "寿司")

	result = send(t, ag, "u1", "集計 今週")
	assert.Equal(t, ActionSummary, result.Action)
	assert.Contains(t, result.Reply, "2024-05-13〜2024-05-19 の集計（4件）")
	assert.Contains(t, result.Reply, "合計: 1550kcal（1日平均 221kcal）")
	assert.Contains(t, result.Reply, "カロリー未入力: 1件")

	result = send(t, ag, "u1", "集計 先月")
	assert.Contains(t, result.Reply, "の食事記録はありません")
}

func TestDeleteMealIsScopedToUser(t *testing.T) {
	ag := newTestAgent(t)
	send(t, ag, "u1", "朝食 トースト")

	result := send(t, ag, "u2", "削除 #1")
	assert.True(t, result.Rejected)
	assert.Contains(t, result.Reply, "#1 の記録は見つかりませんでした")

	result = send(t, ag, "u1", "#1を削除")
	assert.False(t, result.Rejected, result.Reply)
	assert.Equal(t, ActionDelete, result.Action)

	result = send(t, ag, "u1", "delete 1")
	assert.True(t, result.Rejected)
}

func TestWeight(t *testing.T) {
	ag := newTestAgent(t)

	result := send(t, ag, "u1", "体重 昨日 65.5kg")
	assert.False(t, result.Rejected, result.Reply)
	assert.Equal(t, "2024-05-14 の体重を 65.5kg で記録しました。", result.Reply)

	result = send(t, ag, "u1", "体重 65.2")
	assert.Equal(t, "2024-05-15 の体重を 65.2kg で記録しました。（2024-05-14 から -0.3kg）", result.Reply)

	// 同一天再次记录会覆盖。
	send(t, ag, "u1", "weight 64.9kg")
	weights, err := ag.store.RecentWeights(context.Background(), "u1", 10)
	require.NoError(t, err)
	require.Len(t, weights, 2)
	assert.InDelta(t, 64.9, weights[1].WeightKg, 0.001)

	for _, text := range []string{"体重 500kg", "体重 1000kg", "体重 1000"} {
		result = send(t, ag, "u1", text)
		assert.True(t, result.Rejected, text)
		assert.Contains(t, result.Reply, "体重は20〜300", text)
	}
	weights, err = ag.store.RecentWeights(context.Background(), "u1", 10)
	require.NoError(t, err)
	assert.Len(t, weights, 2)

	result = send(t, ag, "u1", "体重は？")
	assert.True(t, result.Rejected)

	result = send(t, ag, "u1", "体重の推移")
	assert.Equal(t, ActionWeights, result.Action)
	assert.Contains(t, result.Reply, "直近2件の体重")
	assert.Contains(t, result.Reply, "期間の変化: -0.6kg")
}

func TestHelp(t *testing.T) {
	ag := newTestAgent(t)
	result := send(t, ag, "u1", "ヘルプ")
	assert.Equal(t, ActionHelp, result.Action)
	assert.True(t, strings.HasPrefix(result.Reply, "食事・体重エージェントの使い方"))
	assert.ElementsMatch(t, []string{"食事", "ごはん", "meal"}, ag.Aliases())
}

func periodOf(t *testing.T, text string) intent.Period {
	t.Helper()
	return resolvePeriod(text, ref)
}
