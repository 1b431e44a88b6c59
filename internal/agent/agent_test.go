package agent

import (
	"context"
	"strings"
	"testing"
	"time"

	xerrors "Kurashi-Agents/internal/errors"
)

type stubAgent struct {
	name    string
	aliases []string
	last    Request
	calls   int
}

func (s *stubAgent) Name() string        { return s.name }
func (s *stubAgent) Description() string { return s.name + " agent" }
func (s *stubAgent) Aliases() []string   { return s.aliases }

func (s *stubAgent) Handle(_ context.Context, req Request) (*Result, error) {
	s.calls++
	s.last = req
	return &Result{Action: "echo", Reply: req.Text}, nil
}

func newTestRouter(t *testing.T, opts ...RouterOption) (*Router, *stubAgent, *stubAgent) {
	t.Helper()
	diet := &stubAgent{name: "diet", aliases: []string{"食事", "meal"}}
	journal := &stubAgent{name: "journal", aliases: []string{"日記"}}
	reg := NewRegistry()
	if err := reg.Register(diet, journal); err != nil {
		t.Fatalf("register: %v", err)
	}
	return NewRouter(reg, opts...), diet, journal
}

func TestRegistryRejectsConflicts(t *testing.T) {
	reg := NewRegistry()
	if err := reg.Register(&stubAgent{name: "diet", aliases: []string{"meal", "meal"}}); err != nil {
		t.Fatalf("register: %v", err)
	}
	err := reg.Register(&stubAgent{name: "food", aliases: []string{"MEAL"}})
	if !xerrors.HasCode(err, xerrors.CodeConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if _, ok := reg.Lookup("food"); ok {
		t.Fatalf("failed registration must not leave partial state")
	}
	if err := reg.Register(&stubAgent{name: "Meal"}); !xerrors.HasCode(err, xerrors.CodeConflict) {
		t.Fatalf("expected name/alias conflict, got %v", err)
	}
}

func TestRegistryReplaceGroup(t *testing.T) {
	reg := NewRegistry()
	if err := reg.Register(&stubAgent{name: "diet"}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := reg.Replace("defs", []Agent{&stubAgent{name: "books", aliases: []string{"本"}}}); err != nil {
		t.Fatalf("replace: %v", err)
	}
	if _, ok := reg.Lookup("本"); !ok {
		t.Fatalf("expected alias lookup to succeed")
	}

	if err := reg.Replace("defs", []Agent{&stubAgent{name: "plants"}}); err != nil {
		t.Fatalf("replace: %v", err)
	}
	if _, ok := reg.Lookup("books"); ok {
		t.Fatalf("books should have been removed by replace")
	}
	if _, ok := reg.Lookup("本"); ok {
		t.Fatalf("alias of removed agent should be gone")
	}

	// 与内置智能体冲突时整体失败，原分组保持不变。
	if err := reg.Replace("defs", []Agent{&stubAgent{name: "diet"}}); err == nil {
		t.Fatalf("expected conflict with builtin agent")
	}
	if _, ok := reg.Lookup("plants"); !ok {
		t.Fatalf("failed replace must keep previous group")
	}

	infos := reg.List()
	if len(infos) != 2 || infos[0].Name != "diet" || infos[1].Group != "defs" {
		t.Fatalf("unexpected list: %+v", infos)
	}

	if _, err := reg.Get("unknown"); !xerrors.HasCode(err, CodeAgentNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestRouterPrefixes(t *testing.T) {
	router, diet, journal := newTestRouter(t)
	ctx := context.Background()

	cases := []struct {
		text  string
		agent *stubAgent
		body  string
	}{
		{"!diet 朝食 パン", diet, "朝食 パン"},
		{"！食事　昼 うどん", diet, "昼 うどん"},
		{"journal: 今日は晴れ", journal, "今日は晴れ"},
		{"日記：散歩した", journal, "散歩した"},
		{"!meal", diet, "help"},
	}
	for _, tc := range cases {
		result, err := router.Handle(ctx, Request{UserID: "u1", Text: tc.text})
		if err != nil {
			t.Fatalf("%q: unexpected error: %v", tc.text, err)
		}
		if tc.agent.last.Text != tc.body {
			t.Fatalf("%q: expected body %q, got %q", tc.text, tc.body, tc.agent.last.Text)
		}
		if result.Agent != tc.agent.name {
			t.Fatalf("%q: expected agent %s, got %s", tc.text, tc.agent.name, result.Agent)
		}
	}
}

func TestRouterChannelAndDefault(t *testing.T) {
	loc := time.FixedZone("JST", 9*3600)
	fixed := time.Date(2024, 5, 15, 1, 0, 0, 0, time.UTC)
	router, diet, journal := newTestRouter(t,
		WithChannelRoutes(map[string]string{"c-journal": "journal"}),
		WithDefaultAgent("diet"),
		WithLocation(loc),
		WithClock(func() time.Time { return fixed }),
	)
	ctx := context.Background()

	if _, err := router.Handle(ctx, Request{ChannelID: "c-journal", Text: "気分:良い 散歩"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if journal.calls != 1 || journal.last.Text != "気分:良い 散歩" {
		t.Fatalf("expected channel route to journal, got %+v", journal.last)
	}
	if journal.last.ReceivedAt.Location() != loc {
		t.Fatalf("expected request time in configured location")
	}
	if !journal.last.ReceivedAt.Equal(fixed) {
		t.Fatalf("expected clock time, got %v", journal.last.ReceivedAt)
	}

	if _, err := router.Handle(ctx, Request{ChannelID: "other", Text: "夕食 カレー"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if diet.calls != 1 {
		t.Fatalf("expected default agent to handle message")
	}
}

func TestRouterDirectory(t *testing.T) {
	router, diet, _ := newTestRouter(t)
	ctx := context.Background()

	result, err := router.Handle(ctx, Request{Text: "help"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Rejected || !strings.Contains(result.Reply, "• diet (食事, meal)") {
		t.Fatalf("unexpected directory: %+v", result)
	}

	result, err = router.Handle(ctx, Request{Text: "!books 追加"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Rejected || !strings.Contains(result.Reply, "「books」") {
		t.Fatalf("expected unknown agent rejection, got %+v", result)
	}

	result, err = router.Handle(ctx, Request{Text: "朝ごはん食べた"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Rejected || result.Action != "directory" {
		t.Fatalf("expected unresolved message to be rejected with directory, got %+v", result)
	}
	if diet.calls != 0 {
		t.Fatalf("no agent should be called without a route")
	}

	if _, err := router.Handle(ctx, Request{Text: "   "}); !xerrors.HasCode(err, CodeEmptyMessage) {
		t.Fatalf("expected empty message error, got %v", err)
	}
}
