package alerting

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/bwmarrin/discordgo"

	xerrors "Kurashi-Agents/internal/errors"
)

type fakeWebhook struct {
	calls  []*discordgo.WebhookParams
	ids    []string
	failed bool
}

func (f *fakeWebhook) WebhookExecute(webhookID, _ string, _ bool, data *discordgo.WebhookParams, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	if f.failed {
		return nil, errors.New("boom")
	}
	f.ids = append(f.ids, webhookID)
	f.calls = append(f.calls, data)
	return nil, nil
}

type recordingNotifier struct {
	channel Channel
	events  []Event
	err     error
}

func (r *recordingNotifier) Channel() Channel { return r.channel }

func (r *recordingNotifier) Notify(_ context.Context, event Event) error {
	r.events = append(r.events, event)
	return r.err
}

func TestParseWebhookURL(t *testing.T) {
	id, token, err := ParseWebhookURL("https://discord.com/api/webhooks/123/abc-DEF")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if id != "123" || token != "abc-DEF" {
		t.Fatalf("unexpected id/token: %s %s", id, token)
	}
	for _, raw := range []string{"", "not a url", "https://discord.com/api/webhooks/123"} {
		if _, _, err := ParseWebhookURL(raw); err == nil {
			t.Fatalf("expected error for %q", raw)
		}
	}
}

func TestDiscordNotifierSeverityFilter(t *testing.T) {
	hook := &fakeWebhook{}
	n := &DiscordNotifier{Executor: hook, WebhookID: "1", Token: "t", MinSeverity: xerrors.SeverityWarning}

	if err := n.Notify(context.Background(), Event{Code: "X", Severity: xerrors.SeverityInfo}); err != nil {
		t.Fatalf("notify info: %v", err)
	}
	if len(hook.calls) != 0 {
		t.Fatalf("info event should be filtered")
	}

	event := Event{
		Code:     xerrors.CodeStorageFailure,
		Severity: xerrors.SeverityCritical,
		JobID:    "job-1",
		Message:  "disk full",
		Metadata: map[string]string{"stage": "terminal"},
	}
	if err := n.Notify(context.Background(), event); err != nil {
		t.Fatalf("notify critical: %v", err)
	}
	if len(hook.calls) != 1 {
		t.Fatalf("expected one webhook call, got %d", len(hook.calls))
	}
	content := hook.calls[0].Content
	for _, want := range []string{"STORAGE_FAILURE", "job-1", "disk full", "stage: terminal"} {
		if !strings.Contains(content, want) {
			t.Fatalf("content %q missing %q", content, want)
		}
	}

	hook.failed = true
	err := n.Notify(context.Background(), event)
	if !xerrors.HasCode(err, xerrors.CodeTransportFailure) {
		t.Fatalf("expected transport failure, got %v", err)
	}
}

func TestFanoutJoinsErrors(t *testing.T) {
	ok := &recordingNotifier{channel: ChannelLog}
	bad := &recordingNotifier{channel: ChannelDiscord, err: errors.New("down")}
	fanout := NewFanout(ok, bad, nil)

	err := fanout.Notify(context.Background(), Event{Code: "X"})
	if err == nil || !strings.Contains(err.Error(), "channel discord") {
		t.Fatalf("expected joined error, got %v", err)
	}
	if len(ok.events) != 1 || len(bad.events) != 1 {
		t.Fatalf("every notifier should receive the event")
	}

	var nilFanout *FanoutDispatcher
	if err := nilFanout.Notify(context.Background(), Event{}); err != nil {
		t.Fatalf("nil dispatcher should be a no-op: %v", err)
	}
}
