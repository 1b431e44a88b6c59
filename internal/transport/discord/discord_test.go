package discord

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"Kurashi-Agents/internal/dispatch"
)

const selfID = "999"

type fakeSender struct {
	mu   sync.Mutex
	sent []*discordgo.MessageSend
	fail error
}

func (f *fakeSender) ChannelMessageSendComplex(_ string, data *discordgo.MessageSend, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return nil, f.fail
	}
	f.sent = append(f.sent, data)
	return &discordgo.Message{}, nil
}

func (f *fakeSender) ChannelTyping(string, ...discordgo.RequestOption) error { return nil }

type fakeSubmitter struct {
	messages []dispatch.Message
	err      error
}

func (f *fakeSubmitter) Submit(_ context.Context, msg dispatch.Message) (*dispatch.Job, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.messages = append(f.messages, msg)
	return &dispatch.Job{ID: msg.ID}, nil
}

func message(channel, guild, content string, mentions ...*discordgo.User) *discordgo.Message {
	return &discordgo.Message{
		ID:        "m-" + channel,
		ChannelID: channel,
		GuildID:   guild,
		Content:   content,
		Author:    &discordgo.User{ID: "u1"},
		Mentions:  mentions,
		Timestamp: time.Date(2024, 5, 15, 12, 0, 0, 0, time.UTC),
	}
}

func TestFilterAccept(t *testing.T) {
	filter := NewFilter("g1", []string{"direct"}, []string{"mention"}, true)
	self := &discordgo.User{ID: selfID}

	cases := []struct {
		name string
		msg  *discordgo.Message
		want string
		ok   bool
	}{
		{"direct channel", message("direct", "g1", "朝食 トースト"), "朝食 トースト", true},
		{"direct channel strips mention", message("direct", "g1", "<@999> 体重 65kg", self), "体重 65kg", true},
		{"mention channel without mention", message("mention", "g1", "体重 65kg"), "", false},
		{"mention channel with mention", message("mention", "g1", "<@!999> 日記 散歩した"), "日記 散歩した", true},
		{"unlisted channel", message("other", "g1", "<@999> hi", self), "", false},
		{"other guild", message("direct", "g2", "hi"), "", false},
		{"dm", message("dm", "", "ヘルプ"), "ヘルプ", true},
		{"mention only", message("mention", "g1", "<@999>", self), "", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := filter.Accept(tc.msg, selfID)
			assert.Equal(t, tc.ok, ok)
			assert.Equal(t, tc.want, got)
		})
	}

	bot := message("direct", "g1", "hi")
	bot.Author.Bot = true
	_, ok := filter.Accept(bot, selfID)
	assert.False(t, ok)

	own := message("direct", "g1", "hi")
	own.Author.ID = selfID
	_, ok = filter.Accept(own, selfID)
	assert.False(t, ok)

	noDM := NewFilter("", nil, nil, false)
	_, ok = noDM.Accept(message("dm", "", "hi"), selfID)
	assert.False(t, ok)
	text, ok := noDM.Accept(message("any", "g9", "<@999> 一覧", self), selfID)
	assert.True(t, ok)
	assert.Equal(t, "一覧", text)
}

func TestHandleMessageSubmitsAndLimits(t *testing.T) {
	sender := &fakeSender{}
	submitter := &fakeSubmitter{}
	b := newBot(Config{Channels: []string{"c1"}, RatePerMinute: 1, Burst: 2}, sender, submitter)
	b.setSelf(selfID)

	for i := 0; i < 3; i++ {
		b.HandleMessage(message("c1", "g1", "朝食 トースト"))
	}
	require.Len(t, submitter.messages, 2)
	got := submitter.messages[0]
	assert.Equal(t, "m-c1", got.ID)
	assert.Equal(t, dispatch.SourceDiscord, got.Source)
	assert.Equal(t, "u1", got.UserID)
	assert.Equal(t, "c1", got.ChannelID)
	assert.Equal(t, "朝食 トースト", got.Text)
	assert.False(t, got.ReceivedAt.IsZero())

	require.Len(t, sender.sent, 1)
	assert.Equal(t, rateLimitedReply, sender.sent[0].Content)
	assert.Equal(t, "m-c1", sender.sent[0].Reference.MessageID)
}

func TestHandleMessageSubmitFailure(t *testing.T) {
	sender := &fakeSender{}
	b := newBot(Config{Channels: []string{"c1"}}, sender, &fakeSubmitter{err: errors.New("queue down")})
	b.HandleMessage(message("c1", "g1", "hi"))
	require.Len(t, sender.sent, 1)
	assert.Equal(t, submitFailReply, sender.sent[0].Content)
}

func TestDeliverSplitsLongReplies(t *testing.T) {
	sender := &fakeSender{}
	b := newBot(Config{}, sender, &fakeSubmitter{})

	line := strings.Repeat("あ", 90)
	reply := strings.TrimSuffix(strings.Repeat(line+"\n", 40), "\n")
	require.NoError(t, b.Deliver(context.Background(), &dispatch.Job{ID: "m1", ChannelID: "c1", Reply: reply}))

	require.Greater(t, len(sender.sent), 1)
	assert.Equal(t, "m1", sender.sent[0].Reference.MessageID)
	for i, msg := range sender.sent {
		assert.LessOrEqual(t, len([]rune(msg.Content)), MessageLimit)
		if i > 0 {
			assert.Nil(t, msg.Reference)
		}
	}

	require.NoError(t, b.Deliver(context.Background(), &dispatch.Job{ID: "m2"}))

	sender.fail = errors.New("forbidden")
	assert.Error(t, b.Deliver(context.Background(), &dispatch.Job{ID: "m3", ChannelID: "c1", Reply: "ok"}))
}

func TestUserLimiterEvictsIdleUsers(t *testing.T) {
	l := newUserLimiter(60, 1)
	now := time.Date(2024, 5, 15, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	assert.True(t, l.Allow("a"))
	assert.False(t, l.Allow("a"))

	now = now.Add(time.Hour)
	assert.True(t, l.Allow("b"))
	_, ok := l.limiters["a"]
	assert.False(t, ok)
}
