package discord

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/bwmarrin/discordgo"

	"Kurashi-Agents/internal/dispatch"
	xerrors "Kurashi-Agents/internal/errors"
	"Kurashi-Agents/internal/observability/metrics"
	"Kurashi-Agents/internal/render"
	"Kurashi-Agents/pkg/logger"
)

// MessageLimit 是 Discord 单条消息的最大字符数。
const MessageLimit = 2000

const (
	rateLimitedReply = "メッセージが多すぎます。少し待ってからもう一度送ってください。"
	submitFailReply  = "すみません、メッセージを受け付けられませんでした。しばらくしてからもう一度お試しください。"
)

// Config 描述机器人的行为。
type Config struct {
	Token           string
	GuildID         string
	Channels        []string
	MentionChannels []string
	AllowDM         bool
	RatePerMinute   float64
	Burst           int
}

// Submitter 接收待处理的消息，通常由 dispatch.Service 实现。
type Submitter interface {
	Submit(ctx context.Context, msg dispatch.Message) (*dispatch.Job, error)
}

// Sender 是发送消息所需的 discordgo.Session 子集。
type Sender interface {
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelTyping(channelID string, options ...discordgo.RequestOption) error
}

// Bot 把 Discord 消息接入任务管道，并实现 dispatch.Responder。
type Bot struct {
	session   *discordgo.Session
	sender    Sender
	submitter Submitter
	filter    Filter
	limiter   *userLimiter
	log       *slog.Logger

	mu     sync.RWMutex
	ctx    context.Context
	selfID string
}

// New 创建机器人，但不会建立连接。
func New(cfg Config, submitter Submitter) (*Bot, error) {
	token := strings.TrimSpace(cfg.Token)
	if token == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "Discord 令牌为空")
	}
	if !strings.HasPrefix(token, "Bot ") {
		token = "Bot " + token
	}
	session, err := discordgo.New(token)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "创建 Discord 会话失败")
	}
	session.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsMessageContent

	bot := newBot(cfg, session, submitter)
	bot.session = session
	return bot, nil
}

func newBot(cfg Config, sender Sender, submitter Submitter) *Bot {
	return &Bot{
		sender:    sender,
		submitter: submitter,
		filter:    NewFilter(cfg.GuildID, cfg.Channels, cfg.MentionChannels, cfg.AllowDM),
		limiter:   newUserLimiter(cfg.RatePerMinute, cfg.Burst),
		log:       logger.Named("discord"),
		ctx:       context.Background(),
	}
}

// Run 连接 Discord 并阻塞直到 ctx 结束。
func (b *Bot) Run(ctx context.Context) error {
	if b.session == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "Discord 会话未初始化")
	}
	b.mu.Lock()
	b.ctx = ctx
	b.mu.Unlock()

	removeReady := b.session.AddHandler(func(_ *discordgo.Session, r *discordgo.Ready) {
		b.setSelf(r.User.ID)
		b.log.Info("Discord 已连接", slog.String("user", r.User.Username), slog.Int("guilds", len(r.Guilds)))
	})
	removeCreate := b.session.AddHandler(func(_ *discordgo.Session, m *discordgo.MessageCreate) {
		b.HandleMessage(m.Message)
	})
	defer removeReady()
	defer removeCreate()

	if err := b.session.Open(); err != nil {
		return xerrors.Wrap(xerrors.CodeTransportFailure, err, "连接 Discord 失败")
	}
	<-ctx.Done()
	if err := b.session.Close(); err != nil {
		b.log.Warn("关闭 Discord 会话失败", slog.Any("error", err))
	}
	return nil
}

func (b *Bot) setSelf(id string) {
	b.mu.Lock()
	b.selfID = id
	b.mu.Unlock()
}

func (b *Bot) state() (context.Context, string) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.ctx, b.selfID
}

// HandleMessage 过滤、限流并提交一条消息。
func (b *Bot) HandleMessage(msg *discordgo.Message) {
	ctx, selfID := b.state()
	text, ok := b.filter.Accept(msg, selfID)
	if !ok {
		return
	}
	if !b.limiter.Allow(msg.Author.ID) {
		metrics.RateLimited(dispatch.SourceDiscord)
		b.log.Debug("用户触发限流", slog.String("user_id", msg.Author.ID))
		b.reply(msg.ChannelID, msg.ID, rateLimitedReply)
		return
	}

	if err := b.sender.ChannelTyping(msg.ChannelID); err != nil {
		b.log.Debug("发送输入状态失败", slog.Any("error", err))
	}
	_, err := b.submitter.Submit(ctx, dispatch.Message{
		ID:         msg.ID,
		Source:     dispatch.SourceDiscord,
		UserID:     msg.Author.ID,
		ChannelID:  msg.ChannelID,
		Text:       text,
		ReceivedAt: msg.Timestamp,
	})
	if err != nil {
		b.log.Error("提交消息失败", slog.Any("error", err), slog.String("message_id", msg.ID))
		b.reply(msg.ChannelID, msg.ID, submitFailReply)
	}
}

// Deliver 实现 dispatch.Responder，把回复按 2000 字拆分后发送。
func (b *Bot) Deliver(_ context.Context, job *dispatch.Job) error {
	if job == nil || job.Reply == "" {
		return nil
	}
	for i, chunk := range render.Chunk(job.Reply, MessageLimit) {
		replyTo := ""
		if i == 0 {
			replyTo = job.ID
		}
		if err := b.send(job.ChannelID, replyTo, chunk); err != nil {
			return xerrors.Wrap(xerrors.CodeTransportFailure, err, "发送 Discord 回复失败",
				xerrors.WithMetadata("job_id", job.ID))
		}
	}
	return nil
}

func (b *Bot) reply(channelID, messageID, content string) {
	if err := b.send(channelID, messageID, content); err != nil {
		metrics.DeliveryFailed(dispatch.SourceDiscord)
		b.log.Warn("发送提示失败", slog.Any("error", err), slog.String("channel_id", channelID))
	}
}

func (b *Bot) send(channelID, replyTo, content string) error {
	data := &discordgo.MessageSend{
		Content:         content,
		AllowedMentions: &discordgo.MessageAllowedMentions{},
	}
	if replyTo != "" {
		data.Reference = &discordgo.MessageReference{MessageID: replyTo, ChannelID: channelID}
	}
	_, err := b.sender.ChannelMessageSendComplex(channelID, data)
	return err
}

var _ dispatch.Responder = (*Bot)(nil)
