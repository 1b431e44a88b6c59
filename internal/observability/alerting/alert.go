package alerting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	xerrors "Kurashi-Agents/internal/errors"
	"Kurashi-Agents/pkg/logger"
)

// Channel 表示通知渠道。
type Channel string

// 支持的通知渠道
const (
	ChannelLog     Channel = "log"
	ChannelDiscord Channel = "discord"
)

// Event 描述一次需要告警的事件。
type Event struct {
	Code       xerrors.Code
	Message    string
	Severity   xerrors.Severity
	JobID      string
	Attempts   int
	MaxRetries int
	Metadata   map[string]string
	OccurredAt time.Time
}

// Notifier 负责将事件发送到指定渠道。
type Notifier interface {
	Channel() Channel
	Notify(ctx context.Context, event Event) error
}

// Dispatcher 将事件广播给多个通知器。
type Dispatcher interface {
	Notify(ctx context.Context, event Event) error
}

// FanoutDispatcher 实现将事件投递到多个通知器的逻辑。
type FanoutDispatcher struct {
	notifiers map[Channel]Notifier
}

// NewFanout 创建一个新的 FanoutDispatcher。
func NewFanout(notifiers ...Notifier) *FanoutDispatcher {
	set := make(map[Channel]Notifier, len(notifiers))
	for _, n := range notifiers {
		if n == nil {
			continue
		}
		set[n.Channel()] = n
	}
	return &FanoutDispatcher{notifiers: set}
}

// Notify 将事件广播至所有注册渠道。
func (d *FanoutDispatcher) Notify(ctx context.Context, event Event) error {
	if d == nil {
		return nil
	}
	var errs []error
	for _, notifier := range d.notifiers {
		if err := notifier.Notify(ctx, event); err != nil {
			errs = append(errs, fmt.Errorf("channel %s: %w", notifier.Channel(), err))
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// LogNotifier 将告警写入日志。
type LogNotifier struct {
	Logger *slog.Logger
}

// Channel 返回日志渠道。
func (n *LogNotifier) Channel() Channel { return ChannelLog }

// Notify 写一条错误级别日志。
func (n *LogNotifier) Notify(_ context.Context, event Event) error {
	l := logger.Named("alerting")
	if n != nil && n.Logger != nil {
		l = n.Logger
	}
	attrs := []any{
		slog.String("code", string(event.Code)),
		slog.String("severity", string(event.Severity)),
		slog.String("job_id", event.JobID),
		slog.Int("attempts", event.Attempts),
		slog.Int("max_retries", event.MaxRetries),
	}
	for _, key := range sortedKeys(event.Metadata) {
		attrs = append(attrs, slog.String(key, event.Metadata[key]))
	}
	l.Error(event.Message, attrs...)
	return nil
}

// WebhookExecutor 是 discordgo.Session 中执行 Webhook 的能力。
type WebhookExecutor interface {
	WebhookExecute(webhookID, token string, wait bool, data *discordgo.WebhookParams, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// DiscordNotifier 通过 Discord Webhook 发送告警。
type DiscordNotifier struct {
	Executor    WebhookExecutor
	WebhookID   string
	Token       string
	Username    string
	MinSeverity xerrors.Severity
}

// NewDiscordNotifier 根据 Webhook URL 创建通知器。
func NewDiscordNotifier(webhookURL string, minSeverity xerrors.Severity) (*DiscordNotifier, error) {
	id, token, err := ParseWebhookURL(webhookURL)
	if err != nil {
		return nil, err
	}
	session, err := discordgo.New("")
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "创建 Discord 会话失败")
	}
	return &DiscordNotifier{
		Executor:    session,
		WebhookID:   id,
		Token:       token,
		Username:    "kurashi-alerts",
		MinSeverity: minSeverity,
	}, nil
}

// ParseWebhookURL 从 https://discord.com/api/webhooks/{id}/{token} 中解析 ID 与 token。
func ParseWebhookURL(raw string) (string, string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return "", "", xerrors.New(xerrors.CodeInvalidArgument, "Webhook URL 不合法")
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	for i := 0; i+2 < len(parts); i++ {
		if parts[i] == "webhooks" && parts[i+1] != "" && parts[i+2] != "" {
			return parts[i+1], parts[i+2], nil
		}
	}
	return "", "", xerrors.New(xerrors.CodeInvalidArgument, "Webhook URL 缺少 ID 或 token")
}

// Channel 返回 Discord 渠道。
func (n *DiscordNotifier) Channel() Channel { return ChannelDiscord }

// Notify 发送 Discord 消息，低于 MinSeverity 的事件被忽略。
func (n *DiscordNotifier) Notify(_ context.Context, event Event) error {
	if n == nil || n.Executor == nil || n.WebhookID == "" {
		logger.L().Warn("DiscordNotifier 未正确配置，跳过发送", slog.String("job_id", event.JobID))
		return nil
	}
	if event.Severity.Rank() < n.MinSeverity.Rank() {
		return nil
	}
	content := fmt.Sprintf("**[%s] %s**\n任务: %s（重试 %d/%d）\n%s",
		event.Severity, event.Code, event.JobID, event.Attempts, event.MaxRetries, event.Message)
	for _, key := range sortedKeys(event.Metadata) {
		content += fmt.Sprintf("\n- %s: %s", key, event.Metadata[key])
	}
	if len([]rune(content)) > 1900 {
		content = string([]rune(content)[:1900]) + "…"
	}
	_, err := n.Executor.WebhookExecute(n.WebhookID, n.Token, false, &discordgo.WebhookParams{
		Content:  content,
		Username: n.Username,
	})
	if err != nil {
		return xerrors.Wrap(xerrors.CodeTransportFailure, err, "发送 Discord 告警失败")
	}
	return nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
