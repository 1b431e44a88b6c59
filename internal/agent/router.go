package agent

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	xerrors "Kurashi-Agents/internal/errors"
	"Kurashi-Agents/internal/intent"
)

var (
	bangPrefix  = regexp.MustCompile(`^!(\S+)\s*(.*)$`)
	colonPrefix = regexp.MustCompile(`^([\p{L}\p{N}_ー-]{1,32})\s*:\s*(.*)$`)
	directory   = map[string]struct{}{
		"agents": {}, "エージェント": {}, "エージェント一覧": {},
	}
	helpWords = map[string]struct{}{
		"help": {}, "ヘルプ": {}, "?": {}, "使い方": {},
	}
)

// Router 根据消息内容与来源频道选择目标智能体。
type Router struct {
	registry     *Registry
	defaultAgent string
	channels     map[string]string
	location     *time.Location
	now          func() time.Time
}

// RouterOption 定义 Router 的可选配置。
type RouterOption func(*Router)

// WithDefaultAgent 设置未指定智能体时使用的默认智能体。
func WithDefaultAgent(name string) RouterOption {
	return func(r *Router) {
		r.defaultAgent = strings.TrimSpace(name)
	}
}

// WithChannelRoutes 设置频道到智能体的映射。
func WithChannelRoutes(routes map[string]string) RouterOption {
	return func(r *Router) {
		for channel, name := range routes {
			r.channels[channel] = name
		}
	}
}

// WithLocation 设置解析相对日期所用的时区。
func WithLocation(loc *time.Location) RouterOption {
	return func(r *Router) {
		if loc != nil {
			r.location = loc
		}
	}
}

// WithClock 替换时钟，便于测试。
func WithClock(now func() time.Time) RouterOption {
	return func(r *Router) {
		if now != nil {
			r.now = now
		}
	}
}

// NewRouter 创建路由器。
func NewRouter(registry *Registry, opts ...RouterOption) *Router {
	r := &Router{
		registry: registry,
		channels: make(map[string]string),
		location: time.Local,
		now:      time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// Registry 返回路由器使用的注册表。
func (r *Router) Registry() *Registry {
	return r.registry
}

// Resolve 返回消息的目标智能体以及去掉前缀后的正文。ok 为假表示需要展示智能体目录。
func (r *Router) Resolve(req Request) (Agent, string, bool) {
	text := intent.Normalize(req.Text)

	if m := bangPrefix.FindStringSubmatch(text); m != nil {
		ag, ok := r.registry.Lookup(m[1])
		return ag, m[2], ok
	}
	if m := colonPrefix.FindStringSubmatch(text); m != nil {
		if ag, ok := r.registry.Lookup(m[1]); ok {
			return ag, m[2], true
		}
	}
	if _, ok := directory[strings.ToLower(text)]; ok {
		return nil, text, false
	}
	if name, ok := r.channels[req.ChannelID]; ok {
		if ag, found := r.registry.Lookup(name); found {
			return ag, text, true
		}
	}
	if r.defaultAgent != "" {
		if ag, found := r.registry.Lookup(r.defaultAgent); found {
			return ag, text, true
		}
	}
	return nil, text, false
}

// Handle 路由并执行请求。
func (r *Router) Handle(ctx context.Context, req Request) (*Result, error) {
	if strings.TrimSpace(req.Text) == "" {
		return nil, xerrors.New(CodeEmptyMessage, "消息内容为空")
	}
	if req.ReceivedAt.IsZero() {
		req.ReceivedAt = r.now()
	}
	req.ReceivedAt = req.ReceivedAt.In(r.location)

	ag, body, ok := r.Resolve(req)
	if !ok {
		return r.directoryResult(req.Text), nil
	}

	routed := req
	routed.Text = body
	if strings.TrimSpace(body) == "" {
		routed.Text = "help"
	}
	result, err := ag.Handle(ctx, routed)
	if err != nil {
		return nil, err
	}
	if result == nil {
		result = &Result{}
	}
	if result.Agent == "" {
		result.Agent = ag.Name()
	}
	return result, nil
}

func (r *Router) directoryResult(text string) *Result {
	normalized := strings.ToLower(intent.Normalize(text))
	_, asked := directory[normalized]
	if _, help := helpWords[normalized]; help {
		asked = true
	}

	var b strings.Builder
	if m := bangPrefix.FindStringSubmatch(normalized); m != nil {
		fmt.Fprintf(&b, "「%s」というエージェントはありません。\n", m[1])
	} else if !asked {
		b.WriteString("宛先のエージェントが分かりませんでした。\n")
	}
	b.WriteString(Directory(r.registry.List()))

	return &Result{Action: "directory", Reply: b.String(), Rejected: !asked}
}

// Directory 生成智能体目录文本。
func Directory(infos []Info) string {
	if len(infos) == 0 {
		return "利用できるエージェントはまだありません。"
	}
	var b strings.Builder
	b.WriteString("利用できるエージェント:\n")
	for _, info := range infos {
		fmt.Fprintf(&b, "• %s", info.Name)
		if len(info.Aliases) > 0 {
			fmt.Fprintf(&b, " (%s)", strings.Join(info.Aliases, ", "))
		}
		if info.Description != "" {
			fmt.Fprintf(&b, " : %s", info.Description)
		}
		b.WriteByte('\n')
	}
	b.WriteString("使い方: `!エージェント名 メッセージ` または `エージェント名: メッセージ`。`!エージェント名 help` で詳しい使い方を表示します。")
	return b.String()
}
