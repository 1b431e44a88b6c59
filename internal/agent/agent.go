package agent

import (
	"context"
	"time"

	xerrors "Kurashi-Agents/internal/errors"
)

const (
	// CodeAgentNotFound 表示请求的智能体不存在。
	CodeAgentNotFound xerrors.Code = "AGENT_NOT_FOUND"
	// CodeEmptyMessage 表示消息内容为空。
	CodeEmptyMessage xerrors.Code = "AGENT_EMPTY_MESSAGE"
)

func init() {
	xerrors.Register(CodeAgentNotFound, xerrors.Attributes{Message: "agent not found", Severity: xerrors.SeverityInfo})
	xerrors.Register(CodeEmptyMessage, xerrors.Attributes{Message: "empty message", Severity: xerrors.SeverityInfo})
}

// Request 是一条发给智能体的消息。
type Request struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	ChannelID string    `json:"channel_id,omitempty"`
	Text      string    `json:"text"`
	// ReceivedAt 是解析相对日期的参考时间。
	ReceivedAt time.Time `json:"received_at"`
}

// Result 是智能体的处理结果。
type Result struct {
	Agent  string `json:"agent"`
	Action string `json:"action"`
	Reply  string `json:"reply"`
	// Rejected 表示输入无法解析或未通过校验，Reply 为面向用户的提示。
	Rejected bool `json:"rejected"`
}

// Reject 构造一个被拒绝的结果。
func Reject(agent, action, message string) *Result {
	return &Result{Agent: agent, Action: action, Reply: message, Rejected: true}
}

// Agent 是所有记录类智能体的统一接口。
//
// 解析失败通过 Result.Rejected 返回；只有存储等系统故障才返回 error。
type Agent interface {
	Name() string
	Description() string
	Aliases() []string
	Handle(ctx context.Context, req Request) (*Result, error)
}

// Info 是智能体的展示信息。
type Info struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Aliases     []string `json:"aliases,omitempty"`
	Group       string   `json:"group"`
}

// Meta 提供 Name、Description、Aliases 的实现，供具体智能体嵌入。
type Meta struct {
	name        string
	description string
	aliases     []string
}

// NewMeta 创建元信息。
func NewMeta(name, description string, aliases ...string) Meta {
	return Meta{name: name, description: description, aliases: aliases}
}

// Name 返回智能体名称。
func (m Meta) Name() string { return m.name }

// Description 返回智能体描述。
func (m Meta) Description() string { return m.description }

// Aliases 返回智能体别名。
func (m Meta) Aliases() []string { return append([]string(nil), m.aliases...) }

// Reply 构造一个成功的结果。
func (m Meta) Reply(action, text string) *Result {
	return &Result{Agent: m.name, Action: action, Reply: text}
}

// Reject 构造一个面向用户的拒绝结果。
func (m Meta) Reject(action, text string) *Result {
	return Reject(m.name, action, text)
}
