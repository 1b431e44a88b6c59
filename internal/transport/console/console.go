// Package console is a local REPL transport: each line becomes a dispatch job
// and the reply is printed once the job finishes.
package console

import (
	"context"
	stdErrors "errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/chzyer/readline"

	"Kurashi-Agents/internal/dispatch"
)

// Service 是控制台需要的任务服务能力。
type Service interface {
	Submit(ctx context.Context, msg dispatch.Message) (*dispatch.Job, error)
	WaitUntilCompleted(ctx context.Context, id string, interval time.Duration) (*dispatch.Job, error)
}

// LineReader 抽象 readline，便于测试。
type LineReader interface {
	Readline() (string, error)
	Close() error
}

// Console 是交互式命令行前端。
type Console struct {
	svc         Service
	userID      string
	out         io.Writer
	timeout     time.Duration
	historyFile string
	reader      LineReader
	now         func() time.Time
}

// Option 定义可选配置。
type Option func(*Console)

// WithUserID 设置记录归属的用户。
func WithUserID(id string) Option {
	return func(c *Console) {
		if id != "" {
			c.userID = id
		}
	}
}

// WithOutput 设置输出位置。
func WithOutput(w io.Writer) Option {
	return func(c *Console) {
		if w != nil {
			c.out = w
		}
	}
}

// WithTimeout 设置等待回复的超时时间。
func WithTimeout(d time.Duration) Option {
	return func(c *Console) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithHistoryFile 设置 readline 历史文件。
func WithHistoryFile(path string) Option {
	return func(c *Console) {
		c.historyFile = path
	}
}

// WithReader 替换输入源。
func WithReader(r LineReader) Option {
	return func(c *Console) {
		c.reader = r
	}
}

// New 创建控制台。
func New(svc Service, opts ...Option) *Console {
	c := &Console{
		svc:     svc,
		userID:  "console",
		out:     os.Stdout,
		timeout: 30 * time.Second,
		now:     time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// Run 读取输入直到 exit、quit、EOF 或 ctx 结束。
func (c *Console) Run(ctx context.Context) error {
	reader := c.reader
	if reader == nil {
		rl, err := readline.NewEx(&readline.Config{
			Prompt:          "> ",
			HistoryFile:     c.historyFile,
			HistoryLimit:    200,
			InterruptPrompt: "^C",
			EOFPrompt:       "exit",
			Stdout:          c.out,
		})
		if err != nil {
			return fmt.Errorf("初始化 readline 失败: %w", err)
		}
		reader = rl
	}
	defer reader.Close()

	fmt.Fprintln(c.out, "くらしエージェント（「ヘルプ」で使い方、exit で終了）")
	for {
		if ctx.Err() != nil {
			return nil
		}
		line, err := reader.Readline()
		if err != nil {
			if stdErrors.Is(err, readline.ErrInterrupt) || stdErrors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("读取输入失败: %w", err)
		}
		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}
		if input == "exit" || input == "quit" {
			return nil
		}

		reply, err := c.Ask(ctx, input)
		if err != nil {
			fmt.Fprintf(c.out, "エラー: %v\n", err)
			continue
		}
		fmt.Fprintf(c.out, "%s\n\n", reply)
	}
}

// Ask 提交一条消息并等待回复。
func (c *Console) Ask(ctx context.Context, text string) (string, error) {
	job, err := c.svc.Submit(ctx, dispatch.Message{
		Source:     dispatch.SourceConsole,
		UserID:     c.userID,
		Text:       text,
		ReceivedAt: c.now(),
	})
	if err != nil {
		return "", err
	}

	waitCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	done, err := c.svc.WaitUntilCompleted(waitCtx, job.ID, 50*time.Millisecond)
	if err != nil {
		return "", fmt.Errorf("等待回复失败: %w", err)
	}
	if done.Reply == "" && done.Status == dispatch.StatusFailed {
		return fmt.Sprintf("（処理に失敗しました: %s）", done.ErrorCode), nil
	}
	return done.Reply, nil
}
