package dispatch

import (
	"context"
	"sync"

	"github.com/nats-io/nats.go"

	xerrors "Kurashi-Agents/internal/errors"
)

// NATSQueueConfig 描述 NATS 队列的连接参数。
type NATSQueueConfig struct {
	URL     string
	Subject string
	// Group 为队列组名，同组的多个进程分摊消息。
	Group string
}

// NATSQueue 使用 NATS 队列组分发任务 ID。
//
// NATS Core 不做持久化，进程不在线时发布的消息会丢失；任务仍保存在 Store 中，可通过重投恢复。
type NATSQueue struct {
	conn    *nats.Conn
	subject string
	group   string
}

// NewNATSQueue 连接 NATS。
func NewNATSQueue(cfg NATSQueueConfig) (*NATSQueue, error) {
	if cfg.URL == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "NATS URL 不能为空")
	}
	conn, err := nats.Connect(cfg.URL, nats.Name("kurashid"), nats.MaxReconnects(-1))
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeQueueFailure, err, "连接 NATS 失败")
	}
	subject := cfg.Subject
	if subject == "" {
		subject = "kurashi.jobs"
	}
	group := cfg.Group
	if group == "" {
		group = "kurashi-workers"
	}
	return &NATSQueue{conn: conn, subject: subject, group: group}, nil
}

// Publish 发布任务 ID。
func (q *NATSQueue) Publish(_ context.Context, jobID string) error {
	if err := q.conn.Publish(q.subject, []byte(jobID)); err != nil {
		return xerrors.Wrap(xerrors.CodeQueueFailure, err, "NATS 发布任务失败")
	}
	return nil
}

// Consume 以队列组订阅并启动工作协程。
func (q *NATSQueue) Consume(ctx context.Context, workerCount int, handler Handler) error {
	if workerCount <= 0 {
		workerCount = 1
	}
	msgs := make(chan *nats.Msg, workerCount*16)
	sub, err := q.conn.ChanQueueSubscribe(q.subject, q.group, msgs)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeQueueFailure, err, "订阅 NATS 失败")
	}
	defer func() { _ = sub.Unsubscribe() }()

	var wg sync.WaitGroup
	for i := 0; i < workerCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case msg := <-msgs:
					if err := handler(ctx, string(msg.Data)); err != nil && ctx.Err() == nil {
						_ = q.conn.Publish(q.subject, msg.Data)
					}
				}
			}
		}()
	}
	wg.Wait()
	return ctx.Err()
}

// Close 排空并关闭连接。
func (q *NATSQueue) Close() error {
	if q == nil || q.conn == nil {
		return nil
	}
	return q.conn.Drain()
}
