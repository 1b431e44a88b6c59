package dispatch

import (
	"context"
	stdErrors "errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	xerrors "Kurashi-Agents/internal/errors"
	"Kurashi-Agents/internal/observability/metrics"
	"Kurashi-Agents/pkg/logger"
)

// Service 负责任务的创建与查询。
type Service struct {
	store      Store
	producer   Producer
	maxRetries int
	queueName  string
	now        func() time.Time
}

// ServiceOption 定义可选配置。
type ServiceOption func(*Service)

// WithMaxRetries 设置每个任务的最大执行次数。
func WithMaxRetries(n int) ServiceOption {
	return func(s *Service) {
		if n > 0 {
			s.maxRetries = n
		}
	}
}

// WithQueueName 设置指标中使用的队列名称。
func WithQueueName(name string) ServiceOption {
	return func(s *Service) {
		if name != "" {
			s.queueName = name
		}
	}
}

// NewService 构造任务服务。
func NewService(store Store, producer Producer, opts ...ServiceOption) *Service {
	s := &Service{store: store, producer: producer, maxRetries: 3, queueName: "memory", now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

func sameOwner(job *Job, userID string) (*Job, error) {
	if job.UserID != userID {
		return nil, xerrors.Wrap(CodeJobConflict, ErrJobConflict, "任务 ID 已被其他用户使用",
			xerrors.WithMetadata("job_id", job.ID))
	}
	return job, nil
}

// Submit 持久化消息并推送到队列。同一用户以相同 ID 重复提交时返回已有任务，
// 其他用户复用该 ID 会得到 ErrJobConflict。
func (s *Service) Submit(ctx context.Context, msg Message) (*Job, error) {
	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return nil, xerrors.New(CodeJobValidation, "消息内容不能为空")
	}
	if strings.TrimSpace(msg.UserID) == "" {
		return nil, xerrors.New(CodeJobValidation, "用户 ID 不能为空")
	}
	if s.store == nil || s.producer == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "任务服务未初始化")
	}

	jobID := strings.TrimSpace(msg.ID)
	if jobID != "" {
		job, err := s.store.Get(ctx, jobID)
		if err == nil {
			return sameOwner(job, msg.UserID)
		}
		if !stdErrors.Is(err, ErrJobNotFound) {
			return nil, err
		}
	} else {
		jobID = uuid.NewString()
	}

	receivedAt := msg.ReceivedAt
	if receivedAt.IsZero() {
		receivedAt = s.now()
	}
	job := &Job{
		ID:         jobID,
		Source:     msg.Source,
		UserID:     msg.UserID,
		ChannelID:  msg.ChannelID,
		Text:       text,
		Status:     StatusPending,
		MaxRetries: s.maxRetries,
		ReceivedAt: receivedAt.Unix(),
	}
	if err := s.store.Create(ctx, job); err != nil {
		if stdErrors.Is(err, ErrJobConflict) {
			existing, getErr := s.store.Get(ctx, jobID)
			if getErr == nil {
				return sameOwner(existing, msg.UserID)
			}
			if !stdErrors.Is(getErr, ErrJobNotFound) {
				return nil, getErr
			}
		}
		return nil, err
	}
	metrics.MessageReceived(job.Source)

	if err := s.producer.Publish(ctx, jobID); err != nil {
		logger.L().Error("任务入队失败", slog.Any("error", err), slog.String("job_id", jobID))
		metrics.QueuePublishFailed(s.queueName)
		wrapped := xerrors.Wrap(CodeJobPublish, err, "发布任务到队列失败")
		_ = s.store.MarkFailed(ctx, jobID, Failure{Code: CodeJobPublish, Error: wrapped.Error(), Terminal: true})
		return nil, wrapped
	}
	logger.Audit().Info("job accepted",
		slog.String("job_id", jobID),
		slog.String("source", job.Source),
		slog.String("user_id", job.UserID),
		slog.Int("max_retries", job.MaxRetries),
	)
	return job, nil
}

// Get 返回指定任务的状态。
func (s *Service) Get(ctx context.Context, id string) (*Job, error) {
	if s.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "任务存储未初始化")
	}
	return s.store.Get(ctx, id)
}

// List 返回符合过滤条件的任务列表。
func (s *Service) List(ctx context.Context, opts ...ListOption) ([]*Job, error) {
	if s.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "任务存储未初始化")
	}
	return s.store.List(ctx, BuildListOptions(opts...))
}

// Stats 返回符合过滤条件的任务统计信息。
func (s *Service) Stats(ctx context.Context, opts ...ListOption) (JobStats, error) {
	if s.store == nil {
		return JobStats{}, xerrors.New(xerrors.CodeInitializationFailure, "任务存储未初始化")
	}
	return s.store.Stats(ctx, BuildListOptions(opts...))
}

// Close 释放资源。
func (s *Service) Close() error {
	var errs []error
	if s.store != nil {
		errs = append(errs, s.store.Close())
	}
	if s.producer != nil {
		errs = append(errs, s.producer.Close())
	}
	return stdErrors.Join(errs...)
}

// WaitUntilCompleted 轮询任务状态直到结束或 ctx 超时。
func (s *Service) WaitUntilCompleted(ctx context.Context, id string, interval time.Duration) (*Job, error) {
	if interval <= 0 {
		interval = 200 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		job, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if job.Done() {
			return job, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
