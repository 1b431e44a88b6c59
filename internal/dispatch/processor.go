package dispatch

import (
	"context"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"Kurashi-Agents/internal/agent"
	xerrors "Kurashi-Agents/internal/errors"
	"Kurashi-Agents/internal/observability/alerting"
	"Kurashi-Agents/internal/observability/metrics"
	"Kurashi-Agents/pkg/logger"
)

const tracerName = "Kurashi-Agents/internal/dispatch"

// Executor 定义了处理器所需的消息处理能力，通常由 agent.Router 实现。
type Executor interface {
	Handle(ctx context.Context, req agent.Request) (*agent.Result, error)
}

// Responder 将任务结果回复到消息来源。
type Responder interface {
	Deliver(ctx context.Context, job *Job) error
}

// ResponderFunc 允许普通函数作为 Responder。
type ResponderFunc func(ctx context.Context, job *Job) error

// Deliver 实现 Responder。
func (f ResponderFunc) Deliver(ctx context.Context, job *Job) error {
	return f(ctx, job)
}

// Processor 负责从队列消费任务并交给 Executor 执行。
type Processor struct {
	executor    Executor
	store       Store
	consumer    Consumer
	producer    Producer
	workerCount int
	logger      *slog.Logger
	recovery    RecoveryHandler
	alerter     alerting.Dispatcher
	responders  map[string]Responder
	tracer      trace.Tracer
	queueName   string
}

// ProcessorOption 定义可选配置。
type ProcessorOption func(*Processor)

// WithProcessorLogger 指定调试日志输出。
func WithProcessorLogger(logger *slog.Logger) ProcessorOption {
	return func(p *Processor) {
		p.logger = logger
	}
}

// WithWorkerCount 设置消费协程数量。
func WithWorkerCount(workers int) ProcessorOption {
	return func(p *Processor) {
		if workers > 0 {
			p.workerCount = workers
		}
	}
}

// WithRecoveryHandler 配置失败补偿策略。
func WithRecoveryHandler(handler RecoveryHandler) ProcessorOption {
	return func(p *Processor) {
		p.recovery = handler
	}
}

// WithAlertDispatcher 配置告警派发器。
func WithAlertDispatcher(dispatcher alerting.Dispatcher) ProcessorOption {
	return func(p *Processor) {
		p.alerter = dispatcher
	}
}

// WithResponder 为某个消息来源配置回复通道。
func WithResponder(source string, responder Responder) ProcessorOption {
	return func(p *Processor) {
		if responder != nil {
			p.responders[source] = responder
		}
	}
}

// WithTracerProvider 指定 OpenTelemetry TracerProvider，默认使用全局实例。
func WithTracerProvider(provider trace.TracerProvider) ProcessorOption {
	return func(p *Processor) {
		if provider != nil {
			p.tracer = provider.Tracer(tracerName)
		}
	}
}

// WithProcessorQueueName 设置指标中使用的队列名称。
func WithProcessorQueueName(name string) ProcessorOption {
	return func(p *Processor) {
		if name != "" {
			p.queueName = name
		}
	}
}

// NewProcessor 构造 Processor。
func NewProcessor(executor Executor, store Store, consumer Consumer, producer Producer, opts ...ProcessorOption) *Processor {
	p := &Processor{
		executor:    executor,
		store:       store,
		consumer:    consumer,
		producer:    producer,
		workerCount: 1,
		responders:  make(map[string]Responder),
		tracer:      otel.Tracer(tracerName),
		queueName:   "memory",
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

// Start 启动任务处理循环，阻塞直到 ctx 结束。
func (p *Processor) Start(ctx context.Context) error {
	if p.consumer == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "未配置任务消费者")
	}
	return p.consumer.Consume(ctx, p.workerCount, p.handle)
}

func (p *Processor) handle(ctx context.Context, jobID string) error {
	if p.store == nil || p.executor == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "处理器未初始化")
	}
	job, err := p.store.Claim(ctx, jobID)
	if err != nil {
		if stdErrors.Is(err, ErrJobNotFound) || stdErrors.Is(err, ErrJobCompleted) ||
			stdErrors.Is(err, ErrJobExhausted) || stdErrors.Is(err, ErrJobConflict) {
			p.logDebug("跳过任务", slog.String("job_id", jobID), slog.String("reason", err.Error()))
			return nil
		}
		logger.L().Error("领取任务失败", slog.Any("error", err), slog.String("job_id", jobID))
		p.emitAlert(ctx, &Job{ID: jobID}, CodeJobProcessing, err, "claim")
		return err
	}

	start := time.Now()
	ctx, span := p.tracer.Start(ctx, "dispatch.job", trace.WithAttributes(
		attribute.String("job.id", job.ID),
		attribute.String("job.source", job.Source),
		attribute.Int("job.attempt", job.Attempts),
	))
	defer span.End()

	result, execErr := p.executor.Handle(ctx, agent.Request{
		ID:         job.ID,
		UserID:     job.UserID,
		ChannelID:  job.ChannelID,
		Text:       job.Text,
		ReceivedAt: time.Unix(job.ReceivedAt, 0),
	})
	if execErr == nil && result == nil {
		execErr = xerrors.New(CodeJobProcessing, "智能体未返回结果")
	}
	if execErr != nil {
		span.RecordError(execErr)
		span.SetStatus(codes.Error, execErr.Error())
		return p.handleExecutionFailure(ctx, job, execErr, start)
	}

	outcome := Outcome{Agent: result.Agent, Action: result.Action, Reply: result.Reply, Rejected: result.Rejected}
	span.SetAttributes(
		attribute.String("agent.name", outcome.Agent),
		attribute.String("agent.action", outcome.Action),
		attribute.Bool("agent.rejected", outcome.Rejected),
	)
	if err := p.store.MarkSucceeded(ctx, job.ID, outcome); err != nil {
		logger.L().Error("标记任务成功状态失败", slog.Any("error", err), slog.String("job_id", job.ID))
		// 智能体可能已写入数据，重新执行会重复写入，因此不再重试。
		return p.handleExecutionFailure(ctx, job,
			xerrors.Wrap(xerrors.CodeStorageFailure, err, "记录任务结果失败", xerrors.WithRetryable(false)), start)
	}

	metrics.IntentHandled(outcome.Agent, outcome.Action, outcome.Rejected)
	metrics.ObserveJob(string(StatusSucceeded), time.Since(start))
	logger.Audit().Info("job succeeded",
		slog.String("job_id", job.ID),
		slog.String("user_id", job.UserID),
		slog.String("agent", outcome.Agent),
		slog.String("action", outcome.Action),
		slog.Bool("rejected", outcome.Rejected),
	)

	job.Status = StatusSucceeded
	job.Agent, job.Action, job.Reply, job.Rejected = outcome.Agent, outcome.Action, outcome.Reply, outcome.Rejected
	p.deliver(ctx, job)
	return nil
}

func (p *Processor) handleExecutionFailure(ctx context.Context, job *Job, execErr error, start time.Time) error {
	code := xerrors.CodeOf(execErr)
	if code == xerrors.CodeUnknown {
		code = CodeJobProcessing
	}
	retryable := xerrors.RetryableError(execErr)
	terminal := job.Attempts >= job.MaxRetries || !retryable

	stage := "retry"
	if terminal {
		stage = "terminal"
		if !retryable {
			stage = "non_retryable"
		}
	}
	metrics.JobFailed(string(code), stage)

	failure := Failure{Code: code, Error: execErr.Error(), Terminal: terminal}
	if terminal && p.recovery != nil {
		reply, recErr := p.recovery.Recover(ctx, job, execErr)
		if recErr != nil {
			wrapped := xerrors.Wrap(CodeJobRecovery, recErr, "任务补偿失败")
			logger.L().Error("执行补偿逻辑失败", slog.Any("error", wrapped), slog.String("job_id", job.ID))
			p.emitAlert(ctx, job, CodeJobRecovery, wrapped, "recovery")
		} else {
			failure.Reply = reply
		}
	}

	if storeErr := p.store.MarkFailed(ctx, job.ID, failure); storeErr != nil {
		logger.L().Error("标记任务失败状态出错", slog.Any("error", storeErr), slog.String("job_id", job.ID))
		return storeErr
	}
	logger.Audit().Warn("job failed",
		slog.String("job_id", job.ID),
		slog.String("user_id", job.UserID),
		slog.Bool("terminal", terminal),
		slog.String("error", execErr.Error()),
		slog.String("error_code", string(code)),
		slog.Int("attempts", job.Attempts),
		slog.Int("max_retries", job.MaxRetries),
	)

	if terminal {
		metrics.ObserveJob(string(StatusFailed), time.Since(start))
		p.emitAlert(ctx, job, code, execErr, stage)
		job.Status = StatusFailed
		job.Reply = failure.Reply
		job.LastError = failure.Error
		job.ErrorCode = string(code)
		p.deliver(ctx, job)
		return nil
	}

	if pubErr := p.producer.Publish(ctx, job.ID); pubErr != nil {
		metrics.QueuePublishFailed(p.queueName)
		wrapped := xerrors.Wrap(CodeJobPublish, pubErr, fmt.Sprintf("任务 %s 重投失败", job.ID))
		_ = p.store.MarkFailed(ctx, job.ID, Failure{Code: CodeJobPublish, Error: wrapped.Error(), Terminal: true})
		p.emitAlert(ctx, job, CodeJobPublish, wrapped, "requeue")
		return wrapped
	}
	p.logDebug("任务已重新排队", slog.String("job_id", job.ID), slog.Int("attempts", job.Attempts))
	return nil
}

func (p *Processor) deliver(ctx context.Context, job *Job) {
	responder, ok := p.responders[job.Source]
	if !ok || job.Reply == "" {
		return
	}
	if err := responder.Deliver(ctx, job); err != nil {
		metrics.DeliveryFailed(job.Source)
		logger.L().Warn("回复投递失败",
			slog.Any("error", err),
			slog.String("job_id", job.ID),
			slog.String("source", job.Source),
		)
	}
}

func (p *Processor) logDebug(msg string, attrs ...slog.Attr) {
	if p.logger != nil {
		p.logger.LogAttrs(context.Background(), slog.LevelDebug, msg, attrs...)
	}
}

func (p *Processor) emitAlert(ctx context.Context, job *Job, code xerrors.Code, cause error, stage string) {
	if p == nil || p.alerter == nil || job == nil {
		return
	}
	attrs := xerrors.AttributesOf(code)
	message, severity := attrs.Message, attrs.Severity
	metadata := map[string]string{"stage": stage}
	if cause != nil {
		message = cause.Error()
		metadata["cause"] = cause.Error()
		if _, coded := xerrors.From(cause); coded {
			severity = xerrors.SeverityOf(cause)
		}
	}
	if job.Source != "" {
		metadata["source"] = job.Source
	}
	event := alerting.Event{
		Code:       code,
		Message:    message,
		Severity:   severity,
		JobID:      job.ID,
		Attempts:   job.Attempts,
		MaxRetries: job.MaxRetries,
		Metadata:   metadata,
		OccurredAt: time.Now(),
	}
	if err := p.alerter.Notify(ctx, event); err != nil {
		logger.L().Error("告警通知失败",
			slog.Any("error", err),
			slog.String("job_id", job.ID),
			slog.String("stage", stage),
		)
	}
}
