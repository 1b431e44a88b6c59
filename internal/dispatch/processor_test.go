package dispatch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"Kurashi-Agents/internal/agent"
	xerrors "Kurashi-Agents/internal/errors"
	"Kurashi-Agents/internal/observability/alerting"
)

type executorFunc func(ctx context.Context, req agent.Request) (*agent.Result, error)

func (f executorFunc) Handle(ctx context.Context, req agent.Request) (*agent.Result, error) {
	return f(ctx, req)
}

type recordingAlerts struct {
	mu     sync.Mutex
	events []alerting.Event
}

func (r *recordingAlerts) Notify(_ context.Context, event alerting.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *recordingAlerts) snapshot() []alerting.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]alerting.Event(nil), r.events...)
}

type harness struct {
	store     Store
	service   *Service
	delivered chan *Job
}

func startProcessor(t *testing.T, exec Executor, maxRetries int, opts ...ProcessorOption) *harness {
	t.Helper()
	return startProcessorWithStore(t, exec, NewMemoryStore(), maxRetries, opts...)
}

func startProcessorWithStore(t *testing.T, exec Executor, store Store, maxRetries int, opts ...ProcessorOption) *harness {
	t.Helper()
	queue := NewMemoryQueue(16)
	h := &harness{
		store:     store,
		service:   NewService(store, queue, WithMaxRetries(maxRetries)),
		delivered: make(chan *Job, 4),
	}
	opts = append(opts, WithResponder(SourceConsole, ResponderFunc(func(_ context.Context, job *Job) error {
		h.delivered <- job
		return nil
	})))
	processor := NewProcessor(exec, store, queue, queue, append(opts, WithWorkerCount(2))...)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- processor.Start(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-errCh
	})
	return h
}

func (h *harness) submit(t *testing.T, text string) *Job {
	t.Helper()
	job, err := h.service.Submit(context.Background(), Message{Source: SourceConsole, UserID: "u1", Text: text})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	done, err := h.service.WaitUntilCompleted(ctx, job.ID, 5*time.Millisecond)
	require.NoError(t, err)
	return done
}

func (h *harness) nextDelivery(t *testing.T) *Job {
	t.Helper()
	select {
	case job := <-h.delivered:
		return job
	case <-time.After(2 * time.Second):
		t.Fatal("no reply delivered")
		return nil
	}
}

func TestProcessorDeliversReply(t *testing.T) {
	var seen agent.Request
	exec := executorFunc(func(_ context.Context, req agent.Request) (*agent.Result, error) {
		seen = req
		return &agent.Result{Agent: "diet", Action: "record", Reply: "#1 を記録しました。"}, nil
	})
	h := startProcessor(t, exec, 3)

	job := h.submit(t, "朝食 トースト")
	assert.Equal(t, StatusSucceeded, job.Status)
	assert.Equal(t, "diet", job.Agent)
	assert.Equal(t, 1, job.Attempts)

	delivered := h.nextDelivery(t)
	assert.Equal(t, "#1 を記録しました。", delivered.Reply)
	assert.Equal(t, job.ID, seen.ID)
	assert.Equal(t, "u1", seen.UserID)
	assert.False(t, seen.ReceivedAt.IsZero())
}

func TestProcessorRecordsRejection(t *testing.T) {
	exec := executorFunc(func(_ context.Context, _ agent.Request) (*agent.Result, error) {
		return agent.Reject("diet", "weight", "体重は20〜300kgの範囲で入力してください。"), nil
	})
	h := startProcessor(t, exec, 3)

	job := h.submit(t, "体重 500kg")
	assert.Equal(t, StatusSucceeded, job.Status)
	assert.True(t, job.Rejected)
	assert.True(t, h.nextDelivery(t).Rejected)
}

func TestProcessorRetriesRetryableFailure(t *testing.T) {
	var calls atomic.Int32
	exec := executorFunc(func(_ context.Context, _ agent.Request) (*agent.Result, error) {
		if calls.Add(1) == 1 {
			return nil, xerrors.New(xerrors.CodeStorageFailure, "database is locked")
		}
		return &agent.Result{Agent: "journal", Action: "write", Reply: "ok"}, nil
	})
	alerts := &recordingAlerts{}
	h := startProcessor(t, exec, 3, WithAlertDispatcher(alerts))

	job := h.submit(t, "今日は散歩した")
	assert.Equal(t, StatusSucceeded, job.Status)
	assert.Equal(t, 2, job.Attempts)
	assert.Empty(t, job.LastError)
	assert.Equal(t, "ok", h.nextDelivery(t).Reply)
	assert.Empty(t, alerts.snapshot())
}

func TestProcessorTerminalFailureApologises(t *testing.T) {
	exec := executorFunc(func(_ context.Context, _ agent.Request) (*agent.Result, error) {
		return nil, xerrors.New(xerrors.CodeStorageFailure, "disk full")
	})
	alerts := &recordingAlerts{}
	h := startProcessor(t, exec, 2, WithAlertDispatcher(alerts), WithRecoveryHandler(ApologyRecovery{}))

	job := h.submit(t, "キッチン 30分")
	assert.Equal(t, StatusFailed, job.Status)
	assert.Equal(t, 2, job.Attempts)
	assert.Equal(t, string(xerrors.CodeStorageFailure), job.ErrorCode)
	assert.Contains(t, job.Reply, "STORAGE_FAILURE")

	delivered := h.nextDelivery(t)
	assert.Contains(t, delivered.Reply, "すみません")

	events := alerts.snapshot()
	require.Len(t, events, 1)
	assert.Equal(t, xerrors.CodeStorageFailure, events[0].Code)
	assert.Equal(t, job.ID, events[0].JobID)
	assert.Equal(t, "terminal", events[0].Metadata["stage"])
}

func TestProcessorPlainErrorIsTerminal(t *testing.T) {
	var calls atomic.Int32
	exec := executorFunc(func(_ context.Context, _ agent.Request) (*agent.Result, error) {
		calls.Add(1)
		return nil, errors.New("boom")
	})
	h := startProcessor(t, exec, 3)

	job := h.submit(t, "hello")
	assert.Equal(t, StatusFailed, job.Status)
	assert.Equal(t, string(CodeJobProcessing), job.ErrorCode)
	assert.Equal(t, "boom", job.LastError)
	assert.Empty(t, job.Reply)
	assert.Equal(t, int32(1), calls.Load())
}

// failingResultStore 在记录成功结果时失败。
type failingResultStore struct {
	Store
}

func (failingResultStore) MarkSucceeded(context.Context, string, Outcome) error {
	return errors.New("database is locked")
}

func TestProcessorDoesNotRerunAfterResultWriteFails(t *testing.T) {
	var writes atomic.Int32
	exec := executorFunc(func(_ context.Context, _ agent.Request) (*agent.Result, error) {
		writes.Add(1)
		return &agent.Result{Agent: "cleanup", Action: "record", Reply: "#1 を記録しました。"}, nil
	})
	h := startProcessorWithStore(t, exec, failingResultStore{Store: NewMemoryStore()}, 3)

	job := h.submit(t, "キッチン 30分")
	assert.Equal(t, StatusFailed, job.Status)
	assert.Equal(t, 1, job.Attempts)
	assert.Equal(t, string(xerrors.CodeStorageFailure), job.ErrorCode)
	assert.Equal(t, int32(1), writes.Load())
}
