// Package metrics exposes Prometheus collectors for the message pipeline and
// the HTTP surface. Collectors live on a package-private registry so that
// /metrics only reports what this service records.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "kurashi"

var (
	registry = prometheus.NewRegistry()
	factory  = promauto.With(registry)

	httpRequests = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "HTTP requests by handler, method and status code.",
	}, []string{"handler", "method", "code"})

	httpDuration = factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency.",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	}, []string{"handler", "method"})

	messagesReceived = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "messages_received_total",
		Help:      "Messages accepted into the dispatch pipeline by source.",
	}, []string{"source"})

	intents = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "intents_total",
		Help:      "Handled messages by agent, action and outcome (ok, rejected).",
	}, []string{"agent", "action", "outcome"})

	jobDuration = factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "job_duration_seconds",
		Help:      "Time from claim to completion of a dispatch job.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"status"})

	jobFailures = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "job_failures_total",
		Help:      "Failed job attempts by error code and stage.",
	}, []string{"code", "stage"})

	queuePublishFailures = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "queue_publish_failures_total",
		Help:      "Failed attempts to publish a job ID to the queue.",
	}, []string{"queue"})

	deliveryFailures = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "delivery_failures_total",
		Help:      "Replies that could not be delivered back to their source.",
	}, []string{"source"})

	rateLimited = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rate_limited_total",
		Help:      "Messages dropped by the per-user rate limiter.",
	}, []string{"source"})

	registeredAgents = factory.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "agents_registered",
		Help:      "Registered agents by group.",
	}, []string{"group"})
)

func init() {
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}

// Registry 返回本服务使用的 Prometheus 注册表。
func Registry() *prometheus.Registry {
	return registry
}

// ObserveHTTPRequest records metrics about an HTTP request lifecycle.
func ObserveHTTPRequest(handler, method string, status int, duration time.Duration) {
	httpRequests.WithLabelValues(handler, method, strconv.Itoa(status)).Inc()
	httpDuration.WithLabelValues(handler, method).Observe(duration.Seconds())
}

// MessageReceived 记录一条进入流水线的消息。
func MessageReceived(source string) {
	messagesReceived.WithLabelValues(source).Inc()
}

// IntentHandled 记录一次智能体处理结果。
func IntentHandled(agent, action string, rejected bool) {
	outcome := "ok"
	if rejected {
		outcome = "rejected"
	}
	intents.WithLabelValues(agent, action, outcome).Inc()
}

// ObserveJob 记录任务从领取到结束的耗时。
func ObserveJob(status string, duration time.Duration) {
	jobDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// JobFailed 记录一次失败的执行尝试。
func JobFailed(code, stage string) {
	jobFailures.WithLabelValues(code, stage).Inc()
}

// QueuePublishFailed 记录一次入队失败。
func QueuePublishFailed(queue string) {
	queuePublishFailures.WithLabelValues(queue).Inc()
}

// DeliveryFailed 记录一次回复投递失败。
func DeliveryFailed(source string) {
	deliveryFailures.WithLabelValues(source).Inc()
}

// RateLimited 记录一次被限流丢弃的消息。
func RateLimited(source string) {
	rateLimited.WithLabelValues(source).Inc()
}

// SetRegisteredAgents 更新注册表中各分组的智能体数量。
func SetRegisteredAgents(group string, n int) {
	registeredAgents.WithLabelValues(group).Set(float64(n))
}

// Handler exposes the registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry})
}

// StartServer launches a standalone HTTP server exposing the /metrics endpoint.
func StartServer(ctx context.Context, addr string) error {
	if addr == "" {
		return errors.New("metrics address is empty")
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return nil
	case err, ok := <-errCh:
		if !ok {
			return nil
		}
		return err
	}
}
