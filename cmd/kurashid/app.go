package main

import (
	"context"
	"database/sql"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"Kurashi-Agents/internal/agent"
	"Kurashi-Agents/internal/agents/cleanup"
	"Kurashi-Agents/internal/agents/diet"
	"Kurashi-Agents/internal/agents/generic"
	"Kurashi-Agents/internal/agents/journal"
	"Kurashi-Agents/internal/config"
	"Kurashi-Agents/internal/dispatch"
	xerrors "Kurashi-Agents/internal/errors"
	"Kurashi-Agents/internal/observability/alerting"
	"Kurashi-Agents/internal/observability/metrics"
	"Kurashi-Agents/internal/storage/mysql"
	"Kurashi-Agents/internal/storage/sqlite"
	"Kurashi-Agents/pkg/logger"
)

// app 持有一次运行所需的全部组件。
type app struct {
	cfg      *config.Config
	loc      *time.Location
	db       *sql.DB
	jobsDB   *sql.DB
	registry *agent.Registry
	router   *agent.Router
	loader   *generic.Loader
	store    dispatch.Store
	queue    dispatch.Queue
	service  *dispatch.Service
	alerter  alerting.Dispatcher
}

// newApp 打开数据库、执行迁移并注册智能体；队列由 openQueue 单独建立。
func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	for _, dir := range []string{cfg.Runtime.DataDir, filepath.Dir(cfg.Storage.Database)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("创建目录失败: %w", err)
		}
	}
	db, err := sqlite.Open(ctx, sqlite.Config{Path: cfg.Storage.Database})
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, loc: loc, db: db, registry: agent.NewRegistry()}
	if err := a.registerAgents(ctx); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.openJobStore(ctx); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.buildAlerter(); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) registerAgents(ctx context.Context) error {
	disabled := make(map[string]bool, len(a.cfg.Agents.Disabled))
	for _, name := range a.cfg.Agents.Disabled {
		disabled[name] = true
	}

	builtins := []struct {
		name  string
		build func() (agent.Agent, error)
	}{
		{diet.Name, func() (agent.Agent, error) { return diet.New(ctx, a.db, a.loc) }},
		{cleanup.Name, func() (agent.Agent, error) { return cleanup.New(ctx, a.db, a.loc) }},
		{journal.Name, func() (agent.Agent, error) { return journal.New(ctx, a.db, a.loc) }},
	}
	count := 0
	for _, b := range builtins {
		if disabled[b.name] {
			continue
		}
		ag, err := b.build()
		if err != nil {
			return err
		}
		if err := a.registry.Register(ag); err != nil {
			return err
		}
		count++
	}
	metrics.SetRegisteredAgents(agent.BuiltinGroup, count)

	if a.cfg.Agents.Definitions != "" {
		a.loader = generic.NewLoader(a.cfg.Agents.Definitions, a.db, a.loc, a.registry)
		if err := a.loader.Reload(ctx); err != nil {
			return fmt.Errorf("加载智能体定义失败: %w", err)
		}
	}

	a.router = agent.NewRouter(a.registry,
		agent.WithDefaultAgent(a.cfg.Agents.DefaultAgent),
		agent.WithChannelRoutes(a.cfg.Agents.ChannelRoutes),
		agent.WithLocation(a.loc),
	)
	return nil
}

func (a *app) openJobStore(ctx context.Context) error {
	switch a.cfg.Storage.Jobs.Driver {
	case "memory":
		a.store = dispatch.NewMemoryStore()
	case "sqlite":
		store, err := dispatch.NewSQLiteStore(ctx, a.db)
		if err != nil {
			return err
		}
		a.store = store
	case "mysql":
		db, err := mysql.Open(ctx, mysql.Config{DSN: a.cfg.Storage.Jobs.DSN})
		if err != nil {
			return xerrors.Wrap(xerrors.CodeStorageFailure, err, "连接 MySQL 失败")
		}
		a.jobsDB = db
		store, err := dispatch.NewMySQLStore(ctx, db)
		if err != nil {
			return err
		}
		a.store = store
	default:
		return fmt.Errorf("不支持的任务存储驱动: %s", a.cfg.Storage.Jobs.Driver)
	}
	return nil
}

// openQueue 建立任务队列与任务服务。
func (a *app) openQueue(ctx context.Context, driver string) error {
	q := a.cfg.Queue
	var (
		queue dispatch.Queue
		err   error
	)
	switch driver {
	case "memory":
		queue = dispatch.NewMemoryQueue(q.Size)
	case "redis":
		queue, err = dispatch.NewRedisQueue(ctx, dispatch.RedisQueueConfig{
			Address:  q.Redis.Addr,
			Password: q.Redis.Password,
			DB:       q.Redis.DB,
			Queue:    q.Redis.Key,
		})
	case "rabbitmq":
		queue, err = dispatch.NewRabbitMQQueue(dispatch.RabbitMQConfig{
			URL:      q.RabbitMQ.URL,
			Queue:    q.RabbitMQ.Queue,
			Prefetch: a.cfg.Dispatch.Workers,
			Durable:  true,
		})
	case "nats":
		queue, err = dispatch.NewNATSQueue(dispatch.NATSQueueConfig{
			URL:     q.NATS.URL,
			Subject: q.NATS.Subject,
			Group:   q.NATS.Group,
		})
	default:
		err = fmt.Errorf("不支持的队列驱动: %s", driver)
	}
	if err != nil {
		return err
	}
	a.queue = queue
	a.service = dispatch.NewService(a.store, queue,
		dispatch.WithMaxRetries(a.cfg.Dispatch.MaxRetries),
		dispatch.WithQueueName(driver),
	)
	return nil
}

func (a *app) buildAlerter() error {
	notifiers := []alerting.Notifier{&alerting.LogNotifier{}}
	if url := a.cfg.Alerting.DiscordWebhook; url != "" {
		n, err := alerting.NewDiscordNotifier(url, xerrors.Severity(a.cfg.Alerting.MinSeverity))
		if err != nil {
			return err
		}
		notifiers = append(notifiers, n)
	}
	a.alerter = alerting.NewFanout(notifiers...)
	return nil
}

func (a *app) newProcessor(opts ...dispatch.ProcessorOption) *dispatch.Processor {
	base := []dispatch.ProcessorOption{
		dispatch.WithWorkerCount(a.cfg.Dispatch.Workers),
		dispatch.WithRecoveryHandler(dispatch.ApologyRecovery{}),
		dispatch.WithAlertDispatcher(a.alerter),
		dispatch.WithProcessorQueueName(a.cfg.Queue.Driver),
		dispatch.WithProcessorLogger(logger.Named("dispatch")),
	}
	return dispatch.NewProcessor(a.router, a.store, a.queue, a.queue, append(base, opts...)...)
}

// Close 释放队列与数据库。
func (a *app) Close() {
	var errs []error
	if a.service != nil {
		errs = append(errs, a.service.Close())
	} else if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	if a.jobsDB != nil {
		errs = append(errs, a.jobsDB.Close())
	}
	if a.db != nil {
		errs = append(errs, a.db.Close())
	}
	if err := stdErrors.Join(errs...); err != nil {
		logger.L().Warn("释放资源失败", slog.Any("error", err))
	}
}
