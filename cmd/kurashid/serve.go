package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"Kurashi-Agents/internal/api"
	"Kurashi-Agents/internal/auth"
	"Kurashi-Agents/internal/config"
	"Kurashi-Agents/internal/dispatch"
	"Kurashi-Agents/internal/observability/metrics"
	"Kurashi-Agents/internal/transport/discord"
	"Kurashi-Agents/pkg/logger"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "启动 Discord 机器人、任务处理器与 HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			defer logger.Sync()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cfg)
		},
	}
}

func runServe(ctx context.Context, cfg *config.Config) error {
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	if err := a.openQueue(ctx, cfg.Queue.Driver); err != nil {
		return err
	}

	var (
		procOpts []dispatch.ProcessorOption
		bot      *discord.Bot
	)
	if cfg.Discord.Enabled {
		bot, err = discord.New(discord.Config{
			Token:           cfg.Discord.Token,
			GuildID:         cfg.Discord.GuildID,
			Channels:        cfg.Discord.Channels,
			MentionChannels: cfg.Discord.MentionChannels,
			AllowDM:         cfg.Discord.AllowDM,
			RatePerMinute:   cfg.Discord.RatePerMinute,
			Burst:           cfg.Discord.Burst,
		}, a.service)
		if err != nil {
			return err
		}
		procOpts = append(procOpts, dispatch.WithResponder(dispatch.SourceDiscord, bot))
	}
	processor := a.newProcessor(procOpts...)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return ignoreCanceled(processor.Start(gctx))
	})
	if bot != nil {
		g.Go(func() error { return bot.Run(gctx) })
	}
	if cfg.API.Enabled {
		server := api.NewServer(cfg.API.Address, a.service, a.registry, apiOptions(cfg)...)
		g.Go(func() error { return server.Start(gctx) })
	}
	if cfg.Metrics.Address != "" {
		g.Go(func() error { return metrics.StartServer(gctx, cfg.Metrics.Address) })
	}
	if a.loader != nil && cfg.Agents.Watch {
		g.Go(func() error {
			return config.Watch(gctx, a.loader.Path(), func() {
				if err := a.loader.Reload(gctx); err != nil {
					logger.L().Error("重新加载智能体定义失败，继续使用旧定义", slog.Any("error", err))
				}
			})
		})
	}

	if bot == nil && !cfg.API.Enabled {
		logger.L().Warn("Discord 与 API 均未启用，只运行任务处理器")
	}
	logger.L().Info("kurashid 已启动",
		slog.Int("agents", a.registry.Len()),
		slog.String("queue", cfg.Queue.Driver),
		slog.String("job_store", cfg.Storage.Jobs.Driver),
		slog.Bool("discord", bot != nil),
		slog.Bool("api", cfg.API.Enabled),
	)
	return g.Wait()
}

func apiOptions(cfg *config.Config) []api.Option {
	opts := []api.Option{api.WithWaitTimeout(cfg.Dispatch.WaitTimeout)}
	if cfg.API.Token != "" {
		authn := auth.NewTokenAuthenticator().AddToken(cfg.API.Token, auth.Subject{
			Name:        "api",
			Permissions: []string{auth.PermissionRead, auth.PermissionWrite},
		})
		opts = append(opts, api.WithAuthenticator(authn))
	}
	if cfg.Metrics.Address != "" {
		opts = append(opts, api.WithoutMetrics())
	}
	return opts
}
