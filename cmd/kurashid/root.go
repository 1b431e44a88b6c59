package main

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"Kurashi-Agents/internal/config"
	"Kurashi-Agents/pkg/logger"
)

type rootOptions struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "kurashid",
		Short:         "くらしエージェント: 食事・掃除・日記などの記録ボット",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "",
		"配置文件路径（默认 $KURASHI_CONFIG 或 "+config.DefaultPath+"）")

	cmd.AddCommand(
		newServeCmd(opts),
		newConsoleCmd(opts),
		newMigrateCmd(opts),
		newAgentsCmd(opts),
	)
	return cmd
}

// load 读取配置并初始化日志。
func (o *rootOptions) load() (*config.Config, error) {
	cfg, err := config.Load(config.ResolvePath(o.configPath))
	if err != nil {
		return nil, err
	}
	if err := logger.Init(loggerConfig(cfg.Logging)); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loggerConfig(cfg config.LoggingConfig) logger.Config {
	return logger.Config{
		Level:       cfg.Level,
		Format:      cfg.Format,
		OutputPaths: cfg.Outputs,
		AddSource:   cfg.AddSource,
		Audit: logger.AuditConfig{
			Enabled:    cfg.AuditPath != "",
			Path:       cfg.AuditPath,
			MaxSizeMB:  cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAgeDays: cfg.MaxAgeDays,
		},
	}
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
