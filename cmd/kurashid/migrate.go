package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newMigrateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "执行数据库迁移并创建数据驱动智能体的表",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			// newApp 会依次执行各智能体迁移、定义文件建表与任务库迁移。
			a, err := newApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer a.Close()
			fmt.Fprintf(cmd.OutOrStdout(), "migrated %s (%d agents, job store: %s)\n",
				cfg.Storage.Database, a.registry.Len(), cfg.Storage.Jobs.Driver)
			return nil
		},
	}
}
