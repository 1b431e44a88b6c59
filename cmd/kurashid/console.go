package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"Kurashi-Agents/internal/transport/console"
)

func newConsoleCmd(opts *rootOptions) *cobra.Command {
	var (
		userID string
		exec   string
	)
	cmd := &cobra.Command{
		Use:   "console",
		Short: "在终端中与智能体对话（使用进程内队列）",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()
			// 控制台总是使用内存队列，避免与正在运行的 serve 争抢任务。
			if err := a.openQueue(ctx, "memory"); err != nil {
				return err
			}

			procCtx, cancel := context.WithCancel(ctx)
			done := make(chan struct{})
			go func() {
				defer close(done)
				_ = a.newProcessor().Start(procCtx)
			}()
			defer func() {
				cancel()
				<-done
			}()

			c := console.New(a.service,
				console.WithUserID(userID),
				console.WithOutput(cmd.OutOrStdout()),
				console.WithTimeout(cfg.Dispatch.WaitTimeout),
				console.WithHistoryFile(filepath.Join(cfg.Runtime.DataDir, ".console_history")),
			)
			if exec != "" {
				reply, err := c.Ask(ctx, exec)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), reply)
				return nil
			}
			return c.Run(ctx)
		},
	}
	cmd.Flags().StringVarP(&userID, "user", "u", "console", "记录归属的用户 ID")
	cmd.Flags().StringVarP(&exec, "exec", "e", "", "只处理一条消息并退出")
	return cmd
}
