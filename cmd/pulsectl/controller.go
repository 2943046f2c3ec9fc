package main

import (
	"os/signal"
	"syscall"

	"github.com/danmuck/pulsewire/internal/config"
	"github.com/danmuck/pulsewire/internal/controller"
	"github.com/danmuck/pulsewire/internal/protocol/session"
	"github.com/spf13/cobra"
)

func controllerCmd() *cobra.Command {
	var path string

	cmd := &cobra.Command{
		Use:   "controller",
		Short: "Run the coverage controller",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadControllerConfig(path)
			if err != nil {
				return err
			}
			srv, err := controller.NewServer(cfg, session.DefaultConfig())
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return srv.Run(ctx)
		},
	}

	cmd.Flags().StringVarP(&path, "config", "c", "controller.toml", "Controller config file")
	return cmd
}
