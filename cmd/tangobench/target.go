package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/weiihann/tangobench/target"
)

func newTargetCmd(logger *slog.Logger) *cobra.Command {
	var (
		listen     string
		httpAddr   string
		devices    []string
		eventSleep time.Duration
	)

	cmd := &cobra.Command{
		Use:   "target",
		Short: "Serve benchmark devices",
		Long: `Serve benchmark devices over an embedded MQTT broker until interrupted.
Defaults are read from TANGOBENCH_TARGET_* variables; flags override them.
Counters and Prometheus metrics are exposed on the HTTP address.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := target.LoadConfig()
			if err != nil {
				return err
			}

			flags := cmd.Flags()
			if flags.Changed("listen") {
				cfg.Listen = listen
			}
			if flags.Changed("http") {
				cfg.HTTP = httpAddr
			}
			if flags.Changed("device") {
				cfg.Devices = devices
			}
			if flags.Changed("event-sleep") {
				cfg.EventSleep = eventSleep
			}

			return serve(cmd.Context(), logger, cfg)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&listen, "listen", ":1883",
		"Broker listen address")
	flags.StringVar(&httpAddr, "http", ":8080",
		"Stats and metrics address (empty disables)")
	flags.StringArrayVar(&devices, "device", nil,
		"Device name to serve (repeatable)")
	flags.DurationVar(&eventSleep, "event-sleep", 10*time.Millisecond,
		"Default period between pushed events")

	return cmd
}

func serve(ctx context.Context, logger *slog.Logger, cfg target.Config) error {
	srv, err := target.New(cfg, logger)
	if err != nil {
		return err
	}

	if err := srv.Start(); err != nil {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		_ = srv.Close(closeCtx)

		return fmt.Errorf("start target: %w", err)
	}

	<-ctx.Done()

	logger.Info("shutting down target")

	closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	return srv.Close(closeCtx)
}
