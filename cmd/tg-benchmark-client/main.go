// Package main provides tg-benchmark-client, the process launched once per
// concurrent client. It reads its options from _TANGO_BENCHMARK_* variables
// and prints "<successes> <elapsed seconds> <errors>" on stdout.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/weiihann/tangobench/driver"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "tg-benchmark-client:", err)
		stop()
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var verbose bool

	kinds := make([]string, len(driver.Kinds))
	for i, k := range driver.Kinds {
		kinds[i] = string(k)
	}

	cmd := &cobra.Command{
		Use:   "tg-benchmark-client <" + strings.Join(kinds, "|") + ">",
		Short: "Run one benchmark client against a device",
		Long: `Runs a single benchmark client. Options are read from the environment
as _TANGO_BENCHMARK_<OPTION>, e.g. _TANGO_BENCHMARK_DEVICE and
_TANGO_BENCHMARK_PERIOD.`,
		Args:          cobra.ExactArgs(1),
		ValidArgs:     kinds,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			level := slog.LevelWarn
			if verbose {
				level = slog.LevelDebug
			}

			logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
				Level: level,
			}))

			kind, err := driver.ParseKind(args[0])
			if err != nil {
				return err
			}

			_, err = driver.Run(cmd.Context(), kind, driver.Deps{
				Stdout: cmd.OutOrStdout(),
				Logger: logger.With(slog.String("benchmark", string(kind))),
			})

			return err
		},
	}

	cmd.Flags().BoolVar(&verbose, "verbose", false, "Log at debug level")

	return cmd
}
