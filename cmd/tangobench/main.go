// Package main provides the CLI entry point for tangobench, which runs
// suites of concurrent device benchmarks and serves benchmark targets.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/weiihann/tangobench/harness"
	"github.com/weiihann/tangobench/report"
	"github.com/weiihann/tangobench/suite"
	"github.com/weiihann/tangobench/target"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := newRootCmd(logger)
	if err := root.ExecuteContext(ctx); err != nil {
		logger.Error("tangobench failed", slog.String("error", err.Error()))
		stop()
		os.Exit(1)
	}
}

func newRootCmd(logger *slog.Logger) *cobra.Command {
	root := &cobra.Command{
		Use:   "tangobench",
		Short: "Concurrent device benchmarking tool",
		Long: `Tangobench measures how many commands, attribute reads and writes, pipe
transfers and events a device sustains by launching concurrent benchmark
clients for a fixed period and aggregating their results.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(newRunCmd(logger))
	root.AddCommand(newTargetCmd(logger))

	return root
}

func newRunCmd(logger *slog.Logger) *cobra.Command {
	var (
		cfg     runConfig
		options []string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a benchmark suite",
		Long: `Run every benchmark of a suite file, or a single benchmark given by
flags, once per requested number of concurrent clients and report the
aggregated counts, speeds and errors.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts, err := parseOptions(options)
			if err != nil {
				return err
			}
			cfg.options = opts

			return runSuite(cmd.Context(), logger, cfg)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&cfg.suitePath, "suite", "",
		"Path to a YAML or JSON suite file")
	flags.StringVar(&cfg.benchmark, "benchmark", "",
		"Benchmark to run when no suite is given (command, read, write, ...)")
	flags.StringVar(&cfg.device, "device", "",
		"Device to benchmark")
	flags.StringVar(&cfg.clients, "clients", suite.DefaultClients,
		"Client counts, e.g. 1,2,4:16:4")
	flags.StringVar(&cfg.period, "period", suite.DefaultPeriod,
		"Benchmark period in seconds")
	flags.StringArrayVar(&options, "option", nil,
		"Driver option as key=value (repeatable)")
	flags.StringVar(&cfg.title, "title", "",
		"Report title")
	flags.StringVar(&cfg.description, "description", suite.DefaultDescription,
		"Report description")
	flags.StringVar(&cfg.workerProgram, "worker-program", "",
		"External client program to run instead of the built-in client")
	flags.BoolVar(&cfg.outputJSON, "json", false,
		"Output results as JSON instead of markdown")
	flags.StringVar(&cfg.csvPath, "csv", "",
		"Also write results to this CSV file")
	flags.BoolVar(&cfg.serveTarget, "serve-target", false,
		"Serve the benchmarked devices from an in-process target")
	flags.StringVar(&cfg.listen, "listen", "127.0.0.1:1883",
		"Broker address of the in-process target")
	flags.StringVar(&cfg.binDir, "bin-dir", "bin",
		"Directory holding the client binary")
	flags.BoolVar(&cfg.skipBuild, "skip-build", false,
		"Skip building the client binary")

	return cmd
}

type runConfig struct {
	suitePath     string
	benchmark     string
	device        string
	clients       string
	period        string
	options       map[string]string
	title         string
	description   string
	workerProgram string
	outputJSON    bool
	csvPath       string
	serveTarget   bool
	listen        string
	binDir        string
	skipBuild     bool
}

func parseOptions(kvs []string) (map[string]string, error) {
	opts := make(map[string]string, len(kvs))

	for _, kv := range kvs {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid option %q, want key=value", kv)
		}

		opts[strings.ToLower(k)] = v
	}

	return opts, nil
}

func loadSuite(cfg runConfig) (*suite.Suite, error) {
	if cfg.suitePath != "" {
		return suite.Load(cfg.suitePath)
	}

	if cfg.benchmark == "" {
		return nil, fmt.Errorf("either --suite or --benchmark must be specified")
	}

	e := suite.Entry{
		Benchmark:     cfg.benchmark,
		Title:         cfg.title,
		Description:   cfg.description,
		Clients:       cfg.clients,
		Period:        cfg.period,
		Device:        cfg.device,
		WorkerProgram: cfg.workerProgram,
	}
	if _, err := e.Kind(); err != nil {
		return nil, err
	}

	return &suite.Suite{Entries: []suite.Entry{e}}, nil
}

func runSuite(ctx context.Context, logger *slog.Logger, cfg runConfig) error {
	s, err := loadSuite(cfg)
	if err != nil {
		return err
	}

	for i := range s.Entries {
		if s.Entries[i].Options == nil {
			s.Entries[i].Options = make(map[string]string)
		}
		for k, v := range cfg.options {
			s.Entries[i].Options[k] = v
		}
	}

	if cfg.serveTarget {
		srv, broker, err := serveTarget(logger, cfg.listen, s)
		if err != nil {
			return err
		}
		defer func() {
			closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
			defer cancel()

			if err := srv.Close(closeCtx); err != nil {
				logger.Warn("closing target", slog.String("error", err.Error()))
			}
		}()

		for i := range s.Entries {
			if _, ok := s.Entries[i].Options["broker"]; !ok {
				s.Entries[i].Options["broker"] = broker
			}
		}
	}

	binPath, err := clientBinary(ctx, logger, cfg, s)
	if err != nil {
		return err
	}

	var csvFile *os.File
	if cfg.csvPath != "" {
		csvFile, err = os.Create(cfg.csvPath)
		if err != nil {
			return fmt.Errorf("create csv file: %w", err)
		}
		defer csvFile.Close()
	}

	reports := make([]report.Report, 0, len(s.Entries))

	for _, e := range s.Entries {
		rep, err := runEntry(ctx, logger, binPath, e)
		if err != nil {
			return err
		}

		reports = append(reports, rep)

		if !cfg.outputJSON {
			if err := report.Generate(os.Stdout, rep); err != nil {
				return fmt.Errorf("generate report: %w", err)
			}
		}
		if csvFile != nil {
			if err := report.GenerateCSV(csvFile, rep); err != nil {
				return fmt.Errorf("generate CSV report: %w", err)
			}
		}
	}

	if cfg.outputJSON {
		if err := report.GenerateJSON(os.Stdout, reports); err != nil {
			return fmt.Errorf("generate JSON report: %w", err)
		}
	}

	logger.InfoContext(ctx, "benchmark complete", slog.Int("benchmarks", len(reports)))

	return nil
}

// clientBinary builds the client unless every entry uses an external
// program or building is skipped.
func clientBinary(ctx context.Context, logger *slog.Logger, cfg runConfig, s *suite.Suite) (string, error) {
	binDir, err := filepath.Abs(cfg.binDir)
	if err != nil {
		return "", fmt.Errorf("resolve bin dir: %w", err)
	}

	needed := false
	for _, e := range s.Entries {
		if e.WorkerProgram == "" {
			needed = true
		}
	}

	if !needed || cfg.skipBuild {
		return harness.ResolveBinary(binDir), nil
	}

	srcDir, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("resolve source dir: %w", err)
	}

	return harness.Build(ctx, logger, srcDir, binDir)
}

func runEntry(ctx context.Context, logger *slog.Logger, binPath string, e suite.Entry) (report.Report, error) {
	kind, err := e.Kind()
	if err != nil {
		return report.Report{}, err
	}

	setup, err := e.Setup()
	if err != nil {
		return report.Report{}, err
	}

	runs, err := e.Expand()
	if err != nil {
		return report.Report{}, err
	}

	rep := report.Report{
		Title:       e.Title,
		Description: e.Description,
		Benchmark:   kind,
		Date:        time.Now(),
		Setup:       setup,
	}
	if rep.Title == "" {
		rep.Title = report.Title(kind)
	}
	if rep.Description == "" {
		rep.Description = suite.DefaultDescription
	}

	cmdCfg := harness.WrapCommand(kind, binPath, e.WorkerProgram)
	runner := harness.NewRunner(string(kind), cmdCfg.Binary, cmdCfg.ExtraArgs, cmdCfg.Env, logger)

	for _, run := range runs {
		logger.InfoContext(ctx, "starting run",
			slog.String("benchmark", string(kind)),
			slog.Int("run", run.Index),
			slog.Int("clients", run.Clients),
		)

		results, err := runner.RunClients(ctx, run.Clients, harness.RunConfig{
			Options: run.Options,
			Timeout: runTimeout(run.Options["period"]),
		})
		if err != nil {
			return report.Report{}, fmt.Errorf("%s run %d: %w", kind, run.Index, err)
		}

		rep.Rows = append(rep.Rows, report.Row{
			Run:     run.Index,
			Summary: report.Summarize(results),
			Results: results,
		})
	}

	return rep, nil
}

// runTimeout bounds a client process: the benchmark period plus time to
// connect, settle and clean up.
func runTimeout(period string) time.Duration {
	secs, err := strconv.ParseFloat(period, 64)
	if err != nil || secs < 0 {
		secs = 0
	}

	return time.Duration(secs*float64(time.Second)) + time.Minute
}

func serveTarget(logger *slog.Logger, listen string, s *suite.Suite) (*target.Server, string, error) {
	cfg, err := target.LoadConfig()
	if err != nil {
		return nil, "", err
	}

	cfg.Listen = listen
	cfg.HTTP = ""
	cfg.Devices = targetDevices(s)

	srv, err := target.New(cfg, logger.With(slog.String("component", "target")))
	if err != nil {
		return nil, "", err
	}
	if err := srv.Start(); err != nil {
		return nil, "", fmt.Errorf("start target: %w", err)
	}

	return srv, brokerURL(listen), nil
}

// targetDevices lists the devices named by the suite, once each.
func targetDevices(s *suite.Suite) []string {
	seen := make(map[string]bool)

	var names []string
	add := func(name string) {
		if name != "" && !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}

	for _, name := range s.Devices {
		add(name)
	}
	for _, e := range s.Entries {
		if setup, err := e.Setup(); err == nil {
			add(setup["device"])
		}
	}

	return names
}

func brokerURL(listen string) string {
	if strings.HasPrefix(listen, ":") {
		return "tcp://localhost" + listen
	}

	return "tcp://" + listen
}
