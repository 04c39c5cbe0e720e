package harness

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"os"
	"os/exec"
	"slices"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/weiihann/tangobench/bench"
	"github.com/weiihann/tangobench/driver"
)

// ErrMalformedOutput is returned when a client printed no summary line.
var ErrMalformedOutput = errors.New("no well-formed result line")

// RunConfig holds parameters for a single client execution.
type RunConfig struct {
	// Options are exported as _TANGO_BENCHMARK_<UPPER(key)>.
	Options map[string]string
	Timeout time.Duration
}

// Runner launches benchmark client processes.
type Runner struct {
	Name       string
	BinaryPath string
	ExtraArgs  []string
	Env        []string
	Logger     *slog.Logger
}

// NewRunner creates a Runner for the named benchmark. The client is
// started as binaryPath with extraArgs; env is appended to the inherited
// environment.
func NewRunner(
	name, binaryPath string,
	extraArgs, env []string,
	logger *slog.Logger,
) *Runner {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return &Runner{
		Name:       name,
		BinaryPath: binaryPath,
		ExtraArgs:  extraArgs,
		Env:        env,
		Logger:     logger.With(slog.String("benchmark", name)),
	}
}

// OptionEnv converts options to environment assignments in key order.
func OptionEnv(options map[string]string) []string {
	keys := slices.Sorted(maps.Keys(options))

	env := make([]string, 0, len(keys))
	for _, k := range keys {
		env = append(env, driver.EnvPrefix+"_"+strings.ToUpper(k)+"="+options[k])
	}

	return env
}

// Run executes one client process and returns its parsed result. A client
// that exits with an error still yields a result if it printed one.
func (r *Runner) Run(ctx context.Context, cfg RunConfig) (*Result, error) {
	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, r.BinaryPath, r.ExtraArgs...)

	cmd.Env = append(os.Environ(), r.Env...)
	cmd.Env = append(cmd.Env, OptionEnv(cfg.Options)...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	r.Logger.DebugContext(ctx, "starting client",
		slog.String("binary", r.BinaryPath),
	)

	wallStart := time.Now()
	runErr := cmd.Run()
	wallElapsed := time.Since(wallStart)

	res, parseErr := parseResult(&stdout)

	switch {
	case parseErr == nil && runErr != nil:
		r.Logger.WarnContext(ctx, "client exited with error",
			slog.String("error", runErr.Error()),
			slog.String("stderr", strings.TrimSpace(stderr.String())),
		)
	case runErr != nil:
		return nil, fmt.Errorf(
			"client %s failed: %w\nstderr: %s",
			r.Name, runErr, stderr.String(),
		)
	case parseErr != nil:
		return nil, fmt.Errorf(
			"parse %s output: %w\nstdout: %s",
			r.Name, parseErr, stdout.String(),
		)
	}

	r.Logger.DebugContext(ctx, "client finished",
		slog.Duration("wall_time", wallElapsed),
		slog.String("result", res.String()),
	)

	return &Result{Result: res}, nil
}

// RunClients starts n clients concurrently and returns their results in
// worker order. The first failure cancels the remaining clients.
func (r *Runner) RunClients(ctx context.Context, n int, cfg RunConfig) ([]Result, error) {
	if n <= 0 {
		return nil, fmt.Errorf("client count %d must be positive", n)
	}

	results := make([]Result, n)

	g, ctx := errgroup.WithContext(ctx)
	for i := range n {
		g.Go(func() error {
			res, err := r.Run(ctx, cfg)
			if err != nil {
				return fmt.Errorf("worker %d: %w", i, err)
			}

			res.Worker = i
			results[i] = *res

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	r.Logger.InfoContext(ctx, "clients finished", slog.Int("clients", n))

	return results, nil
}

// parseResult returns the first well-formed summary line in r.
func parseResult(r io.Reader) (bench.Result, error) {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		res, err := bench.ParseResult(sc.Text())
		if err == nil {
			return res, nil
		}
	}
	if err := sc.Err(); err != nil {
		return bench.Result{}, fmt.Errorf("read output: %w", err)
	}

	return bench.Result{}, ErrMalformedOutput
}
