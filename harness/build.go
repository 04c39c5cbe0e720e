package harness

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/weiihann/tangobench/driver"
)

// ClientPackage is the Go package of the built-in benchmark client.
const ClientPackage = "./cmd/tg-benchmark-client"

// ResolveBinary returns the expected client binary path in binDir.
func ResolveBinary(binDir string) string {
	return filepath.Join(binDir, "tg-benchmark-client")
}

// Build compiles the benchmark client from the module rooted at srcDir
// into binDir.
func Build(
	ctx context.Context,
	logger *slog.Logger,
	srcDir string,
	binDir string,
) (string, error) {
	binPath := ResolveBinary(binDir)

	logger.InfoContext(ctx, "building client",
		slog.String("source_dir", srcDir),
		slog.String("binary", binPath),
	)

	cmd := exec.CommandContext(ctx, "go", "build", "-o", binPath, ClientPackage)
	cmd.Dir = srcDir
	cmd.Stdout = os.Stderr
	cmd.Stderr = os.Stderr

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("build client: %w", err)
	}

	if _, err := os.Stat(binPath); err != nil {
		return "", fmt.Errorf("build client: binary not found at %s", binPath)
	}

	logger.InfoContext(ctx, "client built", slog.String("binary", binPath))

	return binPath, nil
}

// CommandConfig holds the resolved command, extra arguments and
// environment needed to run a client.
type CommandConfig struct {
	Binary    string
	ExtraArgs []string
	Env       []string
}

// WrapCommand returns how to run a benchmark. An external program is run
// through the shell and receives only the environment; otherwise the
// built client is given the benchmark kind as its argument.
func WrapCommand(kind driver.Kind, binPath, workerProgram string) CommandConfig {
	if workerProgram != "" {
		return CommandConfig{
			Binary:    "/bin/sh",
			ExtraArgs: []string{"-c", workerProgram},
		}
	}

	return CommandConfig{
		Binary:    binPath,
		ExtraArgs: []string{string(kind)},
	}
}
