package driver

import (
	"bytes"
	"context"
	"net"
	"testing"
	"time"

	"github.com/weiihann/tangobench/target"
)

func startTarget(t *testing.T) string {
	t.Helper()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := l.Addr().String()
	l.Close()

	srv, err := target.New(target.Config{
		Listen:       addr,
		Devices:      []string{"test/benchmark/1"},
		SpectrumSize: 16,
		ImageRows:    4,
		ImageCols:    4,
		EventSleep:   time.Millisecond,
	}, nil)
	if err != nil {
		t.Fatalf("target.New: %v", err)
	}
	if err := srv.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Close(ctx)
	})

	return "tcp://" + addr
}

func TestCommandAgainstTarget(t *testing.T) {
	setOptions(t, map[string]string{
		"BROKER":  startTarget(t),
		"DEVICE":  "test/benchmark/1",
		"COMMAND": "BenchmarkCommand",
		"PERIOD":  "0",
	})

	var out bytes.Buffer
	res, err := Run(context.Background(), KindCommand, Deps{Stdout: &out})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if res.SuccessCount != 1 || res.ErrorCount != 0 {
		t.Errorf("counts = %d/%d, want 1/0", res.SuccessCount, res.ErrorCount)
	}
	if !summaryLine.MatchString(out.String()) {
		t.Errorf("output %q does not match %s", out.String(), summaryLine)
	}
}

func TestPushEventAgainstTarget(t *testing.T) {
	setOptions(t, map[string]string{
		"BROKER":    startTarget(t),
		"DEVICE":    "test/benchmark/1",
		"ATTRIBUTE": "BenchmarkScalarAttribute",
		"PERIOD":    "0.2",
		"SLEEP":     "1",
		"SETTLE":    "100",
	})

	var out bytes.Buffer
	res, err := Run(context.Background(), KindPushEvent, Deps{Stdout: &out})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if res.SuccessCount == 0 {
		t.Error("no events received")
	}
	if res.ErrorCount != 0 {
		t.Errorf("errors = %d, want 0", res.ErrorCount)
	}
	if res.ElapsedSeconds < 0.2 {
		t.Errorf("elapsed = %v, want at least 0.2", res.ElapsedSeconds)
	}
}
