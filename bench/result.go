// Package bench runs a single remote operation in a timed loop and reports
// how many attempts succeeded and failed.
package bench

import (
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Result is the outcome of one benchmark loop. It is produced once, when the
// loop exits, and never modified afterwards.
type Result struct {
	SuccessCount   uint64  `json:"success_count"`
	ErrorCount     uint64  `json:"error_count"`
	ElapsedSeconds float64 `json:"elapsed_seconds"`
}

// Speed returns successful operations per second.
func (r Result) Speed() float64 {
	if r.ElapsedSeconds <= 0 {
		return 0
	}

	return float64(r.SuccessCount) / r.ElapsedSeconds
}

// String formats r as the driver summary line:
// "<successCount> <elapsedSeconds> <errorCount>".
func (r Result) String() string {
	return fmt.Sprintf("%d %s %d",
		r.SuccessCount,
		strconv.FormatFloat(r.ElapsedSeconds, 'f', -1, 64),
		r.ErrorCount,
	)
}

// WriteResult writes the summary line for r to w.
func WriteResult(w io.Writer, r Result) error {
	_, err := fmt.Fprintln(w, r.String())

	return err
}

// ParseResult parses a summary line produced by String.
func ParseResult(line string) (Result, error) {
	fields := strings.Fields(line)
	if len(fields) != 3 {
		return Result{}, fmt.Errorf(
			"summary line %q: want 3 fields, got %d", line, len(fields),
		)
	}

	success, err := strconv.ParseUint(fields[0], 10, 64)
	if err != nil {
		return Result{}, fmt.Errorf("parse success count: %w", err)
	}

	elapsed, err := strconv.ParseFloat(fields[1], 64)
	if err != nil {
		return Result{}, fmt.Errorf("parse elapsed seconds: %w", err)
	}

	errorCount, err := strconv.ParseUint(fields[2], 10, 64)
	if err != nil {
		return Result{}, fmt.Errorf("parse error count: %w", err)
	}

	return Result{
		SuccessCount:   success,
		ErrorCount:     errorCount,
		ElapsedSeconds: elapsed,
	}, nil
}
