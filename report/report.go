// Package report formats benchmark summaries as markdown, CSV or JSON.
package report

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/weiihann/tangobench/driver"
	"github.com/weiihann/tangobench/harness"
)

const dateLayout = "2006-01-02 15:04:05.000000-0700"

// Row is one run of the benchmark with a given number of clients.
type Row struct {
	Run int `json:"run"`
	Summary
	Results []harness.Result `json:"results,omitempty"`
}

// Report is the outcome of one suite entry.
type Report struct {
	Title       string            `json:"title"`
	Description string            `json:"description"`
	Benchmark   driver.Kind       `json:"benchmark"`
	Date        time.Time         `json:"date"`
	Setup       map[string]string `json:"setup"`
	Rows        []Row             `json:"rows"`
}

// Unit names what a benchmark counts, for column headers.
func Unit(kind driver.Kind) string {
	switch kind {
	case driver.KindCommand:
		return "call"
	case driver.KindRead, driver.KindPipeRead:
		return "read"
	case driver.KindWrite, driver.KindPipeWrite:
		return "write"
	case driver.KindEvent, driver.KindPushEvent:
		return "event"
	}

	return "op"
}

// Title returns the default report title for a benchmark.
func Title(kind driver.Kind) string {
	switch kind {
	case driver.KindCommand:
		return "Command Benchmark"
	case driver.KindRead:
		return "Read Benchmark"
	case driver.KindWrite:
		return "Write Benchmark"
	case driver.KindPipeRead:
		return "Pipe Read Benchmark"
	case driver.KindPipeWrite:
		return "Pipe Write Benchmark"
	case driver.KindEvent:
		return "Event Benchmark"
	case driver.KindPushEvent:
		return "Push Event Benchmark"
	}

	return "Benchmark"
}

// Headers returns the result table column names.
func Headers(kind driver.Kind) []string {
	u := Unit(kind)

	return []string{
		"Run no.", "No. clients",
		"Sum counts [" + u + "]", "SD [" + u + "]",
		"Sum Speed [" + u + "/s]", "SD [" + u + "/s]",
		"Counts [" + u + "]", "SD [" + u + "]",
		"Speed [" + u + "/s]", "SD [" + u + "/s]",
		"Time [s]", "SD [s]", "Errors",
	}
}

// Record returns the table cells for a row.
func Record(row Row) []string {
	rec := []string{strconv.Itoa(row.Run), strconv.Itoa(row.Clients)}

	for _, s := range []Stat{row.SumCounts, row.SumSpeed, row.Counts, row.Speed, row.Time} {
		mean, sd := s.Strings()
		rec = append(rec, mean, sd)
	}

	return append(rec, strconv.FormatUint(row.ErrorSum, 10))
}

func setupLines(setup map[string]string) []string {
	keys := slices.Sorted(maps.Keys(setup))

	lines := make([]string, 0, len(keys))
	for _, k := range keys {
		lines = append(lines, k+"="+setup[k])
	}

	return lines
}

// Generate writes a markdown report.
func Generate(w io.Writer, rep Report) error {
	if len(rep.Rows) == 0 {
		return fmt.Errorf("no results to report")
	}

	fmt.Fprintf(w, "## %s\n\n", rep.Title)

	if rep.Description != "" {
		fmt.Fprintf(w, "%s\n\n", rep.Description)
	}

	fmt.Fprintf(w, "**Date:** %s\n\n", rep.Date.Format(dateLayout))

	fmt.Fprintln(w, "### Benchmark setup")
	fmt.Fprintln(w)

	for _, line := range setupLines(rep.Setup) {
		fmt.Fprintf(w, "- %s\n", line)
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, "### Results")
	fmt.Fprintln(w)

	headers := Headers(rep.Benchmark)
	fmt.Fprintf(w, "| %s |\n", strings.Join(headers, " | "))

	sep := make([]string, len(headers))
	for i, h := range headers {
		sep[i] = strings.Repeat("-", len(h))
	}
	fmt.Fprintf(w, "|-%s-|\n", strings.Join(sep, "-|-"))

	for _, row := range rep.Rows {
		if _, err := fmt.Fprintf(w, "| %s |\n", strings.Join(Record(row), " | ")); err != nil {
			return fmt.Errorf("write row %d: %w", row.Run, err)
		}
	}

	fmt.Fprintln(w)

	return nil
}

// GenerateCSV writes the report as CSV: title, date and setup rows followed
// by the result table.
func GenerateCSV(w io.Writer, rep Report) error {
	cw := csv.NewWriter(w)

	rows := [][]string{
		{rep.Title},
		{rep.Date.Format(dateLayout)},
		setupLines(rep.Setup),
		Headers(rep.Benchmark),
	}
	for _, row := range rep.Rows {
		rows = append(rows, Record(row))
	}

	if err := cw.WriteAll(rows); err != nil {
		return fmt.Errorf("write csv: %w", err)
	}

	return nil
}

// GenerateJSON writes reports as JSON to w.
func GenerateJSON(w io.Writer, reports []Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	return enc.Encode(reports)
}
