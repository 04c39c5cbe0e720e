package report

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/weiihann/tangobench/bench"
	"github.com/weiihann/tangobench/driver"
	"github.com/weiihann/tangobench/harness"
)

func result(worker int, count uint64, elapsed float64, errs uint64) harness.Result {
	return harness.Result{
		Worker: worker,
		Result: bench.Result{SuccessCount: count, ElapsedSeconds: elapsed, ErrorCount: errs},
	}
}

func TestSummarize(t *testing.T) {
	got := Summarize([]harness.Result{
		result(0, 100, 2, 1),
		result(1, 300, 2, 2),
	})

	want := Summary{
		Clients:   2,
		Counts:    Stat{Mean: 200, SD: 100},
		Speed:     Stat{Mean: 100, SD: 50},
		SumCounts: Stat{Mean: 400, SD: 200},
		SumSpeed:  Stat{Mean: 200, SD: 100},
		Time:      Stat{Mean: 2, SD: 0},
		ErrorSum:  3,
	}
	if diff := cmp.Diff(want, got, cmpopts.EquateApprox(0, 1e-9)); diff != "" {
		t.Errorf("summary mismatch (-want +got):\n%s", diff)
	}
}

func TestSummarizeSpeedPropagatesTimeSpread(t *testing.T) {
	got := Summarize([]harness.Result{
		result(0, 10, 1, 0),
		result(1, 10, 3, 0),
	})

	// mean time 2, sd 1; counts constant.
	wantSD := math.Sqrt(1 * 10 * 10 / math.Pow(2, 4))
	if got.Speed.Mean != 5 {
		t.Errorf("speed mean = %v, want 5", got.Speed.Mean)
	}
	if math.Abs(got.Speed.SD-wantSD) > 1e-12 {
		t.Errorf("speed sd = %v, want %v", got.Speed.SD, wantSD)
	}
}

func TestSummarizeEmpty(t *testing.T) {
	if got := Summarize(nil); got != (Summary{}) {
		t.Errorf("Summarize(nil) = %+v", got)
	}
}

func TestSummarizeZeroTime(t *testing.T) {
	got := Summarize([]harness.Result{result(0, 5, 0, 0)})
	if got.Speed.Mean != 0 || math.IsNaN(got.Speed.SD) {
		t.Errorf("speed = %+v, want zero", got.Speed)
	}
}

func TestPrecision(t *testing.T) {
	tests := []struct {
		sd   float64
		want int
	}{
		{0, -1},
		{1000, 0},
		{100, 0},
		{50, 0},
		{1, 2},
		{0.5, 2},
		{0.05, 3},
	}

	for _, tt := range tests {
		if got := precision(tt.sd); got != tt.want {
			t.Errorf("precision(%v) = %d, want %d", tt.sd, got, tt.want)
		}
	}
}

func TestStatStrings(t *testing.T) {
	tests := []struct {
		stat     Stat
		mean, sd string
	}{
		{Stat{Mean: 200, SD: 0}, "200", "0"},
		{Stat{Mean: 1234.5678, SD: 12.3}, "1235", "12"},
		{Stat{Mean: 0.123456, SD: 0.0042}, "0.1235", "0.0042"},
	}

	for _, tt := range tests {
		mean, sd := tt.stat.Strings()
		if mean != tt.mean || sd != tt.sd {
			t.Errorf("%+v.Strings() = %q, %q, want %q, %q", tt.stat, mean, sd, tt.mean, tt.sd)
		}
	}
}

func testReport() Report {
	results := []harness.Result{result(0, 100, 2, 0), result(1, 300, 2, 1)}

	return Report{
		Title:       "Command Benchmark",
		Description: "Speed test",
		Benchmark:   driver.KindCommand,
		Date:        time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		Setup:       map[string]string{"period": "1", "device": "test/benchmark/1"},
		Rows: []Row{
			{Run: 0, Summary: Summarize(results[:1]), Results: results[:1]},
			{Run: 1, Summary: Summarize(results), Results: results},
		},
	}
}

func TestGenerate(t *testing.T) {
	var buf bytes.Buffer
	if err := Generate(&buf, testReport()); err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	output := buf.String()

	for _, want := range []string{
		"## Command Benchmark",
		"Speed test",
		"**Date:** 2026-01-02 03:04:05.000000+0000",
		"- device=test/benchmark/1\n- period=1",
		"| Run no. | No. clients | Sum counts [call] |",
		"| 1 | 2 | 400 | 200 | 200 | 100 | 200 | 100 | 100 | 50 | 2 | 0 | 1 |",
	} {
		if !strings.Contains(output, want) {
			t.Errorf("output missing %q\n%s", want, output)
		}
	}
}

func TestGenerateEmpty(t *testing.T) {
	var buf bytes.Buffer
	if err := Generate(&buf, Report{}); err == nil {
		t.Error("expected error for empty results")
	}
}

func TestGenerateCSV(t *testing.T) {
	var buf bytes.Buffer
	if err := GenerateCSV(&buf, testReport()); err != nil {
		t.Fatalf("GenerateCSV failed: %v", err)
	}

	r := csv.NewReader(&buf)
	r.FieldsPerRecord = -1
	rows, err := r.ReadAll()
	if err != nil {
		t.Fatalf("output is not valid CSV: %v", err)
	}

	if len(rows) != 6 {
		t.Fatalf("rows = %d, want 6", len(rows))
	}
	if rows[0][0] != "Command Benchmark" {
		t.Errorf("title row = %v", rows[0])
	}
	if diff := cmp.Diff([]string{"device=test/benchmark/1", "period=1"}, rows[2]); diff != "" {
		t.Errorf("setup row mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(Headers(driver.KindCommand), rows[3]); diff != "" {
		t.Errorf("header mismatch (-want +got):\n%s", diff)
	}
	if rows[5][12] != "1" {
		t.Errorf("error sum = %q, want 1", rows[5][12])
	}
}

func TestGenerateJSON(t *testing.T) {
	var buf bytes.Buffer
	if err := GenerateJSON(&buf, []Report{testReport()}); err != nil {
		t.Fatalf("GenerateJSON failed: %v", err)
	}

	var parsed []Report
	if err := json.Unmarshal(buf.Bytes(), &parsed); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}

	if len(parsed) != 1 || len(parsed[0].Rows) != 2 {
		t.Fatalf("parsed = %+v", parsed)
	}
	if parsed[0].Rows[1].Clients != 2 {
		t.Errorf("clients = %d, want 2", parsed[0].Rows[1].Clients)
	}
	if parsed[0].Rows[1].Results[1].SuccessCount != 300 {
		t.Errorf("success = %d, want 300", parsed[0].Rows[1].Results[1].SuccessCount)
	}
}

func TestUnitAndTitle(t *testing.T) {
	for _, k := range driver.Kinds {
		if Unit(k) == "op" {
			t.Errorf("Unit(%s) has no specific unit", k)
		}
		if Title(k) == "Benchmark" {
			t.Errorf("Title(%s) has no specific title", k)
		}
	}
}
