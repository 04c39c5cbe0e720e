// Package suite loads benchmark suite files and expands their entries
// into runs. A suite is a YAML (or JSON) list of entries:
//
//	- benchmark: read
//	  device: test/benchmark/1
//	  clients: "1,2,4:12:4"
//	  period: 5
//	  attribute: BenchmarkSpectrumAttribute
//	- target_device: test/benchmark/2
//
// Keys other than the known ones are passed to the driver as options.
// Entries naming a target_device list the devices a served target exposes.
package suite

import (
	"fmt"
	"maps"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/weiihann/tangobench/driver"
)

const (
	DefaultClients     = "1"
	DefaultPeriod      = "10"
	DefaultDescription = "Speed test"
)

// aliases maps the long benchmark names used by older suite files.
var aliases = map[string]driver.Kind{
	"cmd_benchmark":        driver.KindCommand,
	"read_benchmark":       driver.KindRead,
	"write_benchmark":      driver.KindWrite,
	"pipe_write_benchmark": driver.KindPipeWrite,
	"pipe_read_benchmark":  driver.KindPipeRead,
	"event_benchmark":      driver.KindEvent,
	"push_event_benchmark": driver.KindPushEvent,
}

// defaults are the per-benchmark driver options used when an entry omits
// them.
var defaults = map[driver.Kind]map[string]string{
	driver.KindCommand:   {"command": "BenchmarkCommand"},
	driver.KindRead:      {"attribute": "BenchmarkScalarAttribute"},
	driver.KindWrite:     {"attribute": "BenchmarkScalarAttribute", "value": "0", "shape": ""},
	driver.KindPipeWrite: {"pipe": "BenchmarkPipe", "size": "1"},
	driver.KindPipeRead:  {"pipe": "BenchmarkPipe"},
	driver.KindEvent:     {"attribute": "BenchmarkScalarAttribute"},
	driver.KindPushEvent: {"attribute": "BenchmarkScalarAttribute", "sleep": "10"},
}

// Entry is one benchmark of a suite.
type Entry struct {
	Benchmark     string            `yaml:"benchmark" json:"benchmark"`
	TargetDevice  string            `yaml:"target_device" json:"target_device,omitempty"`
	Title         string            `yaml:"title" json:"title,omitempty"`
	Description   string            `yaml:"description" json:"description,omitempty"`
	Clients       string            `yaml:"clients" json:"clients,omitempty"`
	Period        string            `yaml:"period" json:"period,omitempty"`
	Device        string            `yaml:"device" json:"device,omitempty"`
	WorkerProgram string            `yaml:"worker_program" json:"worker_program,omitempty"`
	Options       map[string]string `yaml:"options" json:"options,omitempty"`
	Extra         map[string]string `yaml:",inline" json:"-"`
}

// Suite is a parsed suite file.
type Suite struct {
	Entries []Entry
	// Devices are the target devices named by target_device entries.
	Devices []string
}

// Run is a single execution of a benchmark with a fixed number of
// concurrent clients.
type Run struct {
	Index         int
	Kind          driver.Kind
	Clients       int
	Options       map[string]string
	WorkerProgram string
}

// Load reads and parses a suite file.
func Load(path string) (*Suite, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read suite: %w", err)
	}

	s, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	return s, nil
}

// Parse decodes a suite. JSON documents are accepted as YAML.
func Parse(data []byte) (*Suite, error) {
	var entries []Entry
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("decode suite: %w", err)
	}

	s := &Suite{}

	for i, e := range entries {
		switch {
		case e.Benchmark != "":
			if _, err := e.Kind(); err != nil {
				return nil, fmt.Errorf("entry %d: %w", i, err)
			}

			s.Entries = append(s.Entries, e)
		case e.TargetDevice != "":
			s.Devices = append(s.Devices, e.TargetDevice)
		default:
			return nil, fmt.Errorf("entry %d: neither benchmark nor target_device set", i)
		}
	}

	return s, nil
}

// Kind resolves the entry's benchmark name.
func (e Entry) Kind() (driver.Kind, error) {
	if k, ok := aliases[e.Benchmark]; ok {
		return k, nil
	}

	return driver.ParseKind(e.Benchmark)
}

// Setup returns the driver options of the entry with defaults applied.
// The client count is not included.
func (e Entry) Setup() (map[string]string, error) {
	kind, err := e.Kind()
	if err != nil {
		return nil, err
	}

	opts := make(map[string]string)
	maps.Copy(opts, defaults[kind])
	maps.Copy(opts, e.Extra)
	maps.Copy(opts, e.Options)

	period := e.Period
	if period == "" {
		period = DefaultPeriod
	}
	if _, err := strconv.ParseFloat(period, 64); err != nil {
		return nil, fmt.Errorf("invalid period %q", period)
	}
	opts["period"] = period

	if e.Device != "" {
		opts["device"] = e.Device
	}
	if opts["device"] == "" {
		return nil, fmt.Errorf("%s: device not set", e.Benchmark)
	}

	return opts, nil
}

// Expand returns one run per client count of the entry.
func (e Entry) Expand() ([]Run, error) {
	kind, err := e.Kind()
	if err != nil {
		return nil, err
	}

	opts, err := e.Setup()
	if err != nil {
		return nil, err
	}

	spec := e.Clients
	if spec == "" {
		spec = DefaultClients
	}

	counts, err := ParseClients(spec)
	if err != nil {
		return nil, err
	}

	runs := make([]Run, len(counts))
	for i, n := range counts {
		runs[i] = Run{
			Index:         i,
			Kind:          kind,
			Clients:       n,
			Options:       maps.Clone(opts),
			WorkerProgram: e.WorkerProgram,
		}
	}

	return runs, nil
}

// ParseClients parses a comma separated list of client counts. An item of
// the form start:stop[:step] expands to the half-open range [start, stop).
func ParseClients(spec string) ([]int, error) {
	var counts []int

	for _, item := range strings.Split(spec, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}

		if !strings.Contains(item, ":") {
			n, err := strconv.Atoi(item)
			if err != nil || n <= 0 {
				return nil, fmt.Errorf("invalid client count %q", item)
			}

			counts = append(counts, n)

			continue
		}

		r, err := parseRange(item)
		if err != nil {
			return nil, err
		}

		counts = append(counts, r...)
	}

	if len(counts) == 0 {
		return nil, fmt.Errorf("no client counts in %q", spec)
	}

	return counts, nil
}

func parseRange(item string) ([]int, error) {
	parts := strings.Split(item, ":")
	if len(parts) > 3 {
		return nil, fmt.Errorf("invalid client range %q", item)
	}

	bounds := []int{0, 0, 1}
	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return nil, fmt.Errorf("invalid client range %q", item)
		}

		bounds[i] = n
	}

	start, stop, step := bounds[0], bounds[1], bounds[2]
	if step <= 0 || start <= 0 {
		return nil, fmt.Errorf("invalid client range %q", item)
	}

	var out []int
	for n := start; n < stop; n += step {
		out = append(out, n)
	}

	return out, nil
}
