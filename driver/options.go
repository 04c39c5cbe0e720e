package driver

import (
	"errors"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/weiihann/tangobench/bench"
)

// EnvPrefix namespaces driver options: the option "device" is read from
// _TANGO_BENCHMARK_DEVICE. Keys derive from field names; an envconfig tag
// would also make the bare name (DEVICE) a fallback key.
const EnvPrefix = "_TANGO_BENCHMARK"

// Connection holds the options shared by every driver.
type Connection struct {
	Broker   string `default:"tcp://localhost:1883"`
	Timeout  int    `default:"3000"` // ms
	Username string
	Password string
}

// CallTimeout returns the per-call device timeout.
func (c Connection) CallTimeout() time.Duration {
	return time.Duration(c.Timeout) * time.Millisecond
}

// Target names the device and how long to benchmark it, in seconds.
type Target struct {
	Device string  `required:"true"`
	Period float64 `required:"true"`
}

type CommandOptions struct {
	Connection
	Target
	Command string `required:"true"`
}

type ReadOptions struct {
	Connection
	Target
	Attribute string `required:"true"`
}

type WriteOptions struct {
	Connection
	Target
	Attribute string `required:"true"`
	Value     string `required:"true"`
	Shape     string `required:"true"`
}

type PipeWriteOptions struct {
	Connection
	Target
	Pipe string `required:"true"`
	Size int    `required:"true"`
}

type PipeReadOptions struct {
	Connection
	Target
	Pipe string `required:"true"`
}

type EventOptions struct {
	Connection
	Target
	Attribute string `required:"true"`
}

type PushEventOptions struct {
	Connection
	Target
	Attribute string  `required:"true"`
	Sleep     float64 `required:"true"` // ms between pushed events
	// Settle is the pause, in ms, after subscribing and after stopping
	// events, so in-flight events are delivered before counting.
	Settle int `default:"1000"`
}

// LoadOptions fills opts from the environment. Missing or unparseable
// options are reported as *bench.ConfigurationError.
func LoadOptions(opts any) error {
	if err := envconfig.Process(EnvPrefix, opts); err != nil {
		cfgErr := &bench.ConfigurationError{Err: err}

		var parseErr *envconfig.ParseError
		if errors.As(err, &parseErr) {
			cfgErr.Option = parseErr.KeyName
		}

		return cfgErr
	}

	return nil
}
