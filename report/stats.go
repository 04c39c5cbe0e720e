package report

import (
	"math"
	"strconv"

	"github.com/weiihann/tangobench/harness"
)

// Stat is a mean with its standard deviation.
type Stat struct {
	Mean float64 `json:"mean"`
	SD   float64 `json:"sd"`
}

// Summary aggregates the results of one run of concurrent clients.
type Summary struct {
	Clients   int    `json:"clients"`
	Counts    Stat   `json:"counts"`
	Speed     Stat   `json:"speed"`
	SumCounts Stat   `json:"sum_counts"`
	SumSpeed  Stat   `json:"sum_speed"`
	Time      Stat   `json:"time"`
	ErrorSum  uint64 `json:"error_sum"`
}

// Summarize computes per-client means with population standard
// deviations. Speed is mean counts over mean time, its deviation
// propagated from both. Sums are n times the per-client values.
func Summarize(results []harness.Result) Summary {
	n := len(results)
	if n == 0 {
		return Summary{}
	}

	counts := make([]float64, n)
	times := make([]float64, n)

	var errs uint64
	for i, r := range results {
		counts[i] = float64(r.SuccessCount)
		times[i] = r.ElapsedSeconds
		errs += r.ErrorCount
	}

	c := meanSD(counts)
	t := meanSD(times)

	var speed Stat
	if t.Mean > 0 {
		speed.Mean = c.Mean / t.Mean
		speed.SD = math.Sqrt(
			c.SD*c.SD/(t.Mean*t.Mean) +
				t.SD*t.SD*c.Mean*c.Mean/math.Pow(t.Mean, 4),
		)
	}

	fn := float64(n)

	return Summary{
		Clients:   n,
		Counts:    c,
		Speed:     speed,
		SumCounts: Stat{Mean: fn * c.Mean, SD: fn * c.SD},
		SumSpeed:  Stat{Mean: fn * speed.Mean, SD: fn * speed.SD},
		Time:      t,
		ErrorSum:  errs,
	}
}

func meanSD(xs []float64) Stat {
	var sum float64
	for _, x := range xs {
		sum += x
	}
	mean := sum / float64(len(xs))

	var sq float64
	for _, x := range xs {
		sq += (x - mean) * (x - mean)
	}

	return Stat{Mean: mean, SD: math.Sqrt(sq / float64(len(xs)))}
}

// precision returns the number of decimals that keep two significant
// digits of sd, or -1 (shortest representation) when sd is zero.
func precision(sd float64) int {
	if sd == 0 {
		return -1
	}

	sd = max(sd, 1e-15)

	return max(0, int(2-math.Log10(sd)))
}

// Strings formats the mean and deviation with a precision derived from
// the deviation.
func (s Stat) Strings() (mean, sd string) {
	p := precision(s.SD)

	return strconv.FormatFloat(s.Mean, 'f', p, 64),
		strconv.FormatFloat(s.SD, 'f', p, 64)
}
