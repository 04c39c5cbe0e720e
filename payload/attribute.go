// Package payload builds attribute and pipe payloads from the string-encoded
// parameters that drivers receive through their environment.
package payload

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/weiihann/tangobench/bench"
)

// MinusSentinel stands in for a leading minus sign in numeric tokens, for
// transports that cannot carry "-" (environment variables, URLs).
const MinusSentinel = "m"

// MaxElements bounds the number of values a shape may describe.
const MaxElements = 1 << 24

// AttributePayload is the value written to, or read from, a device attribute.
// Shape has 0 (scalar), 1 (spectrum) or 2 (image, rows then columns)
// dimensions and Values holds product(Shape) elements in row-major order.
type AttributePayload struct {
	Name   string    `json:"name"`
	Shape  []uint32  `json:"shape,omitempty"`
	Values []float64 `json:"values"`
}

// Size returns the number of elements implied by Shape.
// Shapes too large to index saturate at math.MaxInt.
func (a AttributePayload) Size() int {
	if len(a.Shape) == 0 {
		return 1
	}

	n := elements(a.Shape)
	if n > math.MaxInt {
		return math.MaxInt
	}

	return int(n)
}

// elements multiplies the dimensions of shape, saturating at
// math.MaxUint64. At most two uint32 dimensions never overflow.
func elements(shape []uint32) uint64 {
	n := uint64(1)
	for _, d := range shape {
		if d != 0 && n > math.MaxUint64/uint64(d) {
			return math.MaxUint64
		}
		n *= uint64(d)
	}

	return n
}

// Scalar returns the first value, or 0 for an empty payload.
func (a AttributePayload) Scalar() float64 {
	if len(a.Values) == 0 {
		return 0
	}

	return a.Values[0]
}

var errTooManyDims = errors.New("more than 2 dimensions are not supported")

// BuildAttribute parses shapeSpec and valueSpec, both comma-separated, and
// broadcasts the values over the shape with value[i % len(values)].
//
// Tokens that do not parse are dropped. An empty value list becomes [0].
// With no shape a single value is a scalar and several values form a
// vector of all of them.
func BuildAttribute(name, shapeSpec, valueSpec string) (AttributePayload, error) {
	shape := parseShape(shapeSpec)
	values := parseValues(valueSpec)

	if len(shape) <= 2 {
		if n := elements(shape); n > MaxElements {
			return AttributePayload{}, &bench.ConfigurationError{
				Option: "shape",
				Err:    fmt.Errorf("shape %v has %d elements, limit is %d", shape, n, MaxElements),
			}
		}
	}

	switch len(shape) {
	case 0:
		if len(values) == 1 {
			return AttributePayload{Name: name, Values: values}, nil
		}

		return AttributePayload{
			Name:   name,
			Shape:  []uint32{uint32(len(values))},
			Values: values,
		}, nil

	case 1:
		return AttributePayload{
			Name:   name,
			Shape:  shape,
			Values: broadcast(values, int(shape[0])),
		}, nil

	case 2:
		return AttributePayload{
			Name:   name,
			Shape:  shape,
			Values: broadcast(values, int(shape[0])*int(shape[1])),
		}, nil

	default:
		return AttributePayload{}, &bench.ConfigurationError{
			Option: "shape",
			Err:    errTooManyDims,
		}
	}
}

func parseShape(spec string) []uint32 {
	var shape []uint32

	for _, tok := range tokens(spec) {
		d, err := strconv.ParseUint(tok, 10, 32)
		if err != nil {
			continue
		}
		shape = append(shape, uint32(d))
	}

	return shape
}

func parseValues(spec string) []float64 {
	var values []float64

	for _, tok := range tokens(spec) {
		v, err := strconv.ParseFloat(tok, 64)
		if err != nil {
			continue
		}
		values = append(values, v)
	}

	if len(values) == 0 {
		values = []float64{0}
	}

	return values
}

func tokens(spec string) []string {
	if spec == "" {
		return nil
	}

	parts := strings.Split(spec, ",")
	out := parts[:0]
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, strings.ReplaceAll(p, MinusSentinel, "-"))
	}

	return out
}

func broadcast(values []float64, size int) []float64 {
	out := make([]float64, size)
	for i := range out {
		out[i] = values[i%len(values)]
	}

	return out
}
