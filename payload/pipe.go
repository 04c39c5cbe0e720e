package payload

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// RootBlobName is the name of the root blob of every pipe payload.
const RootBlobName = "PipeBlob"

// ElementKind is the data type of one pipe element.
type ElementKind int

const (
	KindLong64 ElementKind = iota
	KindULong
	KindUShortArray
	KindDoubleArray
	KindBoolean
)

var kindNames = [...]string{
	KindLong64:      "DevLong64",
	KindULong:       "DevULong",
	KindUShortArray: "DevVarUShortArray",
	KindDoubleArray: "DevVarDoubleArray",
	KindBoolean:     "DevBoolean",
}

func (k ElementKind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return "ElementKind(" + strconv.Itoa(int(k)) + ")"
	}

	return kindNames[k]
}

func (k ElementKind) MarshalText() ([]byte, error) {
	if k < 0 || int(k) >= len(kindNames) {
		return nil, fmt.Errorf("unknown element kind %d", int(k))
	}

	return []byte(kindNames[k]), nil
}

func (k *ElementKind) UnmarshalText(text []byte) error {
	for i, name := range kindNames {
		if name == string(text) {
			*k = ElementKind(i)
			return nil
		}
	}

	return fmt.Errorf("unknown element kind %q", text)
}

// PipeElement is one named, typed entry of a pipe blob.
type PipeElement struct {
	Name  string      `json:"name"`
	Kind  ElementKind `json:"kind"`
	Value any         `json:"value"`
}

// PipeBlob is the structured value written to, or read from, a device pipe.
type PipeBlob struct {
	Name     string        `json:"name"`
	BlobName string        `json:"blob_name"`
	Elements []PipeElement `json:"elements"`
}

// UnmarshalJSON restores the Go type of each element value from its kind, so
// a blob that went over the wire compares equal to the one that was sent.
func (e *PipeElement) UnmarshalJSON(data []byte) error {
	var raw struct {
		Name  string          `json:"name"`
		Kind  ElementKind     `json:"kind"`
		Value json.RawMessage `json:"value"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	var (
		v   any
		err error
	)
	switch raw.Kind {
	case KindLong64:
		v, err = decode[int64](raw.Value)
	case KindULong:
		v, err = decode[uint32](raw.Value)
	case KindUShortArray:
		v, err = decode[[]uint16](raw.Value)
	case KindDoubleArray:
		v, err = decode[[]float64](raw.Value)
	case KindBoolean:
		v, err = decode[bool](raw.Value)
	}
	if err != nil {
		return fmt.Errorf("element %s: %w", raw.Name, err)
	}

	e.Name = raw.Name
	e.Kind = raw.Kind
	e.Value = v

	return nil
}

func decode[T any](raw json.RawMessage) (any, error) {
	var x T
	if err := json.Unmarshal(raw, &x); err != nil {
		return nil, err
	}

	return x, nil
}

// template returns a fresh element of the given kind, so no two elements
// share a backing array.
func template(k ElementKind) PipeElement {
	var v any
	switch k {
	case KindLong64:
		v = int64(123)
	case KindULong:
		v = uint32(123)
	case KindUShortArray:
		v = []uint16{0, 1, 2, 3, 4}
	case KindDoubleArray:
		v = []float64{1.11, 2.22}
	case KindBoolean:
		v = true
	}

	return PipeElement{Name: k.String(), Kind: k, Value: v}
}

// BuildPipe returns a blob named name holding size elements. Element i has
// kind i%5 in the order DevLong64, DevULong, DevVarUShortArray,
// DevVarDoubleArray, DevBoolean, and is named "<i><KindName>".
func BuildPipe(name string, size int) PipeBlob {
	blob := PipeBlob{
		Name:     name,
		BlobName: RootBlobName,
		Elements: make([]PipeElement, 0, max(size, 0)),
	}

	for i := 0; i < size; i++ {
		el := template(ElementKind(i % len(kindNames)))
		el.Name = strconv.Itoa(i) + el.Name
		blob.Elements = append(blob.Elements, el)
	}

	return blob
}
