// Package weights holds the in-memory representation of a checkpoint:
// an ordered mapping from tensor name to a shaped tensor. Insertion
// order is preserved because it reflects model structure (blocks appear
// in numeric order in a well-formed checkpoint).
package weights

import (
	"errors"
	"fmt"
)

type DType uint8

const (
	DTypeF32 DType = iota
	DTypeF16
	DTypeBF16
)

func (d DType) String() string {
	switch d {
	case DTypeF32:
		return "F32"
	case DTypeF16:
		return "F16"
	case DTypeBF16:
		return "BF16"
	default:
		return fmt.Sprintf("dtype_%d", uint8(d))
	}
}

// ByteSize returns the on-disk size of one element.
func (d DType) ByteSize() int {
	switch d {
	case DTypeF32:
		return 4
	case DTypeF16, DTypeBF16:
		return 2
	default:
		return 0
	}
}

// ParseDType maps a safetensors dtype string to a DType.
func ParseDType(s string) (DType, error) {
	switch s {
	case "F32":
		return DTypeF32, nil
	case "F16":
		return DTypeF16, nil
	case "BF16":
		return DTypeBF16, nil
	default:
		return 0, fmt.Errorf("weights: unsupported dtype %q", s)
	}
}

// Tensor is a named weight's value. Data is always held as float32
// regardless of the storage dtype; DType records how the tensor is
// encoded when serialized.
type Tensor struct {
	DType DType
	Shape []int
	Data  []float32
}

// Elems returns the element count implied by the shape.
func (t Tensor) Elems() (int, error) {
	if len(t.Shape) == 0 {
		return 0, errors.New("weights: empty shape")
	}
	n := 1
	maxInt := int(^uint(0) >> 1)
	for _, d := range t.Shape {
		if d <= 0 {
			return 0, fmt.Errorf("weights: invalid dim %d", d)
		}
		if n > maxInt/d {
			return 0, errors.New("weights: tensor too large")
		}
		n *= d
	}
	return n, nil
}

// Validate checks that the shape is well formed and matches the data length.
func (t Tensor) Validate() error {
	n, err := t.Elems()
	if err != nil {
		return err
	}
	if len(t.Data) != n {
		return fmt.Errorf("weights: data length %d does not match shape %v", len(t.Data), t.Shape)
	}
	if t.DType.ByteSize() == 0 {
		return fmt.Errorf("weights: unsupported dtype %d", t.DType)
	}
	return nil
}

func sameShape(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Map is an ordered tensor mapping. Keys are unique; iteration via
// Names follows insertion order.
type Map struct {
	names []string
	items map[string]Tensor
}

func NewMap() *Map {
	return &Map{items: make(map[string]Tensor)}
}

// Set appends a tensor under name. Duplicate names are rejected: a
// checkpoint never contains the same tensor twice.
func (m *Map) Set(name string, t Tensor) error {
	if name == "" {
		return errors.New("weights: empty tensor name")
	}
	if err := t.Validate(); err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	if _, ok := m.items[name]; ok {
		return fmt.Errorf("weights: duplicate tensor %s", name)
	}
	m.names = append(m.names, name)
	m.items[name] = t
	return nil
}

func (m *Map) Get(name string) (Tensor, bool) {
	t, ok := m.items[name]
	return t, ok
}

// Names returns the tensor names in insertion order.
func (m *Map) Names() []string {
	out := make([]string, len(m.names))
	copy(out, m.names)
	return out
}

func (m *Map) Len() int {
	return len(m.names)
}

// Equal reports whether both mappings hold the same tensors in the
// same order with identical dtypes, shapes, and values.
func (m *Map) Equal(o *Map) bool {
	if m == nil || o == nil {
		return m == o
	}
	if len(m.names) != len(o.names) {
		return false
	}
	for i, name := range m.names {
		if o.names[i] != name {
			return false
		}
		a := m.items[name]
		b := o.items[name]
		if a.DType != b.DType || !sameShape(a.Shape, b.Shape) {
			return false
		}
		if len(a.Data) != len(b.Data) {
			return false
		}
		for j := range a.Data {
			if a.Data[j] != b.Data[j] {
				return false
			}
		}
	}
	return true
}
