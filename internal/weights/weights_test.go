package weights

import (
	"strings"
	"testing"
)

func TestMapInsertionOrder(t *testing.T) {
	t.Parallel()

	m := NewMap()
	names := []string{"embed.W_E", "blocks.0.ln1.w", "blocks.1.ln1.w", "unembed.W_U"}
	for _, name := range names {
		tensor := Tensor{DType: DTypeF32, Shape: []int{2}, Data: []float32{1, 2}}
		if err := m.Set(name, tensor); err != nil {
			t.Fatalf("set %s: %v", name, err)
		}
	}

	got := m.Names()
	if len(got) != len(names) {
		t.Fatalf("names length: got %d, want %d", len(got), len(names))
	}
	for i, name := range names {
		if got[i] != name {
			t.Fatalf("order broken at %d: got %s, want %s", i, got[i], name)
		}
	}
	if m.Len() != len(names) {
		t.Fatalf("len: got %d, want %d", m.Len(), len(names))
	}
}

func TestMapRejectsDuplicatesAndEmptyNames(t *testing.T) {
	t.Parallel()

	m := NewMap()
	tensor := Tensor{DType: DTypeF32, Shape: []int{1}, Data: []float32{0}}
	if err := m.Set("embed.W_E", tensor); err != nil {
		t.Fatalf("first set: %v", err)
	}
	if err := m.Set("embed.W_E", tensor); err == nil {
		t.Fatal("expected duplicate rejection")
	} else if !strings.Contains(err.Error(), "duplicate") {
		t.Fatalf("unexpected duplicate error: %v", err)
	}
	if err := m.Set("", tensor); err == nil {
		t.Fatal("expected empty-name rejection")
	}
}

func TestTensorValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		tensor  Tensor
		wantErr bool
	}{
		{"valid", Tensor{DType: DTypeF32, Shape: []int{2, 3}, Data: make([]float32, 6)}, false},
		{"empty shape", Tensor{DType: DTypeF32, Shape: nil, Data: nil}, true},
		{"zero dim", Tensor{DType: DTypeF32, Shape: []int{2, 0}, Data: nil}, true},
		{"negative dim", Tensor{DType: DTypeF32, Shape: []int{-1}, Data: nil}, true},
		{"data mismatch", Tensor{DType: DTypeF32, Shape: []int{4}, Data: make([]float32, 3)}, true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			err := tc.tensor.Validate()
			if (err != nil) != tc.wantErr {
				t.Fatalf("Validate() = %v, wantErr=%v", err, tc.wantErr)
			}
		})
	}
}

func TestMapEqual(t *testing.T) {
	t.Parallel()

	build := func(names []string, val float32) *Map {
		m := NewMap()
		for _, name := range names {
			_ = m.Set(name, Tensor{DType: DTypeF32, Shape: []int{1}, Data: []float32{val}})
		}
		return m
	}

	a := build([]string{"x", "y"}, 1)
	if !a.Equal(build([]string{"x", "y"}, 1)) {
		t.Fatal("identical maps not equal")
	}
	if a.Equal(build([]string{"y", "x"}, 1)) {
		t.Fatal("order-divergent maps reported equal")
	}
	if a.Equal(build([]string{"x", "y"}, 2)) {
		t.Fatal("value-divergent maps reported equal")
	}
	if a.Equal(build([]string{"x"}, 1)) {
		t.Fatal("length-divergent maps reported equal")
	}
}

func TestParseDType(t *testing.T) {
	t.Parallel()

	for s, want := range map[string]DType{"F32": DTypeF32, "F16": DTypeF16, "BF16": DTypeBF16} {
		got, err := ParseDType(s)
		if err != nil || got != want {
			t.Fatalf("ParseDType(%s) = %v, %v", s, got, err)
		}
	}
	if _, err := ParseDType("I64"); err == nil {
		t.Fatal("expected unsupported dtype error")
	}
}
