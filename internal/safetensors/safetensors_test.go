package safetensors

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/samcharles93/checkpoint/internal/weights"
)

func testMapping(t *testing.T) *weights.Map {
	t.Helper()
	m := weights.NewMap()
	set := func(name string, dtype weights.DType, shape []int, data []float32) {
		if err := m.Set(name, weights.Tensor{DType: dtype, Shape: shape, Data: data}); err != nil {
			t.Fatalf("set %s: %v", name, err)
		}
	}
	// Values chosen to be exactly representable in every dtype.
	set("embed.W_E", weights.DTypeF32, []int{2, 3}, []float32{0, 1, -1, 0.5, 2.25, -3})
	set("blocks.0.attn.W_Q", weights.DTypeF16, []int{1, 2, 2}, []float32{1, -0.5, 4, 0.25})
	set("blocks.0.mlp.W_in", weights.DTypeBF16, []int{2, 2}, []float32{1, -2, 0.5, 8})
	return m
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	t.Parallel()

	m := testMapping(t)
	data, err := Encode(m)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := Decode(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !m.Equal(got) {
		t.Fatalf("round trip diverged:\n got names %v\nwant names %v", got.Names(), m.Names())
	}
}

func TestEncodeDeterministic(t *testing.T) {
	t.Parallel()

	m := testMapping(t)
	first, err := Encode(m)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	second, err := Encode(m)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if len(first) != len(second) {
		t.Fatalf("lengths differ: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("bytes differ at offset %d", i)
		}
	}
}

func TestDecodePreservesOrder(t *testing.T) {
	t.Parallel()

	m := weights.NewMap()
	// Names deliberately in non-lexicographic order.
	for _, name := range []string{"zz", "aa", "mm"} {
		if err := m.Set(name, weights.Tensor{DType: weights.DTypeF32, Shape: []int{1}, Data: []float32{1}}); err != nil {
			t.Fatalf("set %s: %v", name, err)
		}
	}
	data, err := Encode(m)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := Decode(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	names := got.Names()
	if names[0] != "zz" || names[1] != "aa" || names[2] != "mm" {
		t.Fatalf("order not preserved: %v", names)
	}
}

func TestDecodeIgnoresMetadata(t *testing.T) {
	t.Parallel()

	header := `{"__metadata__":{"format":"pt"},"w":{"dtype":"F32","shape":[1],"data_offsets":[0,4]}}`
	data := make([]byte, 8, 8+len(header)+4)
	binary.LittleEndian.PutUint64(data, uint64(len(header)))
	data = append(data, header...)
	data = append(data, 0, 0, 0x80, 0x3F) // 1.0 little-endian

	m, err := Decode(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	tensor, ok := m.Get("w")
	if !ok || tensor.Data[0] != 1.0 {
		t.Fatalf("unexpected tensor: %+v ok=%v", tensor, ok)
	}
}

func TestDecodeCorrupt(t *testing.T) {
	t.Parallel()

	longHeader := make([]byte, 8)
	binary.LittleEndian.PutUint64(longHeader, maxHeaderLen+1)

	truncated := make([]byte, 8)
	binary.LittleEndian.PutUint64(truncated, 1000)

	badOffsets := func() []byte {
		header := `{"w":{"dtype":"F32","shape":[1],"data_offsets":[0,400]}}`
		data := make([]byte, 8, 8+len(header))
		binary.LittleEndian.PutUint64(data, uint64(len(header)))
		return append(data, header...)
	}()

	tests := []struct {
		name string
		data []byte
		want error
	}{
		{"empty", nil, ErrCorrupt},
		{"short prefix", []byte{1, 2, 3}, ErrCorrupt},
		{"header exceeds cap", longHeader, ErrTooLong},
		{"header exceeds data", truncated, ErrCorrupt},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			if _, err := Decode(tc.data); !errors.Is(err, tc.want) {
				t.Fatalf("Decode() = %v, want %v", err, tc.want)
			}
		})
	}

	if _, err := Decode(badOffsets); err == nil {
		t.Fatal("expected out-of-range offsets error")
	}
}

func TestHalfConversions(t *testing.T) {
	t.Parallel()

	for _, v := range []float32{0, 1, -1, 0.5, -0.25, 2048, -65504} {
		if got := fp16ToF32(f32ToFP16(v)); got != v {
			t.Fatalf("fp16 round trip: %g -> %g", v, got)
		}
	}
	for _, v := range []float32{0, 1, -2, 0.5, 128, -3.5} {
		if got := bf16ToF32(f32ToBF16(v)); got != v {
			t.Fatalf("bf16 round trip: %g -> %g", v, got)
		}
	}
}
