// Package safetensors serializes weight mappings using the safetensors
// layout: an 8-byte little-endian header length, a JSON header mapping
// tensor names to dtype/shape/data_offsets, then the raw tensor payload.
package safetensors

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/goccy/go-json"

	"github.com/samcharles93/checkpoint/internal/weights"
)

var (
	ErrCorrupt = errors.New("safetensors: corrupt data")
	ErrTooLong = errors.New("safetensors: header too long")
)

// maxHeaderLen bounds the JSON header so a corrupt length prefix cannot
// drive a huge allocation.
const maxHeaderLen = 100 << 20

type tensorHeader struct {
	DType       string  `json:"dtype"`
	Shape       []int   `json:"shape"`
	DataOffsets []int64 `json:"data_offsets"`
}

type record struct {
	name  string
	dtype weights.DType
	shape []int
	start int64
	end   int64
}

// Encode serializes the mapping. Tensors are laid out in insertion
// order, so encoding the same mapping twice yields identical bytes.
func Encode(m *weights.Map) ([]byte, error) {
	if m == nil {
		return nil, errors.New("safetensors: nil mapping")
	}

	var header bytes.Buffer
	header.WriteByte('{')

	var payload bytes.Buffer
	for i, name := range m.Names() {
		t, _ := m.Get(name)
		if err := t.Validate(); err != nil {
			return nil, err
		}
		start := int64(payload.Len())
		if err := encodeTensorData(&payload, t); err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		end := int64(payload.Len())

		if i > 0 {
			header.WriteByte(',')
		}
		nameJSON, err := json.Marshal(name)
		if err != nil {
			return nil, err
		}
		entryJSON, err := json.Marshal(tensorHeader{
			DType:       t.DType.String(),
			Shape:       t.Shape,
			DataOffsets: []int64{start, end},
		})
		if err != nil {
			return nil, err
		}
		header.Write(nameJSON)
		header.WriteByte(':')
		header.Write(entryJSON)
	}
	header.WriteByte('}')

	out := make([]byte, 0, 8+header.Len()+payload.Len())
	var lenBuf [8]byte
	binary.LittleEndian.PutUint64(lenBuf[:], uint64(header.Len()))
	out = append(out, lenBuf[:]...)
	out = append(out, header.Bytes()...)
	out = append(out, payload.Bytes()...)
	return out, nil
}

// Decode deserializes a byte blob produced by Encode (or any compliant
// safetensors writer). Tensor order in the mapping follows ascending
// payload offsets, so Decode(Encode(m)) preserves insertion order.
func Decode(data []byte) (*weights.Map, error) {
	records, dataStart, err := parseHeader(data)
	if err != nil {
		return nil, err
	}
	payload := data[dataStart:]

	m := weights.NewMap()
	for _, r := range records {
		t, err := decodeTensor(r, payload)
		if err != nil {
			return nil, err
		}
		if err := m.Set(r.name, t); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func parseHeader(data []byte) ([]record, int64, error) {
	if len(data) < 8 {
		return nil, 0, ErrCorrupt
	}
	headerLen := binary.LittleEndian.Uint64(data[:8])
	if headerLen > maxHeaderLen {
		return nil, 0, ErrTooLong
	}
	dataStart := int64(8) + int64(headerLen)
	if dataStart > int64(len(data)) {
		return nil, 0, ErrCorrupt
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data[8:dataStart], &raw); err != nil {
		return nil, 0, fmt.Errorf("safetensors: parse header: %w", err)
	}
	delete(raw, "__metadata__")

	payloadLen := int64(len(data)) - dataStart
	records := make([]record, 0, len(raw))
	for name, msg := range raw {
		var th tensorHeader
		if err := json.Unmarshal(msg, &th); err != nil {
			return nil, 0, fmt.Errorf("safetensors: parse tensor %s: %w", name, err)
		}
		if len(th.DataOffsets) != 2 {
			return nil, 0, fmt.Errorf("safetensors: tensor %s: invalid data_offsets", name)
		}
		dtype, err := weights.ParseDType(th.DType)
		if err != nil {
			return nil, 0, fmt.Errorf("safetensors: tensor %s: %w", name, err)
		}
		start, end := th.DataOffsets[0], th.DataOffsets[1]
		if start < 0 || end < start || end > payloadLen {
			return nil, 0, fmt.Errorf("safetensors: tensor %s: offsets out of range", name)
		}
		records = append(records, record{
			name:  name,
			dtype: dtype,
			shape: th.Shape,
			start: start,
			end:   end,
		})
	}

	// JSON object iteration order is unspecified; payload offsets carry
	// the original insertion order.
	sort.Slice(records, func(i, j int) bool { return records[i].start < records[j].start })
	return records, dataStart, nil
}

func decodeTensor(r record, payload []byte) (weights.Tensor, error) {
	t := weights.Tensor{DType: r.dtype, Shape: r.shape}
	n, err := t.Elems()
	if err != nil {
		return weights.Tensor{}, fmt.Errorf("safetensors: tensor %s: %w", r.name, err)
	}
	raw := payload[r.start:r.end]
	if len(raw) != n*r.dtype.ByteSize() {
		return weights.Tensor{}, fmt.Errorf("safetensors: tensor %s: invalid %s data size", r.name, r.dtype)
	}

	out := make([]float32, n)
	switch r.dtype {
	case weights.DTypeF32:
		for i := 0; i < n; i++ {
			out[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
		}
	case weights.DTypeBF16:
		for i := 0; i < n; i++ {
			out[i] = bf16ToF32(binary.LittleEndian.Uint16(raw[i*2:]))
		}
	case weights.DTypeF16:
		for i := 0; i < n; i++ {
			out[i] = fp16ToF32(binary.LittleEndian.Uint16(raw[i*2:]))
		}
	default:
		return weights.Tensor{}, fmt.Errorf("safetensors: tensor %s: unsupported dtype %s", r.name, r.dtype)
	}
	t.Data = out
	return t, nil
}

func encodeTensorData(buf *bytes.Buffer, t weights.Tensor) error {
	switch t.DType {
	case weights.DTypeF32:
		var b [4]byte
		for _, v := range t.Data {
			binary.LittleEndian.PutUint32(b[:], math.Float32bits(v))
			buf.Write(b[:])
		}
	case weights.DTypeBF16:
		var b [2]byte
		for _, v := range t.Data {
			binary.LittleEndian.PutUint16(b[:], f32ToBF16(v))
			buf.Write(b[:])
		}
	case weights.DTypeF16:
		var b [2]byte
		for _, v := range t.Data {
			binary.LittleEndian.PutUint16(b[:], f32ToFP16(v))
			buf.Write(b[:])
		}
	default:
		return fmt.Errorf("unsupported dtype %s", t.DType)
	}
	return nil
}

func bf16ToF32(u uint16) float32 {
	return math.Float32frombits(uint32(u) << 16)
}

// f32ToBF16 rounds to nearest even; NaN stays NaN.
func f32ToBF16(v float32) uint16 {
	bits := math.Float32bits(v)
	if bits&0x7F800000 == 0x7F800000 && bits&0x007FFFFF != 0 {
		return uint16(bits>>16) | 0x0040
	}
	round := uint32(0x7FFF + ((bits >> 16) & 1))
	return uint16((bits + round) >> 16)
}

func fp16ToF32(h uint16) float32 {
	sign := uint32(h>>15) & 0x1
	exp := uint32(h>>10) & 0x1F
	frac := uint32(h & 0x3FF)
	var f uint32
	switch exp {
	case 0:
		if frac == 0 {
			f = sign << 31
		} else {
			e := uint32(127 - 15 + 1)
			for (frac & 0x400) == 0 {
				frac <<= 1
				e--
			}
			frac &= 0x3FF
			f = (sign << 31) | (e << 23) | (frac << 13)
		}
	case 0x1F:
		f = (sign << 31) | 0x7F800000 | (frac << 13)
	default:
		e := exp + (127 - 15)
		f = (sign << 31) | (e << 23) | (frac << 13)
	}
	return math.Float32frombits(f)
}

func f32ToFP16(v float32) uint16 {
	bits := math.Float32bits(v)
	sign := uint16(bits>>16) & 0x8000
	exp := int32((bits>>23)&0xFF) - 127 + 15
	frac := bits & 0x007FFFFF

	if exp >= 0x1F {
		if (bits&0x7F800000) == 0x7F800000 && frac != 0 {
			return sign | 0x7E00
		}
		return sign | 0x7C00
	}
	if exp <= 0 {
		if exp < -10 {
			return sign
		}
		frac |= 0x00800000
		shift := uint32(14 - exp)
		half := frac >> shift
		if frac&(1<<(shift-1)) != 0 {
			half++
		}
		return sign | uint16(half)
	}
	half := (uint32(exp) << 10) | (frac >> 13)
	if frac&0x1000 != 0 {
		half++
	}
	return sign | uint16(half)
}
