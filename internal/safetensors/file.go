package safetensors

import (
	"errors"
	"io"
	"os"

	"golang.org/x/sys/unix"

	"github.com/samcharles93/checkpoint/internal/weights"
)

// File is a safetensors file opened for random access.
type File struct {
	Path string

	data    []byte
	records []record
	start   int64
	mmapped bool
}

// Info describes one tensor in the file without decoding its data.
type Info struct {
	Name     string
	DType    weights.DType
	Shape    []int
	ByteSize int64
}

// Open maps a safetensors file read-only and validates its header.
// If mmap is unavailable, it falls back to ReadAt-based loading.
// The returned file must be closed to release any mapping.
func Open(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	stat, err := f.Stat()
	if err != nil {
		return nil, err
	}
	size64 := stat.Size()
	if size64 < 8 {
		return nil, ErrCorrupt
	}
	if size64 > int64(int(^uint(0)>>1)) {
		// cannot index this file safely as []byte on this architecture.
		return nil, ErrCorrupt
	}
	size := int(size64)

	// Prefer mmap where available for zero-copy tensor slices.
	data, err := unix.Mmap(
		int(f.Fd()),
		0,
		size,
		unix.PROT_READ,
		unix.MAP_SHARED,
	)
	if err == nil {
		sf, parseErr := newFile(path, data, true)
		if parseErr != nil {
			_ = unix.Munmap(data)
			return nil, parseErr
		}
		return sf, nil
	}

	// Fallback path that does not require mmap support.
	data, err = readAllAt(f, size)
	if err != nil {
		return nil, err
	}
	return newFile(path, data, false)
}

func newFile(path string, data []byte, mmapped bool) (*File, error) {
	records, start, err := parseHeader(data)
	if err != nil {
		return nil, err
	}
	return &File{
		Path:    path,
		data:    data,
		records: records,
		start:   start,
		mmapped: mmapped,
	}, nil
}

func readAllAt(r io.ReaderAt, size int) ([]byte, error) {
	if size < 0 {
		return nil, ErrCorrupt
	}
	out := make([]byte, size)
	var off int64
	for off < int64(size) {
		n, err := r.ReadAt(out[off:], off)
		off += int64(n)
		if err == nil {
			continue
		}
		if err == io.EOF && off == int64(size) {
			break
		}
		return nil, err
	}
	return out, nil
}

// Close releases file resources and any mmap backing.
func (f *File) Close() error {
	if f == nil {
		return nil
	}
	if f.data != nil && f.mmapped {
		err := unix.Munmap(f.data)
		f.data = nil
		f.records = nil
		f.mmapped = false
		return err
	}
	f.data = nil
	f.records = nil
	f.mmapped = false
	return nil
}

// Infos returns tensor metadata in payload order.
func (f *File) Infos() []Info {
	out := make([]Info, len(f.records))
	for i, r := range f.records {
		shape := make([]int, len(r.shape))
		copy(shape, r.shape)
		out[i] = Info{
			Name:     r.name,
			DType:    r.dtype,
			Shape:    shape,
			ByteSize: r.end - r.start,
		}
	}
	return out
}

// Mapping decodes every tensor into a weight mapping. The mapping does
// not reference the underlying mmap and stays valid after Close.
func (f *File) Mapping() (*weights.Map, error) {
	if f == nil || f.data == nil {
		return nil, errors.New("safetensors: file closed")
	}
	payload := f.data[f.start:]
	m := weights.NewMap()
	for _, r := range f.records {
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
