package model

import (
	"strings"
	"testing"

	"github.com/samcharles93/checkpoint/internal/infer"
	"github.com/samcharles93/checkpoint/internal/weights"
)

func testConfig() infer.Config {
	return infer.Config{
		DVocab:  64,
		DModel:  16,
		NCtx:    10,
		DHead:   4,
		NHead:   2,
		DMLP:    32,
		NLayers: 2,
	}
}

func TestNewSkeletonInfersBack(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	m, err := New(cfg, "cpu")
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	// The skeleton's own tensor names and shapes must resolve to the
	// config that produced them.
	got, err := infer.FromWeights(m.State())
	if err != nil {
		t.Fatalf("infer from skeleton: %v", err)
	}
	if got != cfg {
		t.Fatalf("config mismatch:\n got %+v\nwant %+v", got, cfg)
	}
}

func TestNewValidatesConfig(t *testing.T) {
	t.Parallel()

	bad := testConfig()
	bad.DHead = 0
	if _, err := New(bad, "cpu"); err == nil {
		t.Fatal("expected validation error for zero d_head")
	}

	negative := testConfig()
	negative.NLayers = -1
	if _, err := New(negative, "cpu"); err == nil {
		t.Fatal("expected validation error for negative n_layers")
	}
}

func TestNewDefaultsDevice(t *testing.T) {
	t.Parallel()

	m, err := New(testConfig(), "")
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if m.Device != "cpu" {
		t.Fatalf("device: got %q, want cpu", m.Device)
	}
}

func TestLoadState(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	source, err := New(cfg, "cpu")
	if err != nil {
		t.Fatalf("new source: %v", err)
	}
	// Give the source distinguishable values.
	state := weights.NewMap()
	for i, name := range source.State().Names() {
		tensor, _ := source.State().Get(name)
		data := make([]float32, len(tensor.Data))
		for j := range data {
			data[j] = float32(i + 1)
		}
		if err := state.Set(name, weights.Tensor{DType: tensor.DType, Shape: tensor.Shape, Data: data}); err != nil {
			t.Fatalf("set %s: %v", name, err)
		}
	}

	target, err := New(cfg, "cpu")
	if err != nil {
		t.Fatalf("new target: %v", err)
	}
	if err := target.LoadState(state); err != nil {
		t.Fatalf("load state: %v", err)
	}
	if !target.State().Equal(state) {
		t.Fatal("loaded state diverged from input")
	}
}

func TestLoadStateStrict(t *testing.T) {
	t.Parallel()

	cfg := testConfig()

	t.Run("missing tensor", func(t *testing.T) {
		t.Parallel()

		m, _ := New(cfg, "cpu")
		partial := weights.NewMap()
		for _, name := range m.State().Names() {
			if name == "ln_final.w" {
				continue
			}
			tensor, _ := m.State().Get(name)
			_ = partial.Set(name, tensor)
		}
		err := m.LoadState(partial)
		if err == nil || !strings.Contains(err.Error(), "missing tensor") {
			t.Fatalf("expected missing tensor error, got %v", err)
		}
	})

	t.Run("shape mismatch", func(t *testing.T) {
		t.Parallel()

		m, _ := New(cfg, "cpu")
		state := weights.NewMap()
		for _, name := range m.State().Names() {
			tensor, _ := m.State().Get(name)
			if name == "embed.W_E" {
				tensor = weights.Tensor{DType: tensor.DType, Shape: []int{1, 1}, Data: []float32{0}}
			}
			_ = state.Set(name, tensor)
		}
		err := m.LoadState(state)
		if err == nil || !strings.Contains(err.Error(), "incompatible") {
			t.Fatalf("expected shape mismatch error, got %v", err)
		}
	})

	t.Run("unexpected tensor", func(t *testing.T) {
		t.Parallel()

		m, _ := New(cfg, "cpu")
		state := weights.NewMap()
		for _, name := range m.State().Names() {
			tensor, _ := m.State().Get(name)
			_ = state.Set(name, tensor)
		}
		_ = state.Set("blocks.0.attn.rotary", weights.Tensor{DType: weights.DTypeF32, Shape: []int{1}, Data: []float32{0}})
		err := m.LoadState(state)
		if err == nil || !strings.Contains(err.Error(), "unexpected tensor") {
			t.Fatalf("expected unexpected tensor error, got %v", err)
		}
	})

	t.Run("nil state", func(t *testing.T) {
		t.Parallel()

		m, _ := New(cfg, "cpu")
		if err := m.LoadState(nil); err == nil {
			t.Fatal("expected error for nil state")
		}
	})
}
