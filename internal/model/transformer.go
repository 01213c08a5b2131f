// Package model rebuilds an empty transformer skeleton from a
// structural config so a loaded weight mapping has somewhere to go.
// The skeleton carries no compute; execution belongs to the runtime
// that consumes it.
package model

import (
	"fmt"

	"github.com/samcharles93/checkpoint/internal/infer"
	"github.com/samcharles93/checkpoint/internal/weights"
)

// Transformer is an empty model instance of the supported architecture
// family: token + positional embeddings, n_layers pre-norm blocks with
// multi-head attention and a two-layer MLP, final norm, unembedding.
type Transformer struct {
	Config infer.Config
	Device string

	state *weights.Map
}

// New builds a zero-initialized skeleton whose tensor names and shapes
// match what a checkpoint of this family contains.
func New(cfg infer.Config, device string) (*Transformer, error) {
	if err := validate(cfg); err != nil {
		return nil, err
	}
	if device == "" {
		device = "cpu"
	}

	m := weights.NewMap()
	add := func(name string, shape ...int) error {
		t := weights.Tensor{DType: weights.DTypeF32, Shape: shape}
		n, err := t.Elems()
		if err != nil {
			return fmt.Errorf("model: %s: %w", name, err)
		}
		t.Data = make([]float32, n)
		return m.Set(name, t)
	}

	if err := add("embed.W_E", cfg.DVocab, cfg.DModel); err != nil {
		return nil, err
	}
	if err := add("pos_embed.W_pos", cfg.NCtx, cfg.DModel); err != nil {
		return nil, err
	}
	for i := 0; i < cfg.NLayers; i++ {
		block := fmt.Sprintf("blocks.%d.", i)
		specs := []struct {
			name  string
			shape []int
		}{
			{"ln1.w", []int{cfg.DModel}},
			{"ln1.b", []int{cfg.DModel}},
			{"attn.W_Q", []int{cfg.NHead, cfg.DModel, cfg.DHead}},
			{"attn.W_K", []int{cfg.NHead, cfg.DModel, cfg.DHead}},
			{"attn.W_V", []int{cfg.NHead, cfg.DModel, cfg.DHead}},
			{"attn.W_O", []int{cfg.NHead, cfg.DHead, cfg.DModel}},
			{"attn.b_Q", []int{cfg.NHead, cfg.DHead}},
			{"attn.b_K", []int{cfg.NHead, cfg.DHead}},
			{"attn.b_V", []int{cfg.NHead, cfg.DHead}},
			{"attn.b_O", []int{cfg.DModel}},
			{"attn.mask", []int{cfg.NCtx, cfg.NCtx}},
			{"attn.IGNORE", []int{1}},
			{"ln2.w", []int{cfg.DModel}},
			{"ln2.b", []int{cfg.DModel}},
			{"mlp.W_in", []int{cfg.DModel, cfg.DMLP}},
			{"mlp.b_in", []int{cfg.DMLP}},
			{"mlp.W_out", []int{cfg.DMLP, cfg.DModel}},
			{"mlp.b_out", []int{cfg.DModel}},
		}
		for _, s := range specs {
			if err := add(block+s.name, s.shape...); err != nil {
				return nil, err
			}
		}
	}
	if err := add("ln_final.w", cfg.DModel); err != nil {
		return nil, err
	}
	if err := add("ln_final.b", cfg.DModel); err != nil {
		return nil, err
	}
	if err := add("unembed.W_U", cfg.DModel, cfg.DVocab); err != nil {
		return nil, err
	}
	if err := add("unembed.b_U", cfg.DVocab); err != nil {
		return nil, err
	}

	return &Transformer{Config: cfg, Device: device, state: m}, nil
}

// State returns the model's weight mapping.
func (t *Transformer) State() *weights.Map {
	return t.state
}

// LoadState copies a checkpoint's tensors into the skeleton. The load
// is strict both ways: every skeleton tensor must be present with a
// matching shape, and the checkpoint may not carry unknown tensors.
func (t *Transformer) LoadState(m *weights.Map) error {
	if m == nil {
		return fmt.Errorf("model: nil state mapping")
	}

	loaded := weights.NewMap()
	for _, name := range t.state.Names() {
		want, _ := t.state.Get(name)
		got, ok := m.Get(name)
		if !ok {
			return fmt.Errorf("model: missing tensor %s", name)
		}
		if len(got.Shape) != len(want.Shape) {
			return fmt.Errorf("model: tensor %s: shape %v incompatible with %v", name, got.Shape, want.Shape)
		}
		for i := range want.Shape {
			if got.Shape[i] != want.Shape[i] {
				return fmt.Errorf("model: tensor %s: shape %v incompatible with %v", name, got.Shape, want.Shape)
			}
		}
		if err := loaded.Set(name, got); err != nil {
			return err
		}
	}
	for _, name := range m.Names() {
		if _, ok := t.state.Get(name); !ok {
			return fmt.Errorf("model: unexpected tensor %s", name)
		}
	}

	t.state = loaded
	return nil
}

func validate(cfg infer.Config) error {
	checks := []struct {
		name  string
		value int
	}{
		{"d_vocab", cfg.DVocab},
		{"d_model", cfg.DModel},
		{"n_ctx", cfg.NCtx},
		{"d_head", cfg.DHead},
		{"n_head", cfg.NHead},
		{"d_mlp", cfg.DMLP},
		{"n_layers", cfg.NLayers},
	}
	for _, c := range checks {
		if c.value <= 0 {
			return fmt.Errorf("model: %s must be positive, got %d", c.name, c.value)
		}
	}
	return nil
}
