// Package infer reconstructs a model's structural configuration from
// the names and shapes of its saved weight tensors. It is used on the
// load path when a checkpoint was persisted without an explicit config.
package infer

import (
	"fmt"
	"regexp"
	"strconv"

	"github.com/samcharles93/checkpoint/internal/weights"
)

// Config holds the hyperparameters needed to rebuild an empty model of
// the supported transformer family. All fields are positive when the
// config is fully resolved.
type Config struct {
	DVocab  int `json:"d_vocab"`
	DModel  int `json:"d_model"`
	NCtx    int `json:"n_ctx"`
	DHead   int `json:"d_head"`
	NHead   int `json:"n_head"`
	DMLP    int `json:"d_mlp"`
	NLayers int `json:"n_layers"`
}

// DefaultNCtx is used when no context length is supplied. The context
// length does not constrain any stored tensor's dimensions, so it can
// never be recovered from the weights themselves.
const DefaultNCtx = 10

const (
	fieldDVocab = "d_vocab"
	fieldDModel = "d_model"
	fieldDHead  = "d_head"
	fieldNHead  = "n_head"
	fieldDMLP   = "d_mlp"
)

type extraction struct {
	field string
	dim   int
}

type rule struct {
	pattern string
	re      *regexp.Regexp
	extract []extraction
}

func newRule(pattern string, extract ...extraction) rule {
	// Patterns are start-anchored only: a trailing-suffix name still
	// matches its family by prefix.
	return rule{
		pattern: pattern,
		re:      regexp.MustCompile("^(?:" + pattern + ")"),
		extract: extract,
	}
}

// registry covers every tensor name the architecture family produces.
// Rules with no extractions confirm structure but contribute no fields.
// For any valid mapping, each tensor name matches exactly one rule.
var registry = []rule{
	newRule(`embed\.W_E`, extraction{fieldDVocab, 0}, extraction{fieldDModel, 1}),
	newRule(`pos_embed\.W_pos`),
	newRule(`blocks\.\d+\.ln\d+\.(w|b)`),
	newRule(`blocks\.\d+\.attn\.W_Q`, extraction{fieldNHead, 0}, extraction{fieldDHead, 2}),
	newRule(`blocks\.\d+\.attn\.b_Q`),
	newRule(`blocks\.\d+\.attn\.W_K`),
	newRule(`blocks\.\d+\.attn\.b_K`),
	newRule(`blocks\.\d+\.attn\.W_O`),
	newRule(`blocks\.\d+\.attn\.b_O`),
	newRule(`blocks\.\d+\.attn\.W_V`),
	newRule(`blocks\.\d+\.attn\.b_V`),
	newRule(`blocks\.\d+\.attn\.mask`),
	newRule(`blocks\.\d+\.attn\.IGNORE`),
	newRule(`blocks\.\d+\.mlp\.W_in`, extraction{fieldDMLP, 1}),
	newRule(`blocks\.\d+\.mlp\.b_in`),
	newRule(`blocks\.\d+\.mlp\.W_out`),
	newRule(`blocks\.\d+\.mlp\.b_out`),
	newRule(`ln_final\.(w|b)`),
	newRule(`unembed\.(W_U|b_U)`),
}

var blockIndexRE = regexp.MustCompile(`^blocks\.(\d+)\.`)

// AmbiguousPatternError reports a tensor name that matched zero or more
// than one registry pattern. Either way the registry's exactly-one
// invariant is broken for this input.
type AmbiguousPatternError struct {
	Tensor   string
	Patterns []string
}

func (e *AmbiguousPatternError) Error() string {
	if len(e.Patterns) == 0 {
		return fmt.Sprintf("infer: tensor %q matches no registry pattern", e.Tensor)
	}
	return fmt.Sprintf("infer: tensor %q matches %d registry patterns %v", e.Tensor, len(e.Patterns), e.Patterns)
}

// IncompleteInferenceError reports config fields that stayed unresolved
// after every tensor was processed.
type IncompleteInferenceError struct {
	Fields []string
}

func (e *IncompleteInferenceError) Error() string {
	return fmt.Sprintf("infer: unresolved config fields %v", e.Fields)
}

type options struct {
	nCtx int
}

type Option func(*options)

// WithNCtx overrides the default context length.
func WithNCtx(n int) Option {
	return func(o *options) { o.nCtx = n }
}

// FromWeights derives a fully-resolved Config from a weight mapping.
// The result is deterministic for a given mapping.
func FromWeights(m *weights.Map, opts ...Option) (Config, error) {
	o := options{nCtx: DefaultNCtx}
	for _, opt := range opts {
		opt(&o)
	}
	return fromWeights(m, registry, o)
}

func fromWeights(m *weights.Map, rules []rule, o options) (Config, error) {
	if m == nil || m.Len() == 0 {
		return Config{}, &IncompleteInferenceError{Fields: []string{"n_layers"}}
	}

	cfg := Config{NCtx: o.nCtx}
	nLayers, ok := layerCount(m)
	if !ok {
		return Config{}, &IncompleteInferenceError{Fields: []string{"n_layers"}}
	}
	cfg.NLayers = nLayers

	fields := map[string]*int{
		fieldDVocab: &cfg.DVocab,
		fieldDModel: &cfg.DModel,
		fieldDHead:  &cfg.DHead,
		fieldNHead:  &cfg.NHead,
		fieldDMLP:   &cfg.DMLP,
	}

	for _, name := range m.Names() {
		matched, err := matchOne(name, rules)
		if err != nil {
			return Config{}, err
		}
		if len(matched.extract) == 0 {
			continue
		}
		t, _ := m.Get(name)
		for _, ex := range matched.extract {
			dst := fields[ex.field]
			if *dst != 0 {
				// First observation wins; repeated structural tensors
				// are confirmations, not overrides.
				continue
			}
			if ex.dim >= len(t.Shape) {
				return Config{}, fmt.Errorf("infer: tensor %q: dim %d out of range for shape %v", name, ex.dim, t.Shape)
			}
			*dst = t.Shape[ex.dim]
		}
	}

	var missing []string
	for _, field := range []string{fieldDVocab, fieldDModel, fieldDHead, fieldNHead, fieldDMLP} {
		if *fields[field] == 0 {
			missing = append(missing, field)
		}
	}
	if len(missing) > 0 {
		return Config{}, &IncompleteInferenceError{Fields: missing}
	}
	return cfg, nil
}

// matchOne evaluates name against every rule and requires exactly one
// match. This doubles as a structural-integrity check on the registry.
func matchOne(name string, rules []rule) (rule, error) {
	var (
		found    rule
		patterns []string
	)
	for _, r := range rules {
		if r.re.MatchString(name) {
			found = r
			patterns = append(patterns, r.pattern)
		}
	}
	if len(patterns) != 1 {
		return rule{}, &AmbiguousPatternError{Tensor: name, Patterns: patterns}
	}
	return found, nil
}

// layerCount scans for blocks.<i>.* names and returns max index + 1.
func layerCount(m *weights.Map) (int, bool) {
	highest := -1
	for _, name := range m.Names() {
		sub := blockIndexRE.FindStringSubmatch(name)
		if sub == nil {
			continue
		}
		idx, err := strconv.Atoi(sub[1])
		if err != nil {
			// Index too large to represent; cannot be a real block.
			continue
		}
		if idx > highest {
			highest = idx
		}
	}
	if highest < 0 {
		return 0, false
	}
	return highest + 1, true
}
