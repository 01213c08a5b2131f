package persist

import (
	"context"

	"github.com/samcharles93/checkpoint/internal/infer"
	"github.com/samcharles93/checkpoint/internal/model"
)

// LoadModel fetches a checkpoint, infers its structural config from the
// weight shapes, rebuilds an empty model on the target device, and
// loads the weights into it. This is the load path for checkpoints
// persisted without an explicit config.
func LoadModel(ctx context.Context, s Store, key, device string, opts ...infer.Option) (*model.Transformer, error) {
	m, err := s.Load(ctx, key)
	if err != nil {
		return nil, err
	}
	cfg, err := infer.FromWeights(m, opts...)
	if err != nil {
		return nil, err
	}
	t, err := model.New(cfg, device)
	if err != nil {
		return nil, err
	}
	if err := t.LoadState(m); err != nil {
		return nil, err
	}
	return t, nil
}
