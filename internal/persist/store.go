// Package persist saves and loads serialized weight mappings in a flat
// collection of checkpoint objects, either a local directory or an S3
// bucket. Keys are derived from the training-progress counter; writes
// are overwrite-protected.
package persist

import (
	"context"
	"sort"
	"strconv"
	"strings"

	"github.com/samcharles93/checkpoint/internal/weights"
)

// Ext is the object suffix for serialized checkpoints.
const Ext = ".safetensors"

// Store is the shared contract of the local and S3 backends. Each
// implementation owns its own handle and collection location.
type Store interface {
	// Save serializes the mapping under the key derived from step.
	// It fails with *OverwriteError if the key is already occupied;
	// the existence check strictly precedes any write.
	Save(ctx context.Context, m *weights.Map, step int) error

	// Load fetches and deserializes the object at key, failing with
	// *NotFoundError if it does not exist.
	Load(ctx context.Context, key string) (*weights.Map, error)

	// List enumerates checkpoint keys in the collection, ordered by
	// ascending training-progress counter.
	List(ctx context.Context) ([]string, error)
}

// Key derives the object key for a training-progress counter.
func Key(step int) string {
	return strconv.Itoa(step) + Ext
}

// Step parses the training-progress counter out of a checkpoint key.
func Step(key string) (int, bool) {
	name, ok := strings.CutSuffix(key, Ext)
	if !ok {
		return 0, false
	}
	step, err := strconv.Atoi(name)
	if err != nil || step < 0 {
		return 0, false
	}
	return step, true
}

// sortKeys filters to checkpoint keys and orders them by step.
func sortKeys(keys []string) []string {
	steps := make([]int, 0, len(keys))
	for _, k := range keys {
		if step, ok := Step(k); ok {
			steps = append(steps, step)
		}
	}
	sort.Ints(steps)
	out := make([]string, len(steps))
	for i, step := range steps {
		out[i] = Key(step)
	}
	return out
}
