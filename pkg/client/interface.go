package client

import (
	"context"

	"github.com/menta2k/region-classifier/pkg/types"
)

// Classifier labels an encoded image. Labels come back ranked by score,
// highest first.
type Classifier interface {
	Classify(ctx context.Context, image []byte) ([]types.Label, error)
}

// ClassifierFunc adapts a plain function to Classifier
type ClassifierFunc func(ctx context.Context, image []byte) ([]types.Label, error)

// Classify calls f
func (f ClassifierFunc) Classify(ctx context.Context, image []byte) ([]types.Label, error) {
	return f(ctx, image)
}
