// Package engine defines the face inference boundaries used by recognition and
// enrollment, plus the remote backends that implement them.
package engine

import (
	"context"

	"github.com/andresmejia3/rollcall/internal/types"
)

// Detector finds face bounding boxes in an encoded image.
type Detector interface {
	Detect(ctx context.Context, image []byte) ([]types.Box, error)
}

// Embedder extracts a face embedding from an encoded face image.
// A failed extraction is an error, never a zero vector.
type Embedder interface {
	Embed(ctx context.Context, image []byte) ([]float32, error)
}

// Verifier decides whether two encoded images show the same person.
type Verifier interface {
	Verify(ctx context.Context, a, b []byte) (types.Verification, error)
}

// Engine bundles the three inference operations.
type Engine interface {
	Detector
	Embedder
	Verifier
}
