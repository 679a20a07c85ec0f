// Package enginetest provides a scriptable in-memory inference engine for tests.
package enginetest

import (
	"context"
	"errors"
	"sync"

	"github.com/andresmejia3/rollcall/internal/types"
)

// Fake implements engine.Engine with caller-supplied behavior.
// Unset functions fall back to: no faces, extraction failure, not verified.
type Fake struct {
	DetectFn func(image []byte) ([]types.Box, error)
	EmbedFn  func(image []byte) ([]float32, error)
	VerifyFn func(a, b []byte) (types.Verification, error)

	mu          sync.Mutex
	embedCalls  int
	verifyCalls int
}

func (f *Fake) Detect(ctx context.Context, image []byte) ([]types.Box, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if f.DetectFn == nil {
		return nil, nil
	}
	return f.DetectFn(image)
}

func (f *Fake) Embed(ctx context.Context, image []byte) ([]float32, error) {
	f.mu.Lock()
	f.embedCalls++
	f.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if f.EmbedFn == nil {
		return nil, errors.New("no embedder configured")
	}
	return f.EmbedFn(image)
}

func (f *Fake) Verify(ctx context.Context, a, b []byte) (types.Verification, error) {
	f.mu.Lock()
	f.verifyCalls++
	f.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return types.Verification{}, err
	}
	if f.VerifyFn == nil {
		return types.Verification{Distance: 1}, nil
	}
	return f.VerifyFn(a, b)
}

// Calls returns the number of Embed and Verify invocations so far.
func (f *Fake) Calls() (embed, verify int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.embedCalls, f.verifyCalls
}

// Unit returns a dim-length vector with 1 at position i and 0 elsewhere.
func Unit(dim, i int) []float32 {
	v := make([]float32, dim)
	v[i%dim] = 1
	return v
}
