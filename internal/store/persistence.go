package store

import (
	"context"
	"errors"

	"github.com/andresmejia3/rollcall/internal/types"
)

var (
	// ErrNotFound is returned when a key or slot has no stored value.
	ErrNotFound = errors.New("not found")
	// ErrCorrupt is returned when a stored value exists but cannot be decoded.
	ErrCorrupt = errors.New("corrupt record")
)

// Persistence stores identity metadata, enrollment images and embeddings.
// Images and embeddings are addressed per slot so partial writes are possible.
type Persistence interface {
	ListIdentityKeys(ctx context.Context) ([]string, error)
	ListMetadata(ctx context.Context) ([]types.IdentityMeta, error)
	LoadMetadata(ctx context.Context, key string) (types.IdentityMeta, error)
	SaveMetadata(ctx context.Context, meta types.IdentityMeta) error
	UpdateName(ctx context.Context, key, name string) error

	LoadEmbedding(ctx context.Context, key string, slot int) ([]float32, error)
	SaveEmbedding(ctx context.Context, key string, slot int, vec []float32) error

	LoadImage(ctx context.Context, key string, slot int) ([]byte, error)
	SaveImage(ctx context.Context, key string, slot int, data []byte) error

	Reset(ctx context.Context) error
	Close(ctx context.Context)
}
