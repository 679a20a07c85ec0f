// Package embedstore reads, validates and regenerates the per-slot face embeddings of enrolled identities.
package embedstore

import (
	"context"
	"errors"

	"github.com/andresmejia3/rollcall/internal/engine"
	"github.com/andresmejia3/rollcall/internal/logger"
	"github.com/andresmejia3/rollcall/internal/store"
	"github.com/andresmejia3/rollcall/internal/types"
)

// Store validates embeddings against a fixed dimension and slot count.
type Store struct {
	persistence store.Persistence
	embedder    engine.Embedder
	dim         int
	slots       int
}

func New(p store.Persistence, e engine.Embedder, dim, slots int) *Store {
	return &Store{persistence: p, embedder: e, dim: dim, slots: slots}
}

// Inspect reads every slot once and returns the valid embeddings together with
// whether the identity needs regeneration (fewer than slots valid, or any read failed).
func (s *Store) Inspect(ctx context.Context, key string) ([]types.SlotEmbedding, bool) {
	var valid []types.SlotEmbedding
	needsRegen := false
	for slot := 0; slot < s.slots; slot++ {
		vec, err := s.persistence.LoadEmbedding(ctx, key, slot)
		if err != nil {
			needsRegen = true
			if !errors.Is(err, store.ErrNotFound) {
				logger.Warning("failed to read embedding",
					logger.LoggerOptions{Key: "identity", Data: key},
					logger.LoggerOptions{Key: "slot", Data: slot},
					logger.LoggerOptions{Key: "error", Data: err.Error()})
			}
			continue
		}
		emb := types.Embedding(vec)
		if !emb.Valid(s.dim) {
			needsRegen = true
			logger.Debug("invalid embedding dimension",
				logger.LoggerOptions{Key: "identity", Data: key},
				logger.LoggerOptions{Key: "slot", Data: slot},
				logger.LoggerOptions{Key: "len", Data: len(vec)})
			continue
		}
		valid = append(valid, types.SlotEmbedding{Slot: slot, Vector: emb})
	}
	return valid, needsRegen
}

// Load returns only the valid embeddings of key.
func (s *Store) Load(ctx context.Context, key string) []types.SlotEmbedding {
	valid, _ := s.Inspect(ctx, key)
	return valid
}

// NeedsRegeneration reports whether key has fewer than the full set of valid embeddings.
func (s *Store) NeedsRegeneration(ctx context.Context, key string) bool {
	_, needsRegen := s.Inspect(ctx, key)
	return needsRegen
}

// Regenerate re-extracts each slot from its stored enrollment image.
// Slots whose image is missing or whose extraction fails are left untouched.
// It returns true if at least one slot was rewritten.
func (s *Store) Regenerate(ctx context.Context, key string) bool {
	written := 0
	for slot := 0; slot < s.slots; slot++ {
		if ctx.Err() != nil {
			break
		}
		img, err := s.persistence.LoadImage(ctx, key, slot)
		if err != nil {
			continue
		}
		vec, err := s.embedder.Embed(ctx, img)
		if err != nil {
			logger.Warning("embedding extraction failed during regeneration",
				logger.LoggerOptions{Key: "identity", Data: key},
				logger.LoggerOptions{Key: "slot", Data: slot},
				logger.LoggerOptions{Key: "error", Data: err.Error()})
			continue
		}
		if !types.Embedding(vec).Valid(s.dim) {
			continue
		}
		if err := s.persistence.SaveEmbedding(ctx, key, slot, vec); err != nil {
			logger.Error("failed to persist regenerated embedding",
				logger.LoggerOptions{Key: "identity", Data: key},
				logger.LoggerOptions{Key: "slot", Data: slot},
				logger.LoggerOptions{Key: "error", Data: err.Error()})
			continue
		}
		written++
	}
	return written > 0
}

// RegenerateAll regenerates every identity on record. progress, when non-nil,
// is called once per identity. Only a listing failure is returned as an error.
func (s *Store) RegenerateAll(ctx context.Context, progress func(key string, ok bool)) (ok, failed []string, err error) {
	keys, err := s.persistence.ListIdentityKeys(ctx)
	if err != nil {
		return nil, nil, err
	}
	for _, key := range keys {
		if ctx.Err() != nil {
			return ok, failed, ctx.Err()
		}
		done := s.Regenerate(ctx, key)
		if done {
			ok = append(ok, key)
		} else {
			failed = append(failed, key)
		}
		if progress != nil {
			progress(key, done)
		}
	}
	return ok, failed, nil
}

// Dim returns the expected embedding dimension.
func (s *Store) Dim() int {
	return s.dim
}
