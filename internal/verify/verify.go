// Package verify recovers identities missed by similarity matching through pairwise face verification.
package verify

import (
	"context"

	"github.com/andresmejia3/rollcall/internal/engine"
	"github.com/andresmejia3/rollcall/internal/logger"
	"github.com/andresmejia3/rollcall/internal/matcher"
	"github.com/andresmejia3/rollcall/internal/store"
	"github.com/andresmejia3/rollcall/internal/types"
)

type Fallback struct {
	verifier    engine.Verifier
	persistence store.Persistence
	order       []int
}

// New builds a fallback that tries enrollment images in the given slot order.
func New(v engine.Verifier, p store.Persistence, order []int) *Fallback {
	return &Fallback{verifier: v, persistence: p, order: order}
}

// Run verifies every unclaimed identity against the faces similarity matching
// left unassigned. matched holds the indices of faces already assigned. The
// first verified pairing claims both the identity and the face. It returns the
// new matches and the number of verifier calls that failed.
func (f *Fallback) Run(ctx context.Context, g *types.Gallery, faces []types.DetectedFace, matched map[int]bool, claims *matcher.ClaimSet) ([]types.MatchResult, int) {
	var remaining []*types.DetectedFace
	for i := range faces {
		if !matched[faces[i].Index] && len(faces[i].Crop) > 0 {
			remaining = append(remaining, &faces[i])
		}
	}

	var results []types.MatchResult
	errCount := 0
	for j := range g.Identities {
		if len(remaining) == 0 || ctx.Err() != nil {
			break
		}
		rec := &g.Identities[j]
		if claims.Claimed(rec.Key) {
			continue
		}

		faceAt, res, errs := f.verifyIdentity(ctx, rec, remaining)
		errCount += errs
		if faceAt < 0 || !claims.Claim(rec.Key) {
			continue
		}
		results = append(results, res)
		remaining = append(remaining[:faceAt], remaining[faceAt+1:]...)
	}
	return results, errCount
}

// verifyIdentity returns the position in remaining of the first face verified
// against one of rec's enrollment images, or -1.
func (f *Fallback) verifyIdentity(ctx context.Context, rec *types.IdentityRecord, remaining []*types.DetectedFace) (int, types.MatchResult, int) {
	errCount := 0
	for _, slot := range f.order {
		img, err := f.persistence.LoadImage(ctx, rec.Key, slot)
		if err != nil {
			continue
		}
		for pos, face := range remaining {
			if ctx.Err() != nil {
				return -1, types.MatchResult{}, errCount
			}
			v, err := f.verifier.Verify(ctx, face.Crop, img)
			if err != nil {
				errCount++
				logger.Warning("verification failed",
					logger.LoggerOptions{Key: "identity", Data: rec.Key},
					logger.LoggerOptions{Key: "slot", Data: slot},
					logger.LoggerOptions{Key: "face", Data: face.Index},
					logger.LoggerOptions{Key: "error", Data: err.Error()})
				continue
			}
			if v.Verified {
				logger.Info("verification success",
					logger.LoggerOptions{Key: "identity", Data: rec.Key},
					logger.LoggerOptions{Key: "slot", Data: slot},
					logger.LoggerOptions{Key: "face", Data: face.Index})
				return pos, types.NewMatchResult(rec, face.Index, types.StrategyVerification, v.Distance), errCount
			}
		}
	}
	return -1, types.MatchResult{}, errCount
}
