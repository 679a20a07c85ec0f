// Package matcher assigns detected faces to gallery identities by embedding similarity.
package matcher

import (
	"github.com/andresmejia3/rollcall/internal/types"
	"github.com/andresmejia3/rollcall/internal/utils"
)

// Score returns the best cosine similarity between vec and any of the identity's embeddings.
func Score(vec []float32, rec *types.IdentityRecord) float64 {
	best := 0.0
	for i, e := range rec.Embeddings {
		sim := utils.CosineSimilarity(vec, e.Vector)
		if i == 0 || sim > best {
			best = sim
		}
	}
	return best
}

// Match greedily assigns each face, in detector order, to the closest unclaimed
// identity whose cosine distance is strictly below threshold. Faces without a
// valid embedding of length dim are ignored. Identities are claimed in claims
// as soon as they are matched, so later faces cannot take them.
func Match(faces []types.DetectedFace, g *types.Gallery, claims *ClaimSet, threshold float64, dim int) []types.MatchResult {
	var results []types.MatchResult
	if g.Len() == 0 {
		return results
	}

	for i := range faces {
		face := &faces[i]
		if !face.Matchable(dim) {
			continue
		}

		best := threshold
		bestIdx := -1
		for j := range g.Identities {
			rec := &g.Identities[j]
			if claims.Claimed(rec.Key) {
				continue
			}
			sim := Score(face.Embedding, rec)
			dist := 1 - sim
			// Strictly smaller: ties keep the earlier identity in gallery order
			if sim > 0 && dist < best {
				best = dist
				bestIdx = j
			}
		}
		if bestIdx < 0 {
			continue
		}

		rec := &g.Identities[bestIdx]
		claims.Claim(rec.Key)
		results = append(results, types.NewMatchResult(rec, face.Index, types.StrategySimilarity, best))
	}
	return results
}

// MatchedFaces returns the set of face indices present in results.
func MatchedFaces(results []types.MatchResult) map[int]bool {
	out := make(map[int]bool, len(results))
	for _, r := range results {
		out[r.FaceIndex] = true
	}
	return out
}
