package recognition

import (
	"sort"
	"time"

	"github.com/andresmejia3/rollcall/internal/types"
)

// Assemble orders matches by display name, ties by identity key, and attaches
// the detected face count and elapsed time.
func Assemble(matches []types.MatchResult, facesDetected int, started time.Time, report types.Report) *types.RecognitionResponse {
	recognized := append([]types.MatchResult(nil), matches...)
	sort.SliceStable(recognized, func(i, j int) bool {
		if recognized[i].Name != recognized[j].Name {
			return recognized[i].Name < recognized[j].Name
		}
		return recognized[i].IdentityKey < recognized[j].IdentityKey
	})
	if recognized == nil {
		recognized = []types.MatchResult{}
	}
	return &types.RecognitionResponse{
		Recognized:     recognized,
		FacesDetected:  facesDetected,
		ProcessingTime: time.Since(started),
		Report:         report,
	}
}
