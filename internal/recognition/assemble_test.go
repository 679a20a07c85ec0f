package recognition

import (
	"testing"
	"time"

	"github.com/andresmejia3/rollcall/internal/types"
)

func TestAssembleOrdering(t *testing.T) {
	matches := []types.MatchResult{
		{IdentityKey: "Zoe_2", Name: "Zoe"},
		{IdentityKey: "Sam_9", Name: "Sam"},
		{IdentityKey: "Sam_1", Name: "Sam"},
		{IdentityKey: "Al_5", Name: "Al"},
	}
	started := time.Now().Add(-time.Second)

	resp := Assemble(matches, 6, started, types.Report{VerificationErrors: 1})

	want := []string{"Al_5", "Sam_1", "Sam_9", "Zoe_2"}
	for i, k := range want {
		if resp.Recognized[i].IdentityKey != k {
			t.Errorf("position %d: expected %s, got %s", i, k, resp.Recognized[i].IdentityKey)
		}
	}
	if resp.FacesDetected != 6 {
		t.Errorf("expected 6 faces detected, got %d", resp.FacesDetected)
	}
	if resp.ProcessingTime < time.Second {
		t.Errorf("processing time too small: %v", resp.ProcessingTime)
	}
	if resp.Report.VerificationErrors != 1 {
		t.Error("report not attached")
	}
	// Input slice is left untouched
	if matches[0].IdentityKey != "Zoe_2" {
		t.Error("Assemble reordered its input")
	}
}

func TestAssembleEmpty(t *testing.T) {
	resp := Assemble(nil, 0, time.Now(), types.Report{})
	if resp.Recognized == nil || len(resp.Recognized) != 0 {
		t.Errorf("expected empty non-nil list, got %#v", resp.Recognized)
	}
}
