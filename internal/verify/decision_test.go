package verify

import (
	"encoding/json"
	"math"
	"strings"
	"testing"
)

func TestDecide_ThresholdBoundary(t *testing.T) {
	d := NewDecision(0.7)

	tests := []struct {
		name  string
		score float64
		want  bool
	}{
		{"just above", 0.701, true},
		{"just below", 0.699, false},
		{"exactly at threshold", 0.7, false},
		{"perfect", 1.0, true},
		{"opposite", -1.0, false},
		{"nan", math.NaN(), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := d.Decide("user-1", Comparison{Name: "face", Score: tt.score})
			if res.Verified != tt.want {
				t.Errorf("Decide(%v).Verified = %v, want %v", tt.score, res.Verified, tt.want)
			}
			if res.Threshold != 0.7 {
				t.Errorf("threshold not reported, got %v", res.Threshold)
			}
		})
	}
}

func TestDecide_AllComparisonsRequired(t *testing.T) {
	d := NewDecision(0.7)

	res := d.Decide("user-1",
		Comparison{Name: "face", Score: 0.9},
		Comparison{Name: "id", Score: 0.65},
	)
	if res.Verified || res.Outcome != Rejected {
		t.Errorf("expected REJECTED when the ID comparison fails, got %v", res.Outcome)
	}
	if res.MatchedID != Unknown {
		t.Errorf("expected unknown match on rejection, got %q", res.MatchedID)
	}
	if res.Scores["id"] != 0.65 || res.Scores["face"] != 0.9 {
		t.Errorf("scores not reported: %v", res.Scores)
	}

	res = d.Decide("user-1",
		Comparison{Name: "face", Score: 0.9},
		Comparison{Name: "id", Score: 0.75},
	)
	if !res.Verified || res.MatchedID != "user-1" {
		t.Errorf("expected VERIFIED for user-1, got %+v", res)
	}
}

func TestDecide_NoComparisons(t *testing.T) {
	res := NewDecision(0.7).Decide("user-1")
	if res.Verified {
		t.Error("no comparisons must never verify")
	}
}

func TestResult_JSON(t *testing.T) {
	res := NewDecision(0.7).Decide("u", Comparison{Name: "face", Score: 0.8})
	b, err := json.Marshal(res)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(b), `"outcome":"VERIFIED"`) {
		t.Errorf("expected textual outcome in JSON, got %s", b)
	}
}

func TestResult_String(t *testing.T) {
	res := NewDecision(0.7).Decide("u", Comparison{Name: "face", Score: 0.8}, Comparison{Name: "id", Score: 0.9})
	s := res.String()
	if !strings.HasPrefix(s, "VERIFIED") || !strings.Contains(s, "face 0.8000") || !strings.Contains(s, "id 0.9000") {
		t.Errorf("unexpected string %q", s)
	}
}
