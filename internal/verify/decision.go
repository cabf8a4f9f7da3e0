// Package verify turns similarity scores into an authentication outcome.
package verify

import "fmt"

// Unknown is reported as MatchedID when no identity was matched.
const Unknown = "unknown"

// DefaultThreshold is the similarity a comparison must exceed.
const DefaultThreshold = 0.7

// Outcome is the terminal state of one verification request.
type Outcome int

const (
	Rejected Outcome = iota
	Verified
)

func (o Outcome) String() string {
	if o == Verified {
		return "VERIFIED"
	}
	return "REJECTED"
}

// MarshalText renders the outcome as VERIFIED / REJECTED in JSON.
func (o Outcome) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

func (o *Outcome) UnmarshalText(b []byte) error {
	switch string(b) {
	case "VERIFIED":
		*o = Verified
	case "REJECTED":
		*o = Rejected
	default:
		return fmt.Errorf("unknown outcome %q", b)
	}
	return nil
}

// Comparison is one required score, e.g. "face" (probe vs stored)
// or "id" (live vs ID-document photo).
type Comparison struct {
	Name  string
	Score float64
}

// Result is returned to the caller and never persisted.
type Result struct {
	Verified  bool               `json:"verified"`
	Outcome   Outcome            `json:"outcome"`
	Scores    map[string]float64 `json:"scores"`
	Threshold float64            `json:"threshold"`
	MatchedID string             `json:"matched_id"`
}

// Decision applies a strict threshold to every comparison.
type Decision struct {
	Threshold float64
}

// NewDecision returns a Decision with the given threshold.
func NewDecision(threshold float64) Decision {
	return Decision{Threshold: threshold}
}

// Decide is VERIFIED iff every comparison scores strictly above the
// threshold. A request with no comparisons is REJECTED. matchedID is
// reported only on success; otherwise MatchedID is Unknown.
func (d Decision) Decide(matchedID string, comparisons ...Comparison) Result {
	res := Result{
		Outcome:   Rejected,
		Scores:    make(map[string]float64, len(comparisons)),
		Threshold: d.Threshold,
		MatchedID: Unknown,
	}

	passed := len(comparisons) > 0
	for _, c := range comparisons {
		res.Scores[c.Name] = c.Score
		if !(c.Score > d.Threshold) {
			passed = false
		}
	}

	if passed {
		res.Verified = true
		res.Outcome = Verified
		if matchedID != "" {
			res.MatchedID = matchedID
		}
	}
	return res
}

// String renders the result for CLI output.
func (r Result) String() string {
	s := fmt.Sprintf("%s (threshold %.3f", r.Outcome, r.Threshold)
	for _, name := range []string{"face", "id"} {
		if v, ok := r.Scores[name]; ok {
			s += fmt.Sprintf(", %s %.4f", name, v)
		}
	}
	return s + ")"
}
