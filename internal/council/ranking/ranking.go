// Package ranking turns reviewer ballots into the council's final order.
// Parsing is strict: a ballot is either an exact permutation of the candidate
// numbers or it is discarded whole. A half-trusted ballot must never leak
// into the aggregate score.
package ranking

import (
	"encoding/json"
	"sort"
	"strings"
)

type verdictPayload struct {
	Ranking []int           `json:"ranking"`
	Scores  json.RawMessage `json:"scores"`
}

// ParseVerdict extracts a ranking over k candidates from one reviewer's raw
// output. Accepted forms are {"ranking": [...]} or a bare JSON array, with
// response numbers 1..k. The returned ranking is 0-based candidate indices,
// best first. ok is false for anything that is not an exact permutation.
func ParseVerdict(raw string, k int) ([]int, map[string]float64, bool) {
	if k <= 0 {
		return nil, nil, false
	}
	s := stripFence(strings.TrimSpace(raw))
	if s == "" {
		return nil, nil, false
	}

	var payload verdictPayload
	if err := json.Unmarshal([]byte(s), &payload); err != nil {
		var arr []int
		if err := json.Unmarshal([]byte(s), &arr); err != nil {
			return nil, nil, false
		}
		payload.Ranking = arr
	}

	if len(payload.Ranking) != k {
		return nil, nil, false
	}
	seen := make([]bool, k)
	ranking := make([]int, k)
	for i, n := range payload.Ranking {
		if n < 1 || n > k || seen[n-1] {
			return nil, nil, false
		}
		seen[n-1] = true
		ranking[i] = n - 1
	}

	// Scores are advisory metadata; a malformed scores object never sinks an
	// otherwise valid ballot.
	var scores map[string]float64
	if len(payload.Scores) > 0 {
		_ = json.Unmarshal(payload.Scores, &scores)
	}
	return ranking, scores, true
}

// stripFence unwraps a markdown code fence. Models add these even when told
// not to; unwrapping is format normalization, not a relaxation of the strict
// permutation check.
func stripFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 && !strings.ContainsAny(s[:i], "{[") {
		s = s[i+1:]
	}
	s = strings.TrimSpace(s)
	return strings.TrimSpace(strings.TrimSuffix(s, "```"))
}

// Score is one candidate's aggregate standing across the parsed ballots.
type Score struct {
	CandidateIndex int
	Borda          int
	RankVariance   float64
}

// Outcome is the fold of every parsed ballot. Order holds candidate indices
// best first. Fallback is set when no ballot parsed and the order is simply
// the Stage-1 seat order.
type Outcome struct {
	Order    []int
	Scores   []Score
	Fallback bool
}

// Aggregate folds full-permutation ballots over candidateCount candidates.
// The Borda score of a candidate is the sum of (candidateCount - position)
// with positions 1-based, so a first place is worth candidateCount-1 points.
// Ties break toward the lower rank variance (consensus beats a lucky first),
// then toward the lower candidate index for determinism.
func Aggregate(candidateCount int, ballots [][]int) Outcome {
	if candidateCount <= 0 {
		return Outcome{}
	}

	scores := make([]Score, candidateCount)
	order := make([]int, candidateCount)
	for i := range order {
		order[i] = i
		scores[i] = Score{CandidateIndex: i}
	}

	if len(ballots) == 0 {
		return Outcome{Order: order, Scores: scores, Fallback: true}
	}

	positions := make([][]int, candidateCount)
	for _, ballot := range ballots {
		for pos, candidate := range ballot {
			positions[candidate] = append(positions[candidate], pos+1)
		}
	}
	for c := 0; c < candidateCount; c++ {
		for _, p := range positions[c] {
			scores[c].Borda += candidateCount - p
		}
		scores[c].RankVariance = variance(positions[c])
	}

	sort.SliceStable(order, func(i, j int) bool {
		a, b := scores[order[i]], scores[order[j]]
		if a.Borda != b.Borda {
			return a.Borda > b.Borda
		}
		if a.RankVariance != b.RankVariance {
			return a.RankVariance < b.RankVariance
		}
		return a.CandidateIndex < b.CandidateIndex
	})

	return Outcome{Order: order, Scores: scores}
}

func variance(positions []int) float64 {
	if len(positions) == 0 {
		return 0
	}
	mean := 0.0
	for _, p := range positions {
		mean += float64(p)
	}
	mean /= float64(len(positions))

	v := 0.0
	for _, p := range positions {
		d := float64(p) - mean
		v += d * d
	}
	return v / float64(len(positions))
}
