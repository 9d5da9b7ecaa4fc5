// Package ranking reduces a probability vector to its top-K classes.
package ranking

import (
	"fmt"
	"sort"
	"strings"

	"github.com/Brownie44l1/imagenet-api/internal/model"
)

// DefaultTopK is the number of results the service reports.
const DefaultTopK = 5

// Result is one ranked class.
type Result struct {
	Rank        int     `json:"rank"`
	ClassIndex  uint32  `json:"class_index"`
	Probability float32 `json:"probability"`
	Label       string  `json:"label"`
}

type scored struct {
	index int
	prob  float32
}

// TopK returns the k highest probabilities in descending order. Equal
// probabilities keep ascending class-index order. k larger than the vector
// is clamped. probs must be finite; inference.Client rejects NaN and Inf
// before a vector gets here.
func TopK(probs model.ProbabilityVector, labels model.Labels, k int) []Result {
	entries := make([]scored, len(probs))
	for i, p := range probs {
		entries[i] = scored{index: i, prob: p}
	}
	sort.SliceStable(entries, func(a, b int) bool {
		return entries[a].prob > entries[b].prob
	})

	if k > len(entries) {
		k = len(entries)
	}
	if k < 0 {
		k = 0
	}
	results := make([]Result, k)
	for r := 0; r < k; r++ {
		e := entries[r]
		results[r] = Result{
			Rank:        r + 1,
			ClassIndex:  uint32(e.index),
			Probability: e.prob,
			Label:       labels.Label(e.index),
		}
	}
	return results
}

// Format renders results one per line, e.g. "   1.) [283](0.4521)tiger cat".
func Format(results []Result) string {
	var b strings.Builder
	for _, r := range results {
		fmt.Fprintf(&b, "   %d.) [%d](%.4f)%s\n", r.Rank, r.ClassIndex, r.Probability, r.Label)
	}
	return b.String()
}
