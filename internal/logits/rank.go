// Package logits ranks class probability vectors.
package logits

import (
	"cmp"
	"slices"
)

// Score is one class and its probability.
type Score struct {
	Index int     `json:"index"`
	Prob  float32 `json:"probability"`
}

// Rank returns every class ordered by descending probability. Equal
// probabilities keep ascending index order.
func Rank(probs []float32) []Score {
	out := make([]Score, len(probs))
	for i, p := range probs {
		out[i] = Score{Index: i, Prob: p}
	}
	slices.SortStableFunc(out, func(a, b Score) int {
		return cmp.Compare(b.Prob, a.Prob)
	})
	return out
}

// TopK appends the k most probable classes, largest first, to dst and
// returns it. Ties keep ascending index order. This is an O(V*K) insertion
// suitable for small K.
func TopK(dst []Score, probs []float32, k int) []Score {
	if k <= 0 {
		return dst
	}
	k = min(k, len(probs))
	base := len(dst)
	for i, p := range probs {
		top := dst[base:]
		pos := len(top)
		for pos > 0 && top[pos-1].Prob < p {
			pos--
		}
		if pos >= k {
			continue
		}
		dst = append(dst, Score{})
		top = dst[base:]
		copy(top[pos+1:], top[pos:])
		top[pos] = Score{Index: i, Prob: p}
		if len(top) > k {
			dst = dst[:base+k]
		}
	}
	return dst
}
