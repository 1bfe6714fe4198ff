package stats

import (
	"math"
	"sort"
)

// BenjaminiHochberg adjusts p-values for the false discovery rate over the
// whole vector. The result is aligned with the input, independent of input
// order, non-decreasing in raw-p rank, never below the raw value and capped
// at 1. NaN inputs are treated as 1.
func BenjaminiHochberg(pvalues []float64) []float64 {
	n := len(pvalues)
	adj := make([]float64, n)
	if n == 0 {
		return adj
	}

	p := make([]float64, n)
	for i, v := range pvalues {
		if math.IsNaN(v) {
			v = 1
		}
		p[i] = v
	}

	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return p[order[a]] < p[order[b]] })

	running := 1.0
	for r := n - 1; r >= 0; r-- {
		i := order[r]
		if v := p[i] * float64(n) / float64(r+1); v < running {
			running = v
		}
		adj[i] = running
	}
	return adj
}
