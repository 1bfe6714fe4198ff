package stats

import (
	"fmt"
	"math"

	"degpredict/domain/expression"

	"gonum.org/v1/gonum/floats"
)

// LogMode selects when the log2 transform is applied
type LogMode string

const (
	LogAlways LogMode = "always"
	LogNever  LogMode = "never"
	LogAuto   LogMode = "auto"
)

// autoLogCeiling: data whose maximum exceeds this is assumed to be on a linear scale
const autoLogCeiling = 100.0

// ParseLogMode validates a configured log mode
func ParseLogMode(s string) (LogMode, error) {
	switch LogMode(s) {
	case LogAlways, LogNever, LogAuto:
		return LogMode(s), nil
	case "":
		return LogAlways, nil
	}
	return "", fmt.Errorf("unknown log mode %q (want always, never or auto)", s)
}

// Log2Transform floors every value at zero, adds the pseudocount and takes
// log2. The bool result reports whether the transform was applied.
func Log2Transform(m *expression.Matrix, pseudocount float64, mode LogMode) (*expression.Matrix, bool) {
	out := m.Clone()
	apply := mode == LogAlways
	if mode == LogAuto {
		peak := math.Inf(-1)
		for _, row := range m.Values {
			if len(row) > 0 {
				peak = math.Max(peak, floats.Max(row))
			}
		}
		apply = peak > autoLogCeiling
	}
	if !apply {
		return out, false
	}
	for _, row := range out.Values {
		for j, v := range row {
			row[j] = math.Log2(math.Max(v, 0) + pseudocount)
		}
	}
	return out, true
}

// QuantileNormalize gives every sample the same marginal distribution: the
// mean, across samples, of the sorted columns. Tied values share the average
// reference value over their rank span, so normalizing twice is a no-op.
func QuantileNormalize(m *expression.Matrix) *expression.Matrix {
	out := m.Clone()
	n, k := m.NumGenes(), m.NumSamples()
	if n == 0 || k == 0 {
		return out
	}

	sorted := make([][]float64, k)
	ranks := make([][]int, k)
	ref := make([]float64, n)
	for j := 0; j < k; j++ {
		col := m.Column(j)
		inds := make([]int, n)
		floats.Argsort(col, inds)
		sorted[j], ranks[j] = col, inds
		floats.Add(ref, col)
	}
	floats.Scale(1/float64(k), ref)

	for j := 0; j < k; j++ {
		col := sorted[j]
		for start := 0; start < n; {
			end := start + 1
			for end < n && col[end] == col[start] {
				end++
			}
			v := ref[start]
			if end-start > 1 {
				v = floats.Sum(ref[start:end]) / float64(end-start)
			}
			for r := start; r < end; r++ {
				out.Values[ranks[j][r]][j] = v
			}
			start = end
		}
	}
	return out
}
