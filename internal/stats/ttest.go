package stats

import (
	"math"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

// SentinelPValue is reported for genes the t-test cannot score
const SentinelPValue = 1.0

// TTestResult is the outcome of one two-sample test
type TTestResult struct {
	T           float64
	DF          float64
	P           float64
	ControlMean float64
	TreatedMean float64
	Degenerate  bool // zero variance or too few samples; P is the sentinel
}

// Log2FC is the difference of group means on the log2 scale
func (r TTestResult) Log2FC() float64 {
	return r.TreatedMean - r.ControlMean
}

// TwoSampleTTest compares treated against control. equalVariance selects
// Student's pooled test, otherwise Welch's test with Welch-Satterthwaite
// degrees of freedom. Zero variance in either group, or fewer than two values
// per group, yields the sentinel instead of a numeric error.
func TwoSampleTTest(control, treated []float64, equalVariance bool) TTestResult {
	res := TTestResult{P: SentinelPValue}
	if len(control) > 0 {
		res.ControlMean = stat.Mean(control, nil)
	}
	if len(treated) > 0 {
		res.TreatedMean = stat.Mean(treated, nil)
	}
	if len(control) < 2 || len(treated) < 2 {
		res.Degenerate = true
		return res
	}

	_, v1 := stat.MeanVariance(control, nil)
	_, v2 := stat.MeanVariance(treated, nil)
	if v1 == 0 || v2 == 0 {
		res.Degenerate = true
		return res
	}

	n1, n2 := float64(len(control)), float64(len(treated))
	var se, df float64
	if equalVariance {
		pooled := ((n1-1)*v1 + (n2-1)*v2) / (n1 + n2 - 2)
		se = math.Sqrt(pooled * (1/n1 + 1/n2))
		df = n1 + n2 - 2
	} else {
		a, b := v1/n1, v2/n2
		se = math.Sqrt(a + b)
		df = (a + b) * (a + b) / (a*a/(n1-1) + b*b/(n2-1))
	}

	t := (res.TreatedMean - res.ControlMean) / se
	if math.IsNaN(t) || math.IsInf(t, 0) || se == 0 {
		res.Degenerate = true
		return res
	}

	dist := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: df}
	p := 2 * dist.Survival(math.Abs(t))
	res.T, res.DF, res.P = t, df, math.Min(math.Max(p, 0), 1)
	return res
}
