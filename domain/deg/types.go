package deg

import (
	"fmt"
	"math"
)

// Regulation is the direction call for one gene in the proxy series
type Regulation string

const (
	Up             Regulation = "up"
	Down           Regulation = "down"
	NotSignificant Regulation = "not_significant"
)

// ParseRegulation validates a persisted regulation label
func ParseRegulation(s string) (Regulation, error) {
	switch Regulation(s) {
	case Up, Down, NotSignificant:
		return Regulation(s), nil
	}
	return "", fmt.Errorf("unknown regulation %q", s)
}

// Thresholds are the run-level significance cut-offs
type Thresholds struct {
	PValue    float64 `yaml:"p_value_threshold" json:"p_value_threshold"`
	AdjPValue float64 `yaml:"adj_p_value_threshold" json:"adj_p_value_threshold"`
	Log2FC    float64 `yaml:"log2fc_threshold" json:"log2fc_threshold"`
}

// DefaultThresholds mirror the curated defaults of the analysis
func DefaultThresholds() Thresholds {
	return Thresholds{PValue: 0.05, AdjPValue: 0.05, Log2FC: 0.5}
}

// Classify applies the inclusive significance rule. Both the adjusted p-value
// and the fold change must pass; NaN inputs are never significant.
func (t Thresholds) Classify(adjP, log2FC float64) Regulation {
	if math.IsNaN(adjP) || math.IsNaN(log2FC) || adjP > t.AdjPValue {
		return NotSignificant
	}
	switch {
	case log2FC >= t.Log2FC:
		return Up
	case log2FC <= -t.Log2FC:
		return Down
	}
	return NotSignificant
}

// Record is one row of the differential expression table
type Record struct {
	Gene        string     `json:"gene"`
	Probe       string     `json:"probe_id"`
	ControlMean float64    `json:"control_mean"`
	TreatedMean float64    `json:"treated_mean"`
	Log2FC      float64    `json:"log2_fold_change"`
	TStatistic  float64    `json:"t_statistic"`
	DF          float64    `json:"df"`
	PValue      float64    `json:"p_value"`
	AdjPValue   float64    `json:"adj_p_value"`
	Nominal     bool       `json:"nominally_significant"`
	Regulation  Regulation `json:"regulation"`
	Degenerate  bool       `json:"degenerate"`
}

// Significant reports whether the gene passed both thresholds
func (r Record) Significant() bool {
	return r.Regulation == Up || r.Regulation == Down
}

// Summary counts regulation calls
type Summary struct {
	Total          int
	Up             int
	Down           int
	NotSignificant int
	Degenerate     int
}

// Summarize tallies a result set
func Summarize(records []Record) Summary {
	s := Summary{Total: len(records)}
	for _, r := range records {
		switch r.Regulation {
		case Up:
			s.Up++
		case Down:
			s.Down++
		default:
			s.NotSignificant++
		}
		if r.Degenerate {
			s.Degenerate++
		}
	}
	return s
}
