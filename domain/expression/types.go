package expression

import (
	"fmt"
	"math"
)

// Group is the experimental arm a sample belongs to
type Group string

const (
	GroupControl Group = "control"
	GroupTreated Group = "treated"
	GroupNone    Group = ""
)

// ParseGroup validates a group label
func ParseGroup(s string) (Group, error) {
	switch Group(s) {
	case GroupControl, GroupTreated:
		return Group(s), nil
	}
	return GroupNone, fmt.Errorf("unknown group %q (want control or treated)", s)
}

// Sample is one metadata row of the proxy series
type Sample struct {
	ID              string `json:"sample_id"`
	Title           string `json:"title"`
	Source          string `json:"source"`
	Characteristics string `json:"characteristics"`
	Group           Group  `json:"group,omitempty"`
}

// Field returns a descriptive field by its metadata column name.
func (s Sample) Field(name string) (string, bool) {
	switch name {
	case "sample_id":
		return s.ID, true
	case "title":
		return s.Title, true
	case "source":
		return s.Source, true
	case "characteristics":
		return s.Characteristics, true
	}
	return "", false
}

// Matrix holds genes x samples. Values[i][j] is gene i in sample j.
type Matrix struct {
	Genes   []string    // unique gene identifiers
	Probes  []string    // source probe per gene, parallel to Genes
	Samples []string    // column order
	Values  [][]float64 // row-major
}

// NewMatrix allocates an empty matrix for the given samples
func NewMatrix(samples []string) *Matrix {
	return &Matrix{Samples: append([]string(nil), samples...)}
}

// AddRow appends a gene row. The row length must match the sample count.
func (m *Matrix) AddRow(gene, probe string, values []float64) error {
	if len(values) != len(m.Samples) {
		return fmt.Errorf("gene %s: %d values for %d samples", gene, len(values), len(m.Samples))
	}
	m.Genes = append(m.Genes, gene)
	m.Probes = append(m.Probes, probe)
	m.Values = append(m.Values, values)
	return nil
}

// NumGenes returns the row count
func (m *Matrix) NumGenes() int { return len(m.Genes) }

// NumSamples returns the column count
func (m *Matrix) NumSamples() int { return len(m.Samples) }

// Column copies out the values of sample j
func (m *Matrix) Column(j int) []float64 {
	col := make([]float64, len(m.Values))
	for i, row := range m.Values {
		col[i] = row[j]
	}
	return col
}

// SampleIndex maps sample id to column position
func (m *Matrix) SampleIndex() map[string]int {
	idx := make(map[string]int, len(m.Samples))
	for j, s := range m.Samples {
		idx[s] = j
	}
	return idx
}

// Clone returns a deep copy
func (m *Matrix) Clone() *Matrix {
	out := &Matrix{
		Genes:   append([]string(nil), m.Genes...),
		Probes:  append([]string(nil), m.Probes...),
		Samples: append([]string(nil), m.Samples...),
		Values:  make([][]float64, len(m.Values)),
	}
	for i, row := range m.Values {
		out.Values[i] = append([]float64(nil), row...)
	}
	return out
}

// Validate checks the matrix invariants: unique genes, rectangular, finite.
func (m *Matrix) Validate() error {
	if len(m.Genes) == 0 {
		return fmt.Errorf("expression matrix has no genes")
	}
	if len(m.Samples) == 0 {
		return fmt.Errorf("expression matrix has no samples")
	}
	seen := make(map[string]struct{}, len(m.Genes))
	for i, g := range m.Genes {
		if _, dup := seen[g]; dup {
			return fmt.Errorf("duplicate gene identifier %s", g)
		}
		seen[g] = struct{}{}
		if len(m.Values[i]) != len(m.Samples) {
			return fmt.Errorf("gene %s: %d values for %d samples", g, len(m.Values[i]), len(m.Samples))
		}
		for j, v := range m.Values[i] {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return fmt.Errorf("gene %s sample %s: non-finite value", g, m.Samples[j])
			}
		}
	}
	return nil
}
