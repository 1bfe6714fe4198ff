package tabular

import (
	"degpredict/domain/expression"
	"degpredict/internal/errors"
)

var sampleHeader = []string{"sample_id", "title", "source", "characteristics", "group"}

// EncodeMatrix writes gene, probe and one column per sample
func EncodeMatrix(m *expression.Matrix) ([]byte, error) {
	header := append([]string{"gene", "probe_id"}, m.Samples...)
	rows := make([][]string, len(m.Genes))
	for i, g := range m.Genes {
		row := make([]string, 0, len(header))
		row = append(row, g, m.Probes[i])
		for _, v := range m.Values[i] {
			row = append(row, formatFloat(v))
		}
		rows[i] = row
	}
	return encode(header, rows)
}

// DecodeMatrix reads a matrix written by EncodeMatrix
func DecodeMatrix(name string, data []byte) (*expression.Matrix, error) {
	t, err := decode(name, data, "gene", "probe_id")
	if err != nil {
		return nil, err
	}
	if t.header["gene"] != 0 || t.header["probe_id"] != 1 {
		return nil, errors.Formatf("%s: gene and probe_id must be the first columns", name)
	}
	samples := t.columns[2:]

	m := expression.NewMatrix(samples)
	for n, row := range t.rows {
		line := n + 2
		if len(row) != len(samples)+2 {
			return nil, t.fail(line, "%d fields, want %d", len(row), len(samples)+2)
		}
		values := make([]float64, len(samples))
		for j, s := range samples {
			v, err := t.float(row, line, s)
			if err != nil {
				return nil, err
			}
			values[j] = v
		}
		if err := m.AddRow(t.get(row, "gene"), t.get(row, "probe_id"), values); err != nil {
			return nil, t.fail(line, "%v", err)
		}
	}
	if err := m.Validate(); err != nil {
		return nil, errors.Formatf("%s: %v", name, err)
	}
	return m, nil
}

// EncodeSamples writes the sample metadata table
func EncodeSamples(samples []expression.Sample) ([]byte, error) {
	rows := make([][]string, len(samples))
	for i, s := range samples {
		rows[i] = []string{s.ID, s.Title, s.Source, s.Characteristics, string(s.Group)}
	}
	return encode(sampleHeader, rows)
}

// DecodeSamples reads sample metadata. The group column may be empty.
func DecodeSamples(name string, data []byte) ([]expression.Sample, error) {
	t, err := decode(name, data, "sample_id")
	if err != nil {
		return nil, err
	}
	out := make([]expression.Sample, 0, len(t.rows))
	for n, row := range t.rows {
		s := expression.Sample{
			ID:              t.get(row, "sample_id"),
			Title:           t.get(row, "title"),
			Source:          t.get(row, "source"),
			Characteristics: t.get(row, "characteristics"),
		}
		if s.ID == "" {
			return nil, t.fail(n+2, "empty sample_id")
		}
		if g := t.get(row, "group"); g != "" {
			grp, err := expression.ParseGroup(g)
			if err != nil {
				return nil, t.fail(n+2, "%v", err)
			}
			s.Group = grp
		}
		out = append(out, s)
	}
	return out, nil
}

// EncodeGroupAssignments writes the operator-reviewable sample_groups table
func EncodeGroupAssignments(samples []expression.Sample, evidence map[string]string) ([]byte, error) {
	rows := make([][]string, len(samples))
	for i, s := range samples {
		rows[i] = []string{s.ID, string(s.Group), s.Title, s.Characteristics, evidence[s.ID]}
	}
	return encode([]string{"sample_id", "group", "title", "characteristics", "evidence"}, rows)
}

// DecodeGroupAssignments reads sample_id to group pairs. Rows with an empty
// group are returned as unassigned so the caller can report them.
func DecodeGroupAssignments(name string, data []byte) (map[string]expression.Group, error) {
	t, err := decode(name, data, "sample_id", "group")
	if err != nil {
		return nil, err
	}
	out := make(map[string]expression.Group, len(t.rows))
	for n, row := range t.rows {
		id, g := t.get(row, "sample_id"), t.get(row, "group")
		if id == "" {
			return nil, t.fail(n+2, "empty sample_id")
		}
		if g == "" {
			out[id] = expression.GroupNone
			continue
		}
		grp, err := expression.ParseGroup(g)
		if err != nil {
			return nil, t.fail(n+2, "%v", err)
		}
		out[id] = grp
	}
	return out, nil
}

// DecodeGroupEvidence reads the evidence column of a sample_groups table.
// Tables without the column yield an empty map.
func DecodeGroupEvidence(name string, data []byte) (map[string]string, error) {
	t, err := decode(name, data, "sample_id")
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(t.rows))
	for _, row := range t.rows {
		if ev := t.get(row, "evidence"); ev != "" {
			out[t.get(row, "sample_id")] = ev
		}
	}
	return out, nil
}
