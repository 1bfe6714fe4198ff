package tabular

import (
	"strconv"

	"degpredict/domain/deg"
)

var degHeader = []string{
	"gene", "probe_id", "control_mean", "treated_mean", "log2_fold_change", "t_statistic",
	"df", "p_value", "adj_p_value", "nominally_significant", "regulation", "degenerate",
}

// EncodeDEG writes the differential expression table in record order
func EncodeDEG(records []deg.Record) ([]byte, error) {
	rows := make([][]string, len(records))
	for i, r := range records {
		rows[i] = []string{
			r.Gene, r.Probe,
			formatFloat(r.ControlMean), formatFloat(r.TreatedMean), formatFloat(r.Log2FC),
			formatFloat(r.TStatistic), formatFloat(r.DF), formatFloat(r.PValue), formatFloat(r.AdjPValue),
			formatBool(r.Nominal), string(r.Regulation), formatBool(r.Degenerate),
		}
	}
	return encode(degHeader, rows)
}

// DecodeDEG reads a differential expression table. Only gene, log2 fold
// change, the p-values and regulation are required.
func DecodeDEG(name string, data []byte) ([]deg.Record, error) {
	t, err := decode(name, data, "gene", "log2_fold_change", "p_value", "adj_p_value", "regulation")
	if err != nil {
		return nil, err
	}
	out := make([]deg.Record, 0, len(t.rows))
	seen := make(map[string]struct{}, len(t.rows))
	for n, row := range t.rows {
		line := n + 2
		r := deg.Record{Gene: t.get(row, "gene"), Probe: t.get(row, "probe_id")}
		if r.Gene == "" {
			return nil, t.fail(line, "empty gene")
		}
		if _, dup := seen[r.Gene]; dup {
			return nil, t.fail(line, "duplicate gene %s", r.Gene)
		}
		seen[r.Gene] = struct{}{}

		for _, f := range []struct {
			col string
			dst *float64
		}{
			{"control_mean", &r.ControlMean},
			{"treated_mean", &r.TreatedMean},
			{"log2_fold_change", &r.Log2FC},
			{"t_statistic", &r.TStatistic},
			{"df", &r.DF},
			{"p_value", &r.PValue},
			{"adj_p_value", &r.AdjPValue},
		} {
			if *f.dst, err = t.float(row, line, f.col); err != nil {
				return nil, err
			}
		}
		if r.Nominal, err = t.bool(row, line, "nominally_significant"); err != nil {
			return nil, err
		}
		if r.Degenerate, err = t.bool(row, line, "degenerate"); err != nil {
			return nil, err
		}
		if r.Regulation, err = deg.ParseRegulation(t.get(row, "regulation")); err != nil {
			return nil, t.fail(line, "%v", err)
		}
		out = append(out, r)
	}
	return out, nil
}

// SummaryRows renders deg.Summary as key/value rows for reports
func SummaryRows(s deg.Summary) [][]string {
	return [][]string{
		{"total", strconv.Itoa(s.Total)},
		{"up", strconv.Itoa(s.Up)},
		{"down", strconv.Itoa(s.Down)},
		{"not_significant", strconv.Itoa(s.NotSignificant)},
		{"degenerate", strconv.Itoa(s.Degenerate)},
	}
}

// EncodeDEGSummary writes the regulation counts as a metric,count table
func EncodeDEGSummary(s deg.Summary) ([]byte, error) {
	return encode([]string{"metric", "count"}, SummaryRows(s))
}
