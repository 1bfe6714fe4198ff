package tabular

import (
	"strconv"

	"degpredict/domain/panel"
	"degpredict/domain/prediction"
)

// PredictionHeader is shared with the workbook writer
var PredictionHeader = []string{
	"gene", "pathway", "proxy_regulation", "proxy_log2fc", "astrocyte_expression",
	"predicted_change", "confidence", "rationale", "rule_id",
}

// PredictionRow renders one prediction in PredictionHeader order
func PredictionRow(r prediction.Record) []string {
	return []string{
		r.Gene, string(r.Pathway), string(r.Proxy), formatFloat(r.Log2FC), string(r.Expression),
		string(r.Change), string(r.Confidence), r.Rationale, r.RuleID,
	}
}

// EncodePredictions writes predictions in record order
func EncodePredictions(records []prediction.Record) ([]byte, error) {
	rows := make([][]string, len(records))
	for i, r := range records {
		rows[i] = PredictionRow(r)
	}
	return encode(PredictionHeader, rows)
}

// DecodePredictions reads predictions written by EncodePredictions
func DecodePredictions(name string, data []byte) ([]prediction.Record, error) {
	t, err := decode(name, data, PredictionHeader...)
	if err != nil {
		return nil, err
	}
	out := make([]prediction.Record, 0, len(t.rows))
	for n, row := range t.rows {
		line := n + 2
		r := prediction.Record{
			Gene:      t.get(row, "gene"),
			Rationale: t.get(row, "rationale"),
			RuleID:    t.get(row, "rule_id"),
		}
		if r.Pathway, err = panel.ParsePathway(t.get(row, "pathway")); err != nil {
			return nil, t.fail(line, "%v", err)
		}
		if r.Proxy, err = panel.ParseProxyStatus(t.get(row, "proxy_regulation")); err != nil {
			return nil, t.fail(line, "%v", err)
		}
		if r.Expression, err = panel.ParseExpressionStatus(t.get(row, "astrocyte_expression")); err != nil {
			return nil, t.fail(line, "%v", err)
		}
		if r.Change, err = prediction.ParseChange(t.get(row, "predicted_change")); err != nil {
			return nil, t.fail(line, "%v", err)
		}
		if r.Confidence, err = prediction.ParseConfidence(t.get(row, "confidence")); err != nil {
			return nil, t.fail(line, "%v", err)
		}
		if r.Log2FC, err = t.float(row, line, "proxy_log2fc"); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

// EncodePathwaySummary writes per-pathway counts
func EncodePathwaySummary(summaries []prediction.PathwaySummary) ([]byte, error) {
	header := []string{"pathway", "label", "total", "up", "down", "no_change", "unknown", "high", "medium", "low", "very_low"}
	rows := make([][]string, len(summaries))
	for i, s := range summaries {
		rows[i] = []string{
			string(s.Pathway), s.Pathway.Label(), strconv.Itoa(s.Total),
			strconv.Itoa(s.Up), strconv.Itoa(s.Down), strconv.Itoa(s.NoChange), strconv.Itoa(s.Unknown),
			strconv.Itoa(s.High), strconv.Itoa(s.Medium), strconv.Itoa(s.Low), strconv.Itoa(s.VeryLow),
		}
	}
	return encode(header, rows)
}

// EncodeConfidenceDistribution writes one row per tier, strongest first,
// including empty tiers
func EncodeConfidenceDistribution(counts map[prediction.Confidence]int) ([]byte, error) {
	rows := make([][]string, 0, len(prediction.Confidences))
	for _, c := range prediction.Confidences {
		rows = append(rows, []string{string(c), strconv.Itoa(counts[c])})
	}
	return encode([]string{"confidence", "count"}, rows)
}

// EncodeGaps writes rule table coverage gaps
func EncodeGaps(gaps []prediction.Gap) ([]byte, error) {
	rows := make([][]string, len(gaps))
	for i, g := range gaps {
		rows[i] = []string{g.Gene, string(g.Pathway), string(g.Proxy), string(g.Expression)}
	}
	return encode([]string{"gene", "pathway", "proxy_regulation", "astrocyte_expression"}, rows)
}
