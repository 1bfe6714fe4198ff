package panel

import (
	"math"
	"sort"
	"strings"

	"degpredict/domain/deg"
)

// ProxyStatusOf maps a regulation call onto the panel's proxy status
func ProxyStatusOf(r deg.Regulation) ProxyStatus {
	switch r {
	case deg.Up:
		return ProxyUp
	case deg.Down:
		return ProxyDown
	}
	return ProxyNotSignificant
}

// Integrate left-joins the panel with the differential expression results and
// the baseline table. It returns exactly one record per panel entry, in panel
// order. Gene symbols are matched exactly first, then case-insensitively.
func Integrate(p Panel, proxy []deg.Record, baseline map[string]Baseline, threshold float64) []IntegratedRecord {
	byGene := make(map[string]deg.Record, len(proxy))
	byUpper := make(map[string]deg.Record, len(proxy))
	for _, r := range proxy {
		byGene[r.Gene] = r
		if _, ok := byUpper[strings.ToUpper(r.Gene)]; !ok {
			byUpper[strings.ToUpper(r.Gene)] = r
		}
	}
	names := make([]string, 0, len(baseline))
	for g := range baseline {
		names = append(names, g)
	}
	sort.Strings(names)
	baseUpper := make(map[string]Baseline, len(baseline))
	for _, g := range names {
		if _, ok := baseUpper[strings.ToUpper(g)]; !ok {
			baseUpper[strings.ToUpper(g)] = baseline[g]
		}
	}

	out := make([]IntegratedRecord, 0, len(p))
	for _, e := range p {
		rec := IntegratedRecord{
			Gene:          e.Gene,
			Pathway:       e.Pathway,
			Proxy:         ProxyNoData,
			Log2FC:        math.NaN(),
			PValue:        math.NaN(),
			AdjPValue:     math.NaN(),
			BaselineLevel: math.NaN(),
			Expression:    NotMeasured,
		}

		d, ok := byGene[e.Gene]
		if !ok {
			d, ok = byUpper[strings.ToUpper(e.Gene)]
		}
		if ok {
			rec.Proxy = ProxyStatusOf(d.Regulation)
			rec.Log2FC, rec.PValue, rec.AdjPValue = d.Log2FC, d.PValue, d.AdjPValue
		}

		b, ok := baseline[e.Gene]
		if !ok {
			b, ok = baseUpper[strings.ToUpper(e.Gene)]
		}
		if ok {
			rec.BaselineLevel = b.Level
			rec.Expression = b.Status(threshold)
		}
		out = append(out, rec)
	}
	return out
}

// WithoutProxy lists the genes that have no proxy data
func WithoutProxy(records []IntegratedRecord) []string {
	var genes []string
	for _, r := range records {
		if r.Proxy == ProxyNoData {
			genes = append(genes, r.Gene)
		}
	}
	return genes
}
