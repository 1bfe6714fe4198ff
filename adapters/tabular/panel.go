package tabular

import (
	"fmt"
	"math"

	"degpredict/adapters/excel"
	"degpredict/domain/panel"
	"degpredict/internal/errors"
)

var integratedHeader = []string{
	"gene", "pathway", "proxy_regulation", "proxy_log2fc", "proxy_p_value",
	"proxy_adj_p_value", "baseline_level", "astrocyte_expression",
}

// BaselineGeneColumns are the accepted gene column names of a baseline table
var BaselineGeneColumns = []string{"gene_symbol", "Gene_Symbol", "gene", "Gene", "symbol", "Symbol"}

// EncodeIntegrated writes the integrated panel in record order
func EncodeIntegrated(records []panel.IntegratedRecord) ([]byte, error) {
	rows := make([][]string, len(records))
	for i, r := range records {
		rows[i] = []string{
			r.Gene, string(r.Pathway), string(r.Proxy), formatFloat(r.Log2FC),
			formatFloat(r.PValue), formatFloat(r.AdjPValue), formatFloat(r.BaselineLevel),
			string(r.Expression),
		}
	}
	return encode(integratedHeader, rows)
}

// DecodeIntegrated reads the integrated panel
func DecodeIntegrated(name string, data []byte) ([]panel.IntegratedRecord, error) {
	t, err := decode(name, data, integratedHeader...)
	if err != nil {
		return nil, err
	}
	out := make([]panel.IntegratedRecord, 0, len(t.rows))
	for n, row := range t.rows {
		line := n + 2
		r := panel.IntegratedRecord{Gene: t.get(row, "gene")}
		if r.Gene == "" {
			return nil, t.fail(line, "empty gene")
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
		if r.Log2FC, err = t.float(row, line, "proxy_log2fc"); err != nil {
			return nil, err
		}
		if r.PValue, err = t.float(row, line, "proxy_p_value"); err != nil {
			return nil, err
		}
		if r.AdjPValue, err = t.float(row, line, "proxy_adj_p_value"); err != nil {
			return nil, err
		}
		if r.BaselineLevel, err = t.float(row, line, "baseline_level"); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

// BaselineFromTable extracts per-gene baseline values. A numeric
// expression_level column is preferred; a boolean is_expressed column is the
// fallback. The first row for a gene wins. When no header is a known gene
// column the first column is used and a warning is returned.
func BaselineFromTable(name string, t *excel.Table) (map[string]panel.Baseline, []string, error) {
	var warnings []string
	geneCol, ok := t.Column(BaselineGeneColumns...)
	if !ok {
		if len(t.Headers) == 0 {
			return nil, nil, errors.Formatf("%s: no columns", name)
		}
		geneCol = t.Headers[0]
		warnings = append(warnings, fmt.Sprintf("%s: no gene column (tried %v), using first column %q",
			name, BaselineGeneColumns, geneCol))
	}
	levelCol, hasLevel := t.Column("expression_level")
	flagCol, hasFlag := t.Column("is_expressed")
	if !hasLevel && !hasFlag {
		return nil, nil, errors.Formatf("%s: needs an expression_level or is_expressed column", name)
	}

	out := make(map[string]panel.Baseline, len(t.Rows))
	for n, row := range t.Rows {
		gene := row[geneCol]
		if gene == "" {
			continue
		}
		if _, dup := out[gene]; dup {
			continue
		}
		b := panel.Baseline{Gene: gene, Level: math.NaN()}
		if hasLevel {
			v, err := parseFloat(row[levelCol])
			if err != nil {
				return nil, nil, errors.Formatf("%s line %d: expression_level: %v", name, n+2, err)
			}
			b.Level = v
		}
		if hasFlag && row[flagCol] != "" {
			flag, err := parseFlag(row[flagCol])
			if err != nil {
				return nil, nil, errors.Formatf("%s line %d: is_expressed: %v", name, n+2, err)
			}
			b.Expressed = &flag
		}
		out[gene] = b
	}
	return out, warnings, nil
}

func parseFlag(s string) (bool, error) {
	switch s {
	case "1", "true", "TRUE", "True", "yes", "Yes", "YES", "y", "Y":
		return true, nil
	case "0", "false", "FALSE", "False", "no", "No", "NO", "n", "N":
		return false, nil
	}
	return false, errors.Formatf("not a boolean: %q", s)
}
