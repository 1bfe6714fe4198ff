package report

import (
	"math"
	"testing"

	"degpredict/domain/panel"
	"degpredict/domain/prediction"

	"github.com/stretchr/testify/assert"
)

func records() []prediction.Record {
	return []prediction.Record{
		{Gene: "ITPR1", Pathway: panel.IP3Receptor, Proxy: panel.ProxyUp, Log2FC: 1.0, Expression: panel.Expressed,
			Change: prediction.ChangeUp, Confidence: prediction.Medium, Rationale: "loss of inhibition", RuleID: "ip3r_up"},
		{Gene: "PRKCA", Pathway: panel.PKCIsoform, Proxy: panel.ProxyNoData, Log2FC: math.NaN(), Expression: panel.Expressed,
			Change: prediction.ChangeDown, Confidence: prediction.High, Rationale: "Direct KO target | removed", RuleID: "conventional_pkc_ko"},
		{Gene: "GNAQ", Pathway: panel.GProtein, Proxy: panel.ProxyNoData, Log2FC: math.NaN(), Expression: panel.NotMeasured,
			Change: prediction.ChangeUnknown, Confidence: prediction.VeryLow, Rationale: "insufficient evidence"},
		{Gene: "ORAI1", Pathway: panel.SOCE, Proxy: panel.ProxyNotSignificant, Log2FC: 0.2, Expression: panel.Expressed,
			Change: prediction.ChangeNone, Confidence: prediction.Low, Rationale: "no change", RuleID: "soce_flat"},
	}
}

func TestMarkdown_Content(t *testing.T) {
	md := string(Markdown(NewInput(records())))

	assert.Contains(t, md, "- Panel genes: 4")
	assert.Contains(t, md, "- Predicted up: 1")
	assert.Contains(t, md, "- Predicted no change: 1")
	assert.Contains(t, md, "- Genes with proxy data: 2")
	assert.Contains(t, md, "- Proxy log2FC mean / median: 0.600 / 0.600")
	assert.Contains(t, md, "| IP3 Receptor | 1 | 1 | 0 | 0 | 0 | 0 | 1 | 0 | 0 |")
	assert.Contains(t, md, "| very low | 1 |")
	assert.Contains(t, md, `Direct KO target \| removed`)
	assert.Contains(t, md, "## Insufficient evidence")
}

func TestMarkdown_NoHighConfidence(t *testing.T) {
	md := string(Markdown(NewInput(records()[:1])))
	assert.Contains(t, md, "No high-confidence predictions.")
	assert.NotContains(t, md, "## Insufficient evidence")
}

func TestHTML_DeterministicCompletePage(t *testing.T) {
	first := HTML(NewInput(records()))
	second := HTML(NewInput(records()))

	assert.Equal(t, first, second)
	page := string(first)
	assert.Contains(t, page, "<title>PKC knockout astrocyte predictions</title>")
	assert.Contains(t, page, "<table>")
	assert.Contains(t, page, "<td>PRKCA</td>")
}
