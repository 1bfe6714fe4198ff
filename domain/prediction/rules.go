package prediction

import (
	"fmt"
	"strings"

	"degpredict/domain/panel"
)

// Wildcard matches any value of a rule key
const Wildcard = "*"

// DefaultRuleID marks predictions produced by the fallback
const DefaultRuleID = "default"

// Fallback values for combinations the table does not map
const (
	FallbackChange     = ChangeUnknown
	FallbackConfidence = VeryLow
	FallbackRationale  = "insufficient evidence"
)

// Rule maps evidence to a predicted outcome. Empty keys behave as wildcards.
type Rule struct {
	ID         string     `yaml:"id"`
	Genes      []string   `yaml:"genes,omitempty"`
	Pathway    string     `yaml:"pathway,omitempty"`
	Regulation string     `yaml:"regulation,omitempty"`
	Expression string     `yaml:"expression,omitempty"`
	Change     Change     `yaml:"change"`
	Confidence Confidence `yaml:"confidence"`
	Rationale  string     `yaml:"rationale"`
}

// Adjustment downgrades confidence for an expression status and appends a note
type Adjustment struct {
	Confidence Confidence `yaml:"confidence"`
	Note       string     `yaml:"note"`
}

// RuleTable is the curated mechanistic knowledge for a run
type RuleTable struct {
	Rules                 []Rule                `yaml:"rules"`
	ExpressionAdjustments map[string]Adjustment `yaml:"expression_adjustments,omitempty"`
}

func isWild(key string) bool { return key == "" || key == Wildcard }

// Validate checks ids and enum values
func (t RuleTable) Validate() error {
	seen := make(map[string]struct{}, len(t.Rules))
	for i, r := range t.Rules {
		if r.ID == "" {
			return fmt.Errorf("rule %d: missing id", i)
		}
		if _, dup := seen[r.ID]; dup {
			return fmt.Errorf("rule %s: duplicate id", r.ID)
		}
		seen[r.ID] = struct{}{}
		if !isWild(r.Pathway) {
			if _, err := panel.ParsePathway(r.Pathway); err != nil {
				return fmt.Errorf("rule %s: %w", r.ID, err)
			}
		}
		if !isWild(r.Regulation) {
			if _, err := panel.ParseProxyStatus(r.Regulation); err != nil {
				return fmt.Errorf("rule %s: %w", r.ID, err)
			}
		}
		if !isWild(r.Expression) {
			if _, err := panel.ParseExpressionStatus(r.Expression); err != nil {
				return fmt.Errorf("rule %s: %w", r.ID, err)
			}
		}
		if _, err := ParseChange(string(r.Change)); err != nil {
			return fmt.Errorf("rule %s: %w", r.ID, err)
		}
		if _, err := ParseConfidence(string(r.Confidence)); err != nil {
			return fmt.Errorf("rule %s: %w", r.ID, err)
		}
	}
	for status, adj := range t.ExpressionAdjustments {
		if _, err := panel.ParseExpressionStatus(status); err != nil {
			return fmt.Errorf("expression adjustment: %w", err)
		}
		if _, err := ParseConfidence(string(adj.Confidence)); err != nil {
			return fmt.Errorf("expression adjustment %s: %w", status, err)
		}
	}
	return nil
}

// specificity scores a matching rule; -1 means no match.
// Gene lists outrank pathways, which outrank the remaining keys.
func (r Rule) specificity(gene string, pathway panel.Pathway, proxy panel.ProxyStatus, expr panel.ExpressionStatus) int {
	score := 0
	if len(r.Genes) > 0 {
		found := false
		for _, g := range r.Genes {
			if g == gene {
				found = true
				break
			}
		}
		if !found {
			return -1
		}
		score += 100
	}
	if !isWild(r.Pathway) {
		if r.Pathway != string(pathway) {
			return -1
		}
		score += 10
	}
	if !isWild(r.Regulation) {
		if r.Regulation != string(proxy) {
			return -1
		}
		score++
	}
	if !isWild(r.Expression) {
		if r.Expression != string(expr) {
			return -1
		}
		score++
	}
	return score
}

// Match returns the most specific rule for the evidence. Ties go to the rule
// listed first.
func (t RuleTable) Match(gene string, pathway panel.Pathway, proxy panel.ProxyStatus, expr panel.ExpressionStatus) (Rule, bool) {
	best, bestScore := -1, -1
	for i, r := range t.Rules {
		if s := r.specificity(gene, pathway, proxy, expr); s > bestScore {
			best, bestScore = i, s
		}
	}
	if best < 0 {
		return Rule{}, false
	}
	return t.Rules[best], true
}

// Apply computes the prediction for one integrated record. The second return
// value is false when the fallback was used.
func (t RuleTable) Apply(rec panel.IntegratedRecord) (Record, bool) {
	out := Record{
		Gene:       rec.Gene,
		Pathway:    rec.Pathway,
		Proxy:      rec.Proxy,
		Log2FC:     rec.Log2FC,
		Expression: rec.Expression,
	}

	rule, ok := t.Match(rec.Gene, rec.Pathway, rec.Proxy, rec.Expression)
	if !ok {
		out.Change = FallbackChange
		out.Confidence = FallbackConfidence
		out.Rationale = FallbackRationale
		out.RuleID = DefaultRuleID
		return out, false
	}

	out.Change = rule.Change
	out.Confidence = rule.Confidence
	out.Rationale = expandRationale(rule.Rationale, rec)
	out.RuleID = rule.ID

	// Rules keyed on expression already encode it.
	if isWild(rule.Expression) {
		if adj, found := t.ExpressionAdjustments[string(rec.Expression)]; found {
			if adj.Confidence.Rank() < out.Confidence.Rank() {
				out.Confidence = adj.Confidence
			}
			if adj.Note != "" {
				out.Rationale += "; " + adj.Note
			}
		}
	}
	return out, true
}

func expandRationale(tmpl string, rec panel.IntegratedRecord) string {
	return strings.NewReplacer(
		"{gene}", rec.Gene,
		"{pathway}", rec.Pathway.Label(),
		"{regulation}", string(rec.Proxy),
	).Replace(tmpl)
}

// Coverage enumerates pathway x proxy x expression and returns every
// combination that falls through to the fallback. Gene-specific rules are
// ignored because they only cover their listed genes.
func (t RuleTable) Coverage() []Gap {
	generic := RuleTable{ExpressionAdjustments: t.ExpressionAdjustments}
	for _, r := range t.Rules {
		if len(r.Genes) == 0 {
			generic.Rules = append(generic.Rules, r)
		}
	}
	var gaps []Gap
	for _, p := range panel.Taxonomy {
		for _, proxy := range panel.ProxyStatuses {
			for _, expr := range panel.ExpressionStatuses {
				if _, ok := generic.Match("", p, proxy, expr); !ok {
					gaps = append(gaps, Gap{Pathway: p, Proxy: proxy, Expression: expr})
				}
			}
		}
	}
	return gaps
}
