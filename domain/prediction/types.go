package prediction

import (
	"fmt"

	"degpredict/domain/panel"
)

// Change is the predicted direction in the knockout astrocytes
type Change string

const (
	ChangeUp      Change = "up"
	ChangeDown    Change = "down"
	ChangeNone    Change = "no_change"
	ChangeUnknown Change = "unknown"
)

// Changes lists every predicted change
var Changes = []Change{ChangeUp, ChangeDown, ChangeNone, ChangeUnknown}

// ParseChange validates a change label
func ParseChange(s string) (Change, error) {
	for _, c := range Changes {
		if string(c) == s {
			return c, nil
		}
	}
	return "", fmt.Errorf("unknown predicted change %q", s)
}

// Numeric maps a change onto -1/0/1 for heatmaps; unknown has no value.
func (c Change) Numeric() (float64, bool) {
	switch c {
	case ChangeUp:
		return 1, true
	case ChangeDown:
		return -1, true
	case ChangeNone:
		return 0, true
	}
	return 0, false
}

// Confidence is an ordinal evidence tier
type Confidence string

const (
	High    Confidence = "high"
	Medium  Confidence = "medium"
	Low     Confidence = "low"
	VeryLow Confidence = "very_low"
)

// Confidences lists tiers from strongest to weakest
var Confidences = []Confidence{High, Medium, Low, VeryLow}

// Rank orders tiers; higher is stronger. Unknown tiers rank 0.
func (c Confidence) Rank() int {
	switch c {
	case High:
		return 4
	case Medium:
		return 3
	case Low:
		return 2
	case VeryLow:
		return 1
	}
	return 0
}

// ParseConfidence validates a confidence label
func ParseConfidence(s string) (Confidence, error) {
	if Confidence(s).Rank() == 0 {
		return "", fmt.Errorf("unknown confidence %q", s)
	}
	return Confidence(s), nil
}

// Record is the terminal artifact for one panel gene
type Record struct {
	Gene       string
	Pathway    panel.Pathway
	Proxy      panel.ProxyStatus
	Log2FC     float64
	Expression panel.ExpressionStatus
	Change     Change
	Confidence Confidence
	Rationale  string
	RuleID     string
}

// Gap is a combination the rule table does not cover
type Gap struct {
	Gene       string
	Pathway    panel.Pathway
	Proxy      panel.ProxyStatus
	Expression panel.ExpressionStatus
}

func (g Gap) String() string {
	if g.Gene == "" {
		return fmt.Sprintf("%s/%s/%s", g.Pathway, g.Proxy, g.Expression)
	}
	return fmt.Sprintf("%s (%s/%s/%s)", g.Gene, g.Pathway, g.Proxy, g.Expression)
}
