package panel

import (
	"fmt"
	"math"
	"sort"
)

// Pathway is the functional category a panel gene is assigned to
type Pathway string

const (
	IP3Receptor    Pathway = "ip3_receptor"
	PhospholipaseC Pathway = "phospholipase_c"
	SERCAPump      Pathway = "serca_pump"
	PMCAPump       Pathway = "pmca_pump"
	CalciumChannel Pathway = "calcium_channel"
	CalciumBuffer  Pathway = "calcium_buffer"
	PKCIsoform     Pathway = "pkc_isoform"
	SOCE           Pathway = "soce"
	GProtein       Pathway = "g_protein"
	Other          Pathway = "other"
)

// Taxonomy lists every pathway in display order
var Taxonomy = []Pathway{
	IP3Receptor, PhospholipaseC, SERCAPump, PMCAPump, CalciumChannel,
	CalciumBuffer, PKCIsoform, SOCE, GProtein, Other,
}

var pathwayLabels = map[Pathway]string{
	IP3Receptor:    "IP3 Receptor",
	PhospholipaseC: "Phospholipase C",
	SERCAPump:      "SERCA Pump",
	PMCAPump:       "PMCA Pump",
	CalciumChannel: "Calcium Channel",
	CalciumBuffer:  "Calcium Buffer",
	PKCIsoform:     "PKC Isoform",
	SOCE:           "SOCE",
	GProtein:       "G-protein",
	Other:          "Other",
}

// Label returns the human readable pathway name
func (p Pathway) Label() string {
	if l, ok := pathwayLabels[p]; ok {
		return l
	}
	return string(p)
}

// ParsePathway validates a pathway key
func ParsePathway(s string) (Pathway, error) {
	if _, ok := pathwayLabels[Pathway(s)]; ok {
		return Pathway(s), nil
	}
	return "", fmt.Errorf("unknown pathway %q", s)
}

// ProxyStatus is the regulation call carried into the panel, extended with
// the case where the proxy series has no row for the gene.
type ProxyStatus string

const (
	ProxyUp             ProxyStatus = "up"
	ProxyDown           ProxyStatus = "down"
	ProxyNotSignificant ProxyStatus = "not_significant"
	ProxyNoData         ProxyStatus = "no_proxy_data"
)

// ProxyStatuses lists every proxy status
var ProxyStatuses = []ProxyStatus{ProxyUp, ProxyDown, ProxyNotSignificant, ProxyNoData}

// ParseProxyStatus validates a persisted proxy status
func ParseProxyStatus(s string) (ProxyStatus, error) {
	for _, p := range ProxyStatuses {
		if string(p) == s {
			return p, nil
		}
	}
	return "", fmt.Errorf("unknown proxy status %q", s)
}

// ExpressionStatus is the baseline astrocyte expression call
type ExpressionStatus string

const (
	Expressed    ExpressionStatus = "expressed"
	NotExpressed ExpressionStatus = "not_expressed"
	NotMeasured  ExpressionStatus = "not_measured"
)

// ExpressionStatuses lists every expression status
var ExpressionStatuses = []ExpressionStatus{Expressed, NotExpressed, NotMeasured}

// ParseExpressionStatus validates a persisted expression status
func ParseExpressionStatus(s string) (ExpressionStatus, error) {
	for _, e := range ExpressionStatuses {
		if string(e) == s {
			return e, nil
		}
	}
	return "", fmt.Errorf("unknown expression status %q", s)
}

// Entry is one curated gene of interest
type Entry struct {
	Gene    string  `yaml:"gene" json:"gene"`
	Pathway Pathway `yaml:"pathway" json:"pathway"`
}

// Panel is the fixed gene list, in configuration order
type Panel []Entry

// Validate rejects empty panels, duplicate genes and unknown pathways
func (p Panel) Validate() error {
	if len(p) == 0 {
		return fmt.Errorf("gene panel is empty")
	}
	seen := make(map[string]struct{}, len(p))
	for _, e := range p {
		if e.Gene == "" {
			return fmt.Errorf("gene panel entry with empty gene")
		}
		if _, dup := seen[e.Gene]; dup {
			return fmt.Errorf("gene %s listed twice in panel", e.Gene)
		}
		seen[e.Gene] = struct{}{}
		if _, err := ParsePathway(string(e.Pathway)); err != nil {
			return fmt.Errorf("gene %s: %w", e.Gene, err)
		}
	}
	return nil
}

// Baseline is one row of the astrocyte baseline table. Level is NaN when the
// source only carries a boolean call.
type Baseline struct {
	Gene      string
	Level     float64
	Expressed *bool
}

// Status classifies a baseline value against the configured threshold
func (b Baseline) Status(threshold float64) ExpressionStatus {
	if !math.IsNaN(b.Level) {
		if b.Level > threshold {
			return Expressed
		}
		return NotExpressed
	}
	if b.Expressed != nil {
		if *b.Expressed {
			return Expressed
		}
		return NotExpressed
	}
	return NotMeasured
}

// IntegratedRecord joins a panel entry with proxy and baseline evidence.
// Numeric fields are NaN when the source row is absent.
type IntegratedRecord struct {
	Gene          string
	Pathway       Pathway
	Proxy         ProxyStatus
	Log2FC        float64
	PValue        float64
	AdjPValue     float64
	BaselineLevel float64
	Expression    ExpressionStatus
}

// PathwayCounts tallies records per pathway in taxonomy order
func PathwayCounts(records []IntegratedRecord) []PathwayCount {
	counts := make(map[Pathway]int)
	for _, r := range records {
		counts[r.Pathway]++
	}
	out := make([]PathwayCount, 0, len(counts))
	for p, n := range counts {
		out = append(out, PathwayCount{Pathway: p, Count: n})
	}
	order := make(map[Pathway]int, len(Taxonomy))
	for i, p := range Taxonomy {
		order[p] = i
	}
	sort.Slice(out, func(i, j int) bool { return order[out[i].Pathway] < order[out[j].Pathway] })
	return out
}

// PathwayCount is a (pathway, n) pair
type PathwayCount struct {
	Pathway Pathway
	Count   int
}
