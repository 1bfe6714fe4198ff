package prediction

import (
	"sort"

	"degpredict/domain/panel"
)

// Predict applies the rule table to every integrated record. It is pure: the
// same records and table always give the same predictions in the same order.
// Gaps lists the records that fell through to the fallback.
func Predict(records []panel.IntegratedRecord, table RuleTable) ([]Record, []Gap) {
	out := make([]Record, 0, len(records))
	var gaps []Gap
	for _, rec := range records {
		p, matched := table.Apply(rec)
		if !matched {
			gaps = append(gaps, Gap{Gene: rec.Gene, Pathway: rec.Pathway, Proxy: rec.Proxy, Expression: rec.Expression})
		}
		out = append(out, p)
	}
	Sort(out)
	return out, gaps
}

// Sort orders predictions by pathway, then strongest confidence, then gene.
func Sort(records []Record) {
	sort.SliceStable(records, func(i, j int) bool {
		a, b := records[i], records[j]
		if a.Pathway != b.Pathway {
			return a.Pathway < b.Pathway
		}
		if a.Confidence.Rank() != b.Confidence.Rank() {
			return a.Confidence.Rank() > b.Confidence.Rank()
		}
		return a.Gene < b.Gene
	})
}

// PathwaySummary counts predictions for one pathway
type PathwaySummary struct {
	Pathway  panel.Pathway
	Total    int
	Up       int
	Down     int
	NoChange int
	Unknown  int
	High     int
	Medium   int
	Low      int
	VeryLow  int
}

// Summarize groups predictions per pathway in taxonomy order. Pathways with
// no genes are omitted.
func Summarize(records []Record) []PathwaySummary {
	byPathway := make(map[panel.Pathway]*PathwaySummary)
	for _, r := range records {
		s, ok := byPathway[r.Pathway]
		if !ok {
			s = &PathwaySummary{Pathway: r.Pathway}
			byPathway[r.Pathway] = s
		}
		s.Total++
		switch r.Change {
		case ChangeUp:
			s.Up++
		case ChangeDown:
			s.Down++
		case ChangeNone:
			s.NoChange++
		default:
			s.Unknown++
		}
		switch r.Confidence {
		case High:
			s.High++
		case Medium:
			s.Medium++
		case Low:
			s.Low++
		default:
			s.VeryLow++
		}
	}

	out := make([]PathwaySummary, 0, len(byPathway))
	for _, p := range panel.Taxonomy {
		if s, ok := byPathway[p]; ok {
			out = append(out, *s)
		}
	}
	return out
}

// ConfidenceCounts tallies predictions per tier, strongest first
func ConfidenceCounts(records []Record) map[Confidence]int {
	counts := make(map[Confidence]int, len(Confidences))
	for _, c := range Confidences {
		counts[c] = 0
	}
	for _, r := range records {
		counts[r.Confidence]++
	}
	return counts
}
