// Package report renders the human readable summary of a prediction run.
package report

import (
	"fmt"
	"math"
	"strings"

	"degpredict/domain/prediction"

	"github.com/gomarkdown/markdown"
	"github.com/gomarkdown/markdown/html"
	"github.com/gomarkdown/markdown/parser"
	mstats "github.com/montanaflynn/stats"
)

const pageTitle = "PKC knockout astrocyte predictions"

// Input is the data the summary draws from. It is derived from the persisted
// prediction table only.
type Input struct {
	Predictions []prediction.Record
	Summaries   []prediction.PathwaySummary
	Confidence  map[prediction.Confidence]int
}

// NewInput derives summaries and confidence counts from predictions
func NewInput(records []prediction.Record) Input {
	return Input{
		Predictions: records,
		Summaries:   prediction.Summarize(records),
		Confidence:  prediction.ConfidenceCounts(records),
	}
}

// Markdown builds the report body. Output depends only on the input, so
// identical predictions give identical bytes.
func Markdown(in Input) []byte {
	var b strings.Builder

	fmt.Fprintf(&b, "# %s\n\n", pageTitle)

	changes := make(map[prediction.Change]int)
	var fcs []float64
	for _, r := range in.Predictions {
		changes[r.Change]++
		if !math.IsNaN(r.Log2FC) {
			fcs = append(fcs, r.Log2FC)
		}
	}
	fmt.Fprintf(&b, "- Panel genes: %d\n", len(in.Predictions))
	for _, c := range prediction.Changes {
		fmt.Fprintf(&b, "- Predicted %s: %d\n", label(string(c)), changes[c])
	}
	fmt.Fprintf(&b, "- Genes with proxy data: %d\n", len(fcs))
	if len(fcs) > 0 {
		mean, _ := mstats.Mean(fcs)
		median, _ := mstats.Median(fcs)
		fmt.Fprintf(&b, "- Proxy log2FC mean / median: %.3f / %.3f\n", mean, median)
	}
	b.WriteString("\n")

	b.WriteString("## Predictions by pathway\n\n")
	b.WriteString("| Pathway | Genes | Up | Down | No change | Unknown | High | Medium | Low | Very low |\n")
	b.WriteString("|---|---:|---:|---:|---:|---:|---:|---:|---:|---:|\n")
	for _, s := range in.Summaries {
		fmt.Fprintf(&b, "| %s | %d | %d | %d | %d | %d | %d | %d | %d | %d |\n",
			s.Pathway.Label(), s.Total, s.Up, s.Down, s.NoChange, s.Unknown, s.High, s.Medium, s.Low, s.VeryLow)
	}
	b.WriteString("\n")

	b.WriteString("## Confidence distribution\n\n")
	b.WriteString("| Confidence | Genes |\n|---|---:|\n")
	for _, c := range prediction.Confidences {
		fmt.Fprintf(&b, "| %s | %d |\n", label(string(c)), in.Confidence[c])
	}
	b.WriteString("\n")

	b.WriteString("## High-confidence predictions\n\n")
	high := filter(in.Predictions, func(r prediction.Record) bool { return r.Confidence == prediction.High })
	if len(high) == 0 {
		b.WriteString("No high-confidence predictions.\n\n")
	} else {
		writeTable(&b, high)
	}

	unknown := filter(in.Predictions, func(r prediction.Record) bool { return r.Change == prediction.ChangeUnknown })
	if len(unknown) > 0 {
		b.WriteString("## Insufficient evidence\n\n")
		writeTable(&b, unknown)
	}

	return []byte(b.String())
}

// HTML renders the markdown report as a complete standalone page
func HTML(in Input) []byte {
	p := parser.NewWithExtensions(parser.CommonExtensions | parser.Tables)
	renderer := html.NewRenderer(html.RendererOptions{
		Title: pageTitle,
		Flags: html.CommonFlags | html.CompletePage,
	})
	return markdown.ToHTML(Markdown(in), p, renderer)
}

func writeTable(b *strings.Builder, records []prediction.Record) {
	b.WriteString("| Gene | Pathway | Proxy | Change | Confidence | Rationale |\n")
	b.WriteString("|---|---|---|---|---|---|\n")
	for _, r := range records {
		fmt.Fprintf(b, "| %s | %s | %s | %s | %s | %s |\n",
			r.Gene, r.Pathway.Label(), r.Proxy, r.Change, r.Confidence, escape(r.Rationale))
	}
	b.WriteString("\n")
}

func filter(records []prediction.Record, keep func(prediction.Record) bool) []prediction.Record {
	var out []prediction.Record
	for _, r := range records {
		if keep(r) {
			out = append(out, r)
		}
	}
	return out
}

func label(s string) string {
	return strings.ReplaceAll(s, "_", " ")
}

func escape(s string) string {
	return strings.ReplaceAll(s, "|", `\|`)
}
