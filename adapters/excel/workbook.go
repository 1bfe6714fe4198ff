package excel

import (
	"fmt"
	"math"

	"degpredict/domain/prediction"

	"github.com/xuri/excelize/v2"
)

// fixedTimestamp pins document properties so reruns do not differ by wall clock
const fixedTimestamp = "2000-01-01T00:00:00Z"

const (
	sheetPredictions = "Predictions"
	sheetByPathway   = "By Pathway"
	sheetSummary     = "Summary"
	sheetHeatmap     = "Heatmap"
	sheetConfidence  = "Confidence"
	sheetVolcano     = "Volcano"
)

var predictionColumns = []string{
	"Gene", "Pathway", "Proxy regulation", "Proxy log2FC", "Astrocyte expression",
	"Predicted change", "Confidence", "Rationale", "Rule",
}

// VolcanoPoint is one panel gene with proxy evidence
type VolcanoPoint struct {
	Gene      string
	Log2FC    float64
	NegLog10P float64
	Labeled   bool
}

// ReportInput is everything the report workbook draws
type ReportInput struct {
	Predictions []prediction.Record
	Summaries   []prediction.PathwaySummary
	Confidence  map[prediction.Confidence]int
	Volcano     []VolcanoPoint
}

type writer struct {
	f      *excelize.File
	header int
}

func newWriter(firstSheet string) (*writer, error) {
	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", firstSheet); err != nil {
		return nil, err
	}
	if err := f.SetDocProps(&excelize.DocProperties{
		Creator:        "degpredict",
		LastModifiedBy: "degpredict",
		Created:        fixedTimestamp,
		Modified:       fixedTimestamp,
	}); err != nil {
		return nil, err
	}
	header, err := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Color: "#FFFFFF"},
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"#305496"}, Pattern: 1},
		Alignment: &excelize.Alignment{Vertical: "center"},
	})
	if err != nil {
		return nil, err
	}
	return &writer{f: f, header: header}, nil
}

func (w *writer) sheet(name string) error {
	_, err := w.f.NewSheet(name)
	return err
}

// table writes a header row and data rows from A1, styles the header and
// freezes it
func (w *writer) table(sheet string, header []string, rows [][]interface{}) error {
	hdr := make([]interface{}, len(header))
	for i, h := range header {
		hdr[i] = h
	}
	if err := w.f.SetSheetRow(sheet, "A1", &hdr); err != nil {
		return err
	}
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		row := row
		if err := w.f.SetSheetRow(sheet, cell, &row); err != nil {
			return err
		}
	}
	last, err := excelize.CoordinatesToCellName(len(header), 1)
	if err != nil {
		return err
	}
	if err := w.f.SetCellStyle(sheet, "A1", last, w.header); err != nil {
		return err
	}
	return w.f.SetPanes(sheet, &excelize.Panes{
		Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft",
	})
}

func (w *writer) bytes() ([]byte, error) {
	buf, err := w.f.WriteToBuffer()
	if err != nil {
		return nil, err
	}
	if err := w.f.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// cellFloat leaves missing numbers as empty cells
func cellFloat(v float64) interface{} {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return ""
	}
	return v
}

func predictionRow(r prediction.Record) []interface{} {
	return []interface{}{
		r.Gene, r.Pathway.Label(), string(r.Proxy), cellFloat(r.Log2FC), string(r.Expression),
		string(r.Change), string(r.Confidence), r.Rationale, r.RuleID,
	}
}

func summaryRows(summaries []prediction.PathwaySummary) [][]interface{} {
	rows := make([][]interface{}, len(summaries))
	for i, s := range summaries {
		rows[i] = []interface{}{
			s.Pathway.Label(), s.Total, s.Up, s.Down, s.NoChange, s.Unknown,
			s.High, s.Medium, s.Low, s.VeryLow,
		}
	}
	return rows
}

var summaryColumns = []string{
	"Pathway", "Total", "Up", "Down", "No change", "Unknown", "High", "Medium", "Low", "Very low",
}

// PredictionsWorkbook renders the prediction table and the per-pathway
// summary as a two-sheet workbook
func PredictionsWorkbook(records []prediction.Record, summaries []prediction.PathwaySummary) ([]byte, error) {
	w, err := newWriter(sheetPredictions)
	if err != nil {
		return nil, err
	}

	rows := make([][]interface{}, len(records))
	for i, r := range records {
		rows[i] = predictionRow(r)
	}
	if err := w.table(sheetPredictions, predictionColumns, rows); err != nil {
		return nil, fmt.Errorf("write predictions sheet: %w", err)
	}
	if len(records) > 0 {
		ref := fmt.Sprintf("A1:I%d", len(records)+1)
		if err := w.f.AutoFilter(sheetPredictions, ref, nil); err != nil {
			return nil, err
		}
	}
	for i, width := range []float64{12, 18, 16, 12, 20, 16, 12, 80, 22} {
		col, err := excelize.ColumnNumberToName(i + 1)
		if err != nil {
			return nil, err
		}
		if err := w.f.SetColWidth(sheetPredictions, col, col, width); err != nil {
			return nil, err
		}
	}

	if err := w.sheet(sheetByPathway); err != nil {
		return nil, err
	}
	if err := w.table(sheetByPathway, summaryColumns, summaryRows(summaries)); err != nil {
		return nil, fmt.Errorf("write pathway sheet: %w", err)
	}
	return w.bytes()
}

// ReportWorkbook draws the four report figures as native Excel charts next
// to the data they plot: predicted direction per pathway, a gene heatmap,
// the confidence distribution and the proxy volcano plot
func ReportWorkbook(in ReportInput) ([]byte, error) {
	w, err := newWriter(sheetSummary)
	if err != nil {
		return nil, err
	}
	if err := w.summarySheet(in.Summaries); err != nil {
		return nil, fmt.Errorf("summary sheet: %w", err)
	}
	if err := w.heatmapSheet(in.Predictions); err != nil {
		return nil, fmt.Errorf("heatmap sheet: %w", err)
	}
	if err := w.confidenceSheet(in.Confidence); err != nil {
		return nil, fmt.Errorf("confidence sheet: %w", err)
	}
	if err := w.volcanoSheet(in.Volcano); err != nil {
		return nil, fmt.Errorf("volcano sheet: %w", err)
	}
	return w.bytes()
}

func title(s string) []excelize.RichTextRun {
	return []excelize.RichTextRun{{Text: s}}
}

func (w *writer) summarySheet(summaries []prediction.PathwaySummary) error {
	if err := w.table(sheetSummary, summaryColumns, summaryRows(summaries)); err != nil {
		return err
	}
	if len(summaries) == 0 {
		return nil
	}
	last := len(summaries) + 1
	categories := fmt.Sprintf("'%s'!$A$2:$A$%d", sheetSummary, last)
	var series []excelize.ChartSeries
	for _, col := range []string{"C", "D", "E", "F"} {
		series = append(series, excelize.ChartSeries{
			Name:       fmt.Sprintf("'%s'!$%s$1", sheetSummary, col),
			Categories: categories,
			Values:     fmt.Sprintf("'%s'!$%s$2:$%s$%d", sheetSummary, col, col, last),
		})
	}
	return w.f.AddChart(sheetSummary, "L2", &excelize.Chart{
		Type:      excelize.BarStacked,
		Series:    series,
		Title:     title("Predicted Expression Changes by Pathway"),
		Legend:    excelize.ChartLegend{Position: "bottom"},
		Dimension: excelize.ChartDimension{Width: 720, Height: 420},
		XAxis:     excelize.ChartAxis{Title: title("Number of genes")},
	})
}

// heatmapSheet lays genes out by row with numeric encodings of the proxy fold
// change, the predicted direction and the confidence tier, coloured on a
// diverging scale
func (w *writer) heatmapSheet(records []prediction.Record) error {
	if err := w.sheet(sheetHeatmap); err != nil {
		return err
	}
	rows := make([][]interface{}, len(records))
	for i, r := range records {
		change, ok := r.Change.Numeric()
		var changeCell interface{} = ""
		if ok {
			changeCell = change
		}
		rows[i] = []interface{}{r.Gene, r.Pathway.Label(), cellFloat(r.Log2FC), changeCell, r.Confidence.Rank()}
	}
	if err := w.table(sheetHeatmap, []string{"Gene", "Pathway", "Proxy log2FC", "Predicted change", "Confidence rank"}, rows); err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}
	last := len(records) + 1
	diverging := []excelize.ConditionalFormatOptions{{
		Type: "3_color_scale", Criteria: "=",
		MinType: "num", MinValue: "-2", MinColor: "#2166AC",
		MidType: "num", MidValue: "0", MidColor: "#F7F7F7",
		MaxType: "num", MaxValue: "2", MaxColor: "#B2182B",
	}}
	if err := w.f.SetConditionalFormat(sheetHeatmap, fmt.Sprintf("C2:D%d", last), diverging); err != nil {
		return err
	}
	tiers := []excelize.ConditionalFormatOptions{{
		Type: "2_color_scale", Criteria: "=",
		MinType: "num", MinValue: "1", MinColor: "#FFFFFF",
		MaxType: "num", MaxValue: "4", MaxColor: "#548235",
	}}
	return w.f.SetConditionalFormat(sheetHeatmap, fmt.Sprintf("E2:E%d", last), tiers)
}

func (w *writer) confidenceSheet(counts map[prediction.Confidence]int) error {
	if err := w.sheet(sheetConfidence); err != nil {
		return err
	}
	rows := make([][]interface{}, 0, len(prediction.Confidences))
	for _, c := range prediction.Confidences {
		rows = append(rows, []interface{}{string(c), counts[c]})
	}
	if err := w.table(sheetConfidence, []string{"Confidence", "Genes"}, rows); err != nil {
		return err
	}
	last := len(rows) + 1
	return w.f.AddChart(sheetConfidence, "D2", &excelize.Chart{
		Type: excelize.Pie,
		Series: []excelize.ChartSeries{{
			Name:       fmt.Sprintf("'%s'!$B$1", sheetConfidence),
			Categories: fmt.Sprintf("'%s'!$A$2:$A$%d", sheetConfidence, last),
			Values:     fmt.Sprintf("'%s'!$B$2:$B$%d", sheetConfidence, last),
		}},
		Title:    title("Prediction Confidence Distribution"),
		Legend:   excelize.ChartLegend{Position: "right"},
		PlotArea: excelize.ChartPlotArea{ShowPercent: true},
	})
}

func (w *writer) volcanoSheet(points []VolcanoPoint) error {
	if err := w.sheet(sheetVolcano); err != nil {
		return err
	}
	rows := make([][]interface{}, len(points))
	for i, p := range points {
		label := ""
		if p.Labeled {
			label = p.Gene
		}
		rows[i] = []interface{}{p.Gene, cellFloat(p.Log2FC), cellFloat(p.NegLog10P), label}
	}
	if err := w.table(sheetVolcano, []string{"Gene", "Proxy log2FC", "-log10(p)", "Label"}, rows); err != nil {
		return err
	}
	if len(points) == 0 {
		return nil
	}
	last := len(points) + 1
	return w.f.AddChart(sheetVolcano, "F2", &excelize.Chart{
		Type: excelize.Scatter,
		Series: []excelize.ChartSeries{{
			Name:       fmt.Sprintf("'%s'!$C$1", sheetVolcano),
			Categories: fmt.Sprintf("'%s'!$B$2:$B$%d", sheetVolcano, last),
			Values:     fmt.Sprintf("'%s'!$C$2:$C$%d", sheetVolcano, last),
			Marker:     excelize.ChartMarker{Symbol: "circle", Size: 6},
			Line:       excelize.ChartLine{Type: excelize.ChartLineNone},
		}},
		Title:  title("Panel Genes in the Proxy Dataset"),
		Legend: excelize.ChartLegend{Position: "none"},
		XAxis:  excelize.ChartAxis{Title: title("log2 fold change")},
		YAxis:  excelize.ChartAxis{Title: title("-log10(p)")},
	})
}
