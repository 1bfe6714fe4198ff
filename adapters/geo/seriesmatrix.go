package geo

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"degpredict/domain/expression"
)

const (
	tableBegin = "!series_matrix_table_begin"
	tableEnd   = "!series_matrix_table_end"
)

// SeriesMatrix is the parsed content of a GEO series matrix file. Values is
// probes x samples; unparseable or null cells are NaN.
type SeriesMatrix struct {
	Platform string
	Samples  []expression.Sample
	Probes   []string
	Values   [][]float64
}

// ParseSeriesMatrix reads a (decompressed) series matrix: the !Sample_*
// header block and the probe table between the table markers
func ParseSeriesMatrix(data []byte) (*SeriesMatrix, error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.Comma = '\t'
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	sm := &SeriesMatrix{}
	meta := make(map[string][]string)
	var characteristics [][]string
	inTable, sawTable := false, false
	var header []string

	for line := 1; ; line++ {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if len(rec) == 0 {
			continue
		}
		key := strings.TrimSpace(rec[0])

		switch {
		case key == tableBegin:
			inTable, sawTable = true, true
			continue
		case key == tableEnd:
			inTable = false
			continue
		case inTable && header == nil:
			header = trimAll(rec)
			continue
		case inTable:
			if err := sm.addRow(header, rec); err != nil {
				return nil, fmt.Errorf("line %d: %w", line, err)
			}
			continue
		}

		switch key {
		case "!Series_platform_id":
			if len(rec) > 1 {
				sm.Platform = strings.TrimSpace(rec[1])
			}
		case "!Sample_title", "!Sample_geo_accession", "!Sample_source_name_ch1":
			meta[key] = trimAll(rec[1:])
		case "!Sample_characteristics_ch1":
			characteristics = append(characteristics, trimAll(rec[1:]))
		}
	}

	if !sawTable || header == nil {
		return nil, fmt.Errorf("no expression table found (missing %s)", tableBegin)
	}
	if len(header) < 2 {
		return nil, fmt.Errorf("expression table has no sample columns")
	}
	if len(sm.Probes) == 0 {
		return nil, fmt.Errorf("expression table has no rows")
	}

	ids := header[1:]
	if acc := meta["!Sample_geo_accession"]; len(acc) > 0 && len(acc) != len(ids) {
		return nil, fmt.Errorf("%d sample accessions but %d table columns", len(acc), len(ids))
	}
	for j, id := range ids {
		s := expression.Sample{
			ID:     id,
			Title:  at(meta["!Sample_title"], j),
			Source: at(meta["!Sample_source_name_ch1"], j),
		}
		var parts []string
		for _, row := range characteristics {
			if v := at(row, j); v != "" {
				parts = append(parts, v)
			}
		}
		s.Characteristics = strings.Join(parts, "; ")
		sm.Samples = append(sm.Samples, s)
	}
	return sm, nil
}

func (sm *SeriesMatrix) addRow(header, rec []string) error {
	if len(rec) != len(header) {
		return fmt.Errorf("row has %d fields, header has %d", len(rec), len(header))
	}
	probe := strings.TrimSpace(rec[0])
	if probe == "" {
		return fmt.Errorf("row with empty probe id")
	}
	values := make([]float64, len(rec)-1)
	for j, cell := range rec[1:] {
		values[j] = parseCell(cell)
	}
	sm.Probes = append(sm.Probes, probe)
	sm.Values = append(sm.Values, values)
	return nil
}

func parseCell(cell string) float64 {
	cell = strings.TrimSpace(cell)
	if cell == "" || strings.EqualFold(cell, "null") || strings.EqualFold(cell, "na") {
		return math.NaN()
	}
	v, err := strconv.ParseFloat(cell, 64)
	if err != nil {
		return math.NaN()
	}
	return v
}

func trimAll(in []string) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = strings.TrimSpace(s)
	}
	return out
}

func at(s []string, i int) string {
	if i < len(s) {
		return s[i]
	}
	return ""
}
