// Package tabular encodes stage artifacts as CSV. Encoders are deterministic:
// identical records always produce identical bytes.
package tabular

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"math"
	"strconv"
	"strings"

	"degpredict/internal/errors"
)

func formatFloat(v float64) string {
	if math.IsNaN(v) {
		return ""
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func parseFloat(s string) (float64, error) {
	s = strings.TrimSpace(s)
	switch strings.ToLower(s) {
	case "", "na", "nan", "null":
		return math.NaN(), nil
	}
	return strconv.ParseFloat(s, 64)
}

func formatBool(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

func encode(header []string, rows [][]string) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(header); err != nil {
		return nil, err
	}
	if err := w.WriteAll(rows); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// table is a decoded CSV artifact with header lookup
type table struct {
	name    string
	columns []string
	header  map[string]int
	rows    [][]string
}

func decode(name string, data []byte, required ...string) (*table, error) {
	r := csv.NewReader(bytes.NewReader(data))
	records, err := r.ReadAll()
	if err != nil {
		return nil, errors.Formatf("%s: %v", name, err)
	}
	if len(records) == 0 {
		return nil, errors.Formatf("%s: missing header row", name)
	}
	t := &table{name: name, header: make(map[string]int, len(records[0])), rows: records[1:]}
	for i, h := range records[0] {
		h = strings.TrimSpace(h)
		if _, dup := t.header[h]; dup {
			return nil, errors.Formatf("%s: duplicate column %q", name, h)
		}
		t.header[h] = i
		t.columns = append(t.columns, h)
	}
	for _, col := range required {
		if _, ok := t.header[col]; !ok {
			return nil, errors.Formatf("%s: missing column %q", name, col)
		}
	}
	return t, nil
}

func (t *table) get(row []string, col string) string {
	if i, ok := t.header[col]; ok && i < len(row) {
		return row[i]
	}
	return ""
}

func (t *table) float(row []string, line int, col string) (float64, error) {
	v, err := parseFloat(t.get(row, col))
	if err != nil {
		return 0, errors.Formatf("%s line %d: column %s: %v", t.name, line, col, err)
	}
	return v, nil
}

func (t *table) bool(row []string, line int, col string) (bool, error) {
	s := t.get(row, col)
	if s == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		return false, errors.Formatf("%s line %d: column %s: %v", t.name, line, col, err)
	}
	return b, nil
}

func (t *table) fail(line int, format string, args ...interface{}) error {
	return errors.Formatf("%s line %d: %s", t.name, line, fmt.Sprintf(format, args...))
}
