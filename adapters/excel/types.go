package excel

import "strings"

// RawRowData represents a row of raw cells keyed by header
type RawRowData map[string]string

// Table is a header row plus data rows read from a CSV or Excel file
type Table struct {
	Headers []string
	Rows    []RawRowData
}

// Column returns the first header that matches one of candidates, trying
// exact matches before case-insensitive ones
func (t *Table) Column(candidates ...string) (string, bool) {
	for _, c := range candidates {
		for _, h := range t.Headers {
			if h == c {
				return h, true
			}
		}
	}
	for _, c := range candidates {
		for _, h := range t.Headers {
			if strings.EqualFold(h, c) {
				return h, true
			}
		}
	}
	return "", false
}
