package geo

import (
	"bufio"
	"bytes"
	"fmt"
	"strings"
)

// SymbolColumns are the annotation headers accepted as the gene symbol, in
// order of preference
var SymbolColumns = []string{
	"Symbol", "Gene Symbol", "GENE_SYMBOL", "Gene_Symbol", "ILMN_Gene", "ORF", "gene_assignment", "Gene",
}

// ParsePlatformAnnotation maps probe ids to gene symbols from a GEO platform
// table (SOFT or plain tab-separated). Probes without a symbol are omitted.
func ParsePlatformAnnotation(data []byte) (map[string]string, error) {
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 1<<20), 16<<20)

	var header []string
	idCol, symCol := -1, -1
	mapping := make(map[string]string)
	soft := bytes.Contains(data, []byte("!platform_table_begin"))
	inTable := !soft

	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r")
		switch {
		case strings.HasPrefix(line, "!platform_table_begin"):
			inTable = true
			continue
		case strings.HasPrefix(line, "!platform_table_end"):
			inTable = false
			continue
		case !inTable, line == "", strings.HasPrefix(line, "#"), strings.HasPrefix(line, "^"), strings.HasPrefix(line, "!"):
			continue
		}

		fields := strings.Split(line, "\t")
		if header == nil {
			header = fields
			idCol, symCol = locateColumns(header)
			if idCol < 0 {
				return nil, fmt.Errorf("platform table has no ID column")
			}
			if symCol < 0 {
				return nil, fmt.Errorf("platform table has no gene symbol column (tried %s)", strings.Join(SymbolColumns, ", "))
			}
			continue
		}
		if idCol >= len(fields) || symCol >= len(fields) {
			continue
		}
		probe := strings.Trim(strings.TrimSpace(fields[idCol]), `"`)
		sym := firstSymbol(strings.Trim(fields[symCol], `"`), header[symCol] == "gene_assignment")
		if probe != "" && sym != "" {
			mapping[probe] = sym
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read platform annotation: %w", err)
	}
	if header == nil {
		return nil, fmt.Errorf("platform annotation is empty")
	}
	return mapping, nil
}

func locateColumns(header []string) (idCol, symCol int) {
	idCol, symCol = -1, -1
	pos := make(map[string]int, len(header))
	for i, h := range header {
		h = strings.Trim(strings.TrimSpace(h), `"`)
		header[i] = h
		if _, ok := pos[h]; !ok {
			pos[h] = i
		}
	}
	for _, name := range []string{"ID", "ID_REF", "Probe_Id", "ProbeID"} {
		if i, ok := pos[name]; ok {
			idCol = i
			break
		}
	}
	for _, name := range SymbolColumns {
		if i, ok := pos[name]; ok {
			symCol = i
			break
		}
	}
	return idCol, symCol
}

// firstSymbol takes the first of several "///" separated symbols. Affymetrix
// gene_assignment cells carry "accession // SYMBOL // description" records.
func firstSymbol(cell string, assignment bool) string {
	first := strings.TrimSpace(strings.SplitN(cell, "///", 2)[0])
	if assignment {
		parts := strings.Split(first, "//")
		if len(parts) < 2 {
			return ""
		}
		first = strings.TrimSpace(parts[1])
	}
	if first == "---" {
		return ""
	}
	return first
}
