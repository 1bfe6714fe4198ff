package excel

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
)

// DataReader handles reading Excel and CSV files
type DataReader struct {
	filePath string
	fileType string // "xlsx" or "csv"
	logger   *zap.Logger
}

// NewDataReader creates a reader for filePath; the extension picks the format
func NewDataReader(filePath string, logger *zap.Logger) *DataReader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DataReader{filePath: filePath, fileType: fileTypeOf(filePath), logger: logger}
}

func fileTypeOf(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".xlsx", ".xlsm":
		return "xlsx"
	case ".tsv", ".txt":
		return "tsv"
	}
	return "csv"
}

// ReadData reads the file into a Table
func (r *DataReader) ReadData() (*Table, error) {
	data, err := os.ReadFile(r.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%s file not found: %s", strings.ToUpper(r.fileType), r.filePath)
		}
		return nil, fmt.Errorf("failed to read %s: %w", r.filePath, err)
	}
	t, err := ParseTable(r.filePath, data)
	if err != nil {
		return nil, err
	}
	r.logger.Debug("table read",
		zap.String("file", r.filePath),
		zap.String("type", r.fileType),
		zap.Int("columns", len(t.Headers)),
		zap.Int("rows", len(t.Rows)))
	return t, nil
}

// ParseTable decodes CSV, TSV or XLSX content; name only selects the format
func ParseTable(name string, data []byte) (*Table, error) {
	var rows [][]string
	var err error
	switch fileTypeOf(name) {
	case "xlsx":
		rows, err = readExcelRows(data)
	case "tsv":
		rows, err = readDelimited(data, '\t')
	default:
		rows, err = readDelimited(data, ',')
	}
	if err != nil {
		return nil, err
	}
	if len(rows) < 1 {
		return nil, fmt.Errorf("%s: file has no header row", name)
	}
	return processRows(rows), nil
}

// readExcelRows reads the first sheet of a workbook
func readExcelRows(data []byte) ([][]string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to open Excel file: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("workbook has no sheets")
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", sheets[0], err)
	}
	return rows, nil
}

func readDelimited(data []byte, comma rune) ([][]string, error) {
	reader := csv.NewReader(bytes.NewReader(bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))))
	reader.Comma = comma
	reader.FieldsPerRecord = -1
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read delimited file: %w", err)
	}
	return rows, nil
}

// processRows converts raw string rows into a Table
func processRows(rows [][]string) *Table {
	headerRow := rows[0]
	headers := make([]string, len(headerRow))
	for i, header := range headerRow {
		headers[i] = strings.TrimSpace(header)
	}

	dataRows := make([]RawRowData, 0, len(rows)-1)
	for _, row := range rows[1:] {
		rowData := make(RawRowData, len(headers))
		for j, cell := range row {
			if j < len(headers) {
				rowData[headers[j]] = strings.TrimSpace(cell)
			}
		}
		dataRows = append(dataRows, rowData)
	}
	return &Table{Headers: headers, Rows: dataRows}
}
