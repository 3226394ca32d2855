package export

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
)

// Table is tabular export content. Rows shorter than Headers are padded.
type Table struct {
	Headers []string
	Rows    [][]string
}

// CSVExporter renders tables as RFC 4180 CSV.
type CSVExporter struct{}

// NewCSVExporter builds a CSV exporter.
func NewCSVExporter() *CSVExporter {
	return &CSVExporter{}
}

// Write streams the table to w.
func (e *CSVExporter) Write(w io.Writer, table Table) error {
	if len(table.Headers) == 0 {
		return fmt.Errorf("csv requires at least one header")
	}
	writer := csv.NewWriter(w)
	if err := writer.Write(table.Headers); err != nil {
		return fmt.Errorf("write csv headers: %w", err)
	}
	for i, row := range table.Rows {
		if len(row) > len(table.Headers) {
			return fmt.Errorf("csv row %d has %d fields, want at most %d", i, len(row), len(table.Headers))
		}
		record := make([]string, len(table.Headers))
		copy(record, row)
		if err := writer.Write(record); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	return nil
}

// Render returns the table as CSV bytes.
func (e *CSVExporter) Render(table Table) ([]byte, error) {
	buf := &bytes.Buffer{}
	if err := e.Write(buf, table); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
