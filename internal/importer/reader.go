package importer

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"
)

// ErrNoHeader is returned when the file has no header row at all.
var ErrNoHeader = errors.New("file has no header row")

// Row maps lowercase column names to raw cell values.
type Row map[string]string

// RowReader is a lazy, finite, non-restartable sequence of data rows.
// Next returns io.EOF after the last row; any other error means the file
// could not be parsed as delimited text and terminates the sequence.
type RowReader interface {
	Headers() []string
	Next() (Row, error)
	Close() error
}

// OpenRowReader opens the artifact at path, dispatching on file extension.
// Unknown extensions are read as CSV.
func OpenRowReader(path string) (RowReader, error) {
	if strings.EqualFold(filepath.Ext(path), ".xlsx") {
		return openXLSXReader(path)
	}
	return openCSVReader(path)
}

// CountDataRows runs a full pre-pass over the artifact and returns the
// number of data rows, header excluded.
func CountDataRows(path string) (int, error) {
	reader, err := OpenRowReader(path)
	if err != nil {
		return 0, err
	}
	defer reader.Close()

	count := 0
	for {
		_, err := reader.Next()
		if err == io.EOF {
			return count, nil
		}
		if err != nil {
			return 0, err
		}
		count++
	}
}

// normalizeHeader folds a header cell to the canonical column name. The
// " *" suffix comes from the downloadable template's required-column marker.
func normalizeHeader(h string) string {
	h = strings.TrimSpace(strings.ToLower(h))
	return strings.TrimSuffix(h, " *")
}

func buildRow(headers []string, record []string) Row {
	row := make(Row, len(headers))
	for i, name := range headers {
		if name == "" {
			continue
		}
		// Rows ragged relative to the header read as empty, not as errors.
		if i < len(record) {
			row[name] = strings.TrimSpace(record[i])
		} else {
			row[name] = ""
		}
	}
	return row
}

type csvRowReader struct {
	file    *os.File
	reader  *csv.Reader
	headers []string
}

func openCSVReader(path string) (*csvRowReader, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err == io.EOF {
		file.Close()
		return nil, ErrNoHeader
	}
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}

	headers := make([]string, len(header))
	for i, h := range header {
		headers[i] = normalizeHeader(h)
	}

	return &csvRowReader{file: file, reader: reader, headers: headers}, nil
}

func (r *csvRowReader) Headers() []string { return r.headers }

func (r *csvRowReader) Next() (Row, error) {
	record, err := r.reader.Read()
	if err == io.EOF {
		return nil, io.EOF
	}
	if err != nil {
		return nil, fmt.Errorf("malformed CSV record: %w", err)
	}
	return buildRow(r.headers, record), nil
}

func (r *csvRowReader) Close() error {
	return r.file.Close()
}

type xlsxRowReader struct {
	file    *excelize.File
	rows    *excelize.Rows
	headers []string
}

func openXLSXReader(path string) (*xlsxRowReader, error) {
	file, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open Excel file: %w", err)
	}

	sheets := file.GetSheetList()
	if len(sheets) == 0 {
		file.Close()
		return nil, ErrNoHeader
	}

	rows, err := file.Rows(sheets[0])
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to read sheet: %w", err)
	}

	if !rows.Next() {
		rows.Close()
		file.Close()
		if err := rows.Error(); err != nil {
			return nil, fmt.Errorf("failed to read sheet: %w", err)
		}
		return nil, ErrNoHeader
	}
	header, err := rows.Columns()
	if err != nil {
		rows.Close()
		file.Close()
		return nil, fmt.Errorf("failed to read header row: %w", err)
	}
	if len(header) == 0 {
		rows.Close()
		file.Close()
		return nil, ErrNoHeader
	}

	headers := make([]string, len(header))
	for i, h := range header {
		headers[i] = normalizeHeader(h)
	}

	return &xlsxRowReader{file: file, rows: rows, headers: headers}, nil
}

func (r *xlsxRowReader) Headers() []string { return r.headers }

func (r *xlsxRowReader) Next() (Row, error) {
	if !r.rows.Next() {
		if err := r.rows.Error(); err != nil {
			return nil, fmt.Errorf("malformed sheet row: %w", err)
		}
		return nil, io.EOF
	}
	record, err := r.rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("malformed sheet row: %w", err)
	}
	return buildRow(r.headers, record), nil
}

func (r *xlsxRowReader) Close() error {
	r.rows.Close()
	return r.file.Close()
}
