// Package document reads and renders the spreadsheet and PDF files used by bulk jobs.
package document

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"path"
	"strings"

	"github.com/kursadbilgin/production-control/internal/domain"
	"github.com/xuri/excelize/v2"
)

type Format string

const (
	FormatExcel Format = "excel"
	FormatCSV   Format = "csv"
	FormatPDF   Format = "pdf"
)

// Extension is the file extension written for the format.
func (f Format) Extension() string {
	switch f {
	case FormatExcel:
		return "xlsx"
	case FormatCSV:
		return "csv"
	case FormatPDF:
		return "pdf"
	}
	return ""
}

func ParseFormat(s string, allowed ...Format) (Format, error) {
	f := Format(strings.ToLower(strings.TrimSpace(s)))
	for _, a := range allowed {
		if f == a {
			return f, nil
		}
	}
	return "", fmt.Errorf("%w: unsupported format %q", domain.ErrValidation, s)
}

// FormatFromKey picks the reader for an uploaded file by its extension.
func FormatFromKey(key string) (Format, error) {
	switch strings.ToLower(path.Ext(key)) {
	case ".xlsx", ".xlsm":
		return FormatExcel, nil
	case ".csv":
		return FormatCSV, nil
	}
	return "", fmt.Errorf("%w: unsupported file type %q", domain.ErrValidation, path.Ext(key))
}

// Sheet is one worksheet. The first row is written as the header.
type Sheet struct {
	Name string
	Rows [][]any
}

// ReadRows returns the rows of the first worksheet, or of the CSV file, header included.
func ReadRows(data []byte, format Format) ([][]string, error) {
	switch format {
	case FormatExcel:
		f, err := excelize.OpenReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("%w: invalid spreadsheet: %v", domain.ErrValidation, err)
		}
		defer f.Close()

		rows, err := f.GetRows(f.GetSheetName(0))
		if err != nil {
			return nil, fmt.Errorf("failed to read spreadsheet rows: %w", err)
		}
		return rows, nil
	case FormatCSV:
		r := csv.NewReader(bytes.NewReader(bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))))
		r.FieldsPerRecord = -1
		rows, err := r.ReadAll()
		if err != nil {
			return nil, fmt.Errorf("%w: invalid csv: %v", domain.ErrValidation, err)
		}
		return rows, nil
	}
	return nil, fmt.Errorf("%w: cannot read %q files", domain.ErrValidation, format)
}

// WriteExcel renders sheets into one workbook.
func WriteExcel(sheets ...Sheet) ([]byte, error) {
	if len(sheets) == 0 {
		return nil, fmt.Errorf("at least one sheet is required")
	}

	f := excelize.NewFile()
	defer f.Close()

	for i, sheet := range sheets {
		if i == 0 {
			if err := f.SetSheetName(f.GetSheetName(0), sheet.Name); err != nil {
				return nil, fmt.Errorf("failed to name sheet %q: %w", sheet.Name, err)
			}
		} else if _, err := f.NewSheet(sheet.Name); err != nil {
			return nil, fmt.Errorf("failed to add sheet %q: %w", sheet.Name, err)
		}

		for r, row := range sheet.Rows {
			for c, value := range row {
				cell, err := excelize.CoordinatesToCellName(c+1, r+1)
				if err != nil {
					return nil, err
				}
				if err := f.SetCellValue(sheet.Name, cell, value); err != nil {
					return nil, fmt.Errorf("failed to set %s!%s: %w", sheet.Name, cell, err)
				}
			}
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("failed to write workbook: %w", err)
	}
	return buf.Bytes(), nil
}

func WriteCSV(rows [][]string) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.WriteAll(rows); err != nil {
		return nil, fmt.Errorf("failed to write csv: %w", err)
	}
	return buf.Bytes(), nil
}
