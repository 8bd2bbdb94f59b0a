// Package manifest parses document inventories produced by the scanning
// vendor. A manifest is an XLSX or CSV file with one row per document;
// header names select the columns, so column order does not matter.
package manifest

import (
	"encoding/csv"
	"os"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/ridgepoint-lending/docresolve/internal/model"
)

// Recognized header names. Any other column becomes a metadata entry keyed
// by its normalized header.
const (
	colID           = "id"
	colLoanID       = "loan_id"
	colFilename     = "filename"
	colFilePath     = "file_path"
	colSizeBytes    = "size_bytes"
	colPageCount    = "page_count"
	colDocumentType = "document_type"
)

// Read parses a manifest file, dispatching on extension.
func Read(path string) ([]*model.Document, error) {
	switch {
	case strings.HasSuffix(strings.ToLower(path), ".xlsx"):
		return ReadXLSX(path)
	case strings.HasSuffix(strings.ToLower(path), ".csv"):
		return ReadCSV(path)
	default:
		return nil, eris.Errorf("manifest: unsupported file type: %s", path)
	}
}

// ReadXLSX parses the first sheet of an XLSX manifest.
func ReadXLSX(path string) ([]*model.Document, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "manifest: open xlsx")
	}
	if len(f.Sheets) == 0 {
		return nil, eris.New("manifest: workbook has no sheets")
	}

	var rows [][]string
	for _, row := range f.Sheets[0].Rows {
		cells := make([]string, len(row.Cells))
		for j, cell := range row.Cells {
			cells[j] = cell.String()
		}
		rows = append(rows, cells)
	}
	return parseRows(rows)
}

// ReadCSV parses a CSV manifest.
func ReadCSV(path string) ([]*model.Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrap(err, "manifest: open csv")
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	rows, err := r.ReadAll()
	if err != nil {
		return nil, eris.Wrap(err, "manifest: read csv")
	}
	return parseRows(rows)
}

func parseRows(rows [][]string) ([]*model.Document, error) {
	if len(rows) == 0 {
		return nil, eris.New("manifest: empty file")
	}

	header := make([]string, len(rows[0]))
	for i, h := range rows[0] {
		header[i] = strings.ToLower(strings.TrimSpace(h))
	}

	var docs []*model.Document
	for i, row := range rows[1:] {
		if isEmptyRow(row) {
			continue
		}
		doc, err := parseRow(header, row)
		if err != nil {
			return nil, eris.Wrapf(err, "manifest: row %d", i+2)
		}
		docs = append(docs, doc)
	}

	if len(docs) == 0 {
		return nil, eris.New("manifest: no document rows")
	}
	return docs, nil
}

func parseRow(header, row []string) (*model.Document, error) {
	doc := &model.Document{Status: model.StatusPending}

	for i, name := range header {
		if i >= len(row) {
			break
		}
		value := strings.TrimSpace(row[i])
		if value == "" {
			continue
		}

		switch name {
		case colID:
			doc.ID = value
		case colLoanID:
			doc.LoanID = value
		case colFilename:
			doc.Filename = value
		case colFilePath:
			doc.FilePath = value
		case colSizeBytes:
			n, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return nil, eris.Wrapf(err, "parse size_bytes %q", value)
			}
			doc.SizeBytes = n
		case colPageCount:
			n, err := strconv.Atoi(value)
			if err != nil {
				return nil, eris.Wrapf(err, "parse page_count %q", value)
			}
			doc.PageCount = n
		case colDocumentType:
			doc.DocumentType = value
		default:
			if doc.Metadata == nil {
				doc.Metadata = make(map[string]string)
			}
			doc.Metadata[name] = value
		}
	}

	if doc.LoanID == "" {
		return nil, eris.New("missing loan_id")
	}
	if doc.Filename == "" {
		return nil, eris.New("missing filename")
	}
	return doc, nil
}

func isEmptyRow(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}
