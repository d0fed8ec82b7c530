package patient

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
)

// table is the raw header and cells of a CSV file.
type table struct {
	header []string
	rows   [][]string
}

var errNoHeader = errors.New("file has no header row")

// decodeTable parses CSV data. Rows may be ragged; width is reconciled by the
// callers against the header.
func decodeTable(data []byte) (*table, error) {
	data = bytes.TrimPrefix(data, []byte{0xEF, 0xBB, 0xBF})
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err == io.EOF {
		return nil, errNoHeader
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}

	t := &table{header: header}
	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row: %w", err)
		}
		t.rows = append(t.rows, row)
	}
	return t, nil
}

// encodeTable renders header and rows as RFC 4180 CSV.
func encodeTable(w io.Writer, header []string, rows [][]string) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return err
	}
	if err := cw.WriteAll(rows); err != nil {
		return err
	}
	return cw.Error()
}

// encodeRecords renders records under header.
func encodeRecords(w io.Writer, header []string, records []Record) error {
	rows := make([][]string, len(records))
	for i := range records {
		rows[i] = records[i].cells(header)
	}
	return encodeTable(w, header, rows)
}
