// Package hospitalfile parses patient exports uploaded by hospital systems.
// Files are CSV or XLSX with a header row; recognised columns are mapped onto
// Row by name and any other column is ignored.
package hospitalfile

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/gocarina/gocsv"

	"github.com/ehr/patientrecords/internal/platform/spreadsheet"
)

var (
	ErrUnsupportedFormat = errors.New("unsupported hospital file format")
	ErrEmptyFile         = errors.New("hospital file has no header row")
)

// Header is the column layout of the template handed to hospitals.
var Header = []string{"Name", "Age", "Gender", "Contact", "BloodType", "Allergies", "MedicalHistory"}

// Row is one patient line of a hospital file. Age stays textual so that a bad
// cell fails only its own row during normalization.
type Row struct {
	Index          int    `csv:"-"`
	Name           string `csv:"Name"`
	Age            string `csv:"Age"`
	Gender         string `csv:"Gender"`
	Contact        string `csv:"Contact"`
	BloodType      string `csv:"BloodType"`
	Allergies      string `csv:"Allergies"`
	MedicalHistory string `csv:"MedicalHistory"`
}

func (r Row) values() []string {
	return []string{r.Name, r.Age, r.Gender, r.Contact, r.BloodType, r.Allergies, r.MedicalHistory}
}

// Format identifies the encoding of an uploaded file.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

// FormatFromName infers the format from a file name extension.
func FormatFromName(name string) (Format, error) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".csv":
		return FormatCSV, nil
	case ".xlsx":
		return FormatXLSX, nil
	default:
		return "", fmt.Errorf("%q: %w", name, ErrUnsupportedFormat)
	}
}

// ParseFormat validates a format name such as a query parameter.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(s)) {
	case FormatCSV, "":
		return FormatCSV, nil
	case FormatXLSX:
		return FormatXLSX, nil
	default:
		return "", fmt.Errorf("%q: %w", s, ErrUnsupportedFormat)
	}
}

// Read parses a hospital file. Row.Index is the 1-based data row number.
func Read(r io.Reader, format Format) ([]Row, error) {
	var (
		rows []Row
		err  error
	)
	switch format {
	case FormatCSV:
		rows, err = readCSV(r)
	case FormatXLSX:
		rows, err = readXLSX(r)
	default:
		return nil, fmt.Errorf("%q: %w", format, ErrUnsupportedFormat)
	}
	if err != nil {
		return nil, err
	}
	for i := range rows {
		rows[i].Index = i + 1
	}
	return rows, nil
}

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

func readCSV(r io.Reader) ([]Row, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read csv: %w", err)
	}
	data = bytes.TrimPrefix(data, utf8BOM)
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, ErrEmptyFile
	}

	cr := csv.NewReader(bytes.NewReader(data))
	cr.FieldsPerRecord = -1
	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse csv: %w", err)
	}
	if len(records) == 0 {
		return nil, ErrEmptyFile
	}

	var rows []Row
	if err := gocsv.UnmarshalCSV(&sliceReader{rows: conformWidth(records)}, &rows); err != nil {
		return nil, fmt.Errorf("map csv rows: %w", err)
	}
	return rows, nil
}

func readXLSX(r io.Reader) ([]Row, error) {
	cells, err := spreadsheet.ReadFirstSheet(r)
	if err != nil {
		return nil, fmt.Errorf("parse xlsx: %w", err)
	}
	if len(cells) == 0 {
		return nil, ErrEmptyFile
	}

	var rows []Row
	if err := gocsv.UnmarshalCSV(&sliceReader{rows: conformWidth(cells)}, &rows); err != nil {
		return nil, fmt.Errorf("map xlsx rows: %w", err)
	}
	return rows, nil
}

// Write renders rows in the template layout.
func Write(w io.Writer, format Format, rows []Row) error {
	switch format {
	case FormatCSV:
		if err := gocsv.Marshal(rows, w); err != nil {
			return fmt.Errorf("write csv: %w", err)
		}
		return nil
	case FormatXLSX:
		cells := make([][]string, len(rows))
		for i, r := range rows {
			cells[i] = r.values()
		}
		return spreadsheet.Write(w, "Patients", Header, cells)
	default:
		return fmt.Errorf("%q: %w", format, ErrUnsupportedFormat)
	}
}

// SampleRows is the demonstration content of the downloadable template.
func SampleRows() []Row {
	return []Row{
		{Name: "John Hospital", Age: "45", Gender: "Male", Contact: "555-1111", BloodType: "O+", Allergies: "None", MedicalHistory: "Diabetes"},
		{Name: "Mary Medical", Age: "32", Gender: "Female", Contact: "555-2222", BloodType: "A+", Allergies: "Penicillin", MedicalHistory: "Hypertension"},
		{Name: "Bob Clinic", Age: "28", Gender: "Male", Contact: "555-3333", BloodType: "B-", Allergies: "None", MedicalHistory: "Healthy"},
	}
}

// conformWidth pads short rows with empty cells and drops cells beyond the
// header, so a ragged line only affects its own fields.
func conformWidth(rows [][]string) [][]string {
	width := len(rows[0])
	for i, row := range rows {
		switch {
		case len(row) < width:
			padded := make([]string, width)
			copy(padded, row)
			rows[i] = padded
		case len(row) > width:
			rows[i] = row[:width]
		}
	}
	return rows
}

// sliceReader feeds already-parsed sheet rows to gocsv.
type sliceReader struct {
	rows [][]string
	pos  int
}

func (s *sliceReader) Read() ([]string, error) {
	if s.pos >= len(s.rows) {
		return nil, io.EOF
	}
	row := s.rows[s.pos]
	s.pos++
	return row, nil
}

func (s *sliceReader) ReadAll() ([][]string, error) {
	rest := s.rows[s.pos:]
	s.pos = len(s.rows)
	return rest, nil
}
