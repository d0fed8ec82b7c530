package patient

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Source identifies the ingestion pathway a record came from. The values are
// the literal strings stored in the Source column.
type Source string

const (
	SourceManualEntry         Source = "Manual Entry"
	SourceHospitalIntegration Source = "Hospital Integration"
	SourceExternalServer      Source = "FHIR Server"
)

// Sources lists every source in display order.
var Sources = []Source{SourceManualEntry, SourceHospitalIntegration, SourceExternalServer}

// ParseSource maps a stored value to a Source. Legacy rows with an empty or
// unknown value are treated as manual entries.
func ParseSource(s string) Source {
	switch Source(strings.TrimSpace(s)) {
	case SourceHospitalIntegration:
		return SourceHospitalIntegration
	case SourceExternalServer:
		return SourceExternalServer
	default:
		return SourceManualEntry
	}
}

// Valid reports whether s is one of the enumerated sources.
func (s Source) Valid() bool {
	for _, v := range Sources {
		if s == v {
			return true
		}
	}
	return false
}

// Canonical column names, in persisted order.
const (
	ColName           = "Name"
	ColAge            = "Age"
	ColGender         = "Gender"
	ColContact        = "Contact"
	ColBloodType      = "Blood Type"
	ColAllergies      = "Allergies"
	ColMedicalHistory = "Medical History"
	ColExternalID     = "FHIR_Patient_ID"
	ColLastSync       = "Last_Sync"
	ColSource         = "Source"
)

// Columns is the canonical header of the patient table.
var Columns = []string{
	ColName, ColAge, ColGender, ColContact, ColBloodType,
	ColAllergies, ColMedicalHistory, ColExternalID, ColLastSync, ColSource,
}

func isCanonical(col string) bool {
	for _, c := range Columns {
		if c == col {
			return true
		}
	}
	return false
}

// TimestampLayout is the on-disk format of Last_Sync.
const TimestampLayout = "2006-01-02 15:04:05"

// timestampLayouts are accepted when reading: our own layout, ISO-8601 without
// a zone (hospital webhooks) and RFC 3339.
var timestampLayouts = []string{
	TimestampLayout,
	"2006-01-02T15:04:05.999999999",
	time.RFC3339Nano,
}

func parseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", s)
}

// parseAge accepts integers and integral floats ("30.0", as written by
// spreadsheet tools).
func parseAge(s string) (int, error) {
	s = strings.TrimSpace(s)
	if n, err := strconv.Atoi(s); err == nil {
		return n, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f != math.Trunc(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("age %q is not a whole number", s)
	}
	return int(f), nil
}

// Record is one patient row.
type Record struct {
	Name           string     `json:"name"`
	Age            *int       `json:"age,omitempty"`
	Gender         string     `json:"gender"`
	Contact        string     `json:"contact"`
	BloodType      string     `json:"blood_type"`
	Allergies      string     `json:"allergies"`
	MedicalHistory string     `json:"medical_history"`
	ExternalID     string     `json:"external_id,omitempty"`
	LastSync       *time.Time `json:"last_sync,omitempty"`
	Source         Source     `json:"source"`

	// Extra holds values of non-canonical columns found on disk, keyed by
	// column name. They are written back unchanged.
	Extra map[string]string `json:"-"`
}

// Linked reports whether the record carries an external identifier.
func (r *Record) Linked() bool {
	return r.ExternalID != ""
}

// clone returns a deep copy of r.
func (r Record) clone() Record {
	out := r
	if r.Age != nil {
		age := *r.Age
		out.Age = &age
	}
	if r.LastSync != nil {
		ts := *r.LastSync
		out.LastSync = &ts
	}
	if r.Extra != nil {
		out.Extra = make(map[string]string, len(r.Extra))
		for k, v := range r.Extra {
			out.Extra[k] = v
		}
	}
	return out
}

// cells renders r into the given header.
func (r *Record) cells(header []string) []string {
	out := make([]string, len(header))
	for i, col := range header {
		switch col {
		case ColName:
			out[i] = r.Name
		case ColAge:
			if r.Age != nil {
				out[i] = strconv.Itoa(*r.Age)
			}
		case ColGender:
			out[i] = r.Gender
		case ColContact:
			out[i] = r.Contact
		case ColBloodType:
			out[i] = r.BloodType
		case ColAllergies:
			out[i] = r.Allergies
		case ColMedicalHistory:
			out[i] = r.MedicalHistory
		case ColExternalID:
			out[i] = r.ExternalID
		case ColLastSync:
			if r.LastSync != nil {
				out[i] = r.LastSync.Format(TimestampLayout)
			}
		case ColSource:
			out[i] = string(r.Source)
		default:
			out[i] = r.Extra[col]
		}
	}
	return out
}

// recordFromCells builds a Record from a row laid out according to header.
func recordFromCells(header, row []string) (Record, error) {
	var r Record
	for i, col := range header {
		var v string
		if i < len(row) {
			v = row[i]
		}
		switch col {
		case ColName:
			r.Name = v
		case ColAge:
			if strings.TrimSpace(v) == "" {
				continue
			}
			age, err := parseAge(v)
			if err != nil {
				return Record{}, fmt.Errorf("column %s: %w", col, err)
			}
			r.Age = &age
		case ColGender:
			r.Gender = v
		case ColContact:
			r.Contact = v
		case ColBloodType:
			r.BloodType = v
		case ColAllergies:
			r.Allergies = v
		case ColMedicalHistory:
			r.MedicalHistory = v
		case ColExternalID:
			r.ExternalID = strings.TrimSpace(v)
		case ColLastSync:
			if strings.TrimSpace(v) == "" {
				continue
			}
			ts, err := parseTimestamp(v)
			if err != nil {
				return Record{}, fmt.Errorf("column %s: %w", col, err)
			}
			r.LastSync = &ts
		case ColSource:
			r.Source = ParseSource(v)
		default:
			if r.Extra == nil {
				r.Extra = make(map[string]string)
			}
			r.Extra[col] = v
		}
	}
	if r.Source == "" {
		r.Source = SourceManualEntry
	}
	return r, nil
}
