package patient

import (
	"strings"
	"time"
)

// Form choices for manual entry.
var (
	Genders    = []string{"Male", "Female", "Other"}
	BloodTypes = []string{"A+", "A-", "B+", "B-", "AB+", "AB-", "O+", "O-", "Unknown"}
)

const maxAge = 120

// ManualEntry is a patient typed in by a user.
type ManualEntry struct {
	Name           string `json:"name"`
	Age            *int   `json:"age"`
	Gender         string `json:"gender"`
	Contact        string `json:"contact"`
	BloodType      string `json:"blood_type"`
	Allergies      string `json:"allergies"`
	MedicalHistory string `json:"medical_history"`
	ExternalID     string `json:"external_id"`
}

// Validate requires Name, Gender and Contact, and checks the optional fields
// against the form's choices.
func (m *ManualEntry) Validate() error {
	v := &ValidationError{}
	if strings.TrimSpace(m.Name) == "" {
		v.add("name", "is required")
	}
	if strings.TrimSpace(m.Contact) == "" {
		v.add("contact", "is required")
	}
	switch {
	case strings.TrimSpace(m.Gender) == "":
		v.add("gender", "is required")
	case !contains(Genders, m.Gender):
		v.add("gender", "must be one of "+strings.Join(Genders, ", "))
	}
	if m.Age != nil && (*m.Age < 0 || *m.Age > maxAge) {
		v.add("age", "must be between 0 and 120")
	}
	if m.BloodType != "" && !contains(BloodTypes, m.BloodType) {
		v.add("blood_type", "must be one of "+strings.Join(BloodTypes, ", "))
	}
	return v.orNil()
}

// Record converts the entry. LastSync is set only when an external id was
// supplied.
func (m *ManualEntry) Record(now time.Time) Record {
	rec := Record{
		Name:           strings.TrimSpace(m.Name),
		Gender:         m.Gender,
		Contact:        strings.TrimSpace(m.Contact),
		BloodType:      m.BloodType,
		Allergies:      normalizeNewlines(m.Allergies),
		MedicalHistory: normalizeNewlines(m.MedicalHistory),
		ExternalID:     strings.TrimSpace(m.ExternalID),
		Source:         SourceManualEntry,
	}
	if m.Age != nil {
		age := *m.Age
		rec.Age = &age
	}
	if rec.ExternalID != "" {
		rec.LastSync = &now
	}
	return rec
}

// normalizeNewlines folds CRLF from browser text areas into LF, the form the
// CSV reader returns for quoted multi-line cells.
func normalizeNewlines(s string) string {
	return strings.ReplaceAll(s, "\r\n", "\n")
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
