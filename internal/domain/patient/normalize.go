package patient

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/ehr/patientrecords/internal/platform/fhir"
	"github.com/ehr/patientrecords/internal/platform/hospitalfile"
	"github.com/ehr/patientrecords/internal/platform/webhook"
)

// Normalizer maps external patient shapes onto Record. It fills structural
// defaults only; it never invents business values.
type Normalizer struct {
	now func() time.Time
}

// NewNormalizer returns a Normalizer using now as its clock; nil selects time.Now.
func NewNormalizer(now func() time.Time) *Normalizer {
	if now == nil {
		now = time.Now
	}
	return &Normalizer{now: now}
}

// FHIR R4 date precisions allowed for Patient.birthDate.
var birthDateLayouts = []string{"2006-01-02", "2006-01", "2006"}

// FromFHIR maps a FHIR Patient resource. Age is the difference of calendar
// years only, so it can be one too high before the birthday.
func (n *Normalizer) FromFHIR(p fhir.Patient) (Record, error) {
	if p.ResourceType != "" && p.ResourceType != "Patient" {
		return Record{}, fmt.Errorf("resource type %q: %w", p.ResourceType, ErrMalformedExternalRecord)
	}
	now := n.now()

	rec := Record{
		Name:       fhirName(p.Name),
		Gender:     capitalize(p.Gender),
		Contact:    p.FirstTelecom("phone"),
		ExternalID: strings.TrimSpace(p.ID),
		LastSync:   &now,
		Source:     SourceExternalServer,
	}

	if p.BirthDate != "" {
		birth, err := parseBirthDate(p.BirthDate)
		if err != nil {
			return Record{}, fmt.Errorf("patient %s: %v: %w", p.ID, err, ErrMalformedExternalRecord)
		}
		age := now.Year() - birth.Year()
		if age < 0 {
			return Record{}, fmt.Errorf("patient %s: birth date %s is in the future: %w", p.ID, p.BirthDate, ErrMalformedExternalRecord)
		}
		rec.Age = &age
	}
	return rec, nil
}

// FromHospitalRow maps one row of a hospital file. A missing or blank Age
// becomes 0.
func (n *Normalizer) FromHospitalRow(row hospitalfile.Row) (Record, error) {
	age := 0
	if strings.TrimSpace(row.Age) != "" {
		parsed, err := parseAge(row.Age)
		if err != nil || parsed < 0 {
			return Record{}, fmt.Errorf("row %d: invalid age %q: %w", row.Index, row.Age, ErrMalformedExternalRecord)
		}
		age = parsed
	}
	now := n.now()
	return Record{
		Name:           row.Name,
		Age:            &age,
		Gender:         row.Gender,
		Contact:        row.Contact,
		BloodType:      row.BloodType,
		Allergies:      row.Allergies,
		MedicalHistory: row.MedicalHistory,
		LastSync:       &now,
		Source:         SourceHospitalIntegration,
	}, nil
}

// FromEvent maps a patient pushed by a hospital system.
func (n *Normalizer) FromEvent(p webhook.PatientPayload) (Record, error) {
	rec := Record{
		Name:           p.Name,
		Gender:         p.Gender,
		Contact:        p.Contact,
		BloodType:      p.BloodType,
		Allergies:      p.Allergies,
		MedicalHistory: p.MedicalHistory,
		ExternalID:     strings.TrimSpace(p.PatientID),
		Source:         SourceHospitalIntegration,
	}
	age := p.Age
	rec.Age = &age

	if strings.TrimSpace(p.Timestamp) != "" {
		ts, err := parseTimestamp(p.Timestamp)
		if err != nil {
			return Record{}, fmt.Errorf("event for %s: %v: %w", p.PatientID, err, ErrMalformedExternalRecord)
		}
		rec.LastSync = &ts
	}
	return rec, nil
}

// fhirName joins the given names and family of the first HumanName.
func fhirName(names []fhir.HumanName) string {
	if len(names) == 0 {
		return ""
	}
	n := names[0]
	return strings.TrimSpace(strings.Join(n.Given, " ") + " " + n.Family)
}

func parseBirthDate(s string) (time.Time, error) {
	for _, layout := range birthDateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised birth date %q", s)
}

// capitalize upper-cases the first letter and lower-cases the rest,
// so "female" and "FEMALE" both become "Female".
func capitalize(s string) string {
	if s == "" {
		return ""
	}
	_, size := utf8.DecodeRuneInString(s)
	return cases.Upper(language.Und).String(s[:size]) + cases.Lower(language.Und).String(s[size:])
}
