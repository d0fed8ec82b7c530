package patient

import (
	"errors"
	"testing"
	"time"

	"github.com/ehr/patientrecords/internal/platform/fhir"
	"github.com/ehr/patientrecords/internal/platform/hospitalfile"
	"github.com/ehr/patientrecords/internal/platform/webhook"
)

var fixedNow = time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

func testNormalizer() *Normalizer {
	return NewNormalizer(func() time.Time { return fixedNow })
}

func TestFromFHIR(t *testing.T) {
	p := fhir.Patient{
		ResourceType: "Patient",
		ID:           "pt-1",
		Name:         []fhir.HumanName{{Given: []string{"Jane", "Q"}, Family: "Doe"}, {Family: "Alias"}},
		Gender:       "female",
		BirthDate:    "1990-06-15",
		Telecom: []fhir.ContactPoint{
			{System: "email", Value: "jane@example.org"},
			{System: "phone", Value: "555-0100"},
			{System: "phone", Value: "555-0199"},
		},
	}

	rec, err := testNormalizer().FromFHIR(p)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Name != "Jane Q Doe" {
		t.Errorf("expected Jane Q Doe, got %q", rec.Name)
	}
	if rec.Gender != "Female" {
		t.Errorf("expected Female, got %q", rec.Gender)
	}
	if rec.Contact != "555-0100" {
		t.Errorf("expected first phone, got %q", rec.Contact)
	}
	if rec.Age == nil || *rec.Age != 35 {
		t.Errorf("expected age 35, got %v", rec.Age)
	}
	if rec.ExternalID != "pt-1" || rec.Source != SourceExternalServer {
		t.Errorf("unexpected link: %q %q", rec.ExternalID, rec.Source)
	}
	if rec.LastSync == nil || !rec.LastSync.Equal(fixedNow) {
		t.Errorf("expected Last_Sync %v, got %v", fixedNow, rec.LastSync)
	}
}

func TestFromFHIR_SparseResource(t *testing.T) {
	rec, err := testNormalizer().FromFHIR(fhir.Patient{ResourceType: "Patient", ID: "pt-2"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Name != "" || rec.Gender != "" || rec.Contact != "" || rec.Age != nil {
		t.Errorf("missing fields must stay empty: %+v", rec)
	}
}

func TestFromFHIR_PartialBirthDate(t *testing.T) {
	for _, bd := range []string{"1990", "1990-06"} {
		rec, err := testNormalizer().FromFHIR(fhir.Patient{ID: "x", BirthDate: bd})
		if err != nil {
			t.Fatalf("birth date %q: %v", bd, err)
		}
		if *rec.Age != 35 {
			t.Errorf("birth date %q: expected 35, got %d", bd, *rec.Age)
		}
	}
}

func TestFromFHIR_Malformed(t *testing.T) {
	tests := map[string]fhir.Patient{
		"wrong type":   {ResourceType: "Observation", ID: "o1"},
		"bad date":     {ResourceType: "Patient", ID: "p1", BirthDate: "15/06/1990"},
		"future birth": {ResourceType: "Patient", ID: "p2", BirthDate: "2031-01-01"},
	}
	for name, p := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := testNormalizer().FromFHIR(p)
			if !errors.Is(err, ErrMalformedExternalRecord) {
				t.Errorf("expected ErrMalformedExternalRecord, got %v", err)
			}
		})
	}
}

func TestFromHospitalRow(t *testing.T) {
	rec, err := testNormalizer().FromHospitalRow(hospitalfile.Row{
		Index: 1, Name: "John Hospital", Age: "45", Gender: "Male", Contact: "555-1111",
		BloodType: "O+", Allergies: "None", MedicalHistory: "Diabetes",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if *rec.Age != 45 || rec.BloodType != "O+" || rec.MedicalHistory != "Diabetes" {
		t.Errorf("fields not mapped: %+v", rec)
	}
	if rec.Source != SourceHospitalIntegration || rec.ExternalID != "" {
		t.Errorf("unexpected source or link: %+v", rec)
	}
	if rec.LastSync == nil || !rec.LastSync.Equal(fixedNow) {
		t.Errorf("expected Last_Sync now, got %v", rec.LastSync)
	}
}

func TestFromHospitalRow_Age(t *testing.T) {
	for _, tt := range []struct {
		in   string
		want int
	}{{"", 0}, {"  ", 0}, {"30.0", 30}, {" 7 ", 7}} {
		rec, err := testNormalizer().FromHospitalRow(hospitalfile.Row{Age: tt.in})
		if err != nil {
			t.Fatalf("age %q: %v", tt.in, err)
		}
		if *rec.Age != tt.want {
			t.Errorf("age %q: expected %d, got %d", tt.in, tt.want, *rec.Age)
		}
	}

	for _, bad := range []string{"abc", "-3", "30.5"} {
		_, err := testNormalizer().FromHospitalRow(hospitalfile.Row{Index: 4, Age: bad})
		if !errors.Is(err, ErrMalformedExternalRecord) {
			t.Errorf("age %q: expected ErrMalformedExternalRecord, got %v", bad, err)
		}
	}
}

func TestFromEvent(t *testing.T) {
	rec, err := testNormalizer().FromEvent(webhook.PatientPayload{
		PatientID: " HOSP-1 ", Name: "API Demo Patient", Age: 35, Gender: "Female",
		Contact: "555-API-DEMO", BloodType: "AB+", Hospital: "Demo City Hospital",
		Timestamp: "2025-02-28T09:15:00.123456",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.ExternalID != "HOSP-1" {
		t.Errorf("expected trimmed id, got %q", rec.ExternalID)
	}
	if *rec.Age != 35 || rec.Source != SourceHospitalIntegration {
		t.Errorf("unexpected record: %+v", rec)
	}
	if rec.LastSync == nil || rec.LastSync.Day() != 28 {
		t.Errorf("expected event timestamp, got %v", rec.LastSync)
	}

	rec, err = testNormalizer().FromEvent(webhook.PatientPayload{PatientID: "HOSP-2"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.LastSync != nil {
		t.Errorf("expected no Last_Sync without a timestamp, got %v", rec.LastSync)
	}

	_, err = testNormalizer().FromEvent(webhook.PatientPayload{PatientID: "HOSP-3", Timestamp: "yesterday"})
	if !errors.Is(err, ErrMalformedExternalRecord) {
		t.Errorf("expected ErrMalformedExternalRecord, got %v", err)
	}
}

func TestCapitalize(t *testing.T) {
	tests := map[string]string{"female": "Female", "MALE": "Male", "other": "Other", "": "", "unknown": "Unknown"}
	for in, want := range tests {
		if got := capitalize(in); got != want {
			t.Errorf("capitalize(%q) = %q, want %q", in, got, want)
		}
	}
}
