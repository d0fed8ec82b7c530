package patient

import (
	"errors"
	"testing"
)

func validEntry() ManualEntry {
	return ManualEntry{Name: "Ann Lee", Age: intPtr(30), Gender: "Female", Contact: "555-0001", BloodType: "A+"}
}

func TestManualEntry_Validate(t *testing.T) {
	if err := (&ManualEntry{Name: "Ann", Gender: "Other", Contact: "555"}).Validate(); err != nil {
		t.Errorf("minimal entry should validate: %v", err)
	}

	tests := []struct {
		name  string
		edit  func(*ManualEntry)
		field string
	}{
		{"missing name", func(m *ManualEntry) { m.Name = "  " }, "name"},
		{"missing contact", func(m *ManualEntry) { m.Contact = "" }, "contact"},
		{"missing gender", func(m *ManualEntry) { m.Gender = "" }, "gender"},
		{"unknown gender", func(m *ManualEntry) { m.Gender = "female" }, "gender"},
		{"negative age", func(m *ManualEntry) { m.Age = intPtr(-1) }, "age"},
		{"age too high", func(m *ManualEntry) { m.Age = intPtr(121) }, "age"},
		{"unknown blood type", func(m *ManualEntry) { m.BloodType = "C+" }, "blood_type"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := validEntry()
			tt.edit(&m)

			err := m.Validate()
			if !errors.Is(err, ErrValidation) {
				t.Fatalf("expected ErrValidation, got %v", err)
			}
			var verr *ValidationError
			if !errors.As(err, &verr) || len(verr.Fields) != 1 || verr.Fields[0].Field != tt.field {
				t.Errorf("expected one error on %s, got %v", tt.field, err)
			}
		})
	}
}

func TestManualEntry_ValidateCollectsAllFields(t *testing.T) {
	err := (&ManualEntry{}).Validate()

	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if len(verr.Fields) != 3 {
		t.Errorf("expected name, contact and gender errors, got %v", verr.Fields)
	}
}

func TestManualEntry_Record(t *testing.T) {
	m := validEntry()
	rec := m.Record(fixedNow)

	if rec.Source != SourceManualEntry {
		t.Errorf("expected Manual Entry, got %q", rec.Source)
	}
	if rec.LastSync != nil {
		t.Errorf("unlinked manual entry must not carry Last_Sync, got %v", rec.LastSync)
	}

	m.ExternalID = "pt-5"
	rec = m.Record(fixedNow)
	if rec.LastSync == nil || !rec.LastSync.Equal(fixedNow) {
		t.Errorf("linked manual entry should carry Last_Sync, got %v", rec.LastSync)
	}
}

func TestManualEntry_RecordFoldsCRLF(t *testing.T) {
	m := validEntry()
	m.MedicalHistory = "Asthma\r\nSeasonal"
	m.Allergies = "Dust\r\nPollen"

	rec := m.Record(fixedNow)
	if rec.MedicalHistory != "Asthma\nSeasonal" || rec.Allergies != "Dust\nPollen" {
		t.Errorf("expected LF line endings, got %q / %q", rec.MedicalHistory, rec.Allergies)
	}
}
