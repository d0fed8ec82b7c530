package patient

import "testing"

func TestReconcile_CreatesWhenUnlinked(t *testing.T) {
	existing := []Record{{Name: "Ann", Source: SourceManualEntry}}

	out, outcome := Reconcile(existing, Record{Name: "Bo", Source: SourceHospitalIntegration})
	if outcome != OutcomeCreated {
		t.Fatalf("expected created, got %s", outcome)
	}
	if len(out) != 2 || out[1].Name != "Bo" {
		t.Errorf("expected Bo appended, got %+v", out)
	}
	if len(existing) != 1 {
		t.Error("existing slice must not be modified")
	}
}

func TestReconcile_CreatesWhenNoMatch(t *testing.T) {
	existing := []Record{{Name: "Ann", ExternalID: "pt-1"}}

	out, outcome := Reconcile(existing, Record{Name: "Bo", ExternalID: "pt-2"})
	if outcome != OutcomeCreated || len(out) != 2 {
		t.Fatalf("expected created with 2 records, got %s with %d", outcome, len(out))
	}
}

func TestReconcile_UpdatesInPlace(t *testing.T) {
	existing := []Record{
		{Name: "Ann", ExternalID: "pt-1"},
		{Name: "Old Bo", Contact: "555-OLD", ExternalID: "pt-2", Extra: map[string]string{"Ward": "East"}},
		{Name: "Cy"},
	}

	out, outcome := Reconcile(existing, Record{Name: "New Bo", Contact: "555-NEW", ExternalID: "pt-2", Source: SourceExternalServer})
	if outcome != OutcomeUpdated {
		t.Fatalf("expected updated, got %s", outcome)
	}
	if len(out) != 3 {
		t.Fatalf("expected 3 records, got %d", len(out))
	}
	if out[1].Name != "New Bo" || out[1].Contact != "555-NEW" {
		t.Errorf("fields not overwritten: %+v", out[1])
	}
	if out[1].ExternalID != "pt-2" {
		t.Errorf("external id changed: %q", out[1].ExternalID)
	}
	if out[1].Extra["Ward"] != "East" {
		t.Errorf("extra columns lost: %v", out[1].Extra)
	}
	if existing[1].Name != "Old Bo" {
		t.Error("existing slice must not be modified")
	}
}

func TestReconcile_FirstDuplicateWins(t *testing.T) {
	existing := []Record{
		{Name: "A", ExternalID: "dup"},
		{Name: "B", ExternalID: "dup"},
	}

	out, outcome := Reconcile(existing, Record{Name: "C", ExternalID: "dup"})
	if outcome != OutcomeUpdated {
		t.Fatalf("expected updated, got %s", outcome)
	}
	if out[0].Name != "C" || out[1].Name != "B" {
		t.Errorf("expected only the first duplicate updated, got %+v", out)
	}
}

func TestReconcile_DoesNotAliasIncoming(t *testing.T) {
	age := 30
	in := Record{Name: "Ann", Age: &age}

	out, _ := Reconcile(nil, in)
	age = 99
	if *out[0].Age != 30 {
		t.Errorf("stored record shares memory with incoming: age %d", *out[0].Age)
	}
}

func TestIndexByExternalID(t *testing.T) {
	records := []Record{{Name: "blank"}, {ExternalID: "pt-1"}}

	if got := IndexByExternalID(records, "pt-1"); got != 1 {
		t.Errorf("expected 1, got %d", got)
	}
	if got := IndexByExternalID(records, ""); got != -1 {
		t.Errorf("empty id must never match, got %d", got)
	}
	if got := IndexByExternalID(records, "nope"); got != -1 {
		t.Errorf("expected -1, got %d", got)
	}
}

func TestAppendAll(t *testing.T) {
	existing := []Record{{Name: "Ann", ExternalID: "pt-1"}}

	out := AppendAll(existing, Record{Name: "Ann again", ExternalID: "pt-1"}, Record{Name: "Bo"})
	if len(out) != 3 {
		t.Fatalf("bulk append must never merge, got %d records", len(out))
	}
	if len(existing) != 1 {
		t.Error("existing slice must not be modified")
	}
}
