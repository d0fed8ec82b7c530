package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

func fixedSimulator(delay time.Duration) *Simulator {
	s := NewSimulator(delay, "test-secret")
	s.now = func() time.Time { return time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC) }
	return s
}

func TestSimulator_APICall(t *testing.T) {
	s := fixedSimulator(0)

	p, err := s.APICall(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.PatientID != "HOSP-20240115103000" {
		t.Errorf("expected timestamped patient id, got %s", p.PatientID)
	}
	if p.Timestamp != "2024-01-15 10:30:00" {
		t.Errorf("unexpected timestamp %q", p.Timestamp)
	}
	if p.Age != 35 || p.BloodType != "AB+" {
		t.Errorf("unexpected payload %+v", p)
	}
}

func TestSimulator_WebhookIsSigned(t *testing.T) {
	s := fixedSimulator(0)

	d, err := s.Webhook(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !VerifySignature(d.Body, s.Secret(), d.Signature) {
		t.Error("expected signature to verify")
	}
	if VerifySignature(d.Body, "other-secret", d.Signature) {
		t.Error("expected signature to fail under a different secret")
	}

	var n Notification
	if err := json.Unmarshal(d.Body, &n); err != nil {
		t.Fatalf("body is not json: %v", err)
	}
	if n.PatientID != WebhookPatientID {
		t.Errorf("expected %s, got %s", WebhookPatientID, n.PatientID)
	}
	if !strings.HasPrefix(n.Timestamp, "2024-01-15T10:30:00.") {
		t.Errorf("expected ISO timestamp, got %s", n.Timestamp)
	}
}

func TestSimulator_FetchUpdated(t *testing.T) {
	s := fixedSimulator(0)
	d, _ := s.Webhook(context.Background())

	p, err := s.FetchUpdated(context.Background(), d.Notification)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.PatientID != WebhookPatientID || p.Contact != "555-WEBHOOK-NEW" {
		t.Errorf("unexpected payload %+v", p)
	}
	if p.Timestamp != d.Notification.Timestamp {
		t.Errorf("expected notification timestamp to carry over")
	}
}

func TestSimulator_HonoursCancellation(t *testing.T) {
	s := fixedSimulator(time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := s.APICall(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestVerifySignature_EmptySecretDisables(t *testing.T) {
	if !VerifySignature([]byte("x"), "", "") {
		t.Error("expected empty secret to accept any payload")
	}
}

func TestInMemoryEventLog_NewestFirstAndPaging(t *testing.T) {
	l := NewInMemoryEventLog(10)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		if err := l.Record(ctx, &Event{ID: fmt.Sprintf("e%d", i)}); err != nil {
			t.Fatalf("record: %v", err)
		}
	}

	events, total, err := l.List(ctx, 2, 1)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if total != 5 {
		t.Errorf("expected total 5, got %d", total)
	}
	if len(events) != 2 || events[0].ID != "e3" || events[1].ID != "e2" {
		t.Errorf("unexpected page: %v, %v", events[0].ID, events[1].ID)
	}

	events, _, _ = l.List(ctx, 10, 99)
	if len(events) != 0 {
		t.Errorf("expected empty page past the end, got %d", len(events))
	}
}

func TestInMemoryEventLog_EvictsOldest(t *testing.T) {
	l := NewInMemoryEventLog(2)
	ctx := context.Background()
	l.Record(ctx, &Event{ID: "a"})
	l.Record(ctx, &Event{ID: "b"})
	l.Record(ctx, &Event{ID: "c"})

	events, total, _ := l.List(ctx, 0, 0)
	if total != 2 {
		t.Fatalf("expected 2 events, got %d", total)
	}
	if events[0].ID != "c" || events[1].ID != "b" {
		t.Errorf("expected [c b], got [%s %s]", events[0].ID, events[1].ID)
	}
}

func TestInMemoryEventLog_RequiresID(t *testing.T) {
	l := NewInMemoryEventLog(0)
	if err := l.Record(context.Background(), &Event{}); err == nil {
		t.Error("expected error for event without id")
	}
}
