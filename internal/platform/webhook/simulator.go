package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// PatientPayload is the patient shape a hospital system sends.
type PatientPayload struct {
	PatientID      string `json:"patient_id"`
	Name           string `json:"name"`
	Age            int    `json:"age"`
	Gender         string `json:"gender"`
	Contact        string `json:"contact"`
	BloodType      string `json:"blood_type"`
	Allergies      string `json:"allergies"`
	MedicalHistory string `json:"medical_history"`
	Hospital       string `json:"hospital"`
	Timestamp      string `json:"timestamp"`
}

// Notification is the body of a "patient changed" webhook.
type Notification struct {
	Event     string   `json:"event"`
	PatientID string   `json:"patient_id"`
	Hospital  string   `json:"hospital"`
	EventType string   `json:"event_type"`
	Timestamp string   `json:"timestamp"`
	Changes   []string `json:"changes"`
}

// Delivery is a signed webhook notification as it would arrive over the wire.
type Delivery struct {
	Notification Notification
	Body         []byte
	Signature    string
}

const (
	apiHospital     = "Demo City Hospital"
	webhookHospital = "Demo Medical Center"

	// WebhookPatientID is fixed so that repeated webhooks update one record.
	WebhookPatientID = "HOSP-WEBHOOK-001"

	apiTimestampLayout     = "2006-01-02 15:04:05"
	webhookTimestampLayout = "2006-01-02T15:04:05.000000"
)

// Simulator fabricates hospital payloads and imitates network latency.
type Simulator struct {
	delay  time.Duration
	secret string
	now    func() time.Time
}

// NewSimulator creates a Simulator. delay is the total simulated processing
// time of one call; secret signs webhook notifications.
func NewSimulator(delay time.Duration, secret string) *Simulator {
	return &Simulator{delay: delay, secret: secret, now: time.Now}
}

// Secret returns the shared webhook secret.
func (s *Simulator) Secret() string { return s.secret }

// APICall returns the patient a hospital posts to our API. Each call carries a
// fresh timestamped patient id, so every call creates a record.
func (s *Simulator) APICall(ctx context.Context) (*PatientPayload, error) {
	if err := s.wait(ctx, s.delay); err != nil {
		return nil, err
	}
	now := s.now()
	return &PatientPayload{
		PatientID:      "HOSP-" + now.Format("20060102150405"),
		Name:           "API Demo Patient",
		Age:            35,
		Gender:         "Female",
		Contact:        "555-API-DEMO",
		BloodType:      "AB+",
		Allergies:      "Shellfish",
		MedicalHistory: "Annual checkup",
		Hospital:       apiHospital,
		Timestamp:      now.Format(apiTimestampLayout),
	}, nil
}

// Webhook returns a signed "patient_updated" notification.
func (s *Simulator) Webhook(ctx context.Context) (*Delivery, error) {
	if err := s.wait(ctx, s.delay/3); err != nil {
		return nil, err
	}
	n := Notification{
		Event:     "patient_updated",
		PatientID: WebhookPatientID,
		Hospital:  webhookHospital,
		EventType: "update",
		Timestamp: s.now().Format(webhookTimestampLayout),
		Changes:   []string{"contact", "medical_history"},
	}
	body, err := json.Marshal(n)
	if err != nil {
		return nil, fmt.Errorf("marshal notification: %w", err)
	}
	return &Delivery{Notification: n, Body: body, Signature: SignPayload(body, s.secret)}, nil
}

// FetchUpdated returns the hospital's current data for the notified patient.
func (s *Simulator) FetchUpdated(ctx context.Context, n Notification) (*PatientPayload, error) {
	if err := s.wait(ctx, s.delay-s.delay/3); err != nil {
		return nil, err
	}
	return &PatientPayload{
		PatientID:      n.PatientID,
		Name:           "Webhook Demo Patient",
		Age:            42,
		Gender:         "Male",
		Contact:        "555-WEBHOOK-NEW",
		BloodType:      "O-",
		Allergies:      "None",
		MedicalHistory: "Updated: Recent surgery completed successfully",
		Hospital:       n.Hospital,
		Timestamp:      n.Timestamp,
	}, nil
}

func (s *Simulator) wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
