package patient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/patientrecords/internal/platform/fhir"
	"github.com/ehr/patientrecords/internal/platform/hospitalfile"
	"github.com/ehr/patientrecords/internal/platform/spreadsheet"
	"github.com/ehr/patientrecords/internal/platform/webhook"
)

// Gateway is the read-only clinical data server.
type Gateway interface {
	SearchPatients(ctx context.Context, query map[string]string) ([]fhir.Patient, error)
	GetPatientByID(ctx context.Context, id string) (*fhir.Patient, error)
	SearchObservations(ctx context.Context, patientID string) ([]fhir.Observation, error)
}

// Integrations produces the simulated hospital API and webhook traffic.
type Integrations interface {
	APICall(ctx context.Context) (*webhook.PatientPayload, error)
	Webhook(ctx context.Context) (*webhook.Delivery, error)
	FetchUpdated(ctx context.Context, n webhook.Notification) (*webhook.PatientPayload, error)
	Secret() string
}

// Result reports the effect of ingesting one external record.
type Result struct {
	Outcome Outcome `json:"outcome"`
	Record  *Record `json:"record,omitempty"`
}

// RowError describes one skipped row of a bulk import.
type RowError struct {
	Row   int    `json:"row"`
	Error string `json:"error"`
}

// BatchResult reports a bulk file import.
type BatchResult struct {
	Total    int        `json:"total"`
	Imported int        `json:"imported"`
	Skipped  int        `json:"skipped"`
	Errors   []RowError `json:"errors,omitempty"`
}

// IntegrationResult reports a simulated hospital API call or webhook.
type IntegrationResult struct {
	Result
	Event *webhook.Event `json:"event"`
}

// Stats summarises the table.
type Stats struct {
	Total    int            `json:"total"`
	Linked   int            `json:"linked"`
	BySource map[Source]int `json:"by_source"`
}

type Service struct {
	store   Store
	gateway Gateway
	sim     Integrations
	events  webhook.EventLog
	norm    *Normalizer
	now     func() time.Time
	logger  zerolog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the clock used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
		s.norm = NewNormalizer(now)
	}
}

func NewService(store Store, gateway Gateway, sim Integrations, events webhook.EventLog, logger zerolog.Logger, opts ...Option) *Service {
	s := &Service{
		store:   store,
		gateway: gateway,
		sim:     sim,
		events:  events,
		norm:    NewNormalizer(time.Now),
		now:     time.Now,
		logger:  logger.With().Str("component", "patient_service").Logger(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// mutate runs one load → fn → save cycle. A save rejected as stale is retried
// once against a fresh load; fn must therefore be safe to run twice.
func (s *Service) mutate(ctx context.Context, fn func([]Record) ([]Record, error)) error {
	for attempt := 0; ; attempt++ {
		snap, err := s.store.Load(ctx)
		if err != nil {
			return err
		}
		next, err := fn(snap.Records)
		if err != nil {
			return err
		}
		_, err = s.store.Save(ctx, next, snap.Version)
		if errors.Is(err, ErrConcurrentModification) && attempt == 0 {
			s.logger.Warn().Msg("patient table changed during update, retrying")
			continue
		}
		return err
	}
}

// -- Manual entry --

// AddManual validates and appends a manually entered record.
func (s *Service) AddManual(ctx context.Context, in ManualEntry) (*Record, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	rec := in.Record(s.now())
	err := s.mutate(ctx, func(records []Record) ([]Record, error) {
		return AppendAll(records, rec), nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("source", string(rec.Source)).Str("external_id", rec.ExternalID).Msg("patient added")
	return &rec, nil
}

// -- Queries --

// List returns the records matching c.
func (s *Service) List(ctx context.Context, c Criteria) ([]Record, error) {
	snap, err := s.store.Load(ctx)
	if err != nil {
		return nil, err
	}
	return Filter(snap.Records, c), nil
}

// LinkedRecords returns the records that carry an external id.
func (s *Service) LinkedRecords(ctx context.Context) ([]Record, error) {
	snap, err := s.store.Load(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Record, 0)
	for _, r := range snap.Records {
		if r.Linked() {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *Service) Stats(ctx context.Context) (*Stats, error) {
	snap, err := s.store.Load(ctx)
	if err != nil {
		return nil, err
	}
	st := &Stats{Total: len(snap.Records), BySource: CountBySource(snap.Records)}
	for _, r := range snap.Records {
		if r.Linked() {
			st.Linked++
		}
	}
	return st, nil
}

// Export writes the whole table in the canonical columns.
func (s *Service) Export(ctx context.Context, w io.Writer, format hospitalfile.Format) error {
	snap, err := s.store.Load(ctx)
	if err != nil {
		return err
	}
	switch format {
	case hospitalfile.FormatCSV:
		return encodeRecords(w, Columns, snap.Records)
	case hospitalfile.FormatXLSX:
		rows := make([][]string, len(snap.Records))
		for i := range snap.Records {
			rows[i] = snap.Records[i].cells(Columns)
		}
		return spreadsheet.Write(w, "Patients", Columns, rows)
	default:
		return fmt.Errorf("%q: %w", format, hospitalfile.ErrUnsupportedFormat)
	}
}

// -- Clinical data server --

// SearchExternal searches the clinical server by name and returns normalized
// previews. Nothing is stored. If the server fails the result is empty.
func (s *Service) SearchExternal(ctx context.Context, name string) ([]Record, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		v := &ValidationError{}
		v.add("name", "is required")
		return nil, v
	}

	out := make([]Record, 0)
	patients, err := s.gateway.SearchPatients(ctx, map[string]string{"name": name})
	if err != nil {
		s.logger.Warn().Err(err).Str("query", name).Msg("external search returned no result")
		return out, nil
	}
	for _, p := range patients {
		rec, err := s.norm.FromFHIR(p)
		if err != nil {
			s.logger.Warn().Err(err).Str("external_id", p.ID).Msg("skipping malformed search result")
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

// ImportExternal fetches one patient from the clinical server and reconciles
// it into the table.
func (s *Service) ImportExternal(ctx context.Context, externalID string) (*Result, error) {
	return s.pullExternal(ctx, externalID)
}

// SyncExternal refreshes a stored record from the clinical server. The record
// must already be linked to externalID.
func (s *Service) SyncExternal(ctx context.Context, externalID string) (*Result, error) {
	externalID = strings.TrimSpace(externalID)
	snap, err := s.store.Load(ctx)
	if err != nil {
		return nil, err
	}
	if IndexByExternalID(snap.Records, externalID) < 0 {
		return nil, fmt.Errorf("external id %q: %w", externalID, ErrNotFound)
	}
	return s.pullExternal(ctx, externalID)
}

func (s *Service) pullExternal(ctx context.Context, externalID string) (*Result, error) {
	externalID = strings.TrimSpace(externalID)
	p, err := s.gateway.GetPatientByID(ctx, externalID)
	if err != nil {
		s.logger.Warn().Err(err).Str("external_id", externalID).Msg("external read returned no result")
		return &Result{Outcome: OutcomeNoResult}, nil
	}
	rec, err := s.norm.FromFHIR(*p)
	if err != nil {
		return nil, err
	}
	if rec.ExternalID == "" {
		rec.ExternalID = externalID
	}
	return s.reconcileOne(ctx, rec)
}

// ExternalObservations lists the clinical server's observations for a patient.
func (s *Service) ExternalObservations(ctx context.Context, externalID string) ([]fhir.Observation, error) {
	obs, err := s.gateway.SearchObservations(ctx, externalID)
	if err != nil {
		s.logger.Warn().Err(err).Str("external_id", externalID).Msg("observation search returned no result")
		return []fhir.Observation{}, nil
	}
	return obs, nil
}

func (s *Service) reconcileOne(ctx context.Context, rec Record) (*Result, error) {
	var (
		outcome Outcome
		stored  Record
	)
	err := s.mutate(ctx, func(records []Record) ([]Record, error) {
		next, o := Reconcile(records, rec)
		outcome = o
		if o == OutcomeUpdated {
			stored = next[IndexByExternalID(next, rec.ExternalID)]
		} else {
			stored = next[len(next)-1]
		}
		return next, nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info().
		Str("external_id", stored.ExternalID).
		Str("source", string(stored.Source)).
		Str("outcome", string(outcome)).
		Msg("patient reconciled")
	return &Result{Outcome: outcome, Record: &stored}, nil
}

// -- Hospital file --

// ImportHospitalFile appends every row that normalizes. Malformed rows are
// skipped and reported; they never abort the batch.
func (s *Service) ImportHospitalFile(ctx context.Context, rows []hospitalfile.Row) (*BatchResult, error) {
	res := &BatchResult{Total: len(rows)}
	batch := make([]Record, 0, len(rows))
	for _, row := range rows {
		rec, err := s.norm.FromHospitalRow(row)
		if err != nil {
			res.Skipped++
			res.Errors = append(res.Errors, RowError{Row: row.Index, Error: err.Error()})
			continue
		}
		batch = append(batch, rec)
	}

	if len(batch) > 0 {
		err := s.mutate(ctx, func(records []Record) ([]Record, error) {
			return AppendAll(records, batch...), nil
		})
		if err != nil {
			return nil, err
		}
	}
	res.Imported = len(batch)

	s.logger.Info().
		Int("total", res.Total).
		Int("imported", res.Imported).
		Int("skipped", res.Skipped).
		Msg("hospital file imported")
	return res, nil
}

// -- Simulated hospital integrations --

// SimulateAPICall processes the patient a hospital pushes over its API.
func (s *Service) SimulateAPICall(ctx context.Context) (*IntegrationResult, error) {
	payload, err := s.sim.APICall(ctx)
	if err != nil {
		return nil, err
	}
	return s.ingestPayload(ctx, webhook.EventAPICall, payload)
}

// SimulateWebhook verifies a "patient updated" notification, fetches the
// hospital's current data and reconciles it.
func (s *Service) SimulateWebhook(ctx context.Context) (*IntegrationResult, error) {
	d, err := s.sim.Webhook(ctx)
	if err != nil {
		return nil, err
	}
	if !webhook.VerifySignature(d.Body, s.sim.Secret(), d.Signature) {
		ev := s.newEvent(webhook.EventWebhook, d.Notification.PatientID, d.Notification.Hospital, d.Body)
		ev.Status = webhook.StatusFailed
		ev.Error = ErrInvalidSignature.Error()
		s.recordEvent(ctx, ev)
		return nil, ErrInvalidSignature
	}
	payload, err := s.sim.FetchUpdated(ctx, d.Notification)
	if err != nil {
		return nil, err
	}
	return s.ingestPayload(ctx, webhook.EventWebhook, payload)
}

func (s *Service) ingestPayload(ctx context.Context, kind string, p *webhook.PatientPayload) (*IntegrationResult, error) {
	body, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", kind, err)
	}
	ev := s.newEvent(kind, p.PatientID, p.Hospital, body)

	rec, err := s.norm.FromEvent(*p)
	if err == nil {
		var res *Result
		res, err = s.reconcileOne(ctx, rec)
		if err == nil {
			ev.Status = webhook.StatusSuccess
			ev.Action = string(res.Outcome)
			s.recordEvent(ctx, ev)
			return &IntegrationResult{Result: *res, Event: ev}, nil
		}
	}
	ev.Status = webhook.StatusFailed
	ev.Error = err.Error()
	s.recordEvent(ctx, ev)
	return nil, err
}

func (s *Service) newEvent(kind, patientID, hospital string, body []byte) *webhook.Event {
	return &webhook.Event{
		ID:         uuid.NewString(),
		Type:       kind,
		PatientID:  patientID,
		Hospital:   hospital,
		Payload:    json.RawMessage(bytes.Clone(body)),
		ReceivedAt: s.now(),
	}
}

func (s *Service) recordEvent(ctx context.Context, ev *webhook.Event) {
	if err := s.events.Record(ctx, ev); err != nil {
		s.logger.Error().Err(err).Str("event_id", ev.ID).Msg("failed to record integration event")
	}
}

// Events lists processed integration events, newest first.
func (s *Service) Events(ctx context.Context, limit, offset int) ([]*webhook.Event, int, error) {
	return s.events.List(ctx, limit, offset)
}
