package fhir

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
)

// DefaultBaseURL is the public HAPI R4 test server. It is read-only and needs no auth.
const DefaultBaseURL = "https://hapi.fhir.org/baseR4/"

// ErrGatewayUnavailable is returned for transport failures, timeouts and any
// non-2xx response. Callers treat it as "no result".
var ErrGatewayUnavailable = errors.New("fhir gateway unavailable")

// ClientConfig configures a Client.
type ClientConfig struct {
	BaseURL string
	Timeout time.Duration
}

// Client performs read-only FHIR REST calls against a single base address.
type Client struct {
	http   *resty.Client
	logger zerolog.Logger
}

// NewClient creates a Client. Requests are never retried.
func NewClient(cfg ClientConfig, logger zerolog.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	hc := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetHeader("Accept", "application/fhir+json")

	return &Client{
		http:   hc,
		logger: logger.With().Str("component", "fhir_client").Str("base_url", cfg.BaseURL).Logger(),
	}
}

// SearchPatients runs GET [base]/Patient with the given search parameters and
// returns the Patient entries of the first result page. Entries that are not
// Patients (for example an OperationOutcome in "outcome" mode) or that fail to
// decode are skipped.
func (c *Client) SearchPatients(ctx context.Context, query map[string]string) ([]Patient, error) {
	bundle, err := c.search(ctx, "Patient", query)
	if err != nil {
		return nil, err
	}

	patients := make([]Patient, 0, len(bundle.Entry))
	for _, entry := range bundle.Entry {
		if entry.ResourceType() != "Patient" {
			continue
		}
		var p Patient
		if err := entry.Decode(&p); err != nil {
			c.logger.Warn().Err(err).Msg("skipping undecodable patient entry")
			continue
		}
		patients = append(patients, p)
	}
	return patients, nil
}

// GetPatientByID runs GET [base]/Patient/{id}.
func (c *Client) GetPatientByID(ctx context.Context, id string) (*Patient, error) {
	if id == "" {
		return nil, fmt.Errorf("patient id is required: %w", ErrGatewayUnavailable)
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParam("id", id).
		Get("Patient/{id}")
	if err := c.check(resp, err, "read Patient/"+id); err != nil {
		return nil, err
	}

	var p Patient
	if err := json.Unmarshal(resp.Body(), &p); err != nil {
		c.logger.Warn().Err(err).Str("patient_id", id).Msg("undecodable patient body")
		return nil, fmt.Errorf("decode Patient/%s: %w", id, ErrGatewayUnavailable)
	}
	if p.ResourceType != "" && p.ResourceType != "Patient" {
		return nil, fmt.Errorf("read Patient/%s returned %s: %w", id, p.ResourceType, ErrGatewayUnavailable)
	}
	return &p, nil
}

// SearchObservations runs GET [base]/Observation?patient={id}.
func (c *Client) SearchObservations(ctx context.Context, patientID string) ([]Observation, error) {
	bundle, err := c.search(ctx, "Observation", map[string]string{"patient": patientID})
	if err != nil {
		return nil, err
	}

	obs := make([]Observation, 0, len(bundle.Entry))
	for _, entry := range bundle.Entry {
		if entry.ResourceType() != "Observation" {
			continue
		}
		var o Observation
		if err := entry.Decode(&o); err != nil {
			c.logger.Warn().Err(err).Msg("skipping undecodable observation entry")
			continue
		}
		obs = append(obs, o)
	}
	return obs, nil
}

func (c *Client) search(ctx context.Context, resourceType string, query map[string]string) (*Bundle, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(query).
		Get(resourceType)
	if err := c.check(resp, err, "search "+resourceType); err != nil {
		return nil, err
	}

	var bundle Bundle
	if err := json.Unmarshal(resp.Body(), &bundle); err != nil {
		c.logger.Warn().Err(err).Str("resource_type", resourceType).Msg("undecodable search bundle")
		return nil, fmt.Errorf("decode %s bundle: %w", resourceType, ErrGatewayUnavailable)
	}
	return &bundle, nil
}

func (c *Client) check(resp *resty.Response, err error, op string) error {
	if err != nil {
		c.logger.Warn().Err(err).Str("op", op).Msg("fhir request failed")
		return fmt.Errorf("%s: %v: %w", op, err, ErrGatewayUnavailable)
	}
	if !resp.IsSuccess() {
		c.logger.Warn().
			Str("op", op).
			Int("status", resp.StatusCode()).
			Dur("latency", resp.Time()).
			Msg("fhir request rejected")
		return fmt.Errorf("%s: status %d: %w", op, resp.StatusCode(), ErrGatewayUnavailable)
	}
	c.logger.Debug().Str("op", op).Int("status", resp.StatusCode()).Dur("latency", resp.Time()).Msg("fhir request")
	return nil
}
