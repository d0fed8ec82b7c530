package fhir

import (
	"encoding/json"
	"fmt"
)

// Bundle is a searchset Bundle as returned by a FHIR server.
type Bundle struct {
	ResourceType string        `json:"resourceType"`
	ID           string        `json:"id,omitempty"`
	Type         string        `json:"type"`
	Total        *int          `json:"total,omitempty"`
	Link         []BundleLink  `json:"link,omitempty"`
	Entry        []BundleEntry `json:"entry,omitempty"`
}

type BundleLink struct {
	Relation string `json:"relation"`
	URL      string `json:"url"`
}

type BundleEntry struct {
	FullURL  string          `json:"fullUrl,omitempty"`
	Resource json.RawMessage `json:"resource,omitempty"`
	Search   *BundleSearch   `json:"search,omitempty"`
}

type BundleSearch struct {
	Mode  string   `json:"mode,omitempty"`
	Score *float64 `json:"score,omitempty"`
}

// ResourceType peeks the resourceType of a raw entry without a full decode.
func (e BundleEntry) ResourceType() string {
	var r Resource
	if err := json.Unmarshal(e.Resource, &r); err != nil {
		return ""
	}
	return r.ResourceType
}

// Decode unmarshals the entry's resource into v.
func (e BundleEntry) Decode(v interface{}) error {
	if len(e.Resource) == 0 {
		return fmt.Errorf("bundle entry %q has no resource", e.FullURL)
	}
	if err := json.Unmarshal(e.Resource, v); err != nil {
		return fmt.Errorf("decode bundle entry %q: %w", e.FullURL, err)
	}
	return nil
}
