package patient

// Outcome is the effect an ingestion had on the store.
type Outcome string

const (
	OutcomeCreated Outcome = "created"
	OutcomeUpdated Outcome = "updated"
	// OutcomeNoResult means the external system returned nothing to ingest.
	OutcomeNoResult Outcome = "no_result"
)

// IndexByExternalID returns the index of the first record with the given
// external id, or -1. Empty ids never match.
func IndexByExternalID(records []Record, externalID string) int {
	if externalID == "" {
		return -1
	}
	for i := range records {
		if records[i].ExternalID == externalID {
			return i
		}
	}
	return -1
}

// Reconcile decides whether incoming creates a row or updates one. When
// incoming has an external id and a stored record shares it, that record (the
// first, if there are duplicates) is overwritten field by field with incoming,
// keeping its own external id and extra columns. Otherwise incoming is
// appended. existing is not modified.
func Reconcile(existing []Record, incoming Record) ([]Record, Outcome) {
	out := make([]Record, len(existing), len(existing)+1)
	copy(out, existing)

	i := IndexByExternalID(existing, incoming.ExternalID)
	if i < 0 {
		return append(out, incoming.clone()), OutcomeCreated
	}

	merged := incoming.clone()
	merged.ExternalID = existing[i].ExternalID
	if merged.Extra == nil {
		merged.Extra = existing[i].clone().Extra
	}
	out[i] = merged
	return out, OutcomeUpdated
}

// AppendAll appends every incoming record without matching, as bulk file
// imports always create. existing is not modified.
func AppendAll(existing []Record, incoming ...Record) []Record {
	out := make([]Record, 0, len(existing)+len(incoming))
	out = append(out, existing...)
	for _, r := range incoming {
		out = append(out, r.clone())
	}
	return out
}
