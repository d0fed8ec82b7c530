package patient

import "context"

// Version identifies the on-disk state a Snapshot was read from.
type Version string

// Snapshot is the full patient table as of one Load.
type Snapshot struct {
	Records []Record
	Version Version
}

// Store owns the persisted patient table. Callers load the whole table,
// change their copy and save the whole table back.
type Store interface {
	// Load reads every record. It fails with ErrStoreUnavailable when the
	// table is missing or unparsable.
	Load(ctx context.Context) (*Snapshot, error)
	// Save replaces the table with records, provided it is still at version
	// expected; otherwise it fails with ErrConcurrentModification. It returns
	// the new version.
	Save(ctx context.Context, records []Record, expected Version) (Version, error)
}
