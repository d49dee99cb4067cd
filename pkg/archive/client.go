package archive

import "context"

// Client is the contract the engine needs from the imaging archive:
// metadata lookup, instance enumeration, raw object retrieval, remote
// store, and the changes feed. The archive's own storage and query
// semantics are not modeled here.
type Client interface {
	// Study returns study-level metadata, including the patient tags
	// the archive denormalizes onto the study.
	Study(ctx context.Context, id string) (*Study, error)

	// Series returns series-level metadata.
	Series(ctx context.Context, id string) (*Series, error)

	// SeriesInstances enumerates the instances belonging to a series,
	// including the per-instance metadata used to name stored objects.
	SeriesInstances(ctx context.Context, seriesID string) ([]Instance, error)

	// InstanceFile returns the raw stored object, unmodified.
	InstanceFile(ctx context.Context, id string) ([]byte, error)

	// Store pushes resources to the named remote modality.
	Store(ctx context.Context, modality string, req StoreRequest) error

	// Changes returns the next page of the archive's change feed
	// after the given sequence number.
	Changes(ctx context.Context, since int64, limit int) (*ChangeBatch, error)
}
