package catalog

import (
	"context"
	"time"
)

// Store is the persistence contract consumed by the crawl engine. The
// store and marker tables double as the resumption log: a restart resumes
// using only DomainMarked and StoreExists checks.
type Store interface {
	StoreExists(ctx context.Context, storeID string) (bool, error)
	DomainMarked(ctx context.Context, domain string) (bool, error)
	SaveStore(ctx context.Context, domain, storeID, partialURL string, record StoreRecord) error
	MarkDomainComplete(ctx context.Context, domain string, storeCount int) error
}

// API exposes the partner-network read operations used by the engine.
type API interface {
	// ListDomains fetches the full supported-domain list. Best-effort
	// all-or-nothing: an error means "nothing to do" for the caller.
	ListDomains(ctx context.Context) ([]string, error)

	// ResolveStoreMappings returns the candidate stores for a domain. An
	// empty slice with a nil error means the domain maps to nothing; a
	// non-nil error means the lookup could not be completed.
	ResolveStoreMappings(ctx context.Context, domain string) ([]StoreMapping, error)

	// FetchStoreDetail returns the detailed record for one store, or an
	// error when retries are exhausted or the response is unusable.
	FetchStoreDetail(ctx context.Context, storeID string) (StoreRecord, error)
}

// Publisher pushes store-saved events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// BlobStore writes raw payload artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}
