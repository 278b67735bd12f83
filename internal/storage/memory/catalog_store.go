// Package memory provides in-memory persistence for development and tests.
package memory

import (
	"context"
	"sync"

	"github.com/dealhound/catalog-crawler/internal/catalog"
)

// savedStore keys one persisted store with its crawl context.
type savedStore struct {
	Domain     string
	PartialURL string
	Record     catalog.StoreRecord
}

// CatalogStore implements catalog.Store with mutex-guarded maps.
type CatalogStore struct {
	mu      sync.RWMutex
	stores  map[string]savedStore
	markers map[string]catalog.DomainProgress
	clock   catalog.Clock
}

// NewCatalogStore constructs a CatalogStore.
func NewCatalogStore(clock catalog.Clock) *CatalogStore {
	return &CatalogStore{
		stores:  make(map[string]savedStore),
		markers: make(map[string]catalog.DomainProgress),
		clock:   clock,
	}
}

// StoreExists reports whether a store has been saved.
func (s *CatalogStore) StoreExists(_ context.Context, storeID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.stores[storeID]
	return ok, nil
}

// DomainMarked reports whether a domain has a progress marker.
func (s *CatalogStore) DomainMarked(_ context.Context, domain string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.markers[domain]
	return ok, nil
}

// SaveStore overwrites the store record wholesale, children included.
func (s *CatalogStore) SaveStore(
	_ context.Context,
	domain, storeID, partialURL string,
	record catalog.StoreRecord,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stores[storeID] = savedStore{
		Domain:     domain,
		PartialURL: partialURL,
		Record:     record,
	}
	return nil
}

// MarkDomainComplete upserts the progress marker for a domain.
func (s *CatalogStore) MarkDomainComplete(_ context.Context, domain string, storeCount int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.markers[domain] = catalog.DomainProgress{
		Domain:     domain,
		ScrapedAt:  s.clock.Now(),
		StoreCount: storeCount,
	}
	return nil
}

// Store returns the saved record for a store ID, for test inspection.
func (s *CatalogStore) Store(storeID string) (catalog.StoreRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	saved, ok := s.stores[storeID]
	return saved.Record, ok
}

// Progress returns the progress marker for a domain, for test inspection.
func (s *CatalogStore) Progress(domain string) (catalog.DomainProgress, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	marker, ok := s.markers[domain]
	return marker, ok
}

// StoreCount returns the number of persisted stores.
func (s *CatalogStore) StoreCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.stores)
}
