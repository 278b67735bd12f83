package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dealhound/catalog-crawler/internal/catalog"
)

type fixedClock struct {
	now time.Time
}

func (c fixedClock) Now() time.Time {
	return c.now
}

func TestCatalogStore_SaveAndLookup(t *testing.T) {
	t.Parallel()

	now := time.Unix(1700000000, 0).UTC()
	store := NewCatalogStore(fixedClock{now: now})
	ctx := context.Background()

	exists, err := store.StoreExists(ctx, "s1")
	require.NoError(t, err)
	require.False(t, exists)

	record := catalog.StoreRecord{StoreID: "s1", Name: "Store One"}
	require.NoError(t, store.SaveStore(ctx, "a.com", "s1", "a.com/shop", record))

	exists, err = store.StoreExists(ctx, "s1")
	require.NoError(t, err)
	require.True(t, exists)

	saved, ok := store.Store("s1")
	require.True(t, ok)
	require.Equal(t, "Store One", saved.Name)
	require.Equal(t, 1, store.StoreCount())

	// Re-saving overwrites the record wholesale.
	record.Name = "Store One Rebranded"
	require.NoError(t, store.SaveStore(ctx, "a.com", "s1", "a.com/shop", record))
	saved, ok = store.Store("s1")
	require.True(t, ok)
	require.Equal(t, "Store One Rebranded", saved.Name)
	require.Equal(t, 1, store.StoreCount())
}

func TestCatalogStore_DomainMarkers(t *testing.T) {
	t.Parallel()

	now := time.Unix(1700000000, 0).UTC()
	store := NewCatalogStore(fixedClock{now: now})
	ctx := context.Background()

	marked, err := store.DomainMarked(ctx, "a.com")
	require.NoError(t, err)
	require.False(t, marked)

	require.NoError(t, store.MarkDomainComplete(ctx, "a.com", 0))

	marked, err = store.DomainMarked(ctx, "a.com")
	require.NoError(t, err)
	require.True(t, marked)

	progress, ok := store.Progress("a.com")
	require.True(t, ok)
	require.Equal(t, now, progress.ScrapedAt)
	require.Zero(t, progress.StoreCount)
}

func TestBlobStore_RoundTrip(t *testing.T) {
	t.Parallel()

	blobs := NewBlobStore()
	uri, err := blobs.PutObject(context.Background(), "stores/s1.json", "application/json", []byte(`{"id":"s1"}`))
	require.NoError(t, err)
	require.Equal(t, "memory://stores/s1.json", uri)

	data, ok := blobs.Object("stores/s1.json")
	require.True(t, ok)
	require.JSONEq(t, `{"id":"s1"}`, string(data))
}
