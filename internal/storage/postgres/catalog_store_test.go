package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dealhound/catalog-crawler/internal/catalog"
)

type fixedClock struct {
	now time.Time
}

func (c fixedClock) Now() time.Time {
	return c.now
}

// anyArgs returns n pgxmock.AnyArg() placeholders; pgxmock (unlike
// go-sqlmock) has no "skip argument checking" mode when WithArgs is omitted.
func anyArgs(n int) []interface{} {
	args := make([]interface{}, n)
	for i := range args {
		args[i] = pgxmock.AnyArg()
	}
	return args
}

func newMockedStore(t *testing.T) (*CatalogStore, pgxmock.PgxPoolIface, time.Time) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	now := time.Unix(1700000000, 0).UTC()
	store, err := NewCatalogStoreWithPool(mock, fixedClock{now: now}, zap.NewNop())
	require.NoError(t, err)
	return store, mock, now
}

func TestCatalogStore_SaveStore(t *testing.T) {
	t.Parallel()

	store, mock, _ := newMockedStore(t)

	record := catalog.StoreRecord{
		StoreID: "s1",
		Name:    "Store One",
		Country: "US",
		Coupons: []catalog.CouponRecord{
			{Code: "SAVE10", Rank: 1},
			{Code: "FREESHIP", Rank: 2},
		},
		PartialURLs: []catalog.PartialURLRecord{
			{Domain: "shoes.com", PartialURL: "shoes.com/shop"},
		},
		Raw: json.RawMessage(`{"id":"s1"}`),
	}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO stores").
		WithArgs(anyArgs(30)...).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("DELETE FROM coupons").
		WithArgs("s1").
		WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectExec("INSERT INTO coupons").
		WithArgs(anyArgs(17)...).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO coupons").
		WithArgs(anyArgs(17)...).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("DELETE FROM partial_urls").
		WithArgs("s1").
		WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectExec("INSERT INTO partial_urls").
		WithArgs("s1", "shoes.com", "shoes.com/shop").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	err := store.SaveStore(context.Background(), "shoes.com", "s1", "shoes.com/shop", record)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCatalogStore_SaveStore_RollsBackOnFailure(t *testing.T) {
	t.Parallel()

	store, mock, _ := newMockedStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO stores").
		WithArgs(anyArgs(30)...).
		WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	err := store.SaveStore(context.Background(), "shoes.com", "s1", "shoes.com/shop", catalog.StoreRecord{StoreID: "s1"})
	require.ErrorContains(t, err, "upsert store")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCatalogStore_StoreExists(t *testing.T) {
	t.Parallel()

	store, mock, _ := newMockedStore(t)

	mock.ExpectQuery("SELECT 1 FROM stores").
		WithArgs("s1").
		WillReturnRows(pgxmock.NewRows([]string{"?column?"}).AddRow(1))
	mock.ExpectQuery("SELECT 1 FROM stores").
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	exists, err := store.StoreExists(context.Background(), "s1")
	require.NoError(t, err)
	require.True(t, exists)

	exists, err = store.StoreExists(context.Background(), "missing")
	require.NoError(t, err)
	require.False(t, exists)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCatalogStore_DomainMarked(t *testing.T) {
	t.Parallel()

	store, mock, _ := newMockedStore(t)

	mock.ExpectQuery("SELECT 1 FROM scraped_domains").
		WithArgs("a.com").
		WillReturnRows(pgxmock.NewRows([]string{"?column?"}).AddRow(1))
	mock.ExpectQuery("SELECT 1 FROM scraped_domains").
		WithArgs("b.com").
		WillReturnError(pgx.ErrNoRows)

	marked, err := store.DomainMarked(context.Background(), "a.com")
	require.NoError(t, err)
	require.True(t, marked)

	marked, err = store.DomainMarked(context.Background(), "b.com")
	require.NoError(t, err)
	require.False(t, marked)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCatalogStore_MarkDomainComplete(t *testing.T) {
	t.Parallel()

	store, mock, now := newMockedStore(t)

	mock.ExpectExec("INSERT INTO scraped_domains").
		WithArgs("a.com", now, 3).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.MarkDomainComplete(context.Background(), "a.com", 3))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCatalogStore_MarkDomainComplete_ZeroCount(t *testing.T) {
	t.Parallel()

	store, mock, now := newMockedStore(t)

	mock.ExpectExec("INSERT INTO scraped_domains").
		WithArgs("barren.com", now, 0).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.MarkDomainComplete(context.Background(), "barren.com", 0))
	require.NoError(t, mock.ExpectationsWereMet())
}
