// Package postgres provides the Postgres-backed persistence for the crawl
// engine. The store, coupon, partial-URL, and progress-marker tables double
// as the resumption log: no separate write-ahead log exists.
//
// It assumes a table schema like:
//
//	CREATE TABLE stores (
//		store_id TEXT PRIMARY KEY,
//		domain TEXT,
//		partial_url TEXT,
//		name TEXT,
//		label TEXT,
//		country TEXT,
//		url TEXT,
//		logo_url TEXT,
//		active BOOLEAN,
//		supported BOOLEAN,
//		support_stage TEXT,
//		created BIGINT,
//		updated BIGINT,
//		checked BIGINT,
//		score BIGINT,
//		shoppers_24h BIGINT,
//		shoppers_30d BIGINT,
//		shoppers_change BIGINT,
//		num_savings_24h BIGINT,
//		num_savings_30d BIGINT,
//		avg_savings_24h DOUBLE PRECISION,
//		avg_savings_30d DOUBLE PRECISION,
//		metadata JSONB,
//		affiliate_url TEXT,
//		affiliate_restrictions TEXT,
//		ugc_allowed BOOLEAN,
//		free_shipping_threshold DOUBLE PRECISION,
//		force_js_redirect BOOLEAN,
//		launchpad_pathname TEXT,
//		raw_json JSONB
//	);
//
//	CREATE TABLE coupons (
//		id BIGSERIAL PRIMARY KEY,
//		store_id TEXT REFERENCES stores (store_id),
//		code TEXT,
//		deal_id TEXT,
//		description TEXT,
//		created BIGINT,
//		expires BIGINT,
//		exclusive BOOLEAN,
//		hidden BOOLEAN,
//		restrictions TEXT,
//		rank BIGINT,
//		applied_acc_count BIGINT,
//		applied_acc_last_ts BIGINT,
//		applied_acc_last_discount DOUBLE PRECISION,
//		url TEXT,
//		meta_json JSONB,
//		sources_json JSONB,
//		tags_json JSONB
//	);
//
//	CREATE TABLE partial_urls (
//		id BIGSERIAL PRIMARY KEY,
//		store_id TEXT REFERENCES stores (store_id),
//		domain TEXT,
//		partial_url TEXT
//	);
//
//	CREATE TABLE scraped_domains (
//		domain TEXT PRIMARY KEY,
//		scraped_at TIMESTAMPTZ,
//		store_count INTEGER
//	);
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/dealhound/catalog-crawler/internal/catalog"
)

// CatalogStoreConfig controls the Postgres connection pool.
type CatalogStoreConfig struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pgxPool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// CatalogStore implements catalog.Store on Postgres.
type CatalogStore struct {
	pool   pgxPool
	clock  catalog.Clock
	logger *zap.Logger
}

// NewCatalogStore connects a Postgres-backed store using the provided config.
func NewCatalogStore(
	ctx context.Context,
	cfg CatalogStoreConfig,
	clock catalog.Clock,
	logger *zap.Logger,
) (*CatalogStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return newCatalogStore(pool, clock, logger)
}

// NewCatalogStoreWithPool constructs a store from an existing pool
// (primarily for testing).
func NewCatalogStoreWithPool(pool pgxPool, clock catalog.Clock, logger *zap.Logger) (*CatalogStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return newCatalogStore(pool, clock, logger)
}

func newCatalogStore(pool pgxPool, clock catalog.Clock, logger *zap.Logger) (*CatalogStore, error) {
	if clock == nil {
		return nil, fmt.Errorf("clock is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CatalogStore{pool: pool, clock: clock, logger: logger}, nil
}

// Close releases the underlying pool resources.
func (s *CatalogStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// StoreExists reports whether a store row has already been persisted.
func (s *CatalogStore) StoreExists(ctx context.Context, storeID string) (bool, error) {
	var one int
	err := s.pool.QueryRow(ctx, `SELECT 1 FROM stores WHERE store_id = $1`, storeID).Scan(&one)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("store exists lookup: %w", err)
	}
	return true, nil
}

// DomainMarked reports whether a domain has a progress marker.
func (s *CatalogStore) DomainMarked(ctx context.Context, domain string) (bool, error) {
	var one int
	err := s.pool.QueryRow(ctx, `SELECT 1 FROM scraped_domains WHERE domain = $1`, domain).Scan(&one)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("domain marker lookup: %w", err)
	}
	return true, nil
}

const upsertStoreSQL = `
INSERT INTO stores (
	store_id, domain, partial_url, name, label, country, url, logo_url,
	active, supported, support_stage, created, updated, checked, score,
	shoppers_24h, shoppers_30d, shoppers_change, num_savings_24h, num_savings_30d,
	avg_savings_24h, avg_savings_30d, metadata, affiliate_url, affiliate_restrictions,
	ugc_allowed, free_shipping_threshold, force_js_redirect, launchpad_pathname, raw_json
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,
	$16,$17,$18,$19,$20,$21,$22,$23,$24,$25,$26,$27,$28,$29,$30
)
ON CONFLICT (store_id) DO UPDATE SET
	domain = EXCLUDED.domain,
	partial_url = EXCLUDED.partial_url,
	name = EXCLUDED.name,
	label = EXCLUDED.label,
	country = EXCLUDED.country,
	url = EXCLUDED.url,
	logo_url = EXCLUDED.logo_url,
	active = EXCLUDED.active,
	supported = EXCLUDED.supported,
	support_stage = EXCLUDED.support_stage,
	created = EXCLUDED.created,
	updated = EXCLUDED.updated,
	checked = EXCLUDED.checked,
	score = EXCLUDED.score,
	shoppers_24h = EXCLUDED.shoppers_24h,
	shoppers_30d = EXCLUDED.shoppers_30d,
	shoppers_change = EXCLUDED.shoppers_change,
	num_savings_24h = EXCLUDED.num_savings_24h,
	num_savings_30d = EXCLUDED.num_savings_30d,
	avg_savings_24h = EXCLUDED.avg_savings_24h,
	avg_savings_30d = EXCLUDED.avg_savings_30d,
	metadata = EXCLUDED.metadata,
	affiliate_url = EXCLUDED.affiliate_url,
	affiliate_restrictions = EXCLUDED.affiliate_restrictions,
	ugc_allowed = EXCLUDED.ugc_allowed,
	free_shipping_threshold = EXCLUDED.free_shipping_threshold,
	force_js_redirect = EXCLUDED.force_js_redirect,
	launchpad_pathname = EXCLUDED.launchpad_pathname,
	raw_json = EXCLUDED.raw_json`

const insertCouponSQL = `
INSERT INTO coupons (
	store_id, code, deal_id, description, created, expires,
	exclusive, hidden, restrictions, rank, applied_acc_count,
	applied_acc_last_ts, applied_acc_last_discount, url,
	meta_json, sources_json, tags_json
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17
)`

const insertPartialURLSQL = `
INSERT INTO partial_urls (store_id, domain, partial_url)
VALUES ($1, $2, $3)`

// SaveStore upserts the store row and atomically replaces its coupon and
// partial-url child rows in one transaction. Any failure rolls the whole
// save back.
func (s *CatalogStore) SaveStore(
	ctx context.Context,
	domain, storeID, partialURL string,
	record catalog.StoreRecord,
) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin save: %w", err)
	}
	defer func() {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			s.logger.Warn("rollback failed", zap.String("store_id", storeID), zap.Error(rbErr))
		}
	}()

	if _, err := tx.Exec(ctx, upsertStoreSQL,
		storeID, domain, partialURL, record.Name, record.Label, record.Country,
		record.URL, record.LogoURL, record.Active, record.Supported, record.SupportStage,
		record.Created, record.Updated, record.Checked, record.Score,
		record.Shoppers24h, record.Shoppers30d, record.ShoppersChange,
		record.NumSavings24h, record.NumSavings30d,
		record.AvgSavings24h, record.AvgSavings30d,
		rawOrNil(record.Metadata), record.AffiliateURL, record.AffiliateRestrictions,
		record.UGCAllowed, record.FreeShippingThreshold, record.ForceJSRedirect,
		record.LaunchpadPathname, rawOrNil(record.Raw),
	); err != nil {
		return fmt.Errorf("upsert store %q: %w", storeID, err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM coupons WHERE store_id = $1`, storeID); err != nil {
		return fmt.Errorf("delete coupons for %q: %w", storeID, err)
	}
	for _, coupon := range record.Coupons {
		if _, err := tx.Exec(ctx, insertCouponSQL,
			storeID, coupon.Code, coupon.DealID, coupon.Description,
			coupon.Created, coupon.Expires, coupon.Exclusive, coupon.Hidden,
			coupon.Restrictions, coupon.Rank, coupon.AppliedCount,
			coupon.AppliedLastTS, coupon.AppliedLastDiscount, coupon.URL,
			rawOrNil(coupon.Meta), rawOrNil(coupon.Sources), rawOrNil(coupon.Tags),
		); err != nil {
			return fmt.Errorf("insert coupon for %q: %w", storeID, err)
		}
	}

	if _, err := tx.Exec(ctx, `DELETE FROM partial_urls WHERE store_id = $1`, storeID); err != nil {
		return fmt.Errorf("delete partial urls for %q: %w", storeID, err)
	}
	for _, pu := range record.PartialURLs {
		if _, err := tx.Exec(ctx, insertPartialURLSQL, storeID, pu.Domain, pu.PartialURL); err != nil {
			return fmt.Errorf("insert partial url for %q: %w", storeID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit save for %q: %w", storeID, err)
	}
	return nil
}

// MarkDomainComplete upserts the progress marker for a domain. A store
// count of zero is valid: checked, nothing found.
func (s *CatalogStore) MarkDomainComplete(ctx context.Context, domain string, storeCount int) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO scraped_domains (domain, scraped_at, store_count)
VALUES ($1, $2, $3)
ON CONFLICT (domain) DO UPDATE SET
	scraped_at = EXCLUDED.scraped_at,
	store_count = EXCLUDED.store_count`,
		domain, s.clock.Now(), storeCount,
	)
	if err != nil {
		return fmt.Errorf("mark domain %q complete: %w", domain, err)
	}
	return nil
}

func rawOrNil(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}
