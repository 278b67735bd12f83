// Package engine implements the crawl state machine: domain enumeration,
// per-domain store resolution, per-store detail retrieval, persistence,
// and the consecutive-failure circuit breaker.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dealhound/catalog-crawler/internal/catalog"
	"github.com/dealhound/catalog-crawler/internal/metrics"
)

// ErrAlreadyRunning is returned by Start while a run is active. Only one
// crawl run may be active at a time.
var ErrAlreadyRunning = errors.New("a crawl run is already active")

const defaultBreakerThreshold = 10

// Config controls Engine behavior.
type Config struct {
	// BreakerThreshold is the consecutive-failure count that trips the
	// circuit breaker and halts the run. Defaults to 10.
	BreakerThreshold int

	// EventTopic, when set, enables store-saved event publishing.
	EventTopic string

	// ArchivePrefix is the blob path prefix for raw detail payloads.
	ArchivePrefix string
}

// RunOptions parameterize one crawl invocation.
type RunOptions struct {
	// MaxDomains truncates the enumerated domain list when positive.
	MaxDomains int

	// Resume skips domains with a progress marker and stores already
	// persisted.
	Resume bool
}

// Engine drives the crawl. All network and persistence operations for a
// run execute sequentially on one goroutine; observers read the status
// snapshot through Status. The publisher and blob store collaborators are
// optional and nil-safe.
type Engine struct {
	api       catalog.API
	store     catalog.Store
	publisher catalog.Publisher
	blobs     catalog.BlobStore
	clock     catalog.Clock
	cfg       Config
	logger    *zap.Logger

	mu     sync.Mutex
	status catalog.Status
	wg     sync.WaitGroup
}

// New constructs an Engine. api, store, and clock are required; publisher
// and blobs may be nil.
func New(
	api catalog.API,
	store catalog.Store,
	publisher catalog.Publisher,
	blobs catalog.BlobStore,
	clock catalog.Clock,
	cfg Config,
	logger *zap.Logger,
) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BreakerThreshold <= 0 {
		cfg.BreakerThreshold = defaultBreakerThreshold
	}
	if cfg.ArchivePrefix == "" {
		cfg.ArchivePrefix = "stores"
	}
	return &Engine{
		api:       api,
		store:     store,
		publisher: publisher,
		blobs:     blobs,
		clock:     clock,
		cfg:       cfg,
		logger:    logger,
	}
}

// Status returns a point-in-time copy of the engine state.
func (e *Engine) Status() catalog.Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

// RequestStop raises the cooperative stop flag. Idempotent. The run
// finishes the current item, then halts; nothing is rolled back.
func (e *Engine) RequestStop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.status.StopRequested = true
}

// Start launches the state machine on a background goroutine. It fails
// with ErrAlreadyRunning when a run is active.
func (e *Engine) Start(ctx context.Context, opts RunOptions) error {
	e.mu.Lock()
	if e.status.Running {
		e.mu.Unlock()
		return ErrAlreadyRunning
	}
	now := e.clock.Now()
	e.status = catalog.Status{
		Running:   true,
		Mode:      modeLabel(opts),
		StartedAt: &now,
	}
	e.mu.Unlock()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		metrics.ObserveRun(e.run(ctx, opts))
	}()
	return nil
}

// Wait blocks until the active run, if any, returns.
func (e *Engine) Wait() {
	e.wg.Wait()
}

func modeLabel(opts RunOptions) string {
	scope := "All domains"
	if opts.MaxDomains > 0 {
		scope = fmt.Sprintf("%d domains", opts.MaxDomains)
	}
	if opts.Resume {
		return "Resume - " + scope
	}
	return "Fresh - " + scope
}

// run executes one crawl and returns its final status label: "completed",
// "empty", or "stopped" (operator stop and breaker trip alike).
func (e *Engine) run(ctx context.Context, opts RunOptions) string {
	defer func() {
		e.mu.Lock()
		e.status.Running = false
		e.status.CurrentDomain = ""
		e.status.StopRequested = false
		e.mu.Unlock()
	}()

	e.logger.Info("crawl run starting", zap.String("mode", modeLabel(opts)))

	domains, err := e.api.ListDomains(ctx)
	if err != nil || len(domains) == 0 {
		reason := "no domains found in domain list"
		if err != nil {
			reason = "domain listing failed: " + err.Error()
		}
		e.logger.Warn("nothing to crawl", zap.Error(err))
		e.setLastError(reason)
		return "empty"
	}

	if opts.MaxDomains > 0 && len(domains) > opts.MaxDomains {
		domains = domains[:opts.MaxDomains]
		e.logger.Info("domain list truncated", zap.Int("max_domains", opts.MaxDomains))
	}

	e.mu.Lock()
	e.status.TotalDomains = len(domains)
	e.mu.Unlock()

	for i, domain := range domains {
		if e.stopRequested() {
			e.logger.Warn("stop signal received, halting crawl",
				zap.Int("domains_processed", i),
			)
			break
		}

		e.mu.Lock()
		e.status.CurrentDomain = domain
		e.status.DomainsProcessed = i + 1
		e.mu.Unlock()

		if opts.Resume {
			marked, err := e.store.DomainMarked(ctx, domain)
			if err != nil {
				e.logger.Error("progress lookup failed", zap.String("domain", domain), zap.Error(err))
				e.countError("progress", err)
				continue
			}
			if marked {
				e.mu.Lock()
				e.status.DomainsSkipped++
				e.mu.Unlock()
				continue
			}
		}

		e.processDomain(ctx, domain, opts)
	}

	// The stop flag, not loop exit, decides the outcome: a breaker trip on
	// the final domain never reaches the loop-top check.
	finalStatus := "completed"
	if e.stopRequested() {
		finalStatus = "stopped"
	}

	status := e.Status()
	e.logger.Info("crawl run finished",
		zap.String("status", finalStatus),
		zap.Int("domains_processed", status.DomainsProcessed),
		zap.Int("domains_skipped", status.DomainsSkipped),
		zap.Int("stores_saved", status.StoresSaved),
		zap.Int("errors", status.Errors),
	)
	return finalStatus
}

// processDomain resolves one domain to its stores, fetches and persists
// each, then writes the progress marker. A marker is written only when the
// resolution call itself succeeded: a failed lookup leaves no marker, so a
// later resume re-attempts the whole domain, while already-persisted
// stores are still skipped individually.
func (e *Engine) processDomain(ctx context.Context, domain string, opts RunOptions) {
	e.logger.Info("processing domain", zap.String("domain", domain))

	mappings, err := e.api.ResolveStoreMappings(ctx, domain)
	if err != nil {
		e.logger.Warn("store resolution failed", zap.String("domain", domain), zap.Error(err))
		e.countError("resolve", err)
		e.noteFailure()
		return
	}
	e.noteSuccess()

	if len(mappings) == 0 {
		// Checked, nothing found. The zero-count marker skips this
		// domain on resume.
		e.markComplete(ctx, domain, 0)
		return
	}

	handled := 0
	interrupted := false
	for _, mapping := range mappings {
		if e.stopRequested() {
			interrupted = true
			break
		}

		if opts.Resume {
			exists, err := e.store.StoreExists(ctx, mapping.StoreID)
			if err != nil {
				e.logger.Error("store lookup failed", zap.String("store_id", mapping.StoreID), zap.Error(err))
				e.countError("progress", err)
				continue
			}
			if exists {
				handled++
				continue
			}
		}

		record, err := e.api.FetchStoreDetail(ctx, mapping.StoreID)
		if err != nil {
			e.logger.Warn("store detail fetch failed",
				zap.String("domain", domain),
				zap.String("store_id", mapping.StoreID),
				zap.Error(err),
			)
			e.countError("detail", err)
			e.noteFailure()
			continue
		}
		e.noteSuccess()

		if err := e.store.SaveStore(ctx, domain, mapping.StoreID, mapping.PartialURL, record); err != nil {
			e.logger.Error("store save failed",
				zap.String("store_id", mapping.StoreID),
				zap.Error(err),
			)
			e.countError("save", err)
			continue
		}

		e.mu.Lock()
		e.status.StoresSaved++
		e.mu.Unlock()
		metrics.ObserveStoreSaved()
		handled++

		e.logger.Info("store saved",
			zap.String("domain", domain),
			zap.String("store_id", mapping.StoreID),
			zap.String("name", record.Name),
			zap.String("country", record.Country),
			zap.Int("coupons", len(record.Coupons)),
		)

		e.publishSaved(ctx, domain, mapping.StoreID, record)
		e.archiveRaw(ctx, mapping.StoreID, record)
	}

	// The marker is written only after every mapping was attempted,
	// success or exhausted-retry failure alike. A stop mid-domain leaves
	// no marker, so a resume re-attempts the domain; stores persisted
	// before the stop are skipped individually.
	if interrupted {
		return
	}
	e.markComplete(ctx, domain, handled)
}

func (e *Engine) markComplete(ctx context.Context, domain string, storeCount int) {
	if err := e.store.MarkDomainComplete(ctx, domain, storeCount); err != nil {
		e.logger.Error("progress marker write failed", zap.String("domain", domain), zap.Error(err))
		e.countError("progress", err)
		return
	}
	metrics.ObserveDomainProcessed()
}

func (e *Engine) publishSaved(ctx context.Context, domain, storeID string, record catalog.StoreRecord) {
	if e.publisher == nil || e.cfg.EventTopic == "" {
		return
	}
	event := catalog.StoreEvent{
		EventID:     uuid.NewString(),
		Domain:      domain,
		StoreID:     storeID,
		StoreName:   record.Name,
		Country:     record.Country,
		CouponCount: len(record.Coupons),
		SavedAt:     e.clock.Now(),
	}
	if _, err := e.publisher.Publish(ctx, e.cfg.EventTopic, event); err != nil {
		e.logger.Warn("store event publish failed", zap.String("store_id", storeID), zap.Error(err))
	}
}

func (e *Engine) archiveRaw(ctx context.Context, storeID string, record catalog.StoreRecord) {
	if e.blobs == nil || len(record.Raw) == 0 {
		return
	}
	path := fmt.Sprintf("%s/%s.json", e.cfg.ArchivePrefix, storeID)
	uri, err := e.blobs.PutObject(ctx, path, "application/json", record.Raw)
	if err != nil {
		e.logger.Warn("raw payload archive failed", zap.String("store_id", storeID), zap.Error(err))
		return
	}
	e.logger.Debug("raw payload archived", zap.String("uri", uri))
}

func (e *Engine) stopRequested() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status.StopRequested
}

func (e *Engine) setLastError(msg string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.status.LastError = msg
}

func (e *Engine) countError(stage string, err error) {
	e.mu.Lock()
	e.status.Errors++
	e.status.LastError = err.Error()
	e.mu.Unlock()
	metrics.ObserveCrawlError(stage)
}

// noteFailure feeds the circuit breaker: one more uninterrupted
// network-facing failure. Crossing the threshold raises the same stop
// signal an operator would, so the run stops hammering an endpoint that
// may have started blocking the client.
func (e *Engine) noteFailure() {
	e.mu.Lock()
	e.status.ConsecutiveErrors++
	tripped := e.status.ConsecutiveErrors >= e.cfg.BreakerThreshold && !e.status.StopRequested
	if tripped {
		e.status.StopRequested = true
		e.status.LastError = fmt.Sprintf(
			"circuit breaker: %d consecutive failures, halting to avoid a block",
			e.status.ConsecutiveErrors,
		)
	}
	e.mu.Unlock()

	if tripped {
		e.logger.Error("circuit breaker tripped",
			zap.Int("consecutive_errors", e.cfg.BreakerThreshold),
		)
		metrics.ObserveBreakerTrip()
	}
}

func (e *Engine) noteSuccess() {
	e.mu.Lock()
	e.status.ConsecutiveErrors = 0
	e.mu.Unlock()
}
