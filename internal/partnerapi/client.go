// Package partnerapi implements the HTTP client for the partner-network
// catalog API: domain enumeration, per-domain store resolution, and
// per-store detail retrieval, every call wrapped by the retry policy.
package partnerapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/dealhound/catalog-crawler/internal/catalog"
)

const (
	defaultBaseURL   = "https://d.joinhoney.com"
	defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36"
	defaultTimeout   = 30 * time.Second

	defaultMaxUserContent   = 3
	defaultSuccessCountHint = 1

	opListDomains   = "supported-domains"
	opResolveStores = "ext_getStorePartialsByDomain"
	opStoreDetail   = "ext_getStoreById"

	storeDetailVersion = "18"
)

// ErrStoreUnavailable is returned when the detail endpoint answered but
// carried no store object for the requested identifier.
var ErrStoreUnavailable = errors.New("store detail unavailable")

// Config captures the transport client knobs.
type Config struct {
	BaseURL          string
	UserAgent        string
	Timeout          time.Duration
	MaxAttempts      int
	BaseDelay        time.Duration
	MaxUserContent   int
	SuccessCountHint int
}

// Client issues GET requests against the partner API. All requests share
// one persistent connection context (cookie reuse) and a fixed client
// identity header.
type Client struct {
	httpClient *http.Client
	baseURL    string
	userAgent  string

	maxUserContent   int
	successCountHint int

	retry  *RetryPolicy
	logger *zap.Logger
}

// New constructs a Client with a cookie-jar-backed HTTP client and a retry
// policy built from cfg.
func New(cfg Config, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	userAgent := cfg.UserAgent
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	maxUGC := cfg.MaxUserContent
	if maxUGC <= 0 {
		maxUGC = defaultMaxUserContent
	}
	successCount := cfg.SuccessCountHint
	if successCount <= 0 {
		successCount = defaultSuccessCountHint
	}
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}
	return &Client{
		httpClient: &http.Client{
			Jar:     jar,
			Timeout: timeout,
		},
		baseURL:          baseURL,
		userAgent:        userAgent,
		maxUserContent:   maxUGC,
		successCountHint: successCount,
		retry:            NewRetryPolicy(cfg.MaxAttempts, cfg.BaseDelay, logger),
		logger:           logger,
	}, nil
}

// SetDelay updates the retry policy's base delay for the active and future
// runs. Negative values and values above 10s are rejected.
func (c *Client) SetDelay(d time.Duration) error {
	return c.retry.SetBaseDelay(d)
}

// Delay returns the current base delay.
func (c *Client) Delay() time.Duration {
	return c.retry.BaseDelay()
}

// ListDomains fetches the full supported-domain list in one unwrapped
// request. The caller treats a failure as "nothing to do".
func (c *Client) ListDomains(ctx context.Context) ([]string, error) {
	endpoint := c.baseURL + "/v2/stores/partials/supported-domains"
	c.logger.Info("fetching supported domains", zap.String("url", endpoint))

	var domains []string
	if err := c.getJSON(ctx, endpoint, &domains); err != nil {
		return nil, fmt.Errorf("%s: %w", opListDomains, err)
	}
	c.logger.Info("supported domains fetched", zap.Int("count", len(domains)))
	return domains, nil
}

// ResolveStoreMappings returns the candidate stores for a domain. An empty
// slice with a nil error means the domain maps to nothing; an error means
// the lookup failed after retries.
func (c *Client) ResolveStoreMappings(ctx context.Context, domain string) ([]catalog.StoreMapping, error) {
	variables, err := json.Marshal(map[string]string{"domain": domain})
	if err != nil {
		return nil, fmt.Errorf("marshal variables: %w", err)
	}
	query := url.Values{}
	query.Set("operationName", opResolveStores)
	query.Set("variables", string(variables))
	endpoint := c.baseURL + "/v3?" + query.Encode()

	var envelope struct {
		Data struct {
			Mappings []catalog.StoreMapping `json:"getPartialURLsByDomain"`
		} `json:"data"`
	}
	err = c.retry.Do(ctx, opResolveStores, func(ctx context.Context) error {
		return c.getJSON(ctx, endpoint, &envelope)
	})
	if err != nil {
		return nil, err
	}
	return envelope.Data.Mappings, nil
}

// FetchStoreDetail returns the detailed record for one store, retaining the
// raw payload verbatim for lossless re-export.
func (c *Client) FetchStoreDetail(ctx context.Context, storeID string) (catalog.StoreRecord, error) {
	variables, err := json.Marshal(map[string]any{
		"storeId":      storeID,
		"maxUGC":       c.maxUserContent,
		"successCount": c.successCountHint,
	})
	if err != nil {
		return catalog.StoreRecord{}, fmt.Errorf("marshal variables: %w", err)
	}
	query := url.Values{}
	query.Set("operationName", opStoreDetail)
	query.Set("operationVersion", storeDetailVersion)
	query.Set("variables", string(variables))
	endpoint := c.baseURL + "/v3?" + query.Encode()

	var envelope struct {
		Data struct {
			Store json.RawMessage `json:"getStoreById"`
		} `json:"data"`
	}
	err = c.retry.Do(ctx, opStoreDetail, func(ctx context.Context) error {
		return c.getJSON(ctx, endpoint, &envelope)
	})
	if err != nil {
		return catalog.StoreRecord{}, err
	}
	if len(envelope.Data.Store) == 0 || string(envelope.Data.Store) == "null" {
		return catalog.StoreRecord{}, fmt.Errorf("%s %q: %w", opStoreDetail, storeID, ErrStoreUnavailable)
	}

	var record catalog.StoreRecord
	if err := json.Unmarshal(envelope.Data.Store, &record); err != nil {
		return catalog.StoreRecord{}, fmt.Errorf("decode store %q: %w", storeID, err)
	}
	if record.StoreID == "" {
		record.StoreID = storeID
	}
	record.Raw = append(json.RawMessage(nil), envelope.Data.Store...)
	return record, nil
}

// getJSON performs one GET and decodes the body, converting failures into
// the error taxonomy the retry policy understands.
func (c *Client) getJSON(ctx context.Context, endpoint string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			c.logger.Debug("close response body", zap.Error(cerr))
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// Drain so the connection can be reused.
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return &statusError{code: resp.StatusCode}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &decodeError{err: err}
	}
	return nil
}
