package catalog

import (
	"encoding/json"
	"time"
)

// StoreMapping associates a merchant domain with one candidate store.
// A domain may resolve to zero, one, or many mappings (multi-region or
// multi-brand domains).
type StoreMapping struct {
	StoreID    string `json:"storeId"`
	PartialURL string `json:"partialURL"`
}

// StoreRecord is the detailed record for one store as returned by the
// partner API. It is immutable once written except for whole-record
// overwrite on re-fetch; coupon and partial-URL children are replaced
// wholesale alongside it.
type StoreRecord struct {
	StoreID string `json:"id"`
	Name    string `json:"name"`
	Label   string `json:"label"`
	Country string `json:"country"`
	URL     string `json:"url"`
	LogoURL string `json:"logoUrl"`

	Active       bool   `json:"active"`
	Supported    bool   `json:"supported"`
	SupportStage string `json:"supportStage"`

	// Millisecond epoch timestamps, as delivered by the API.
	Created int64 `json:"created"`
	Updated int64 `json:"updated"`
	Checked int64 `json:"checked"`

	Score          int64   `json:"score"`
	Shoppers24h    int64   `json:"shoppers24h"`
	Shoppers30d    int64   `json:"shoppers30d"`
	ShoppersChange int64   `json:"shoppersChange"`
	NumSavings24h  int64   `json:"numSavings24h"`
	NumSavings30d  int64   `json:"numSavings30d"`
	AvgSavings24h  float64 `json:"avgSavings24h"`
	AvgSavings30d  float64 `json:"avgSavings30d"`

	AffiliateURL          string  `json:"affiliateURL"`
	AffiliateRestrictions string  `json:"affiliateRestrictions"`
	UGCAllowed            bool    `json:"ugcAllowed"`
	FreeShippingThreshold float64 `json:"freeShippingThreshold"`
	ForceJSRedirect       bool    `json:"forceJsRedirect"`
	LaunchpadPathname     string  `json:"launchpadPathname"`

	// Metadata is an opaque blob preserved verbatim.
	Metadata json.RawMessage `json:"metadata,omitempty"`

	Coupons     []CouponRecord     `json:"publicCoupons,omitempty"`
	PartialURLs []PartialURLRecord `json:"partialUrls,omitempty"`

	// Raw retains the full original detail response for lossless re-export.
	Raw json.RawMessage `json:"-"`
}

// CouponRecord belongs to exactly one StoreRecord. Coupons for a store are
// replaced wholesale on each re-fetch, never merged field-by-field.
type CouponRecord struct {
	Code         string `json:"code"`
	DealID       string `json:"dealId"`
	Description  string `json:"description"`
	Created      int64  `json:"created"`
	Expires      int64  `json:"expires"`
	Exclusive    bool   `json:"exclusive"`
	Hidden       bool   `json:"hidden"`
	Restrictions string `json:"restrictions"`
	Rank         int64  `json:"rank"`

	AppliedCount        int64   `json:"applied_acc_count"`
	AppliedLastTS       int64   `json:"applied_acc_last_ts"`
	AppliedLastDiscount float64 `json:"applied_acc_last_discount"`

	URL string `json:"url"`

	// Opaque nested blobs preserved verbatim.
	Meta    json.RawMessage `json:"meta,omitempty"`
	Sources json.RawMessage `json:"sources,omitempty"`
	Tags    json.RawMessage `json:"tags,omitempty"`
}

// PartialURLRecord is a (domain, partial URL) pair associated with a store.
type PartialURLRecord struct {
	Domain     string `json:"domain"`
	PartialURL string `json:"partialURL"`
}

// DomainProgress marks one domain whose enumeration-and-fetch cycle has
// completed. Its presence is the sole signal used to skip the domain on
// resumption. A store count of zero is valid and meaningful: checked,
// nothing found.
type DomainProgress struct {
	Domain     string    `json:"domain"`
	ScrapedAt  time.Time `json:"scraped_at"`
	StoreCount int       `json:"store_count"`
}

// Status is a point-in-time snapshot of the crawl engine, safe to hand to
// external observers.
type Status struct {
	Running           bool       `json:"running"`
	Mode              string     `json:"mode"`
	CurrentDomain     string     `json:"current_domain"`
	DomainsProcessed  int        `json:"domains_processed"`
	TotalDomains      int        `json:"total_domains"`
	DomainsSkipped    int        `json:"domains_skipped"`
	StoresSaved       int        `json:"stores_saved"`
	Errors            int        `json:"errors"`
	ConsecutiveErrors int        `json:"consecutive_errors"`
	LastError         string     `json:"last_error,omitempty"`
	StartedAt         *time.Time `json:"started_at,omitempty"`
	StopRequested     bool       `json:"stop_requested"`
}

// StoreEvent is published after each successful store save when an event
// topic is configured.
type StoreEvent struct {
	EventID     string    `json:"event_id"`
	Domain      string    `json:"domain"`
	StoreID     string    `json:"store_id"`
	StoreName   string    `json:"store_name"`
	Country     string    `json:"country"`
	CouponCount int       `json:"coupon_count"`
	SavedAt     time.Time `json:"saved_at"`
}
