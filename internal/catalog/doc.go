// Package catalog defines the core types and contracts for the merchant
// catalog crawl engine: domains, store records, coupons, progress markers,
// and the small interfaces its collaborators implement.
package catalog
