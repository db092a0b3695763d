package models

import (
	"fmt"
	"strings"
	"time"
)

// RunType is the closed set of ingestion run types.
type RunType string

const (
	RunFlyers    RunType = "flyers"
	RunOffers    RunType = "offers"
	RunRetailers RunType = "retailers"
	RunProducts  RunType = "products"
	RunAll       RunType = "all"
)

// ParseRunType validates s against the known run types.
func ParseRunType(s string) (RunType, error) {
	switch t := RunType(strings.ToLower(strings.TrimSpace(s))); t {
	case RunFlyers, RunOffers, RunRetailers, RunProducts, RunAll:
		return t, nil
	}
	return "", fmt.Errorf("unknown run type %q", s)
}

// KindSet is the set of record kinds a run ingests.
type KindSet map[Kind]bool

// Has reports whether k is part of the set.
func (s KindSet) Has(k Kind) bool {
	return s[k]
}

// Kinds returns the record kinds a run of type t ingests. Products are
// synthesized from offers, so a products run ingests offers.
func (t RunType) Kinds() KindSet {
	switch t {
	case RunFlyers:
		return KindSet{KindFlyer: true}
	case RunOffers, RunProducts:
		return KindSet{KindOffer: true}
	case RunRetailers:
		return KindSet{KindRetailer: true, KindStore: true}
	default:
		return KindSet{KindRetailer: true, KindFlyer: true, KindOffer: true, KindStore: true}
	}
}

// RunStatus is a run ledger state.
type RunStatus string

const (
	StatusPending   RunStatus = "pending"
	StatusRunning   RunStatus = "running"
	StatusCompleted RunStatus = "completed"
	StatusFailed    RunStatus = "failed"
	StatusCancelled RunStatus = "cancelled"
)

// Terminal reports whether no further transition is allowed from s.
func (s RunStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// ScrapingLog is a run ledger entry.
type ScrapingLog struct {
	ID           string     `json:"id"`
	Type         RunType    `json:"type"`
	Status       RunStatus  `json:"status"`
	StartedAt    time.Time  `json:"startedAt"`
	CompletedAt  *time.Time `json:"completedAt,omitempty"`
	ItemsScraped int        `json:"itemsScraped"`
	Errors       *string    `json:"errors,omitempty"`
	Metadata     *string    `json:"metadata,omitempty"`
}

// RunStats aggregates pipeline outcomes for one run.
type RunStats struct {
	Created int            `json:"created"`
	Updated int            `json:"updated"`
	Failed  int            `json:"failed"`
	ByKind  map[Kind]int   `json:"byKind"`
	Dropped map[string]int `json:"dropped"`
}

// Saved is the number of records that reached storage.
func (s RunStats) Saved() int {
	return s.Created + s.Updated
}

// ScrapeResult holds the fetch-side result of a crawl.
type ScrapeResult struct {
	StartTime    time.Time
	EndTime      time.Time
	RecordCount  int
	ErrorCount   int
	FailedURLs   []string
	ErrorsByType map[string]int
	RetryCount   int
	RequestCount int
	PageCount    int
}

// Totals holds row counts per table.
type Totals struct {
	Retailers int `json:"retailers"`
	Flyers    int `json:"flyers"`
	Offers    int `json:"offers"`
	Products  int `json:"products"`
	Stores    int `json:"stores"`
}
