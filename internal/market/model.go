package market

import (
	"time"

	"github.com/shopspring/decimal"
)

// SoldItem is one comparable sale returned by a sold-items source. It is only
// used while estimating and is never persisted.
type SoldItem struct {
	Title      string          `json:"title"`
	Price      decimal.Decimal `json:"price"`
	SoldDate   time.Time       `json:"sold_date"`
	SourceLink string          `json:"source_link,omitempty"`
	Condition  string          `json:"condition,omitempty"`
}

// Snapshot is the market reference computed for a catalog item at one point
// in time. It is always replaced as a whole.
type Snapshot struct {
	LastCheckedAt    time.Time       `json:"last_checked_at"`
	AverageSoldPrice decimal.Decimal `json:"average_sold_price"`
	LastSoldDate     *time.Time      `json:"last_sold_date,omitempty"`
	SuggestedPrice   decimal.Decimal `json:"suggested_price"`
	ReferenceLink    string          `json:"reference_link,omitempty"`
	SampleSize       int             `json:"sample_size"`
}

// HasSales reports whether the snapshot was computed from at least one sale.
func (s Snapshot) HasSales() bool {
	return s.SampleSize > 0
}

// FlagStatus is the qualitative price classification.
type FlagStatus string

const (
	FlagOverpriced  FlagStatus = "overpriced"
	FlagUnderpriced FlagStatus = "underpriced"
	FlagCompetitive FlagStatus = "competitive"
	FlagUnknown     FlagStatus = "unknown"
)

// PriceFlag compares a current price with the market average.
type PriceFlag struct {
	Status     FlagStatus `json:"status"`
	Percentage int64      `json:"percentage"`
}

// CatalogItemRef is the slice of a catalog item the engine reads.
type CatalogItemRef struct {
	ID           string
	Title        string
	CurrentPrice decimal.Decimal
	Snapshot     *Snapshot
}

// OutcomeStatus is the terminal state of one item in a batch run.
type OutcomeStatus string

const (
	OutcomeSucceeded    OutcomeStatus = "succeeded"
	OutcomeFailed       OutcomeStatus = "failed"
	OutcomeNotAttempted OutcomeStatus = "not_attempted"
)

// Outcome is the per-item result of a batch reconciliation.
type Outcome struct {
	ItemID    string        `json:"item_id"`
	Status    OutcomeStatus `json:"status"`
	Refreshed bool          `json:"refreshed"`
	Snapshot  *Snapshot     `json:"snapshot,omitempty"`
	Flag      *PriceFlag    `json:"flag,omitempty"`
	Error     string        `json:"error,omitempty"`
}

// Success reports whether the outcome carries a snapshot.
func (o Outcome) Success() bool {
	return o.Status == OutcomeSucceeded
}

// Report aggregates a batch run. Outcomes has the same order as the input ids.
type Report struct {
	RunID        string    `json:"run_id"`
	StartedAt    time.Time `json:"started_at"`
	FinishedAt   time.Time `json:"finished_at"`
	Outcomes     []Outcome `json:"outcomes"`
	Succeeded    int       `json:"succeeded"`
	Failed       int       `json:"failed"`
	NotAttempted int       `json:"not_attempted"`
	Refreshed    int       `json:"refreshed"`
	Cancelled    bool      `json:"cancelled"`
}

// Tally recomputes the per-status counters from Outcomes.
func (r *Report) Tally() {
	r.Succeeded, r.Failed, r.NotAttempted, r.Refreshed = 0, 0, 0, 0
	for _, o := range r.Outcomes {
		switch o.Status {
		case OutcomeSucceeded:
			r.Succeeded++
		case OutcomeFailed:
			r.Failed++
		default:
			r.NotAttempted++
		}
		if o.Refreshed {
			r.Refreshed++
		}
	}
}
