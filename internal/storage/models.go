package storage

import (
	"time"

	"github.com/shopspring/decimal"
)

// RunRecord is a persisted summary of one batch reconciliation.
type RunRecord struct {
	ID           string
	Trigger      string
	StartedAt    time.Time
	FinishedAt   time.Time
	Total        int
	Succeeded    int
	Failed       int
	NotAttempted int
	Refreshed    int
	Cancelled    bool
}

// OutcomeRecord is one item outcome of a persisted run, flattened for export.
type OutcomeRecord struct {
	RunID            string
	Position         int
	ItemID           string
	Status           string
	Refreshed        bool
	AverageSoldPrice *decimal.Decimal
	SuggestedPrice   *decimal.Decimal
	SampleSize       *int
	FlagStatus       *string
	FlagPct          *int64
	Error            *string
	CheckedAt        *time.Time
}
