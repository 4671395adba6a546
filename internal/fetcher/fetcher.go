package fetcher

import (
	"context"

	"market-intel/internal/market"
)

// SoldItemsSource retrieves recently sold items comparable to a query. It must
// fail rather than return partial results when the transport or payload is bad,
// so callers can tell "no comparable sales" from "source unreachable".
type SoldItemsSource interface {
	SearchSoldItems(ctx context.Context, query string, limit int) ([]market.SoldItem, error)
}

// ReferenceLinker is implemented by sources that can link to the search they ran.
type ReferenceLinker interface {
	SearchURL(query string, limit int) string
}
