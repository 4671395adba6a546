package pricing

import (
	"github.com/shopspring/decimal"

	"market-intel/internal/market"
)

// CompetitiveBandPct is the inclusive band, in percent, around the market
// average that counts as competitive.
const CompetitiveBandPct = 10

var hundred = decimal.NewFromInt(100)

// Classify compares currentPrice against averageSoldPrice. A zero average
// yields FlagUnknown with a zero percentage.
func Classify(currentPrice, averageSoldPrice decimal.Decimal) market.PriceFlag {
	if averageSoldPrice.Sign() <= 0 {
		return market.PriceFlag{Status: market.FlagUnknown}
	}

	pct := currentPrice.Sub(averageSoldPrice).Mul(hundred).Div(averageSoldPrice).Round(0).IntPart()

	return market.PriceFlag{Status: statusFor(pct), Percentage: pct}
}

// ClassifySnapshot classifies against a snapshot; a missing or empty snapshot
// asserts no comparison.
func ClassifySnapshot(currentPrice decimal.Decimal, snap *market.Snapshot) market.PriceFlag {
	if snap == nil || !snap.HasSales() {
		return market.PriceFlag{Status: market.FlagUnknown}
	}
	return Classify(currentPrice, snap.AverageSoldPrice)
}

func statusFor(pct int64) market.FlagStatus {
	switch {
	case pct > CompetitiveBandPct:
		return market.FlagOverpriced
	case pct < -CompetitiveBandPct:
		return market.FlagUnderpriced
	default:
		return market.FlagCompetitive
	}
}
