package lifecycle

import (
	"time"

	"github.com/shopspring/decimal"
)

// DutchPriceAt computes the linearly interpolated Dutch auction price at
// the given instant, clamped at endPrice as the floor.
func DutchPriceAt(startPrice, endPrice decimal.Decimal, startTime, endTime time.Time, now time.Time) decimal.Decimal {
	if !now.After(startTime) {
		return startPrice
	}
	if !now.Before(endTime) {
		return endPrice
	}

	total := endTime.Sub(startTime).Seconds()
	elapsed := now.Sub(startTime).Seconds()
	if total <= 0 {
		return endPrice
	}

	fraction := decimal.NewFromFloat(elapsed).Div(decimal.NewFromFloat(total))
	price := startPrice.Sub(startPrice.Sub(endPrice).Mul(fraction))

	if price.LessThan(endPrice) {
		return endPrice
	}
	return price
}
