// Package metrics derives the daily P&L series, portfolio aggregates and
// trading-pattern statistics from closed lots.
package metrics

import (
	"time"

	"github.com/shopspring/decimal"

	"journal/internal/domain"
)

const moneyPlaces = 2

// CloseDate returns the calendar day a lot closed on in loc.
func CloseDate(lot domain.ClosedLot, loc *time.Location) domain.Date {
	return domain.DateOf(lot.ClosedAt.In(loc))
}

type dayBucket struct {
	pnl  decimal.Decimal
	lots int
}

// DailySeries buckets lots by close date in loc and returns one record for
// every calendar day between the first and last close, inclusive. Days
// without closes carry the previous cumulative value.
func DailySeries(lots []domain.ClosedLot, loc *time.Location) []domain.DailyPnL {
	if len(lots) == 0 {
		return []domain.DailyPnL{}
	}

	buckets := make(map[domain.Date]*dayBucket)
	var first, last domain.Date
	for i, lot := range lots {
		d := CloseDate(lot, loc)
		if i == 0 || d.Before(first) {
			first = d
		}
		if i == 0 || d.After(last) {
			last = d
		}
		b, ok := buckets[d]
		if !ok {
			b = &dayBucket{pnl: decimal.Zero}
			buckets[d] = b
		}
		b.pnl = b.pnl.Add(lot.RealizedPnL)
		b.lots++
	}

	series := make([]domain.DailyPnL, 0, first.DaysUntil(last)+1)
	cumulative := decimal.Zero
	for d := first; !d.After(last); d = d.AddDays(1) {
		daily := decimal.Zero
		count := 0
		if b, ok := buckets[d]; ok {
			daily = b.pnl
			count = b.lots
		}
		cumulative = cumulative.Add(daily)
		series = append(series, domain.DailyPnL{
			Date:          d,
			DailyPnL:      daily.Round(moneyPlaces),
			CumulativePnL: cumulative.Round(moneyPlaces),
			LotsClosed:    count,
		})
	}
	return series
}
