package metrics

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"journal/internal/domain"
)

const winRatePlaces = 4

// weekdayOrder is Monday-first so ties resolve to the earlier trading day.
var weekdayOrder = []time.Weekday{
	time.Monday, time.Tuesday, time.Wednesday, time.Thursday,
	time.Friday, time.Saturday, time.Sunday,
}

// Aggregate computes summary statistics over lots. Weekdays and dates are
// taken from close times in loc. An empty input yields the zero Aggregate
// with every optional field nil.
func Aggregate(lots []domain.ClosedLot, loc *time.Location) domain.Aggregate {
	agg := domain.Aggregate{
		TotalRealizedPnL: decimal.Zero,
		TotalGains:       decimal.Zero,
		TotalLosses:      decimal.Zero,
		WinRate:          decimal.Zero,
	}
	if len(lots) == 0 {
		return agg
	}

	total := decimal.Zero
	gains := decimal.Zero
	losses := decimal.Zero
	bySymbol := make(map[string]decimal.Decimal)
	byWeekday := make(map[time.Weekday]decimal.Decimal)
	executions := make(map[string]struct{})
	var first, last domain.Date

	for i, lot := range lots {
		pnl := lot.RealizedPnL
		total = total.Add(pnl)
		switch {
		case pnl.IsPositive():
			agg.WinningLots++
			gains = gains.Add(pnl)
		case pnl.IsNegative():
			agg.LosingLots++
			losses = losses.Add(pnl)
		}

		bySymbol[lot.Symbol] = bySymbol[lot.Symbol].Add(pnl)

		d := CloseDate(lot, loc)
		byWeekday[d.Weekday()] = byWeekday[d.Weekday()].Add(pnl)
		if i == 0 || d.Before(first) {
			first = d
		}
		if i == 0 || d.After(last) {
			last = d
		}

		if lot.OpenTradeID != "" {
			executions[lot.OpenTradeID] = struct{}{}
		}
		if lot.CloseTradeID != "" {
			executions[lot.CloseTradeID] = struct{}{}
		}
	}

	n := decimal.NewFromInt(int64(len(lots)))
	agg.TotalRealizedPnL = total.Round(moneyPlaces)
	agg.TotalTrades = len(lots)
	agg.TotalExecutions = len(executions)
	agg.TotalGains = gains.Round(moneyPlaces)
	agg.TotalLosses = losses.Round(moneyPlaces)
	agg.WinRate = decimal.NewFromInt(int64(agg.WinningLots)).Div(n).Round(winRatePlaces)

	if agg.WinningLots > 0 {
		agg.AvgGain = ptr(gains.Div(decimal.NewFromInt(int64(agg.WinningLots))).Round(moneyPlaces))
	}
	if agg.LosingLots > 0 {
		agg.AvgLoss = ptr(losses.Div(decimal.NewFromInt(int64(agg.LosingLots))).Round(moneyPlaces))
	}
	if losses.IsNegative() {
		agg.ProfitFactor = ptr(gains.Div(losses.Abs()).Round(moneyPlaces))
	}

	symbols := make([]string, 0, len(bySymbol))
	for s := range bySymbol {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)
	best, worst := extremes(symbols, func(s string) decimal.Decimal { return bySymbol[s] })
	agg.BestSymbol, agg.BestSymbolPnL = ptr(best), ptr(bySymbol[best].Round(moneyPlaces))
	agg.WorstSymbol, agg.WorstSymbolPnL = ptr(worst), ptr(bySymbol[worst].Round(moneyPlaces))

	var days []time.Weekday
	for _, wd := range weekdayOrder {
		if _, ok := byWeekday[wd]; ok {
			days = append(days, wd)
		}
	}
	bestDay, worstDay := extremes(days, func(wd time.Weekday) decimal.Decimal { return byWeekday[wd] })
	agg.BestWeekday, agg.BestWeekdayPnL = ptr(bestDay.String()), ptr(byWeekday[bestDay].Round(moneyPlaces))
	agg.WorstWeekday, agg.WorstWeekdayPnL = ptr(worstDay.String()), ptr(byWeekday[worstDay].Round(moneyPlaces))

	agg.FirstTradeDate = &first
	agg.LastTradeDate = &last
	return agg
}

// extremes returns the keys with the highest and lowest value. The first key
// wins ties. keys must not be empty.
func extremes[K any](keys []K, value func(K) decimal.Decimal) (best, worst K) {
	best, worst = keys[0], keys[0]
	for _, k := range keys[1:] {
		if value(k).GreaterThan(value(best)) {
			best = k
		}
		if value(k).LessThan(value(worst)) {
			worst = k
		}
	}
	return best, worst
}

func ptr[T any](v T) *T {
	return &v
}
