package metrics

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"journal/internal/domain"
)

// quickFlip is the holding time under which a lot counts as a quick flip.
const quickFlip = time.Hour

var leveragedETFs = map[string]bool{
	"TQQQ": true, "SQQQ": true, "UPRO": true, "SPXU": true,
	"TNA": true, "TZA": true, "UDOW": true, "SDOW": true,
}

// SymbolCount is the number of closed lots for one symbol.
type SymbolCount struct {
	Symbol string `json:"symbol"`
	Lots   int    `json:"lots"`
}

// Patterns describes trading behaviour over a set of closed lots. It feeds
// the insight layer and is not part of the summary cards.
type Patterns struct {
	AvgHoldingMinutes        float64 `json:"avg_holding_minutes"`
	AvgHoldingMinutesWinners float64 `json:"avg_holding_minutes_winners"`
	AvgHoldingMinutesLosers  float64 `json:"avg_holding_minutes_losers"`
	QuickFlipRate            float64 `json:"quick_flip_rate"`

	UniqueSymbols      int           `json:"unique_symbols"`
	TopSymbols         []SymbolCount `json:"top_symbols"`
	ConcentrationRatio float64       `json:"concentration_ratio"`
	LeveragedETFRate   float64       `json:"leveraged_etf_pct"`

	CurrentStreak     int `json:"current_streak"`
	LongestWinStreak  int `json:"longest_win_streak"`
	LongestLossStreak int `json:"longest_loss_streak"`

	// Hours are "HH:00-HH:00" and months English names, both taken from the
	// close time in the reporting zone. nil without lots.
	BestHour         *string          `json:"best_hour"`
	BestHourAvgPnL   *decimal.Decimal `json:"best_hour_avg_pnl"`
	WorstHour        *string          `json:"worst_hour"`
	WorstHourAvgPnL  *decimal.Decimal `json:"worst_hour_avg_pnl"`
	BestMonth        *string          `json:"best_month"`
	BestMonthAvgPnL  *decimal.Decimal `json:"best_month_avg_pnl"`
	WorstMonth       *string          `json:"worst_month"`
	WorstMonthAvgPnL *decimal.Decimal `json:"worst_month_avg_pnl"`

	AvgPositionSize    float64 `json:"avg_position_size"`
	PositionSizeStdDev float64 `json:"position_size_std_dev"`
	LargestPosition    float64 `json:"largest_position"`
	SmallestPosition   float64 `json:"smallest_position"`
	SizingConsistency  float64 `json:"sizing_consistency_score"`

	MaxDrawdown     decimal.Decimal `json:"max_drawdown"`
	DailyVolatility float64         `json:"daily_pnl_volatility"`
	LotsPerDay      float64         `json:"lots_per_day"`
}

// AnalyzePatterns computes holding time, concentration, streak, timing,
// sizing and risk statistics. series should be the gap-filled daily series of
// the same lots, built in loc.
func AnalyzePatterns(lots []domain.ClosedLot, series []domain.DailyPnL, loc *time.Location) Patterns {
	p := Patterns{TopSymbols: []SymbolCount{}, MaxDrawdown: decimal.Zero}
	if len(lots) == 0 {
		return p
	}

	holdingTimes(&p, lots)
	concentration(&p, lots)
	streaks(&p, lots)
	timing(&p, lots, loc)
	sizing(&p, lots)
	risk(&p, series)
	if len(series) > 0 {
		p.LotsPerDay = round(float64(len(lots))/float64(len(series)), 1)
	}
	return p
}

func holdingTimes(p *Patterns, lots []domain.ClosedLot) {
	var all, winners, losers []float64
	flips := 0
	for _, lot := range lots {
		held := lot.HoldingTime()
		minutes := held.Minutes()
		all = append(all, minutes)
		switch {
		case lot.RealizedPnL.IsPositive():
			winners = append(winners, minutes)
		case lot.RealizedPnL.IsNegative():
			losers = append(losers, minutes)
		}
		if held < quickFlip {
			flips++
		}
	}
	p.AvgHoldingMinutes = round(mean(all), 1)
	p.AvgHoldingMinutesWinners = round(mean(winners), 1)
	p.AvgHoldingMinutesLosers = round(mean(losers), 1)
	p.QuickFlipRate = round(float64(flips)/float64(len(lots)), 3)
}

func concentration(p *Patterns, lots []domain.ClosedLot) {
	counts := make(map[string]int)
	leveraged := 0
	for _, lot := range lots {
		counts[lot.Symbol]++
		if leveragedETFs[lot.Symbol] {
			leveraged++
		}
	}

	ranked := make([]SymbolCount, 0, len(counts))
	for symbol, n := range counts {
		ranked = append(ranked, SymbolCount{Symbol: symbol, Lots: n})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Lots != ranked[j].Lots {
			return ranked[i].Lots > ranked[j].Lots
		}
		return ranked[i].Symbol < ranked[j].Symbol
	})
	if len(ranked) > 3 {
		ranked = ranked[:3]
	}

	top := 0
	for _, sc := range ranked {
		top += sc.Lots
	}
	p.UniqueSymbols = len(counts)
	p.TopSymbols = ranked
	p.ConcentrationRatio = round(float64(top)/float64(len(lots)), 3)
	p.LeveragedETFRate = round(float64(leveraged)/float64(len(lots)), 3)
}

// streaks walks lots in close order. A breakeven lot resets both streaks.
func streaks(p *Patterns, lots []domain.ClosedLot) {
	ordered := make([]domain.ClosedLot, len(lots))
	copy(ordered, lots)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].ClosedAt.Before(ordered[j].ClosedAt)
	})

	wins, losses := 0, 0
	for _, lot := range ordered {
		switch {
		case lot.RealizedPnL.IsPositive():
			wins++
			losses = 0
			p.CurrentStreak = wins
		case lot.RealizedPnL.IsNegative():
			losses++
			wins = 0
			p.CurrentStreak = -losses
		default:
			wins, losses = 0, 0
			p.CurrentStreak = 0
		}
		p.LongestWinStreak = max(p.LongestWinStreak, wins)
		p.LongestLossStreak = max(p.LongestLossStreak, losses)
	}
}

// timing finds the close hour and month with the highest and lowest average
// lot P&L. Ties go to the earlier hour or month.
func timing(p *Patterns, lots []domain.ClosedLot, loc *time.Location) {
	var hourSum [24]decimal.Decimal
	var hourN [24]int
	var monthSum [13]decimal.Decimal
	var monthN [13]int
	for _, lot := range lots {
		closed := lot.ClosedAt.In(loc)
		h, m := closed.Hour(), int(closed.Month())
		hourSum[h] = hourSum[h].Add(lot.RealizedPnL)
		hourN[h]++
		monthSum[m] = monthSum[m].Add(lot.RealizedPnL)
		monthN[m]++
	}

	avg := func(sum decimal.Decimal, n int) decimal.Decimal {
		return sum.Div(decimal.NewFromInt(int64(n)))
	}

	var hours []int
	for h := 0; h < 24; h++ {
		if hourN[h] > 0 {
			hours = append(hours, h)
		}
	}
	best, worst := extremes(hours, func(h int) decimal.Decimal { return avg(hourSum[h], hourN[h]) })
	p.BestHour, p.BestHourAvgPnL = ptr(hourLabel(best)), ptr(avg(hourSum[best], hourN[best]).Round(moneyPlaces))
	p.WorstHour, p.WorstHourAvgPnL = ptr(hourLabel(worst)), ptr(avg(hourSum[worst], hourN[worst]).Round(moneyPlaces))

	var months []int
	for m := 1; m <= 12; m++ {
		if monthN[m] > 0 {
			months = append(months, m)
		}
	}
	best, worst = extremes(months, func(m int) decimal.Decimal { return avg(monthSum[m], monthN[m]) })
	p.BestMonth, p.BestMonthAvgPnL = ptr(time.Month(best).String()), ptr(avg(monthSum[best], monthN[best]).Round(moneyPlaces))
	p.WorstMonth, p.WorstMonthAvgPnL = ptr(time.Month(worst).String()), ptr(avg(monthSum[worst], monthN[worst]).Round(moneyPlaces))
}

func hourLabel(h int) string {
	return fmt.Sprintf("%02d:00-%02d:00", h, h+1)
}

// sizing describes the closed quantity per lot. The consistency score is
// 1 - stddev/mean clamped to [0, 1].
func sizing(p *Patterns, lots []domain.ClosedLot) {
	sizes := make([]float64, 0, len(lots))
	for _, lot := range lots {
		sizes = append(sizes, lot.Quantity.Abs().InexactFloat64())
	}

	avg, sd := mean(sizes), stddev(sizes)
	p.AvgPositionSize = round(avg, 1)
	p.PositionSizeStdDev = round(sd, 1)
	p.LargestPosition = round(sizes[0], 1)
	p.SmallestPosition = round(sizes[0], 1)
	for _, q := range sizes[1:] {
		p.LargestPosition = max(p.LargestPosition, round(q, 1))
		p.SmallestPosition = min(p.SmallestPosition, round(q, 1))
	}
	if avg > 0 {
		p.SizingConsistency = round(math.Max(0, math.Min(1, 1-sd/avg)), 3)
	}
}

func risk(p *Patterns, series []domain.DailyPnL) {
	if len(series) == 0 {
		return
	}

	peak := series[0].CumulativePnL
	drawdown := decimal.Zero
	daily := make([]float64, 0, len(series))
	for _, day := range series {
		if day.CumulativePnL.GreaterThan(peak) {
			peak = day.CumulativePnL
		}
		if dd := peak.Sub(day.CumulativePnL); dd.GreaterThan(drawdown) {
			drawdown = dd
		}
		daily = append(daily, day.DailyPnL.InexactFloat64())
	}
	p.MaxDrawdown = drawdown.Round(moneyPlaces)
	p.DailyVolatility = round(stddev(daily), 2)
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// stddev is the population standard deviation.
func stddev(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	m := mean(xs)
	variance := 0.0
	for _, x := range xs {
		variance += (x - m) * (x - m)
	}
	return math.Sqrt(variance / float64(len(xs)))
}

func round(x float64, places int) float64 {
	scale := math.Pow(10, float64(places))
	return math.Round(x*scale) / scale
}
