package main

import (
	"context"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/shopspring/decimal"

	"journal/internal/domain"
	"journal/internal/fifo"
	"journal/internal/metrics"
	"journal/internal/timeframe"
)

type symbolTotal struct {
	Symbol string
	Lots   int
	PnL    decimal.Decimal
}

type accountPosition struct {
	Account string
	domain.OpenPosition
}

type report struct {
	timeframe timeframe.Timeframe
	bounds    timeframe.Bounds
	loc       *time.Location
	trades    int
	accounts  []string
	lots      []domain.ClosedLot
	aggregate domain.Aggregate
	symbols   []symbolTotal
	positions []accountPosition
	series    []domain.DailyPnL
}

// buildReport matches every account independently and reports over the
// union of their closed lots.
func buildReport(ctx context.Context, trades []domain.Trade, tf timeframe.Timeframe, now time.Time, loc *time.Location, workers int) (*report, error) {
	results, err := fifo.MatchAccounts(ctx, trades, workers)
	if err != nil {
		return nil, err
	}

	rep := &report{timeframe: tf, loc: loc, trades: len(trades)}
	for account := range results {
		rep.accounts = append(rep.accounts, account)
	}
	sort.Strings(rep.accounts)

	// Accounts are visited in name order so equal-instant closes keep a
	// stable order across runs.
	var closed []domain.ClosedLot
	for _, account := range rep.accounts {
		res := results[account]
		closed = append(closed, res.Closed...)
		for _, pos := range fifo.Summarize(res.Open) {
			rep.positions = append(rep.positions, accountPosition{Account: account, OpenPosition: pos})
		}
	}
	sort.SliceStable(closed, func(i, j int) bool {
		return closed[i].ClosedAt.Before(closed[j].ClosedAt)
	})

	bounds, windowed := timeframe.Apply(tf, closed, now, loc)
	rep.bounds = bounds
	rep.lots = windowed
	rep.aggregate = metrics.Aggregate(rep.lots, loc)
	rep.symbols = symbolTotals(rep.lots)
	rep.series = timeframe.FilterSeries(metrics.DailySeries(closed, loc), bounds)
	return rep, nil
}

func symbolTotals(lots []domain.ClosedLot) []symbolTotal {
	bySymbol := make(map[string]*symbolTotal)
	for _, lot := range lots {
		st, ok := bySymbol[lot.Symbol]
		if !ok {
			st = &symbolTotal{Symbol: lot.Symbol}
			bySymbol[lot.Symbol] = st
		}
		st.Lots++
		st.PnL = st.PnL.Add(lot.RealizedPnL)
	}

	out := make([]symbolTotal, 0, len(bySymbol))
	for _, st := range bySymbol {
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].PnL.Equal(out[j].PnL) {
			return out[i].PnL.GreaterThan(out[j].PnL)
		}
		return out[i].Symbol < out[j].Symbol
	})
	return out
}

func (r *report) render(w io.Writer, withSeries bool) {
	fmt.Fprintf(w, "\nTimeframe %s (%s) | %d trades | accounts: %v\n", r.timeframe, r.window(), r.trades, r.accounts)

	a := r.aggregate
	summary := tablewriter.NewWriter(w)
	summary.Header("Metric", "Value")
	summary.Append("Realized P&L", money(a.TotalRealizedPnL))
	summary.Append("Closed lots", fmt.Sprintf("%d", a.TotalTrades))
	summary.Append("Executions", fmt.Sprintf("%d", a.TotalExecutions))
	summary.Append("Win rate", a.WinRate.Mul(decimal.NewFromInt(100)).StringFixed(2)+"%")
	summary.Append("Winners / losers", fmt.Sprintf("%d / %d", a.WinningLots, a.LosingLots))
	summary.Append("Total gains", money(a.TotalGains))
	summary.Append("Total losses", money(a.TotalLosses))
	summary.Append("Profit factor", optDecimal(a.ProfitFactor))
	summary.Append("Avg gain", optMoney(a.AvgGain))
	summary.Append("Avg loss", optMoney(a.AvgLoss))
	summary.Append("Best symbol", labelled(a.BestSymbol, a.BestSymbolPnL))
	summary.Append("Worst symbol", labelled(a.WorstSymbol, a.WorstSymbolPnL))
	summary.Append("Best weekday", labelled(a.BestWeekday, a.BestWeekdayPnL))
	summary.Append("Worst weekday", labelled(a.WorstWeekday, a.WorstWeekdayPnL))
	summary.Render()

	if len(r.symbols) > 0 {
		fmt.Fprintln(w, "\nBy symbol")
		table := tablewriter.NewWriter(w)
		table.Header("Symbol", "Lots", "P&L")
		for _, st := range r.symbols {
			table.Append(st.Symbol, fmt.Sprintf("%d", st.Lots), money(st.PnL))
		}
		table.Render()
	}

	if len(r.positions) > 0 {
		fmt.Fprintln(w, "\nOpen positions")
		table := tablewriter.NewWriter(w)
		table.Header("Account", "Symbol", "Side", "Quantity", "Avg price", "Lots")
		for _, p := range r.positions {
			table.Append(p.Account, p.Symbol, string(p.PositionType), p.Quantity.String(), p.AvgPrice.StringFixed(4), fmt.Sprintf("%d", p.Lots))
		}
		table.Render()
	}

	if withSeries && len(r.series) > 0 {
		fmt.Fprintln(w, "\nDaily P&L")
		table := tablewriter.NewWriter(w)
		table.Header("Date", "Day", "P&L", "Cumulative", "Lots")
		for _, d := range r.series {
			table.Append(d.Date.String(), d.Date.Weekday().String()[:3], money(d.DailyPnL), money(d.CumulativePnL), fmt.Sprintf("%d", d.LotsClosed))
		}
		table.Render()
	}
}

func (r *report) window() string {
	start, end := "first trade", "last trade"
	if r.bounds.Start != nil {
		start = r.bounds.Start.String()
	}
	if r.bounds.End != nil {
		end = r.bounds.End.String()
	}
	return fmt.Sprintf("%s to %s, %s", start, end, r.loc)
}

func money(d decimal.Decimal) string {
	return "$" + d.StringFixed(2)
}

func optMoney(d *decimal.Decimal) string {
	if d == nil {
		return "-"
	}
	return money(*d)
}

func optDecimal(d *decimal.Decimal) string {
	if d == nil {
		return "-"
	}
	return d.StringFixed(2)
}

func labelled(label *string, pnl *decimal.Decimal) string {
	if label == nil {
		return "-"
	}
	return fmt.Sprintf("%s (%s)", *label, optMoney(pnl))
}
