// Package fifo matches buy and sell executions into closed lots using
// first-in-first-out ordering, for long and short positions alike.
package fifo

import (
	"fmt"
	"sort"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"journal/internal/domain"
)

// PnLPlaces is the number of decimal places realized P&L is rounded to.
const PnLPlaces = 2

// DataError reports a trade that violates the engine's input contract.
type DataError struct {
	Index   int
	TradeID string
	Symbol  string
	Reason  string
}

func (e *DataError) Error() string {
	return fmt.Sprintf("trade[%d] (%s %s): %s", e.Index, e.TradeID, e.Symbol, e.Reason)
}

// Result is the output of one matching run.
type Result struct {
	// Closed is ordered by close time, ties in input order.
	Closed []domain.ClosedLot
	// Open holds quantity never matched in the observed window.
	Open []domain.OpenLot
}

// Positions summarizes the open lots per symbol and direction.
func (r *Result) Positions() []domain.OpenPosition {
	return Summarize(r.Open)
}

type options struct {
	logger zerolog.Logger
}

// Option configures a matching run.
type Option func(*options)

// WithLogger sets the logger used for per-match debug output.
func WithLogger(l zerolog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// Match runs FIFO matching over trades. The input is neither reordered nor
// modified; all queue state lives inside the call.
func Match(trades []domain.Trade, opts ...Option) (*Result, error) {
	o := options{logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(&o)
	}

	for i := range trades {
		if err := validate(i, &trades[i]); err != nil {
			return nil, err
		}
	}

	ordered := make([]domain.Trade, len(trades))
	copy(ordered, trades)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].ExecutedAt.Before(ordered[j].ExecutedAt)
	})

	m := &matcher{
		books:  make(map[string]*book),
		closed: []domain.ClosedLot{},
		log:    o.logger,
	}
	for i := range ordered {
		m.process(&ordered[i])
	}

	m.log.Debug().
		Int("trades", len(ordered)).
		Int("closed_lots", len(m.closed)).
		Msg("fifo matching complete")

	return &Result{Closed: m.closed, Open: m.openLots()}, nil
}

func validate(i int, t *domain.Trade) error {
	fail := func(reason string) error {
		return &DataError{Index: i, TradeID: t.ID, Symbol: t.Symbol, Reason: reason}
	}
	switch {
	case t.Symbol == "":
		return fail("missing symbol")
	case !t.Side.Valid():
		return fail(fmt.Sprintf("invalid side %q", t.Side))
	case !t.Quantity.IsPositive():
		return fail(fmt.Sprintf("quantity must be positive, got %s", t.Quantity))
	case !t.Price.IsPositive():
		return fail(fmt.Sprintf("price must be positive, got %s", t.Price))
	case t.ExecutedAt.IsZero():
		return fail("missing executed_at")
	}
	return nil
}

// book is the open exposure of one symbol.
type book struct {
	long  lotQueue
	short lotQueue
}

type matcher struct {
	books  map[string]*book
	closed []domain.ClosedLot
	log    zerolog.Logger
}

func (m *matcher) book(symbol string) *book {
	b, ok := m.books[symbol]
	if !ok {
		b = &book{}
		m.books[symbol] = b
	}
	return b
}

func (m *matcher) process(t *domain.Trade) {
	b := m.book(t.Symbol)

	switch t.Side {
	case domain.SideBuy:
		remaining := m.consume(t, &b.short, domain.PositionShort)
		if remaining.IsPositive() {
			b.long.push(entry{trade: t, remaining: remaining})
			m.log.Debug().Str("symbol", t.Symbol).Str("qty", remaining.String()).
				Str("price", t.Price.String()).Msg("opened long lot")
		}
	case domain.SideSell:
		remaining := m.consume(t, &b.long, domain.PositionLong)
		if remaining.IsPositive() {
			b.short.push(entry{trade: t, remaining: remaining})
			m.log.Debug().Str("symbol", t.Symbol).Str("qty", remaining.String()).
				Str("price", t.Price.String()).Msg("opened short lot")
		}
	}
}

// consume closes queued opposite exposure oldest first and returns the
// quantity of the closing trade left over.
func (m *matcher) consume(closing *domain.Trade, q *lotQueue, pt domain.PositionType) decimal.Decimal {
	remaining := closing.Quantity
	for remaining.IsPositive() && !q.empty() {
		open := q.front()
		qty := decimal.Min(remaining, open.remaining)

		lot := closeLot(open.trade, closing, qty, pt)
		m.closed = append(m.closed, lot)

		remaining = remaining.Sub(qty)
		open.remaining = open.remaining.Sub(qty)
		if open.remaining.IsZero() {
			q.pop()
		}

		m.log.Debug().
			Str("symbol", closing.Symbol).
			Str("position_type", string(pt)).
			Str("qty", qty.String()).
			Str("open_price", lot.OpenPrice.String()).
			Str("close_price", lot.ClosePrice.String()).
			Str("pnl", lot.RealizedPnL.String()).
			Msg("matched lot")
	}
	return remaining
}

func closeLot(open, closing *domain.Trade, qty decimal.Decimal, pt domain.PositionType) domain.ClosedLot {
	var pnl decimal.Decimal
	switch pt {
	case domain.PositionLong:
		pnl = closing.Price.Sub(open.Price).Mul(qty)
	case domain.PositionShort:
		pnl = open.Price.Sub(closing.Price).Mul(qty)
	}

	return domain.ClosedLot{
		AccountID:    closing.AccountID,
		Symbol:       closing.Symbol,
		PositionType: pt,
		OpenTradeID:  open.ID,
		CloseTradeID: closing.ID,
		Quantity:     qty,
		OpenPrice:    open.Price,
		ClosePrice:   closing.Price,
		OpenedAt:     open.ExecutedAt,
		ClosedAt:     closing.ExecutedAt,
		RealizedPnL:  pnl.Round(PnLPlaces),
		UnroundedPnL: pnl,
	}
}

func (m *matcher) openLots() []domain.OpenLot {
	symbols := make([]string, 0, len(m.books))
	for symbol := range m.books {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)

	open := []domain.OpenLot{}
	for _, symbol := range symbols {
		b := m.books[symbol]
		open = appendOpen(open, b.long.rest(), domain.PositionLong)
		open = appendOpen(open, b.short.rest(), domain.PositionShort)
	}
	return open
}

func appendOpen(dst []domain.OpenLot, entries []entry, pt domain.PositionType) []domain.OpenLot {
	for _, e := range entries {
		dst = append(dst, domain.OpenLot{
			AccountID:    e.trade.AccountID,
			Symbol:       e.trade.Symbol,
			PositionType: pt,
			TradeID:      e.trade.ID,
			Quantity:     e.remaining,
			Price:        e.trade.Price,
			OpenedAt:     e.trade.ExecutedAt,
		})
	}
	return dst
}

// Summarize collapses open lots into one position per symbol and direction,
// with a quantity-weighted average price rounded to cents.
func Summarize(open []domain.OpenLot) []domain.OpenPosition {
	type key struct {
		symbol string
		pt     domain.PositionType
	}
	idx := make(map[key]int)
	cost := make(map[key]decimal.Decimal)
	positions := []domain.OpenPosition{}

	for _, lot := range open {
		k := key{lot.Symbol, lot.PositionType}
		i, ok := idx[k]
		if !ok {
			i = len(positions)
			idx[k] = i
			positions = append(positions, domain.OpenPosition{
				Symbol:       lot.Symbol,
				PositionType: lot.PositionType,
				Quantity:     decimal.Zero,
			})
		}
		positions[i].Quantity = positions[i].Quantity.Add(lot.Quantity)
		positions[i].Lots++
		cost[k] = cost[k].Add(lot.Price.Mul(lot.Quantity))
	}

	for k, i := range idx {
		if positions[i].Quantity.IsPositive() {
			positions[i].AvgPrice = cost[k].Div(positions[i].Quantity).Round(PnLPlaces)
		}
	}

	sort.SliceStable(positions, func(i, j int) bool {
		if positions[i].Symbol != positions[j].Symbol {
			return positions[i].Symbol < positions[j].Symbol
		}
		return positions[i].PositionType < positions[j].PositionType
	})
	return positions
}
