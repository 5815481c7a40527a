package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// DefaultAccount is the account id used for trades imported without one.
const DefaultAccount = "default"

// Side represents the direction of a trade execution.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// ParseSide normalizes a side string. Anything other than buy/sell is rejected.
func ParseSide(s string) (Side, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case string(SideBuy):
		return SideBuy, nil
	case string(SideSell):
		return SideSell, nil
	}
	return "", fmt.Errorf("invalid side: %q (must be BUY or SELL)", s)
}

// Valid reports whether s is one of the known sides.
func (s Side) Valid() bool {
	return s == SideBuy || s == SideSell
}

// PositionType is the direction of a matched lot.
type PositionType string

const (
	PositionLong  PositionType = "LONG"
	PositionShort PositionType = "SHORT"
)

// Account groups trades into an independent portfolio.
type Account struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// Trade is a single normalized execution. It is never mutated after ingest.
type Trade struct {
	ID          string          `json:"trade_id"`
	AccountID   string          `json:"account_id"`
	Symbol      string          `json:"symbol"`
	Side        Side            `json:"side"`
	Quantity    decimal.Decimal `json:"quantity"`
	Price       decimal.Decimal `json:"price"`
	ExecutedAt  time.Time       `json:"executed_at"`
	Notes       string          `json:"notes,omitempty"`
	IngestJobID string          `json:"ingest_job_id,omitempty"`
	IngestedAt  time.Time       `json:"ingested_at"`
}

// ClosedLot records one match between an opening and a closing execution.
// For SHORT lots the open side is the SELL and the close side the covering BUY.
type ClosedLot struct {
	ID           int64           `json:"id,omitempty"`
	AccountID    string          `json:"account_id"`
	Symbol       string          `json:"symbol"`
	PositionType PositionType    `json:"position_type"`
	OpenTradeID  string          `json:"open_trade_id"`
	CloseTradeID string          `json:"close_trade_id"`
	Quantity     decimal.Decimal `json:"quantity"`
	OpenPrice    decimal.Decimal `json:"open_price"`
	ClosePrice   decimal.Decimal `json:"close_price"`
	OpenedAt     time.Time       `json:"opened_at"`
	ClosedAt     time.Time       `json:"closed_at"`
	RealizedPnL  decimal.Decimal `json:"realized_pnl"`

	// UnroundedPnL is the exact product before rounding to cents.
	UnroundedPnL decimal.Decimal `json:"-"`
}

// HoldingTime is the time between the opening and closing executions.
func (l ClosedLot) HoldingTime() time.Duration {
	return l.ClosedAt.Sub(l.OpenedAt)
}

// OpenLot is quantity still waiting for an opposite execution at the end of a run.
type OpenLot struct {
	AccountID    string          `json:"account_id"`
	Symbol       string          `json:"symbol"`
	PositionType PositionType    `json:"position_type"`
	TradeID      string          `json:"trade_id"`
	Quantity     decimal.Decimal `json:"quantity"`
	Price        decimal.Decimal `json:"price"`
	OpenedAt     time.Time       `json:"opened_at"`
}

// OpenPosition summarizes the open lots of one symbol and direction.
type OpenPosition struct {
	Symbol       string          `json:"symbol"`
	PositionType PositionType    `json:"position_type"`
	Quantity     decimal.Decimal `json:"quantity"`
	AvgPrice     decimal.Decimal `json:"avg_price"`
	Lots         int             `json:"lots"`
}

// DailyPnL is one day of the realized P&L series.
type DailyPnL struct {
	Date          Date            `json:"date"`
	DailyPnL      decimal.Decimal `json:"daily_pnl"`
	CumulativePnL decimal.Decimal `json:"cumulative_pnl"`
	LotsClosed    int             `json:"lots_closed"`
}

// Aggregate holds portfolio level statistics over a set of closed lots.
// Pointer fields are nil when the statistic is undefined for the input.
type Aggregate struct {
	TotalRealizedPnL decimal.Decimal  `json:"total_realized_pnl"`
	TotalTrades      int              `json:"total_trades"`
	TotalExecutions  int              `json:"total_executions"`
	WinningLots      int              `json:"winning_lots"`
	LosingLots       int              `json:"losing_lots"`
	TotalGains       decimal.Decimal  `json:"total_gains"`
	TotalLosses      decimal.Decimal  `json:"total_losses"`
	WinRate          decimal.Decimal  `json:"win_rate"`
	ProfitFactor     *decimal.Decimal `json:"profit_factor"`
	AvgGain          *decimal.Decimal `json:"avg_gain"`
	AvgLoss          *decimal.Decimal `json:"avg_loss"`
	BestSymbol       *string          `json:"best_symbol"`
	BestSymbolPnL    *decimal.Decimal `json:"best_symbol_pnl"`
	WorstSymbol      *string          `json:"worst_symbol"`
	WorstSymbolPnL   *decimal.Decimal `json:"worst_symbol_pnl"`
	BestWeekday      *string          `json:"best_weekday"`
	BestWeekdayPnL   *decimal.Decimal `json:"best_weekday_pnl"`
	WorstWeekday     *string          `json:"worst_weekday"`
	WorstWeekdayPnL  *decimal.Decimal `json:"worst_weekday_pnl"`
	FirstTradeDate   *Date            `json:"first_trade_date"`
	LastTradeDate    *Date            `json:"last_trade_date"`
}
