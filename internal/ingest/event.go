package ingest

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"journal/internal/domain"
)

var (
	minPrice    = decimal.RequireFromString("0.01")
	maxPrice    = decimal.NewFromInt(100_000)
	maxQuantity = decimal.NewFromInt(1_000_000)
)

// TradeEvent is the JSON structure for trades received via NATS or the
// import endpoint. Quantity and price accept JSON numbers or strings.
type TradeEvent struct {
	TradeID    string          `json:"trade_id"`
	AccountID  string          `json:"account_id"`
	Symbol     string          `json:"symbol"`
	Side       string          `json:"side"`
	Quantity   decimal.Decimal `json:"quantity"`
	Price      decimal.Decimal `json:"price"`
	ExecutedAt string          `json:"executed_at"`
	Notes      string          `json:"notes,omitempty"`
}

// Validate checks that the trade event has all required fields and valid values.
func (e *TradeEvent) Validate() error {
	if strings.TrimSpace(e.Symbol) == "" {
		return fmt.Errorf("missing required field: symbol")
	}
	if _, err := domain.ParseSide(e.Side); err != nil {
		return err
	}
	if err := checkQuantity(e.Quantity); err != nil {
		return err
	}
	if err := checkPrice(e.Price); err != nil {
		return err
	}
	if e.ExecutedAt == "" {
		return fmt.Errorf("missing required field: executed_at")
	}
	if _, err := time.Parse(time.RFC3339, e.ExecutedAt); err != nil {
		return fmt.Errorf("invalid executed_at: %w", err)
	}
	return nil
}

// ToDomain converts a TradeEvent to a domain Trade. A missing trade id is
// replaced with a random UUID and a missing account with the default one.
func (e *TradeEvent) ToDomain() (*domain.Trade, error) {
	side, err := domain.ParseSide(e.Side)
	if err != nil {
		return nil, err
	}
	ts, err := time.Parse(time.RFC3339, e.ExecutedAt)
	if err != nil {
		return nil, fmt.Errorf("parse executed_at: %w", err)
	}

	id := e.TradeID
	if id == "" {
		id = uuid.NewString()
	}
	account := strings.TrimSpace(e.AccountID)
	if account == "" {
		account = domain.DefaultAccount
	}

	return &domain.Trade{
		ID:         id,
		AccountID:  account,
		Symbol:     strings.ToUpper(strings.TrimSpace(e.Symbol)),
		Side:       side,
		Quantity:   e.Quantity,
		Price:      e.Price,
		ExecutedAt: ts,
		Notes:      e.Notes,
		IngestedAt: time.Now(),
	}, nil
}

func checkQuantity(q decimal.Decimal) error {
	if !q.IsPositive() {
		return fmt.Errorf("quantity must be positive, got %s", q)
	}
	if q.GreaterThan(maxQuantity) {
		return fmt.Errorf("quantity %s exceeds maximum %s", q, maxQuantity)
	}
	return nil
}

func checkPrice(p decimal.Decimal) error {
	if p.LessThan(minPrice) {
		return fmt.Errorf("price must be at least %s, got %s", minPrice, p)
	}
	if p.GreaterThan(maxPrice) {
		return fmt.Errorf("price %s exceeds maximum %s", p, maxPrice)
	}
	return nil
}
