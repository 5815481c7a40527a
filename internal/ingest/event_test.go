package ingest

import (
	"strings"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"

	"journal/internal/domain"
)

func validEvent() TradeEvent {
	return TradeEvent{
		TradeID:    "t-001",
		AccountID:  "main",
		Symbol:     "aapl",
		Side:       "buy",
		Quantity:   decimal.RequireFromString("10"),
		Price:      decimal.RequireFromString("150.25"),
		ExecutedAt: "2025-01-15T10:00:00-05:00",
	}
}

func TestTradeEventValidation_Valid(t *testing.T) {
	event := validEvent()
	if err := event.Validate(); err != nil {
		t.Fatalf("expected valid event, got error: %v", err)
	}
}

func TestTradeEventValidation_Invalid(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*TradeEvent)
		want   string
	}{
		{"missing symbol", func(e *TradeEvent) { e.Symbol = " " }, "missing required field: symbol"},
		{"invalid side", func(e *TradeEvent) { e.Side = "hold" }, "invalid side"},
		{"zero quantity", func(e *TradeEvent) { e.Quantity = decimal.Zero }, "quantity must be positive"},
		{"huge quantity", func(e *TradeEvent) { e.Quantity = decimal.NewFromInt(1_000_001) }, "exceeds maximum"},
		{"sub-cent price", func(e *TradeEvent) { e.Price = decimal.RequireFromString("0.009") }, "price must be at least"},
		{"huge price", func(e *TradeEvent) { e.Price = decimal.NewFromInt(100_001) }, "exceeds maximum"},
		{"missing executed_at", func(e *TradeEvent) { e.ExecutedAt = "" }, "missing required field: executed_at"},
		{"naive executed_at", func(e *TradeEvent) { e.ExecutedAt = "2025-01-15 10:00:00" }, "invalid executed_at"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			event := validEvent()
			tt.mutate(&event)
			err := event.Validate()
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %q", tt.want, err.Error())
			}
		})
	}
}

func TestTradeEventToDomain(t *testing.T) {
	event := validEvent()
	trade, err := event.ToDomain()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if trade.ID != "t-001" {
		t.Errorf("expected trade_id t-001, got %s", trade.ID)
	}
	if trade.Symbol != "AAPL" {
		t.Errorf("expected symbol AAPL, got %s", trade.Symbol)
	}
	if trade.Side != domain.SideBuy {
		t.Errorf("expected side BUY, got %s", trade.Side)
	}
	if want := time.Date(2025, 1, 15, 15, 0, 0, 0, time.UTC); !trade.ExecutedAt.Equal(want) {
		t.Errorf("expected executed_at %s, got %s", want, trade.ExecutedAt)
	}
}

func TestTradeEventToDomain_Defaults(t *testing.T) {
	event := validEvent()
	event.TradeID = ""
	event.AccountID = ""

	trade, err := event.ToDomain()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if trade.ID == "" {
		t.Error("expected generated trade id")
	}
	if trade.AccountID != domain.DefaultAccount {
		t.Errorf("expected account %q, got %q", domain.DefaultAccount, trade.AccountID)
	}
}

func TestTradeEventDecode_NumbersAndStrings(t *testing.T) {
	data := []byte(`{"symbol":"MSFT","side":"SELL","quantity":"0.25","price":410.1,"executed_at":"2025-01-15T10:00:00Z"}`)

	var event TradeEvent
	if err := json.Unmarshal(data, &event); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if err := event.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if !event.Quantity.Equal(decimal.RequireFromString("0.25")) {
		t.Errorf("expected quantity 0.25, got %s", event.Quantity)
	}
	if !event.Price.Equal(decimal.RequireFromString("410.1")) {
		t.Errorf("expected price 410.1, got %s", event.Price)
	}
}
