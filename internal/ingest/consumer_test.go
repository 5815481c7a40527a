package ingest

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"journal/internal/domain"
	"journal/internal/store"
)

type fakeSink struct {
	trades    map[string]domain.Trade
	rebuilt   []string
	insertErr error
}

func (f *fakeSink) InsertTrades(_ context.Context, trades []domain.Trade) (int, error) {
	if f.insertErr != nil {
		return 0, f.insertErr
	}
	if f.trades == nil {
		f.trades = make(map[string]domain.Trade)
	}
	n := 0
	for _, t := range trades {
		if _, ok := f.trades[t.ID]; !ok {
			f.trades[t.ID] = t
			n++
		}
	}
	return n, nil
}

func (f *fakeSink) RebuildAccount(_ context.Context, accountID string) (*store.RebuildStats, error) {
	f.rebuilt = append(f.rebuilt, accountID)
	return &store.RebuildStats{AccountID: accountID}, nil
}

func newTestConsumer(sink TradeSink) *Consumer {
	return &Consumer{sink: sink, logger: zerolog.Nop()}
}

func TestConsumerProcess_StoresAndRebuilds(t *testing.T) {
	sink := &fakeSink{}
	c := newTestConsumer(sink)
	msg := []byte(`{"trade_id":"t-1","account_id":"main","symbol":"aapl","side":"buy","quantity":10,"price":"150.25","executed_at":"2025-01-15T10:00:00Z"}`)

	require.NoError(t, c.process(context.Background(), msg))
	require.Contains(t, sink.trades, "t-1")
	assert.Equal(t, "AAPL", sink.trades["t-1"].Symbol)
	assert.Equal(t, []string{"main"}, sink.rebuilt)

	// Redelivery of the same trade does not trigger another rebuild.
	require.NoError(t, c.process(context.Background(), msg))
	assert.Len(t, sink.rebuilt, 1)
}

func TestConsumerProcess_RejectsBadMessages(t *testing.T) {
	c := newTestConsumer(&fakeSink{})

	for _, data := range []string{
		`not json`,
		`{"symbol":"AAPL","side":"hold","quantity":1,"price":1,"executed_at":"2025-01-15T10:00:00Z"}`,
		`{"symbol":"AAPL","side":"buy","quantity":-1,"price":1,"executed_at":"2025-01-15T10:00:00Z"}`,
	} {
		err := c.process(context.Background(), []byte(data))
		assert.ErrorIs(t, err, errReject, data)
	}
}

func TestConsumerProcess_StorageErrorIsRetryable(t *testing.T) {
	c := newTestConsumer(&fakeSink{insertErr: errors.New("connection reset")})
	msg := []byte(`{"symbol":"AAPL","side":"buy","quantity":1,"price":1,"executed_at":"2025-01-15T10:00:00Z"}`)

	err := c.process(context.Background(), msg)
	require.Error(t, err)
	assert.NotErrorIs(t, err, errReject)
}
