package main

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"journal/internal/ingest"
	"journal/internal/timeframe"
)

const sampleCSV = "symbol,side,quantity,price,executed_at,account_id\n" +
	"AAPL,BUY,10,100,2024-03-04 10:00:00,cash\n" +
	"AAPL,SELL,10,110,2024-03-05 10:00:00,cash\n" +
	"MSFT,BUY,5,50,2024-03-06 10:00:00,ira\n" +
	"MSFT,SELL,5,40,2024-03-07 10:00:00,ira\n" +
	"NVDA,SELL,2,900,2024-03-07 11:00:00,ira\n"

func TestBuildReport(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	p, err := ingest.NewParser("unified_v1", loc)
	require.NoError(t, err)
	parsed, err := p.Parse(strings.NewReader(sampleCSV))
	require.NoError(t, err)
	require.Empty(t, parsed.Errors)

	now := time.Date(2024, 3, 20, 12, 0, 0, 0, loc)
	rep, err := buildReport(context.Background(), parsed.Trades, timeframe.All, now, loc, 2)
	require.NoError(t, err)

	assert.Equal(t, []string{"cash", "ira"}, rep.accounts)
	assert.Equal(t, 2, rep.aggregate.TotalTrades)
	assert.Equal(t, "50", rep.aggregate.TotalRealizedPnL.String())
	require.Len(t, rep.symbols, 2)
	assert.Equal(t, "AAPL", rep.symbols[0].Symbol)
	assert.Equal(t, "MSFT", rep.symbols[1].Symbol)
	require.Len(t, rep.positions, 1)
	assert.Equal(t, "NVDA", rep.positions[0].Symbol)
	assert.Equal(t, "ira", rep.positions[0].Account)
	assert.Len(t, rep.series, 3)

	var out bytes.Buffer
	rep.render(&out, true)
	text := out.String()
	assert.Contains(t, text, "$50.00")
	assert.Contains(t, text, "AAPL ($100.00)")
	assert.Contains(t, text, "SHORT")
	assert.Contains(t, text, "2024-03-06")
}

func TestBuildReport_Timeframe(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	p, err := ingest.NewParser("unified_v1", loc)
	require.NoError(t, err)
	parsed, err := p.Parse(strings.NewReader(sampleCSV))
	require.NoError(t, err)

	rep, err := buildReport(context.Background(), parsed.Trades, timeframe.OneDay, time.Now(), loc, 1)
	require.NoError(t, err)

	// Window is anchored on the last close, 2024-03-07.
	require.NotNil(t, rep.bounds.End)
	assert.Equal(t, "2024-03-07", rep.bounds.End.String())
	assert.Equal(t, 1, rep.aggregate.TotalTrades)
	assert.Equal(t, "-50", rep.aggregate.TotalRealizedPnL.String())
	assert.Len(t, rep.series, 2)
}

func TestBuildReport_Empty(t *testing.T) {
	rep, err := buildReport(context.Background(), nil, timeframe.All, time.Now(), time.UTC, 1)
	require.NoError(t, err)
	assert.Zero(t, rep.aggregate.TotalTrades)

	var out bytes.Buffer
	rep.render(&out, true)
	assert.Contains(t, out.String(), "$0.00")
	assert.NotContains(t, out.String(), "By symbol")
}

const sameInstantCSV = "symbol,side,quantity,price,executed_at,account_id\n" +
	"AAPL,BUY,1,100,2024-03-04 10:00:00,zeta\n" +
	"AAPL,BUY,1,100,2024-03-04 10:00:00,alpha\n" +
	"AAPL,SELL,1,105,2024-03-05 10:00:00,zeta\n" +
	"AAPL,SELL,1,103,2024-03-05 10:00:00,alpha\n" +
	"NVDA,BUY,2,800,2024-03-06 10:00:00,zeta\n" +
	"NVDA,BUY,4,900,2024-03-06 10:00:00,alpha\n"

func TestBuildReport_AccountOrder(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	p, err := ingest.NewParser("unified_v1", loc)
	require.NoError(t, err)
	parsed, err := p.Parse(strings.NewReader(sameInstantCSV))
	require.NoError(t, err)
	require.Empty(t, parsed.Errors)

	for i := 0; i < 20; i++ {
		rep, err := buildReport(context.Background(), parsed.Trades, timeframe.All, time.Now(), loc, 4)
		require.NoError(t, err)

		require.Len(t, rep.lots, 2)
		assert.Equal(t, "alpha", rep.lots[0].AccountID)
		assert.Equal(t, "zeta", rep.lots[1].AccountID)

		// NVDA stays split by account instead of merging into one position.
		require.Len(t, rep.positions, 2)
		assert.Equal(t, "alpha", rep.positions[0].Account)
		assert.Equal(t, "4", rep.positions[0].Quantity.String())
		assert.Equal(t, "zeta", rep.positions[1].Account)
		assert.Equal(t, "2", rep.positions[1].Quantity.String())
	}
}

func TestRender_OpenPositionsShowAccount(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	p, err := ingest.NewParser("unified_v1", loc)
	require.NoError(t, err)
	parsed, err := p.Parse(strings.NewReader(sameInstantCSV))
	require.NoError(t, err)

	rep, err := buildReport(context.Background(), parsed.Trades, timeframe.All, time.Now(), loc, 1)
	require.NoError(t, err)

	var out bytes.Buffer
	rep.render(&out, false)
	text := out.String()
	var header string
	for _, line := range strings.Split(strings.ToLower(text), "\n") {
		if strings.Contains(line, "avg price") {
			header = line
		}
	}
	assert.Contains(t, header, "account")
	assert.Less(t, strings.Index(text, "900.0000"), strings.Index(text, "800.0000"))
}
