//go:build integration

package api_test

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"journal/internal/api"
	"journal/internal/store"
)

// Run with: go test -tags=integration ./internal/api/ -v

func setupServer(t *testing.T) http.Handler {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	container, err := postgres.Run(ctx, "postgres:15-alpine",
		postgres.WithDatabase("journal"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	repo, err := store.NewRepository(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(repo.Close)
	require.NoError(t, store.RunMigrations(ctx, repo.Pool()))

	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	return api.NewServer(repo, nil, api.Options{Location: loc}).Router()
}

func request(t *testing.T, h http.Handler, method, path string, body []byte, out any) int {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if out != nil && w.Code == http.StatusOK {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), out), w.Body.String())
	}
	return w.Code
}

func TestAPIIntegration(t *testing.T) {
	h := setupServer(t)

	var health map[string]string
	require.Equal(t, http.StatusOK, request(t, h, "GET", "/health", nil, &health))
	assert.Equal(t, "ok", health["status"])

	body := []byte(`{"trades":[
		{"trade_id":"int-1","account_id":"swing","symbol":"AAPL","side":"BUY","quantity":100,"price":150.123,"executed_at":"2024-06-03T14:00:00Z"},
		{"trade_id":"int-2","account_id":"swing","symbol":"AAPL","side":"SELL","quantity":60,"price":152.715,"executed_at":"2024-06-04T14:00:00Z"},
		{"trade_id":"int-3","account_id":"swing","symbol":"TSLA","side":"SELL","quantity":10,"price":180,"executed_at":"2024-06-05T14:00:00Z"},
		{"trade_id":"int-4","account_id":"swing","symbol":"TSLA","side":"BUY","quantity":10,"price":185.5,"executed_at":"2024-06-06T14:00:00Z"}
	]}`)
	var imported api.ImportResponse
	require.Equal(t, http.StatusOK, request(t, h, "POST", "/api/v1/import", body, &imported))
	assert.Equal(t, 4, imported.Inserted)
	require.Len(t, imported.Rebuilt, 1)
	assert.Equal(t, 2, imported.Rebuilt[0].ClosedLots)
	assert.Equal(t, 1, imported.Rebuilt[0].OpenLots)

	// Re-import is idempotent.
	require.Equal(t, http.StatusOK, request(t, h, "POST", "/api/v1/import", body, &imported))
	assert.Equal(t, 0, imported.Inserted)
	assert.Equal(t, 4, imported.Duplicates)

	var lots api.LotsResponse
	require.Equal(t, http.StatusOK, request(t, h, "GET", "/api/v1/accounts/swing/lots", nil, &lots))
	require.Len(t, lots.Lots, 2)
	// 60 * (152.715 - 150.123) = 155.52
	assert.True(t, lots.Lots[0].RealizedPnL.Equal(decimal.RequireFromString("155.52")), lots.Lots[0].RealizedPnL.String())
	assert.True(t, lots.Lots[1].RealizedPnL.Equal(decimal.RequireFromString("-55")), lots.Lots[1].RealizedPnL.String())

	var m api.MetricsResponse
	require.Equal(t, http.StatusOK, request(t, h, "GET", "/api/v1/accounts/swing/metrics", nil, &m))
	assert.True(t, m.Metrics.TotalRealizedPnL.Equal(decimal.RequireFromString("100.52")))
	assert.Equal(t, 1, m.Metrics.WinningLots)
	assert.Equal(t, 1, m.Metrics.LosingLots)

	var chart api.ChartResponse
	require.Equal(t, http.StatusOK, request(t, h, "GET", "/api/v1/accounts/swing/chart", nil, &chart))
	require.Len(t, chart.Series, 3)
	assert.True(t, chart.Series[2].CumulativePnL.Equal(decimal.RequireFromString("100.52")))

	var positions api.PositionsResponse
	require.Equal(t, http.StatusOK, request(t, h, "GET", "/api/v1/accounts/swing/positions", nil, &positions))
	require.Len(t, positions.Positions, 1)
	assert.True(t, positions.Positions[0].Quantity.Equal(decimal.NewFromInt(40)))

	var trades store.TradeListResult
	require.Equal(t, http.StatusOK, request(t, h, "GET", "/api/v1/accounts/swing/trades?limit=3", nil, &trades))
	assert.Len(t, trades.Trades, 3)
	assert.NotEmpty(t, trades.NextCursor)

	var stats store.RebuildStats
	require.Equal(t, http.StatusOK, request(t, h, "POST", "/api/v1/accounts/swing/rebuild", nil, &stats))
	assert.Equal(t, 4, stats.Trades)

	assert.Equal(t, http.StatusNotFound, request(t, h, "GET", "/api/v1/accounts/nobody/metrics", nil, nil))
	assert.Equal(t, http.StatusNotFound, request(t, h, "POST", "/api/v1/accounts/nobody/rebuild", nil, nil))
}
