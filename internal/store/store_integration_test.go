//go:build integration

package store

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"journal/internal/domain"
)

// Run with: go test -tags=integration ./internal/store/ -v

func setupRepository(t *testing.T) *Repository {
	t.Helper()
	ctx := context.Background()

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
	require.NoError(t, err, "failed to start postgres container")
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	repo, err := NewRepository(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(repo.Close)

	require.NoError(t, RunMigrations(ctx, repo.Pool()))
	// Second run is a no-op.
	require.NoError(t, RunMigrations(ctx, repo.Pool()))
	return repo
}

func trade(id, account, symbol string, side domain.Side, qty, price string, at time.Time) domain.Trade {
	return domain.Trade{
		ID:         id,
		AccountID:  account,
		Symbol:     symbol,
		Side:       side,
		Quantity:   decimal.RequireFromString(qty),
		Price:      decimal.RequireFromString(price),
		ExecutedAt: at,
	}
}

func TestRepository_InsertAndRebuild(t *testing.T) {
	repo := setupRepository(t)
	ctx := context.Background()
	base := time.Date(2025, 1, 15, 15, 0, 0, 0, time.UTC)

	trades := []domain.Trade{
		trade("t1", "main", "AAPL", domain.SideBuy, "10", "10", base),
		trade("t2", "main", "AAPL", domain.SideBuy, "10", "20", base.Add(time.Minute)),
		trade("t3", "main", "AAPL", domain.SideSell, "15", "25.555", base.Add(2*time.Minute)),
		trade("t4", "ira", "TSLA", domain.SideSell, "5", "200", base),
	}
	n, err := repo.InsertTrades(ctx, trades)
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	n, err = repo.InsertTrades(ctx, trades[:2])
	require.NoError(t, err)
	assert.Equal(t, 0, n, "duplicates are skipped")

	accounts, err := repo.ListAccounts(ctx)
	require.NoError(t, err)
	assert.Len(t, accounts, 2)

	stats, err := repo.RebuildAccount(ctx, "main")
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Trades)
	assert.Equal(t, 2, stats.ClosedLots)
	assert.Equal(t, 1, stats.OpenLots)

	closed, err := repo.ListClosedLots(ctx, "main")
	require.NoError(t, err)
	require.Len(t, closed, 2)
	assert.Equal(t, "t1", closed[0].OpenTradeID)
	assert.True(t, closed[0].RealizedPnL.Equal(decimal.RequireFromString("155.55")), closed[0].RealizedPnL.String())
	assert.True(t, closed[1].RealizedPnL.Equal(decimal.RequireFromString("27.78")), closed[1].RealizedPnL.String())
	assert.True(t, closed[0].ClosedAt.Equal(base.Add(2*time.Minute)))

	open, err := repo.ListOpenLots(ctx, "main")
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, "t2", open[0].TradeID)
	assert.True(t, open[0].Quantity.Equal(decimal.NewFromInt(5)))

	// Rebuild is idempotent.
	_, err = repo.RebuildAccount(ctx, "main")
	require.NoError(t, err)
	closed, err = repo.ListClosedLots(ctx, "main")
	require.NoError(t, err)
	assert.Len(t, closed, 2)
}

func TestRepository_OutOfOrderInsertRematches(t *testing.T) {
	repo := setupRepository(t)
	ctx := context.Background()
	base := time.Date(2025, 2, 3, 15, 0, 0, 0, time.UTC)

	_, err := repo.InsertTrades(ctx, []domain.Trade{
		trade("b2", "main", "MSFT", domain.SideBuy, "1", "20", base.Add(time.Hour)),
		trade("s1", "main", "MSFT", domain.SideSell, "1", "30", base.Add(2*time.Hour)),
	})
	require.NoError(t, err)
	_, err = repo.RebuildAccount(ctx, "main")
	require.NoError(t, err)

	// A late-arriving earlier buy changes which entry the sell consumed.
	_, err = repo.InsertTrades(ctx, []domain.Trade{
		trade("b1", "main", "MSFT", domain.SideBuy, "1", "10", base),
	})
	require.NoError(t, err)
	all, err := repo.RebuildAll(ctx, 2)
	require.NoError(t, err)
	require.Len(t, all, 1)

	closed, err := repo.ListClosedLots(ctx, "main")
	require.NoError(t, err)
	require.Len(t, closed, 1)
	assert.Equal(t, "b1", closed[0].OpenTradeID)
	assert.True(t, closed[0].RealizedPnL.Equal(decimal.NewFromInt(20)))
}

func TestRepository_ListTradesPagination(t *testing.T) {
	repo := setupRepository(t)
	ctx := context.Background()
	base := time.Date(2025, 3, 1, 15, 0, 0, 0, time.UTC)

	var trades []domain.Trade
	for i := 0; i < 5; i++ {
		trades = append(trades, trade(
			string(rune('a'+i)), "main", "AAPL", domain.SideBuy, "1", "100", base.Add(time.Duration(i)*time.Minute),
		))
	}
	_, err := repo.InsertTrades(ctx, trades)
	require.NoError(t, err)

	page, err := repo.ListTrades(ctx, "main", TradeFilter{Limit: 3})
	require.NoError(t, err)
	require.Len(t, page.Trades, 3)
	assert.Equal(t, "e", page.Trades[0].ID)
	require.NotEmpty(t, page.NextCursor)

	page, err = repo.ListTrades(ctx, "main", TradeFilter{Limit: 3, Cursor: page.NextCursor})
	require.NoError(t, err)
	require.Len(t, page.Trades, 2)
	assert.Equal(t, "b", page.Trades[0].ID)
	assert.Empty(t, page.NextCursor)
}

func TestRepository_RebuildUnknownAccount(t *testing.T) {
	repo := setupRepository(t)
	_, err := repo.RebuildAccount(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}
