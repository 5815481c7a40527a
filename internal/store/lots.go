package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/sourcegraph/conc/pool"

	"journal/internal/domain"
	"journal/internal/fifo"
)

// RebuildStats summarizes one account rebuild.
type RebuildStats struct {
	AccountID  string        `json:"account_id"`
	Trades     int           `json:"trades"`
	ClosedLots int           `json:"lots_closed"`
	OpenLots   int           `json:"lots_open"`
	Duration   time.Duration `json:"-"`
}

// RebuildAccount deletes the account's lots and replays all of its trades
// through the FIFO engine in one transaction. The account row is locked for
// the duration so concurrent rebuilds of the same account serialize.
func (r *Repository) RebuildAccount(ctx context.Context, accountID string) (*RebuildStats, error) {
	start := time.Now()
	stats := &RebuildStats{AccountID: accountID}

	err := r.inTx(ctx, func(tx pgx.Tx) error {
		var locked string
		err := tx.QueryRow(ctx,
			"SELECT id FROM journal_accounts WHERE id = $1 FOR UPDATE", accountID,
		).Scan(&locked)
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("account %q: %w", accountID, ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("lock account: %w", err)
		}

		trades, err := r.TradesForRebuild(ctx, tx, accountID)
		if err != nil {
			return fmt.Errorf("load trades for rebuild: %w", err)
		}
		stats.Trades = len(trades)

		res, err := fifo.Match(trades, fifo.WithLogger(r.logger))
		if err != nil {
			return fmt.Errorf("match trades: %w", err)
		}

		if _, err := tx.Exec(ctx, "DELETE FROM journal_closed_lots WHERE account_id = $1", accountID); err != nil {
			return fmt.Errorf("delete closed lots: %w", err)
		}
		if _, err := tx.Exec(ctx, "DELETE FROM journal_open_lots WHERE account_id = $1", accountID); err != nil {
			return fmt.Errorf("delete open lots: %w", err)
		}

		if err := insertLots(ctx, tx, accountID, res); err != nil {
			return err
		}
		stats.ClosedLots = len(res.Closed)
		stats.OpenLots = len(res.Open)
		return nil
	})
	if err != nil {
		return nil, err
	}

	stats.Duration = time.Since(start)
	r.logger.Debug().
		Str("account_id", accountID).
		Int("trades", stats.Trades).
		Int("closed_lots", stats.ClosedLots).
		Int("open_lots", stats.OpenLots).
		Dur("duration", stats.Duration).
		Msg("rebuilt account lots")
	return stats, nil
}

func insertLots(ctx context.Context, tx pgx.Tx, accountID string, res *fifo.Result) error {
	batch := &pgx.Batch{}
	for _, l := range res.Closed {
		batch.Queue(`
			INSERT INTO journal_closed_lots (
				account_id, symbol, position_type, open_trade_id, close_trade_id,
				quantity, open_price, close_price, opened_at, closed_at, realized_pnl
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		`,
			accountID, l.Symbol, string(l.PositionType), l.OpenTradeID, l.CloseTradeID,
			l.Quantity, l.OpenPrice, l.ClosePrice, l.OpenedAt, l.ClosedAt, l.RealizedPnL,
		)
	}
	for _, l := range res.Open {
		batch.Queue(`
			INSERT INTO journal_open_lots (
				account_id, symbol, position_type, trade_id, quantity, price, opened_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7)
		`,
			accountID, l.Symbol, string(l.PositionType), l.TradeID, l.Quantity, l.Price, l.OpenedAt,
		)
	}
	if batch.Len() == 0 {
		return nil
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("insert lots: %w", err)
	}
	return nil
}

// RebuildAll rebuilds every account with trades, up to workers at a time.
// The first failure cancels the remaining rebuilds.
func (r *Repository) RebuildAll(ctx context.Context, workers int) ([]RebuildStats, error) {
	if workers < 1 {
		workers = 1
	}
	ids, err := r.listAccountIDs(ctx)
	if err != nil {
		return nil, err
	}

	var mu sync.Mutex
	all := make([]RebuildStats, 0, len(ids))

	p := pool.New().WithContext(ctx).WithCancelOnError().WithMaxGoroutines(workers)
	for _, id := range ids {
		p.Go(func(ctx context.Context) error {
			stats, err := r.RebuildAccount(ctx, id)
			if err != nil {
				return fmt.Errorf("rebuild account %s: %w", id, err)
			}
			mu.Lock()
			all = append(all, *stats)
			mu.Unlock()
			return nil
		})
	}
	if err := p.Wait(); err != nil {
		return nil, err
	}
	return all, nil
}

// ListClosedLots returns an account's closed lots ordered by close time.
func (r *Repository) ListClosedLots(ctx context.Context, accountID string) ([]domain.ClosedLot, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, account_id, symbol, position_type, open_trade_id, close_trade_id,
			quantity, open_price, close_price, opened_at, closed_at, realized_pnl
		FROM journal_closed_lots
		WHERE account_id = $1
		ORDER BY closed_at ASC, id ASC
	`, accountID)
	if err != nil {
		return nil, fmt.Errorf("list closed lots: %w", err)
	}

	lots, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.ClosedLot, error) {
		var l domain.ClosedLot
		var pt string
		err := row.Scan(
			&l.ID, &l.AccountID, &l.Symbol, &pt, &l.OpenTradeID, &l.CloseTradeID,
			&l.Quantity, &l.OpenPrice, &l.ClosePrice, &l.OpenedAt, &l.ClosedAt, &l.RealizedPnL,
		)
		l.PositionType = domain.PositionType(pt)
		l.UnroundedPnL = l.RealizedPnL
		return l, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan closed lot: %w", err)
	}
	if lots == nil {
		lots = []domain.ClosedLot{}
	}
	return lots, nil
}

// ListOpenLots returns an account's unmatched lot entries ordered by symbol
// and open time.
func (r *Repository) ListOpenLots(ctx context.Context, accountID string) ([]domain.OpenLot, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT account_id, symbol, position_type, trade_id, quantity, price, opened_at
		FROM journal_open_lots
		WHERE account_id = $1
		ORDER BY symbol ASC, position_type ASC, opened_at ASC, id ASC
	`, accountID)
	if err != nil {
		return nil, fmt.Errorf("list open lots: %w", err)
	}

	lots, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.OpenLot, error) {
		var l domain.OpenLot
		var pt string
		err := row.Scan(&l.AccountID, &l.Symbol, &pt, &l.TradeID, &l.Quantity, &l.Price, &l.OpenedAt)
		l.PositionType = domain.PositionType(pt)
		return l, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan open lot: %w", err)
	}
	if lots == nil {
		lots = []domain.OpenLot{}
	}
	return lots, nil
}
