package store

import (
	"context"
	"encoding/base64"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"journal/internal/domain"
)

const tradeColumns = `trade_id, account_id, symbol, side, quantity, price,
	executed_at, notes, ingest_job_id, ingested_at`

// InsertTrades stores trades with ON CONFLICT DO NOTHING, creating their
// accounts as needed, in one transaction. It returns the number of trades
// that were new.
func (r *Repository) InsertTrades(ctx context.Context, trades []domain.Trade) (int, error) {
	if len(trades) == 0 {
		return 0, nil
	}

	seen := make(map[string]bool)
	var accounts []string
	for _, t := range trades {
		if !seen[t.AccountID] {
			seen[t.AccountID] = true
			accounts = append(accounts, t.AccountID)
		}
	}
	sort.Strings(accounts)

	inserted := 0
	err := r.inTx(ctx, func(tx pgx.Tx) error {
		if err := ensureAccounts(ctx, tx, accounts); err != nil {
			return err
		}

		batch := &pgx.Batch{}
		for i := range trades {
			t := &trades[i]
			ingestedAt := t.IngestedAt
			if ingestedAt.IsZero() {
				ingestedAt = time.Now()
			}
			batch.Queue(`
				INSERT INTO journal_trades (`+tradeColumns+`)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
				ON CONFLICT (trade_id) DO NOTHING
			`,
				t.ID, t.AccountID, t.Symbol, string(t.Side), t.Quantity, t.Price,
				t.ExecutedAt, nullable(t.Notes), nullable(t.IngestJobID), ingestedAt,
			)
		}

		br := tx.SendBatch(ctx, batch)
		for i := range trades {
			tag, err := br.Exec()
			if err != nil {
				br.Close()
				return fmt.Errorf("insert trade %s: %w", trades[i].ID, err)
			}
			inserted += int(tag.RowsAffected())
		}
		return br.Close()
	})
	if err != nil {
		return 0, err
	}
	return inserted, nil
}

// TradeFilter defines filters for listing trades.
type TradeFilter struct {
	Symbol string
	Side   string
	Start  *time.Time
	End    *time.Time
	Cursor string
	Limit  int
}

// TradeListResult contains paginated trade results.
type TradeListResult struct {
	Trades     []domain.Trade `json:"trades"`
	NextCursor string         `json:"next_cursor,omitempty"`
}

// ListTrades returns trades for an account, newest first, with filters and
// cursor-based pagination.
func (r *Repository) ListTrades(ctx context.Context, accountID string, filter TradeFilter) (*TradeListResult, error) {
	if filter.Limit <= 0 {
		filter.Limit = 50
	}
	if filter.Limit > 200 {
		filter.Limit = 200
	}

	var conditions []string
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	conditions = append(conditions, "account_id = "+arg(accountID))
	if filter.Symbol != "" {
		conditions = append(conditions, "symbol = "+arg(strings.ToUpper(filter.Symbol)))
	}
	if filter.Side != "" {
		conditions = append(conditions, "side = "+arg(strings.ToUpper(filter.Side)))
	}
	if filter.Start != nil {
		conditions = append(conditions, "executed_at >= "+arg(*filter.Start))
	}
	if filter.End != nil {
		conditions = append(conditions, "executed_at <= "+arg(*filter.End))
	}

	// Cursor is base64-encoded "executed_at|trade_id"
	if filter.Cursor != "" {
		cursorTS, cursorID, err := decodeCursor(filter.Cursor)
		if err != nil {
			return nil, fmt.Errorf("invalid cursor: %w", err)
		}
		conditions = append(conditions, fmt.Sprintf("(executed_at, trade_id) < (%s, %s)", arg(cursorTS), arg(cursorID)))
	}

	query := fmt.Sprintf(`
		SELECT %s
		FROM journal_trades
		WHERE %s
		ORDER BY executed_at DESC, trade_id DESC
		LIMIT %s
	`, tradeColumns, strings.Join(conditions, " AND "), arg(filter.Limit+1))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list trades: %w", err)
	}
	trades, err := pgx.CollectRows(rows, scanTrade)
	if err != nil {
		return nil, fmt.Errorf("scan trade: %w", err)
	}

	result := &TradeListResult{Trades: trades}
	if len(trades) > filter.Limit {
		result.Trades = trades[:filter.Limit]
		last := result.Trades[len(result.Trades)-1]
		result.NextCursor = encodeCursor(last.ExecutedAt, last.ID)
	}
	if result.Trades == nil {
		result.Trades = []domain.Trade{}
	}
	return result, nil
}

// TradesForRebuild returns all trades for an account in execution order,
// ties broken by insertion order.
func (r *Repository) TradesForRebuild(ctx context.Context, tx pgx.Tx, accountID string) ([]domain.Trade, error) {
	rows, err := tx.Query(ctx, `
		SELECT `+tradeColumns+`
		FROM journal_trades
		WHERE account_id = $1
		ORDER BY executed_at ASC, seq ASC
	`, accountID)
	if err != nil {
		return nil, fmt.Errorf("query trades: %w", err)
	}
	trades, err := pgx.CollectRows(rows, scanTrade)
	if err != nil {
		return nil, fmt.Errorf("scan trade: %w", err)
	}
	return trades, nil
}

func scanTrade(row pgx.CollectableRow) (domain.Trade, error) {
	var t domain.Trade
	var side string
	var notes, jobID *string
	err := row.Scan(
		&t.ID, &t.AccountID, &t.Symbol, &side, &t.Quantity, &t.Price,
		&t.ExecutedAt, &notes, &jobID, &t.IngestedAt,
	)
	if err != nil {
		return t, err
	}
	t.Side = domain.Side(side)
	if notes != nil {
		t.Notes = *notes
	}
	if jobID != nil {
		t.IngestJobID = *jobID
	}
	return t, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func encodeCursor(ts time.Time, id string) string {
	raw := fmt.Sprintf("%s|%s", ts.UTC().Format(time.RFC3339Nano), id)
	return base64.URLEncoding.EncodeToString([]byte(raw))
}

func decodeCursor(cursor string) (time.Time, string, error) {
	raw, err := base64.URLEncoding.DecodeString(cursor)
	if err != nil {
		return time.Time{}, "", fmt.Errorf("decode base64: %w", err)
	}
	parts := strings.SplitN(string(raw), "|", 2)
	if len(parts) != 2 {
		return time.Time{}, "", fmt.Errorf("invalid cursor format")
	}
	ts, err := time.Parse(time.RFC3339Nano, parts[0])
	if err != nil {
		return time.Time{}, "", fmt.Errorf("parse timestamp: %w", err)
	}
	return ts, parts[1], nil
}
