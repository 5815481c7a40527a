package fifo

import (
	"context"
	"fmt"
	"sync"

	"github.com/sourcegraph/conc/pool"

	"journal/internal/domain"
)

// GroupByAccount splits trades by account id, keeping input order within
// each group. Trades without an account go to domain.DefaultAccount.
func GroupByAccount(trades []domain.Trade) map[string][]domain.Trade {
	groups := make(map[string][]domain.Trade)
	for _, t := range trades {
		account := t.AccountID
		if account == "" {
			account = domain.DefaultAccount
		}
		groups[account] = append(groups[account], t)
	}
	return groups
}

// MatchAccounts runs Match independently for every account, up to workers
// runs at a time. Runs share no state.
func MatchAccounts(ctx context.Context, trades []domain.Trade, workers int, opts ...Option) (map[string]*Result, error) {
	if workers < 1 {
		workers = 1
	}

	groups := GroupByAccount(trades)
	results := make(map[string]*Result, len(groups))
	var mu sync.Mutex

	p := pool.New().WithContext(ctx).WithCancelOnError().WithMaxGoroutines(workers)
	for account, group := range groups {
		p.Go(func(ctx context.Context) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			res, err := Match(group, opts...)
			if err != nil {
				return fmt.Errorf("match account %s: %w", account, err)
			}
			mu.Lock()
			results[account] = res
			mu.Unlock()
			return nil
		})
	}

	if err := p.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
