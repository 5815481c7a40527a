package api

import (
	"errors"
	"fmt"
	"net/http"
	"sort"

	json "github.com/goccy/go-json"

	"journal/internal/domain"
	"journal/internal/fifo"
	"journal/internal/ingest"
	"journal/internal/store"
)

const maxImportTrades = 1000

// ImportRequest is the request body for POST /api/v1/import.
type ImportRequest struct {
	Trades []ingest.TradeEvent `json:"trades"`
}

// ImportResponse is the response body for POST /api/v1/import.
type ImportResponse struct {
	Total      int                  `json:"total"`
	Inserted   int                  `json:"inserted"`
	Duplicates int                  `json:"duplicates"`
	Rebuilt    []store.RebuildStats `json:"rebuilt"`
}

func (s *Server) handleImportTrades(w http.ResponseWriter, r *http.Request) {
	var req ImportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err))
		return
	}

	if len(req.Trades) == 0 {
		writeError(w, http.StatusBadRequest, "trades array is empty")
		return
	}

	if len(req.Trades) > maxImportTrades {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("too many trades: max %d per request", maxImportTrades))
		return
	}

	// Validate all trades up front before inserting any
	trades := make([]domain.Trade, 0, len(req.Trades))
	for i, event := range req.Trades {
		if err := event.Validate(); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("trade[%d] (%s): %v", i, event.TradeID, err))
			return
		}
		trade, err := event.ToDomain()
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("trade[%d] (%s): %v", i, event.TradeID, err))
			return
		}
		trades = append(trades, *trade)
	}

	ctx := r.Context()
	inserted, err := s.repo.InsertTrades(ctx, trades)
	if err != nil {
		s.logger.Error().Err(err).Int("trades", len(trades)).Msg("insert imported trades")
		writeError(w, http.StatusInternalServerError, "failed to store trades")
		return
	}

	resp := ImportResponse{
		Total:      len(trades),
		Inserted:   inserted,
		Duplicates: len(trades) - inserted,
		Rebuilt:    []store.RebuildStats{},
	}
	if inserted > 0 {
		rebuilt, err := s.rebuildAccounts(r, trades)
		if err != nil {
			s.writeRebuildError(w, err)
			return
		}
		resp.Rebuilt = rebuilt
	}
	writeJSON(w, http.StatusOK, resp)
}

// rebuildAccounts recomputes the lots of every account touched by trades.
// Historic trades can land before existing ones, so nothing short of a full
// replay is correct.
func (s *Server) rebuildAccounts(r *http.Request, trades []domain.Trade) ([]store.RebuildStats, error) {
	groups := fifo.GroupByAccount(trades)
	accounts := make([]string, 0, len(groups))
	for id := range groups {
		accounts = append(accounts, id)
	}
	sort.Strings(accounts)

	out := make([]store.RebuildStats, 0, len(accounts))
	for _, id := range accounts {
		stats, err := s.repo.RebuildAccount(r.Context(), id)
		if err != nil {
			return nil, fmt.Errorf("rebuild account %s: %w", id, err)
		}
		out = append(out, *stats)
	}
	return out, nil
}

func (s *Server) writeRebuildError(w http.ResponseWriter, err error) {
	var dataErr *fifo.DataError
	if errors.As(err, &dataErr) {
		writeError(w, http.StatusUnprocessableEntity, dataErr.Error())
		return
	}
	s.logger.Error().Err(err).Msg("rebuild after import")
	writeError(w, http.StatusInternalServerError, "trades stored but rebuild failed")
}
