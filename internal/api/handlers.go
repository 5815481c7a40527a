package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"journal/internal/domain"
	"journal/internal/fifo"
	"journal/internal/store"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.repo.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "error",
			"error":  "database unreachable",
		})
		return
	}

	if s.nc != nil && !s.nc.IsConnected() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "error",
			"error":  "NATS disconnected",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := s.repo.ListAccounts(r.Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("list accounts")
		writeError(w, http.StatusInternalServerError, "failed to list accounts")
		return
	}
	writeJSON(w, http.StatusOK, accounts)
}

// requireAccount resolves the {accountId} path parameter. The default
// portfolio always exists, even before anything was imported into it.
func (s *Server) requireAccount(w http.ResponseWriter, r *http.Request) (string, bool) {
	accountID := chi.URLParam(r, "accountId")
	if accountID == domain.DefaultAccount {
		return accountID, true
	}

	exists, err := s.repo.AccountExists(r.Context(), accountID)
	if err != nil {
		s.logger.Error().Err(err).Str("account_id", accountID).Msg("check account")
		writeError(w, http.StatusInternalServerError, "failed to check account")
		return "", false
	}
	if !exists {
		writeError(w, http.StatusNotFound, "account not found")
		return "", false
	}
	return accountID, true
}

// LotsResponse is the response body for GET /accounts/{accountId}/lots.
type LotsResponse struct {
	AccountID string             `json:"account_id"`
	Timeframe string             `json:"timeframe"`
	Lots      []domain.ClosedLot `json:"lots"`
}

func (s *Server) handleListLots(w http.ResponseWriter, r *http.Request) {
	v, ok := s.windowedLots(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, LotsResponse{
		AccountID: v.accountID,
		Timeframe: string(v.timeframe),
		Lots:      v.lots,
	})
}

// PositionsResponse is the response body for GET /accounts/{accountId}/positions.
type PositionsResponse struct {
	AccountID string                `json:"account_id"`
	Positions []domain.OpenPosition `json:"positions"`
	Lots      []domain.OpenLot      `json:"lots"`
}

func (s *Server) handleListPositions(w http.ResponseWriter, r *http.Request) {
	accountID, ok := s.requireAccount(w, r)
	if !ok {
		return
	}

	open, err := s.repo.ListOpenLots(r.Context(), accountID)
	if err != nil {
		s.logger.Error().Err(err).Str("account_id", accountID).Msg("list open lots")
		writeError(w, http.StatusInternalServerError, "failed to list positions")
		return
	}
	writeJSON(w, http.StatusOK, PositionsResponse{
		AccountID: accountID,
		Positions: fifo.Summarize(open),
		Lots:      open,
	})
}

func (s *Server) handleListTrades(w http.ResponseWriter, r *http.Request) {
	accountID, ok := s.requireAccount(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()

	filter := store.TradeFilter{
		Symbol: q.Get("symbol"),
		Side:   q.Get("side"),
		Cursor: q.Get("cursor"),
	}

	if side := filter.Side; side != "" {
		if _, err := domain.ParseSide(side); err != nil {
			writeError(w, http.StatusBadRequest, "invalid side: must be BUY or SELL")
			return
		}
	}

	if limitStr := q.Get("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		filter.Limit = limit
	}

	if startStr := q.Get("start"); startStr != "" {
		t, err := time.Parse(time.RFC3339, startStr)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid start time")
			return
		}
		filter.Start = &t
	}

	if endStr := q.Get("end"); endStr != "" {
		t, err := time.Parse(time.RFC3339, endStr)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid end time")
			return
		}
		filter.End = &t
	}

	result, err := s.repo.ListTrades(r.Context(), accountID, filter)
	if err != nil {
		if strings.Contains(err.Error(), "invalid cursor") {
			writeError(w, http.StatusBadRequest, "invalid cursor")
			return
		}
		s.logger.Error().Err(err).Str("account_id", accountID).Msg("list trades")
		writeError(w, http.StatusInternalServerError, "failed to list trades")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleRebuild(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountId")

	stats, err := s.repo.RebuildAccount(r.Context(), accountID)
	if errors.Is(err, store.ErrNotFound) {
		// The default account exists before its first import.
		if accountID == domain.DefaultAccount {
			writeJSON(w, http.StatusOK, store.RebuildStats{AccountID: accountID})
			return
		}
		writeError(w, http.StatusNotFound, "account not found")
		return
	}
	var dataErr *fifo.DataError
	if errors.As(err, &dataErr) {
		writeError(w, http.StatusUnprocessableEntity, dataErr.Error())
		return
	}
	if err != nil {
		s.logger.Error().Err(err).Str("account_id", accountID).Msg("rebuild account")
		writeError(w, http.StatusInternalServerError, "failed to rebuild account")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
