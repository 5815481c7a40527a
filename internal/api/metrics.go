package api

import (
	"errors"
	"net/http"

	"journal/internal/domain"
	"journal/internal/metrics"
	"journal/internal/timeframe"
)

// windowed is an account's closed lots cut to the requested timeframe.
type windowed struct {
	accountID string
	timeframe timeframe.Timeframe
	bounds    timeframe.Bounds
	all       []domain.ClosedLot
	lots      []domain.ClosedLot
}

// windowedLots loads the account's lots and applies ?timeframe=. Rolling
// windows are anchored on the account's latest close, not on today.
func (s *Server) windowedLots(w http.ResponseWriter, r *http.Request) (*windowed, bool) {
	tf, err := timeframe.Parse(r.URL.Query().Get("timeframe"))
	if errors.Is(err, timeframe.ErrUnknown) {
		writeError(w, http.StatusBadRequest, "invalid timeframe: must be one of 1D, 1W, 1M, 3M, 6M, 1Y, YTD, ALL")
		return nil, false
	}

	accountID, ok := s.requireAccount(w, r)
	if !ok {
		return nil, false
	}

	all, err := s.repo.ListClosedLots(r.Context(), accountID)
	if err != nil {
		s.logger.Error().Err(err).Str("account_id", accountID).Msg("list closed lots")
		writeError(w, http.StatusInternalServerError, "failed to load closed lots")
		return nil, false
	}

	bounds, lots := timeframe.Apply(tf, all, s.now(), s.loc)
	return &windowed{
		accountID: accountID,
		timeframe: tf,
		bounds:    bounds,
		all:       all,
		lots:      lots,
	}, true
}

// MetricsResponse is the response body for GET /accounts/{accountId}/metrics.
type MetricsResponse struct {
	AccountID string `json:"account_id"`
	Timeframe string `json:"timeframe"`
	timeframe.Bounds
	Timezone string           `json:"timezone"`
	HasData  bool             `json:"has_data"`
	Metrics  domain.Aggregate `json:"metrics"`
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	v, ok := s.windowedLots(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, MetricsResponse{
		AccountID: v.accountID,
		Timeframe: string(v.timeframe),
		Bounds:    v.bounds,
		Timezone:  s.loc.String(),
		HasData:   len(v.lots) > 0,
		Metrics:   metrics.Aggregate(v.lots, s.loc),
	})
}

// ChartResponse is the response body for GET /accounts/{accountId}/chart.
type ChartResponse struct {
	AccountID string `json:"account_id"`
	Timeframe string `json:"timeframe"`
	timeframe.Bounds
	Timezone string            `json:"timezone"`
	Series   []domain.DailyPnL `json:"series"`
}

// handleChart builds the series over the full history and then windows it,
// so cumulative values stay all-time totals inside any timeframe.
func (s *Server) handleChart(w http.ResponseWriter, r *http.Request) {
	v, ok := s.windowedLots(w, r)
	if !ok {
		return
	}
	series := metrics.DailySeries(v.all, s.loc)
	writeJSON(w, http.StatusOK, ChartResponse{
		AccountID: v.accountID,
		Timeframe: string(v.timeframe),
		Bounds:    v.bounds,
		Timezone:  s.loc.String(),
		Series:    timeframe.FilterSeries(series, v.bounds),
	})
}

// InsightsResponse is the response body for GET /accounts/{accountId}/insights.
type InsightsResponse struct {
	AccountID string `json:"account_id"`
	Timeframe string `json:"timeframe"`
	timeframe.Bounds
	Patterns metrics.Patterns `json:"patterns"`
}

func (s *Server) handleInsights(w http.ResponseWriter, r *http.Request) {
	v, ok := s.windowedLots(w, r)
	if !ok {
		return
	}
	series := metrics.DailySeries(v.lots, s.loc)
	writeJSON(w, http.StatusOK, InsightsResponse{
		AccountID: v.accountID,
		Timeframe: string(v.timeframe),
		Bounds:    v.bounds,
		Patterns:  metrics.AnalyzePatterns(v.lots, series, s.loc),
	})
}
