package api

import (
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"journal/internal/domain"
	"journal/internal/ingest"
)

const maxReportedRowErrors = 5

// RowErrorResponse reports one rejected CSV row.
type RowErrorResponse struct {
	Row     int    `json:"row"`
	Message string `json:"message"`
}

// IngestResponse is the response body for POST /api/v1/ingest.
type IngestResponse struct {
	JobID           string             `json:"job_id"`
	Status          string             `json:"status"` // "completed", "failed"
	Message         string             `json:"message"`
	TradesProcessed int                `json:"trades_processed"`
	TradesInserted  int                `json:"trades_inserted"`
	TradesFailed    int                `json:"trades_failed"`
	LotsClosed      int                `json:"lots_closed"`
	Errors          []RowErrorResponse `json:"errors,omitempty"`
}

func (s *Server) handleIngestCSV(w http.ResponseWriter, r *http.Request) {
	if !s.limiter.Allow() {
		w.Header().Set("Retry-After", "60")
		writeError(w, http.StatusTooManyRequests, "too many uploads, try again later")
		return
	}

	if r.ContentLength > s.maxUpload {
		writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("file size exceeds %d bytes", s.maxUpload))
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)
	if err := r.ParseMultipartForm(s.maxUpload); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("file size exceeds %d bytes", s.maxUpload))
			return
		}
		writeError(w, http.StatusBadRequest, "expected multipart form with a file field")
		return
	}
	defer r.MultipartForm.RemoveAll()

	template := r.FormValue("template")
	accountID := strings.TrimSpace(r.FormValue("account_id"))
	if accountID == "" {
		accountID = domain.DefaultAccount
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing file")
		return
	}
	defer file.Close()

	if !strings.EqualFold(filepath.Ext(header.Filename), ".csv") {
		writeError(w, http.StatusBadRequest, "file must be a CSV (.csv extension required)")
		return
	}

	jobID := uuid.NewString()
	logger := s.logger.With().Str("job_id", jobID).Str("template", template).Logger()

	parser, err := ingest.NewParser(template, s.loc,
		ingest.WithAccount(accountID),
		ingest.WithJobID(jobID),
		ingest.WithParserLogger(logger),
	)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid template: must be one of %s", strings.Join(ingest.Templates(), ", ")))
		return
	}

	result, err := parser.Parse(file)
	if err != nil {
		if errors.Is(err, ingest.ErrMissingColumns) || errors.Is(err, ingest.ErrEmptyFile) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusBadRequest, fmt.Sprintf("failed to parse CSV: %v", err))
		return
	}

	resp := IngestResponse{
		JobID:           jobID,
		TradesProcessed: len(result.Trades),
		TradesFailed:    len(result.Errors),
	}
	for _, rowErr := range result.Errors {
		if len(resp.Errors) == maxReportedRowErrors {
			break
		}
		resp.Errors = append(resp.Errors, RowErrorResponse{Row: rowErr.Row, Message: rowErr.Error()})
	}

	if len(result.Trades) == 0 {
		resp.Status = "failed"
		resp.Message = fmt.Sprintf("All %d trades failed validation", len(result.Errors))
		if len(result.Errors) == 0 {
			resp.Message = "CSV contains no trades"
		}
		writeJSON(w, http.StatusOK, resp)
		return
	}

	inserted, err := s.repo.InsertTrades(r.Context(), result.Trades)
	if err != nil {
		logger.Error().Err(err).Msg("insert ingested trades")
		writeError(w, http.StatusInternalServerError, "failed to store trades")
		return
	}
	resp.TradesInserted = inserted

	rebuilt, err := s.rebuildAccounts(r, result.Trades)
	if err != nil {
		s.writeRebuildError(w, err)
		return
	}
	for _, stats := range rebuilt {
		resp.LotsClosed += stats.ClosedLots
	}

	resp.Status = "completed"
	resp.Message = fmt.Sprintf("Successfully processed %d trades, generated %d closed lots", len(result.Trades), resp.LotsClosed)
	if len(result.Errors) > 0 {
		resp.Message += fmt.Sprintf(" (%d failed)", len(result.Errors))
	}

	logger.Info().
		Str("file", header.Filename).
		Int("trades", len(result.Trades)).
		Int("inserted", inserted).
		Int("failed", len(result.Errors)).
		Int("lots_closed", resp.LotsClosed).
		Msg("ingested csv")
	writeJSON(w, http.StatusOK, resp)
}

// TemplatesResponse is the response body for GET /api/v1/ingest/templates.
type TemplatesResponse struct {
	Templates []ingest.TemplateInfo `json:"templates"`
}

func (s *Server) handleListTemplates(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, TemplatesResponse{Templates: ingest.DescribeTemplates()})
}
