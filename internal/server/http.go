// Package server is the status & download gateway: the HTTP+JSON surface
// for submit, list, poll, download, and delete, with tenant isolation and
// state preconditions enforced before anything touches storage.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/worksuite/exportd/constants"
	"github.com/worksuite/exportd/internal/common"
	"github.com/worksuite/exportd/internal/entity"
	"github.com/worksuite/exportd/internal/export"
	"github.com/worksuite/exportd/internal/tenant"
)

// Server wires the export service to HTTP.
type Server struct {
	svc          *export.Service
	authorizer   tenant.Authorizer
	limiter      *tenantLimiter
	submitSchema *jsonschema.Schema
	logger       *slog.Logger
}

// Config holds gateway policy knobs.
type Config struct {
	PollRatePerSec float64
	PollBurst      int
}

func New(svc *export.Service, authorizer tenant.Authorizer, cfg Config, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}
	schema, err := compileSubmitSchema()
	if err != nil {
		return nil, err
	}
	return &Server{
		svc:          svc,
		authorizer:   authorizer,
		limiter:      newTenantLimiter(cfg.PollRatePerSec, cfg.PollBurst),
		submitSchema: schema,
		logger:       logger,
	}, nil
}

// Routes returns the gateway mux.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	wrap := func(h http.HandlerFunc) http.HandlerFunc {
		return s.withRequestID(s.withTenant(s.withLogging(s.withRateLimit(h))))
	}
	mux.HandleFunc("POST /v1/exports", wrap(s.handleSubmit))
	mux.HandleFunc("GET /v1/exports", wrap(s.handleList))
	mux.HandleFunc("GET /v1/exports/{id}", wrap(s.handlePoll))
	mux.HandleFunc("GET /v1/exports/{id}/download", wrap(s.handleDownload))
	mux.HandleFunc("DELETE /v1/exports/{id}", wrap(s.handleDelete))
	mux.HandleFunc("GET /healthz", s.handleHealth)
	return mux
}

type submitRequest struct {
	DateRange    string `json:"date_range"`
	IncludeFiles bool   `json:"include_files"`
	IncludePII   bool   `json:"include_pii"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<16))
	if err != nil {
		writeError(w, fmt.Errorf("%w: body read: %v", common.ErrInvalidFilter, err))
		return
	}
	if err := validateSubmitBody(s.submitSchema, body); err != nil {
		writeError(w, fmt.Errorf("%w: %v", common.ErrInvalidFilter, err))
		return
	}
	var req submitRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, fmt.Errorf("%w: %v", common.ErrInvalidFilter, err))
		return
	}

	view, err := s.svc.Submit(r.Context(), entity.ExportFilters{
		DateRange:    constants.DateRange(req.DateRange),
		IncludeFiles: req.IncludeFiles,
		IncludePII:   req.IncludePII,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, view)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	views, err := s.svc.List(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"exports": views})
}

func (s *Server) handlePoll(w http.ResponseWriter, r *http.Request) {
	jobID, err := jobIDFromPath(r)
	if err != nil {
		writeError(w, err)
		return
	}
	view, err := s.svc.Poll(r.Context(), jobID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	jobID, err := jobIDFromPath(r)
	if err != nil {
		writeError(w, err)
		return
	}
	rc, info, err := s.svc.Download(r.Context(), jobID)
	if err != nil {
		writeError(w, err)
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", info.Filename))
	w.Header().Set("Content-Length", fmt.Sprintf("%d", info.SizeBytes))
	// Stream straight from the artifact store; the archive is never
	// buffered whole in the gateway.
	if _, err := io.Copy(w, rc); err != nil {
		s.logger.Warn("download stream interrupted", "job_id", jobID, "error", err)
	}
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	jobID, err := jobIDFromPath(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.svc.Delete(r.Context(), jobID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func jobIDFromPath(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		// Malformed ids are indistinguishable from missing jobs.
		return uuid.Nil, common.ErrNotFound
	}
	return id, nil
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, err error) {
	code := common.CodeFor(err)
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, common.ErrInvalidFilter):
		status = http.StatusBadRequest
	case errors.Is(err, common.ErrForbidden):
		status = http.StatusForbidden
	case errors.Is(err, common.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, common.ErrConcurrencyLimit), errors.Is(err, common.ErrNotReady):
		status = http.StatusConflict
	case errors.Is(err, common.ErrExpired):
		status = http.StatusGone
	case errors.Is(err, common.ErrRateLimited):
		status = http.StatusTooManyRequests
	}

	msg := err.Error()
	if status == http.StatusInternalServerError {
		// Never leak internals to clients.
		msg = "internal error"
	}
	writeJSON(w, status, errorBody{Code: code, Message: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
