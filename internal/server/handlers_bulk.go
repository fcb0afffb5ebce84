package server

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/open-cli-collective/salesforce-sync/api"
	"github.com/open-cli-collective/salesforce-sync/api/bulk"
	"github.com/open-cli-collective/salesforce-sync/api/record"
	"github.com/open-cli-collective/salesforce-sync/internal/logging"
	"github.com/open-cli-collective/salesforce-sync/internal/store"
)

type ingestRequest struct {
	Object          string          `json:"object"`
	Operation       string          `json:"operation"`
	ExternalIDField string          `json:"external_id_field,omitempty"`
	FieldOrder      []string        `json:"field_order,omitempty"`
	Records         []record.Record `json:"records"`
}

type queryRequest struct {
	SOQL      string `json:"soql"`
	Operation string `json:"operation,omitempty"`
}

type submitResponse struct {
	JobID string `json:"job_id"`
}

func (s *Server) handleSubmitIngest(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, r, err)
		return
	}

	op, err := bulk.ParseOperation(req.Operation)
	if err != nil {
		respondError(w, r, api.NewValidationError("operation", err.Error()))
		return
	}

	jobID, err := s.bulk.SubmitIngest(r.Context(), bulk.IngestRequest{
		Object:          req.Object,
		Operation:       op,
		Records:         req.Records,
		ExternalIDField: req.ExternalIDField,
		FieldOrder:      req.FieldOrder,
	})
	if err != nil {
		respondError(w, r, err)
		return
	}

	s.recordJob(r, store.Job{
		ID:        jobID,
		Object:    req.Object,
		Operation: string(op),
		Kind:      store.KindIngest,
		State:     string(bulk.StateUploadComplete),
	})
	writeJSON(w, http.StatusAccepted, submitResponse{JobID: jobID})
}

func (s *Server) handleSubmitQuery(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, r, err)
		return
	}

	var op bulk.Operation
	if req.Operation != "" {
		parsed, err := bulk.ParseOperation(req.Operation)
		if err != nil {
			respondError(w, r, api.NewValidationError("operation", err.Error()))
			return
		}
		op = parsed
	}

	jobID, err := s.bulk.SubmitQuery(r.Context(), req.SOQL, op)
	if err != nil {
		respondError(w, r, err)
		return
	}

	if op == "" {
		op = bulk.OperationQuery
	}
	s.recordJob(r, store.Job{
		ID:        jobID,
		Operation: string(op),
		Kind:      store.KindQuery,
		State:     string(bulk.StateUploadComplete),
	})
	writeJSON(w, http.StatusAccepted, submitResponse{JobID: jobID})
}

func (s *Server) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	status, err := s.bulk.Status(r.Context(), id, isQuery(r))
	if err != nil {
		respondError(w, r, err)
		return
	}

	s.refreshJob(r, status)
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleJobResults(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	rs, err := s.bulk.Results(r.Context(), id, isQuery(r))
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rs)
}

func (s *Server) handleAbortJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	status, err := s.bulk.Abort(r.Context(), id, isQuery(r))
	if err != nil {
		respondError(w, r, err)
		return
	}

	s.refreshJob(r, status)
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	jobs := []store.Job{}
	if s.ledger != nil {
		limit := 0
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				respondError(w, r, api.NewValidationError("limit", "limit must be a non-negative integer"))
				return
			}
			limit = n
		}

		listed, err := s.ledger.ListJobs(r.Context(), limit)
		if err != nil {
			respondError(w, r, err)
			return
		}
		if listed != nil {
			jobs = listed
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
}

func isQuery(r *http.Request) bool {
	return r.URL.Query().Get("type") == "query"
}

// recordJob adds a submitted job to the ledger. Ledger failures are logged
// and never fail the request; the job already exists in Salesforce.
func (s *Server) recordJob(r *http.Request, job store.Job) {
	if s.ledger == nil {
		return
	}
	if err := s.ledger.RecordJob(r.Context(), job); err != nil {
		logging.FromContext(r.Context()).Warn("failed to record job", "job_id", job.ID, "error", err)
	}
}

// refreshJob brings the ledger row up to date, adding it if it was submitted
// elsewhere.
func (s *Server) refreshJob(r *http.Request, status *bulk.JobStatus) {
	if s.ledger == nil || status == nil {
		return
	}
	err := s.ledger.UpdateJob(r.Context(), status.ID, store.PatchFromStatus(status))
	if errors.Is(err, store.ErrNotFound) {
		err = s.ledger.RecordJob(r.Context(), store.JobFromStatus(status))
	}
	if err != nil {
		logging.FromContext(r.Context()).Warn("failed to refresh job", "job_id", status.ID, "error", err)
	}
}
