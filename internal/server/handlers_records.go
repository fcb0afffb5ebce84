package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/open-cli-collective/salesforce-sync/api"
	"github.com/open-cli-collective/salesforce-sync/api/record"
	"github.com/open-cli-collective/salesforce-sync/api/records"
	"github.com/open-cli-collective/salesforce-sync/internal/logging"
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 32 << 20

type writeResponse struct {
	ID       string `json:"id,omitempty"`
	Success  bool   `json:"success"`
	Created  *bool  `json:"created,omitempty"`
	Attempts int    `json:"attempts"`
}

type batchRequest struct {
	Records []record.Record `json:"records"`
}

type batchResponse struct {
	BatchID  string                 `json:"batch_id"`
	Total    int                    `json:"total"`
	Inserted []records.Inserted     `json:"inserted"`
	Failed   []records.FailedRecord `json:"failed"`
}

func (s *Server) handleCreateRecord(w http.ResponseWriter, r *http.Request) {
	object := chi.URLParam(r, "object")

	var rec record.Record
	if err := decodeJSON(r, &rec); err != nil {
		respondError(w, r, err)
		return
	}

	res, attempts, err := s.records.InsertWithRetry(r.Context(), object, rec)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, writeResponse{ID: res.ID, Success: true, Attempts: attempts})
}

func (s *Server) handleBatchInsert(w http.ResponseWriter, r *http.Request) {
	object := chi.URLParam(r, "object")

	var req batchRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, r, err)
		return
	}
	if len(req.Records) == 0 {
		respondError(w, r, api.NewValidationError("records", "no records to process"))
		return
	}

	batchID := uuid.NewString()
	log := logging.WithFields(r.Context(), "batch_id", batchID, "object", object)

	inserted, failed := s.records.BatchInsert(r.Context(), object, req.Records)
	log.Info("batch insert done", "inserted", len(inserted), "failed", len(failed))

	if s.ledger != nil && len(failed) > 0 {
		// The request context may be done after a cancelled batch.
		if err := s.ledger.SaveFailures(context.WithoutCancel(r.Context()), batchID, object, failed); err != nil {
			log.Warn("failed to persist failed records", "error", err)
		}
	}

	if inserted == nil {
		inserted = []records.Inserted{}
	}
	if failed == nil {
		failed = []records.FailedRecord{}
	}
	writeJSON(w, http.StatusOK, batchResponse{
		BatchID:  batchID,
		Total:    len(req.Records),
		Inserted: inserted,
		Failed:   failed,
	})
}

func (s *Server) handleUpdateRecord(w http.ResponseWriter, r *http.Request) {
	object, id := chi.URLParam(r, "object"), chi.URLParam(r, "id")

	var rec record.Record
	if err := decodeJSON(r, &rec); err != nil {
		respondError(w, r, err)
		return
	}

	attempts, err := s.records.UpdateByID(r.Context(), object, id, rec)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, writeResponse{ID: id, Success: true, Attempts: attempts})
}

func (s *Server) handleDeleteRecord(w http.ResponseWriter, r *http.Request) {
	object, id := chi.URLParam(r, "object"), chi.URLParam(r, "id")

	attempts, err := s.records.DeleteByID(r.Context(), object, id)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, writeResponse{ID: id, Success: true, Attempts: attempts})
}

func (s *Server) handleUpsertRecord(w http.ResponseWriter, r *http.Request) {
	object := chi.URLParam(r, "object")
	field, value := chi.URLParam(r, "field"), chi.URLParam(r, "value")

	var rec record.Record
	if err := decodeJSON(r, &rec); err != nil {
		respondError(w, r, err)
		return
	}

	res, attempts, err := s.records.UpsertByExternalID(r.Context(), object, field, value, rec)
	if err != nil {
		respondError(w, r, err)
		return
	}

	created := res.Created
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, writeResponse{ID: res.ID, Success: true, Created: &created, Attempts: attempts})
}

func (s *Server) handleStorage(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"available": s.records.CheckStorageHeadroom(r.Context())})
}

// decodeJSON reads a single JSON value from the request body. Malformed input
// is a validation error.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return api.NewValidationError("body", "request body is required")
		}
		return api.NewValidationError("body", "invalid JSON: "+err.Error())
	}
	return nil
}
