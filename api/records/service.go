// Package records performs single-record writes against the REST API with
// bounded retry, and chunked batch inserts gated on a storage probe.
package records

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/open-cli-collective/salesforce-sync/api"
	"github.com/open-cli-collective/salesforce-sync/api/record"
	"github.com/open-cli-collective/salesforce-sync/internal/retry"
)

// Defaults for Options.
const (
	DefaultMaxAttempts = 3
	DefaultBaseDelay   = 5 * time.Second
	DefaultChunkSize   = 200
	DefaultChunkPause  = 2 * time.Second
	DefaultProbeObject = "Account"
)

// StorageLimitMessage is the failure message recorded for records that were
// never attempted because the org is out of data storage.
const StorageLimitMessage = "storage limit exceeded"

// RecordAPI is the subset of *api.Client the service writes through.
type RecordAPI interface {
	CreateRecord(ctx context.Context, objectName string, rec record.Record) (*api.RecordResult, error)
	UpdateRecord(ctx context.Context, objectName, recordID string, rec record.Record) error
	UpsertRecord(ctx context.Context, objectName, externalIDField, externalID string, rec record.Record) (*api.RecordResult, error)
	DeleteRecord(ctx context.Context, objectName, recordID string) error
}

// Options tunes a Service. Zero values take the defaults above.
type Options struct {
	MaxAttempts int
	BaseDelay   time.Duration
	ChunkSize   int
	ChunkPause  time.Duration

	// ProbeObject is the SObject created and deleted by CheckStorageHeadroom.
	ProbeObject string

	Logger *slog.Logger
	Now    func() time.Time
}

// Service performs retried single-record operations.
type Service struct {
	client      RecordAPI
	maxAttempts int
	baseDelay   time.Duration
	chunkSize   int
	chunkPause  time.Duration
	probeObject string
	logger      *slog.Logger
	now         func() time.Time
}

// New returns a Service writing through client.
func New(client RecordAPI, opts Options) *Service {
	s := &Service{
		client:      client,
		maxAttempts: opts.MaxAttempts,
		baseDelay:   opts.BaseDelay,
		chunkSize:   opts.ChunkSize,
		chunkPause:  opts.ChunkPause,
		probeObject: opts.ProbeObject,
		logger:      opts.Logger,
		now:         opts.Now,
	}
	if s.maxAttempts <= 0 {
		s.maxAttempts = DefaultMaxAttempts
	}
	if s.baseDelay < 0 {
		s.baseDelay = 0
	}
	if s.chunkSize <= 0 {
		s.chunkSize = DefaultChunkSize
	}
	if s.chunkPause < 0 {
		s.chunkPause = 0
	}
	if s.probeObject == "" {
		s.probeObject = DefaultProbeObject
	}
	if s.logger == nil {
		s.logger = slog.New(slog.DiscardHandler)
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// Retryable reports whether a failed write is worth another attempt. Every
// failure is retried except a storage limit, a deleted entity or a request
// rejected before it was sent.
func Retryable(err error) bool {
	return !api.IsStorageLimit(err) && !api.IsEntityDeleted(err) && !api.IsValidation(err)
}

func (s *Service) policy(op, object string) retry.Policy {
	return retry.Policy{
		MaxAttempts: s.maxAttempts,
		BaseDelay:   s.baseDelay,
		Retryable:   Retryable,
		OnRetry: func(attempt int, err error) {
			s.logger.Warn("retrying record operation",
				"operation", op,
				"object", object,
				"attempt", attempt,
				"next_delay", s.baseDelay*time.Duration(attempt),
				"error", err)
		},
	}
}

// CheckStorageHeadroom creates and deletes a throwaway probe record. It
// returns false if the create fails for any reason; only a storage-limit
// failure is expected, anything else is logged.
func (s *Service) CheckStorageHeadroom(ctx context.Context) bool {
	probe := record.New(record.Field{Name: "Name", Value: "Storage_Probe_" + uuid.NewString()})

	res, err := s.client.CreateRecord(ctx, s.probeObject, probe)
	if err != nil {
		if api.IsStorageLimit(err) {
			s.logger.Warn("storage probe rejected: org is out of data storage")
		} else {
			s.logger.Warn("storage probe failed", "object", s.probeObject, "error", err)
		}
		return false
	}

	if res.ID != "" {
		if err := s.client.DeleteRecord(ctx, s.probeObject, res.ID); err != nil {
			s.logger.Warn("failed to delete storage probe", "id", res.ID, "error", err)
		}
	}
	return true
}

// InsertWithRetry creates rec, retrying transient failures. It returns the
// number of attempts made.
func (s *Service) InsertWithRetry(ctx context.Context, object string, rec record.Record) (*api.RecordResult, int, error) {
	if err := validateObject(object); err != nil {
		return nil, 0, err
	}

	var res *api.RecordResult
	attempts, err := s.policy("insert", object).Do(ctx, func(ctx context.Context, _ int) error {
		var err error
		res, err = s.client.CreateRecord(ctx, object, rec)
		return err
	})
	if err != nil {
		return nil, attempts, fmt.Errorf("failed to create %s: %w", object, err)
	}
	return res, attempts, nil
}

// UpdateByID updates the record with the given id, retrying transient
// failures.
func (s *Service) UpdateByID(ctx context.Context, object, id string, rec record.Record) (int, error) {
	if err := validateTarget(object, id); err != nil {
		return 0, err
	}

	attempts, err := s.policy("update", object).Do(ctx, func(ctx context.Context, _ int) error {
		return s.client.UpdateRecord(ctx, object, id, rec)
	})
	if err != nil {
		return attempts, fmt.Errorf("failed to update %s %s: %w", object, id, err)
	}
	return attempts, nil
}

// DeleteByID deletes the record with the given id, retrying transient
// failures.
func (s *Service) DeleteByID(ctx context.Context, object, id string) (int, error) {
	if err := validateTarget(object, id); err != nil {
		return 0, err
	}

	attempts, err := s.policy("delete", object).Do(ctx, func(ctx context.Context, _ int) error {
		return s.client.DeleteRecord(ctx, object, id)
	})
	if err != nil {
		return attempts, fmt.Errorf("failed to delete %s %s: %w", object, id, err)
	}
	return attempts, nil
}

// UpsertByExternalID creates or updates the record matched on field=value.
func (s *Service) UpsertByExternalID(ctx context.Context, object, field, value string, rec record.Record) (*api.RecordResult, int, error) {
	if err := validateObject(object); err != nil {
		return nil, 0, err
	}
	if strings.TrimSpace(field) == "" {
		return nil, 0, api.NewValidationError("external_id_field", "external ID field is required")
	}
	if strings.TrimSpace(value) == "" {
		return nil, 0, api.NewValidationError("external_id", "external ID value is required")
	}

	// The match key travels in the URL; Salesforce rejects it in the body.
	body := rec.Clone()
	body.Delete(field)

	var res *api.RecordResult
	attempts, err := s.policy("upsert", object).Do(ctx, func(ctx context.Context, _ int) error {
		var err error
		res, err = s.client.UpsertRecord(ctx, object, field, value, body)
		return err
	})
	if err != nil {
		return nil, attempts, fmt.Errorf("failed to upsert %s %s=%s: %w", object, field, value, err)
	}
	return res, attempts, nil
}

func validateObject(object string) error {
	if strings.TrimSpace(object) == "" {
		return api.NewValidationError("object", "object name is required")
	}
	return nil
}

func validateTarget(object, id string) error {
	if err := validateObject(object); err != nil {
		return err
	}
	if strings.TrimSpace(id) == "" {
		return api.NewValidationError("id", "record ID is required")
	}
	return nil
}
