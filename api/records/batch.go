package records

import (
	"context"
	"time"

	"github.com/open-cli-collective/salesforce-sync/api"
	"github.com/open-cli-collective/salesforce-sync/api/record"
)

// Inserted is a record created by BatchInsert.
type Inserted struct {
	Index    int    `json:"index"`
	ID       string `json:"id"`
	Attempts int    `json:"attempts"`
}

// FailedRecord is a record BatchInsert could not create.
type FailedRecord struct {
	Index        int           `json:"index"`
	Record       record.Record `json:"original_record"`
	ErrorMessage string        `json:"error_message"`
	ErrorCode    string        `json:"error_code,omitempty"`
	Timestamp    time.Time     `json:"timestamp"`
	RetryCount   int           `json:"retry_count"`
}

// BatchInsert creates recs one at a time in chunks, pausing between chunks.
// It probes storage once up front; if the probe fails nothing is created and
// every record is reported failed. A storage-limit error mid-batch fails that
// record and all remaining ones without further calls.
func (s *Service) BatchInsert(ctx context.Context, object string, recs []record.Record) ([]Inserted, []FailedRecord) {
	if len(recs) == 0 {
		return nil, nil
	}

	if err := validateObject(object); err != nil {
		return nil, s.failRange(recs, 0, err.Error(), "", 0)
	}

	log := s.logger.With("object", object, "records", len(recs))

	if !s.CheckStorageHeadroom(ctx) {
		log.Warn("skipping batch insert: storage probe failed")
		return nil, s.failRange(recs, 0, StorageLimitMessage, api.CodeStorageLimitExceeded, 0)
	}

	var (
		inserted []Inserted
		failed   []FailedRecord
	)

	for start := 0; start < len(recs); start += s.chunkSize {
		if start > 0 {
			if err := sleep(ctx, s.chunkPause); err != nil {
				failed = append(failed, s.failRange(recs, start, err.Error(), "", 0)...)
				return inserted, failed
			}
		}

		end := min(start+s.chunkSize, len(recs))
		log.Debug("inserting chunk", "start", start, "end", end)

		for i := start; i < end; i++ {
			if err := ctx.Err(); err != nil {
				failed = append(failed, s.failRange(recs, i, err.Error(), "", 0)...)
				return inserted, failed
			}

			res, attempts, err := s.InsertWithRetry(ctx, object, recs[i])
			if err != nil {
				if api.IsStorageLimit(err) {
					log.Warn("storage limit reached, failing remaining records", "index", i)
					failed = append(failed, s.failRange(recs, i, StorageLimitMessage, api.CodeStorageLimitExceeded, attempts-1)...)
					return inserted, failed
				}
				failed = append(failed, s.failure(i, recs[i], err, attempts))
				continue
			}
			inserted = append(inserted, Inserted{Index: i, ID: res.ID, Attempts: attempts})
		}
	}

	log.Info("batch insert finished", "inserted", len(inserted), "failed", len(failed))
	return inserted, failed
}

func (s *Service) failure(index int, rec record.Record, err error, attempts int) FailedRecord {
	return FailedRecord{
		Index:        index,
		Record:       rec,
		ErrorMessage: err.Error(),
		ErrorCode:    api.ErrorCode(err),
		Timestamp:    s.now().UTC(),
		RetryCount:   max(attempts-1, 0),
	}
}

// failRange fails recs[from:]; the first gets retries, the rest were never
// attempted.
func (s *Service) failRange(recs []record.Record, from int, msg, code string, retries int) []FailedRecord {
	ts := s.now().UTC()
	out := make([]FailedRecord, 0, len(recs)-from)
	for i := from; i < len(recs); i++ {
		rc := 0
		if i == from {
			rc = max(retries, 0)
		}
		out = append(out, FailedRecord{
			Index:        i,
			Record:       recs[i],
			ErrorMessage: msg,
			ErrorCode:    code,
			Timestamp:    ts,
			RetryCount:   rc,
		})
	}
	return out
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
