package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"incomes/internal/amqp"
	"incomes/internal/core"
	"incomes/internal/csvio"
	"incomes/internal/log"
)

// ImportStore is the slice of the record store the reconciler needs.
type ImportStore interface {
	ListSources(ctx context.Context, userID int64, includeInactive bool) ([]core.IncomeSource, error)
	FindRecordByKey(ctx context.Context, userID, sourceID int64, date core.Date, amount core.Money) (core.IncomeRecord, error)
	UpdateRecordNote(ctx context.Context, id int64, note string) error
	CreateRecord(ctx context.Context, rec core.IncomeRecord) (core.IncomeRecord, error)
}

// ImportPublisher announces finished imports. A nil publisher is allowed.
type ImportPublisher interface {
	PublishImportCompleted(ctx context.Context, msg *amqp.ImportCompletedMessage) error
}

// ImportResult is the aggregate outcome of one import. Errors is never nil so
// it always renders as a JSON array.
type ImportResult struct {
	BatchID  string   `json:"-"`
	Imported int      `json:"imported"`
	Skipped  int      `json:"skipped"`
	Errors   []string `json:"errors"`
}

// ImportService reconciles uploaded CSV files against the record store.
type ImportService struct {
	store     ImportStore
	publisher ImportPublisher
	logger    *log.Logger
}

func NewImportService(store ImportStore, publisher ImportPublisher, logger *log.Logger) *ImportService {
	return &ImportService{
		store:     store,
		publisher: publisher,
		logger:    logger.WithComponent(log.ComponentImport),
	}
}

// Import applies every decodable row of data to the user's records. Rows are
// matched on (source, date, amount): a match only has its note replaced, so
// replaying the same file changes nothing. Row problems are collected into the
// result. Only undecodable content or a failed source lookup fails the call.
func (s *ImportService) Import(ctx context.Context, userID int64, data []byte) (ImportResult, error) {
	result := ImportResult{BatchID: uuid.NewString(), Errors: []string{}}

	rows, err := csvio.Decode(data)
	if err != nil {
		return result, fmt.Errorf("decode csv: %w", err)
	}

	sources, err := s.store.ListSources(ctx, userID, false)
	if err != nil {
		return result, fmt.Errorf("load active sources: %w", err)
	}
	byName := make(map[string]int64, len(sources))
	for _, src := range sources {
		byName[src.Name] = src.ID
	}

	for _, row := range rows {
		if row.Err != nil {
			result.skip(row.Err.Error())
			continue
		}

		sourceID, ok := byName[row.Row.SourceName]
		if !ok {
			result.skip(fmt.Sprintf("Row %d: source '%s' not found, skipped", row.Line, row.Row.SourceName))
			continue
		}

		if err := s.apply(ctx, userID, sourceID, row.Row); err != nil {
			s.logger.WarnContext(ctx, "Import row failed",
				log.FieldBatchID, result.BatchID,
				"line", row.Line,
				log.FieldError, err)
			result.skip(fmt.Sprintf("Row %d: %v", row.Line, err))
			continue
		}
		result.Imported++
	}

	log.NewStructuredLogger(s.logger).LogImportCompleted(ctx, result.BatchID, userID, result.Imported, result.Skipped)
	s.publish(ctx, userID, result)

	return result, nil
}

// apply updates the note of the record sharing the row's natural key, or
// inserts a new record when none exists.
func (s *ImportService) apply(ctx context.Context, userID, sourceID int64, row *csvio.Row) error {
	existing, err := s.store.FindRecordByKey(ctx, userID, sourceID, row.Date, row.Amount)
	switch {
	case err == nil:
		return s.store.UpdateRecordNote(ctx, existing.ID, row.Note)
	case errors.Is(err, core.ErrNotFound):
		_, err := s.store.CreateRecord(ctx, core.IncomeRecord{
			UserID:   userID,
			SourceID: sourceID,
			Amount:   row.Amount,
			Date:     row.Date,
			Note:     row.Note,
		})
		return err
	default:
		return err
	}
}

func (s *ImportService) publish(ctx context.Context, userID int64, result ImportResult) {
	if s.publisher == nil {
		s.logger.DebugContext(ctx, "AMQP client not available, skipping import event")
		return
	}
	msg := amqp.NewImportCompletedMessage(result.BatchID, userID, result.Imported, result.Skipped)
	if err := s.publisher.PublishImportCompleted(ctx, msg); err != nil {
		// The import itself is committed; the event is informational.
		s.logger.ErrorContext(ctx, "Failed to publish import event",
			log.FieldBatchID, result.BatchID,
			log.FieldError, err)
	}
}

func (r *ImportResult) skip(msg string) {
	r.Skipped++
	r.Errors = append(r.Errors, msg)
}
