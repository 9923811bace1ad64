package services

import (
	"context"
	"fmt"
	"strings"

	"incomes/internal/cache"
	"incomes/internal/core"
	"incomes/internal/log"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// IncomeStore is the persistence IncomeService needs.
type IncomeStore interface {
	ListSources(ctx context.Context, userID int64, includeInactive bool) ([]core.IncomeSource, error)
	GetSource(ctx context.Context, userID, id int64) (core.IncomeSource, error)
	CreateSource(ctx context.Context, s core.IncomeSource) (core.IncomeSource, error)
	UpdateSource(ctx context.Context, s core.IncomeSource) (core.IncomeSource, error)
	DeleteSource(ctx context.Context, userID, id int64) error

	ListRecords(ctx context.Context, userID int64, f core.RecordFilter, page, pageSize int) (core.RecordPage, error)
	ExportRecords(ctx context.Context, userID int64, f core.RecordFilter) ([]core.IncomeRecord, error)
	GetRecord(ctx context.Context, userID, id int64) (core.IncomeRecord, error)
	CreateRecord(ctx context.Context, rec core.IncomeRecord) (core.IncomeRecord, error)
	UpdateRecord(ctx context.Context, rec core.IncomeRecord) (core.IncomeRecord, error)
	DeleteRecord(ctx context.Context, userID, id int64) error

	YearlyTrend(ctx context.Context, userID int64, year int) ([]core.MonthTotal, error)
	MonthlyBreakdown(ctx context.Context, userID int64, year, month int) ([]core.SourceShare, error)
	AnnualTotals(ctx context.Context, userID int64) ([]core.YearTotal, error)
}

// SourcePatch carries the fields of a partial source update; nil means unchanged.
type SourcePatch struct {
	Name      *string
	Icon      *string
	Active    *bool
	SortOrder *int
}

// IncomeService owns source and record management plus the statistics views.
// Statistics are cached per user and dropped whenever that user's data changes.
type IncomeService struct {
	store  IncomeStore
	stats  cache.Cache[any]
	logger *log.Logger
	events *log.StructuredLogger
}

func NewIncomeService(store IncomeStore, stats cache.Cache[any], logger *log.Logger) *IncomeService {
	return &IncomeService{
		store:  store,
		stats:  stats,
		logger: logger.WithComponent(log.ComponentIncome),
		events: log.NewStructuredLogger(logger),
	}
}

// Sources

func (s *IncomeService) ListSources(ctx context.Context, userID int64, includeInactive bool) ([]core.IncomeSource, error) {
	return s.store.ListSources(ctx, userID, includeInactive)
}

func (s *IncomeService) CreateSource(ctx context.Context, src core.IncomeSource) (core.IncomeSource, error) {
	src.Name = strings.TrimSpace(src.Name)
	if err := src.Validate(); err != nil {
		return core.IncomeSource{}, err
	}
	created, err := s.store.CreateSource(ctx, src)
	if err != nil {
		return core.IncomeSource{}, err
	}
	s.logger.InfoContext(ctx, "Income source created",
		log.FieldUserID, created.UserID, log.FieldSourceID, created.ID, "name", created.Name)
	return created, nil
}

// UpdateSource applies a partial update to a source owned by userID.
func (s *IncomeService) UpdateSource(ctx context.Context, userID, id int64, patch SourcePatch) (core.IncomeSource, error) {
	src, err := s.store.GetSource(ctx, userID, id)
	if err != nil {
		return core.IncomeSource{}, err
	}
	if patch.Name != nil {
		src.Name = strings.TrimSpace(*patch.Name)
	}
	if patch.Icon != nil {
		src.Icon = *patch.Icon
	}
	if patch.Active != nil {
		src.Active = *patch.Active
	}
	if patch.SortOrder != nil {
		src.SortOrder = *patch.SortOrder
	}
	if err := src.Validate(); err != nil {
		return core.IncomeSource{}, err
	}
	updated, err := s.store.UpdateSource(ctx, src)
	if err != nil {
		return core.IncomeSource{}, err
	}
	// Source names appear in the breakdown view.
	s.InvalidateStats(userID)
	return updated, nil
}

func (s *IncomeService) DeleteSource(ctx context.Context, userID, id int64) error {
	if err := s.store.DeleteSource(ctx, userID, id); err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "Income source deleted", log.FieldUserID, userID, log.FieldSourceID, id)
	return nil
}

// Records

// ListRecords returns one page of records. Page numbers below 1 become 1 and
// page sizes are clamped to [1, MaxPageSize].
func (s *IncomeService) ListRecords(ctx context.Context, userID int64, f core.RecordFilter, page, pageSize int) (core.RecordPage, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = DefaultPageSize
	}
	if pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}
	return s.store.ListRecords(ctx, userID, f, page, pageSize)
}

func (s *IncomeService) ExportRecords(ctx context.Context, userID int64, f core.RecordFilter) ([]core.IncomeRecord, error) {
	return s.store.ExportRecords(ctx, userID, f)
}

func (s *IncomeService) GetRecord(ctx context.Context, userID, id int64) (core.IncomeRecord, error) {
	return s.store.GetRecord(ctx, userID, id)
}

func (s *IncomeService) CreateRecord(ctx context.Context, rec core.IncomeRecord) (core.IncomeRecord, error) {
	rec.Note = strings.TrimSpace(rec.Note)
	if err := rec.Validate(); err != nil {
		return core.IncomeRecord{}, err
	}
	created, err := s.store.CreateRecord(ctx, rec)
	if err != nil {
		return core.IncomeRecord{}, err
	}
	s.InvalidateStats(rec.UserID)
	s.events.LogRecordCreated(ctx, created.UserID, created.ID, created.SourceID, created.Amount.Cents)
	return created, nil
}

func (s *IncomeService) UpdateRecord(ctx context.Context, rec core.IncomeRecord) (core.IncomeRecord, error) {
	rec.Note = strings.TrimSpace(rec.Note)
	if err := rec.Validate(); err != nil {
		return core.IncomeRecord{}, err
	}
	updated, err := s.store.UpdateRecord(ctx, rec)
	if err != nil {
		return core.IncomeRecord{}, err
	}
	s.InvalidateStats(rec.UserID)
	return updated, nil
}

func (s *IncomeService) DeleteRecord(ctx context.Context, userID, id int64) error {
	if err := s.store.DeleteRecord(ctx, userID, id); err != nil {
		return err
	}
	s.InvalidateStats(userID)
	s.logger.InfoContext(ctx, "Income record deleted", log.FieldUserID, userID, log.FieldRecordID, id)
	return nil
}

// Statistics

func (s *IncomeService) YearlyTrend(ctx context.Context, userID int64, year int) ([]core.MonthTotal, error) {
	return cached(s, statsKey(userID, "trend", year), func() ([]core.MonthTotal, error) {
		return s.store.YearlyTrend(ctx, userID, year)
	})
}

func (s *IncomeService) MonthlyBreakdown(ctx context.Context, userID int64, year, month int) ([]core.SourceShare, error) {
	if month < 1 || month > 12 {
		return nil, core.ErrInvalidMonth
	}
	return cached(s, statsKey(userID, "breakdown", year*100+month), func() ([]core.SourceShare, error) {
		return s.store.MonthlyBreakdown(ctx, userID, year, month)
	})
}

func (s *IncomeService) AnnualTotals(ctx context.Context, userID int64) ([]core.YearTotal, error) {
	return cached(s, statsKey(userID, "totals", 0), func() ([]core.YearTotal, error) {
		return s.store.AnnualTotals(ctx, userID)
	})
}

// InvalidateStats drops every cached statistic of the user.
func (s *IncomeService) InvalidateStats(userID int64) {
	if s.stats == nil {
		return
	}
	if n := s.stats.DeletePrefix(userPrefix(userID)); n > 0 {
		s.logger.Debug("Stats cache invalidated", log.FieldUserID, userID, "entries", n)
	}
}

func cached[T any](s *IncomeService, key string, load func() (T, error)) (T, error) {
	if s.stats != nil {
		if v, ok := s.stats.Get(key); ok {
			if typed, ok := v.(T); ok {
				return typed, nil
			}
		}
	}
	v, err := load()
	if err != nil {
		var zero T
		return zero, err
	}
	if s.stats != nil {
		s.stats.Set(key, v)
	}
	return v, nil
}

func userPrefix(userID int64) string {
	return fmt.Sprintf("u%d:", userID)
}

func statsKey(userID int64, view string, arg int) string {
	return fmt.Sprintf("%s%s:%d", userPrefix(userID), view, arg)
}
