package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"incomes/internal/core"
)

// timestampLayout matches SQLite's CURRENT_TIMESTAMP rendering (UTC).
const timestampLayout = "2006-01-02 15:04:05"

// connParams enables foreign keys and waits on a locked database instead of
// failing immediately. WAL stays off so the database remains a single file.
const connParams = "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"

type SQLiteRepository struct {
	db            *sql.DB
	queries       *Queries
	path          string
	schemaVersion uint
}

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	// Migrate before the pool hands out connections.
	version, err := RunMigrations(dbPath)
	if err != nil {
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+connParams)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &SQLiteRepository{
		db:            db,
		queries:       New(db),
		path:          dbPath,
		schemaVersion: version,
	}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// Path returns the database file location, the source of every backup.
func (r *SQLiteRepository) Path() string {
	return r.path
}

// SchemaVersion is the migration version applied when the repository opened.
func (r *SQLiteRepository) SchemaVersion() uint {
	return r.schemaVersion
}

// Ping reports whether the database is reachable.
func (r *SQLiteRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Users

func (r *SQLiteRepository) CreateUser(ctx context.Context, u core.User) (core.User, error) {
	if u.Role == "" {
		u.Role = core.RoleUser
	}
	row, err := r.queries.CreateUser(ctx, CreateUserParams{
		Username:     u.Username,
		Email:        u.Email,
		PasswordHash: u.PasswordHash,
		Role:         string(u.Role),
	})
	if err != nil {
		return core.User{}, fmt.Errorf("create user %s: %w", u.Username, err)
	}
	slog.InfoContext(ctx, "User created", "user_id", row.ID, "username", row.Username, "role", row.Role)
	return toUser(row), nil
}

func (r *SQLiteRepository) GetUserByID(ctx context.Context, id int64) (core.User, error) {
	row, err := r.queries.GetUser(ctx, id)
	if err != nil {
		return core.User{}, notFound(err, "get user %d", id)
	}
	return toUser(row), nil
}

func (r *SQLiteRepository) GetUserByUsername(ctx context.Context, username string) (core.User, error) {
	row, err := r.queries.GetUserByUsername(ctx, username)
	if err != nil {
		return core.User{}, notFound(err, "get user %s", username)
	}
	return toUser(row), nil
}

func (r *SQLiteRepository) UpdatePassword(ctx context.Context, userID int64, hash string) error {
	n, err := r.queries.UpdateUserPassword(ctx, userID, hash)
	if err != nil {
		return fmt.Errorf("update password for user %d: %w", userID, err)
	}
	if n == 0 {
		return core.ErrNotFound
	}
	return nil
}

// SetUserActive enables or disables an account. Disabled accounts cannot log in.
func (r *SQLiteRepository) SetUserActive(ctx context.Context, userID int64, active bool) error {
	n, err := r.queries.SetUserActive(ctx, userID, active)
	if err != nil {
		return fmt.Errorf("set active for user %d: %w", userID, err)
	}
	if n == 0 {
		return core.ErrNotFound
	}
	return nil
}

// Income sources

// ListSources returns the user's sources ordered by sort order then id.
func (r *SQLiteRepository) ListSources(ctx context.Context, userID int64, includeInactive bool) ([]core.IncomeSource, error) {
	rows, err := r.queries.ListSources(ctx, userID, includeInactive)
	if err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}
	out := make([]core.IncomeSource, len(rows))
	for i, s := range rows {
		out[i] = toSource(s)
	}
	return out, nil
}

func (r *SQLiteRepository) GetSource(ctx context.Context, userID, id int64) (core.IncomeSource, error) {
	row, err := r.queries.GetSource(ctx, userID, id)
	if err != nil {
		return core.IncomeSource{}, notFound(err, "get source %d", id)
	}
	return toSource(row), nil
}

func (r *SQLiteRepository) CreateSource(ctx context.Context, s core.IncomeSource) (core.IncomeSource, error) {
	row, err := r.queries.CreateSource(ctx, CreateSourceParams{
		UserID:    s.UserID,
		Name:      s.Name,
		Icon:      s.Icon,
		IsActive:  s.Active,
		SortOrder: int64(s.SortOrder),
	})
	if err != nil {
		if isUniqueViolation(err) {
			return core.IncomeSource{}, core.ErrDuplicateSource
		}
		return core.IncomeSource{}, fmt.Errorf("create source %s: %w", s.Name, err)
	}
	return toSource(row), nil
}

func (r *SQLiteRepository) UpdateSource(ctx context.Context, s core.IncomeSource) (core.IncomeSource, error) {
	row, err := r.queries.UpdateSource(ctx, UpdateSourceParams{
		ID:        s.ID,
		UserID:    s.UserID,
		Name:      s.Name,
		Icon:      s.Icon,
		IsActive:  s.Active,
		SortOrder: int64(s.SortOrder),
	})
	if err != nil {
		if isUniqueViolation(err) {
			return core.IncomeSource{}, core.ErrDuplicateSource
		}
		return core.IncomeSource{}, notFound(err, "update source %d", s.ID)
	}
	return toSource(row), nil
}

// DeleteSource removes a source that owns no records. Sources with records
// must be deactivated instead.
func (r *SQLiteRepository) DeleteSource(ctx context.Context, userID, id int64) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()
	q := r.queries.WithTx(tx)

	if _, err := q.GetSource(ctx, userID, id); err != nil {
		return notFound(err, "get source %d", id)
	}
	n, err := q.CountSourceRecords(ctx, id)
	if err != nil {
		return fmt.Errorf("count records of source %d: %w", id, err)
	}
	if n > 0 {
		return core.ErrSourceInUse
	}
	if _, err := q.DeleteSource(ctx, userID, id); err != nil {
		return fmt.Errorf("delete source %d: %w", id, err)
	}
	return tx.Commit()
}

// Income records

// ListRecords returns one page of the user's records, newest date first.
// Page is 1-based.
func (r *SQLiteRepository) ListRecords(ctx context.Context, userID int64, f core.RecordFilter, page, pageSize int) (core.RecordPage, error) {
	params := filterParams(userID, f)
	total, err := r.queries.CountRecords(ctx, params)
	if err != nil {
		return core.RecordPage{}, fmt.Errorf("count records: %w", err)
	}
	rows, err := r.queries.ListRecords(ctx, params, int64(pageSize), int64((page-1)*pageSize))
	if err != nil {
		return core.RecordPage{}, fmt.Errorf("list records: %w", err)
	}
	return core.RecordPage{
		Total:    int(total),
		Page:     page,
		PageSize: pageSize,
		Items:    toRecords(rows),
	}, nil
}

// ExportRecords returns every matching record in export order.
func (r *SQLiteRepository) ExportRecords(ctx context.Context, userID int64, f core.RecordFilter) ([]core.IncomeRecord, error) {
	rows, err := r.queries.ListRecords(ctx, filterParams(userID, f), -1, 0)
	if err != nil {
		return nil, fmt.Errorf("export records: %w", err)
	}
	return toRecords(rows), nil
}

func (r *SQLiteRepository) GetRecord(ctx context.Context, userID, id int64) (core.IncomeRecord, error) {
	row, err := r.queries.GetRecord(ctx, userID, id)
	if err != nil {
		return core.IncomeRecord{}, notFound(err, "get record %d", id)
	}
	return toRecord(row), nil
}

// CreateRecord inserts a record. The source must belong to the same user.
func (r *SQLiteRepository) CreateRecord(ctx context.Context, rec core.IncomeRecord) (core.IncomeRecord, error) {
	if _, err := r.queries.GetSource(ctx, rec.UserID, rec.SourceID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.IncomeRecord{}, core.ErrUnknownSource
		}
		return core.IncomeRecord{}, fmt.Errorf("check source %d: %w", rec.SourceID, err)
	}
	id, err := r.queries.CreateRecord(ctx, CreateRecordParams{
		UserID:      rec.UserID,
		SourceID:    rec.SourceID,
		AmountCents: rec.Amount.Cents,
		RecordDate:  rec.Date.String(),
		Note:        rec.Note,
	})
	if err != nil {
		return core.IncomeRecord{}, fmt.Errorf("create record: %w", err)
	}
	return r.GetRecord(ctx, rec.UserID, id)
}

// UpdateRecord replaces source, amount, date and note of an owned record.
func (r *SQLiteRepository) UpdateRecord(ctx context.Context, rec core.IncomeRecord) (core.IncomeRecord, error) {
	if _, err := r.queries.GetSource(ctx, rec.UserID, rec.SourceID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.IncomeRecord{}, core.ErrUnknownSource
		}
		return core.IncomeRecord{}, fmt.Errorf("check source %d: %w", rec.SourceID, err)
	}
	n, err := r.queries.UpdateRecord(ctx, UpdateRecordParams{
		ID:          rec.ID,
		UserID:      rec.UserID,
		SourceID:    rec.SourceID,
		AmountCents: rec.Amount.Cents,
		RecordDate:  rec.Date.String(),
		Note:        rec.Note,
	})
	if err != nil {
		return core.IncomeRecord{}, fmt.Errorf("update record %d: %w", rec.ID, err)
	}
	if n == 0 {
		return core.IncomeRecord{}, core.ErrNotFound
	}
	return r.GetRecord(ctx, rec.UserID, rec.ID)
}

func (r *SQLiteRepository) DeleteRecord(ctx context.Context, userID, id int64) error {
	n, err := r.queries.DeleteRecord(ctx, userID, id)
	if err != nil {
		return fmt.Errorf("delete record %d: %w", id, err)
	}
	if n == 0 {
		return core.ErrNotFound
	}
	return nil
}

// FindRecordByKey looks a record up by its natural import key. The oldest
// match wins when earlier races produced duplicates.
func (r *SQLiteRepository) FindRecordByKey(ctx context.Context, userID, sourceID int64, date core.Date, amount core.Money) (core.IncomeRecord, error) {
	row, err := r.queries.FindRecordByKey(ctx, FindRecordByKeyParams{
		UserID:      userID,
		SourceID:    sourceID,
		RecordDate:  date.String(),
		AmountCents: amount.Cents,
	})
	if err != nil {
		return core.IncomeRecord{}, notFound(err, "find record by key")
	}
	return toRecord(row), nil
}

func (r *SQLiteRepository) UpdateRecordNote(ctx context.Context, id int64, note string) error {
	if err := r.queries.UpdateRecordNote(ctx, id, note); err != nil {
		return fmt.Errorf("update note of record %d: %w", id, err)
	}
	return nil
}

// Statistics

// YearlyTrend returns twelve monthly totals for the year, zero-filled.
func (r *SQLiteRepository) YearlyTrend(ctx context.Context, userID int64, year int) ([]core.MonthTotal, error) {
	rows, err := r.queries.MonthSums(ctx, userID, year)
	if err != nil {
		return nil, fmt.Errorf("month sums for %d: %w", year, err)
	}
	sums := make(map[int]int64, len(rows))
	for _, s := range rows {
		sums[int(s.Period)] = s.Total
	}
	return core.FillYear(sums), nil
}

// MonthlyBreakdown returns per-source totals of one month, largest first,
// with each source's share of the month in percent.
func (r *SQLiteRepository) MonthlyBreakdown(ctx context.Context, userID int64, year, month int) ([]core.SourceShare, error) {
	rows, err := r.queries.SourceSums(ctx, userID, year, month)
	if err != nil {
		return nil, fmt.Errorf("source sums for %d-%02d: %w", year, month, err)
	}
	shares := make([]core.SourceShare, len(rows))
	for i, s := range rows {
		shares[i] = core.SourceShare{SourceID: s.SourceID, SourceName: s.SourceName, Total: core.Money{Cents: s.Total}}
	}
	return core.ApplyPercentages(shares), nil
}

// AnnualTotals returns one total per year with income, oldest first.
func (r *SQLiteRepository) AnnualTotals(ctx context.Context, userID int64) ([]core.YearTotal, error) {
	rows, err := r.queries.YearSums(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("year sums: %w", err)
	}
	out := make([]core.YearTotal, len(rows))
	for i, s := range rows {
		out[i] = core.YearTotal{Year: int(s.Period), Total: core.Money{Cents: s.Total}}
	}
	return out, nil
}

// Backup log

func (r *SQLiteRepository) InsertBackupRecord(ctx context.Context, b core.BackupRecord) error {
	var size sql.NullInt64
	if b.Size != nil {
		size = sql.NullInt64{Int64: *b.Size, Valid: true}
	}
	err := r.queries.CreateBackupLog(ctx, CreateBackupLogParams{
		BackupPath: b.Path,
		FileSize:   size,
		Status:     string(b.Status),
		Message:    b.Message,
	})
	if err != nil {
		return fmt.Errorf("insert backup log: %w", err)
	}
	return nil
}

// ListBackupRecords returns the newest backup log rows first.
func (r *SQLiteRepository) ListBackupRecords(ctx context.Context, limit int) ([]core.BackupRecord, error) {
	rows, err := r.queries.ListBackupLogs(ctx, int64(limit))
	if err != nil {
		return nil, fmt.Errorf("list backup logs: %w", err)
	}
	out := make([]core.BackupRecord, len(rows))
	for i, b := range rows {
		rec := core.BackupRecord{
			ID:        b.ID,
			Path:      b.BackupPath,
			Status:    core.BackupStatus(b.Status),
			Message:   b.Message,
			CreatedAt: parseTimestamp(b.CreatedAt),
		}
		if b.FileSize.Valid {
			size := b.FileSize.Int64
			rec.Size = &size
		}
		out[i] = rec
	}
	return out, nil
}

func filterParams(userID int64, f core.RecordFilter) RecordFilterParams {
	return RecordFilterParams{UserID: userID, Year: f.Year, Month: f.Month, SourceID: f.SourceID}
}

func notFound(err error, format string, args ...interface{}) error {
	if errors.Is(err, sql.ErrNoRows) {
		return core.ErrNotFound
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}

func isUniqueViolation(err error) bool {
	var serr *sqlite.Error
	if !errors.As(err, &serr) {
		return false
	}
	code := serr.Code()
	return code == sqlite3.SQLITE_CONSTRAINT_UNIQUE ||
		(code&0xff == sqlite3.SQLITE_CONSTRAINT && strings.Contains(serr.Error(), "UNIQUE"))
}

func parseTimestamp(s string) time.Time {
	t, err := time.ParseInLocation(timestampLayout, s, time.UTC)
	if err != nil {
		return time.Time{}
	}
	return t
}

func toUser(u User) core.User {
	return core.User{
		ID:           u.ID,
		Username:     u.Username,
		Email:        u.Email,
		PasswordHash: u.PasswordHash,
		Role:         core.Role(u.Role),
		Active:       u.IsActive,
		CreatedAt:    parseTimestamp(u.CreatedAt),
		UpdatedAt:    parseTimestamp(u.UpdatedAt),
	}
}

func toSource(s IncomeSource) core.IncomeSource {
	return core.IncomeSource{
		ID:        s.ID,
		UserID:    s.UserID,
		Name:      s.Name,
		Icon:      s.Icon,
		Active:    s.IsActive,
		SortOrder: int(s.SortOrder),
		CreatedAt: parseTimestamp(s.CreatedAt),
	}
}

func toRecord(r IncomeRecordRow) core.IncomeRecord {
	date, _ := core.ParseDate(r.RecordDate)
	return core.IncomeRecord{
		ID:         r.ID,
		UserID:     r.UserID,
		SourceID:   r.SourceID,
		SourceName: r.SourceName,
		Amount:     core.Money{Cents: r.AmountCents},
		Date:       date,
		Note:       r.Note,
		CreatedAt:  parseTimestamp(r.CreatedAt),
		UpdatedAt:  parseTimestamp(r.UpdatedAt),
	}
}

func toRecords(rows []IncomeRecordRow) []core.IncomeRecord {
	out := make([]core.IncomeRecord, len(rows))
	for i, r := range rows {
		out[i] = toRecord(r)
	}
	return out
}
