package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

const userColumns = `id, username, email, password_hash, role, is_active, created_at, updated_at`

func scanUser(row interface{ Scan(...interface{}) error }) (User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.Role, &u.IsActive, &u.CreatedAt, &u.UpdatedAt)
	return u, err
}

type CreateUserParams struct {
	Username     string
	Email        string
	PasswordHash string
	Role         string
}

const createUser = `INSERT INTO users (username, email, password_hash, role)
VALUES (?, ?, ?, ?)
RETURNING ` + userColumns

func (q *Queries) CreateUser(ctx context.Context, arg CreateUserParams) (User, error) {
	row := q.db.QueryRowContext(ctx, createUser, arg.Username, arg.Email, arg.PasswordHash, arg.Role)
	return scanUser(row)
}

const getUser = `SELECT ` + userColumns + ` FROM users WHERE id = ?`

func (q *Queries) GetUser(ctx context.Context, id int64) (User, error) {
	return scanUser(q.db.QueryRowContext(ctx, getUser, id))
}

const getUserByUsername = `SELECT ` + userColumns + ` FROM users WHERE username = ?`

func (q *Queries) GetUserByUsername(ctx context.Context, username string) (User, error) {
	return scanUser(q.db.QueryRowContext(ctx, getUserByUsername, username))
}

const updateUserPassword = `UPDATE users SET password_hash = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`

func (q *Queries) UpdateUserPassword(ctx context.Context, id int64, hash string) (int64, error) {
	res, err := q.db.ExecContext(ctx, updateUserPassword, hash, id)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const setUserActive = `UPDATE users SET is_active = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`

func (q *Queries) SetUserActive(ctx context.Context, id int64, active bool) (int64, error) {
	res, err := q.db.ExecContext(ctx, setUserActive, active, id)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const sourceColumns = `id, user_id, name, icon, is_active, sort_order, created_at`

func scanSource(row interface{ Scan(...interface{}) error }) (IncomeSource, error) {
	var s IncomeSource
	err := row.Scan(&s.ID, &s.UserID, &s.Name, &s.Icon, &s.IsActive, &s.SortOrder, &s.CreatedAt)
	return s, err
}

const listSources = `SELECT ` + sourceColumns + ` FROM income_sources
WHERE user_id = ? AND (? OR is_active = 1)
ORDER BY sort_order, id`

func (q *Queries) ListSources(ctx context.Context, userID int64, includeInactive bool) ([]IncomeSource, error) {
	rows, err := q.db.QueryContext(ctx, listSources, userID, includeInactive)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []IncomeSource
	for rows.Next() {
		s, err := scanSource(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, s)
	}
	return items, rows.Err()
}

const getSource = `SELECT ` + sourceColumns + ` FROM income_sources WHERE id = ? AND user_id = ?`

func (q *Queries) GetSource(ctx context.Context, userID, id int64) (IncomeSource, error) {
	return scanSource(q.db.QueryRowContext(ctx, getSource, id, userID))
}

type CreateSourceParams struct {
	UserID    int64
	Name      string
	Icon      string
	IsActive  bool
	SortOrder int64
}

const createSource = `INSERT INTO income_sources (user_id, name, icon, is_active, sort_order)
VALUES (?, ?, ?, ?, ?)
RETURNING ` + sourceColumns

func (q *Queries) CreateSource(ctx context.Context, arg CreateSourceParams) (IncomeSource, error) {
	row := q.db.QueryRowContext(ctx, createSource, arg.UserID, arg.Name, arg.Icon, arg.IsActive, arg.SortOrder)
	return scanSource(row)
}

type UpdateSourceParams struct {
	ID        int64
	UserID    int64
	Name      string
	Icon      string
	IsActive  bool
	SortOrder int64
}

const updateSource = `UPDATE income_sources
SET name = ?, icon = ?, is_active = ?, sort_order = ?
WHERE id = ? AND user_id = ?
RETURNING ` + sourceColumns

func (q *Queries) UpdateSource(ctx context.Context, arg UpdateSourceParams) (IncomeSource, error) {
	row := q.db.QueryRowContext(ctx, updateSource, arg.Name, arg.Icon, arg.IsActive, arg.SortOrder, arg.ID, arg.UserID)
	return scanSource(row)
}

const countSourceRecords = `SELECT COUNT(*) FROM income_records WHERE source_id = ?`

func (q *Queries) CountSourceRecords(ctx context.Context, sourceID int64) (int64, error) {
	var n int64
	err := q.db.QueryRowContext(ctx, countSourceRecords, sourceID).Scan(&n)
	return n, err
}

const deleteSource = `DELETE FROM income_sources WHERE id = ? AND user_id = ?`

func (q *Queries) DeleteSource(ctx context.Context, userID, id int64) (int64, error) {
	res, err := q.db.ExecContext(ctx, deleteSource, id, userID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const recordColumns = `r.id, r.user_id, r.source_id, s.name, r.amount_cents, r.record_date, r.note, r.created_at, r.updated_at`

const recordFrom = ` FROM income_records r JOIN income_sources s ON s.id = r.source_id`

func scanRecord(row interface{ Scan(...interface{}) error }) (IncomeRecordRow, error) {
	var r IncomeRecordRow
	err := row.Scan(&r.ID, &r.UserID, &r.SourceID, &r.SourceName, &r.AmountCents, &r.RecordDate, &r.Note, &r.CreatedAt, &r.UpdatedAt)
	return r, err
}

// RecordFilterParams narrows record queries; zero values are ignored.
type RecordFilterParams struct {
	UserID   int64
	Year     int
	Month    int
	SourceID int64
}

func (f RecordFilterParams) where() (string, []interface{}) {
	conds := []string{"r.user_id = ?"}
	args := []interface{}{f.UserID}
	if f.Year > 0 {
		conds = append(conds, "substr(r.record_date, 1, 4) = ?")
		args = append(args, fmt.Sprintf("%04d", f.Year))
	}
	if f.Month > 0 {
		conds = append(conds, "substr(r.record_date, 6, 2) = ?")
		args = append(args, fmt.Sprintf("%02d", f.Month))
	}
	if f.SourceID > 0 {
		conds = append(conds, "r.source_id = ?")
		args = append(args, f.SourceID)
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func (q *Queries) CountRecords(ctx context.Context, f RecordFilterParams) (int64, error) {
	where, args := f.where()
	var n int64
	err := q.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM income_records r`+where, args...).Scan(&n)
	return n, err
}

// ListRecords returns records newest date first, ties broken by id descending.
// A negative limit returns every matching row.
func (q *Queries) ListRecords(ctx context.Context, f RecordFilterParams, limit, offset int64) ([]IncomeRecordRow, error) {
	where, args := f.where()
	query := `SELECT ` + recordColumns + recordFrom + where + ` ORDER BY r.record_date DESC, r.id DESC LIMIT ? OFFSET ?`
	rows, err := q.db.QueryContext(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []IncomeRecordRow
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, r)
	}
	return items, rows.Err()
}

const getRecord = `SELECT ` + recordColumns + recordFrom + ` WHERE r.id = ? AND r.user_id = ?`

func (q *Queries) GetRecord(ctx context.Context, userID, id int64) (IncomeRecordRow, error) {
	return scanRecord(q.db.QueryRowContext(ctx, getRecord, id, userID))
}

const findRecordByKey = `SELECT ` + recordColumns + recordFrom + `
WHERE r.user_id = ? AND r.source_id = ? AND r.record_date = ? AND r.amount_cents = ?
ORDER BY r.id
LIMIT 1`

type FindRecordByKeyParams struct {
	UserID      int64
	SourceID    int64
	RecordDate  string
	AmountCents int64
}

func (q *Queries) FindRecordByKey(ctx context.Context, arg FindRecordByKeyParams) (IncomeRecordRow, error) {
	return scanRecord(q.db.QueryRowContext(ctx, findRecordByKey, arg.UserID, arg.SourceID, arg.RecordDate, arg.AmountCents))
}

type CreateRecordParams struct {
	UserID      int64
	SourceID    int64
	AmountCents int64
	RecordDate  string
	Note        string
}

const createRecord = `INSERT INTO income_records (user_id, source_id, amount_cents, record_date, note)
VALUES (?, ?, ?, ?, ?)`

func (q *Queries) CreateRecord(ctx context.Context, arg CreateRecordParams) (int64, error) {
	res, err := q.db.ExecContext(ctx, createRecord, arg.UserID, arg.SourceID, arg.AmountCents, arg.RecordDate, arg.Note)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

type UpdateRecordParams struct {
	ID          int64
	UserID      int64
	SourceID    int64
	AmountCents int64
	RecordDate  string
	Note        string
}

const updateRecord = `UPDATE income_records
SET source_id = ?, amount_cents = ?, record_date = ?, note = ?, updated_at = CURRENT_TIMESTAMP
WHERE id = ? AND user_id = ?`

func (q *Queries) UpdateRecord(ctx context.Context, arg UpdateRecordParams) (int64, error) {
	res, err := q.db.ExecContext(ctx, updateRecord, arg.SourceID, arg.AmountCents, arg.RecordDate, arg.Note, arg.ID, arg.UserID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const updateRecordNote = `UPDATE income_records SET note = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`

func (q *Queries) UpdateRecordNote(ctx context.Context, id int64, note string) error {
	_, err := q.db.ExecContext(ctx, updateRecordNote, note, id)
	return err
}

const deleteRecord = `DELETE FROM income_records WHERE id = ? AND user_id = ?`

func (q *Queries) DeleteRecord(ctx context.Context, userID, id int64) (int64, error) {
	res, err := q.db.ExecContext(ctx, deleteRecord, id, userID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

type PeriodSum struct {
	Period int64
	Total  int64
}

func (q *Queries) sums(ctx context.Context, query string, args ...interface{}) ([]PeriodSum, error) {
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []PeriodSum
	for rows.Next() {
		var s PeriodSum
		if err := rows.Scan(&s.Period, &s.Total); err != nil {
			return nil, err
		}
		items = append(items, s)
	}
	return items, rows.Err()
}

const monthSums = `SELECT CAST(substr(record_date, 6, 2) AS INTEGER) AS m, SUM(amount_cents)
FROM income_records
WHERE user_id = ? AND substr(record_date, 1, 4) = ?
GROUP BY m
ORDER BY m`

func (q *Queries) MonthSums(ctx context.Context, userID int64, year int) ([]PeriodSum, error) {
	return q.sums(ctx, monthSums, userID, fmt.Sprintf("%04d", year))
}

const yearSums = `SELECT CAST(substr(record_date, 1, 4) AS INTEGER) AS y, SUM(amount_cents)
FROM income_records
WHERE user_id = ?
GROUP BY y
ORDER BY y`

func (q *Queries) YearSums(ctx context.Context, userID int64) ([]PeriodSum, error) {
	return q.sums(ctx, yearSums, userID)
}

type SourceSum struct {
	SourceID   int64
	SourceName string
	Total      int64
}

const sourceSums = `SELECT s.id, s.name, SUM(r.amount_cents) AS total` + recordFrom + `
WHERE r.user_id = ? AND substr(r.record_date, 1, 4) = ? AND substr(r.record_date, 6, 2) = ?
GROUP BY s.id, s.name
ORDER BY total DESC, s.id`

func (q *Queries) SourceSums(ctx context.Context, userID int64, year, month int) ([]SourceSum, error) {
	rows, err := q.db.QueryContext(ctx, sourceSums, userID, fmt.Sprintf("%04d", year), fmt.Sprintf("%02d", month))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []SourceSum
	for rows.Next() {
		var s SourceSum
		if err := rows.Scan(&s.SourceID, &s.SourceName, &s.Total); err != nil {
			return nil, err
		}
		items = append(items, s)
	}
	return items, rows.Err()
}

type CreateBackupLogParams struct {
	BackupPath string
	FileSize   sql.NullInt64
	Status     string
	Message    string
}

const createBackupLog = `INSERT INTO backup_logs (backup_path, file_size, status, message) VALUES (?, ?, ?, ?)`

func (q *Queries) CreateBackupLog(ctx context.Context, arg CreateBackupLogParams) error {
	_, err := q.db.ExecContext(ctx, createBackupLog, arg.BackupPath, arg.FileSize, arg.Status, arg.Message)
	return err
}

const listBackupLogs = `SELECT id, backup_path, file_size, status, message, created_at
FROM backup_logs
ORDER BY id DESC
LIMIT ?`

func (q *Queries) ListBackupLogs(ctx context.Context, limit int64) ([]BackupLog, error) {
	rows, err := q.db.QueryContext(ctx, listBackupLogs, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []BackupLog
	for rows.Next() {
		var b BackupLog
		if err := rows.Scan(&b.ID, &b.BackupPath, &b.FileSize, &b.Status, &b.Message, &b.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, b)
	}
	return items, rows.Err()
}
