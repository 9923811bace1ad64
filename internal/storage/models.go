package storage

import "database/sql"

type User struct {
	ID           int64
	Username     string
	Email        string
	PasswordHash string
	Role         string
	IsActive     bool
	CreatedAt    string
	UpdatedAt    string
}

type IncomeSource struct {
	ID        int64
	UserID    int64
	Name      string
	Icon      string
	IsActive  bool
	SortOrder int64
	CreatedAt string
}

// IncomeRecordRow is an income record joined with its source name.
type IncomeRecordRow struct {
	ID          int64
	UserID      int64
	SourceID    int64
	SourceName  string
	AmountCents int64
	RecordDate  string
	Note        string
	CreatedAt   string
	UpdatedAt   string
}

type BackupLog struct {
	ID         int64
	BackupPath string
	FileSize   sql.NullInt64
	Status     string
	Message    string
	CreatedAt  string
}
