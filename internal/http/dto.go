package http

import (
	"time"

	"incomes/internal/core"
)

type userResponse struct {
	ID        int64     `json:"id"`
	Username  string    `json:"username"`
	Email     *string   `json:"email"`
	Role      core.Role `json:"role"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}

type tokenResponse struct {
	AccessToken string       `json:"access_token"`
	TokenType   string       `json:"token_type"`
	User        userResponse `json:"user"`
}

type sourceResponse struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Icon      *string   `json:"icon"`
	IsActive  bool      `json:"is_active"`
	SortOrder int       `json:"sort_order"`
	CreatedAt time.Time `json:"created_at"`
}

type sourceCreateRequest struct {
	Name      string  `json:"name"`
	Icon      *string `json:"icon"`
	SortOrder int     `json:"sort_order"`
}

type sourceUpdateRequest struct {
	Name      *string `json:"name"`
	Icon      *string `json:"icon"`
	IsActive  *bool   `json:"is_active"`
	SortOrder *int    `json:"sort_order"`
}

type recordResponse struct {
	ID         int64      `json:"id"`
	SourceID   int64      `json:"source_id"`
	SourceName string     `json:"source_name"`
	Amount     core.Money `json:"amount"`
	RecordDate core.Date  `json:"record_date"`
	Note       *string    `json:"note"`
	CreatedAt  time.Time  `json:"created_at"`
}

type recordPageResponse struct {
	Total    int              `json:"total"`
	Page     int              `json:"page"`
	PageSize int              `json:"page_size"`
	Items    []recordResponse `json:"items"`
}

type recordCreateRequest struct {
	SourceID   int64       `json:"source_id"`
	Amount     *core.Money `json:"amount"`
	RecordDate *core.Date  `json:"record_date"`
	Note       *string     `json:"note"`
}

type recordUpdateRequest struct {
	SourceID   *int64      `json:"source_id"`
	Amount     *core.Money `json:"amount"`
	RecordDate *core.Date  `json:"record_date"`
	Note       *string     `json:"note"`
}

type trendItem struct {
	Month int        `json:"month"`
	Total core.Money `json:"total"`
}

type breakdownItem struct {
	SourceID   int64      `json:"source_id"`
	SourceName string     `json:"source_name"`
	Total      core.Money `json:"total"`
	Percentage float64    `json:"percentage"`
}

type yearTotalItem struct {
	Year  int        `json:"year"`
	Total core.Money `json:"total"`
}

type backupLogResponse struct {
	ID         int64             `json:"id"`
	BackupPath *string           `json:"backup_path"`
	FileSize   *int64            `json:"file_size"`
	Status     core.BackupStatus `json:"status"`
	Message    *string           `json:"message"`
	CreatedAt  time.Time         `json:"created_at"`
}

type messageResponse struct {
	Message string `json:"message"`
}

// optional maps "" to JSON null.
func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func toUserResponse(u core.User) userResponse {
	return userResponse{
		ID:        u.ID,
		Username:  u.Username,
		Email:     optional(u.Email),
		Role:      u.Role,
		IsActive:  u.Active,
		CreatedAt: u.CreatedAt,
	}
}

func toSourceResponse(s core.IncomeSource) sourceResponse {
	return sourceResponse{
		ID:        s.ID,
		Name:      s.Name,
		Icon:      optional(s.Icon),
		IsActive:  s.Active,
		SortOrder: s.SortOrder,
		CreatedAt: s.CreatedAt,
	}
}

func toRecordResponse(r core.IncomeRecord) recordResponse {
	return recordResponse{
		ID:         r.ID,
		SourceID:   r.SourceID,
		SourceName: r.SourceName,
		Amount:     r.Amount,
		RecordDate: r.Date,
		Note:       optional(r.Note),
		CreatedAt:  r.CreatedAt,
	}
}

func toRecordResponses(records []core.IncomeRecord) []recordResponse {
	out := make([]recordResponse, 0, len(records))
	for _, r := range records {
		out = append(out, toRecordResponse(r))
	}
	return out
}

func toBackupLogResponse(b core.BackupRecord) backupLogResponse {
	return backupLogResponse{
		ID:         b.ID,
		BackupPath: optional(b.Path),
		FileSize:   b.Size,
		Status:     b.Status,
		Message:    optional(b.Message),
		CreatedAt:  b.CreatedAt,
	}
}
