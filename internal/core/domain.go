package core

import (
	"errors"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"

	BackupSuccess BackupStatus = "success"
	BackupFailed  BackupStatus = "failed"
)

// DateLayout is the canonical calendar-date rendering used in storage, JSON and CSV.
const DateLayout = "2006-01-02"

const (
	MaxSourceNameLen = 64
	MaxNoteLen       = 512
	MinPasswordLen   = 6
)

type (
	Role         string
	BackupStatus string

	Date struct {
		time.Time
	}

	Money struct {
		Cents int64
	}

	User struct {
		ID           int64
		Username     string
		Email        string
		PasswordHash string
		Role         Role
		Active       bool
		CreatedAt    time.Time
		UpdatedAt    time.Time
	}

	IncomeSource struct {
		ID        int64
		UserID    int64
		Name      string
		Icon      string
		Active    bool
		SortOrder int
		CreatedAt time.Time
	}

	IncomeRecord struct {
		ID         int64
		UserID     int64
		SourceID   int64
		SourceName string // resolved by the store, never loaded lazily
		Amount     Money
		Date       Date
		Note       string
		CreatedAt  time.Time
		UpdatedAt  time.Time
	}

	// BackupRecord is one row of the append-only backup log.
	BackupRecord struct {
		ID        int64
		Path      string
		Size      *int64
		Status    BackupStatus
		Message   string
		CreatedAt time.Time
	}

	// RecordFilter narrows record listings; zero values mean "any".
	RecordFilter struct {
		Year     int
		Month    int
		SourceID int64
	}

	RecordPage struct {
		Total    int
		Page     int
		PageSize int
		Items    []IncomeRecord
	}
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidDay        = errors.New("invalid day")
	ErrInvalidMonth      = errors.New("invalid month")
	ErrInvalidDate       = errors.New("invalid date")
	ErrInvalidAmount     = errors.New("invalid amount")
	ErrEmptySourceName   = errors.New("empty source name")
	ErrSourceNameTooLong = errors.New("source name too long (max 64 characters)")
	ErrNoteTooLong       = errors.New("note too long (max 512 characters)")
	ErrDuplicateSource   = errors.New("source name already exists")
	ErrSourceInUse       = errors.New("source still has income records")
	ErrUnknownSource     = errors.New("income source does not exist")
)

func (d Date) Validate() error {
	if d.IsZero() {
		return ErrInvalidDate
	}
	_, month, day := d.Date()
	if day < 1 || day > 31 {
		return ErrInvalidDay
	}
	if month < 1 || month > 12 {
		return ErrInvalidMonth
	}
	return nil
}

// Day returns the day of the month
func (d Date) Day() int {
	return d.Time.Day()
}

// Month returns the month
func (d Date) Month() int {
	return int(d.Time.Month())
}

// Year returns the year
func (d Date) Year() int {
	return d.Time.Year()
}

// String renders the date as YYYY-MM-DD.
func (d Date) String() string {
	return d.Format(DateLayout)
}

// NewDate creates a new Date from year, month, day
func NewDate(year, month, day int) Date {
	return Date{Time: time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)}
}

// ParseDate parses a strict YYYY-MM-DD calendar date.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(DateLayout, strings.TrimSpace(s))
	if err != nil {
		return Date{}, ErrInvalidDate
	}
	return Date{Time: t}, nil
}

func (d Date) MarshalJSON() ([]byte, error) {
	return []byte(`"` + d.String() + `"`), nil
}

func (d *Date) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

func (r Role) IsValid() bool {
	return r == RoleUser || r == RoleAdmin
}

func (u User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

func (s IncomeSource) Validate() error {
	name := strings.TrimSpace(s.Name)
	if name == "" {
		return ErrEmptySourceName
	}
	if utf8.RuneCountInString(name) > MaxSourceNameLen {
		return ErrSourceNameTooLong
	}
	return nil
}

func (r IncomeRecord) Validate() error {
	if err := r.Date.Validate(); err != nil {
		return err
	}
	if err := r.Amount.Validate(); err != nil {
		return err
	}
	if utf8.RuneCountInString(r.Note) > MaxNoteLen {
		return ErrNoteTooLong
	}
	return nil
}
