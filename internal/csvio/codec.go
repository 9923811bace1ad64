// Package csvio encodes income records to CSV and decodes uploaded CSV files
// into validated row results.
//
// The column layout is positional: date, source, amount, note. Exports carry a
// UTF-8 byte-order mark so spreadsheet applications detect the encoding; imports
// accept UTF-8 with or without the mark and fall back to GBK for files saved by
// legacy Chinese-locale spreadsheets.
package csvio

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"incomes/internal/core"
)

// Header is the fixed export header. Imports only rely on column positions.
var Header = []string{"date", "source", "amount", "note"}

// Row-level rejection reasons.
const (
	ReasonMissingField  = "missing required field"
	ReasonInvalidDate   = "invalid date format"
	ReasonInvalidAmount = "invalid amount"
	ReasonMalformedRow  = "malformed row"
)

const utf8BOM = "\ufeff"

// ErrUndecodable is returned when upload content cannot be turned into text.
var ErrUndecodable = errors.New("csv content is not decodable")

// Row is a successfully decoded data row.
type Row struct {
	Date       core.Date
	SourceName string
	Amount     core.Money
	Note       string
}

// RowError describes a data row that failed validation. Line is 1-indexed and
// counts the header, so the first data row is 2.
type RowError struct {
	Line   int
	Reason string
	Raw    string
}

func (e *RowError) Error() string {
	return fmt.Sprintf("Row %d: %s (%s)", e.Line, e.Reason, e.Raw)
}

// Result is the outcome of one data row: exactly one of Row or Err is set.
type Result struct {
	Line int
	Row  *Row
	Err  *RowError
}

// Encode writes records as CSV, newest-first ordering is the caller's job.
// SourceName must already be resolved on each record.
func Encode(w io.Writer, records []core.IncomeRecord) error {
	if _, err := io.WriteString(w, utf8BOM); err != nil {
		return fmt.Errorf("write byte-order mark: %w", err)
	}
	cw := csv.NewWriter(w)
	cw.UseCRLF = true
	if err := cw.Write(Header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for _, r := range records {
		line := []string{r.Date.String(), r.SourceName, r.Amount.String(), r.Note}
		if err := cw.Write(line); err != nil {
			return fmt.Errorf("write record %d: %w", r.ID, err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	return nil
}

// Decode parses an uploaded CSV. The first record is treated as the header and
// skipped; every following record yields exactly one Result. Only content that
// cannot be decoded as text at all returns an error.
func Decode(data []byte) ([]Result, error) {
	text, err := ToUTF8(data)
	if err != nil {
		return nil, err
	}

	cr := csv.NewReader(strings.NewReader(text))
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	var results []Result
	line := 0
	for {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				if line > 1 {
					results = append(results, Result{Line: line, Err: &RowError{Line: line, Reason: ReasonMalformedRow, Raw: perr.Err.Error()}})
				}
				continue
			}
			return nil, fmt.Errorf("read csv: %w", err)
		}
		if line == 1 {
			continue
		}
		results = append(results, decodeRecord(line, record))
	}
	return results, nil
}

// ToUTF8 converts upload bytes to text. A leading byte-order mark selects
// UTF-8 or UTF-16; unmarked content is used as-is when it is valid UTF-8 and
// otherwise decoded as GBK with undecodable bytes replaced by U+FFFD.
func ToUTF8(data []byte) (string, error) {
	decoded, _, err := transform.Bytes(unicode.BOMOverride(transform.Nop), data)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUndecodable, err)
	}
	if utf8.Valid(decoded) {
		return string(decoded), nil
	}
	decoded, _, err = transform.Bytes(simplifiedchinese.GBK.NewDecoder(), data)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUndecodable, err)
	}
	return string(decoded), nil
}

func decodeRecord(line int, record []string) Result {
	field := func(i int) string {
		if i < len(record) {
			return strings.TrimSpace(record[i])
		}
		return ""
	}
	dateRaw, sourceName, amountRaw, note := field(0), field(1), field(2), field(3)

	if dateRaw == "" || sourceName == "" || amountRaw == "" {
		return rowError(line, ReasonMissingField, strings.Join(record, ","))
	}

	date, err := NormalizeDate(dateRaw)
	if err != nil {
		return rowError(line, ReasonInvalidDate, dateRaw)
	}

	// Commas are thousands separators in exported spreadsheets, never decimals here.
	if strings.Contains(amountRaw, ",") {
		return rowError(line, ReasonInvalidAmount, amountRaw)
	}
	cents, err := core.ParseDecimalToCents(amountRaw)
	if err != nil {
		return rowError(line, ReasonInvalidAmount, amountRaw)
	}

	return Result{Line: line, Row: &Row{
		Date:       date,
		SourceName: sourceName,
		Amount:     core.Money{Cents: cents},
		Note:       note,
	}}
}

func rowError(line int, reason, raw string) Result {
	return Result{Line: line, Err: &RowError{Line: line, Reason: reason, Raw: raw}}
}

// NormalizeDate accepts "/" or "-" separators and unpadded month/day, e.g.
// "2024/1/5" and "2024-01-05" both yield 2024-01-05. The calendar check is strict.
func NormalizeDate(raw string) (core.Date, error) {
	parts := strings.Split(strings.ReplaceAll(strings.TrimSpace(raw), "/", "-"), "-")
	if len(parts) != 3 {
		return core.Date{}, core.ErrInvalidDate
	}
	for i := 1; i < 3; i++ {
		if len(parts[i]) == 1 {
			parts[i] = "0" + parts[i]
		}
	}
	return core.ParseDate(strings.Join(parts, "-"))
}
