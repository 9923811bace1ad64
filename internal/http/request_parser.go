package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"incomes/internal/core"
)

// maxBodyBytes bounds JSON and form bodies; uploads have their own limit.
const maxBodyBytes = 1 << 20

// RequestBodyParser reads a body once and serves fields from either a JSON
// object or a form-encoded payload.
type RequestBodyParser struct {
	body     []byte
	jsonData map[string]any
	formData url.Values
	parsed   bool
	err      error
}

func NewRequestBodyParser(r *http.Request) *RequestBodyParser {
	p := &RequestBodyParser{}
	p.body, p.err = io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	return p
}

// Parse detects JSON by its first byte and falls back to form decoding.
func (p *RequestBodyParser) Parse() error {
	if p.parsed {
		return p.err
	}
	p.parsed = true
	if p.err != nil {
		return p.err
	}

	body := strings.TrimSpace(string(p.body))
	if body == "" {
		p.formData = url.Values{}
		return nil
	}
	if body[0] == '{' {
		p.jsonData = make(map[string]any)
		p.err = json.Unmarshal([]byte(body), &p.jsonData)
		return p.err
	}
	p.formData, p.err = url.ParseQuery(body)
	return p.err
}

// Get returns a field as a sanitized, trimmed string.
func (p *RequestBodyParser) Get(key string) string {
	return strings.TrimSpace(sanitizeInput(p.GetRaw(key)))
}

// GetRaw returns a field without trimming. Passwords must not be altered.
func (p *RequestBodyParser) GetRaw(key string) string {
	if p.jsonData != nil {
		if val, ok := p.jsonData[key]; ok {
			return stringValue(val)
		}
		return ""
	}
	if p.formData != nil {
		return p.formData.Get(key)
	}
	return ""
}

func (p *RequestBodyParser) IsJSON() bool {
	return p.jsonData != nil
}

func stringValue(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	default:
		return ""
	}
}

// sanitizeInput drops control characters other than tab and newlines.
func sanitizeInput(s string) string {
	return strings.Map(func(r rune) rune {
		if r < 32 && r != '\t' && r != '\n' && r != '\r' {
			return -1
		}
		return r
	}, s)
}

// decodeJSON decodes a JSON object body into v. Domain validation errors
// raised by field types pass through unchanged.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		switch {
		case errors.Is(err, core.ErrInvalidAmount), errors.Is(err, core.ErrInvalidDate):
			return err
		case errors.Is(err, io.EOF):
			return invalidParam("request body is required")
		default:
			return invalidParam(fmt.Sprintf("invalid request body: %v", err))
		}
	}
	return nil
}

// queryInt parses an optional integer query parameter; def is returned when absent.
func queryInt(q url.Values, key string, def int) (int, error) {
	v := strings.TrimSpace(q.Get(key))
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, invalidParam(fmt.Sprintf("%s must be an integer", key))
	}
	return n, nil
}

// requiredQueryInt parses a mandatory integer query parameter.
func requiredQueryInt(q url.Values, key string) (int, error) {
	if strings.TrimSpace(q.Get(key)) == "" {
		return 0, invalidParam(fmt.Sprintf("%s is required", key))
	}
	return queryInt(q, key, 0)
}

func queryBool(q url.Values, key string) (bool, error) {
	v := strings.TrimSpace(q.Get(key))
	if v == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, invalidParam(fmt.Sprintf("%s must be a boolean", key))
	}
	return b, nil
}

// parseRecordFilter reads the optional year, month and source_id filters.
func parseRecordFilter(q url.Values) (core.RecordFilter, error) {
	var f core.RecordFilter
	var err error
	if f.Year, err = queryInt(q, "year", 0); err != nil {
		return f, err
	}
	if f.Month, err = queryInt(q, "month", 0); err != nil {
		return f, err
	}
	if f.Month < 0 || f.Month > 12 {
		return f, invalidParam("month must be between 1 and 12")
	}
	sourceID, err := queryInt(q, "source_id", 0)
	if err != nil {
		return f, err
	}
	f.SourceID = int64(sourceID)
	return f, nil
}

// pathID reads the {id} URL parameter.
func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, invalidParam("id must be a positive integer")
	}
	return id, nil
}
