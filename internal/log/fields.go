package log

// Common field names for structured logging
const (
	FieldComponent   = "component"
	FieldRequestID   = "request_id"
	FieldClientIP    = "client_ip"
	FieldMethod      = "method"
	FieldPath        = "path"
	FieldQuery       = "query"
	FieldStatusCode  = "status_code"
	FieldDuration    = "duration_ms"
	FieldUserAgent   = "user_agent"
	FieldReferer     = "referer"
	FieldSuccess     = "success"
	FieldError       = "error"
	FieldOperation   = "operation"
	FieldUserID      = "user_id"
	FieldRecordID    = "record_id"
	FieldSourceID    = "source_id"
	FieldAmountCents = "amount_cents"
	FieldBatchID     = "batch_id"
	FieldImported    = "imported"
	FieldSkipped     = "skipped"
	FieldBackupPath  = "backup_path"
	FieldBackupSize  = "backup_size"
)

// Components defines standard component names
const (
	ComponentApp       = "app"
	ComponentHTTP      = "http"
	ComponentAuth      = "auth"
	ComponentIncome    = "income"
	ComponentImport    = "import"
	ComponentBackup    = "backup"
	ComponentScheduler = "scheduler"
	ComponentOffsite   = "offsite"
	ComponentAMQP      = "amqp"
	ComponentCache     = "cache"
	ComponentSecurity  = "security"
	ComponentRateLimit = "rate_limit"
)

// Operations defines standard operation names
const (
	OpCreate   = "create"
	OpImport   = "import"
	OpExport   = "export"
	OpShutdown = "shutdown"
)

// LogFields provides a builder pattern for structured log fields
type LogFields map[string]any

// NewFields creates a new LogFields instance
func NewFields() LogFields {
	return make(LogFields)
}

// WithClientIP adds client IP field
func (f LogFields) WithClientIP(ip string) LogFields {
	f[FieldClientIP] = ip
	return f
}

// WithOperation adds operation field
func (f LogFields) WithOperation(op string) LogFields {
	f[FieldOperation] = op
	return f
}

// WithRecord adds income-record fields
func (f LogFields) WithRecord(userID, recordID, sourceID, amountCents int64) LogFields {
	f[FieldUserID] = userID
	f[FieldRecordID] = recordID
	f[FieldSourceID] = sourceID
	f[FieldAmountCents] = amountCents
	return f
}

// WithImport adds import batch fields
func (f LogFields) WithImport(batchID string, userID int64, imported, skipped int) LogFields {
	f[FieldBatchID] = batchID
	f[FieldUserID] = userID
	f[FieldImported] = imported
	f[FieldSkipped] = skipped
	return f
}

// WithHTTPRequest adds HTTP request fields
func (f LogFields) WithHTTPRequest(method, path, query, userAgent, referer string) LogFields {
	f[FieldMethod] = method
	f[FieldPath] = path
	f[FieldQuery] = query
	f[FieldUserAgent] = userAgent
	f[FieldReferer] = referer
	return f
}

// WithHTTPResponse adds HTTP response fields
func (f LogFields) WithHTTPResponse(statusCode int, durationMs int64, success bool) LogFields {
	f[FieldStatusCode] = statusCode
	f[FieldDuration] = durationMs
	f[FieldSuccess] = success
	return f
}

// ToSlice converts LogFields to a slice for slog
func (f LogFields) ToSlice() []any {
	slice := make([]any, 0, len(f)*2)
	for k, v := range f {
		slice = append(slice, k, v)
	}
	return slice
}