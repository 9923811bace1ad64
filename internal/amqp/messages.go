package amqp

import (
	"encoding/json"
	"time"
)

// Routing keys of the events exchange.
const (
	RoutingImportCompleted = "income.import.completed"
	RoutingBackupCompleted = "backup.completed"
	RoutingBackupFailed    = "backup.failed"
)

// ImportCompletedMessage announces the outcome of one CSV import batch.
type ImportCompletedMessage struct {
	BatchID   string    `json:"batch_id"`
	UserID    int64     `json:"user_id"`
	Imported  int       `json:"imported"`
	Skipped   int       `json:"skipped"`
	Timestamp time.Time `json:"timestamp"`
}

func NewImportCompletedMessage(batchID string, userID int64, imported, skipped int) *ImportCompletedMessage {
	return &ImportCompletedMessage{
		BatchID:   batchID,
		UserID:    userID,
		Imported:  imported,
		Skipped:   skipped,
		Timestamp: time.Now(),
	}
}

// ToJSON converts the message to JSON bytes
func (m *ImportCompletedMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

func ImportCompletedMessageFromJSON(data []byte) (*ImportCompletedMessage, error) {
	var msg ImportCompletedMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// BackupMessage announces a finished backup run. Path and Size are empty for
// failed runs.
type BackupMessage struct {
	Success   bool      `json:"success"`
	Path      string    `json:"path,omitempty"`
	Size      int64     `json:"size,omitempty"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func NewBackupMessage(success bool, path string, size int64, message string) *BackupMessage {
	return &BackupMessage{
		Success:   success,
		Path:      path,
		Size:      size,
		Message:   message,
		Timestamp: time.Now(),
	}
}

func (m *BackupMessage) RoutingKey() string {
	if m.Success {
		return RoutingBackupCompleted
	}
	return RoutingBackupFailed
}

// ToJSON converts the message to JSON bytes
func (m *BackupMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

func BackupMessageFromJSON(data []byte) (*BackupMessage, error) {
	var msg BackupMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
