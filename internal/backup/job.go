// Package backup copies the live SQLite file into timestamped snapshots and
// prunes snapshots that fall out of the retention window.
package backup

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"incomes/internal/amqp"
	"incomes/internal/core"
	"incomes/internal/log"
)

const stampLayout = "20060102_150405"

type Config struct {
	SourcePath string
	Dir        string
	Prefix     string
	Ext        string // without the dot, "db" when empty
	RetainDays int
}

// LogSink persists the append-only backup log.
type LogSink interface {
	InsertBackupRecord(ctx context.Context, rec core.BackupRecord) error
	ListBackupRecords(ctx context.Context, limit int) ([]core.BackupRecord, error)
}

// Uploader copies a finished backup off-site and returns where it went.
type Uploader interface {
	Upload(ctx context.Context, localPath string) (string, error)
}

// Notifier announces backup outcomes.
type Notifier interface {
	PublishBackup(ctx context.Context, msg *amqp.BackupMessage) error
}

// FileInfo describes one backup file on disk. CreatedAt is the file's
// modification time.
type FileInfo struct {
	Name      string    `json:"filename"`
	Size      int64     `json:"size_bytes"`
	CreatedAt time.Time `json:"created_at"`
}

// Outcome reports what a run did. Skipped is set when the source database does
// not exist yet; Err is set when the run failed.
type Outcome struct {
	Skipped bool
	Path    string
	Size    int64
	Removed int
	Err     error
}

type Option func(*Job)

func WithUploader(u Uploader) Option { return func(j *Job) { j.uploader = u } }

func WithNotifier(n Notifier) Option { return func(j *Job) { j.notifier = n } }

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option { return func(j *Job) { j.now = now } }

type Job struct {
	cfg      Config
	sink     LogSink
	uploader Uploader
	notifier Notifier
	logger   *log.Logger
	now      func() time.Time
}

func NewJob(cfg Config, sink LogSink, logger *log.Logger, opts ...Option) *Job {
	if cfg.Ext == "" {
		cfg.Ext = "db"
	}
	j := &Job{
		cfg:    cfg,
		sink:   sink,
		logger: logger.WithComponent(log.ComponentBackup),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// Run takes one backup and sweeps expired ones. It never returns an error:
// failures are logged, recorded in the backup log when possible and reported
// through the Outcome.
func (j *Job) Run(ctx context.Context) Outcome {
	out, err := j.run(ctx)
	if err == nil {
		return out
	}

	out.Err = err
	j.logger.ErrorContext(ctx, "Backup failed", log.FieldError, err)
	j.record(ctx, core.BackupRecord{Status: core.BackupFailed, Message: err.Error()})
	j.notify(ctx, amqp.NewBackupMessage(false, "", 0, err.Error()))
	return out
}

func (j *Job) run(ctx context.Context) (Outcome, error) {
	var out Outcome

	if err := os.MkdirAll(j.cfg.Dir, 0755); err != nil {
		return out, fmt.Errorf("create backup dir: %w", err)
	}

	if _, err := os.Stat(j.cfg.SourcePath); errors.Is(err, os.ErrNotExist) {
		j.logger.WarnContext(ctx, "Database file not found, skipping backup", "source", j.cfg.SourcePath)
		out.Skipped = true
		return out, nil
	}

	dest := filepath.Join(j.cfg.Dir, fmt.Sprintf("%s_%s.%s", j.cfg.Prefix, j.now().Format(stampLayout), j.cfg.Ext))
	size, err := copyFile(j.cfg.SourcePath, dest)
	if err != nil {
		return out, fmt.Errorf("copy database: %w", err)
	}
	out.Path, out.Size = dest, size
	j.logger.InfoContext(ctx, "Backup created", log.FieldBackupPath, dest, log.FieldBackupSize, size)

	j.record(ctx, core.BackupRecord{Path: dest, Size: &size, Status: core.BackupSuccess})
	j.upload(ctx, dest)

	removed, err := j.sweep()
	out.Removed = removed
	if err != nil {
		return out, fmt.Errorf("sweep old backups: %w", err)
	}
	if removed > 0 {
		j.logger.InfoContext(ctx, "Old backups removed", "count", removed, "retain_days", j.cfg.RetainDays)
	}

	j.notify(ctx, amqp.NewBackupMessage(true, dest, size, ""))
	return out, nil
}

// sweep deletes backups whose modification time is older than the retention
// window and reports how many it removed.
func (j *Job) sweep() (int, error) {
	paths, err := j.glob()
	if err != nil {
		return 0, err
	}
	cutoff := j.now().Add(-time.Duration(j.cfg.RetainDays) * 24 * time.Hour)
	removed := 0
	for _, p := range paths {
		st, err := os.Stat(p)
		if err != nil {
			return removed, err
		}
		if st.ModTime().Before(cutoff) {
			if err := os.Remove(p); err != nil {
				return removed, err
			}
			removed++
		}
	}
	return removed, nil
}

// List returns the backup files on disk, newest first.
func (j *Job) List() ([]FileInfo, error) {
	paths, err := j.glob()
	if err != nil {
		return nil, err
	}
	files := make([]FileInfo, 0, len(paths))
	for _, p := range paths {
		st, err := os.Stat(p)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return nil, err
		}
		files = append(files, FileInfo{Name: st.Name(), Size: st.Size(), CreatedAt: st.ModTime()})
	}
	sort.Slice(files, func(a, b int) bool { return files[a].CreatedAt.After(files[b].CreatedAt) })
	return files, nil
}

// Records returns the newest backup log entries.
func (j *Job) Records(ctx context.Context, limit int) ([]core.BackupRecord, error) {
	return j.sink.ListBackupRecords(ctx, limit)
}

func (j *Job) glob() ([]string, error) {
	return filepath.Glob(filepath.Join(j.cfg.Dir, j.cfg.Prefix+"_*."+j.cfg.Ext))
}

// record writes a backup log row. The backup file stays valid when this fails.
func (j *Job) record(ctx context.Context, rec core.BackupRecord) {
	if j.sink == nil {
		return
	}
	if err := j.sink.InsertBackupRecord(ctx, rec); err != nil {
		j.logger.ErrorContext(ctx, "Failed to write backup log", "status", rec.Status, log.FieldError, err)
	}
}

func (j *Job) upload(ctx context.Context, path string) {
	if j.uploader == nil {
		return
	}
	dest, err := j.uploader.Upload(ctx, path)
	if err != nil {
		j.logger.ErrorContext(ctx, "Off-site upload failed", log.FieldBackupPath, path, log.FieldError, err)
		return
	}
	j.logger.InfoContext(ctx, "Backup uploaded off-site", log.FieldBackupPath, path, "destination", dest)
}

func (j *Job) notify(ctx context.Context, msg *amqp.BackupMessage) {
	if j.notifier == nil {
		return
	}
	if err := j.notifier.PublishBackup(ctx, msg); err != nil {
		j.logger.WarnContext(ctx, "Failed to publish backup event", log.FieldError, err)
	}
}

// copyFile copies src to dst, replacing dst, and returns the bytes written.
func copyFile(src, dst string) (int64, error) {
	in, err := os.Open(src)
	if err != nil {
		return 0, err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(out, in)
	if err != nil {
		out.Close()
		os.Remove(dst)
		return 0, err
	}
	if err := out.Sync(); err != nil {
		out.Close()
		return 0, err
	}
	return n, out.Close()
}
