package backup

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"incomes/internal/amqp"
	"incomes/internal/core"
	"incomes/internal/log"
)

type memSink struct {
	mu   sync.Mutex
	recs []core.BackupRecord
	err  error
}

func (s *memSink) InsertBackupRecord(_ context.Context, rec core.BackupRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.recs = append(s.recs, rec)
	return nil
}

func (s *memSink) ListBackupRecords(_ context.Context, limit int) ([]core.BackupRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.BackupRecord, 0, len(s.recs))
	for i := len(s.recs) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, s.recs[i])
	}
	return out, nil
}

type fakeUploader struct{ paths []string }

func (u *fakeUploader) Upload(_ context.Context, p string) (string, error) {
	u.paths = append(u.paths, p)
	return "gs://bucket/" + filepath.Base(p), nil
}

type fakeNotifier struct{ msgs []*amqp.BackupMessage }

func (n *fakeNotifier) PublishBackup(_ context.Context, msg *amqp.BackupMessage) error {
	n.msgs = append(n.msgs, msg)
	return nil
}

func writeDB(t *testing.T, dir string) string {
	t.Helper()
	p := filepath.Join(dir, "incomes.db")
	require.NoError(t, os.WriteFile(p, []byte("SQLite format 3\x00 payload"), 0644))
	return p
}

func TestRun_MissingDatabaseIsNoop(t *testing.T) {
	root := t.TempDir()
	backupDir := filepath.Join(root, "backups")
	sink := &memSink{}
	notifier := &fakeNotifier{}
	job := NewJob(Config{SourcePath: filepath.Join(root, "missing.db"), Dir: backupDir, Prefix: "incomes", RetainDays: 7},
		sink, log.Discard(), WithNotifier(notifier))

	out := job.Run(context.Background())

	assert.True(t, out.Skipped)
	assert.NoError(t, out.Err)
	entries, err := os.ReadDir(backupDir)
	require.NoError(t, err, "backup dir is still created")
	assert.Empty(t, entries)
	assert.Empty(t, sink.recs)
	assert.Empty(t, notifier.msgs)
}

func TestRun_CreatesBackupAndLogsSuccess(t *testing.T) {
	root := t.TempDir()
	src := writeDB(t, root)
	sink := &memSink{}
	uploader := &fakeUploader{}
	notifier := &fakeNotifier{}
	now := time.Date(2024, 3, 1, 2, 0, 0, 0, time.Local)
	job := NewJob(Config{SourcePath: src, Dir: filepath.Join(root, "backups"), Prefix: "incomes", RetainDays: 7},
		sink, log.Discard(), WithClock(func() time.Time { return now }), WithUploader(uploader), WithNotifier(notifier))

	out := job.Run(context.Background())
	require.NoError(t, out.Err)

	want := filepath.Join(root, "backups", "incomes_20240301_020000.db")
	assert.Equal(t, want, out.Path)
	data, err := os.ReadFile(want)
	require.NoError(t, err)
	assert.Equal(t, "SQLite format 3\x00 payload", string(data))

	require.Len(t, sink.recs, 1)
	assert.Equal(t, core.BackupSuccess, sink.recs[0].Status)
	assert.Equal(t, want, sink.recs[0].Path)
	require.NotNil(t, sink.recs[0].Size)
	assert.Equal(t, int64(len(data)), *sink.recs[0].Size)

	assert.Equal(t, []string{want}, uploader.paths)
	require.Len(t, notifier.msgs, 1)
	assert.True(t, notifier.msgs[0].Success)
}

func TestRun_SweepsFilesOlderThanRetention(t *testing.T) {
	root := t.TempDir()
	src := writeDB(t, root)
	dir := filepath.Join(root, "backups")
	require.NoError(t, os.MkdirAll(dir, 0755))

	now := time.Now().Truncate(time.Second)
	for age := 1; age <= 10; age++ {
		p := filepath.Join(dir, fmt.Sprintf("incomes_old%02d.db", age))
		require.NoError(t, os.WriteFile(p, []byte("old"), 0644))
		mtime := now.Add(-time.Duration(age) * 24 * time.Hour)
		require.NoError(t, os.Chtimes(p, mtime, mtime))
	}
	// Files outside the naming pattern are never touched.
	other := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(other, []byte("keep"), 0644))
	ancient := now.Add(-100 * 24 * time.Hour)
	require.NoError(t, os.Chtimes(other, ancient, ancient))

	job := NewJob(Config{SourcePath: src, Dir: dir, Prefix: "incomes", RetainDays: 7},
		&memSink{}, log.Discard(), WithClock(func() time.Time { return now }))

	out := job.Run(context.Background())
	require.NoError(t, out.Err)
	assert.Equal(t, 3, out.Removed)

	for age := 1; age <= 10; age++ {
		_, err := os.Stat(filepath.Join(dir, fmt.Sprintf("incomes_old%02d.db", age)))
		if age > 7 {
			assert.True(t, errors.Is(err, os.ErrNotExist), "age %d should be removed", age)
		} else {
			assert.NoError(t, err, "age %d should be kept", age)
		}
	}
	assert.FileExists(t, other)
	assert.FileExists(t, out.Path)
}

func TestRun_CopyFailureIsRecorded(t *testing.T) {
	root := t.TempDir()
	// A directory opens fine but cannot be read as a file.
	src := filepath.Join(root, "incomes.db")
	require.NoError(t, os.Mkdir(src, 0755))
	sink := &memSink{}
	notifier := &fakeNotifier{}
	job := NewJob(Config{SourcePath: src, Dir: filepath.Join(root, "backups"), Prefix: "incomes", RetainDays: 7},
		sink, log.Discard(), WithNotifier(notifier))

	out := job.Run(context.Background())

	require.Error(t, out.Err)
	require.Len(t, sink.recs, 1)
	assert.Equal(t, core.BackupFailed, sink.recs[0].Status)
	assert.Equal(t, "", sink.recs[0].Path)
	assert.Nil(t, sink.recs[0].Size)
	assert.Contains(t, sink.recs[0].Message, "copy database")
	require.Len(t, notifier.msgs, 1)
	assert.False(t, notifier.msgs[0].Success)
}

func TestRun_LogSinkFailureIsSwallowed(t *testing.T) {
	root := t.TempDir()
	src := writeDB(t, root)
	job := NewJob(Config{SourcePath: src, Dir: filepath.Join(root, "backups"), Prefix: "incomes", RetainDays: 7},
		&memSink{err: errors.New("database is locked")}, log.Discard())

	out := job.Run(context.Background())

	assert.NoError(t, out.Err)
	assert.FileExists(t, out.Path)
}

func TestList_NewestFirst(t *testing.T) {
	dir := t.TempDir()
	base := time.Now().Truncate(time.Second)
	names := []string{"incomes_a.db", "incomes_b.db", "incomes_c.db"}
	for i, n := range names {
		p := filepath.Join(dir, n)
		require.NoError(t, os.WriteFile(p, make([]byte, i+1), 0644))
		mtime := base.Add(time.Duration(i) * time.Hour)
		require.NoError(t, os.Chtimes(p, mtime, mtime))
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.db"), nil, 0644))

	job := NewJob(Config{Dir: dir, Prefix: "incomes"}, &memSink{}, log.Discard())
	files, err := job.List()
	require.NoError(t, err)

	require.Len(t, files, 3)
	assert.Equal(t, "incomes_c.db", files[0].Name)
	assert.Equal(t, int64(3), files[0].Size)
	assert.Equal(t, "incomes_a.db", files[2].Name)
}

func TestRecords(t *testing.T) {
	sink := &memSink{}
	job := NewJob(Config{Dir: t.TempDir(), Prefix: "incomes"}, sink, log.Discard())
	for i := 0; i < 3; i++ {
		require.NoError(t, sink.InsertBackupRecord(context.Background(), core.BackupRecord{Status: core.BackupSuccess, Message: fmt.Sprint(i)}))
	}

	recs, err := job.Records(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "2", recs[0].Message)
}
