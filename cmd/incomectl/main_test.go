package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"incomes/internal/amqp"
	"incomes/internal/config"
	"incomes/internal/log"
)

func TestDescribeEvent(t *testing.T) {
	imp, err := amqp.NewImportCompletedMessage("b-1", 7, 3, 1).ToJSON()
	require.NoError(t, err)
	assert.Equal(t, "user=7 batch=b-1 imported=3 skipped=1", describeEvent(amqp.RoutingImportCompleted, imp))

	ok, err := amqp.NewBackupMessage(true, "/b/incomes_1.db", 42, "").ToJSON()
	require.NoError(t, err)
	assert.Equal(t, "path=/b/incomes_1.db size=42", describeEvent(amqp.RoutingBackupCompleted, ok))

	failed, err := amqp.NewBackupMessage(false, "", 0, "disk full").ToJSON()
	require.NoError(t, err)
	assert.Equal(t, "failed: disk full", describeEvent(amqp.RoutingBackupFailed, failed))

	assert.Equal(t, "not json", describeEvent(amqp.RoutingImportCompleted, []byte("not json")))
	assert.Equal(t, `{"x":1}`, describeEvent("other.key", []byte(`{"x":1}`)))
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	return &config.Config{
		SQLiteDBPath:     filepath.Join(dir, "incomes.db"),
		JWTSecret:        "secret",
		AccessTokenTTL:   time.Hour,
		BackupDir:        filepath.Join(dir, "backups"),
		BackupPrefix:     "incomes",
		BackupRetainDays: 7,
	}
}

func TestRun_ArgumentErrors(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)

	assert.EqualError(t, run(ctx, "passwd", nil, cfg, log.Discard()), "expected a username")
	assert.EqualError(t, run(ctx, "disable", []string{"a", "b"}, cfg, log.Discard()), "expected a username")
	assert.ErrorContains(t, run(ctx, "fetch-backup", []string{"gs://b/o"}, cfg, log.Discard()), "destination")
	assert.ErrorContains(t, run(ctx, "fetch-backup", []string{"/local", "dest"}, cfg, log.Discard()), "invalid GCS URI")
	assert.EqualError(t, run(ctx, "watch-events", nil, cfg, log.Discard()), "AMQP_URL is not set")
	assert.ErrorContains(t, run(ctx, "nope", nil, cfg, log.Discard()), `unknown command "nope"`)
}

func TestBackupAndList(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)

	// Opening the repository creates the database file.
	assert.ErrorContains(t, setActive(ctx, cfg, log.Discard(), "ghost", false), `user "ghost"`)
	require.NoError(t, runBackup(ctx, cfg, log.Discard()))

	var out bytes.Buffer
	require.NoError(t, listBackups(cfg, log.Discard(), &out))
	assert.Contains(t, out.String(), "FILENAME")
	assert.Contains(t, out.String(), "incomes_")

	entries, err := os.ReadDir(cfg.BackupDir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}
