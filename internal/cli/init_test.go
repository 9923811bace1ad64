package cli

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"incomes/internal/config"
	"incomes/internal/log"
)

func TestOptionalCollaboratorsDisabled(t *testing.T) {
	cfg := &config.Config{}

	client, err := ConnectAMQP(cfg, log.Discard())
	require.NoError(t, err)
	assert.Nil(t, client)

	uploader, err := OpenGCS(context.Background(), cfg, log.Discard())
	require.NoError(t, err)
	assert.Nil(t, uploader)
}

func TestNewBackupJob(t *testing.T) {
	dir := t.TempDir()
	cfg := &config.Config{
		SQLiteDBPath:     filepath.Join(dir, "incomes.db"),
		BackupDir:        filepath.Join(dir, "backups") + "/",
		BackupPrefix:     "incomes",
		BackupRetainDays: 7,
	}
	repo := InitSQLite(log.Discard(), cfg.SQLiteDBPath)
	t.Cleanup(func() { repo.Close() })

	out := NewBackupJob(cfg, repo, log.Discard(), nil, nil).Run(context.Background())
	require.NoError(t, out.Err)
	assert.False(t, out.Skipped)
	assert.Equal(t, filepath.Join(dir, "backups"), filepath.Dir(out.Path))

	info, err := os.Stat(out.Path)
	require.NoError(t, err)
	assert.Equal(t, out.Size, info.Size())
}

func TestSetupLogger(t *testing.T) {
	logger := SetupLogger("debug")
	assert.Equal(t, log.ComponentApp, logger.Component())
	assert.True(t, logger.Enabled(context.Background(), slog.LevelDebug))
}
