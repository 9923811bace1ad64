package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"incomes/internal/core"
)

func newTestRepo(t *testing.T) *SQLiteRepository {
	t.Helper()
	repo, err := NewSQLiteRepository(filepath.Join(t.TempDir(), "data", "incomes.db"))
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	return repo
}

func TestMigrationsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "incomes.db")
	first, err := NewSQLiteRepository(path)
	require.NoError(t, err)
	assert.Equal(t, uint(1), first.SchemaVersion())
	require.NoError(t, first.Close())

	version, err := RunMigrations(path)
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)
}

func seedUser(t *testing.T, repo *SQLiteRepository, name string) core.User {
	t.Helper()
	u, err := repo.CreateUser(context.Background(), core.User{Username: name, PasswordHash: "x"})
	require.NoError(t, err)
	return u
}

func seedSource(t *testing.T, repo *SQLiteRepository, userID int64, name string, order int) core.IncomeSource {
	t.Helper()
	s, err := repo.CreateSource(context.Background(), core.IncomeSource{UserID: userID, Name: name, Active: true, SortOrder: order})
	require.NoError(t, err)
	return s
}

func seedRecord(t *testing.T, repo *SQLiteRepository, userID, sourceID int64, date core.Date, cents int64) core.IncomeRecord {
	t.Helper()
	rec, err := repo.CreateRecord(context.Background(), core.IncomeRecord{
		UserID: userID, SourceID: sourceID, Date: date, Amount: core.Money{Cents: cents},
	})
	require.NoError(t, err)
	return rec
}

func TestUsers(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	u := seedUser(t, repo, "alice")
	assert.Equal(t, core.RoleUser, u.Role)
	assert.True(t, u.Active)
	assert.False(t, u.CreatedAt.IsZero())

	got, err := repo.GetUserByUsername(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)

	require.NoError(t, repo.UpdatePassword(ctx, u.ID, "new-hash"))
	got, err = repo.GetUserByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "new-hash", got.PasswordHash)

	require.NoError(t, repo.SetUserActive(ctx, u.ID, false))
	got, err = repo.GetUserByID(ctx, u.ID)
	require.NoError(t, err)
	assert.False(t, got.Active)

	_, err = repo.GetUserByUsername(ctx, "nobody")
	assert.ErrorIs(t, err, core.ErrNotFound)
	assert.ErrorIs(t, repo.UpdatePassword(ctx, 999, "h"), core.ErrNotFound)
}

func TestSources(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	alice := seedUser(t, repo, "alice")
	bob := seedUser(t, repo, "bob")

	second := seedSource(t, repo, alice.ID, "微信", 1)
	first := seedSource(t, repo, alice.ID, "银行卡", 0)

	_, err := repo.CreateSource(ctx, core.IncomeSource{UserID: alice.ID, Name: "微信"})
	assert.ErrorIs(t, err, core.ErrDuplicateSource)

	// Names are unique per user only.
	seedSource(t, repo, bob.ID, "微信", 0)

	second.Active = false
	_, err = repo.UpdateSource(ctx, second)
	require.NoError(t, err)

	active, err := repo.ListSources(ctx, alice.ID, false)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, first.ID, active[0].ID)

	all, err := repo.ListSources(ctx, alice.ID, true)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, []int64{first.ID, second.ID}, []int64{all[0].ID, all[1].ID})

	_, err = repo.GetSource(ctx, bob.ID, first.ID)
	assert.ErrorIs(t, err, core.ErrNotFound, "sources of other users are invisible")

	first.Name = "微信"
	_, err = repo.UpdateSource(ctx, first)
	assert.ErrorIs(t, err, core.ErrDuplicateSource)
}

func TestDeleteSource(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	u := seedUser(t, repo, "alice")
	used := seedSource(t, repo, u.ID, "银行卡", 0)
	unused := seedSource(t, repo, u.ID, "股票", 1)
	seedRecord(t, repo, u.ID, used.ID, core.NewDate(2024, 1, 5), 100)

	assert.ErrorIs(t, repo.DeleteSource(ctx, u.ID, used.ID), core.ErrSourceInUse)
	require.NoError(t, repo.DeleteSource(ctx, u.ID, unused.ID))
	assert.ErrorIs(t, repo.DeleteSource(ctx, u.ID, unused.ID), core.ErrNotFound)
}

func TestRecordsPagingAndOrder(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	u := seedUser(t, repo, "alice")
	bank := seedSource(t, repo, u.ID, "银行卡", 0)
	wechat := seedSource(t, repo, u.ID, "微信", 1)

	a := seedRecord(t, repo, u.ID, bank.ID, core.NewDate(2024, 1, 5), 100)
	b := seedRecord(t, repo, u.ID, wechat.ID, core.NewDate(2024, 1, 5), 200)
	c := seedRecord(t, repo, u.ID, bank.ID, core.NewDate(2024, 3, 1), 300)
	d := seedRecord(t, repo, u.ID, bank.ID, core.NewDate(2023, 12, 31), 400)

	page, err := repo.ListRecords(ctx, u.ID, core.RecordFilter{}, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, 4, page.Total)
	require.Len(t, page.Items, 2)
	assert.Equal(t, []int64{c.ID, b.ID}, []int64{page.Items[0].ID, page.Items[1].ID})
	assert.Equal(t, "微信", page.Items[1].SourceName)

	page, err = repo.ListRecords(ctx, u.ID, core.RecordFilter{}, 2, 2)
	require.NoError(t, err)
	assert.Equal(t, []int64{a.ID, d.ID}, []int64{page.Items[0].ID, page.Items[1].ID})

	page, err = repo.ListRecords(ctx, u.ID, core.RecordFilter{Year: 2024, Month: 1, SourceID: bank.ID}, 1, 20)
	require.NoError(t, err)
	assert.Equal(t, 1, page.Total)
	assert.Equal(t, a.ID, page.Items[0].ID)

	all, err := repo.ExportRecords(ctx, u.ID, core.RecordFilter{Year: 2024})
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestRecordCRUD(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	alice := seedUser(t, repo, "alice")
	bob := seedUser(t, repo, "bob")
	bank := seedSource(t, repo, alice.ID, "银行卡", 0)
	bobs := seedSource(t, repo, bob.ID, "银行卡", 0)

	_, err := repo.CreateRecord(ctx, core.IncomeRecord{UserID: alice.ID, SourceID: bobs.ID, Date: core.NewDate(2024, 1, 1), Amount: core.Money{Cents: 1}})
	assert.ErrorIs(t, err, core.ErrUnknownSource)

	rec := seedRecord(t, repo, alice.ID, bank.ID, core.NewDate(2024, 1, 5), 100000)
	assert.Equal(t, "2024-01-05", rec.Date.String())

	rec.Note = "bonus"
	rec.Amount = core.Money{Cents: 150000}
	updated, err := repo.UpdateRecord(ctx, rec)
	require.NoError(t, err)
	assert.Equal(t, "bonus", updated.Note)
	assert.Equal(t, int64(150000), updated.Amount.Cents)

	_, err = repo.GetRecord(ctx, bob.ID, rec.ID)
	assert.ErrorIs(t, err, core.ErrNotFound)
	assert.ErrorIs(t, repo.DeleteRecord(ctx, bob.ID, rec.ID), core.ErrNotFound)

	found, err := repo.FindRecordByKey(ctx, alice.ID, bank.ID, core.NewDate(2024, 1, 5), core.Money{Cents: 150000})
	require.NoError(t, err)
	assert.Equal(t, rec.ID, found.ID)

	require.NoError(t, repo.UpdateRecordNote(ctx, rec.ID, ""))
	got, err := repo.GetRecord(ctx, alice.ID, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "", got.Note)

	require.NoError(t, repo.DeleteRecord(ctx, alice.ID, rec.ID))
	_, err = repo.FindRecordByKey(ctx, alice.ID, bank.ID, core.NewDate(2024, 1, 5), core.Money{Cents: 150000})
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestStatistics(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	u := seedUser(t, repo, "alice")
	bank := seedSource(t, repo, u.ID, "银行卡", 0)
	stock := seedSource(t, repo, u.ID, "股票", 1)

	seedRecord(t, repo, u.ID, bank.ID, core.NewDate(2024, 3, 1), 10000)
	seedRecord(t, repo, u.ID, stock.ID, core.NewDate(2024, 3, 15), 20000)
	seedRecord(t, repo, u.ID, bank.ID, core.NewDate(2024, 12, 31), 500)
	seedRecord(t, repo, u.ID, bank.ID, core.NewDate(2023, 6, 1), 700)

	trend, err := repo.YearlyTrend(ctx, u.ID, 2024)
	require.NoError(t, err)
	require.Len(t, trend, 12)
	assert.Equal(t, int64(0), trend[0].Total.Cents)
	assert.Equal(t, int64(30000), trend[2].Total.Cents)
	assert.Equal(t, int64(500), trend[11].Total.Cents)

	shares, err := repo.MonthlyBreakdown(ctx, u.ID, 2024, 3)
	require.NoError(t, err)
	require.Len(t, shares, 2)
	assert.Equal(t, "股票", shares[0].SourceName)
	assert.Equal(t, 66.67, shares[0].Percentage)
	assert.Equal(t, 33.33, shares[1].Percentage)

	empty, err := repo.MonthlyBreakdown(ctx, u.ID, 2024, 2)
	require.NoError(t, err)
	assert.Empty(t, empty)

	totals, err := repo.AnnualTotals(ctx, u.ID)
	require.NoError(t, err)
	require.Len(t, totals, 2)
	assert.Equal(t, core.YearTotal{Year: 2023, Total: core.Money{Cents: 700}}, totals[0])
	assert.Equal(t, core.YearTotal{Year: 2024, Total: core.Money{Cents: 30500}}, totals[1])
}

func TestBackupLog(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	size := int64(4096)
	require.NoError(t, repo.InsertBackupRecord(ctx, core.BackupRecord{Path: "/b/incomes_1.db", Size: &size, Status: core.BackupSuccess}))
	require.NoError(t, repo.InsertBackupRecord(ctx, core.BackupRecord{Status: core.BackupFailed, Message: "disk full"}))

	logs, err := repo.ListBackupRecords(ctx, 10)
	require.NoError(t, err)
	require.Len(t, logs, 2)

	assert.Equal(t, core.BackupFailed, logs[0].Status)
	assert.Nil(t, logs[0].Size)
	assert.Equal(t, "", logs[0].Path)
	assert.Equal(t, "disk full", logs[0].Message)

	require.NotNil(t, logs[1].Size)
	assert.Equal(t, size, *logs[1].Size)
	assert.False(t, logs[1].CreatedAt.IsZero())
}
