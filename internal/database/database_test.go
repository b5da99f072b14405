package database

import (
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thinkscotty/dispatch/internal/models"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := New(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func sampleRun(status string, started time.Time) *models.Run {
	return &models.Run{
		StartedAt:      started,
		FinishedAt:     started.Add(3 * time.Second),
		Status:         status,
		ControlValue:   "https://room.example/abc",
		NewsTitle:      "Markets rally",
		NewsTrigrams:   `["mar","ark"]`,
		GeneratedChars: 420,
		TokensUsed:     96,
		Attempts: []models.AttemptLog{
			{Position: 0, Target: "nekobin", Outcome: "failed", StatusCode: 503, Error: "unexpected status 503", ElapsedMS: 12},
			{Position: 1, Target: "hastebin", Outcome: "succeeded", StatusCode: 200, Locator: "https://h/x", ElapsedMS: 40},
		},
	}
}

func TestNew_MigratesTwice(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	db, err := New(path)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	db, err = New(path)
	require.NoError(t, err)
	defer db.Close()

	size, err := db.SizeBytes()
	require.NoError(t, err)
	assert.Positive(t, size)
}

func TestRecordRun_RoundTrip(t *testing.T) {
	db := openTestDB(t)
	started := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)

	r := sampleRun(models.RunPublished, started)
	r.Target = "hastebin"
	r.Locator = "https://h/x"
	require.NoError(t, db.RecordRun(r))
	require.NotEmpty(t, r.ID)

	got, err := db.GetRun(r.ID)
	require.NoError(t, err)
	assert.Equal(t, started, got.StartedAt)
	assert.Equal(t, models.RunPublished, got.Status)
	assert.Equal(t, "hastebin", got.Target)
	assert.Equal(t, 96, got.TokensUsed)
	require.Len(t, got.Attempts, 2)
	assert.Equal(t, "nekobin", got.Attempts[0].Target)
	assert.Equal(t, 503, got.Attempts[0].StatusCode)
	assert.Equal(t, "https://h/x", got.Attempts[1].Locator)
}

func TestGetRun_Missing(t *testing.T) {
	db := openTestDB(t)
	_, err := db.GetRun("nope")
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestRecordRun_DuplicateIDRollsBack(t *testing.T) {
	db := openTestDB(t)
	r := sampleRun(models.RunPublished, time.Now())
	require.NoError(t, db.RecordRun(r))

	dup := sampleRun(models.RunFailed, time.Now())
	dup.ID = r.ID
	require.Error(t, db.RecordRun(dup))

	attempts, err := db.AttemptsForRun(r.ID)
	require.NoError(t, err)
	assert.Len(t, attempts, 2)
}

func TestRecentRuns_NewestFirst(t *testing.T) {
	db := openTestDB(t)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, status := range []string{models.RunPublished, models.RunUnpublished, models.RunFailed} {
		require.NoError(t, db.RecordRun(sampleRun(status, base.Add(time.Duration(i)*time.Hour))))
	}

	runs, err := db.RecentRuns(2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, models.RunFailed, runs[0].Status)
	assert.Equal(t, models.RunUnpublished, runs[1].Status)
	assert.Len(t, runs[0].Attempts, 2)

	counts, err := db.RunCounts()
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"published": 1, "unpublished": 1, "failed": 1}, counts)
}

func TestRecentPublishedTrigrams(t *testing.T) {
	db := openTestDB(t)
	now := time.Now()

	published := sampleRun(models.RunPublished, now)
	require.NoError(t, db.RecordRun(published))
	require.NoError(t, db.RecordRun(sampleRun(models.RunUnpublished, now.Add(time.Minute))))
	noGrams := sampleRun(models.RunPublished, now.Add(2*time.Minute))
	noGrams.NewsTrigrams = ""
	require.NoError(t, db.RecordRun(noGrams))

	stored, err := db.RecentPublishedTrigrams(10)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, published.ID, stored[0].RunID)
	assert.Equal(t, "Markets rally", stored[0].Title)
	assert.Equal(t, `["mar","ark"]`, stored[0].Trigrams)
}
