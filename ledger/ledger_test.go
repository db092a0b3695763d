package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mehran282/off-board-v1/models"
	"github.com/mehran282/off-board-v1/store"
)

func newMockDB(t *testing.T) (*store.Postgres, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })
	return store.NewPostgresFromPool(mock), mock
}

func newSQLite(t *testing.T) *store.SQLite {
	t.Helper()
	db, err := store.NewSQLite(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() }) //nolint:errcheck
	require.NoError(t, db.Migrate(context.Background()))
	return db
}

func TestCheckpointCadence(t *testing.T) {
	db, mock := newMockDB(t)
	ctx := context.Background()
	anyArg := pgxmock.AnyArg()

	mock.ExpectExec(`INSERT INTO scraping_logs`).
		WithArgs(anyArg, "flyers", "running", anyArg, anyArg, 0, anyArg, anyArg).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`UPDATE scraping_logs SET items_scraped = \$1`).
		WithArgs(10, anyArg, "running").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`UPDATE scraping_logs SET items_scraped = \$1`).
		WithArgs(20, anyArg, "running").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	run, err := Start(ctx, db, models.RunFlyers, WithCheckpointEvery(10))
	require.NoError(t, err)
	for range 25 {
		require.NoError(t, run.Advance(ctx))
	}
	assert.Equal(t, 25, run.Items())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCompleteWritesMetadata(t *testing.T) {
	db := newSQLite(t)
	ctx := context.Background()

	run, err := Start(ctx, db, models.RunAll, WithCheckpointEvery(5))
	require.NoError(t, err)
	for range 7 {
		require.NoError(t, run.Advance(ctx))
	}

	mid, err := Latest(ctx, db)
	require.NoError(t, err)
	assert.Equal(t, models.StatusRunning, mid.Status)
	assert.Equal(t, 5, mid.ItemsScraped, "counter is only written at checkpoints")

	stats := models.RunStats{Created: 4, Updated: 3, ByKind: map[models.Kind]int{models.KindFlyer: 7}}
	require.NoError(t, run.Complete(ctx, stats))

	final, err := store.GetRun(ctx, db, run.ID())
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, final.Status)
	assert.Equal(t, 7, final.ItemsScraped)
	require.NotNil(t, final.CompletedAt)
	assert.Nil(t, final.Errors)
	require.NotNil(t, final.Metadata)

	var decoded models.RunStats
	require.NoError(t, json.Unmarshal([]byte(*final.Metadata), &decoded))
	assert.Equal(t, 4, decoded.Created)
	assert.Equal(t, 7, decoded.ByKind[models.KindFlyer])

	assert.ErrorIs(t, run.Advance(ctx), ErrFinished)
	assert.ErrorIs(t, run.Fail(ctx, errors.New("late")), ErrFinished)
}

func TestFailRecordsErrors(t *testing.T) {
	db := newSQLite(t)
	ctx := context.Background()

	run, err := Start(ctx, db, models.RunOffers)
	require.NoError(t, err)
	run.RecordError("offer https://site/Angebote/1: boom")
	require.NoError(t, run.Fail(ctx, errors.New("database unavailable")))

	final, err := store.GetRun(ctx, db, run.ID())
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, final.Status)
	require.NotNil(t, final.Errors)

	var errs []string
	require.NoError(t, json.Unmarshal([]byte(*final.Errors), &errs))
	assert.Equal(t, []string{"offer https://site/Angebote/1: boom", "database unavailable"}, errs)
}

func TestCancel(t *testing.T) {
	db := newSQLite(t)
	ctx := context.Background()

	run, err := Start(ctx, db, models.RunRetailers)
	require.NoError(t, err)
	require.NoError(t, run.Cancel(ctx, models.RunStats{}))
	assert.Equal(t, models.StatusCancelled, run.Entry().Status)
}

func TestReap(t *testing.T) {
	db := newSQLite(t)
	ctx := context.Background()

	stale := time.Now().Add(-8 * time.Hour)
	_, err := Start(ctx, db, models.RunAll, WithClock(func() time.Time { return stale }))
	require.NoError(t, err)
	fresh, err := Start(ctx, db, models.RunAll)
	require.NoError(t, err)

	n, err := Reap(ctx, db, 6*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	still, err := store.GetRun(ctx, db, fresh.ID())
	require.NoError(t, err)
	assert.Equal(t, models.StatusRunning, still.Status)
}
