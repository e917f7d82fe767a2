package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/webscrape-engine/internal/scrape"
)

func newStore(t *testing.T) (*JobStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	store, err := NewWithPool(mock, "")
	require.NoError(t, err)
	store.now = func() time.Time { return time.Unix(1700000000, 0).UTC() }
	return store, mock
}

func TestNewWithPoolValidation(t *testing.T) {
	t.Parallel()

	_, err := NewWithPool(nil, "jobs")
	require.Error(t, err)

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	_, err = NewWithPool(mock, "jobs; DROP TABLE x")
	require.Error(t, err)
}

func TestMigrate(t *testing.T) {
	t.Parallel()

	store, mock := newStore(t)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS scrape_jobs").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	require.NoError(t, store.Migrate(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPing(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	store, err := NewWithPool(mock, "")
	require.NoError(t, err)

	mock.ExpectPing()
	require.NoError(t, store.Ping(context.Background()))

	mock.ExpectPing().WillReturnError(errors.New("down"))
	require.ErrorContains(t, store.Ping(context.Background()), "ping postgres")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateInsertsRow(t *testing.T) {
	t.Parallel()

	store, mock := newStore(t)
	job := scrape.Job{ID: "abc", URL: "https://example.com", Identity: "user-1", Plan: "pro"}

	mock.ExpectExec("INSERT INTO scrape_jobs").
		WithArgs("abc", "https://example.com", pgxmock.AnyArg(), "user-1", "pro", "pending", "", "", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.Create(context.Background(), job))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateActiveConflict(t *testing.T) {
	t.Parallel()

	store, mock := newStore(t)
	mock.ExpectExec("INSERT INTO scrape_jobs").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))

	err := store.Create(context.Background(), scrape.Job{ID: "abc", URL: "https://example.com"})
	require.ErrorIs(t, err, scrape.ErrJobExists)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetScansRow(t *testing.T) {
	t.Parallel()

	store, mock := newStore(t)
	created := time.Unix(1700000000, 0).UTC()
	started := created.Add(time.Second)
	finished := created.Add(2 * time.Second)

	rows := pgxmock.NewRows([]string{
		"id", "url", "options", "identity", "plan", "state", "attempts", "result", "error", "error_code",
		"parent_id", "root_id", "created_at", "started_at", "finished_at",
	}).AddRow(
		"abc", "https://example.com", []byte(`{"version":1,"recursive":true,"maxDepth":2}`), "user-1", "pro",
		"completed", 1, []byte(`{"url":"https://example.com","title":"Example"}`), "", "",
		"", "", created, &started, &finished,
	)
	mock.ExpectQuery("SELECT id, url").WithArgs("abc").WillReturnRows(rows)

	job, err := store.Get(context.Background(), "abc")
	require.NoError(t, err)
	require.Equal(t, scrape.JobStateCompleted, job.State)
	require.Equal(t, "pro", job.Plan)
	require.True(t, job.Options.Recursive)
	require.Equal(t, 2, job.Options.MaxDepth)
	require.NotNil(t, job.Result)
	require.Equal(t, "Example", job.Result.Title)
	require.Equal(t, finished, *job.FinishedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetMissing(t *testing.T) {
	t.Parallel()

	store, mock := newStore(t)
	mock.ExpectQuery("SELECT id, url").WithArgs("nope").WillReturnError(pgx.ErrNoRows)

	_, err := store.Get(context.Background(), "nope")
	require.ErrorIs(t, err, scrape.ErrJobNotFound)
}

func TestUpdate(t *testing.T) {
	t.Parallel()

	store, mock := newStore(t)
	mock.ExpectExec("UPDATE scrape_jobs SET").
		WithArgs("abc", "failed", 2, pgxmock.AnyArg(), "blocked", "ANTI_BOT_DETECTED", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("UPDATE scrape_jobs SET").
		WithArgs("missing", "active", 1, pgxmock.AnyArg(), "", "", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectExec("UPDATE scrape_jobs SET").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(errors.New("conn reset"))

	ctx := context.Background()
	require.NoError(t, store.Update(ctx, "abc", scrape.JobUpdate{
		State: scrape.JobStateFailed, Attempts: 2, Error: "blocked", ErrorCode: scrape.CodeAntiBotDetected,
	}))
	require.ErrorIs(t, store.Update(ctx, "missing", scrape.JobUpdate{State: scrape.JobStateActive, Attempts: 1}),
		scrape.ErrJobNotFound)
	require.ErrorContains(t, store.Update(ctx, "abc", scrape.JobUpdate{}), "conn reset")
	require.NoError(t, mock.ExpectationsWereMet())
}
