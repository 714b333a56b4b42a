package tracker

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/prebidwatch/scout/internal/scan"
)

func TestMemory_GetMissingReturnsNotFound(t *testing.T) {
	t.Parallel()

	m := NewMemory()
	_, err := m.Get(context.Background(), "https://example.com")
	require.ErrorIs(t, err, scan.ErrNotFound)
}

func TestMemory_UpsertReplaces(t *testing.T) {
	t.Parallel()

	m := NewMemory()
	ctx := context.Background()

	require.NoError(t, m.Upsert(ctx, scan.URLRecord{
		URL:      "https://example.com",
		Status:   scan.StatusFailed,
		Attempts: 1,
	}))
	require.NoError(t, m.Upsert(ctx, scan.URLRecord{
		URL:       "https://example.com",
		Status:    scan.StatusCompleted,
		HasPrebid: true,
		Attempts:  2,
	}))

	rec, err := m.Get(ctx, "https://example.com")
	require.NoError(t, err)
	require.Equal(t, scan.StatusCompleted, rec.Status)
	require.True(t, rec.HasPrebid)
	require.Equal(t, 2, rec.Attempts)
	require.Equal(t, 1, m.Len())
}

func TestPostgres_UpsertExecutesInsert(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewPostgresWithPool(mock, "scan_urls")
	require.NoError(t, err)

	now := time.Unix(1700000000, 0).UTC()
	rec := scan.URLRecord{
		URL:           "https://example.com",
		Status:        scan.StatusCompleted,
		HasPrebid:     true,
		PrebidVersion: "7.48.0",
		Attempts:      1,
		UpdatedAt:     now,
	}

	mock.ExpectExec("INSERT INTO scan_urls").
		WithArgs(
			rec.URL,
			string(rec.Status),
			rec.HasPrebid,
			rec.PrebidVersion,
			rec.Attempts,
			rec.LastError,
			rec.UpdatedAt,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.Upsert(context.Background(), rec))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_GetMapsRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewPostgresWithPool(mock, "scan_urls")
	require.NoError(t, err)

	now := time.Unix(1700000000, 0).UTC()
	rows := pgxmock.NewRows([]string{
		"url", "status", "has_prebid", "prebid_version", "attempts", "last_error", "updated_at",
	}).AddRow("https://example.com", "completed", true, "7.48.0", 2, "", now)

	mock.ExpectQuery("SELECT (.+) FROM scan_urls").
		WithArgs("https://example.com").
		WillReturnRows(rows)

	rec, err := store.Get(context.Background(), "https://example.com")
	require.NoError(t, err)
	require.Equal(t, scan.StatusCompleted, rec.Status)
	require.Equal(t, "7.48.0", rec.PrebidVersion)
	require.Equal(t, 2, rec.Attempts)
	require.Equal(t, now, rec.UpdatedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_GetMissingReturnsNotFound(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewPostgresWithPool(mock, "scan_urls")
	require.NoError(t, err)

	mock.ExpectQuery("SELECT (.+) FROM scan_urls").
		WithArgs("https://missing.example").
		WillReturnError(pgx.ErrNoRows)

	_, err = store.Get(context.Background(), "https://missing.example")
	require.ErrorIs(t, err, scan.ErrNotFound)
}

func TestPostgres_RejectsBadTableName(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = NewPostgresWithPool(mock, "scan-urls; DROP TABLE")
	require.Error(t, err)
}
