package report

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/toxiguard/chat-relay/internal/logger"
)

// newPostgresStore connects to REPORT_TEST_DSN, migrates, and truncates the
// reports table. Tests using it are skipped when no database is reachable.
func newPostgresStore(t *testing.T) *PostgresStore {
	t.Helper()
	dsn := os.Getenv("REPORT_TEST_DSN")
	if dsn == "" {
		t.Skip("REPORT_TEST_DSN not set")
	}

	ctx := context.Background()
	db, err := OpenPostgres(ctx, dsn)
	if err != nil {
		t.Skipf("postgres not available: %v", err)
	}

	store := NewPostgresStore(db)
	require.NoError(t, store.Migrate())
	// A second run must be a no-op.
	require.NoError(t, store.Migrate())

	_, err = db.ExecContext(ctx, "TRUNCATE reports RESTART IDENTITY")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return store
}

func TestPostgresStore_SubmitAndList(t *testing.T) {
	store := newPostgresStore(t)
	sink := NewSink(store, logger.Nop())
	ctx := context.Background()

	require.NoError(t, sink.Submit(ctx, Submission{MessageText: "x", ReportType: "2", ReporterUsername: "a"}))
	assert.ErrorIs(t, sink.Submit(ctx, Submission{MessageText: "x", ReportType: "9", ReporterUsername: "a"}), ErrInvalidType)

	reports, err := store.List(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Equal(t, FalsePositive, reports[0].ReportType)
	assert.Equal(t, DefaultReportedUsername, reports[0].ReportedUsername)
	assert.False(t, reports[0].CreatedAt.IsZero())

	offensive := OffensiveLanguage
	reports, err = store.List(ctx, Filter{Type: &offensive, Limit: 10})
	require.NoError(t, err)
	assert.Empty(t, reports)
}

func TestPostgresStore_InsertFailureWrapped(t *testing.T) {
	store := newPostgresStore(t)

	// Out-of-range type bypasses the sink and trips the CHECK constraint.
	err := store.Insert(context.Background(), &Report{MessageText: "x", ReportType: Type(5), ReporterUsername: "a", ReportedUsername: "b"})
	assert.ErrorIs(t, err, ErrStoreFailure)
}
