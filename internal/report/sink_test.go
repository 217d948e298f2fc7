package report

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/toxiguard/chat-relay/internal/logger"
)

// newTestStore opens a fresh SQLite database in a temp directory.
func newTestStore(t *testing.T) *GormStore {
	t.Helper()
	store, err := OpenSQLite(filepath.Join(t.TempDir(), "reports.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

type failingStore struct{ calls int }

func (f *failingStore) Insert(context.Context, *Report) error {
	f.calls++
	return errors.New("disk full")
}

func listAll(t *testing.T, s *GormStore) []Report {
	t.Helper()
	reports, err := s.List(context.Background(), Filter{})
	require.NoError(t, err)
	return reports
}

func strPtr(s string) *string { return &s }

// ---------------------------------------------------------------------------
// Test: Submit
// ---------------------------------------------------------------------------

func TestSink_SubmitDefaultsReportedUsername(t *testing.T) {
	store := newTestStore(t)
	sink := NewSink(store, logger.Nop())

	before := time.Now().Add(-time.Second)
	err := sink.Submit(context.Background(), Submission{
		MessageText:      "x",
		ReportType:       "2",
		ReporterUsername: "a",
	})
	require.NoError(t, err)

	reports := listAll(t, store)
	require.Len(t, reports, 1)
	r := reports[0]
	assert.Equal(t, "x", r.MessageText)
	assert.Equal(t, FalsePositive, r.ReportType)
	assert.Equal(t, "a", r.ReporterUsername)
	assert.Equal(t, DefaultReportedUsername, r.ReportedUsername)
	assert.NotZero(t, r.ID)
	assert.True(t, r.CreatedAt.After(before), "timestamp assigned by the store")
}

func TestSink_SubmitKeepsEmptyReportedUsername(t *testing.T) {
	store := newTestStore(t)
	sink := NewSink(store, logger.Nop())

	require.NoError(t, sink.Submit(context.Background(), Submission{
		MessageText:      "x",
		ReportType:       "0",
		ReporterUsername: "a",
		ReportedUsername: strPtr(""),
	}))

	reports := listAll(t, store)
	require.Len(t, reports, 1)
	assert.Equal(t, "", reports[0].ReportedUsername)
	assert.Equal(t, HateSpeech, reports[0].ReportType)
}

func TestSink_SubmitInvalidTypePersistsNothing(t *testing.T) {
	for _, raw := range []string{"9", "-1", "abc", "", "1.0", "true"} {
		t.Run(raw, func(t *testing.T) {
			store := newTestStore(t)
			sink := NewSink(store, logger.Nop())

			err := sink.Submit(context.Background(), Submission{
				MessageText:      "x",
				ReportType:       raw,
				ReporterUsername: "a",
			})
			assert.ErrorIs(t, err, ErrInvalidType)
			assert.Empty(t, listAll(t, store))
		})
	}
}

func TestSink_SubmitStoreFailure(t *testing.T) {
	store := &failingStore{}
	sink := NewSink(store, logger.Nop())

	err := sink.Submit(context.Background(), Submission{
		MessageText:      "x",
		ReportType:       "1",
		ReporterUsername: "a",
	})
	assert.ErrorIs(t, err, ErrStoreFailure)
	assert.Contains(t, err.Error(), "disk full")
	assert.Equal(t, 1, store.calls)
}

func TestSink_SubmitAppendsOneRowPerCall(t *testing.T) {
	store := newTestStore(t)
	sink := NewSink(store, logger.Nop())

	for i := 0; i < 3; i++ {
		require.NoError(t, sink.Submit(context.Background(), Submission{
			MessageText:      "same message",
			ReportType:       "1",
			ReporterUsername: "a",
			ReportedUsername: strPtr("b"),
		}))
	}
	assert.Len(t, listAll(t, store), 3)
}

// ---------------------------------------------------------------------------
// Test: Types and presentation
// ---------------------------------------------------------------------------

func TestParseType(t *testing.T) {
	cases := []struct {
		raw     string
		want    Type
		wantErr bool
	}{
		{"0", HateSpeech, false},
		{"1", OffensiveLanguage, false},
		{"2", FalsePositive, false},
		{" 2 ", FalsePositive, false},
		{"3", 0, true},
		{"two", 0, true},
		{"2.5", 0, true},
	}

	for _, tc := range cases {
		got, err := ParseType(tc.raw)
		if tc.wantErr {
			assert.ErrorIs(t, err, ErrInvalidType, "raw=%q", tc.raw)
			continue
		}
		require.NoError(t, err, "raw=%q", tc.raw)
		assert.Equal(t, tc.want, got)
	}
}

func TestType_Label(t *testing.T) {
	assert.Equal(t, "Hate Speech", HateSpeech.Label())
	assert.Equal(t, "Offensive Language", OffensiveLanguage.Label())
	assert.Equal(t, "Not Toxic (False Positive)", FalsePositive.Label())
	assert.Equal(t, "Unknown (7)", Type(7).Label())
}

func TestReport_String(t *testing.T) {
	short := Report{ReporterUsername: "a", MessageText: "hi"}
	assert.Equal(t, "Report by a: hi", short.String())

	long := Report{ReporterUsername: "a", MessageText: strings.Repeat("é", 60)}
	assert.Equal(t, "Report by a: "+strings.Repeat("é", 50)+"...", long.String())
}

// ---------------------------------------------------------------------------
// Test: Listing and CSV export
// ---------------------------------------------------------------------------

func TestGormStore_ListFilter(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for _, typ := range []Type{HateSpeech, OffensiveLanguage, HateSpeech} {
		require.NoError(t, store.Insert(ctx, &Report{MessageText: "m", ReportType: typ, ReporterUsername: "a", ReportedUsername: "b"}))
	}

	hate := HateSpeech
	got, err := store.List(ctx, Filter{Type: &hate})
	require.NoError(t, err)
	assert.Len(t, got, 2)

	got, err = store.List(ctx, Filter{Limit: 1})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, HateSpeech, got[0].ReportType, "newest first")

	got, err = store.List(ctx, Filter{Since: time.Now().Add(time.Hour)})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestWriteCSV(t *testing.T) {
	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	reports := []Report{
		{ID: 1, MessageText: "you, idiot", ReportType: OffensiveLanguage, ReporterUsername: "a", ReportedUsername: "b", CreatedAt: ts},
	}

	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, reports))

	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, csvHeader, records[0])
	assert.Equal(t, []string{"1", "you, idiot", "1", "a", "b", "2024-05-01T12:00:00Z", "Offensive Language"}, records[1])
}
