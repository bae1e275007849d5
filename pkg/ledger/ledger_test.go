package ledger

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pario-ai/parley/pkg/models"
)

func newTestLedger(t *testing.T) *SQLiteLedger {
	t.Helper()
	l, err := New(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func TestRecordAndQuery(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	rec := models.UsageRecord{
		RequestID:     "req-1",
		Timestamp:     now,
		ProviderID:    "gpt",
		Model:         "gpt-4o",
		Fingerprint:   "abc",
		Outcome:       models.OutcomeSuccess,
		LatencyMs:     120,
		InputTokens:   100,
		OutputTokens:  50,
		EstimatedCost: 0.0025,
	}
	require.NoError(t, l.Record(ctx, rec))

	records, err := l.Query(ctx, now.Add(-time.Minute), time.Time{})
	require.NoError(t, err)
	require.Len(t, records, 1)

	got := records[0]
	assert.NotEmpty(t, got.ID)
	assert.True(t, got.Timestamp.Equal(now))
	assert.Equal(t, "gpt", got.ProviderID)
	assert.Equal(t, models.OutcomeSuccess, got.Outcome)
	assert.Equal(t, int64(100), got.InputTokens)
	assert.InDelta(t, 0.0025, got.EstimatedCost, 1e-12)
	assert.False(t, got.CostUnknown)
}

func TestQueryRange(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()
	base := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		require.NoError(t, l.Record(ctx, models.UsageRecord{
			RequestID:  "r",
			Timestamp:  base.Add(time.Duration(i) * time.Hour),
			ProviderID: "gpt",
			Outcome:    models.OutcomeCacheHit,
		}))
	}

	records, err := l.Query(ctx, base.Add(time.Hour), base.Add(3*time.Hour))
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.True(t, records[0].Timestamp.Equal(base.Add(time.Hour)))
	assert.True(t, records[1].Timestamp.Equal(base.Add(2*time.Hour)))
}

func TestSummaryAndTotalCost(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()
	now := time.Now()

	recs := []models.UsageRecord{
		{ProviderID: "gpt", Model: "gpt-4o", Outcome: models.OutcomeSuccess, LatencyMs: 100, InputTokens: 10, OutputTokens: 5, EstimatedCost: 0.5},
		{ProviderID: "gpt", Model: "gpt-4o", Outcome: models.OutcomeSuccess, LatencyMs: 300, InputTokens: 20, OutputTokens: 5, EstimatedCost: 0.25},
		{ProviderID: "gpt", Model: "gpt-4o", Outcome: models.OutcomeCacheHit},
		{ProviderID: "gemini", Model: "gemini-pro", Outcome: models.OutcomeFailure, ErrorKind: "fatal", LatencyMs: 50},
	}
	for _, r := range recs {
		r.Timestamp = now
		require.NoError(t, l.Record(ctx, r))
	}

	rows, err := l.Summary(ctx, now.Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, rows, 2)

	gem, gpt := rows[0], rows[1]
	assert.Equal(t, "gemini", gem.ProviderID)
	assert.Equal(t, int64(1), gem.Failures)
	assert.Equal(t, "gpt", gpt.ProviderID)
	assert.Equal(t, int64(3), gpt.Calls)
	assert.Equal(t, int64(1), gpt.CacheHits)
	assert.Equal(t, int64(30), gpt.InputTokens)
	assert.InDelta(t, 0.75, gpt.TotalCost, 1e-9)
	assert.InDelta(t, 200, gpt.AvgLatencyMs, 1e-9)

	total, err := l.TotalCost(ctx, "gpt", now.Add(-time.Hour))
	require.NoError(t, err)
	assert.InDelta(t, 0.75, total, 1e-9)

	total, err = l.TotalCost(ctx, "*", now.Add(-time.Hour))
	require.NoError(t, err)
	assert.InDelta(t, 0.75, total, 1e-9)

	total, err = l.TotalCost(ctx, "gpt", now.Add(time.Hour))
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestConcurrentAppends(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, l.Record(ctx, models.UsageRecord{ProviderID: "gpt", Outcome: models.OutcomeSuccess}))
		}()
	}
	wg.Wait()

	records, err := l.Query(ctx, time.Now().Add(-time.Minute), time.Time{})
	require.NoError(t, err)
	assert.Len(t, records, 40)
}

func TestPersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")
	l, err := New(path)
	require.NoError(t, err)
	require.NoError(t, l.Record(context.Background(), models.UsageRecord{ProviderID: "gpt", Outcome: models.OutcomeSuccess}))
	require.NoError(t, l.Close())

	l, err = New(path)
	require.NoError(t, err)
	defer l.Close()
	records, err := l.Query(context.Background(), time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestRecordFailureIsUnavailable(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS usage_records").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO usage_records").WillReturnError(errors.New("disk I/O error"))

	l, err := Open(db)
	require.NoError(t, err)

	err = l.Record(context.Background(), models.UsageRecord{ProviderID: "gpt", Outcome: models.OutcomeSuccess})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrationFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("CREATE TABLE").WillReturnError(errors.New("read-only database"))

	_, err = Open(db)
	assert.ErrorIs(t, err, ErrUnavailable)
}
