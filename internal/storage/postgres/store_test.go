package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/storewatch/internal/id/uuid"
	"github.com/JakeFAU/storewatch/internal/monitor"
)

var fixedNow = time.Unix(1_700_000_000, 0).UTC()

func newMockStore(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	store, err := NewWithPool(mock, func() time.Time { return fixedNow })
	require.NoError(t, err)
	return store, mock
}

func TestNewWithPoolRequiresPool(t *testing.T) {
	t.Parallel()

	_, err := NewWithPool(nil, nil)
	require.Error(t, err)
}

func TestNewRequiresDSN(t *testing.T) {
	t.Parallel()

	_, err := New(context.Background(), Config{})
	require.ErrorContains(t, err, "dsn")
}

func TestEnsureSchema(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS targets").
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	require.NoError(t, store.EnsureSchema(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPing(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery("SELECT 1").WillReturnRows(pgxmock.NewRows([]string{"one"}).AddRow(1))
	require.NoError(t, store.Ping(context.Background()))

	mock.ExpectQuery("SELECT 1").WillReturnError(errors.New("conn refused"))
	require.ErrorContains(t, store.Ping(context.Background()), "ping postgres")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetOrCreateTarget(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	url := "https://food.grab.com/ph/en/restaurant/jollibee/2-ABC"
	mock.ExpectQuery("INSERT INTO targets").
		WithArgs(uuid.TargetID(url), "jollibee", url, "grabfood").
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow("existing-id"))

	id, err := store.GetOrCreateTarget(context.Background(), "jollibee", url, monitor.PlatformGrabFood)
	require.NoError(t, err)
	require.Equal(t, "existing-id", id)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordObservation(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectExec("INSERT INTO observations").
		WithArgs("t1", "BLOCKED", int64(812), "rate limited: http 429", fixedNow).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := store.RecordObservation(context.Background(), "t1", monitor.StatusBlocked, 812, "rate limited: http 429")
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordObservationError(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectExec("INSERT INTO observations").
		WillReturnError(errors.New("connection reset"))

	err := store.RecordObservation(context.Background(), "t1", monitor.StatusOnline, 1, "")
	require.ErrorContains(t, err, "connection reset")
}

func TestRecordCycleSummary(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectExec("INSERT INTO cycle_summaries").
		WithArgs(10, 7, 2, fixedNow).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.RecordCycleSummary(context.Background(), 10, 7, 2))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListTargetsNeedingReview(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	observed := fixedNow.Add(-time.Minute)
	mock.ExpectQuery("FROM targets t").
		WithArgs([]string{"BLOCKED", "UNKNOWN", "ERROR"}).
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "url", "platform", "status", "latency_ms", "evidence", "observed_at",
		}).
			AddRow("t1", "https://www.foodpanda.ph/restaurant/a/x", "foodpanda", "UNKNOWN", int64(900), "no decisive signal", observed).
			AddRow("t2", "https://food.grab.com/ph/en/restaurant/b/2-B", "grabfood", "BLOCKED", int64(30), "blocked: captcha", observed))

	got, err := store.ListTargetsNeedingReview(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, "t1", got[0].TargetID)
	require.Equal(t, monitor.PlatformFoodpanda, got[0].Platform)
	require.Equal(t, monitor.StatusUnknown, got[0].LastObservation.Status)
	require.Equal(t, int64(900), got[0].LastObservation.LatencyMs)
	require.Equal(t, observed, got[0].LastObservation.ObservedAt)
	require.Equal(t, "t2", got[1].LastObservation.TargetID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyManualOverrideRecordsObservation(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("t1").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectExec("INSERT INTO observations").
		WithArgs("t1", "ONLINE", int64(0), "manual override", fixedNow).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.ApplyManualOverride(context.Background(), "t1", true))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyManualOverrideUnknownTarget(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("nope").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(false))

	err := store.ApplyManualOverride(context.Background(), "nope", false)
	require.ErrorIs(t, err, monitor.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordCompliance(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	day := time.Date(2026, 5, 6, 0, 0, 0, 0, time.UTC)
	mock.ExpectExec("INSERT INTO compliance_records").
		WithArgs("t1", day, 4, []string{"SPAG"}, []string{}, []string{"BURG"}, 75.0).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := store.RecordCompliance(context.Background(), monitor.ComplianceRecord{
		TargetID:             "t1",
		CheckDate:            day,
		TotalProductsChecked: 4,
		OutOfStockSKUCodes:   []string{"SPAG"},
		MissingSKUCodes:      []string{"BURG"},
		CompliancePercentage: 75,
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())

	require.Error(t, store.RecordCompliance(context.Background(), monitor.ComplianceRecord{}))
}
