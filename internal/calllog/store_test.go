package calllog

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var callStart = time.Date(2026, time.March, 12, 9, 0, 0, 0, time.UTC)

func TestRecordInsertsEntry(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec("INSERT INTO call_log").
		WithArgs(pgxmock.AnyArg(), "call-1", nil, "+61400000001", "booked", 7,
			"appt-1", callStart, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	store := NewStore(mock, nil)
	err = store.Record(context.Background(), Entry{
		SessionID:     "call-1",
		CallerPhone:   "+61400000001",
		Outcome:       "booked",
		Turns:         7,
		AppointmentID: "appt-1",
		StartedAt:     callStart,
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordReturnsWriteError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec("INSERT INTO call_log").
		WithArgs(pgxmock.AnyArg(), "call-1", nil, "+61400000001", "abandoned", 2,
			nil, callStart, pgxmock.AnyArg()).
		WillReturnError(fmt.Errorf("connection refused"))

	store := NewStore(mock, nil)
	err = store.Record(context.Background(), Entry{
		SessionID:   "call-1",
		CallerPhone: "+61400000001",
		Outcome:     "abandoned",
		Turns:       2,
		StartedAt:   callStart,
	})
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecentForPhone(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	tenant := "clinic-1"
	rows := pgxmock.NewRows([]string{
		"id", "session_id", "tenant_id", "caller_phone", "outcome", "turns",
		"appointment_id", "started_at", "ended_at",
	}).
		AddRow("log-2", "call-2", &tenant, "+61400000001", "booked", 6, ptr("appt-2"), callStart, callStart.Add(4*time.Minute)).
		AddRow("log-1", "call-1", (*string)(nil), "+61400000001", "abandoned", 2, (*string)(nil), callStart.Add(-time.Hour), callStart.Add(-time.Hour).Add(time.Minute))

	mock.ExpectQuery("SELECT (.+) FROM call_log").
		WithArgs("+61400000001", 10).
		WillReturnRows(rows)

	store := NewStore(mock, nil)
	entries, err := store.RecentForPhone(context.Background(), "+61400000001", 0)
	require.NoError(t, err)

	require.Len(t, entries, 2)
	assert.Equal(t, "booked", entries[0].Outcome)
	assert.Equal(t, "appt-2", entries[0].AppointmentID)
	assert.Equal(t, "clinic-1", entries[0].TenantID)
	assert.Empty(t, entries[1].AppointmentID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func ptr(s string) *string { return &s }
