package calllog

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/hartleylabs/frontdesk/pkg/logging"
)

// Entry is one completed call. It is written once at call teardown.
type Entry struct {
	ID            string
	SessionID     string
	TenantID      string
	CallerPhone   string
	Outcome       string
	Turns         int
	AppointmentID string
	StartedAt     time.Time
	EndedAt       time.Time
}

// pgDB is the slice of pgxpool.Pool the store uses; pgxmock satisfies
// it in tests.
type pgDB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Store persists call outcomes to Postgres.
type Store struct {
	db     pgDB
	logger *logging.Logger
}

// NewStore builds a Postgres-backed call log.
func NewStore(db pgDB, logger *logging.Logger) *Store {
	if db == nil {
		panic("calllog: pgx pool cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Store{db: db, logger: logger.Component("calllog")}
}

// Record writes one call outcome. The write is best-effort: a failure
// is logged and returned, but callers tearing down a call treat it as
// non-fatal.
func (s *Store) Record(ctx context.Context, entry Entry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.EndedAt.IsZero() {
		entry.EndedAt = time.Now().UTC()
	}

	_, err := s.db.Exec(ctx, `
		INSERT INTO call_log (
			id, session_id, tenant_id, caller_phone, outcome, turns,
			appointment_id, started_at, ended_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, entry.ID, entry.SessionID, nullString(entry.TenantID), entry.CallerPhone,
		entry.Outcome, entry.Turns, nullString(entry.AppointmentID),
		entry.StartedAt, entry.EndedAt)
	if err != nil {
		s.logger.Error("failed to record call outcome",
			"session_id", entry.SessionID, "outcome", entry.Outcome, "error", err)
		return fmt.Errorf("calllog: failed to record call: %w", err)
	}
	return nil
}

// RecentForPhone returns the most recent calls from one number, newest
// first. Used to give returning callers continuity.
func (s *Store) RecentForPhone(ctx context.Context, phone string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.Query(ctx, `
		SELECT id, session_id, tenant_id, caller_phone, outcome, turns,
		       appointment_id, started_at, ended_at
		FROM call_log
		WHERE caller_phone = $1
		ORDER BY ended_at DESC
		LIMIT $2
	`, phone, limit)
	if err != nil {
		return nil, fmt.Errorf("calllog: failed to query calls: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			entry         Entry
			tenantID      *string
			appointmentID *string
		)
		if err := rows.Scan(&entry.ID, &entry.SessionID, &tenantID, &entry.CallerPhone,
			&entry.Outcome, &entry.Turns, &appointmentID, &entry.StartedAt, &entry.EndedAt); err != nil {
			return nil, fmt.Errorf("calllog: failed to scan call row: %w", err)
		}
		if tenantID != nil {
			entry.TenantID = *tenantID
		}
		if appointmentID != nil {
			entry.AppointmentID = *appointmentID
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("calllog: failed to read call rows: %w", err)
	}
	return entries, nil
}

func nullString(value string) any {
	if value == "" {
		return nil
	}
	return value
}
