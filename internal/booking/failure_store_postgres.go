package booking

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/hartleylabs/frontdesk/pkg/logging"
)

// pgExecutor is the slice of pgxpool.Pool the journal uses; pgxmock
// satisfies it in tests.
type pgExecutor interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PGFailureJournal persists critical failures to Postgres so they
// survive restarts. Write errors are logged, never propagated; the
// journal must not fail the caller path.
type PGFailureJournal struct {
	db     pgExecutor
	logger *logging.Logger
}

// NewPGFailureJournal builds a Postgres-backed failure sink.
func NewPGFailureJournal(db pgExecutor, logger *logging.Logger) *PGFailureJournal {
	if db == nil {
		panic("booking: pgx pool cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &PGFailureJournal{db: db, logger: logger}
}

var _ FailureSink = (*PGFailureJournal)(nil)

func (j *PGFailureJournal) Record(ctx context.Context, event FailureEvent) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}

	_, err := j.db.Exec(ctx, `
		INSERT INTO critical_failures (
			id, operation, patient_id, session_id, message, occurred_at
		)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, event.ID, event.Operation, nullString(event.PatientID), nullString(event.SessionID), event.Message, event.OccurredAt)
	if err != nil {
		j.logger.Error("failed to journal critical failure",
			"operation", event.Operation, "error", err)
	}
}

func nullString(value string) any {
	if value == "" {
		return nil
	}
	return value
}
