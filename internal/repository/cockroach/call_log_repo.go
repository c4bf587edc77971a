package cockroach

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"arenalive-backend/internal/domain"
)

// CallLogRepository appends terminal call records to CockroachDB.
// The session engines never read these back; history queries belong to
// the reporting layer.
type CallLogRepository struct {
	pool *pgxpool.Pool
}

// NewCallLogRepository creates a new call log repository
func NewCallLogRepository(pool *pgxpool.Pool) *CallLogRepository {
	return &CallLogRepository{pool: pool}
}

// Append writes one terminal call record
func (r *CallLogRepository) Append(ctx context.Context, log *domain.CallLog) error {
	query := `
		INSERT INTO call_logs (
			call_id, caller_id, callee_id, kind, outcome, duration, started_at, ended_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := r.pool.Exec(ctx, query,
		log.CallID,
		log.CallerID,
		log.CalleeID,
		log.Kind,
		log.Outcome,
		log.Duration,
		log.StartedAt,
		log.EndedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to append call log: %w", err)
	}

	return nil
}
