package cockroach

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"arenalive-backend/internal/domain"
)

// LiveSessionRepository appends terminal live-room summaries to CockroachDB
type LiveSessionRepository struct {
	pool *pgxpool.Pool
}

// NewLiveSessionRepository creates a new live session repository
func NewLiveSessionRepository(pool *pgxpool.Pool) *LiveSessionRepository {
	return &LiveSessionRepository{pool: pool}
}

// Append writes one terminal session summary. Reaction counts are stored
// as JSONB since the type set is open-ended.
func (r *LiveSessionRepository) Append(ctx context.Context, summary *domain.LiveSessionSummary) error {
	counts, err := json.Marshal(summary.ReactionCounts)
	if err != nil {
		return fmt.Errorf("failed to encode reaction counts: %w", err)
	}

	var sourceID any
	if summary.SourceID != uuid.Nil {
		sourceID = summary.SourceID
	}

	query := `
		INSERT INTO live_sessions (
			room_id, host_id, kind, source_type, source_id,
			peak_viewers, reaction_counts, duration, started_at, ended_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err = r.pool.Exec(ctx, query,
		summary.RoomID,
		summary.HostID,
		summary.Kind,
		summary.SourceType,
		sourceID,
		summary.PeakViewers,
		counts,
		summary.Duration,
		summary.StartedAt,
		summary.EndedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to append live session summary: %w", err)
	}

	return nil
}
