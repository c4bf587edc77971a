package cassandra

import (
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"github.com/google/uuid"

	"arenalive-backend/internal/domain"
	"arenalive-backend/pkg/constants"
	"arenalive-backend/pkg/metrics"
)

// ReactionRepository appends the raw reaction event stream to Cassandra.
// Rows are bucketed by hour so a long-running room never grows one
// partition unbounded. The engines only ever write here; aggregate
// counts live in memory and reads belong to the reporting layer.
type ReactionRepository struct {
	session *gocql.Session
}

// NewReactionRepository creates a new ReactionRepository
func NewReactionRepository(session *gocql.Session) *ReactionRepository {
	return &ReactionRepository{session: session}
}

// CalculateBucket maps a timestamp to its hour bucket
func CalculateBucket(t time.Time) int {
	return int(t.Unix() / int64(constants.ReactionBucketDuration.Seconds()))
}

// Append inserts one reaction event
func (r *ReactionRepository) Append(roomID uuid.UUID, reaction *domain.Reaction) error {
	query := `
		INSERT INTO reactions (
			room_id, bucket, reaction_id, user_id, type, created_at
		) VALUES (?, ?, ?, ?, ?, ?)
	`

	start := time.Now()
	err := r.session.Query(query,
		roomID,
		CalculateBucket(reaction.CreatedAt),
		gocql.TimeUUID(),
		reaction.UserID,
		reaction.Type,
		reaction.CreatedAt,
	).Exec()
	metrics.RecordCassandraQuery("insert", "reactions", time.Since(start), err)

	if err != nil {
		return fmt.Errorf("failed to append reaction: %w", err)
	}

	return nil
}
