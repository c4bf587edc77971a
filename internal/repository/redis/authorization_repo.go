package redis

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"arenalive-backend/internal/database"
	"arenalive-backend/internal/domain"
)

// AuthorizationRepository consults the host-permission grants the
// community service maintains in Redis. The session layer calls it once
// per room start and trusts the answer; it never writes grants.
type AuthorizationRepository struct {
	client *database.RedisClient
}

// NewAuthorizationRepository creates a new AuthorizationRepository
func NewAuthorizationRepository(client *database.RedisClient) *AuthorizationRepository {
	return &AuthorizationRepository{client: client}
}

// MayHost reports whether userID may start a live session against the
// given source. Public rooms need no grant.
func (r *AuthorizationRepository) MayHost(ctx context.Context, userID uuid.UUID, sourceType domain.SourceType, sourceID uuid.UUID) (bool, error) {
	if sourceType == domain.SourceTypePublic {
		return true, nil
	}

	key := fmt.Sprintf("authz:live:%s:%s", sourceType, sourceID)
	member, err := r.client.SafeSIsMember(ctx, key, userID.String()).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check host grant: %w", err)
	}
	return member, nil
}
