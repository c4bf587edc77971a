package redis

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"arenalive-backend/internal/database"
)

// DirectoryRepository reads user display metadata from the shared Redis
// directory maintained by the identity service. The session layer only
// consumes it to decorate invite and room notifications; it never
// writes user records.
type DirectoryRepository struct {
	client *database.RedisClient
}

// NewDirectoryRepository creates a new DirectoryRepository
func NewDirectoryRepository(client *database.RedisClient) *DirectoryRepository {
	return &DirectoryRepository{client: client}
}

func directoryKey(userID uuid.UUID) string {
	return fmt.Sprintf("directory:user:%s", userID)
}

// GetDisplayName resolves a user id to their display name. A missing
// entry is not an error; callers fall back to the bare id.
func (r *DirectoryRepository) GetDisplayName(ctx context.Context, userID uuid.UUID) (string, error) {
	name, err := r.client.SafeHGet(ctx, directoryKey(userID), "display_name").Result()
	if err != nil {
		if err == redis.Nil {
			return "", nil
		}
		return "", fmt.Errorf("failed to get display name: %w", err)
	}
	return name, nil
}

// UserExists reports whether the directory knows the user id at all;
// inviting an id the directory has never seen is an invalid target.
func (r *DirectoryRepository) UserExists(ctx context.Context, userID uuid.UUID) (bool, error) {
	exists, err := r.client.SafeExists(ctx, directoryKey(userID)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check directory: %w", err)
	}
	return exists > 0, nil
}
