package repo

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/redis/go-redis/v9"

	"github.com/interviewcoach/server/internal/agent/model"
	errx "github.com/interviewcoach/server/internal/core/error"
	logx "github.com/interviewcoach/server/pkg/logger"
)

// RedisArtifactStore keeps saved question+answer artifacts as JSON
// values, indexed per project for listing.
type RedisArtifactStore struct {
	rdb redis.Cmdable
}

func NewRedisArtifactStore(rdb redis.Cmdable) *RedisArtifactStore {
	return &RedisArtifactStore{rdb: rdb}
}

// newArtifactID returns a fresh ULID. ulid.Make is safe for concurrent
// callers; saves happen from many session turn goroutines at once.
func newArtifactID() string {
	return ulid.Make().String()
}

func (r *RedisArtifactStore) artifactKey(id string) string {
	return fmt.Sprintf("artifact:%s", id)
}

func (r *RedisArtifactStore) projectIndexKey(projectID string) string {
	return fmt.Sprintf("project:%s:artifacts", projectID)
}

func (r *RedisArtifactStore) Save(ctx context.Context, artifact *model.Artifact) (string, error) {
	if artifact.ID == "" {
		artifact.ID = newArtifactID()
	}
	if artifact.CreatedAt.IsZero() {
		artifact.CreatedAt = time.Now().UTC()
	}

	b, err := json.Marshal(artifact)
	if err != nil {
		return "", fmt.Errorf("marshal artifact: %w", err)
	}

	key := r.artifactKey(artifact.ID)
	if err := r.rdb.Set(ctx, key, b, 0).Err(); err != nil {
		logx.Error().Err(err).Str("key", key).Msg("failed to save artifact to redis")
		return "", errx.WrapRedis(err)
	}
	if artifact.ProjectID != "" {
		if err := r.rdb.RPush(ctx, r.projectIndexKey(artifact.ProjectID), artifact.ID).Err(); err != nil {
			logx.Error().Err(err).Str("project_id", artifact.ProjectID).Msg("failed to index artifact")
			return "", errx.WrapRedis(err)
		}
	}
	return artifact.ID, nil
}

// Get loads one artifact by ID.
func (r *RedisArtifactStore) Get(ctx context.Context, id string) (*model.Artifact, error) {
	raw, err := r.rdb.Get(ctx, r.artifactKey(id)).Result()
	if err != nil {
		return nil, errx.WrapRedis(err)
	}
	var a model.Artifact
	if err := json.Unmarshal([]byte(raw), &a); err != nil {
		return nil, fmt.Errorf("unmarshal artifact %s: %w", id, err)
	}
	return &a, nil
}

var _ model.ArtifactStore = (*RedisArtifactStore)(nil)
