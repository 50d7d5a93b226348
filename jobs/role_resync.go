package jobs

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/ignis-erp/ignis-erp/internal/authz"
)

// RoleResyncJob re-applies a role's current access template to every
// active member after a template change, then invalidates their cached
// decisions. Applying is idempotent, so retries are safe.
type RoleResyncJob struct {
	propagator *authz.Propagator
	store      authz.Store
	cache      *authz.Cache
	logger     *slog.Logger
}

// NewRoleResyncJob constructs the job.
func NewRoleResyncJob(propagator *authz.Propagator, store authz.Store, cache *authz.Cache, logger *slog.Logger) *RoleResyncJob {
	return &RoleResyncJob{propagator: propagator, store: store, cache: cache, logger: logger}
}

// Handle processes TaskRoleResync tasks.
func (j *RoleResyncJob) Handle(ctx context.Context, t *asynq.Task) error {
	var payload RoleResyncPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}

	synced, err := j.propagator.ResyncRoleMembers(ctx, payload.RoleID, payload.UpdatedBy)
	if err != nil {
		j.logger.Error("role resync",
			slog.Int64("role_id", payload.RoleID),
			slog.Any("error", err),
		)
		return err
	}

	members, err := j.store.ListRoleMembers(ctx, payload.RoleID)
	if err == nil {
		for _, userID := range members {
			if err := j.cache.InvalidateUser(ctx, userID); err != nil {
				j.logger.Warn("invalidate user cache",
					slog.Int64("user_id", userID),
					slog.Any("error", err),
				)
			}
		}
	}

	j.logger.Info("role resync complete",
		slog.Int64("role_id", payload.RoleID),
		slog.Int("members_synced", synced),
	)
	return nil
}
