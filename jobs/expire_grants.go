package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/ignis-erp/ignis-erp/internal/authz"
)

// ExpireGrantsJob soft-deactivates user access grants whose expiry has
// passed. The resolver already ignores expired grants, so this sweep is
// hygiene for administrative views, not a correctness requirement.
type ExpireGrantsJob struct {
	store  authz.Store
	logger *slog.Logger
}

// NewExpireGrantsJob constructs the job.
func NewExpireGrantsJob(store authz.Store, logger *slog.Logger) *ExpireGrantsJob {
	return &ExpireGrantsJob{store: store, logger: logger}
}

// Handle processes TaskExpireGrants tasks.
func (j *ExpireGrantsJob) Handle(ctx context.Context, t *asynq.Task) error {
	var payload ExpireGrantsPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}

	var swept int64
	err := j.store.WithTx(ctx, func(ctx context.Context, tx authz.TxStore) error {
		var err error
		swept, err = tx.ExpireGrants(ctx, time.Now().UTC())
		return err
	})
	if err != nil {
		j.logger.Error("expire grants sweep", slog.Any("error", err))
		return err
	}

	j.logger.Info("expire grants sweep complete", slog.Int64("rows", swept))
	return nil
}
