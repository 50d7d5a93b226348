package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskRoleResync re-applies a role's access template to its members.
	TaskRoleResync = "authz:resync_role"
	// TaskExpireGrants sweeps expired user access grants.
	TaskExpireGrants = "authz:expire_grants"
)

// RoleResyncPayload identifies the role whose members need resyncing.
type RoleResyncPayload struct {
	RoleID    int64  `json:"role_id"`
	UpdatedBy string `json:"updated_by"`
}

// NewRoleResyncTask constructs an Asynq task for a role resync.
func NewRoleResyncTask(payload RoleResyncPayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskRoleResync, body, asynq.Queue(QueueDefault)), nil
}

// ExpireGrantsPayload carries scheduling metadata for the expiry sweep.
type ExpireGrantsPayload struct {
	ScheduledFor time.Time `json:"scheduled_for"`
}

// NewExpireGrantsTask constructs an Asynq task for the expiry sweep.
func NewExpireGrantsTask(at time.Time) (*asynq.Task, error) {
	body, err := json.Marshal(ExpireGrantsPayload{ScheduledFor: at})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskExpireGrants, body, asynq.Queue(QueueDefault)), nil
}
