package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskPresenceReconcile sweeps the remote session registry for sessions
	// whose browser vanished without sending the logout DELETE.
	TaskPresenceReconcile = "presence:reconcile"
)

// PresenceReconcilePayload parametrizes one reconcile sweep.
type PresenceReconcilePayload struct {
	BatchLimit int `json:"batch_limit"`
}

// NewPresenceReconcileTask constructs an Asynq task.
func NewPresenceReconcileTask(batchLimit int) (*asynq.Task, error) {
	data, err := json.Marshal(PresenceReconcilePayload{BatchLimit: batchLimit})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskPresenceReconcile, data), nil
}
