package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskSessionSweep removes expired session index entries.
	TaskSessionSweep = "session:sweep"
)

// SessionSweepPayload describes why a sweep was requested.
type SessionSweepPayload struct {
	Trigger string `json:"trigger"`
}

// NewSessionSweepTask constructs an Asynq task.
func NewSessionSweepTask(trigger string) (*asynq.Task, error) {
	data, err := json.Marshal(SessionSweepPayload{Trigger: trigger})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskSessionSweep, data), nil
}
