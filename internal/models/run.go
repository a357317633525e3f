package models

import "time"

type RunStatus string

const (
	RunStatusSuccess   RunStatus = "success"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

// Run is the persisted record of one completed or cancelled tracked execution.
// Rows are only written when a RunningAction is retired, never while it runs.
type Run struct {
	ID           int64
	WorkspaceID  int64
	ActionID     int64
	Status       RunStatus
	StartedAt    time.Time
	CompletedAt  *time.Time
	ExitCode     *int
	ErrorMessage *string
	CreatedAt    time.Time
}
