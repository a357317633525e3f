package models

import "time"

// RunningAction is a registry entry for an in-flight tracked launch.
// Its ID is opaque and never shared with a persisted Run.
type RunningAction struct {
	ID          string
	WorkspaceID int64
	ActionID    int64
	ActionName  string
	ProcessID   int
	StartedAt   time.Time
}

// LaunchResult is the single outcome shape for configuration, spawn and
// resolution failures as well as successful launches.
type LaunchResult struct {
	Success   bool
	Message   string
	ProcessID *int
}

func LaunchFailed(message string) LaunchResult {
	return LaunchResult{Success: false, Message: message}
}

func LaunchSucceeded(message string, pid int) LaunchResult {
	r := LaunchResult{Success: true, Message: message}
	if pid > 0 {
		r.ProcessID = &pid
	}
	return r
}
