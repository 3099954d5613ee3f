// Package task mirrors server-owned background jobs into the client, keeps
// the mirror live over the backend's push channel, and fans events out to
// subscribers.
package task

import "time"

// Status represents the state of a background job as reported by the
// backend.
type Status string

const (
	StatusPending Status = "pending"
	StatusRunning Status = "running"
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusRunning, StatusSuccess, StatusFailed:
		return true
	}
	return false
}

// Active reports whether the job is still pending or running.
func (s Status) Active() bool {
	return s == StatusPending || s == StatusRunning
}

// Action identifies a push-channel event kind.
type Action string

const (
	ActionCreated  Action = "created"
	ActionUpdated  Action = "updated"
	ActionFinished Action = "finished"
	ActionDeleted  Action = "deleted"
)

// Task is the strict client-side shape of a background job. The backend is
// authoritative; the client only mirrors.
type Task struct {
	ID       string   `json:"id"`
	GroupIDs []string `json:"groupIds,omitempty"`
	Name     string   `json:"name,omitempty"`
	Status   Status   `json:"status"`
	Progress int      `json:"progress"`
	Message  string   `json:"message,omitempty"`
	Type     string   `json:"type,omitempty"`
	Done     int      `json:"done"`
	Total    int      `json:"total"`

	CreatedAt time.Time `json:"createdAt"`
}

// Event is delivered to subscribers after the mirror applied a push event.
// For deletions only ID is populated; the task no longer exists locally.
type Event struct {
	Action Action
	Task   Task
	ID     string
}

// Counts summarizes the mirror.
type Counts struct {
	Active    int
	Failed    int
	Succeeded int
}
