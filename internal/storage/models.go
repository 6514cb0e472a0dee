package storage

import "time"

// ScriptRun is the audit record for one script execution.
type ScriptRun struct {
	ID        string     `json:"id" db:"id"`
	OwnerID   int64      `json:"owner_id" db:"owner_id"`
	Filename  string     `json:"filename" db:"filename"`
	Kind      string     `json:"kind" db:"kind"`
	PID       int        `json:"pid" db:"pid"`
	Status    string     `json:"status" db:"status"` // stopped, timeout, sweep, exited
	LogPath   string     `json:"log_path" db:"log_path"`
	StartedAt time.Time  `json:"started_at" db:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty" db:"ended_at"`
}

// SessionEvent is the audit record for a hosting session transition.
type SessionEvent struct {
	ID        string    `json:"id" db:"id"`
	OwnerID   int64     `json:"owner_id" db:"owner_id"`
	Tier      string    `json:"tier" db:"tier"`
	Event     string    `json:"event" db:"event"` // created, extended, terminated
	Reason    string    `json:"reason,omitempty" db:"reason"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// RunFilter provides criteria for querying script runs.
type RunFilter struct {
	OwnerID int64
	Status  string
	Limit   int
	Offset  int
}
