package models

import "time"

// Action is the kind of local mutation a pending change carries
type Action string

const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// Valid reports whether a is one of the known actions
func (a Action) Valid() bool {
	switch a {
	case ActionCreate, ActionUpdate, ActionDelete:
		return true
	default:
		return false
	}
}

// PendingChange is a queued mutation the server has not acknowledged yet.
// It is never modified after it is queued; a later edit of the same record
// produces a new entry.
type PendingChange struct {
	ID        string    `json:"id"` // local bookkeeping only, never the record identity
	Entity    string    `json:"entity"`
	Action    Action    `json:"action"`
	Data      Record    `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}
