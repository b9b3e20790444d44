package domain

import "time"

// ChangeKind classifies an account mutation
type ChangeKind string

const (
	ChangeCreated     ChangeKind = "created"
	ChangeUpdated     ChangeKind = "updated"
	ChangeDeleted     ChangeKind = "deleted"
	ChangeActivated   ChangeKind = "activated"
	ChangeDeactivated ChangeKind = "deactivated"
)

// AccountChange is published by the registry on every mutation; the
// scheduler is the only consumer. Publishing events here instead of
// calling the scheduler directly keeps the registry free of scheduling
// concerns.
type AccountChange struct {
	AccountID string
	Kind      ChangeKind
	At        time.Time
}
