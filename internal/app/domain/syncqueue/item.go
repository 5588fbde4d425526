// Package syncqueue defines the durable queue item model for outstanding
// remote mutations.
package syncqueue

import "time"

// EntityType names the remote resource a queue item targets.
type EntityType string

const (
	EntityAssessment EntityType = "assessment"
	EntityResponse   EntityType = "response"
	EntityEntity     EntityType = "entity"
)

// Valid reports whether t names a known entity type.
func (t EntityType) Valid() bool {
	switch t {
	case EntityAssessment, EntityResponse, EntityEntity:
		return true
	}
	return false
}

// Action is the mutation a queue item carries.
type Action string

const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// Valid reports whether a names a known action.
func (a Action) Valid() bool {
	switch a {
	case ActionCreate, ActionUpdate, ActionDelete:
		return true
	}
	return false
}

// ErrorKind classifies the last failure recorded on a queue item. Network
// and server failures are retryable; validation failures are permanent.
type ErrorKind string

const (
	ErrorNone       ErrorKind = ""
	ErrorNetwork    ErrorKind = "network"
	ErrorServer     ErrorKind = "server"
	ErrorValidation ErrorKind = "validation"
)

// Retryable reports whether a failure of this kind should be attempted again.
func (k ErrorKind) Retryable() bool {
	return k == ErrorNetwork || k == ErrorServer
}

// Item is one pending remote mutation. Items are created when a draft is
// marked for sync and removed on success or explicit removal.
type Item struct {
	UUID        string     `json:"uuid"`
	EntityType  EntityType `json:"entity_type"`
	Action      Action     `json:"action"`
	EntityUUID  string     `json:"entity_uuid"`
	Payload     []byte     `json:"payload,omitempty"`
	Priority    int        `json:"priority"`
	Attempts    int        `json:"attempts"`
	LastAttempt time.Time  `json:"last_attempt,omitempty"`
	NextRetry   time.Time  `json:"next_retry,omitempty"`
	Error       string     `json:"error,omitempty"`
	ErrorKind   ErrorKind  `json:"error_kind,omitempty"`
	Failed      bool       `json:"failed"`
	Timestamp   time.Time  `json:"timestamp"`
}

// Update is a partial merge applied to a queue item. Nil fields are left
// untouched.
type Update struct {
	Priority    *int
	Attempts    *int
	LastAttempt *time.Time
	NextRetry   *time.Time
	Error       *string
	ErrorKind   *ErrorKind
	Failed      *bool
}

// Apply merges the update into the item.
func (u Update) Apply(item *Item) {
	if u.Priority != nil {
		item.Priority = *u.Priority
	}
	if u.Attempts != nil {
		item.Attempts = *u.Attempts
	}
	if u.LastAttempt != nil {
		item.LastAttempt = *u.LastAttempt
	}
	if u.NextRetry != nil {
		item.NextRetry = *u.NextRetry
	}
	if u.Error != nil {
		item.Error = *u.Error
	}
	if u.ErrorKind != nil {
		item.ErrorKind = *u.ErrorKind
	}
	if u.Failed != nil {
		item.Failed = *u.Failed
	}
}

// Less orders items for draining: higher priority first, then insertion
// order (timestamp, then uuid as the deterministic tie-break).
func Less(a, b Item) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	if !a.Timestamp.Equal(b.Timestamp) {
		return a.Timestamp.Before(b.Timestamp)
	}
	return a.UUID < b.UUID
}
