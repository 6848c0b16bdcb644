package types

import "time"

// UserEventType is the kind of an inbound user lifecycle event
type UserEventType string

const (
	UserEventDeleted UserEventType = "USER_DELETED"
)

// UserEvent is the envelope delivered on the user events topic
type UserEvent struct {
	ID         string        `json:"id"`
	Type       UserEventType `json:"type"`
	UserID     string        `json:"user_id"`
	OccurredAt time.Time     `json:"occurred_at"`
}
