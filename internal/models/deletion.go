package models

import "time"

// Deletion states for MessageDeletion.Status.
const (
	DeletionScheduled = "scheduled"
	DeletionDone      = "deleted"
)

// MessageDeletion tracks a deferred message deletion in
// 'message_deletions': created as scheduled, transitioned to deleted
// by the sweep that performs the platform call.
type MessageDeletion struct {
	ID          int64     `db:"id"`
	ChatID      int64     `db:"chat_id"`
	MessageID   int64     `db:"message_id"`
	Status      string    `db:"status"`
	ScheduledAt time.Time `db:"scheduled_at"` // When the delete becomes due
	CreatedAt   time.Time `db:"created_at"`
}
