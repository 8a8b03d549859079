package models

import (
	"time"

	"github.com/pgvector/pgvector-go"
)

// MessageLog is one row per (message_id, chat_id) in 'message_log'.
// It is the audit trail and the canonical training-data source.
// Later observations of the same message merge into the existing row;
// non-null incoming fields win, nulls defer to stored values.
type MessageLog struct {
	ID        int64  `db:"id"`
	MessageID int64  `db:"message_id"`
	ChatID    int64  `db:"chat_id"`
	UserID    int64  `db:"user_id"`
	Content   string `db:"content"`

	IsForwarded          bool   `db:"is_forwarded"`
	ForwardedFromChannel *bool  `db:"forwarded_from_channel"` // Nullable: unobserved vs known-false
	ReplyToMessageID     *int64 `db:"reply_to_message_id"`
	HasVideo             *bool  `db:"has_video"`
	HasDocument          *bool  `db:"has_document"`
	HasPhoto             *bool  `db:"has_photo"`
	HasLink              *bool  `db:"has_link"`
	EntityCount          *int   `db:"entity_count"`

	Embedding *pgvector.Vector `db:"embedding"` // Nullable

	// IsSpam is tri-state: nil=unknown, true/false=labeled. Aggregates
	// and training queries must exclude nil, never coerce it to false.
	IsSpam           *bool    `db:"is_spam"`
	ManuallyVerified bool     `db:"manually_verified"`
	SpamProbability  *float64 `db:"spam_probability"`
	Reason           *string  `db:"reason"`
	ActionType       *string  `db:"action_type"`
	ReportedBy       *int64   `db:"reported_by"`

	CreatedAt time.Time `db:"created_at"`
}

// SimilarMessage is a kNN hit from the embedding index.
type SimilarMessage struct {
	MessageLog
	Distance float64 `db:"distance"`
}
