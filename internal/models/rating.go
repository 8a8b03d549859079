package models

import "time"

// UserRating is one append-only ledger row per reputation change in
// 'user_ratings'. The current rating is the sum of deltas, optionally
// aggregated over every chat in the chat's group.
type UserRating struct {
	ID        int64     `db:"id"`
	UserID    int64     `db:"user_id"`
	ChatID    int64     `db:"chat_id"`
	JudgeID   int64     `db:"judge_id"` // Actor who caused the change
	Delta     int       `db:"delta"`
	CreatedAt time.Time `db:"created_at"`
}
