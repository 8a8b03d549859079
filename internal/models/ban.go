package models

import "time"

// GlobalBan marks a user banned in every chat the bot administers.
// At most one row per user; presence is authoritative regardless of
// any single chat's live platform state.
type GlobalBan struct {
	UserID    int64     `db:"user_id"`
	Reason    string    `db:"reason"`
	CreatedAt time.Time `db:"created_at"`
}
