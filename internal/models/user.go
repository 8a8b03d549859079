package models

import "time"

// User represents a platform user stored in the 'users' table.
// Identity is the platform user id; profile fields are refreshed on
// every observed message.
type User struct {
	ID          int64     `db:"id"`
	FirstName   string    `db:"first_name"`
	LastName    *string   `db:"last_name"` // Nullable
	Username    *string   `db:"username"`  // Nullable
	IsBot       bool      `db:"is_bot"`
	IsAnonymous bool      `db:"is_anonymous"`
	IsVerified  bool      `db:"is_verified"`
	RawProfile  []byte    `db:"raw_profile"`  // Raw platform payload, jsonb
	ReportPower int       `db:"report_power"` // Weight of this user's reports, default 1
	CreatedAt   time.Time `db:"created_at"`
}

// UserStatus tracks per (user, chat) membership, unique on the pair.
type UserStatus struct {
	ID         int64     `db:"id"`
	UserID     int64     `db:"user_id"`
	ChatID     int64     `db:"chat_id"`
	Status     string    `db:"status"` // member, admin, left, banned, muted
	LastActive time.Time `db:"last_active"`
	CreatedAt  time.Time `db:"created_at"`
}
