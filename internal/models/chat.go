package models

import "time"

// DefaultChatID is the distinguished fallback chat. Its config blob
// supplies values absent from a specific chat's config.
const DefaultChatID int64 = 0

// Chat represents a chat stored in the 'chats' table.
type Chat struct {
	ID             int64      `db:"id"` // Platform chat id; 0 is the default chat
	Title          string     `db:"title"`
	GroupID        *int64     `db:"group_id"` // Chats sharing moderation policy, nullable
	Config         []byte     `db:"config"`   // Keyed options, jsonb
	Active         bool       `db:"active"`
	AdminCheckedAt *time.Time `db:"admin_checked_at"` // Last bot-admin-permission check, nullable
	CreatedAt      time.Time  `db:"created_at"`
}
