package models

import "time"

// Report is one row per report event in 'reports'. Cumulative power
// per (chat, reported user) drives the threshold-based auto-action.
type Report struct {
	ID         int64     `db:"id"`
	ReporterID int64     `db:"reporter_id"`
	ReportedID int64     `db:"reported_id"`
	ChatID     int64     `db:"chat_id"`
	MessageID  *int64    `db:"message_id"` // Nullable
	Power      int       `db:"power"`
	Reason     *string   `db:"reason"`
	CreatedAt  time.Time `db:"created_at"`
}
