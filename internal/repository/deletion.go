package repository

import (
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"guardbot/internal/models"
)

type DeletionRepository interface {
	Schedule(chatID, messageID int64, at time.Time) error
	Due(now time.Time) ([]*models.MessageDeletion, error)
	MarkDeleted(id int64) error
}

type deletionRepository struct {
	db     *sqlx.DB
	logger *zap.Logger
}

func NewDeletionRepository(db *sqlx.DB, logger *zap.Logger) DeletionRepository {
	return &deletionRepository{db: db, logger: logger}
}

// Schedule records a deferred deletion. Scheduling the same message
// twice keeps the earlier due time.
func (r *deletionRepository) Schedule(chatID, messageID int64, at time.Time) error {
	query := `INSERT INTO message_deletions (chat_id, message_id, status, scheduled_at)
	          VALUES ($1, $2, $3, $4)
	          ON CONFLICT (chat_id, message_id) DO UPDATE SET
	              scheduled_at = LEAST(message_deletions.scheduled_at, EXCLUDED.scheduled_at)`
	_, err := r.db.Exec(query, chatID, messageID, models.DeletionScheduled, at)
	return err
}

func (r *deletionRepository) Due(now time.Time) ([]*models.MessageDeletion, error) {
	var deletions []*models.MessageDeletion
	query := `SELECT id, chat_id, message_id, status, scheduled_at, created_at
	          FROM message_deletions
	          WHERE status = $1 AND scheduled_at <= $2
	          ORDER BY scheduled_at`
	err := r.db.Select(&deletions, query, models.DeletionScheduled, now)
	if err != nil {
		return nil, err
	}
	return deletions, nil
}

func (r *deletionRepository) MarkDeleted(id int64) error {
	query := `UPDATE message_deletions SET status = $1 WHERE id = $2`
	_, err := r.db.Exec(query, models.DeletionDone, id)
	return err
}
