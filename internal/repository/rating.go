package repository

import (
	"fmt"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"guardbot/internal/models"
)

type RatingRepository interface {
	AddDelta(rating *models.UserRating) error
	AddDeltaBatch(userIDs []int64, chatID, judgeID int64, delta int) error
	Aggregate(userID, chatID int64) (int64, error)
	AggregateGroup(userID, chatID int64) (int64, error)
}

type ratingRepository struct {
	db     *sqlx.DB
	logger *zap.Logger
}

func NewRatingRepository(db *sqlx.DB, logger *zap.Logger) RatingRepository {
	return &ratingRepository{db: db, logger: logger}
}

// AddDelta appends one ledger row. Ratings are never updated in place.
func (r *ratingRepository) AddDelta(rating *models.UserRating) error {
	query := `INSERT INTO user_ratings (user_id, chat_id, judge_id, delta)
	          VALUES ($1, $2, $3, $4) RETURNING id, created_at`
	return r.db.QueryRowx(query, rating.UserID, rating.ChatID, rating.JudgeID, rating.Delta).
		Scan(&rating.ID, &rating.CreatedAt)
}

// AddDeltaBatch appends one ledger row per user in a single statement,
// all with the same chat, judge and delta.
func (r *ratingRepository) AddDeltaBatch(userIDs []int64, chatID, judgeID int64, delta int) error {
	if len(userIDs) == 0 {
		return nil
	}
	tx, err := r.db.Beginx()
	if err != nil {
		return fmt.Errorf("failed to begin rating batch: %w", err)
	}
	defer tx.Rollback()

	query := `INSERT INTO user_ratings (user_id, chat_id, judge_id, delta) VALUES ($1, $2, $3, $4)`
	for _, userID := range userIDs {
		if _, err := tx.Exec(query, userID, chatID, judgeID, delta); err != nil {
			return fmt.Errorf("failed to insert rating delta for user %d: %w", userID, err)
		}
	}
	return tx.Commit()
}

// Aggregate returns the current rating in one chat: the sum of deltas.
func (r *ratingRepository) Aggregate(userID, chatID int64) (int64, error) {
	var total int64
	query := `SELECT COALESCE(SUM(delta), 0) FROM user_ratings WHERE user_id = $1 AND chat_id = $2`
	err := r.db.Get(&total, query, userID, chatID)
	return total, err
}

// AggregateGroup sums deltas across every chat sharing the given
// chat's group. A chat without a group aggregates over itself only.
func (r *ratingRepository) AggregateGroup(userID, chatID int64) (int64, error) {
	var total int64
	query := `SELECT COALESCE(SUM(ur.delta), 0)
	          FROM user_ratings ur
	          JOIN chats c ON c.id = ur.chat_id
	          WHERE ur.user_id = $1
	            AND (c.id = $2 OR c.group_id IS NOT NULL AND c.group_id = (SELECT group_id FROM chats WHERE id = $2))`
	err := r.db.Get(&total, query, userID, chatID)
	return total, err
}
