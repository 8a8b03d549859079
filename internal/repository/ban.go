package repository

import (
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

type GlobalBanRepository interface {
	Add(userID int64, reason string) (bool, error)
	Remove(userID int64) error
	Exists(userID int64) (bool, error)
}

type globalBanRepository struct {
	db     *sqlx.DB
	logger *zap.Logger
}

func NewGlobalBanRepository(db *sqlx.DB, logger *zap.Logger) GlobalBanRepository {
	return &globalBanRepository{db: db, logger: logger}
}

// Add inserts the ban row. Returns false when the user is already
// globally banned; the existing row and its reason are left untouched.
func (r *globalBanRepository) Add(userID int64, reason string) (bool, error) {
	query := `INSERT INTO global_bans (user_id, reason) VALUES ($1, $2)
	          ON CONFLICT (user_id) DO NOTHING`
	res, err := r.db.Exec(query, userID, reason)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func (r *globalBanRepository) Remove(userID int64) error {
	query := `DELETE FROM global_bans WHERE user_id = $1`
	_, err := r.db.Exec(query, userID)
	return err
}

func (r *globalBanRepository) Exists(userID int64) (bool, error) {
	var exists bool
	query := `SELECT EXISTS (SELECT 1 FROM global_bans WHERE user_id = $1)`
	err := r.db.Get(&exists, query, userID)
	return exists, err
}
