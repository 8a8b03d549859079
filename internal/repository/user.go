package repository

import (
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"guardbot/internal/models"
)

type UserRepository interface {
	UpsertUser(user *models.User) error
	GetUserByID(id int64) (*models.User, error)
	UpsertStatus(status *models.UserStatus) error
	GetStatus(userID, chatID int64) (*models.UserStatus, error)
	SetStatus(userID, chatID int64, status string) error
	SetReportPower(userID int64, power int) error
	FirstSeen(userID int64) (*time.Time, error)
}

type userRepository struct {
	db     *sqlx.DB
	logger *zap.Logger
}

func NewUserRepository(db *sqlx.DB, logger *zap.Logger) UserRepository {
	return &userRepository{db: db, logger: logger}
}

// UpsertUser creates the user on first observation and refreshes the
// mutable profile fields on every later one. Identity and created_at
// never change; report_power is preserved across upserts.
func (r *userRepository) UpsertUser(user *models.User) error {
	query := `INSERT INTO users (id, first_name, last_name, username, is_bot, is_anonymous, is_verified, raw_profile, report_power)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 1)
	          ON CONFLICT (id) DO UPDATE SET
	              first_name = EXCLUDED.first_name,
	              last_name = EXCLUDED.last_name,
	              username = EXCLUDED.username,
	              is_anonymous = EXCLUDED.is_anonymous,
	              is_verified = EXCLUDED.is_verified,
	              raw_profile = COALESCE(EXCLUDED.raw_profile, users.raw_profile)
	          RETURNING id, report_power, created_at`
	return r.db.QueryRowx(query, user.ID, user.FirstName, user.LastName, user.Username,
		user.IsBot, user.IsAnonymous, user.IsVerified, user.RawProfile).
		Scan(&user.ID, &user.ReportPower, &user.CreatedAt)
}

func (r *userRepository) GetUserByID(id int64) (*models.User, error) {
	var user models.User
	query := `SELECT id, first_name, last_name, username, is_bot, is_anonymous, is_verified, raw_profile, report_power, created_at FROM users WHERE id = $1`
	err := r.db.Get(&user, query, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil // User not found
		}
		return nil, err
	}
	return &user, nil
}

func (r *userRepository) UpsertStatus(status *models.UserStatus) error {
	query := `INSERT INTO user_status (user_id, chat_id, status, last_active)
	          VALUES ($1, $2, $3, $4)
	          ON CONFLICT (user_id, chat_id) DO UPDATE SET
	              status = EXCLUDED.status,
	              last_active = EXCLUDED.last_active
	          RETURNING id, created_at`
	return r.db.QueryRowx(query, status.UserID, status.ChatID, status.Status, status.LastActive).
		Scan(&status.ID, &status.CreatedAt)
}

func (r *userRepository) GetStatus(userID, chatID int64) (*models.UserStatus, error) {
	var status models.UserStatus
	query := `SELECT id, user_id, chat_id, status, last_active, created_at FROM user_status WHERE user_id = $1 AND chat_id = $2`
	err := r.db.Get(&status, query, userID, chatID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &status, nil
}

func (r *userRepository) SetStatus(userID, chatID int64, status string) error {
	query := `INSERT INTO user_status (user_id, chat_id, status, last_active)
	          VALUES ($1, $2, $3, NOW())
	          ON CONFLICT (user_id, chat_id) DO UPDATE SET status = EXCLUDED.status`
	_, err := r.db.Exec(query, userID, chatID, status)
	return err
}

func (r *userRepository) SetReportPower(userID int64, power int) error {
	query := `UPDATE users SET report_power = $1 WHERE id = $2`
	_, err := r.db.Exec(query, power, userID)
	return err
}

// FirstSeen returns the earliest point the user was observed anywhere:
// the minimum of the user row's created_at and any status row's.
func (r *userRepository) FirstSeen(userID int64) (*time.Time, error) {
	var t time.Time
	query := `SELECT LEAST(u.created_at, COALESCE(MIN(s.created_at), u.created_at))
	          FROM users u LEFT JOIN user_status s ON s.user_id = u.id
	          WHERE u.id = $1 GROUP BY u.created_at`
	err := r.db.Get(&t, query, userID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &t, nil
}
