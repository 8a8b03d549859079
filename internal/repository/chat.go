package repository

import (
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"guardbot/internal/models"
)

type ChatRepository interface {
	GetChatByID(id int64) (*models.Chat, error)
	UpsertChat(chat *models.Chat) error
	GetActiveChats() ([]*models.Chat, error)
	GetConfig(chatID int64) ([]byte, error)
	SetConfig(chatID int64, config []byte) error
	SetActive(chatID int64, active bool) error
	UpdateAdminCheckedAt(chatID int64, t time.Time) error
	MigrateChatID(oldID, newID int64) (bool, error)
}

type chatRepository struct {
	db     *sqlx.DB
	logger *zap.Logger
}

func NewChatRepository(db *sqlx.DB, logger *zap.Logger) ChatRepository {
	return &chatRepository{db: db, logger: logger}
}

func (r *chatRepository) GetChatByID(id int64) (*models.Chat, error) {
	var chat models.Chat
	query := `SELECT id, title, group_id, config, active, admin_checked_at, created_at FROM chats WHERE id = $1`
	err := r.db.Get(&chat, query, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil // Chat not found
		}
		return nil, err
	}
	return &chat, nil
}

func (r *chatRepository) UpsertChat(chat *models.Chat) error {
	query := `INSERT INTO chats (id, title, group_id, config, active)
	          VALUES ($1, $2, $3, COALESCE($4, '{}'::jsonb), $5)
	          ON CONFLICT (id) DO UPDATE SET
	              title = EXCLUDED.title,
	              active = EXCLUDED.active
	          RETURNING created_at`
	return r.db.QueryRowx(query, chat.ID, chat.Title, chat.GroupID, chat.Config, chat.Active).
		Scan(&chat.CreatedAt)
}

func (r *chatRepository) GetActiveChats() ([]*models.Chat, error) {
	var chats []*models.Chat
	query := `SELECT id, title, group_id, config, active, admin_checked_at, created_at
	          FROM chats WHERE active = TRUE AND id <> 0 ORDER BY id`
	err := r.db.Select(&chats, query)
	if err != nil {
		return nil, err
	}
	return chats, nil
}

func (r *chatRepository) GetConfig(chatID int64) ([]byte, error) {
	var config []byte
	query := `SELECT config FROM chats WHERE id = $1`
	err := r.db.Get(&config, query, chatID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return config, nil
}

func (r *chatRepository) SetConfig(chatID int64, config []byte) error {
	query := `UPDATE chats SET config = $1 WHERE id = $2`
	_, err := r.db.Exec(query, config, chatID)
	return err
}

func (r *chatRepository) SetActive(chatID int64, active bool) error {
	query := `UPDATE chats SET active = $1 WHERE id = $2`
	_, err := r.db.Exec(query, active, chatID)
	return err
}

func (r *chatRepository) UpdateAdminCheckedAt(chatID int64, t time.Time) error {
	query := `UPDATE chats SET admin_checked_at = $1 WHERE id = $2`
	_, err := r.db.Exec(query, t, chatID)
	return err
}

// MigrateChatID re-points a chat row to the platform's new id after a
// group migration. Returns false without touching anything when the
// new id already exists as a distinct row.
func (r *chatRepository) MigrateChatID(oldID, newID int64) (bool, error) {
	existing, err := r.GetChatByID(newID)
	if err != nil {
		return false, err
	}
	if existing != nil {
		return false, nil
	}
	_, err = r.db.Exec(`UPDATE chats SET id = $1 WHERE id = $2`, newID, oldID)
	if err != nil {
		return false, err
	}
	r.logger.Info("Chat id migrated", zap.Int64("old_id", oldID), zap.Int64("new_id", newID))
	return true, nil
}
