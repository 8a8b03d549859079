package repository

import (
	"database/sql"

	"github.com/jmoiron/sqlx"
	"github.com/pgvector/pgvector-go"
	"go.uber.org/zap"

	"guardbot/internal/models"
)

type MessageLogRepository interface {
	Upsert(msg *models.MessageLog) error
	Get(messageID, chatID int64) (*models.MessageLog, error)
	SpamCounts(userID int64) (spam, ham int64, err error)
	MarkSpam(messageID, chatID int64, isSpam *bool, verified bool, reason, actionType *string, reportedBy *int64) error
	SetPrediction(messageID, chatID int64, probability float64) error
	SetEmbedding(messageID, chatID int64, embedding pgvector.Vector) error
	SearchSimilar(embedding pgvector.Vector, maxDistance float64, limit int) ([]*models.SimilarMessage, error)
	ListRecent(chatID int64, limit int) ([]*models.MessageLog, error)
}

type messageLogRepository struct {
	db     *sqlx.DB
	logger *zap.Logger
}

func NewMessageLogRepository(db *sqlx.DB, logger *zap.Logger) MessageLogRepository {
	return &messageLogRepository{db: db, logger: logger}
}

// Upsert inserts the row on first observation of (message_id, chat_id)
// and merges on every later one: non-null incoming fields win, nulls
// defer to the stored values. Exactly one row per pair, never a
// duplicate.
func (r *messageLogRepository) Upsert(msg *models.MessageLog) error {
	query := `INSERT INTO message_log
	              (message_id, chat_id, user_id, content, is_forwarded, forwarded_from_channel,
	               reply_to_message_id, has_video, has_document, has_photo, has_link, entity_count,
	               embedding, is_spam, manually_verified, spam_probability, reason, action_type, reported_by)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
	          ON CONFLICT (message_id, chat_id) DO UPDATE SET
	              content = CASE WHEN EXCLUDED.content <> '' THEN EXCLUDED.content ELSE message_log.content END,
	              is_forwarded = message_log.is_forwarded OR EXCLUDED.is_forwarded,
	              forwarded_from_channel = COALESCE(EXCLUDED.forwarded_from_channel, message_log.forwarded_from_channel),
	              reply_to_message_id = COALESCE(EXCLUDED.reply_to_message_id, message_log.reply_to_message_id),
	              has_video = COALESCE(EXCLUDED.has_video, message_log.has_video),
	              has_document = COALESCE(EXCLUDED.has_document, message_log.has_document),
	              has_photo = COALESCE(EXCLUDED.has_photo, message_log.has_photo),
	              has_link = COALESCE(EXCLUDED.has_link, message_log.has_link),
	              entity_count = COALESCE(EXCLUDED.entity_count, message_log.entity_count),
	              embedding = COALESCE(EXCLUDED.embedding, message_log.embedding),
	              is_spam = COALESCE(EXCLUDED.is_spam, message_log.is_spam),
	              manually_verified = message_log.manually_verified OR EXCLUDED.manually_verified,
	              spam_probability = COALESCE(EXCLUDED.spam_probability, message_log.spam_probability),
	              reason = COALESCE(EXCLUDED.reason, message_log.reason),
	              action_type = COALESCE(EXCLUDED.action_type, message_log.action_type),
	              reported_by = COALESCE(EXCLUDED.reported_by, message_log.reported_by)
	          RETURNING id, created_at`
	return r.db.QueryRowx(query,
		msg.MessageID, msg.ChatID, msg.UserID, msg.Content, msg.IsForwarded, msg.ForwardedFromChannel,
		msg.ReplyToMessageID, msg.HasVideo, msg.HasDocument, msg.HasPhoto, msg.HasLink, msg.EntityCount,
		msg.Embedding, msg.IsSpam, msg.ManuallyVerified, msg.SpamProbability, msg.Reason, msg.ActionType, msg.ReportedBy).
		Scan(&msg.ID, &msg.CreatedAt)
}

func (r *messageLogRepository) Get(messageID, chatID int64) (*models.MessageLog, error) {
	var msg models.MessageLog
	query := `SELECT * FROM message_log WHERE message_id = $1 AND chat_id = $2`
	err := r.db.Get(&msg, query, messageID, chatID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &msg, nil
}

// SpamCounts returns the user's labeled spam and not-spam message
// counts. Rows with is_spam IS NULL are unknown and excluded from
// both counts.
func (r *messageLogRepository) SpamCounts(userID int64) (int64, int64, error) {
	var counts struct {
		Spam int64 `db:"spam"`
		Ham  int64 `db:"ham"`
	}
	query := `SELECT
	              COUNT(*) FILTER (WHERE is_spam IS TRUE) AS spam,
	              COUNT(*) FILTER (WHERE is_spam IS FALSE) AS ham
	          FROM message_log WHERE user_id = $1`
	err := r.db.Get(&counts, query, userID)
	if err != nil {
		return 0, 0, err
	}
	return counts.Spam, counts.Ham, nil
}

// MarkSpam records a moderation outcome. A nil isSpam leaves the
// tri-state label untouched: suspicion is not a label.
func (r *messageLogRepository) MarkSpam(messageID, chatID int64, isSpam *bool, verified bool, reason, actionType *string, reportedBy *int64) error {
	query := `UPDATE message_log SET
	              is_spam = COALESCE($3, is_spam),
	              manually_verified = manually_verified OR $4,
	              reason = COALESCE($5, reason),
	              action_type = COALESCE($6, action_type),
	              reported_by = COALESCE($7, reported_by)
	          WHERE message_id = $1 AND chat_id = $2`
	_, err := r.db.Exec(query, messageID, chatID, isSpam, verified, reason, actionType, reportedBy)
	return err
}

func (r *messageLogRepository) SetPrediction(messageID, chatID int64, probability float64) error {
	query := `UPDATE message_log SET spam_probability = $3 WHERE message_id = $1 AND chat_id = $2`
	_, err := r.db.Exec(query, messageID, chatID, probability)
	return err
}

// SetEmbedding attaches the text embedding to the audit row, feeding
// the kNN index.
func (r *messageLogRepository) SetEmbedding(messageID, chatID int64, embedding pgvector.Vector) error {
	query := `UPDATE message_log SET embedding = $3 WHERE message_id = $1 AND chat_id = $2`
	_, err := r.db.Exec(query, messageID, chatID, embedding)
	return err
}

// SearchSimilar runs a kNN lookup over message embeddings: ascending
// L2 distance, cut at maxDistance, at most limit rows.
func (r *messageLogRepository) SearchSimilar(embedding pgvector.Vector, maxDistance float64, limit int) ([]*models.SimilarMessage, error) {
	var messages []*models.SimilarMessage
	query := `SELECT *, embedding <-> $1 AS distance
	          FROM message_log
	          WHERE embedding IS NOT NULL AND embedding <-> $1 < $2
	          ORDER BY embedding <-> $1 ASC
	          LIMIT $3`
	err := r.db.Select(&messages, query, embedding, maxDistance, limit)
	if err != nil {
		return nil, err
	}
	return messages, nil
}

func (r *messageLogRepository) ListRecent(chatID int64, limit int) ([]*models.MessageLog, error) {
	var messages []*models.MessageLog
	query := `SELECT * FROM message_log WHERE chat_id = $1 ORDER BY created_at DESC LIMIT $2`
	err := r.db.Select(&messages, query, chatID, limit)
	if err != nil {
		return nil, err
	}
	return messages, nil
}
