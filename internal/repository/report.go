package repository

import (
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"guardbot/internal/models"
)

type ReportRepository interface {
	Add(report *models.Report) error
	CumulativePower(chatID, reportedID int64) (int64, error)
	DistinctReporters(chatID, reportedID int64) ([]int64, error)
}

type reportRepository struct {
	db     *sqlx.DB
	logger *zap.Logger
}

func NewReportRepository(db *sqlx.DB, logger *zap.Logger) ReportRepository {
	return &reportRepository{db: db, logger: logger}
}

func (r *reportRepository) Add(report *models.Report) error {
	query := `INSERT INTO reports (reporter_id, reported_id, chat_id, message_id, power, reason)
	          VALUES ($1, $2, $3, $4, $5, $6) RETURNING id, created_at`
	return r.db.QueryRowx(query, report.ReporterID, report.ReportedID, report.ChatID,
		report.MessageID, report.Power, report.Reason).
		Scan(&report.ID, &report.CreatedAt)
}

// CumulativePower sums report power against one user in one chat.
func (r *reportRepository) CumulativePower(chatID, reportedID int64) (int64, error) {
	var total int64
	query := `SELECT COALESCE(SUM(power), 0) FROM reports WHERE chat_id = $1 AND reported_id = $2`
	err := r.db.Get(&total, query, chatID, reportedID)
	return total, err
}

// DistinctReporters lists every distinct user who reported the given
// user in the chat, for the retroactive reporter reward.
func (r *reportRepository) DistinctReporters(chatID, reportedID int64) ([]int64, error) {
	var reporters []int64
	query := `SELECT DISTINCT reporter_id FROM reports WHERE chat_id = $1 AND reported_id = $2 ORDER BY reporter_id`
	err := r.db.Select(&reporters, query, chatID, reportedID)
	if err != nil {
		return nil, err
	}
	return reporters, nil
}
