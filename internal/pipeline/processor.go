package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/pgvector/pgvector-go"
	"go.uber.org/zap"

	"guardbot/internal/embedding"
	"guardbot/internal/enforcement"
	"guardbot/internal/features"
	"guardbot/internal/models"
	"guardbot/internal/policy"
	"guardbot/internal/repository"
	"guardbot/internal/scoring"
)

// ImageDescriber turns an image URL into a structured description and
// its embedding. *embedding.Client satisfies it.
type ImageDescriber interface {
	DescribeImage(ctx context.Context, imageURL string) (*embedding.ImageDescription, []float32, error)
}

// FileURLSource resolves a platform file id to a fetchable URL.
// *tgbotapi.BotAPI satisfies it.
type FileURLSource interface {
	GetFileDirectURL(fileID string) (string, error)
}

// Processor runs the moderation pipeline for inbound events: audit the
// message, apply deterministic rules, extract features, score, decide
// and enforce. Each event is handled independently; the datastore is
// the ordering authority, so anything decision-relevant is re-read at
// decision time.
type Processor struct {
	users     repository.UserRepository
	chats     repository.ChatRepository
	messages  repository.MessageLogRepository
	reports   repository.ReportRepository
	bans      repository.GlobalBanRepository
	extractor *features.Extractor
	scorer    *scoring.Scorer
	engine    *policy.Engine
	executor  *enforcement.Executor
	embedder  features.Embedder
	images    ImageDescriber
	files     FileURLSource
	logger    *zap.Logger

	sweepInterval time.Duration
}

func NewProcessor(
	users repository.UserRepository,
	chats repository.ChatRepository,
	messages repository.MessageLogRepository,
	reports repository.ReportRepository,
	bans repository.GlobalBanRepository,
	extractor *features.Extractor,
	scorer *scoring.Scorer,
	engine *policy.Engine,
	executor *enforcement.Executor,
	embedder features.Embedder,
	images ImageDescriber,
	files FileURLSource,
	logger *zap.Logger,
	sweepInterval time.Duration,
) *Processor {
	return &Processor{
		users:         users,
		chats:         chats,
		messages:      messages,
		reports:       reports,
		bans:          bans,
		extractor:     extractor,
		scorer:        scorer,
		engine:        engine,
		executor:      executor,
		embedder:      embedder,
		images:        images,
		files:         files,
		logger:        logger,
		sweepInterval: sweepInterval,
	}
}

// Run drives the deferred-deletion sweep until the context ends.
func (p *Processor) Run(ctx context.Context) {
	p.logger.Info("Pipeline processor started.")

	ticker := time.NewTicker(p.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("Pipeline processor stopped.")
			return
		case <-ticker.C:
			deleted, err := p.executor.DeleteScheduledMessages(ctx)
			if err != nil {
				p.logger.Error("Deletion sweep failed", zap.Error(err))
				continue
			}
			if deleted > 0 {
				p.logger.Info("Deletion sweep enacted deferred deletions", zap.Int("count", deleted))
			}
		}
	}
}

// HandleMessage ingests one group message end to end and returns the
// announcement text for the originating chat, empty when there is
// nothing to announce.
func (p *Processor) HandleMessage(ctx context.Context, msg *tgbotapi.Message) (string, error) {
	if msg.From == nil || msg.Chat == nil {
		return "", nil
	}
	chatID := msg.Chat.ID
	userID := msg.From.ID

	if err := p.observe(msg); err != nil {
		return "", err
	}

	// A globally banned user slipping a message in gets re-banned in
	// this chat and the message removed, no scoring needed.
	banned, err := p.bans.Exists(userID)
	if err != nil {
		return "", fmt.Errorf("failed to check global ban for user %d: %w", userID, err)
	}
	if banned {
		decision := policy.Decision{Action: policy.ActionBan, Reason: "user is globally banned", DeleteMessage: true}
		return p.ApplyDecision(ctx, decision, chatID, userID, int64(msg.MessageID))
	}

	text := messageText(msg)

	if msg.Document != nil {
		if decision, matched := p.engine.CheckDocument(chatID, msg.Document.FileName); matched {
			return p.ApplyDecision(ctx, decision, chatID, userID, int64(msg.MessageID))
		}
	}
	if decision, matched := p.engine.CheckLanguage(chatID, text); matched {
		return p.ApplyDecision(ctx, decision, chatID, userID, int64(msg.MessageID))
	}

	in := featureInput(msg, text)

	// The embedding is computed once here, fed to the extractor and
	// persisted on the audit row so the kNN index grows with the log.
	if text != "" {
		vec, err := p.embedder.EmbedText(ctx, text)
		if err != nil {
			p.logger.Warn("Failed to embed message text",
				zap.Int64("chat_id", chatID), zap.Int64("message_id", int64(msg.MessageID)), zap.Error(err))
		} else {
			in.Embedding = vec
			if err := p.messages.SetEmbedding(int64(msg.MessageID), chatID, pgvector.NewVector(vec)); err != nil {
				p.logger.Error("Failed to store message embedding",
					zap.Int64("chat_id", chatID), zap.Int64("message_id", int64(msg.MessageID)), zap.Error(err))
			}
		}
	}

	if len(msg.Photo) > 0 {
		in.ImageEmbedding = p.describePhoto(ctx, msg)
	}

	probability, err := p.PredictSpam(ctx, in)
	if err != nil {
		// Cannot score: do not block the user over it.
		p.logger.Warn("Message could not be scored",
			zap.Int64("chat_id", chatID), zap.Int64("user_id", userID), zap.Error(err))
		return "", nil
	}
	if err := p.messages.SetPrediction(int64(msg.MessageID), chatID, probability); err != nil {
		p.logger.Error("Failed to store spam prediction",
			zap.Int64("chat_id", chatID), zap.Int64("message_id", int64(msg.MessageID)), zap.Error(err))
	}

	decision := p.engine.EvaluateScore(chatID, probability)
	return p.ApplyDecision(ctx, decision, chatID, userID, int64(msg.MessageID))
}

// describePhoto runs the largest size of an attached photo through
// the vision model and returns the description embedding. Any failure
// means "no image observed", never "cannot score".
func (p *Processor) describePhoto(ctx context.Context, msg *tgbotapi.Message) []float32 {
	photo := msg.Photo[len(msg.Photo)-1]
	url, err := p.files.GetFileDirectURL(photo.FileID)
	if err != nil {
		p.logger.Warn("Failed to resolve photo file URL",
			zap.Int64("chat_id", msg.Chat.ID), zap.String("file_id", photo.FileID), zap.Error(err))
		return nil
	}
	_, vec, err := p.images.DescribeImage(ctx, url)
	if err != nil {
		p.logger.Warn("Failed to describe photo",
			zap.Int64("chat_id", msg.Chat.ID), zap.String("file_id", photo.FileID), zap.Error(err))
		return nil
	}
	return vec
}

// PredictSpam extracts the feature vector and scores it. An
// extraction failure propagates as an error meaning "cannot score".
func (p *Processor) PredictSpam(ctx context.Context, in features.Input) (float64, error) {
	vec, err := p.extractor.Extract(ctx, in)
	if err != nil {
		return 0, err
	}
	return p.scorer.Score(vec), nil
}

// HandleReport records one report event and applies the configured
// threshold policy. Crossing the ban threshold bans globally exactly
// once and rewards every distinct reporter; the warn action is
// suppressed in the same evaluation.
func (p *Processor) HandleReport(ctx context.Context, reporterID, reportedID, chatID, messageID int64, reason string) (string, error) {
	reporter, err := p.users.GetUserByID(reporterID)
	if err != nil {
		return "", fmt.Errorf("failed to load reporter %d: %w", reporterID, err)
	}
	power := 1
	if reporter != nil && reporter.ReportPower > 0 {
		power = reporter.ReportPower
	}

	prev, err := p.reports.CumulativePower(chatID, reportedID)
	if err != nil {
		return "", fmt.Errorf("failed to read report power: %w", err)
	}

	report := &models.Report{
		ReporterID: reporterID,
		ReportedID: reportedID,
		ChatID:     chatID,
		Power:      power,
	}
	if messageID != 0 {
		report.MessageID = &messageID
	}
	if reason != "" {
		report.Reason = &reason
	}
	if err := p.reports.Add(report); err != nil {
		return "", fmt.Errorf("failed to record report: %w", err)
	}

	// Re-read rather than trust prev+power: another report may have
	// landed between our read and our insert.
	current, err := p.reports.CumulativePower(chatID, reportedID)
	if err != nil {
		return "", fmt.Errorf("failed to re-read report power: %w", err)
	}

	decision := p.engine.EvaluateReports(chatID, prev, current)
	if decision.Action == policy.ActionNone {
		return "", nil
	}

	announcement, err := p.ApplyDecision(ctx, decision, chatID, reportedID, messageID)
	if err != nil {
		return announcement, err
	}

	if decision.Action == policy.ActionBanGlobal || decision.Action == policy.ActionBan {
		reporters, rerr := p.reports.DistinctReporters(chatID, reportedID)
		if rerr != nil {
			p.logger.Error("Failed to list reporters for reward", zap.Error(rerr))
			return announcement, nil
		}
		reward := p.engine.ReporterReward(chatID)
		if _, rerr := p.executor.ChangeRating(ctx, reporters, p.executor.BotID(), chatID, reward); rerr != nil {
			p.logger.Error("Failed to reward reporters", zap.Error(rerr))
		}
	}
	return announcement, nil
}

// ApplyDecision enforces one policy decision and writes the audit
// trail. It returns the human-readable outcome for the chat.
func (p *Processor) ApplyDecision(ctx context.Context, decision policy.Decision, chatID, userID, messageID int64) (string, error) {
	if decision.Action == policy.ActionNone {
		return "", nil
	}

	if decision.DeleteMessage && messageID != 0 {
		if err := p.executor.DeleteMessage(ctx, chatID, messageID); err != nil {
			p.logger.Error("Failed to delete message",
				zap.Int64("chat_id", chatID), zap.Int64("message_id", messageID), zap.Error(err))
		}
	}

	var announcement string
	switch decision.Action {
	case policy.ActionWarn:
		announcement = fmt.Sprintf("User %d warned: %s", userID, decision.Reason)

	case policy.ActionMute:
		result, err := p.executor.MuteUser(ctx, chatID, userID, decision.MuteDuration, false)
		if err != nil {
			return "", err
		}
		if result.Count(enforcement.OutcomeSucceeded) > 0 {
			announcement = fmt.Sprintf("User %d muted for %s: %s", userID, decision.MuteDuration, decision.Reason)
		}

	case policy.ActionBan:
		result, err := p.executor.BanUser(ctx, chatID, userID, decision.Reason, false)
		if err != nil {
			return "", err
		}
		if result.Count(enforcement.OutcomeSucceeded) > 0 {
			announcement = fmt.Sprintf("User %d banned: %s", userID, decision.Reason)
		}

	case policy.ActionBanGlobal:
		result, err := p.executor.BanUser(ctx, chatID, userID, decision.Reason, true)
		if err != nil {
			return "", err
		}
		if n := result.Count(enforcement.OutcomeSucceeded); n > 0 {
			announcement = fmt.Sprintf("User %d banned in %d chats: %s", userID, n, decision.Reason)
		}
	}

	if messageID != 0 {
		actionType := decision.Action.String()
		// Only ban-level outcomes are confident enough to label the
		// message; a warn or mute leaves is_spam unknown.
		var isSpam *bool
		if decision.Action == policy.ActionBan || decision.Action == policy.ActionBanGlobal {
			spam := true
			isSpam = &spam
		}
		if err := p.messages.MarkSpam(messageID, chatID, isSpam, false, &decision.Reason, &actionType, nil); err != nil {
			p.logger.Error("Failed to record moderation outcome",
				zap.Int64("chat_id", chatID), zap.Int64("message_id", messageID), zap.Error(err))
		}
	}

	if !p.engine.Announce(chatID) {
		return "", nil
	}
	return announcement, nil
}

// observe lazily creates the chat and user rows and merges the
// message into the audit log.
func (p *Processor) observe(msg *tgbotapi.Message) error {
	chat := &models.Chat{ID: msg.Chat.ID, Title: msg.Chat.Title, Active: true}
	if err := p.chats.UpsertChat(chat); err != nil {
		return fmt.Errorf("failed to upsert chat %d: %w", msg.Chat.ID, err)
	}

	raw, err := json.Marshal(msg.From)
	if err != nil {
		raw = nil
	}
	user := &models.User{
		ID:         msg.From.ID,
		FirstName:  msg.From.FirstName,
		IsBot:      msg.From.IsBot,
		RawProfile: raw,
	}
	if msg.From.LastName != "" {
		user.LastName = &msg.From.LastName
	}
	if msg.From.UserName != "" {
		user.Username = &msg.From.UserName
	}
	if err := p.users.UpsertUser(user); err != nil {
		return fmt.Errorf("failed to upsert user %d: %w", msg.From.ID, err)
	}

	status := &models.UserStatus{
		UserID:     msg.From.ID,
		ChatID:     msg.Chat.ID,
		Status:     statusForMessage(msg),
		LastActive: time.Now(),
	}
	if err := p.users.UpsertStatus(status); err != nil {
		return fmt.Errorf("failed to upsert status for user %d: %w", msg.From.ID, err)
	}

	log := auditRow(msg)
	if err := p.messages.Upsert(log); err != nil {
		return fmt.Errorf("failed to upsert message log: %w", err)
	}
	return nil
}

func statusForMessage(msg *tgbotapi.Message) string {
	if msg.LeftChatMember != nil && msg.LeftChatMember.ID == msg.From.ID {
		return statusLeftMember
	}
	return statusActiveMember
}

const (
	statusActiveMember = "member"
	statusLeftMember   = "left"
)

func auditRow(msg *tgbotapi.Message) *models.MessageLog {
	log := &models.MessageLog{
		MessageID:   int64(msg.MessageID),
		ChatID:      msg.Chat.ID,
		UserID:      msg.From.ID,
		Content:     messageText(msg),
		IsForwarded: msg.ForwardFrom != nil || msg.ForwardFromChat != nil,
	}

	if msg.ReplyToMessage != nil {
		replyTo := int64(msg.ReplyToMessage.MessageID)
		log.ReplyToMessageID = &replyTo
	}

	fwdChannel := msg.ForwardFromChat != nil && msg.ForwardFromChat.IsChannel()
	log.ForwardedFromChannel = &fwdChannel

	hasVideo := msg.Video != nil || msg.VideoNote != nil
	hasDocument := msg.Document != nil
	hasPhoto := len(msg.Photo) > 0
	log.HasVideo = &hasVideo
	log.HasDocument = &hasDocument
	log.HasPhoto = &hasPhoto

	entities := msg.Entities
	if entities == nil {
		entities = msg.CaptionEntities
	}
	entityCount := len(entities)
	log.EntityCount = &entityCount

	hasLink := false
	for _, e := range entities {
		if e.IsURL() || e.IsTextLink() {
			hasLink = true
			break
		}
	}
	log.HasLink = &hasLink

	return log
}

func featureInput(msg *tgbotapi.Message, text string) features.Input {
	row := auditRow(msg)
	return features.Input{
		UserID:               msg.From.ID,
		ChatID:               msg.Chat.ID,
		Text:                 text,
		IsForwarded:          row.IsForwarded,
		ReplyToMessageID:     derefInt64(row.ReplyToMessageID),
		ForwardedFromChannel: row.ForwardedFromChannel,
		HasVideo:             row.HasVideo,
		HasDocument:          row.HasDocument,
		HasPhoto:             row.HasPhoto,
		HasLink:              row.HasLink,
		EntityCount:          row.EntityCount,
	}
}

func messageText(msg *tgbotapi.Message) string {
	if msg.Text != "" {
		return msg.Text
	}
	return msg.Caption
}

func derefInt64(p *int64) int64 {
	if p == nil {
		return 0
	}
	return *p
}
