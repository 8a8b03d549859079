package telegram_bot

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"guardbot/internal/enforcement"
	"guardbot/internal/pipeline"
	"guardbot/internal/policy"
	"guardbot/internal/repository"
)

// Bot is the dispatcher: it consumes platform updates and routes them
// into the moderation pipeline and the enforcement executor.
type Bot struct {
	api       *tgbotapi.BotAPI
	processor *pipeline.Processor
	executor  *enforcement.Executor
	engine    *policy.Engine
	users     repository.UserRepository
	logger    *zap.Logger
}

// NewBot wraps an authorized API client. The client is created by the
// caller because the enforcement executor shares it.
func NewBot(api *tgbotapi.BotAPI, processor *pipeline.Processor, executor *enforcement.Executor, engine *policy.Engine, users repository.UserRepository, logger *zap.Logger) *Bot {
	logger.Info("Telegram bot authorized", zap.String("username", api.Self.UserName))

	return &Bot{
		api:       api,
		processor: processor,
		executor:  executor,
		engine:    engine,
		users:     users,
		logger:    logger,
	}
}

// Start begins listening for updates from Telegram. Each update is
// handled in its own goroutine; one slow platform call never stalls
// the update stream.
func (b *Bot) Start(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)

	b.logger.Info("Telegram bot started, waiting for updates...")

	for {
		select {
		case <-ctx.Done():
			b.logger.Info("Telegram bot shutting down...")
			b.api.StopReceivingUpdates()
			return nil
		case update := <-updates:
			if update.Message == nil {
				continue
			}
			msg := update.Message
			go func() {
				defer func() {
					if r := recover(); r != nil {
						b.logger.Error("Panic while handling update", zap.Any("panic", r))
					}
				}()
				b.handleMessage(ctx, msg)
			}()
		}
	}
}

func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	if msg.From == nil || msg.Chat == nil || msg.From.IsBot {
		return
	}

	if msg.IsCommand() {
		b.handleCommand(ctx, msg)
		return
	}

	if delta, ok := ratingNudge(msg); ok {
		b.handleRatingNudge(ctx, msg, delta)
		return
	}

	announcement, err := b.processor.HandleMessage(ctx, msg)
	if err != nil {
		b.logger.Error("Failed to handle message",
			zap.Int64("chat_id", msg.Chat.ID), zap.Int("message_id", msg.MessageID), zap.Error(err))
		return
	}
	if announcement != "" {
		b.sendMessage(msg.Chat.ID, announcement)
		b.notifyAdmins(msg.Chat.ID, announcement)
	}
}

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	switch msg.Command() {
	case "report":
		b.handleReport(ctx, msg)
	case "ban":
		b.handleBan(ctx, msg, true)
	case "unban":
		b.handleUnban(ctx, msg)
	case "mute":
		b.handleMute(ctx, msg)
	case "unmute":
		b.handleUnmute(ctx, msg)
	case "setpower":
		b.handleSetPower(ctx, msg)
	}
}

// handleReport lets any member report the replied-to message's author.
func (b *Bot) handleReport(ctx context.Context, msg *tgbotapi.Message) {
	target := replyTarget(msg)
	if target == nil {
		b.sendMessage(msg.Chat.ID, "Reply to the message you want to report.")
		return
	}
	if target.ID == msg.From.ID {
		return
	}

	announcement, err := b.processor.HandleReport(ctx, msg.From.ID, target.ID, msg.Chat.ID,
		int64(msg.ReplyToMessage.MessageID), msg.CommandArguments())
	if err != nil {
		b.logger.Error("Failed to handle report",
			zap.Int64("chat_id", msg.Chat.ID), zap.Int64("reported_id", target.ID), zap.Error(err))
		return
	}
	if announcement != "" {
		b.sendMessage(msg.Chat.ID, announcement)
		b.notifyAdmins(msg.Chat.ID, announcement)
	}
}

func (b *Bot) handleBan(ctx context.Context, msg *tgbotapi.Message, global bool) {
	if !b.senderIsAdmin(msg) {
		return
	}
	target := replyTarget(msg)
	if target == nil {
		b.sendMessage(msg.Chat.ID, "Reply to a message from the user you want to ban.")
		return
	}

	reason := msg.CommandArguments()
	if reason == "" {
		reason = "banned by admin"
	}
	decision := policy.Decision{Action: policy.ActionBanGlobal, Reason: reason, DeleteMessage: true}
	if !global {
		decision.Action = policy.ActionBan
	}

	announcement, err := b.processor.ApplyDecision(ctx, decision, msg.Chat.ID, target.ID, int64(msg.ReplyToMessage.MessageID))
	if err != nil {
		b.logger.Error("Failed to ban user", zap.Int64("user_id", target.ID), zap.Error(err))
		return
	}
	if announcement != "" {
		b.sendMessage(msg.Chat.ID, announcement)
		b.notifyAdmins(msg.Chat.ID, announcement)
	}
}

func (b *Bot) handleUnban(ctx context.Context, msg *tgbotapi.Message) {
	if !b.senderIsAdmin(msg) {
		return
	}
	userID, ok := b.targetUserID(msg)
	if !ok {
		b.sendMessage(msg.Chat.ID, "Reply to the user or pass their id.")
		return
	}
	if _, err := b.executor.UnbanUser(ctx, msg.Chat.ID, userID, true); err != nil {
		b.logger.Error("Failed to unban user", zap.Int64("user_id", userID), zap.Error(err))
		return
	}
	b.sendMessage(msg.Chat.ID, fmt.Sprintf("User %d unbanned.", userID))
}

func (b *Bot) handleMute(ctx context.Context, msg *tgbotapi.Message) {
	if !b.senderIsAdmin(msg) {
		return
	}
	target := replyTarget(msg)
	if target == nil {
		b.sendMessage(msg.Chat.ID, "Reply to a message from the user you want to mute.")
		return
	}

	duration := b.engine.MuteDuration(msg.Chat.ID)
	if arg := msg.CommandArguments(); arg != "" {
		if minutes, err := strconv.Atoi(strings.Fields(arg)[0]); err == nil && minutes > 0 {
			duration = time.Duration(minutes) * time.Minute
		}
	}

	result, err := b.executor.MuteUser(ctx, msg.Chat.ID, target.ID, duration, false)
	if err != nil {
		b.logger.Error("Failed to mute user", zap.Int64("user_id", target.ID), zap.Error(err))
		return
	}
	if result.Count(enforcement.OutcomeSucceeded) > 0 {
		b.sendMessage(msg.Chat.ID, fmt.Sprintf("User %d muted for %s.", target.ID, duration))
	}
}

func (b *Bot) handleUnmute(ctx context.Context, msg *tgbotapi.Message) {
	if !b.senderIsAdmin(msg) {
		return
	}
	userID, ok := b.targetUserID(msg)
	if !ok {
		b.sendMessage(msg.Chat.ID, "Reply to the user or pass their id.")
		return
	}
	if _, err := b.executor.UnmuteUser(ctx, msg.Chat.ID, userID, false); err != nil {
		b.logger.Error("Failed to unmute user", zap.Int64("user_id", userID), zap.Error(err))
		return
	}
	b.sendMessage(msg.Chat.ID, fmt.Sprintf("User %d unmuted.", userID))
}

// handleSetPower adjusts how much a user's reports count for.
func (b *Bot) handleSetPower(ctx context.Context, msg *tgbotapi.Message) {
	if !b.senderIsAdmin(msg) {
		return
	}
	target := replyTarget(msg)
	if target == nil {
		b.sendMessage(msg.Chat.ID, "Reply to a message from the user whose report power you want to set.")
		return
	}
	power, err := strconv.Atoi(strings.TrimSpace(msg.CommandArguments()))
	if err != nil || power < 0 {
		b.sendMessage(msg.Chat.ID, "Usage: /setpower <non-negative integer>")
		return
	}
	if err := b.users.SetReportPower(target.ID, power); err != nil {
		b.logger.Error("Failed to set report power", zap.Int64("user_id", target.ID), zap.Error(err))
		return
	}
	b.sendMessage(msg.Chat.ID, fmt.Sprintf("Report power of user %d set to %d.", target.ID, power))
}

// handleRatingNudge applies a +1/-1 rating change when a member
// replies to someone with a bare "+" or "-".
func (b *Bot) handleRatingNudge(ctx context.Context, msg *tgbotapi.Message, delta int) {
	target := replyTarget(msg)
	if target == nil || target.ID == msg.From.ID || target.IsBot {
		return
	}

	changes, err := b.executor.ChangeRating(ctx, []int64{target.ID}, msg.From.ID, msg.Chat.ID, delta)
	if err != nil {
		b.logger.Error("Failed to change rating", zap.Int64("user_id", target.ID), zap.Error(err))
		return
	}
	if len(changes) == 1 {
		b.sendMessage(msg.Chat.ID, fmt.Sprintf("Rating of %s is now %d.", displayName(target), changes[0].NewRating))
	}
}

// notifyAdmins delivers admin-relevant announcements to each chat
// administrator individually. Delivery failures from blocked bots or
// deactivated accounts are suppressed, not escalated.
func (b *Bot) notifyAdmins(chatID int64, text string) {
	admins, err := b.api.GetChatAdministrators(tgbotapi.ChatAdministratorsConfig{
		ChatConfig: tgbotapi.ChatConfig{ChatID: chatID},
	})
	if err != nil {
		b.logger.Warn("Failed to list chat administrators", zap.Int64("chat_id", chatID), zap.Error(err))
		return
	}

	for _, admin := range admins {
		if admin.User == nil || admin.User.IsBot {
			continue
		}
		msg := tgbotapi.NewMessage(admin.User.ID, fmt.Sprintf("[chat %d] %s", chatID, text))
		if _, err := b.api.Send(msg); err != nil {
			if enforcement.IsDeliveryFailure(err) {
				continue
			}
			b.logger.Warn("Failed to notify admin",
				zap.Int64("admin_id", admin.User.ID), zap.Error(err))
		}
	}
}

func (b *Bot) senderIsAdmin(msg *tgbotapi.Message) bool {
	member, err := b.api.GetChatMember(tgbotapi.GetChatMemberConfig{
		ChatConfigWithUser: tgbotapi.ChatConfigWithUser{ChatID: msg.Chat.ID, UserID: msg.From.ID},
	})
	if err != nil {
		b.logger.Warn("Failed to check sender rights",
			zap.Int64("chat_id", msg.Chat.ID), zap.Int64("user_id", msg.From.ID), zap.Error(err))
		return false
	}
	return member.IsAdministrator() || member.IsCreator()
}

func (b *Bot) targetUserID(msg *tgbotapi.Message) (int64, bool) {
	if target := replyTarget(msg); target != nil {
		return target.ID, true
	}
	if arg := strings.TrimSpace(msg.CommandArguments()); arg != "" {
		if id, err := strconv.ParseInt(arg, 10, 64); err == nil {
			return id, true
		}
	}
	return 0, false
}

func (b *Bot) sendMessage(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	if _, err := b.api.Send(msg); err != nil {
		b.logger.Error("Failed to send message", zap.Int64("chat_id", chatID), zap.Error(err))
	}
}

func replyTarget(msg *tgbotapi.Message) *tgbotapi.User {
	if msg.ReplyToMessage == nil || msg.ReplyToMessage.From == nil {
		return nil
	}
	return msg.ReplyToMessage.From
}

func ratingNudge(msg *tgbotapi.Message) (int, bool) {
	if msg.ReplyToMessage == nil {
		return 0, false
	}
	switch strings.TrimSpace(msg.Text) {
	case "+":
		return 1, true
	case "-":
		return -1, true
	}
	return 0, false
}

func displayName(u *tgbotapi.User) string {
	if u.UserName != "" {
		return "@" + u.UserName
	}
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}
