package enforcement

import (
	"context"
	"fmt"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"guardbot/internal/repository"
)

// User statuses the executor maintains as its canonical idempotence
// flags. Re-invoking an action checks these, never the platform's own
// state.
const (
	statusBanned = "banned"
	statusMuted  = "muted"
	statusMember = "member"
	statusLeft   = "left"
)

// Executor performs moderation actions against the chat platform with
// idempotent semantics, per-chat fan-out and partial-failure
// bookkeeping.
type Executor struct {
	api       ChatAPI
	botID     int64
	chats     repository.ChatRepository
	users     repository.UserRepository
	bans      repository.GlobalBanRepository
	ratings   repository.RatingRepository
	deletions repository.DeletionRepository
	retry     RetryPolicy
	logger    *zap.Logger
	now       func() time.Time
}

func NewExecutor(
	api ChatAPI,
	botID int64,
	chats repository.ChatRepository,
	users repository.UserRepository,
	bans repository.GlobalBanRepository,
	ratings repository.RatingRepository,
	deletions repository.DeletionRepository,
	retry RetryPolicy,
	logger *zap.Logger,
) *Executor {
	return &Executor{
		api:       api,
		botID:     botID,
		chats:     chats,
		users:     users,
		bans:      bans,
		ratings:   ratings,
		deletions: deletions,
		retry:     retry,
		logger:    logger,
		now:       time.Now,
	}
}

// BotID is the acting bot account's platform id, used as the judge on
// system-granted rating changes.
func (x *Executor) BotID() int64 {
	return x.botID
}

// BanUser removes the user from one chat, or from every active chat
// when global. The global_bans row is the durable source of truth for
// "banned everywhere": a second global ban of the same user is a
// no-op that performs no platform calls and adds no rows.
func (x *Executor) BanUser(ctx context.Context, chatID, userID int64, reason string, global bool) (FanOutResult, error) {
	ban := func(target int64) error {
		_, err := x.api.Request(tgbotapi.BanChatMemberConfig{
			ChatMemberConfig: tgbotapi.ChatMemberConfig{ChatID: target, UserID: userID},
			RevokeMessages:   true,
		})
		return err
	}

	if global {
		inserted, err := x.bans.Add(userID, reason)
		if err != nil {
			return nil, fmt.Errorf("failed to record global ban for user %d: %w", userID, err)
		}
		if !inserted {
			x.logger.Info("User already globally banned", zap.Int64("user_id", userID))
			return nil, nil
		}
		result, err := x.fanOut(ctx, "ban", ban)
		if err != nil {
			return nil, err
		}
		x.recordStatuses(result, userID, statusBanned)
		return result, nil
	}

	status, err := x.users.GetStatus(userID, chatID)
	if err != nil {
		return nil, fmt.Errorf("failed to read status for user %d in chat %d: %w", userID, chatID, err)
	}
	if status != nil && status.Status == statusBanned {
		x.logger.Info("User already banned in chat", zap.Int64("user_id", userID), zap.Int64("chat_id", chatID))
		return nil, nil
	}

	outcome := x.attemptWithRetry(ctx, chatID, ban)
	if outcome.Status == OutcomeSucceeded {
		x.setStatus(userID, outcome.ChatID, statusBanned)
	}
	return FanOutResult{outcome}, nil
}

// UnbanUser restores the user's eligibility in one chat or, when
// global, everywhere, and removes the global_bans row. Unbanning a
// user who isn't banned is a no-op.
func (x *Executor) UnbanUser(ctx context.Context, chatID, userID int64, global bool) (FanOutResult, error) {
	unban := func(target int64) error {
		_, err := x.api.Request(tgbotapi.UnbanChatMemberConfig{
			ChatMemberConfig: tgbotapi.ChatMemberConfig{ChatID: target, UserID: userID},
			OnlyIfBanned:     true,
		})
		return err
	}

	if global {
		if err := x.bans.Remove(userID); err != nil {
			return nil, fmt.Errorf("failed to clear global ban for user %d: %w", userID, err)
		}
		result, err := x.fanOut(ctx, "unban", unban)
		if err != nil {
			return nil, err
		}
		x.recordStatuses(result, userID, statusLeft)
		return result, nil
	}

	outcome := x.attemptWithRetry(ctx, chatID, unban)
	if outcome.Status == OutcomeSucceeded {
		x.setStatus(userID, outcome.ChatID, statusLeft)
	}
	return FanOutResult{outcome}, nil
}

// MuteUser revokes the user's messaging permissions for the duration
// (zero means until unmuted), in one chat or everywhere. Muting an
// already-muted user is a no-op in the single-chat case.
func (x *Executor) MuteUser(ctx context.Context, chatID, userID int64, duration time.Duration, global bool) (FanOutResult, error) {
	until := int64(0)
	if duration > 0 {
		until = x.now().Add(duration).Unix()
	}
	perms := mutedPermissions
	mute := func(target int64) error {
		_, err := x.api.Request(tgbotapi.RestrictChatMemberConfig{
			ChatMemberConfig: tgbotapi.ChatMemberConfig{ChatID: target, UserID: userID},
			UntilDate:        until,
			Permissions:      &perms,
		})
		return err
	}

	if global {
		result, err := x.fanOut(ctx, "mute", mute)
		if err != nil {
			return nil, err
		}
		x.recordStatuses(result, userID, statusMuted)
		return result, nil
	}

	status, err := x.users.GetStatus(userID, chatID)
	if err != nil {
		return nil, fmt.Errorf("failed to read status for user %d in chat %d: %w", userID, chatID, err)
	}
	if status != nil && status.Status == statusMuted {
		x.logger.Info("User already muted in chat", zap.Int64("user_id", userID), zap.Int64("chat_id", chatID))
		return nil, nil
	}

	outcome := x.attemptWithRetry(ctx, chatID, mute)
	if outcome.Status == OutcomeSucceeded {
		x.setStatus(userID, outcome.ChatID, statusMuted)
	}
	return FanOutResult{outcome}, nil
}

// UnmuteUser restores ordinary member permissions.
func (x *Executor) UnmuteUser(ctx context.Context, chatID, userID int64, global bool) (FanOutResult, error) {
	perms := restoredPermissions
	unmute := func(target int64) error {
		_, err := x.api.Request(tgbotapi.RestrictChatMemberConfig{
			ChatMemberConfig: tgbotapi.ChatMemberConfig{ChatID: target, UserID: userID},
			Permissions:      &perms,
		})
		return err
	}

	if global {
		result, err := x.fanOut(ctx, "unmute", unmute)
		if err != nil {
			return nil, err
		}
		x.recordStatuses(result, userID, statusMember)
		return result, nil
	}

	outcome := x.attemptWithRetry(ctx, chatID, unmute)
	if outcome.Status == OutcomeSucceeded {
		x.setStatus(userID, outcome.ChatID, statusMember)
	}
	return FanOutResult{outcome}, nil
}

// DeleteMessage deletes one message, best-effort: a message that is
// already gone counts as success.
func (x *Executor) DeleteMessage(ctx context.Context, chatID, messageID int64) error {
	outcome := x.attemptWithRetry(ctx, chatID, func(target int64) error {
		_, err := x.api.Request(tgbotapi.NewDeleteMessage(target, int(messageID)))
		if err != nil && isAlreadyDeleted(err) {
			return nil
		}
		return err
	})
	if outcome.Status == OutcomeFailed {
		return fmt.Errorf("failed to delete message %d in chat %d: %s", messageID, chatID, outcome.Detail)
	}
	return nil
}

// ScheduleMessageDeletion records a deferred deletion due after delay.
// The caller is not blocked; the sweep enacts it later.
func (x *Executor) ScheduleMessageDeletion(chatID, messageID int64, delay time.Duration) error {
	return x.deletions.Schedule(chatID, messageID, x.now().Add(delay))
}

// DeleteScheduledMessages sweeps deletions that have come due,
// performing each platform delete exactly once and transitioning the
// row to deleted. Returns how many were enacted.
func (x *Executor) DeleteScheduledMessages(ctx context.Context) (int, error) {
	due, err := x.deletions.Due(x.now())
	if err != nil {
		return 0, fmt.Errorf("failed to query due deletions: %w", err)
	}

	deleted := 0
	for _, d := range due {
		if err := x.DeleteMessage(ctx, d.ChatID, d.MessageID); err != nil {
			x.logger.Error("Deferred deletion failed, will retry next sweep",
				zap.Int64("chat_id", d.ChatID), zap.Int64("message_id", d.MessageID), zap.Error(err))
			continue
		}
		if err := x.deletions.MarkDeleted(d.ID); err != nil {
			x.logger.Error("Failed to mark deletion done",
				zap.Int64("deletion_id", d.ID), zap.Error(err))
			continue
		}
		deleted++
	}
	return deleted, nil
}

// RatingChange is the announced outcome of one user's rating change.
type RatingChange struct {
	UserID    int64
	NewRating int64
}

// ChangeRating appends one ledger row per user with the same delta and
// returns each user's new aggregate, re-read from the store.
func (x *Executor) ChangeRating(ctx context.Context, userIDs []int64, judgeID, chatID int64, delta int) ([]RatingChange, error) {
	if len(userIDs) == 0 {
		return nil, nil
	}
	if err := x.ratings.AddDeltaBatch(userIDs, chatID, judgeID, delta); err != nil {
		return nil, fmt.Errorf("failed to append rating deltas: %w", err)
	}

	changes := make([]RatingChange, 0, len(userIDs))
	for _, userID := range userIDs {
		total, err := x.ratings.Aggregate(userID, chatID)
		if err != nil {
			return nil, fmt.Errorf("failed to aggregate rating for user %d: %w", userID, err)
		}
		changes = append(changes, RatingChange{UserID: userID, NewRating: total})
	}
	return changes, nil
}

func (x *Executor) recordStatuses(result FanOutResult, userID int64, status string) {
	for _, o := range result {
		if o.Status == OutcomeSucceeded {
			x.setStatus(userID, o.ChatID, status)
		}
	}
}

func (x *Executor) setStatus(userID, chatID int64, status string) {
	if err := x.users.SetStatus(userID, chatID, status); err != nil {
		x.logger.Error("Failed to record user status",
			zap.Int64("user_id", userID), zap.Int64("chat_id", chatID),
			zap.String("status", status), zap.Error(err))
	}
}
