package enforcement

import (
	"context"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

// OutcomeStatus is the terminal state of one target in a fan-out.
type OutcomeStatus string

const (
	OutcomeSucceeded OutcomeStatus = "succeeded"
	OutcomeSkipped   OutcomeStatus = "skipped"
	OutcomeFailed    OutcomeStatus = "failed"
)

// TargetOutcome records what happened to one target chat.
type TargetOutcome struct {
	ChatID int64
	Status OutcomeStatus
	Detail string
}

// FanOutResult aggregates per-target outcomes of one enforcement
// action.
type FanOutResult []TargetOutcome

func (r FanOutResult) Count(status OutcomeStatus) int {
	n := 0
	for _, o := range r {
		if o.Status == status {
			n++
		}
	}
	return n
}

// attemptWithRetry runs one platform call against one chat under the
// retry policy. Rate limits back off (starting at the platform-given
// interval) and retry the same chat; exhausting the attempts demotes
// the target to a skip.
func (x *Executor) attemptWithRetry(ctx context.Context, chatID int64, call func(chatID int64) error) TargetOutcome {
	bo := x.retry.newBackOff()
	target := chatID

	for attempt := 1; ; attempt++ {
		err := call(target)
		if err == nil {
			return TargetOutcome{ChatID: target, Status: OutcomeSucceeded}
		}

		c := classifyError(err)
		switch c.kind {
		case failurePermanent:
			x.logger.Info("Skipping chat, target not actionable",
				zap.Int64("chat_id", target), zap.String("detail", c.detail))
			return TargetOutcome{ChatID: target, Status: OutcomeSkipped, Detail: c.detail}

		case failureMigrated:
			moved, merr := x.chats.MigrateChatID(target, c.migrateTo)
			if merr != nil || !moved {
				// New id already tracked as a distinct row, or the
				// re-point failed: log and skip.
				x.logger.Warn("Chat migrated but could not re-point stored id",
					zap.Int64("old_id", target), zap.Int64("new_id", c.migrateTo), zap.Error(merr))
				return TargetOutcome{ChatID: target, Status: OutcomeSkipped, Detail: c.detail}
			}
			target = c.migrateTo
			continue

		case failureRetryable:
			if attempt >= x.retry.MaxAttempts {
				x.logger.Warn("Retries exhausted for chat, demoting to skip",
					zap.Int64("chat_id", target), zap.Int("attempts", attempt), zap.String("detail", c.detail))
				return TargetOutcome{ChatID: target, Status: OutcomeSkipped, Detail: c.detail}
			}
			delay := bo.NextBackOff()
			if c.retryAfter > delay {
				delay = c.retryAfter
			}
			if delay > x.retry.MaxDelay {
				delay = x.retry.MaxDelay
			}
			if serr := sleep(ctx, delay); serr != nil {
				return TargetOutcome{ChatID: target, Status: OutcomeFailed, Detail: serr.Error()}
			}
			continue

		default:
			x.logger.Error("Unexpected platform error during fan-out",
				zap.Int64("chat_id", target), zap.Error(err))
			return TargetOutcome{ChatID: target, Status: OutcomeFailed, Detail: c.detail}
		}
	}
}

// fanOut applies call to every active chat. The chat list is read in
// its own short query before any network attempt; a single chat's
// failure never aborts the loop. Chats where the bot lacks admin
// rights are skipped, not errored.
func (x *Executor) fanOut(ctx context.Context, action string, call func(chatID int64) error) (FanOutResult, error) {
	chats, err := x.chats.GetActiveChats()
	if err != nil {
		return nil, err
	}

	result := make(FanOutResult, 0, len(chats))
	for _, chat := range chats {
		if !x.botIsAdmin(chat.ID) {
			x.logger.Info("Skipping chat, bot lacks admin rights",
				zap.Int64("chat_id", chat.ID), zap.String("action", action))
			result = append(result, TargetOutcome{ChatID: chat.ID, Status: OutcomeSkipped, Detail: "bot is not an administrator"})
			continue
		}
		result = append(result, x.attemptWithRetry(ctx, chat.ID, call))
	}

	x.logger.Info("Fan-out finished",
		zap.String("action", action),
		zap.Int("targets", len(result)),
		zap.Int("succeeded", result.Count(OutcomeSucceeded)),
		zap.Int("skipped", result.Count(OutcomeSkipped)),
		zap.Int("failed", result.Count(OutcomeFailed)))
	return result, nil
}

func (x *Executor) botIsAdmin(chatID int64) bool {
	member, err := x.api.GetChatMember(tgbotapi.GetChatMemberConfig{
		ChatConfigWithUser: tgbotapi.ChatConfigWithUser{ChatID: chatID, UserID: x.botID},
	})
	if err != nil {
		x.logger.Info("Could not check bot rights in chat",
			zap.Int64("chat_id", chatID), zap.Error(err))
		return false
	}
	if uerr := x.chats.UpdateAdminCheckedAt(chatID, x.now()); uerr != nil {
		x.logger.Warn("Failed to record admin check time", zap.Int64("chat_id", chatID), zap.Error(uerr))
	}
	return member.IsAdministrator() || member.IsCreator()
}
