package enforcement

import (
	"errors"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// failureKind classifies a platform error for the fan-out loop.
type failureKind int

const (
	// failureRetryable: rate limit or transport trouble; back off and
	// retry the same target.
	failureRetryable failureKind = iota
	// failurePermanent: the target cannot be acted on (bot removed,
	// chat gone, user not a participant); skip without error.
	failurePermanent
	// failureMigrated: the chat moved to a new id; re-point and retry.
	failureMigrated
	// failureUnexpected: unclassified; log with context and skip.
	failureUnexpected
)

type classified struct {
	kind       failureKind
	retryAfter time.Duration
	migrateTo  int64
	detail     string
}

// Substrings of platform bad-request/forbidden messages that mean the
// target is permanently unactionable.
var permanentSkipMessages = []string{
	"bot is not a member",
	"bot was kicked",
	"chat not found",
	"user not found",
	"user_not_participant",
	"participant_id_invalid",
	"not enough rights",
	"user is an administrator",
	"can't remove chat owner",
	"chat was deactivated",
	"message to delete not found",
	"message can't be deleted",
	"message identifier is not specified",
}

// Delivery failures to suppress when messaging individuals.
var deliverySkipMessages = []string{
	"bot was blocked by the user",
	"user is deactivated",
	"can't initiate conversation",
}

func classifyError(err error) classified {
	var apiErr *tgbotapi.Error
	if !errors.As(err, &apiErr) {
		// Transport-level trouble: worth a retry.
		return classified{kind: failureRetryable, detail: err.Error()}
	}

	if apiErr.RetryAfter > 0 || apiErr.Code == 429 {
		retryAfter := time.Duration(apiErr.RetryAfter) * time.Second
		if retryAfter <= 0 {
			retryAfter = time.Second
		}
		return classified{kind: failureRetryable, retryAfter: retryAfter, detail: apiErr.Message}
	}

	if apiErr.MigrateToChatID != 0 {
		return classified{kind: failureMigrated, migrateTo: apiErr.MigrateToChatID, detail: apiErr.Message}
	}

	msg := strings.ToLower(apiErr.Message)
	for _, s := range permanentSkipMessages {
		if strings.Contains(msg, s) {
			return classified{kind: failurePermanent, detail: apiErr.Message}
		}
	}
	for _, s := range deliverySkipMessages {
		if strings.Contains(msg, s) {
			return classified{kind: failurePermanent, detail: apiErr.Message}
		}
	}

	return classified{kind: failureUnexpected, detail: apiErr.Message}
}

// isAlreadyDeleted reports a delete failure that means the message is
// gone already, which the executor treats as success.
func isAlreadyDeleted(err error) bool {
	var apiErr *tgbotapi.Error
	if !errors.As(err, &apiErr) {
		return false
	}
	msg := strings.ToLower(apiErr.Message)
	return strings.Contains(msg, "message to delete not found") ||
		strings.Contains(msg, "message can't be deleted")
}

// IsDeliveryFailure reports a per-user send failure (blocked bot,
// deactivated account) that must be suppressed rather than escalated.
func IsDeliveryFailure(err error) bool {
	var apiErr *tgbotapi.Error
	if !errors.As(err, &apiErr) {
		return false
	}
	msg := strings.ToLower(apiErr.Message)
	for _, s := range deliverySkipMessages {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}
