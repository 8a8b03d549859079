package chatconfig

// Recognized configuration keys. Unknown keys still resolve through
// the raw accessors; these are the ones with documented defaults and
// type validation.
const (
	KeySpamBanThreshold    = "spam_ban_threshold"
	KeySpamWarnThreshold   = "spam_warn_threshold"
	KeyMuteDurationMinutes = "mute_duration_minutes"
	KeyReportsToWarn       = "number_of_reports_to_warn"
	KeyReportsToBan        = "number_of_reports_to_ban"
	KeyReporterReward      = "reporter_reward"
	KeyDeleteSpamMessages  = "delete_spam_messages"
	KeyDisallowedLanguages = "disallowed_languages"
	KeyDisallowedExts      = "disallowed_extensions"
	KeyAnnounceActions     = "announce_actions"
)

// Documented defaults, used when a key is absent from both the chat's
// config and the default chat's.
const (
	DefaultSpamBanThreshold    = 0.95
	DefaultSpamWarnThreshold   = 0.80
	DefaultMuteDurationMinutes = 1440
	DefaultReportsToWarn       = 2
	DefaultReportsToBan        = 4
	DefaultReporterReward      = 1
	DefaultDeleteSpamMessages  = true
	DefaultAnnounceActions     = true
)

// DefaultDisallowedExts is the built-in executable-installer list.
var DefaultDisallowedExts = []string{".exe", ".apk", ".scr", ".bat", ".cmd", ".msi"}
