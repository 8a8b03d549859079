package policy

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/abadojack/whatlanggo"
	"go.uber.org/zap"

	"guardbot/internal/chatconfig"
)

// Action is the moderation outcome of a policy evaluation.
type Action int

const (
	ActionNone Action = iota
	ActionWarn
	ActionMute
	ActionBan
	ActionBanGlobal
)

func (a Action) String() string {
	switch a {
	case ActionWarn:
		return "warn"
	case ActionMute:
		return "mute"
	case ActionBan:
		return "ban"
	case ActionBanGlobal:
		return "ban_global"
	default:
		return "none"
	}
}

// Decision is what the engine tells the executor to do.
type Decision struct {
	Action        Action
	Reason        string
	DeleteMessage bool
	MuteDuration  time.Duration
}

// Config resolves per-chat configuration, implemented by
// chatconfig.Resolver.
type Config interface {
	Float(chatID int64, key string, def float64) float64
	Int(chatID int64, key string, def int) int
	Bool(chatID int64, key string, def bool) bool
	Strings(chatID int64, key string, def []string) []string
}

// Engine maps spam probabilities and deterministic rule matches to
// action decisions under the chat's configured thresholds.
type Engine struct {
	cfg    Config
	logger *zap.Logger
}

func NewEngine(cfg Config, logger *zap.Logger) *Engine {
	return &Engine{cfg: cfg, logger: logger}
}

// EvaluateScore maps a spam probability to the graduated response:
// past the ban threshold it is ban+global, past the warn threshold a
// mute with the configured duration, otherwise nothing.
func (e *Engine) EvaluateScore(chatID int64, probability float64) Decision {
	banThreshold := e.cfg.Float(chatID, chatconfig.KeySpamBanThreshold, chatconfig.DefaultSpamBanThreshold)
	warnThreshold := e.cfg.Float(chatID, chatconfig.KeySpamWarnThreshold, chatconfig.DefaultSpamWarnThreshold)
	deleteSpam := e.cfg.Bool(chatID, chatconfig.KeyDeleteSpamMessages, chatconfig.DefaultDeleteSpamMessages)

	switch {
	case probability >= banThreshold:
		return Decision{
			Action:        ActionBanGlobal,
			Reason:        fmt.Sprintf("spam probability %.3f over ban threshold %.3f", probability, banThreshold),
			DeleteMessage: deleteSpam,
		}
	case probability >= warnThreshold:
		return Decision{
			Action:        ActionMute,
			Reason:        fmt.Sprintf("spam probability %.3f over warn threshold %.3f", probability, warnThreshold),
			DeleteMessage: deleteSpam,
			MuteDuration:  e.MuteDuration(chatID),
		}
	default:
		return Decision{Action: ActionNone}
	}
}

// CheckLanguage is a deterministic trigger: a message reliably
// detected as one of the chat's disallowed languages bans immediately,
// bypassing the graduated response.
func (e *Engine) CheckLanguage(chatID int64, text string) (Decision, bool) {
	disallowed := e.cfg.Strings(chatID, chatconfig.KeyDisallowedLanguages, nil)
	if len(disallowed) == 0 || text == "" {
		return Decision{Action: ActionNone}, false
	}

	info := whatlanggo.Detect(text)
	if !info.IsReliable() {
		return Decision{Action: ActionNone}, false
	}
	code := info.Lang.Iso6391()
	if code == "" {
		code = info.Lang.Iso6393()
	}
	for _, lang := range disallowed {
		if strings.EqualFold(lang, code) || strings.EqualFold(lang, info.Lang.Iso6393()) {
			return Decision{
				Action:        ActionBanGlobal,
				Reason:        fmt.Sprintf("message language %q is disallowed", code),
				DeleteMessage: true,
			}, true
		}
	}
	return Decision{Action: ActionNone}, false
}

// CheckDocument is a deterministic trigger on an uploaded document's
// file extension.
func (e *Engine) CheckDocument(chatID int64, fileName string) (Decision, bool) {
	if fileName == "" {
		return Decision{Action: ActionNone}, false
	}
	disallowed := e.cfg.Strings(chatID, chatconfig.KeyDisallowedExts, chatconfig.DefaultDisallowedExts)
	ext := strings.ToLower(filepath.Ext(fileName))
	if ext == "" {
		return Decision{Action: ActionNone}, false
	}
	for _, d := range disallowed {
		if strings.EqualFold(d, ext) {
			return Decision{
				Action:        ActionBanGlobal,
				Reason:        fmt.Sprintf("document extension %q is disallowed", ext),
				DeleteMessage: true,
			}, true
		}
	}
	return Decision{Action: ActionNone}, false
}

// EvaluateReports decides on a report-power change from prevPower to
// newPower. Crossing the ban threshold fires exactly once, on the
// crossing, and suppresses the warn action for the same evaluation.
func (e *Engine) EvaluateReports(chatID int64, prevPower, newPower int64) Decision {
	banAt := int64(e.cfg.Int(chatID, chatconfig.KeyReportsToBan, chatconfig.DefaultReportsToBan))
	warnAt := int64(e.cfg.Int(chatID, chatconfig.KeyReportsToWarn, chatconfig.DefaultReportsToWarn))

	if prevPower < banAt && newPower >= banAt {
		return Decision{
			Action:        ActionBanGlobal,
			Reason:        fmt.Sprintf("report power reached %d (ban at %d)", newPower, banAt),
			DeleteMessage: true,
		}
	}
	if prevPower < warnAt && newPower >= warnAt && newPower < banAt {
		return Decision{
			Action:       ActionMute,
			Reason:       fmt.Sprintf("report power reached %d (warn at %d)", newPower, warnAt),
			MuteDuration: e.MuteDuration(chatID),
		}
	}
	return Decision{Action: ActionNone}
}

// ReporterReward is the rating delta granted to each distinct reporter
// when their reports lead to a ban.
func (e *Engine) ReporterReward(chatID int64) int {
	return e.cfg.Int(chatID, chatconfig.KeyReporterReward, chatconfig.DefaultReporterReward)
}

// Announce reports whether action outcomes are announced in this chat.
func (e *Engine) Announce(chatID int64) bool {
	return e.cfg.Bool(chatID, chatconfig.KeyAnnounceActions, chatconfig.DefaultAnnounceActions)
}

// MuteDuration is the chat's configured mute length.
func (e *Engine) MuteDuration(chatID int64) time.Duration {
	minutes := e.cfg.Int(chatID, chatconfig.KeyMuteDurationMinutes, chatconfig.DefaultMuteDurationMinutes)
	return time.Duration(minutes) * time.Minute
}
