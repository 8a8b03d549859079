package enforcement

import (
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// ChatAPI is the slice of the platform API enforcement calls through.
// *tgbotapi.BotAPI satisfies it; tests substitute a fake.
type ChatAPI interface {
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	GetChatMember(config tgbotapi.GetChatMemberConfig) (tgbotapi.ChatMember, error)
	GetChatAdministrators(config tgbotapi.ChatAdministratorsConfig) ([]tgbotapi.ChatMember, error)
}

// mutedPermissions revokes every messaging permission.
var mutedPermissions = tgbotapi.ChatPermissions{}

// restoredPermissions grants back the ordinary member permissions.
var restoredPermissions = tgbotapi.ChatPermissions{
	CanSendMessages:       true,
	CanSendMediaMessages:  true,
	CanSendPolls:          true,
	CanSendOtherMessages:  true,
	CanAddWebPagePreviews: true,
	CanInviteUsers:        true,
}
