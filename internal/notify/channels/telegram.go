// Package channels implements the concrete Sender bindings for the
// three notification targets: Telegram, WeCom, and email.
package channels

import (
	"context"
	"strconv"
	"strings"

	"github.com/go-telegram/bot"

	"github.com/Aixtrade/LLMTrigger/internal/domain"
	trigerrors "github.com/Aixtrade/LLMTrigger/internal/errors"
)

// TelegramSender delivers notifications via a Telegram bot, identifying
// the destination chat by target.ChatID.
type TelegramSender struct {
	bot *bot.Bot
}

// NewTelegramSender constructs a sender from a bot token.
func NewTelegramSender(token string) (*TelegramSender, error) {
	b, err := bot.New(token, bot.WithSkipGetMe())
	if err != nil {
		return nil, trigerrors.Permanent("telegram", err)
	}
	return &TelegramSender{bot: b}, nil
}

func (s *TelegramSender) Kind() domain.TargetKind { return domain.TargetTelegram }

func (s *TelegramSender) Send(ctx context.Context, target domain.Target, message string) error {
	chatID, err := strconv.ParseInt(strings.TrimSpace(target.ChatID), 10, 64)
	if err != nil {
		return trigerrors.Permanent("telegram", err)
	}
	_, err = s.bot.SendMessage(ctx, &bot.SendMessageParams{
		ChatID: chatID,
		Text:   message,
	})
	if err != nil {
		return trigerrors.Transient("telegram", err)
	}
	return nil
}
