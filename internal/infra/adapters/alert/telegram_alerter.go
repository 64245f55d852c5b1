package alert

import (
	"context"
	"errors"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"notes-embedding-worker/internal/domain/ports/adapter"
)

var _ adapter.Alerter = (*TelegramAlerter)(nil)

// sender is the part of *tgbotapi.BotAPI used for alerts.
type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramAlerter sends operator alerts to a fixed set of Telegram chats.
type TelegramAlerter struct {
	bot     sender
	chatIDs []int64
	log     zerolog.Logger
}

func NewTelegramAlerter(token string, chatIDs []int64, logger *zerolog.Logger) (*TelegramAlerter, error) {
	if token == "" {
		return nil, errors.New("telegram alert token is empty")
	}
	if len(chatIDs) == 0 {
		return nil, errors.New("no telegram alert chats configured")
	}
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}
	return newTelegramAlerter(bot, chatIDs, logger), nil
}

func newTelegramAlerter(bot sender, chatIDs []int64, logger *zerolog.Logger) *TelegramAlerter {
	return &TelegramAlerter{
		bot:     bot,
		chatIDs: chatIDs,
		log:     logger.With().Str("component", "telegram_alerter").Logger(),
	}
}

// Alert delivers text to every chat. Delivery continues past a failed chat;
// the joined error reports each failure.
func (a *TelegramAlerter) Alert(ctx context.Context, text string) error {
	var errs []error
	for _, id := range a.chatIDs {
		if err := ctx.Err(); err != nil {
			return err
		}
		msg := tgbotapi.NewMessage(id, text)
		msg.DisableWebPagePreview = true
		if _, err := a.bot.Send(msg); err != nil {
			a.log.Warn().Err(err).Int64("chat_id", id).Msg("alert delivery failed")
			errs = append(errs, fmt.Errorf("chat %d: %w", id, err))
		}
	}
	return errors.Join(errs...)
}
