package notify

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-telegram/bot"
)

// TelegramChannel sends through the Bot API; the contact address is a chat ID
// or an @channel username.
type TelegramChannel struct {
	bot *bot.Bot
}

func NewTelegramChannel(token string, opts ...bot.Option) (*TelegramChannel, error) {
	opts = append([]bot.Option{bot.WithSkipGetMe()}, opts...)
	b, err := bot.New(token, opts...)
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}
	return &TelegramChannel{bot: b}, nil
}

func (t *TelegramChannel) Type() string { return "telegram" }

func (t *TelegramChannel) Send(ctx context.Context, address string, msg Message) error {
	chatID, err := parseChatID(address)
	if err != nil {
		return err
	}
	_, err = t.bot.SendMessage(ctx, &bot.SendMessageParams{
		ChatID: chatID,
		Text:   msg.Text(),
	})
	if err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	return nil
}

func parseChatID(address string) (any, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return nil, fmt.Errorf("empty telegram chat id")
	}
	if strings.HasPrefix(address, "@") {
		return address, nil
	}
	id, err := strconv.ParseInt(address, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid telegram chat id %q", address)
	}
	return id, nil
}
