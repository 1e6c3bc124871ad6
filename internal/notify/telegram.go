package notify

import (
	"fmt"
	"os"
	"strconv"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	log "github.com/sirupsen/logrus"
)

// sender is the part of the bot API the notifier uses.
type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Telegram sends operator alerts to a fixed set of chats. A nil *Telegram
// drops every alert.
type Telegram struct {
	bot     sender
	chatIDs []int64
	service string
}

func NewTelegram(botToken, service string, chatIDs []int64) (*Telegram, error) {
	bot, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}
	return &Telegram{bot: bot, chatIDs: chatIDs, service: service}, nil
}

// FromEnv builds the notifier from TELEGRAM_BOT_TOKEN and
// TELEGRAM_CHAT_ID_1..3. It returns nil when alerts are not configured.
func FromEnv(service string) *Telegram {
	botToken := os.Getenv("TELEGRAM_BOT_TOKEN")
	if botToken == "" {
		log.Warn("TELEGRAM_BOT_TOKEN not set, operator alerts disabled")
		return nil
	}

	chatIDs := ChatIDsFromEnv()
	if len(chatIDs) == 0 {
		log.Warn("No valid telegram chat IDs found, operator alerts disabled")
		return nil
	}

	t, err := NewTelegram(botToken, service, chatIDs)
	if err != nil {
		log.Errorf("Error starting telegram alerts: %s", err)
		return nil
	}
	log.Infof("telegram alerts enabled for %d chats", len(chatIDs))
	return t
}

func ChatIDsFromEnv() []int64 {
	var chatIDs []int64
	for i := 1; i <= 3; i++ {
		chatIDStr := os.Getenv(fmt.Sprintf("TELEGRAM_CHAT_ID_%d", i))
		if chatIDStr == "" {
			continue
		}
		chatID, err := strconv.ParseInt(chatIDStr, 10, 64)
		if err != nil {
			log.Errorf("Invalid TELEGRAM_CHAT_ID_%d format: %v", i, err)
			continue
		}
		chatIDs = append(chatIDs, chatID)
	}
	return chatIDs
}

// Alert delivers message to every chat. Sends happen in the background.
func (t *Telegram) Alert(message string) {
	if t == nil {
		return
	}
	text := fmt.Sprintf("[%s]\n%s", t.service, message)
	for _, chatID := range t.chatIDs {
		go func(cid int64) {
			if _, err := t.bot.Send(tgbotapi.NewMessage(cid, text)); err != nil {
				log.Errorf("Failed to send telegram message to chat %d: %v", cid, err)
			}
		}(chatID)
	}
}
