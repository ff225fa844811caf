// Package telegram sends operator alerts to a Telegram chat and answers a
// few status commands from that chat.
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/user/statuskeeper/internal/notify"
	"github.com/user/statuskeeper/internal/ops"
)

const maxTelegramMessage = 4096

// sender is the part of the bot API the adapter writes through.
type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Adapter is a notify.Sink bound to one operator chat.
type Adapter struct {
	bot     *tgbotapi.BotAPI
	send    sender
	chatID  int64
	status  ops.Provider
	history ops.History
}

// New creates a Telegram adapter. status and history back the chat
// commands and may be nil.
func New(token string, chatID int64, status ops.Provider, history ops.History) (*Adapter, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create bot: %w", err)
	}
	return &Adapter{
		bot:     bot,
		send:    bot,
		chatID:  chatID,
		status:  status,
		history: history,
	}, nil
}

func (a *Adapter) Name() string { return "telegram" }

// Send delivers an alert to the operator chat.
func (a *Adapter) Send(_ context.Context, alert notify.Alert) error {
	return a.sendText(a.chatID, alert.String())
}

// Start long-polls for commands until ctx ends. Messages from other chats
// are ignored.
func (a *Adapter) Start(ctx context.Context) {
	if a.bot == nil {
		return
	}
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30

	updates := a.bot.GetUpdatesChan(u)

	for {
		select {
		case update := <-updates:
			msg := update.Message
			if msg == nil || !msg.IsCommand() {
				continue
			}
			if msg.Chat == nil || msg.Chat.ID != a.chatID {
				slog.Debug("telegram command from unknown chat ignored")
				continue
			}
			if err := a.sendText(msg.Chat.ID, a.reply(ctx, msg.Command(), msg.CommandArguments())); err != nil {
				slog.Warn("telegram reply failed", "error", err)
			}
		case <-ctx.Done():
			a.bot.StopReceivingUpdates()
			return
		}
	}
}

func (a *Adapter) reply(ctx context.Context, command, _ string) string {
	switch command {
	case "start", "help":
		return "Status harvester online. Commands: /status, /recent"

	case "status":
		if a.status == nil {
			return "Status not available."
		}
		st, err := a.status.Status(ctx)
		if err != nil {
			slog.Warn("telegram status failed", "error", err)
			return "Error fetching status."
		}
		return st.Summary()

	case "recent":
		if a.history == nil {
			return "History not available."
		}
		recs, err := a.history.Tail(ctx, 10)
		if err != nil {
			slog.Warn("telegram history failed", "error", err)
			return "Error fetching history."
		}
		if len(recs) == 0 {
			return "Nothing stored yet."
		}
		var b strings.Builder
		for _, r := range recs {
			fmt.Fprintf(&b, "%s  %s (%s, %d bytes)\n", r.At.Format("01-02 15:04"), r.Name, r.Source, r.Size)
		}
		return strings.TrimRight(b.String(), "\n")

	default:
		return "Unknown command. Available: /status, /recent"
	}
}

func (a *Adapter) sendText(chatID int64, text string) error {
	for _, part := range splitMessage(text) {
		msg := tgbotapi.NewMessage(chatID, part)
		if _, err := a.send.Send(msg); err != nil {
			return fmt.Errorf("send message: %w", err)
		}
	}
	return nil
}

func splitMessage(text string) []string {
	if len(text) <= maxTelegramMessage {
		return []string{text}
	}
	var parts []string
	for len(text) > 0 {
		end := maxTelegramMessage
		if end > len(text) {
			end = len(text)
		}
		parts = append(parts, text[:end])
		text = text[end:]
	}
	return parts
}
