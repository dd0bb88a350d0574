// Package notify pushes replies that need a human to a Telegram chat and
// turns the inline button presses back into operator decisions.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/kalambet/replyd/internal/domain"
	"github.com/kalambet/replyd/internal/events"
)

const (
	actionApprove = "approve"
	actionReject  = "reject"

	maxCommentPreview = 500
)

// Bot is the subset of *tgbotapi.BotAPI the notifier uses.
type Bot interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// Decider applies an approve or reject decision. Implemented by
// operator.Service.
type Decider interface {
	Approve(replyID string) (domain.Reply, error)
	Reject(replyID string) (domain.Reply, error)
}

// CommentSource looks up the comment a reply answers.
type CommentSource interface {
	GetComment(key domain.CommentKey) (domain.Comment, error)
}

// Telegram sends pending replies to one chat with approve/reject buttons.
type Telegram struct {
	bot      Bot
	chatID   int64
	decider  Decider
	comments CommentSource
	hub      *events.Hub
	logger   *slog.Logger
}

// NewTelegram connects to the Bot API with token.
func NewTelegram(token, chatID string, decider Decider, comments CommentSource, hub *events.Hub) (*Telegram, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(chatID), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid telegram chat id %q: %w", chatID, err)
	}
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("connecting to telegram: %w", err)
	}
	return NewTelegramWithBot(bot, id, decider, comments, hub), nil
}

// NewTelegramWithBot builds a notifier around an existing bot client.
// comments may be nil.
func NewTelegramWithBot(bot Bot, chatID int64, decider Decider, comments CommentSource, hub *events.Hub) *Telegram {
	return &Telegram{
		bot:      bot,
		chatID:   chatID,
		decider:  decider,
		comments: comments,
		hub:      hub,
		logger:   slog.Default(),
	}
}

// Run forwards events and handles button presses until ctx is cancelled.
func (t *Telegram) Run(ctx context.Context) {
	evs, cancel := t.hub.Subscribe(0)
	defer cancel()

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := t.bot.GetUpdatesChan(u)
	defer t.bot.StopReceivingUpdates()

	t.logger.Info("telegram notifier started", "chat_id", t.chatID)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-evs:
			if !ok {
				return
			}
			if err := t.HandleEvent(ev); err != nil {
				t.logger.Warn("telegram notify failed", "error", err)
			}
		case update, ok := <-updates:
			if !ok {
				return
			}
			if update.CallbackQuery != nil {
				t.HandleCallback(update.CallbackQuery)
			}
		}
	}
}

// HandleEvent sends a message for every new pending reply. Other events are
// ignored.
func (t *Telegram) HandleEvent(ev events.Event) error {
	if ev.Type != events.NewReply {
		return nil
	}
	r, ok := ev.Data.(domain.Reply)
	if !ok || r.Status != domain.ReplyPending {
		return nil
	}

	msg := tgbotapi.NewMessage(t.chatID, t.formatReply(r))
	msg.ParseMode = tgbotapi.ModeMarkdown
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("✅ Approve", actionApprove+":"+r.ID),
			tgbotapi.NewInlineKeyboardButtonData("❌ Reject", actionReject+":"+r.ID),
		),
	)
	if _, err := t.bot.Send(msg); err != nil {
		return fmt.Errorf("sending reply %s: %w", r.ID, err)
	}
	return nil
}

func (t *Telegram) formatReply(r domain.Reply) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "*[%s · %s]*\n", escapeMarkdown(string(r.Platform)), escapeMarkdown(string(r.Category)))
	if t.comments != nil {
		c, err := t.comments.GetComment(r.CommentKey())
		if err == nil {
			text := c.Text
			if runes := []rune(text); len(runes) > maxCommentPreview {
				text = string(runes[:maxCommentPreview]) + "…"
			}
			fmt.Fprintf(&sb, "\n💬 %s: %s\n", escapeMarkdown(c.AuthorName), escapeMarkdown(text))
		}
	}
	fmt.Fprintf(&sb, "\n↩️ %s", escapeMarkdown(r.Text))
	if len(r.Triggers.Workflows) > 0 {
		fmt.Fprintf(&sb, "\n\nWorkflows: %s", escapeMarkdown(strings.Join(r.Triggers.Workflows, ", ")))
	}
	return sb.String()
}

// HandleCallback applies the decision behind a button press, answers the
// callback and removes the keyboard so it cannot be pressed twice.
func (t *Telegram) HandleCallback(cb *tgbotapi.CallbackQuery) {
	if cb.Message == nil || cb.Message.Chat == nil || cb.Message.Chat.ID != t.chatID {
		return
	}
	answer, err := t.decide(cb.Data)
	if err != nil {
		t.logger.Warn("telegram decision failed", "data", cb.Data, "error", err)
		answer = "Failed: " + err.Error()
	}

	if _, err := t.bot.Request(tgbotapi.NewCallback(cb.ID, answer)); err != nil {
		t.logger.Warn("answering telegram callback", "error", err)
	}
	edit := tgbotapi.NewEditMessageReplyMarkup(t.chatID, cb.Message.MessageID,
		tgbotapi.InlineKeyboardMarkup{InlineKeyboard: [][]tgbotapi.InlineKeyboardButton{}})
	if _, err := t.bot.Send(edit); err != nil {
		t.logger.Warn("clearing telegram keyboard", "error", err)
	}
}

func (t *Telegram) decide(data string) (string, error) {
	action, id, ok := strings.Cut(data, ":")
	if !ok || id == "" {
		return "", errors.New("malformed callback data")
	}
	switch action {
	case actionApprove:
		if _, err := t.decider.Approve(id); err != nil {
			return "", err
		}
		return "Approved", nil
	case actionReject:
		if _, err := t.decider.Reject(id); err != nil {
			return "", err
		}
		return "Rejected", nil
	default:
		return "", fmt.Errorf("unknown action %q", action)
	}
}

func escapeMarkdown(text string) string {
	replacer := strings.NewReplacer(
		"_", "\\_",
		"*", "\\*",
		"[", "\\[",
		"`", "\\`",
	)
	return replacer.Replace(text)
}
