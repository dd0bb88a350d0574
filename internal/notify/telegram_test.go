package notify

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/kalambet/replyd/internal/domain"
	"github.com/kalambet/replyd/internal/events"
)

type fakeBot struct {
	mu       sync.Mutex
	sent     []tgbotapi.Chattable
	requests []tgbotapi.Chattable
	updates  chan tgbotapi.Update
	stopped  bool
}

func newFakeBot() *fakeBot {
	return &fakeBot{updates: make(chan tgbotapi.Update, 4)}
}

func (b *fakeBot) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sent = append(b.sent, c)
	return tgbotapi.Message{MessageID: len(b.sent)}, nil
}

func (b *fakeBot) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.requests = append(b.requests, c)
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func (b *fakeBot) GetUpdatesChan(tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	return b.updates
}

func (b *fakeBot) StopReceivingUpdates() {
	b.mu.Lock()
	b.stopped = true
	b.mu.Unlock()
}

func (b *fakeBot) sentCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.sent)
}

type fakeDecider struct {
	mu       sync.Mutex
	approved []string
	rejected []string
	err      error
}

func (d *fakeDecider) Approve(id string) (domain.Reply, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return domain.Reply{}, d.err
	}
	d.approved = append(d.approved, id)
	return domain.Reply{ID: id, Status: domain.ReplyApproved}, nil
}

func (d *fakeDecider) Reject(id string) (domain.Reply, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return domain.Reply{}, d.err
	}
	d.rejected = append(d.rejected, id)
	return domain.Reply{ID: id, Status: domain.ReplyRejected}, nil
}

type staticComments map[domain.CommentKey]domain.Comment

func (s staticComments) GetComment(key domain.CommentKey) (domain.Comment, error) {
	c, ok := s[key]
	if !ok {
		return domain.Comment{}, errors.New("not found")
	}
	return c, nil
}

const testChat = int64(42)

func pendingReply() domain.Reply {
	return domain.Reply{
		ID:        "r-1",
		Platform:  domain.Instagram,
		CommentID: "c-1",
		Text:      "Check your DMs!",
		Status:    domain.ReplyPending,
		Category:  domain.Lead,
		Triggers:  domain.NewTriggerRecord([]string{"purchase_intent"}, []string{"sales_follow_up"}),
	}
}

func callback(data string, chatID int64) *tgbotapi.CallbackQuery {
	return &tgbotapi.CallbackQuery{
		ID:      "cb-1",
		Data:    data,
		Message: &tgbotapi.Message{MessageID: 7, Chat: &tgbotapi.Chat{ID: chatID}},
	}
}

func TestHandleEvent_PendingReply(t *testing.T) {
	bot := newFakeBot()
	comments := staticComments{
		{Platform: domain.Instagram, CommentID: "c-1"}: {Text: "how much is the course?", AuthorName: "jane_doe"},
	}
	n := NewTelegramWithBot(bot, testChat, &fakeDecider{}, comments, events.NewHub())

	if err := n.HandleEvent(events.Event{Type: events.NewReply, Data: pendingReply()}); err != nil {
		t.Fatalf("HandleEvent: %v", err)
	}
	if len(bot.sent) != 1 {
		t.Fatalf("sent %d messages, want 1", len(bot.sent))
	}
	msg, ok := bot.sent[0].(tgbotapi.MessageConfig)
	if !ok {
		t.Fatalf("sent %T, want MessageConfig", bot.sent[0])
	}
	if msg.ChatID != testChat {
		t.Errorf("chat = %d, want %d", msg.ChatID, testChat)
	}
	for _, want := range []string{"how much is the course?", `jane\_doe`, "Check your DMs!", `sales\_follow\_up`} {
		if !strings.Contains(msg.Text, want) {
			t.Errorf("message missing %q: %q", want, msg.Text)
		}
	}
	kb, ok := msg.ReplyMarkup.(tgbotapi.InlineKeyboardMarkup)
	if !ok || len(kb.InlineKeyboard) != 1 || len(kb.InlineKeyboard[0]) != 2 {
		t.Fatalf("keyboard = %#v", msg.ReplyMarkup)
	}
	if data := kb.InlineKeyboard[0][0].CallbackData; data == nil || *data != "approve:r-1" {
		t.Errorf("approve data = %v", data)
	}
	if data := kb.InlineKeyboard[0][1].CallbackData; data == nil || *data != "reject:r-1" {
		t.Errorf("reject data = %v", data)
	}
}

func TestHandleEvent_IgnoresOthers(t *testing.T) {
	bot := newFakeBot()
	n := NewTelegramWithBot(bot, testChat, &fakeDecider{}, nil, events.NewHub())

	approved := pendingReply()
	approved.Status = domain.ReplyAutoApproved
	for _, ev := range []events.Event{
		{Type: events.NewReply, Data: approved},
		{Type: events.ReplyPosted, Data: pendingReply()},
		{Type: events.NewReply, Data: "not a reply"},
	} {
		if err := n.HandleEvent(ev); err != nil {
			t.Fatalf("HandleEvent: %v", err)
		}
	}
	if len(bot.sent) != 0 {
		t.Errorf("sent %d messages, want 0", len(bot.sent))
	}
}

func TestHandleCallback(t *testing.T) {
	tests := []struct {
		data         string
		wantApproved int
		wantRejected int
		wantAnswer   string
	}{
		{"approve:r-1", 1, 0, "Approved"},
		{"reject:r-1", 0, 1, "Rejected"},
		{"delete:r-1", 0, 0, "Failed: unknown action"},
		{"garbage", 0, 0, "Failed: malformed"},
	}
	for _, tt := range tests {
		t.Run(tt.data, func(t *testing.T) {
			bot := newFakeBot()
			dec := &fakeDecider{}
			n := NewTelegramWithBot(bot, testChat, dec, nil, events.NewHub())

			n.HandleCallback(callback(tt.data, testChat))

			if len(dec.approved) != tt.wantApproved || len(dec.rejected) != tt.wantRejected {
				t.Errorf("approved=%v rejected=%v", dec.approved, dec.rejected)
			}
			if len(bot.requests) != 1 {
				t.Fatalf("requests = %d, want 1", len(bot.requests))
			}
			answer := bot.requests[0].(tgbotapi.CallbackConfig)
			if !strings.HasPrefix(answer.Text, tt.wantAnswer) {
				t.Errorf("answer = %q, want prefix %q", answer.Text, tt.wantAnswer)
			}
			if len(bot.sent) != 1 {
				t.Fatalf("sent = %d, want keyboard edit", len(bot.sent))
			}
			edit := bot.sent[0].(tgbotapi.EditMessageReplyMarkupConfig)
			if edit.MessageID != 7 || edit.ReplyMarkup == nil || len(edit.ReplyMarkup.InlineKeyboard) != 0 {
				t.Errorf("edit = %+v", edit)
			}
		})
	}
}

func TestHandleCallback_DecisionError(t *testing.T) {
	bot := newFakeBot()
	n := NewTelegramWithBot(bot, testChat, &fakeDecider{err: errors.New("invalid status transition")}, nil, events.NewHub())

	n.HandleCallback(callback("approve:r-1", testChat))

	answer := bot.requests[0].(tgbotapi.CallbackConfig)
	if !strings.Contains(answer.Text, "invalid status transition") {
		t.Errorf("answer = %q", answer.Text)
	}
}

func TestHandleCallback_OtherChatIgnored(t *testing.T) {
	bot := newFakeBot()
	dec := &fakeDecider{}
	n := NewTelegramWithBot(bot, testChat, dec, nil, events.NewHub())

	n.HandleCallback(callback("approve:r-1", 99))

	if len(dec.approved) != 0 || len(bot.requests) != 0 || len(bot.sent) != 0 {
		t.Errorf("callback from another chat was handled")
	}
}

func TestRun_ForwardsEventsAndCallbacks(t *testing.T) {
	bot := newFakeBot()
	dec := &fakeDecider{}
	hub := events.NewHub()
	n := NewTelegramWithBot(bot, testChat, dec, nil, hub)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		n.Run(ctx)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for hub.Subscribers() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	hub.Publish(events.NewReply, pendingReply())
	for bot.sentCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if bot.sentCount() != 1 {
		t.Fatalf("sent = %d, want 1", bot.sentCount())
	}

	bot.updates <- tgbotapi.Update{CallbackQuery: callback("approve:r-1", testChat)}
	for bot.sentCount() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	<-done

	dec.mu.Lock()
	defer dec.mu.Unlock()
	if len(dec.approved) != 1 {
		t.Errorf("approved = %v, want r-1", dec.approved)
	}
	bot.mu.Lock()
	defer bot.mu.Unlock()
	if !bot.stopped {
		t.Error("updates not stopped")
	}
}
