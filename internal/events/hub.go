// Package events fans pipeline activity out to live subscribers.
package events

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/kalambet/replyd/internal/domain"
)

// Type names an event.
type Type string

const (
	NewComment    Type = "new_comment"
	NewReply      Type = "new_reply"
	ReplyPosted   Type = "reply_posted"
	ReplyStatus   Type = "reply_status"
	OwnerActivity Type = "owner_activity"
	PlatformError Type = "platform_error"
)

// Event is what subscribers receive.
type Event struct {
	Type Type      `json:"type"`
	At   time.Time `json:"at"`
	Data any       `json:"data"`
}

// ReplyStatusChange is the payload of reply_status events.
type ReplyStatusChange struct {
	ReplyID   string             `json:"reply_id"`
	Platform  domain.Platform    `json:"platform"`
	CommentID string             `json:"comment_id"`
	Status    domain.ReplyStatus `json:"status"`
}

// PlatformFailure is the payload of platform_error events. Op is "fetch"
// or "post".
type PlatformFailure struct {
	Platform          domain.Platform `json:"platform"`
	Op                string          `json:"op"`
	Error             string          `json:"error"`
	ReplyID           string          `json:"reply_id,omitempty"`
	ConsecutiveErrors int             `json:"consecutive_errors,omitempty"`
}

// defaultBuffer is the per-subscriber queue length.
const defaultBuffer = 64

// Hub is an in-process publish/subscribe bus. Publish never blocks: a
// subscriber whose buffer is full misses the event. A nil *Hub accepts
// publishes and drops them.
type Hub struct {
	mu      sync.RWMutex
	subs    map[int]chan Event
	next    int
	dropped atomic.Int64
}

// NewHub creates an empty Hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[int]chan Event)}
}

// Subscribe registers a subscriber. The returned cancel func unregisters
// it and closes the channel.
func (h *Hub) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	ch := make(chan Event, buffer)

	h.mu.Lock()
	id := h.next
	h.next++
	h.subs[id] = ch
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
			close(ch)
		})
	}
}

// Publish delivers an event to every subscriber with room for it.
func (h *Hub) Publish(t Type, data any) {
	if h == nil {
		return
	}
	ev := Event{Type: t, At: time.Now().UTC(), Data: data}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.subs {
		select {
		case ch <- ev:
		default:
			h.dropped.Add(1)
		}
	}
}

// Subscribers returns the current subscriber count.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Dropped returns how many deliveries were skipped because a subscriber
// was full.
func (h *Hub) Dropped() int64 {
	return h.dropped.Load()
}
