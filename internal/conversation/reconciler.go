package conversation

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/moveinn/minn/internal/bus"
	"github.com/moveinn/minn/internal/model"
	"go.uber.org/zap"
)

// Transport carries outbound intents for the open conversation.
type Transport interface {
	SendMessage(receiverID, content string) error
	MarkAsRead(contactID string) error
}

// HistoryFetcher loads the stored transcript for a counterpart.
type HistoryFetcher interface {
	History(ctx context.Context, contactID string) ([]model.Message, error)
}

// ErrNoConversation is returned by Send when nothing is open.
var ErrNoConversation = errors.New("no open conversation")

// Reconciler merges three inputs into one time-ordered transcript for the
// currently open conversation: the history fetch, live events, and local
// optimistic sends. The transcript lives only in memory and is discarded on
// switch; nothing is persisted client-side.
type Reconciler struct {
	transport Transport
	history   HistoryFetcher
	bus       *bus.Bus
	logger    *zap.Logger
	selfID    string
	cancel    context.CancelFunc

	mu         sync.Mutex
	contactID  string
	transcript []model.Message
	gen        uint64 // bumped on every open/close; stale history responses are dropped
}

// New creates a reconciler for the given user id.
func New(selfID string, transport Transport, history HistoryFetcher, b *bus.Bus, logger *zap.Logger) *Reconciler {
	return &Reconciler{
		transport: transport,
		history:   history,
		bus:       b,
		logger:    logger,
		selfID:    selfID,
	}
}

// Start subscribes to live events on the bus and folds in the ones pertinent
// to the open conversation, until Stop.
func (r *Reconciler) Start(ctx context.Context) {
	ctx, r.cancel = context.WithCancel(ctx)
	ch, unsub := r.bus.Subscribe("live.", 256)

	go func() {
		defer unsub()
		for {
			select {
			case evt := <-ch:
				r.HandleEvent(evt)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the event loop.
func (r *Reconciler) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
}

// Open switches to a conversation with the given counterpart. The previous
// transcript is discarded immediately; the history fetch fills the new one.
// A fetch failure degrades to an empty transcript rather than blocking the
// view. Opening acknowledges all unread messages from the counterpart.
func (r *Reconciler) Open(ctx context.Context, contactID string) {
	r.mu.Lock()
	r.gen++
	gen := r.gen
	r.contactID = contactID
	r.transcript = nil
	r.mu.Unlock()
	r.publishUpdated()

	msgs, err := r.history.History(ctx, contactID)
	if err != nil {
		r.logger.Warn("history fetch failed, showing empty transcript", zap.Error(err), zap.String("contact", contactID))
		msgs = nil
	}

	r.mu.Lock()
	if r.gen != gen {
		// The user has already switched away; this response is stale.
		r.mu.Unlock()
		return
	}
	r.transcript = msgs
	r.mu.Unlock()

	if err := r.transport.MarkAsRead(contactID); err != nil {
		r.logger.Warn("mark as read failed", zap.Error(err))
	}
	r.publishUpdated()
}

// Close discards the open transcript.
func (r *Reconciler) Close() {
	r.mu.Lock()
	r.gen++
	r.contactID = ""
	r.transcript = nil
	r.mu.Unlock()
	r.publishUpdated()
}

// Send appends an optimistic entry with a temporary id and forwards the send
// over the transport. The entry stays in the transcript even when the
// transport is down, so the user sees what they typed; a later status event
// reconciles it with the server-assigned id.
func (r *Reconciler) Send(content string) (model.Message, error) {
	r.mu.Lock()
	if r.contactID == "" {
		r.mu.Unlock()
		return model.Message{}, ErrNoConversation
	}
	contactID := r.contactID
	msg := model.Message{
		ID:       uuid.New().String(),
		SenderID: r.selfID,
		Content:  content,
		SentAt:   time.Now(),
		Status:   model.StatusNotReceived,
		Pending:  true,
	}
	r.transcript = append(r.transcript, msg)
	r.mu.Unlock()
	r.publishUpdated()

	if err := r.transport.SendMessage(contactID, content); err != nil {
		return msg, err
	}
	return msg, nil
}

// HandleEvent folds one live event into the transcript. Events for other
// conversations are ignored here; the directory keeps its own previews.
func (r *Reconciler) HandleEvent(evt bus.Event) {
	switch p := evt.Payload.(type) {
	case model.NewMessage:
		r.handleNewMessage(p)
	case model.MessageStatus:
		r.handleStatus(p)
	}
}

func (r *Reconciler) handleNewMessage(p model.NewMessage) {
	r.mu.Lock()
	if r.contactID == "" || p.SenderID != r.contactID || p.ReceiverID != r.selfID {
		r.mu.Unlock()
		return
	}
	// The channel dispatches frames at most once, but a reconnect can still
	// race a history fetch; an id we already hold is not appended twice.
	for _, m := range r.transcript {
		if m.ID == p.MessageID {
			r.mu.Unlock()
			return
		}
	}
	contactID := r.contactID
	r.transcript = append(r.transcript, model.Message{
		ID:       p.MessageID,
		SenderID: p.SenderID,
		Content:  p.Content,
		SentAt:   p.SentAt,
		Status:   model.StatusDelivered,
	})
	r.mu.Unlock()

	if err := r.transport.MarkAsRead(contactID); err != nil {
		r.logger.Warn("mark as read failed", zap.Error(err))
	}
	r.publishUpdated()
}

func (r *Reconciler) handleStatus(p model.MessageStatus) {
	r.mu.Lock()
	if r.contactID == "" {
		r.mu.Unlock()
		return
	}

	changed := false
	if p.Status == model.StatusRead {
		// The counterpart has read up through this point: a conversation-wide
		// flush over everything self-authored, not a per-message patch.
		for i := range r.transcript {
			m := &r.transcript[i]
			if m.SenderID == r.selfID && m.Status != model.StatusRead {
				m.Status = model.StatusRead
				changed = true
			}
		}
	} else {
		changed = r.patchStatus(p)
	}
	r.mu.Unlock()

	if changed {
		r.publishUpdated()
	}
}

// patchStatus applies a non-read status event. First try an exact id match;
// failing that, the confirmation belongs to an optimistic entry still under
// its temporary id, so claim the oldest pending one and give it the server
// id. Status never regresses.
func (r *Reconciler) patchStatus(p model.MessageStatus) bool {
	for i := range r.transcript {
		m := &r.transcript[i]
		if m.ID == p.MessageID {
			if !m.Status.CanTransition(p.Status) || m.Status == p.Status {
				return false
			}
			m.Status = p.Status
			m.Pending = false
			return true
		}
	}
	for i := range r.transcript {
		m := &r.transcript[i]
		if m.Status == model.StatusNotReceived {
			m.ID = p.MessageID
			m.Status = p.Status
			m.Pending = false
			return true
		}
	}
	return false
}

// ContactID returns the counterpart of the open conversation, or "".
func (r *Reconciler) ContactID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.contactID
}

// Messages returns a snapshot of the open transcript, oldest first.
func (r *Reconciler) Messages() []model.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.Message, len(r.transcript))
	copy(out, r.transcript)
	return out
}

// Mine reports whether a transcript entry was authored by the session user.
// Optimistic entries are always self-authored, flagged explicitly instead of
// being inferred from a missing sender name.
func (r *Reconciler) Mine(m model.Message) bool {
	return m.Pending || m.SenderID == r.selfID
}

func (r *Reconciler) publishUpdated() {
	r.bus.Publish(bus.Event{Kind: "conversation.updated", Timestamp: time.Now()})
}
