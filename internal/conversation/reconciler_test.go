package conversation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/moveinn/minn/internal/bus"
	"github.com/moveinn/minn/internal/model"
	"go.uber.org/zap"
)

const selfID = "u-1"

var t0 = time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)

type fakeTransport struct {
	mu      sync.Mutex
	sends   []string // "receiver:content"
	reads   []string
	sendErr error
}

func (f *fakeTransport) SendMessage(receiverID, content string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sends = append(f.sends, receiverID+":"+content)
	return f.sendErr
}

func (f *fakeTransport) MarkAsRead(contactID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads = append(f.reads, contactID)
	return nil
}

func (f *fakeTransport) readCalls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.reads...)
}

type fakeHistory struct {
	mu    sync.Mutex
	msgs  map[string][]model.Message
	err   error
	gates map[string]chan struct{} // optional: fetch blocks until gate closes
}

func (f *fakeHistory) History(_ context.Context, contactID string) ([]model.Message, error) {
	f.mu.Lock()
	gate := f.gates[contactID]
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.msgs[contactID], nil
}

func newTestReconciler(history *fakeHistory) (*Reconciler, *fakeTransport) {
	tr := &fakeTransport{}
	if history == nil {
		history = &fakeHistory{msgs: map[string][]model.Message{}}
	}
	return New(selfID, tr, history, bus.New(), zap.NewNop()), tr
}

func statusEvent(id string, st model.Status) bus.Event {
	return bus.Event{Kind: "live.status", Payload: model.MessageStatus{MessageID: id, Status: st}}
}

// Opening a conversation loads history, normalizes missing statuses to
// delivered and acknowledges the counterpart.
func TestOpenLoadsHistoryAndMarksRead(t *testing.T) {
	history := &fakeHistory{msgs: map[string][]model.Message{
		"u-2": {{ID: "1", SenderID: "u-2", Content: "hi", SentAt: t0, Status: model.StatusDelivered}},
	}}
	r, tr := newTestReconciler(history)

	r.Open(context.Background(), "u-2")

	msgs := r.Messages()
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1", len(msgs))
	}
	if msgs[0].ID != "1" || msgs[0].Status != model.StatusDelivered {
		t.Errorf("message = %+v, want id 1 delivered", msgs[0])
	}
	if reads := tr.readCalls(); len(reads) != 1 || reads[0] != "u-2" {
		t.Errorf("MarkAsRead calls = %v, want [u-2]", reads)
	}
}

func TestOpenHistoryFailureShowsEmptyTranscript(t *testing.T) {
	history := &fakeHistory{err: errors.New("boom")}
	r, _ := newTestReconciler(history)

	r.Open(context.Background(), "u-2")

	if len(r.Messages()) != 0 {
		t.Error("transcript should be empty after failed history fetch")
	}
	if r.ContactID() != "u-2" {
		t.Error("conversation should still be open")
	}
}

func TestSendAppendsOptimisticEntry(t *testing.T) {
	r, tr := newTestReconciler(nil)
	r.Open(context.Background(), "u-2")

	msg, err := r.Send("hello")
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if msg.ID == "" {
		t.Error("optimistic entry needs a temporary id")
	}
	if msg.Status != model.StatusNotReceived || !msg.Pending {
		t.Errorf("optimistic entry = %+v, want not_received and pending", msg)
	}

	msgs := r.Messages()
	if len(msgs) != 1 || msgs[0].Content != "hello" {
		t.Fatalf("transcript = %v, want single hello entry", msgs)
	}
	tr.mu.Lock()
	defer tr.mu.Unlock()
	if len(tr.sends) != 1 || tr.sends[0] != "u-2:hello" {
		t.Errorf("transport sends = %v", tr.sends)
	}
}

func TestSendKeepsEntryWhenTransportDown(t *testing.T) {
	r, tr := newTestReconciler(nil)
	tr.sendErr = errors.New("not connected")
	r.Open(context.Background(), "u-2")

	if _, err := r.Send("hello"); err == nil {
		t.Fatal("Send() should surface the transport error")
	}
	if len(r.Messages()) != 1 {
		t.Error("optimistic entry should survive a failed transport send")
	}
}

func TestSendWithoutOpenConversation(t *testing.T) {
	r, _ := newTestReconciler(nil)
	if _, err := r.Send("hello"); !errors.Is(err, ErrNoConversation) {
		t.Errorf("Send() error = %v, want ErrNoConversation", err)
	}
}

// An inbound message from the open counterpart is appended as delivered and
// immediately acknowledged.
func TestInboundMessageAppendsAndAcks(t *testing.T) {
	r, tr := newTestReconciler(nil)
	r.Open(context.Background(), "u-2")

	r.HandleEvent(bus.Event{Kind: "live.message", Payload: model.NewMessage{
		MessageID: "m-1", SenderID: "u-2", ReceiverID: selfID, Content: "hola", SentAt: t0,
	}})

	msgs := r.Messages()
	if len(msgs) != 1 || msgs[0].Status != model.StatusDelivered {
		t.Fatalf("transcript = %v, want single delivered entry", msgs)
	}
	// One ack from Open, one from the inbound message.
	if reads := tr.readCalls(); len(reads) != 2 {
		t.Errorf("MarkAsRead calls = %v, want 2", reads)
	}
}

func TestInboundMessageForOtherConversationIgnored(t *testing.T) {
	r, _ := newTestReconciler(nil)
	r.Open(context.Background(), "u-2")

	r.HandleEvent(bus.Event{Kind: "live.message", Payload: model.NewMessage{
		MessageID: "m-1", SenderID: "u-3", ReceiverID: selfID, Content: "wrong thread", SentAt: t0,
	}})

	if len(r.Messages()) != 0 {
		t.Error("message from another counterpart must not enter the transcript")
	}
}

// A delivered confirmation with an unknown id claims the oldest pending
// optimistic entry and rewrites it in place: exactly one entry, no duplicate.
func TestOptimisticReconciliation(t *testing.T) {
	r, _ := newTestReconciler(nil)
	r.Open(context.Background(), "u-2")

	if _, err := r.Send("hello"); err != nil {
		t.Fatal(err)
	}
	r.HandleEvent(statusEvent("srv-42", model.StatusDelivered))

	msgs := r.Messages()
	if len(msgs) != 1 {
		t.Fatalf("transcript has %d entries, want exactly 1", len(msgs))
	}
	m := msgs[0]
	if m.ID != "srv-42" || m.Status != model.StatusDelivered || m.Pending {
		t.Errorf("entry = %+v, want id srv-42, delivered, not pending", m)
	}
}

func TestClaimOldestPendingFirst(t *testing.T) {
	r, _ := newTestReconciler(nil)
	r.Open(context.Background(), "u-2")

	first, _ := r.Send("first")
	second, _ := r.Send("second")

	r.HandleEvent(statusEvent("srv-1", model.StatusDelivered))

	msgs := r.Messages()
	if msgs[0].ID != "srv-1" || msgs[0].Status != model.StatusDelivered {
		t.Errorf("oldest pending entry not claimed: %+v (was %s)", msgs[0], first.ID)
	}
	if msgs[1].ID != second.ID || msgs[1].Status != model.StatusNotReceived {
		t.Errorf("second entry should stay pending: %+v", msgs[1])
	}
}

// A read event flushes every self-authored message to read, and doing it
// twice is a no-op.
func TestReadFlushIsIdempotent(t *testing.T) {
	history := &fakeHistory{msgs: map[string][]model.Message{
		"u-2": {
			{ID: "1", SenderID: selfID, Content: "a", SentAt: t0, Status: model.StatusDelivered},
			{ID: "2", SenderID: "u-2", Content: "b", SentAt: t0, Status: model.StatusDelivered},
			{ID: "3", SenderID: selfID, Content: "c", SentAt: t0, Status: model.StatusDelivered},
		},
	}}
	r, _ := newTestReconciler(history)
	r.Open(context.Background(), "u-2")

	r.HandleEvent(statusEvent("3", model.StatusRead))
	after := r.Messages()

	r.HandleEvent(statusEvent("3", model.StatusRead))
	again := r.Messages()

	for i, m := range after {
		if m.SenderID == selfID && m.Status != model.StatusRead {
			t.Errorf("self message %s = %s, want read", m.ID, m.Status)
		}
		if m.SenderID != selfID && m.Status != model.StatusDelivered {
			t.Errorf("counterpart message %s = %s, want untouched delivered", m.ID, m.Status)
		}
		if again[i] != m {
			t.Errorf("second flush changed entry %d: %+v -> %+v", i, m, again[i])
		}
	}
}

// No sequence of events may move a message backwards in the lifecycle.
func TestStatusNeverRegresses(t *testing.T) {
	r, _ := newTestReconciler(nil)
	r.Open(context.Background(), "u-2")

	if _, err := r.Send("hello"); err != nil {
		t.Fatal(err)
	}
	r.HandleEvent(statusEvent("srv-1", model.StatusDelivered))
	r.HandleEvent(statusEvent("srv-1", model.StatusRead))
	// Late, out-of-order delivered confirmation for the same message.
	r.HandleEvent(statusEvent("srv-1", model.StatusDelivered))

	msgs := r.Messages()
	if msgs[0].Status != model.StatusRead {
		t.Errorf("status = %s, want read (no regression)", msgs[0].Status)
	}
}

func TestSwitchDiscardsTranscript(t *testing.T) {
	history := &fakeHistory{msgs: map[string][]model.Message{
		"u-2": {{ID: "1", SenderID: "u-2", Content: "hi", SentAt: t0, Status: model.StatusDelivered}},
		"u-3": {{ID: "9", SenderID: "u-3", Content: "hey", SentAt: t0, Status: model.StatusDelivered}},
	}}
	r, _ := newTestReconciler(history)

	r.Open(context.Background(), "u-2")
	r.Open(context.Background(), "u-3")

	msgs := r.Messages()
	if len(msgs) != 1 || msgs[0].ID != "9" {
		t.Errorf("transcript = %v, want only u-3 history", msgs)
	}
}

// A history response that arrives after the user has switched conversations
// must not clobber the new transcript.
func TestStaleHistoryResponseDiscarded(t *testing.T) {
	gate := make(chan struct{})
	history := &fakeHistory{
		msgs: map[string][]model.Message{
			"u-2": {{ID: "1", SenderID: "u-2", Content: "old", SentAt: t0, Status: model.StatusDelivered}},
			"u-3": {{ID: "9", SenderID: "u-3", Content: "new", SentAt: t0, Status: model.StatusDelivered}},
		},
		gates: map[string]chan struct{}{"u-2": gate},
	}
	r, _ := newTestReconciler(history)

	done := make(chan struct{})
	go func() {
		r.Open(context.Background(), "u-2") // blocks on the gate
		close(done)
	}()

	// Give the first Open a moment to bump the generation, then switch.
	time.Sleep(20 * time.Millisecond)
	r.Open(context.Background(), "u-3")

	close(gate)
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for stale open to finish")
	}

	msgs := r.Messages()
	if len(msgs) != 1 || msgs[0].ID != "9" {
		t.Errorf("transcript = %v, want u-3 history only (stale response dropped)", msgs)
	}
}

func TestMine(t *testing.T) {
	r, _ := newTestReconciler(nil)

	if !r.Mine(model.Message{SenderID: selfID}) {
		t.Error("message from self should be mine")
	}
	if !r.Mine(model.Message{SenderID: "", Pending: true}) {
		t.Error("pending optimistic entry should be mine")
	}
	if r.Mine(model.Message{SenderID: "u-2"}) {
		t.Error("counterpart message should not be mine")
	}
}

func TestStartAppliesBusEvents(t *testing.T) {
	b := bus.New()
	tr := &fakeTransport{}
	history := &fakeHistory{msgs: map[string][]model.Message{}}
	r := New(selfID, tr, history, b, zap.NewNop())
	r.Open(context.Background(), "u-2")
	r.Start(context.Background())
	defer r.Stop()

	updated, unsub := b.Subscribe("conversation.", 16)
	defer unsub()

	b.Publish(bus.Event{Kind: "live.message", Timestamp: time.Now(), Payload: model.NewMessage{
		MessageID: "m-1", SenderID: "u-2", ReceiverID: selfID, Content: "via bus", SentAt: t0,
	}})

	select {
	case <-updated:
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for conversation.updated")
	}

	msgs := r.Messages()
	if len(msgs) != 1 || msgs[0].Content != "via bus" {
		t.Errorf("transcript = %v", msgs)
	}
}
