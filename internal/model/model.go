package model

import "time"

// Status is the delivery lifecycle of a single message as seen by this client.
type Status string

const (
	// StatusNotReceived marks an optimistic local send the server has not
	// confirmed yet.
	StatusNotReceived Status = "not_received"
	// StatusDelivered means the server accepted the message (or the message
	// came from history/live traffic, which implies delivery).
	StatusDelivered Status = "delivered"
	// StatusRead means the counterpart has read the message.
	StatusRead Status = "read"
)

var statusRank = map[Status]int{
	StatusNotReceived: 0,
	StatusDelivered:   1,
	StatusRead:        2,
}

// CanTransition reports whether moving from s to next respects the monotonic
// not_received -> delivered -> read lifecycle. Self-transitions are allowed.
func (s Status) CanTransition(next Status) bool {
	a, okA := statusRank[s]
	b, okB := statusRank[next]
	return okA && okB && b >= a
}

// Contact is one conversation summary from the authoritative contact fetch.
type Contact struct {
	OtherUserID     string    `json:"otherUserId"`
	OtherUserName   string    `json:"otherUserName"`
	OtherUserAvatar string    `json:"otherUserAvatar"`
	LastMessage     string    `json:"lastMessage"`
	LastMessageAt   time.Time `json:"lastMessageAt"`
}

// Message is one entry in a conversation transcript. ID holds a client-side
// temporary id until the server confirms the message, at which point the
// reconciler rewrites it in place.
type Message struct {
	ID       string    `json:"id"`
	SenderID string    `json:"senderId"`
	Content  string    `json:"content"`
	SentAt   time.Time `json:"sentAt"`
	Status   Status    `json:"status"`
	// Pending marks an optimistic local entry that has not been matched to a
	// server id yet.
	Pending bool `json:"-"`
}

// NewMessage is the inbound live event for a freshly delivered message.
type NewMessage struct {
	MessageID  string    `json:"messageId"`
	SenderID   string    `json:"senderId"`
	ReceiverID string    `json:"receiverId"`
	SenderName string    `json:"senderName"`
	Content    string    `json:"content"`
	SentAt     time.Time `json:"sentAt"`
}

// MessageStatus is the inbound live event for a delivery status change.
// ReceiverID is only set by some server paths and may be empty.
type MessageStatus struct {
	MessageID  string `json:"messageId"`
	Status     Status `json:"status"`
	ReceiverID string `json:"receiverId"`
}
