package ws

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/moveinn/minn/internal/model"
)

// Wire actions. The channel is symmetric JSON: every frame carries an
// "action" discriminator in both directions.
const (
	actionSendMessage   = "send_message"
	actionMarkAsRead    = "mark_as_read"
	actionFollow        = "follow"
	actionUnfollow      = "unfollow"
	actionNewMessage    = "new_message"
	actionMessageStatus = "message_status"
)

// outbound is the client-to-server intent frame.
type outbound struct {
	Action       string `json:"action"`
	ReceiverID   string `json:"receiverId,omitempty"`
	Content      string `json:"content,omitempty"`
	ContactID    string `json:"contactId,omitempty"`
	TargetUserID string `json:"targetUserId,omitempty"`
}

// frame is the superset of all inbound event fields.
type frame struct {
	Action     string       `json:"action"`
	MessageID  string       `json:"messageId"`
	SenderID   string       `json:"senderId"`
	ReceiverID string       `json:"receiverId"`
	SenderName string       `json:"senderName"`
	Content    string       `json:"content"`
	SentAt     time.Time    `json:"sentAt"`
	Status     model.Status `json:"status"`
}

// decodeFrame parses one inbound frame into its bus kind and typed payload.
func decodeFrame(data []byte) (kind string, payload any, err error) {
	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		return "", nil, fmt.Errorf("decode frame: %w", err)
	}

	switch f.Action {
	case actionNewMessage:
		return "live.message", model.NewMessage{
			MessageID:  f.MessageID,
			SenderID:   f.SenderID,
			ReceiverID: f.ReceiverID,
			SenderName: f.SenderName,
			Content:    f.Content,
			SentAt:     f.SentAt,
		}, nil
	case actionMessageStatus:
		return "live.status", model.MessageStatus{
			MessageID:  f.MessageID,
			Status:     f.Status,
			ReceiverID: f.ReceiverID,
		}, nil
	default:
		return "", nil, fmt.Errorf("unknown action %q", f.Action)
	}
}
