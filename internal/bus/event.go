package bus

import "time"

// Event is one notification published on the in-process bus.
//
// Kinds used across the client:
//
//	live.message           inbound chat message    (payload model.NewMessage)
//	live.status            delivery status change  (payload model.MessageStatus)
//	channel.status_changed connection state move   (payload status.StatusChange)
//	directory.updated      contact list changed
//	conversation.updated   open transcript changed
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}
