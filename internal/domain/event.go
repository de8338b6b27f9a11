package domain

// WebhookPayload is the decoded body of an inbound Lark webhook POST.
// A non-empty Challenge marks a URL-verification request; everything else is
// carried under Event. Unknown or missing fields decode to zero values and
// are treated as absent data, never as errors.
type WebhookPayload struct {
	Challenge string `json:"challenge,omitempty"`
	Event     *Event `json:"event,omitempty"`
}

// Event is the message-event envelope.
type Event struct {
	Sender  *Sender       `json:"sender,omitempty"`
	Message *EventMessage `json:"message,omitempty"`
}

// Sender identifies who produced the message. SenderType is "app" for the
// bot's own messages.
type Sender struct {
	SenderType string `json:"sender_type"`
}

// EventMessage is the raw inbound message. Content is a platform-encoded
// JSON string, not plain text. RootID is set when the message belongs to a
// threaded topic.
type EventMessage struct {
	MessageID   string `json:"message_id"`
	ChatID      string `json:"chat_id"`
	RootID      string `json:"root_id,omitempty"`
	MessageType string `json:"message_type,omitempty"`
	Content     string `json:"content"`
}
