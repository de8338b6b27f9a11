package usecase

import (
	"encoding/json"
	"regexp"
	"strings"

	"lark-bridge/internal/domain"
)

// mentionPattern matches an at-mention of a numeric user id plus any
// trailing whitespace, as Lark encodes bot mentions in message text.
var mentionPattern = regexp.MustCompile(`@_user_\d+\s*`)

// normalizedMessage is the actionable core of an inbound event.
type normalizedMessage struct {
	MessageID  string
	SessionID  string
	SenderType string
	Text       string
}

// messageContent is the decoded shape of EventMessage.Content.
type messageContent struct {
	Text string `json:"text"`
}

// normalizeEvent extracts the message id, session id, sender type and
// cleaned user text from a webhook payload. The second return value is false
// when the event carries nothing actionable: no message object, no message
// id, or no text left after mention stripping.
func normalizeEvent(payload domain.WebhookPayload) (normalizedMessage, bool) {
	if payload.Event == nil || payload.Event.Message == nil {
		return normalizedMessage{}, false
	}
	msg := payload.Event.Message

	// Thread replies share the topic's root id; top-level messages key on
	// the chat itself.
	sessionID := msg.RootID
	if sessionID == "" {
		sessionID = msg.ChatID
	}

	// Unparseable content reads as empty, never as an error.
	var content messageContent
	if err := json.Unmarshal([]byte(msg.Content), &content); err != nil {
		content = messageContent{}
	}

	text := stripMentions(content.Text)
	if text == "" || msg.MessageID == "" {
		return normalizedMessage{}, false
	}

	senderType := ""
	if payload.Event.Sender != nil {
		senderType = payload.Event.Sender.SenderType
	}

	return normalizedMessage{
		MessageID:  msg.MessageID,
		SessionID:  sessionID,
		SenderType: senderType,
		Text:       text,
	}, true
}

func stripMentions(s string) string {
	return strings.TrimSpace(mentionPattern.ReplaceAllString(s, ""))
}
