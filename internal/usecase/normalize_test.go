package usecase

import (
	"testing"

	"github.com/stretchr/testify/require"

	"lark-bridge/internal/domain"
)

func TestNormalizeEvent(t *testing.T) {
	tests := []struct {
		name    string
		payload domain.WebhookPayload
		want    normalizedMessage
		ok      bool
	}{
		{
			name:    "plain text",
			payload: eventPayload("om_1", "oc_1", "", "user", "hello"),
			want:    normalizedMessage{MessageID: "om_1", SessionID: "oc_1", SenderType: "user", Text: "hello"},
			ok:      true,
		},
		{
			name:    "root id wins over chat id",
			payload: eventPayload("om_1", "oc_1", "om_root", "user", "hello"),
			want:    normalizedMessage{MessageID: "om_1", SessionID: "om_root", SenderType: "user", Text: "hello"},
			ok:      true,
		},
		{
			name:    "mentions stripped",
			payload: eventPayload("om_1", "oc_1", "", "user", "@_user_123 @_user_456  hello"),
			want:    normalizedMessage{MessageID: "om_1", SessionID: "oc_1", SenderType: "user", Text: "hello"},
			ok:      true,
		},
		{
			name:    "surrounding whitespace trimmed",
			payload: eventPayload("om_1", "oc_1", "", "user", "  hello  "),
			want:    normalizedMessage{MessageID: "om_1", SessionID: "oc_1", SenderType: "user", Text: "hello"},
			ok:      true,
		},
		{
			name:    "mention-only text rejected",
			payload: eventPayload("om_1", "oc_1", "", "user", "@_user_123 "),
			ok:      false,
		},
		{
			name:    "empty text rejected",
			payload: eventPayload("om_1", "oc_1", "", "user", ""),
			ok:      false,
		},
		{
			name:    "missing message id rejected",
			payload: eventPayload("", "oc_1", "", "user", "hello"),
			ok:      false,
		},
		{
			name:    "no event",
			payload: domain.WebhookPayload{},
			ok:      false,
		},
		{
			name:    "event without message",
			payload: domain.WebhookPayload{Event: &domain.Event{Sender: &domain.Sender{SenderType: "user"}}},
			ok:      false,
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			got, ok := normalizeEvent(test.payload)
			require.Equal(t, test.ok, ok)
			if test.ok {
				require.Equal(t, test.want, got)
			}
		})
	}
}

func TestNormalizeEvent_UnparseableContent(t *testing.T) {
	payload := domain.WebhookPayload{
		Event: &domain.Event{
			Sender: &domain.Sender{SenderType: "user"},
			Message: &domain.EventMessage{
				MessageID: "om_1",
				ChatID:    "oc_1",
				Content:   "not json",
			},
		},
	}

	_, ok := normalizeEvent(payload)
	require.False(t, ok)
}

func TestNormalizeEvent_MissingSenderDefaultsEmpty(t *testing.T) {
	payload := domain.WebhookPayload{
		Event: &domain.Event{
			Message: &domain.EventMessage{
				MessageID: "om_1",
				ChatID:    "oc_1",
				Content:   `{"text":"hello"}`,
			},
		},
	}

	msg, ok := normalizeEvent(payload)
	require.True(t, ok)
	require.Empty(t, msg.SenderType)
	require.Equal(t, "hello", msg.Text)
}

func TestStripMentions(t *testing.T) {
	require.Equal(t, "hello", stripMentions("@_user_1 hello"))
	require.Equal(t, "hello there", stripMentions("hello @_user_22 there"))
	require.Equal(t, "", stripMentions("@_user_1 @_user_2 "))
	require.Equal(t, "plain", stripMentions("plain"))
}
