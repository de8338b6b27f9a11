package domain

// Turn roles used in stored transcripts and completion API requests.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatMessage is a single conversation turn. It is both the persisted
// transcript entry and the wire shape sent to the completion API.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}
