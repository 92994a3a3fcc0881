package history

import "time"

// Roles a stored message can carry.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one immutable entry of a session's conversation log. Timestamp
// has millisecond resolution and orders messages within the session.
type Message struct {
	SessionID string    `json:"sessionId"`
	Timestamp time.Time `json:"timestamp"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Tokens    int       `json:"tokens"`
}

// Session is the metadata record of a conversation. TotalTokens is the sum
// of Tokens over every message saved under the session.
type Session struct {
	ID          string    `json:"sessionId"`
	OwnerID     string    `json:"ownerId"`
	CreatedAt   time.Time `json:"createdAt"`
	ExpiresAt   time.Time `json:"expiresAt"`
	TotalTokens int       `json:"totalTokens"`
}

// Expired reports whether the session's retention window has passed at now.
func (s Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}
