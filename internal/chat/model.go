package chat

import "time"

// Reaction emojis used for verification and confirmation prompts.
const (
	EmojiApprove = "✅"
	EmojiDeny    = "❌"
)

// ThreadRef identifies a thread created on the chat platform.
type ThreadRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	URL  string `json:"url,omitempty"`
}

// Message is an incoming or fetched platform message.
type Message struct {
	ID            string    `json:"id"`
	ChannelID     string    `json:"channel_id"`
	AuthorID      string    `json:"author_id"`
	AuthorName    string    `json:"author_name"`
	AuthorIsBot   bool      `json:"author_is_bot"`
	Content       string    `json:"content"`
	HasAttachment bool      `json:"has_attachment"`
	CreatedAt     time.Time `json:"created_at"`
}

// Reaction is an emoji added by a user to a message.
type Reaction struct {
	MessageID string `json:"message_id"`
	ChannelID string `json:"channel_id"`
	UserID    string `json:"user_id"`
	UserName  string `json:"user_name"`
	Emoji     string `json:"emoji"`
}

// Member is a guild member with role information.
type Member struct {
	ID          string   `json:"id"`
	DisplayName string   `json:"display_name"`
	RoleIDs     []string `json:"role_ids"`
}

// User is a minimal platform user reference.
type User struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	IsBot bool   `json:"is_bot"`
}
