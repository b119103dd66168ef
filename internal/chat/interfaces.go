// Package chat defines the platform-neutral surface the bot consumes from
// the chat service. The Discord implementation lives in internal/discord;
// tests use the mock in internal/mocks.
package chat

import "context"

// Client is the outbound chat platform API.
type Client interface {
	// CreateThread opens a thread under the given channel.
	CreateThread(ctx context.Context, channelID, name string, autoArchiveMinutes int) (ThreadRef, error)

	// SendMessage posts plain content to a channel or thread and returns
	// the new message id.
	SendMessage(ctx context.Context, channelID, content string) (string, error)

	AddReaction(ctx context.Context, channelID, messageID, emoji string) error
	RemoveUserReaction(ctx context.Context, channelID, messageID, userID, emoji string) error
	RemoveAllReactions(ctx context.Context, channelID, messageID string) error
	ListReactionUsers(ctx context.Context, channelID, messageID, emoji string) ([]User, error)

	ArchiveThread(ctx context.Context, threadID string) error
	LockThread(ctx context.Context, threadID string) error
	DeleteThread(ctx context.Context, threadID string) error
	DeleteMessage(ctx context.Context, channelID, messageID string) error

	FetchMember(ctx context.Context, guildID, userID string) (Member, error)
	ListActiveThreads(ctx context.Context, guildID, parentChannelID string) ([]ThreadRef, error)

	// FetchMessages returns up to limit most recent messages, oldest first.
	FetchMessages(ctx context.Context, channelID string, limit int) ([]Message, error)
	// FetchMessagesAfter returns messages newer than afterID, oldest first.
	FetchMessagesAfter(ctx context.Context, channelID, afterID string, limit int) ([]Message, error)
}
