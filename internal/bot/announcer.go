package bot

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/elysium-gg/spawnkeeper/internal/chat"
	"github.com/elysium-gg/spawnkeeper/internal/domain/event"
)

// ChannelAnnouncer posts scheduler notices to the announcement channel.
type ChannelAnnouncer struct {
	client    chat.Client
	channelID string
	logger    *slog.Logger
}

// NewChannelAnnouncer creates an announcer for the given channel.
func NewChannelAnnouncer(client chat.Client, channelID string, logger *slog.Logger) *ChannelAnnouncer {
	return &ChannelAnnouncer{client: client, channelID: channelID, logger: logger}
}

func (a *ChannelAnnouncer) SpawnReminder(ctx context.Context, eventName string, points int, occurrence time.Time, threadID string) error {
	if a.channelID == "" {
		return nil
	}
	_, clock, _ := event.Stamp(occurrence)
	content := fmt.Sprintf("%s spawns at %s (%d points). Check in: <#%s>", eventName, clock, points, threadID)
	_, err := a.client.SendMessage(ctx, a.channelID, content)
	return err
}

func (a *ChannelAnnouncer) FalseAlarmNotice(ctx context.Context, eventName, reporter string) error {
	if a.channelID == "" {
		return nil
	}
	content := fmt.Sprintf("%s was a false alarm (reported by %s). The timer has been cleared.", eventName, reporter)
	_, err := a.client.SendMessage(ctx, a.channelID, content)
	return err
}
