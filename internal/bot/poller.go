package bot

import (
	"context"
	"log/slog"
	"time"

	"github.com/elysium-gg/spawnkeeper/internal/chat"
	"github.com/elysium-gg/spawnkeeper/internal/domain/attendance"
)

// Poller drives the bot without a gateway connection: it periodically
// fetches new messages from the watched channels and open threads, and
// new reactions on tracked check-in and close-prompt messages. Per-call
// failures are logged and skipped; the loop never stops on them.
type Poller struct {
	client   chat.Client
	router   *Router
	att      *attendance.Service
	cfg      Config
	logger   *slog.Logger
	interval time.Duration

	// lastSeen maps channel id to the newest processed message id. A
	// channel's first poll only records the high-water mark so history is
	// not replayed.
	lastSeen map[string]string
	// seenReactions maps message id to the user/emoji pairs already
	// dispatched.
	seenReactions map[string]map[string]struct{}
}

// NewPoller creates a poller.
func NewPoller(client chat.Client, router *Router, att *attendance.Service, cfg Config, logger *slog.Logger) *Poller {
	interval := cfg.PollInterval
	if interval <= 0 {
		interval = 3 * time.Second
	}
	return &Poller{
		client:        client,
		router:        router,
		att:           att,
		cfg:           cfg,
		logger:        logger,
		interval:      interval,
		lastSeen:      make(map[string]string),
		seenReactions: make(map[string]map[string]struct{}),
	}
}

// Run polls until the context is cancelled.
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			p.pollOnce(ctx)
		}
	}
}

func (p *Poller) pollOnce(ctx context.Context) {
	channels := []string{p.cfg.ChannelID}
	if p.cfg.TimerFeedChannelID != "" {
		channels = append(channels, p.cfg.TimerFeedChannelID)
	}
	channels = append(channels, p.att.OpenThreads()...)

	seen := make(map[string]struct{}, len(channels))
	for _, ch := range channels {
		if ch == "" {
			continue
		}
		if _, dup := seen[ch]; dup {
			continue
		}
		seen[ch] = struct{}{}
		p.pollChannel(ctx, ch)
	}
	p.pollReactions(ctx)
}

func (p *Poller) pollChannel(ctx context.Context, channelID string) {
	last, ok := p.lastSeen[channelID]
	if !ok {
		msgs, err := p.client.FetchMessages(ctx, channelID, 1)
		if err != nil {
			p.logger.Warn("priming channel watermark", "channel", channelID, "error", err)
			return
		}
		p.lastSeen[channelID] = ""
		if len(msgs) > 0 {
			p.lastSeen[channelID] = msgs[len(msgs)-1].ID
		}
		return
	}
	if last == "" {
		// empty channel; fetch whatever has appeared since
		msgs, err := p.client.FetchMessages(ctx, channelID, 100)
		if err != nil {
			p.logger.Warn("polling channel", "channel", channelID, "error", err)
			return
		}
		p.dispatch(ctx, channelID, msgs)
		return
	}

	msgs, err := p.client.FetchMessagesAfter(ctx, channelID, last, 100)
	if err != nil {
		p.logger.Warn("polling channel", "channel", channelID, "error", err)
		return
	}
	p.dispatch(ctx, channelID, msgs)
}

func (p *Poller) dispatch(ctx context.Context, channelID string, msgs []chat.Message) {
	for _, msg := range msgs {
		p.lastSeen[channelID] = msg.ID
		p.router.HandleMessage(ctx, msg)
	}
}

func (p *Poller) pollReactions(ctx context.Context) {
	tracked := p.att.TrackedMessages()

	active := make(map[string]struct{}, len(tracked))
	for _, tm := range tracked {
		active[tm.MessageID] = struct{}{}
	}
	for id := range p.seenReactions {
		if _, ok := active[id]; !ok {
			delete(p.seenReactions, id)
		}
	}

	for _, tm := range tracked {
		for _, emoji := range []string{chat.EmojiApprove, chat.EmojiDeny} {
			users, err := p.client.ListReactionUsers(ctx, tm.ChannelID, tm.MessageID, emoji)
			if err != nil {
				p.logger.Warn("listing reactions", "message", tm.MessageID, "error", err)
				continue
			}
			for _, u := range users {
				if u.IsBot {
					continue
				}
				key := u.ID + "/" + emoji
				if _, done := p.seenReactions[tm.MessageID][key]; done {
					continue
				}
				if p.seenReactions[tm.MessageID] == nil {
					p.seenReactions[tm.MessageID] = make(map[string]struct{})
				}
				p.seenReactions[tm.MessageID][key] = struct{}{}

				p.router.HandleReaction(ctx, chat.Reaction{
					MessageID: tm.MessageID,
					ChannelID: tm.ChannelID,
					UserID:    u.ID,
					UserName:  u.Name,
					Emoji:     emoji,
				})
			}
		}
	}
}
