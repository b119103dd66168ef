package bot

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/elysium-gg/spawnkeeper/internal/chat"
)

func TestPoller_PrimesWatermarkBeforeDispatching(t *testing.T) {
	f := newRouterFixture(t)
	p := NewPoller(f.client, f.router, f.att, f.router.cfg, f.router.logger)

	// first pass only records the high-water mark; m-0 is history and must
	// not be replayed
	f.client.On("FetchMessages", mock.Anything, "chan", 1).
		Return([]chat.Message{userMsg("m-0", "chan", "u-1", "kael", "!status", false)}, nil).Once()
	f.client.On("FetchMessages", mock.Anything, "feed", 1).Return([]chat.Message{}, nil).Once()
	p.pollOnce(context.Background())
	f.client.AssertNotCalled(t, "SendMessage", mock.Anything, mock.Anything, mock.Anything)

	f.client.On("FetchMessagesAfter", mock.Anything, "chan", "m-0", 100).
		Return([]chat.Message{userMsg("m-1", "chan", "u-1", "kael", "!status", false)}, nil).Once()
	f.client.On("FetchMessages", mock.Anything, "feed", 100).Return([]chat.Message{}, nil).Once()
	p.pollOnce(context.Background())

	f.client.AssertCalled(t, "SendMessage", mock.Anything, "chan", mock.MatchedBy(func(s string) bool {
		return strings.Contains(s, "Armed timers:")
	}))

	// the watermark advanced to the dispatched message
	f.client.On("FetchMessagesAfter", mock.Anything, "chan", "m-1", 100).Return([]chat.Message{}, nil).Once()
	f.client.On("FetchMessages", mock.Anything, "feed", 100).Return([]chat.Message{}, nil).Once()
	p.pollOnce(context.Background())
}

func TestPoller_ReactionsDedupedAndBotsSkipped(t *testing.T) {
	f := newRouterFixture(t)
	p := NewPoller(f.client, f.router, f.att, f.router.cfg, f.router.logger)
	thr := f.openSpawn(t)

	require.NoError(t, f.att.CheckIn(context.Background(),
		userMsg("m-1", thr, "u-1", "kael", "present", true), false))

	f.client.On("FetchMessages", mock.Anything, mock.Anything, mock.Anything).Return([]chat.Message{}, nil).Maybe()
	f.client.On("FetchMessagesAfter", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return([]chat.Message{}, nil).Maybe()
	f.client.On("ListReactionUsers", mock.Anything, thr, "m-1", chat.EmojiApprove).
		Return([]chat.User{
			{ID: "u-bot", Name: "spawnkeeper", IsBot: true},
			{ID: "u-adm", Name: "gm"},
		}, nil)
	f.client.On("ListReactionUsers", mock.Anything, thr, "m-1", chat.EmojiDeny).
		Return([]chat.User{}, nil)

	p.pollOnce(context.Background())
	p.pollOnce(context.Background())

	st := f.att.Status()
	require.Len(t, st.Spawns, 1)
	require.Equal(t, 1, st.Spawns[0].Members)
	// one admin-check lookup means the reaction was dispatched exactly once
	f.client.AssertNumberOfCalls(t, "FetchMember", 1)
}
