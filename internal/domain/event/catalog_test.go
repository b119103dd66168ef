package event_test

import (
	"testing"
	"time"

	"github.com/elysium-gg/spawnkeeper/internal/domain/event"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
events:
  - name: Baium
    points: 50
    aliases: [bai]
    interval: 9h
  - name: Zaken
    points: 30
    interval: 12h30m
  - name: Siege Golem
    points: 20
    aliases: [golem, sg]
    schedule:
      - weekday: saturday
        time: "20:00"
      - weekday: sunday
        time: "15:30"
`

func TestParse_ResolvesNamesAndAliases(t *testing.T) {
	cat, err := event.Parse([]byte(sampleYAML))
	require.NoError(t, err)

	def, err := cat.Resolve("baium")
	require.NoError(t, err)
	require.Equal(t, "Baium", def.Name)
	require.Equal(t, 9*time.Hour, def.Interval)
	require.Equal(t, 50, def.Points)

	def, err = cat.Resolve("  BAI ")
	require.NoError(t, err)
	require.Equal(t, "Baium", def.Name)

	def, err = cat.Resolve("golem")
	require.NoError(t, err)
	require.Equal(t, "Siege Golem", def.Name)
	require.False(t, def.IntervalBased())
	require.Len(t, def.Schedule, 2)

	_, err = cat.Resolve("antharas")
	require.ErrorIs(t, err, event.ErrUnknownEvent)
}

func TestParse_RejectsMalformedDefs(t *testing.T) {
	_, err := event.Parse([]byte("events:\n  - name: Broken\n"))
	require.ErrorIs(t, err, event.ErrInvalidDef)

	_, err = event.Parse([]byte("events:\n  - name: Broken\n    interval: 1h\n    schedule:\n      - weekday: monday\n        time: \"10:00\"\n"))
	require.ErrorIs(t, err, event.ErrInvalidDef)

	_, err = event.Parse([]byte("events:\n  - name: Broken\n    schedule:\n      - weekday: someday\n        time: \"10:00\"\n"))
	require.ErrorIs(t, err, event.ErrInvalidDef)
}

func TestNextSlot_PicksEarliestFutureSlot(t *testing.T) {
	cat, err := event.Parse([]byte(sampleYAML))
	require.NoError(t, err)
	def, err := cat.Resolve("Siege Golem")
	require.NoError(t, err)

	// Saturday 2025-03-01 19:00 guild time: the 20:00 slot is later today.
	now := time.Date(2025, 3, 1, 19, 0, 0, 0, event.GuildZone)
	next := def.NextSlot(now)
	require.Equal(t, time.Date(2025, 3, 1, 20, 0, 0, 0, event.GuildZone), next)

	// Saturday 21:00: Sunday 15:30 is the next slot.
	now = time.Date(2025, 3, 1, 21, 0, 0, 0, event.GuildZone)
	next = def.NextSlot(now)
	require.Equal(t, time.Date(2025, 3, 2, 15, 30, 0, 0, event.GuildZone), next)

	// Exactly at a slot: strictly future, so next week's Saturday wins
	// over today's 20:00.
	now = time.Date(2025, 3, 2, 15, 30, 0, 0, event.GuildZone)
	next = def.NextSlot(now)
	require.Equal(t, time.Date(2025, 3, 8, 20, 0, 0, 0, event.GuildZone), next)
}

func TestStampRoundTrip(t *testing.T) {
	at := time.Date(2025, 3, 1, 20, 5, 0, 0, event.GuildZone)
	date, clock, full := event.Stamp(at)
	require.Equal(t, "3/1/25", date)
	require.Equal(t, "20:05", clock)
	require.Equal(t, "3/1/25 20:05", full)

	parsed, err := event.ParseStamp(full)
	require.NoError(t, err)
	require.True(t, parsed.Equal(at))

	_, err = event.ParseStamp("not a stamp")
	require.ErrorIs(t, err, event.ErrBadTimestamp)
	_, err = event.ParseStamp("13/45/25 20:05")
	require.ErrorIs(t, err, event.ErrBadTimestamp)
}
