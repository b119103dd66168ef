package bot

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/elysium-gg/spawnkeeper/internal/domain/event"
)

// feedRe matches the external notifier's announcement lines, e.g.
// "Baium will spawn in 5 minutes! (2026-03-14 19:00)".
var feedRe = regexp.MustCompile(`^(.+?) will spawn in (\d+) minutes?! \((\d{4})-(\d{2})-(\d{2}) (\d{2}):(\d{2})\)$`)

// ParseTimerFeed extracts the event name and occurrence time from a
// notifier feed line. The timestamp is read in the guild zone.
func ParseTimerFeed(content string) (name string, at time.Time, ok bool) {
	m := feedRe.FindStringSubmatch(strings.TrimSpace(content))
	if m == nil {
		return "", time.Time{}, false
	}
	year, _ := strconv.Atoi(m[3])
	month, _ := strconv.Atoi(m[4])
	day, _ := strconv.Atoi(m[5])
	hour, _ := strconv.Atoi(m[6])
	minute, _ := strconv.Atoi(m[7])

	at = time.Date(year, time.Month(month), day, hour, minute, 0, 0, event.GuildZone)
	if int(at.Month()) != month || at.Day() != day {
		return "", time.Time{}, false
	}
	return strings.TrimSpace(m[1]), at, true
}
