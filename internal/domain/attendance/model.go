package attendance

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/elysium-gg/spawnkeeper/internal/chat"
	"github.com/elysium-gg/spawnkeeper/internal/domain/event"
)

// autoCloseAfter is the age at which the sweep force-closes an open spawn.
const autoCloseAfter = 20 * time.Minute

// verifiedByMarker appears in every verification announcement. Thread-scan
// recovery keys off it to rebuild the member list.
const verifiedByMarker = " verified by "

// Spawn is one tracked occurrence with its attendance thread.
type Spawn struct {
	Event           string
	Points          int
	Date            string
	Time            string
	Timestamp       string
	ThreadID        string
	ConfirmThreadID string
	Members         []string
	Closed          bool
	CreatedAt       time.Time
}

// PendingVerification is a check-in awaiting an admin verdict.
type PendingVerification struct {
	MessageID   string
	ThreadID    string
	Author      string
	AuthorID    string
	SubmittedAt time.Time
}

// PendingClosure is a close request awaiting the requester's confirmation
// reaction on the prompt message.
type PendingClosure struct {
	PromptMessageID string
	ThreadID        string
	RequestedBy     string
}

// TrackedKind tells the poller how to route reactions on a tracked message.
type TrackedKind int

const (
	TrackedVerification TrackedKind = iota
	TrackedClosure
)

// TrackedMessage is a message the poller watches for reactions.
type TrackedMessage struct {
	ChannelID string
	MessageID string
	Kind      TrackedKind
}

// SpawnStatus is a read-only snapshot of one spawn.
type SpawnStatus struct {
	Event     string
	Timestamp string
	ThreadID  string
	Members   int
	Pending   int
	Closed    bool
	CreatedAt time.Time
}

// Status is a point-in-time snapshot of orchestrator state.
type Status struct {
	Spawns          []SpawnStatus
	PendingClosures int
}

// CloseResult is the per-spawn outcome of CloseAll.
type CloseResult struct {
	ThreadID string
	Event    string
	Members  int
	Err      error
}

var checkInWords = map[string]struct{}{
	"present": {}, "here": {}, "join": {}, "checkin": {}, "check-in": {},
}

// IsCheckInMessage reports whether content is a check-in. Matching is a
// whole-word keyword scan; anything longer than a short sentence is
// treated as chatter, not a check-in.
func IsCheckInMessage(content string) bool {
	fields := strings.Fields(strings.ToLower(content))
	if len(fields) == 0 || len(fields) > 6 {
		return false
	}
	for _, w := range fields {
		if _, ok := checkInWords[strings.Trim(w, ".,!?")]; ok {
			return true
		}
	}
	return false
}

var titleRe = regexp.MustCompile(`^\[(\d{1,2}/\d{1,2}/\d{2} \d{1,2}:\d{2})\] (.+)$`)

// threadTitle renders the canonical attendance thread name.
func threadTitle(eventName, stamp string) string {
	return fmt.Sprintf("[%s] %s", stamp, eventName)
}

// confirmTitle renders the paired admin confirmation thread name.
func confirmTitle(eventName, stamp string) string {
	return chat.EmojiApprove + " " + threadTitle(eventName, stamp)
}

// parseTitle extracts the event name and timestamp from a thread title.
func parseTitle(title string) (eventName, stamp string, ok bool) {
	m := titleRe.FindStringSubmatch(title)
	if m == nil {
		return "", "", false
	}
	return m[2], m[1], true
}

// columnKey identifies the remote ledger column for an occurrence.
func columnKey(eventName, stamp string) string {
	return event.Fold(eventName) + "|" + stamp
}
