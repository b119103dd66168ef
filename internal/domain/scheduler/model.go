package scheduler

import (
	"time"

	"github.com/elysium-gg/spawnkeeper/internal/domain/event"
	"github.com/elysium-gg/spawnkeeper/internal/timerq"
)

const (
	// reminderLead is how far before a predicted occurrence the reminder
	// fires and the attendance thread opens.
	reminderLead = 5 * time.Minute

	// dedupTTL is how long an occurrence counts as already handled.
	// External notifiers repeat themselves; anything inside this window
	// reuses the existing thread instead of opening another.
	dedupTTL = 15 * time.Minute
)

// armedTimer is one live spawn prediction.
type armedTimer struct {
	def            event.Def
	nextOccurrence time.Time
	lastReportAt   *time.Time
	reportedBy     string
	token          timerq.Token
}

// handledEntry marks an occurrence as recently handled for dedupTTL.
type handledEntry struct {
	eventName   string
	occurrence  time.Time
	threadID    string
	handledAt   time.Time
	expiryToken timerq.Token
}

// TimerStatus is a read-only snapshot of one armed timer.
type TimerStatus struct {
	Event          string
	NextOccurrence time.Time
	ReportedBy     string
	LastReportAt   *time.Time
}

// HandledStatus is a read-only snapshot of one dedup entry.
type HandledStatus struct {
	Event      string
	Occurrence time.Time
	ThreadID   string
	HandledAt  time.Time
}

// Status is a point-in-time snapshot of scheduler state.
type Status struct {
	Timers          []TimerStatus
	RecentlyHandled []HandledStatus
}
