package scheduler

import (
	"context"
	"time"

	"github.com/elysium-gg/spawnkeeper/internal/ledger"
)

// Orchestrator opens and cancels attendance threads for occurrences the
// scheduler confirms. OpenOccurrence is idempotent on the orchestrator
// side: when a thread already exists for the same event and occurrence it
// returns that thread's ID with created=false.
type Orchestrator interface {
	OpenOccurrence(ctx context.Context, eventName string, occurrence time.Time, source string) (threadID string, created bool, err error)
	CancelOccurrence(ctx context.Context, threadID, reason string) error
}

// Announcer posts scheduler notices to the guild's announcement channel.
type Announcer interface {
	SpawnReminder(ctx context.Context, eventName string, points int, occurrence time.Time, threadID string) error
	FalseAlarmNotice(ctx context.Context, eventName, reporter string) error
}

// RecoveryStore persists timer state so predictions survive a restart.
type RecoveryStore interface {
	SaveTimerRecovery(ctx context.Context, rec ledger.RecoveryRecord) error
	BulkSaveTimerRecovery(ctx context.Context, recs []ledger.RecoveryRecord) error
	DeleteTimerRecovery(ctx context.Context, eventName string) error
	ClearTimerRecovery(ctx context.Context) error
	GetTimerRecovery(ctx context.Context) ([]ledger.RecoveryRecord, error)
}

// Journal records audit rows. Failures are logged, never propagated.
type Journal interface {
	Log(ctx context.Context, kind, eventName, occurrence, detail string) error
}
