package attendance

import (
	"context"

	"github.com/elysium-gg/spawnkeeper/internal/ledger"
)

// ColumnStore is the remote ledger surface the orchestrator needs.
type ColumnStore interface {
	CheckColumn(ctx context.Context, eventName, timestamp string) (bool, error)
	SubmitAttendance(ctx context.Context, sub ledger.Submission) error
}

// Journal records audit rows. Failures are logged, never propagated.
type Journal interface {
	Log(ctx context.Context, kind, eventName, occurrence, detail string) error
}
