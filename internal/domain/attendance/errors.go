package attendance

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrThreadNotFound = errors.New("no spawn tracked for thread")
	ErrAlreadyClosed  = errors.New("spawn already closed")

	// ErrColumnExists means the remote ledger already has a column for the
	// (event, timestamp) pair.
	ErrColumnExists = errors.New("attendance column already exists")

	ErrDuplicateMember    = errors.New("member already verified")
	ErrScreenshotRequired = errors.New("check-in requires a screenshot")

	// ErrPendingVerifications blocks a graceful close while check-ins are
	// still awaiting verdicts. The concrete error carries the authors.
	ErrPendingVerifications = errors.New("unresolved check-ins pending")

	ErrNoPendingVerification = errors.New("message is not a pending check-in")
	ErrNoPendingClosure      = errors.New("message is not a close prompt")

	// ErrNotRequester means someone other than the requesting admin reacted
	// to a close prompt.
	ErrNotRequester = errors.New("close prompt belongs to another admin")
)

// PendingVerificationsError lists the authors blocking a close.
type PendingVerificationsError struct {
	Authors []string
}

func (e *PendingVerificationsError) Error() string {
	return fmt.Sprintf("%v: %s", ErrPendingVerifications, strings.Join(e.Authors, ", "))
}

func (e *PendingVerificationsError) Unwrap() error { return ErrPendingVerifications }
