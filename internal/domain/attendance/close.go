package attendance

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/elysium-gg/spawnkeeper/internal/chat"
	"github.com/elysium-gg/spawnkeeper/internal/journal"
	"github.com/elysium-gg/spawnkeeper/internal/ledger"
)

// RequestClose starts the two-phase close: a confirmation prompt is posted
// and the close completes only when the requesting admin reacts on it.
// Unresolved check-ins block the request.
func (s *Service) RequestClose(ctx context.Context, threadID, requestedBy string) error {
	s.mu.Lock()
	sp, ok := s.spawns[threadID]
	if !ok {
		s.mu.Unlock()
		return ErrThreadNotFound
	}
	if sp.Closed {
		s.mu.Unlock()
		return ErrAlreadyClosed
	}
	var blocking []string
	for _, pv := range s.pendingVerifications {
		if pv.ThreadID == threadID {
			blocking = append(blocking, pv.Author)
		}
	}
	memberCount := len(sp.Members)
	s.mu.Unlock()

	if len(blocking) > 0 {
		sort.Strings(blocking)
		return &PendingVerificationsError{Authors: blocking}
	}

	prompt := fmt.Sprintf("Close this spawn and submit %d members? React %s to confirm or %s to cancel.",
		memberCount, chat.EmojiApprove, chat.EmojiDeny)
	promptID, err := s.client.SendMessage(ctx, threadID, prompt)
	if err != nil {
		return fmt.Errorf("posting close prompt: %w", err)
	}
	for _, emoji := range []string{chat.EmojiApprove, chat.EmojiDeny} {
		if err := s.client.AddReaction(ctx, threadID, promptID, emoji); err != nil {
			s.logger.Warn("adding close prompt reaction", "message", promptID, "error", err)
		}
	}

	s.mu.Lock()
	sp, ok = s.spawns[threadID]
	if !ok || sp.Closed {
		s.mu.Unlock()
		if derr := s.client.DeleteMessage(ctx, threadID, promptID); derr != nil {
			s.logger.Warn("deleting stale close prompt", "message", promptID, "error", derr)
		}
		if !ok {
			return ErrThreadNotFound
		}
		return ErrAlreadyClosed
	}
	s.pendingClosures[promptID] = &PendingClosure{
		PromptMessageID: promptID,
		ThreadID:        threadID,
		RequestedBy:     requestedBy,
	}
	s.mu.Unlock()
	s.logger.Info("close requested", "thread", threadID, "by", requestedBy)
	return nil
}

// ConfirmClose resolves a close prompt. Only the requesting admin's
// reaction counts; anyone else's is rejected without consuming the prompt.
func (s *Service) ConfirmClose(ctx context.Context, promptMessageID, reactorID string, approve bool) error {
	s.mu.Lock()
	pc, ok := s.pendingClosures[promptMessageID]
	if !ok {
		s.mu.Unlock()
		return ErrNoPendingClosure
	}
	if pc.RequestedBy != reactorID {
		s.mu.Unlock()
		return ErrNotRequester
	}
	delete(s.pendingClosures, promptMessageID)
	threadID := pc.ThreadID
	s.mu.Unlock()

	if !approve {
		if _, err := s.client.SendMessage(ctx, threadID, "Close cancelled."); err != nil {
			s.logger.Warn("posting close cancellation", "thread", threadID, "error", err)
		}
		return nil
	}
	return s.finalize(ctx, threadID)
}

// ForceClose discards pending check-ins and finalizes immediately, no
// confirmation prompt.
func (s *Service) ForceClose(ctx context.Context, threadID, adminID string) error {
	s.mu.Lock()
	sp, ok := s.spawns[threadID]
	if !ok {
		s.mu.Unlock()
		return ErrThreadNotFound
	}
	if sp.Closed {
		s.mu.Unlock()
		return ErrAlreadyClosed
	}
	dropped := s.dropPendingLocked(threadID)
	s.mu.Unlock()

	if dropped > 0 {
		s.logger.Info("force close dropped pending check-ins", "thread", threadID, "count", dropped, "by", adminID)
	}
	return s.finalize(ctx, threadID)
}

// ForceSubmit pushes the current member list to the ledger while leaving
// the spawn open for further check-ins, so a partial list is banked
// before verification finishes. The eventual close submits the final
// list to the same column again.
func (s *Service) ForceSubmit(ctx context.Context, threadID string) error {
	s.mu.Lock()
	sp, ok := s.spawns[threadID]
	if !ok {
		s.mu.Unlock()
		return ErrThreadNotFound
	}
	if sp.Closed {
		s.mu.Unlock()
		return ErrAlreadyClosed
	}
	sub := ledger.Submission{
		Event:     sp.Event,
		Date:      sp.Date,
		Time:      sp.Time,
		Timestamp: sp.Timestamp,
		Members:   append([]string(nil), sp.Members...),
	}
	s.mu.Unlock()

	if err := s.store.SubmitAttendance(ctx, sub); err != nil {
		inline := fmt.Sprintf("Submitting attendance failed. Members for manual entry: %s",
			strings.Join(sub.Members, ", "))
		if _, serr := s.client.SendMessage(ctx, threadID, inline); serr != nil {
			s.logger.Error("posting fallback member list", "thread", threadID, "error", serr)
		}
		if jerr := s.journal.Log(ctx, journal.KindSubmissionFailed, sub.Event, sub.Timestamp, err.Error()); jerr != nil {
			s.logger.Warn("journal write failed", "error", jerr)
		}
		return fmt.Errorf("submitting attendance for %s %s: %w", sub.Event, sub.Timestamp, err)
	}

	if _, err := s.client.SendMessage(ctx, threadID, fmt.Sprintf("Attendance submitted with %d members. The thread stays open.", len(sub.Members))); err != nil {
		s.logger.Warn("posting submit notice", "thread", threadID, "error", err)
	}
	if err := s.journal.Log(ctx, journal.KindSubmission, sub.Event, sub.Timestamp, fmt.Sprintf("%d members, thread kept open", len(sub.Members))); err != nil {
		s.logger.Warn("journal write failed", "error", err)
	}
	s.logger.Info("attendance force-submitted", "event", sub.Event, "timestamp", sub.Timestamp, "members", len(sub.Members))
	return nil
}

// finalize submits the member list and tears the threads down. On a
// submission failure the spawn is reopened for retry and the member list
// is posted inline so the data survives for manual entry.
func (s *Service) finalize(ctx context.Context, threadID string) error {
	s.mu.Lock()
	sp, ok := s.spawns[threadID]
	if !ok {
		s.mu.Unlock()
		return ErrThreadNotFound
	}
	if sp.Closed {
		s.mu.Unlock()
		return ErrAlreadyClosed
	}
	sp.Closed = true
	sub := ledger.Submission{
		Event:     sp.Event,
		Date:      sp.Date,
		Time:      sp.Time,
		Timestamp: sp.Timestamp,
		Members:   append([]string(nil), sp.Members...),
	}
	confirmID := sp.ConfirmThreadID
	s.mu.Unlock()

	if err := s.store.SubmitAttendance(ctx, sub); err != nil {
		s.mu.Lock()
		if cur, ok := s.spawns[threadID]; ok {
			cur.Closed = false
		}
		s.mu.Unlock()

		// never silently discard member data
		inline := fmt.Sprintf("Submitting attendance failed. Members for manual entry: %s",
			strings.Join(sub.Members, ", "))
		if _, serr := s.client.SendMessage(ctx, threadID, inline); serr != nil {
			s.logger.Error("posting fallback member list", "thread", threadID, "error", serr)
		}
		if jerr := s.journal.Log(ctx, journal.KindSubmissionFailed, sub.Event, sub.Timestamp, err.Error()); jerr != nil {
			s.logger.Warn("journal write failed", "error", jerr)
		}
		return fmt.Errorf("submitting attendance for %s %s: %w", sub.Event, sub.Timestamp, err)
	}

	s.mu.Lock()
	delete(s.spawns, threadID)
	delete(s.columns, columnKey(sub.Event, sub.Timestamp))
	s.dropPendingLocked(threadID)
	s.mu.Unlock()

	if _, err := s.client.SendMessage(ctx, threadID, fmt.Sprintf("Attendance submitted with %d members. Closing.", len(sub.Members))); err != nil {
		s.logger.Warn("posting close notice", "thread", threadID, "error", err)
	}
	if confirmID != "" {
		if err := s.client.DeleteThread(ctx, confirmID); err != nil {
			s.logger.Warn("deleting confirm thread", "thread", confirmID, "error", err)
		}
	}
	if err := s.client.ArchiveThread(ctx, threadID); err != nil {
		s.logger.Warn("archiving closed thread", "thread", threadID, "error", err)
	}
	if err := s.journal.Log(ctx, journal.KindSubmission, sub.Event, sub.Timestamp, fmt.Sprintf("%d members", len(sub.Members))); err != nil {
		s.logger.Warn("journal write failed", "error", err)
	}
	s.logger.Info("spawn closed", "event", sub.Event, "timestamp", sub.Timestamp, "members", len(sub.Members))
	return nil
}

// Sweep force-closes every open spawn at least autoCloseAfter old,
// promoting its pending check-ins first. It returns how many closed and
// is safe to run on a ticker; already-closed spawns are skipped.
func (s *Service) Sweep(ctx context.Context) int {
	now := s.now()

	s.mu.Lock()
	var due []string
	for id, sp := range s.spawns {
		if !sp.Closed && now.Sub(sp.CreatedAt) >= autoCloseAfter {
			due = append(due, id)
		}
	}
	s.mu.Unlock()
	sort.Strings(due)

	closed := 0
	for _, id := range due {
		s.mu.Lock()
		if sp, ok := s.spawns[id]; ok && !sp.Closed {
			s.promotePendingLocked(sp)
		}
		s.mu.Unlock()

		if err := s.finalize(ctx, id); err != nil {
			s.logger.Error("auto-close failed", "thread", id, "error", err)
			continue
		}
		closed++
	}
	return closed
}

// CloseAll verify-alls and finalizes every open spawn in sequence,
// returning the per-spawn outcomes. Spacing between ledger submissions
// comes from the client's own throttle.
func (s *Service) CloseAll(ctx context.Context, adminID string) []CloseResult {
	s.mu.Lock()
	var ids []string
	for id, sp := range s.spawns {
		if !sp.Closed {
			ids = append(ids, id)
		}
	}
	s.mu.Unlock()
	sort.Strings(ids)

	var results []CloseResult
	for _, id := range ids {
		s.mu.Lock()
		sp, ok := s.spawns[id]
		if !ok || sp.Closed {
			s.mu.Unlock()
			continue
		}
		s.promotePendingLocked(sp)
		eventName := sp.Event
		members := len(sp.Members)
		s.mu.Unlock()

		err := s.finalize(ctx, id)
		results = append(results, CloseResult{ThreadID: id, Event: eventName, Members: members, Err: err})
	}
	s.logger.Info("close all finished", "count", len(results), "by", adminID)
	return results
}
