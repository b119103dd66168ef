package attendance

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/elysium-gg/spawnkeeper/internal/chat"
	"github.com/elysium-gg/spawnkeeper/internal/domain/event"
	"github.com/elysium-gg/spawnkeeper/internal/journal"
)

// Config locates the channels the orchestrator works in.
type Config struct {
	GuildID string
	// ChannelID is the public attendance channel spawn threads open under.
	ChannelID string
	// ConfirmChannelID is the admin channel confirmation threads open under.
	ConfirmChannelID   string
	AutoArchiveMinutes int
}

// Service runs the attendance thread lifecycle: open, check-in, verify,
// close, submit. One instance owns all spawn state; every map is guarded
// by mu, and mu is never held across a chat or ledger call.
type Service struct {
	client  chat.Client
	store   ColumnStore
	journal Journal
	catalog *event.Catalog
	cfg     Config
	logger  *slog.Logger
	now     func() time.Time

	mu                   sync.Mutex
	spawns               map[string]*Spawn
	columns              map[string]string
	pendingVerifications map[string]*PendingVerification
	pendingClosures      map[string]*PendingClosure
}

// Option configures a Service.
type Option func(*Service)

// WithNow overrides the time source, for tests.
func WithNow(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates a new attendance service.
func NewService(
	client chat.Client,
	store ColumnStore,
	jrnl Journal,
	catalog *event.Catalog,
	cfg Config,
	logger *slog.Logger,
	opts ...Option,
) *Service {
	if cfg.AutoArchiveMinutes <= 0 {
		cfg.AutoArchiveMinutes = 1440
	}
	s := &Service{
		client:               client,
		store:                store,
		journal:              jrnl,
		catalog:              catalog,
		cfg:                  cfg,
		logger:               logger,
		now:                  time.Now,
		spawns:               make(map[string]*Spawn),
		columns:              make(map[string]string),
		pendingVerifications: make(map[string]*PendingVerification),
		pendingClosures:      make(map[string]*PendingClosure),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// OpenOccurrence opens the attendance thread and paired confirmation
// thread for one occurrence. Column existence is checked against memory
// first, then the remote ledger; a ledger hit returns ErrColumnExists
// while a memory hit returns the existing thread with created=false.
// A crash between registering the column here and the ledger learning of
// it can briefly admit a duplicate after restart; thread-scan recovery
// closes that window on boot.
func (s *Service) OpenOccurrence(ctx context.Context, eventName string, occurrence time.Time, source string) (string, bool, error) {
	def, err := s.catalog.Resolve(eventName)
	if err != nil {
		return "", false, err
	}
	date, clock, stamp := event.Stamp(occurrence)
	key := columnKey(def.Name, stamp)

	s.mu.Lock()
	if id, ok := s.columns[key]; ok {
		s.mu.Unlock()
		return id, false, nil
	}
	s.mu.Unlock()

	exists, err := s.store.CheckColumn(ctx, def.Name, stamp)
	if err != nil {
		// ledger unreachable: the memory cache said free, so proceed and
		// let recovery reconcile later
		s.logger.Warn("column check failed, proceeding", "event", def.Name, "timestamp", stamp, "error", err)
	} else if exists {
		return "", false, fmt.Errorf("%w: %s %s", ErrColumnExists, def.Name, stamp)
	}

	title := threadTitle(def.Name, stamp)
	thread, err := s.client.CreateThread(ctx, s.cfg.ChannelID, title, s.cfg.AutoArchiveMinutes)
	if err != nil {
		return "", false, fmt.Errorf("creating attendance thread: %w", err)
	}

	var confirmID string
	confirm, err := s.client.CreateThread(ctx, s.cfg.ConfirmChannelID, confirmTitle(def.Name, stamp), s.cfg.AutoArchiveMinutes)
	if err != nil {
		s.logger.Error("creating confirmation thread", "event", def.Name, "error", err)
	} else {
		confirmID = confirm.ID
	}

	s.mu.Lock()
	if id, ok := s.columns[key]; ok {
		// lost a race while suspended on the chat calls
		s.mu.Unlock()
		if derr := s.client.DeleteThread(ctx, thread.ID); derr != nil {
			s.logger.Warn("deleting duplicate thread", "thread", thread.ID, "error", derr)
		}
		if confirmID != "" {
			if derr := s.client.DeleteThread(ctx, confirmID); derr != nil {
				s.logger.Warn("deleting duplicate confirm thread", "thread", confirmID, "error", derr)
			}
		}
		return id, false, nil
	}
	sp := &Spawn{
		Event:           def.Name,
		Points:          def.Points,
		Date:            date,
		Time:            clock,
		Timestamp:       stamp,
		ThreadID:        thread.ID,
		ConfirmThreadID: confirmID,
		CreatedAt:       s.now(),
	}
	s.spawns[thread.ID] = sp
	s.columns[key] = thread.ID
	s.mu.Unlock()

	announcement := fmt.Sprintf("%s spawning at %s! Worth %d points. Post a check-in (e.g. \"present\") with a screenshot to be counted.",
		def.Name, clock, def.Points)
	if _, err := s.client.SendMessage(ctx, thread.ID, announcement); err != nil {
		s.logger.Warn("posting spawn announcement", "thread", thread.ID, "error", err)
	}
	if err := s.journal.Log(ctx, journal.KindThreadOpened, def.Name, stamp, "thread "+thread.ID+" via "+source); err != nil {
		s.logger.Warn("journal write failed", "error", err)
	}
	s.logger.Info("attendance thread opened",
		"event", def.Name, "timestamp", stamp, "thread", thread.ID, "source", source)
	return thread.ID, true, nil
}

// CancelOccurrence tears down a mispredicted spawn: the thread is locked
// and archived with a correction notice, the confirmation thread deleted,
// and all state for the occurrence dropped.
func (s *Service) CancelOccurrence(ctx context.Context, threadID, reason string) error {
	s.mu.Lock()
	sp, ok := s.spawns[threadID]
	if !ok {
		s.mu.Unlock()
		return ErrThreadNotFound
	}
	delete(s.spawns, threadID)
	delete(s.columns, columnKey(sp.Event, sp.Timestamp))
	s.dropPendingLocked(threadID)
	s.mu.Unlock()

	if _, err := s.client.SendMessage(ctx, threadID, "This spawn was cancelled: "+reason); err != nil {
		s.logger.Warn("posting cancellation notice", "thread", threadID, "error", err)
	}
	if err := s.client.LockThread(ctx, threadID); err != nil {
		s.logger.Warn("locking cancelled thread", "thread", threadID, "error", err)
	}
	if err := s.client.ArchiveThread(ctx, threadID); err != nil {
		s.logger.Warn("archiving cancelled thread", "thread", threadID, "error", err)
	}
	if sp.ConfirmThreadID != "" {
		if err := s.client.DeleteThread(ctx, sp.ConfirmThreadID); err != nil {
			s.logger.Warn("deleting confirm thread", "thread", sp.ConfirmThreadID, "error", err)
		}
	}
	if err := s.journal.Log(ctx, journal.KindThreadCancelled, sp.Event, sp.Timestamp, reason); err != nil {
		s.logger.Warn("journal write failed", "error", err)
	}
	s.logger.Info("spawn cancelled", "event", sp.Event, "timestamp", sp.Timestamp, "reason", reason)
	return nil
}

// CheckIn records a member's check-in message as pending verification.
// Non-admins must attach a screenshot; admins are fast-tracked past that
// rule but still verified by reaction.
func (s *Service) CheckIn(ctx context.Context, msg chat.Message, isAdmin bool) error {
	s.mu.Lock()
	sp, ok := s.spawns[msg.ChannelID]
	if !ok {
		s.mu.Unlock()
		return ErrThreadNotFound
	}
	if sp.Closed {
		s.mu.Unlock()
		return ErrAlreadyClosed
	}
	if !isAdmin && !msg.HasAttachment {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrScreenshotRequired, msg.AuthorName)
	}
	if memberListed(sp.Members, msg.AuthorName) {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrDuplicateMember, msg.AuthorName)
	}
	confirmID := sp.ConfirmThreadID
	s.pendingVerifications[msg.ID] = &PendingVerification{
		MessageID:   msg.ID,
		ThreadID:    msg.ChannelID,
		Author:      msg.AuthorName,
		AuthorID:    msg.AuthorID,
		SubmittedAt: s.now(),
	}
	s.mu.Unlock()

	for _, emoji := range []string{chat.EmojiApprove, chat.EmojiDeny} {
		if err := s.client.AddReaction(ctx, msg.ChannelID, msg.ID, emoji); err != nil {
			s.logger.Warn("adding verification reaction", "message", msg.ID, "emoji", emoji, "error", err)
		}
	}
	if confirmID != "" {
		notice := fmt.Sprintf("%s checked in. React %s or %s on their message to verify.",
			msg.AuthorName, chat.EmojiApprove, chat.EmojiDeny)
		if _, err := s.client.SendMessage(ctx, confirmID, notice); err != nil {
			s.logger.Warn("notifying confirm thread", "thread", confirmID, "error", err)
		}
	}
	s.logger.Info("check-in pending", "thread", msg.ChannelID, "author", msg.AuthorName)
	return nil
}

// ResolveVerification applies an admin's reaction verdict to a pending
// check-in. Reactions from non-admins are stripped and ignored. The spawn
// is re-checked after every suspension; it may have closed meanwhile.
func (s *Service) ResolveVerification(ctx context.Context, messageID, reactorName, reactorID string, isAdmin, approve bool) error {
	s.mu.Lock()
	pv, ok := s.pendingVerifications[messageID]
	s.mu.Unlock()
	if !ok {
		return ErrNoPendingVerification
	}

	if !isAdmin {
		emoji := chat.EmojiApprove
		if !approve {
			emoji = chat.EmojiDeny
		}
		if err := s.client.RemoveUserReaction(ctx, pv.ThreadID, messageID, reactorID, emoji); err != nil {
			s.logger.Warn("stripping non-admin reaction", "message", messageID, "error", err)
		}
		return nil
	}

	s.mu.Lock()
	pv, ok = s.pendingVerifications[messageID]
	if !ok {
		s.mu.Unlock()
		return ErrNoPendingVerification
	}
	sp, spOK := s.spawns[pv.ThreadID]
	if !spOK || sp.Closed {
		delete(s.pendingVerifications, messageID)
		s.mu.Unlock()
		if !spOK {
			return ErrThreadNotFound
		}
		return ErrAlreadyClosed
	}
	delete(s.pendingVerifications, messageID)

	duplicate := false
	if approve {
		if memberListed(sp.Members, pv.Author) {
			duplicate = true
		} else {
			sp.Members = append(sp.Members, pv.Author)
		}
	}
	confirmID := sp.ConfirmThreadID
	total := len(sp.Members)
	s.mu.Unlock()

	switch {
	case approve && duplicate:
		if err := s.client.RemoveAllReactions(ctx, pv.ThreadID, messageID); err != nil {
			s.logger.Warn("clearing reactions on duplicate", "message", messageID, "error", err)
		}
		if _, err := s.client.SendMessage(ctx, pv.ThreadID, pv.Author+" is already verified."); err != nil {
			s.logger.Warn("posting duplicate notice", "thread", pv.ThreadID, "error", err)
		}
	case approve:
		if _, err := s.client.SendMessage(ctx, pv.ThreadID, pv.Author+verifiedByMarker+reactorName); err != nil {
			s.logger.Warn("posting verification", "thread", pv.ThreadID, "error", err)
		}
		if confirmID != "" {
			notice := fmt.Sprintf("%s%s%s (%d verified)", pv.Author, verifiedByMarker, reactorName, total)
			if _, err := s.client.SendMessage(ctx, confirmID, notice); err != nil {
				s.logger.Warn("notifying confirm thread", "thread", confirmID, "error", err)
			}
		}
	default:
		if err := s.client.DeleteMessage(ctx, pv.ThreadID, messageID); err != nil {
			s.logger.Warn("deleting denied check-in", "message", messageID, "error", err)
		}
		notice := fmt.Sprintf("<@%s> your check-in was denied by %s. Resubmit with a screenshot.", pv.AuthorID, reactorName)
		if _, err := s.client.SendMessage(ctx, pv.ThreadID, notice); err != nil {
			s.logger.Warn("posting denial notice", "thread", pv.ThreadID, "error", err)
		}
	}
	s.logger.Info("verification resolved",
		"thread", pv.ThreadID, "author", pv.Author, "approved", approve, "duplicate", duplicate, "by", reactorName)
	return nil
}

// VerifyMember adds a member directly, bypassing the reaction flow.
func (s *Service) VerifyMember(ctx context.Context, threadID, memberName, adminName string) error {
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
	if memberListed(sp.Members, memberName) {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrDuplicateMember, memberName)
	}
	sp.Members = append(sp.Members, memberName)
	s.mu.Unlock()

	if _, err := s.client.SendMessage(ctx, threadID, memberName+verifiedByMarker+adminName); err != nil {
		s.logger.Warn("posting verification", "thread", threadID, "error", err)
	}
	return nil
}

// VerifyAll promotes every pending check-in for the thread into verified
// members, skipping casefold duplicates. It returns how many were added.
func (s *Service) VerifyAll(ctx context.Context, threadID, adminName string) (int, error) {
	s.mu.Lock()
	sp, ok := s.spawns[threadID]
	if !ok {
		s.mu.Unlock()
		return 0, ErrThreadNotFound
	}
	if sp.Closed {
		s.mu.Unlock()
		return 0, ErrAlreadyClosed
	}
	added := s.promotePendingLocked(sp)
	total := len(sp.Members)
	s.mu.Unlock()

	if added > 0 {
		notice := fmt.Sprintf("%d check-ins verified by %s (%d members total).", added, adminName, total)
		if _, err := s.client.SendMessage(ctx, threadID, notice); err != nil {
			s.logger.Warn("posting verify-all notice", "thread", threadID, "error", err)
		}
	}
	return added, nil
}

// DiscardPending drops every pending check-in for the thread without a
// verdict. It returns how many were discarded.
func (s *Service) DiscardPending(ctx context.Context, threadID string) (int, error) {
	s.mu.Lock()
	if _, ok := s.spawns[threadID]; !ok {
		s.mu.Unlock()
		return 0, ErrThreadNotFound
	}
	dropped := s.dropPendingLocked(threadID)
	s.mu.Unlock()

	if dropped > 0 {
		if _, err := s.client.SendMessage(ctx, threadID, fmt.Sprintf("%d pending check-ins discarded.", dropped)); err != nil {
			s.logger.Warn("posting discard notice", "thread", threadID, "error", err)
		}
	}
	return dropped, nil
}

// ClearState drops every spawn, column claim and pending record from
// memory without touching the threads themselves, returning how many
// spawns were dropped. Used to start over after a bad recovery; a
// rescan rebuilds whatever is still live.
func (s *Service) ClearState(ctx context.Context) int {
	s.mu.Lock()
	dropped := len(s.spawns)
	s.spawns = make(map[string]*Spawn)
	s.columns = make(map[string]string)
	s.pendingVerifications = make(map[string]*PendingVerification)
	s.pendingClosures = make(map[string]*PendingClosure)
	s.mu.Unlock()

	if err := s.journal.Log(ctx, journal.KindThreadCancelled, "", "", fmt.Sprintf("state cleared, %d spawns dropped", dropped)); err != nil {
		s.logger.Warn("journal write failed", "error", err)
	}
	s.logger.Info("attendance state cleared", "spawns", dropped)
	return dropped
}

// promotePendingLocked moves the thread's pending check-ins into the
// member list, skipping duplicates. Caller holds s.mu.
func (s *Service) promotePendingLocked(sp *Spawn) int {
	var ids []string
	for id, pv := range s.pendingVerifications {
		if pv.ThreadID == sp.ThreadID {
			ids = append(ids, id)
		}
	}
	// oldest first so the member order follows submission order
	sort.Slice(ids, func(i, j int) bool {
		return s.pendingVerifications[ids[i]].SubmittedAt.Before(s.pendingVerifications[ids[j]].SubmittedAt)
	})
	added := 0
	for _, id := range ids {
		pv := s.pendingVerifications[id]
		delete(s.pendingVerifications, id)
		if memberListed(sp.Members, pv.Author) {
			continue
		}
		sp.Members = append(sp.Members, pv.Author)
		added++
	}
	return added
}

// dropPendingLocked removes all pending state for a thread. Caller holds s.mu.
func (s *Service) dropPendingLocked(threadID string) int {
	dropped := 0
	for id, pv := range s.pendingVerifications {
		if pv.ThreadID == threadID {
			delete(s.pendingVerifications, id)
			dropped++
		}
	}
	for id, pc := range s.pendingClosures {
		if pc.ThreadID == threadID {
			delete(s.pendingClosures, id)
		}
	}
	return dropped
}

// memberListed reports whether name is already in members, compared
// casefolded.
func memberListed(members []string, name string) bool {
	key := event.Fold(name)
	for _, m := range members {
		if event.Fold(m) == key {
			return true
		}
	}
	return false
}
