package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/elysium-gg/spawnkeeper/internal/domain/event"
	"github.com/elysium-gg/spawnkeeper/internal/journal"
	"github.com/elysium-gg/spawnkeeper/internal/ledger"
	"github.com/elysium-gg/spawnkeeper/internal/timerq"
)

// Service predicts spawn occurrences, fires reminders five minutes out and
// keeps answer-once dedup state for recently handled occurrences.
type Service struct {
	catalog  *event.Catalog
	timers   *timerq.Queue
	orch     Orchestrator
	announce Announcer
	store    RecoveryStore
	journal  Journal
	logger   *slog.Logger
	now      func() time.Time

	mu     sync.Mutex
	armed  map[string]*armedTimer
	recent map[string]*handledEntry
}

// Option configures a Service.
type Option func(*Service)

// WithNow overrides the time source, for tests.
func WithNow(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates a new scheduler service.
func NewService(
	catalog *event.Catalog,
	timers *timerq.Queue,
	orch Orchestrator,
	announce Announcer,
	store RecoveryStore,
	jrnl Journal,
	logger *slog.Logger,
	opts ...Option,
) *Service {
	s := &Service{
		catalog:  catalog,
		timers:   timers,
		orch:     orch,
		announce: announce,
		store:    store,
		journal:  jrnl,
		logger:   logger,
		now:      time.Now,
		armed:    make(map[string]*armedTimer),
		recent:   make(map[string]*handledEntry),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RecordReport records a kill report and arms the timer for the next
// occurrence. Interval events recur a fixed duration after the report;
// schedule events take their next weekly slot. Re-reporting the same event
// replaces the previous prediction. A next occurrence already in the past
// is not armed; there is no catch-up.
func (s *Service) RecordReport(ctx context.Context, name string, reportedAt time.Time, reporter string) (time.Time, error) {
	def, err := s.catalog.Resolve(name)
	if err != nil {
		return time.Time{}, err
	}

	var next time.Time
	if def.IntervalBased() {
		next = reportedAt.Add(def.Interval)
	} else {
		next = def.NextSlot(s.now())
	}

	s.mu.Lock()
	armed := s.armLocked(def, next, &reportedAt, reporter)
	s.mu.Unlock()

	_, _, stamp := event.Stamp(next)
	if !armed {
		s.logger.Warn("reported occurrence already past, not arming",
			"event", def.Name, "next", stamp, "reporter", reporter)
		return next, nil
	}

	s.persistTimer(ctx, def.Name, next, reporter, &reportedAt)
	s.logger.Info("spawn timer armed", "event", def.Name, "next", stamp, "reporter", reporter)
	return next, nil
}

// SetOccurrence overrides the predicted next occurrence directly,
// bypassing the interval math. Used for manual corrections.
func (s *Service) SetOccurrence(ctx context.Context, name string, at time.Time, setter string) error {
	def, err := s.catalog.Resolve(name)
	if err != nil {
		return err
	}
	if !at.After(s.now()) {
		_, _, stamp := event.Stamp(at)
		return fmt.Errorf("%w: %s", ErrPastOccurrence, stamp)
	}

	s.mu.Lock()
	s.armLocked(def, at, nil, setter)
	s.mu.Unlock()

	s.persistTimer(ctx, def.Name, at, setter, nil)
	_, _, stamp := event.Stamp(at)
	s.logger.Info("spawn timer set", "event", def.Name, "next", stamp, "setter", setter)
	return nil
}

// ReportFalseAlarm cancels a mispredicted occurrence: the armed timer is
// disarmed, its recovery record deleted, and any thread already opened for
// the occurrence is cancelled through the orchestrator. The dedup entry is
// kept so the external notifier repeating the bad prediction does not
// reopen a thread.
func (s *Service) ReportFalseAlarm(ctx context.Context, name, reporter string) error {
	def, err := s.catalog.Resolve(name)
	if err != nil {
		return err
	}
	key := event.Fold(def.Name)

	s.mu.Lock()
	entry, hadTimer := s.armed[key]
	if hadTimer {
		s.timers.Cancel(entry.token)
		delete(s.armed, key)
	}
	var threadID string
	if rec, ok := s.recent[key]; ok {
		threadID = rec.threadID
	} else if !hadTimer {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNoTimer, def.Name)
	}
	s.mu.Unlock()

	if err := s.store.DeleteTimerRecovery(ctx, def.Name); err != nil {
		s.logger.Warn("deleting recovery record", "event", def.Name, "error", err)
	}
	if threadID != "" {
		if err := s.orch.CancelOccurrence(ctx, threadID, "false alarm reported by "+reporter); err != nil {
			s.logger.Error("cancelling occurrence thread", "event", def.Name, "thread", threadID, "error", err)
		}
	}
	if err := s.announce.FalseAlarmNotice(ctx, def.Name, reporter); err != nil {
		s.logger.Warn("false alarm notice failed", "event", def.Name, "error", err)
	}
	if err := s.journal.Log(ctx, journal.KindTimerCancelled, def.Name, "", "false alarm by "+reporter); err != nil {
		s.logger.Warn("journal write failed", "error", err)
	}
	s.logger.Info("false alarm handled", "event", def.Name, "reporter", reporter, "thread", threadID)
	return nil
}

// ConfirmManualOccurrence handles a spawn confirmed by a human right now.
// It is idempotent inside the dedup window: a recently handled occurrence
// returns the existing thread instead of opening another.
func (s *Service) ConfirmManualOccurrence(ctx context.Context, name, reporter string) (threadID string, created bool, err error) {
	def, err := s.catalog.Resolve(name)
	if err != nil {
		return "", false, err
	}
	key := event.Fold(def.Name)

	s.mu.Lock()
	if rec, ok := s.recent[key]; ok {
		s.mu.Unlock()
		return rec.threadID, false, nil
	}
	s.mu.Unlock()

	occurrence := s.now().In(event.GuildZone).Truncate(time.Minute)
	threadID, created, err = s.orch.OpenOccurrence(ctx, def.Name, occurrence, reporter)
	if err != nil {
		return "", false, err
	}
	s.registerRecent(def.Name, occurrence, threadID)
	return threadID, created, nil
}

// HandleExternalNotice processes a spawn notice from the independent
// notifier feed. It is idempotent inside the dedup window, and it disarms
// our own reminder when it predicts a nearby occurrence so the notice does
// not race it into a second thread.
func (s *Service) HandleExternalNotice(ctx context.Context, name string, occurrence time.Time) (threadID string, created bool, err error) {
	def, err := s.catalog.Resolve(name)
	if err != nil {
		return "", false, err
	}
	key := event.Fold(def.Name)

	s.mu.Lock()
	if rec, ok := s.recent[key]; ok {
		s.mu.Unlock()
		return rec.threadID, false, nil
	}
	disarmed := false
	if e, ok := s.armed[key]; ok {
		diff := e.nextOccurrence.Sub(occurrence)
		if diff < 0 {
			diff = -diff
		}
		if diff <= dedupTTL {
			s.timers.Cancel(e.token)
			delete(s.armed, key)
			disarmed = true
		}
	}
	s.mu.Unlock()

	threadID, created, err = s.orch.OpenOccurrence(ctx, def.Name, occurrence, "notifier")
	if err != nil {
		return "", false, err
	}
	s.registerRecent(def.Name, occurrence, threadID)
	if disarmed {
		if derr := s.store.DeleteTimerRecovery(ctx, def.Name); derr != nil {
			s.logger.Warn("deleting recovery record", "event", def.Name, "error", derr)
		}
	}
	return threadID, created, nil
}

// BulkReset cancels every interval-based timer and re-arms all of them at
// now + interval, persisting the whole batch in a single remote call.
// Schedule-based timers are untouched; their slots do not move.
func (s *Service) BulkReset(ctx context.Context, requestedBy string) (int, error) {
	now := s.now()
	var recs []ledger.RecoveryRecord

	s.mu.Lock()
	for _, def := range s.catalog.IntervalDefs() {
		next := now.Add(def.Interval)
		s.armLocked(def, next, nil, requestedBy)
		recs = append(recs, ledger.RecoveryRecord{
			Event:          def.Name,
			NextOccurrence: next,
			ReportedBy:     requestedBy,
		})
	}
	s.mu.Unlock()

	if err := s.store.BulkSaveTimerRecovery(ctx, recs); err != nil {
		s.logger.Warn("persisting bulk reset", "count", len(recs), "error", err)
	}
	if err := s.journal.Log(ctx, journal.KindTimerReset, "", "", fmt.Sprintf("%d timers reset by %s", len(recs), requestedBy)); err != nil {
		s.logger.Warn("journal write failed", "error", err)
	}
	s.logger.Info("bulk timer reset", "count", len(recs), "requested_by", requestedBy)
	return len(recs), nil
}

// ClearAll cancels every armed timer and dedup entry and wipes the
// persisted recovery records, returning how many timers were dropped.
// Used to start over after a bad recovery.
func (s *Service) ClearAll(ctx context.Context, requestedBy string) (int, error) {
	s.mu.Lock()
	cleared := len(s.armed)
	for key, e := range s.armed {
		s.timers.Cancel(e.token)
		delete(s.armed, key)
	}
	for key, h := range s.recent {
		s.timers.Cancel(h.expiryToken)
		delete(s.recent, key)
	}
	s.mu.Unlock()

	if err := s.store.ClearTimerRecovery(ctx); err != nil {
		return cleared, fmt.Errorf("clearing recovery records: %w", err)
	}
	if err := s.journal.Log(ctx, journal.KindTimerReset, "", "", fmt.Sprintf("%d timers cleared by %s", cleared, requestedBy)); err != nil {
		s.logger.Warn("journal write failed", "error", err)
	}
	s.logger.Info("timer state cleared", "count", cleared, "requested_by", requestedBy)
	return cleared, nil
}

// Recover rebuilds in-memory timers after a restart. Persisted interval
// records with a past occurrence are dropped; future ones are re-armed
// with their remaining delay. Schedule-based events ignore persisted state
// and are always recomputed fresh from the catalogue.
func (s *Service) Recover(ctx context.Context) error {
	recs, err := s.store.GetTimerRecovery(ctx)
	if err != nil {
		return fmt.Errorf("loading recovery records: %w", err)
	}
	now := s.now()

	restored := 0
	for _, rec := range recs {
		def, err := s.catalog.Resolve(rec.Event)
		if err != nil {
			s.logger.Warn("recovery record for unknown event", "event", rec.Event)
			continue
		}
		if !def.IntervalBased() {
			continue
		}
		if !rec.NextOccurrence.After(now) {
			if err := s.store.DeleteTimerRecovery(ctx, def.Name); err != nil {
				s.logger.Warn("deleting stale recovery record", "event", def.Name, "error", err)
			}
			continue
		}

		s.mu.Lock()
		s.armLocked(def, rec.NextOccurrence, rec.LastReportAt, rec.ReportedBy)
		s.mu.Unlock()
		restored++

		_, _, stamp := event.Stamp(rec.NextOccurrence)
		if err := s.journal.Log(ctx, journal.KindTimerRecovered, def.Name, stamp, "reported by "+rec.ReportedBy); err != nil {
			s.logger.Warn("journal write failed", "error", err)
		}
	}

	for _, def := range s.catalog.ScheduleDefs() {
		s.mu.Lock()
		s.armLocked(def, def.NextSlot(now), nil, "schedule")
		s.mu.Unlock()
	}

	s.logger.Info("timer recovery complete",
		"persisted", len(recs), "restored", restored, "scheduled", len(s.catalog.ScheduleDefs()))
	return nil
}

// Status returns a snapshot of armed timers and dedup entries, sorted by
// event name.
func (s *Service) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	var st Status
	for _, e := range s.armed {
		st.Timers = append(st.Timers, TimerStatus{
			Event:          e.def.Name,
			NextOccurrence: e.nextOccurrence,
			ReportedBy:     e.reportedBy,
			LastReportAt:   e.lastReportAt,
		})
	}
	for _, h := range s.recent {
		st.RecentlyHandled = append(st.RecentlyHandled, HandledStatus{
			Event:      h.eventName,
			Occurrence: h.occurrence,
			ThreadID:   h.threadID,
			HandledAt:  h.handledAt,
		})
	}
	sort.Slice(st.Timers, func(i, j int) bool { return st.Timers[i].Event < st.Timers[j].Event })
	sort.Slice(st.RecentlyHandled, func(i, j int) bool {
		return st.RecentlyHandled[i].Event < st.RecentlyHandled[j].Event
	})
	return st
}

// armLocked replaces any existing timer for the def and schedules the
// reminder at next − reminderLead, clamped to now when the lead point has
// already passed but the occurrence has not. It reports whether a timer
// was armed; a next occurrence in the past disarms the event entirely.
// Caller holds s.mu.
func (s *Service) armLocked(def event.Def, next time.Time, lastReport *time.Time, reportedBy string) bool {
	key := event.Fold(def.Name)
	if prev, ok := s.armed[key]; ok {
		s.timers.Cancel(prev.token)
		delete(s.armed, key)
	}

	now := s.now()
	if !next.After(now) {
		return false
	}
	remindAt := next.Add(-reminderLead)
	if remindAt.Before(now) {
		remindAt = now
	}

	e := &armedTimer{def: def, nextOccurrence: next, lastReportAt: lastReport, reportedBy: reportedBy}
	e.token = s.timers.Schedule(remindAt, func() { s.fireReminder(def, next) })
	s.armed[key] = e
	return true
}

// fireReminder runs on the timer queue goroutine when a prediction comes
// due. It opens the attendance thread, announces, clears the recovery
// record and registers the dedup entry. Schedule-based events re-arm for
// their following slot.
func (s *Service) fireReminder(def event.Def, occurrence time.Time) {
	ctx := context.Background()
	key := event.Fold(def.Name)

	s.mu.Lock()
	if e, ok := s.armed[key]; ok && e.nextOccurrence.Equal(occurrence) {
		delete(s.armed, key)
	}
	s.mu.Unlock()

	_, _, stamp := event.Stamp(occurrence)
	threadID, created, err := s.orch.OpenOccurrence(ctx, def.Name, occurrence, "timer")
	if err != nil {
		s.logger.Error("opening occurrence thread", "event", def.Name, "occurrence", stamp, "error", err)
	}
	if threadID != "" {
		s.registerRecent(def.Name, occurrence, threadID)
	}
	if created {
		if err := s.announce.SpawnReminder(ctx, def.Name, def.Points, occurrence, threadID); err != nil {
			s.logger.Warn("spawn reminder announcement failed", "event", def.Name, "error", err)
		}
	}
	if err := s.store.DeleteTimerRecovery(ctx, def.Name); err != nil {
		s.logger.Warn("deleting recovery record", "event", def.Name, "error", err)
	}

	if !def.IntervalBased() {
		s.mu.Lock()
		s.armLocked(def, def.NextSlot(occurrence), nil, "schedule")
		s.mu.Unlock()
	}
}

// registerRecent marks an occurrence as handled for dedupTTL, replacing
// any previous entry for the event.
func (s *Service) registerRecent(eventName string, occurrence time.Time, threadID string) {
	key := event.Fold(eventName)

	s.mu.Lock()
	defer s.mu.Unlock()

	if prev, ok := s.recent[key]; ok {
		s.timers.Cancel(prev.expiryToken)
	}
	h := &handledEntry{eventName: eventName, occurrence: occurrence, threadID: threadID, handledAt: s.now()}
	h.expiryToken = s.timers.Schedule(s.now().Add(dedupTTL), func() {
		s.mu.Lock()
		if cur, ok := s.recent[key]; ok && cur == h {
			delete(s.recent, key)
		}
		s.mu.Unlock()
	})
	s.recent[key] = h
}

// persistTimer saves one recovery record, logging but not propagating
// failure. The in-memory timer stays armed either way.
func (s *Service) persistTimer(ctx context.Context, eventName string, next time.Time, reportedBy string, lastReport *time.Time) {
	rec := ledger.RecoveryRecord{
		Event:          eventName,
		NextOccurrence: next,
		ReportedBy:     reportedBy,
		LastReportAt:   lastReport,
	}
	if err := s.store.SaveTimerRecovery(ctx, rec); err != nil {
		s.logger.Warn("persisting timer recovery", "event", eventName, "error", err)
		return
	}
	_, _, stamp := event.Stamp(next)
	if err := s.journal.Log(ctx, journal.KindTimerSaved, eventName, stamp, "reported by "+reportedBy); err != nil {
		s.logger.Warn("journal write failed", "error", err)
	}
}
