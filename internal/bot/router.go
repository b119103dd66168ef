// Package bot routes polled Discord traffic to the domain services:
// check-ins and admin commands to the attendance orchestrator, kill
// reports and notifier feed lines to the spawn scheduler.
package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/elysium-gg/spawnkeeper/internal/chat"
	"github.com/elysium-gg/spawnkeeper/internal/domain/attendance"
	"github.com/elysium-gg/spawnkeeper/internal/domain/event"
	"github.com/elysium-gg/spawnkeeper/internal/domain/scheduler"
)

// Config locates the channels and roles the router works with.
type Config struct {
	GuildID            string
	ChannelID          string
	ConfirmChannelID   string
	AnnounceChannelID  string
	TimerFeedChannelID string
	AdminRoleIDs       []string
	PollInterval       time.Duration
}

// Router turns raw messages and reactions into service calls. Command
// parsing is plain prefix and keyword matching.
type Router struct {
	client     chat.Client
	attendance *attendance.Service
	scheduler  *scheduler.Service
	catalog    *event.Catalog
	cfg        Config
	logger     *slog.Logger
}

// NewRouter creates a new message router.
func NewRouter(
	client chat.Client,
	att *attendance.Service,
	sched *scheduler.Service,
	catalog *event.Catalog,
	cfg Config,
	logger *slog.Logger,
) *Router {
	return &Router{
		client:     client,
		attendance: att,
		scheduler:  sched,
		catalog:    catalog,
		cfg:        cfg,
		logger:     logger,
	}
}

// HandleMessage dispatches one polled message.
func (r *Router) HandleMessage(ctx context.Context, msg chat.Message) {
	if r.cfg.TimerFeedChannelID != "" && msg.ChannelID == r.cfg.TimerFeedChannelID {
		r.handleTimerFeed(ctx, msg)
		return
	}
	if msg.AuthorIsBot {
		return
	}
	content := strings.TrimSpace(msg.Content)
	if content == "" {
		return
	}
	if strings.HasPrefix(content, "!") {
		r.handleCommand(ctx, msg, content)
		return
	}
	if attendance.IsCheckInMessage(content) {
		r.handleCheckIn(ctx, msg)
		return
	}
	if strings.EqualFold(content, "close") {
		r.handleCloseRequest(ctx, msg)
	}
}

// HandleReaction dispatches one polled reaction: verification verdicts on
// check-in messages and confirmations on close prompts.
func (r *Router) HandleReaction(ctx context.Context, re chat.Reaction) {
	var approve bool
	switch re.Emoji {
	case chat.EmojiApprove:
		approve = true
	case chat.EmojiDeny:
		approve = false
	default:
		return
	}
	isAdmin := r.isAdmin(ctx, re.UserID)

	err := r.attendance.ResolveVerification(ctx, re.MessageID, re.UserName, re.UserID, isAdmin, approve)
	if err == nil {
		return
	}
	if !errors.Is(err, attendance.ErrNoPendingVerification) {
		r.logger.Warn("resolving verification", "message", re.MessageID, "error", err)
		return
	}

	if !isAdmin {
		return
	}
	err = r.attendance.ConfirmClose(ctx, re.MessageID, re.UserID, approve)
	switch {
	case err == nil:
	case errors.Is(err, attendance.ErrNoPendingClosure), errors.Is(err, attendance.ErrNotRequester):
	default:
		r.logger.Error("confirming close", "message", re.MessageID, "error", err)
	}
}

func (r *Router) handleCheckIn(ctx context.Context, msg chat.Message) {
	err := r.attendance.CheckIn(ctx, msg, r.isAdmin(ctx, msg.AuthorID))
	switch {
	case err == nil:
	case errors.Is(err, attendance.ErrThreadNotFound):
		// chatter outside a spawn thread
	case errors.Is(err, attendance.ErrScreenshotRequired):
		r.reply(ctx, msg.ChannelID, fmt.Sprintf("<@%s> attach a screenshot to your check-in.", msg.AuthorID))
	case errors.Is(err, attendance.ErrDuplicateMember):
		r.reply(ctx, msg.ChannelID, msg.AuthorName+" is already verified.")
	case errors.Is(err, attendance.ErrAlreadyClosed):
		r.reply(ctx, msg.ChannelID, "This spawn is already closed.")
	default:
		r.logger.Error("recording check-in", "thread", msg.ChannelID, "error", err)
	}
}

func (r *Router) handleCloseRequest(ctx context.Context, msg chat.Message) {
	if !r.isAdmin(ctx, msg.AuthorID) {
		return
	}
	err := r.attendance.RequestClose(ctx, msg.ChannelID, msg.AuthorID)
	var pendErr *attendance.PendingVerificationsError
	switch {
	case err == nil:
	case errors.As(err, &pendErr):
		r.reply(ctx, msg.ChannelID, "Cannot close yet, unresolved check-ins from: "+strings.Join(pendErr.Authors, ", "))
	case errors.Is(err, attendance.ErrThreadNotFound):
	case errors.Is(err, attendance.ErrAlreadyClosed):
		r.reply(ctx, msg.ChannelID, "This spawn is already closed.")
	default:
		r.logger.Error("requesting close", "thread", msg.ChannelID, "error", err)
	}
}

func (r *Router) handleCommand(ctx context.Context, msg chat.Message, content string) {
	fields := strings.Fields(content)
	cmd := strings.ToLower(fields[0])
	arg := strings.TrimSpace(strings.TrimPrefix(content, fields[0]))

	if cmd == "!status" {
		r.reply(ctx, msg.ChannelID, r.statusText())
		return
	}
	if !r.isAdmin(ctx, msg.AuthorID) {
		return
	}

	switch cmd {
	case "!killed":
		def, ok := r.resolveEvent(arg)
		if !ok {
			r.reply(ctx, msg.ChannelID, "Unknown event: "+arg)
			return
		}
		next, err := r.scheduler.RecordReport(ctx, def.Name, msg.CreatedAt, msg.AuthorName)
		if err != nil {
			r.logger.Error("recording kill report", "event", def.Name, "error", err)
			return
		}
		_, _, stamp := event.Stamp(next)
		r.reply(ctx, msg.ChannelID, fmt.Sprintf("%s timer set. Next spawn: %s", def.Name, stamp))

	case "!spawnset":
		parts := strings.Fields(arg)
		if len(parts) < 3 {
			r.reply(ctx, msg.ChannelID, "Usage: !spawnset <event> <M/D/YY HH:MM>")
			return
		}
		stamp := strings.Join(parts[len(parts)-2:], " ")
		name := strings.Join(parts[:len(parts)-2], " ")
		at, err := event.ParseStamp(stamp)
		if err != nil {
			r.reply(ctx, msg.ChannelID, "Bad timestamp, expected M/D/YY HH:MM")
			return
		}
		def, ok := r.resolveEvent(name)
		if !ok {
			r.reply(ctx, msg.ChannelID, "Unknown event: "+name)
			return
		}
		if err := r.scheduler.SetOccurrence(ctx, def.Name, at, msg.AuthorName); err != nil {
			if errors.Is(err, scheduler.ErrPastOccurrence) {
				r.reply(ctx, msg.ChannelID, "That time is in the past.")
				return
			}
			r.logger.Error("setting occurrence", "event", def.Name, "error", err)
			return
		}
		r.reply(ctx, msg.ChannelID, fmt.Sprintf("%s spawn set to %s", def.Name, stamp))

	case "!spawn", "!addthread":
		def, ok := r.resolveEvent(arg)
		if !ok {
			r.reply(ctx, msg.ChannelID, "Unknown event: "+arg)
			return
		}
		threadID, created, err := r.scheduler.ConfirmManualOccurrence(ctx, def.Name, msg.AuthorName)
		switch {
		case err == nil && created:
			r.reply(ctx, msg.ChannelID, fmt.Sprintf("Attendance thread opened for %s: <#%s>", def.Name, threadID))
		case err == nil:
			r.reply(ctx, msg.ChannelID, fmt.Sprintf("%s already has a thread: <#%s>", def.Name, threadID))
		case errors.Is(err, attendance.ErrColumnExists):
			r.reply(ctx, msg.ChannelID, "An attendance column already exists for that occurrence.")
		default:
			r.logger.Error("opening manual occurrence", "event", def.Name, "error", err)
		}

	case "!falsealarm":
		def, ok := r.resolveEvent(arg)
		if !ok {
			r.reply(ctx, msg.ChannelID, "Unknown event: "+arg)
			return
		}
		err := r.scheduler.ReportFalseAlarm(ctx, def.Name, msg.AuthorName)
		switch {
		case err == nil:
			r.reply(ctx, msg.ChannelID, def.Name+" timer cleared.")
		case errors.Is(err, scheduler.ErrNoTimer):
			r.reply(ctx, msg.ChannelID, "No timer armed for "+def.Name+".")
		default:
			r.logger.Error("handling false alarm", "event", def.Name, "error", err)
		}

	case "!resettimers":
		count, err := r.scheduler.BulkReset(ctx, msg.AuthorName)
		if err != nil {
			r.logger.Error("bulk reset", "error", err)
			return
		}
		r.reply(ctx, msg.ChannelID, fmt.Sprintf("%d interval timers reset from now.", count))

	case "!verify":
		if arg == "" {
			r.reply(ctx, msg.ChannelID, "Usage: !verify <member>")
			return
		}
		err := r.attendance.VerifyMember(ctx, msg.ChannelID, arg, msg.AuthorName)
		switch {
		case err == nil:
		case errors.Is(err, attendance.ErrDuplicateMember):
			r.reply(ctx, msg.ChannelID, arg+" is already verified.")
		case errors.Is(err, attendance.ErrThreadNotFound):
			r.reply(ctx, msg.ChannelID, "This is not a spawn thread.")
		default:
			r.logger.Error("manual verify", "thread", msg.ChannelID, "error", err)
		}

	case "!verifyall":
		added, err := r.attendance.VerifyAll(ctx, msg.ChannelID, msg.AuthorName)
		if err != nil {
			r.logger.Warn("verify all", "thread", msg.ChannelID, "error", err)
			return
		}
		if added == 0 {
			r.reply(ctx, msg.ChannelID, "Nothing pending to verify.")
		}

	case "!resetpending":
		if _, err := r.attendance.DiscardPending(ctx, msg.ChannelID); err != nil {
			r.logger.Warn("discarding pending", "thread", msg.ChannelID, "error", err)
		}

	case "!forcesubmit":
		err := r.attendance.ForceSubmit(ctx, msg.ChannelID)
		switch {
		case err == nil:
		case errors.Is(err, attendance.ErrThreadNotFound):
			r.reply(ctx, msg.ChannelID, "This is not a spawn thread.")
		case errors.Is(err, attendance.ErrAlreadyClosed):
			r.reply(ctx, msg.ChannelID, "This spawn is already closed.")
		default:
			r.logger.Error("force submit", "thread", msg.ChannelID, "error", err)
		}

	case "!clearstate":
		if !strings.EqualFold(arg, "confirm") {
			r.reply(ctx, msg.ChannelID, "This wipes every armed timer and open spawn from memory and the ledger. Run !clearstate confirm to proceed.")
			return
		}
		timers, err := r.scheduler.ClearAll(ctx, msg.AuthorName)
		if err != nil {
			r.logger.Error("clearing timer state", "error", err)
		}
		spawns := r.attendance.ClearState(ctx)
		r.reply(ctx, msg.ChannelID, fmt.Sprintf("State cleared: %d timers and %d open spawns dropped.", timers, spawns))

	case "!forceclose":
		if err := r.attendance.ForceClose(ctx, msg.ChannelID, msg.AuthorID); err != nil {
			r.logger.Error("force close", "thread", msg.ChannelID, "error", err)
			r.reply(ctx, msg.ChannelID, "Close failed, see the thread for the member list.")
		}

	case "!closeall":
		results := r.attendance.CloseAll(ctx, msg.AuthorID)
		var b strings.Builder
		fmt.Fprintf(&b, "Closed %d spawns:", len(results))
		for _, res := range results {
			if res.Err != nil {
				fmt.Fprintf(&b, "\n%s: failed (%v)", res.Event, res.Err)
				continue
			}
			fmt.Fprintf(&b, "\n%s: %d members", res.Event, res.Members)
		}
		r.reply(ctx, msg.ChannelID, b.String())
	}
}

func (r *Router) handleTimerFeed(ctx context.Context, msg chat.Message) {
	name, at, ok := ParseTimerFeed(msg.Content)
	if !ok {
		return
	}
	def, ok := r.resolveEvent(name)
	if !ok {
		r.logger.Warn("notifier feed names unknown event", "name", name)
		return
	}
	_, created, err := r.scheduler.HandleExternalNotice(ctx, def.Name, at)
	switch {
	case err == nil:
		if created {
			r.logger.Info("thread opened from notifier feed", "event", def.Name)
		}
	case errors.Is(err, attendance.ErrColumnExists):
		r.logger.Info("notifier feed occurrence already recorded", "event", def.Name)
	default:
		r.logger.Error("handling notifier feed", "event", def.Name, "error", err)
	}
}

// resolveEvent resolves a name via the catalogue, tolerating small typos:
// exact and alias matches first, then the closest name within edit
// distance bounds.
func (r *Router) resolveEvent(name string) (event.Def, bool) {
	name = strings.TrimSpace(name)
	if name == "" {
		return event.Def{}, false
	}
	if def, err := r.catalog.Resolve(name); err == nil {
		return def, true
	}

	folded := event.Fold(name)
	best := ""
	bestDist := len(folded) + 1
	for _, cand := range r.catalog.Names() {
		d := levenshtein(folded, event.Fold(cand))
		if d < bestDist {
			bestDist = d
			best = cand
		}
	}
	limit := 0
	switch {
	case len(folded) >= 5:
		limit = 2
	case len(folded) >= 3:
		limit = 1
	}
	if best == "" || bestDist > limit {
		return event.Def{}, false
	}
	def, err := r.catalog.Resolve(best)
	return def, err == nil
}

func (r *Router) isAdmin(ctx context.Context, userID string) bool {
	member, err := r.client.FetchMember(ctx, r.cfg.GuildID, userID)
	if err != nil {
		r.logger.Warn("fetching member for admin check", "user", userID, "error", err)
		return false
	}
	for _, role := range member.RoleIDs {
		for _, admin := range r.cfg.AdminRoleIDs {
			if role == admin {
				return true
			}
		}
	}
	return false
}

func (r *Router) reply(ctx context.Context, channelID, content string) {
	if _, err := r.client.SendMessage(ctx, channelID, content); err != nil {
		r.logger.Warn("sending reply", "channel", channelID, "error", err)
	}
}

func (r *Router) statusText() string {
	var b strings.Builder
	schedSt := r.scheduler.Status()
	attSt := r.attendance.Status()

	b.WriteString("Armed timers:")
	if len(schedSt.Timers) == 0 {
		b.WriteString(" none")
	}
	for _, ts := range schedSt.Timers {
		_, _, stamp := event.Stamp(ts.NextOccurrence)
		fmt.Fprintf(&b, "\n%s at %s", ts.Event, stamp)
		if ts.ReportedBy != "" {
			fmt.Fprintf(&b, " (by %s)", ts.ReportedBy)
		}
	}
	b.WriteString("\nOpen spawns:")
	if len(attSt.Spawns) == 0 {
		b.WriteString(" none")
	}
	for _, sp := range attSt.Spawns {
		fmt.Fprintf(&b, "\n[%s] %s: %d verified, %d pending", sp.Timestamp, sp.Event, sp.Members, sp.Pending)
	}
	return b.String()
}

// levenshtein is a plain two-row edit distance over bytes; catalogue
// names are ASCII.
func levenshtein(a, b string) int {
	if a == b {
		return 0
	}
	prev := make([]int, len(b)+1)
	cur := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(a); i++ {
		cur[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			cur[j] = min(prev[j]+1, min(cur[j-1]+1, prev[j-1]+cost))
		}
		prev, cur = cur, prev
	}
	return prev[len(b)]
}
