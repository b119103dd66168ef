package attendance

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/elysium-gg/spawnkeeper/internal/chat"
	"github.com/elysium-gg/spawnkeeper/internal/domain/event"
	"github.com/elysium-gg/spawnkeeper/internal/ledger"
	"github.com/elysium-gg/spawnkeeper/internal/mocks"
)

var testBase = time.Date(2026, 3, 14, 10, 0, 0, 0, event.GuildZone)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

type fixture struct {
	svc     *Service
	client  *mocks.ChatClient
	store   *mocks.Ledger
	journal *mocks.Journal
	clock   *fakeClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cat, err := event.NewCatalog([]event.Def{
		{Name: "Baium", Points: 50, Interval: 9 * time.Hour},
		{Name: "Zaken", Points: 30, Interval: 12 * time.Hour},
	})
	require.NoError(t, err)

	f := &fixture{
		client:  &mocks.ChatClient{},
		store:   &mocks.Ledger{},
		journal: &mocks.Journal{},
		clock:   &fakeClock{now: testBase},
	}
	f.journal.On("Log", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil).Maybe()

	// routine chat side effects are allowed everywhere; tests assert on
	// the ones that matter with AssertCalled
	f.client.On("SendMessage", mock.Anything, mock.Anything, mock.Anything).Return("m-x", nil).Maybe()
	f.client.On("AddReaction", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil).Maybe()
	f.client.On("RemoveUserReaction", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil).Maybe()
	f.client.On("RemoveAllReactions", mock.Anything, mock.Anything, mock.Anything).Return(nil).Maybe()
	f.client.On("ArchiveThread", mock.Anything, mock.Anything).Return(nil).Maybe()
	f.client.On("LockThread", mock.Anything, mock.Anything).Return(nil).Maybe()
	f.client.On("DeleteThread", mock.Anything, mock.Anything).Return(nil).Maybe()
	f.client.On("DeleteMessage", mock.Anything, mock.Anything, mock.Anything).Return(nil).Maybe()

	cfg := Config{GuildID: "g-1", ChannelID: "chan", ConfirmChannelID: "admin", AutoArchiveMinutes: 1440}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f.svc = NewService(f.client, f.store, f.journal, cat, cfg, logger, WithNow(f.clock.Now))
	return f
}

// openSpawn opens a Baium spawn at testBase+9h and returns its thread id.
func (f *fixture) openSpawn(t *testing.T) string {
	t.Helper()
	occ := testBase.Add(9 * time.Hour)
	f.store.On("CheckColumn", mock.Anything, "Baium", "3/14/26 19:00").Return(false, nil).Once()
	f.client.On("CreateThread", mock.Anything, "chan", "[3/14/26 19:00] Baium", 1440).
		Return(chat.ThreadRef{ID: "thr-1"}, nil).Once()
	f.client.On("CreateThread", mock.Anything, "admin", chat.EmojiApprove+" [3/14/26 19:00] Baium", 1440).
		Return(chat.ThreadRef{ID: "cnf-1"}, nil).Once()

	threadID, created, err := f.svc.OpenOccurrence(context.Background(), "Baium", occ, "timer")
	require.NoError(t, err)
	require.True(t, created)
	require.Equal(t, "thr-1", threadID)
	return threadID
}

func checkInMsg(id, author, authorID string, attachment bool) chat.Message {
	return chat.Message{
		ID: id, ChannelID: "thr-1", AuthorID: authorID, AuthorName: author,
		Content: "present", HasAttachment: attachment, CreatedAt: testBase,
	}
}

func TestOpenOccurrence_SecondCallReturnsExistingThread(t *testing.T) {
	f := newFixture(t)
	f.openSpawn(t)

	threadID, created, err := f.svc.OpenOccurrence(context.Background(), "Baium", testBase.Add(9*time.Hour), "timer")
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, "thr-1", threadID)
	// the memory cache answers; the ledger is only asked once
	f.store.AssertNumberOfCalls(t, "CheckColumn", 1)
}

func TestOpenOccurrence_LedgerConflict(t *testing.T) {
	f := newFixture(t)
	f.store.On("CheckColumn", mock.Anything, "Baium", mock.Anything).Return(true, nil).Once()

	_, _, err := f.svc.OpenOccurrence(context.Background(), "Baium", testBase.Add(9*time.Hour), "timer")
	require.ErrorIs(t, err, ErrColumnExists)
	f.client.AssertNotCalled(t, "CreateThread", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	require.Empty(t, f.svc.Status().Spawns)
}

func TestOpenOccurrence_UnknownEvent(t *testing.T) {
	f := newFixture(t)
	_, _, err := f.svc.OpenOccurrence(context.Background(), "antharas", testBase, "timer")
	require.ErrorIs(t, err, event.ErrUnknownEvent)
}

func TestCheckIn_RecordsPendingAndReacts(t *testing.T) {
	f := newFixture(t)
	f.openSpawn(t)

	require.NoError(t, f.svc.CheckIn(context.Background(), checkInMsg("m-1", "kael", "u-1", true), false))

	tracked := f.svc.TrackedMessages()
	require.Len(t, tracked, 1)
	require.Equal(t, TrackedVerification, tracked[0].Kind)
	require.Equal(t, "m-1", tracked[0].MessageID)
	f.client.AssertCalled(t, "AddReaction", mock.Anything, "thr-1", "m-1", chat.EmojiApprove)
	f.client.AssertCalled(t, "AddReaction", mock.Anything, "thr-1", "m-1", chat.EmojiDeny)
	f.client.AssertCalled(t, "SendMessage", mock.Anything, "cnf-1", mock.Anything)
}

func TestCheckIn_ScreenshotRule(t *testing.T) {
	f := newFixture(t)
	f.openSpawn(t)

	err := f.svc.CheckIn(context.Background(), checkInMsg("m-1", "kael", "u-1", false), false)
	require.ErrorIs(t, err, ErrScreenshotRequired)

	// admins are exempt
	require.NoError(t, f.svc.CheckIn(context.Background(), checkInMsg("m-2", "gm", "u-9", false), true))
}

func TestCheckIn_ClosedOrUnknownThread(t *testing.T) {
	f := newFixture(t)
	err := f.svc.CheckIn(context.Background(), checkInMsg("m-1", "kael", "u-1", true), false)
	require.ErrorIs(t, err, ErrThreadNotFound)
}

func TestResolveVerification_NonAdminStripped(t *testing.T) {
	f := newFixture(t)
	f.openSpawn(t)
	require.NoError(t, f.svc.CheckIn(context.Background(), checkInMsg("m-1", "kael", "u-1", true), false))

	require.NoError(t, f.svc.ResolveVerification(context.Background(), "m-1", "rando", "u-7", false, true))

	f.client.AssertCalled(t, "RemoveUserReaction", mock.Anything, "thr-1", "m-1", "u-7", chat.EmojiApprove)
	require.Len(t, f.svc.TrackedMessages(), 1, "pending survives a stripped reaction")
	require.Equal(t, 0, f.svc.Status().Spawns[0].Members)
}

func TestResolveVerification_Approve(t *testing.T) {
	f := newFixture(t)
	f.openSpawn(t)
	require.NoError(t, f.svc.CheckIn(context.Background(), checkInMsg("m-1", "kael", "u-1", true), false))

	require.NoError(t, f.svc.ResolveVerification(context.Background(), "m-1", "gm", "u-9", true, true))

	st := f.svc.Status()
	require.Equal(t, 1, st.Spawns[0].Members)
	require.Empty(t, f.svc.TrackedMessages())
	f.client.AssertCalled(t, "SendMessage", mock.Anything, "thr-1", "kael"+verifiedByMarker+"gm")
}

func TestResolveVerification_ApproveDuplicateIsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.openSpawn(t)
	require.NoError(t, f.svc.CheckIn(context.Background(), checkInMsg("m-2", "KAEL", "u-1", true), true))
	// the member gets verified manually while the check-in is still pending
	require.NoError(t, f.svc.VerifyMember(context.Background(), "thr-1", "Kael", "gm"))

	require.NoError(t, f.svc.ResolveVerification(context.Background(), "m-2", "gm", "u-9", true, true))

	require.Equal(t, 1, f.svc.Status().Spawns[0].Members)
	f.client.AssertCalled(t, "RemoveAllReactions", mock.Anything, "thr-1", "m-2")
}

func TestResolveVerification_DenyDeletesMessage(t *testing.T) {
	f := newFixture(t)
	f.openSpawn(t)
	require.NoError(t, f.svc.CheckIn(context.Background(), checkInMsg("m-1", "kael", "u-1", true), false))

	require.NoError(t, f.svc.ResolveVerification(context.Background(), "m-1", "gm", "u-9", true, false))

	require.Equal(t, 0, f.svc.Status().Spawns[0].Members)
	require.Empty(t, f.svc.TrackedMessages())
	f.client.AssertCalled(t, "DeleteMessage", mock.Anything, "thr-1", "m-1")
}

func TestResolveVerification_UnknownMessage(t *testing.T) {
	f := newFixture(t)
	err := f.svc.ResolveVerification(context.Background(), "m-404", "gm", "u-9", true, true)
	require.ErrorIs(t, err, ErrNoPendingVerification)
}

func TestCheckIn_DuplicateOfVerifiedMember(t *testing.T) {
	f := newFixture(t)
	f.openSpawn(t)
	require.NoError(t, f.svc.VerifyMember(context.Background(), "thr-1", "kael", "gm"))

	err := f.svc.CheckIn(context.Background(), checkInMsg("m-2", "Kael", "u-1", true), false)
	require.ErrorIs(t, err, ErrDuplicateMember)
}

func TestVerifyAll_PromotesAndDeduplicates(t *testing.T) {
	f := newFixture(t)
	f.openSpawn(t)
	require.NoError(t, f.svc.VerifyMember(context.Background(), "thr-1", "kael", "gm"))
	require.NoError(t, f.svc.CheckIn(context.Background(), checkInMsg("m-1", "KAEL", "u-1", true), true))
	require.NoError(t, f.svc.CheckIn(context.Background(), checkInMsg("m-2", "mira", "u-2", true), true))

	added, err := f.svc.VerifyAll(context.Background(), "thr-1", "gm")
	require.NoError(t, err)
	require.Equal(t, 1, added, "the casefold duplicate is skipped")
	require.Equal(t, 2, f.svc.Status().Spawns[0].Members)
	require.Empty(t, f.svc.TrackedMessages())
}

func TestDiscardPending(t *testing.T) {
	f := newFixture(t)
	f.openSpawn(t)
	require.NoError(t, f.svc.CheckIn(context.Background(), checkInMsg("m-1", "kael", "u-1", true), false))

	dropped, err := f.svc.DiscardPending(context.Background(), "thr-1")
	require.NoError(t, err)
	require.Equal(t, 1, dropped)
	require.Empty(t, f.svc.TrackedMessages())
	require.Equal(t, 0, f.svc.Status().Spawns[0].Members)
}

func TestRequestClose_BlockedByPending(t *testing.T) {
	f := newFixture(t)
	f.openSpawn(t)
	require.NoError(t, f.svc.CheckIn(context.Background(), checkInMsg("m-1", "kael", "u-1", true), false))

	err := f.svc.RequestClose(context.Background(), "thr-1", "u-9")
	require.ErrorIs(t, err, ErrPendingVerifications)

	var pendErr *PendingVerificationsError
	require.ErrorAs(t, err, &pendErr)
	require.Equal(t, []string{"kael"}, pendErr.Authors)
}

func TestCloseFlow_RequesterConfirms(t *testing.T) {
	f := newFixture(t)
	f.openSpawn(t)
	require.NoError(t, f.svc.VerifyMember(context.Background(), "thr-1", "kael", "gm"))

	require.NoError(t, f.svc.RequestClose(context.Background(), "thr-1", "u-9"))
	tracked := f.svc.TrackedMessages()
	require.Len(t, tracked, 1)
	require.Equal(t, TrackedClosure, tracked[0].Kind)
	promptID := tracked[0].MessageID

	// someone else's reaction does not consume the prompt
	err := f.svc.ConfirmClose(context.Background(), promptID, "u-2", true)
	require.ErrorIs(t, err, ErrNotRequester)
	require.Len(t, f.svc.TrackedMessages(), 1)

	f.store.On("SubmitAttendance", mock.Anything, mock.MatchedBy(func(sub ledger.Submission) bool {
		return sub.Event == "Baium" && sub.Timestamp == "3/14/26 19:00" &&
			len(sub.Members) == 1 && sub.Members[0] == "kael"
	})).Return(nil).Once()

	require.NoError(t, f.svc.ConfirmClose(context.Background(), promptID, "u-9", true))

	require.Empty(t, f.svc.Status().Spawns)
	f.client.AssertCalled(t, "ArchiveThread", mock.Anything, "thr-1")
	f.client.AssertCalled(t, "DeleteThread", mock.Anything, "cnf-1")
	f.store.AssertExpectations(t)
}

func TestCloseFlow_Denied(t *testing.T) {
	f := newFixture(t)
	f.openSpawn(t)
	require.NoError(t, f.svc.RequestClose(context.Background(), "thr-1", "u-9"))
	promptID := f.svc.TrackedMessages()[0].MessageID

	require.NoError(t, f.svc.ConfirmClose(context.Background(), promptID, "u-9", false))

	require.Len(t, f.svc.Status().Spawns, 1, "spawn stays open")
	f.store.AssertNotCalled(t, "SubmitAttendance", mock.Anything, mock.Anything)
}

func TestForceClose_DropsPendingAndSubmits(t *testing.T) {
	f := newFixture(t)
	f.openSpawn(t)
	require.NoError(t, f.svc.VerifyMember(context.Background(), "thr-1", "kael", "gm"))
	require.NoError(t, f.svc.CheckIn(context.Background(), checkInMsg("m-1", "mira", "u-2", true), false))

	f.store.On("SubmitAttendance", mock.Anything, mock.MatchedBy(func(sub ledger.Submission) bool {
		return len(sub.Members) == 1 && sub.Members[0] == "kael"
	})).Return(nil).Once()

	require.NoError(t, f.svc.ForceClose(context.Background(), "thr-1", "u-9"))
	require.Empty(t, f.svc.Status().Spawns)
	require.Empty(t, f.svc.TrackedMessages())
	f.store.AssertExpectations(t)
}

func TestForceSubmit_BanksListAndKeepsSpawnOpen(t *testing.T) {
	f := newFixture(t)
	f.openSpawn(t)
	require.NoError(t, f.svc.VerifyMember(context.Background(), "thr-1", "kael", "gm"))

	f.store.On("SubmitAttendance", mock.Anything, mock.MatchedBy(func(sub ledger.Submission) bool {
		return sub.Event == "Baium" && sub.Timestamp == "3/14/26 19:00" &&
			len(sub.Members) == 1 && sub.Members[0] == "kael"
	})).Return(nil).Once()

	require.NoError(t, f.svc.ForceSubmit(context.Background(), "thr-1"))

	// the spawn is still open and keeps taking check-ins
	require.Len(t, f.svc.Status().Spawns, 1)
	require.NoError(t, f.svc.CheckIn(context.Background(), checkInMsg("m-1", "mira", "u-2", true), false))
	f.client.AssertNotCalled(t, "ArchiveThread", mock.Anything, "thr-1")
	f.store.AssertExpectations(t)
}

func TestForceSubmit_FailurePostsMemberListInline(t *testing.T) {
	f := newFixture(t)
	f.openSpawn(t)
	require.NoError(t, f.svc.VerifyMember(context.Background(), "thr-1", "kael", "gm"))
	require.NoError(t, f.svc.VerifyMember(context.Background(), "thr-1", "mira", "gm"))

	f.store.On("SubmitAttendance", mock.Anything, mock.Anything).Return(ledger.ErrExhausted).Once()

	err := f.svc.ForceSubmit(context.Background(), "thr-1")
	require.ErrorIs(t, err, ledger.ErrExhausted)
	require.Len(t, f.svc.Status().Spawns, 1)
	f.client.AssertCalled(t, "SendMessage", mock.Anything, "thr-1",
		"Submitting attendance failed. Members for manual entry: kael, mira")
}

func TestForceSubmit_UnknownThread(t *testing.T) {
	f := newFixture(t)
	err := f.svc.ForceSubmit(context.Background(), "thr-404")
	require.ErrorIs(t, err, ErrThreadNotFound)
}

func TestClearState_DropsSpawnsAndPending(t *testing.T) {
	f := newFixture(t)
	f.openSpawn(t)
	require.NoError(t, f.svc.CheckIn(context.Background(), checkInMsg("m-1", "mira", "u-2", true), false))

	require.Equal(t, 1, f.svc.ClearState(context.Background()))
	require.Empty(t, f.svc.Status().Spawns)
	require.Empty(t, f.svc.TrackedMessages())

	// the occurrence is free again, so a fresh open goes back to the ledger
	f.store.On("CheckColumn", mock.Anything, "Baium", "3/14/26 19:00").Return(false, nil).Once()
	f.client.On("CreateThread", mock.Anything, "chan", "[3/14/26 19:00] Baium", 1440).
		Return(chat.ThreadRef{ID: "thr-2"}, nil).Once()
	f.client.On("CreateThread", mock.Anything, "admin", chat.EmojiApprove+" [3/14/26 19:00] Baium", 1440).
		Return(chat.ThreadRef{ID: "cnf-2"}, nil).Once()

	threadID, created, err := f.svc.OpenOccurrence(context.Background(), "Baium", testBase.Add(9*time.Hour), "timer")
	require.NoError(t, err)
	require.True(t, created)
	require.Equal(t, "thr-2", threadID)
}

func TestFinalize_SubmissionFailureKeepsSpawnForRetry(t *testing.T) {
	f := newFixture(t)
	f.openSpawn(t)
	require.NoError(t, f.svc.VerifyMember(context.Background(), "thr-1", "kael", "gm"))
	require.NoError(t, f.svc.VerifyMember(context.Background(), "thr-1", "mira", "gm"))

	f.store.On("SubmitAttendance", mock.Anything, mock.Anything).Return(ledger.ErrExhausted).Once()
	f.store.On("SubmitAttendance", mock.Anything, mock.Anything).Return(nil).Once()

	err := f.svc.ForceClose(context.Background(), "thr-1", "u-9")
	require.ErrorIs(t, err, ledger.ErrExhausted)

	// spawn reopened, member list posted inline for manual entry
	st := f.svc.Status()
	require.Len(t, st.Spawns, 1)
	require.False(t, st.Spawns[0].Closed)
	f.client.AssertCalled(t, "SendMessage", mock.Anything, "thr-1",
		"Submitting attendance failed. Members for manual entry: kael, mira")

	require.NoError(t, f.svc.ForceClose(context.Background(), "thr-1", "u-9"))
	require.Empty(t, f.svc.Status().Spawns)
}

func TestSweep_ClosesAtExactlyTwentyMinutes(t *testing.T) {
	f := newFixture(t)
	f.openSpawn(t)
	require.NoError(t, f.svc.CheckIn(context.Background(), checkInMsg("m-1", "kael", "u-1", true), false))

	f.clock.Set(testBase.Add(autoCloseAfter - time.Second))
	require.Equal(t, 0, f.svc.Sweep(context.Background()), "younger than the cutoff stays open")

	f.store.On("SubmitAttendance", mock.Anything, mock.MatchedBy(func(sub ledger.Submission) bool {
		// the pending check-in was promoted before submission
		return len(sub.Members) == 1 && sub.Members[0] == "kael"
	})).Return(nil).Once()

	f.clock.Set(testBase.Add(autoCloseAfter))
	require.Equal(t, 1, f.svc.Sweep(context.Background()))
	require.Empty(t, f.svc.Status().Spawns)
	f.store.AssertExpectations(t)
}

func TestCancelOccurrence_TearsDownState(t *testing.T) {
	f := newFixture(t)
	f.openSpawn(t)
	require.NoError(t, f.svc.CheckIn(context.Background(), checkInMsg("m-1", "kael", "u-1", true), false))

	require.NoError(t, f.svc.CancelOccurrence(context.Background(), "thr-1", "false alarm reported by mira"))

	require.Empty(t, f.svc.Status().Spawns)
	require.Empty(t, f.svc.TrackedMessages())
	f.client.AssertCalled(t, "LockThread", mock.Anything, "thr-1")
	f.client.AssertCalled(t, "ArchiveThread", mock.Anything, "thr-1")
	f.client.AssertCalled(t, "DeleteThread", mock.Anything, "cnf-1")

	err := f.svc.CancelOccurrence(context.Background(), "thr-1", "again")
	require.ErrorIs(t, err, ErrThreadNotFound)
}

func TestCloseAll(t *testing.T) {
	f := newFixture(t)
	f.openSpawn(t)
	require.NoError(t, f.svc.VerifyMember(context.Background(), "thr-1", "kael", "gm"))

	f.store.On("CheckColumn", mock.Anything, "Zaken", mock.Anything).Return(false, nil).Once()
	f.client.On("CreateThread", mock.Anything, "chan", mock.Anything, 1440).Return(chat.ThreadRef{ID: "thr-2"}, nil).Once()
	f.client.On("CreateThread", mock.Anything, "admin", mock.Anything, 1440).Return(chat.ThreadRef{ID: "cnf-2"}, nil).Once()
	_, _, err := f.svc.OpenOccurrence(context.Background(), "Zaken", testBase.Add(12*time.Hour), "timer")
	require.NoError(t, err)

	f.store.On("SubmitAttendance", mock.Anything, mock.Anything).Return(nil).Twice()

	results := f.svc.CloseAll(context.Background(), "u-9")
	require.Len(t, results, 2)
	for _, res := range results {
		require.NoError(t, res.Err)
	}
	require.Empty(t, f.svc.Status().Spawns)
}

func TestRecoverFromThreads(t *testing.T) {
	f := newFixture(t)
	f.client.On("ListActiveThreads", mock.Anything, "g-1", "chan").Return([]chat.ThreadRef{
		{ID: "thr-9", Name: "[3/14/26 19:00] Baium"},
		{ID: "thr-x", Name: "general banter"},
	}, nil).Once()
	f.client.On("ListActiveThreads", mock.Anything, "g-1", "admin").Return([]chat.ThreadRef{
		{ID: "cnf-9", Name: chat.EmojiApprove + " [3/14/26 19:00] Baium"},
	}, nil).Once()
	f.client.On("FetchMessages", mock.Anything, "thr-9", 100).Return([]chat.Message{
		{ID: "m-0", ChannelID: "thr-9", AuthorIsBot: true, Content: "Baium spawning at 19:00!", CreatedAt: testBase},
		{ID: "m-1", ChannelID: "thr-9", AuthorIsBot: true, Content: "kael" + verifiedByMarker + "gm", CreatedAt: testBase.Add(time.Minute)},
		{ID: "m-2", ChannelID: "thr-9", AuthorID: "u-2", AuthorName: "mira", Content: "present", HasAttachment: true, CreatedAt: testBase.Add(2 * time.Minute)},
		{ID: "m-3", ChannelID: "thr-9", AuthorID: "u-3", AuthorName: "zeph", Content: "what time is it spawning again, anyone know for sure?", CreatedAt: testBase.Add(3 * time.Minute)},
	}, nil).Once()

	restored, err := f.svc.RecoverFromThreads(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, restored)

	st := f.svc.Status()
	require.Len(t, st.Spawns, 1)
	require.Equal(t, "Baium", st.Spawns[0].Event)
	require.Equal(t, "3/14/26 19:00", st.Spawns[0].Timestamp)
	require.Equal(t, 1, st.Spawns[0].Members)
	require.Equal(t, 1, st.Spawns[0].Pending)
	require.True(t, st.Spawns[0].CreatedAt.Equal(testBase), "creation time taken from the opening message")

	tracked := f.svc.TrackedMessages()
	require.Len(t, tracked, 1)
	require.Equal(t, "m-2", tracked[0].MessageID)

	// the restored column blocks a duplicate thread for the occurrence
	threadID, created, err := f.svc.OpenOccurrence(context.Background(), "Baium", testBase.Add(9*time.Hour), "timer")
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, "thr-9", threadID)
}

func TestRequestClose_UnknownThread(t *testing.T) {
	f := newFixture(t)
	err := f.svc.RequestClose(context.Background(), "thr-404", "u-9")
	require.ErrorIs(t, err, ErrThreadNotFound)
	require.False(t, errors.Is(err, ErrAlreadyClosed))
}
