// Package mocks holds the shared testify mocks used across service tests.
package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/elysium-gg/spawnkeeper/internal/chat"
	"github.com/elysium-gg/spawnkeeper/internal/ledger"
)

// ChatClient is a mock for chat.Client.
type ChatClient struct {
	mock.Mock
}

func (m *ChatClient) CreateThread(ctx context.Context, channelID, name string, autoArchiveMinutes int) (chat.ThreadRef, error) {
	args := m.Called(ctx, channelID, name, autoArchiveMinutes)
	return args.Get(0).(chat.ThreadRef), args.Error(1)
}

func (m *ChatClient) SendMessage(ctx context.Context, channelID, content string) (string, error) {
	args := m.Called(ctx, channelID, content)
	return args.String(0), args.Error(1)
}

func (m *ChatClient) AddReaction(ctx context.Context, channelID, messageID, emoji string) error {
	args := m.Called(ctx, channelID, messageID, emoji)
	return args.Error(0)
}

func (m *ChatClient) RemoveUserReaction(ctx context.Context, channelID, messageID, userID, emoji string) error {
	args := m.Called(ctx, channelID, messageID, userID, emoji)
	return args.Error(0)
}

func (m *ChatClient) RemoveAllReactions(ctx context.Context, channelID, messageID string) error {
	args := m.Called(ctx, channelID, messageID)
	return args.Error(0)
}

func (m *ChatClient) ListReactionUsers(ctx context.Context, channelID, messageID, emoji string) ([]chat.User, error) {
	args := m.Called(ctx, channelID, messageID, emoji)
	if users, ok := args.Get(0).([]chat.User); ok {
		return users, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *ChatClient) ArchiveThread(ctx context.Context, threadID string) error {
	args := m.Called(ctx, threadID)
	return args.Error(0)
}

func (m *ChatClient) LockThread(ctx context.Context, threadID string) error {
	args := m.Called(ctx, threadID)
	return args.Error(0)
}

func (m *ChatClient) DeleteThread(ctx context.Context, threadID string) error {
	args := m.Called(ctx, threadID)
	return args.Error(0)
}

func (m *ChatClient) DeleteMessage(ctx context.Context, channelID, messageID string) error {
	args := m.Called(ctx, channelID, messageID)
	return args.Error(0)
}

func (m *ChatClient) FetchMember(ctx context.Context, guildID, userID string) (chat.Member, error) {
	args := m.Called(ctx, guildID, userID)
	return args.Get(0).(chat.Member), args.Error(1)
}

func (m *ChatClient) ListActiveThreads(ctx context.Context, guildID, parentChannelID string) ([]chat.ThreadRef, error) {
	args := m.Called(ctx, guildID, parentChannelID)
	if threads, ok := args.Get(0).([]chat.ThreadRef); ok {
		return threads, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *ChatClient) FetchMessages(ctx context.Context, channelID string, limit int) ([]chat.Message, error) {
	args := m.Called(ctx, channelID, limit)
	if msgs, ok := args.Get(0).([]chat.Message); ok {
		return msgs, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *ChatClient) FetchMessagesAfter(ctx context.Context, channelID, afterID string, limit int) ([]chat.Message, error) {
	args := m.Called(ctx, channelID, afterID, limit)
	if msgs, ok := args.Get(0).([]chat.Message); ok {
		return msgs, args.Error(1)
	}
	return nil, args.Error(1)
}

// Ledger is a mock for the ledger-backed store interfaces
// (scheduler.RecoveryStore and the attendance column/submission surface).
type Ledger struct {
	mock.Mock
}

func (m *Ledger) CheckColumn(ctx context.Context, eventName, timestamp string) (bool, error) {
	args := m.Called(ctx, eventName, timestamp)
	return args.Bool(0), args.Error(1)
}

func (m *Ledger) SubmitAttendance(ctx context.Context, sub ledger.Submission) error {
	args := m.Called(ctx, sub)
	return args.Error(0)
}

func (m *Ledger) SaveTimerRecovery(ctx context.Context, rec ledger.RecoveryRecord) error {
	args := m.Called(ctx, rec)
	return args.Error(0)
}

func (m *Ledger) BulkSaveTimerRecovery(ctx context.Context, recs []ledger.RecoveryRecord) error {
	args := m.Called(ctx, recs)
	return args.Error(0)
}

func (m *Ledger) DeleteTimerRecovery(ctx context.Context, eventName string) error {
	args := m.Called(ctx, eventName)
	return args.Error(0)
}

func (m *Ledger) ClearTimerRecovery(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *Ledger) GetTimerRecovery(ctx context.Context) ([]ledger.RecoveryRecord, error) {
	args := m.Called(ctx)
	if recs, ok := args.Get(0).([]ledger.RecoveryRecord); ok {
		return recs, args.Error(1)
	}
	return nil, args.Error(1)
}

// Journal is a mock for the audit journal.
type Journal struct {
	mock.Mock
}

func (m *Journal) Log(ctx context.Context, kind, eventName, occurrence, detail string) error {
	args := m.Called(ctx, kind, eventName, occurrence, detail)
	return args.Error(0)
}

// Orchestrator is a mock for scheduler.Orchestrator.
type Orchestrator struct {
	mock.Mock
}

func (m *Orchestrator) OpenOccurrence(ctx context.Context, eventName string, occurrence time.Time, source string) (string, bool, error) {
	args := m.Called(ctx, eventName, occurrence, source)
	return args.String(0), args.Bool(1), args.Error(2)
}

func (m *Orchestrator) CancelOccurrence(ctx context.Context, threadID, reason string) error {
	args := m.Called(ctx, threadID, reason)
	return args.Error(0)
}

// Announcer is a mock for scheduler.Announcer.
type Announcer struct {
	mock.Mock
}

func (m *Announcer) SpawnReminder(ctx context.Context, eventName string, points int, occurrence time.Time, threadID string) error {
	args := m.Called(ctx, eventName, points, occurrence, threadID)
	return args.Error(0)
}

func (m *Announcer) FalseAlarmNotice(ctx context.Context, eventName, reporter string) error {
	args := m.Called(ctx, eventName, reporter)
	return args.Error(0)
}
