package ledger

import (
	"context"
	"fmt"
)

// CheckColumn asks the ledger whether a column already exists for the
// event at the given timestamp.
func (c *Client) CheckColumn(ctx context.Context, eventName, timestamp string) (bool, error) {
	resp, err := c.Call(ctx, ActionCheckColumn, map[string]any{
		"event":     eventName,
		"timestamp": timestamp,
	}, CallOpts{})
	if err != nil {
		return false, err
	}
	return resp.Exists, nil
}

// SubmitAttendance records a finalized attendance column.
func (c *Client) SubmitAttendance(ctx context.Context, sub Submission) error {
	_, err := c.Call(ctx, ActionSubmitAttendance, map[string]any{
		"event":     sub.Event,
		"date":      sub.Date,
		"time":      sub.Time,
		"timestamp": sub.Timestamp,
		"members":   sub.Members,
	}, CallOpts{Critical: true})
	if err != nil {
		return fmt.Errorf("submit attendance for %s: %w", sub.Event, err)
	}
	return nil
}

// SaveTimerRecovery persists one spawn timer for crash recovery. This is
// load-bearing data, so it uses the elevated retry budget.
func (c *Client) SaveTimerRecovery(ctx context.Context, rec RecoveryRecord) error {
	_, err := c.Call(ctx, ActionSaveTimerRecovery, map[string]any{
		"record": rec,
	}, CallOpts{Critical: true})
	return err
}

// BulkSaveTimerRecovery persists a whole batch of spawn timers in one
// call, replacing any previous records.
func (c *Client) BulkSaveTimerRecovery(ctx context.Context, recs []RecoveryRecord) error {
	_, err := c.Call(ctx, ActionBulkSaveTimerRecovery, map[string]any{
		"records": recs,
	}, CallOpts{Critical: true})
	return err
}

// DeleteTimerRecovery drops the persisted timer for one event.
func (c *Client) DeleteTimerRecovery(ctx context.Context, eventName string) error {
	_, err := c.Call(ctx, ActionDeleteTimerRecovery, map[string]any{
		"event": eventName,
	}, CallOpts{})
	return err
}

// ClearTimerRecovery drops every persisted timer.
func (c *Client) ClearTimerRecovery(ctx context.Context) error {
	_, err := c.Call(ctx, ActionClearTimerRecovery, nil, CallOpts{})
	return err
}

// GetTimerRecovery loads every persisted timer.
func (c *Client) GetTimerRecovery(ctx context.Context) ([]RecoveryRecord, error) {
	resp, err := c.Call(ctx, ActionGetTimerRecovery, nil, CallOpts{})
	if err != nil {
		return nil, err
	}
	return resp.Records, nil
}
