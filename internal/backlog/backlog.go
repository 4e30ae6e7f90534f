// Package backlog tracks inbound messages awaiting extraction.
package backlog

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/pricedesk/quotes-cli/internal/model"
	"github.com/pricedesk/quotes-cli/internal/store"
)

// ErrInvalid marks a message rejected before it reached the store.
var ErrInvalid = eris.New("backlog: invalid message")

// Tracker records incoming messages and answers backlog queries.
type Tracker struct {
	store store.Store
	now   func() time.Time
}

// New creates a Tracker backed by the given store.
func New(st store.Store) *Tracker {
	return &Tracker{store: st, now: time.Now}
}

// RecordIncoming persists a new unprocessed message and returns it.
// Content must be non-empty; sender may be blank (the pipeline falls
// back to an unknown-supplier identity).
func (t *Tracker) RecordIncoming(ctx context.Context, tenantID, sender, content string) (*model.RawMessage, error) {
	if tenantID == "" {
		return nil, eris.Wrap(ErrInvalid, "missing tenant id")
	}
	if strings.TrimSpace(content) == "" {
		return nil, eris.Wrap(ErrInvalid, "empty message content")
	}

	msg := model.RawMessage{
		ID:         uuid.New().String(),
		TenantID:   tenantID,
		Sender:     strings.TrimSpace(sender),
		Content:    content,
		ReceivedAt: t.now().UTC(),
	}
	if err := t.store.CreateMessage(ctx, msg); err != nil {
		return nil, eris.Wrap(err, "backlog: create message")
	}

	zap.L().Debug("message recorded",
		zap.String("tenant", tenantID),
		zap.String("message", msg.ID),
	)
	return &msg, nil
}

// UnprocessedCount returns the number of messages still awaiting
// extraction for the tenant.
func (t *Tracker) UnprocessedCount(ctx context.Context, tenantID string) (int, error) {
	return t.store.CountUnprocessed(ctx, tenantID)
}

// ListByTenant returns the tenant's messages, newest first, honoring
// the filter.
func (t *Tracker) ListByTenant(ctx context.Context, tenantID string, filter store.MessageFilter) ([]model.RawMessage, error) {
	return t.store.ListMessages(ctx, tenantID, filter)
}

// ResetFailed returns failed messages to the backlog and reports how
// many were reset.
func (t *Tracker) ResetFailed(ctx context.Context, tenantID string) (int, error) {
	n, err := t.store.ResetFailed(ctx, tenantID)
	if err != nil {
		return 0, eris.Wrap(err, "backlog: reset failed")
	}
	return n, nil
}
