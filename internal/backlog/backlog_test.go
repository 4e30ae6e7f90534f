package backlog

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pricedesk/quotes-cli/internal/model"
	"github.com/pricedesk/quotes-cli/internal/store"
)

func TestRecordIncoming(t *testing.T) {
	st := store.NewMemory()
	tr := New(st)

	msg, err := tr.RecordIncoming(context.Background(), "t1", "  +5511999  ", "SSD por R$350")
	require.NoError(t, err)
	assert.NotEmpty(t, msg.ID)
	assert.Equal(t, "+5511999", msg.Sender)
	assert.False(t, msg.Processed)
	assert.False(t, msg.ReceivedAt.IsZero())

	n, err := tr.UnprocessedCount(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestRecordIncoming_Validation(t *testing.T) {
	tr := New(store.NewMemory())

	_, err := tr.RecordIncoming(context.Background(), "", "s", "content")
	assert.ErrorIs(t, err, ErrInvalid)

	_, err = tr.RecordIncoming(context.Background(), "t1", "s", "   ")
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestListByTenant_NewestFirst(t *testing.T) {
	st := store.NewMemory()
	tr := New(st)

	first, err := tr.RecordIncoming(context.Background(), "t1", "a", "first offer")
	require.NoError(t, err)
	second, err := tr.RecordIncoming(context.Background(), "t1", "b", "second offer")
	require.NoError(t, err)
	_, err = tr.RecordIncoming(context.Background(), "t2", "c", "other tenant")
	require.NoError(t, err)

	msgs, err := tr.ListByTenant(context.Background(), "t1", store.MessageFilter{})
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, second.ID, msgs[0].ID)
	assert.Equal(t, first.ID, msgs[1].ID)
}

func TestListByTenant_FailedFilter(t *testing.T) {
	st := store.NewMemory()
	tr := New(st)

	ok, err := tr.RecordIncoming(context.Background(), "t1", "a", "good")
	require.NoError(t, err)
	bad, err := tr.RecordIncoming(context.Background(), "t1", "b", "bad")
	require.NoError(t, err)

	require.NoError(t, st.MarkProcessed(context.Background(), ok.ID, ""))
	require.NoError(t, st.MarkProcessed(context.Background(), bad.ID, model.ErrReasonExtractionFailed))

	failed, err := tr.ListByTenant(context.Background(), "t1", store.MessageFilter{Failed: true})
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, bad.ID, failed[0].ID)
}

func TestResetFailed(t *testing.T) {
	st := store.NewMemory()
	tr := New(st)

	bad, err := tr.RecordIncoming(context.Background(), "t1", "b", "bad")
	require.NoError(t, err)
	require.NoError(t, st.MarkProcessed(context.Background(), bad.ID, model.ErrReasonServiceUnavailable))

	n, err := tr.ResetFailed(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	count, err := tr.UnprocessedCount(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	got, err := st.GetMessage(context.Background(), bad.ID)
	require.NoError(t, err)
	assert.False(t, got.Processed)
	assert.Empty(t, got.ProcessingError)
}
