package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/mailfeed/internal/model"
	"github.com/nhle/mailfeed/internal/store"
	"github.com/nhle/mailfeed/tests/testutil"
)

func sampleMessage(subject string, received time.Time) model.StoredMessage {
	return model.StoredMessage{
		AccountID:     "acc1",
		Folder:        "INBOX",
		Subject:       subject,
		Sender:        "peer@example.test",
		ReceivedAt:    received,
		SentAt:        received.Add(-time.Minute),
		Body:          "body of " + subject,
		BodyMediaType: "text/plain",
		FetchedAt:     received.Add(time.Hour),
	}
}

func TestSaveAndGetMessages(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

	msgs := []model.StoredMessage{
		sampleMessage("first", base),
		sampleMessage("second", base.Add(time.Hour)),
	}
	require.NoError(t, s.SaveMessages(ctx, msgs))

	got, err := s.GetMessages(ctx, store.MessageFilter{SortDesc: true})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "second", got[0].Subject)
	assert.Equal(t, "first", got[1].Subject)
	assert.NotEmpty(t, got[0].ID)
}

func TestSaveMessagesUpsertsOnRedelivery(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()
	received := time.Date(2026, 5, 2, 9, 0, 0, 0, time.UTC)

	msg := sampleMessage("invoice", received)
	require.NoError(t, s.SaveMessages(ctx, []model.StoredMessage{msg}))

	// At-least-once polling can deliver the same message again; the
	// natural key keeps one row.
	msg.Body = "updated body"
	require.NoError(t, s.SaveMessages(ctx, []model.StoredMessage{msg}))

	got, err := s.GetMessages(ctx, store.MessageFilter{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "updated body", got[0].Body)
}

func TestAttachmentsRoundTrip(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	msg := sampleMessage("with files", time.Date(2026, 5, 3, 9, 0, 0, 0, time.UTC))
	msg.Attachments = []model.StoredAttachment{
		{Name: "a.pdf", MediaType: "application/pdf", Size: 3, Data: []byte("pdf")},
		{Name: "b.csv", MediaType: "text/csv", Size: 3, Data: []byte("a,b")},
	}
	require.NoError(t, s.SaveMessages(ctx, []model.StoredMessage{msg}))

	listed, err := s.GetMessages(ctx, store.MessageFilter{})
	require.NoError(t, err)
	require.Len(t, listed, 1)
	// The list query skips attachment content.
	assert.Empty(t, listed[0].Attachments)

	full, err := s.GetMessageByID(ctx, listed[0].ID)
	require.NoError(t, err)
	require.NotNil(t, full)
	require.Len(t, full.Attachments, 2)
	assert.Equal(t, "a.pdf", full.Attachments[0].Name)
	assert.Equal(t, []byte("pdf"), full.Attachments[0].Data)
}

func TestGetMessagesFilters(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)

	other := sampleMessage("other account", base)
	other.AccountID = "acc2"
	other.Folder = "Archive"
	require.NoError(t, s.SaveMessages(ctx, []model.StoredMessage{
		sampleMessage("budget report", base),
		sampleMessage("lunch plans", base.Add(time.Minute)),
		other,
	}))

	acc1 := "acc1"
	got, err := s.GetMessages(ctx, store.MessageFilter{AccountID: &acc1})
	require.NoError(t, err)
	assert.Len(t, got, 2)

	folder := "Archive"
	got, err = s.GetMessages(ctx, store.MessageFilter{Folder: &folder})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "acc2", got[0].AccountID)

	query := "budget"
	got, err = s.GetMessages(ctx, store.MessageFilter{Query: &query})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "budget report", got[0].Subject)

	got, err = s.GetMessages(ctx, store.MessageFilter{AccountID: &acc1, Limit: 1, SortDesc: true})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "lunch plans", got[0].Subject)
}

func TestDeleteMessageCascades(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	msg := sampleMessage("doomed", time.Date(2026, 5, 5, 9, 0, 0, 0, time.UTC))
	msg.Attachments = []model.StoredAttachment{
		{Name: "x.bin", MediaType: "application/octet-stream", Size: 1, Data: []byte{1}},
	}
	require.NoError(t, s.SaveMessages(ctx, []model.StoredMessage{msg}))

	listed, err := s.GetMessages(ctx, store.MessageFilter{})
	require.NoError(t, err)
	require.Len(t, listed, 1)

	require.NoError(t, s.DeleteMessage(ctx, listed[0].ID))

	gone, err := s.GetMessageByID(ctx, listed[0].ID)
	require.NoError(t, err)
	assert.Nil(t, gone)
}

func TestGetMessageByIDMissing(t *testing.T) {
	s := testutil.NewTestStore(t)

	got, err := s.GetMessageByID(context.Background(), "no-such-id")
	require.NoError(t, err)
	assert.Nil(t, got)
}
