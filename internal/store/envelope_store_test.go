package store_test

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taumail/mailsync/internal/model"
	"github.com/taumail/mailsync/internal/store"
	"github.com/taumail/mailsync/tests/testutil"
)

func testEnvelope(messageID string) model.Envelope {
	return model.Envelope{
		MessageID: messageID,
		From:      "Alice <alice@example.com>",
		To:        []string{"bob@example.com"},
		Subject:   "hello",
		BodyText:  "hello body",
		Headers:   map[string]string{"Subject": "hello"},
		Folder:    model.FolderInbox,
	}
}

func TestUpsertEnvelope_DeduplicatesByMessageID(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	inserted, err := s.UpsertEnvelope(ctx, testEnvelope("<m1@x>"), "user-1")
	require.NoError(t, err)
	assert.True(t, inserted)

	// Same message identity again: confirmed no-op, not an error.
	inserted, err = s.UpsertEnvelope(ctx, testEnvelope("<m1@x>"), "user-1")
	require.NoError(t, err)
	assert.False(t, inserted)

	count, err := s.CountEnvelopes(ctx, "user-1", store.ListOptions{Folder: model.FolderInbox})
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestUpsertEnvelope_EmptyMessageIDAlwaysInserts(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		inserted, err := s.UpsertEnvelope(ctx, testEnvelope(""), "user-1")
		require.NoError(t, err)
		assert.True(t, inserted)
	}

	count, err := s.CountEnvelopes(ctx, "user-1", store.ListOptions{Folder: model.FolderInbox})
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestUpsertEnvelope_RequiresOwner(t *testing.T) {
	s := testutil.NewTestStore(t)

	_, err := s.UpsertEnvelope(context.Background(), testEnvelope("<m1@x>"), "")
	require.Error(t, err)
}

func TestUpsertEnvelope_ConcurrentSameIdentity(t *testing.T) {
	// A file-backed database so every connection in the pool sees the
	// same data.
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "mail.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	ctx := context.Background()

	const writers = 8
	results := make(chan bool, writers)
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			inserted, err := s.UpsertEnvelope(ctx, testEnvelope("<race@x>"), "user-1")
			if err != nil {
				t.Errorf("concurrent upsert: %v", err)
				return
			}
			results <- inserted
		}()
	}
	wg.Wait()
	close(results)

	insertedCount := 0
	for inserted := range results {
		if inserted {
			insertedCount++
		}
	}
	assert.Equal(t, 1, insertedCount, "exactly one concurrent insert must survive")

	count, err := s.CountEnvelopes(ctx, "user-1", store.ListOptions{Folder: model.FolderInbox})
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestGetEnvelope_RoundTrip(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	env := testEnvelope("<rt@x>")
	env.To = []string{"bob@example.com", "carol@example.com"}
	env.BodyHTML = "<p>hello</p>"
	env.Attachments = []model.Attachment{
		{Filename: "a.pdf", Size: 1234, MIMEType: "application/pdf"},
	}
	env.ReceivedAt = time.Date(2025, 6, 10, 10, 0, 0, 0, time.UTC)

	_, err := s.UpsertEnvelope(ctx, env, "user-1")
	require.NoError(t, err)

	listed, err := s.ListEnvelopes(ctx, "user-1", store.ListOptions{})
	require.NoError(t, err)
	require.Len(t, listed, 1)

	got, err := s.GetEnvelope(ctx, "user-1", listed[0].ID)
	require.NoError(t, err)

	assert.Equal(t, "<rt@x>", got.MessageID)
	assert.Equal(t, []string{"bob@example.com", "carol@example.com"}, got.To)
	assert.Equal(t, "<p>hello</p>", got.BodyHTML)
	assert.Equal(t, map[string]string{"Subject": "hello"}, got.Headers)
	require.Len(t, got.Attachments, 1)
	assert.Equal(t, int64(1234), got.Attachments[0].Size)
	assert.False(t, got.IsRead)
	assert.False(t, got.IsStarred)
}

func TestGetEnvelope_NotFound(t *testing.T) {
	s := testutil.NewTestStore(t)

	_, err := s.GetEnvelope(context.Background(), "user-1", "nope")
	assert.ErrorIs(t, err, store.ErrEnvelopeNotFound)
}

func TestGetEnvelope_ScopedToOwner(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	_, err := s.UpsertEnvelope(ctx, testEnvelope("<own@x>"), "user-1")
	require.NoError(t, err)

	listed, err := s.ListEnvelopes(ctx, "user-1", store.ListOptions{})
	require.NoError(t, err)
	require.Len(t, listed, 1)

	_, err = s.GetEnvelope(ctx, "user-2", listed[0].ID)
	assert.ErrorIs(t, err, store.ErrEnvelopeNotFound)
}

func TestListEnvelopes_PaginationNewestFirst(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		env := testEnvelope("")
		env.Subject = string(rune('a' + i))
		env.ReceivedAt = base.Add(time.Duration(i) * time.Hour)
		_, err := s.UpsertEnvelope(ctx, env, "user-1")
		require.NoError(t, err)
	}

	page1, err := s.ListEnvelopes(ctx, "user-1", store.ListOptions{Limit: 2})
	require.NoError(t, err)
	require.Len(t, page1, 2)
	assert.Equal(t, "e", page1[0].Subject)
	assert.Equal(t, "d", page1[1].Subject)

	page2, err := s.ListEnvelopes(ctx, "user-1", store.ListOptions{Limit: 2, Offset: 2})
	require.NoError(t, err)
	require.Len(t, page2, 2)
	assert.Equal(t, "c", page2[0].Subject)
	assert.Equal(t, "b", page2[1].Subject)
}

func TestListEnvelopes_SearchCaseInsensitive(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	env1 := testEnvelope("<s1@x>")
	env1.Subject = "Invoice March"
	env2 := testEnvelope("<s2@x>")
	env2.Subject = "lunch?"
	env2.BodyText = "about that INVOICE you sent"
	env3 := testEnvelope("<s3@x>")
	env3.Subject = "unrelated"
	env3.From = "invoices@vendor.example.com"
	env4 := testEnvelope("<s4@x>")
	env4.Subject = "nothing here"

	for _, env := range []model.Envelope{env1, env2, env3, env4} {
		_, err := s.UpsertEnvelope(ctx, env, "user-1")
		require.NoError(t, err)
	}

	found, err := s.ListEnvelopes(ctx, "user-1", store.ListOptions{Search: "invoice"})
	require.NoError(t, err)
	assert.Len(t, found, 3)
}

func TestCountEnvelopes_AppliesSearchFilter(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	env1 := testEnvelope("<c1@x>")
	env1.Subject = "Invoice March"
	env2 := testEnvelope("<c2@x>")
	env2.Subject = "lunch?"

	for _, env := range []model.Envelope{env1, env2} {
		_, err := s.UpsertEnvelope(ctx, env, "user-1")
		require.NoError(t, err)
	}

	all, err := s.CountEnvelopes(ctx, "user-1", store.ListOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, all)

	matched, err := s.CountEnvelopes(ctx, "user-1", store.ListOptions{Search: "invoice"})
	require.NoError(t, err)
	assert.Equal(t, 1, matched, "the count must span the same rows a search listing would")
}

func TestFolderCounts_TotalsAndUnread(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	read := testEnvelope("<fc1@x>")
	read.IsRead = true
	unread := testEnvelope("<fc2@x>")
	sent := testEnvelope("<fc3@x>")
	sent.Folder = model.FolderSent
	sent.IsRead = true

	for _, env := range []model.Envelope{read, unread, sent} {
		_, err := s.UpsertEnvelope(ctx, env, "user-1")
		require.NoError(t, err)
	}

	counts, err := s.FolderCounts(ctx, "user-1")
	require.NoError(t, err)

	byFolder := make(map[model.Folder]store.FolderCount, len(counts))
	for _, c := range counts {
		byFolder[c.Folder] = c
	}

	assert.Equal(t, 2, byFolder[model.FolderInbox].Total)
	assert.Equal(t, 1, byFolder[model.FolderInbox].Unread)
	assert.Equal(t, 1, byFolder[model.FolderSent].Total)
	assert.Equal(t, 0, byFolder[model.FolderSent].Unread)

	// Trash has no rows but must still be listed.
	trash, ok := byFolder[model.FolderTrash]
	require.True(t, ok)
	assert.Equal(t, 0, trash.Total)
}

func TestFolderCounts_EmptyMailboxListsStandardFolders(t *testing.T) {
	s := testutil.NewTestStore(t)

	counts, err := s.FolderCounts(context.Background(), "user-1")
	require.NoError(t, err)
	require.Len(t, counts, 3)
	for _, c := range counts {
		assert.Zero(t, c.Total)
		assert.Zero(t, c.Unread)
	}
}

func TestListEnvelopes_ScopedToUserAndFolder(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	mine := testEnvelope("<mine@x>")
	_, err := s.UpsertEnvelope(ctx, mine, "user-1")
	require.NoError(t, err)

	theirs := testEnvelope("<theirs@x>")
	_, err = s.UpsertEnvelope(ctx, theirs, "user-2")
	require.NoError(t, err)

	sent := testEnvelope("<sent@x>")
	sent.Folder = model.FolderSent
	_, err = s.UpsertEnvelope(ctx, sent, "user-1")
	require.NoError(t, err)

	inbox, err := s.ListEnvelopes(ctx, "user-1", store.ListOptions{})
	require.NoError(t, err)
	require.Len(t, inbox, 1)
	assert.Equal(t, "<mine@x>", inbox[0].MessageID)
}

func TestUpdateFlags_Partial(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	_, err := s.UpsertEnvelope(ctx, testEnvelope("<f@x>"), "user-1")
	require.NoError(t, err)

	listed, err := s.ListEnvelopes(ctx, "user-1", store.ListOptions{})
	require.NoError(t, err)
	id := listed[0].ID

	starred := true
	require.NoError(t, s.UpdateFlags(ctx, "user-1", id, store.FlagUpdate{IsStarred: &starred}))

	got, err := s.GetEnvelope(ctx, "user-1", id)
	require.NoError(t, err)
	assert.True(t, got.IsStarred)
	assert.False(t, got.IsRead, "unset flag must be untouched")

	read := true
	unstar := false
	require.NoError(t, s.UpdateFlags(ctx, "user-1", id, store.FlagUpdate{
		IsRead:    &read,
		IsStarred: &unstar,
	}))

	got, err = s.GetEnvelope(ctx, "user-1", id)
	require.NoError(t, err)
	assert.True(t, got.IsRead)
	assert.False(t, got.IsStarred)
}

func TestUpdateFlags_NotFound(t *testing.T) {
	s := testutil.NewTestStore(t)

	read := true
	err := s.UpdateFlags(context.Background(), "user-1", "ghost", store.FlagUpdate{IsRead: &read})
	assert.ErrorIs(t, err, store.ErrEnvelopeNotFound)
}

func TestMoveFolder_TrashTransition(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	_, err := s.UpsertEnvelope(ctx, testEnvelope("<t@x>"), "user-1")
	require.NoError(t, err)

	listed, err := s.ListEnvelopes(ctx, "user-1", store.ListOptions{})
	require.NoError(t, err)
	id := listed[0].ID

	require.NoError(t, s.MoveFolder(ctx, "user-1", id, model.FolderTrash))

	inbox, err := s.ListEnvelopes(ctx, "user-1", store.ListOptions{})
	require.NoError(t, err)
	assert.Empty(t, inbox)

	trash, err := s.ListEnvelopes(ctx, "user-1", store.ListOptions{Folder: model.FolderTrash})
	require.NoError(t, err)
	require.Len(t, trash, 1)
	assert.Equal(t, "<t@x>", trash[0].MessageID)
}

func TestMoveFolder_RejectsEmptyFolder(t *testing.T) {
	s := testutil.NewTestStore(t)

	err := s.MoveFolder(context.Background(), "user-1", "any", "")
	require.Error(t, err)
}
