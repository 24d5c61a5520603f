package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/axiomme/axiomme/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	st, err := New(context.Background(), Config{Path: filepath.Join(dir, "axiomme.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestUpsertAndSearchDocument(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	rec := models.IndexRecord{
		URI: "axiom://resources/web-editor/doc.md", ContextType: models.ContextResource,
		Name: "doc", Abstract: "an abstract", Content: "alpha_token lives here", UpdatedAt: time.Now(), Depth: 2,
	}
	require.NoError(t, st.UpsertSearchDocument(ctx, rec))

	hits, err := st.SearchDocumentsFTS(ctx, SearchFTSOptions{Query: "alpha_token", Limit: 5})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, rec.URI, hits[0].URI)
}

func TestOutboxEnqueueFetchMark(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	id, err := st.EnqueueOutbox(ctx, models.EventUpsert, "axiom://resources/a.md", []byte(`{}`))
	require.NoError(t, err)
	assert.Positive(t, id)

	events, err := st.FetchOutbox(ctx, models.OutboxNew, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, id, events[0].ID)

	require.NoError(t, st.MarkOutboxStatus(ctx, id, models.OutboxDone, true))

	events, err = st.FetchOutbox(ctx, models.OutboxNew, 10)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestOutboxCheckpointRoundTrip(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	got, err := st.GetCheckpoint(ctx, "replay")
	require.NoError(t, err)
	assert.Equal(t, int64(0), got)

	require.NoError(t, st.SetCheckpoint(ctx, "replay", 42))
	got, err = st.GetCheckpoint(ctx, "replay")
	require.NoError(t, err)
	assert.Equal(t, int64(42), got)
}

func TestPromotionCheckpointSingleWinnerClaim(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	cp, err := st.GetOrInsertPendingCheckpoint(ctx, "sess-1", "cp-1", "hash-a", `{"facts":[]}`)
	require.NoError(t, err)
	assert.Equal(t, PromotionPending, cp.Phase)

	won, err := st.ClaimApplying(ctx, "sess-1", "cp-1", "hash-a")
	require.NoError(t, err)
	assert.True(t, won)

	wonAgain, err := st.ClaimApplying(ctx, "sess-1", "cp-1", "hash-a")
	require.NoError(t, err)
	assert.False(t, wonAgain, "second claim attempt must lose")

	require.NoError(t, st.FinalizeApplied(ctx, "sess-1", "cp-1", `{"result":"ok"}`))
}

func TestOMRecordLifecycle(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	rec, err := st.GetOrCreateOMRecord(ctx, "session:abc")
	require.NoError(t, err)
	assert.Equal(t, int64(0), rec.GenerationCount)

	rec.GenerationCount = 1
	rec.ActiveObservations = "first pass"
	require.NoError(t, st.SaveOMRecord(ctx, rec))

	reloaded, err := st.GetOrCreateOMRecord(ctx, "session:abc")
	require.NoError(t, err)
	assert.Equal(t, int64(1), reloaded.GenerationCount)
	assert.Equal(t, "first pass", reloaded.ActiveObservations)
}

func TestOMChunkAppendListDelete(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.AppendOMChunk(ctx, "session:abc", 100, 20, []string{"m1", "m2"}, "observed chunk 0"))
	require.NoError(t, st.AppendOMChunk(ctx, "session:abc", 100, 20, []string{"m3"}, "observed chunk 1"))

	chunks, err := st.ListOMChunks(ctx, "session:abc")
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, []string{"m1", "m2"}, chunks[0].MessageIDs())

	require.NoError(t, st.DeleteOMChunks(ctx, "session:abc", 0))
	chunks, err = st.ListOMChunks(ctx, "session:abc")
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, 1, chunks[0].Seq)
}
