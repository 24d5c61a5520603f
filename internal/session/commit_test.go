package session

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommitArchivesTranscriptAndClearsActiveMessages(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	_, err := m.AppendMessage(ctx, "sess-1", "user", "just chatting about the weather")
	require.NoError(t, err)

	report, err := m.Commit(ctx, "sess-1", ArchiveOnly, nil, DedupDeterministic, nil, 0)
	require.NoError(t, err)
	assert.Contains(t, report.ArchiveURI, "history/archive_001")

	root, err := sessionRoot("sess-1")
	require.NoError(t, err)
	msgsURI, err := root.Join("messages.jsonl")
	require.NoError(t, err)
	assert.False(t, m.fsys.Exists(msgsURI), "active transcript should be cleared after archive")
}

func TestCommitArchiveAndExtractCreatesMemoryFromHeuristic(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	_, err := m.AppendMessage(ctx, "sess-2", "user", "I prefer dark mode everywhere")
	require.NoError(t, err)

	report, err := m.Commit(ctx, "sess-2", ArchiveAndExtract, nil, DedupDeterministic, nil, 0)
	require.NoError(t, err)
	require.Len(t, report.Created, 1)
	assert.Empty(t, report.ReindexError)

	rec, ok := m.idx.Get(report.Created[0])
	require.True(t, ok)
	assert.Contains(t, rec.Content, "I prefer dark mode everywhere")
}

func TestCommitSecondArchiveIncrementsIndex(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	_, err := m.AppendMessage(ctx, "sess-3", "user", "first batch")
	require.NoError(t, err)
	_, err = m.Commit(ctx, "sess-3", ArchiveOnly, nil, DedupDeterministic, nil, 0)
	require.NoError(t, err)

	_, err = m.AppendMessage(ctx, "sess-3", "user", "second batch")
	require.NoError(t, err)
	report, err := m.Commit(ctx, "sess-3", ArchiveOnly, nil, DedupDeterministic, nil, 0)
	require.NoError(t, err)
	assert.Contains(t, report.ArchiveURI, "history/archive_002")
}

func TestHeuristicExtractOnlyFlagsUserMessagesWithMarkers(t *testing.T) {
	messages := []Message{
		{Role: "user", Content: "I prefer tabs over spaces"},
		{Role: "assistant", Content: "I prefer tabs too"},
		{Role: "user", Content: "what time is it"},
	}
	candidates := heuristicExtract(messages, "axiom://session/s/history/archive_001")
	require.Len(t, candidates, 1)
	assert.Equal(t, "preference", candidates[0].Category)
	assert.Equal(t, "I prefer tabs over spaces", candidates[0].Text)
}
