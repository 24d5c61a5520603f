package promotion

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/axiomme/axiomme/internal/fs"
	"github.com/axiomme/axiomme/internal/index"
	"github.com/axiomme/axiomme/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPipeline(t *testing.T) *Pipeline {
	t.Helper()
	dir := t.TempDir()
	fsys, err := fs.New(filepath.Join(dir, "data"))
	require.NoError(t, err)
	st, err := store.New(context.Background(), store.Config{Path: filepath.Join(dir, "axiomme.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return NewPipeline(fsys, index.New(), st)
}

func TestRequestHashIsOrderIndependent(t *testing.T) {
	a := []Fact{{Category: "preference", Text: "likes tea"}, {Category: "fact", Text: "born in 1990"}}
	b := []Fact{{Category: "fact", Text: "born in 1990"}, {Category: "preference", Text: "likes tea"}}
	assert.Equal(t, RequestHash(a), RequestHash(b))
}

func TestRequestHashDiffersOnContentChange(t *testing.T) {
	a := []Fact{{Category: "preference", Text: "likes tea"}}
	b := []Fact{{Category: "preference", Text: "likes coffee"}}
	assert.NotEqual(t, RequestHash(a), RequestHash(b))
}

func TestPromoteCreatesFactsAndFinalizesApplied(t *testing.T) {
	p := newTestPipeline(t)
	ctx := context.Background()

	req := Request{
		SessionID: "sess-1", CheckpointID: "cp-1", ApplyMode: AllOrNothing,
		Facts: []Fact{{Category: "preference", Text: "likes tea", Source: "axiom://session/sess-1/history/archive_001"}},
	}

	outcome, err := p.Promote(ctx, req)
	require.NoError(t, err)
	assert.False(t, outcome.Replayed)
	assert.Equal(t, ConflictNone, outcome.Conflict)
	require.Len(t, outcome.Result.Persisted, 1)
}

func TestPromoteReplaysOnMatchingHashAfterApplied(t *testing.T) {
	p := newTestPipeline(t)
	ctx := context.Background()

	req := Request{
		SessionID: "sess-2", CheckpointID: "cp-1", ApplyMode: AllOrNothing,
		Facts: []Fact{{Category: "preference", Text: "likes tea", Source: "src"}},
	}

	first, err := p.Promote(ctx, req)
	require.NoError(t, err)
	require.False(t, first.Replayed)

	second, err := p.Promote(ctx, req)
	require.NoError(t, err)
	assert.True(t, second.Replayed)
	assert.Equal(t, first.Result, second.Result)
}

func TestPromoteConflictsOnHashMismatchAfterApplied(t *testing.T) {
	p := newTestPipeline(t)
	ctx := context.Background()

	base := Request{SessionID: "sess-3", CheckpointID: "cp-1", ApplyMode: AllOrNothing,
		Facts: []Fact{{Category: "preference", Text: "likes tea", Source: "src"}}}
	_, err := p.Promote(ctx, base)
	require.NoError(t, err)

	changed := base
	changed.Facts = []Fact{{Category: "preference", Text: "likes coffee", Source: "src"}}
	outcome, err := p.Promote(ctx, changed)
	require.NoError(t, err)
	assert.Equal(t, ConflictHashMismatch, outcome.Conflict)
}

func TestPromoteBestEffortRejectsInvalidFacts(t *testing.T) {
	p := newTestPipeline(t)
	ctx := context.Background()

	req := Request{
		SessionID: "sess-4", CheckpointID: "cp-1", ApplyMode: BestEffort,
		Facts: []Fact{
			{Category: "preference", Text: "likes tea", Source: "src"},
			{Category: "", Text: "", Source: "src"},
		},
	}
	outcome, err := p.Promote(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, 1, outcome.Result.Rejected)
	assert.Len(t, outcome.Result.Persisted, 1)
}
