package outbox

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/axiomme/axiomme/internal/fs"
	"github.com/axiomme/axiomme/internal/index"
	"github.com/axiomme/axiomme/internal/models"
	"github.com/axiomme/axiomme/internal/store"
	"github.com/axiomme/axiomme/internal/uri"
)

func newTestReconciler(t *testing.T) (*Reconciler, *fs.FS, *index.Index, *store.Store) {
	t.Helper()
	dir := t.TempDir()
	fsys, err := fs.New(filepath.Join(dir, "tree"))
	require.NoError(t, err)
	st, err := store.New(context.Background(), store.Config{Path: filepath.Join(dir, "axiomme.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	idx := index.New()
	return NewReconciler(fsys, idx, st), fsys, idx, st
}

func TestRunReindexesUnindexedOnDiskFiles(t *testing.T) {
	r, fsys, idx, _ := newTestReconciler(t)
	u := uri.MustParse("axiom://resources/docs/a.md")
	require.NoError(t, fsys.Write(u, []byte("alpha body"), false))

	report, err := r.Run(context.Background(), uri.Root(uri.ScopeResources), false)
	require.NoError(t, err)

	assert.Equal(t, 1, report.Reindexed)
	require.Len(t, report.Drifts, 1)
	assert.Equal(t, DriftUnindexed, report.Drifts[0].Kind)

	rec, ok := idx.Get(u.String())
	require.True(t, ok)
	assert.Equal(t, "alpha body", rec.Content)
}

func TestDryRunReportsDriftWithoutMutatingIndex(t *testing.T) {
	r, fsys, idx, _ := newTestReconciler(t)
	u := uri.MustParse("axiom://resources/docs/a.md")
	require.NoError(t, fsys.Write(u, []byte("alpha body"), false))

	report, err := r.Run(context.Background(), uri.Root(uri.ScopeResources), true)
	require.NoError(t, err)

	assert.Equal(t, 0, report.Reindexed)
	require.Len(t, report.Drifts, 1)
	_, ok := idx.Get(u.String())
	assert.False(t, ok)
}

func TestRunPrunesMissingFilesWhenNotDryRun(t *testing.T) {
	r, _, idx, _ := newTestReconciler(t)
	idx.Upsert(models.IndexRecord{
		ID: "axiom://resources/docs/gone.md", URI: "axiom://resources/docs/gone.md",
		ParentURI: "axiom://resources/docs", IsLeaf: true,
		ContextType: models.ContextResource, Name: "gone.md",
		UpdatedAt: time.Now(), Depth: 2,
	})
	idx.Upsert(models.IndexRecord{
		ID: "axiom://resources/docs", URI: "axiom://resources/docs",
		ParentURI: "", IsLeaf: false, Name: "docs", Depth: 1,
	})

	report, err := r.Run(context.Background(), uri.Root(uri.ScopeResources), false)
	require.NoError(t, err)

	assert.Equal(t, 1, report.Pruned)
	_, ok := idx.Get("axiom://resources/docs/gone.md")
	assert.False(t, ok)
}

func TestRunOnCleanTreeReportsNoDrift(t *testing.T) {
	r, fsys, idx, st := newTestReconciler(t)
	u := uri.MustParse("axiom://resources/docs/a.md")
	require.NoError(t, fsys.Write(u, []byte("clean"), false))

	rec := models.IndexRecord{
		URI: u.String(), IsLeaf: true, ContextType: models.ContextResource,
		Name: "a.md", Content: "clean", UpdatedAt: time.Now(), Depth: 2,
	}
	idx.Upsert(rec)
	require.NoError(t, st.UpsertSearchDocument(context.Background(), rec))

	report, err := r.Run(context.Background(), uri.Root(uri.ScopeResources), false)
	require.NoError(t, err)
	assert.Empty(t, report.Drifts)
}
