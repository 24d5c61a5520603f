package ingest

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/axiomme/axiomme/internal/fs"
	"github.com/axiomme/axiomme/internal/index"
	"github.com/axiomme/axiomme/internal/store"
	"github.com/axiomme/axiomme/internal/uri"
)

func newTestPipeline(t *testing.T) *Pipeline {
	t.Helper()
	dir := t.TempDir()
	fsys, err := fs.New(filepath.Join(dir, "tree"))
	require.NoError(t, err)
	st, err := store.New(context.Background(), store.Config{Path: filepath.Join(dir, "axiomme.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return NewPipeline(fsys, index.New(), st, nil)
}

func TestStartSessionCreatesStagedDirectory(t *testing.T) {
	p := newTestPipeline(t)
	sess, err := p.StartSession("unit-test")
	require.NoError(t, err)
	assert.NotEmpty(t, sess.ID)
}

func TestStageLocalPathAndWriteManifest(t *testing.T) {
	p := newTestPipeline(t)
	sess, err := p.StartSession("unit-test")
	require.NoError(t, err)

	srcDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(srcDir, "doc.md"), []byte("# Title\n\nbody"), 0o644))

	require.NoError(t, sess.StageLocalPath(filepath.Join(srcDir, "doc.md")))

	manifest, err := sess.WriteManifest()
	require.NoError(t, err)
	require.Len(t, manifest.Entries, 1)
	assert.Equal(t, "unit-test", manifest.Source)
}

func TestFinalizeToMovesAndIndexesFiles(t *testing.T) {
	p := newTestPipeline(t)
	sess, err := p.StartSession("unit-test")
	require.NoError(t, err)

	srcDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(srcDir, "doc.md"), []byte("content"), 0o644))
	require.NoError(t, sess.StageLocalPath(filepath.Join(srcDir, "doc.md")))

	target := uri.MustParse("axiom://resources/finalized")
	require.NoError(t, sess.FinalizeTo(context.Background(), target))

	docURI := uri.MustParse("axiom://resources/finalized/doc.md")
	rec, ok := p.idx.Get(docURI.String())
	require.True(t, ok)
	assert.Equal(t, "content", rec.Content)
}

func TestFinalizeTwiceFails(t *testing.T) {
	p := newTestPipeline(t)
	sess, err := p.StartSession("unit-test")
	require.NoError(t, err)

	target := uri.MustParse("axiom://resources/finalized2")
	require.NoError(t, sess.FinalizeTo(context.Background(), target))

	err = sess.FinalizeTo(context.Background(), target)
	require.Error(t, err)
}

func TestDropRemovesStagedDirectory(t *testing.T) {
	p := newTestPipeline(t)
	sess, err := p.StartSession("unit-test")
	require.NoError(t, err)

	require.NoError(t, sess.Drop())
}

func TestDropAfterFinalizeFails(t *testing.T) {
	p := newTestPipeline(t)
	sess, err := p.StartSession("unit-test")
	require.NoError(t, err)

	target := uri.MustParse("axiom://resources/finalized3")
	require.NoError(t, sess.FinalizeTo(context.Background(), target))

	err = sess.Drop()
	require.Error(t, err)
}

func TestStageRemoteObjectWithoutClientFails(t *testing.T) {
	p := newTestPipeline(t)
	sess, err := p.StartSession("unit-test")
	require.NoError(t, err)

	err = sess.StageRemoteObject(context.Background(), nil, "bucket", "key")
	require.Error(t, err)
}
