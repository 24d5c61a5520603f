package fs

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/axiomme/axiomme/internal/apperr"
	"github.com/axiomme/axiomme/internal/uri"
)

func newTestFS(t *testing.T) *FS {
	t.Helper()
	f, err := New(t.TempDir())
	require.NoError(t, err)
	return f
}

func TestWriteReadRoundTrips(t *testing.T) {
	f := newTestFS(t)
	u := uri.MustParse("axiom://resources/docs/readme.md")

	require.NoError(t, f.Write(u, []byte("hello"), false))
	data, err := f.Read(u)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
}

func TestWriteSystemFileWithoutSystemFlagIsDenied(t *testing.T) {
	f := newTestFS(t)
	u := uri.MustParse("axiom://resources/docs/.meta.json")

	err := f.Write(u, []byte("{}"), false)
	require.Error(t, err)
	assert.Equal(t, apperr.PermissionDenied, apperr.CodeOf(err))

	require.NoError(t, f.Write(u, []byte("{}"), true))
}

func TestWriteInternalScopeWithoutSystemFlagIsDenied(t *testing.T) {
	f := newTestFS(t)
	u := uri.MustParse("axiom://temp/scratch.txt")

	err := f.Write(u, []byte("x"), false)
	require.Error(t, err)
	assert.Equal(t, apperr.PermissionDenied, apperr.CodeOf(err))

	require.NoError(t, f.Write(u, []byte("x"), true))
}

func TestReadMissingReturnsNotFound(t *testing.T) {
	f := newTestFS(t)
	_, err := f.Read(uri.MustParse("axiom://resources/missing.txt"))
	require.Error(t, err)
	assert.Equal(t, apperr.NotFound, apperr.CodeOf(err))
}

func TestAppendAccumulatesContent(t *testing.T) {
	f := newTestFS(t)
	u := uri.MustParse("axiom://session/abc/messages.jsonl")

	require.NoError(t, f.Append(u, []byte("line1\n"), true))
	require.NoError(t, f.Append(u, []byte("line2\n"), true))

	data, err := f.Read(u)
	require.NoError(t, err)
	assert.Equal(t, "line1\nline2\n", string(data))
}

func TestListRecursiveReturnsSortedEntries(t *testing.T) {
	f := newTestFS(t)
	root := uri.MustParse("axiom://resources/docs")
	require.NoError(t, f.Write(uri.MustParse("axiom://resources/docs/b.md"), []byte("b"), false))
	require.NoError(t, f.Write(uri.MustParse("axiom://resources/docs/a.md"), []byte("a"), false))
	require.NoError(t, f.Write(uri.MustParse("axiom://resources/docs/sub/c.md"), []byte("c"), false))

	entries, err := f.List(root, true)
	require.NoError(t, err)
	require.Len(t, entries, 4) // a.md, b.md, sub/, sub/c.md

	var names []string
	for _, e := range entries {
		names = append(names, e.Name)
	}
	assert.Contains(t, names, "a.md")
	assert.Contains(t, names, "sub")
}

func TestListNonRecursiveStopsAtFirstLevel(t *testing.T) {
	f := newTestFS(t)
	root := uri.MustParse("axiom://resources/docs")
	require.NoError(t, f.Write(uri.MustParse("axiom://resources/docs/sub/c.md"), []byte("c"), false))

	entries, err := f.List(root, false)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, entries[0].IsDir)
}

func TestRmNonRecursiveFailsOnNonEmptyDir(t *testing.T) {
	f := newTestFS(t)
	dir := uri.MustParse("axiom://resources/docs")
	require.NoError(t, f.Write(uri.MustParse("axiom://resources/docs/a.md"), []byte("a"), false))

	err := f.Rm(dir, false, false)
	require.Error(t, err)

	require.NoError(t, f.Rm(dir, true, false))
	assert.False(t, f.Exists(dir))
}

func TestMvRejectsCrossScope(t *testing.T) {
	f := newTestFS(t)
	from := uri.MustParse("axiom://resources/a.md")
	to := uri.MustParse("axiom://user/a.md")
	require.NoError(t, f.Write(from, []byte("a"), false))

	err := f.Mv(from, to)
	require.Error(t, err)
	assert.Equal(t, apperr.PermissionDenied, apperr.CodeOf(err))
}

func TestMvWithinScope(t *testing.T) {
	f := newTestFS(t)
	from := uri.MustParse("axiom://resources/a.md")
	to := uri.MustParse("axiom://resources/sub/a.md")
	require.NoError(t, f.Write(from, []byte("a"), false))

	require.NoError(t, f.Mv(from, to))
	assert.False(t, f.Exists(from))
	assert.True(t, f.Exists(to))
}

func TestResolveURIStaysUnderRoot(t *testing.T) {
	f := newTestFS(t)
	u := uri.MustParse("axiom://resources/docs/readme.md")
	path := f.ResolveURI(u)
	assert.True(t, filepath.IsAbs(path))
	assert.Equal(t, filepath.Join(f.root, "resources", "docs", "readme.md"), path)
}

func TestIsSystemReservedIsCaseInsensitive(t *testing.T) {
	assert.True(t, IsSystemReserved(".META.JSON"))
	assert.False(t, IsSystemReserved("readme.md"))
}
