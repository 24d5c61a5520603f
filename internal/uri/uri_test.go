package uri

import (
	"testing"

	"github.com/axiomme/axiomme/internal/apperr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRootURI(t *testing.T) {
	u, err := Parse("axiom://resources")
	require.NoError(t, err)
	assert.Equal(t, ScopeResources, u.Scope())
	assert.True(t, u.IsRoot())
	assert.Equal(t, "axiom://resources", u.String())
}

func TestNormalizePath(t *testing.T) {
	u, err := Parse("axiom://resources//a///b/./c")
	require.NoError(t, err)
	assert.Equal(t, "axiom://resources/a/b/c", u.String())
}

func TestRejectTraversal(t *testing.T) {
	_, err := Parse("axiom://resources/a/../b")
	require.Error(t, err)
	assert.Equal(t, apperr.PathTraversal, apperr.CodeOf(err))
}

func TestRejectUnknownScope(t *testing.T) {
	_, err := Parse("axiom://unknown/path")
	require.Error(t, err)
	assert.Equal(t, apperr.InvalidScope, apperr.CodeOf(err))
}

func TestRejectBackslash(t *testing.T) {
	_, err := Parse(`axiom://resources/a\b`)
	require.Error(t, err)
	assert.Equal(t, apperr.InvalidURI, apperr.CodeOf(err))
}

func TestJoinRejectsTraversalSegments(t *testing.T) {
	root, err := Parse("axiom://resources")
	require.NoError(t, err)
	_, err = root.Join("../outside")
	require.Error(t, err)
	assert.Equal(t, apperr.PathTraversal, apperr.CodeOf(err))
}

func TestJoinAndParent(t *testing.T) {
	root, err := Parse("axiom://user")
	require.NoError(t, err)
	child, err := root.Join("memories/profile")
	require.NoError(t, err)
	assert.Equal(t, "axiom://user/memories/profile", child.String())

	parent, ok := child.Parent()
	require.True(t, ok)
	assert.Equal(t, "axiom://user/memories", parent.String())
}

func TestRootHasNoParent(t *testing.T) {
	root, err := Parse("axiom://agent")
	require.NoError(t, err)
	_, ok := root.Parent()
	assert.False(t, ok)
}

func TestStartsWithRespectsSlashBoundary(t *testing.T) {
	a := MustParse("axiom://resources/web-editor-x")
	b := MustParse("axiom://resources/web-editor")
	assert.False(t, a.StartsWith(b), "substring containment must not count as prefix")

	c := MustParse("axiom://resources/web-editor/child")
	assert.True(t, c.StartsWith(b))
	assert.True(t, b.StartsWith(b))
	assert.False(t, b.StartsWith(c))
}

func TestDepthMatchesSegmentCount(t *testing.T) {
	u := MustParse("axiom://resources/a/b/c")
	assert.Equal(t, 3, u.Depth())
	assert.Equal(t, []string{"a", "b", "c"}, u.Segments())
}

func TestScopeIsInternal(t *testing.T) {
	assert.True(t, ScopeTemp.IsInternal())
	assert.True(t, ScopeQueue.IsInternal())
	assert.False(t, ScopeResources.IsInternal())
}
