package index

import (
	"testing"
	"time"

	"github.com/axiomme/axiomme/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rec(uri, parent string, leaf bool, content string, depth int) models.IndexRecord {
	return models.IndexRecord{
		ID:          uri,
		URI:         uri,
		ParentURI:   parent,
		IsLeaf:      leaf,
		ContextType: models.ContextResource,
		Name:        uri,
		Content:     content,
		UpdatedAt:   time.Now(),
		Depth:       depth,
	}
}

func TestUpsertSynthesizesMissingParents(t *testing.T) {
	idx := New()
	idx.Upsert(rec("axiom://resources/a/b/c.md", "axiom://resources/a/b", true, "hello world", 3))

	parent, ok := idx.Get("axiom://resources/a/b")
	require.True(t, ok)
	assert.False(t, parent.IsLeaf)

	children := idx.Children("axiom://resources/a/b")
	require.Len(t, children, 1)
	assert.Equal(t, "axiom://resources/a/b/c.md", children[0].URI)
}

func TestSearchFindsExactToken(t *testing.T) {
	idx := New()
	idx.Upsert(rec("axiom://resources/web-editor/x.md", "axiom://resources/web-editor", true, "this document mentions alpha_token clearly", 2))
	idx.Upsert(rec("axiom://resources/other/y.md", "axiom://resources/other", true, "unrelated content about nothing special", 2))

	results := idx.Search(SearchOptions{Query: "alpha_token", Limit: 10})
	require.NotEmpty(t, results)
	assert.Equal(t, "axiom://resources/web-editor/x.md", results[0].Record.URI)
	assert.Greater(t, results[0].Score, 0.0)
}

func TestSearchTargetPrefixEnforced(t *testing.T) {
	idx := New()
	idx.Upsert(rec("axiom://resources/a/x.md", "axiom://resources/a", true, "shared content token", 2))
	idx.Upsert(rec("axiom://resources/b/x.md", "axiom://resources/b", true, "shared content token", 2))

	results := idx.Search(SearchOptions{Query: "shared", Target: "axiom://resources/a", Limit: 5})
	// the synthesized parent equals the target and is kept; b/x.md is not
	require.Len(t, results, 2)
	assert.Equal(t, "axiom://resources/a/x.md", results[0].Record.URI)
	assert.Equal(t, "axiom://resources/a", results[1].Record.URI)
}

func TestSearchTieBreakOnURIAscending(t *testing.T) {
	idx := New()
	now := time.Now()
	for _, u := range []string{"axiom://resources/z.md", "axiom://resources/a.md"} {
		idx.Upsert(models.IndexRecord{
			ID: u, URI: u, IsLeaf: true, ContextType: models.ContextResource,
			Name: "doc", Content: "irrelevant filler text", UpdatedAt: now, Depth: 1,
		})
	}
	results := idx.Search(SearchOptions{Query: "nonexistentterm", Limit: 10})
	// both score identically (0 relevance path); must tie-break URI ascending
	require.Len(t, results, 2)
	assert.Equal(t, "axiom://resources/a.md", results[0].Record.URI)
	assert.Equal(t, "axiom://resources/z.md", results[1].Record.URI)
}

func TestRemovePrunesCorpusStats(t *testing.T) {
	idx := New()
	idx.Upsert(rec("axiom://resources/a/x.md", "axiom://resources/a", true, "unique_marker_token", 2))
	idx.Remove("axiom://resources/a/x.md")
	_, ok := idx.Get("axiom://resources/a/x.md")
	assert.False(t, ok)
	results := idx.Search(SearchOptions{Query: "unique_marker_token", Limit: 10})
	// only the synthesized parent placeholder remains
	require.Len(t, results, 1)
	assert.Equal(t, "axiom://resources/a", results[0].Record.URI)
}

func TestFilterProjectionIncludesAncestors(t *testing.T) {
	idx := New()
	idx.Upsert(models.IndexRecord{
		ID: "axiom://resources/a/b/tagged.md", URI: "axiom://resources/a/b/tagged.md",
		ParentURI: "axiom://resources/a/b", IsLeaf: true, ContextType: models.ContextResource,
		Tags: []string{"keep"}, Content: "content", UpdatedAt: time.Now(), Depth: 3,
	})
	idx.Upsert(models.IndexRecord{
		ID: "axiom://resources/a/b/other.md", URI: "axiom://resources/a/b/other.md",
		ParentURI: "axiom://resources/a/b", IsLeaf: true, ContextType: models.ContextResource,
		Tags: []string{"drop"}, Content: "content", UpdatedAt: time.Now(), Depth: 3,
	})

	results := idx.Search(SearchOptions{Query: "content", Filter: &models.Filter{Tags: []string{"keep"}}, Limit: 10})
	uris := make([]string, 0, len(results))
	for _, r := range results {
		uris = append(uris, r.Record.URI)
	}
	assert.Contains(t, uris, "axiom://resources/a/b/tagged.md")
	assert.Contains(t, uris, "axiom://resources/a/b") // ancestor kept
	assert.NotContains(t, uris, "axiom://resources/a/b/other.md")
}
