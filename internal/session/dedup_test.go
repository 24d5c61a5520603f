package session

import (
	"testing"

	"github.com/axiomme/axiomme/internal/models"
	"github.com/stretchr/testify/assert"
)

func TestResolveDedupCreatesWhenNoSimilarPeer(t *testing.T) {
	candidate := MemoryCandidate{Category: "preference", Text: "prefers dark mode in the editor"}
	peers := []models.IndexRecord{{URI: "axiom://user/memories/preference/x.md", Content: "unrelated pizza topping opinion"}}

	decision, _ := resolveDedup(DedupDeterministic, nil, 0, candidate, peers)
	assert.Equal(t, DecisionCreate, decision)
}

func TestResolveDedupSkipsNearExactDuplicate(t *testing.T) {
	candidate := MemoryCandidate{Category: "preference", Text: "Prefers Dark Mode"}
	peers := []models.IndexRecord{{URI: "axiom://user/memories/preference/x.md", Content: "prefers dark mode"}}

	decision, peer := resolveDedup(DedupDeterministic, nil, 0, candidate, peers)
	assert.Equal(t, DecisionSkip, decision)
	assert.Equal(t, "axiom://user/memories/preference/x.md", peer.URI)
}

func TestResolveDedupUsesLLMOverrideWhenProvided(t *testing.T) {
	candidate := MemoryCandidate{Category: "preference", Text: "prefers dark mode"}
	peers := []models.IndexRecord{{URI: "axiom://user/memories/preference/x.md", Content: "prefers dark mode"}}

	calls := 0
	llm := func(c MemoryCandidate, peer models.IndexRecord, sim float64) DedupDecision {
		calls++
		return DecisionMerge
	}
	decision, _ := resolveDedup(DedupLLM, llm, 0, candidate, peers)
	assert.Equal(t, DecisionMerge, decision)
	assert.Equal(t, 1, calls)
}

func TestBuildMemoryKeyIsDeterministicAndCategoryScoped(t *testing.T) {
	a := buildMemoryKey("preference", normalizeText("Prefers Dark Mode"))
	b := buildMemoryKey("preference", normalizeText("prefers   dark mode"))
	c := buildMemoryKey("fact", normalizeText("Prefers Dark Mode"))

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Contains(t, a, "preference-")
}

func TestNormalizeTextCollapsesWhitespaceAndCase(t *testing.T) {
	assert.Equal(t, "hello world", normalizeText("  Hello   World  "))
}
