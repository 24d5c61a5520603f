package session

import (
	"strings"

	"github.com/axiomme/axiomme/internal/index"
	"github.com/axiomme/axiomme/internal/models"
)

// DedupMode selects how a MemoryCandidate is resolved against existing
// memory peers.
type DedupMode string

const (
	DedupDeterministic DedupMode = "deterministic"
	DedupLLM           DedupMode = "llm"
	DedupAuto          DedupMode = "auto"
)

// DedupDecision is the outcome of resolving one candidate.
type DedupDecision string

const (
	DecisionCreate DedupDecision = "create"
	DecisionMerge  DedupDecision = "merge"
	DecisionSkip   DedupDecision = "skip"
)

const defaultSimilarityThreshold = 0.9

// DedupFunc lets an external LLM-backed resolver override the deterministic
// decision; nil falls back to the threshold-only deterministic rule.
type DedupFunc func(candidate MemoryCandidate, peer models.IndexRecord, similarity float64) DedupDecision

// resolveDedup decides create/merge/skip for candidate against the best
// matching peer in peers (already filtered to the candidate's category),
// per spec §4.8: embedding-cosine prefilter, then deterministic/LLM/auto.
func resolveDedup(mode DedupMode, llm DedupFunc, threshold float64, candidate MemoryCandidate, peers []models.IndexRecord) (DedupDecision, models.IndexRecord) {
	if threshold <= 0 {
		threshold = defaultSimilarityThreshold
	}
	candidateEmbed := index.Embed(candidate.Text)

	var best models.IndexRecord
	bestSim := -1.0
	for _, p := range peers {
		sim := index.Cosine(candidateEmbed, index.Embed(p.Content))
		if sim > bestSim {
			bestSim = sim
			best = p
		}
	}

	if bestSim < threshold {
		return DecisionCreate, models.IndexRecord{}
	}

	switch mode {
	case DedupLLM:
		if llm != nil {
			return llm(candidate, best, bestSim), best
		}
		return DecisionMerge, best
	case DedupAuto:
		if llm != nil {
			return llm(candidate, best, bestSim), best
		}
		return deterministicDecision(candidate, best, bestSim), best
	default:
		return deterministicDecision(candidate, best, bestSim), best
	}
}

// deterministicDecision merges on high similarity, skips on near-exact
// duplicate text, else creates.
func deterministicDecision(candidate MemoryCandidate, peer models.IndexRecord, similarity float64) DedupDecision {
	if strings.TrimSpace(strings.ToLower(candidate.Text)) == strings.TrimSpace(strings.ToLower(peer.Content)) {
		return DecisionSkip
	}
	if similarity >= defaultSimilarityThreshold {
		return DecisionMerge
	}
	return DecisionCreate
}

// buildMemoryKey derives the deterministic memory file key from a category
// and normalized candidate text, per spec §4.8.
func buildMemoryKey(category, normalizedText string) string {
	h := uint64(14695981039346656037)
	for _, b := range []byte(category + "|" + normalizedText) {
		h ^= uint64(b)
		h *= 1099511628211
	}
	return category + "-" + hex16(h)
}

func hex16(v uint64) string {
	const digits = "0123456789abcdef"
	buf := make([]byte, 16)
	for i := 15; i >= 0; i-- {
		buf[i] = digits[v&0xf]
		v >>= 4
	}
	return string(buf)
}

func normalizeText(text string) string {
	return strings.Join(strings.Fields(strings.ToLower(text)), " ")
}

// ResolveDedup, BuildMemoryKey, and NormalizeText are exported for the
// promotion package (C9), which resolves checkpointed facts against the
// same memory peers and key scheme used by session commit (C8).
func ResolveDedup(mode DedupMode, llm DedupFunc, threshold float64, candidate MemoryCandidate, peers []models.IndexRecord) (DedupDecision, models.IndexRecord) {
	return resolveDedup(mode, llm, threshold, candidate, peers)
}

func BuildMemoryKey(category, normalizedText string) string { return buildMemoryKey(category, normalizedText) }

func NormalizeText(text string) string { return normalizeText(text) }
