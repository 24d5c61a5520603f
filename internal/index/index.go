// Package index implements the in-memory index (C3): per-URI records,
// corpus-derived statistics, and the hybrid scoring search used by the
// retrieval engine.
package index

import (
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/axiomme/axiomme/internal/models"
)

var tokenPattern = regexp.MustCompile(`[^a-z0-9]+`)

// stopwords mirrors the minimal English stopword set filtered out of
// tokenization; kept intentionally small since over-filtering hides
// legitimate short query terms.
var stopwords = map[string]struct{}{
	"the": {}, "and": {}, "for": {}, "are": {}, "but": {}, "not": {},
	"you": {}, "all": {}, "can": {}, "has": {}, "was": {}, "were": {},
	"this": {}, "that": {}, "with": {}, "from": {}, "into": {},
}

// Embed computes the deterministic hashed-projection embedding for text,
// exported so callers outside the package (session memory dedup) can run
// the same cosine-similarity prefilter the index itself uses.
func Embed(text string) []float64 {
	return hashEmbed(Tokenize(text))
}

// Cosine exposes the package's cosine similarity for the same reason.
func Cosine(a, b []float64) float64 {
	return cosine(a, b)
}

// Tokenize lowercases, splits on non-alphanumeric runs, drops tokens
// shorter than 3 characters, and filters stopwords.
func Tokenize(text string) []string {
	lower := strings.ToLower(text)
	raw := tokenPattern.Split(lower, -1)
	out := make([]string, 0, len(raw))
	for _, tok := range raw {
		if len(tok) < 3 {
			continue
		}
		if _, stop := stopwords[tok]; stop {
			continue
		}
		out = append(out, tok)
	}
	return out
}

func tokenSet(tokens []string) map[string]struct{} {
	set := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		set[t] = struct{}{}
	}
	return set
}

// embedDim is the dimensionality of the deterministic hashed-projection
// embedding used when no real embedding model is configured.
const embedDim = 64

// hashEmbed computes a deterministic bag-of-tokens hashed projection. It is
// not semantically meaningful beyond term co-occurrence but is stable and
// requires no external model, matching the "unless a model is configured"
// fallback named in the corpus-derived state contract.
func hashEmbed(tokens []string) []float64 {
	vec := make([]float64, embedDim)
	for _, tok := range tokens {
		h := fnv1a(tok)
		vec[int(h%uint64(embedDim))] += 1
	}
	normalize(vec)
	return vec
}

func fnv1a(s string) uint64 {
	const offset = 14695981039346656037
	const prime = 1099511628211
	h := uint64(offset)
	for i := 0; i < len(s); i++ {
		h ^= uint64(s[i])
		h *= prime
	}
	return h
}

func normalize(v []float64) {
	var sumSq float64
	for _, x := range v {
		sumSq += x * x
	}
	if sumSq == 0 {
		return
	}
	norm := sqrt(sumSq)
	for i := range v {
		v[i] /= norm
	}
}

func sqrt(x float64) float64 {
	if x <= 0 {
		return 0
	}
	z := x
	for i := 0; i < 20; i++ {
		z -= (z*z - x) / (2 * z)
	}
	return z
}

// docState holds everything derived from a leaf's content, used for
// scoring. Non-leaf (directory summary) records still populate this from
// their abstract text.
type docState struct {
	tokens      []string
	tokenSet    map[string]struct{}
	termFreqs   map[string]int
	docLength   int
	embedding   []float64
	exactKeys   map[string]struct{}
	textLower   string
}

// Index is the process-wide in-memory index. Safe for concurrent readers;
// writers (Upsert/Remove) exclude all other access.
type Index struct {
	mu sync.RWMutex

	records  map[string]models.IndexRecord
	docs     map[string]docState
	docFreqs map[string]int
	totalDocLen int
	leafCount   int

	childrenByParent map[string]map[string]models.ChildIndexEntry
}

// New returns an empty index.
func New() *Index {
	return &Index{
		records:          make(map[string]models.IndexRecord),
		docs:             make(map[string]docState),
		docFreqs:         make(map[string]int),
		childrenByParent: make(map[string]map[string]models.ChildIndexEntry),
	}
}

func buildExactKeys(r models.IndexRecord) map[string]struct{} {
	keys := make(map[string]struct{})
	for _, tok := range Tokenize(r.Name) {
		keys[tok] = struct{}{}
	}
	for _, tag := range r.Tags {
		for _, tok := range Tokenize(tag) {
			keys[tok] = struct{}{}
		}
	}
	for _, seg := range strings.Split(r.URI, "/") {
		for _, tok := range Tokenize(seg) {
			keys[tok] = struct{}{}
		}
	}
	return keys
}

// Upsert inserts or replaces the record and maintains all corpus-derived
// maps plus the parent->children graph. When r.ParentURI names a record
// not yet in the index, a non-leaf placeholder is synthesized for that
// direct parent only; the placeholder carries no ParentURI, so ancestors
// above it are neither synthesized nor linked.
func (idx *Index) Upsert(r models.IndexRecord) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.upsertLocked(r)
}

func (idx *Index) upsertLocked(r models.IndexRecord) {
	if old, ok := idx.docs[r.URI]; ok {
		idx.removeDocStatsLocked(r.URI, old)
	}

	text := r.Content
	if text == "" {
		text = r.Abstract
	}
	tokens := Tokenize(text)
	ts := tokenSet(tokens)
	tf := make(map[string]int, len(tokens))
	for _, t := range tokens {
		tf[t]++
	}
	ds := docState{
		tokens:    tokens,
		tokenSet:  ts,
		termFreqs: tf,
		docLength: len(tokens),
		embedding: hashEmbed(tokens),
		exactKeys: buildExactKeys(r),
		textLower: strings.ToLower(text),
	}

	idx.records[r.URI] = r
	idx.docs[r.URI] = ds
	for term := range ts {
		idx.docFreqs[term]++
	}
	idx.totalDocLen += ds.docLength
	if r.IsLeaf {
		idx.leafCount++
	}

	idx.linkParentLocked(r)
}

func (idx *Index) linkParentLocked(r models.IndexRecord) {
	if r.ParentURI == "" {
		return
	}
	children, ok := idx.childrenByParent[r.ParentURI]
	if !ok {
		children = make(map[string]models.ChildIndexEntry)
		idx.childrenByParent[r.ParentURI] = children
	}
	children[r.URI] = models.ChildIndexEntry{URI: r.URI, IsLeaf: r.IsLeaf}

	if _, exists := idx.records[r.ParentURI]; !exists {
		placeholder := models.IndexRecord{
			ID:          r.ParentURI,
			URI:         r.ParentURI,
			IsLeaf:      false,
			ContextType: r.ContextType,
			Depth:       r.Depth - 1,
			UpdatedAt:   r.UpdatedAt,
		}
		idx.upsertLocked(placeholder)
	}
}

func (idx *Index) removeDocStatsLocked(u string, ds docState) {
	for term := range ds.tokenSet {
		if idx.docFreqs[term] > 0 {
			idx.docFreqs[term]--
			if idx.docFreqs[term] == 0 {
				delete(idx.docFreqs, term)
			}
		}
	}
	idx.totalDocLen -= ds.docLength
	if rec, ok := idx.records[u]; ok && rec.IsLeaf {
		idx.leafCount--
	}
}

// Remove deletes the record at u and prunes its corpus statistics. The
// parent entry in childrenByParent is left intact (a directory may retain
// other children, or be a bare placeholder).
func (idx *Index) Remove(u string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	ds, ok := idx.docs[u]
	if !ok {
		return
	}
	idx.removeDocStatsLocked(u, ds)
	delete(idx.docs, u)
	rec := idx.records[u]
	delete(idx.records, u)
	if rec.ParentURI != "" {
		if children, ok := idx.childrenByParent[rec.ParentURI]; ok {
			delete(children, u)
		}
	}
	delete(idx.childrenByParent, u)
}

// Get returns a copy of the record at u.
func (idx *Index) Get(u string) (models.IndexRecord, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	r, ok := idx.records[u]
	return r, ok
}

// Children returns the direct children of parent, sorted by URI.
func (idx *Index) Children(parent string) []models.ChildIndexEntry {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	children := idx.childrenByParent[parent]
	out := make([]models.ChildIndexEntry, 0, len(children))
	for _, c := range children {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].URI < out[j].URI })
	return out
}

// Len returns the number of records held by the index.
func (idx *Index) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.records)
}

func (idx *Index) avgDocLen() float64 {
	if len(idx.docs) == 0 {
		return 0
	}
	return float64(idx.totalDocLen) / float64(len(idx.docs))
}

// SearchOptions constrains an Index.Search call.
type SearchOptions struct {
	Query          string
	Target         string // URI string prefix restriction, "" for none
	Limit          int
	ScoreThreshold float64
	Filter         *models.Filter
	Now            time.Time // injected for deterministic recency scoring in tests
}

// ancestorChainLocked returns u followed by each ParentURI up the chain,
// stopping at the first record that is absent or has no parent.
func (idx *Index) ancestorChainLocked(u string) []string {
	chain := []string{u}
	cur := u
	for {
		rec, ok := idx.records[cur]
		if !ok || rec.ParentURI == "" {
			break
		}
		chain = append(chain, rec.ParentURI)
		cur = rec.ParentURI
	}
	return chain
}

// projectFilterLocked returns the set of URIs surviving a tag/mime filter:
// every leaf matching the filter plus every ancestor of such a leaf.
func (idx *Index) projectFilterLocked(filter *models.Filter) map[string]struct{} {
	allowed := make(map[string]struct{})
	for u, rec := range idx.records {
		if !rec.IsLeaf {
			continue
		}
		if !matchesFilter(rec, filter) {
			continue
		}
		for _, anc := range idx.ancestorChainLocked(u) {
			allowed[anc] = struct{}{}
		}
	}
	return allowed
}

func matchesFilter(rec models.IndexRecord, filter *models.Filter) bool {
	if filter.IsEmpty() {
		return true
	}
	if len(filter.Tags) > 0 {
		tagSet := make(map[string]struct{}, len(rec.Tags))
		for _, t := range rec.Tags {
			tagSet[t] = struct{}{}
		}
		matched := false
		for _, want := range filter.Tags {
			if _, ok := tagSet[want]; ok {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	// MIME is not tracked on IndexRecord directly in this model; reserved
	// for future content-type metadata and currently a no-op match.
	return true
}

func computePathRelation(candidate, target string) pathRelation {
	if target == "" {
		return pathUnrelated
	}
	if candidate == target {
		return pathEqual
	}
	if strings.HasPrefix(candidate, target+"/") {
		return pathCandidateUnderTarget
	}
	if strings.HasPrefix(target, candidate+"/") {
		return pathTargetUnderCandidate
	}
	// scope-root relation: same scope prefix (first path segment of the
	// URI string before the first '/')
	candScope := scopeOf(candidate)
	targetScope := scopeOf(target)
	if candScope != "" && candScope == targetScope {
		return pathUnderScopeRoot
	}
	return pathUnrelated
}

func scopeOf(u string) string {
	const p = "axiom://"
	if !strings.HasPrefix(u, p) {
		return ""
	}
	rest := u[len(p):]
	if idx := strings.IndexByte(rest, '/'); idx >= 0 {
		return rest[:idx]
	}
	return rest
}

// Search scores every candidate URI (after optional filter projection and
// target-prefix restriction) and returns the top results sorted by score
// desc, then exact desc, then URI asc.
func (idx *Index) Search(opts SearchOptions) []models.ScoredRecord {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}

	queryTokens := Tokenize(opts.Query)
	queryTokenSet := tokenSet(queryTokens)
	queryEmbed := hashEmbed(queryTokens)
	queryLower := strings.ToLower(opts.Query)

	var allowed map[string]struct{}
	if !opts.Filter.IsEmpty() {
		allowed = idx.projectFilterLocked(opts.Filter)
	}

	avgLen := idx.avgDocLen()
	totalDocs := len(idx.docs)

	results := make([]models.ScoredRecord, 0, len(idx.records))
	for u, rec := range idx.records {
		if allowed != nil {
			if _, ok := allowed[u]; !ok {
				continue
			}
		}
		if opts.Target != "" && !underOrEqual(u, opts.Target) {
			continue
		}
		ds, ok := idx.docs[u]
		if !ok {
			continue
		}

		exact := exactKeyScore(queryTokens, ds.exactKeys)
		dense := cosine(queryEmbed, ds.embedding)
		sparse := sparseScore(queryTokenSet, ds.tokenSet, queryTokens, ds.termFreqs, float64(ds.docLength), avgLen, totalDocs, idx.docFreqs, queryLower, ds.textLower)
		recency := recencyScore(rec.UpdatedAt, now)
		path := pathScoreFor(computePathRelation(u, opts.Target))

		score, exactOut := composeScore(exact, dense, sparse, recency, path)
		if opts.ScoreThreshold > 0 && score < opts.ScoreThreshold {
			continue
		}
		results = append(results, models.ScoredRecord{Record: rec, Score: score, Exact: exactOut})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		if results[i].Exact != results[j].Exact {
			return results[i].Exact > results[j].Exact
		}
		return results[i].Record.URI < results[j].Record.URI
	})

	if opts.Limit > 0 && len(results) > opts.Limit {
		results = results[:opts.Limit]
	}
	return results
}

func underOrEqual(candidate, target string) bool {
	if candidate == target {
		return true
	}
	return strings.HasPrefix(candidate, target+"/")
}

// SearchDirectories restricts Search results to non-leaf records.
func (idx *Index) SearchDirectories(opts SearchOptions) []models.ScoredRecord {
	all := idx.Search(opts)
	out := make([]models.ScoredRecord, 0, len(all))
	for _, r := range all {
		if !r.Record.IsLeaf {
			out = append(out, r)
		}
	}
	return out
}
