package retrieval

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/axiomme/axiomme/internal/apperr"
	"github.com/axiomme/axiomme/internal/fs"
	"github.com/axiomme/axiomme/internal/index"
	"github.com/axiomme/axiomme/internal/metrics"
	"github.com/axiomme/axiomme/internal/models"
	"github.com/axiomme/axiomme/internal/store"
	"github.com/google/uuid"
)

// Backend selects which store Find reads from.
type Backend string

const (
	BackendMemory Backend = "memory"
	BackendSQLite Backend = "sqlite"
)

// DeadLetterFunc enqueues a dead-lettered outbox event, used when the
// sqlite backend fails and Find falls back to memory.
type DeadLetterFunc func(ctx context.Context, eventType models.OutboxEventType, uri string, payload []byte)

// Engine is the retrieval engine (C4): intent planning, fan-out, scoring
// merge, and trace persistence.
type Engine struct {
	idx        *index.Index
	st         *store.Store
	fsys       *fs.FS
	backend    Backend
	onDeadLetter DeadLetterFunc
}

// NewEngine builds a retrieval Engine. backend selects the default search
// path; onDeadLetter may be nil (fallback notes are still logged); fsys may
// be nil to skip .relations.json enrichment.
func NewEngine(idx *index.Index, st *store.Store, fsys *fs.FS, backend Backend, onDeadLetter DeadLetterFunc) *Engine {
	if backend == "" {
		backend = BackendMemory
	}
	return &Engine{idx: idx, st: st, fsys: fsys, backend: backend, onDeadLetter: onDeadLetter}
}

// Find runs the full intent-plan -> fan-out -> merge -> trace pipeline.
func (e *Engine) Find(ctx context.Context, opts SearchOptions) (FindResult, error) {
	start := time.Now()
	traceID := uuid.NewString()
	limit := opts.Limit
	if limit <= 0 {
		limit = 20
	}

	planned := planQueries(opts)
	backend := e.backend
	var notes []string

	merged := map[string]Hit{}
	var steps []TraceStep
	exploredNodes := 0
	var lastStopReason string
	deadline := effectiveDeadline(start, opts.Budget)

	for round, pq := range planned {
		if opts.Budget.MaxMS > 0 && time.Now().After(deadline) {
			lastStopReason = "budget_ms"
			break
		}
		if opts.Budget.MaxNodes > 0 && exploredNodes >= opts.Budget.MaxNodes {
			lastStopReason = "budget_nodes"
			break
		}

		weight := priorityWeight(pq.Priority)
		hits, scanned, reason := e.runSubQuery(ctx, pq, opts, limit, &backend, &notes)
		exploredNodes += scanned
		lastStopReason = reason

		for _, h := range hits {
			h.Score *= weight
			if existing, ok := merged[h.URI]; !ok || h.Score > existing.Score {
				merged[h.URI] = h
			}
		}

		steps = append(steps, TraceStep{Round: round + 1, Kind: string(pq.Kind), Query: pq.Query, HitCount: len(hits), StopReason: reason})
	}

	stopReason := lastStopReason
	if len(steps) > 1 {
		var reasons []string
		for _, s := range steps {
			reasons = append(reasons, s.StopReason)
		}
		stopReason = "fanout:" + strings.Join(reasons, "|")
	}

	hits := make([]Hit, 0, len(merged))
	for _, h := range merged {
		hits = append(hits, h)
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].URI < hits[j].URI
	})
	if len(hits) > limit {
		hits = hits[:limit]
	}

	hits, relHits, relLinks := enrichWithRelations(e.fsys, hits)

	result := FindResult{
		Hits:      hits,
		Memories:  bucketBy(hits, models.ContextMemory),
		Resources: bucketBy(hits, models.ContextResource),
		Skills:    bucketBy(hits, models.ContextSkill),
		QueryPlan: buildQueryPlan(opts, planned, string(backend), notes),
	}

	finalTopK := make([]string, 0, len(hits))
	for _, h := range hits {
		finalTopK = append(finalTopK, h.URI)
	}
	startPoints := make([]string, 0, len(planned))
	for _, pq := range planned {
		startPoints = append(startPoints, strings.Join(pq.Scopes, ","))
	}

	trace := RetrievalTrace{
		TraceID: traceID, RequestType: opts.RequestType, Query: opts.Query, TargetURI: opts.TargetURI,
		StartPoints: startPoints, Steps: steps, FinalTopK: finalTopK, StopReason: stopReason,
		Metrics: TraceMetrics{
			LatencyMS: time.Since(start).Milliseconds(), ExploredNodes: exploredNodes,
			ConvergenceRounds: len(steps), TypedQueryCount: len(planned),
			RelationEnrichedHits: relHits, RelationEnrichedLinks: relLinks,
		},
		CreatedAt: time.Now(),
	}
	result.Trace = trace

	metrics.RetrievalLatency.WithLabelValues(string(backend), stopReason).Observe(time.Since(start).Seconds())
	metrics.RetrievalHitsReturned.WithLabelValues(opts.RequestType).Observe(float64(len(hits)))

	if e.st != nil {
		payload, err := json.Marshal(trace)
		if err != nil {
			return result, apperr.Wrap(apperr.JSONError, "retrieval.find", err)
		}
		if err := e.st.UpsertTrace(ctx, traceID, opts.RequestType, opts.Query, opts.TargetURI, payload); err != nil {
			slog.Warn("failed to persist retrieval trace", "trace_id", traceID, "error", err)
		}
	}

	return result, nil
}

func effectiveDeadline(start time.Time, b Budget) time.Time {
	if b.MaxMS <= 0 {
		return start.Add(24 * time.Hour)
	}
	return start.Add(time.Duration(b.MaxMS) * time.Millisecond)
}

// runSubQuery executes one planned query against the configured backend,
// falling back from sqlite to memory on any store error.
func (e *Engine) runSubQuery(ctx context.Context, pq PlannedQuery, opts SearchOptions, limit int, backend *Backend, notes *[]string) ([]Hit, int, string) {
	target := ""
	if len(pq.Scopes) == 1 {
		target = "axiom://" + pq.Scopes[0]
	}

	fellBack := false
	if *backend == BackendSQLite {
		ftsOpts := store.SearchFTSOptions{Query: pq.Query, Prefix: target, Limit: limit, MinMatchTokens: opts.MinMatchTokens}
		sqliteHits, err := e.st.SearchDocumentsFTS(ctx, ftsOpts)
		if err == nil {
			return toHits(sqliteHits), len(sqliteHits), "sqlite_ok"
		}
		code := apperr.CodeOf(err)
		note := "backend_fallback:memory(" + string(code) + ")"
		*notes = append(*notes, note)
		*backend = BackendMemory
		fellBack = true
		slog.Warn("sqlite retrieval backend failed, falling back to memory", "error", err, "code", code)
	}

	memHits := e.idx.Search(index.SearchOptions{
		Query: pq.Query, Target: target, Limit: limit, ScoreThreshold: opts.ScoreThreshold,
		Filter: convertFilter(opts.Filter),
	})
	hits := toScoredHits(memHits)

	if fellBack && e.onDeadLetter != nil {
		e.enqueueSemanticRescan(ctx, target, hits)
	}

	return hits, e.idx.Len(), "memory_ok"
}

// semanticScanPayload mirrors internal/outbox's dispatchSemanticScan payload
// shape: a batch of URIs whose search_documents mirror should be
// resynthesized once the sqlite backend recovers.
type semanticScanPayload struct {
	URIs []string `json:"uris"`
}

// enqueueSemanticRescan dead-letters the URIs surfaced by the memory
// fallback so the outbox replay worker can reindex them into
// search_documents once sqlite is healthy again.
func (e *Engine) enqueueSemanticRescan(ctx context.Context, target string, hits []Hit) {
	uris := make([]string, 0, len(hits))
	for _, h := range hits {
		uris = append(uris, h.URI)
	}
	payload, err := json.Marshal(semanticScanPayload{URIs: uris})
	if err != nil {
		slog.Warn("failed to build semantic rescan payload", "error", err)
		return
	}
	scanURI := target
	if scanURI == "" {
		scanURI = "axiom://resources"
	}
	e.onDeadLetter(ctx, models.EventSemanticScan, scanURI, payload)
}

func toHits(sh []models.SearchHit) []Hit {
	out := make([]Hit, 0, len(sh))
	for _, h := range sh {
		out = append(out, Hit{URI: h.URI, Score: h.Score, Abstract: h.Abstract, ContextType: string(h.ContextType)})
	}
	return out
}

func toScoredHits(sr []models.ScoredRecord) []Hit {
	out := make([]Hit, 0, len(sr))
	for _, r := range sr {
		out = append(out, Hit{URI: r.Record.URI, Score: r.Score, Abstract: r.Record.Abstract, ContextType: string(r.Record.ContextType)})
	}
	return out
}

func convertFilter(f *Filter) *models.Filter {
	if f == nil {
		return nil
	}
	return &models.Filter{Tags: f.Tags, MIME: f.MIME}
}

func bucketBy(hits []Hit, ct models.ContextType) []Hit {
	var out []Hit
	prefix := "axiom://" + scopePrefixFor(ct)
	for _, h := range hits {
		if strings.HasPrefix(h.URI, prefix) || h.ContextType == string(ct) {
			out = append(out, h)
		}
	}
	return out
}

func scopePrefixFor(ct models.ContextType) string {
	switch ct {
	case models.ContextMemory:
		return "user"
	case models.ContextSkill:
		return "agent"
	default:
		return "resources"
	}
}

func buildQueryPlan(opts SearchOptions, planned []PlannedQuery, backend string, notes []string) QueryPlan {
	scopeSet := map[string]bool{}
	var scopes []string
	var typed []string
	var weights []float64
	keywordSet := map[string]bool{}
	var keywords []string

	for _, pq := range planned {
		typed = append(typed, string(pq.Kind)+":"+pq.Query)
		weights = append(weights, priorityWeight(pq.Priority))
		for _, s := range pq.Scopes {
			if !scopeSet[s] {
				scopeSet[s] = true
				scopes = append(scopes, s)
			}
		}
		for _, tok := range strings.Fields(strings.ToLower(pq.Query)) {
			if !keywordSet[tok] {
				keywordSet[tok] = true
				keywords = append(keywords, tok)
			}
		}
	}
	sort.Strings(scopes)
	sort.Strings(keywords)

	return QueryPlan{
		Scopes: scopes, Keywords: keywords, TypedQueries: typed, Backend: backend,
		FanoutWeights: weights, BudgetMS: opts.Budget.MaxMS, HintCount: len(opts.SessionHints),
		HasFilter: opts.Filter != nil, Notes: notes,
	}
}
