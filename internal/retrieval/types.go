// Package retrieval implements the intent-planning, fan-out, and merge
// engine (C4) that sits on top of the in-memory index and its sqlite
// full-text fallback.
package retrieval

import "time"

// Budget bounds one Find call's work.
type Budget struct {
	MaxMS    int
	MaxNodes int
	MaxDepth int
}

// SearchOptions is the public input to Find.
type SearchOptions struct {
	Query          string
	TargetURI      string
	Session        string
	SessionHints   []string
	Budget         Budget
	Limit          int
	ScoreThreshold float64
	MinMatchTokens int
	Filter         *Filter
	RequestType    string
}

// Filter mirrors models.Filter at the retrieval API boundary.
type Filter struct {
	Tags []string
	MIME string
}

// PlannedQueryKind names one of the five intent-planning query shapes.
type PlannedQueryKind string

const (
	KindPrimary       PlannedQueryKind = "primary"
	KindSessionRecent PlannedQueryKind = "session_recent"
	KindSessionOM     PlannedQueryKind = "session_om"
	KindSkillFocus    PlannedQueryKind = "skill_focus"
	KindMemoryFocus   PlannedQueryKind = "memory_focus"
)

// priorityWeight returns the fan-out priority weight for a 1-based rank.
func priorityWeight(priority int) float64 {
	switch priority {
	case 1:
		return 1.00
	case 2:
		return 0.82
	case 3:
		return 0.64
	default:
		return 0.46
	}
}

// PlannedQuery is one sub-query the fan-out will execute.
type PlannedQuery struct {
	Kind     PlannedQueryKind
	Query    string
	Scopes   []string
	Priority int
}

// Hit is a single scored, merged result.
type Hit struct {
	URI         string
	Score       float64
	Abstract    string
	ContextType string
	Relations   []string
}

// QueryPlan is the free-form summary returned alongside the result set.
type QueryPlan struct {
	Scopes          []string `json:"scopes"`
	Keywords        []string `json:"keywords"`
	TypedQueries    []string `json:"typed_queries"`
	Backend         string   `json:"backend"`
	FanoutWeights   []float64 `json:"fanout_weights"`
	BudgetMS        int      `json:"budget_ms"`
	HintCount       int      `json:"hint_count"`
	HasFilter       bool     `json:"has_filter"`
	Notes           []string `json:"notes,omitempty"`
}

// TraceStep is one fan-out round's record.
type TraceStep struct {
	Round     int    `json:"round"`
	Kind      string `json:"kind"`
	Query     string `json:"query"`
	HitCount  int    `json:"hit_count"`
	StopReason string `json:"stop_reason"`
}

// TraceMetrics captures the numeric summary of one retrieval.
type TraceMetrics struct {
	LatencyMS             int64 `json:"latency_ms"`
	ExploredNodes         int   `json:"explored_nodes"`
	ConvergenceRounds     int   `json:"convergence_rounds"`
	TypedQueryCount       int   `json:"typed_query_count"`
	RelationEnrichedHits  int   `json:"relation_enriched_hits"`
	RelationEnrichedLinks int   `json:"relation_enriched_links"`
}

// RetrievalTrace is the persisted, id-addressable record of one Find call.
type RetrievalTrace struct {
	TraceID     string       `json:"trace_id"`
	RequestType string       `json:"request_type"`
	Query       string       `json:"query"`
	TargetURI   string       `json:"target_uri,omitempty"`
	StartPoints []string     `json:"start_points"`
	Steps       []TraceStep  `json:"steps"`
	FinalTopK   []string     `json:"final_topk"`
	StopReason  string       `json:"stop_reason"`
	Metrics     TraceMetrics `json:"metrics"`
	CreatedAt   time.Time    `json:"created_at"`
}

// FindResult is the full output of one Find call.
type FindResult struct {
	Hits      []Hit           `json:"hits"`
	Memories  []Hit           `json:"memories"`
	Resources []Hit           `json:"resources"`
	Skills    []Hit           `json:"skills"`
	QueryPlan QueryPlan       `json:"query_plan"`
	Trace     RetrievalTrace  `json:"trace"`
}
