package retrieval

import (
	"sort"
	"strings"
)

var skillWords = []string{"skill", "skills"}
var memoryWords = []string{"memory", "memories", "preference", "preferences"}

func containsAny(q string, words []string) bool {
	lower := strings.ToLower(q)
	for _, w := range words {
		if strings.Contains(lower, w) {
			return true
		}
	}
	return false
}

// planQueries produces up to five PlannedQuery values per spec §4.4.1,
// deduplicated by (query-lowered|scope-list) and ordered by priority asc,
// kind asc, query asc.
func planQueries(opts SearchOptions) []PlannedQuery {
	var planned []PlannedQuery

	primaryScopes := []string{"resources"}
	if opts.TargetURI != "" {
		primaryScopes = []string{scopeOfTarget(opts.TargetURI)}
	} else if containsAny(opts.Query, skillWords) {
		primaryScopes = []string{"agent"}
	} else if containsAny(opts.Query, memoryWords) {
		primaryScopes = []string{"user", "agent"}
	}
	planned = append(planned, PlannedQuery{Kind: KindPrimary, Query: opts.Query, Scopes: primaryScopes, Priority: 1})

	if len(opts.SessionHints) > 0 {
		var recent []string
		var om string
		for _, h := range opts.SessionHints {
			if strings.HasPrefix(h, "om:") {
				if om == "" {
					om = strings.TrimPrefix(h, "om:")
				}
				continue
			}
			recent = append(recent, h)
		}
		if len(recent) > 0 {
			planned = append(planned, PlannedQuery{Kind: KindSessionRecent, Query: strings.Join(recent, " "), Scopes: []string{"session"}, Priority: 2})
		}
		if om != "" {
			planned = append(planned, PlannedQuery{Kind: KindSessionOM, Query: om, Scopes: []string{"session"}, Priority: 3})
		}
	}

	if opts.TargetURI == "" {
		if containsAny(opts.Query, skillWords) {
			planned = append(planned, PlannedQuery{Kind: KindSkillFocus, Query: opts.Query, Scopes: []string{"agent"}, Priority: 4})
		}
		if containsAny(opts.Query, memoryWords) || len(opts.SessionHints) > 0 {
			planned = append(planned, PlannedQuery{Kind: KindMemoryFocus, Query: opts.Query, Scopes: []string{"user", "agent"}, Priority: 5})
		}
	}

	planned = dedupPlanned(planned)

	sort.SliceStable(planned, func(i, j int) bool {
		if planned[i].Priority != planned[j].Priority {
			return planned[i].Priority < planned[j].Priority
		}
		if planned[i].Kind != planned[j].Kind {
			return planned[i].Kind < planned[j].Kind
		}
		return planned[i].Query < planned[j].Query
	})

	if len(planned) == 0 {
		planned = []PlannedQuery{{Kind: KindPrimary, Query: opts.Query, Scopes: primaryScopes, Priority: 1}}
	}
	return planned
}

func dedupPlanned(in []PlannedQuery) []PlannedQuery {
	seen := map[string]bool{}
	var out []PlannedQuery
	for _, p := range in {
		key := strings.ToLower(p.Query) + "|" + strings.Join(p.Scopes, ",")
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, p)
	}
	return out
}

// scopeOfTarget extracts the scope segment from an axiom:// target URI
// string ("axiom://resources/a/b" -> "resources").
func scopeOfTarget(target string) string {
	const prefix = "axiom://"
	rest := strings.TrimPrefix(target, prefix)
	if idx := strings.IndexByte(rest, '/'); idx >= 0 {
		return rest[:idx]
	}
	return rest
}
