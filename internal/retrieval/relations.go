package retrieval

import (
	"encoding/json"

	"github.com/axiomme/axiomme/internal/fs"
	"github.com/axiomme/axiomme/internal/uri"
)

// RelationDoc is the on-disk shape of a .relations.json link file: a flat
// list of related URIs, optionally grouped by a shared tag/edge name.
type RelationDoc struct {
	Related []string            `json:"related"`
	Tags    map[string][]string `json:"tags,omitempty"`
}

// enrichWithRelations reads each hit's directory .relations.json (if any)
// and appends related URIs sharing a tag/edge to the hit, per the
// relation-document supplemental feature. It returns the number of hits
// enriched and the total related-link count added.
func enrichWithRelations(fsys *fs.FS, hits []Hit) ([]Hit, int, int) {
	if fsys == nil {
		return hits, 0, 0
	}
	enrichedHits, enrichedLinks := 0, 0
	out := make([]Hit, len(hits))
	copy(out, hits)

	for i, h := range out {
		u, err := uri.Parse(h.URI)
		if err != nil {
			continue
		}
		dir, ok := u.Parent()
		if !ok {
			continue
		}
		relURI, err := dir.Join(".relations.json")
		if err != nil || !fsys.Exists(relURI) {
			continue
		}
		raw, err := fsys.Read(relURI)
		if err != nil {
			continue
		}
		var doc RelationDoc
		if err := json.Unmarshal(raw, &doc); err != nil {
			continue
		}

		related := doc.Related
		for _, group := range doc.Tags {
			related = append(related, group...)
		}
		if len(related) == 0 {
			continue
		}

		out[i].Relations = dedupStrings(related)
		enrichedHits++
		enrichedLinks += len(out[i].Relations)
	}
	return out, enrichedHits, enrichedLinks
}

func dedupStrings(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
