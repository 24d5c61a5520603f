// Package ingest implements the staged-directory ingestion pipeline (C5):
// stage files from outside the axiom:// namespace, write a manifest, and
// finalize into the tree, synthesizing tier summaries and updating the
// index.
package ingest

import (
	"path/filepath"
	"sort"
	"strings"
)

// ManifestEntry describes one staged file as captured by write_manifest.
type ManifestEntry struct {
	URI     string   `json:"uri"`
	Title   string   `json:"title"`
	Preview string   `json:"preview"`
	Parser  string   `json:"parser"`
	Tags    []string `json:"tags"`
}

// Manifest is the full write_manifest output for one staging session.
type Manifest struct {
	Source  string          `json:"source"`
	Entries []ManifestEntry `json:"entries"`
}

// parseFile derives a ManifestEntry's title/preview/parser/tags from raw
// file content, dispatching on extension. This is the deterministic
// "semantic-lite" parse mode: no external LLM call, just structural
// heuristics, matching the no-external-model default for C5.
func parseFile(relPath string, content []byte) ManifestEntry {
	ext := strings.ToLower(filepath.Ext(relPath))
	text := string(content)

	entry := ManifestEntry{Parser: parserFor(ext)}
	switch ext {
	case ".md", ".markdown":
		entry.Title = firstMarkdownHeading(text, relPath)
	default:
		entry.Title = strings.TrimSuffix(filepath.Base(relPath), ext)
	}
	entry.Preview = preview(text, 240)
	entry.Tags = extKeywords(ext, text)
	return entry
}

func parserFor(ext string) string {
	switch ext {
	case ".md", ".markdown":
		return "markdown"
	case ".json":
		return "json"
	case ".yaml", ".yml":
		return "yaml"
	case ".go":
		return "go_source"
	case ".txt":
		return "plaintext"
	default:
		return "raw"
	}
}

func firstMarkdownHeading(text, fallback string) string {
	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "#") {
			return strings.TrimSpace(strings.TrimLeft(trimmed, "#"))
		}
	}
	return filepath.Base(fallback)
}

func preview(text string, maxLen int) string {
	collapsed := strings.Join(strings.Fields(text), " ")
	if len(collapsed) <= maxLen {
		return collapsed
	}
	return collapsed[:maxLen]
}

func extKeywords(ext, text string) []string {
	tags := []string{strings.TrimPrefix(ext, ".")}
	tags = append(tags, topKeywords(text, 5)...)
	return tags
}

var stopwords = map[string]bool{
	"the": true, "a": true, "an": true, "and": true, "or": true, "of": true,
	"to": true, "in": true, "is": true, "it": true, "for": true, "on": true,
	"with": true, "this": true, "that": true, "be": true, "as": true,
}

// topKeywords returns the n most frequent non-stopword tokens in text,
// ties broken alphabetically. Used both for manifest tags and for
// directory tier-summary synthesis.
func topKeywords(text string, n int) []string {
	freq := map[string]int{}
	for _, tok := range strings.Fields(strings.ToLower(text)) {
		tok = strings.Trim(tok, ".,;:!?()[]{}\"'`")
		if len(tok) < 3 || stopwords[tok] {
			continue
		}
		freq[tok]++
	}
	type kv struct {
		word  string
		count int
	}
	kvs := make([]kv, 0, len(freq))
	for w, c := range freq {
		kvs = append(kvs, kv{w, c})
	}
	sort.Slice(kvs, func(i, j int) bool {
		if kvs[i].count != kvs[j].count {
			return kvs[i].count > kvs[j].count
		}
		return kvs[i].word < kvs[j].word
	})
	if len(kvs) > n {
		kvs = kvs[:n]
	}
	out := make([]string, 0, len(kvs))
	for _, e := range kvs {
		out = append(out, e.word)
	}
	return out
}
