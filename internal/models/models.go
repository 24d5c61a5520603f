// Package models holds the DTOs shared across the store, index, retrieval,
// and outbox packages. These are plain owned values; callers never hold a
// reference into index or store internals.
package models

import "time"

// ContextType classifies what kind of content an IndexRecord represents.
type ContextType string

const (
	ContextResource ContextType = "resource"
	ContextMemory   ContextType = "memory"
	ContextSkill    ContextType = "skill"
	ContextSession  ContextType = "session"
)

// IndexRecord is the per-URI node held by the in-memory index and mirrored
// into the state store's search_documents table.
type IndexRecord struct {
	ID          string
	URI         string
	ParentURI   string // empty at a scope root
	IsLeaf      bool
	ContextType ContextType
	Name        string
	Abstract    string
	Content     string
	Tags        []string
	UpdatedAt   time.Time
	Depth       int
}

// OutboxStatus is the lifecycle state of a durable outbox event.
type OutboxStatus string

const (
	OutboxNew        OutboxStatus = "new"
	OutboxProcessing OutboxStatus = "processing"
	OutboxDone       OutboxStatus = "done"
	OutboxDeadLetter OutboxStatus = "dead_letter"
)

// OutboxEventType distinguishes the dispatch path replay takes for an
// event.
type OutboxEventType string

const (
	EventUpsert        OutboxEventType = "upsert"
	EventReindex       OutboxEventType = "reindex"
	EventDelete        OutboxEventType = "delete"
	EventSemanticScan  OutboxEventType = "semantic_scan"
	EventMirrorFailure OutboxEventType = "mirror_failed" // qdrant_*_failed family, generalized
)

// OutboxEvent is a durable mutation-propagation record.
type OutboxEvent struct {
	ID            int64
	EventType     OutboxEventType
	URI           string
	Payload       []byte
	Status        OutboxStatus
	AttemptCount  int
	NextAttemptAt *time.Time
	CreatedAt     time.Time
}

// SearchHit is a single result row from the state store's full-text search.
type SearchHit struct {
	URI         string
	Score       float64
	Abstract    string
	ContextType ContextType
}

// ScoredRecord pairs an IndexRecord with its computed relevance score and
// the exact sub-score used for tie-breaking.
type ScoredRecord struct {
	Record IndexRecord
	Score  float64
	Exact  float64
}

// ChildIndexEntry is a parent->children graph edge annotation.
type ChildIndexEntry struct {
	URI    string
	IsLeaf bool
}

// Filter projects the candidate set by tag/mime before scoring.
type Filter struct {
	Tags []string
	MIME string
}

func (f *Filter) IsEmpty() bool {
	return f == nil || (len(f.Tags) == 0 && f.MIME == "")
}
