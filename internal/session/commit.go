package session

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/axiomme/axiomme/internal/apperr"
	"github.com/axiomme/axiomme/internal/ingest"
	"github.com/axiomme/axiomme/internal/models"
	"github.com/axiomme/axiomme/internal/uri"
)

// CommitMode selects whether Commit only archives or also extracts memory
// candidates from the archived transcript.
type CommitMode string

const (
	ArchiveOnly       CommitMode = "archive_only"
	ArchiveAndExtract CommitMode = "archive_and_extract"
)

// MemoryCandidate is one heuristically or LLM-extracted fact pending
// dedup resolution against existing memories.
type MemoryCandidate struct {
	Category string
	Text     string
	Source   string // source pointer: the archived message URI it came from
}

// CandidateExtractor produces memory candidates from an archived
// transcript; nil falls back to the deterministic heuristic extractor.
type CandidateExtractor func(messages []Message) []MemoryCandidate

// CommitReport summarizes one Commit call.
type CommitReport struct {
	ArchiveURI   string
	Created      []string
	Merged       []string
	Skipped      int
	ReindexError string
}

// Commit archives the active session transcript, writes tier summaries for
// both archive and session directories, and in ArchiveAndExtract mode
// extracts and resolves memory candidates, per spec §4.8.
func (m *Manager) Commit(ctx context.Context, sessionID string, mode CommitMode, extract CandidateExtractor, dedupMode DedupMode, llm DedupFunc, similarityThreshold float64) (CommitReport, error) {
	root, err := sessionRoot(sessionID)
	if err != nil {
		return CommitReport{}, err
	}
	meta, err := m.readMeta(root)
	if err != nil {
		return CommitReport{}, err
	}

	archiveIdx := meta.ArchiveCount + 1
	archiveDir, err := root.Join(fmt.Sprintf("history/archive_%03d", archiveIdx))
	if err != nil {
		return CommitReport{}, err
	}
	msgsURI, err := root.Join("messages.jsonl")
	if err != nil {
		return CommitReport{}, err
	}
	archivedMsgsURI, err := archiveDir.Join("messages.jsonl")
	if err != nil {
		return CommitReport{}, err
	}

	var messages []Message
	if m.fsys.Exists(msgsURI) {
		raw, err := m.fsys.Read(msgsURI)
		if err != nil {
			return CommitReport{}, err
		}
		messages = parseMessageLines(raw)

		if err := m.fsys.CreateDirAll(archiveDir, true); err != nil {
			return CommitReport{}, err
		}
		if err := m.fsys.Write(archivedMsgsURI, raw, true); err != nil {
			return CommitReport{}, err
		}
		if err := m.fsys.Rm(msgsURI, false, true); err != nil {
			return CommitReport{}, err
		}
	}

	meta.ArchiveCount = archiveIdx
	if err := m.writeMeta(root, meta); err != nil {
		return CommitReport{}, err
	}

	if err := ingest.SynthesizeTierSummaries(m.fsys, archiveDir); err != nil {
		return CommitReport{}, err
	}
	if err := ingest.SynthesizeTierSummaries(m.fsys, root); err != nil {
		return CommitReport{}, err
	}

	report := CommitReport{ArchiveURI: archiveDir.String()}
	if mode != ArchiveAndExtract {
		return report, nil
	}

	var candidates []MemoryCandidate
	if extract != nil {
		candidates = extract(messages)
	} else {
		candidates = heuristicExtract(messages, archiveDir.String())
	}

	var touched []uri.URI
	var snapshots = map[string][]byte{}
	for _, c := range candidates {
		peers := m.memoryPeers(c.Category)
		decision, peer := resolveDedup(dedupMode, llm, similarityThreshold, c, peers)

		switch decision {
		case DecisionSkip:
			report.Skipped++
			continue
		case DecisionMerge:
			merged, err := m.mergeCandidate(peer, c)
			if err != nil {
				return report, err
			}
			snapshots[peer.URI] = []byte(peer.Content)
			touched = append(touched, uri.MustParse(merged.URI))
			report.Merged = append(report.Merged, merged.URI)
		default:
			created, err := m.createCandidate(c)
			if err != nil {
				return report, err
			}
			touched = append(touched, uri.MustParse(created.URI))
			report.Created = append(report.Created, created.URI)
		}
	}

	if err := m.reindexTouched(ctx, touched, snapshots); err != nil {
		report.ReindexError = err.Error()
		return report, fmt.Errorf("session.commit: %w", err)
	}
	return report, nil
}

func (m *Manager) memoryPeers(category string) []models.IndexRecord {
	base := uri.Root(uri.ScopeUser)
	children := m.idx.Children(base.String())
	var peers []models.IndexRecord
	for _, c := range children {
		rec, ok := m.idx.Get(c.URI)
		if !ok || !rec.IsLeaf {
			continue
		}
		if strings.Contains(rec.URI, "/"+category+"/") || strings.HasPrefix(rec.Name, category) {
			peers = append(peers, rec)
		}
	}
	return peers
}

func (m *Manager) createCandidate(c MemoryCandidate) (models.IndexRecord, error) {
	key := buildMemoryKey(c.Category, normalizeText(c.Text))
	target, err := uri.Root(uri.ScopeUser).Join("memories/" + c.Category + "/" + key + ".md")
	if err != nil {
		return models.IndexRecord{}, err
	}
	content := fmt.Sprintf("# %s\n\n%s\n\nSource: %s\n", c.Category, c.Text, c.Source)
	if err := m.fsys.Write(target, []byte(content), true); err != nil {
		return models.IndexRecord{}, err
	}
	rec := models.IndexRecord{
		URI: target.String(), IsLeaf: true, ContextType: models.ContextMemory,
		Name: key, Content: content, UpdatedAt: time.Now(), Depth: target.Depth(),
	}
	m.idx.Upsert(rec)
	return rec, nil
}

func (m *Manager) mergeCandidate(peer models.IndexRecord, c MemoryCandidate) (models.IndexRecord, error) {
	target := uri.MustParse(peer.URI)
	merged := peer.Content + "\n\nSource: " + c.Source + "\n" + c.Text + "\n"
	if err := m.fsys.Write(target, []byte(merged), true); err != nil {
		return models.IndexRecord{}, err
	}
	peer.Content = merged
	peer.UpdatedAt = time.Now()
	m.idx.Upsert(peer)
	return peer, nil
}

// reindexTouched persists touched records to the search store. On failure
// it restores every snapshot and re-attempts reindex on the restored set,
// surfacing an error tagged reindex_err/rollback_write/rollback_reindex
// per spec §4.9's shared reindex-failure contract.
func (m *Manager) reindexTouched(ctx context.Context, touched []uri.URI, snapshots map[string][]byte) error {
	var failed error
	for _, u := range touched {
		rec, ok := m.idx.Get(u.String())
		if !ok {
			continue
		}
		if err := m.st.UpsertSearchDocument(ctx, rec); err != nil {
			failed = err
			break
		}
		if _, err := m.st.EnqueueOutbox(ctx, models.EventUpsert, rec.URI, nil); err != nil {
			failed = err
			break
		}
	}
	if failed == nil {
		return nil
	}

	rollbackWriteErr := rollbackSnapshots(m, snapshots)
	rollbackReindexErr := m.reindexSnapshotURIs(ctx, snapshots)

	return apperr.New(apperr.Internal, "session.reindex_touched", "reindex failed, rolled back").
		WithDetail("reindex_err", failed.Error()).
		WithDetail("rollback_write", fmt.Sprint(rollbackWriteErr)).
		WithDetail("rollback_reindex", fmt.Sprint(rollbackReindexErr))
}

func rollbackSnapshots(m *Manager, snapshots map[string][]byte) error {
	var lastErr error
	for rawURI, content := range snapshots {
		u, err := uri.Parse(rawURI)
		if err != nil {
			lastErr = err
			continue
		}
		if err := m.fsys.Write(u, content, true); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

func (m *Manager) reindexSnapshotURIs(ctx context.Context, snapshots map[string][]byte) error {
	var lastErr error
	for rawURI, content := range snapshots {
		rec, ok := m.idx.Get(rawURI)
		if !ok {
			continue
		}
		rec.Content = string(content)
		m.idx.Upsert(rec)
		if err := m.st.UpsertSearchDocument(ctx, rec); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

// heuristicExtract is the deterministic fallback candidate extractor: it
// flags messages containing first-person preference/fact markers.
func heuristicExtract(messages []Message, sourceURI string) []MemoryCandidate {
	markers := []string{"i prefer", "i like", "remember that", "always", "never", "my name is"}
	var out []MemoryCandidate
	for _, msg := range messages {
		if msg.Role != "user" {
			continue
		}
		lower := strings.ToLower(msg.Content)
		for _, marker := range markers {
			if strings.Contains(lower, marker) {
				out = append(out, MemoryCandidate{Category: "preference", Text: strings.TrimSpace(msg.Content), Source: sourceURI})
				break
			}
		}
	}
	return out
}

func parseMessageLines(raw []byte) []Message {
	var out []Message
	for _, line := range strings.Split(string(raw), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		var msg Message
		if err := json.Unmarshal([]byte(line), &msg); err != nil {
			continue
		}
		out = append(out, msg)
	}
	return out
}
