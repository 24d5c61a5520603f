// Package promotion implements checkpointed memory promotion (C9):
// exactly-once application of a batch of facts into durable memory files,
// guarded by a 3-phase (pending/applying/applied) checkpoint keyed on
// (session_id, checkpoint_id, request_hash).
package promotion

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/axiomme/axiomme/internal/apperr"
	"github.com/axiomme/axiomme/internal/fs"
	"github.com/axiomme/axiomme/internal/index"
	"github.com/axiomme/axiomme/internal/metrics"
	"github.com/axiomme/axiomme/internal/models"
	"github.com/axiomme/axiomme/internal/session"
	"github.com/axiomme/axiomme/internal/store"
	"github.com/axiomme/axiomme/internal/uri"
	"github.com/cespare/xxhash/v2"
)

// ApplyMode selects how partial failures during apply are handled.
type ApplyMode string

const (
	AllOrNothing ApplyMode = "all_or_nothing"
	BestEffort   ApplyMode = "best_effort"
)

// Fact is one candidate memory fact submitted for promotion.
type Fact struct {
	Category string `json:"category"`
	Text     string `json:"text"`
	Source   string `json:"source"`
}

// Request is a promote_memories call.
type Request struct {
	SessionID    string
	CheckpointID string
	ApplyMode    ApplyMode
	Facts        []Fact
}

// Result is the outcome of a promote_memories call, also what gets
// serialized into the checkpoint's result_json on success.
type Result struct {
	Persisted        []string `json:"persisted"`
	Merged           []string `json:"merged"`
	SkippedDuplicates int     `json:"skipped_duplicates"`
	Rejected         int      `json:"rejected"`
}

const staleApplyingAfter = 60 * time.Second

// ConflictReason explains why Promote returned a conflict instead of a
// result.
type ConflictReason string

const (
	ConflictNone          ConflictReason = ""
	ConflictHashMismatch  ConflictReason = "hash_mismatch"
	ConflictBusy          ConflictReason = "busy"
	ConflictLostClaim     ConflictReason = "lost_claim"
)

// Outcome wraps either a successful Result (possibly replayed from a prior
// applied checkpoint) or a conflict.
type Outcome struct {
	Result   Result
	Replayed bool
	Conflict ConflictReason
}

// Pipeline runs promote_memories against the shared filesystem, index, and
// state store.
type Pipeline struct {
	fsys *fs.FS
	idx  *index.Index
	st   *store.Store
}

// NewPipeline builds a promotion Pipeline.
func NewPipeline(fsys *fs.FS, idx *index.Index, st *store.Store) *Pipeline {
	return &Pipeline{fsys: fsys, idx: idx, st: st}
}

// Promote runs the 7-step checkpointed apply pipeline described in
// spec §4.9.
func (p *Pipeline) Promote(ctx context.Context, req Request) (Outcome, error) {
	if req.SessionID == "" || req.CheckpointID == "" {
		return Outcome{}, apperr.New(apperr.ValidationFailed, "promotion.promote", "session_id and checkpoint_id are required")
	}

	hash := RequestHash(req.Facts)
	reqJSON, err := json.Marshal(req.Facts)
	if err != nil {
		return Outcome{}, apperr.Wrap(apperr.JSONError, "promotion.promote", err)
	}

	if _, err := p.st.DemoteStaleApplying(ctx, staleApplyingAfter); err != nil {
		return Outcome{}, err
	}

	cp, err := p.st.GetOrInsertPendingCheckpoint(ctx, req.SessionID, req.CheckpointID, hash, string(reqJSON))
	if err != nil {
		return Outcome{}, err
	}

	switch cp.Phase {
	case store.PromotionApplied:
		if cp.RequestHash != hash {
			metrics.PromotionOutcomesTotal.WithLabelValues(string(req.ApplyMode), "conflict").Inc()
			return Outcome{Conflict: ConflictHashMismatch}, nil
		}
		var res Result
		if cp.ResultJSON.Valid {
			if err := json.Unmarshal([]byte(cp.ResultJSON.String), &res); err != nil {
				return Outcome{}, apperr.Wrap(apperr.JSONError, "promotion.promote", err)
			}
		}
		metrics.PromotionOutcomesTotal.WithLabelValues(string(req.ApplyMode), "replayed").Inc()
		return Outcome{Result: res, Replayed: true}, nil
	case store.PromotionApplying:
		metrics.PromotionOutcomesTotal.WithLabelValues(string(req.ApplyMode), "conflict").Inc()
		return Outcome{Conflict: ConflictBusy}, nil
	case store.PromotionPending:
		if cp.RequestHash != hash {
			metrics.PromotionOutcomesTotal.WithLabelValues(string(req.ApplyMode), "conflict").Inc()
			return Outcome{Conflict: ConflictHashMismatch}, nil
		}
	}

	won, err := p.st.ClaimApplying(ctx, req.SessionID, req.CheckpointID, hash)
	if err != nil {
		return Outcome{}, err
	}
	if !won {
		metrics.PromotionOutcomesTotal.WithLabelValues(string(req.ApplyMode), "conflict").Inc()
		return Outcome{Conflict: ConflictLostClaim}, nil
	}

	res, err := p.apply(ctx, req)
	if err != nil {
		_ = p.st.DemoteToPending(ctx, req.SessionID, req.CheckpointID)
		metrics.PromotionOutcomesTotal.WithLabelValues(string(req.ApplyMode), "error").Inc()
		return Outcome{}, err
	}

	resJSON, err := json.Marshal(res)
	if err != nil {
		_ = p.st.DemoteToPending(ctx, req.SessionID, req.CheckpointID)
		return Outcome{}, apperr.Wrap(apperr.JSONError, "promotion.promote", err)
	}
	if err := p.st.FinalizeApplied(ctx, req.SessionID, req.CheckpointID, string(resJSON)); err != nil {
		return Outcome{}, err
	}
	metrics.PromotionOutcomesTotal.WithLabelValues(string(req.ApplyMode), "applied").Inc()
	return Outcome{Result: res}, nil
}

func (p *Pipeline) apply(ctx context.Context, req Request) (Result, error) {
	if req.ApplyMode == BestEffort {
		return p.applyBestEffort(ctx, req.Facts)
	}
	return p.applyAllOrNothing(ctx, req.Facts)
}

// applyAllOrNothing persists every fact's merge/create, snapshotting every
// touched file first; a reindex failure restores every snapshot and
// re-attempts reindex on the restored set, per spec §4.9.
func (p *Pipeline) applyAllOrNothing(ctx context.Context, facts []Fact) (Result, error) {
	for _, f := range facts {
		if err := validateFact(f); err != nil {
			return Result{}, apperr.Wrap(apperr.ValidationFailed, "promotion.apply_all_or_nothing", err)
		}
	}

	var res Result
	var touched []uri.URI
	snapshots := map[string][]byte{}

	for _, f := range facts {
		created, merged, dup, err := p.persistFact(f, snapshots)
		if err != nil {
			return Result{}, err
		}
		switch {
		case dup:
			res.SkippedDuplicates++
		case merged != "":
			res.Merged = append(res.Merged, merged)
			touched = append(touched, uri.MustParse(merged))
		case created != "":
			res.Persisted = append(res.Persisted, created)
			touched = append(touched, uri.MustParse(created))
		}
	}

	if err := p.reindexTouched(ctx, touched, snapshots); err != nil {
		return Result{}, err
	}
	return res, nil
}

// applyBestEffort skips invalid facts (counted rejected) and persists the
// rest; reindex failure still triggers the same snapshot-rollback contract.
func (p *Pipeline) applyBestEffort(ctx context.Context, facts []Fact) (Result, error) {
	var res Result
	var touched []uri.URI
	snapshots := map[string][]byte{}

	for _, f := range facts {
		if err := validateFact(f); err != nil {
			res.Rejected++
			continue
		}
		created, merged, dup, err := p.persistFact(f, snapshots)
		if err != nil {
			res.Rejected++
			continue
		}
		switch {
		case dup:
			res.SkippedDuplicates++
		case merged != "":
			res.Merged = append(res.Merged, merged)
			touched = append(touched, uri.MustParse(merged))
		case created != "":
			res.Persisted = append(res.Persisted, created)
			touched = append(touched, uri.MustParse(created))
		}
	}

	if err := p.reindexTouched(ctx, touched, snapshots); err != nil {
		return Result{}, err
	}
	return res, nil
}

func validateFact(f Fact) error {
	if f.Category == "" || f.Text == "" {
		return fmt.Errorf("fact missing category or text")
	}
	return nil
}

// persistFact resolves f against existing memory peers (via the session
// package's shared dedup/key scheme) and writes the resulting file,
// recording a content snapshot for any file it overwrites.
func (p *Pipeline) persistFact(f Fact, snapshots map[string][]byte) (createdURI, mergedURI string, dup bool, err error) {
	peers := p.memoryPeers(f.Category)
	candidate := session.MemoryCandidate{Category: f.Category, Text: f.Text, Source: f.Source}
	decision, peer := session.ResolveDedup(session.DedupDeterministic, nil, 0, candidate, peers)

	switch decision {
	case session.DecisionSkip:
		return "", "", true, nil
	case session.DecisionMerge:
		target := uri.MustParse(peer.URI)
		snapshots[peer.URI] = []byte(peer.Content)
		merged := peer.Content + "\n\nSource: " + f.Source + "\n" + f.Text + "\n"
		if err := p.fsys.Write(target, []byte(merged), true); err != nil {
			return "", "", false, err
		}
		peer.Content = merged
		peer.UpdatedAt = time.Now()
		p.idx.Upsert(peer)
		return "", peer.URI, false, nil
	default:
		key := session.BuildMemoryKey(f.Category, session.NormalizeText(f.Text))
		target, err := uri.Root(uri.ScopeUser).Join("memories/" + f.Category + "/" + key + ".md")
		if err != nil {
			return "", "", false, err
		}
		content := fmt.Sprintf("# %s\n\n%s\n\nSource: %s\n", f.Category, f.Text, f.Source)
		if err := p.fsys.Write(target, []byte(content), true); err != nil {
			return "", "", false, err
		}
		rec := models.IndexRecord{
			URI: target.String(), IsLeaf: true, ContextType: models.ContextMemory,
			Name: key, Content: content, UpdatedAt: time.Now(), Depth: target.Depth(),
		}
		p.idx.Upsert(rec)
		return target.String(), "", false, nil
	}
}

func (p *Pipeline) memoryPeers(category string) []models.IndexRecord {
	base := uri.Root(uri.ScopeUser)
	children := p.idx.Children(base.String())
	var peers []models.IndexRecord
	for _, c := range children {
		rec, ok := p.idx.Get(c.URI)
		if !ok || !rec.IsLeaf {
			continue
		}
		if rec.URI != "" && (containsSegment(rec.URI, category)) {
			peers = append(peers, rec)
		}
	}
	return peers
}

func containsSegment(u, segment string) bool {
	needle := "/" + segment + "/"
	for i := 0; i+len(needle) <= len(u); i++ {
		if u[i:i+len(needle)] == needle {
			return true
		}
	}
	return false
}

// reindexTouched mirrors session.Manager's reindex-with-rollback contract:
// on failure, every snapshot is restored and a second reindex attempt runs
// against the restored content before the error is surfaced.
func (p *Pipeline) reindexTouched(ctx context.Context, touched []uri.URI, snapshots map[string][]byte) error {
	var failed error
	for _, u := range touched {
		rec, ok := p.idx.Get(u.String())
		if !ok {
			continue
		}
		if err := p.st.UpsertSearchDocument(ctx, rec); err != nil {
			failed = err
			break
		}
		if _, err := p.st.EnqueueOutbox(ctx, models.EventUpsert, rec.URI, nil); err != nil {
			failed = err
			break
		}
	}
	if failed == nil {
		return nil
	}

	var rollbackWriteErr error
	for rawURI, content := range snapshots {
		u, err := uri.Parse(rawURI)
		if err != nil {
			rollbackWriteErr = err
			continue
		}
		if err := p.fsys.Write(u, content, true); err != nil {
			rollbackWriteErr = err
		}
	}

	var rollbackReindexErr error
	for rawURI, content := range snapshots {
		rec, ok := p.idx.Get(rawURI)
		if !ok {
			continue
		}
		rec.Content = string(content)
		p.idx.Upsert(rec)
		if err := p.st.UpsertSearchDocument(ctx, rec); err != nil {
			rollbackReindexErr = err
		}
	}

	return apperr.New(apperr.Internal, "promotion.reindex_touched", "reindex failed, rolled back").
		WithDetail("reindex_err", failed.Error()).
		WithDetail("rollback_write", fmt.Sprint(rollbackWriteErr)).
		WithDetail("rollback_reindex", fmt.Sprint(rollbackReindexErr))
}

// RequestHash computes the canonical, order-independent hash of facts used
// to bind a promotion checkpoint to its exact request payload.
func RequestHash(facts []Fact) string {
	sorted := make([]Fact, len(facts))
	copy(sorted, facts)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Category != sorted[j].Category {
			return sorted[i].Category < sorted[j].Category
		}
		return sorted[i].Text < sorted[j].Text
	})

	h := xxhash.New()
	for _, f := range sorted {
		_, _ = h.Write([]byte(f.Category))
		_, _ = h.Write([]byte{0})
		_, _ = h.Write([]byte(f.Text))
		_, _ = h.Write([]byte{0})
	}
	return strconv.FormatUint(h.Sum64(), 16)
}
