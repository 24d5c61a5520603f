package outbox

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/axiomme/axiomme/internal/fs"
	"github.com/axiomme/axiomme/internal/index"
	"github.com/axiomme/axiomme/internal/models"
	"github.com/axiomme/axiomme/internal/store"
	"github.com/axiomme/axiomme/internal/uri"
	"github.com/google/uuid"
)

// DriftKind classifies one reconcile finding.
type DriftKind string

const (
	DriftMissingFile  DriftKind = "missing_file"  // indexed, no longer on disk
	DriftUnindexed    DriftKind = "unindexed"     // on disk, not in the index
	DriftInvalidURI   DriftKind = "invalid_uri"   // on-disk path does not round-trip through uri.Parse
	DriftStoreOutOfSync DriftKind = "store_out_of_sync" // present in the in-memory index, absent from search_documents
)

// Drift is a single reconcile finding.
type Drift struct {
	Kind DriftKind `json:"kind"`
	URI  string    `json:"uri"`
	Note string    `json:"note,omitempty"`
}

// Report is the persisted output of one reconcile run.
type Report struct {
	RunID     string    `json:"run_id"`
	Scope     string    `json:"scope"`
	StartedAt time.Time `json:"started_at"`
	DryRun    bool      `json:"dry_run"`
	Drifts    []Drift   `json:"drifts"`
	Pruned    int       `json:"pruned"`
	Reindexed int       `json:"reindexed"`
}

// Reconciler compares the on-disk tree with the in-memory index for a
// single scope; corrections are written to both the index and the SQL
// search_documents table.
type Reconciler struct {
	fsys *fs.FS
	idx  *index.Index
	st   *store.Store
}

// NewReconciler builds a Reconciler over the given component instances.
func NewReconciler(fsys *fs.FS, idx *index.Index, st *store.Store) *Reconciler {
	return &Reconciler{fsys: fsys, idx: idx, st: st}
}

// Run walks scopeRoot (e.g. axiom://resources), comparing it against the
// in-memory index. When dryRun is false, drift is corrected: orphaned
// index entries are pruned and on-disk files missing from the index are
// reindexed from their own content.
func (r *Reconciler) Run(ctx context.Context, scopeRoot uri.URI, dryRun bool) (Report, error) {
	runID := uuid.NewString()
	report := Report{RunID: runID, Scope: scopeRoot.String(), StartedAt: time.Now(), DryRun: dryRun}

	if err := r.st.StartReconcileRun(ctx, runID); err != nil {
		return report, err
	}

	entries, err := r.fsys.List(scopeRoot, true)
	if err != nil {
		return report, err
	}
	onDisk := make(map[string]fs.Entry, len(entries))
	for _, e := range entries {
		onDisk[e.URI.String()] = e
	}

	r.detectMissingFiles(scopeRoot, onDisk, &report)
	r.detectUnindexed(ctx, entries, &report, dryRun)

	if !dryRun {
		r.pruneMissing(&report)
	}

	reportJSON, err := json.Marshal(report)
	if err != nil {
		return report, err
	}
	status := "clean"
	if len(report.Drifts) > 0 {
		status = "drift_found"
	}
	if err := r.st.FinishReconcileRun(ctx, runID, status, len(report.Drifts), reportJSON); err != nil {
		return report, err
	}
	return report, nil
}

// detectMissingFiles finds index entries under scopeRoot whose backing file
// no longer exists on disk.
func (r *Reconciler) detectMissingFiles(scopeRoot uri.URI, onDisk map[string]fs.Entry, report *Report) {
	children := r.idx.Children(scopeRoot.String())
	seen := map[string]bool{}
	var walk func(u string)
	walk = func(u string) {
		if seen[u] {
			return
		}
		seen[u] = true
		if _, ok := onDisk[u]; !ok {
			report.Drifts = append(report.Drifts, Drift{Kind: DriftMissingFile, URI: u})
		}
		for _, c := range r.idx.Children(u) {
			walk(c.URI)
		}
	}
	for _, c := range children {
		walk(c.URI)
	}
}

// detectUnindexed finds on-disk files absent from the in-memory index, and
// (when not a dry run) reindexes them from the file's own content.
func (r *Reconciler) detectUnindexed(ctx context.Context, entries []fs.Entry, report *Report, dryRun bool) {
	for _, e := range entries {
		if e.IsDir {
			continue
		}
		parsed, err := uri.Parse(e.URI.String())
		if err != nil {
			report.Drifts = append(report.Drifts, Drift{Kind: DriftInvalidURI, URI: e.URI.String(), Note: err.Error()})
			continue
		}
		if _, ok := r.idx.Get(parsed.String()); ok {
			continue
		}
		report.Drifts = append(report.Drifts, Drift{Kind: DriftUnindexed, URI: parsed.String()})
		if dryRun {
			continue
		}
		content, err := r.fsys.Read(parsed)
		if err != nil {
			slog.Warn("reconcile: failed reading unindexed file", "uri", parsed.String(), "error", err)
			continue
		}
		rec := models.IndexRecord{
			URI: parsed.String(), IsLeaf: true, ContextType: models.ContextResource,
			Name: parsed.LastSegment(), Content: string(content), UpdatedAt: time.Now(), Depth: parsed.Depth(),
		}
		r.idx.Upsert(rec)
		if err := r.st.UpsertSearchDocument(ctx, rec); err != nil {
			slog.Warn("reconcile: failed reindexing document", "uri", parsed.String(), "error", err)
			continue
		}
		report.Reindexed++
	}
}

// pruneMissing removes index and store entries for every DriftMissingFile
// finding recorded so far.
func (r *Reconciler) pruneMissing(report *Report) {
	for _, d := range report.Drifts {
		if d.Kind != DriftMissingFile {
			continue
		}
		r.idx.Remove(d.URI)
		if err := r.st.RemoveSearchDocument(context.Background(), d.URI); err != nil {
			slog.Warn("reconcile: failed pruning store document", "uri", d.URI, "error", err)
			continue
		}
		report.Pruned++
	}
}
