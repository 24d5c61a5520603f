package ingest

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/axiomme/axiomme/internal/apperr"
	"github.com/axiomme/axiomme/internal/fs"
	"github.com/axiomme/axiomme/internal/index"
	"github.com/axiomme/axiomme/internal/models"
	"github.com/axiomme/axiomme/internal/store"
	"github.com/axiomme/axiomme/internal/uri"
	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
)

const manifestFileName = "manifest.json"

// Session is one in-flight staging session: files are copied into a
// temp-scope staging directory, manifested, and finalized into their
// target tree in a single atomic move.
type Session struct {
	ID        string
	stagedURI uri.URI
	source    string
	fsys      *fs.FS
	idx       *index.Index
	st        *store.Store
	finalized bool
	dropped   bool
}

// Pipeline wires the component instances an ingest session needs.
type Pipeline struct {
	fsys     *fs.FS
	idx      *index.Index
	st       *store.Store
	minio    *minio.Client
}

// NewPipeline builds an ingest Pipeline. minioClient may be nil when remote
// object staging is not configured.
func NewPipeline(fsys *fs.FS, idx *index.Index, st *store.Store, minioClient *minio.Client) *Pipeline {
	return &Pipeline{fsys: fsys, idx: idx, st: st, minio: minioClient}
}

// StartSession creates a staged directory under axiom://temp/ingest/<id>.
func (p *Pipeline) StartSession(source string) (*Session, error) {
	id := uuid.NewString()
	staged, err := uri.Root(uri.ScopeTemp).Join("ingest/" + id)
	if err != nil {
		return nil, err
	}
	if err := p.fsys.CreateDirAll(staged, true); err != nil {
		return nil, err
	}
	return &Session{ID: id, stagedURI: staged, source: source, fsys: p.fsys, idx: p.idx, st: p.st}, nil
}

// StageLocalPath copies a host-filesystem file or directory into the
// session's staged area.
func (s *Session) StageLocalPath(srcHostPath string) error {
	return s.fsys.CopyInto(srcHostPath, s.stagedURI)
}

// StageRemoteObject downloads a single object from an S3-compatible bucket
// (via minio-go) into the staged area, preserving its object key as the
// relative path.
func (s *Session) StageRemoteObject(ctx context.Context, mc *minio.Client, bucket, objectKey string) error {
	if mc == nil {
		return apperr.New(apperr.ValidationFailed, "ingest.stage_remote_object", "no object store client configured")
	}
	obj, err := mc.GetObject(ctx, bucket, objectKey, minio.GetObjectOptions{})
	if err != nil {
		return apperr.Wrap(apperr.IOError, "ingest.stage_remote_object", err)
	}
	defer obj.Close()

	tmp, err := os.CreateTemp("", "axiomme-remote-*")
	if err != nil {
		return apperr.Wrap(apperr.IOError, "ingest.stage_remote_object", err)
	}
	defer os.Remove(tmp.Name())
	defer tmp.Close()

	if _, err := io.Copy(tmp, obj); err != nil {
		return apperr.Wrap(apperr.IOError, "ingest.stage_remote_object", err)
	}

	dst, err := s.stagedURI.Join(filepath.ToSlash(objectKey))
	if err != nil {
		return err
	}
	content, err := os.ReadFile(tmp.Name())
	if err != nil {
		return apperr.Wrap(apperr.IOError, "ingest.stage_remote_object", err)
	}
	return s.fsys.Write(dst, content, true)
}

// WriteManifest walks the staged tree, parses every file, and writes
// manifest.json at the staging root.
func (s *Session) WriteManifest() (Manifest, error) {
	entries, err := s.fsys.List(s.stagedURI, true)
	if err != nil {
		return Manifest{}, err
	}

	manifest := Manifest{Source: s.source}
	for _, e := range entries {
		if e.IsDir || e.Name == manifestFileName {
			continue
		}
		content, err := s.fsys.Read(e.URI)
		if err != nil {
			slog.Warn("ingest: skipping unreadable staged file", "uri", e.URI.String(), "error", err)
			continue
		}
		rel := strings.TrimPrefix(e.URI.String(), s.stagedURI.String()+"/")
		parsed := parseFile(rel, content)
		parsed.URI = e.URI.String()
		manifest.Entries = append(manifest.Entries, parsed)
	}

	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return manifest, apperr.Wrap(apperr.JSONError, "ingest.write_manifest", err)
	}
	manifestURI, err := s.stagedURI.Join(manifestFileName)
	if err != nil {
		return manifest, err
	}
	if err := s.fsys.Write(manifestURI, data, true); err != nil {
		return manifest, err
	}
	return manifest, nil
}

// FinalizeTo atomically moves the staged tree to target, then synthesizes
// tier summaries, updates the in-memory index and state store, and enqueues
// upsert outbox events for every finalized record.
func (s *Session) FinalizeTo(ctx context.Context, target uri.URI) error {
	if s.finalized || s.dropped {
		return apperr.New(apperr.Conflict, "ingest.finalize_to", "session already finalized or dropped")
	}

	// The staged tree lives in the temp scope, so fs.Mv (same-scope only)
	// cannot be used here.
	from := s.fsys.ResolveURI(s.stagedURI)
	to := s.fsys.ResolveURI(target)
	if err := os.MkdirAll(filepath.Dir(to), 0o755); err != nil {
		return apperr.Wrap(apperr.IOError, "ingest.finalize_to", err).WithURI(target.String())
	}
	if err := os.Rename(from, to); err != nil {
		return apperr.Wrap(apperr.IOError, "ingest.finalize_to", err).WithURI(target.String())
	}
	s.finalized = true

	if err := SynthesizeTierSummaries(s.fsys, target); err != nil {
		slog.Warn("ingest: tier summary synthesis failed", "target", target.String(), "error", err)
	}

	entries, err := s.fsys.List(target, true)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.IsDir || e.Name == manifestFileName {
			continue
		}
		content, err := s.fsys.Read(e.URI)
		if err != nil {
			continue
		}
		rec := models.IndexRecord{
			URI: e.URI.String(), IsLeaf: true, ContextType: models.ContextResource,
			Name: e.URI.LastSegment(), Content: string(content), UpdatedAt: time.Now(), Depth: e.URI.Depth(),
		}
		s.idx.Upsert(rec)
		if s.st != nil {
			if err := s.st.UpsertSearchDocument(ctx, rec); err != nil {
				slog.Warn("ingest: failed to persist search document", "uri", rec.URI, "error", err)
				continue
			}
			if _, err := s.st.EnqueueOutbox(ctx, models.EventUpsert, rec.URI, nil); err != nil {
				slog.Warn("ingest: failed to enqueue upsert event", "uri", rec.URI, "error", err)
			}
		}
	}
	return nil
}

// Drop removes the staged directory without finalizing, used when a
// session is abandoned.
func (s *Session) Drop() error {
	if s.finalized {
		return apperr.New(apperr.Conflict, "ingest.drop", "session already finalized")
	}
	s.dropped = true
	return s.fsys.Rm(s.stagedURI, true, true)
}
