// Package fs implements the scoped filesystem (C1): every public operation
// takes an axiom:// URI, resolves it against a single sandboxed root, and
// enforces the internal-scope and tier-file write restrictions.
package fs

import (
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/axiomme/axiomme/internal/apperr"
	"github.com/axiomme/axiomme/internal/uri"
)

// systemOnlyNames are special files writable only when system=true.
// External editors must see them as read-only.
var systemOnlyNames = map[string]bool{
	".abstract.md":      true,
	".overview.md":      true,
	".meta.json":        true,
	".relations.json":   true,
	"messages.jsonl":    true,
}

// FS is the scoped filesystem. The zero value is not usable; construct with
// New.
type FS struct {
	root string
}

// New creates a scoped filesystem rooted at root. root is created if it
// does not exist.
func New(root string) (*FS, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, apperr.Wrap(apperr.IOError, "fs.New", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, apperr.Wrap(apperr.IOError, "fs.New", err)
	}
	return &FS{root: abs}, nil
}

// ResolveURI resolves a URI to its sandboxed local path. The returned path
// is always rooted under fs.root; normalization at parse time already
// rejects ".." segments, so this cannot escape.
func (f *FS) ResolveURI(u uri.URI) string {
	parts := append([]string{f.root, string(u.Scope())}, u.Segments()...)
	return filepath.Join(parts...)
}

func isSystemName(u uri.URI) bool {
	return systemOnlyNames[u.LastSegment()]
}

func checkWriteAllowed(u uri.URI, system bool) error {
	if u.Scope().IsInternal() && !system {
		return apperr.New(apperr.PermissionDenied, "fs.write", "internal scope requires system=true: "+u.String())
	}
	if isSystemName(u) && !system {
		return apperr.New(apperr.PermissionDenied, "fs.write", "tier/control file requires system=true: "+u.String())
	}
	return nil
}

// CreateDirAll creates u and any missing ancestors.
func (f *FS) CreateDirAll(u uri.URI, system bool) error {
	if err := checkWriteAllowed(u, system); err != nil {
		return err
	}
	path := f.ResolveURI(u)
	if err := os.MkdirAll(path, 0o755); err != nil {
		return apperr.Wrap(apperr.IOError, "fs.create_dir_all", err).WithURI(u.String())
	}
	return nil
}

// Write writes content to u, creating parent directories as needed.
func (f *FS) Write(u uri.URI, content []byte, system bool) error {
	if err := checkWriteAllowed(u, system); err != nil {
		return err
	}
	path := f.ResolveURI(u)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return apperr.Wrap(apperr.IOError, "fs.write", err).WithURI(u.String())
	}
	if err := os.WriteFile(path, content, 0o644); err != nil {
		return apperr.Wrap(apperr.IOError, "fs.write", err).WithURI(u.String())
	}
	return nil
}

// Append appends content to u, creating it if absent. Used for
// messages.jsonl and request-log style writers.
func (f *FS) Append(u uri.URI, content []byte, system bool) error {
	if err := checkWriteAllowed(u, system); err != nil {
		return err
	}
	path := f.ResolveURI(u)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return apperr.Wrap(apperr.IOError, "fs.append", err).WithURI(u.String())
	}
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return apperr.Wrap(apperr.IOError, "fs.append", err).WithURI(u.String())
	}
	defer file.Close()
	if _, err := file.Write(content); err != nil {
		return apperr.Wrap(apperr.IOError, "fs.append", err).WithURI(u.String())
	}
	return nil
}

// Read returns the raw bytes at u.
func (f *FS) Read(u uri.URI) ([]byte, error) {
	path := f.ResolveURI(u)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, apperr.New(apperr.NotFound, "fs.read", "not found: "+u.String()).WithURI(u.String())
		}
		return nil, apperr.Wrap(apperr.IOError, "fs.read", err).WithURI(u.String())
	}
	return data, nil
}

// Entry describes one child returned by List.
type Entry struct {
	URI    uri.URI
	IsDir  bool
	Name   string
}

// List lists the immediate (or, if recursive, all descendant) entries
// under u.
func (f *FS) List(u uri.URI, recursive bool) ([]Entry, error) {
	root := f.ResolveURI(u)
	info, err := os.Stat(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, apperr.New(apperr.NotFound, "fs.list", "not found: "+u.String()).WithURI(u.String())
		}
		return nil, apperr.Wrap(apperr.IOError, "fs.list", err).WithURI(u.String())
	}
	if !info.IsDir() {
		return nil, apperr.New(apperr.ValidationFailed, "fs.list", "not a directory: "+u.String()).WithURI(u.String())
	}

	var out []Entry
	walk := func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == root {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		childURI, err := u.Join(filepath.ToSlash(rel))
		if err != nil {
			return err
		}
		out = append(out, Entry{URI: childURI, IsDir: d.IsDir(), Name: d.Name()})
		if !recursive && d.IsDir() {
			return filepath.SkipDir
		}
		return nil
	}
	if err := filepath.WalkDir(root, walk); err != nil {
		return nil, apperr.Wrap(apperr.IOError, "fs.list", err).WithURI(u.String())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].URI.String() < out[j].URI.String() })
	return out, nil
}

// Rm removes u. Non-recursive removal of a non-empty directory fails.
func (f *FS) Rm(u uri.URI, recursive bool, system bool) error {
	if err := checkWriteAllowed(u, system); err != nil {
		return err
	}
	path := f.ResolveURI(u)
	var err error
	if recursive {
		err = os.RemoveAll(path)
	} else {
		err = os.Remove(path)
	}
	if err != nil {
		if os.IsNotExist(err) {
			return apperr.New(apperr.NotFound, "fs.rm", "not found: "+u.String()).WithURI(u.String())
		}
		return apperr.Wrap(apperr.IOError, "fs.rm", err).WithURI(u.String())
	}
	return nil
}

// Mv moves from to to. Both must be the same scope; cross-scope moves are a
// permission error (scopes enforce different sandboxing and lifecycle
// rules).
func (f *FS) Mv(from, to uri.URI) error {
	if from.Scope() != to.Scope() {
		return apperr.New(apperr.PermissionDenied, "fs.mv", "cross-scope move not permitted").WithURI(from.String())
	}
	fromPath := f.ResolveURI(from)
	toPath := f.ResolveURI(to)
	if err := os.MkdirAll(filepath.Dir(toPath), 0o755); err != nil {
		return apperr.Wrap(apperr.IOError, "fs.mv", err).WithURI(from.String())
	}
	if err := os.Rename(fromPath, toPath); err != nil {
		if os.IsNotExist(err) {
			return apperr.New(apperr.NotFound, "fs.mv", "source not found: "+from.String()).WithURI(from.String())
		}
		return apperr.Wrap(apperr.IOError, "fs.mv", err).WithURI(from.String())
	}
	return nil
}

// Exists reports whether u resolves to an existing file or directory.
func (f *FS) Exists(u uri.URI) bool {
	_, err := os.Stat(f.ResolveURI(u))
	return err == nil
}

// CopyInto copies a file or directory tree from an arbitrary host path into
// u, used by the ingest staging path which deals with paths outside the
// axiom:// namespace.
func (f *FS) CopyInto(srcHostPath string, dst uri.URI) error {
	info, err := os.Stat(srcHostPath)
	if err != nil {
		return apperr.Wrap(apperr.IOError, "fs.copy_into", err)
	}
	if !info.IsDir() {
		data, err := os.ReadFile(srcHostPath)
		if err != nil {
			return apperr.Wrap(apperr.IOError, "fs.copy_into", err)
		}
		target, err := dst.Join(filepath.Base(srcHostPath))
		if err != nil {
			return err
		}
		return f.Write(target, data, true)
	}
	return filepath.WalkDir(srcHostPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(srcHostPath, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return f.CreateDirAll(dst, true)
		}
		childDst, err := dst.Join(filepath.ToSlash(rel))
		if err != nil {
			return err
		}
		if d.IsDir() {
			return f.CreateDirAll(childDst, true)
		}
		src, err := os.Open(path)
		if err != nil {
			return err
		}
		defer src.Close()
		content, err := io.ReadAll(src)
		if err != nil {
			return err
		}
		return f.Write(childDst, content, true)
	})
}

// IsSystemReserved reports whether name is one of the tier/control
// filenames writable only with system privileges.
func IsSystemReserved(name string) bool {
	return systemOnlyNames[strings.ToLower(name)]
}
