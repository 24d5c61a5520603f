// Package uri implements the axiom:// URI scheme: parsing, normalization,
// and the sandboxed path resolution rules described by the scoped
// filesystem model.
package uri

import (
	"strings"

	"github.com/axiomme/axiomme/internal/apperr"
)

// Scope is the top-level namespace of an axiom:// URI.
type Scope string

const (
	ScopeResources Scope = "resources"
	ScopeUser      Scope = "user"
	ScopeAgent     Scope = "agent"
	ScopeSession   Scope = "session"
	ScopeTemp      Scope = "temp"
	ScopeQueue     Scope = "queue"
)

const prefix = "axiom://"

// IsInternal reports whether the scope is only reachable with system
// privileges (temp, queue).
func (s Scope) IsInternal() bool {
	return s == ScopeTemp || s == ScopeQueue
}

func (s Scope) String() string { return string(s) }

func parseScope(raw string) (Scope, error) {
	switch raw {
	case "resources", "user", "agent", "session", "temp", "queue":
		return Scope(raw), nil
	default:
		return "", apperr.New(apperr.InvalidScope, "uri.parse", "unknown scope: "+raw)
	}
}

// URI is an immutable (scope, segments) pair. The zero value is not valid;
// construct via Parse, Root, or Join.
type URI struct {
	scope    Scope
	segments []string
}

// Root returns the root URI of scope.
func Root(scope Scope) URI {
	return URI{scope: scope}
}

// Parse parses and normalizes an axiom:// URI string.
//
// Empty and "." segments are dropped; ".." and backslashes are rejected.
func Parse(value string) (URI, error) {
	if !strings.HasPrefix(value, prefix) {
		return URI{}, apperr.New(apperr.InvalidURI, "uri.parse", "missing axiom:// prefix: "+value)
	}
	tail := value[len(prefix):]
	if tail == "" {
		return URI{}, apperr.New(apperr.InvalidURI, "uri.parse", "empty uri: "+value)
	}

	scopeRaw, rest, hasRest := strings.Cut(tail, "/")
	scope, err := parseScope(scopeRaw)
	if err != nil {
		return URI{}, err
	}

	var segments []string
	if hasRest {
		segments, err = normalizeSegments(rest)
		if err != nil {
			return URI{}, err
		}
	}
	return URI{scope: scope, segments: segments}, nil
}

// MustParse panics on an invalid URI. Reserved for constants and tests.
func MustParse(value string) URI {
	u, err := Parse(value)
	if err != nil {
		panic(err)
	}
	return u
}

func normalizeSegments(raw string) ([]string, error) {
	parts := strings.Split(raw, "/")
	out := make([]string, 0, len(parts))
	for _, seg := range parts {
		if seg == "" || seg == "." {
			continue
		}
		if seg == ".." {
			return nil, apperr.New(apperr.PathTraversal, "uri.parse", "path traversal segment in: "+raw)
		}
		if strings.Contains(seg, "\\") {
			return nil, apperr.New(apperr.InvalidURI, "uri.parse", "backslash in segment: "+raw)
		}
		out = append(out, seg)
	}
	return out, nil
}

// Scope returns the URI's scope.
func (u URI) Scope() Scope { return u.scope }

// Segments returns the normalized path segments. Callers must not mutate
// the returned slice.
func (u URI) Segments() []string { return u.segments }

// IsRoot reports whether the URI has no segments (a scope root).
func (u URI) IsRoot() bool { return len(u.segments) == 0 }

// Join appends child (itself a '/'-separated relative path, subject to the
// same normalization and traversal rules) and returns a new URI.
func (u URI) Join(child string) (URI, error) {
	childSegs, err := normalizeSegments(child)
	if err != nil {
		return URI{}, err
	}
	segs := make([]string, 0, len(u.segments)+len(childSegs))
	segs = append(segs, u.segments...)
	segs = append(segs, childSegs...)
	return URI{scope: u.scope, segments: segs}, nil
}

// Child is an alias of Join kept for readability at call sites that pass a
// single literal segment.
func (u URI) Child(name string) (URI, error) { return u.Join(name) }

// Parent returns the URI's parent and true, or the zero value and false if
// u is already a scope root.
func (u URI) Parent() (URI, bool) {
	if len(u.segments) == 0 {
		return URI{}, false
	}
	segs := make([]string, len(u.segments)-1)
	copy(segs, u.segments[:len(u.segments)-1])
	return URI{scope: u.scope, segments: segs}, true
}

// LastSegment returns the final path segment, or "" at a scope root.
func (u URI) LastSegment() string {
	if len(u.segments) == 0 {
		return ""
	}
	return u.segments[len(u.segments)-1]
}

// Depth is the number of path segments.
func (u URI) Depth() int { return len(u.segments) }

// StartsWith reports whether u is other or a strict descendant of other at
// a '/' boundary. Substring containment of the raw path is not enough.
func (u URI) StartsWith(other URI) bool {
	if u.scope != other.scope || len(u.segments) < len(other.segments) {
		return false
	}
	for i, seg := range other.segments {
		if u.segments[i] != seg {
			return false
		}
	}
	return true
}

// Path returns the '/'-joined segment path without scope or scheme.
func (u URI) Path() string { return strings.Join(u.segments, "/") }

// String renders the canonical axiom://scope[/seg/...] form.
func (u URI) String() string {
	if len(u.segments) == 0 {
		return prefix + string(u.scope)
	}
	var b strings.Builder
	b.WriteString(prefix)
	b.WriteString(string(u.scope))
	b.WriteByte('/')
	b.WriteString(strings.Join(u.segments, "/"))
	return b.String()
}

// Equal reports structural equality.
func (u URI) Equal(other URI) bool {
	if u.scope != other.scope || len(u.segments) != len(other.segments) {
		return false
	}
	for i := range u.segments {
		if u.segments[i] != other.segments[i] {
			return false
		}
	}
	return true
}
